package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordFailureUpserts(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.RecordFailure("NetworkOps", types.KindTransient, "connection reset on port 8080", "")
	require.NoError(t, err)
	h2, err := s.RecordFailure("NetworkOps", types.KindTransient, "connection reset on port 9090", "")
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "port differences must not split the cluster")

	recs, err := s.Similar("NetworkOps", "", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Occurrences)
	assert.Equal(t, types.KindTransient, recs[0].ErrorKind)
}

func TestRecordFailureKeepsFirstRemedy(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RecordFailure("PackageOps", types.KindPermission, "permission denied", "run with sudo")
	require.NoError(t, err)
	_, err = s.RecordFailure("PackageOps", types.KindPermission, "permission denied", "")
	require.NoError(t, err)

	recs, err := s.Similar("PackageOps", "", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "run with sudo", recs[0].SuggestedRemedy)
}

func TestSimilarRanksByOccurrencesAndOverlap(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.RecordFailure("FileOps", types.KindNotFound, "cannot open /etc/passwd", "")
		require.NoError(t, err)
	}
	_, err := s.RecordFailure("FileOps", types.KindPermission, "permission denied writing config", "")
	require.NoError(t, err)

	t.Run("occurrences order", func(t *testing.T) {
		recs, err := s.Similar("FileOps", "", 10)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, 3, recs[0].Occurrences)
	})

	t.Run("overlap promotes matching record", func(t *testing.T) {
		recs, err := s.Similar("FileOps", "fix the permission problem with config", 10)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, types.KindPermission, recs[0].ErrorKind)
	})
}

func TestSuccessProbability(t *testing.T) {
	s := newTestStore(t)

	t.Run("clean history", func(t *testing.T) {
		p, err := s.SuccessProbability("ShellOps", "")
		require.NoError(t, err)
		assert.InDelta(t, 0.95, p, 1e-9)
	})

	t.Run("penalty grows with occurrences", func(t *testing.T) {
		_, err := s.RecordFailure("ShellOps", types.KindTransient, "boom alpha", "")
		require.NoError(t, err)
		p, err := s.SuccessProbability("ShellOps", "")
		require.NoError(t, err)
		assert.InDelta(t, 0.80, p, 1e-9)

		_, err = s.RecordFailure("ShellOps", types.KindTransient, "boom beta", "")
		require.NoError(t, err)
		p, err = s.SuccessProbability("ShellOps", "")
		require.NoError(t, err)
		assert.InDelta(t, 0.65, p, 1e-9)
	})

	t.Run("penalty caps at four occurrences", func(t *testing.T) {
		for _, msg := range []string{"boom gamma", "boom delta", "boom epsilon", "boom zeta"} {
			_, err := s.RecordFailure("ShellOps", types.KindTransient, msg, "")
			require.NoError(t, err)
		}
		p, err := s.SuccessProbability("ShellOps", "")
		require.NoError(t, err)
		assert.InDelta(t, 0.35, p, 1e-9)
	})

	t.Run("working remedy boosts", func(t *testing.T) {
		hash, err := s.RecordFailure("GitOps", types.KindTransient, "index locked", "remove the lock file")
		require.NoError(t, err)
		require.NoError(t, s.RecordRemedyOutcome(hash, true))

		p, err := s.SuccessProbability("GitOps", "")
		require.NoError(t, err)
		// 0.80 * 1.2 = 0.96, capped.
		assert.InDelta(t, 0.95, p, 1e-9)
	})

	t.Run("remedy boost is scoped to the input", func(t *testing.T) {
		hash, err := s.RecordFailure("ContainerOps", types.KindTransient,
			"daemon socket unavailable", "restart the docker daemon")
		require.NoError(t, err)
		require.NoError(t, s.RecordRemedyOutcome(hash, true))

		// An unrelated request does not inherit the boost.
		p, err := s.SuccessProbability("ContainerOps", "clean unused images")
		require.NoError(t, err)
		assert.InDelta(t, 0.80, p, 1e-9)

		p, err = s.SuccessProbability("ContainerOps", "connect to the daemon socket")
		require.NoError(t, err)
		assert.InDelta(t, 0.95, p, 1e-9)
	})
}

func TestRecordBullets(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordFailure("ServiceOps", types.KindPermission, "permission denied", "run as root")
	require.NoError(t, err)
	_, err = s.RecordFailure("ServiceOps", types.KindNotFound, "unit not found", "")
	require.NoError(t, err)

	recs, err := s.Similar("ServiceOps", "", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	var bullets []string
	for _, r := range recs {
		bullets = append(bullets, r.Bullet())
	}
	assert.Contains(t, bullets, "run as root")
	assert.Contains(t, bullets, "seen 1x: unit not found")
}
