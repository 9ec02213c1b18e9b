package plan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/tools"
	"zenus/internal/types"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	return NewAnalyzer(tools.Builtins(t.TempDir()))
}

func step(tool, action string, args map[string]any) types.Step {
	return types.Step{Tool: tool, Action: action, Args: args}
}

func TestAnalyzeIndependentDownloads(t *testing.T) {
	a := newTestAnalyzer(t)
	var steps []types.Step
	for i := 0; i < 4; i++ {
		steps = append(steps, step("NetworkOps", "download", map[string]any{
			"url":  fmt.Sprintf("http://mirror/%d", i),
			"dest": fmt.Sprintf("/tmp/dl/%d.tar", i),
		}))
	}

	an, err := a.Analyze(steps)
	require.NoError(t, err)
	require.Len(t, an.Levels, 1, "independent downloads share one level")
	assert.Len(t, an.Levels[0], 4)
	assert.False(t, an.Sequential)
	assert.InDelta(t, 4.0, an.SpeedupFactor(4), 1e-9)
}

func TestAnalyzeProducerConsumerOrdering(t *testing.T) {
	a := newTestAnalyzer(t)
	steps := []types.Step{
		step("FileOps", "mkdir", map[string]any{"path": "/tmp/zx"}),
		step("FileOps", "write_file", map[string]any{"path": "/tmp/zx/a.txt", "content": "1"}),
		step("FileOps", "write_file", map[string]any{"path": "/tmp/zx/b.txt", "content": "2"}),
	}

	an, err := a.Analyze(steps)
	require.NoError(t, err)
	// mkdir first; the writes under the new directory share a level.
	require.Len(t, an.Levels, 2)
	assert.Equal(t, []int{0}, an.Levels[0])
	assert.ElementsMatch(t, []int{1, 2}, an.Levels[1])
	assert.False(t, an.Sequential)
}

func TestAnalyzeSamePathWriteConflict(t *testing.T) {
	a := newTestAnalyzer(t)
	steps := []types.Step{
		step("FileOps", "write_file", map[string]any{"path": "/tmp/x", "content": "1"}),
		step("FileOps", "write_file", map[string]any{"path": "/tmp/x", "content": "2"}),
	}

	an, err := a.Analyze(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0}, {1}}, an.Levels, "same target keeps IR order")
}

func TestAnalyzeSerializesPackageOperations(t *testing.T) {
	a := newTestAnalyzer(t)
	steps := []types.Step{
		step("PackageOps", "install", map[string]any{"name": "jq"}),
		step("PackageOps", "install", map[string]any{"name": "curl"}),
		step("PackageOps", "install", map[string]any{"name": "htop"}),
	}

	an, err := a.Analyze(steps)
	require.NoError(t, err)
	require.Len(t, an.Levels, 3, "package manager holds a global lock")
	for i, level := range an.Levels {
		assert.Equal(t, []int{i}, level)
	}
}

func TestAnalyzeReadersShareALevel(t *testing.T) {
	a := newTestAnalyzer(t)
	steps := []types.Step{
		step("FileOps", "read_file", map[string]any{"path": "/etc/hosts"}),
		step("FileOps", "read_file", map[string]any{"path": "/etc/hosts"}),
		step("FileOps", "read_file", map[string]any{"path": "/etc/hosts"}),
	}

	an, err := a.Analyze(steps)
	require.NoError(t, err)
	assert.Len(t, an.Levels, 1, "concurrent reads do not conflict")
}

func TestAnalyzeMixedPlan(t *testing.T) {
	a := newTestAnalyzer(t)
	steps := []types.Step{
		step("NetworkOps", "download", map[string]any{"url": "http://x/a", "dest": "/tmp/m/a"}),
		step("NetworkOps", "download", map[string]any{"url": "http://x/b", "dest": "/tmp/m/b"}),
		step("NetworkOps", "download", map[string]any{"url": "http://x/c", "dest": "/tmp/m/c"}),
		step("FileOps", "read_file", map[string]any{"path": "/tmp/m/a"}),
	}

	an, err := a.Analyze(steps)
	require.NoError(t, err)
	require.Len(t, an.Levels, 2)
	assert.ElementsMatch(t, []int{0, 1, 2}, an.Levels[0])
	assert.Equal(t, []int{3}, an.Levels[1])
	assert.False(t, an.Sequential)
}

func TestAnalyzeServiceNameConflict(t *testing.T) {
	a := newTestAnalyzer(t)
	steps := []types.Step{
		step("ServiceOps", "restart", map[string]any{"name": "nginx"}),
		step("ServiceOps", "status", map[string]any{"name": "nginx"}),
	}

	an, err := a.Analyze(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0}, {1}}, an.Levels)
}
