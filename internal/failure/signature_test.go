package failure

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"path", "cannot open /home/alice/x.txt", "cannot open <PATH>"},
		{"line number", "parse error at line 42", "parse error at line <N>"},
		{"port", "bind failed on port 8080", "bind failed on port <NUM>"},
		{"large number", "request 12345 rejected", "request <NUM> rejected"},
		{"small number kept", "exit code 2", "exit code 2"},
		{"whitespace collapse", "a   b\t\tc", "a b c"},
		{"lowercase", "Permission Denied", "permission denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Canonicalize(tc.in); got != tc.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// Two messages differing only in paths and line numbers must collide.
func TestSignatureClustersSimilarMessages(t *testing.T) {
	a := Signature("cannot open /home/alice/x.txt, line 42")
	b := Signature("cannot open /home/bob/y.txt, line 117")
	if a != b {
		t.Errorf("signatures differ: %s vs %s", a, b)
	}

	c := Signature("cannot write /home/alice/x.txt, line 42")
	if a == c {
		t.Error("different verbs should produce different signatures")
	}
}

// The signature must be invariant under the volatile parts the
// normalization rules strip: random paths, line numbers, ports, and
// large integers never change the hash.
func TestSignatureNormalizationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	template := func(dir, file string, line, port, code int) string {
		return fmt.Sprintf("cannot open /var/%s/%s.txt line %d port %d code %d",
			dir, file, line, port, code)
	}

	want := Signature(template("data", "file", 1, 80, 12345))
	for i := 0; i < 200; i++ {
		msg := template(
			fmt.Sprintf("dir%d", rng.Intn(1000)),
			fmt.Sprintf("f%d", rng.Intn(1000)),
			rng.Intn(100000),
			rng.Intn(65535),
			100+rng.Intn(1000000))
		if got := Signature(msg); got != want {
			t.Fatalf("signature varies with volatile detail:\nmsg: %q\ncanonical: %q",
				msg, Canonicalize(msg))
		}
	}
}
