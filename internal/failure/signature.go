package failure

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Normalization strips the volatile parts of error messages so that the
// same class of failure always produces the same signature. The rules
// apply in a fixed order; reordering them changes the canonical form.
var (
	rePath       = regexp.MustCompile(`/[A-Za-z0-9._\-]+(?:/[A-Za-z0-9._\-]+)*`)
	reLine       = regexp.MustCompile(`line\s+\d+`)
	rePort       = regexp.MustCompile(`port\s+\d+`)
	reNum        = regexp.MustCompile(`\b\d{3,}\b`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Canonicalize reduces an error message to its canonical form:
// lowercase, paths -> <PATH>, line/port numbers -> <N>/<NUM>, integers of
// three or more digits -> <NUM>, whitespace collapsed.
func Canonicalize(message string) string {
	s := strings.ToLower(message)
	s = rePath.ReplaceAllString(s, "<PATH>")
	s = reLine.ReplaceAllString(s, "line <N>")
	s = rePort.ReplaceAllString(s, "port <NUM>")
	s = reNum.ReplaceAllString(s, "<NUM>")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Signature hashes the canonical form of a message.
func Signature(message string) string {
	sum := sha256.Sum256([]byte(Canonicalize(message)))
	return hex.EncodeToString(sum[:])
}
