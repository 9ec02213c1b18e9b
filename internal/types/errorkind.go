package types

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorKind is the tagged classification attached to failed observations.
// Errors never cross component boundaries untagged; callers branch on the
// kind, not on the message.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindSchema          ErrorKind = "schema"
	KindPermission      ErrorKind = "permission"
	KindNotFound        ErrorKind = "not_found"
	KindTransient       ErrorKind = "transient"
	KindTimeout         ErrorKind = "timeout"
	KindBudgetExhausted ErrorKind = "budget_exhausted"
	KindCircuitOpen     ErrorKind = "circuit_open"
	KindSyntax          ErrorKind = "syntax"
	KindFatal           ErrorKind = "fatal"
)

// Retriable reports whether a retry can possibly succeed. Only transient
// and timeout failures count against the retry budget.
func (k ErrorKind) Retriable() bool {
	return k == KindTransient || k == KindTimeout
}

// Fatal reports whether the Planner must abort remaining levels.
func (k ErrorKind) Fatal() bool {
	return k == KindFatal
}

// Kinder is implemented by errors that carry their own classification.
type Kinder interface {
	Kind() ErrorKind
}

// KindedError tags an error with an ErrorKind. Components that already
// know the classification wrap with this instead of relying on heuristics.
type KindedError struct {
	K   ErrorKind
	Err error
}

func (e *KindedError) Error() string { return e.Err.Error() }
func (e *KindedError) Unwrap() error { return e.Err }
func (e *KindedError) Kind() ErrorKind { return e.K }

// WithKind wraps err with an explicit classification.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindedError{K: kind, Err: err}
}

// Classify maps an error onto the taxonomy. Explicit Kinder tags win;
// otherwise OS and net errors are inspected, then message heuristics.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var kinder Kinder
	if errors.As(err, &kinder) {
		return kinder.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return KindPermission
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOENT) {
		return KindNotFound
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return KindPermission
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not found"):
		return KindNotFound
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "temporarily unavailable"), strings.Contains(msg, "broken pipe"):
		return KindTransient
	case strings.Contains(msg, "syntax"), strings.Contains(msg, "malformed"):
		return KindSyntax
	default:
		return KindTransient
	}
}
