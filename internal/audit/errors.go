package audit

import "errors"

// ErrClosed is returned when appending to a closed log.
var ErrClosed = errors.New("audit log closed")
