package recorder

import "errors"

var (
	// ErrRefusedUnsafeTarget is returned when the transcript path is a link
	// and neither force nor append was requested.
	ErrRefusedUnsafeTarget = errors.New("refusing to output to a file with multiple links")

	// ErrConflictingLogs is returned when a combined log is configured
	// together with a separate input or output log.
	ErrConflictingLogs = errors.New("the combined I/O log cannot be used with separate input or output logs")

	// ErrUnsupported is returned on platforms without pseudo-terminals.
	ErrUnsupported = errors.New("`script` is unavailable on non-UNIX-like platforms")
)

// SetupError wraps a failure that aborts the session before the child runs.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
