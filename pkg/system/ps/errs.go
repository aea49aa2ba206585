package ps

import "errors"

var (
	// ErrUnavailable indicates that the process-introspection subsystem is
	// unusable as a whole (e.g. no permission to read the process table).
	// It is only returned by Verify and is fatal at construction time.
	ErrUnavailable = errors.New("ps: process introspection unavailable")

	// ErrVanished indicates that a PID disappeared between enumeration and
	// read. Expected during any scan; callers skip the PID and move on.
	ErrVanished = errors.New("ps: process vanished")

	// ErrDenied indicates that the OS refused an operation on a live
	// process (termination, or a metric the platform gates entirely).
	ErrDenied = errors.New("ps: access denied")
)
