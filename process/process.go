// Package process defines the platform-neutral view of a target process:
// its identity, its memory regions and read access to its memory.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrProcessNotFound is returned when no process matches the requested pid or name.
	ErrProcessNotFound = errors.New("process not found")

	// ErrPermissionDenied is returned when the caller may not inspect the target process.
	ErrPermissionDenied = errors.New("permission denied")
)

// IsFatalReadError reports whether a failed read means the whole process is
// out of reach, not just the addressed range.
func IsFatalReadError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrProcessNotFound) ||
		errors.Is(err, ErrProcessNotOpen)
}
