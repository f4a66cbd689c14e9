package store

import "errors"

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// ValidationError indicates rejected user input, such as a malformed base
// URL or an empty conversation title. The message is safe to show verbatim.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Detail
}
