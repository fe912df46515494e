package interfaces

import "errors"

// Sentinel errors returned by the workflow services. Handlers map them to
// HTTP status codes with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrTaskRunning  = errors.New("submission is already being processed")
	ErrNotRunning   = errors.New("workflow manager is not running")
)
