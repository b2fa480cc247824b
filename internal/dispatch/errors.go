package dispatch

import "errors"

var (
	// ErrInvalidCredentials wraps a *domain.FieldError naming the bad field.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidBatchID     = errors.New("batch id is required")
	// ErrAlreadyDispatching is returned when a run for the batch is still
	// in progress here or in another process.
	ErrAlreadyDispatching = errors.New("batch is already being dispatched")
	// ErrBatchComplete is returned when every recipient already has a
	// terminal status.
	ErrBatchComplete   = errors.New("batch has no pending recipients")
	ErrSessionNotFound = errors.New("dispatch session not found")
)
