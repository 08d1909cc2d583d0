package protocol

import "errors"

// Errors shared by the gateway service and its HTTP surface.
var (
	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("WhatsApp is not connected")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError is a caller input error. Its message is shown to API clients.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a ValidationError with msg.
func Invalid(msg string) error { return &ValidationError{Msg: msg} }
