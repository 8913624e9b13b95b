package app

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")
	// ErrMissingFields indicates a create request without prompt or result.
	ErrMissingFields = errors.New("prompt and result are required")
	// ErrPromptRequired indicates a generation request without a prompt.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrInvalidMode indicates a generation mode outside text/image.
	ErrInvalidMode = errors.New("mode must be \"text\" or \"image\"")
)

// DecodeError reports a malformed ingestion payload with its cause.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }
