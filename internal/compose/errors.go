package compose

import (
	"errors"
	"fmt"
)

var (
	ErrMissingMedia  = errors.New("mediaRef is required for this message type")
	ErrMissingBody   = errors.New("body is required for text messages")
	ErrMissingTarget = errors.New("target is required")
	ErrUnknownKind   = errors.New("unknown message type")
)

// ValidationError is returned for bad or missing request fields. It is the
// caller's fault and never retried.
type ValidationError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s request (%s): %v", e.Kind, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
