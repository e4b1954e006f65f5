package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuchName     = errors.New("no such named query")
	ErrNoSuchResource = errors.New("no such resource")
	ErrAlreadyExists  = errors.New("already exists")
)

// ValidationError marks a malformed request, body or event. Reason is
// returned to the caller verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func Invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
