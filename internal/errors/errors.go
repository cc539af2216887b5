// Package errors defines the domain error taxonomy returned by services.
// Import it as apperrors to avoid clashing with the standard library.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError is an error with a stable machine code, an HTTP status for
// the transport layer and a retry hint for callers.
type DomainError struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Cause     error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is matches any DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of e wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithMessage returns a copy of e with a more specific message.
func (e *DomainError) WithMessage(format string, args ...any) *DomainError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// As extracts the DomainError from an error chain.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryable reports whether err is a DomainError marked retryable.
func IsRetryable(err error) bool {
	de, ok := As(err)
	return ok && de.Retryable
}

// StatusOf maps err to an HTTP status, defaulting to 500.
func StatusOf(err error) int {
	if de, ok := As(err); ok && de.Status != 0 {
		return de.Status
	}
	return http.StatusInternalServerError
}
