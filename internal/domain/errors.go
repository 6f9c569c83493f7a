package domain

import (
	"errors"
	"fmt"
)

// ErrorType names the failure class of a catalog error.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypeFetch      ErrorType = "fetch"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypePermanent  ErrorType = "permanent"
	ErrorTypeStore      ErrorType = "store"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
)

// Transient reports whether a failure of this class may succeed on retry.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrorTypeFetch, ErrorTypeRateLimit, ErrorTypeStore, ErrorTypeIO:
		return true
	}
	return false
}

// DomainError carries the failure class alongside the step that failed.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches another *DomainError of the same class, so callers can write
// errors.Is(err, &DomainError{Type: ErrorTypeRateLimit}).
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Message == "" && t.Type == e.Type
}

func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{Type: errType, Message: message, Err: err}
}

// TypeOf returns the class of the outermost DomainError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var de *DomainError
	if !errors.As(err, &de) {
		return "", false
	}
	return de.Type, true
}

// IsType reports whether err (or anything it wraps) is a DomainError of type t.
func IsType(err error, t ErrorType) bool {
	got, ok := TypeOf(err)
	return ok && got == t
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtraction, message, err)
}

func FetchError(message string, err error) *DomainError {
	return NewError(ErrorTypeFetch, message, err)
}

func RateLimitError(message string, err error) *DomainError {
	return NewError(ErrorTypeRateLimit, message, err)
}

func PermanentError(message string, err error) *DomainError {
	return NewError(ErrorTypePermanent, message, err)
}

func StoreError(message string, err error) *DomainError {
	return NewError(ErrorTypeStore, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}
