package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass drives the retry policy. Transient failures may be retried,
// permanent ones never are. Unknown is treated as permanent by callers so a
// charge is never repeated when the outcome is unclear.
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
	ClassUnknown   ErrorClass = "unknown"
)

// Well-known provider-neutral error codes.
const (
	CodeCircuitOpen = "circuit_open"
	CodeTimeout     = "timeout"
	CodeConnection  = "connection_error"
)

// Error is a classified gateway failure. Adapters translate each provider's
// error taxonomy into one of these so the engine never inspects raw
// provider responses.
type Error struct {
	Gateway string
	Code    string // provider code, or one of the Code* constants
	Class   ErrorClass
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Gateway, e.Code, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s): %s", e.Gateway, e.Code, e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient builds a retryable gateway error.
func NewTransient(gw, code, message string) *Error {
	return &Error{Gateway: gw, Code: code, Class: ClassTransient, Message: message}
}

// NewPermanent builds a non-retryable gateway error.
func NewPermanent(gw, code, message string) *Error {
	return &Error{Gateway: gw, Code: code, Class: ClassPermanent, Message: message}
}

// WrapTransport classifies a low-level HTTP client error. Timeouts and
// connection failures are transient.
func WrapTransport(gw string, err error) *Error {
	code := CodeConnection
	if errors.Is(err, context.DeadlineExceeded) {
		code = CodeTimeout
	}
	return &Error{Gateway: gw, Code: code, Class: ClassTransient, Message: err.Error(), Err: err}
}

// ClassOf extracts the classification from an error chain. Anything that is
// not a classified *Error comes back as ClassUnknown.
func ClassOf(err error) ErrorClass {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Class
	}
	return ClassUnknown
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

// IsCircuitOpen reports whether err is a breaker rejection rather than a
// real provider failure.
func IsCircuitOpen(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Code == CodeCircuitOpen
}
