package errors

import (
	"errors"
	"fmt"
)

// Error carries a client-facing code alongside an operator-facing detail.
// Players see only the code plus a short generic message; the DM additionally
// receives the detail text.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error with the given code and message wrapping a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the Code from err, or CodeUnknown when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// PlayerMessage returns the sanitized message players may see.
func PlayerMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "something went wrong"
}

// DMMessage returns the richer diagnostic text for the DM, including
// dependency error detail when present.
func DMMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.cause != nil {
			return fmt.Sprintf("%s (%v)", e.Message, e.cause)
		}
		return e.Message
	}
	return err.Error()
}
