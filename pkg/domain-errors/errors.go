// Package domainerrors defines the error vocabulary services speak to the
// transport layer. Codes classify failures without tying services to HTTP;
// the transport maps each code to a status and a wire envelope.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code string

const (
	// CodeBadRequest marks input the server could not parse at all.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput marks parseable input that fails validation.
	CodeInvalidInput Code = "invalid_input"
	// CodeUnauthorized marks missing or unusable credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound marks a lookup with no result.
	CodeNotFound Code = "not_found"
	// CodeUnavailable marks a dependency the server could not reach.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks everything else. Its message never reaches clients.
	CodeInternal Code = "internal_error"
)

// Error is a code plus an operator-facing message. It is a value type so
// errors.Is matches two errors with the same code and message, which keeps
// table-driven tests free of sentinel plumbing.
type Error struct {
	Code    Code
	Message string
}

// New creates an Error.
func New(code Code, message string) Error {
	return Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// outside this vocabulary.
func CodeOf(err error) Code {
	var de Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
