package domain

import "errors"

// ErrorCode is the wire-level error discriminator shared by the WebSocket
// and the pull surfaces.
type ErrorCode string

const (
	CodeInvalidPosition  ErrorCode = "INVALID_POSITION"
	CodeInvalidType      ErrorCode = "INVALID_TYPE"
	CodeStaleBase        ErrorCode = "STALE_BASE"
	CodeOverloaded       ErrorCode = "OVERLOADED"
	CodeUnknownDocument  ErrorCode = "UNKNOWN_DOCUMENT"
	CodeSessionClosed    ErrorCode = "SESSION_CLOSED"
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	CodeInternal         ErrorCode = "INTERNAL"
)

// Error carries an ErrorCode across component boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error wrapping an underlying cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err, or CodeInternal when err carries
// no domain code.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
