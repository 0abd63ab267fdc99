package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code categorizes gateway failures. Callers branch on the code, never on the message.
type Code string

const (
	CodeAuthRequired   Code = "AUTH_REQUIRED"
	CodeProviderError  Code = "PROVIDER_ERROR"
	CodeTransportError Code = "TRANSPORT_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeNotAvailable   Code = "NOT_AVAILABLE"
	CodeStoreError     Code = "STORE_ERROR"
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Error is the structured error returned across component boundaries.
type Error struct {
	Code    Code
	Op      string
	Message string

	// Status is the upstream HTTP status for provider failures.
	// Zero means the provider was unreachable.
	Status int

	Cause error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error without a cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap attaches a code and operation to err.
func Wrap(err error, code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message, Cause: err}
}

func AuthRequired(op string) *Error {
	return New(CodeAuthRequired, op, "no authenticated principal")
}

func NotFound(op, what string) *Error {
	return New(CodeNotFound, op, what+" not found")
}

func NotAvailable(op, what string) *Error {
	return New(CodeNotAvailable, op, what+" not available")
}

func InvalidInput(op, message string) *Error {
	return New(CodeInvalidInput, op, message)
}

// Provider reports a telephony provider failure. status is 0 for network errors.
func Provider(op string, status int, cause error) *Error {
	return &Error{Code: CodeProviderError, Op: op, Status: status, Cause: cause}
}

func Transport(op string, cause error) *Error {
	return &Error{Code: CodeTransportError, Op: op, Cause: cause}
}

func Store(op string, cause error) *Error {
	return &Error{Code: CodeStoreError, Op: op, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// StatusOf returns the upstream provider status carried by err, if any.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// HTTPStatus maps an error to the response status used by the HTTP API.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotAvailable:
		return http.StatusConflict
	case CodeProviderError, CodeTransportError:
		return http.StatusBadGateway
	case CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
