package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies domain errors so callers and transports can branch on the
// class of failure without string matching.
type Code string

const (
	CodeInvalidTransition      Code = "invalid_transition"
	CodeConcurrentModification Code = "concurrent_modification"
	CodeIncompleteDocuments    Code = "incomplete_documents"
	CodeGatewayRejected        Code = "gateway_rejected"
	CodeNotFound               Code = "not_found"
	CodeBadRequest             Code = "bad_request"
	CodeInternal               Code = "internal"
)

// Error carries a machine-readable code alongside the message. Details holds
// structured context, e.g. the missing-document list on incomplete_documents.
type Error struct {
	Code    Code
	Message string
	Details []string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a domain code. Returns nil when err
// is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// WithDetails attaches structured context to the error.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the domain code from err, or CodeInternal when err carries
// no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
