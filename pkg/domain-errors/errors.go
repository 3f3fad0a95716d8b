// Package derrors defines the typed error vocabulary shared across layers.
// Handlers translate codes to HTTP statuses; services branch on codes
// without string matching.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	CodeBadRequest Code = "bad_request"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeInternal   Code = "internal"

	// CodePastState marks a transition that belongs strictly earlier in the
	// permission lifecycle than the current state. Retrying will never help.
	CodePastState Code = "past_state"

	// CodeFutureState marks a transition that requires a lifecycle state not
	// yet reached. The caller may retry once the prerequisite state arrives.
	CodeFutureState Code = "future_state"

	// CodeAssembly marks a document-assembly hard failure, surfaced per
	// permission on the document stream rather than halting the pipeline.
	CodeAssembly Code = "document_assembly"

	// CodeUnmappedStatus marks a lifecycle status with no document status
	// code. This is a programming error, never defaulted away.
	CodeUnmappedStatus Code = "unmapped_status"
)

// Error carries a code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a typed error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a typed error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Coder lets domain-specific error types (for example transition errors)
// expose a code without wrapping themselves in *Error.
type Coder interface {
	DomainCode() Code
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code from err, or CodeInternal when untyped.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	var c Coder
	if errors.As(err, &c) {
		return c.DomainCode()
	}
	return CodeInternal
}
