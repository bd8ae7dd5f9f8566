package query

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes query failures.
type ErrorCode string

const (
	ErrCodeHandlerNotFound  ErrorCode = "handler_not_found"
	ErrCodeNodeNotFound     ErrorCode = "node_not_found"
	ErrCodeDocumentNotFound ErrorCode = "document_not_found"
	ErrCodeUnknown          ErrorCode = "unknown"
)

// ErrHandlerNotFound is the sentinel wrapped by handler-not-found errors.
var ErrHandlerNotFound = errors.New("query handler not found")

// Error is a query failure with a code callers can switch on.
type Error struct {
	Code    ErrorCode
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewHandlerNotFoundError reports that no handler is registered for t.
func NewHandlerNotFoundError(t Type) *Error {
	return &Error{
		Code:    ErrCodeHandlerNotFound,
		Message: fmt.Sprintf("no handler registered for query %q", t),
		Err:     ErrHandlerNotFound,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ErrCodeUnknown
}

// IsHandlerNotFound returns true if err reports a missing handler.
// Uses errors.As to handle wrapped errors.
func IsHandlerNotFound(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeHandlerNotFound
}

// IsNotFound returns true if err reports a missing node or document.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	return code == ErrCodeNodeNotFound || code == ErrCodeDocumentNotFound
}
