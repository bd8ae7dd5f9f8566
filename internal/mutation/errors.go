package mutation

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes mutation failures.
type ErrorCode string

const (
	ErrCodeUnknown              ErrorCode = "unknown"
	ErrCodeAPIError             ErrorCode = "api_error"
	ErrCodeNodeNotFound         ErrorCode = "node_not_found"
	ErrCodeNodeCreateForbidden  ErrorCode = "node_create_forbidden"
	ErrCodeNodeUpdateForbidden  ErrorCode = "node_update_forbidden"
	ErrCodeNodeDeleteForbidden  ErrorCode = "node_delete_forbidden"
	ErrCodeNodeCreateFailed     ErrorCode = "node_create_failed"
	ErrCodeNodeUpdateFailed     ErrorCode = "node_update_failed"
	ErrCodeNodeDeleteFailed     ErrorCode = "node_delete_failed"
	ErrCodeReactionCreateFailed ErrorCode = "reaction_create_failed"
	ErrCodeReactionDeleteFailed ErrorCode = "reaction_delete_failed"
	ErrCodeInteractionFailed    ErrorCode = "interaction_failed"
	ErrCodeDocumentNotFound     ErrorCode = "document_not_found"
	ErrCodeDocumentUpdateFailed ErrorCode = "document_update_failed"
	ErrCodeInvalidInput         ErrorCode = "invalid_input"
)

// Error is a domain failure raised by a mutation handler. The mediator
// turns it into a failed Result carrying the same code and message.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// IsNotFound returns true if err reports a missing node or document.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	me, ok := AsError(err)
	return ok && (me.Code == ErrCodeNodeNotFound || me.Code == ErrCodeDocumentNotFound)
}

// IsForbidden returns true if err reports a permission failure.
func IsForbidden(err error) bool {
	me, ok := AsError(err)
	if !ok {
		return false
	}
	switch me.Code {
	case ErrCodeNodeCreateForbidden, ErrCodeNodeUpdateForbidden, ErrCodeNodeDeleteForbidden:
		return true
	}
	return false
}
