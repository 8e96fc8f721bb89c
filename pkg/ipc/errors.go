package ipc

import (
	"errors"
	"fmt"

	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

// Error codes surfaced through results and return values.
const (
	CodeRouteNotFound     = "ROUTE_NOT_FOUND"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeInvalidMessage    = "INVALID_MESSAGE"
	CodeNoListeners       = "NO_LISTENERS"
	CodeDuplicateReply    = "DUPLICATE_REPLY"
	CodeAllocationFailure = "ALLOCATION_FAILURE"
	CodeTimeout           = "TIMEOUT"
	CodeNotSupported      = "NOT_SUPPORTED"
)

// Error is a coded bridge failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so the package sentinels work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Value renders the error as the object placed in a result's err slot.
func (e *Error) Value() jsonvalue.Value {
	return jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "type", Value: jsonvalue.String(e.Code)},
		jsonvalue.Entry{Key: "message", Value: jsonvalue.String(e.Message)},
	))
}

// NewError returns an *Error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrRouteNotFound     = &Error{Code: CodeRouteNotFound}
	ErrPermissionDenied  = &Error{Code: CodePermissionDenied}
	ErrInvalidMessage    = &Error{Code: CodeInvalidMessage}
	ErrNoListeners       = &Error{Code: CodeNoListeners}
	ErrDuplicateReply    = &Error{Code: CodeDuplicateReply}
	ErrAllocationFailure = &Error{Code: CodeAllocationFailure}
	ErrTimeout           = &Error{Code: CodeTimeout}
	ErrNotSupported      = &Error{Code: CodeNotSupported}
)
