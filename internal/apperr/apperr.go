// Package apperr is the error taxonomy shared by the store, room, replication and session packages.
package apperr

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeConnectionInit    Code = "connection-init"
	CodeConnectionTimeout Code = "connection-timeout"
	CodeRoomNotFound      Code = "room-not-found"
	CodeRoomFull          Code = "room-full"
	CodeInvalidRoomCode   Code = "invalid-room-code"
	CodeTransient         Code = "transient"
	CodeStateValidation   Code = "state-validation"
	CodePermissionDenied  Code = "permission-denied"
	CodeActionRejected    Code = "action-rejected"
)

// Retryable reports whether errors of this code may succeed when attempted again.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransient, CodeConnectionTimeout:
		return true
	}
	return false
}

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// Final marks an error that has already been retried and must not be retried again.
	Final bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so errors.Is(err, apperr.RoomNotFound) works for
// errors built with New or Wrap.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with code that wraps cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Terminal marks e as final and returns it.
func Terminal(e *Error) *Error {
	e.Final = true
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ConnectionInit    = New(CodeConnectionInit, "connection init")
	ConnectionTimeout = New(CodeConnectionTimeout, "connection timeout")
	RoomNotFound      = New(CodeRoomNotFound, "room not found")
	RoomFull          = New(CodeRoomFull, "room full")
	InvalidRoomCode   = New(CodeInvalidRoomCode, "invalid room code")
	Transient         = New(CodeTransient, "transient")
	StateValidation   = New(CodeStateValidation, "state validation")
	PermissionDenied  = New(CodePermissionDenied, "permission denied")
	ActionRejected    = New(CodeActionRejected, "action rejected")
)

// CodeOf returns the code of the first *Error in err's chain. Context deadline errors map to
// connection-timeout; anything else uncoded is treated as transient.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return CodeConnectionTimeout
	}
	return CodeTransient
}

// Retryable reports whether err is worth another attempt. Cancellation is never retryable.
func Retryable(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) && e.Final {
		return false
	}
	return CodeOf(err).Retryable()
}
