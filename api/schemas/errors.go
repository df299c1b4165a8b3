// api/schemas/errors.go
package schemas

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure a tool call can report. Callers branch on
// the kind, never on the message text.
type ErrorKind string

const (
	ErrInvalidConfig     ErrorKind = "InvalidConfig"
	ErrInvalidArgument   ErrorKind = "InvalidArgument"
	ErrSessionNotRunning ErrorKind = "SessionNotRunning"
	ErrNotFound          ErrorKind = "NotFound"
	ErrStaleElement      ErrorKind = "StaleElement"
	ErrTimeout           ErrorKind = "Timeout"
	ErrTransport         ErrorKind = "TransportError"
	ErrProtocol          ErrorKind = "ProtocolError"
	ErrAlreadyResolved   ErrorKind = "AlreadyResolved"
	ErrScript            ErrorKind = "ScriptError"
	ErrInternal          ErrorKind = "Internal"
)

// Timeout reasons narrow ErrTimeout down to the budget that expired.
const (
	ReasonLaunchTimeout     = "LaunchTimeout"
	ReasonNavigationTimeout = "NavigationTimeout"
	ReasonWaitTimeout       = "WaitTimeout"
	ReasonAutoContinue      = "AutoContinue"
)

// Error is the typed error carried through every layer of the server.
// Code is only set for ErrProtocol and holds the browser's error code.
type Error struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Code    int64
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// TimeoutError builds an ErrTimeout carrying a reason.
func TimeoutError(reason string, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrTimeout, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// WithReason returns a copy of e with the reason set.
func (e *Error) WithReason(reason string) *Error {
	c := *e
	c.Reason = reason
	return &c
}

// KindOf classifies an arbitrary error. Untyped context deadlines are reported
// as timeouts; anything else unrecognized is Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInternal
}

// IsKind reports whether err (or anything it wraps) is of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ErrorObject is the wire form of a failed tool call.
type ErrorObject struct {
	Kind    ErrorKind `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message"`
	Code    int64     `json:"code,omitempty"`
}

// ToErrorObject flattens any error into its wire form.
func ToErrorObject(err error) ErrorObject {
	var e *Error
	if errors.As(err, &e) {
		return ErrorObject{Kind: e.Kind, Reason: e.Reason, Message: err.Error(), Code: e.Code}
	}
	obj := ErrorObject{Kind: KindOf(err), Message: err.Error()}
	if obj.Kind == ErrTimeout {
		obj.Reason = ReasonWaitTimeout
	}
	return obj
}
