// Package fault defines the error taxonomy shared by the action transport and
// the cart facade.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindNoBrowserContext Kind = "no-browser-context"
	KindCrossOrigin      Kind = "cross-origin-blocked"
	KindHTTP             Kind = "http-error"
	KindTimeout          Kind = "timeout"
	KindNetwork          Kind = "network-failure"
	KindValidation       Kind = "validation-failure"
	KindPrecondition     Kind = "precondition-failure"
)

// Sentinels usable with errors.Is; matching is by Kind only.
var (
	ErrNoBrowserContext = &Error{Kind: KindNoBrowserContext}
	ErrCrossOrigin      = &Error{Kind: KindCrossOrigin}
	ErrHTTP             = &Error{Kind: KindHTTP}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrPrecondition     = &Error{Kind: KindPrecondition}
)

// Error is a classified failure with an optional operation context and cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Status is an advisory HTTP-like status code.
	Status int
	Err    error
}

// New constructs an Error without a cause.
func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// Wrap attaches operation context to cause. Kind and status are inherited from
// cause when it already is an *Error.
func Wrap(kind Kind, op string, cause error) *Error {
	e := &Error{Kind: kind, Op: op, Err: cause}
	var inner *Error
	if errors.As(cause, &inner) {
		if inner.Kind != "" {
			e.Kind = inner.Kind
		}
		e.Status = inner.Status
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil && !strings.Contains(msg, e.Err.Error()) {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("Failed to %s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the original cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the advisory status carried by err, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
