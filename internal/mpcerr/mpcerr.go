// Package mpcerr defines the MPC's error taxonomy.
//
// Every public operation in the Matching & Partnership Core returns one of
// these kinds rather than an ad-hoc error, so callers at the RPC boundary can
// switch on Kind instead of matching strings.
package mpcerr

import "fmt"

// Kind classifies why an operation failed.
type Kind string

const (
	// Invalid means caller-supplied data violates a stated constraint.
	Invalid Kind = "INVALID"
	// NotFound means the entity does not exist.
	NotFound Kind = "NOT_FOUND"
	// Forbidden means the caller is not a participant or not the right role.
	Forbidden Kind = "FORBIDDEN"
	// Conflict means a duplicate or uniqueness violation.
	Conflict Kind = "CONFLICT"
	// WrongState means the operation is disallowed in the entity's current state.
	WrongState Kind = "WRONG_STATE"
	// LimitExceeded means a per-user cap has been reached.
	LimitExceeded Kind = "LIMIT_EXCEEDED"
	// Transient means the store or event sink was unavailable; retry may help.
	Transient Kind = "TRANSIENT"
)

// Error is the concrete error type returned by MPC operations.
type Error struct {
	Kind    Kind
	Message string
	// State is the entity's current state, populated for WrongState errors so
	// callers can decide what to do next without a second read.
	State string
	Err   error
}

func (e *Error) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s: %s (state=%s)", e.Kind, e.Message, e.State)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, satisfying
// errors.Is(err, mpcerr.New(kind, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WrongStateErr builds a WrongState error carrying the current state.
func WrongStateErr(current, action string) *Error {
	return &Error{Kind: WrongState, Message: fmt.Sprintf("cannot %s from state %s", action, current), State: current}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
