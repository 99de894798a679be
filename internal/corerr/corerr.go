// Package corerr defines the error kinds shared across the agent core.
// Components tag errors with a Kind so callers can branch on behavior
// (recoverable vs. surfaced) without string matching.
package corerr

import (
	"errors"
	"fmt"
)

// Kind is the category an error belongs to.
type Kind string

const (
	KindSessionNotFound    Kind = "session_not_found"
	KindAgentBusy          Kind = "agent_busy"
	KindInvalidTransition  Kind = "invalid_transition"
	KindToolValidation     Kind = "tool_validation"
	KindToolExecution      Kind = "tool_execution"
	KindPermissionDenied   Kind = "permission_denied"
	KindAbort              Kind = "abort"
	KindAdapterUnavailable Kind = "adapter_unavailable"
	KindPersistence        Kind = "persistence"
	KindNotFound           Kind = "not_found"
	KindAmbiguous          Kind = "ambiguous"
	KindInvalidArgument    Kind = "invalid_argument"
)

// Error is the core's error type: a human-readable message plus a Kind,
// optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is, or wraps, a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AbortError is the cooperative-cancellation sentinel.
// Tool executors should return this when they observe the abort signal.
var AbortError = New(KindAbort, "operation aborted")
