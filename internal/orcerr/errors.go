// Package orcerr defines the error taxonomy shared across the orchestrator.
//
// Components never panic or use exceptions for control flow (the sole
// exception being cancellation, which is modeled as a context.Context, not
// an error). Every public operation returns a *Error with a Kind so callers
// can branch on failure category without string matching.
package orcerr

import "fmt"

// Kind classifies an orchestrator error for programmatic handling.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindGit            Kind = "GitError"
	KindExecution      Kind = "ExecutionError"
	KindAgent          Kind = "AgentError"
	KindCapacityDenied Kind = "CapacityDenied"
	KindInterrupted    Kind = "Interrupted"
	KindNotFound       Kind = "NotFound"
	KindInvalidState   Kind = "InvalidState"
	KindInternal       Kind = "Internal"
)

// GitErrorKind further classifies KindGit errors.
type GitErrorKind string

const (
	GitConflict    GitErrorKind = "conflict"
	GitInvalidRef  GitErrorKind = "invalidRef"
	GitNotRepo     GitErrorKind = "notRepo"
	GitWorktreeBsy GitErrorKind = "worktreeBusy"
)

// Error is the single error type returned by public orchestrator APIs.
type Error struct {
	Kind       Kind
	Message    string
	GitKind    GitErrorKind // set only when Kind == KindGit
	StderrTail string       // set only when Kind == KindGit or KindExecution
	FailedPhase string      // set only when Kind == KindExecution
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a plain error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Git builds a KindGit error.
func Git(gitKind GitErrorKind, message, stderrTail string) *Error {
	return &Error{Kind: KindGit, GitKind: gitKind, Message: message, StderrTail: stderrTail}
}

// Execution builds a KindExecution error for a failed pipeline phase.
func Execution(failedPhase, message, stderrTail string) *Error {
	return &Error{Kind: KindExecution, FailedPhase: failedPhase, Message: message, StderrTail: stderrTail}
}

// Is allows errors.Is(err, orcerr.KindX) style checks via a sentinel wrapper.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if te.Message == "" && te.Err == nil {
		return e.Kind == te.Kind
	}
	return false
}
