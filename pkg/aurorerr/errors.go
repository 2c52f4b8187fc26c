// Package aurorerr defines the classified error taxonomy shared by every
// aurora component: a single Kind-tagged error type that planning,
// execution, and resolution failures all funnel through so that cmd/aurora
// can map a terminal failure to one short sentence.
package aurorerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets named by the
// package manager's design: planning/preparation failures, execution
// failures, and resolver-internal failures (the latter are remapped to
// KindResolutionFailed at the pkg/planner boundary, never surfaced raw).
type Kind string

const (
	// Planning/preparation.
	KindResolutionFailed        Kind = "resolution_failed"
	KindDownloadFailed          Kind = "download_failed"
	KindChecksumMismatch        Kind = "checksum_mismatch"
	KindPackageAlreadyInstalled Kind = "package_already_installed"
	KindPackageNotInstalled     Kind = "package_not_installed"
	KindAmbiguousProvider       Kind = "ambiguous_provider"
	KindNotEnoughSpace          Kind = "not_enough_space"

	// Execution.
	KindFileConflict        Kind = "file_conflict"
	KindExtractionFailed    Kind = "extraction_failed"
	KindScriptletFailed     Kind = "scriptlet_failed"
	KindFileSystemError     Kind = "file_system_error"
	KindConflictDetected    Kind = "conflict_detected"
	KindDependencyViolation Kind = "dependency_violation"

	// Resolver-internal, remapped to KindResolutionFailed by pkg/planner.
	KindPackageNotFound     Kind = "package_not_found"
	KindDependencyNotFound  Kind = "dependency_not_found"
	KindCircularDependency  Kind = "circular_dependency"
)

// Error is the classified error type returned by every aurora component.
type Error struct {
	// Kind is the taxonomy bucket this error belongs to.
	Kind Kind

	// Message is the human-readable description.
	Message string

	// Resource is the package name, path, or repo name the error concerns.
	Resource string

	// Err is the underlying error, if any.
	Err error

	// Details carries extra context (e.g. conflicting package names).
	Details map[string]any
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Resource != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s (resource=%s): %v", e.Kind, e.Message, e.Resource, e.Err)
		}
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Kind, e.Message, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, enabling
// errors.Is(err, aurorerr.New(aurorerr.KindFileConflict, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithResource attaches the offending resource name to the error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithDetail attaches a detail field to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from err, walking the Unwrap chain. It returns
// ok=false if err does not wrap an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
