package types

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors shared by the search pipeline
var (
	// ErrFilterResolution is matched by every *FilterResolutionError
	ErrFilterResolution = errors.New("filter resolution failed")
	// ErrBackendUnavailable is returned when a retrieval backend cannot answer
	ErrBackendUnavailable = errors.New("retrieval backend unavailable")
	// ErrInvalidQuery is returned for malformed query text or vectors
	ErrInvalidQuery = errors.New("invalid query")

	// Search hit errors
	ErrInvalidNoteID = errors.New("invalid note ID")
	ErrInvalidScore  = errors.New("score must be between 0 and 1")
)

// Error codes reported to callers
const (
	CodeFilterResolution   = "filter_resolution"
	CodeBackendUnavailable = "backend_unavailable"
	CodeInvalidQuery       = "invalid_query"
	CodeCanceled           = "canceled"
	CodeInternal           = "internal"
)

// FilterResolutionError reports a filter notation that could not be resolved
// or a filter that could not be compiled.
type FilterResolutionError struct {
	Field    string
	Notation string
	Reason   string
}

func (e *FilterResolutionError) Error() string {
	if e.Notation == "" {
		return fmt.Sprintf("filter %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("filter %s: %q: %s", e.Field, e.Notation, e.Reason)
}

// Is reports whether target is ErrFilterResolution.
func (e *FilterResolutionError) Is(target error) bool {
	return target == ErrFilterResolution
}

// BackendError wraps a failure from a named retrieval provider.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackendUnavailable.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// ErrorCode maps an error from the search pipeline to a stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFilterResolution):
		return CodeFilterResolution
	case errors.Is(err, ErrInvalidQuery):
		return CodeInvalidQuery
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, ErrBackendUnavailable):
		return CodeBackendUnavailable
	default:
		return CodeInternal
	}
}
