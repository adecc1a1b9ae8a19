// Package errors provides the structured error type (PipelineError) used for
// classification and retry semantics across the workflow engine.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error for handling decisions.
type Kind string

const (
	// Store errors
	KindStoreTransient  Kind = "store_transient" // lock wait timeout, I/O glitch
	KindStoreFatal      Kind = "store_fatal"     // schema mismatch, disk full
	KindInvalidScore    Kind = "invalid_score"
	KindVersionConflict Kind = "version_conflict"
	KindAlreadyReviewed Kind = "already_reviewed"
	KindNotFound        Kind = "not_found"

	// Transition errors
	KindIllegalTransition Kind = "illegal_transition"
	KindUnknownStage      Kind = "unknown_stage"

	// Dispatcher errors
	KindMissingInput    Kind = "missing_input"
	KindProcessorFailed Kind = "processor_failed"

	// Configuration and input-validation errors
	KindConfig     Kind = "config"
	KindValidation Kind = "validation"

	KindInternal Kind = "internal"
)

// PipelineError is a structured error with kind, retryability, and context.
type PipelineError struct {
	Kind      Kind          `json:"kind"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PipelineError.
type ContextFields map[string]any

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError.
func New(kind Kind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// Newf creates a new PipelineError with a formatted message.
func Newf(kind Kind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new PipelineError that wraps an existing error.
func Wrap(err error, kind Kind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: err}
}

// Retryable creates a new retryable PipelineError.
func Retryable(kind Kind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Retryable: true}
}

// WrapRetryable creates a new retryable PipelineError that wraps an existing error.
func WrapRetryable(err error, kind Kind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: err, Retryable: true}
}

// IsKind reports whether err (or anything it wraps) is a PipelineError of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsRetryable reports whether err (or anything it wraps) is marked retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetKind extracts the kind from an error, or KindInternal if it is not a PipelineError.
func GetKind(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
