// Package errors provides structured error handling for Forest.
//
// Every error crossing the core boundary carries a Kind from the fixed
// enumeration below. Frontends render the kind plus the message; batch
// operations collect per-unit errors into summaries.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error at the core boundary.
type Kind string

const (
	// KindNotFound indicates a referenced note, edge, document, tag, or
	// snapshot does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindAmbiguousReference indicates a short id or title resolved to
	// multiple entities.
	KindAmbiguousReference Kind = "AMBIGUOUS_REFERENCE"
	// KindValidationFailed indicates input violating a documented invariant.
	KindValidationFailed Kind = "VALIDATION_FAILED"
	// KindConflictingState indicates preconditions that held at check time
	// but not at commit (e.g. concurrent delete).
	KindConflictingState Kind = "CONFLICTING_STATE"
	// KindEmbeddingUnavailable indicates the provider failed after all
	// retries; the operation proceeded with embedding-less scoring.
	KindEmbeddingUnavailable Kind = "EMBEDDING_UNAVAILABLE"
	// KindDimensionMismatch indicates stored embeddings disagree with the
	// configured dimension. Fatal until an admin rebuild.
	KindDimensionMismatch Kind = "DIMENSION_MISMATCH"
	// KindDocumentIntegrity indicates a broken document invariant; the
	// message names the specific invariant.
	KindDocumentIntegrity Kind = "DOCUMENT_INTEGRITY_VIOLATION"
	// KindProviderRateLimited indicates the provider signaled retry-after
	// and the retry budget is exhausted.
	KindProviderRateLimited Kind = "PROVIDER_RATE_LIMITED"
	// KindCancelled indicates a long operation was cancelled; results carry
	// partial progress.
	KindCancelled Kind = "CANCELLED"
	// KindInternal indicates an unexpected error. Loggable, not actionable.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type for Forest.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation may succeed if retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind so errors.Is works with sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion. Returns the error for chaining.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryableKind(kind),
	}
}

// Wrap creates an Error from an existing error, preserving it as the cause.
// Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...) + ": " + err.Error(),
		Cause:     err,
		Retryable: retryableKind(kind),
	}
}

// NotFound creates a NOT_FOUND error naming the entity and reference.
func NotFound(entity, ref string) *Error {
	return New(KindNotFound, "%s not found: %s", entity, ref).
		WithDetail("entity", entity).
		WithDetail("ref", ref)
}

// Ambiguous creates an AMBIGUOUS_REFERENCE error listing the candidates.
func Ambiguous(ref string, candidates []string) *Error {
	e := New(KindAmbiguousReference, "reference %q matches %d entities", ref, len(candidates))
	for i, c := range candidates {
		e.WithDetail(fmt.Sprintf("candidate_%d", i), c)
	}
	return e
}

// Validation creates a VALIDATION_FAILED error.
func Validation(format string, args ...any) *Error {
	return New(KindValidationFailed, format, args...)
}

// Internal creates an INTERNAL error wrapping a cause.
func Internal(err error, format string, args ...any) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf extracts the kind from an error chain.
// Returns KindInternal for non-Forest errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// IsRetryable reports whether the error is marked retryable.
func IsRetryable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Retryable
}

// retryableKind reports whether errors of this kind are retryable by default.
func retryableKind(kind Kind) bool {
	switch kind {
	case KindConflictingState, KindEmbeddingUnavailable, KindProviderRateLimited:
		return true
	default:
		return false
	}
}
