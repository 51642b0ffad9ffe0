// Package errors defines the typed error model shared by all cortex
// components. Every in-process failure mode is an *AppError carrying one of
// the closed Kind values; response events never surface anything else.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class. The set is closed: transport envelopes,
// metrics labels and retry decisions all key off it.
type Kind string

const (
	// Validation failures. Never retryable.
	KindInvalidInput   Kind = "InvalidInput"
	KindInvalidProject Kind = "InvalidProject"

	// Dependency failures, retryable.
	KindStampingUnavailable    Kind = "StampingUnavailable"
	KindExtractionUnavailable  Kind = "ExtractionUnavailable"
	KindExtractionTimeout      Kind = "ExtractionTimeout"
	KindEmbeddingUnavailable   Kind = "EmbeddingUnavailable"
	KindEmbeddingTimeout       Kind = "EmbeddingTimeout"
	KindVectorStoreUnavailable Kind = "VectorStoreUnavailable"
	KindGraphStoreUnavailable  Kind = "GraphStoreUnavailable"
	KindAllSourcesFailed       Kind = "AllSourcesFailed"

	// The extractor actively refused the document (4xx). Not retryable:
	// resubmitting the same content gets the same answer.
	KindExtractionRejected Kind = "ExtractionRejected"

	// Unclassified failure. Retryable once by upstream policy.
	KindInternal Kind = "InternalError"

	// KindNotFound is used by store lookups and the HTTP surface only;
	// it is never carried on a response event.
	KindNotFound Kind = "NotFound"
)

// AppError is the application error type. Components return it directly or
// wrapped; the orchestrator and the search aggregator translate it into the
// error envelope of a failed event.
type AppError struct {
	Kind      Kind
	Message   string
	Component string
	Details   map[string]any
	Cause     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to work through the chain.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithComponent records which service produced the failure; it becomes
// failed_component on the error envelope.
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithCause attaches the underlying error.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithDetail adds a single key to the detail map, allocating it lazily.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether an envelope carrying this error should set
// retry_allowed. Validation and rejection kinds are final; everything else
// is presumed transient.
func (e *AppError) Retryable() bool {
	switch e.Kind {
	case KindInvalidInput, KindInvalidProject, KindExtractionRejected, KindNotFound:
		return false
	default:
		return true
	}
}

// HTTPStatus maps the kind onto a status code for the REST surface.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput, KindInvalidProject:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExtractionRejected:
		return http.StatusUnprocessableEntity
	case KindExtractionTimeout, KindEmbeddingTimeout:
		return http.StatusGatewayTimeout
	case KindStampingUnavailable, KindExtractionUnavailable, KindEmbeddingUnavailable,
		KindVectorStoreUnavailable, KindGraphStoreUnavailable, KindAllSourcesFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Constructor functions, one per kind

// NewInvalidInput creates a request validation error.
func NewInvalidInput(message string) *AppError {
	return &AppError{Kind: KindInvalidInput, Message: message}
}

// NewInvalidProject flags a missing or blank project name.
func NewInvalidProject(message string) *AppError {
	return &AppError{Kind: KindInvalidProject, Message: message}
}

// NewStampingUnavailable wraps a fingerprint index failure.
func NewStampingUnavailable(message string, cause error) *AppError {
	return &AppError{Kind: KindStampingUnavailable, Message: message, Cause: cause}
}

// NewExtractionUnavailable wraps an extractor connectivity failure.
func NewExtractionUnavailable(message string, cause error) *AppError {
	return &AppError{Kind: KindExtractionUnavailable, Message: message, Cause: cause}
}

// NewExtractionTimeout wraps an extractor deadline expiry.
func NewExtractionTimeout(message string, cause error) *AppError {
	return &AppError{Kind: KindExtractionTimeout, Message: message, Cause: cause}
}

// NewExtractionRejected marks a document the extractor refused to process.
func NewExtractionRejected(message string) *AppError {
	return &AppError{Kind: KindExtractionRejected, Message: message}
}

// NewEmbeddingUnavailable wraps an embedding provider connectivity failure.
func NewEmbeddingUnavailable(message string, cause error) *AppError {
	return &AppError{Kind: KindEmbeddingUnavailable, Message: message, Cause: cause}
}

// NewEmbeddingTimeout wraps an embedding deadline expiry.
func NewEmbeddingTimeout(message string, cause error) *AppError {
	return &AppError{Kind: KindEmbeddingTimeout, Message: message, Cause: cause}
}

// NewEmbeddingMalformed covers responses that parse but lack the vector
// field. The event taxonomy has no dedicated kind for it, so it travels as
// EmbeddingUnavailable with the shape recorded in the message.
func NewEmbeddingMalformed(message string) *AppError {
	return &AppError{Kind: KindEmbeddingUnavailable, Message: "malformed embedding response: " + message}
}

// NewVectorStoreUnavailable wraps a vector store write or query failure.
func NewVectorStoreUnavailable(message string, cause error) *AppError {
	return &AppError{Kind: KindVectorStoreUnavailable, Message: message, Cause: cause}
}

// NewGraphStoreUnavailable wraps a graph store write or query failure.
func NewGraphStoreUnavailable(message string, cause error) *AppError {
	return &AppError{Kind: KindGraphStoreUnavailable, Message: message, Cause: cause}
}

// NewAllSourcesFailed marks a search where every selected source failed.
func NewAllSourcesFailed(message string) *AppError {
	return &AppError{Kind: KindAllSourcesFailed, Message: message}
}

// NewInternal creates an unclassified internal error.
func NewInternal(message string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Cause: cause}
}

// NewNotFound creates a store lookup miss.
func NewNotFound(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Message: resource + " not found"}
}

// AsAppError extracts an *AppError from anywhere in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf classifies any error. Plain errors collapse to InternalError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports retry_allowed for any error. Untyped errors count as
// InternalError, which is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable()
	}
	return true
}

// IsNotFound is a convenience for store lookups.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// Wrap adds context to an error while preserving its kind. A nil err stays
// nil; an untyped err becomes InternalError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return &AppError{
			Kind:      appErr.Kind,
			Message:   message + ": " + appErr.Message,
			Component: appErr.Component,
			Details:   appErr.Details,
			Cause:     appErr.Cause,
		}
	}
	return &AppError{Kind: KindInternal, Message: message, Cause: err}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
