package domain

import (
	"encoding/json"
	"time"

	"cortex-backend/pkg/errors"
)

// Transport topics. Request topics are consumed, response topics published.
const (
	TopicDocumentIndexRequested = "intelligence.document-index-requested"
	TopicDocumentIndexCompleted = "intelligence.document-index-completed"
	TopicDocumentIndexFailed    = "intelligence.document-index-failed"
	TopicSearchRequested        = "intelligence.search-requested"
	TopicSearchCompleted        = "intelligence.search-completed"
	TopicSearchFailed           = "intelligence.search-failed"
	TopicTreeIndex              = "intelligence.tree-index"
)

// Envelope is the wire shape of every event. The core treats it as opaque
// except for these fields.
type Envelope struct {
	EventType       string          `json:"event_type"`
	CorrelationID   string          `json:"correlation_id"`
	Payload         json.RawMessage `json:"payload"`
	EmittedAt       time.Time       `json:"emitted_at"`
	SourceComponent string          `json:"source_component"`
}

// NewEnvelope wraps a payload for publishing. The event type doubles as the
// topic name.
func NewEnvelope(eventType, correlationID, sourceComponent string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.NewInternal("failed to marshal event payload", err)
	}
	return Envelope{
		EventType:       eventType,
		CorrelationID:   correlationID,
		Payload:         raw,
		EmittedAt:       time.Now().UTC(),
		SourceComponent: sourceComponent,
	}, nil
}

// ErrorEnvelope is the payload of a failed event.
type ErrorEnvelope struct {
	ErrorKind       string `json:"error_kind"`
	ErrorMessage    string `json:"error_message"`
	FailedComponent string `json:"failed_component,omitempty"`
	RetryAllowed    bool   `json:"retry_allowed"`
	RetryCount      int    `json:"retry_count"`
	PartialResults  any    `json:"partial_results,omitempty"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// NewErrorEnvelope translates an application error into the wire shape.
func NewErrorEnvelope(err error, retryCount int, partial any) ErrorEnvelope {
	env := ErrorEnvelope{
		ErrorKind:       string(errors.KindOf(err)),
		ErrorMessage:    err.Error(),
		RetryAllowed:    errors.IsRetryable(err),
		RetryCount:      retryCount,
		PartialResults:  partial,
		SuggestedAction: suggestedAction(err),
	}
	if appErr, ok := errors.AsAppError(err); ok {
		env.FailedComponent = appErr.Component
	}
	return env
}

func suggestedAction(err error) string {
	switch errors.KindOf(err) {
	case errors.KindInvalidInput, errors.KindInvalidProject:
		return "fix the request payload and resubmit"
	case errors.KindExtractionRejected:
		return "document was rejected; resubmitting the same content will fail again"
	default:
		if errors.IsRetryable(err) {
			return "retry with backoff"
		}
		return ""
	}
}
