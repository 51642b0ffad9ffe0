package search

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
)

// Responder consumes intelligence.search-requested and publishes exactly one
// search-completed or search-failed event per delivery.
type Responder struct {
	agg    *Aggregator
	bus    ports.EventBus
	source string
	logger *zap.Logger
}

// NewResponder wires the event glue around the aggregator.
func NewResponder(agg *Aggregator, bus ports.EventBus, sourceComponent string, logger *zap.Logger) *Responder {
	if sourceComponent == "" {
		sourceComponent = "cortex-backend"
	}
	return &Responder{
		agg:    agg,
		bus:    bus,
		source: sourceComponent,
		logger: logger.Named("search_events"),
	}
}

// HandleSearchRequested runs one search and publishes its response. A nil
// return acknowledges the delivery; an error is returned only when the
// response could not be published.
func (r *Responder) HandleSearchRequested(ctx context.Context, env domain.Envelope) error {
	var req domain.SearchRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		bad := errors.NewInvalidInput("malformed search-requested payload").
			WithCause(err).WithComponent(component)
		return r.publishFailure(ctx, env.CorrelationID, bad)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = env.CorrelationID
	}

	response, err := r.agg.Search(ctx, req)
	if err != nil {
		return r.publishFailure(ctx, req.CorrelationID, err)
	}

	out, err := domain.NewEnvelope(domain.TopicSearchCompleted, req.CorrelationID, r.source, response)
	if err != nil {
		r.logger.Error("could not build search-completed envelope", zap.Error(err))
		return err
	}
	if err := r.bus.Publish(ctx, domain.TopicSearchCompleted, out); err != nil {
		r.logger.Error("could not publish search-completed event",
			zap.String("correlation_id", req.CorrelationID), zap.Error(err))
		return err
	}
	return nil
}

func (r *Responder) publishFailure(ctx context.Context, correlationID string, cause error) error {
	payload := domain.NewErrorEnvelope(cause, 0, nil)
	env, err := domain.NewEnvelope(domain.TopicSearchFailed, correlationID, r.source, payload)
	if err != nil {
		r.logger.Error("could not build search-failed envelope", zap.Error(err))
		return err
	}
	if err := r.bus.Publish(ctx, domain.TopicSearchFailed, env); err != nil {
		r.logger.Error("could not publish search-failed event",
			zap.String("correlation_id", correlationID), zap.Error(err))
		return err
	}
	r.logger.Debug("search failed",
		zap.String("correlation_id", correlationID),
		zap.String("error_kind", string(errors.KindOf(cause))),
		zap.Error(cause))
	return nil
}
