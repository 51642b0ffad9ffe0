package orchestrator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/concurrency"
	"cortex-backend/pkg/errors"
)

// HandleDocumentIndexRequested consumes intelligence.document-index-requested.
// Every delivery produces exactly one completed or failed event carrying the
// request's correlation id. A nil return acknowledges the delivery; an error
// is returned only when the response could not be published, so the transport
// redelivers and the (idempotent) pipeline runs again.
func (o *Orchestrator) HandleDocumentIndexRequested(ctx context.Context, env domain.Envelope) error {
	var req domain.IndexRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		o.metrics.IndexRequests.WithLabelValues("invalid").Inc()
		bad := errors.NewInvalidInput("malformed document-index-requested payload").
			WithCause(err).WithComponent("orchestrator")
		return o.publishFailure(ctx, env.CorrelationID, bad, nil)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = env.CorrelationID
	}
	return o.processAndPublish(ctx, req)
}

// HandleTreeIndex consumes intelligence.tree-index: it ingests the
// containment tree, then expands every file record that carries content into
// an individual indexing task on the worker pool. Each expanded task
// publishes its own completed or failed event under the correlation id
// "<tree correlation id>:<path>"; tree-level failures go to the failed topic
// under the tree's own correlation id.
func (o *Orchestrator) HandleTreeIndex(ctx context.Context, env domain.Envelope) error {
	var req domain.TreeIndexRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		bad := errors.NewInvalidInput("malformed tree-index payload").
			WithCause(err).WithComponent("orchestrator")
		return o.publishFailure(ctx, env.CorrelationID, bad, nil)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = env.CorrelationID
	}

	report, err := o.graphs.IngestTree(ctx, req)
	if err != nil {
		return o.publishFailure(ctx, req.CorrelationID, err, nil)
	}
	o.logger.Info("containment tree ingested",
		zap.String("project", req.ProjectName),
		zap.Int("directories", report.Directories),
		zap.Int("files", report.Files),
		zap.Strings("skipped_paths", report.SkippedPaths))

	queued := 0
	for _, file := range req.Files {
		if file.Content == "" {
			continue
		}
		fileReq := domain.IndexRequest{
			SourcePath:    file.Path,
			Content:       file.Content,
			Language:      file.Language,
			ProjectName:   req.ProjectName,
			UserID:        req.UserID,
			CorrelationID: req.CorrelationID + ":" + file.Path,
		}
		if o.pool == nil {
			if err := o.processAndPublish(ctx, fileReq); err != nil {
				return err
			}
			queued++
			continue
		}
		task := concurrency.Task{
			ID: "index:" + fileReq.CorrelationID,
			Execute: func(taskCtx context.Context) error {
				return o.processAndPublish(taskCtx, fileReq)
			},
		}
		if err := o.pool.Submit(ctx, task); err != nil {
			failure := errors.NewInternal("could not queue document for indexing", err).
				WithComponent("orchestrator")
			if pubErr := o.publishFailure(ctx, fileReq.CorrelationID, failure, nil); pubErr != nil {
				return pubErr
			}
			continue
		}
		queued++
	}

	o.logger.Info("tree expansion queued",
		zap.String("project", req.ProjectName),
		zap.Int("documents", queued))
	return nil
}

// processAndPublish runs the pipeline for one request and publishes its
// single response event.
func (o *Orchestrator) processAndPublish(ctx context.Context, req domain.IndexRequest) error {
	receipt, err := o.Run(ctx, req)
	if err != nil {
		return o.publishFailure(ctx, req.CorrelationID, err, receipt)
	}
	return o.publishReceipt(ctx, req.CorrelationID, receipt)
}

func (o *Orchestrator) publishReceipt(ctx context.Context, correlationID string, receipt *domain.IndexReceipt) error {
	env, err := domain.NewEnvelope(domain.TopicDocumentIndexCompleted, correlationID, o.cfg.SourceComponent, receipt)
	if err != nil {
		o.logger.Error("could not build completed envelope", zap.Error(err))
		return err
	}
	if err := o.bus.Publish(ctx, domain.TopicDocumentIndexCompleted, env); err != nil {
		o.logger.Error("could not publish completed event",
			zap.String("correlation_id", correlationID), zap.Error(err))
		return err
	}
	return nil
}

func (o *Orchestrator) publishFailure(ctx context.Context, correlationID string, cause error, receipt *domain.IndexReceipt) error {
	var partial any
	if receipt != nil {
		partial = receipt
	}
	payload := domain.NewErrorEnvelope(cause, 0, partial)
	env, err := domain.NewEnvelope(domain.TopicDocumentIndexFailed, correlationID, o.cfg.SourceComponent, payload)
	if err != nil {
		o.logger.Error("could not build failed envelope", zap.Error(err))
		return err
	}
	if err := o.bus.Publish(ctx, domain.TopicDocumentIndexFailed, env); err != nil {
		o.logger.Error("could not publish failed event",
			zap.String("correlation_id", correlationID), zap.Error(err))
		return err
	}
	o.logger.Debug("indexing failed",
		zap.String("correlation_id", correlationID),
		zap.String("error_kind", string(errors.KindOf(cause))),
		zap.Error(cause))
	return nil
}
