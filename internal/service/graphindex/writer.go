// Package graphindex writes extraction results and containment trees into
// the property graph. All writes are merge-by-key upserts; nothing in this
// package ever deletes a node.
package graphindex

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "knowledge_graph"

// Document identifies the file whose extraction results are being written.
type Document struct {
	ProjectName string
	SourcePath  string
	Language    string
	ContentHash string
}

// Report summarizes one graph write. Warnings carry the non-fatal step
// failures (file node, relationships, links).
type Report struct {
	EntitiesMerged      int
	RelationshipsMerged int
	EntitiesLinked      int
	Warnings            []string
}

// Writer persists extraction results in a fixed step order.
type Writer struct {
	store   ports.GraphStore
	backoff time.Duration
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewWriter builds a graph writer. A zero backoff defaults to 250ms between
// a step's two tries.
func NewWriter(store ports.GraphStore, backoff time.Duration, logger *zap.Logger, metrics *observability.Collector) *Writer {
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Writer{
		store:   store,
		backoff: backoff,
		logger:  logger.Named("graphindex"),
		metrics: metrics,
	}
}

// Write merges one document's extraction results into the graph. Steps run
// in a fixed order: entities, then the file node, then relationships, then
// the contains_entity links. Each step gets one retry. A persistent failure
// in the entity step aborts the write; later steps log, record a warning and
// continue, so one flaky write cannot take down the parts that succeed.
func (w *Writer) Write(ctx context.Context, doc Document, entities []domain.Entity, relationships []domain.Relationship) (*Report, error) {
	report := &Report{}

	err := w.runStep(ctx, "upsert_entities", func(stepCtx context.Context) error {
		return w.store.UpsertEntities(stepCtx, doc.ProjectName, entities)
	})
	if err != nil {
		return report, w.storeError(err, "entity upsert failed")
	}
	report.EntitiesMerged = len(entities)
	w.metrics.EntitiesMerged.Add(float64(len(entities)))

	if err := w.runStep(ctx, "upsert_file_node", func(stepCtx context.Context) error {
		return w.store.UpsertNode(stepCtx, w.fileNode(doc))
	}); err != nil {
		report.Warnings = append(report.Warnings, "file node upsert failed: "+err.Error())
	}

	if err := w.runStep(ctx, "upsert_relationships", func(stepCtx context.Context) error {
		return w.store.UpsertRelationships(stepCtx, doc.ProjectName, relationships)
	}); err != nil {
		report.Warnings = append(report.Warnings, "relationship upsert failed: "+err.Error())
	} else {
		report.RelationshipsMerged = len(relationships)
	}

	if err := w.runStep(ctx, "link_entities", func(stepCtx context.Context) error {
		return w.store.LinkEntitiesToFile(stepCtx, doc.ProjectName, doc.SourcePath, entityIDs(entities))
	}); err != nil {
		report.Warnings = append(report.Warnings, "contains_entity links failed: "+err.Error())
	} else {
		report.EntitiesLinked = len(entities)
	}

	for _, warning := range report.Warnings {
		w.logger.Warn("graph write degraded",
			zap.String("project", doc.ProjectName),
			zap.String("source_path", doc.SourcePath),
			zap.String("warning", warning))
	}

	return report, nil
}

// runStep runs fn, and once more after a backoff if the first try failed.
// The enclosing context cancels both tries and the pause between them.
func (w *Writer) runStep(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	defer func() {
		w.metrics.StoreDuration.WithLabelValues("graph", name).Observe(time.Since(start).Seconds())
	}()

	firstErr := fn(ctx)
	if firstErr == nil {
		w.metrics.StoreOperations.WithLabelValues("graph", name, "success").Inc()
		return nil
	}
	if ctx.Err() != nil {
		w.metrics.StoreOperations.WithLabelValues("graph", name, "failure").Inc()
		return firstErr
	}

	w.logger.Warn("graph step failed, retrying once",
		zap.String("step", name), zap.Error(firstErr))

	select {
	case <-time.After(w.backoff):
	case <-ctx.Done():
		w.metrics.StoreOperations.WithLabelValues("graph", name, "failure").Inc()
		return firstErr
	}

	if err := fn(ctx); err != nil {
		w.metrics.StoreOperations.WithLabelValues("graph", name, "failure").Inc()
		return err
	}
	w.metrics.StoreOperations.WithLabelValues("graph", name, "retried").Inc()
	return nil
}

func (w *Writer) fileNode(doc Document) domain.GraphNode {
	properties := map[string]any{
		"content_hash": doc.ContentHash,
	}
	if doc.Language != "" {
		properties["language"] = doc.Language
	}
	return domain.GraphNode{
		Kind:        domain.GraphNodeFile,
		ProjectName: doc.ProjectName,
		Path:        doc.SourcePath,
		Name:        baseName(doc.SourcePath),
		Properties:  properties,
	}
}

func (w *Writer) storeError(err error, message string) error {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.WithComponent(component)
	}
	return errors.NewGraphStoreUnavailable(message, err).WithComponent(component)
}

func entityIDs(entities []domain.Entity) []string {
	ids := make([]string, len(entities))
	for i, entity := range entities {
		ids[i] = entity.ID
	}
	return ids
}
