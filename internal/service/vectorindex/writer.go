package vectorindex

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "vector_indexing"

// embedder is the slice of the embedding client the writer needs.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Document carries everything the writer needs to index one document's
// content into the vector store. ChunkSize and ChunkOverlap override the
// writer's configured knobs when positive.
type Document struct {
	ProjectName  string
	ProjectID    string
	SourcePath   string
	Language     string
	EntityType   string
	QualityScore *float64
	ContentHash  string
	Content      string
	ChunkSize    int
	ChunkOverlap int
}

// Report summarizes one indexing call. On partial failure ChunksWritten is
// the length of the successfully written prefix.
type Report struct {
	ChunksTotal   int
	ChunksWritten int
	PointIDs      []string
}

// Writer chunks, embeds and upserts documents. Chunking knobs are swappable
// at runtime through UpdateChunking.
type Writer struct {
	store      ports.VectorStore
	embedder   embedder
	collection string
	logger     *zap.Logger
	metrics    *observability.Collector

	mu      sync.RWMutex
	size    int
	overlap int
}

// NewWriter builds a vector writer over the given collection. Size and
// overlap come pre-validated from config (overlap < size).
func NewWriter(store ports.VectorStore, emb embedder, collection string, size, overlap int, logger *zap.Logger, metrics *observability.Collector) *Writer {
	return &Writer{
		store:      store,
		embedder:   emb,
		collection: collection,
		logger:     logger.Named("vectorindex"),
		metrics:    metrics,
		size:       size,
		overlap:    overlap,
	}
}

// EnsureCollection creates the collection sized to the embedder's dimension
// if it does not exist yet.
func (w *Writer) EnsureCollection(ctx context.Context) error {
	return w.store.EnsureCollection(ctx, w.collection, w.embedder.Dimension())
}

// UpdateChunking swaps the chunking knobs; in-flight documents keep the
// values they started with.
func (w *Writer) UpdateChunking(size, overlap int) {
	if size < 1 || overlap < 0 || overlap >= size {
		w.logger.Warn("ignoring invalid chunking update", zap.Int("size", size), zap.Int("overlap", overlap))
		return
	}
	w.mu.Lock()
	w.size, w.overlap = size, overlap
	w.mu.Unlock()
}

// Chunking reports the current chunking knobs.
func (w *Writer) Chunking() (size, overlap int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size, w.overlap
}

// Index chunks the document, embeds each chunk, and upserts one point per
// chunk. Point ids derive from (content_hash, ordinal), so re-indexing
// identical content overwrites in place. Chunks are written in order; on
// failure the returned error carries how many were written, and the typed
// kind of the stage that failed (embedding or vector store) passes through.
func (w *Writer) Index(ctx context.Context, doc Document) (*Report, error) {
	size, overlap := w.Chunking()
	if doc.ChunkSize > 0 {
		size = doc.ChunkSize
	}
	if doc.ChunkOverlap > 0 && doc.ChunkOverlap < size {
		overlap = doc.ChunkOverlap
	}
	chunks := SplitChunks(doc.Content, size, overlap)
	report := &Report{ChunksTotal: len(chunks)}
	if len(chunks) == 0 {
		return report, nil
	}

	for _, chunk := range chunks {
		vector, err := w.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return report, w.partial(err, report, chunk.Ordinal)
		}

		point := domain.VectorPoint{
			ID:      domain.NewChunkPointID(doc.ContentHash, chunk.Ordinal),
			Vector:  vector,
			Payload: w.payload(doc, chunk),
		}
		if err := w.store.Upsert(ctx, w.collection, []domain.VectorPoint{point}); err != nil {
			return report, w.partial(w.storeError(err), report, chunk.Ordinal)
		}

		report.ChunksWritten++
		report.PointIDs = append(report.PointIDs, point.ID)
		w.metrics.ChunksWritten.Inc()
	}

	return report, nil
}

func (w *Writer) payload(doc Document, chunk domain.Chunk) map[string]any {
	payload := map[string]any{
		"project_name": doc.ProjectName,
		"project_id":   doc.ProjectID,
		"source_path":  doc.SourcePath,
		"language":     doc.Language,
		"entity_type":  doc.EntityType,
		"content_hash": doc.ContentHash,
		"chunk_index":  chunk.Ordinal,
		"content":      chunk.Content,
	}
	if doc.QualityScore != nil {
		payload["quality_score"] = *doc.QualityScore
	}
	return payload
}

// partial annotates a stage failure with the write progress so the caller
// can report counts.
func (w *Writer) partial(err error, report *Report, failedOrdinal int) error {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.NewVectorStoreUnavailable("vector indexing failed", err)
	}
	return appErr.
		WithComponent(component).
		WithDetail("chunks_written", report.ChunksWritten).
		WithDetail("chunks_total", report.ChunksTotal).
		WithDetail("failed_chunk", failedOrdinal)
}

func (w *Writer) storeError(err error) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	return errors.NewVectorStoreUnavailable("vector store upsert failed", err)
}
