package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
)

// Embedder is a deterministic in-memory embedding backend: the same text
// always maps to the same vector. It also tracks in-flight concurrency so
// tests can assert the semaphore cap.
type Embedder struct {
	failer

	dimension int
	// Delay stretches each call so concurrent callers overlap.
	Delay time.Duration

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

// NewEmbedder creates an embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) *Embedder {
	return &Embedder{failer: newFailer(), dimension: dimension}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	current := e.inflight.Add(1)
	for {
		peak := e.maxInflight.Load()
		if current <= peak || e.maxInflight.CompareAndSwap(peak, current) {
			break
		}
	}
	defer e.inflight.Add(-1)

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := e.checkError("Embed"); err != nil {
		return nil, err
	}

	vector := make([]float32, e.dimension)
	for i := range vector {
		sum := xxhash.Sum64String(fmt.Sprintf("%s|%d", text, i))
		vector[i] = float32(sum%2000)/1000.0 - 1.0
	}
	return vector, nil
}

// MaxInflight reports the highest number of concurrent Embed calls observed.
func (e *Embedder) MaxInflight() int {
	return int(e.maxInflight.Load())
}

// Extractor is a scripted extraction backend.
type Extractor struct {
	failer

	mu       sync.Mutex
	byPath   map[string]*ports.RawExtraction
	fallback *ports.RawExtraction
}

// NewExtractor creates an extractor that returns empty extractions until
// scripted.
func NewExtractor() *Extractor {
	return &Extractor{
		failer:   newFailer(),
		byPath:   make(map[string]*ports.RawExtraction),
		fallback: &ports.RawExtraction{},
	}
}

// SetResult scripts the response for one source path.
func (e *Extractor) SetResult(sourcePath string, result *ports.RawExtraction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byPath[sourcePath] = result
}

// SetFallback scripts the response for unscripted paths.
func (e *Extractor) SetFallback(result *ports.RawExtraction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallback = result
}

func (e *Extractor) ExtractDocument(ctx context.Context, sourcePath, content string, opts ports.ExtractionOptions) (*ports.RawExtraction, error) {
	if err := e.checkError("ExtractDocument"); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if result, ok := e.byPath[sourcePath]; ok {
		return result, nil
	}
	return e.fallback, nil
}

// QualityScorer is a scripted quality backend.
type QualityScorer struct {
	failer

	mu         sync.Mutex
	assessment ports.QualityAssessment
}

// NewQualityScorer creates a scorer returning a neutral assessment until
// scripted.
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{
		failer:     newFailer(),
		assessment: ports.QualityAssessment{QualityScore: 0.5, Compliance: map[string]bool{}},
	}
}

// SetAssessment scripts the verdict.
func (q *QualityScorer) SetAssessment(score float64, compliance map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.assessment = ports.QualityAssessment{QualityScore: score, Compliance: compliance}
}

func (q *QualityScorer) AssessCode(ctx context.Context, content, sourcePath, language string) (*ports.QualityAssessment, error) {
	if err := q.checkError("AssessCode"); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	assessment := q.assessment
	return &assessment, nil
}

// RAG is a scripted lexical retrieval backend.
type RAG struct {
	failer

	mu   sync.Mutex
	hits []ports.RAGHit
}

// NewRAG creates a RAG backend returning no hits until scripted.
func NewRAG() *RAG {
	return &RAG{failer: newFailer()}
}

// SetHits scripts the hits returned by every query.
func (r *RAG) SetHits(hits []ports.RAGHit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = hits
}

func (r *RAG) Query(ctx context.Context, query string, filters domain.SearchFilters, limit int) ([]ports.RAGHit, error) {
	if err := r.checkError("Query"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.RAGHit, len(r.hits))
	copy(out, r.hits)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
