// Package search fans a query out across the lexical, vector and graph
// sources, tolerates per-source failures, and merges the survivors into one
// deduplicated, quality-weighted ranking.
package search

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "search_aggregation"

// embedder turns the query text into a vector for the vector source. The
// rate-limited embedding client satisfies it.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the aggregator.
type Config struct {
	Collection string
	// PerSourceTimeout bounds each backend query, default 10s.
	PerSourceTimeout time.Duration
	// DefaultLimit applies when max_results is unset; MaxLimit caps it.
	DefaultLimit int
	MaxLimit     int
	// QualityWeight applies when a request leaves quality_weight unset.
	QualityWeight float64
}

// Aggregator implements the multi-source search operation.
type Aggregator struct {
	rag     ports.RAGBackend
	embed   embedder
	vectors ports.VectorStore
	graph   ports.GraphStore
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Collector

	mu            sync.RWMutex
	qualityWeight float64
}

// New wires the aggregator over its three sources.
func New(rag ports.RAGBackend, embed embedder, vectors ports.VectorStore, graph ports.GraphStore, cfg Config, logger *zap.Logger, metrics *observability.Collector) *Aggregator {
	if cfg.PerSourceTimeout <= 0 {
		cfg.PerSourceTimeout = 10 * time.Second
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &Aggregator{
		rag:           rag,
		embed:         embed,
		vectors:       vectors,
		graph:         graph,
		cfg:           cfg,
		logger:        logger.Named(component),
		metrics:       metrics,
		qualityWeight: domain.ClampConfidence(cfg.QualityWeight),
	}
}

// UpdateQualityWeight swaps the default ranking weight. Values outside
// [0, 1] are clamped. Safe to call while searches are in flight.
func (a *Aggregator) UpdateQualityWeight(weight float64) {
	clamped := domain.ClampConfidence(weight)
	a.mu.Lock()
	a.qualityWeight = clamped
	a.mu.Unlock()
	a.logger.Info("quality weight updated", zap.Float64("quality_weight", clamped))
}

// QualityWeight reports the current default ranking weight.
func (a *Aggregator) QualityWeight() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.qualityWeight
}

type sourceResult struct {
	name   string
	items  []domain.SearchItem
	err    error
	tookMS int64
}

// Search runs one query. At least one source must succeed; a degraded
// response names the sources that did not in failed_sources.
func (a *Aggregator) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var pathFilter *regexp.Regexp
	if req.Filters.PathGlob != "" {
		re, err := globToRegexp(req.Filters.PathGlob)
		if err != nil {
			return nil, err
		}
		pathFilter = re
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = a.cfg.DefaultLimit
	}
	if limit > a.cfg.MaxLimit {
		limit = a.cfg.MaxLimit
	}
	// Over-fetch when a client-side path filter will discard results.
	fetchLimit := limit
	if pathFilter != nil {
		fetchLimit = limit * 3
	}

	sources := req.Kind.Sources()
	a.metrics.SearchRequests.WithLabelValues(string(req.Kind)).Inc()

	results := make([]sourceResult, len(sources))
	var wg sync.WaitGroup
	for i, name := range sources {
		wg.Add(1)
		go func(slot int, source string) {
			defer wg.Done()
			srcCtx, cancel := context.WithTimeout(ctx, a.cfg.PerSourceTimeout)
			defer cancel()

			srcStart := time.Now()
			items, err := a.querySource(srcCtx, source, req, fetchLimit)
			results[slot] = sourceResult{
				name:   source,
				items:  items,
				err:    err,
				tookMS: time.Since(srcStart).Milliseconds(),
			}
		}(i, name)
	}
	wg.Wait()

	response := &domain.SearchResponse{
		SourcesQueried: sources,
		Timings:        make(map[string]int64, len(sources)),
	}
	var merged []domain.SearchItem
	for _, result := range results {
		response.Timings[result.name] = result.tookMS
		if result.err != nil {
			response.FailedSources = append(response.FailedSources, result.name)
			a.metrics.SearchSourceFailures.WithLabelValues(result.name).Inc()
			a.logger.Warn("search source failed",
				zap.String("source", result.name),
				zap.String("kind", string(req.Kind)),
				zap.Error(result.err))
			continue
		}
		merged = append(merged, result.items...)
	}
	if len(response.FailedSources) == len(sources) {
		return nil, errors.NewAllSourcesFailed("every selected search source failed").
			WithComponent(component).
			WithDetail("sources", sources)
	}

	if pathFilter != nil {
		merged = filterByPath(merged, pathFilter)
	}
	merged = dedupeBestScore(merged)
	a.applyQualityWeight(merged, req.QualityWeight)
	sortRanked(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if !req.IncludeContext {
		for i := range merged {
			merged[i].Excerpt = ""
		}
	}

	response.Items = merged
	response.TookMS = time.Since(start).Milliseconds()
	a.metrics.SearchDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
	return response, nil
}

func (a *Aggregator) querySource(ctx context.Context, source string, req domain.SearchRequest, limit int) ([]domain.SearchItem, error) {
	switch source {
	case domain.SourceRAG:
		return a.queryRAG(ctx, req, limit)
	case domain.SourceVector:
		return a.queryVectors(ctx, req, limit)
	case domain.SourceKnowledgeGraph:
		return a.queryGraph(ctx, req, limit)
	default:
		return nil, errors.NewInternal("unknown search source: "+source, nil).WithComponent(component)
	}
}

func (a *Aggregator) queryRAG(ctx context.Context, req domain.SearchRequest, limit int) ([]domain.SearchItem, error) {
	hits, err := a.rag.Query(ctx, req.Query, req.Filters, limit)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SearchItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, domain.SearchItem{
			SourcePath: hit.SourcePath,
			Score:      domain.ClampConfidence(hit.Score),
			Excerpt:    hit.Excerpt,
			Provenance: domain.SourceRAG,
			Quality:    hit.Quality,
			Language:   hit.Language,
		})
	}
	return items, nil
}

func (a *Aggregator) queryVectors(ctx context.Context, req domain.SearchRequest, limit int) ([]domain.SearchItem, error) {
	vector, err := a.embed.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	hits, err := a.vectors.Search(ctx, a.cfg.Collection, vector, vectorFilter(req.Filters), limit)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SearchItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, vectorHitItem(hit))
	}
	return items, nil
}

func (a *Aggregator) queryGraph(ctx context.Context, req domain.SearchRequest, limit int) ([]domain.SearchItem, error) {
	entities, err := a.graph.SearchEntities(ctx, req.Filters.ProjectName, req.Query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SearchItem, 0, len(entities))
	for _, entity := range entities {
		items = append(items, domain.SearchItem{
			SourcePath: entity.SourcePath,
			Score:      domain.ClampConfidence(entity.Confidence),
			Excerpt:    entity.Description,
			Provenance: domain.SourceKnowledgeGraph,
			Metadata: map[string]any{
				"entity_id":   entity.ID,
				"entity_name": entity.Name,
				"entity_kind": string(entity.Kind),
			},
		})
	}
	return items, nil
}

func vectorFilter(filters domain.SearchFilters) ports.VectorFilter {
	return ports.VectorFilter{
		ProjectName: filters.ProjectName,
		ProjectID:   filters.ProjectID,
		Language:    filters.Language,
		EntityKinds: filters.EntityKinds,
		MinQuality:  filters.MinQuality,
	}
}

func vectorHitItem(hit ports.VectorHit) domain.SearchItem {
	item := domain.SearchItem{
		Score:      domain.ClampConfidence(hit.Score),
		Provenance: domain.SourceVector,
		Metadata:   map[string]any{"point_id": hit.ID},
	}
	if v, ok := hit.Payload["source_path"].(string); ok {
		item.SourcePath = v
	}
	if v, ok := hit.Payload["content"].(string); ok {
		item.Excerpt = v
	}
	if v, ok := hit.Payload["language"].(string); ok {
		item.Language = v
	}
	if v, ok := hit.Payload["quality_score"].(float64); ok {
		quality := v
		item.Quality = &quality
	}
	return item
}

func filterByPath(items []domain.SearchItem, re *regexp.Regexp) []domain.SearchItem {
	kept := items[:0]
	for _, item := range items {
		if re.MatchString(item.SourcePath) {
			kept = append(kept, item)
		}
	}
	return kept
}

// dedupeBestScore keeps the highest-scoring instance per source path. Items
// without a source path (possible for graph placeholders) pass through.
func dedupeBestScore(items []domain.SearchItem) []domain.SearchItem {
	best := make(map[string]int, len(items))
	kept := items[:0]
	for _, item := range items {
		if item.SourcePath == "" {
			kept = append(kept, item)
			continue
		}
		if at, seen := best[item.SourcePath]; seen {
			if item.Score > kept[at].Score {
				kept[at] = item
			}
			continue
		}
		best[item.SourcePath] = len(kept)
		kept = append(kept, item)
	}
	return kept
}

// applyQualityWeight folds quality into the score:
// (1-w)*semantic + w*quality, with missing quality counting as zero. The
// request weight overrides the configured default.
func (a *Aggregator) applyQualityWeight(items []domain.SearchItem, override *float64) {
	weight := a.QualityWeight()
	if override != nil {
		weight = domain.ClampConfidence(*override)
	}
	if weight == 0 {
		return
	}
	for i := range items {
		quality := 0.0
		if items[i].Quality != nil {
			quality = *items[i].Quality
		}
		items[i].Score = (1-weight)*items[i].Score + weight*quality
	}
}

func sortRanked(items []domain.SearchItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].SourcePath < items[j].SourcePath
	})
}
