// Package orchestrator runs the indexing pipeline: validate, stamp, enrich
// (extract + assess in parallel), then write vectors and graph in parallel.
// For every request it produces exactly one receipt or one typed error;
// the event layer in events.go turns that into exactly one response event.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/concurrency"
	"cortex-backend/internal/ports"
	"cortex-backend/internal/service/extraction"
	"cortex-backend/internal/service/graphindex"
	"cortex-backend/internal/service/quality"
	"cortex-backend/internal/service/vectorindex"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

// Stamper is the fingerprinting stage.
type Stamper interface {
	Stamp(ctx context.Context, content, sourcePath string) (domain.Fingerprint, error)
}

// Extractor is the entity extraction stage.
type Extractor interface {
	Extract(ctx context.Context, projectName, sourcePath, content string, opts ports.ExtractionOptions) (*extraction.Extraction, error)
}

// Scorer is the quality assessment stage.
type Scorer interface {
	Assess(ctx context.Context, content, sourcePath, language string) (*quality.Assessment, error)
}

// VectorWriter is the chunk-embed-upsert stage.
type VectorWriter interface {
	Index(ctx context.Context, doc vectorindex.Document) (*vectorindex.Report, error)
}

// GraphWriter is the graph persistence stage plus tree ingestion.
type GraphWriter interface {
	Write(ctx context.Context, doc graphindex.Document, entities []domain.Entity, relationships []domain.Relationship) (*graphindex.Report, error)
	IngestTree(ctx context.Context, req domain.TreeIndexRequest) (*graphindex.TreeReport, error)
}

// Config tunes the pipeline.
type Config struct {
	// SourceComponent stamps outgoing envelopes.
	SourceComponent string
	// SoftBudget is logged when exceeded; the request continues.
	SoftBudget time.Duration
	// HardBudget cancels the request and fails it.
	HardBudget time.Duration
	// SkipEnrichment turns stages 2 and 3 off globally.
	SkipEnrichment bool
	// AsyncEnrichment hands stages 2 and 3 to the worker pool; the completed
	// event is emitted immediately with enrichment_deferred set.
	AsyncEnrichment bool
}

// Orchestrator drives the pipeline. One instance serves all requests;
// per-request state lives on the stack of each Run call.
type Orchestrator struct {
	stamper   Stamper
	extractor Extractor
	scorer    Scorer
	vectors   VectorWriter
	graphs    GraphWriter
	catalog   ports.MetadataStore
	bus       ports.EventBus
	pool      *concurrency.WorkerPool
	cfg       Config
	logger    *zap.Logger
	metrics   *observability.Collector
}

// New wires the orchestrator. Budgets default to 60s soft / 300s hard. A nil
// pool makes deferred and bulk work run inline instead.
func New(
	stamper Stamper,
	extractor Extractor,
	scorer Scorer,
	vectors VectorWriter,
	graphs GraphWriter,
	catalog ports.MetadataStore,
	bus ports.EventBus,
	pool *concurrency.WorkerPool,
	cfg Config,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Orchestrator {
	if cfg.SoftBudget <= 0 {
		cfg.SoftBudget = 60 * time.Second
	}
	if cfg.HardBudget <= 0 {
		cfg.HardBudget = 300 * time.Second
	}
	if cfg.SourceComponent == "" {
		cfg.SourceComponent = "cortex-backend"
	}
	return &Orchestrator{
		stamper:   stamper,
		extractor: extractor,
		scorer:    scorer,
		vectors:   vectors,
		graphs:    graphs,
		catalog:   catalog,
		bus:       bus,
		pool:      pool,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		metrics:   metrics,
	}
}

// Run indexes one document. It returns the receipt on success; on failure it
// returns the typed error plus whatever partial receipt had accumulated. The
// caller decides how to surface both (event or HTTP response).
func (o *Orchestrator) Run(ctx context.Context, req domain.IndexRequest) (*domain.IndexReceipt, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.HardBudget)
	defer cancel()

	if err := req.Validate(); err != nil {
		o.metrics.IndexRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}

	receipt := &domain.IndexReceipt{
		ProjectName:     req.ProjectName,
		SourcePath:      req.SourcePath,
		ServiceFailures: map[string]int{},
		Timings:         map[string]int64{},
	}

	// Stage 1: stamping. The only critical stage.
	stampStart := time.Now()
	fingerprint, err := o.stamper.Stamp(ctx, req.Content, req.SourcePath)
	receipt.Timings["metadata_stamping_ms"] = time.Since(stampStart).Milliseconds()
	o.metrics.ObserveStage("stamping", time.Since(stampStart))
	if err != nil {
		o.metrics.IndexRequests.WithLabelValues("failed").Inc()
		receipt.ProcessingTimeMS = time.Since(start).Milliseconds()
		return receipt, err
	}
	receipt.ContentHash = fingerprint.Digest
	if fingerprint.DegradedWarning != "" {
		receipt.Warnings = append(receipt.Warnings, fingerprint.DegradedWarning)
	}

	if fingerprint.Verdict == domain.VerdictDuplicate && !req.Options.ForceReindex {
		receipt.CacheHit = true
		receipt.EntityIDs = []string{}
		receipt.VectorIDs = []string{}
		receipt.ProcessingTimeMS = time.Since(start).Milliseconds()
		o.metrics.IndexRequests.WithLabelValues("cache_hit").Inc()
		o.logger.Debug("duplicate content short-circuited",
			zap.String("source_path", req.SourcePath),
			zap.String("content_hash", fingerprint.Digest))
		return receipt, nil
	}

	if o.cfg.SkipEnrichment {
		receipt.ProcessingTimeMS = time.Since(start).Milliseconds()
		o.metrics.IndexRequests.WithLabelValues("completed").Inc()
		o.writeCatalog(ctx, req, receipt)
		return receipt, nil
	}

	if o.cfg.AsyncEnrichment && o.pool != nil {
		if deferred := o.scheduleEnrichment(ctx, req, fingerprint); deferred {
			receipt.EnrichmentDeferred = true
			receipt.EntityIDs = []string{}
			receipt.VectorIDs = []string{}
			receipt.ProcessingTimeMS = time.Since(start).Milliseconds()
			o.metrics.IndexRequests.WithLabelValues("deferred").Inc()
			return receipt, nil
		}
		receipt.Warnings = append(receipt.Warnings, "async enrichment unavailable, ran inline")
	}

	if err := o.enrich(ctx, req, fingerprint, receipt, start); err != nil {
		o.metrics.IndexRequests.WithLabelValues("failed").Inc()
		receipt.ProcessingTimeMS = time.Since(start).Milliseconds()
		return receipt, err
	}

	receipt.ProcessingTimeMS = time.Since(start).Milliseconds()
	o.metrics.IndexRequests.WithLabelValues("completed").Inc()
	o.writeCatalog(ctx, req, receipt)

	o.logger.Info("document indexed",
		zap.String("project", req.ProjectName),
		zap.String("source_path", req.SourcePath),
		zap.Int("entities", receipt.EntityCount),
		zap.Int("chunks", receipt.ChunkCount),
		zap.Int64("elapsed_ms", receipt.ProcessingTimeMS))
	return receipt, nil
}

// enrich runs stages 2 and 3 into the receipt. It returns an error only when
// the request was cancelled (hard budget or caller); per-service failures are
// recorded and swallowed.
func (o *Orchestrator) enrich(ctx context.Context, req domain.IndexRequest, fingerprint domain.Fingerprint, receipt *domain.IndexReceipt, start time.Time) error {
	extractionResult, assessment := o.runEnrichmentStage(ctx, req, receipt)

	if budgetErr := o.checkBudgets(ctx, req, start); budgetErr != nil {
		return budgetErr
	}

	if assessment != nil {
		receipt.QualityScore = &assessment.Score
		receipt.ComplianceFlags = assessment.Compliance
	}

	o.runPersistenceStage(ctx, req, fingerprint, extractionResult, assessment, receipt)

	if budgetErr := o.checkBudgets(ctx, req, start); budgetErr != nil {
		return budgetErr
	}
	return nil
}

// runEnrichmentStage runs extraction and quality assessment concurrently.
// Results come back through goroutine-local slots; the receipt is only
// touched after both goroutines joined.
func (o *Orchestrator) runEnrichmentStage(ctx context.Context, req domain.IndexRequest, receipt *domain.IndexReceipt) (*extraction.Extraction, *quality.Assessment) {
	var (
		wg               sync.WaitGroup
		extractionResult *extraction.Extraction
		extractionErr    error
		extractionMS     int64
		assessment       *quality.Assessment
		assessmentErr    error
		assessmentMS     int64
	)

	if !req.Options.SkipEntityExtraction {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stageStart := time.Now()
			extractionResult, extractionErr = o.extractor.Extract(ctx, req.ProjectName, req.SourcePath, req.Content, extractionOptions(req))
			extractionMS = time.Since(stageStart).Milliseconds()
			o.metrics.ObserveStage("extraction", time.Since(stageStart))
		}()
	}

	if !req.Options.SkipQualityAssessment {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stageStart := time.Now()
			assessment, assessmentErr = o.scorer.Assess(ctx, req.Content, req.SourcePath, req.Language)
			assessmentMS = time.Since(stageStart).Milliseconds()
			o.metrics.ObserveStage("quality", time.Since(stageStart))
		}()
	}

	wg.Wait()

	if !req.Options.SkipEntityExtraction {
		receipt.Timings["entity_extraction_ms"] = extractionMS
		if extractionErr != nil {
			receipt.ServiceFailures["entity_extraction"]++
			o.logger.Warn("extraction failed, continuing degraded",
				zap.String("source_path", req.SourcePath), zap.Error(extractionErr))
			extractionResult = nil
		} else if extractionResult != nil {
			receipt.EntityCount = len(extractionResult.Entities)
			receipt.RelationshipCount = len(extractionResult.Relationships)
			receipt.Warnings = append(receipt.Warnings, extractionResult.Warnings...)
		}
	}
	if !req.Options.SkipQualityAssessment {
		receipt.Timings["quality_assessment_ms"] = assessmentMS
		if assessmentErr != nil {
			receipt.ServiceFailures["quality_assessment"]++
			o.logger.Warn("quality assessment failed, continuing degraded",
				zap.String("source_path", req.SourcePath), zap.Error(assessmentErr))
			assessment = nil
		}
	}

	return extractionResult, assessment
}

// runPersistenceStage writes vectors and graph concurrently. Both writes are
// gated on extraction having succeeded: without entities there is nothing to
// tag chunks with and nothing to merge into the graph.
func (o *Orchestrator) runPersistenceStage(ctx context.Context, req domain.IndexRequest, fingerprint domain.Fingerprint, extractionResult *extraction.Extraction, assessment *quality.Assessment, receipt *domain.IndexReceipt) {
	if extractionResult == nil {
		return
	}

	var (
		wg           sync.WaitGroup
		vectorReport *vectorindex.Report
		vectorErr    error
		vectorMS     int64
		graphReport  *graphindex.Report
		graphErr     error
		graphMS      int64
	)

	if !req.Options.SkipVectorIndexing {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stageStart := time.Now()
			vectorReport, vectorErr = o.vectors.Index(ctx, o.vectorDocument(req, fingerprint, assessment))
			vectorMS = time.Since(stageStart).Milliseconds()
			o.metrics.ObserveStage("vector_indexing", time.Since(stageStart))
		}()
	}

	if !req.Options.SkipKnowledgeGraph {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stageStart := time.Now()
			graphReport, graphErr = o.graphs.Write(ctx, graphindex.Document{
				ProjectName: req.ProjectName,
				SourcePath:  req.SourcePath,
				Language:    req.Language,
				ContentHash: fingerprint.Digest,
			}, extractionResult.Entities, extractionResult.Relationships)
			graphMS = time.Since(stageStart).Milliseconds()
			o.metrics.ObserveStage("knowledge_graph", time.Since(stageStart))
		}()
	}

	wg.Wait()

	if !req.Options.SkipVectorIndexing {
		receipt.Timings["vector_indexing_ms"] = vectorMS
		if vectorReport != nil {
			receipt.VectorIDs = vectorReport.PointIDs
			receipt.ChunkCount = vectorReport.ChunksWritten
		}
		if vectorErr != nil {
			receipt.ServiceFailures["vector_indexing"]++
			o.logger.Warn("vector indexing failed, continuing degraded",
				zap.String("source_path", req.SourcePath),
				zap.Int("chunks_written", receipt.ChunkCount),
				zap.Error(vectorErr))
		}
	}

	if !req.Options.SkipKnowledgeGraph {
		receipt.Timings["knowledge_graph_ms"] = graphMS
		if graphErr != nil {
			receipt.ServiceFailures["knowledge_graph"]++
			o.logger.Warn("graph write failed, continuing degraded",
				zap.String("source_path", req.SourcePath), zap.Error(graphErr))
		} else if graphReport != nil {
			receipt.EntityIDs = entityIDList(extractionResult.Entities)
			receipt.Warnings = append(receipt.Warnings, graphReport.Warnings...)
		}
	}
}

// checkBudgets enforces the hard budget and logs the soft one. The soft
// budget never fails a request: partial results are worth keeping.
func (o *Orchestrator) checkBudgets(ctx context.Context, req domain.IndexRequest, start time.Time) error {
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		return errors.NewInternal(
			fmt.Sprintf("indexing cancelled after %s (hard budget %s)", elapsed.Round(time.Millisecond), o.cfg.HardBudget),
			ctx.Err(),
		).WithComponent("orchestrator")
	}
	if elapsed > o.cfg.SoftBudget {
		o.logger.Warn("indexing exceeded soft budget, continuing",
			zap.String("source_path", req.SourcePath),
			zap.Duration("elapsed", elapsed),
			zap.Duration("soft_budget", o.cfg.SoftBudget))
	}
	return nil
}

// scheduleEnrichment queues stages 2-3 onto the worker pool. Reports false
// when the task could not be queued so the caller can fall back to inline.
func (o *Orchestrator) scheduleEnrichment(ctx context.Context, req domain.IndexRequest, fingerprint domain.Fingerprint) bool {
	task := concurrency.Task{
		ID: "enrich:" + req.ProjectName + "/" + req.SourcePath,
		Execute: func(taskCtx context.Context) error {
			runCtx, cancel := context.WithTimeout(taskCtx, o.cfg.HardBudget)
			defer cancel()
			start := time.Now()

			deferred := &domain.IndexReceipt{
				ProjectName:     req.ProjectName,
				SourcePath:      req.SourcePath,
				ContentHash:     fingerprint.Digest,
				ServiceFailures: map[string]int{},
				Timings:         map[string]int64{},
			}
			if err := o.enrich(runCtx, req, fingerprint, deferred, start); err != nil {
				o.logger.Error("deferred enrichment failed",
					zap.String("source_path", req.SourcePath), zap.Error(err))
				return err
			}
			deferred.ProcessingTimeMS = time.Since(start).Milliseconds()
			o.writeCatalog(runCtx, req, deferred)
			o.logger.Info("deferred enrichment finished",
				zap.String("project", req.ProjectName),
				zap.String("source_path", req.SourcePath),
				zap.Int("entities", deferred.EntityCount),
				zap.Int("chunks", deferred.ChunkCount))
			return nil
		},
	}
	if err := o.pool.Submit(ctx, task); err != nil {
		o.logger.Warn("could not queue deferred enrichment", zap.Error(err))
		return false
	}
	return true
}

// writeCatalog records the receipt row. The catalog is bookkeeping: a failed
// write degrades observability, not the indexing outcome.
func (o *Orchestrator) writeCatalog(ctx context.Context, req domain.IndexRequest, receipt *domain.IndexReceipt) {
	record := domain.DocumentRecord{
		ProjectName:       req.ProjectName,
		SourcePath:        req.SourcePath,
		ContentHash:       receipt.ContentHash,
		Language:          req.Language,
		EntityCount:       receipt.EntityCount,
		RelationshipCount: receipt.RelationshipCount,
		ChunkCount:        receipt.ChunkCount,
		QualityScore:      receipt.QualityScore,
		ProcessingTimeMS:  receipt.ProcessingTimeMS,
		IndexedAt:         time.Now().UTC(),
	}
	if err := o.catalog.UpsertDocument(ctx, record); err != nil {
		o.logger.Warn("catalog write failed",
			zap.String("project", req.ProjectName),
			zap.String("source_path", req.SourcePath),
			zap.Error(err))
	}
}

func (o *Orchestrator) vectorDocument(req domain.IndexRequest, fingerprint domain.Fingerprint, assessment *quality.Assessment) vectorindex.Document {
	doc := vectorindex.Document{
		ProjectName:  req.ProjectName,
		ProjectID:    req.RepositoryURL,
		SourcePath:   req.SourcePath,
		Language:     req.Language,
		EntityType:   chunkEntityType(req.Language),
		ContentHash:  fingerprint.Digest,
		Content:      req.Content,
		ChunkSize:    req.Options.ChunkSize,
		ChunkOverlap: req.Options.ChunkOverlap,
	}
	if assessment != nil {
		doc.QualityScore = &assessment.Score
	}
	return doc
}

// chunkEntityType tags chunk payloads so entity-kind filters can include or
// exclude raw content chunks.
func chunkEntityType(language string) string {
	if language == "" {
		return "doc_chunk"
	}
	return "code_chunk"
}

func extractionOptions(req domain.IndexRequest) ports.ExtractionOptions {
	return ports.ExtractionOptions{
		ExtractCodePatterns:           true,
		ExtractDocumentationConcepts:  true,
		IncludeSemanticAnalysis:       true,
		IncludeRelationshipExtraction: true,
		SemanticContext:               req.RepositoryURL,
	}
}

func entityIDList(entities []domain.Entity) []string {
	ids := make([]string, len(entities))
	for i, entity := range entities {
		ids[i] = entity.ID
	}
	return ids
}
