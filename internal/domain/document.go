// Package domain holds the records the platform manipulates: indexing
// requests and receipts, content fingerprints, extracted entities and
// relationships, containment nodes, chunks, search shapes and event
// envelopes. Records are immutable once emitted; mutation happens by
// producing a new record.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"cortex-backend/pkg/errors"
)

// IndexRequest is one document submitted for indexing. It arrives as the
// payload of a document-index-requested event or a synchronous index call.
type IndexRequest struct {
	SourcePath    string       `json:"source_path"`
	Content       string       `json:"content"`
	Language      string       `json:"language,omitempty"`
	ProjectName   string       `json:"project_name"`
	RepositoryURL string       `json:"repository_url,omitempty"`
	CommitID      string       `json:"commit_id,omitempty"`
	Options       IndexOptions `json:"options"`
	UserID        string       `json:"user_id,omitempty"`
	CorrelationID string       `json:"correlation_id"`
}

// IndexOptions tunes one indexing run. Zero chunk values mean "use the
// configured defaults".
type IndexOptions struct {
	ForceReindex          bool `json:"force_reindex,omitempty"`
	SkipEntityExtraction  bool `json:"skip_entity_extraction,omitempty"`
	SkipQualityAssessment bool `json:"skip_quality_assessment,omitempty"`
	SkipVectorIndexing    bool `json:"skip_vector_indexing,omitempty"`
	SkipKnowledgeGraph    bool `json:"skip_knowledge_graph,omitempty"`
	ChunkSize             int  `json:"chunk_size,omitempty"`
	ChunkOverlap          int  `json:"chunk_overlap,omitempty"`
}

// Validate gates a request before any side effect happens.
func (r *IndexRequest) Validate() error {
	if strings.TrimSpace(r.SourcePath) == "" {
		return errors.NewInvalidInput("source_path is required")
	}
	if r.Content == "" {
		return errors.NewInvalidInput("content is required")
	}
	if !utf8.ValidString(r.Content) {
		return errors.NewInvalidInput("content must be valid UTF-8")
	}
	if strings.TrimSpace(r.ProjectName) == "" {
		return errors.NewInvalidProject("project_name is required")
	}
	return nil
}

// IndexReceipt is the payload of a document-index-completed event.
type IndexReceipt struct {
	ProjectName        string           `json:"project_name"`
	SourcePath         string           `json:"source_path"`
	ContentHash        string           `json:"content_hash"`
	EntityIDs          []string         `json:"entity_ids"`
	VectorIDs          []string         `json:"vector_ids"`
	EntityCount        int              `json:"entity_count"`
	RelationshipCount  int              `json:"relationship_count"`
	ChunkCount         int              `json:"chunk_count"`
	QualityScore       *float64         `json:"quality_score,omitempty"`
	ComplianceFlags    map[string]bool  `json:"compliance_flags,omitempty"`
	CacheHit           bool             `json:"cache_hit"`
	EnrichmentDeferred bool             `json:"enrichment_deferred,omitempty"`
	ServiceFailures    map[string]int   `json:"service_failures,omitempty"`
	Warnings           []string         `json:"warnings,omitempty"`
	Timings            map[string]int64 `json:"timings_ms,omitempty"`
	ProcessingTimeMS   int64            `json:"processing_time_ms"`
}

// DocumentRecord is the catalog row written for every completed indexing
// run, keyed by (project_name, source_path).
type DocumentRecord struct {
	ProjectName       string    `json:"project_name"`
	SourcePath        string    `json:"source_path"`
	ContentHash       string    `json:"content_hash"`
	Language          string    `json:"language,omitempty"`
	EntityCount       int       `json:"entity_count"`
	RelationshipCount int       `json:"relationship_count"`
	ChunkCount        int       `json:"chunk_count"`
	QualityScore      *float64  `json:"quality_score,omitempty"`
	ProcessingTimeMS  int64     `json:"processing_time_ms"`
	IndexedAt         time.Time `json:"indexed_at"`
}
