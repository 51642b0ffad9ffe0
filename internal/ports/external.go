package ports

import (
	"context"

	"cortex-backend/internal/domain"
)

// EmbeddingBackend is the raw embedding provider. The rate-limited client in
// internal/service/embedding wraps it with the semaphore, retry and timeout
// policy; nothing else should call it directly.
type EmbeddingBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ExtractionOptions tunes one extractor call.
type ExtractionOptions struct {
	ExtractCodePatterns           bool   `json:"extract_code_patterns"`
	ExtractDocumentationConcepts  bool   `json:"extract_documentation_concepts"`
	IncludeSemanticAnalysis       bool   `json:"include_semantic_analysis"`
	IncludeRelationshipExtraction bool   `json:"include_relationship_extraction"`
	SemanticContext               string `json:"semantic_context,omitempty"`
}

// RawEntity is an entity as the extractor returned it, before normalization.
type RawEntity struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Description string         `json:"description,omitempty"`
	Confidence  float64        `json:"confidence"`
	LineNumber  int            `json:"line_number,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// RawRelationship is a relationship as the extractor returned it. Endpoints
// may be named by id or by entity name.
type RawRelationship struct {
	ID         string         `json:"id,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	SourceName string         `json:"source_name,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	TargetName string         `json:"target_name,omitempty"`
	Kind       string         `json:"kind"`
	Confidence float64        `json:"confidence"`
	Properties map[string]any `json:"properties,omitempty"`
}

// RawExtraction is the extractor's full response, parsed at the HTTP
// boundary and nowhere else.
type RawExtraction struct {
	Entities      []RawEntity       `json:"entities"`
	Relationships []RawRelationship `json:"relationships"`
	Stats         map[string]any    `json:"stats,omitempty"`
}

// ExtractorBackend is the entity extraction microservice.
type ExtractorBackend interface {
	ExtractDocument(ctx context.Context, sourcePath, content string, opts ExtractionOptions) (*RawExtraction, error)
}

// QualityAssessment is the scorer's verdict for one document.
type QualityAssessment struct {
	QualityScore float64         `json:"quality_score"`
	Compliance   map[string]bool `json:"compliance"`
}

// QualityBackend is the quality assessment microservice. Non-critical:
// callers proceed without a score on failure.
type QualityBackend interface {
	AssessCode(ctx context.Context, content, sourcePath, language string) (*QualityAssessment, error)
}

// RAGHit is one lexical/semantic hit from the RAG service.
type RAGHit struct {
	SourcePath string         `json:"source_path"`
	Score      float64        `json:"score"`
	Excerpt    string         `json:"excerpt,omitempty"`
	Language   string         `json:"language,omitempty"`
	Quality    *float64       `json:"quality_score,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RAGBackend is the lexical retrieval service behind the semantic search
// source.
type RAGBackend interface {
	Query(ctx context.Context, query string, filters domain.SearchFilters, limit int) ([]RAGHit, error)
}
