package domain

import (
	"strings"

	"cortex-backend/pkg/errors"
)

// SearchKind selects which backends a search fans out to.
type SearchKind string

const (
	SearchSemantic       SearchKind = "semantic"
	SearchVector         SearchKind = "vector"
	SearchKnowledgeGraph SearchKind = "knowledge_graph"
	SearchHybrid         SearchKind = "hybrid"
)

// Source names as they appear in sources_queried / failed_sources.
const (
	SourceRAG            = "rag"
	SourceVector         = "vector"
	SourceKnowledgeGraph = "knowledge_graph"
)

// SearchFilters narrows a search. PathGlob is applied client-side after
// retrieval; the rest map onto native store filters.
type SearchFilters struct {
	ProjectName string   `json:"project_name,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	Language    string   `json:"language,omitempty"`
	PathGlob    string   `json:"path_glob,omitempty"`
	EntityKinds []string `json:"entity_kinds,omitempty"`
	MinQuality  *float64 `json:"min_quality,omitempty"`
}

// SearchRequest is the payload of a search-requested event or a synchronous
// search call.
type SearchRequest struct {
	Query          string        `json:"query"`
	Kind           SearchKind    `json:"kind"`
	Filters        SearchFilters `json:"filters"`
	MaxResults     int           `json:"max_results,omitempty"`
	QualityWeight  *float64      `json:"quality_weight,omitempty"`
	IncludeContext bool          `json:"include_context,omitempty"`
	CorrelationID  string        `json:"correlation_id"`
}

// Validate gates a search before fan-out.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.NewInvalidInput("query is required")
	}
	switch r.Kind {
	case SearchSemantic, SearchVector, SearchKnowledgeGraph, SearchHybrid:
	case "":
		return errors.NewInvalidInput("kind is required")
	default:
		return errors.NewInvalidInput("unknown search kind: " + string(r.Kind))
	}
	if r.QualityWeight != nil && (*r.QualityWeight < 0 || *r.QualityWeight > 1) {
		return errors.NewInvalidInput("quality_weight must be in [0, 1]")
	}
	return nil
}

// Sources returns the backend sources this kind fans out to.
func (k SearchKind) Sources() []string {
	switch k {
	case SearchSemantic:
		return []string{SourceRAG}
	case SearchVector:
		return []string{SourceVector}
	case SearchKnowledgeGraph:
		return []string{SourceKnowledgeGraph}
	case SearchHybrid:
		return []string{SourceRAG, SourceVector, SourceKnowledgeGraph}
	default:
		return nil
	}
}

// SearchItem is one ranked hit.
type SearchItem struct {
	SourcePath string         `json:"source_path"`
	Score      float64        `json:"score"`
	Excerpt    string         `json:"excerpt,omitempty"`
	Provenance string         `json:"provenance"`
	Quality    *float64       `json:"quality_score,omitempty"`
	Language   string         `json:"language,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SearchResponse is the payload of a search-completed event.
type SearchResponse struct {
	Items          []SearchItem     `json:"items"`
	SourcesQueried []string         `json:"sources_queried"`
	FailedSources  []string         `json:"failed_sources,omitempty"`
	Timings        map[string]int64 `json:"timings_ms,omitempty"`
	TookMS         int64            `json:"took_ms"`
}
