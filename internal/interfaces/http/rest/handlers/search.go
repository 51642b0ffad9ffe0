package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/validation"
)

// Searcher fans a query out across the knowledge sources.
type Searcher interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
}

// SearchHandler serves the synchronous search endpoint.
type SearchHandler struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewSearchHandler creates the handler.
func NewSearchHandler(searcher Searcher, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logger}
}

// searchRequest layers transport limits on top of the domain validation. An
// omitted kind defaults to hybrid here; events must always name one.
type searchRequest struct {
	Query          string               `json:"query" validate:"required"`
	Kind           string               `json:"kind" validate:"omitempty,oneof=semantic vector knowledge_graph hybrid"`
	Filters        domain.SearchFilters `json:"filters"`
	MaxResults     int                  `json:"max_results" validate:"omitempty,gte=1,lte=100"`
	QualityWeight  *float64             `json:"quality_weight" validate:"omitempty,gte=0,lte=1"`
	IncludeContext bool                 `json:"include_context"`
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(h.logger, w, errors.NewInvalidInput("invalid request body: "+err.Error()), nil)
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		respondError(h.logger, w, err, nil)
		return
	}

	kind := domain.SearchKind(req.Kind)
	if kind == "" {
		kind = domain.SearchHybrid
	}

	response, err := h.searcher.Search(r.Context(), domain.SearchRequest{
		Query:          req.Query,
		Kind:           kind,
		Filters:        req.Filters,
		MaxResults:     req.MaxResults,
		QualityWeight:  req.QualityWeight,
		IncludeContext: req.IncludeContext,
		CorrelationID:  chimiddleware.GetReqID(r.Context()),
	})
	if err != nil {
		respondError(h.logger, w, err, nil)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, response)
}
