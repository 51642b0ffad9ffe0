package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/pkg/errors"
)

// Indexer runs one indexing request to completion.
type Indexer interface {
	Run(ctx context.Context, req domain.IndexRequest) (*domain.IndexReceipt, error)
}

// IndexHandler serves the synchronous indexing endpoint. The event transport
// is the primary ingestion path; this endpoint exists for tooling, backfills
// and tests.
type IndexHandler struct {
	indexer Indexer
	logger  *zap.Logger
}

// NewIndexHandler creates the handler.
func NewIndexHandler(indexer Indexer, logger *zap.Logger) *IndexHandler {
	return &IndexHandler{indexer: indexer, logger: logger}
}

// Index handles POST /api/v1/index. The body is the same request shape the
// document-index-requested event carries.
func (h *IndexHandler) Index(w http.ResponseWriter, r *http.Request) {
	var req domain.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(h.logger, w, errors.NewInvalidInput("invalid request body: "+err.Error()), nil)
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = chimiddleware.GetReqID(r.Context())
	}

	receipt, err := h.indexer.Run(r.Context(), req)
	if err != nil {
		// Run hands back whatever partial receipt accumulated before the
		// failure; surface it the way a failed event would.
		var partial any
		if receipt != nil {
			partial = receipt
		}
		respondError(h.logger, w, err, partial)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, receipt)
}
