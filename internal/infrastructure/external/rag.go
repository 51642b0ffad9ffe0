package external

import (
	"context"

	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
)

// RAGClient calls the lexical retrieval service behind the semantic search
// source.
type RAGClient struct {
	serviceClient
}

var _ ports.RAGBackend = (*RAGClient)(nil)

// NewRAGClient builds the RAG client from the search configuration.
func NewRAGClient(cfg config.Search, logger *zap.Logger) *RAGClient {
	return &RAGClient{
		serviceClient: newServiceClient("rag", cfg.RAGServiceURL, cfg.PerSourceTimeout, logger),
	}
}

type ragQueryRequest struct {
	Query   string               `json:"query"`
	Filters domain.SearchFilters `json:"filters"`
	Limit   int                  `json:"limit"`
}

type ragQueryResponse struct {
	Results []ports.RAGHit `json:"results"`
}

func (c *RAGClient) Query(ctx context.Context, query string, filters domain.SearchFilters, limit int) ([]ports.RAGHit, error) {
	var resp ragQueryResponse
	err := c.postJSON(ctx, "/query", ragQueryRequest{
		Query:   query,
		Filters: filters,
		Limit:   limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}
