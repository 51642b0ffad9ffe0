package external

import (
	"context"

	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/ports"
)

// EmbeddingProvider calls the embedding sidecar. The rate-limited client in
// internal/service/embedding owns retries and dimension checks; this adapter
// only speaks the wire format.
type EmbeddingProvider struct {
	serviceClient
	model string
}

var _ ports.EmbeddingBackend = (*EmbeddingProvider)(nil)

// NewEmbeddingProvider builds the provider client from configuration.
func NewEmbeddingProvider(cfg config.Embedding, logger *zap.Logger) *EmbeddingProvider {
	return &EmbeddingProvider{
		serviceClient: newServiceClient("embedding_provider", cfg.ProviderURL, cfg.RequestTimeout, logger),
		model:         cfg.Model,
	}
}

type embedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *EmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := p.postJSON(ctx, "/embed", embedRequest{Text: text, Model: p.model}, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}
