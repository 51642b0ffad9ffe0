package external

import (
	"context"

	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/ports"
)

// ScorerClient calls the quality assessment sidecar.
type ScorerClient struct {
	serviceClient
}

var _ ports.QualityBackend = (*ScorerClient)(nil)

// NewScorerClient builds the scorer client from configuration.
func NewScorerClient(cfg config.Quality, logger *zap.Logger) *ScorerClient {
	return &ScorerClient{
		serviceClient: newServiceClient("quality_scorer", cfg.ServiceURL, cfg.RequestTimeout, logger),
	}
}

type assessRequest struct {
	Content    string `json:"content"`
	SourcePath string `json:"source_path"`
	Language   string `json:"language,omitempty"`
}

func (c *ScorerClient) AssessCode(ctx context.Context, content, sourcePath, language string) (*ports.QualityAssessment, error) {
	var assessment ports.QualityAssessment
	err := c.postJSON(ctx, "/assess", assessRequest{
		Content:    content,
		SourcePath: sourcePath,
		Language:   language,
	}, &assessment)
	if err != nil {
		return nil, err
	}
	return &assessment, nil
}
