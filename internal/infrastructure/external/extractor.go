package external

import (
	"context"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
)

// ExtractorClient calls the entity extraction sidecar. A 4xx response means
// the extractor refused the document itself, which is terminal; transport
// and 5xx failures stay untyped for the service layer to classify.
type ExtractorClient struct {
	serviceClient
}

var _ ports.ExtractorBackend = (*ExtractorClient)(nil)

// NewExtractorClient builds the extractor client from configuration.
func NewExtractorClient(cfg config.Extraction, logger *zap.Logger) *ExtractorClient {
	return &ExtractorClient{
		serviceClient: newServiceClient("extractor", cfg.ServiceURL, cfg.RequestTimeout, logger),
	}
}

type extractRequest struct {
	SourcePath string                  `json:"source_path"`
	Content    string                  `json:"content"`
	Options    ports.ExtractionOptions `json:"options"`
}

func (c *ExtractorClient) ExtractDocument(ctx context.Context, sourcePath, content string, opts ports.ExtractionOptions) (*ports.RawExtraction, error) {
	var raw ports.RawExtraction
	err := c.postJSON(ctx, "/extract", extractRequest{
		SourcePath: sourcePath,
		Content:    content,
		Options:    opts,
	}, &raw)
	if err != nil {
		var status *statusError
		if stderrors.As(err, &status) && status.Code >= http.StatusBadRequest && status.Code < http.StatusInternalServerError {
			return nil, errors.NewExtractionRejected("extractor rejected the document: " + status.Body).
				WithDetail("status", status.Code)
		}
		return nil, err
	}
	return &raw, nil
}
