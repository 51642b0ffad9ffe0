// Package quality wraps the quality assessment backend. Assessment is
// advisory: the ingestion pipeline records failures here but never fails a
// document over them.
package quality

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "quality_assessment"

// Assessment is a clamped quality verdict for one document.
type Assessment struct {
	Score      float64
	Compliance map[string]bool
}

// Scorer calls the quality backend with a per-call timeout.
type Scorer struct {
	backend ports.QualityBackend
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewScorer builds a quality scorer. A zero timeout defaults to 10s.
func NewScorer(backend ports.QualityBackend, timeout time.Duration, logger *zap.Logger, metrics *observability.Collector) *Scorer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scorer{
		backend: backend,
		timeout: timeout,
		logger:  logger.Named("quality"),
		metrics: metrics,
	}
}

// Assess scores one document. Scores outside [0, 1] are clamped rather than
// rejected; the backend's compliance flags pass through untouched.
func (s *Scorer) Assess(ctx context.Context, content, sourcePath, language string) (*Assessment, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.backend.AssessCode(callCtx, content, sourcePath, language)
	if err != nil {
		return nil, s.classify(err)
	}

	score := raw.QualityScore
	if clamped := domain.ClampConfidence(score); clamped != score {
		s.logger.Warn("quality score out of range, clamped",
			zap.String("source_path", sourcePath),
			zap.Float64("raw_score", score))
		score = clamped
	}

	return &Assessment{Score: score, Compliance: raw.Compliance}, nil
}

func (s *Scorer) classify(err error) error {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.WithComponent(component)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewInternal("quality assessment timed out", err).WithComponent(component)
	}
	return errors.NewInternal("quality assessment failed", err).WithComponent(component)
}
