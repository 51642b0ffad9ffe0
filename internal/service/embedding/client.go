// Package embedding provides the rate-limited client in front of the external
// embedding provider. Every embedding call in the process goes through one
// Client, whose weighted semaphore bounds the number of in-flight provider
// calls: bulk indexing stalls at admission instead of piling requests up
// inside the provider.
package embedding

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "embedding"

// Config tunes one Client.
type Config struct {
	// Dimension is the vector size the provider is expected to return.
	Dimension int
	// MaxConcurrent is the semaphore capacity. Callers beyond it wait.
	MaxConcurrent int
	// RequestTimeout is the per-attempt budget.
	RequestTimeout time.Duration
	// RetryBackoff is the pause between the two attempts.
	RetryBackoff time.Duration
}

// Client is the semaphore-gated embedding client.
type Client struct {
	backend ports.EmbeddingBackend
	sem     *semaphore.Weighted
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewClient builds the process-wide embedding client. MaxConcurrent is
// clamped to [1, 32]; RequestTimeout defaults to 60s and RetryBackoff to
// 500ms when zero.
func NewClient(backend ports.EmbeddingBackend, cfg Config, logger *zap.Logger, metrics *observability.Collector) *Client {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxConcurrent > 32 {
		cfg.MaxConcurrent = 32
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	return &Client{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:     cfg,
		logger:  logger.Named(component),
		metrics: metrics,
	}
}

// Embed returns the vector for text. The call holds one semaphore slot across
// both attempts, so concurrent provider calls never exceed the configured
// capacity. On final failure the typed error is returned; callers decide
// whether to proceed without an embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.NewEmbeddingUnavailable("cancelled while waiting for an embedding slot", err)
	}
	defer c.sem.Release(1)

	c.metrics.EmbeddingInflight.Inc()
	defer c.metrics.EmbeddingInflight.Dec()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, c.classify(ctx.Err())
			}
		}

		vector, err := c.attempt(ctx, text)
		if err == nil {
			c.metrics.EmbeddingRequests.WithLabelValues("success").Inc()
			return vector, nil
		}

		lastErr = err
		c.metrics.EmbeddingRequests.WithLabelValues("failure").Inc()
		c.logger.Warn("embedding attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		// The caller going away is not worth a second attempt.
		if ctx.Err() != nil {
			break
		}
	}

	return nil, c.classify(lastErr)
}

// Dimension reports the configured vector size.
func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

func (c *Client) attempt(ctx context.Context, text string) ([]float32, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	vector, err := c.backend.Embed(attemptCtx, text)
	c.metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if len(vector) == 0 {
		return nil, errors.NewEmbeddingMalformed("empty vector")
	}
	if c.cfg.Dimension > 0 && len(vector) != c.cfg.Dimension {
		return nil, errors.NewEmbeddingMalformed("unexpected dimension").
			WithDetail("want", c.cfg.Dimension).
			WithDetail("got", len(vector))
	}
	return vector, nil
}

// classify folds transport-level failures into the closed error set. Typed
// errors from the backend pass through; deadline expiry becomes
// EmbeddingTimeout, everything else EmbeddingUnavailable.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.WithComponent(component)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewEmbeddingTimeout("embedding call exceeded its budget", err).WithComponent(component)
	}
	return errors.NewEmbeddingUnavailable("embedding provider call failed", err).WithComponent(component)
}
