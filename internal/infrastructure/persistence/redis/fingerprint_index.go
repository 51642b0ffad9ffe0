// Package redis implements the seen-hash index. SET NX makes the
// check-and-record a single atomic round trip, so two concurrent writers of
// the same digest cannot both see "new".
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "fingerprint_index"

// FingerprintIndex is the Redis adapter for ports.FingerprintIndex.
type FingerprintIndex struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Collector
}

var _ ports.FingerprintIndex = (*FingerprintIndex)(nil)

// NewClient builds the Redis client from the fingerprint configuration.
func NewClient(cfg config.Fingerprint) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
}

// NewFingerprintIndex wires the adapter onto an existing client.
func NewFingerprintIndex(client *redis.Client, keyPrefix string, timeout time.Duration, logger *zap.Logger, metrics *observability.Collector) *FingerprintIndex {
	if keyPrefix == "" {
		keyPrefix = "cortex:fp:"
	}
	return &FingerprintIndex{
		client:  client,
		prefix:  keyPrefix,
		timeout: timeout,
		logger:  logger.Named(component),
		metrics: metrics,
	}
}

// MarkSeen records the digest and reports whether it was already present.
// Errors return unwrapped; the stamper owns the degradation policy.
func (f *FingerprintIndex) MarkSeen(ctx context.Context, digest string) (bool, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()

	began := time.Now()
	stored, err := f.client.SetNX(ctx, f.prefix+digest, "1", 0).Result()
	f.metrics.ObserveStore("redis", "mark_seen", time.Since(began), err)
	if err != nil {
		return false, err
	}
	return !stored, nil
}

func (f *FingerprintIndex) Ping(ctx context.Context) error {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()

	if err := f.client.Ping(ctx).Err(); err != nil {
		return errors.NewStampingUnavailable("redis ping failed", err).WithComponent(component)
	}
	return nil
}

// Close releases the client's connection pool.
func (f *FingerprintIndex) Close() error {
	return f.client.Close()
}

func (f *FingerprintIndex) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.timeout)
}
