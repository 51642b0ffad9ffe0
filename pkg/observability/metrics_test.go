package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCollector_IsolatedRegistries(t *testing.T) {
	// Two collectors must not share a registry, otherwise the second
	// MustRegister call would panic on duplicate registration.
	a := NewCollector("cortex")
	b := NewCollector("cortex")

	require.NotSame(t, a.Registry(), b.Registry())

	a.ChunksWritten.Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(a.ChunksWritten))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.ChunksWritten))
}

func TestCollector_ObserveStore(t *testing.T) {
	c := NewCollector("cortex")

	c.ObserveStore("graph", "merge_entities", 5*time.Millisecond, nil)
	c.ObserveStore("graph", "merge_entities", 5*time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.StoreOperations.WithLabelValues("graph", "merge_entities", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.StoreOperations.WithLabelValues("graph", "merge_entities", "failure")))
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "corr-123")
	assert.Equal(t, "corr-123", CorrelationID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	logger := zap.NewNop()

	// Without a correlation ID the logger passes through untouched.
	assert.Same(t, logger, LoggerFromContext(context.Background(), logger))

	ctx := WithCorrelationID(context.Background(), "corr-456")
	assert.NotSame(t, logger, LoggerFromContext(ctx, logger))
}
