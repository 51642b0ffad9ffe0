package embedding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex-backend/internal/infrastructure/persistence/memory"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

func newTestClient(t *testing.T, backend *memory.Embedder, cfg Config) *Client {
	t.Helper()
	if cfg.Dimension == 0 {
		cfg.Dimension = 8
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return NewClient(backend, cfg, zap.NewNop(), observability.NewCollector("test"))
}

func TestEmbed_ReturnsDeterministicVector(t *testing.T) {
	backend := memory.NewEmbedder(8)
	client := newTestClient(t, backend, Config{MaxConcurrent: 3})

	first, err := client.Embed(context.Background(), "cache eviction")
	require.NoError(t, err)
	assert.Len(t, first, 8)

	second, err := client.Embed(context.Background(), "cache eviction")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEmbed_SemaphoreBoundsConcurrency(t *testing.T) {
	backend := memory.NewEmbedder(4)
	backend.Delay = 20 * time.Millisecond
	client := newTestClient(t, backend, Config{Dimension: 4, MaxConcurrent: 3})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Embed(context.Background(), "text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backend.MaxInflight(), 3,
		"no more than the semaphore capacity may be in flight")
}

func TestEmbed_RetriesOnceThenSucceeds(t *testing.T) {
	backend := memory.NewEmbedder(8)
	backend.SetErrorTimes("Embed", errors.NewEmbeddingUnavailable("connection refused", nil), 1)
	client := newTestClient(t, backend, Config{MaxConcurrent: 1})

	vector, err := client.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vector, 8)
	assert.Equal(t, 2, backend.Calls("Embed"))
}

func TestEmbed_TwoAttemptsTotal(t *testing.T) {
	backend := memory.NewEmbedder(8)
	backend.SetError("Embed", errors.NewEmbeddingUnavailable("connection refused", nil))
	client := newTestClient(t, backend, Config{MaxConcurrent: 1})

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, errors.KindEmbeddingUnavailable, errors.KindOf(err))
	assert.Equal(t, 2, backend.Calls("Embed"))
}

func TestEmbed_TimeoutKind(t *testing.T) {
	backend := memory.NewEmbedder(8)
	backend.Delay = 100 * time.Millisecond
	client := newTestClient(t, backend, Config{
		Dimension:      8,
		MaxConcurrent:  1,
		RequestTimeout: 5 * time.Millisecond,
	})

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, errors.KindEmbeddingTimeout, errors.KindOf(err))
}

func TestEmbed_DimensionMismatchIsMalformed(t *testing.T) {
	backend := memory.NewEmbedder(4)
	client := newTestClient(t, backend, Config{Dimension: 8, MaxConcurrent: 1})

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	// Malformed responses travel under the EmbeddingUnavailable kind.
	assert.Equal(t, errors.KindEmbeddingUnavailable, errors.KindOf(err))
	assert.Contains(t, err.Error(), "malformed")
}

func TestNewClient_ClampsCapacity(t *testing.T) {
	backend := memory.NewEmbedder(8)

	low := NewClient(backend, Config{MaxConcurrent: 0}, zap.NewNop(), observability.NewCollector("test"))
	assert.Equal(t, 1, low.cfg.MaxConcurrent)

	high := NewClient(backend, Config{MaxConcurrent: 99}, zap.NewNop(), observability.NewCollector("test"))
	assert.Equal(t, 32, high.cfg.MaxConcurrent)
}
