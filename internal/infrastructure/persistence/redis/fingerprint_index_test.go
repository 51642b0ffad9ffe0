package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

func newTestIndex(t *testing.T) (*FingerprintIndex, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	index := NewFingerprintIndex(client, "cortex:fp:", time.Second,
		zap.NewNop(), observability.NewCollector("test"))
	return index, server
}

func TestMarkSeen(t *testing.T) {
	index, server := newTestIndex(t)
	ctx := context.Background()

	t.Run("FirstSightingIsNew", func(t *testing.T) {
		seen, err := index.MarkSeen(ctx, "blake3:aaaa")
		require.NoError(t, err)
		assert.False(t, seen)
		assert.True(t, server.Exists("cortex:fp:blake3:aaaa"))
	})

	t.Run("SecondSightingIsDuplicate", func(t *testing.T) {
		seen, err := index.MarkSeen(ctx, "blake3:aaaa")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("DistinctDigestsAreIndependent", func(t *testing.T) {
		seen, err := index.MarkSeen(ctx, "blake3:bbbb")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

// Exactly one of N concurrent writers of the same digest may see "new".
func TestMarkSeen_CheckAndRecordIsAtomic(t *testing.T) {
	index, _ := newTestIndex(t)

	const writers = 16
	var newVerdicts atomic.Int32
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			seen, err := index.MarkSeen(context.Background(), "blake3:cccc")
			if assert.NoError(t, err) && !seen {
				newVerdicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), newVerdicts.Load())
}

func TestMarkSeen_ServerDownReturnsError(t *testing.T) {
	index, server := newTestIndex(t)
	server.Close()

	_, err := index.MarkSeen(context.Background(), "blake3:dddd")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	index, server := newTestIndex(t)
	require.NoError(t, index.Ping(context.Background()))

	server.Close()
	err := index.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindStampingUnavailable, errors.KindOf(err))
}

func TestKeyPrefixSeparatesNamespaces(t *testing.T) {
	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := NewFingerprintIndex(client, "a:", 0, zap.NewNop(), observability.NewCollector("test"))
	second := NewFingerprintIndex(client, "b:", 0, zap.NewNop(), observability.NewCollector("test"))

	seen, err := first.MarkSeen(context.Background(), "blake3:eeee")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = second.MarkSeen(context.Background(), "blake3:eeee")
	require.NoError(t, err)
	assert.False(t, seen, "prefixes must not share digests")
}
