package vectorindex

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/persistence/memory"
	"cortex-backend/internal/service/embedding"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const testCollection = "cortex_embeddings"

func newTestWriter(t *testing.T, store *memory.VectorStore, backend *memory.Embedder, size, overlap int) *Writer {
	t.Helper()
	client := embedding.NewClient(backend, embedding.Config{
		Dimension:      8,
		MaxConcurrent:  3,
		RequestTimeout: time.Second,
		RetryBackoff:   time.Millisecond,
	}, zap.NewNop(), observability.NewCollector("test"))
	writer := NewWriter(store, client, testCollection, size, overlap, zap.NewNop(), observability.NewCollector("test"))
	require.NoError(t, writer.EnsureCollection(context.Background()))
	return writer
}

func testDoc(content string) Document {
	quality := 0.8
	return Document{
		ProjectName:  "acme",
		ProjectID:    "proj-1",
		SourcePath:   "svc/auth.py",
		Language:     "python",
		EntityType:   "code_document",
		QualityScore: &quality,
		ContentHash:  "blake3:abc123",
		Content:      content,
	}
}

func TestSplitChunks_Windows(t *testing.T) {
	t.Run("EmptyContentYieldsNoChunks", func(t *testing.T) {
		assert.Empty(t, SplitChunks("", 1000, 200))
	})

	t.Run("ShortContentIsOneChunk", func(t *testing.T) {
		chunks := SplitChunks("short", 1000, 200)
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].Ordinal)
		assert.Equal(t, "short", chunks[0].Content)
	})

	t.Run("WindowsOverlap", func(t *testing.T) {
		content := strings.Repeat("a", 10) + strings.Repeat("b", 10)
		chunks := SplitChunks(content, 10, 4)
		// Step 6: windows at 0, 6, 12; the last one is short.
		require.Len(t, chunks, 3)
		assert.Equal(t, content[0:10], chunks[0].Content)
		assert.Equal(t, content[6:16], chunks[1].Content)
		assert.Equal(t, content[12:20], chunks[2].Content)
		assert.Equal(t, 2, chunks[2].Ordinal)
	})

	t.Run("CountsCharactersNotBytes", func(t *testing.T) {
		// Four 3-byte runes; a byte windower of size 2 would split mid-rune.
		chunks := SplitChunks("日本語文", 2, 0)
		require.Len(t, chunks, 2)
		assert.Equal(t, "日本", chunks[0].Content)
		assert.Equal(t, "語文", chunks[1].Content)
	})

	t.Run("ExactMultipleHasNoEmptyTail", func(t *testing.T) {
		chunks := SplitChunks(strings.Repeat("x", 20), 10, 0)
		require.Len(t, chunks, 2)
	})
}

func TestIndex_WritesOnePointPerChunk(t *testing.T) {
	store := memory.NewVectorStore()
	writer := newTestWriter(t, store, memory.NewEmbedder(8), 10, 2)

	report, err := writer.Index(context.Background(), testDoc(strings.Repeat("a", 25)))
	require.NoError(t, err)

	assert.Equal(t, report.ChunksTotal, report.ChunksWritten)
	assert.Equal(t, len(report.PointIDs), store.PointCount(testCollection))

	point, ok := store.Point(testCollection, report.PointIDs[0])
	require.True(t, ok)
	assert.Equal(t, "acme", point.Payload["project_name"])
	assert.Equal(t, "proj-1", point.Payload["project_id"])
	assert.Equal(t, "svc/auth.py", point.Payload["source_path"])
	assert.Equal(t, "python", point.Payload["language"])
	assert.Equal(t, "code_document", point.Payload["entity_type"])
	assert.Equal(t, 0.8, point.Payload["quality_score"])
	assert.Equal(t, "blake3:abc123", point.Payload["content_hash"])
	assert.Equal(t, 0, point.Payload["chunk_index"])
	assert.NotEmpty(t, point.Payload["content"])
	assert.Len(t, point.Vector, 8)
}

func TestIndex_EmptyContentSucceedsWithZeroChunks(t *testing.T) {
	store := memory.NewVectorStore()
	writer := newTestWriter(t, store, memory.NewEmbedder(8), 1000, 200)

	report, err := writer.Index(context.Background(), testDoc(""))
	require.NoError(t, err)
	assert.Zero(t, report.ChunksTotal)
	assert.Zero(t, report.ChunksWritten)
	assert.Zero(t, store.PointCount(testCollection))
}

func TestIndex_ReindexingOverwritesInPlace(t *testing.T) {
	store := memory.NewVectorStore()
	writer := newTestWriter(t, store, memory.NewEmbedder(8), 10, 2)
	doc := testDoc(strings.Repeat("a", 25))

	first, err := writer.Index(context.Background(), doc)
	require.NoError(t, err)
	second, err := writer.Index(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, first.PointIDs, second.PointIDs, "identical content maps to identical point ids")
	assert.Equal(t, len(first.PointIDs), store.PointCount(testCollection), "re-index must not accumulate points")
}

func TestIndex_PointIDsAreDeterministic(t *testing.T) {
	id := domain.NewChunkPointID("blake3:abc123", 0)
	assert.Equal(t, id, domain.NewChunkPointID("blake3:abc123", 0))
	assert.NotEqual(t, id, domain.NewChunkPointID("blake3:abc123", 1))
	assert.NotEqual(t, id, domain.NewChunkPointID("blake3:other", 0))
}

func TestIndex_PartialFailureReportsWrittenPrefix(t *testing.T) {
	store := memory.NewVectorStore()
	writer := newTestWriter(t, store, memory.NewEmbedder(8), 10, 0)
	// 3 chunks; the first upsert succeeds, the rest fail.
	store.SetErrorAfter("Upsert", errors.NewVectorStoreUnavailable("qdrant down", nil), 1)

	report, err := writer.Index(context.Background(), testDoc(strings.Repeat("a", 30)))
	require.Error(t, err)
	assert.Equal(t, errors.KindVectorStoreUnavailable, errors.KindOf(err))
	assert.Equal(t, 3, report.ChunksTotal)
	assert.Equal(t, 1, report.ChunksWritten, "the written prefix before the failure")
	assert.Equal(t, 1, store.PointCount(testCollection))

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 1, appErr.Details["chunks_written"])
	assert.Equal(t, 3, appErr.Details["chunks_total"])
	assert.Equal(t, 1, appErr.Details["failed_chunk"])
}

func TestIndex_EmbeddingFailureKindPassesThrough(t *testing.T) {
	store := memory.NewVectorStore()
	backend := memory.NewEmbedder(8)
	writer := newTestWriter(t, store, backend, 10, 0)

	// Both attempts of every Embed call fail.
	backend.SetError("Embed", assert.AnError)

	report, err := writer.Index(context.Background(), testDoc(strings.Repeat("a", 30)))
	require.Error(t, err)
	assert.Equal(t, errors.KindEmbeddingUnavailable, errors.KindOf(err))
	assert.Zero(t, report.ChunksWritten)
	assert.Zero(t, store.PointCount(testCollection), "no point may be written for a chunk that failed to embed")
}

func TestUpdateChunking_SwapsKnobs(t *testing.T) {
	writer := newTestWriter(t, memory.NewVectorStore(), memory.NewEmbedder(8), 1000, 200)

	writer.UpdateChunking(500, 50)
	size, overlap := writer.Chunking()
	assert.Equal(t, 500, size)
	assert.Equal(t, 50, overlap)

	// Invalid updates are ignored.
	writer.UpdateChunking(100, 100)
	size, overlap = writer.Chunking()
	assert.Equal(t, 500, size)
	assert.Equal(t, 50, overlap)
}
