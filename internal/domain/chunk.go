package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Chunk is one character window of a document's content.
type Chunk struct {
	Ordinal int    `json:"ordinal"`
	Content string `json:"content"`
}

// NewChunkPointID derives the stable vector-store point id for a chunk.
// Re-indexing identical content overwrites the same points instead of
// accumulating near-duplicates.
func NewChunkPointID(contentHash string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", contentHash, ordinal))).String()
}

// VectorPoint is what the vector writer hands to the store: a point id, the
// embedding, and a payload rich enough for native store filtering.
type VectorPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}
