// Package vectorindex chunks document content, embeds each chunk through the
// rate-limited embedding client, and writes the points to the vector store.
package vectorindex

import "cortex-backend/internal/domain"

// SplitChunks windows content into chunks of size characters, each window
// starting size-overlap characters after the previous one. Windows count
// characters, not bytes, so multi-byte text never splits mid-rune. Empty
// content yields no chunks.
func SplitChunks(content string, size, overlap int) []domain.Chunk {
	if content == "" {
		return nil
	}
	if size < 1 {
		size = 1
	}
	step := size - overlap
	if step < 1 {
		step = size
	}

	runes := []rune(content)
	var chunks []domain.Chunk
	for start, ordinal := 0, 0; start < len(runes); start, ordinal = start+step, ordinal+1 {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, domain.Chunk{Ordinal: ordinal, Content: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
