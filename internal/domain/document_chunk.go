package domain

import "time"

// DocumentChunk is one indexed slice of a document's extracted text.
// Embedding is nil when no embedding provider is configured.
type DocumentChunk struct {
	DocumentID string
	KBID       string
	ChunkIndex int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}
