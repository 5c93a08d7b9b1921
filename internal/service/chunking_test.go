package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_Empty(t *testing.T) {
	assert.Nil(t, chunkText("   \n ", DefaultChunkConfig()))
}

func TestChunkText_ShortTextIsOneChunk(t *testing.T) {
	assert.Equal(t, []string{"hello"}, chunkText("  hello  ", DefaultChunkConfig()))
}

func TestChunkText_PrefersParagraphBreaks(t *testing.T) {
	cfg := ChunkConfig{MaxChars: 40, MinChars: 10, Overlap: 0}
	text := "first paragraph here\n\nsecond paragraph is longer than the rest"

	chunks := chunkText(text, cfg)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "first paragraph here", chunks[0])
}

func TestChunkText_RespectsMaxCharsAndLimit(t *testing.T) {
	cfg := ChunkConfig{MaxChars: 20, MinChars: 5, Overlap: 5, MaxChunks: 3}
	text := strings.Repeat("word ", 100)

	chunks := chunkText(text, cfg)

	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 20)
	}
}

func TestChunkText_HardCutWithoutWhitespace(t *testing.T) {
	cfg := ChunkConfig{MaxChars: 10, MinChars: 5}
	chunks := chunkText(strings.Repeat("x", 25), cfg)

	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}
