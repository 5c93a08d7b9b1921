package service

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how extracted document text is split for indexing.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	MaxChunks int
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  1500,
		MinChars:  500,
		Overlap:   150,
		MaxChunks: 500,
	}
}

// chunkText splits text into overlapping windows of at most MaxChars runes.
// A window ends at the last paragraph break after MinChars, else at the last
// whitespace, else at MaxChars.
func chunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []string{clean}
	}

	chunks := make([]string, 0, len(runes)/cfg.MaxChars+1)
	start := 0
	for start < len(runes) {
		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			break
		}

		end := min(start+cfg.MaxChars, len(runes))
		if end < len(runes) {
			end = cutPoint(runes, start, end, cfg.MinChars)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}

		next := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			next = end - cfg.Overlap
		}
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

func cutPoint(runes []rune, start, end, minChars int) int {
	floor := start + minChars
	if floor > end {
		floor = start
	}
	for i := end; i > floor+1; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
