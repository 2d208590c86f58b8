package rag

import (
	"fmt"
	"strings"
)

// Default chunking parameters. 512 characters with a 64-character overlap
// keeps each chunk comfortably inside embedding model token limits while
// preserving context across chunk boundaries.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64
)

// SplitConfig controls how documents are divided into chunks.
type SplitConfig struct {
	// Size is the maximum chunk length in characters (runes). Must be > 0.
	Size int

	// Overlap is how many characters each chunk shares with its predecessor.
	// Must satisfy 0 <= Overlap < Size.
	Overlap int
}

// DefaultSplitConfig returns the standard chunking parameters.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Validate checks the chunking parameters.
// Returns an error wrapping ErrInvalidConfig if they are out of range.
func (c SplitConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d",
			ErrInvalidConfig, c.Size, c.Overlap)
	}
	return nil
}

// Split divides a document into overlapping chunks using a sliding window
// over runes. The split is deterministic: the same content and config always
// produce the same chunks.
//
// Properties:
//   - Every chunk except possibly the last has exactly cfg.Size runes.
//   - Consecutive chunks share exactly cfg.Overlap runes.
//   - Concatenating chunks with the overlap removed reconstructs the document.
//   - The final chunk is never a pure suffix of the previous one.
//
// An empty or whitespace-only document yields no chunks and no error.
func Split(doc Document, cfg SplitConfig) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(doc.Content) == "" {
		return nil, nil
	}

	runes := []rune(doc.Content)
	n := len(runes)

	stride := cfg.Size - cfg.Overlap

	var chunks []Chunk
	for start := 0; start < n; start += stride {
		end := start + cfg.Size
		if end > n {
			end = n
		}

		chunks = append(chunks, Chunk{
			Source:  doc.Source,
			Index:   len(chunks),
			Content: string(runes[start:end]),
		})

		// The window reached the end of the document. Without this check a
		// trailing window of <= Overlap runes would duplicate content already
		// fully covered by the previous chunk.
		if end == n {
			break
		}
	}

	return chunks, nil
}
