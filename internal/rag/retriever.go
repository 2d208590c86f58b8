package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/groundchat/groundchat/internal/vectorstore"
)

// Retrieval bounds. Requests outside [MinTopK, MaxTopK] are rejected with
// ErrInvalidConfig before any embedding or search call is made.
const (
	MinTopK     = 1
	MaxTopK     = 20
	DefaultTopK = 5
)

// Retriever embeds a query and returns the most similar stored passages.
type Retriever struct {
	store    vectorstore.Store
	embedder Embedder
	logger   *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(store vectorstore.Store, embedder Embedder, logger *slog.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}, nil
}

// Retrieve returns up to k passages ordered by descending similarity.
// k must be within [MinTopK, MaxTopK]; anything else returns ErrInvalidConfig
// without touching the embedding service or the store.
// An empty index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if k < MinTopK || k > MaxTopK {
		return nil, fmt.Errorf("%w: top-k must be between %d and %d, got %d",
			ErrInvalidConfig, MinTopK, MaxTopK, k)
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors, want 1", len(vectors))
	}

	matches, err := r.store.Search(ctx, vectors[0], k)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("searching passages: %w: %w", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("searching passages: %w", err)
	}

	passages := make([]Passage, len(matches))
	for i, m := range matches {
		passages[i] = Passage{
			ID:         m.ID,
			Source:     m.Source,
			Content:    m.Content,
			Metadata:   m.Metadata,
			Similarity: m.Similarity,
		}
	}

	r.logger.Debug("retrieved passages", "k", k, "results", len(passages))
	return passages, nil
}
