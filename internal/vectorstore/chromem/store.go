// Package chromem implements the vector store contract on chromem-go, an
// embedded pure-Go vector database. It serves as the local backend: no
// network, optional on-disk persistence.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/groundchat/groundchat/internal/vectorstore"
)

// collectionName is the single collection all passages live in.
const collectionName = "passages"

// sourceKey is the reserved metadata key carrying the record's source.
const sourceKey = "source"

// Store implements vectorstore.Store on an embedded chromem-go collection.
//
// All embeddings are computed upstream by the gateway; the collection's own
// embedding function is never used and rejects any attempt to invoke it.
type Store struct {
	collection *chromemgo.Collection
	dim        int
	logger     *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// New creates a local vector store. An empty path keeps everything
// in memory; otherwise records are persisted under path and survive
// restarts.
func New(path string, dim int, logger *slog.Logger) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromemgo.DB
	if path == "" {
		db = chromemgo.NewDB()
	} else {
		var err error
		db, err = chromemgo.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening persistent store at %q: %w", path, err)
		}
	}

	// Embeddings always arrive precomputed; a live embedding function here
	// would silently re-embed with a different model.
	rejectEmbed := func(_ context.Context, text string) ([]float32, error) {
		return nil, errors.New("embeddings must be precomputed by the gateway")
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", collectionName, err)
	}

	return &Store{
		collection: collection,
		dim:        dim,
		logger:     logger,
	}, nil
}

// Upsert writes records one at a time. chromem-go has no transactions, so a
// mid-batch failure reports the confirmed prefix via *PartialWriteError.
func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	for _, r := range records {
		if len(r.Embedding) != s.dim {
			return fmt.Errorf("%w: record %q has dimension %d, want %d",
				vectorstore.ErrDimensionMismatch, r.ID, len(r.Embedding), s.dim)
		}
	}

	confirmed := make([]string, 0, len(records))
	for _, r := range records {
		metadata := make(map[string]string, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		metadata[sourceKey] = r.Source

		err := s.collection.AddDocument(ctx, chromemgo.Document{
			ID:        r.ID,
			Metadata:  metadata,
			Embedding: r.Embedding,
			Content:   r.Content,
		})
		if err != nil {
			return &vectorstore.PartialWriteError{
				Confirmed: confirmed,
				Err:       fmt.Errorf("adding record %q: %w", r.ID, err),
			}
		}
		confirmed = append(confirmed, r.ID)
	}

	s.logger.Debug("upserted records", "count", len(records))
	return nil
}

// Search returns up to k matches by cosine similarity.
// chromem-go requires k <= stored document count, so k is clamped; an empty
// collection yields an empty result.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]vectorstore.Match, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d",
			vectorstore.ErrDimensionMismatch, len(embedding), s.dim)
	}

	count := s.collection.Count()
	if count == 0 {
		return []vectorstore.Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(results))
	for _, res := range results {
		metadata := make(map[string]string, len(res.Metadata))
		for key, v := range res.Metadata {
			if key == sourceKey {
				continue
			}
			metadata[key] = v
		}
		matches = append(matches, vectorstore.Match{
			ID:         res.ID,
			Source:     res.Metadata[sourceKey],
			Content:    res.Content,
			Metadata:   metadata,
			Similarity: res.Similarity,
		})
	}
	return matches, nil
}

// Exists reports whether a record with the given ID is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	// GetByID only fails when the ID is absent (or empty), so the error
	// carries no information beyond non-existence.
	_, err := s.collection.GetByID(ctx, id)
	return err == nil, nil
}

// DeleteSource removes every record belonging to source.
// Unknown sources are a no-op.
func (s *Store) DeleteSource(ctx context.Context, source string) error {
	if s.collection.Count() == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, map[string]string{sourceKey: source}, nil); err != nil {
		return fmt.Errorf("deleting source %q: %w", source, err)
	}
	s.logger.Debug("deleted source records", "source", source)
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}
