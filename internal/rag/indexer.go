package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/groundchat/groundchat/internal/vectorstore"
)

// Embedder is the slice of the embedding gateway the pipelines need.
// Interfaces are defined by the consumer; embedding.Gateway satisfies this.
type Embedder interface {
	// Embed returns one vector per input text, in input order,
	// or an error with no partial results.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimensionality.
	Dimension() int
}

// IndexResult summarizes one indexing run.
type IndexResult struct {
	Source   string
	Chunks   int
	Duration time.Duration
}

// Indexer runs the chunk, embed, upsert pipeline for one document at a time
// per source. Runs for the same source are serialized; runs for different
// sources proceed concurrently.
//
// Re-indexing a source replaces its previous records: stale records from an
// earlier chunking are deleted before the fresh set is written, and record
// IDs are content-derived so identical input is idempotent.
type Indexer struct {
	store    vectorstore.Store
	embedder Embedder
	split    SplitConfig
	logger   *slog.Logger

	mu      sync.Mutex
	sources map[string]*sync.Mutex
}

// NewIndexer creates an Indexer. The split configuration is validated here
// so every later Index call works with known-good parameters.
func NewIndexer(store vectorstore.Store, embedder Embedder, split SplitConfig, logger *slog.Logger) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		store:    store,
		embedder: embedder,
		split:    split,
		logger:   logger,
		sources:  make(map[string]*sync.Mutex),
	}, nil
}

// Index runs the full pipeline for one document.
//
// Failure semantics:
//   - Chunking or embedding failures leave the index untouched.
//   - Failures once writing has begun return a *PartialIndexError naming the
//     records confirmed written; re-running Index with the same document is
//     always safe.
func (idx *Indexer) Index(ctx context.Context, doc Document) (*IndexResult, error) {
	if doc.Source == "" {
		return nil, fmt.Errorf("%w: document source must not be empty", ErrInvalidConfig)
	}

	lock := idx.sourceLock(doc.Source)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	chunks, err := Split(doc, idx.split)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		// An empty document still replaces previous content for the source.
		if err := idx.store.DeleteSource(ctx, doc.Source); err != nil {
			return nil, &PartialIndexError{Source: doc.Source, Err: err}
		}
		idx.logger.Debug("indexed empty document", "source", doc.Source)
		return &IndexResult{Source: doc.Source, Duration: time.Since(start)}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %q: %w", doc.Source, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding %q: got %d vectors for %d chunks",
			doc.Source, len(vectors), len(chunks))
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:        chunkID(c),
			Source:    c.Source,
			Content:   c.Content,
			Embedding: vectors[i],
			Metadata:  recordMetadata(doc, c),
		}
	}

	// Remove records from an earlier chunking of this source, then write the
	// fresh set. Last write wins for concurrent re-indexing; the per-source
	// lock keeps delete and upsert from interleaving.
	if err := idx.store.DeleteSource(ctx, doc.Source); err != nil {
		return nil, &PartialIndexError{Source: doc.Source, Err: err}
	}
	if err := idx.store.Upsert(ctx, records); err != nil {
		return nil, indexError(doc.Source, err)
	}

	result := &IndexResult{
		Source:   doc.Source,
		Chunks:   len(chunks),
		Duration: time.Since(start),
	}
	idx.logger.Info("indexed document",
		"source", doc.Source,
		"chunks", result.Chunks,
		"duration", result.Duration,
	)
	return result, nil
}

// sourceLock returns the mutex serializing runs for one source.
func (idx *Indexer) sourceLock(source string) *sync.Mutex {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	lock, ok := idx.sources[source]
	if !ok {
		lock = &sync.Mutex{}
		idx.sources[source] = lock
	}
	return lock
}

// indexError converts a store failure into a PartialIndexError, carrying
// over confirmed record IDs when the backend reports them.
func indexError(source string, err error) error {
	pie := &PartialIndexError{Source: source, Err: err}
	var pwe *vectorstore.PartialWriteError
	if errors.As(err, &pwe) {
		pie.Confirmed = pwe.Confirmed
	}
	return pie
}

// recordMetadata merges document metadata with per-chunk fields.
func recordMetadata(doc Document, c Chunk) map[string]string {
	metadata := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	metadata["chunk_index"] = strconv.Itoa(c.Index)
	return metadata
}

// chunkID derives a stable record ID from the chunk's source, position, and
// content. Identical chunks always map to the same ID, which is what makes
// re-indexing idempotent at the store level.
func chunkID(c Chunk) string {
	h := sha256.Sum256([]byte(c.Source + "\x00" + strconv.Itoa(c.Index) + "\x00" + c.Content))
	return "chunk_" + hex.EncodeToString(h[:16])
}
