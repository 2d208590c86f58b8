// Package pgvector implements the vector store contract on PostgreSQL with
// the pgvector extension. It serves as the network-hosted backend: records
// live in the passages table provisioned by the db package migrations, and
// similarity search uses the cosine distance operator backed by an HNSW
// index.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/groundchat/groundchat/internal/vectorstore"
)

// opTimeout bounds every store operation so a dead connection cannot stall
// the pipelines indefinitely. The expired context surfaces as
// context.DeadlineExceeded through the pgx error chain.
const opTimeout = 30 * time.Second

// Store implements vectorstore.Store on a PostgreSQL pool.
//
// The pool is owned by the caller; Store never closes it.
type Store struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// New creates a Postgres-backed vector store and verifies that the
// provisioned embedding column matches the expected dimensionality.
//
// A mismatch returns ErrDimensionMismatch instead of silently truncating or
// re-provisioning: the operator must migrate the schema, since dropping the
// column would destroy indexed data.
func New(ctx context.Context, pool *pgxpool.Pool, dim int, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	provisioned, err := provisionedDimension(ctx, pool)
	if err != nil {
		return nil, err
	}
	if provisioned != dim {
		return nil, fmt.Errorf("%w: passages.embedding is vector(%d), embedder produces %d",
			vectorstore.ErrDimensionMismatch, provisioned, dim)
	}

	return &Store{pool: pool, dim: dim, logger: logger}, nil
}

// provisionedDimension reads the declared dimension of passages.embedding.
// For the vector type, atttypmod stores the dimension directly.
func provisionedDimension(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	const query = `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'passages'::regclass AND attname = 'embedding'`

	var typmod int
	if err := pool.QueryRow(ctx, query).Scan(&typmod); err != nil {
		return 0, fmt.Errorf("reading provisioned embedding dimension: %w", err)
	}
	return typmod, nil
}

// Upsert writes all records in a single transaction. A failure rolls the
// whole batch back, so the returned *PartialWriteError never reports
// confirmed records.
func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	for _, r := range records {
		if len(r.Embedding) != s.dim {
			return fmt.Errorf("%w: record %q has dimension %d, want %d",
				vectorstore.ErrDimensionMismatch, r.ID, len(r.Embedding), s.dim)
		}
	}
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Debug("rollback after failed upsert", "error", rbErr)
			}
		}
	}()

	const query = `
		INSERT INTO passages (id, source, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`

	for _, r := range records {
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return &vectorstore.PartialWriteError{
				Err: fmt.Errorf("marshaling metadata for %q: %w", r.ID, err),
			}
		}
		if _, err := tx.Exec(ctx, query,
			r.ID, r.Source, r.Content, pgv.NewVector(r.Embedding), metadataJSON); err != nil {
			return &vectorstore.PartialWriteError{
				Err: fmt.Errorf("upserting record %q: %w", r.ID, err),
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &vectorstore.PartialWriteError{
			Err: fmt.Errorf("committing upsert: %w", err),
		}
	}
	committed = true

	s.logger.Debug("upserted records", "count", len(records))
	return nil
}

// Search returns up to k matches ordered by descending cosine similarity.
// Similarity is reported as 1 - cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]vectorstore.Match, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d",
			vectorstore.ErrDimensionMismatch, len(embedding), s.dim)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		SELECT id, source, content, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM passages
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, pgv.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}
	defer rows.Close()

	matches := make([]vectorstore.Match, 0, k)
	for rows.Next() {
		var (
			m            vectorstore.Match
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&m.ID, &m.Source, &m.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			s.logger.Warn("failed to parse record metadata", "id", m.ID, "error", err)
			m.Metadata = map[string]string{}
		}
		m.Similarity = float32(similarity)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}

	return matches, nil
}

// Exists reports whether a record with the given ID is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM passages WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking record %q: %w", id, err)
	}
	return exists, nil
}

// DeleteSource removes every record belonging to source.
func (s *Store) DeleteSource(ctx context.Context, source string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM passages WHERE source = $1`, source)
	if err != nil {
		return fmt.Errorf("deleting source %q: %w", source, err)
	}
	s.logger.Debug("deleted source records", "source", source, "count", tag.RowsAffected())
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return count, nil
}
