// Package vectorstore defines the storage contract shared by the Postgres
// pgvector backend and the embedded chromem-go backend. Both persist
// embedded passages keyed by content-derived IDs and answer cosine
// similarity searches.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch indicates a vector's dimensionality does not match
// what the backend was provisioned for. Check with errors.Is().
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one embedded passage ready for storage.
type Record struct {
	// ID is the stable, content-derived record key. Upserting the same ID
	// replaces the previous record.
	ID string

	// Source identifies the originating document.
	Source string

	// Content is the passage text.
	Content string

	// Embedding is the passage vector. Its length must match the backend's
	// provisioned dimensionality.
	Embedding []float32

	// Metadata is stored alongside the record and returned with matches.
	Metadata map[string]string
}

// Match is a search result ordered by descending similarity.
type Match struct {
	ID         string
	Source     string
	Content    string
	Metadata   map[string]string
	Similarity float32 // cosine similarity in [0, 1] for normalized vectors
}

// Store is the contract both vector backends implement.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert writes records, replacing any existing records with the same IDs.
	// On partial failure it returns a *PartialWriteError.
	Upsert(ctx context.Context, records []Record) error

	// Search returns up to k matches ordered by descending cosine similarity.
	// An empty index yields an empty result, not an error.
	Search(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// Exists reports whether a record with the given ID is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// DeleteSource removes every record belonging to the given source.
	// Deleting an unknown source is a no-op.
	DeleteSource(ctx context.Context, source string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// PartialWriteError reports an Upsert that failed after some records were
// already applied. Transactional backends always report zero confirmed
// records; append-style backends report the confirmed prefix.
type PartialWriteError struct {
	// Confirmed lists the record IDs known to be persisted.
	Confirmed []string

	// Err is the underlying failure.
	Err error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("upsert partially applied (%d records confirmed): %v", len(e.Confirmed), e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
