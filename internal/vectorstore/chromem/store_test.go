package chromem

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/groundchat/groundchat/internal/log"
	"github.com/groundchat/groundchat/internal/vectorstore"
)

const testDim = 4

// unitVector returns a unit vector pointing along the given axis.
func unitVector(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis%testDim] = 1
	return v
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New("", testDim, log.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return store
}

func record(id, source string, axis int) vectorstore.Record {
	return vectorstore.Record{
		ID:        id,
		Source:    source,
		Content:   "content of " + id,
		Embedding: unitVector(axis),
		Metadata:  map[string]string{"chunk": id},
	}
}

func TestNewRejectsInvalidDimension(t *testing.T) {
	if _, err := New("", 0, log.NewNop()); err == nil {
		t.Error("New() with zero dimension should fail")
	}
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	records := []vectorstore.Record{
		record("r1", "a.txt", 0),
		record("r2", "a.txt", 1),
		record("r3", "b.txt", 2),
	}
	if err := store.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	matches, err := store.Search(ctx, unitVector(0), 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "r1" {
		t.Errorf("top match = %q, want r1", matches[0].ID)
	}
	if matches[0].Similarity < 0.99 {
		t.Errorf("top similarity = %v, want ~1", matches[0].Similarity)
	}
	if matches[0].Source != "a.txt" {
		t.Errorf("top match source = %q, want a.txt", matches[0].Source)
	}
	if matches[0].Metadata["chunk"] != "r1" {
		t.Errorf("metadata not returned: %v", matches[0].Metadata)
	}
	if _, ok := matches[0].Metadata[sourceKey]; ok {
		t.Error("reserved source key leaked into metadata")
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	store := newTestStore(t)

	matches, err := store.Search(context.Background(), unitVector(0), 5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
}

func TestSearchClampsKToCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Upsert(ctx, []vectorstore.Record{record("r1", "a.txt", 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	matches, err := store.Search(ctx, unitVector(0), 20)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}
}

func TestUpsertReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Upsert(ctx, []vectorstore.Record{record("r1", "a.txt", 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	updated := record("r1", "a.txt", 0)
	updated.Content = "updated content"
	if err := store.Upsert(ctx, []vectorstore.Record{updated}); err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (upsert must replace)", count)
	}

	matches, err := store.Search(ctx, unitVector(0), 1)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if matches[0].Content != "updated content" {
		t.Errorf("content = %q, want updated content", matches[0].Content)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	store := newTestStore(t)

	bad := vectorstore.Record{ID: "r1", Source: "a.txt", Content: "x", Embedding: []float32{1, 2}}
	err := store.Upsert(context.Background(), []vectorstore.Record{bad})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("Upsert() = %v, want ErrDimensionMismatch", err)
	}

	count, _ := store.Count(context.Background())
	if count != 0 {
		t.Errorf("count = %d, want 0 (nothing written on dimension mismatch)", count)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Search(context.Background(), []float32{1, 2}, 1)
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("Search() = %v, want ErrDimensionMismatch", err)
	}
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Upsert(ctx, []vectorstore.Record{record("r1", "a.txt", 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	ok, err := store.Exists(ctx, "r1")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !ok {
		t.Error("Exists(r1) = false, want true")
	}

	ok, err = store.Exists(ctx, "missing")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists(missing) = true, want false")
	}
}

func TestDeleteSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	records := []vectorstore.Record{
		record("r1", "a.txt", 0),
		record("r2", "a.txt", 1),
		record("r3", "b.txt", 2),
	}
	if err := store.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if err := store.DeleteSource(ctx, "a.txt"); err != nil {
		t.Fatalf("DeleteSource() error: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	ok, _ := store.Exists(ctx, "r3")
	if !ok {
		t.Error("record from other source was deleted")
	}
}

func TestDeleteUnknownSourceIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.DeleteSource(ctx, "never-indexed"); err != nil {
		t.Errorf("DeleteSource() on empty store = %v, want nil", err)
	}

	if err := store.Upsert(ctx, []vectorstore.Record{record("r1", "a.txt", 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if err := store.DeleteSource(ctx, "never-indexed"); err != nil {
		t.Errorf("DeleteSource() unknown source = %v, want nil", err)
	}
	count, _ := store.Count(ctx)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(dir, testDim, log.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	var records []vectorstore.Record
	for i := 0; i < 3; i++ {
		records = append(records, record(fmt.Sprintf("r%d", i), "a.txt", i))
	}
	if err := store.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	reopened, err := New(dir, testDim, log.NewNop())
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	count, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 3 {
		t.Errorf("count after reopen = %d, want 3", count)
	}
}
