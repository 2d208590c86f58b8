package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/groundchat/groundchat/internal/log"
	"github.com/groundchat/groundchat/internal/vectorstore"
)

func newTestRetriever(t *testing.T, store vectorstore.Store, embedder Embedder) *Retriever {
	t.Helper()
	r, err := NewRetriever(store, embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewRetriever() error: %v", err)
	}
	return r
}

func TestNewRetrieverValidation(t *testing.T) {
	if _, err := NewRetriever(nil, &fakeEmbedder{}, log.NewNop()); !errors.Is(err, ErrInvalidConfig) {
		t.Error("nil store should return ErrInvalidConfig")
	}
	if _, err := NewRetriever(newFakeStore(), nil, log.NewNop()); !errors.Is(err, ErrInvalidConfig) {
		t.Error("nil embedder should return ErrInvalidConfig")
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r := newTestRetriever(t, newFakeStore(), &fakeEmbedder{})

	passages, err := r.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(passages) != 0 {
		t.Errorf("got %d passages, want 0", len(passages))
	}
}

func TestRetrieveRejectsOutOfRangeK(t *testing.T) {
	tests := []struct {
		name    string
		k       int
		wantErr bool
	}{
		{"negative", -5, true},
		{"zero", 0, true},
		{"above max", 100, true},
		{"min boundary", 1, false},
		{"within range", 7, false},
		{"max boundary", 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			embedder := &fakeEmbedder{}
			r := newTestRetriever(t, store, embedder)

			_, err := r.Retrieve(context.Background(), "query", tt.k)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("Retrieve(k=%d) = %v, want ErrInvalidConfig", tt.k, err)
				}
				// Rejected before any external call.
				if embedder.calls != 0 {
					t.Errorf("embedder called %d times, want 0", embedder.calls)
				}
				if len(store.searchedWith) != 0 {
					t.Errorf("store searched with %v, want no searches", store.searchedWith)
				}
				return
			}
			if err != nil {
				t.Fatalf("Retrieve(k=%d) error: %v", tt.k, err)
			}
			if len(store.searchedWith) != 1 || store.searchedWith[0] != tt.k {
				t.Errorf("store searched with %v, want [%d]", store.searchedWith, tt.k)
			}
		})
	}
}

func TestRetrieveSearchDeadlineMapsToUpstreamTimeout(t *testing.T) {
	store := newFakeStore()
	store.searchErr = fmt.Errorf("query canceled: %w", context.DeadlineExceeded)
	r := newTestRetriever(t, store, &fakeEmbedder{})

	_, err := r.Retrieve(context.Background(), "q", 5)
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Errorf("Retrieve() = %v, want ErrUpstreamTimeout", err)
	}
}

func TestRetrieveMapsMatches(t *testing.T) {
	store := newFakeStore()
	store.records["r1"] = vectorstore.Record{
		ID:      "r1",
		Source:  "a.txt",
		Content: "hello world",
		Metadata: map[string]string{
			"chunk_index": "0",
		},
	}
	r := newTestRetriever(t, store, &fakeEmbedder{})

	passages, err := r.Retrieve(context.Background(), "hello", 3)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(passages) != 1 {
		t.Fatalf("got %d passages, want 1", len(passages))
	}
	p := passages[0]
	if p.ID != "r1" || p.Source != "a.txt" || p.Content != "hello world" {
		t.Errorf("passage fields not mapped: %+v", p)
	}
	if p.Metadata["chunk_index"] != "0" {
		t.Errorf("metadata not mapped: %v", p.Metadata)
	}
}

func TestRetrieveEmbedFailure(t *testing.T) {
	wantErr := errors.New("embedder down")
	r := newTestRetriever(t, newFakeStore(), &fakeEmbedder{err: wantErr})

	if _, err := r.Retrieve(context.Background(), "q", 5); !errors.Is(err, wantErr) {
		t.Errorf("Retrieve() = %v, want wrapped embedder error", err)
	}
}

func TestRetrieveSearchFailure(t *testing.T) {
	store := newFakeStore()
	store.searchErr = errors.New("backend down")
	r := newTestRetriever(t, store, &fakeEmbedder{})

	if _, err := r.Retrieve(context.Background(), "q", 5); !errors.Is(err, store.searchErr) {
		t.Errorf("Retrieve() = %v, want wrapped store error", err)
	}
}
