package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/groundchat/groundchat/internal/log"
	"github.com/groundchat/groundchat/internal/session"
	"github.com/groundchat/groundchat/internal/testutil"
)

const mockModelName = "mock/test-model"

// newTestRewriter wires a Rewriter to a fresh Genkit instance backed by the
// mock model.
func newTestRewriter(t *testing.T, mock *testutil.MockLLM) *Rewriter {
	t.Helper()
	g := genkit.Init(context.Background())
	mock.RegisterModel(g)

	r, err := NewRewriter(g, mockModelName, fastRetry(), nil, log.NewNop())
	if err != nil {
		t.Fatalf("NewRewriter() error: %v", err)
	}
	return r
}

func someHistory() []session.Turn {
	return []session.Turn{
		{Role: session.RoleUser, Text: "Tell me about the Saturn V rocket."},
		{Role: session.RoleAssistant, Text: "The Saturn V was a super heavy-lift launch vehicle."},
	}
}

func TestRewriteResolvesFollowUp(t *testing.T) {
	mock := testutil.NewMockLLM("unexpected")
	mock.AddResponse("how tall was it", "How tall was the Saturn V rocket?")
	r := newTestRewriter(t, mock)

	got, err := r.Rewrite(context.Background(), someHistory(), "How tall was it?", true)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	if got != "How tall was the Saturn V rocket?" {
		t.Errorf("Rewrite() = %q, want rewritten query", got)
	}
}

func TestRewriteEmptyHistoryPassesThrough(t *testing.T) {
	mock := testutil.NewMockLLM("should not be called")
	r := newTestRewriter(t, mock)

	got, err := r.Rewrite(context.Background(), nil, "What is pgvector?", true)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	if got != "What is pgvector?" {
		t.Errorf("Rewrite() = %q, want original query", got)
	}
	if len(mock.Calls()) != 0 {
		t.Errorf("model calls = %d, want 0", len(mock.Calls()))
	}
}

func TestRewritePlainModePassesThrough(t *testing.T) {
	mock := testutil.NewMockLLM("should not be called")
	r := newTestRewriter(t, mock)

	got, err := r.Rewrite(context.Background(), someHistory(), "How tall was it?", false)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	if got != "How tall was it?" {
		t.Errorf("Rewrite() = %q, want original query", got)
	}
	if len(mock.Calls()) != 0 {
		t.Errorf("model calls = %d, want 0", len(mock.Calls()))
	}
}

func TestRewriteFailureDegradesToOriginal(t *testing.T) {
	mock := testutil.NewMockLLM("unused")
	mock.SetFailure(errors.New("503 unavailable"))
	r := newTestRewriter(t, mock)

	got, err := r.Rewrite(context.Background(), someHistory(), "How tall was it?", true)
	if !errors.Is(err, ErrRewriteUnavailable) {
		t.Errorf("Rewrite() error = %v, want ErrRewriteUnavailable", err)
	}
	if got != "How tall was it?" {
		t.Errorf("Rewrite() = %q, want original query on failure", got)
	}
}

func TestRewriteEmptyModelOutputFallsBack(t *testing.T) {
	mock := testutil.NewMockLLM("")
	r := newTestRewriter(t, mock)

	got, err := r.Rewrite(context.Background(), someHistory(), "How tall was it?", true)
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	if got != "How tall was it?" {
		t.Errorf("Rewrite() = %q, want original query on empty rewrite", got)
	}
}
