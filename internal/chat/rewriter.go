// Package chat implements the query pipeline: a history-aware query
// rewriter, an answer synthesizer grounded in retrieved passages, and the
// Engine that orchestrates both around the retriever and session store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/groundchat/groundchat/internal/rag"
	"github.com/groundchat/groundchat/internal/session"
)

// rewriteSystemPrompt instructs the model to produce a standalone query.
const rewriteSystemPrompt = `You reformulate follow-up questions into standalone search queries.

Given a conversation and a follow-up question, produce a single self-contained
query that captures what the user is asking, resolving pronouns and references
to earlier turns. Output only the reformulated query, nothing else.
If the question is already self-contained, output it unchanged.`

// Rewriter turns follow-up questions into standalone retrieval queries using
// the conversation history.
//
// Rewriting is best-effort: in plain (non-grounded) mode or with an empty
// history the original query passes through untouched, and any model failure
// is reported as ErrRewriteUnavailable alongside the original query so the
// caller can degrade gracefully.
type Rewriter struct {
	g         *genkit.Genkit
	modelName string
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewRewriter creates a Rewriter.
func NewRewriter(g *genkit.Genkit, modelName string, retry RetryConfig, limiter *rate.Limiter, logger *slog.Logger) (*Rewriter, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{
		g:         g,
		modelName: modelName,
		retry:     retry,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Rewrite returns the retrieval query for the given user input.
//
// With no history, or in plain mode, the input is returned unchanged and no
// model call is made. On model failure the input is returned together with
// an error wrapping ErrRewriteUnavailable; a deadline additionally wraps
// rag.ErrUpstreamTimeout.
func (r *Rewriter) Rewrite(ctx context.Context, history []session.Turn, query string, grounded bool) (string, error) {
	if !grounded || len(history) == 0 {
		return query, nil
	}

	prompt := fmt.Sprintf("Conversation so far:\n%s\nFollow-up question: %s", transcript(history), query)

	resp, err := generateWithRetry(ctx, r.logger, r.retry, r.limiter, func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, r.g,
			ai.WithModelName(r.modelName),
			ai.WithSystem(rewriteSystemPrompt),
			ai.WithPrompt(prompt),
		)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return query, fmt.Errorf("%w: %w", ErrRewriteUnavailable, rag.ErrUpstreamTimeout)
		}
		return query, fmt.Errorf("%w: %w", ErrRewriteUnavailable, err)
	}

	rewritten := strings.TrimSpace(resp.Text())
	if rewritten == "" {
		// An empty reformulation is useless; fall back silently.
		return query, nil
	}

	r.logger.Debug("rewrote query", "original", query, "rewritten", rewritten)
	return rewritten, nil
}

// transcript renders turns as a plain text conversation log.
func transcript(history []session.Turn) string {
	var sb strings.Builder
	for _, turn := range history {
		switch turn.Role {
		case session.RoleUser:
			sb.WriteString("User: ")
		case session.RoleAssistant:
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(turn.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
