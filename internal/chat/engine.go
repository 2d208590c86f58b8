package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groundchat/groundchat/internal/rag"
	"github.com/groundchat/groundchat/internal/session"
)

// Retriever fetches the passages most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]rag.Passage, error)
}

// Answer is the result of one Engine.Ask round.
type Answer struct {
	// Text is the assistant's reply.
	Text string
	// Query is the retrieval query actually used (post-rewrite).
	Query string
	// Passages are the retrieved passages the answer was grounded in.
	// Empty in plain mode or when nothing relevant was indexed.
	Passages []rag.Passage
	// Rewritten reports whether the retrieval query differs from the input.
	Rewritten bool
}

// Engine orchestrates one conversational round: rewrite the query against
// the session history, retrieve supporting passages, synthesize the answer,
// and record both turns in the session.
type Engine struct {
	rewriter    *Rewriter
	synthesizer *Synthesizer
	retriever   Retriever
	sessions    *session.Store
	topK        int
	logger      *slog.Logger
}

// NewEngine creates an Engine. topK must be within
// [rag.MinTopK, rag.MaxTopK].
func NewEngine(rewriter *Rewriter, synthesizer *Synthesizer, retriever Retriever, sessions *session.Store, topK int, logger *slog.Logger) (*Engine, error) {
	if rewriter == nil {
		return nil, errors.New("rewriter is required")
	}
	if synthesizer == nil {
		return nil, errors.New("synthesizer is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if topK < rag.MinTopK || topK > rag.MaxTopK {
		return nil, fmt.Errorf("%w: top-k must be between %d and %d, got %d",
			rag.ErrInvalidConfig, rag.MinTopK, rag.MaxTopK, topK)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rewriter:    rewriter,
		synthesizer: synthesizer,
		retriever:   retriever,
		sessions:    sessions,
		topK:        topK,
		logger:      logger,
	}, nil
}

// Ask answers query within the given session.
//
// The session is created on first use. A failed rewrite degrades to the
// original query; a failed retrieval or synthesis aborts the round without
// recording any turn, so the history never contains a question that got no
// answer.
func (e *Engine) Ask(ctx context.Context, sessionID, query string) (*Answer, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is empty", rag.ErrInvalidConfig)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", rag.ErrInvalidConfig)
	}

	e.sessions.GetOrCreate(sessionID)

	grounded, err := e.sessions.Grounded(sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session mode: %w", err)
	}
	history, err := e.sessions.Turns(sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session history: %w", err)
	}

	start := time.Now()

	retrievalQuery, err := e.rewriter.Rewrite(ctx, history, query, grounded)
	if err != nil {
		if !errors.Is(err, ErrRewriteUnavailable) {
			return nil, err
		}
		// Degrade: retrieve with the user's literal question.
		e.logger.Warn("query rewrite failed, using original query",
			"session", sessionID,
			"error", err,
		)
		retrievalQuery = query
	}

	var passages []rag.Passage
	if grounded {
		passages, err = e.retriever.Retrieve(ctx, retrievalQuery, e.topK)
		if err != nil {
			return nil, fmt.Errorf("retrieving passages: %w", err)
		}
	}

	text, err := e.synthesizer.Synthesize(ctx, history, query, passages, grounded)
	if err != nil {
		return nil, err
	}

	if err := e.sessions.Append(sessionID, session.Turn{Role: session.RoleUser, Text: query}); err != nil {
		return nil, fmt.Errorf("recording user turn: %w", err)
	}
	if err := e.sessions.Append(sessionID, session.Turn{Role: session.RoleAssistant, Text: text}); err != nil {
		return nil, fmt.Errorf("recording assistant turn: %w", err)
	}

	e.logger.Info("answered query",
		"session", sessionID,
		"grounded", grounded,
		"passages", len(passages),
		"rewritten", retrievalQuery != query,
		"duration", time.Since(start),
	)

	return &Answer{
		Text:      text,
		Query:     retrievalQuery,
		Passages:  passages,
		Rewritten: retrievalQuery != query,
	}, nil
}

// Reset clears the session history, keeping its settings.
func (e *Engine) Reset(sessionID string) error {
	return e.sessions.Reset(sessionID)
}

// SetGrounded toggles grounded mode for the session.
func (e *Engine) SetGrounded(sessionID string, grounded bool) error {
	e.sessions.GetOrCreate(sessionID)
	return e.sessions.SetGrounded(sessionID, grounded)
}
