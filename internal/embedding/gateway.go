// Package embedding wraps a Genkit embedder behind a batching, retrying
// gateway. The gateway is the single path through which both pipelines
// obtain vectors, so ordering, normalization, and failure semantics are
// enforced in one place.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/groundchat/groundchat/internal/rag"
	"github.com/groundchat/groundchat/internal/vectorstore"
)

// ErrServiceUnavailable indicates the embedding service kept failing after
// all retries, or returned a malformed response. Check with errors.Is().
var ErrServiceUnavailable = errors.New("embedding service unavailable")

// DefaultBatchSize bounds how many texts are sent per upstream request.
const DefaultBatchSize = 16

// DefaultTimeout bounds a single upstream embed attempt. A hung connection
// fails the attempt instead of stalling the whole pipeline.
const DefaultTimeout = 30 * time.Second

// RetryConfig configures per-batch retry behavior.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts per batch
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for embedding API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// transientPatterns groups error substrings by category, matched
// case-insensitively against err.Error().
//
// String matching is used because Genkit and provider SDKs do not expose
// typed errors for transient failures.
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and worth retrying.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, group := range transientPatterns {
		for _, sub := range group {
			if strings.Contains(lower, sub) {
				return true
			}
		}
	}
	return false
}

// Config contains the Gateway's construction parameters.
type Config struct {
	// Dimension is the expected vector dimensionality. Required.
	Dimension int

	// BatchSize bounds texts per upstream request. Zero uses DefaultBatchSize.
	BatchSize int

	// Retry configures per-batch retry. Zero-value uses defaults.
	Retry RetryConfig

	// Timeout bounds each upstream embed attempt. Zero uses DefaultTimeout.
	Timeout time.Duration

	// RateLimiter proactively limits upstream calls. Nil disables limiting.
	RateLimiter *rate.Limiter
}

// Gateway batches texts to an upstream embedder and returns one unit-length
// vector per input, in input order. A failed batch fails the whole call:
// the gateway never returns partial results.
//
// Gateway is safe for concurrent use.
type Gateway struct {
	embedder  ai.Embedder
	dim       int
	batchSize int
	retry     RetryConfig
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Gateway around the given embedder.
func New(embedder ai.Embedder, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", rag.ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d",
			rag.ErrInvalidConfig, cfg.Dimension)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size must not be negative, got %d",
			rag.ErrInvalidConfig, cfg.BatchSize)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative, got %v",
			rag.ErrInvalidConfig, cfg.Timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Gateway{
		embedder:  embedder,
		dim:       cfg.Dimension,
		batchSize: batchSize,
		retry:     retry,
		timeout:   timeout,
		limiter:   cfg.RateLimiter,
		logger:    logger,
	}, nil
}

// Dimension returns the vector dimensionality the gateway enforces.
func (g *Gateway) Dimension() int {
	return g.dim
}

// Embed returns one vector per input text, in input order. Each vector is
// L2-normalized so cosine similarity equals the dot product downstream.
//
// On any batch failure the whole call fails: a deadline maps to
// rag.ErrUpstreamTimeout, exhausted retries map to ErrServiceUnavailable,
// and a response with wrong dimensionality maps to
// vectorstore.ErrDimensionMismatch.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// embedBatch embeds one batch with exponential backoff retry.
func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}

	var lastErr error
	delay := g.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := g.embedOnce(ctx, input)
		if err == nil {
			return g.extractVectors(resp, len(texts))
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding batch: %v", rag.ErrUpstreamTimeout, err)
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}

		if attempt == g.retry.MaxRetries {
			break
		}

		g.logger.Debug("retrying embedding batch",
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: canceled during retry: %v", rag.ErrUpstreamTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("%w: after %d retries (elapsed %v): %v",
		ErrServiceUnavailable, g.retry.MaxRetries, time.Since(start), lastErr)
}

// embedOnce runs a single upstream call bounded by the gateway timeout.
func (g *Gateway) embedOnce(ctx context.Context, input []*ai.Document) (*ai.EmbedResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.embedder.Embed(callCtx, &ai.EmbedRequest{Input: input})
}

// extractVectors validates the response shape and normalizes every vector.
func (g *Gateway) extractVectors(resp *ai.EmbedResponse, want int) ([][]float32, error) {
	if resp == nil || len(resp.Embeddings) != want {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrServiceUnavailable, got, want)
	}

	vectors := make([][]float32, want)
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) != g.dim {
			got := 0
			if emb != nil {
				got = len(emb.Embedding)
			}
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				vectorstore.ErrDimensionMismatch, i, got, g.dim)
		}
		vectors[i] = normalize(emb.Embedding)
	}
	return vectors, nil
}

// normalize returns v scaled to unit length. A zero vector is returned as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
