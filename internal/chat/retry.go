package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

// RetryConfig configures the retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
	CallTimeout     time.Duration // Per-attempt deadline; zero leaves the attempt unbounded
}

// DefaultCallTimeout bounds a single model call so a hung connection fails
// the attempt instead of stalling the round.
const DefaultCallTimeout = 30 * time.Second

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		CallTimeout:     DefaultCallTimeout,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: String matching is used because Genkit and LLM provider SDKs do not
// expose typed/sentinel errors for transient failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// generateWithRetry runs a model call with exponential backoff.
// Each attempt waits on the rate limiter first and is bounded by
// cfg.CallTimeout. A timed-out attempt surfaces context.DeadlineExceeded
// without further retries; callers map it to their timeout sentinel.
func generateWithRetry(
	ctx context.Context,
	logger *slog.Logger,
	cfg RetryConfig,
	limiter *rate.Limiter,
	call func(context.Context) (*ai.ModelResponse, error),
) (*ai.ModelResponse, error) {
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := callOnce(ctx, cfg.CallTimeout, call)
		if err == nil {
			logger.Debug("model call succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("model call: %w", err)
		}

		if attempt == cfg.MaxRetries {
			break
		}

		logger.Debug("retrying model call",
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return nil, fmt.Errorf("model call after %d retries (elapsed %v): %w",
		cfg.MaxRetries, time.Since(start), lastErr)
}

// callOnce runs a single attempt, bounded by timeout when it is positive.
func callOnce(ctx context.Context, timeout time.Duration, call func(context.Context) (*ai.ModelResponse, error)) (*ai.ModelResponse, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(callCtx)
}
