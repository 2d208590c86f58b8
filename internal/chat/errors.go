package chat

import "errors"

// Sentinel errors for the query pipeline. Check with errors.Is().
var (
	// ErrRewriteUnavailable indicates the query rewriter could not reach the
	// model. Callers degrade to the original query; retrieval still runs.
	ErrRewriteUnavailable = errors.New("query rewrite unavailable")

	// ErrGenerationUnavailable indicates answer generation kept failing
	// after all retries. Unlike rewriting there is no degraded mode: the
	// caller surfaces the failure.
	ErrGenerationUnavailable = errors.New("answer generation unavailable")
)
