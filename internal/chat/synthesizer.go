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

// NoSupportingContentNotice prefixes grounded answers produced without any
// retrieved passages, so the caller and the user can tell a grounded answer
// from a best-effort one.
const NoSupportingContentNotice = "No relevant passages were found in the indexed documents; " +
	"answering from conversation history alone."

// groundedSystemPrompt constrains answers to the supplied passages.
const groundedSystemPrompt = `You answer questions using the provided source passages.

Rules:
- Base your answer only on the passages and the conversation history.
- Cite the source tag (e.g. [source: report.txt]) of every passage you use.
- If the passages do not contain the answer, say so explicitly instead of guessing.`

// plainSystemPrompt is used when grounded mode is off.
const plainSystemPrompt = `You are a helpful assistant. Answer from the conversation directly.`

// fallbackAnswer is returned when the model produces an empty response.
const fallbackAnswer = "I couldn't generate an answer. Please try rephrasing your question."

// Synthesizer produces the final answer from the conversation history and,
// in grounded mode, the retrieved passages.
type Synthesizer struct {
	g         *genkit.Genkit
	modelName string
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(g *genkit.Genkit, modelName string, retry RetryConfig, limiter *rate.Limiter, logger *slog.Logger) (*Synthesizer, error) {
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
	return &Synthesizer{
		g:         g,
		modelName: modelName,
		retry:     retry,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Synthesize generates the answer to query.
//
// In grounded mode the passages are injected as source-tagged context; when
// none were retrieved the answer carries NoSupportingContentNotice as its
// first line. Exhausted retries wrap ErrGenerationUnavailable; a deadline
// wraps rag.ErrUpstreamTimeout.
func (s *Synthesizer) Synthesize(ctx context.Context, history []session.Turn, query string, passages []rag.Passage, grounded bool) (string, error) {
	var opts []ai.GenerateOption
	opts = append(opts, ai.WithModelName(s.modelName))

	if grounded {
		opts = append(opts, ai.WithSystem(groundedSystemPrompt))
	} else {
		opts = append(opts, ai.WithSystem(plainSystemPrompt))
	}

	if msgs := historyMessages(history); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}

	prompt := query
	if grounded && len(passages) > 0 {
		prompt = fmt.Sprintf("Source passages:\n%s\nQuestion: %s", passageBlock(passages), query)
	}
	opts = append(opts, ai.WithPrompt(prompt))

	resp, err := generateWithRetry(ctx, s.logger, s.retry, s.limiter, func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, s.g, opts...)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: synthesizing answer: %v", rag.ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		answer = fallbackAnswer
	}

	if grounded && len(passages) == 0 {
		answer = NoSupportingContentNotice + "\n\n" + answer
	}

	return answer, nil
}

// passageBlock renders passages with their source tags.
func passageBlock(passages []rag.Passage) string {
	var sb strings.Builder
	for _, p := range passages {
		fmt.Fprintf(&sb, "[source: %s]\n%s\n\n", p.Source, p.Content)
	}
	return sb.String()
}

// historyMessages converts session turns into model messages.
func historyMessages(history []session.Turn) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case session.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(turn.Text)))
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(turn.Text)))
		}
	}
	return msgs
}
