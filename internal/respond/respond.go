// Package respond orchestrates token-budgeted completion requests.
//
// Given a user message and a persona prompt, the Responder decides
// whether the combined input fits the token budget, computes how many
// tokens may be spent on the response, issues a single completion call
// with a timeout, and maps provider failures into a small set of
// user-safe outcomes. It holds no mutable state and is safe for
// concurrent use.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/llm"
)

// requestTimeout bounds each provider call. One attempt per
// invocation; no retries.
const requestTimeout = 30 * time.Second

// temperature is fixed for all completions.
const temperature = 0.7

// Budget holds the token accounting limits. Immutable after
// construction.
type Budget struct {
	// MaxTotalTokens caps the combined prompt size per request.
	MaxTotalTokens int

	// ResponseBuffer is reserved headroom between the prompt and the
	// response cap.
	ResponseBuffer int

	// ResponseCap bounds the response length regardless of headroom.
	ResponseCap int

	// MinViableResponse is the smallest response budget worth sending
	// a request for.
	MinViableResponse int
}

// DefaultBudget returns the standard budget for the given total cap.
func DefaultBudget(maxTotalTokens int) Budget {
	return Budget{
		MaxTotalTokens:    maxTotalTokens,
		ResponseBuffer:    100,
		ResponseCap:       2000,
		MinViableResponse: 50,
	}
}

// TokenCounter provides token counts for budget math.
type TokenCounter interface {
	Count(text, model string) int
}

// Result is a successful completion.
type Result struct {
	// Text is the generated reply, never empty.
	Text string

	// TokensUsed is the provider-reported total when available, else
	// inputTokens plus a local count of the response. Never negative.
	TokensUsed int

	// InputTokens is the locally counted size of the combined prompt.
	InputTokens int

	// Model is the model that served the request.
	Model string
}

// Responder issues budgeted completion requests. Stateless beyond its
// read-only configuration.
type Responder struct {
	provider     llm.Provider
	counter      TokenCounter
	budget       Budget
	defaultModel string
	logger       *slog.Logger
}

// NewResponder creates a Responder.
func NewResponder(provider llm.Provider, counter TokenCounter, budget Budget, defaultModel string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		provider:     provider,
		counter:      counter,
		budget:       budget,
		defaultModel: defaultModel,
		logger:       logger.With("component", "respond"),
	}
}

// Budget returns the configured token budget.
func (r *Responder) Budget() Budget { return r.budget }

// Generate produces a completion for userMessage under rolePrompt.
// model may be empty to use the configured default. Every failure is
// returned as a *Error; no failure is fatal to the caller.
func (r *Responder) Generate(ctx context.Context, userMessage, rolePrompt, model string) (*Result, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, r.fail(&Error{Kind: KindEmptyInput, Detail: "user message is empty"}, model)
	}
	if strings.TrimSpace(rolePrompt) == "" {
		return nil, r.fail(&Error{Kind: KindEmptyInput, Detail: "role prompt is empty"}, model)
	}

	if model == "" {
		model = r.defaultModel
	}

	inputText := rolePrompt + "\n\n" + userMessage
	inputTokens := r.counter.Count(inputText, model)

	if inputTokens > r.budget.MaxTotalTokens {
		return nil, r.fail(&Error{
			Kind:   KindPromptTooLong,
			Detail: fmt.Sprintf("%d tokens, limit %d", inputTokens, r.budget.MaxTotalTokens),
		}, model)
	}

	maxResponseTokens := min(
		r.budget.MaxTotalTokens-inputTokens-r.budget.ResponseBuffer,
		r.budget.ResponseCap,
	)
	if maxResponseTokens < r.budget.MinViableResponse {
		return nil, r.fail(&Error{
			Kind:   KindNoRoom,
			Detail: fmt.Sprintf("response budget %d below minimum %d", maxResponseTokens, r.budget.MinViableResponse),
		}, model)
	}

	r.logger.Info("generating response",
		"model", model,
		"input_tokens", inputTokens,
		"max_response_tokens", maxResponseTokens,
	)

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := r.provider.Complete(callCtx, llm.Request{
		Model:        model,
		SystemPrompt: rolePrompt,
		UserMessage:  userMessage,
		MaxTokens:    maxResponseTokens,
		Temperature:  temperature,
	})
	if err != nil {
		return nil, r.fail(classifyProviderError(err), model)
	}

	if resp.Choices == 0 {
		return nil, r.fail(&Error{Kind: KindEmptyResponse, Detail: "no choices"}, model)
	}
	if resp.Text == "" {
		return nil, r.fail(&Error{Kind: KindEmptyResponse, Detail: "empty text"}, model)
	}

	tokensUsed := resp.TotalTokens
	if tokensUsed <= 0 {
		// Best-effort estimate when the provider omits usage.
		tokensUsed = inputTokens + r.counter.Count(resp.Text, model)
	}

	r.logger.Info("response generated",
		"model", model,
		"tokens_used", tokensUsed,
		"text_len", len(resp.Text),
	)

	return &Result{
		Text:        resp.Text,
		TokensUsed:  tokensUsed,
		InputTokens: inputTokens,
		Model:       model,
	}, nil
}

// classifyProviderError maps provider faults onto the failure taxonomy.
func classifyProviderError(err error) *Error {
	var perr *llm.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case llm.KindRateLimited:
			return &Error{Kind: KindOverloaded, Detail: "provider rate limit", Err: err}
		default:
			return &Error{Kind: KindUnavailable, Detail: "provider error", Err: err}
		}
	}
	return &Error{Kind: KindUnknown, Detail: "unexpected error", Err: err}
}

// fail logs a failure with context before returning it. No failure
// terminates the process.
func (r *Responder) fail(e *Error, model string) *Error {
	if model == "" {
		model = r.defaultModel
	}
	r.logger.Warn("completion failed",
		"kind", e.Kind.String(),
		"model", model,
		"detail", e.Detail,
		"error", e.Err,
	)
	return e
}
