// Package llm provides the completion provider client.
package llm

import "context"

// Provider is the narrow interface the orchestrator depends on.
// One attempt per call; timeouts and cancellation arrive via ctx.
type Provider interface {
	// Complete sends a chat completion request and returns the response.
	// Failures are returned as *Error where the provider answered with a
	// classifiable fault, or as ordinary errors for local faults.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Ping verifies the provider is reachable and the credentials work.
	Ping(ctx context.Context) error
}

// Request is a single chat completion request: a system prompt, one
// user message, and a response-token cap.
type Request struct {
	Model        string
	SystemPrompt string
	UserMessage  string
	MaxTokens    int
	Temperature  float64
}

// Response is the provider's answer, reduced to what the orchestrator
// needs.
type Response struct {
	// Text is the content of the top choice. Empty when the provider
	// returned a choice with no content.
	Text string

	// Choices is how many candidate completions the provider returned.
	Choices int

	// TotalTokens is the provider-reported usage, or 0 when the usage
	// block was absent.
	TotalTokens int

	// Model echoes the model that served the request.
	Model string
}
