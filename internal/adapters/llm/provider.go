// Package llm contains the LLM provider client used by the analysis engine.
package llm

import (
	"context"
	"time"
)

// Response is the provider-agnostic result of one generation call.
type Response struct {
	// Content is the raw model output. The analysis engine strips Markdown
	// fences and parses it as JSON.
	Content    string
	TokenUsage TokenUsage
	Duration   time.Duration
	ModelUsed  string
}

// TokenUsage is the provider-reported token accounting.
type TokenUsage struct {
	Input  int
	Output int
	Total  int
}

// Provider defines the interface for LLM backends.
type Provider interface {
	// GenerateAnalysis sends the prompt and returns the raw completion.
	// Implementations must not retry internally: the caller's circuit
	// breaker needs to observe every failure.
	GenerateAnalysis(ctx context.Context, prompt string) (*Response, error)

	// Name returns the provider name.
	Name() string
}
