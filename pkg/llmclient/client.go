// Package llmclient defines the contract the Agent Pool and Decision Engine
// use to talk to an LLM-backed provider. This package ships no concrete
// provider — callers supply their own adapter behind Client.
package llmclient

import "context"

// TokenUsage reports cumulative token consumption for a client instance.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Options controls a single Invoke call. Zero values mean "use the
// provider's default".
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client is the contract the orchestration core depends on. Provider,
// model selection, and authentication are opaque to every caller of this
// interface.
type Client interface {
	// Invoke sends prompt to the model and returns its raw text response.
	Invoke(ctx context.Context, prompt string, opts *Options) (string, error)

	// EstimateCost returns the cost, in whatever unit the provider bills in,
	// for the given usage.
	EstimateCost(usage TokenUsage) float64

	// GetTokenUsage returns cumulative usage across every Invoke call made
	// so far on this client.
	GetTokenUsage() TokenUsage
}
