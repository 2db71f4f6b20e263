// Package llm adapts chat-completion APIs behind a single Provider
// interface so debate participants never know which vendor is
// generating their statements.
package llm

import (
	"context"
	"fmt"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Chat sends a message and gets a response
	Chat(ctx context.Context, messages []Message) (string, error)

	// Name returns the provider name
	Name() string
}

// Message represents a chat message
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// APIError is a non-2xx reply from a provider's HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// sampling carries the generation knobs shared by all providers.
// Short, varied completions keep the debate moving.
type sampling struct {
	temperature float32
	maxTokens   int
}

func defaultSampling() sampling {
	return sampling{temperature: 0.8, maxTokens: 120}
}

// Option adjusts provider sampling behavior.
type Option func(*sampling)

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float32) Option {
	return func(s *sampling) { s.temperature = t }
}

// WithMaxTokens overrides the default completion budget.
func WithMaxTokens(n int) Option {
	return func(s *sampling) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// NewProvider creates a new LLM provider based on config
func NewProvider(providerType, apiKey, model string, opts ...Option) (Provider, error) {
	switch providerType {
	case "openai":
		return NewOpenAIProvider(apiKey, model, opts...), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, model, opts...), nil
	case "dummy":
		return NewDummyProvider(0), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerType)
	}
}
