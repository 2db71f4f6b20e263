package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ehrlich-b/palaver/internal/logger"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	client *openai.Client
	model  string
	sampling
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, model string, opts ...Option) *OpenAIProvider {
	s := defaultSampling()
	for _, opt := range opts {
		opt(&s)
	}
	return &OpenAIProvider{
		client:   openai.NewClient(apiKey),
		model:    model,
		sampling: s,
	}
}

// Chat sends messages to OpenAI and returns the response
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	// Convert our Message type to OpenAI's ChatCompletionMessage
	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	logger.Debug("OpenAI API request",
		"model", p.model,
		"num_messages", len(messages))

	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    chatMessages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		// Nudge completions away from repeating earlier turns.
		PresencePenalty:  0.6,
		FrequencyPenalty: 0.3,
	})

	duration := time.Since(start)

	if err != nil {
		logger.Error("OpenAI API call failed",
			"error", err,
			"duration", duration,
			"model", p.model)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		logger.Error("No response from OpenAI",
			"duration", duration,
			"model", p.model)
		return "", fmt.Errorf("no response from OpenAI")
	}

	response := strings.TrimSpace(resp.Choices[0].Message.Content)

	logger.Debug("OpenAI API response",
		"model", p.model,
		"duration", duration,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"response_length", len(response))

	return response, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}
