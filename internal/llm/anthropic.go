package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ehrlich-b/palaver/internal/logger"
)

// AnthropicProvider implements the Provider interface for Anthropic's API
type AnthropicProvider struct {
	apiKey string
	model  string
	sampling
	client *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model string, opts ...Option) *AnthropicProvider {
	s := defaultSampling()
	for _, opt := range opts {
		opt(&s)
	}
	return &AnthropicProvider{
		apiKey:   apiKey,
		model:    model,
		sampling: s,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Anthropic API types
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat sends a conversation to Anthropic and returns the response text
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	anthropicReq := p.convertRequest(messages)

	logger.Debug("Anthropic API request",
		"model", p.model,
		"num_messages", len(anthropicReq.Messages))

	start := time.Now()

	respBody, err := p.makeRequest(ctx, anthropicReq)

	duration := time.Since(start)

	if err != nil {
		logger.Error("Anthropic API call failed",
			"error", err,
			"duration", duration,
			"model", p.model)
		return "", err
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return "", fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	var textContent []string
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			textContent = append(textContent, block.Text)
		}
	}
	response := strings.TrimSpace(strings.Join(textContent, ""))

	logger.Debug("Anthropic API response",
		"model", p.model,
		"duration", duration,
		"input_tokens", anthropicResp.Usage.InputTokens,
		"output_tokens", anthropicResp.Usage.OutputTokens,
		"response_length", len(response))

	return response, nil
}

// convertRequest converts our message list to Anthropic format.
// Anthropic separates system messages from the conversation.
func (p *AnthropicProvider) convertRequest(messages []Message) *anthropicRequest {
	temp := p.temperature
	anthropicReq := &anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: &temp,
	}

	var systemMsg string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemMsg != "" {
				systemMsg += "\n\n"
			}
			systemMsg += msg.Content
		} else {
			anthropicReq.Messages = append(anthropicReq.Messages, anthropicMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	if systemMsg != "" {
		anthropicReq.System = systemMsg
	}

	return anthropicReq
}

// makeRequest makes an HTTP request to Anthropic API
func (p *AnthropicProvider) makeRequest(ctx context.Context, req *anthropicRequest) ([]byte, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", "https://api.anthropic.com/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "Anthropic", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}
