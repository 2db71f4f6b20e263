package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DummyProvider is a mock LLM provider for offline runs and testing.
// It answers warmup probes, picks a candidate when a ballot prompt
// lists them, and otherwise rotates through canned debate lines.
type DummyProvider struct {
	delay time.Duration

	mu    sync.Mutex
	calls int
}

var dummyLines = []string{
	"That's a fascinating point! I have thoughts on this...",
	"Wait, there are some important aspects we should consider!",
	"I've been listening and I really want to add something here!",
	"Actually, the evidence points the other way on this one.",
	"Hold on, has anyone thought about the practical side of this?",
}

// NewDummyProvider creates a new dummy LLM provider
func NewDummyProvider(delay time.Duration) *DummyProvider {
	return &DummyProvider{
		delay: delay,
	}
}

// Chat implements the Provider interface with hardcoded responses
func (d *DummyProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	// Simulate processing time
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// Get the last user message
	var lastUserMessage string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUserMessage = strings.ToLower(messages[i].Content)
			break
		}
	}

	d.mu.Lock()
	call := d.calls
	d.calls++
	d.mu.Unlock()

	// Warmup probe asks for a single-word confirmation.
	if strings.Contains(lastUserMessage, "ready to participate") {
		return "Ready", nil
	}

	// Ballot prompts carry a "Candidates: a, b, c." line; answer with
	// one of them so offline voting still resolves.
	if idx := strings.Index(lastUserMessage, "candidates:"); idx >= 0 {
		rest := lastUserMessage[idx+len("candidates:"):]
		if end := strings.IndexAny(rest, ".\n"); end >= 0 {
			rest = rest[:end]
		}
		var names []string
		for _, name := range strings.Split(rest, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			return names[call%len(names)], nil
		}
	}

	return dummyLines[call%len(dummyLines)], nil
}

// Name returns the provider name
func (d *DummyProvider) Name() string {
	return "dummy"
}

// Calls reports how many completions have been served.
func (d *DummyProvider) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
