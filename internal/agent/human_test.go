package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/clock"
	"github.com/ehrlich-b/palaver/internal/config"
)

// consoleBuffer collects the player-facing output; the Run loop writes
// from its own goroutine while the test polls.
type consoleBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (c *consoleBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.Write(p)
}

func (c *consoleBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.String()
}

func testHumanConfig(name string) config.HumanConfig {
	return config.HumanConfig{Name: name}
}

// startHumanRun launches Run over a pipe so the test can type lines
// interactively.
func startHumanRun(t *testing.T, b *bus.Bus, opts ...HumanOption) (*Human, *io.PipeWriter, *consoleBuffer, chan error) {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	out := &consoleBuffer{}

	h := NewHuman(testHumanConfig("Sam"), b, pr, out, opts...)
	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()
	return h, pw, out, done
}

func typeLine(t *testing.T, pw *io.PipeWriter, line string) {
	t.Helper()
	if _, err := io.WriteString(pw, line+"\n"); err != nil {
		t.Fatalf("type %q: %v", line, err)
	}
}

func TestHumanRunPostsTypedLinesAndQuits(t *testing.T) {
	b := bus.New()
	defer b.Close()

	_, pw, out, done := startHumanRun(t, b)

	typeLine(t, pw, "Hello everyone, I have thoughts on this")
	waitFor(t, func() bool { return b.LastSeq() == 1 }, "typed line to post")

	events := b.Recent(0)
	if events[0].Sender != "Sam" || events[0].Kind != bus.KindChat {
		t.Fatalf("posted event = %+v", events[0])
	}
	if events[0].Body != "Hello everyone, I have thoughts on this" {
		t.Errorf("body = %q", events[0].Body)
	}

	typeLine(t, pw, "quit")
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after quit, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit on quit")
	}
	if !strings.Contains(out.String(), "Thanks for participating!") {
		t.Error("missing goodbye message")
	}
}

func TestHumanRunMinimumLengthCountsRunes(t *testing.T) {
	b := bus.New()
	defer b.Close()

	_, pw, out, done := startHumanRun(t, b)

	typeLine(t, pw, "hi")     // 2 runes
	typeLine(t, pw, "你好")    // 2 runes, 6 bytes
	typeLine(t, pw, "你好吗")   // 3 runes: first to pass the gate
	waitFor(t, func() bool { return b.LastSeq() == 1 }, "3-rune line to post")

	events := b.Recent(0)
	if len(events) != 1 {
		t.Fatalf("posted %d events, want 1 (short lines must not post)", len(events))
	}
	if !strings.HasPrefix(events[0].Body, "你好吗") {
		t.Errorf("body = %q, want the 3-rune message", events[0].Body)
	}
	if got := strings.Count(out.String(), "Message too short"); got != 2 {
		t.Errorf("short-message notices = %d, want 2", got)
	}

	typeLine(t, pw, "quit")
	<-done
}

func TestHumanRunCommandsDoNotPost(t *testing.T) {
	b := bus.New()
	defer b.Close()

	h, pw, out, done := startHumanRun(t, b)
	h.SetTopic("robots")

	typeLine(t, pw, "help")
	typeLine(t, pw, "status")
	typeLine(t, pw, "history")
	waitFor(t, func() bool {
		s := out.String()
		return strings.Contains(s, "Commands:") &&
			strings.Contains(s, "Topic: robots") &&
			strings.Contains(s, "No messages yet.")
	}, "command output")

	if got := b.LastSeq(); got != 0 {
		t.Errorf("commands posted %d events, want 0", got)
	}

	typeLine(t, pw, "quit")
	<-done
}

func TestHumanRunDisplaysOthersSkipsOwn(t *testing.T) {
	b := bus.New()
	defer b.Close()

	_, pw, out, done := startHumanRun(t, b)
	waitFor(t, func() bool { return b.SubscriberCount() == 1 }, "run loop to subscribe")

	b.Append("Grace", "the evidence is thin", bus.KindChat, nil)
	waitFor(t, func() bool {
		return strings.Contains(out.String(), "Grace: the evidence is thin")
	}, "other participant's line to display")

	b.Append("Sam", "echoed from elsewhere", bus.KindChat, nil)
	b.Append("Grace", "and a follow-up", bus.KindChat, nil)
	waitFor(t, func() bool {
		return strings.Contains(out.String(), "Grace: and a follow-up")
	}, "second line to display")

	if strings.Contains(out.String(), "echoed from elsewhere") {
		t.Error("own message was echoed back")
	}

	typeLine(t, pw, "quit")
	<-done
}

func TestHumanRunExitsOnContextCancel(t *testing.T) {
	b := bus.New()
	defer b.Close()

	pr, pw := io.Pipe()
	defer pw.Close()
	h := NewHuman(testHumanConfig("Sam"), b, pr, &consoleBuffer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestHumanStatementReturnsTypedResponse(t *testing.T) {
	b := bus.New()
	defer b.Close()
	out := &consoleBuffer{}

	h := NewHuman(testHumanConfig("Sam"), b, strings.NewReader("I believe the motion stands on its merits\n"), out)

	text, err := h.Statement(context.Background(), TurnRequest{
		Topic: "robots",
		Phase: "opening",
		Recent: []bus.Event{
			chatEvent(1, "Grace", "my opening", time.Unix(1000, 0)),
		},
	})
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if text != "I believe the motion stands on its merits" {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(out.String(), "--- opening: your turn ---") {
		t.Error("missing phase header")
	}
	if !strings.Contains(out.String(), "Grace: my opening") {
		t.Error("recent context not shown before the prompt")
	}
	if got := h.Stats().Responses; got != 1 {
		t.Errorf("Responses = %d, want 1", got)
	}
}

func TestHumanStatementTimeoutIsNotAnError(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	b := bus.New()
	defer b.Close()
	out := &consoleBuffer{}

	pr, pw := io.Pipe()
	defer pw.Close()
	h := NewHuman(testHumanConfig("Sam"), b, pr, out, WithHumanClock(fc))

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := h.Statement(context.Background(), TurnRequest{Topic: "robots"})
		done <- result{text, err}
	}()

	fc.WaitForTimers(1)
	fc.Advance(defaultInputTimeout)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Statement returned %v on timeout, want nil", res.err)
		}
		if res.text != "" {
			t.Errorf("text = %q, want empty on timeout", res.text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Statement did not return after the window elapsed")
	}

	if got := h.Stats().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
	if !strings.Contains(out.String(), "(no response this turn)") {
		t.Error("missing no-response notice")
	}
}

func TestHumanStatementShortInputCountsAsTimeout(t *testing.T) {
	b := bus.New()
	defer b.Close()

	h := NewHuman(testHumanConfig("Sam"), b, strings.NewReader("ok\n"), &consoleBuffer{})

	text, err := h.Statement(context.Background(), TurnRequest{Topic: "robots"})
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty for under-length input", text)
	}
	stats := h.Stats()
	if stats.Timeouts != 1 || stats.Responses != 0 {
		t.Errorf("stats = %+v, want one timeout and no responses", stats)
	}
}

func TestHumanPreparePolicy(t *testing.T) {
	b := bus.New()
	defer b.Close()

	cfg := testHumanConfig("Sam")
	cfg.MaxMessageLength = 10
	h := NewHuman(cfg, b, strings.NewReader(""), &consoleBuffer{})

	if got := h.prepare("abcdefghijklmno"); got != "abcdefg..." {
		t.Errorf("prepare(long) = %q, want truncation to the limit", got)
	}
	if got := h.prepare("tiny"); !strings.HasSuffix(got, shortResponseNote) {
		t.Errorf("prepare(short) = %q, want the short-response note", got)
	}
}

func TestHumanBallotNumberedChoice(t *testing.T) {
	b := bus.New()
	defer b.Close()

	h := NewHuman(testHumanConfig("Sam"), b, strings.NewReader("2\nsharp rebuttals\n"), &consoleBuffer{})

	ballot, err := h.Ballot(context.Background(), []string{"Grace", "Hal"})
	if err != nil {
		t.Fatalf("Ballot: %v", err)
	}
	if ballot.Voter != "Sam" || ballot.Candidate != "Hal" {
		t.Errorf("ballot = %+v", ballot)
	}
	if ballot.Justification != "sharp rebuttals" {
		t.Errorf("justification = %q", ballot.Justification)
	}
}

func TestHumanBallotJustificationIsOptional(t *testing.T) {
	b := bus.New()
	defer b.Close()

	// Input ends after the choice: the justification read comes back
	// empty without failing the ballot.
	h := NewHuman(testHumanConfig("Sam"), b, strings.NewReader("1\n"), &consoleBuffer{})

	ballot, err := h.Ballot(context.Background(), []string{"Grace", "Hal"})
	if err != nil {
		t.Fatalf("Ballot: %v", err)
	}
	if ballot.Candidate != "Grace" || ballot.Justification != "" {
		t.Errorf("ballot = %+v", ballot)
	}
}

func TestHumanBallotRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"out of range", "7\n"},
		{"not a number", "Grace\n"},
		{"no input", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New()
			defer b.Close()

			h := NewHuman(testHumanConfig("Sam"), b, strings.NewReader(tt.input), &consoleBuffer{})
			if _, err := h.Ballot(context.Background(), []string{"Grace", "Hal"}); err == nil {
				t.Errorf("Ballot accepted %s", tt.name)
			}
		})
	}
}
