package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/clock"
	"github.com/ehrlich-b/palaver/internal/config"
	"github.com/ehrlich-b/palaver/internal/vote"
)

const (
	defaultInputTimeout     = 120 * time.Second
	defaultHumanMaxLength   = 500
	justificationReadWindow = 30 * time.Second
	shortResponseNote       = " [Note: Very short response]"
)

// Human is a console participant. Its Run loop mirrors the bot loop
// in shape: it watches the bus to display traffic and reads typed
// lines instead of calling a generator.
//
// Run and Statement share the input stream and are never used
// concurrently; the orchestrator drives one mode at a time.
type Human struct {
	name         string
	maxLen       int
	inputTimeout time.Duration

	bus *bus.Bus
	clk clock.Clock
	in  io.Reader
	out io.Writer

	readOnce sync.Once
	lines    chan string

	mu            sync.Mutex
	topic         string
	responses     int
	timeouts      int
	seen          int
	totalRespTime time.Duration
}

var _ Participant = (*Human)(nil)

// HumanOption adjusts construction, mainly for tests.
type HumanOption func(*Human)

// WithHumanClock substitutes the time source.
func WithHumanClock(clk clock.Clock) HumanOption {
	return func(h *Human) { h.clk = clk }
}

// NewHuman builds a console participant reading from in and writing
// prompts and the live feed to out.
func NewHuman(cfg config.HumanConfig, eventBus *bus.Bus, in io.Reader, out io.Writer, opts ...HumanOption) *Human {
	h := &Human{
		name:         cfg.Name,
		maxLen:       defaultHumanMaxLength,
		inputTimeout: defaultInputTimeout,
		bus:          eventBus,
		clk:          clock.Real(),
		in:           in,
		out:          out,
		lines:        make(chan string, 16),
	}
	if cfg.MaxMessageLength > 0 {
		h.maxLen = cfg.MaxMessageLength
	}
	if cfg.InputTimeout > 0 {
		h.inputTimeout = cfg.InputTimeout.Std()
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Human) Name() string { return h.name }

func (h *Human) SetTopic(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topic = topic
}

// startReader owns the input stream from first use. A console read
// cannot be interrupted, so the goroutine may outlive the session
// blocked on its final read.
func (h *Human) startReader() {
	h.readOnce.Do(func() {
		go func() {
			scanner := bufio.NewScanner(h.in)
			for scanner.Scan() {
				h.lines <- scanner.Text()
			}
			close(h.lines)
		}()
	})
}

// Run displays other participants' messages and posts typed lines to
// the bus until ctx is cancelled, input closes, or the player quits.
func (h *Human) Run(ctx context.Context) error {
	h.startReader()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	fmt.Fprintf(h.out, "You are in the debate as %s. Type a message and press enter. 'help' lists commands.\n", h.name)

	lines := h.lines
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Sender == h.name {
				continue
			}
			h.mu.Lock()
			h.seen++
			h.mu.Unlock()
			h.display(ev)
		case line, ok := <-lines:
			if !ok {
				// Input closed; keep displaying until cancelled.
				lines = nil
				continue
			}
			if h.handleLine(line) {
				return nil
			}
		}
	}
}

func (h *Human) display(ev bus.Event) {
	fmt.Fprintf(h.out, "[%s] %s: %s\n", ev.CreatedAt.Format("15:04:05"), ev.Sender, ev.Body)
}

// handleLine processes one typed line, reporting whether the player
// quit.
func (h *Human) handleLine(line string) bool {
	text := strings.TrimSpace(line)
	switch strings.ToLower(text) {
	case "":
		return false
	case "quit", "exit":
		fmt.Fprintln(h.out, "Thanks for participating!")
		return true
	case "help":
		h.printHelp()
		return false
	case "status":
		h.printStatus()
		return false
	case "history":
		h.printHistory()
		return false
	}

	if len([]rune(text)) < 3 {
		fmt.Fprintln(h.out, "Message too short - give the debate a full thought.")
		return false
	}

	h.bus.Append(h.name, h.prepare(text), bus.KindChat, nil)
	h.mu.Lock()
	h.responses++
	h.mu.Unlock()
	return false
}

// prepare applies the outgoing message policy: truncate over-long
// input, flag suspiciously short input.
func (h *Human) prepare(text string) string {
	runes := []rune(text)
	if h.maxLen > 3 && len(runes) > h.maxLen {
		text = string(runes[:h.maxLen-3]) + "..."
	}
	if len([]rune(text)) < 10 {
		text += shortResponseNote
	}
	return text
}

func (h *Human) printHelp() {
	fmt.Fprint(h.out, `Commands:
  help     show this message
  status   show your participation stats
  history  show the last few messages
  quit     leave the debate
Anything else is posted to the debate.
`)
}

func (h *Human) printStatus() {
	h.mu.Lock()
	topic, responses, seen := h.topic, h.responses, h.seen
	h.mu.Unlock()
	fmt.Fprintf(h.out, "Topic: %s\nMessages seen: %d\nResponses given: %d\n", topic, seen, responses)
}

func (h *Human) printHistory() {
	events := h.bus.Recent(5)
	if len(events) == 0 {
		fmt.Fprintln(h.out, "No messages yet.")
		return
	}
	for _, ev := range events {
		h.display(ev)
	}
}

// Statement prompts for one structured-turn response. An empty return
// with nil error means no input arrived inside the window.
func (h *Human) Statement(ctx context.Context, req TurnRequest) (string, error) {
	h.startReader()

	if req.Phase != "" {
		fmt.Fprintf(h.out, "\n--- %s: your turn ---\n", req.Phase)
	}
	for _, ev := range tailEvents(req.Recent, 3) {
		h.display(ev)
	}
	fmt.Fprintf(h.out, "%s, your response (%s to answer):\n> ", h.name, h.inputTimeout)

	start := h.clk.Now()
	line, err := h.readLine(ctx, h.inputTimeout)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(line)
	if len([]rune(text)) < 3 {
		h.mu.Lock()
		h.timeouts++
		h.mu.Unlock()
		if text == "" {
			fmt.Fprintln(h.out, "(no response this turn)")
		}
		return "", nil
	}

	h.mu.Lock()
	h.responses++
	h.totalRespTime += h.clk.Since(start)
	h.mu.Unlock()
	return h.prepare(text), nil
}

// Ballot prompts for a numbered vote with an optional justification.
func (h *Human) Ballot(ctx context.Context, candidates []string) (vote.Ballot, error) {
	h.startReader()

	fmt.Fprintf(h.out, "\nVoting time! You have %s to vote.\nCandidates:\n", h.inputTimeout)
	for i, c := range candidates {
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, c)
	}
	fmt.Fprintf(h.out, "Enter your choice (1-%d): ", len(candidates))

	line, err := h.readLine(ctx, h.inputTimeout)
	if err != nil {
		return vote.Ballot{}, err
	}
	choice := strings.TrimSpace(line)
	if choice == "" {
		return vote.Ballot{}, fmt.Errorf("ballot %s: no vote entered in time", h.name)
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(candidates) {
		return vote.Ballot{}, fmt.Errorf("ballot %s: invalid choice %q", h.name, choice)
	}

	fmt.Fprint(h.out, "Optional: why did you choose this candidate? ")
	just, err := h.readLine(ctx, justificationReadWindow)
	if err != nil {
		return vote.Ballot{}, err
	}

	return vote.Ballot{
		Voter:         h.name,
		Candidate:     candidates[n-1],
		Justification: strings.TrimSpace(just),
		CastAt:        h.clk.Now(),
	}, nil
}

// readLine waits for the next typed line. Timeout and closed input
// both return empty with no error.
func (h *Human) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.clk.After(timeout):
		return "", nil
	case line, ok := <-h.lines:
		if !ok {
			return "", nil
		}
		return line, nil
	}
}

// Stats snapshots the player's counters. SuccessRate doubles as the
// participation rate: answered turns over all offered turns.
func (h *Human) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Name:      h.name,
		Provider:  "human",
		Responses: h.responses,
		Timeouts:  h.timeouts,
	}
	if h.responses > 0 {
		s.AvgResponseTime = h.totalRespTime / time.Duration(h.responses)
	}
	if total := h.responses + h.timeouts; total > 0 {
		s.SuccessRate = float64(h.responses) / float64(total)
	}
	return s
}
