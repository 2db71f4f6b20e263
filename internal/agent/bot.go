package agent

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/clock"
	"github.com/ehrlich-b/palaver/internal/config"
	"github.com/ehrlich-b/palaver/internal/llm"
	"github.com/ehrlich-b/palaver/internal/logger"
	"github.com/ehrlich-b/palaver/internal/vote"
)

// Bot is an AI participant. During autonomous discussion its Run loop
// watches the bus and decides for itself when to speak; during
// structured phases the orchestrator calls Statement directly.
//
// All mutable state is guarded by mu. The Run loop is the only writer
// on the decision path; Stats may be read from any goroutine.
type Bot struct {
	name        string
	personality string
	stance      string
	model       string

	provider llm.Provider
	bus      *bus.Bus
	clk      clock.Clock
	tun      Tunables

	mu      sync.Mutex
	rng     *rand.Rand
	eng     *engine
	burning []string
	topic   string

	responses     int
	autonomous    int
	silenceBreaks int
	starters      int
	errors        int
	totalRespTime time.Duration
}

var _ Participant = (*Bot)(nil)

// BotOption adjusts construction, mainly for tests.
type BotOption func(*Bot)

// WithClock substitutes the time source.
func WithClock(clk clock.Clock) BotOption {
	return func(b *Bot) { b.clk = clk }
}

// WithRand substitutes the randomness source. The Rand must not be
// shared with another goroutine.
func WithRand(rng *rand.Rand) BotOption {
	return func(b *Bot) { b.rng = rng }
}

// WithTunables replaces the decision thresholds wholesale.
func WithTunables(t Tunables) BotOption {
	return func(b *Bot) { b.tun = t }
}

// NewBot builds a participant from its config. Cadence fields set in
// the config override the default tunables; options override both.
func NewBot(cfg config.BotConfig, provider llm.Provider, eventBus *bus.Bus, opts ...BotOption) *Bot {
	b := &Bot{
		name:        cfg.Name,
		personality: cfg.Personality,
		stance:      cfg.Stance,
		model:       cfg.Model,
		provider:    provider,
		bus:         eventBus,
		clk:         clock.Real(),
		tun:         DefaultTunables(),
	}
	if cfg.CheckInterval > 0 {
		b.tun.CheckInterval = cfg.CheckInterval.Std()
	}
	if cfg.MinCooldown > 0 {
		b.tun.MinCooldown = cfg.MinCooldown.Std()
	}
	if cfg.MaxCooldown > 0 {
		b.tun.MaxCooldown = cfg.MaxCooldown.Std()
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	b.burning = pickBurningQuestions(cfg.Personality, b.rng)
	b.eng = newEngine(b.name, b.personality, b.stance, b.burning, b.tun, b.rng)
	return b
}

func (b *Bot) Name() string { return b.name }

// SetTopic fixes the debate topic used in every prompt. Call before
// the session starts.
func (b *Bot) SetTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic = topic
}

// Warmup verifies the provider is reachable and responding sensibly.
func (b *Bot) Warmup(ctx context.Context) error {
	reply, err := b.provider.Chat(ctx, warmupMessages())
	if err != nil {
		return fmt.Errorf("warmup %s: %w", b.name, err)
	}
	if !strings.Contains(strings.ToLower(reply), "ready") {
		return fmt.Errorf("warmup %s: unexpected reply %q", b.name, reply)
	}
	return nil
}

// Run monitors the bus until ctx is cancelled, reacting to traffic and
// breaking silences on its own schedule. A generation failure never
// ends the loop.
func (b *Bot) Run(ctx context.Context) error {
	sub := b.bus.Subscribe()
	defer b.bus.Unsubscribe(sub)

	ticker := b.clk.NewTicker(b.tun.CheckInterval)
	defer ticker.Stop()

	logger.Info("participant monitoring", "name", b.name)
	defer logger.Info("participant stopped", "name", b.name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Sender == b.name {
				continue
			}
			b.observe(ctx, ev)
		case <-ticker.C:
			b.idleCheck(ctx)
		}
	}
}

// observe runs the reactive path for one incoming event.
func (b *Bot) observe(ctx context.Context, ev bus.Event) {
	history := b.bus.Recent(0)

	b.mu.Lock()
	if b.eng.gated(b.clk.Now()) {
		b.mu.Unlock()
		return
	}
	act, _ := b.eng.decideReactive(ev, history)
	b.mu.Unlock()

	if act {
		b.respond(ctx, history, &ev, TriggerReactive)
	}
}

// idleCheck runs the proactive path when no event arrived within the
// check interval.
func (b *Bot) idleCheck(ctx context.Context) {
	history := b.bus.Recent(0)

	b.mu.Lock()
	now := b.clk.Now()
	if b.eng.gated(now) {
		b.mu.Unlock()
		return
	}
	action := b.eng.decideProactive(now, history)
	b.mu.Unlock()

	switch action {
	case proactiveSilenceBreak:
		b.respond(ctx, history, nil, TriggerSilenceBreak)
	case proactiveStarter:
		b.respond(ctx, history, nil, TriggerStarter)
	}
}

// genTimeout caps a single autonomous generation so a hung provider
// cannot stall the loop. Structured turns and ballots are scoped by
// the orchestrator instead.
const genTimeout = 30 * time.Second

// respond generates and posts one autonomous message. The provider
// call runs outside the lock; state is committed only if text comes
// back non-empty.
func (b *Bot) respond(ctx context.Context, history []bus.Event, trigger *bus.Event, kind string) {
	start := b.clk.Now()

	b.mu.Lock()
	msgs := autonomousMessages(b.name, b.personality, b.stance, b.topic, b.burning, history, trigger, kind)
	b.mu.Unlock()

	genCtx, cancel := context.WithTimeout(ctx, genTimeout)
	text, err := b.provider.Chat(genCtx, msgs)
	cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.errors++
		logger.Warn("response generation failed", "name", b.name, "trigger", kind, "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		b.eng.passEmpty()
		return
	}

	b.bus.Append(b.name, text, bus.KindChat, bus.Tag("trigger", kind))

	elapsed := b.clk.Since(start)
	b.eng.success(b.clk.Now())
	b.responses++
	b.autonomous++
	b.totalRespTime += elapsed
	switch kind {
	case TriggerSilenceBreak:
		b.silenceBreaks++
	case TriggerStarter:
		b.starters++
	}
	logger.Info("autonomous response", "name", b.name, "trigger", kind, "took", elapsed)
}

// Statement produces one structured-turn response. Provider failures
// fall back to a canned line so the debate keeps moving; only a
// cancelled context surfaces as an error, which the orchestrator
// records as a timeout.
func (b *Bot) Statement(ctx context.Context, req TurnRequest) (string, error) {
	start := b.clk.Now()

	b.mu.Lock()
	topic := req.Topic
	if topic == "" {
		topic = b.topic
	}
	msgs := structuredMessages(b.name, b.personality, b.stance, topic, req.Recent)
	b.mu.Unlock()

	text, err := b.provider.Chat(ctx, msgs)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.errors++
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("structured turn failed, using fallback", "name", b.name, "error", err)
		return fallbackLine(topic, b.rng), nil
	}

	b.responses++
	b.totalRespTime += b.clk.Since(start)
	return strings.TrimSpace(text), nil
}

// Ballot asks the model to pick the most persuasive candidate and
// parses the reply by name.
func (b *Bot) Ballot(ctx context.Context, candidates []string) (vote.Ballot, error) {
	b.mu.Lock()
	msgs := ballotMessages(b.name, b.topic, candidates)
	b.mu.Unlock()

	reply, err := b.provider.Chat(ctx, msgs)
	if err != nil {
		b.mu.Lock()
		b.errors++
		b.mu.Unlock()
		return vote.Ballot{}, fmt.Errorf("ballot %s: %w", b.name, err)
	}

	choice := matchCandidate(reply, candidates)
	if choice == "" {
		return vote.Ballot{}, fmt.Errorf("ballot %s: no candidate named in reply %q", b.name, reply)
	}
	return vote.Ballot{
		Voter:         b.name,
		Candidate:     choice,
		Justification: strings.TrimSpace(reply),
		CastAt:        b.clk.Now(),
	}, nil
}

// matchCandidate returns the candidate mentioned earliest in reply.
func matchCandidate(reply string, candidates []string) string {
	lower := strings.ToLower(reply)
	best, bestIdx := "", -1
	for _, c := range candidates {
		i := strings.Index(lower, strings.ToLower(c))
		if i >= 0 && (bestIdx < 0 || i < bestIdx) {
			best, bestIdx = c, i
		}
	}
	return best
}

// Stats snapshots the bot's counters and decision state.
func (b *Bot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:                 b.name,
		Provider:             b.provider.Name(),
		Model:                b.model,
		Responses:            b.responses,
		AutonomousResponses:  b.autonomous,
		SilenceBreaks:        b.silenceBreaks,
		ConversationStarters: b.starters,
		TriggersDetected:     b.eng.triggersDetected,
		PassesMade:           b.eng.passes,
		MissedOpportunities:  b.eng.missed,
		Errors:               b.errors,
		Urgency:              b.eng.urgency,
		Energy:               b.eng.energy,
		CurrentCooldown:      b.eng.cooldown,
		BurningQuestions:     append([]string(nil), b.burning...),
	}
	if b.responses > 0 {
		s.AvgResponseTime = b.totalRespTime / time.Duration(b.responses)
	}
	if total := b.responses + b.errors; total > 0 {
		s.SuccessRate = float64(b.responses) / float64(total)
	}
	return s
}
