// Package session drives a debate from introduction through results:
// a forward-only phase state machine, time-boxed structured turns, and
// the lifecycle of every autonomous monitoring loop during free-for-all
// discussion.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/palaver/internal/agent"
	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/clock"
	"github.com/ehrlich-b/palaver/internal/config"
	"github.com/ehrlich-b/palaver/internal/logger"
	"github.com/ehrlich-b/palaver/internal/vote"
)

// Phase is one stage of the session state machine. Transitions only
// move forward; Finished is reached on every path, including aborts.
type Phase string

const (
	PhasePending           Phase = "pending"
	PhaseIntroduction      Phase = "introduction"
	PhaseOpeningStatements Phase = "opening_statements"
	PhaseDiscussion        Phase = "discussion"
	PhaseClosingStatements Phase = "closing_statements"
	PhaseVoting            Phase = "voting"
	PhaseResults           Phase = "results"
	PhaseFinished          Phase = "finished"
)

const (
	introSettlePause = 3 * time.Second
	statsInterval    = 5 * time.Second
	maxWarnings      = 3
)

// Results is everything the session produced, returned from Run and
// recorded by the archive.
type Results struct {
	SessionID   string         `json:"session_id"`
	Topic       string         `json:"topic"`
	Mode        string         `json:"mode"`
	Winner      string         `json:"winner"`
	Counts      map[string]int `json:"counts"`
	Ballots     []vote.Ballot  `json:"ballots"`
	Stats       []agent.Stats  `json:"participant_stats"`
	Prompts     int            `json:"moderator_prompts"`
	Warnings    map[string]int `json:"warnings,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	BusStats    bus.Stats      `json:"bus_stats"`
	AbortReason string         `json:"abort_reason,omitempty"`
}

// Snapshot is the periodic statistics view published for external
// display while the session runs.
type Snapshot struct {
	SessionID     string         `json:"session_id"`
	Topic         string         `json:"topic"`
	Phase         Phase          `json:"phase"`
	ActiveSpeaker string         `json:"active_speaker,omitempty"`
	Elapsed       time.Duration  `json:"elapsed"`
	Remaining     time.Duration  `json:"remaining"`
	Bus           bus.Stats      `json:"bus"`
	Participants  []agent.Stats  `json:"participants"`
	Warnings      map[string]int `json:"warnings,omitempty"`
}

// Orchestrator owns the session state machine. One per session; Run is
// called exactly once.
type Orchestrator struct {
	id           string
	topic        string
	cfg          config.DebateConfig
	bus          *bus.Bus
	moderator    *agent.Bot
	participants []agent.Participant
	collector    *vote.Collector
	clk          clock.Clock
	rng          *rand.Rand
	snapshots    func(Snapshot)

	mu            sync.Mutex
	phase         Phase
	activeSpeaker string
	warnings      map[string]int
	startedAt     time.Time
	phaseDeadline time.Time
	prompts       int
	aborted       bool
}

// Option adjusts construction, mainly for tests.
type Option func(*Orchestrator)

// WithClock substitutes the time source for every phase timer.
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) { o.clk = clk }
}

// WithRand substitutes the randomness source for facilitation prompts.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) { o.rng = rng }
}

// WithSnapshots registers a consumer for the periodic statistics
// snapshot. Delivery is fire-and-forget from the stats ticker.
func WithSnapshots(fn func(Snapshot)) Option {
	return func(o *Orchestrator) { o.snapshots = fn }
}

// New assembles an orchestrator over an existing bus, moderator, and
// participant roster. The roster order is the structured turn order.
func New(id, topic string, cfg config.DebateConfig, eventBus *bus.Bus, moderator *agent.Bot, participants []agent.Participant, collector *vote.Collector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		id:           id,
		topic:        topic,
		cfg:          cfg,
		bus:          eventBus,
		moderator:    moderator,
		participants: participants,
		collector:    collector,
		clk:          clock.Real(),
		phase:        PhasePending,
		warnings:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// WarningCount returns the structured-turn warnings recorded against a
// participant.
func (o *Orchestrator) WarningCount(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.warnings[name]
}

// PromptCount returns how many facilitation prompts the moderator has
// injected.
func (o *Orchestrator) PromptCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prompts
}

// Snapshot assembles the current statistics view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	sn := Snapshot{
		SessionID:     o.id,
		Topic:         o.topic,
		Phase:         o.phase,
		ActiveSpeaker: o.activeSpeaker,
		Warnings:      make(map[string]int, len(o.warnings)),
	}
	for name, n := range o.warnings {
		sn.Warnings[name] = n
	}
	if !o.startedAt.IsZero() {
		sn.Elapsed = o.clk.Now().Sub(o.startedAt)
	}
	if !o.phaseDeadline.IsZero() {
		if remaining := o.phaseDeadline.Sub(o.clk.Now()); remaining > 0 {
			sn.Remaining = remaining
		}
	}
	o.mu.Unlock()

	sn.Bus = o.bus.Stats()
	for _, p := range o.participants {
		sn.Participants = append(sn.Participants, p.Stats())
	}
	return sn
}

// Run executes every phase in order. Any phase error aborts the rest,
// posts a single system event, and still lands in Finished; the error
// is reported in the results and the return value.
func (o *Orchestrator) Run(ctx context.Context) (Results, error) {
	o.mu.Lock()
	o.startedAt = o.clk.Now()
	o.mu.Unlock()

	o.moderator.SetTopic(o.topic)
	for _, p := range o.participants {
		p.SetTopic(o.topic)
	}

	if o.snapshots != nil {
		statsCtx, stopStats := context.WithCancel(context.Background())
		defer stopStats()
		go o.publishSnapshots(statsCtx)
	}

	results := Results{
		SessionID: o.id,
		Topic:     o.topic,
		Mode:      o.cfg.Mode,
		StartedAt: o.startedAt,
	}

	phases := []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{PhaseIntroduction, o.runIntroduction},
		{PhaseOpeningStatements, o.runOpeningStatements},
		{PhaseDiscussion, o.runDiscussion},
		{PhaseClosingStatements, o.runClosingStatements},
		{PhaseVoting, func(ctx context.Context) error { return o.runVoting(ctx, &results) }},
		{PhaseResults, func(ctx context.Context) error { return o.runResults(ctx, &results) }},
	}

	var runErr error
	for _, ph := range phases {
		o.setPhase(ph.phase)
		if err := ph.run(ctx); err != nil {
			runErr = fmt.Errorf("phase %s: %w", ph.phase, err)
			o.abort(runErr)
			results.AbortReason = runErr.Error()
			break
		}
	}

	o.setPhase(PhaseFinished)
	o.finishResults(&results)
	return results, runErr
}

// abort posts the single human-readable failure event. Guarded so an
// abort is reported exactly once no matter how it happened.
func (o *Orchestrator) abort(err error) {
	o.mu.Lock()
	if o.aborted {
		o.mu.Unlock()
		return
	}
	o.aborted = true
	o.mu.Unlock()

	logger.Error("session aborted", "session", o.id, "error", err)
	o.bus.Append("system", fmt.Sprintf("Session aborted: %v", err), bus.KindSystem, nil)
}

func (o *Orchestrator) finishResults(results *Results) {
	o.mu.Lock()
	results.Prompts = o.prompts
	results.Warnings = make(map[string]int, len(o.warnings))
	for name, n := range o.warnings {
		results.Warnings[name] = n
	}
	o.mu.Unlock()

	results.EndedAt = o.clk.Now()
	results.BusStats = o.bus.Stats()
	for _, p := range o.participants {
		results.Stats = append(results.Stats, p.Stats())
	}
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.activeSpeaker = ""
	o.phaseDeadline = time.Time{}
	o.mu.Unlock()
	logger.Info("phase", "session", o.id, "phase", p)
}

func (o *Orchestrator) setDeadline(t time.Time) {
	o.mu.Lock()
	o.phaseDeadline = t
	o.mu.Unlock()
}

func (o *Orchestrator) setActiveSpeaker(name string) {
	o.mu.Lock()
	o.activeSpeaker = name
	o.mu.Unlock()
}

func (o *Orchestrator) publishSnapshots(ctx context.Context) {
	ticker := o.clk.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.snapshots(o.Snapshot())
		}
	}
}

// runIntroduction posts the framing event and gives everyone a moment
// to settle before the first structured turn.
func (o *Orchestrator) runIntroduction(ctx context.Context) error {
	var bots, humans []string
	for _, p := range o.participants {
		if p.Stats().Provider == "human" {
			humans = append(humans, p.Name())
		} else {
			bots = append(bots, p.Name())
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to today's debate!\n\nTopic: %s\n\n", o.topic)
	if len(bots) > 0 {
		fmt.Fprintf(&b, "AI participants: %s\n", strings.Join(bots, ", "))
	}
	if len(humans) > 0 {
		fmt.Fprintf(&b, "Human participants: %s\n", strings.Join(humans, ", "))
	}
	mode := "free-for-all: anyone may speak at any time"
	if o.cfg.Mode == "sequential" {
		mode = "structured: the moderator grants each turn"
	}
	fmt.Fprintf(&b, "\nDiscussion format (%s): %s\nDiscussion time: %s\n\nWe begin with opening statements.",
		o.cfg.Mode, mode, o.cfg.TimeLimit.Std())

	o.moderatorSay(b.String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clk.After(introSettlePause):
		return nil
	}
}

// runOpeningStatements grants one structured turn per participant in
// roster order. Openings are always structured, whatever the
// discussion mode.
func (o *Orchestrator) runOpeningStatements(ctx context.Context) error {
	o.moderatorSay("Opening statements. Each participant has " + o.cfg.OpeningTime.Std().String() + ".")
	for _, p := range o.participants {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.structuredTurn(ctx, p, "opening", o.cfg.OpeningTime.Std())
	}
	return nil
}

// runClosingStatements mirrors the openings in reverse order.
func (o *Orchestrator) runClosingStatements(ctx context.Context) error {
	o.moderatorSay("Closing statements, in reverse order. Each participant has " + o.cfg.ClosingTime.Std().String() + ".")
	for i := len(o.participants) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.structuredTurn(ctx, o.participants[i], "closing", o.cfg.ClosingTime.Std())
	}
	return nil
}

func (o *Orchestrator) runDiscussion(ctx context.Context) error {
	if o.cfg.Mode == "sequential" {
		return o.runStructuredDiscussion(ctx)
	}
	return o.runAutonomousDiscussion(ctx)
}

func (o *Orchestrator) moderatorSay(body string) {
	o.bus.Append(o.moderator.Name(), body, bus.KindModerator, nil)
}
