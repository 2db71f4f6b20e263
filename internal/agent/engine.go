package agent

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
)

// Tunables are the decision thresholds for the autonomous loop. The
// defaults produce an eager participant that still backs off under its
// own cooldown; they are starting points, not correctness contracts.
type Tunables struct {
	CheckInterval time.Duration // idle wake-up between events
	MinCooldown   time.Duration
	MaxCooldown   time.Duration

	BaseProbability    float64 // reactive starting point before signal bonuses
	ProbabilityCeiling float64 // hard cap, strictly below 1 so silence stays possible

	SilenceBreakMin  time.Duration // silence threshold is redrawn per check
	SilenceBreakMax  time.Duration // from [min, max] so timing feels organic
	SilenceBreakProb float64
	StarterIdle      time.Duration // own idle time before starting a fresh angle
	StarterProb      float64

	SilenceSignal time.Duration // gap before a message that counts as a lull
}

func DefaultTunables() Tunables {
	return Tunables{
		CheckInterval:      2 * time.Second,
		MinCooldown:        5 * time.Second,
		MaxCooldown:        12 * time.Second,
		BaseProbability:    0.80,
		ProbabilityCeiling: 0.95,
		SilenceBreakMin:    7 * time.Second,
		SilenceBreakMax:    10 * time.Second,
		SilenceBreakProb:   0.85,
		StarterIdle:        15 * time.Second,
		StarterProb:        0.3,
		SilenceSignal:      10 * time.Second,
	}
}

// Probability weights for the reactive score. The sum routinely
// exceeds 1 before the ceiling clamp; that is intentional.
const (
	weightStanceChallenged = 0.8
	weightQuestionInDomain = 0.7
	weightSilence          = 0.6
	weightExpertise        = 0.6
	weightBurningQuestion  = 0.5

	quietBoost       = 0.15 // hasn't spoken in the recent window
	talkativePenalty = 0.7  // spoke three or more times recently
	energyWeight     = 0.2
	urgencyWeight    = 0.3
	missedBoost      = 0.2 // more than two missed opportunities

	urgencyStep  = 0.1
	urgencyDecay = 0.3
	energyStep   = 0.1
	energyCap    = 1.5

	cooldownStep = 500 * time.Millisecond // growth per action taken

	recentWindow = 10 // messages considered for participation fairness
	textWindow   = 5  // messages joined for stance matching
)

type proactive int

const (
	proactiveNone proactive = iota
	proactiveSilenceBreak
	proactiveStarter
)

// engine is the per-participant decision state. It is pure bookkeeping:
// no I/O, no clock of its own. The owning loop feeds it the current
// time and history; tests drive it directly.
type engine struct {
	tun     Tunables
	det     *detector
	arch    archetype
	rng     *rand.Rand
	name    string
	burning []string

	lastActionAt time.Time
	cooldown     time.Duration
	urgency      float64
	energy       float64
	missed       int
	actions      int

	triggersDetected int
	passes           int
}

func newEngine(name, personality, stance string, burning []string, tun Tunables, rng *rand.Rand) *engine {
	return &engine{
		tun:      tun,
		det:      newDetector(name, personality, stance, tun.SilenceSignal),
		arch:     classifyPersonality(personality),
		rng:      rng,
		name:     name,
		burning:  burning,
		cooldown: tun.MinCooldown,
		energy:   1.0,
	}
}

// gated reports whether the cooldown window is still open. A gated
// cycle is a missed opportunity and winds the urgency spring.
func (e *engine) gated(now time.Time) bool {
	if now.Sub(e.lastActionAt) < e.cooldown {
		e.missed++
		e.urgency += urgencyStep
		return true
	}
	return false
}

// score computes the reactive response probability for msg without
// sampling or mutating state. A direct mention short-circuits to 1,
// bypassing the ceiling.
func (e *engine) score(msg bus.Event, history []bus.Event) (float64, signals) {
	recent := tailEvents(history, recentWindow)
	recentText := joinBodies(tailEvents(recent, textWindow))
	sig := e.det.analyze(msg, recentText, history)

	if sig.directMention {
		return 1, sig
	}

	p := e.tun.BaseProbability
	if sig.stanceChallenged {
		p += weightStanceChallenged
	}
	if sig.questionInDomain {
		p += weightQuestionInDomain
	}
	if sig.silenceTooLong {
		p += weightSilence
	}
	if sig.expertiseNeeded {
		p += weightExpertise
	}
	if e.burningMatch(msg.Body) {
		p += weightBurningQuestion
	}

	switch mine := countSender(recent, e.name); {
	case mine == 0:
		p += quietBoost
	case mine >= 3:
		p *= talkativePenalty
	}

	p *= e.arch.multiplier(sig)
	p += e.energy * energyWeight
	p += e.urgency * urgencyWeight
	if e.missed > 2 {
		p += missedBoost
	}

	return math.Min(p, e.tun.ProbabilityCeiling), sig
}

// decideReactive samples the reactive score and records the decision.
func (e *engine) decideReactive(msg bus.Event, history []bus.Event) (bool, signals) {
	p, sig := e.score(msg, history)
	e.triggersDetected += sig.count()
	if sig.directMention || e.rng.Float64() < p {
		return true, sig
	}
	e.passes++
	e.missed++
	return false, sig
}

// decideProactive evaluates the timeout path: break a lull, or pitch a
// fresh angle when the agent itself has been idle. At most one fires
// per check.
func (e *engine) decideProactive(now time.Time, history []bus.Event) proactive {
	if len(history) == 0 {
		return proactiveNone
	}

	silence := now.Sub(history[len(history)-1].CreatedAt)
	span := e.tun.SilenceBreakMax - e.tun.SilenceBreakMin
	threshold := e.tun.SilenceBreakMin + time.Duration(e.rng.Float64()*float64(span))

	if silence > threshold {
		if countSender(tailEvents(history, textWindow), e.name) == 0 && e.rng.Float64() < e.tun.SilenceBreakProb {
			return proactiveSilenceBreak
		}
		return proactiveNone
	}

	if len(history) > 3 && now.Sub(e.lastActionAt) > e.tun.StarterIdle && e.rng.Float64() < e.tun.StarterProb {
		return proactiveStarter
	}
	return proactiveNone
}

// success records a posted response: the cooldown grows with the total
// action count (never shrinking), urgency unwinds, energy builds.
func (e *engine) success(now time.Time) {
	e.lastActionAt = now
	e.actions++
	e.urgency = math.Max(0, e.urgency-urgencyDecay)
	if e.missed > 0 {
		e.missed--
	}
	e.energy = math.Min(energyCap, e.energy+energyStep)

	cd := e.tun.MinCooldown + time.Duration(e.actions)*cooldownStep
	if cd > e.tun.MaxCooldown {
		cd = e.tun.MaxCooldown
	}
	e.cooldown = cd
}

// passEmpty records a generation that came back blank: counted as a
// pass, but not a missed opportunity.
func (e *engine) passEmpty() {
	e.passes++
}

// burningMatch reports whether msg brushes against one of the agent's
// burning questions (any of a question's first three words).
func (e *engine) burningMatch(body string) bool {
	content := strings.ToLower(body)
	for _, q := range e.burning {
		words := strings.Fields(strings.ToLower(q))
		if len(words) > 3 {
			words = words[:3]
		}
		for _, w := range words {
			if strings.Contains(content, w) {
				return true
			}
		}
	}
	return false
}

func tailEvents(events []bus.Event, n int) []bus.Event {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

func joinBodies(events []bus.Event) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = ev.Body
	}
	return strings.Join(parts, " ")
}

func countSender(events []bus.Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Sender == name {
			n++
		}
	}
	return n
}
