package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ehrlich-b/palaver/internal/agent"
	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/logger"
)

// structuredTurn grants one time-boxed speaking slot. The participant's
// Statement runs in its own goroutine under a slot-scoped context;
// expiry cancels the in-flight call and records exactly one warning.
// A turn never fails the phase — errors and timeouts are announced and
// the session moves on.
func (o *Orchestrator) structuredTurn(ctx context.Context, p agent.Participant, phase string, slot time.Duration) {
	name := p.Name()
	o.setActiveSpeaker(name)
	defer o.setActiveSpeaker("")

	o.moderatorSay(fmt.Sprintf("%s, you have the floor (%s).", name, slot))

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type turnResult struct {
		text string
		err  error
	}
	resCh := make(chan turnResult, 1)
	go func() {
		text, err := p.Statement(turnCtx, agent.TurnRequest{
			Topic:  o.topic,
			Phase:  phase,
			Recent: o.bus.Recent(5),
		})
		resCh <- turnResult{text, err}
	}()

	// The warning fires once when the remaining slot drops under the
	// threshold; slots shorter than the threshold skip it.
	var warnCh <-chan time.Time
	if warnAt := slot - o.cfg.WarningTime.Std(); warnAt > 0 {
		warnCh = o.clk.After(warnAt)
	}
	expiry := o.clk.After(slot)

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-resCh
			return

		case <-warnCh:
			warnCh = nil
			o.moderatorSay(fmt.Sprintf("%s: %s remaining.", name, o.cfg.WarningTime.Std()))

		case <-expiry:
			cancel()
			<-resCh // the cancelled call must resolve before we move on
			n := o.recordWarning(name)
			o.moderatorSay(fmt.Sprintf("%s exceeded the time limit (warning %d/%d).", name, n, maxWarnings))
			if n == maxWarnings {
				// Advisory only: nobody is disconnected over warnings.
				o.moderatorSay(fmt.Sprintf("%s has reached %d warnings and may be muted by the moderator.", name, maxWarnings))
			}
			return

		case res := <-resCh:
			if res.err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("structured turn failed", "session", o.id, "participant", name, "error", res.err)
				o.moderatorSay(fmt.Sprintf("%s was unable to respond this turn.", name))
				return
			}
			if res.text == "" {
				o.moderatorSay(fmt.Sprintf("%s passes.", name))
				return
			}
			o.postTurn(name, res.text, phase)
			return
		}
	}
}

// postTurn appends a structured-turn response, truncating over-long
// text with a notice.
func (o *Orchestrator) postTurn(name, text, phase string) {
	if max := o.cfg.MaxMessageLength; max > 3 {
		if runes := []rune(text); len(runes) > max {
			text = string(runes[:max-3]) + "..."
			o.moderatorSay(fmt.Sprintf("%s's response was truncated to %d characters.", name, max))
		}
	}
	o.bus.Append(name, text, bus.KindChat, bus.Tag("turn", phase))
}

func (o *Orchestrator) recordWarning(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings[name]++
	return o.warnings[name]
}

// runStructuredDiscussion cycles the roster with a bounded slot each
// until the discussion budget elapses. The final slot shrinks to
// whatever budget remains.
func (o *Orchestrator) runStructuredDiscussion(ctx context.Context) error {
	budget := o.cfg.TimeLimit.Std()
	deadline := o.clk.Now().Add(budget)
	o.setDeadline(deadline)

	o.moderatorSay(fmt.Sprintf("Structured discussion begins. Turns of up to %s each; %s total.",
		o.cfg.ResponseTime.Std(), budget))

	for round := 1; ; round++ {
		for _, p := range o.participants {
			if err := ctx.Err(); err != nil {
				return err
			}
			remaining := deadline.Sub(o.clk.Now())
			if remaining <= 0 {
				o.moderatorSay("Discussion time is up.")
				return nil
			}
			slot := o.cfg.ResponseTime.Std()
			if slot > remaining {
				slot = remaining
			}
			o.structuredTurn(ctx, p, "discussion", slot)
		}
		logger.Debug("discussion round complete", "session", o.id, "round", round)
	}
}
