package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/palaver/internal/agent"
	"github.com/ehrlich-b/palaver/internal/logger"
)

const (
	facilitationTick = 15 * time.Second
	promptGap        = 45 * time.Second
)

// announcementMarks are the time-remaining milestones, largest first.
// Each fires exactly once, on the first tick at or under the mark.
var announcementMarks = []time.Duration{
	5 * time.Minute,
	2 * time.Minute,
	1 * time.Minute,
}

var facilitationPrompts = []string{
	"The floor is open — what does everyone think about the points raised so far?",
	"Let's hear a different perspective. Does anyone disagree with the last argument?",
	"What evidence would change your mind on this topic?",
	"Are there practical consequences we haven't considered yet?",
	"Can anyone steelman the opposing side's strongest argument?",
}

// runAutonomousDiscussion starts every participant's monitoring loop
// plus the moderator's own, runs facilitation until the budget
// expires, and then stops every loop deterministically: the phase does
// not advance until each Run has returned.
func (o *Orchestrator) runAutonomousDiscussion(ctx context.Context) error {
	budget := o.cfg.TimeLimit.Std()
	o.moderatorSay(fmt.Sprintf("Open discussion begins — speak freely. You have %s.", budget))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loops := make([]agent.Participant, 0, len(o.participants)+1)
	loops = append(loops, o.participants...)
	loops = append(loops, o.moderator)

	var wg sync.WaitGroup
	for _, p := range loops {
		wg.Add(1)
		go func(p agent.Participant) {
			defer wg.Done()
			if err := p.Run(loopCtx); err != nil && loopCtx.Err() == nil {
				logger.Warn("participant loop exited early", "session", o.id, "participant", p.Name(), "error", err)
			}
		}(p)
	}

	err := o.facilitate(loopCtx, budget)

	cancel()
	wg.Wait()

	if err != nil {
		return err
	}
	o.moderatorSay("Discussion time is up! Moving to closing statements.")
	return ctx.Err()
}

// facilitate is the session-level loop over the autonomous phase: it
// nudges the conversation out of long silences and announces the
// remaining time at fixed milestones. It never gates who may speak.
func (o *Orchestrator) facilitate(ctx context.Context, budget time.Duration) error {
	deadline := o.clk.Now().Add(budget)
	o.setDeadline(deadline)

	ticker := o.clk.NewTicker(facilitationTick)
	defer ticker.Stop()
	end := o.clk.After(budget)

	// Marks at or beyond the whole budget can never be "remaining";
	// pre-mark them so a short discussion skips them.
	announced := make([]bool, len(announcementMarks))
	for i, mark := range announcementMarks {
		if mark >= budget {
			announced[i] = true
		}
	}
	var lastPrompt time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-end:
			return nil
		case <-ticker.C:
			now := o.clk.Now()
			remaining := deadline.Sub(now)

			for i, mark := range announcementMarks {
				if !announced[i] && remaining <= mark && remaining > 0 {
					announced[i] = true
					o.moderatorSay(fmt.Sprintf("Time check: %s of discussion remaining.", mark))
				}
			}

			if last := o.bus.LastEventAt(); !last.IsZero() && now.Sub(last) >= o.cfg.SilenceTimeout.Std() {
				if lastPrompt.IsZero() || now.Sub(lastPrompt) >= promptGap {
					lastPrompt = now
					o.injectPrompt()
				}
			}
		}
	}
}

// injectPrompt posts one facilitation prompt under the moderator's
// identity and counts it.
func (o *Orchestrator) injectPrompt() {
	prompt := facilitationPrompts[o.rng.Intn(len(facilitationPrompts))]
	o.moderatorSay(prompt)
	o.mu.Lock()
	o.prompts++
	o.mu.Unlock()
	logger.Info("facilitation prompt injected", "session", o.id)
}
