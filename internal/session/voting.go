package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ehrlich-b/palaver/internal/agent"
	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/logger"
	"github.com/ehrlich-b/palaver/internal/vote"
)

// runVoting opens the collector over the roster, gathers one ballot
// per participant concurrently inside the voting window, and tallies.
// A session without a collector skips the phase.
func (o *Orchestrator) runVoting(ctx context.Context, results *Results) error {
	if o.collector == nil {
		logger.Info("voting disabled, skipping", "session", o.id)
		return nil
	}

	window := o.cfg.VotingDuration.Std()
	candidates := make([]string, 0, len(o.participants))
	for _, p := range o.participants {
		candidates = append(candidates, p.Name())
	}

	if err := o.collector.Open(candidates, window); err != nil {
		return fmt.Errorf("open voting: %w", err)
	}
	o.setDeadline(o.clk.Now().Add(window))
	o.moderatorSay(fmt.Sprintf("Voting is open for %s. Who made the most persuasive case? Candidates: %s.",
		window, strings.Join(candidates, ", ")))

	voteCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ballots := make(chan vote.Ballot, len(o.participants))

	var wg sync.WaitGroup
	for _, p := range o.participants {
		wg.Add(1)
		go func(p agent.Participant) {
			defer wg.Done()
			b, err := p.Ballot(voteCtx, candidates)
			if err != nil {
				if voteCtx.Err() == nil {
					logger.Warn("ballot not collected", "session", o.id, "voter", p.Name(), "error", err)
				}
				return
			}
			ballots <- b
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	expiry := o.clk.After(window)
collect:
	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-expiry:
			o.moderatorSay("Voting window closed.")
			cancel()
			<-done
			break collect
		case <-done:
			break collect
		}
	}
	close(ballots)

	for b := range ballots {
		if err := o.collector.Cast(b.Voter, b.Candidate, b.Justification); err != nil {
			logger.Warn("ballot rejected", "session", o.id, "voter", b.Voter, "error", err)
			continue
		}
		o.bus.Append(b.Voter, b.Justification, bus.KindVote, bus.Tag("candidate", b.Candidate))
		results.Ballots = append(results.Ballots, b)
	}

	tally, err := o.collector.Close()
	if err != nil {
		return fmt.Errorf("close voting: %w", err)
	}
	results.Winner = tally.Winner
	results.Counts = tally.Counts
	return nil
}

// runResults announces the tally and the participation record pulled
// from every participant's statistics snapshot.
func (o *Orchestrator) runResults(ctx context.Context, results *Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("The debate has concluded!\n\n")
	if results.Winner != "" {
		fmt.Fprintf(&b, "Most persuasive: %s\n", results.Winner)
		names := make([]string, 0, len(results.Counts))
		for name := range results.Counts {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if results.Counts[names[i]] != results.Counts[names[j]] {
				return results.Counts[names[i]] > results.Counts[names[j]]
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			fmt.Fprintf(&b, "  %s: %d vote(s)\n", name, results.Counts[name])
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No votes were cast.\n\n")
	}

	b.WriteString("Participation:\n")
	for _, p := range o.participants {
		st := p.Stats()
		fmt.Fprintf(&b, "  %s: %d response(s)", st.Name, st.Responses)
		if st.SilenceBreaks > 0 || st.ConversationStarters > 0 {
			fmt.Fprintf(&b, " (%d silence break(s), %d conversation starter(s))",
				st.SilenceBreaks, st.ConversationStarters)
		}
		b.WriteString("\n")
	}
	o.mu.Lock()
	prompts := o.prompts
	o.mu.Unlock()
	if prompts > 0 {
		fmt.Fprintf(&b, "  Moderator prompts: %d\n", prompts)
	}
	b.WriteString("\nThank you all for a spirited debate!")

	o.bus.Append(o.moderator.Name(), b.String(), bus.KindModerator, nil)
	return nil
}
