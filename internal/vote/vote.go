// Package vote collects one ballot per voter and resolves a winner
// when the session closes. Recasting replaces the earlier ballot.
package vote

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/palaver/internal/clock"
	"github.com/ehrlich-b/palaver/internal/logger"
)

// Ballot is a single recorded vote.
type Ballot struct {
	Voter         string    `json:"voter"`
	Candidate     string    `json:"candidate"`
	Justification string    `json:"justification,omitempty"`
	CastAt        time.Time `json:"cast_at"`
	Anonymous     bool      `json:"anonymous,omitempty"`
}

// Results summarizes a closed voting session.
type Results struct {
	Winner            string            `json:"winner"`
	Tied              []string          `json:"tied,omitempty"`
	Counts            map[string]int    `json:"counts"`
	TotalVotes        int               `json:"total_votes"`
	ByVoter           map[string]Ballot `json:"by_voter"`
	Duration          time.Duration     `json:"duration"`
	ParticipationRate float64           `json:"participation_rate"`
}

// Session is one completed vote kept in collector history.
type Session struct {
	EndedAt    time.Time `json:"ended_at"`
	Candidates []string  `json:"candidates"`
	Results    Results   `json:"results"`
}

// Config mirrors the voting section of the app configuration.
type Config struct {
	Enabled                bool
	AllowParticipantVoting bool
	RequireJustification   bool
	AnonymousVotes         bool
}

// Summary is a live snapshot of an open session.
type Summary struct {
	Candidates    []string       `json:"candidates"`
	Counts        map[string]int `json:"counts"`
	TotalVotes    int            `json:"total_votes"`
	TimeRemaining time.Duration  `json:"time_remaining"`
	Active        bool           `json:"active"`
}

// Performance aggregates a candidate's record across collector history.
type Performance struct {
	Candidate      string  `json:"candidate"`
	Wins           int     `json:"wins"`
	TotalVotes     int     `json:"total_votes"`
	Participations int     `json:"participations"`
	WinRate        float64 `json:"win_rate"`
	AvgVotes       float64 `json:"avg_votes"`
}

// Collector manages voting sessions. Safe for concurrent use.
type Collector struct {
	mu  sync.Mutex
	cfg Config
	clk clock.Clock

	active     bool
	candidates []string
	eligible   map[string]bool // empty means open voting
	ballots    map[string]Ballot
	startedAt  time.Time
	deadline   time.Time

	history []Session
}

// NewCollector creates an idle collector.
func NewCollector(cfg Config, clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.Real()
	}
	return &Collector{cfg: cfg, clk: clk}
}

// Open starts a voting session over the given candidates. Participants
// are eligible voters only when the config allows it; with no eligible
// list the vote is open to anyone.
func (c *Collector) Open(candidates []string, duration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		return fmt.Errorf("voting system is disabled")
	}
	if c.active {
		return fmt.Errorf("voting session already active")
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no candidates to vote for")
	}

	c.candidates = append([]string(nil), candidates...)
	c.eligible = make(map[string]bool)
	if c.cfg.AllowParticipantVoting {
		for _, name := range candidates {
			c.eligible[name] = true
		}
	}
	c.ballots = make(map[string]Ballot)
	c.startedAt = c.clk.Now()
	c.deadline = c.startedAt.Add(duration)
	c.active = true

	logger.Info("voting started", "candidates", len(candidates), "closes_in", duration)
	return nil
}

// Cast records a ballot, replacing any earlier ballot from the same
// voter.
func (c *Collector) Cast(voter, candidate, justification string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return fmt.Errorf("no active voting session")
	}
	if c.clk.Now().After(c.deadline) {
		return fmt.Errorf("voting period has ended")
	}
	if len(c.eligible) > 0 && !c.eligible[voter] {
		return fmt.Errorf("voter %s is not eligible to vote", voter)
	}
	if !c.isCandidate(candidate) {
		return fmt.Errorf("invalid candidate: %s", candidate)
	}
	if voter == candidate && !c.cfg.AllowParticipantVoting {
		return fmt.Errorf("self-voting is not allowed")
	}
	if c.cfg.RequireJustification && justification == "" {
		return fmt.Errorf("vote justification is required")
	}

	c.ballots[voter] = Ballot{
		Voter:         voter,
		Candidate:     candidate,
		Justification: justification,
		CastAt:        c.clk.Now(),
		Anonymous:     c.cfg.AnonymousVotes,
	}
	logger.Info("vote recorded", "voter", voter, "candidate", candidate)
	return nil
}

// Close ends the session and computes results. Ties produce a
// "TIE: a, b" winner string with the tied names sorted.
func (c *Collector) Close() (Results, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return Results{}, fmt.Errorf("no active voting session")
	}
	c.active = false
	endedAt := c.clk.Now()

	counts := make(map[string]int)
	for _, b := range c.ballots {
		counts[b.Candidate]++
	}

	results := Results{
		Counts:     counts,
		TotalVotes: len(c.ballots),
		ByVoter:    make(map[string]Ballot, len(c.ballots)),
		Duration:   endedAt.Sub(c.startedAt),
	}
	for voter, b := range c.ballots {
		results.ByVoter[voter] = b
	}

	if len(counts) > 0 {
		maxVotes := 0
		for _, n := range counts {
			if n > maxVotes {
				maxVotes = n
			}
		}
		var winners []string
		for candidate, n := range counts {
			if n == maxVotes {
				winners = append(winners, candidate)
			}
		}
		sort.Strings(winners)
		if len(winners) == 1 {
			results.Winner = winners[0]
		} else {
			results.Winner = "TIE: " + strings.Join(winners, ", ")
			results.Tied = winners
		}
	}

	if len(c.eligible) > 0 {
		results.ParticipationRate = float64(len(c.ballots)) / float64(len(c.eligible))
	}

	c.history = append(c.history, Session{
		EndedAt:    endedAt,
		Candidates: append([]string(nil), c.candidates...),
		Results:    results,
	})

	logger.Info("voting ended",
		"winner", results.Winner,
		"total_votes", results.TotalVotes,
		"participation", fmt.Sprintf("%.0f%%", results.ParticipationRate*100))
	return results, nil
}

// Summary reports the current standings without closing the session.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return Summary{}
	}
	counts := make(map[string]int)
	for _, b := range c.ballots {
		counts[b.Candidate]++
	}
	remaining := c.deadline.Sub(c.clk.Now())
	if remaining < 0 {
		remaining = 0
	}
	return Summary{
		Candidates:    append([]string(nil), c.candidates...),
		Counts:        counts,
		TotalVotes:    len(c.ballots),
		TimeRemaining: remaining,
		Active:        true,
	}
}

// AddEligibleVoter grants an extra identity the right to vote in the
// open session, e.g. an audience member.
func (c *Collector) AddEligibleVoter(voter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eligible == nil {
		c.eligible = make(map[string]bool)
	}
	c.eligible[voter] = true
}

// RemoveEligibleVoter revokes voting rights.
func (c *Collector) RemoveEligibleVoter(voter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.eligible, voter)
}

// History returns a copy of all completed sessions.
func (c *Collector) History() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Session, len(c.history))
	copy(out, c.history)
	return out
}

// VoterHistory returns every ballot a voter has cast across sessions.
func (c *Collector) VoterHistory(voter string) []Ballot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Ballot
	for _, s := range c.history {
		if b, ok := s.Results.ByVoter[voter]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Performance aggregates a candidate's record across all sessions.
func (c *Collector) Performance(candidate string) Performance {
	c.mu.Lock()
	defer c.mu.Unlock()

	perf := Performance{Candidate: candidate}
	for _, s := range c.history {
		participated := false
		for _, name := range s.Candidates {
			if name == candidate {
				participated = true
				break
			}
		}
		if !participated {
			continue
		}
		perf.Participations++
		if s.Results.Winner == candidate {
			perf.Wins++
		}
		perf.TotalVotes += s.Results.Counts[candidate]
	}
	if perf.Participations > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.Participations)
		perf.AvgVotes = float64(perf.TotalVotes) / float64(perf.Participations)
	}
	return perf
}

// Export renders the collector history as "json", "csv", or "txt".
func (c *Collector) Export(format string) (string, error) {
	history := c.History()
	if len(history) == 0 {
		return "No voting history available", nil
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(history, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal history: %w", err)
		}
		return string(data), nil

	case "csv":
		var buf strings.Builder
		w := csv.NewWriter(&buf)
		if err := w.Write([]string{"Session", "Ended", "Candidate", "Votes", "Winner"}); err != nil {
			return "", err
		}
		for i, s := range history {
			for _, candidate := range sortedByVotes(s.Results.Counts) {
				record := []string{
					fmt.Sprintf("%d", i+1),
					s.EndedAt.Format(time.RFC3339),
					candidate,
					fmt.Sprintf("%d", s.Results.Counts[candidate]),
					fmt.Sprintf("%t", s.Results.Winner == candidate),
				}
				if err := w.Write(record); err != nil {
					return "", err
				}
			}
		}
		w.Flush()
		return buf.String(), w.Error()

	case "txt":
		var b strings.Builder
		b.WriteString("=== VOTING HISTORY REPORT ===\n\n")
		for i, s := range history {
			fmt.Fprintf(&b, "Session %d:\n", i+1)
			fmt.Fprintf(&b, "  Winner: %s\n", s.Results.Winner)
			fmt.Fprintf(&b, "  Total Votes: %d\n", s.Results.TotalVotes)
			b.WriteString("  Vote Breakdown:\n")
			for _, candidate := range sortedByVotes(s.Results.Counts) {
				fmt.Fprintf(&b, "    %s: %d\n", candidate, s.Results.Counts[candidate])
			}
			b.WriteString("\n")
		}
		return b.String(), nil

	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// Reset returns the collector to its initial idle state. History is
// preserved.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.candidates = nil
	c.eligible = nil
	c.ballots = nil
	c.startedAt = time.Time{}
	c.deadline = time.Time{}
}

// Status describes the collector for operational introspection.
type Status struct {
	Enabled           bool          `json:"enabled"`
	Active            bool          `json:"active"`
	Candidates        []string      `json:"candidates,omitempty"`
	EligibleVoters    int           `json:"eligible_voters"`
	VotesCast         int           `json:"votes_cast"`
	TimeRemaining     time.Duration `json:"time_remaining"`
	SessionsCompleted int           `json:"sessions_completed"`
}

// Status returns the current collector state.
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Enabled:           c.cfg.Enabled,
		Active:            c.active,
		Candidates:        append([]string(nil), c.candidates...),
		EligibleVoters:    len(c.eligible),
		VotesCast:         len(c.ballots),
		SessionsCompleted: len(c.history),
	}
	if c.active && !c.deadline.IsZero() {
		if remaining := c.deadline.Sub(c.clk.Now()); remaining > 0 {
			st.TimeRemaining = remaining
		}
	}
	return st
}

func (c *Collector) isCandidate(name string) bool {
	for _, candidate := range c.candidates {
		if candidate == name {
			return true
		}
	}
	return false
}

// sortedByVotes orders candidates by descending vote count, breaking
// ties by name for stable output.
func sortedByVotes(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
