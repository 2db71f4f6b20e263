package vote

import (
	"strings"
	"testing"
	"time"

	"github.com/ehrlich-b/palaver/internal/clock"
)

func openCollector(t *testing.T, cfg Config) (*Collector, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1000, 0))
	c := NewCollector(cfg, fc)
	if err := c.Open([]string{"Ada", "Grace", "Alan"}, 5*time.Minute); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, fc
}

func TestCastAndCloseResolvesWinner(t *testing.T) {
	c, _ := openCollector(t, Config{Enabled: true, AllowParticipantVoting: true})

	if err := c.Cast("Ada", "Grace", "sharp rebuttals"); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if err := c.Cast("Alan", "Grace", "best evidence"); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if err := c.Cast("Grace", "Ada", "strong opening"); err != nil {
		t.Fatalf("Cast: %v", err)
	}

	results, err := c.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if results.Winner != "Grace" {
		t.Errorf("Winner = %q, want Grace", results.Winner)
	}
	if results.TotalVotes != 3 {
		t.Errorf("TotalVotes = %d, want 3", results.TotalVotes)
	}
	if results.Counts["Grace"] != 2 || results.Counts["Ada"] != 1 {
		t.Errorf("Counts = %v", results.Counts)
	}
	if results.ParticipationRate != 1.0 {
		t.Errorf("ParticipationRate = %v, want 1.0", results.ParticipationRate)
	}
}

func TestRecastReplacesBallot(t *testing.T) {
	c, _ := openCollector(t, Config{Enabled: true, AllowParticipantVoting: true})

	if err := c.Cast("Ada", "Grace", "first impression"); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if err := c.Cast("Ada", "Alan", "changed my mind"); err != nil {
		t.Fatalf("recast: %v", err)
	}

	results, err := c.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if results.TotalVotes != 1 {
		t.Errorf("TotalVotes = %d, want 1 after recast", results.TotalVotes)
	}
	if results.ByVoter["Ada"].Candidate != "Alan" {
		t.Errorf("Ada's ballot = %q, want Alan", results.ByVoter["Ada"].Candidate)
	}
}

func TestTieWinnerString(t *testing.T) {
	c, _ := openCollector(t, Config{Enabled: true, AllowParticipantVoting: true})

	if err := c.Cast("Ada", "Grace", "x"); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if err := c.Cast("Grace", "Ada", "y"); err != nil {
		t.Fatalf("Cast: %v", err)
	}

	results, err := c.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if results.Winner != "TIE: Ada, Grace" {
		t.Errorf("Winner = %q, want TIE: Ada, Grace", results.Winner)
	}
	if len(results.Tied) != 2 {
		t.Errorf("Tied = %v, want two names", results.Tied)
	}
}

func TestCastRejections(t *testing.T) {
	c, fc := openCollector(t, Config{Enabled: true, AllowParticipantVoting: true, RequireJustification: true})

	if err := c.Cast("Ada", "Nobody", "x"); err == nil {
		t.Error("accepted unknown candidate")
	}
	if err := c.Cast("Intruder", "Grace", "x"); err == nil {
		t.Error("accepted ineligible voter")
	}
	if err := c.Cast("Ada", "Grace", ""); err == nil {
		t.Error("accepted vote without required justification")
	}

	fc.Advance(6 * time.Minute)
	if err := c.Cast("Ada", "Grace", "too late"); err == nil {
		t.Error("accepted vote after deadline")
	}
}

func TestOpenVotingWhenParticipantsExcluded(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	c := NewCollector(Config{Enabled: true, AllowParticipantVoting: false}, fc)
	if err := c.Open([]string{"Ada", "Grace"}, time.Minute); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// With no eligible list the vote is open to the audience.
	if err := c.Cast("viewer-42", "Ada", ""); err != nil {
		t.Fatalf("audience vote rejected: %v", err)
	}
	// Participants trying to vote for themselves are still blocked.
	if err := c.Cast("Ada", "Ada", ""); err == nil {
		t.Error("accepted self-vote with participant voting disabled")
	}

	results, err := c.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if results.Winner != "Ada" {
		t.Errorf("Winner = %q, want Ada", results.Winner)
	}
	if results.ParticipationRate != 0 {
		t.Errorf("ParticipationRate = %v, want 0 for open voting", results.ParticipationRate)
	}
}

func TestLifecycleErrors(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))

	disabled := NewCollector(Config{Enabled: false}, fc)
	if err := disabled.Open([]string{"Ada"}, time.Minute); err == nil {
		t.Error("Open succeeded while disabled")
	}

	c := NewCollector(Config{Enabled: true}, fc)
	if err := c.Cast("Ada", "Grace", "x"); err == nil {
		t.Error("Cast succeeded with no session")
	}
	if _, err := c.Close(); err == nil {
		t.Error("Close succeeded with no session")
	}

	if err := c.Open([]string{"Ada", "Grace"}, time.Minute); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Open([]string{"Ada"}, time.Minute); err == nil {
		t.Error("Open succeeded while already active")
	}
}

func TestSummaryAndStatus(t *testing.T) {
	c, fc := openCollector(t, Config{Enabled: true, AllowParticipantVoting: true})

	if err := c.Cast("Ada", "Grace", "x"); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	fc.Advance(2 * time.Minute)

	s := c.Summary()
	if !s.Active || s.TotalVotes != 1 {
		t.Errorf("Summary = %+v", s)
	}
	if s.TimeRemaining != 3*time.Minute {
		t.Errorf("TimeRemaining = %v, want 3m", s.TimeRemaining)
	}

	st := c.Status()
	if !st.Active || st.VotesCast != 1 || st.SessionsCompleted != 0 {
		t.Errorf("Status = %+v", st)
	}
}

func TestHistoryAndPerformance(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	c := NewCollector(Config{Enabled: true, AllowParticipantVoting: true}, fc)

	for i := 0; i < 2; i++ {
		if err := c.Open([]string{"Ada", "Grace"}, time.Minute); err != nil {
			t.Fatalf("Open round %d: %v", i, err)
		}
		if err := c.Cast("Grace", "Ada", "well argued"); err != nil {
			t.Fatalf("Cast round %d: %v", i, err)
		}
		if _, err := c.Close(); err != nil {
			t.Fatalf("Close round %d: %v", i, err)
		}
	}

	if got := len(c.History()); got != 2 {
		t.Fatalf("History len = %d, want 2", got)
	}
	perf := c.Performance("Ada")
	if perf.Wins != 2 || perf.Participations != 2 || perf.WinRate != 1.0 {
		t.Errorf("Performance = %+v", perf)
	}
	if got := len(c.VoterHistory("Grace")); got != 2 {
		t.Errorf("VoterHistory len = %d, want 2", got)
	}
}

func TestExportFormats(t *testing.T) {
	c, _ := openCollector(t, Config{Enabled: true, AllowParticipantVoting: true})
	if err := c.Cast("Ada", "Grace", "x"); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if _, err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	jsonOut, err := c.Export("json")
	if err != nil {
		t.Fatalf("Export json: %v", err)
	}
	if !strings.Contains(jsonOut, `"winner": "Grace"`) {
		t.Errorf("json export missing winner:\n%s", jsonOut)
	}

	csvOut, err := c.Export("csv")
	if err != nil {
		t.Fatalf("Export csv: %v", err)
	}
	if !strings.Contains(csvOut, "Grace,1,true") {
		t.Errorf("csv export missing winning row:\n%s", csvOut)
	}

	txtOut, err := c.Export("txt")
	if err != nil {
		t.Fatalf("Export txt: %v", err)
	}
	if !strings.Contains(txtOut, "Winner: Grace") {
		t.Errorf("txt export missing winner:\n%s", txtOut)
	}

	if _, err := c.Export("xml"); err == nil {
		t.Error("Export accepted unsupported format")
	}

	empty := NewCollector(Config{Enabled: true}, clock.NewFake(time.Unix(0, 0)))
	out, err := empty.Export("json")
	if err != nil || out != "No voting history available" {
		t.Errorf("empty export = %q, %v", out, err)
	}
}
