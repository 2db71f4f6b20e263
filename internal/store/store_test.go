package store

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/vote"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(id string) (Session, []bus.Event, []vote.Ballot) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := Session{
		ID:        id,
		Topic:     "AI will create more jobs than it destroys",
		Mode:      "autonomous",
		Winner:    "Ada",
		StartedAt: start,
		EndedAt:   start.Add(45 * time.Minute),
	}
	events := []bus.Event{
		{Seq: 1, Sender: "Moderator", Kind: bus.KindModerator, Body: "Welcome!", CreatedAt: start},
		{Seq: 2, Sender: "Ada", Kind: bus.KindChat, Body: "Opening thoughts.", CreatedAt: start.Add(time.Minute),
			Tags: map[string]string{"turn": "opening"}},
		{Seq: 4, Sender: "Grace", Kind: bus.KindChat, Body: "I disagree.", CreatedAt: start.Add(2 * time.Minute)},
	}
	ballots := []vote.Ballot{
		{Voter: "Grace", Candidate: "Ada", Justification: "better evidence", CastAt: start.Add(40 * time.Minute)},
	}
	return rec, events, ballots
}

func TestSaveAndLoadSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec, events, ballots := testSession("s1")

	if err := s.SaveSession(ctx, rec, events, ballots); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Topic != rec.Topic || got.Winner != "Ada" || got.Mode != "autonomous" {
		t.Fatalf("session round trip mismatch: %+v", got)
	}

	loaded, err := s.LoadEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d events, want 3", len(loaded))
	}
	// Original sequence numbers survive, including the gap from bus
	// eviction.
	wantSeqs := []int64{1, 2, 4}
	for i, ev := range loaded {
		if ev.Seq != wantSeqs[i] {
			t.Fatalf("event %d seq = %d, want %d", i, ev.Seq, wantSeqs[i])
		}
	}
	if loaded[1].Tag("turn") != "opening" {
		t.Fatalf("event tags lost: %+v", loaded[1].Tags)
	}

	gotBallots, err := s.LoadBallots(ctx, "s1")
	if err != nil {
		t.Fatalf("load ballots: %v", err)
	}
	if len(gotBallots) != 1 || gotBallots[0].Candidate != "Ada" {
		t.Fatalf("ballot round trip mismatch: %+v", gotBallots)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older, _, _ := testSession("older")
	newer, _, _ := testSession("newer")
	newer.StartedAt = older.StartedAt.Add(time.Hour)

	if err := s.SaveSession(ctx, older, nil, nil); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := s.SaveSession(ctx, newer, nil, nil); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	list, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != "newer" || list[1].ID != "older" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec, events, ballots := testSession("doomed")

	if err := s.SaveSession(ctx, rec, events, ballots); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := s.DeleteSession(ctx, "doomed"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := s.GetSession(ctx, "doomed"); err == nil {
		t.Fatal("deleted session still readable")
	}
	loaded, err := s.LoadEvents(ctx, "doomed")
	if err != nil {
		t.Fatalf("load events after delete: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("events survived cascade delete: %d", len(loaded))
	}
	if err := s.DeleteSession(ctx, "doomed"); err == nil {
		t.Fatal("double delete reported success")
	}
}
