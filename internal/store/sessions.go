package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/vote"
)

// Session is one archived debate header row.
type Session struct {
	ID        string
	Topic     string
	Mode      string
	Winner    string
	StartedAt time.Time
	EndedAt   time.Time
}

// SaveSession archives a finished session with its event log and
// ballots in one transaction.
func (s *Store) SaveSession(ctx context.Context, rec Session, events []bus.Event, ballots []vote.Ballot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, topic, mode, winner, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Topic, rec.Mode, rec.Winner, rec.StartedAt.UTC(), rec.EndedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, ev := range events {
		tags := ""
		if len(ev.Tags) > 0 {
			raw, err := json.Marshal(ev.Tags)
			if err != nil {
				return fmt.Errorf("marshal tags for seq %d: %w", ev.Seq, err)
			}
			tags = string(raw)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (session_id, seq, sender, kind, body, tags, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, ev.Seq, ev.Sender, string(ev.Kind), ev.Body, tags, ev.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}

	for _, b := range ballots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ballots (session_id, voter, candidate, reason, cast_at) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, b.Voter, b.Candidate, b.Justification, b.CastAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert ballot from %s: %w", b.Voter, err)
		}
	}

	return tx.Commit()
}

// GetSession loads one archived session header.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, mode, winner, started_at, ended_at FROM sessions WHERE id = ?`, id)
	var rec Session
	if err := row.Scan(&rec.ID, &rec.Topic, &rec.Mode, &rec.Winner, &rec.StartedAt, &rec.EndedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns archived session headers, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, mode, winner, started_at, ended_at FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var rec Session
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Mode, &rec.Winner, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadEvents returns a session's event log ordered by sequence number,
// with the original numbering intact.
func (s *Store) LoadEvents(ctx context.Context, sessionID string) ([]bus.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, sender, kind, body, tags, created_at FROM events WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bus.Event
	for rows.Next() {
		var ev bus.Event
		var kind, tags string
		if err := rows.Scan(&ev.Seq, &ev.Sender, &kind, &ev.Body, &tags, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = bus.Kind(kind)
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
				return nil, fmt.Errorf("decode tags for seq %d: %w", ev.Seq, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LoadBallots returns a session's recorded ballots.
func (s *Store) LoadBallots(ctx context.Context, sessionID string) ([]vote.Ballot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT voter, candidate, reason, cast_at FROM ballots WHERE session_id = ? ORDER BY voter ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vote.Ballot
	for rows.Next() {
		var b vote.Ballot
		if err := rows.Scan(&b.Voter, &b.Candidate, &b.Justification, &b.CastAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and, via cascade, its events and
// ballots.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}
