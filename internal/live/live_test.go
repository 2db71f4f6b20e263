package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/config"
	"github.com/ehrlich-b/palaver/internal/session"
)

func testLiveConfig(secret string) config.LiveConfig {
	return config.LiveConfig{
		Host:           "localhost",
		Port:           0,
		MaxConnections: 10,
		BroadcastVotes: true,
		JWTSecret:      secret,
		TokenTTL:       config.Duration(time.Hour),
	}
}

func wsURL(srv *httptest.Server, query string) string {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

func readMsg(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func TestViewerTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	token, err := IssueViewerToken(secret, "session-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := ValidateViewerToken(secret, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.SessionID != "session-1" {
		t.Fatalf("session id = %q, want session-1", claims.SessionID)
	}

	if _, err := ValidateViewerToken([]byte("other-secret"), token); err == nil {
		t.Fatal("token validated under the wrong secret")
	}

	expired, err := IssueViewerToken(secret, "session-1", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := ValidateViewerToken(secret, expired); err == nil {
		t.Fatal("expired token validated")
	}
}

func TestViewerReceivesEvents(t *testing.T) {
	s := NewServer(testLiveConfig(""))
	s.SetSession("s1", "Test topic")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var hello Hello
	if err := json.Unmarshal(readMsg(t, conn), &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.Type != TypeHello || hello.Topic != "Test topic" {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	if err := s.Deliver(bus.Event{Seq: 1, Sender: "Ada", Kind: bus.KindChat, Body: "first"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	var msg EventMsg
	if err := json.Unmarshal(readMsg(t, conn), &msg); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if msg.Type != TypeEvent || msg.Event.Seq != 1 || msg.Event.Sender != "Ada" {
		t.Fatalf("unexpected event message: %+v", msg)
	}

	s.PublishSnapshot(session.Snapshot{SessionID: "s1", Phase: session.PhaseDiscussion})
	var stats StatsMsg
	if err := json.Unmarshal(readMsg(t, conn), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Type != TypeStats || stats.Snapshot.Phase != session.PhaseDiscussion {
		t.Fatalf("unexpected stats message: %+v", stats)
	}
}

func TestVoteEventsWithheldWhenConfigured(t *testing.T) {
	cfg := testLiveConfig("")
	cfg.BroadcastVotes = false
	s := NewServer(cfg)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	readMsg(t, conn) // hello

	if err := s.Deliver(bus.Event{Seq: 1, Sender: "Ada", Kind: bus.KindVote, Body: "secret ballot"}); err != nil {
		t.Fatalf("deliver vote: %v", err)
	}
	if err := s.Deliver(bus.Event{Seq: 2, Sender: "Ada", Kind: bus.KindChat, Body: "public chat"}); err != nil {
		t.Fatalf("deliver chat: %v", err)
	}

	var msg EventMsg
	if err := json.Unmarshal(readMsg(t, conn), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The vote never arrives; the first message after hello is the chat.
	if msg.Event.Kind != bus.KindChat || msg.Event.Seq != 2 {
		t.Fatalf("expected the chat event, got %+v", msg.Event)
	}
}

func TestWSRequiresValidToken(t *testing.T) {
	s := NewServer(testLiveConfig("top-secret"))
	s.SetSession("s1", "Guarded topic")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	token, err := s.IssueToken()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "token="+token), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.CloseNow()
}

func TestStatsEndpoint(t *testing.T) {
	s := NewServer(testLiveConfig(""))
	s.SetSession("s9", "Numbers topic")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	s.PublishSnapshot(session.Snapshot{SessionID: "s9", Phase: session.PhaseVoting})

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		SessionID string            `json:"session_id"`
		Viewers   int               `json:"viewers"`
		Snapshot  *session.Snapshot `json:"snapshot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID != "s9" || body.Snapshot == nil || body.Snapshot.Phase != session.PhaseVoting {
		t.Fatalf("unexpected stats body: %+v", body)
	}
}
