// Package live serves read-only WebSocket viewers a real-time feed of
// the debate: every bus event plus periodic statistics snapshots. The
// server is a bus sink; a viewer that cannot keep up is disconnected
// and never back-pressures the debate itself.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/config"
	"github.com/ehrlich-b/palaver/internal/logger"
	"github.com/ehrlich-b/palaver/internal/session"
)

const (
	viewerSendBuffer = 64
	writeTimeout     = 10 * time.Second

	// Shared outbound throttle across all viewers. A debate produces
	// a few events per second at most; the cap protects against stats
	// bursts fanning out to many connections at once.
	broadcastRate  = 200 // messages/sec across the server
	broadcastBurst = 400
)

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is the viewer endpoint. It implements bus.Sink so it can be
// registered directly on the event bus.
type Server struct {
	cfg     config.LiveConfig
	secret  []byte
	limiter *rate.Limiter

	mu        sync.Mutex
	viewers   map[*viewer]struct{}
	sessionID string
	topic     string
	lastStats *session.Snapshot
}

var _ bus.Sink = (*Server)(nil)

// NewServer builds a viewer server. An empty secret disables token
// checks for local runs.
func NewServer(cfg config.LiveConfig) *Server {
	return &Server{
		cfg:     cfg,
		secret:  []byte(cfg.JWTSecret),
		limiter: rate.NewLimiter(rate.Limit(broadcastRate), broadcastBurst),
		viewers: make(map[*viewer]struct{}),
	}
}

// SetSession updates the session context sent to newly connected
// viewers. Call between sessions on a long-running host.
func (s *Server) SetSession(id, topic string) {
	s.mu.Lock()
	s.sessionID = id
	s.topic = topic
	s.lastStats = nil
	s.mu.Unlock()
}

// ViewerCount reports the number of connected viewers.
func (s *Server) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// IssueToken mints a viewer token for the current session.
func (s *Server) IssueToken() (string, error) {
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()
	return IssueViewerToken(s.secret, id, s.cfg.TokenTTL.Std())
}

// Handler returns the HTTP surface: /healthz, /stats, /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := struct {
		SessionID string            `json:"session_id"`
		Topic     string            `json:"topic"`
		Viewers   int               `json:"viewers"`
		Snapshot  *session.Snapshot `json:"snapshot,omitempty"`
	}{s.sessionID, s.topic, len(s.viewers), s.lastStats}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if len(s.secret) > 0 {
		claims, err := ValidateViewerToken(s.secret, r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		current := s.sessionID
		s.mu.Unlock()
		if claims.SessionID != "" && current != "" && claims.SessionID != current {
			http.Error(w, "token is for another session", http.StatusForbidden)
			return
		}
	}
	if max := s.cfg.MaxConnections; max > 0 && s.ViewerCount() >= max {
		http.Error(w, "viewer limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("viewer accept failed", "error", err)
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, viewerSendBuffer)}
	s.mu.Lock()
	s.viewers[v] = struct{}{}
	count := len(s.viewers)
	hello := Hello{Type: TypeHello, SessionID: s.sessionID, Topic: s.topic, Viewers: count}
	s.mu.Unlock()
	logger.Info("viewer connected", "viewers", count)

	if data, err := json.Marshal(hello); err == nil {
		v.send <- data
	}

	go s.readLoop(v)
	s.writeLoop(v)
}

// readLoop drains inbound frames; viewers have nothing to say, but the
// read detects disconnects.
func (s *Server) readLoop(v *viewer) {
	for {
		if _, _, err := v.conn.Read(context.Background()); err != nil {
			s.drop(v, "read closed")
			return
		}
	}
}

// writeLoop pushes queued messages under the shared throttle. Runs on
// the connection's handler goroutine and returns when the viewer is
// dropped.
func (s *Server) writeLoop(v *viewer) {
	for data := range v.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.limiter.Wait(ctx); err != nil {
			cancel()
			s.drop(v, "throttle wait expired")
			return
		}
		err := v.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.drop(v, "write failed")
			return
		}
	}
	v.conn.Close(websocket.StatusNormalClosure, "")
}

// drop removes a viewer. Idempotent; safe from either loop.
func (s *Server) drop(v *viewer, reason string) {
	s.mu.Lock()
	_, ok := s.viewers[v]
	if ok {
		delete(s.viewers, v)
		close(v.send)
	}
	s.mu.Unlock()
	if ok {
		v.conn.CloseNow()
		logger.Info("viewer disconnected", "reason", reason)
	}
}

// Deliver implements bus.Sink: every appended event is queued for all
// viewers. Vote events are withheld when the config says so.
func (s *Server) Deliver(ev bus.Event) error {
	if ev.Kind == bus.KindVote && !s.cfg.BroadcastVotes {
		return nil
	}
	data, err := json.Marshal(EventMsg{Type: TypeEvent, Event: ev})
	if err != nil {
		return err
	}
	s.broadcast(data)
	return nil
}

// PublishSnapshot pushes a statistics snapshot to every viewer and
// caches it for /stats.
func (s *Server) PublishSnapshot(sn session.Snapshot) {
	s.mu.Lock()
	s.lastStats = &sn
	s.mu.Unlock()

	data, err := json.Marshal(StatsMsg{Type: TypeStats, Snapshot: sn})
	if err != nil {
		return
	}
	s.broadcast(data)
}

// broadcast queues data on every viewer. A full queue means the viewer
// is not keeping up; it is dropped rather than allowed to block.
func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	var slow []*viewer
	for v := range s.viewers {
		select {
		case v.send <- data:
		default:
			slow = append(slow, v)
		}
	}
	s.mu.Unlock()

	for _, v := range slow {
		s.drop(v, "send queue full")
	}
}

// Close disconnects every viewer.
func (s *Server) Close() {
	s.mu.Lock()
	all := make([]*viewer, 0, len(s.viewers))
	for v := range s.viewers {
		all = append(all, v)
	}
	s.mu.Unlock()
	for _, v := range all {
		s.drop(v, "server closing")
	}
}
