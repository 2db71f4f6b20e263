package live

import (
	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/session"
)

// Message types for the viewer WebSocket protocol. The stream is
// one-way: the server pushes, viewers only watch.
const (
	TypeHello = "hello"        // server → viewer, on connect
	TypeEvent = "debate.event" // appended bus event
	TypeStats = "debate.stats" // periodic statistics snapshot
	TypeError = "error"
)

// Envelope wraps every message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// Hello greets a new viewer with the session context.
type Hello struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Topic     string `json:"topic"`
	Viewers   int    `json:"viewers"`
}

// EventMsg carries one appended debate event.
type EventMsg struct {
	Type  string    `json:"type"`
	Event bus.Event `json:"event"`
}

// StatsMsg carries a statistics snapshot.
type StatsMsg struct {
	Type     string           `json:"type"`
	Snapshot session.Snapshot `json:"snapshot"`
}

// ErrorMsg reports a terminal condition to the viewer before close.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
