package bus

import "time"

// Kind classifies an event on the debate bus.
type Kind string

const (
	KindChat      Kind = "chat"
	KindSystem    Kind = "system"
	KindModerator Kind = "moderator"
	KindVote      Kind = "vote"
)

// Event is one immutable entry in the session log. Seq is assigned at
// append time and defines the total order across all senders.
type Event struct {
	Seq       int64             `json:"seq"`
	Sender    string            `json:"sender"`
	Body      string            `json:"body"`
	Kind      Kind              `json:"kind"`
	CreatedAt time.Time         `json:"created_at"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Tag returns the value for key, or "" when the event carries no tags.
func (e Event) Tag(key string) string {
	if e.Tags == nil {
		return ""
	}
	return e.Tags[key]
}

// Tag builds a single-entry tag map for Append calls.
func Tag(key, value string) map[string]string {
	return map[string]string{key: value}
}
