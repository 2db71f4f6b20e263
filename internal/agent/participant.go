// Package agent implements debate participants: AI bots that monitor
// the bus and decide for themselves when to speak, and human players
// typing at a console. Both satisfy Participant so the session
// orchestrator can drive them interchangeably.
package agent

import (
	"context"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/vote"
)

// Trigger tag values recorded on autonomous posts under the "trigger"
// event tag. Transcript exports count silence breaks from these.
const (
	TriggerReactive     = "reactive"
	TriggerSilenceBreak = "silence_break"
	TriggerStarter      = "starter"
)

// Participant is one debater, bot or human.
//
// Run starts the autonomous monitoring loop and blocks until ctx is
// cancelled or the participant leaves; it is only used during
// free-for-all discussion. Statement is the structured-turn path used
// for opening/closing rounds and sequential discussion.
type Participant interface {
	Name() string
	SetTopic(topic string)
	Run(ctx context.Context) error
	Statement(ctx context.Context, req TurnRequest) (string, error)
	Ballot(ctx context.Context, candidates []string) (vote.Ballot, error)
	Stats() Stats
}

// TurnRequest frames one structured turn.
type TurnRequest struct {
	Topic  string
	Phase  string // "opening", "discussion", "closing"
	Recent []bus.Event
}

// Stats is a point-in-time snapshot of a participant's counters.
// Bot-only fields stay zero for humans and vice versa.
type Stats struct {
	Name                 string        `json:"name"`
	Provider             string        `json:"provider"`
	Model                string        `json:"model"`
	Responses            int           `json:"responses_generated"`
	AutonomousResponses  int           `json:"autonomous_responses"`
	SilenceBreaks        int           `json:"silence_breaks"`
	ConversationStarters int           `json:"conversation_starters"`
	TriggersDetected     int           `json:"triggers_detected"`
	PassesMade           int           `json:"passes_made"`
	MissedOpportunities  int           `json:"missed_opportunities"`
	Errors               int           `json:"errors"`
	Timeouts             int           `json:"timeouts"`
	Urgency              float64       `json:"urgency"`
	Energy               float64       `json:"energy"`
	AvgResponseTime      time.Duration `json:"average_response_time"`
	SuccessRate          float64       `json:"success_rate"`
	CurrentCooldown      time.Duration `json:"current_cooldown"`
	BurningQuestions     []string      `json:"burning_questions,omitempty"`
}
