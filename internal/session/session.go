// Package session holds per-conversation state and its persistence contract.
package session

import (
	"time"

	"salesbot_backend/internal/funnel"
)

// Role identifies the author of a history turn.
type Role string

const (
	RoleContact Role = "contact"
	RoleBot     Role = "bot"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the per-conversation state. Sessions are never deleted; the
// history is truncated to a configured bound, oldest first.
type Session struct {
	ConversationID    string            `json:"conversation_id"`
	TurnCount         int               `json:"turn_count"`
	FunnelStage       funnel.Stage      `json:"funnel_stage"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
	SilencedUntil     *time.Time        `json:"silenced_until,omitempty"`
	SilencedForever   bool              `json:"silenced_forever,omitempty"`
	History           []Turn            `json:"history,omitempty"`
	UIState           map[string]string `json:"ui_state,omitempty"`
	CRMLeadID         string            `json:"crm_lead_id,omitempty"`
	ContactName       string            `json:"contact_name,omitempty"`
	LastInterest      string            `json:"last_interest,omitempty"`
	LastAppointment   string            `json:"last_appointment,omitempty"`
	LastPayment       string            `json:"last_payment,omitempty"`
}

// New creates a fresh session at the funnel entry stage.
func New(conversationID string, now time.Time) *Session {
	return &Session{
		ConversationID:    conversationID,
		FunnelStage:       funnel.StageNew,
		LastInteractionAt: now,
		UIState:           make(map[string]string),
	}
}

// Silenced reports whether the bot must stay quiet in this conversation.
func (s *Session) Silenced(now time.Time) bool {
	if s.SilencedForever {
		return true
	}
	return s.SilencedUntil != nil && now.Before(*s.SilencedUntil)
}

// SilenceUntil pauses the bot until the given time. A permanent silence is
// never downgraded by an automatic one.
func (s *Session) SilenceUntil(until time.Time) {
	if s.SilencedForever {
		return
	}
	s.SilencedUntil = &until
}

// SilenceForever pauses the bot until explicitly reactivated.
func (s *Session) SilenceForever() {
	s.SilencedForever = true
	s.SilencedUntil = nil
}

// Reactivate clears any silence, automatic or permanent.
func (s *Session) Reactivate() {
	s.SilencedForever = false
	s.SilencedUntil = nil
}

// AppendTurn records an utterance, evicting the oldest turns past limit.
func (s *Session) AppendTurn(role Role, text string, at time.Time, limit int) {
	s.History = append(s.History, Turn{Role: role, Text: text, At: at})
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}

// SetUIState stores a presentation hint (e.g. carousel cursor).
func (s *Session) SetUIState(key, value string) {
	if s.UIState == nil {
		s.UIState = make(map[string]string)
	}
	s.UIState[key] = value
}

// UIStateValue reads a presentation hint.
func (s *Session) UIStateValue(key string) string {
	return s.UIState[key]
}
