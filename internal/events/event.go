// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"salesbot_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Conversation Domain Events
// =============================================================================

// HumanHandoffDetected is published when a human agent takes over a
// conversation and the bot silences itself.
type HumanHandoffDetected struct {
	BaseEvent
	ConversationID string `json:"conversationId"`
	Signal         string `json:"signal"`
	Permanent      bool   `json:"permanent"`
}

func (e HumanHandoffDetected) EventName() string { return "conversation.handoff.detected" }

// LeadQualified is published when a conversation advances to a funnel stage
// that syncs to the CRM.
type LeadQualified struct {
	BaseEvent
	ConversationID string `json:"conversationId"`
	ContactName    string `json:"contactName,omitempty"`
	Stage          string `json:"stage"`
	StageLabel     string `json:"stageLabel"`
	Interest       string `json:"interest,omitempty"`
	Note           string `json:"note,omitempty"`
}

func (e LeadQualified) EventName() string { return "conversation.lead.qualified" }

// AppointmentBooked is published when a contact confirms a showroom visit.
type AppointmentBooked struct {
	BaseEvent
	ConversationID string `json:"conversationId"`
	ContactName    string `json:"contactName,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

func (e AppointmentBooked) EventName() string { return "conversation.appointment.booked" }

// HotMessageDetected is published when an inbound message contains a
// high-intent keyword worth flagging to the owner immediately.
type HotMessageDetected struct {
	BaseEvent
	ConversationID string `json:"conversationId"`
	Keyword        string `json:"keyword"`
	Text           string `json:"text"`
}

func (e HotMessageDetected) EventName() string { return "conversation.message.hot" }
