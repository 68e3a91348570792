// Package conversation orchestrates one inbound gateway event end to end:
// dedup, locking, handoff detection, reply generation, funnel advancement,
// CRM sync and persistence.
package conversation

import "time"

// Kind classifies the inbound payload.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindOther Kind = "other"
)

// InboundEvent is the normalized view of a gateway delivery. Immutable
// once extracted at the ingress.
type InboundEvent struct {
	EventID        string    `json:"eventId"`
	ConversationID string    `json:"conversationId" validate:"required,e164"`
	Timestamp      time.Time `json:"timestamp"`
	FromMe         bool      `json:"fromMe"`
	OriginID       string    `json:"originId,omitempty"`
	Kind           Kind      `json:"kind" validate:"required,oneof=text audio other"`
	Text           string    `json:"text,omitempty"`
	MediaID        string    `json:"mediaId,omitempty"`
	PushName       string    `json:"pushName,omitempty"`
}

// MediaItem is one outbound attachment.
type MediaItem struct {
	URL      string
	FileName string
	Caption  string
}

// OutboundAction is what the bot wants sent back for one handled event.
// A nil action means stay quiet.
type OutboundAction struct {
	ConversationID string
	Text           string
	Images         []MediaItem
	Document       *MediaItem
}
