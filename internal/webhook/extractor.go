// Package webhook provides the gateway-facing ingress: it receives message
// deliveries from the WhatsApp gateway, normalizes them into inbound events
// and hands them off to the conversation pipeline.
package webhook

import (
	"strings"
	"time"

	"salesbot_backend/internal/conversation"
	"salesbot_backend/platform/phone"
)

// Delivery is the gateway's messages.upsert payload. Only the fields the
// bot needs are modeled; the raw body carries a lot more.
type Delivery struct {
	Event    string       `json:"event"`
	Instance string       `json:"instance"`
	Data     DeliveryData `json:"data"`
}

type DeliveryData struct {
	Key              MessageKey      `json:"key"`
	PushName         string          `json:"pushName"`
	Message          *MessageContent `json:"message"`
	MessageTimestamp int64           `json:"messageTimestamp"`
}

type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

type MessageContent struct {
	Conversation        string        `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText `json:"extendedTextMessage,omitempty"`
	ImageMessage        *ImageContent `json:"imageMessage,omitempty"`
	AudioMessage        *AudioContent `json:"audioMessage,omitempty"`
}

type ExtendedText struct {
	Text string `json:"text"`
}

type ImageContent struct {
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

type AudioContent struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
}

const eventMessagesUpsert = "messages.upsert"

// ExtractEvent converts a gateway delivery into an inbound event. The
// second return is false for deliveries the bot ignores: non-message
// events, group chats, broadcasts and empty frames.
func ExtractEvent(delivery Delivery) (conversation.InboundEvent, bool) {
	if delivery.Event != "" && delivery.Event != eventMessagesUpsert {
		return conversation.InboundEvent{}, false
	}

	jid := delivery.Data.Key.RemoteJID
	if jid == "" || phone.IsGroupJID(jid) || phone.IsBroadcastJID(jid) {
		return conversation.InboundEvent{}, false
	}

	conversationID := phone.FromJID(jid)
	if conversationID == "" {
		return conversation.InboundEvent{}, false
	}

	event := conversation.InboundEvent{
		EventID:        delivery.Data.Key.ID,
		ConversationID: conversationID,
		FromMe:         delivery.Data.Key.FromMe,
		OriginID:       delivery.Data.Key.Participant,
		PushName:       strings.TrimSpace(delivery.Data.PushName),
	}

	if delivery.Data.MessageTimestamp > 0 {
		event.Timestamp = time.Unix(delivery.Data.MessageTimestamp, 0).UTC()
	} else {
		event.Timestamp = time.Now().UTC()
	}

	msg := delivery.Data.Message
	switch {
	case msg == nil:
		return conversation.InboundEvent{}, false
	case msg.AudioMessage != nil:
		event.Kind = conversation.KindAudio
		// The gateway downloads media by message id, not by URL.
		event.MediaID = delivery.Data.Key.ID
	case msg.Conversation != "":
		event.Kind = conversation.KindText
		event.Text = msg.Conversation
	case msg.ExtendedTextMessage != nil && msg.ExtendedTextMessage.Text != "":
		event.Kind = conversation.KindText
		event.Text = msg.ExtendedTextMessage.Text
	case msg.ImageMessage != nil && msg.ImageMessage.Caption != "":
		event.Kind = conversation.KindText
		event.Text = msg.ImageMessage.Caption
	default:
		event.Kind = conversation.KindOther
	}

	if event.Kind == conversation.KindText && strings.TrimSpace(event.Text) == "" {
		return conversation.InboundEvent{}, false
	}

	return event, true
}
