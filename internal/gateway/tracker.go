package gateway

import (
	"strings"
	"sync"
	"time"

	"salesbot_backend/internal/dedup"
)

const recentTextLimit = 10

// Tracker records the bot's own outbound activity so the handoff detector
// can tell bot echoes apart from a human typing on the business phone.
// Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	sentIDs   *dedup.Ledger
	recent    []string // normalized recent reply texts, newest last
	lastSends map[string]time.Time
}

// NewTracker creates a tracker whose sent-id ledger holds capacity ids.
func NewTracker(capacity int) *Tracker {
	return &Tracker{
		sentIDs:   dedup.NewLedger(capacity),
		lastSends: make(map[string]time.Time),
	}
}

// Record notes a successful outbound send.
func (t *Tracker) Record(conversationID, messageID, text string, at time.Time) {
	if messageID != "" {
		t.sentIDs.Admit(messageID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if normalized := normalizeText(text); normalized != "" {
		t.recent = append(t.recent, normalized)
		if len(t.recent) > recentTextLimit {
			t.recent = t.recent[len(t.recent)-recentTextLimit:]
		}
	}
	t.lastSends[conversationID] = at
}

// SentMessage reports whether the bot produced the given message id.
func (t *Tracker) SentMessage(id string) bool {
	return t.sentIDs.Seen(id)
}

// RecentlySaid reports whether text matches one of the bot's recent replies.
func (t *Tracker) RecentlySaid(text string) bool {
	normalized := normalizeText(text)
	if normalized == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, said := range t.recent {
		if said == normalized {
			return true
		}
	}
	return false
}

// LastSendAt returns when the bot last sent anything in the conversation.
func (t *Tracker) LastSendAt(conversationID string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSends[conversationID]
}

// SentCount returns the number of tracked bot-sent message ids.
func (t *Tracker) SentCount() int {
	return t.sentIDs.Len()
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
