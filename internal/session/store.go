package session

import "context"

// Store persists sessions keyed by conversation id.
type Store interface {
	// Load returns the session for a conversation, or (nil, nil) when no
	// session exists yet.
	Load(ctx context.Context, conversationID string) (*Session, error)
	// Save writes the session. A failed save is fatal for the event being
	// processed.
	Save(ctx context.Context, s *Session) error
	// Count returns the number of stored sessions, for health reporting.
	Count(ctx context.Context) (int64, error)
}
