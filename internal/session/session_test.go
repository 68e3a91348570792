package session

import (
	"fmt"
	"testing"
	"time"

	"salesbot_backend/internal/funnel"
)

func TestNewSessionDefaults(t *testing.T) {
	now := time.Now()
	s := New("+5215512345678", now)

	if s.FunnelStage != funnel.StageNew {
		t.Errorf("FunnelStage = %s, want %s", s.FunnelStage, funnel.StageNew)
	}
	if s.TurnCount != 0 {
		t.Errorf("TurnCount = %d, want 0", s.TurnCount)
	}
	if s.Silenced(now) {
		t.Error("fresh session must not be silenced")
	}
}

func TestSilenceLifecycle(t *testing.T) {
	now := time.Now()
	s := New("+5215512345678", now)

	s.SilenceUntil(now.Add(time.Hour))
	if !s.Silenced(now) {
		t.Error("session not silenced within the window")
	}
	if s.Silenced(now.Add(2 * time.Hour)) {
		t.Error("automatic silence did not expire")
	}

	s.SilenceForever()
	if !s.Silenced(now.Add(24 * time.Hour)) {
		t.Error("permanent silence expired")
	}

	// An automatic window must not weaken a permanent silence.
	s.SilenceUntil(now.Add(time.Minute))
	if !s.Silenced(now.Add(time.Hour)) {
		t.Error("automatic silence downgraded a permanent one")
	}

	s.Reactivate()
	if s.Silenced(now) {
		t.Error("session still silenced after reactivation")
	}
}

func TestAppendTurnEvictsOldest(t *testing.T) {
	now := time.Now()
	s := New("+5215512345678", now)

	const limit = 4
	for i := 0; i < limit+3; i++ {
		s.AppendTurn(RoleContact, fmt.Sprintf("msg %d", i), now, limit)
	}

	if len(s.History) != limit {
		t.Fatalf("history length = %d, want %d", len(s.History), limit)
	}
	if s.History[0].Text != "msg 3" {
		t.Errorf("oldest surviving turn = %q, want %q", s.History[0].Text, "msg 3")
	}
	if s.History[limit-1].Text != "msg 6" {
		t.Errorf("newest turn = %q, want %q", s.History[limit-1].Text, "msg 6")
	}
}

func TestUIState(t *testing.T) {
	s := &Session{ConversationID: "+5215512345678"}
	if got := s.UIStateValue("photo_model"); got != "" {
		t.Errorf("unset UI state = %q, want empty", got)
	}
	s.SetUIState("photo_model", "italika-250z")
	if got := s.UIStateValue("photo_model"); got != "italika-250z" {
		t.Errorf("UI state = %q", got)
	}
}
