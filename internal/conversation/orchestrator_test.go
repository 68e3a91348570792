package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"salesbot_backend/internal/crm"
	"salesbot_backend/internal/funnel"
	"salesbot_backend/internal/handoff"
	"salesbot_backend/internal/reply"
	"salesbot_backend/internal/session"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/retry"
)

type fakeGenerator struct {
	mu       sync.Mutex
	replies  []*reply.Reply
	err      error
	calls    int
	requests []reply.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req reply.Request) (*reply.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.replies) > 0 {
		next := g.replies[0]
		if len(g.replies) > 1 {
			g.replies = g.replies[1:]
		}
		return next, nil
	}
	return &reply.Reply{Text: "respuesta"}, nil
}

type fakeCRM struct {
	mu      sync.Mutex
	upserts []string // stage labels, in call order
	err     error
}

func (c *fakeCRM) UpsertLead(_ context.Context, _ crm.Lead, stageLabel, _ string, _ map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.upserts = append(c.upserts, stageLabel)
	return fmt.Sprintf("item-%d", len(c.upserts)), nil
}

type fakeDownloader struct {
	data string
	err  error
}

func (d *fakeDownloader) DownloadMedia(_ context.Context, _ string) (string, string, error) {
	return d.data, "audio/ogg", d.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t *fakeTranscriber) Transcribe(_ context.Context, _, _ string) (string, error) {
	return t.text, t.err
}

// failingStore wraps MemoryStore and fails every save.
type failingStore struct {
	*session.MemoryStore
}

func (f *failingStore) Save(context.Context, *session.Session) error {
	return fmt.Errorf("backend down")
}

func quickPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Log == nil {
		deps.Log = logger.New("development")
	}
	if deps.Store == nil {
		deps.Store = session.NewMemoryStore()
	}
	if deps.Generator == nil {
		deps.Generator = &fakeGenerator{}
	}
	return NewOrchestrator(deps, Options{
		EventLedgerCapacity: 100,
		LeadLedgerCapacity:  100,
		HistoryLimit:        10,
		FallbackMessage:     "Dame un momento, en seguida te respondo.",
		RetryPolicy:         quickPolicy(),
	})
}

func textEvent(id, conv, text string) InboundEvent {
	return InboundEvent{
		EventID:        id,
		ConversationID: conv,
		Timestamp:      time.Now(),
		Kind:           KindText,
		Text:           text,
	}
}

func TestHandleRepliesAndPersists(t *testing.T) {
	store := session.NewMemoryStore()
	o := newTestOrchestrator(t, Deps{
		Store:     store,
		Generator: &fakeGenerator{replies: []*reply.Reply{{Text: "¡Hola! Soy Tono."}}},
	})

	action, err := o.Handle(context.Background(), textEvent("e1", "+5215512345678", "hola"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action == nil || action.Text != "¡Hola! Soy Tono." {
		t.Fatalf("action = %+v", action)
	}

	sess, _ := store.Load(context.Background(), "+5215512345678")
	if sess == nil {
		t.Fatal("session not persisted")
	}
	if sess.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1", sess.TurnCount)
	}
	if len(sess.History) != 2 {
		t.Fatalf("history turns = %d, want contact + bot", len(sess.History))
	}
	if sess.History[0].Role != session.RoleContact || sess.History[1].Role != session.RoleBot {
		t.Errorf("history roles = %v, %v", sess.History[0].Role, sess.History[1].Role)
	}
}

func TestHandleDropsDuplicateEvents(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, Deps{Generator: gen})

	event := textEvent("dup-1", "+5215512345678", "hola")
	if _, err := o.Handle(context.Background(), event); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	action, err := o.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if action != nil {
		t.Errorf("duplicate produced an action: %+v", action)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if stats := o.Stats(context.Background()); stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", stats.Duplicates)
	}
}

func TestHandleConcurrentTurnsAllRecorded(t *testing.T) {
	store := session.NewMemoryStore()
	o := newTestOrchestrator(t, Deps{Store: store})

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := textEvent(fmt.Sprintf("e%d", i), "+5215512345678", fmt.Sprintf("mensaje %d", i))
			if _, err := o.Handle(context.Background(), event); err != nil {
				t.Errorf("Handle %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	sess, _ := store.Load(context.Background(), "+5215512345678")
	if sess == nil {
		t.Fatal("no session")
	}
	if sess.TurnCount != turns {
		t.Errorf("TurnCount = %d, want %d (lost turns under concurrency)", sess.TurnCount, turns)
	}
}

func TestGeneratorPromptCarriesMessageOnce(t *testing.T) {
	gen := &fakeGenerator{replies: []*reply.Reply{{Text: "¡Hola! Soy Tono."}, {Text: "Claro"}}}
	o := newTestOrchestrator(t, Deps{Generator: gen})

	if _, err := o.Handle(context.Background(), textEvent("e1", "conv", "hola")); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := o.Handle(context.Background(), textEvent("e2", "conv", "qué precios manejan?")); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	if len(gen.requests) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(gen.requests))
	}
	if len(gen.requests[0].History) != 0 {
		t.Errorf("first prompt history = %+v, want empty", gen.requests[0].History)
	}

	second := gen.requests[1]
	if second.Message != "qué precios manejan?" {
		t.Fatalf("second Message = %q", second.Message)
	}
	for _, turn := range second.History {
		if turn.Text == second.Message {
			t.Error("current message repeated in prompt history")
		}
	}
	if len(second.History) != 2 {
		t.Errorf("second prompt history = %+v, want first contact turn and bot reply", second.History)
	}
}

func TestSilencioCommandSilencesForever(t *testing.T) {
	store := session.NewMemoryStore()
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, Deps{Store: store, Generator: gen})

	if _, err := o.Handle(context.Background(), textEvent("e1", "conv", "hola")); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	cmd := textEvent("e2", "conv", "/silencio")
	cmd.FromMe = true
	if _, err := o.Handle(context.Background(), cmd); err != nil {
		t.Fatalf("command: %v", err)
	}

	action, err := o.Handle(context.Background(), textEvent("e3", "conv", "sigues ahí?"))
	if err != nil {
		t.Fatalf("silenced turn: %v", err)
	}
	if action != nil {
		t.Errorf("bot replied while silenced: %+v", action)
	}
	if gen.calls != 1 {
		t.Errorf("generator ran while silenced, calls = %d", gen.calls)
	}

	sess, _ := store.Load(context.Background(), "conv")
	if !sess.SilencedForever {
		t.Error("session not permanently silenced")
	}
	// The silenced turn still counts toward the conversation.
	if sess.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", sess.TurnCount)
	}
}

func TestActivarCommandReactivates(t *testing.T) {
	store := session.NewMemoryStore()
	o := newTestOrchestrator(t, Deps{Store: store})

	cmd := textEvent("e1", "conv", "/silencio")
	cmd.FromMe = true
	if _, err := o.Handle(context.Background(), cmd); err != nil {
		t.Fatalf("silence: %v", err)
	}

	wake := textEvent("e2", "conv", "/activar")
	wake.FromMe = true
	if _, err := o.Handle(context.Background(), wake); err != nil {
		t.Fatalf("reactivate: %v", err)
	}

	action, err := o.Handle(context.Background(), textEvent("e3", "conv", "hola de nuevo"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action == nil {
		t.Error("bot stayed quiet after /activar")
	}
}

func TestManualOutboundSilencesConversation(t *testing.T) {
	store := session.NewMemoryStore()
	signals := handoff.DefaultSignals()
	detector := handoff.NewDetector(signals, nil, 3*time.Second, time.Hour)
	o := newTestOrchestrator(t, Deps{Store: store, Detector: detector})

	if _, err := o.Handle(context.Background(), textEvent("e1", "conv", "hola")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	human := textEvent("e2", "conv", "deja lo checo y te digo")
	human.FromMe = true
	if _, err := o.Handle(context.Background(), human); err != nil {
		t.Fatalf("outbound frame: %v", err)
	}

	sess, _ := store.Load(context.Background(), "conv")
	if !sess.Silenced(time.Now()) {
		t.Error("human takeover did not silence the bot")
	}
	if sess.SilencedForever {
		t.Error("automatic silence must not be permanent")
	}
	if stats := o.Stats(context.Background()); stats.Handoffs != 1 {
		t.Errorf("Handoffs = %d, want 1", stats.Handoffs)
	}
}

func TestGeneratorFailureFallsBackAndPersists(t *testing.T) {
	store := session.NewMemoryStore()
	gen := &fakeGenerator{err: retry.Permanent(fmt.Errorf("model unavailable"))}
	o := newTestOrchestrator(t, Deps{Store: store, Generator: gen})

	action, err := o.Handle(context.Background(), textEvent("e1", "conv", "hola"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action == nil || action.Text != "Dame un momento, en seguida te respondo." {
		t.Fatalf("action = %+v, want fallback text", action)
	}

	sess, _ := store.Load(context.Background(), "conv")
	if sess == nil || sess.TurnCount != 1 {
		t.Error("session not persisted despite generator failure")
	}
	if stats := o.Stats(context.Background()); stats.Fallbacks != 1 {
		t.Errorf("Fallbacks = %d, want 1", stats.Fallbacks)
	}
}

func TestSaveFailureIsFatal(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Store: &failingStore{session.NewMemoryStore()}})

	_, err := o.Handle(context.Background(), textEvent("e1", "conv", "hola"))
	if err == nil {
		t.Fatal("save failure was swallowed")
	}
}

func TestCRMSyncedOncePerStage(t *testing.T) {
	store := session.NewMemoryStore()
	crmStub := &fakeCRM{}
	gen := &fakeGenerator{replies: []*reply.Reply{
		{Text: "hola"},
		{Text: "claro"},
		{Text: "la 250Z es excelente", Model: "250Z"},
	}}
	o := newTestOrchestrator(t, Deps{Store: store, Generator: gen, CRM: crmStub})

	for i, msg := range []string{"hola", "qué motos tienen?", "me interesa la 250z"} {
		if _, err := o.Handle(context.Background(), textEvent(fmt.Sprintf("e%d", i), "conv", msg)); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	want := []string{"Enganche", "Intención"}
	if len(crmStub.upserts) != len(want) {
		t.Fatalf("upserts = %v, want %v", crmStub.upserts, want)
	}
	for i := range want {
		if crmStub.upserts[i] != want[i] {
			t.Errorf("upsert[%d] = %q, want %q", i, crmStub.upserts[i], want[i])
		}
	}

	sess, _ := store.Load(context.Background(), "conv")
	if sess.FunnelStage != funnel.StageInterested {
		t.Errorf("stage = %v, want interested", sess.FunnelStage)
	}
	if sess.CRMLeadID == "" {
		t.Error("CRM lead id not recorded")
	}
}

func TestCRMFailureDoesNotBlockReply(t *testing.T) {
	crmStub := &fakeCRM{err: retry.Permanent(fmt.Errorf("board gone"))}
	gen := &fakeGenerator{replies: []*reply.Reply{{Text: "hola"}, {Text: "sí"}}}
	o := newTestOrchestrator(t, Deps{Generator: gen, CRM: crmStub})

	if _, err := o.Handle(context.Background(), textEvent("e1", "conv", "hola")); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	action, err := o.Handle(context.Background(), textEvent("e2", "conv", "qué precios manejan?"))
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if action == nil || action.Text != "sí" {
		t.Errorf("reply lost to CRM failure: %+v", action)
	}
}

func TestAudioTranscriptionFeedsGenerator(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, Deps{
		Generator:  gen,
		Downloader: &fakeDownloader{data: "b64-audio"},
		Transcribe: &fakeTranscriber{text: "quiero una moto"},
	})

	event := InboundEvent{
		EventID:        "a1",
		ConversationID: "conv",
		Timestamp:      time.Now(),
		Kind:           KindAudio,
		MediaID:        "media-1",
	}
	action, err := o.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action == nil {
		t.Fatal("no reply to transcribed audio")
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
}

func TestAudioFailureApologizes(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, Deps{
		Generator:  gen,
		Downloader: &fakeDownloader{err: retry.Permanent(fmt.Errorf("media expired"))},
		Transcribe: &fakeTranscriber{},
	})

	event := InboundEvent{
		EventID:        "a1",
		ConversationID: "conv",
		Timestamp:      time.Now(),
		Kind:           KindAudio,
		MediaID:        "media-1",
	}
	action, err := o.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if action == nil || !strings.Contains(action.Text, "no pude escuchar tu audio") {
		t.Errorf("action = %+v, want apology", action)
	}
	if gen.calls != 0 {
		t.Error("generator ran despite transcription failure")
	}
}

func TestApplyManualTriggerClosesConversation(t *testing.T) {
	store := session.NewMemoryStore()
	o := newTestOrchestrator(t, Deps{Store: store})

	if _, err := o.Handle(context.Background(), textEvent("e1", "conv", "hola")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := o.ApplyManualTrigger(context.Background(), "conv", funnel.TriggerManualClosed); err != nil {
		t.Fatalf("ApplyManualTrigger: %v", err)
	}

	sess, _ := store.Load(context.Background(), "conv")
	if sess.FunnelStage != funnel.StageClosed {
		t.Errorf("stage = %v, want closed", sess.FunnelStage)
	}
}

func TestApplyManualTriggerUnknownConversation(t *testing.T) {
	o := newTestOrchestrator(t, Deps{})
	if err := o.ApplyManualTrigger(context.Background(), "ghost", funnel.TriggerManualNoShow); err == nil {
		t.Error("expected error for unknown conversation")
	}
}
