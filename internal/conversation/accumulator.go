package conversation

import (
	"context"
	"sync"
	"time"

	"salesbot_backend/internal/dedup"
)

// FlushFunc receives the merged event once a conversation's accumulation
// window closes.
type FlushFunc func(ctx context.Context, event InboundEvent)

// Accumulator batches rapid-fire text messages from the same conversation
// into one event, so the generator sees "hola | tienen la 250z | precio?"
// instead of three separate turns. Non-text events and outbound frames
// bypass batching and flush whatever is pending first.
//
// Every incoming event id is admitted to an ingress ledger before any
// merging: a gateway redelivery is dropped here whether it arrives while
// its batch is still open or after the batch has flushed. The orchestrator
// keeps its own ledger as a backstop for callers that bypass accumulation.
type Accumulator struct {
	window time.Duration
	flush  FlushFunc
	seen   *dedup.Ledger

	mu      sync.Mutex
	pending map[string]*pendingBatch
}

type pendingBatch struct {
	event InboundEvent
	timer *time.Timer
}

// NewAccumulator creates an accumulator. A window of zero or less disables
// batching: every event flushes synchronously. The ledger capacity bounds
// the ingress dedup set.
func NewAccumulator(window time.Duration, ledgerCapacity int, flush FlushFunc) *Accumulator {
	return &Accumulator{
		window:  window,
		flush:   flush,
		seen:    dedup.NewLedger(ledgerCapacity),
		pending: make(map[string]*pendingBatch),
	}
}

// Add feeds one inbound event into the accumulator. Duplicate event ids
// are dropped.
func (a *Accumulator) Add(ctx context.Context, event InboundEvent) {
	if event.EventID != "" && a.seen.SeenOrAdmit(event.EventID) {
		return
	}

	if a.window <= 0 {
		a.flush(ctx, event)
		return
	}

	if event.FromMe || event.Kind != KindText || event.Text == "" {
		a.FlushConversation(ctx, event.ConversationID)
		a.flush(ctx, event)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if batch, ok := a.pending[event.ConversationID]; ok {
		batch.event.Text += " | " + event.Text
		batch.event.Timestamp = event.Timestamp
		batch.timer.Reset(a.window)
		return
	}

	batch := &pendingBatch{event: event}
	batch.timer = time.AfterFunc(a.window, func() {
		a.fire(event.ConversationID)
	})
	a.pending[event.ConversationID] = batch
}

// FlushConversation force-flushes any pending batch for the conversation.
func (a *Accumulator) FlushConversation(ctx context.Context, conversationID string) {
	a.mu.Lock()
	batch, ok := a.pending[conversationID]
	if ok {
		batch.timer.Stop()
		delete(a.pending, conversationID)
	}
	a.mu.Unlock()

	if ok {
		a.flush(ctx, batch.event)
	}
}

// Stop cancels all pending timers without flushing. Used on shutdown.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, batch := range a.pending {
		batch.timer.Stop()
		delete(a.pending, id)
	}
}

func (a *Accumulator) fire(conversationID string) {
	a.mu.Lock()
	batch, ok := a.pending[conversationID]
	delete(a.pending, conversationID)
	a.mu.Unlock()

	if ok {
		a.flush(context.Background(), batch.event)
	}
}

// Pending reports how many conversations have a batch waiting.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
