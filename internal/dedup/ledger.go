// Package dedup provides a bounded, insertion-ordered id ledger used to
// filter duplicate gateway deliveries and to recognize the bot's own
// outbound messages.
package dedup

import "sync"

// Ledger is a capacity-bounded set with FIFO eviction. Once the ledger is
// full, admitting a new id evicts the oldest one. It is a best-effort
// filter: an id evicted past capacity will read as unseen again.
// Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	present  map[string]struct{}
	order    []string // ring buffer of admitted ids, oldest at head
	head     int
	size     int
}

// NewLedger creates a ledger holding at most capacity ids.
// Panics if capacity is not positive; capacities come from validated config.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		panic("dedup: ledger capacity must be positive")
	}
	return &Ledger{
		capacity: capacity,
		present:  make(map[string]struct{}, capacity),
		order:    make([]string, capacity),
	}
}

// Seen reports whether id is currently in the ledger.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.present[id]
	return ok
}

// Admit records id. Admitting a present id is a no-op; admitting at
// capacity evicts the oldest entry first.
func (l *Ledger) Admit(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.present[id]; ok {
		return
	}

	if l.size == l.capacity {
		oldest := l.order[l.head]
		delete(l.present, oldest)
		l.head = (l.head + 1) % l.capacity
		l.size--
	}

	tail := (l.head + l.size) % l.capacity
	l.order[tail] = id
	l.present[id] = struct{}{}
	l.size++
}

// SeenOrAdmit reports whether id was already present and admits it if not,
// as one atomic step.
func (l *Ledger) SeenOrAdmit(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.present[id]; ok {
		return true
	}

	if l.size == l.capacity {
		oldest := l.order[l.head]
		delete(l.present, oldest)
		l.head = (l.head + 1) % l.capacity
		l.size--
	}

	tail := (l.head + l.size) % l.capacity
	l.order[tail] = id
	l.present[id] = struct{}{}
	l.size++
	return false
}

// Len returns the number of ids currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
