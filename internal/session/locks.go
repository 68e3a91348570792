package session

import "sync"

// LockTable provides per-conversation mutual exclusion. Locks are created
// lazily on first use and kept for the process lifetime; the conversation
// population is bounded in practice and a lock must never disappear while a
// handler might hold it.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks the conversation and returns the release function.
func (t *LockTable) Acquire(conversationID string) func() {
	t.mu.Lock()
	lock, ok := t.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[conversationID] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Len returns the number of conversations with a materialized lock.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
