package session

import (
	"sync"
	"testing"
)

func TestLockTableMutualExclusion(t *testing.T) {
	table := NewLockTable()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := table.Acquire("+5215512345678")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50 (lost updates under contention)", counter)
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestLockTableIndependentConversations(t *testing.T) {
	table := NewLockTable()

	releaseA := table.Acquire("+5215511111111")
	defer releaseA()

	// A held lock on one conversation must not block another.
	done := make(chan struct{})
	go func() {
		release := table.Acquire("+5215522222222")
		release()
		close(done)
	}()

	<-done
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}
