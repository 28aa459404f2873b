package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var sm ShardedMutex
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock("job-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100 increments, got %d", counter)
	}
}

func TestShardedMutex_DifferentKeysDoNotDeadlock(t *testing.T) {
	var sm ShardedMutex

	unlockA := sm.Lock("job-a")
	unlockB := sm.Lock("job-b")
	unlockA()
	unlockB()
}
