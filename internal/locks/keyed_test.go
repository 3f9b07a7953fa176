package locks

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("ride-1")
			counter++
			k.Unlock("ride-1")
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("lost updates: counter=%d", counter)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	k.Lock("a")
	done := make(chan struct{})
	go func() {
		k.Lock("b")
		k.Unlock("b")
		close(done)
	}()
	<-done // must not deadlock while "a" is held
	k.Unlock("a")
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := NewKeyedMutex()
	k.Lock("x")
	k.Unlock("x")
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected empty lock table, got %d entries", len(k.locks))
	}
}
