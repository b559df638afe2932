package keylock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("conv-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 200 {
		t.Fatalf("counter = %d, want 200", counter)
	}
	if n := l.Len(); n != 0 {
		t.Fatalf("expected entries to be released, got %d", n)
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	l := New()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestUnlockIsIdempotent(t *testing.T) {
	l := New()
	unlock := l.Lock("k")
	unlock()
	unlock()
	unlock2 := l.Lock("k")
	unlock2()
}
