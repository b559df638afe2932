package client

import (
	"sync"
	"time"

	"chatsync/pkg/clock"
)

// tempMap remembers which durable id each temp id was assigned, for a
// bounded time.
type tempMap struct {
	mu        sync.Mutex
	clock     clock.Clock
	ttl       time.Duration
	ids       map[string]tempID
	nextSweep time.Time
}

type tempID struct {
	id      string
	expires time.Time
}

func newTempMap(clk clock.Clock, ttl time.Duration) *tempMap {
	return &tempMap{clock: clk, ttl: ttl, ids: make(map[string]tempID)}
}

func (t *tempMap) Put(temp, id string) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[temp] = tempID{id: id, expires: now.Add(t.ttl)}
	if now.After(t.nextSweep) {
		t.sweepLocked(now)
		t.nextSweep = now.Add(t.ttl / 4)
	}
}

func (t *tempMap) Lookup(temp string) (string, bool) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ids[temp]
	if !ok || now.After(e.expires) {
		return "", false
	}
	return e.id, true
}

func (t *tempMap) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

func (t *tempMap) sweepLocked(now time.Time) {
	for k, e := range t.ids {
		if now.After(e.expires) {
			delete(t.ids, k)
		}
	}
}
