// Package presence tracks who is typing in which conversation. State is
// ephemeral: entries expire after a TTL and nothing is persisted.
package presence

import (
	"sort"
	"sync"
	"time"

	"chatsync/pkg/clock"
	"chatsync/pkg/wire"
)

const DefaultTTL = 5 * time.Second

type Broadcaster interface {
	Emit(room, typ string, data any)
}

type entry struct {
	timer *clock.Timer
	gen   uint64
}

type Tracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clock.Clock
	out   Broadcaster
	gen   uint64
	convs map[string]map[string]*entry
}

func NewTracker(out Broadcaster, clk clock.Clock, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{ttl: ttl, clock: clk, out: out, convs: make(map[string]map[string]*entry)}
}

// SetTyping marks userID as typing and (re)arms its expiry. Only a change to
// the typing set is broadcast; refreshing an existing entry is silent.
func (t *Tracker) SetTyping(conv, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.convs[conv]
	if users == nil {
		users = make(map[string]*entry)
		t.convs[conv] = users
	}
	e, existed := users[userID]
	if existed {
		e.timer.Stop()
	} else {
		e = &entry{}
		users[userID] = e
	}
	t.gen++
	gen := t.gen
	e.gen = gen
	e.timer = t.clock.AfterFunc(t.ttl, func() { t.expire(conv, userID, gen) })
	if !existed {
		t.broadcastLocked(conv)
	}
}

// StopTyping expires userID early.
func (t *Tracker) StopTyping(conv, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removeLocked(conv, userID) {
		t.broadcastLocked(conv)
	}
}

// ClearUser drops userID from every conversation, e.g. on disconnect.
func (t *Tracker) ClearUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for conv := range t.convs {
		if t.removeLocked(conv, userID) {
			t.broadcastLocked(conv)
		}
	}
}

// Typing returns the sorted set of users currently typing in conv.
func (t *Tracker) Typing(conv string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(conv)
}

func (t *Tracker) expire(conv, userID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.convs[conv][userID]
	if !ok || e.gen != gen {
		return
	}
	t.removeLocked(conv, userID)
	t.broadcastLocked(conv)
}

func (t *Tracker) removeLocked(conv, userID string) bool {
	users := t.convs[conv]
	e, ok := users[userID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, conv)
	}
	return true
}

func (t *Tracker) snapshotLocked(conv string) []string {
	users := t.convs[conv]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) broadcastLocked(conv string) {
	if t.out == nil {
		return
	}
	t.out.Emit(wire.ConversationRoom(conv), wire.EvtTyping, wire.Typing{
		ConversationID: conv,
		UserIDs:        t.snapshotLocked(conv),
	})
}
