package events

import (
	"context"
	"sync"
	"testing"

	"chatsync/pkg/notify"
)

type fakePub struct {
	mu     sync.Mutex
	events []Event
	online map[string]bool
}

func (p *fakePub) Publish(evt Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	if evt.Room[:5] == "user:" && !p.online[evt.Room[5:]] {
		return 0
	}
	return 1
}

func (p *fakePub) Online(u string) bool { return p.online[u] }

type recorder struct {
	mu    sync.Mutex
	users []string
}

func (r *recorder) dispatcher() notify.Dispatcher {
	return notify.Func(func(_ context.Context, userID, _ string, _ any) error {
		r.mu.Lock()
		r.users = append(r.users, userID)
		r.mu.Unlock()
		return nil
	})
}

func TestEmitToUserFallsBackToNotifications(t *testing.T) {
	pub := &fakePub{online: map[string]bool{"host": true}}
	rec := &recorder{}
	d := New(pub, rec.dispatcher(), nil, Options{Workers: 1})

	d.EmitToUser("host", "join_request_received", nil, true)
	d.EmitToUser("away", "join_request_received", nil, true)
	d.EmitToUser("quiet", "join_request_rejected", nil, false)
	d.Close()

	if len(pub.events) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(pub.events))
	}
	if len(rec.users) != 1 || rec.users[0] != "away" {
		t.Fatalf("unexpected notifications %v", rec.users)
	}
}

func TestNotifyOfflineSkipsSenderAndOnlineUsers(t *testing.T) {
	pub := &fakePub{online: map[string]bool{"bob": true}}
	rec := &recorder{}
	d := New(pub, rec.dispatcher(), nil, Options{Workers: 2})
	d.NotifyOffline([]string{"alice", "bob", "carol"}, "alice", "message_created", nil)
	d.Close()
	if len(rec.users) != 1 || rec.users[0] != "carol" {
		t.Fatalf("unexpected notifications %v", rec.users)
	}
}

func TestEmitPreservesOrder(t *testing.T) {
	pub := &fakePub{}
	d := New(pub, nil, nil, Options{})
	defer d.Close()
	for _, typ := range []string{"a", "b", "c"} {
		d.Emit("conversation:c1", typ, nil)
	}
	for i, want := range []string{"a", "b", "c"} {
		if pub.events[i].Type != want {
			t.Fatalf("event %d = %s, want %s", i, pub.events[i].Type, want)
		}
	}
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	d := New(&fakePub{}, nil, nil, Options{})
	d.Close()
	d.EmitToUser("nobody", "x", nil, true)
}
