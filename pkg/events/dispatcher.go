// Package events routes domain events to rooms. Events for a room are handed
// to the publisher synchronously, so callers that emit while holding a
// conversation lock get the same order on every connection. Users without a
// live connection are reached through the notification dispatcher, which
// runs on a small worker pool so a slow push backend never stalls a commit.
package events

import (
	"context"
	"sync"
	"time"

	"chatsync/pkg/clock"
	"chatsync/pkg/logger"
	"chatsync/pkg/notify"
	"chatsync/pkg/telemetry"
)

type Event struct {
	Type string
	Room string
	Data any
	TS   int64
}

// Publisher delivers events to the connections in a room.
type Publisher interface {
	// Publish returns the number of connections the event was queued on.
	Publish(evt Event) int
	Online(userID string) bool
}

// Emitter is what the coordinator and broker depend on.
type Emitter interface {
	Emit(room, typ string, data any)
	EmitToUser(userID, typ string, data any, notifyOffline bool)
	NotifyOffline(userIDs []string, except, typ string, data any)
}

type Options struct {
	Workers       int
	QueueSize     int
	NotifyTimeout time.Duration
}

type job struct {
	userID string
	typ    string
	data   any
}

type Dispatcher struct {
	pub      Publisher
	notifier notify.Dispatcher
	clock    clock.Clock
	timeout  time.Duration

	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func New(pub Publisher, n notify.Dispatcher, clk clock.Clock, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	if n == nil {
		n = notify.Log{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	d := &Dispatcher{
		pub:      pub,
		notifier: n,
		clock:    clk,
		timeout:  opts.NotifyTimeout,
		jobs:     make(chan job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit publishes to every connection in room.
func (d *Dispatcher) Emit(room, typ string, data any) {
	d.pub.Publish(Event{Type: typ, Room: room, Data: data, TS: d.clock.Now().UnixNano()})
	telemetry.EventsEmitted.WithLabelValues(typ).Inc()
}

// EmitToUser publishes to the user's private room. When nothing received it
// and notifyOffline is set, the notification dispatcher is used instead.
func (d *Dispatcher) EmitToUser(userID, typ string, data any, notifyOffline bool) {
	n := d.pub.Publish(Event{Type: typ, Room: "user:" + userID, Data: data, TS: d.clock.Now().UnixNano()})
	telemetry.EventsEmitted.WithLabelValues(typ).Inc()
	if n == 0 && notifyOffline {
		d.enqueue(job{userID: userID, typ: typ, data: data})
	}
}

// NotifyOffline hands the event to the notification dispatcher for every
// listed user that has no live connection.
func (d *Dispatcher) NotifyOffline(userIDs []string, except, typ string, data any) {
	for _, u := range userIDs {
		if u == except || d.pub.Online(u) {
			continue
		}
		d.enqueue(job{userID: u, typ: typ, data: data})
	}
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.jobs <- j:
	default:
		telemetry.Notifications.WithLabelValues("dropped").Inc()
		logger.Warn("notification_queue_full", "user", j.userID, "event", j.typ)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.notifier.Notify(ctx, j.userID, j.typ, j.data)
		cancel()
		if err != nil {
			telemetry.Notifications.WithLabelValues("error").Inc()
			logger.Warn("notification_failed", "user", j.userID, "event", j.typ, "error", err)
			continue
		}
		telemetry.Notifications.WithLabelValues("ok").Inc()
	}
}

// Close drains queued notifications and stops the workers.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
		d.wg.Wait()
	})
}
