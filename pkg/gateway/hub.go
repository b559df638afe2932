// Package gateway is the Session Gateway: it holds persistent client
// connections, tracks room membership and fans events out to rooms.
package gateway

import (
	"sort"
	"sync"
	"time"

	"chatsync/pkg/clock"
	"chatsync/pkg/events"
	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"

	"github.com/valyala/bytebufferpool"
)

const DefaultGrace = 10 * time.Second

// GoneFunc runs once a user's last connection has stayed closed for the
// whole grace period.
type GoneFunc func(userID string)

type Hub struct {
	mu    sync.RWMutex
	clock clock.Clock
	grace time.Duration

	conns map[string]*Conn
	users map[string]map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}

	// Users whose last connection closed and whose grace timer is running,
	// with the rooms they occupied at that moment.
	leaving map[string]*departure
	// Rooms a user held when a reconnect cancelled its departure. Joining
	// them again is not announced.
	returning map[string]map[string]struct{}

	hooks []GoneFunc
}

type departure struct {
	timer *clock.Timer
	rooms []string
}

func NewHub(clk clock.Clock, grace time.Duration) *Hub {
	if clk == nil {
		clk = clock.Real()
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Hub{
		clock:     clk,
		grace:     grace,
		conns:     make(map[string]*Conn),
		users:     make(map[string]map[*Conn]struct{}),
		rooms:     make(map[string]map[*Conn]struct{}),
		leaving:   make(map[string]*departure),
		returning: make(map[string]map[string]struct{}),
	}
}

// OnUserGone registers a hook. Hooks are called outside the hub lock.
func (h *Hub) OnUserGone(fn GoneFunc) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

func (h *Hub) now() int64 { return h.clock.Now().UTC().UnixNano() }

// Register adds c and subscribes it to its user's private room. A
// reconnect inside the grace period cancels the pending departure.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID] = c
	set := h.users[c.UserID]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.users[c.UserID] = set
	}
	set[c] = struct{}{}
	if d, ok := h.leaving[c.UserID]; ok {
		d.timer.Stop()
		delete(h.leaving, c.UserID)
		back := make(map[string]struct{}, len(d.rooms))
		for _, room := range d.rooms {
			if !isUserRoom(room) {
				back[room] = struct{}{}
			}
		}
		h.returning[c.UserID] = back
		logger.Debug("gateway_reconnect_within_grace", "user", c.UserID)
	}
	h.joinLocked(c, wire.UserRoom(c.UserID), false)
	telemetry.Connections.Set(float64(len(h.conns)))
}

// Unregister removes c from every room without any broadcast. When it was
// the user's last connection the departure is announced after the grace
// period unless the user reconnects first.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
		h.dropLocked(c, room)
	}
	set := h.users[c.UserID]
	delete(set, c)
	last := len(set) == 0
	if last {
		delete(h.users, c.UserID)
		if prev, ok := h.leaving[c.UserID]; ok {
			prev.timer.Stop()
		}
		// rooms never rejoined since the last reconnect are still owed a
		// departure
		for room := range h.returning[c.UserID] {
			rooms = append(rooms, room)
		}
		delete(h.returning, c.UserID)
		userID := c.UserID
		d := &departure{rooms: rooms}
		d.timer = h.clock.AfterFunc(h.grace, func() { h.expire(userID, d) })
		h.leaving[userID] = d
	} else {
		// The user is still online elsewhere, so rooms only this connection
		// held are left right away.
		for _, room := range rooms {
			if !isUserRoom(room) && !h.userInRoomLocked(c.UserID, room) {
				h.publishLocked(events.Event{
					Type: wire.EvtParticipantLeft,
					Room: room,
					Data: wire.Participant{RoomID: room, UserID: c.UserID},
					TS:   h.now(),
				})
			}
		}
	}
	telemetry.Connections.Set(float64(len(h.conns)))
	telemetry.Rooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()
	c.Close()
}

func (h *Hub) expire(userID string, d *departure) {
	h.mu.Lock()
	if h.leaving[userID] != d {
		h.mu.Unlock()
		return
	}
	delete(h.leaving, userID)
	seen := make(map[string]struct{}, len(d.rooms))
	for _, room := range d.rooms {
		if _, dup := seen[room]; dup {
			continue
		}
		seen[room] = struct{}{}
		kind, _, _ := wire.ParseRoom(room)
		if kind == wire.RoomUser || h.userInRoomLocked(userID, room) {
			continue
		}
		h.publishLocked(events.Event{
			Type: wire.EvtParticipantLeft,
			Room: room,
			Data: wire.Participant{RoomID: room, UserID: userID},
			TS:   h.now(),
		})
	}
	hooks := append([]GoneFunc(nil), h.hooks...)
	h.mu.Unlock()

	logger.Info("gateway_user_gone", "user", userID, "rooms", len(seen))
	for _, fn := range hooks {
		fn(userID)
	}
}

// Join subscribes c to room and returns the members now in it.
func (h *Hub) Join(c *Conn, room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; ok {
		h.joinLocked(c, room, true)
	}
	return h.membersLocked(room)
}

// Leave unsubscribes c from room.
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room, true)
}

// AddUserToRoom subscribes every live connection of userID. Membership
// changes made by the server are announced by their caller, not the hub.
func (h *Hub) AddUserToRoom(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		h.joinLocked(c, room, false)
	}
}

// RemoveUserFromRoom unsubscribes every live connection of userID, and
// forgets the room for a user inside the grace period.
func (h *Hub) RemoveUserFromRoom(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		h.leaveLocked(c, room, false)
	}
	if d, ok := h.leaving[userID]; ok {
		d.rooms = without(d.rooms, room)
	}
	delete(h.returning[userID], room)
}

// CloseRoom unsubscribes every connection from room without announcing it.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		h.dropLocked(c, room)
	}
	for _, d := range h.leaving {
		d.rooms = without(d.rooms, room)
	}
	for _, back := range h.returning {
		delete(back, room)
	}
	telemetry.Rooms.Set(float64(len(h.rooms)))
}

func (h *Hub) joinLocked(c *Conn, room string, announce bool) {
	if _, ok := c.rooms[room]; ok {
		return
	}
	first := !h.userInRoomLocked(c.UserID, room)
	set := h.rooms[room]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.rooms[room] = set
	}
	if back := h.returning[c.UserID]; back != nil {
		if _, ok := back[room]; ok {
			// others never saw this user leave
			announce = false
			delete(back, room)
			if len(back) == 0 {
				delete(h.returning, c.UserID)
			}
		}
	}
	if announce && first && !isUserRoom(room) {
		h.publishLocked(events.Event{
			Type: wire.EvtParticipantJoined,
			Room: room,
			Data: wire.Participant{RoomID: room, UserID: c.UserID},
			TS:   h.now(),
		})
	}
	set[c] = struct{}{}
	c.rooms[room] = struct{}{}
	telemetry.Rooms.Set(float64(len(h.rooms)))
}

func (h *Hub) leaveLocked(c *Conn, room string, announce bool) {
	if _, ok := c.rooms[room]; !ok {
		return
	}
	h.dropLocked(c, room)
	if announce && !isUserRoom(room) && !h.userInRoomLocked(c.UserID, room) {
		h.publishLocked(events.Event{
			Type: wire.EvtParticipantLeft,
			Room: room,
			Data: wire.Participant{RoomID: room, UserID: c.UserID},
			TS:   h.now(),
		})
	}
	telemetry.Rooms.Set(float64(len(h.rooms)))
}

func without(rooms []string, room string) []string {
	kept := rooms[:0]
	for _, r := range rooms {
		if r != room {
			kept = append(kept, r)
		}
	}
	return kept
}

func (h *Hub) dropLocked(c *Conn, room string) {
	delete(c.rooms, room)
	if set := h.rooms[room]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) userInRoomLocked(userID, room string) bool {
	for c := range h.rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) membersLocked(room string) []string {
	seen := make(map[string]struct{})
	for c := range h.rooms[room] {
		seen[c.UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Members returns the distinct users connected to room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.membersLocked(room)
}

// Online reports whether userID has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// CloseAll closes every live connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish queues evt on every connection in its room and returns how many
// accepted it. It never blocks on a connection.
func (h *Hub) Publish(evt events.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.publishLocked(evt)
}

// publishLocked encodes the frame once per codec in use.
func (h *Hub) publishLocked(evt events.Event) int {
	set := h.rooms[evt.Room]
	if len(set) == 0 {
		return 0
	}
	frame := wire.Frame[any]{Type: evt.Type, Room: evt.Room, TS: evt.TS, Data: evt.Data}
	encoded := make(map[string][]byte, 2)
	n := 0
	for c := range set {
		b, ok := encoded[c.codec.Name()]
		if !ok {
			b = encodePooled(c.codec, frame)
			encoded[c.codec.Name()] = b
		}
		if b == nil {
			continue
		}
		if c.enqueue(b) {
			n++
		}
	}
	return n
}

func encodePooled(codec wire.Codec, frame wire.Frame[any]) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := codec.Encode(buf, frame); err != nil {
		logger.Error("gateway_encode_failed", "type", frame.Type, "codec", codec.Name(), "error", err)
		return nil
	}
	return append([]byte(nil), buf.B...)
}

func isUserRoom(room string) bool {
	kind, _, _ := wire.ParseRoom(room)
	return kind == wire.RoomUser
}
