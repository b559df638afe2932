// Package coordinator owns the message lifecycle: conversations, sends,
// edits, deletes, reactions and read state.
//
// Every mutation of a conversation runs inside that conversation's exclusive
// section and emits its event before leaving it, so all participants observe
// creations, edits and deletes in commit order.
package coordinator

import (
	"context"
	"strings"

	"chatsync/pkg/apperr"
	"chatsync/pkg/clock"
	"chatsync/pkg/events"
	"chatsync/pkg/keylock"
	"chatsync/pkg/models"
	"chatsync/pkg/moderation"
	"chatsync/pkg/store"

	"github.com/google/uuid"
)

type Options struct {
	MaxContentSize  int
	MaxMediaRefSize int
	ReceiptsLimit   int
	HistoryLimit    int
	MaxHistoryLimit int
}

func (o *Options) fill() {
	if o.MaxContentSize <= 0 {
		o.MaxContentSize = 16 * 1024
	}
	if o.MaxMediaRefSize <= 0 {
		o.MaxMediaRefSize = 2048
	}
	if o.ReceiptsLimit <= 0 {
		o.ReceiptsLimit = 50
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.MaxHistoryLimit <= 0 {
		o.MaxHistoryLimit = 500
	}
}

// Rooms drops live subscriptions when membership ends.
type Rooms interface {
	RemoveUserFromRoom(userID, room string)
	CloseRoom(room string)
}

type Coordinator struct {
	st    *store.Store
	locks *keylock.Locker
	out   events.Emitter
	mod   moderation.Service
	rooms Rooms
	clock clock.Clock
	opts  Options
}

func New(st *store.Store, locks *keylock.Locker, out events.Emitter, mod moderation.Service, clk clock.Clock, opts Options) *Coordinator {
	opts.fill()
	if clk == nil {
		clk = clock.Real()
	}
	if mod == nil {
		mod = moderation.NewStore(st)
	}
	return &Coordinator{st: st, locks: locks, out: out, mod: mod, clock: clk, opts: opts}
}

// SetRooms wires the gateway in once it exists.
func (c *Coordinator) SetRooms(r Rooms) { c.rooms = r }

func lockKey(conv string) string { return "conv:" + conv }

// lock enters the conversation's exclusive section and loads its current
// metadata.
func (c *Coordinator) lock(convID string) (*models.Conversation, func(), error) {
	unlock := c.locks.Lock(lockKey(convID))
	conv, err := c.st.GetConversation(convID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return conv, unlock, nil
}

// now returns a server timestamp that never goes below floor.
func (c *Coordinator) now(floor int64) int64 {
	ts := c.clock.Now().UTC().UnixNano()
	if ts <= floor {
		ts = floor + 1
	}
	return ts
}

func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}

func (c *Coordinator) checkBanned(ctx context.Context, op, conv, user string) error {
	banned, err := c.mod.IsBanned(ctx, conv, user)
	if err != nil {
		return apperr.TransientIO(op, err)
	}
	if banned {
		return apperr.Forbidden(op, "user is banned from this conversation")
	}
	return nil
}

func (c *Coordinator) checkBlocked(ctx context.Context, op, blocker, actor string) error {
	if blocker == "" || blocker == actor {
		return nil
	}
	blocked, err := c.mod.IsBlocked(ctx, blocker, actor)
	if err != nil {
		return apperr.TransientIO(op, err)
	}
	if blocked {
		return apperr.Forbidden(op, "blocked by %s", blocker)
	}
	return nil
}

func requireParticipant(op string, conv *models.Conversation, user string) error {
	if !conv.HasParticipant(user) {
		return apperr.Forbidden(op, "%s is not a participant of %s", user, conv.ID)
	}
	return nil
}

func trimmed(s string) string { return strings.TrimSpace(s) }
