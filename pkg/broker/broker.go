// Package broker runs the approval protocol for capacity-bounded live
// sessions. It is the only writer of session and join request state, and
// every mutation of a session happens inside that session's exclusive
// section so the capacity check at approval time cannot race.
package broker

import (
	"context"
	"errors"

	"chatsync/pkg/apperr"
	"chatsync/pkg/clock"
	"chatsync/pkg/events"
	"chatsync/pkg/keylock"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"

	"github.com/google/uuid"
)

// Conversations is the slice of the coordinator the broker needs to keep
// the backing conversation's membership in step with the session.
type Conversations interface {
	CreateLive(ctx context.Context, hostID, title string) (*models.Conversation, error)
	Join(ctx context.Context, convID, userID string) error
	Leave(ctx context.Context, convID, userID string) error
}

// Rooms subscribes or unsubscribes all live connections of a user.
type Rooms interface {
	AddUserToRoom(userID, room string)
	RemoveUserFromRoom(userID, room string)
}

type Options struct {
	DefaultCapacity int
	MaxCapacity     int
}

const (
	ReasonSessionEnded     = "session_ended"
	ReasonHostDisconnected = "host_disconnected"
	ReasonHostEnded        = "host_ended"
)

type Broker struct {
	st    *store.Store
	locks *keylock.Locker
	convs Conversations
	out   events.Emitter
	rooms Rooms
	clock clock.Clock
	opts  Options
}

func New(st *store.Store, locks *keylock.Locker, convs Conversations, out events.Emitter, clk clock.Clock, opts Options) *Broker {
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = 50
	}
	if opts.MaxCapacity <= 0 {
		opts.MaxCapacity = 1000
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Broker{st: st, locks: locks, convs: convs, out: out, clock: clk, opts: opts}
}

// SetRooms wires the gateway in once it exists.
func (b *Broker) SetRooms(r Rooms) { b.rooms = r }

func lockKey(sid string) string { return "session:" + sid }

func (b *Broker) lock(sid string) (*models.LiveSession, func(), error) {
	unlock := b.locks.Lock(lockKey(sid))
	ls, err := b.st.GetSession(sid)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return ls, unlock, nil
}

func (b *Broker) now() int64 { return b.clock.Now().UTC().UnixNano() }

func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}

func requireHost(op string, ls *models.LiveSession, actor string) error {
	if !ls.IsHost(actor) {
		return apperr.Forbidden(op, "only the host or a co-host may do this")
	}
	return nil
}

// CreateSession creates a waiting session and its backing conversation.
func (b *Broker) CreateSession(ctx context.Context, hostID string, req wire.CreateSession) (*models.LiveSession, error) {
	const op = "broker.create_session"
	capacity := req.Capacity
	switch {
	case capacity < 0:
		return nil, apperr.Validation(op, "capacity must not be negative")
	case capacity == 0:
		capacity = b.opts.DefaultCapacity
	case capacity > b.opts.MaxCapacity:
		return nil, apperr.Validation(op, "capacity exceeds %d", b.opts.MaxCapacity)
	}
	conv, err := b.convs.CreateLive(ctx, hostID, req.Title)
	if err != nil {
		return nil, err
	}
	ls := &models.LiveSession{
		ID:              newID("s-"),
		ConversationID:  conv.ID,
		HostID:          hostID,
		Status:          models.SessionWaiting,
		Capacity:        capacity,
		RequireApproval: req.RequireApproval,
		Participants:    []string{},
		CreatedTS:       b.now(),
	}
	unlock := b.locks.Lock(lockKey(ls.ID))
	defer unlock()
	if err := b.st.Update(op, func(w *store.Writer) error {
		w.PutSession(ls)
		return nil
	}); err != nil {
		return nil, err
	}
	if b.rooms != nil {
		b.rooms.AddUserToRoom(hostID, wire.SessionRoom(ls.ID))
		b.rooms.AddUserToRoom(hostID, wire.ConversationRoom(conv.ID))
	}
	logger.Info("live_session_created", "session", ls.ID, "host", hostID, "capacity", capacity, "approval", req.RequireApproval)
	return ls, nil
}

// GetSession returns session metadata.
func (b *Broker) GetSession(ctx context.Context, sid string) (*models.LiveSession, error) {
	return b.st.GetSession(sid)
}

// Start moves a waiting session to active.
func (b *Broker) Start(ctx context.Context, actor, sid string) (*models.LiveSession, error) {
	const op = "broker.start"
	ls, unlock, err := b.lock(sid)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := requireHost(op, ls, actor); err != nil {
		return nil, err
	}
	if ls.Status == models.SessionActive {
		return ls, nil
	}
	if !ls.Status.CanTransition(models.SessionActive) {
		return nil, apperr.Conflict(op, "session %s is %s", sid, ls.Status)
	}
	ls.Status = models.SessionActive
	ls.StartedTS = b.now()
	if err := b.st.Update(op, func(w *store.Writer) error {
		w.PutSession(ls)
		return nil
	}); err != nil {
		return nil, err
	}
	b.out.Emit(wire.SessionRoom(sid), wire.EvtLiveSessionStarted, wire.SessionEvent{Session: *ls})
	logger.Info("live_session_started", "session", sid, "by", actor)
	return ls, nil
}

// End ends a session and rejects every pending request. Ending an ended
// session is a no-op.
func (b *Broker) End(ctx context.Context, actor, sid string) (*models.LiveSession, error) {
	const op = "broker.end"
	ls, unlock, err := b.lock(sid)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := requireHost(op, ls, actor); err != nil {
		return nil, err
	}
	return b.endLocked(op, ls, ReasonHostEnded)
}

func (b *Broker) endLocked(op string, ls *models.LiveSession, reason string) (*models.LiveSession, error) {
	if ls.Status == models.SessionEnded {
		return ls, nil
	}
	pending, err := b.st.JoinRequests(ls.ID, models.JoinPending)
	if err != nil {
		return nil, err
	}
	now := b.now()
	ls.Status = models.SessionEnded
	ls.EndedTS = now
	ls.EndReason = reason
	for i := range pending {
		pending[i].Status = models.JoinRejected
		pending[i].RespondedTS = now
		pending[i].Reason = ReasonSessionEnded
	}
	if err := b.st.Update(op, func(w *store.Writer) error {
		w.PutSession(ls)
		for i := range pending {
			w.PutJoinRequest(&pending[i])
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, r := range pending {
		telemetry.JoinRequests.WithLabelValues(string(models.JoinRejected)).Inc()
		b.out.EmitToUser(r.UserID, wire.EvtJoinRequestRejected, resolved(&r), true)
	}
	b.out.Emit(wire.SessionRoom(ls.ID), wire.EvtLiveSessionEnded, wire.SessionEvent{Session: *ls})
	logger.Info("live_session_ended", "session", ls.ID, "reason", reason, "auto_rejected", len(pending))
	return ls, nil
}

// OnUserGone ends every session hosted by userID. The gateway calls it when
// a user's grace period runs out.
func (b *Broker) OnUserGone(ctx context.Context, userID string) {
	sids, err := b.st.HostedSessions(userID)
	if err != nil {
		logger.Error("hosted_sessions_lookup_failed", "user", userID, "error", err)
		return
	}
	for _, sid := range sids {
		ls, unlock, err := b.lock(sid)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				logger.Error("host_timeout_end_failed", "session", sid, "error", err)
			}
			continue
		}
		if ls.HostID == userID {
			if _, err := b.endLocked("broker.host_timeout", ls, ReasonHostDisconnected); err != nil {
				logger.Error("host_timeout_end_failed", "session", sid, "error", err)
			}
		}
		unlock()
	}
}

// AddCoHost delegates approval rights to a session participant. Only the
// primary host may do this.
func (b *Broker) AddCoHost(ctx context.Context, actor, sid, userID string) (*models.LiveSession, error) {
	const op = "broker.add_cohost"
	ls, unlock, err := b.lock(sid)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if ls.HostID != actor {
		return nil, apperr.Forbidden(op, "only the host may add co-hosts")
	}
	if !ls.HasParticipant(userID) {
		return nil, apperr.Validation(op, "%s is not a participant", userID)
	}
	if ls.IsHost(userID) {
		return ls, nil
	}
	ls.CoHosts = append(ls.CoHosts, userID)
	return ls, b.st.Update(op, func(w *store.Writer) error {
		w.PutSession(ls)
		return nil
	})
}

// Leave removes a participant from a session.
func (b *Broker) Leave(ctx context.Context, userID, sid string) error {
	const op = "broker.leave"
	ls, unlock, err := b.lock(sid)
	if err != nil {
		return err
	}
	defer unlock()
	if ls.HostID == userID {
		return apperr.Validation(op, "the host ends the session instead of leaving")
	}
	if !ls.HasParticipant(userID) {
		return nil
	}
	ls.RemoveParticipant(userID)
	ls.CoHosts = without(ls.CoHosts, userID)
	if err := b.st.Update(op, func(w *store.Writer) error {
		w.PutSession(ls)
		return nil
	}); err != nil {
		return err
	}
	if err := b.convs.Leave(ctx, ls.ConversationID, userID); err != nil {
		logger.Warn("session_leave_conversation_failed", "session", sid, "user", userID, "error", err)
	}
	if b.rooms != nil {
		b.rooms.RemoveUserFromRoom(userID, wire.SessionRoom(sid))
	}
	b.out.Emit(wire.SessionRoom(sid), wire.EvtParticipantLeft, wire.Participant{RoomID: wire.SessionRoom(sid), UserID: userID})
	return nil
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func resolved(r *models.JoinRequest) wire.JoinRequestResolved {
	return wire.JoinRequestResolved{RequestID: r.ID, SessionID: r.SessionID, Status: r.Status, Reason: r.Reason}
}
