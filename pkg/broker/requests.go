package broker

import (
	"context"

	"chatsync/pkg/apperr"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"
)

// RequestJoin asks to join a session. While a request from the same user is
// pending, that request is returned instead of a new one. Sessions that do
// not require approval approve immediately, subject to capacity.
func (b *Broker) RequestJoin(ctx context.Context, userID, sid string) (*models.JoinRequest, error) {
	const op = "broker.request_join"
	ls, unlock, err := b.lock(sid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch {
	case ls.Status == models.SessionEnded:
		return nil, apperr.Conflict(op, "session %s has ended", sid)
	case ls.HostID == userID:
		return nil, apperr.Validation(op, "the host is already in the session")
	case ls.HasParticipant(userID):
		return nil, apperr.Conflict(op, "already a participant of %s", sid)
	}
	existing, err := b.st.PendingJoinRequest(sid, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	r := &models.JoinRequest{
		ID:        newID("jr-"),
		SessionID: sid,
		UserID:    userID,
		Status:    models.JoinPending,
		CreatedTS: b.now(),
	}
	if !ls.RequireApproval {
		if err := b.approveLocked(ctx, op, ls, r, ""); err != nil {
			return nil, err
		}
		return r, nil
	}
	if err := b.st.Update(op, func(w *store.Writer) error {
		w.PutJoinRequest(r)
		return nil
	}); err != nil {
		return nil, err
	}
	telemetry.JoinRequests.WithLabelValues(string(models.JoinPending)).Inc()

	ev := wire.JoinRequestReceived{Request: *r}
	b.out.EmitToUser(ls.HostID, wire.EvtJoinRequestReceived, ev, true)
	for _, co := range ls.CoHosts {
		b.out.EmitToUser(co, wire.EvtJoinRequestReceived, ev, false)
	}
	logger.Info("join_request_created", "session", sid, "request", r.ID, "user", userID)
	return r, nil
}

// loadRequest resolves a request id and enters its session's exclusive
// section, re-reading the request inside it.
func (b *Broker) loadRequest(rid string) (*models.LiveSession, *models.JoinRequest, func(), error) {
	r, err := b.st.GetJoinRequest(rid)
	if err != nil {
		return nil, nil, nil, err
	}
	ls, unlock, err := b.lock(r.SessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	r, err = b.st.GetJoinRequest(rid)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return ls, r, unlock, nil
}

// Approve admits the requester. Capacity is checked here, not when the
// request was made, so racing approvals cannot overfill the session.
func (b *Broker) Approve(ctx context.Context, actor, rid string) (*models.JoinRequest, error) {
	const op = "broker.approve"
	ls, r, unlock, err := b.loadRequest(rid)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := requireHost(op, ls, actor); err != nil {
		return nil, err
	}
	if r.Status != models.JoinPending {
		return nil, apperr.Conflict(op, "request %s is already %s", rid, r.Status)
	}
	if err := b.approveLocked(ctx, op, ls, r, actor); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *Broker) approveLocked(ctx context.Context, op string, ls *models.LiveSession, r *models.JoinRequest, actor string) error {
	if ls.Status == models.SessionEnded {
		return apperr.Conflict(op, "session %s has ended", ls.ID)
	}
	if ls.Full() {
		telemetry.JoinRequests.WithLabelValues("capacity_conflict").Inc()
		return apperr.Conflict(op, "session %s is at capacity (%d)", ls.ID, ls.Capacity)
	}
	// membership of the backing conversation first, so a failed session
	// commit can be compensated
	if err := b.convs.Join(ctx, ls.ConversationID, r.UserID); err != nil {
		return err
	}
	next := *ls
	next.Participants = append([]string{}, ls.Participants...)
	next.AddParticipant(r.UserID)
	r.Status = models.JoinApproved
	r.RespondedTS = b.now()
	r.RespondedBy = actor
	if err := b.st.Update(op, func(w *store.Writer) error {
		w.PutSession(&next)
		w.PutJoinRequest(r)
		return nil
	}); err != nil {
		r.Status = models.JoinPending
		if lerr := b.convs.Leave(ctx, ls.ConversationID, r.UserID); lerr != nil {
			logger.Error("approve_compensation_failed", "session", ls.ID, "user", r.UserID, "error", lerr)
		}
		return err
	}
	*ls = next
	telemetry.JoinRequests.WithLabelValues(string(models.JoinApproved)).Inc()

	if b.rooms != nil {
		b.rooms.AddUserToRoom(r.UserID, wire.SessionRoom(ls.ID))
		b.rooms.AddUserToRoom(r.UserID, wire.ConversationRoom(ls.ConversationID))
	}
	b.out.EmitToUser(r.UserID, wire.EvtJoinRequestApproved, resolved(r), true)
	b.out.Emit(wire.SessionRoom(ls.ID), wire.EvtParticipantJoined, wire.Participant{RoomID: wire.SessionRoom(ls.ID), UserID: r.UserID})
	logger.Info("join_request_approved", "session", ls.ID, "request", r.ID, "user", r.UserID, "by", actor, "count", ls.CurrentParticipantCount)
	return nil
}

// Reject declines a pending request. Only the requester hears about it.
func (b *Broker) Reject(ctx context.Context, actor, rid string) (*models.JoinRequest, error) {
	const op = "broker.reject"
	ls, r, unlock, err := b.loadRequest(rid)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := requireHost(op, ls, actor); err != nil {
		return nil, err
	}
	if r.Status != models.JoinPending {
		return nil, apperr.Conflict(op, "request %s is already %s", rid, r.Status)
	}
	r.Status = models.JoinRejected
	r.RespondedTS = b.now()
	r.RespondedBy = actor
	if err := b.st.Update(op, func(w *store.Writer) error {
		w.PutJoinRequest(r)
		return nil
	}); err != nil {
		return nil, err
	}
	telemetry.JoinRequests.WithLabelValues(string(models.JoinRejected)).Inc()
	b.out.EmitToUser(r.UserID, wire.EvtJoinRequestRejected, resolved(r), true)
	logger.Info("join_request_rejected", "session", ls.ID, "request", r.ID, "by", actor)
	return r, nil
}

// PendingRequests lists the pending requests of a session for its hosts.
func (b *Broker) PendingRequests(ctx context.Context, actor, sid string) ([]models.JoinRequest, error) {
	ls, err := b.st.GetSession(sid)
	if err != nil {
		return nil, err
	}
	if err := requireHost("broker.pending_requests", ls, actor); err != nil {
		return nil, err
	}
	out, err := b.st.JoinRequests(sid, models.JoinPending)
	if out == nil {
		out = []models.JoinRequest{}
	}
	return out, err
}

// CanJoinRoom authorizes a session room subscription.
func (b *Broker) CanJoinRoom(ctx context.Context, sid, userID string) (bool, error) {
	ls, err := b.st.GetSession(sid)
	if err != nil {
		return false, err
	}
	return ls.IsHost(userID) || ls.HasParticipant(userID), nil
}
