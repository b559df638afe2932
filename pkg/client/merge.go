package client

import (
	"chatsync/pkg/client/cache"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"
)

// applyServerLocked merges one authoritative message into the cache.
// Deletes win, stale versions are ignored, and a local edit or delete still
// queued for the message stays visible on top of the new server state.
func (e *Engine) applyServerLocked(m models.Message) error {
	if m.ID == "" {
		return nil
	}
	if m.ClientTempID != "" && m.SenderID == e.opts.UserID {
		local, err := e.reconcileTempLocked(m)
		if err != nil {
			return err
		}
		if local != nil && !m.Deleted() {
			return e.overlayLocked(m, *local)
		}
	}

	cur, err := e.cache.Entry(m.ConversationID, m.ID)
	if err != nil {
		return err
	}
	changed := true
	switch {
	case cur == nil:
	case cur.Base == nil && cur.Message.Deleted():
		changed = false
	case m.Deleted():
	case cur.Base == nil && m.UpdatedTS() < cur.Message.UpdatedTS():
		changed = false
	case cur.Base == nil && m.UpdatedTS() == cur.Message.UpdatedTS() && cur.Status == cache.Confirmed:
		changed = false
	}

	if changed {
		next := cache.Entry{Message: m, Status: cache.Confirmed}
		switch {
		case cur != nil:
			next.TempID = cur.TempID
		case m.SenderID == e.opts.UserID:
			next.TempID = m.ClientTempID
		}
		if cur != nil && cur.Base != nil && !m.Deleted() {
			pending, err := e.pendingFor(m.ID)
			if err != nil {
				return err
			}
			if pending {
				// keep the overlay, refresh what a rejection restores
				if cur.Base.UpdatedTS() > m.UpdatedTS() {
					m = *cur.Base
				}
				next = *cur
				next.Base = &m
			}
		}
		if m.Deleted() {
			if err := e.dropQueuedLocked(m.ID); err != nil {
				return err
			}
		}
		if err := e.cache.PutEntry(next); err != nil {
			return err
		}
		if next.Base == nil {
			out := next
			e.emitLocked(Update{Kind: MessageUpserted, ConversationID: m.ConversationID, Entry: &out})
		}
	}
	return e.advanceCursorLocked(m)
}

// reconcileTempLocked replaces the optimistic entry of a local send by its
// durable counterpart. Actions queued against the temp id are retargeted.
// It returns the local view to keep on top of m when the user edited or
// deleted the message while its send was in flight.
func (e *Engine) reconcileTempLocked(m models.Message) (*models.Message, error) {
	e.temps.Put(m.ClientTempID, m.ID)
	key := cache.TempKey(m.ClientTempID)
	tmp, err := e.cache.Entry(m.ConversationID, key)
	if err != nil {
		return nil, err
	}
	if tmp != nil {
		if err := e.cache.DeleteEntry(m.ConversationID, key); err != nil {
			return nil, err
		}
		e.emitLocked(Update{Kind: MessageRemoved, ConversationID: m.ConversationID, Key: key})
	}
	queue, err := e.cache.Outbox()
	if err != nil {
		return nil, err
	}
	var local *models.Message
	for _, a := range queue {
		if a.TempID != m.ClientTempID || a.Type == wire.CmdSendMessage || a.MessageID != "" {
			continue
		}
		a.MessageID = m.ID
		if err := e.cache.UpdateAction(a); err != nil {
			return nil, err
		}
		if a.Type == wire.CmdEditMessage {
			edited := m
			edited.Content = a.Content
			edited.EditedTS = a.CreatedTS
			local = &edited
		}
	}
	if e.discarded[m.ClientTempID] {
		delete(e.discarded, m.ClientTempID)
		now := e.clock.Now().UnixMilli()
		if _, err := e.cache.Enqueue(cache.Action{
			Type:           wire.CmdDeleteMessage,
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			CreatedTS:      now,
		}); err != nil {
			return nil, err
		}
		gone := m
		gone.Redact(now)
		local = &gone
		e.wake()
	}
	return local, nil
}

// overlayLocked stores m as the confirmed base under a pending local view.
func (e *Engine) overlayLocked(m, local models.Message) error {
	if cur, err := e.cache.Entry(m.ConversationID, m.ID); err != nil {
		return err
	} else if cur != nil && cur.Base != nil {
		local = cur.Message
	}
	base := m
	ent := cache.Entry{Message: local, Status: cache.Pending, TempID: m.ClientTempID, Base: &base}
	if err := e.cache.PutEntry(ent); err != nil {
		return err
	}
	e.emitLocked(Update{Kind: MessageUpserted, ConversationID: m.ConversationID, Entry: &ent})
	return e.advanceCursorLocked(m)
}

// pendingFor reports whether an edit or delete of id is still queued.
func (e *Engine) pendingFor(id string) (bool, error) {
	queue, err := e.cache.Outbox()
	if err != nil {
		return false, err
	}
	for _, a := range queue {
		if a.MessageID != id {
			continue
		}
		if a.Type == wire.CmdEditMessage || a.Type == wire.CmdDeleteMessage {
			return true, nil
		}
	}
	return false, nil
}

// dropQueuedLocked discards queued actions on a message the server deleted.
func (e *Engine) dropQueuedLocked(id string) error {
	queue, err := e.cache.Outbox()
	if err != nil {
		return err
	}
	for _, a := range queue {
		if a.MessageID != id || a.Type == wire.CmdMarkRead {
			continue
		}
		if err := e.cache.Dequeue(a.ID); err != nil {
			return err
		}
		logger.Debug("client_action_superseded", "type", a.Type, "msg_id", id)
	}
	return nil
}

// advanceCursorLocked moves the seq cursor over contiguous messages.
func (e *Engine) advanceCursorLocked(m models.Message) error {
	cur, err := e.cache.Cursor(m.ConversationID)
	if err != nil {
		return err
	}
	if m.Seq != cur.Seq+1 {
		return nil
	}
	cur.Seq = m.Seq
	if m.CreatedTS > cur.TS {
		cur.TS = m.CreatedTS
	}
	return e.cache.PutCursor(cur)
}

// trackRevLocked advances the sync revision over a live change and
// schedules a catch-up when the change reveals a gap.
func (e *Engine) trackRevLocked(m models.Message) error {
	if m.Rev == 0 {
		return nil
	}
	cur, err := e.cache.Cursor(m.ConversationID)
	if err != nil {
		return err
	}
	switch {
	case m.Rev <= cur.Rev:
		return nil
	case m.Rev == cur.Rev+1:
		cur.Rev = m.Rev
		return e.cache.PutCursor(cur)
	default:
		logger.Debug("client_gap_detected", "conversation", m.ConversationID, "rev", cur.Rev, "event_rev", m.Rev)
		e.schedule(syncJob{conv: m.ConversationID})
		return nil
	}
}

// handleEvent applies one server push.
func (e *Engine) handleEvent(codec wire.Codec, typ string, raw []byte) {
	var err error
	switch typ {
	case wire.EvtMessageCreated, wire.EvtMessageEdited, wire.EvtMessageDeleted:
		var f wire.Frame[models.Message]
		if f, err = wire.Decode[models.Message](codec, raw); err == nil {
			e.mu.Lock()
			if err = e.applyServerLocked(f.Data); err == nil {
				err = e.trackRevLocked(f.Data)
			}
			e.mu.Unlock()
		}
	case wire.EvtReactionAdded, wire.EvtReactionRemoved:
		var f wire.Frame[models.Reaction]
		if f, err = wire.Decode[models.Reaction](codec, raw); err == nil {
			r := f.Data
			e.publish(Update{Kind: ReactionChanged, ConversationID: r.ConversationID, Reaction: &r, ReactionRemoved: typ == wire.EvtReactionRemoved})
		}
	case wire.EvtMessageRead:
		var f wire.Frame[wire.MessageRead]
		if f, err = wire.Decode[wire.MessageRead](codec, raw); err == nil {
			r := f.Data
			e.publish(Update{Kind: ReadChanged, ConversationID: r.ConversationID, Read: &r})
		}
	case wire.EvtTyping:
		var f wire.Frame[wire.Typing]
		if f, err = wire.Decode[wire.Typing](codec, raw); err == nil {
			e.publish(Update{Kind: TypingChanged, ConversationID: f.Data.ConversationID, Typing: f.Data.UserIDs})
		}
	case wire.EvtJoinRequestReceived:
		var f wire.Frame[wire.JoinRequestReceived]
		if f, err = wire.Decode[wire.JoinRequestReceived](codec, raw); err == nil {
			r := f.Data.Request
			e.publish(Update{Kind: JoinRequestChanged, Request: &r, Event: typ})
		}
	case wire.EvtJoinRequestApproved, wire.EvtJoinRequestRejected:
		var f wire.Frame[wire.JoinRequestResolved]
		if f, err = wire.Decode[wire.JoinRequestResolved](codec, raw); err == nil {
			r := f.Data
			e.publish(Update{Kind: JoinRequestChanged, Resolution: &r, Event: typ})
		}
	case wire.EvtLiveSessionStarted, wire.EvtLiveSessionEnded:
		var f wire.Frame[wire.SessionEvent]
		if f, err = wire.Decode[wire.SessionEvent](codec, raw); err == nil {
			s := f.Data.Session
			e.publish(Update{Kind: SessionChanged, Session: &s, Event: typ})
		}
	case wire.EvtParticipantJoined, wire.EvtParticipantLeft:
		var f wire.Frame[wire.Participant]
		if f, err = wire.Decode[wire.Participant](codec, raw); err == nil {
			p := f.Data
			conv := ""
			if kind, id, ok := wire.ParseRoom(p.RoomID); ok && kind == wire.RoomConversation {
				conv = id
			}
			e.publish(Update{Kind: ParticipantChanged, ConversationID: conv, Participant: &p, Event: typ})
		}
	default:
		logger.Debug("client_unknown_event", "type", typ)
	}
	if err != nil {
		logger.Warn("client_event_failed", "type", typ, "error", err)
	}
}

func (e *Engine) publish(u Update) {
	e.mu.Lock()
	e.emitLocked(u)
	e.mu.Unlock()
}
