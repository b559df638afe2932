package client

import (
	"context"
	"time"

	"chatsync/pkg/apperr"
	"chatsync/pkg/client/cache"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"

	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
)

// retryDelay is how long a transiently failed action waits before replay.
const retryDelay = time.Second

// flushLoop replays the outbox strictly in order. Only the head is ever in
// flight, so the server sees actions in the order the user made them.
func (e *Engine) flushLoop(ctx context.Context, conn Conn) error {
	rl := ratelimit.New(e.opts.ReplayRate)
	defer e.setInflight(0)
	for {
		a, ok, err := e.head()
		if err != nil {
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-e.kick:
				continue
			}
		}
		rl.Take()
		err = e.flush(ctx, conn, a)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case apperr.KindOf(err) == apperr.KindDisconnected:
			return err
		case isPermanent(err):
			if err := e.reject(a, err); err != nil {
				return err
			}
		default:
			logger.Warn("client_replay_retry", "type", a.Type, "action", a.ID, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-e.clock.After(retryDelay):
			}
		}
	}
}

func (e *Engine) head() (cache.Action, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	queue, err := e.cache.Outbox()
	if err != nil || len(queue) == 0 {
		e.inflight = 0
		return cache.Action{}, false, err
	}
	e.inflight = queue[0].ID
	return queue[0], true, nil
}

func (e *Engine) setInflight(id uint64) {
	e.mu.Lock()
	e.inflight = id
	e.mu.Unlock()
}

// payloadFor builds the wire command of a queued action.
func (e *Engine) payloadFor(a cache.Action) (any, error) {
	id := a.MessageID
	if id == "" && a.Type != wire.CmdSendMessage {
		durable, ok := e.temps.Lookup(a.TempID)
		if !ok {
			return nil, apperr.NotFound("client.replay", "message %q was never sent", a.TempID)
		}
		id = durable
	}
	switch a.Type {
	case wire.CmdSendMessage:
		return wire.SendMessage{ConversationID: a.ConversationID, Content: a.Content, MediaRef: a.MediaRef, ClientTempID: a.TempID}, nil
	case wire.CmdEditMessage:
		return wire.EditMessage{MessageID: id, Content: a.Content}, nil
	case wire.CmdDeleteMessage, wire.CmdMarkRead:
		return wire.MessageRef{MessageID: id}, nil
	case wire.CmdReact, wire.CmdUnreact:
		return wire.React{MessageID: id, Emoji: a.Emoji}, nil
	}
	return nil, apperr.Validation("client.replay", "unknown action %q", a.Type)
}

// flush sends one action and applies its ack.
func (e *Engine) flush(ctx context.Context, conn Conn, a cache.Action) error {
	data, err := e.payloadFor(a)
	if err != nil {
		return err
	}
	raw, err := e.request(ctx, conn, a.Type, data)
	if a.Type == wire.CmdDeleteMessage && apperr.KindOf(err) == apperr.KindNotFound {
		raw, err = nil, nil
	}
	if err != nil {
		return err
	}

	var m *models.Message
	switch a.Type {
	case wire.CmdSendMessage, wire.CmdEditMessage, wire.CmdDeleteMessage:
		if raw != nil {
			f, err := wire.Decode[models.Message](conn.Codec(), raw)
			if err != nil {
				return errors.Wrapf(err, "decode %s ack", a.Type)
			}
			m = &f.Data
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight = 0
	if err := e.cache.Dequeue(a.ID); err != nil {
		return err
	}
	if m != nil && m.ID != "" {
		return e.applyServerLocked(*m)
	}
	if a.Type == wire.CmdDeleteMessage {
		// already gone on the server
		return e.confirmTombstoneLocked(a.ConversationID, a.MessageID)
	}
	return nil
}

func (e *Engine) confirmTombstoneLocked(conv, id string) error {
	ent, err := e.cache.Entry(conv, id)
	if err != nil || ent == nil {
		return err
	}
	if ent.Base != nil && !ent.Base.Deleted() {
		ent.Message = *ent.Base
		ent.Message.Redact(e.clock.Now().UnixMilli())
	}
	ent.Base = nil
	ent.Status = cache.Confirmed
	_, err = e.putLocked(*ent)
	return err
}

// reject handles an action the server refused: a send is marked failed and
// a pending edit or delete is rolled back to the confirmed state.
func (e *Engine) reject(a cache.Action, cause error) error {
	logger.Warn("client_action_rejected", "type", a.Type, "action", a.ID, "code", apperr.Code(cause), "error", cause)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight = 0
	if err := e.cache.Dequeue(a.ID); err != nil {
		return err
	}
	u := Update{Kind: ActionFailed, ConversationID: a.ConversationID, Key: a.MessageID, Err: cause}

	switch a.Type {
	case wire.CmdSendMessage:
		ent, err := e.cache.Entry(a.ConversationID, cache.TempKey(a.TempID))
		if err != nil {
			return err
		}
		if ent != nil {
			ent.Status = cache.Failed
			ent.Error = apperr.Message(cause)
			if err := e.cache.PutEntry(*ent); err != nil {
				return err
			}
			u.Entry, u.Key = ent, ent.Key()
		}
		e.dropTempActionsLocked(a.TempID)
	case wire.CmdEditMessage, wire.CmdDeleteMessage:
		id := a.MessageID
		if id == "" {
			id, _ = e.temps.Lookup(a.TempID)
		}
		ent, err := e.cache.Entry(a.ConversationID, id)
		if err != nil {
			return err
		}
		if ent != nil && ent.Base != nil {
			pending, err := e.pendingFor(id)
			if err != nil {
				return err
			}
			if !pending {
				ent.Message = *ent.Base
				ent.Base = nil
				ent.Status = cache.Confirmed
			}
			ent.Error = apperr.Message(cause)
			if err := e.cache.PutEntry(*ent); err != nil {
				return err
			}
		}
		u.Entry, u.Key = ent, id
	}
	e.emitLocked(u)
	return nil
}

// dropTempActionsLocked removes actions that targeted a send which failed.
func (e *Engine) dropTempActionsLocked(temp string) {
	queue, err := e.cache.Outbox()
	if err != nil {
		logger.Warn("client_outbox_read_failed", "error", err)
		return
	}
	for _, a := range queue {
		if a.TempID == temp && a.MessageID == "" && a.Type != wire.CmdSendMessage {
			_ = e.cache.Dequeue(a.ID)
		}
	}
}

// Pending returns the actions not yet acknowledged, in replay order.
func (e *Engine) Pending() ([]cache.Action, error) {
	return e.cache.Outbox()
}
