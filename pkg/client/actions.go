package client

import (
	"strings"

	"chatsync/pkg/apperr"
	"chatsync/pkg/client/cache"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"

	"github.com/google/uuid"
)

// Send shows the message immediately as pending and queues it. The returned
// entry is keyed by its temp id until the server assigns a durable id.
func (e *Engine) Send(conv, content, mediaRef string) (*cache.Entry, error) {
	const op = "client.send"
	if conv == "" {
		return nil, apperr.Validation(op, "conversation_id is required")
	}
	if strings.TrimSpace(content) == "" && mediaRef == "" {
		return nil, apperr.Validation(op, "content or media_ref is required")
	}
	now := e.clock.Now().UnixMilli()
	temp := uuid.NewString()
	ent := cache.Entry{
		Message: models.Message{
			ConversationID: conv,
			SenderID:       e.opts.UserID,
			Content:        content,
			MediaRef:       mediaRef,
			ClientTempID:   temp,
			CreatedTS:      now,
		},
		Status: cache.Pending,
		TempID: temp,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.cache.PutEntry(ent); err != nil {
		return nil, err
	}
	if _, err := e.cache.Enqueue(cache.Action{
		Type:           wire.CmdSendMessage,
		ConversationID: conv,
		TempID:         temp,
		Content:        content,
		MediaRef:       mediaRef,
		CreatedTS:      now,
	}); err != nil {
		return nil, err
	}
	out := ent
	e.emitLocked(Update{Kind: MessageUpserted, ConversationID: conv, Entry: &out})
	e.wake()
	return &out, nil
}

// Edit changes a message's content. id is a durable id or the temp id of a
// local send.
func (e *Engine) Edit(conv, id, content string) (*cache.Entry, error) {
	const op = "client.edit"
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation(op, "content is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if ent, send, err := e.unsentLocked(conv, id); err != nil {
		return nil, err
	} else if ent != nil {
		ent.Message.Content = content
		// A failed send is retried from the entry, so it needs no queued edit.
		if ent.Status != cache.Failed {
			var err error
			if send != nil && send.ID != e.inflight {
				send.Content = content
				err = e.cache.UpdateAction(*send)
			} else {
				_, err = e.cache.Enqueue(cache.Action{
					Type:           wire.CmdEditMessage,
					ConversationID: conv,
					TempID:         ent.TempID,
					Content:        content,
					CreatedTS:      e.clock.Now().UnixMilli(),
				})
			}
			if err != nil {
				return nil, err
			}
		}
		return e.putLocked(*ent)
	}

	ent, err := e.durableLocked(op, conv, id)
	if err != nil {
		return nil, err
	}
	if ent.Message.Deleted() {
		return nil, apperr.Validation(op, "message is deleted")
	}
	if ent.Base == nil {
		base := ent.Message
		ent.Base = &base
	}
	ent.Message.Content = content
	ent.Message.EditedTS = e.clock.Now().UnixMilli()
	ent.Status = cache.Pending
	ent.Error = ""
	if _, err := e.cache.Enqueue(cache.Action{
		Type:           wire.CmdEditMessage,
		ConversationID: conv,
		MessageID:      ent.Message.ID,
		Content:        content,
		CreatedTS:      ent.Message.EditedTS,
	}); err != nil {
		return nil, err
	}
	return e.putLocked(*ent)
}

// Delete removes a message. An unsent message is dropped from the outbox;
// a sent one becomes a pending tombstone. Deleting twice is a no-op.
func (e *Engine) Delete(conv, id string) error {
	const op = "client.delete"
	e.mu.Lock()
	defer e.mu.Unlock()

	if ent, send, err := e.unsentLocked(conv, id); err != nil {
		return err
	} else if ent != nil {
		if send != nil && send.ID == e.inflight {
			// the ack decides; reconcileTempLocked deletes the durable copy
			e.discarded[ent.TempID] = true
		} else if send != nil {
			if err := e.cache.Dequeue(send.ID); err != nil {
				return err
			}
		}
		return e.removeLocked(conv, ent.Key())
	}

	ent, err := e.durableLocked(op, conv, id)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if ent.Message.Deleted() {
		return nil
	}
	if ent.Base == nil {
		base := ent.Message
		ent.Base = &base
	}
	now := e.clock.Now().UnixMilli()
	ent.Message.Redact(now)
	ent.Status = cache.Pending
	ent.Error = ""
	if _, err := e.cache.Enqueue(cache.Action{
		Type:           wire.CmdDeleteMessage,
		ConversationID: conv,
		MessageID:      ent.Message.ID,
		CreatedTS:      now,
	}); err != nil {
		return err
	}
	_, err = e.putLocked(*ent)
	return err
}

func (e *Engine) React(conv, id, emoji string) error {
	return e.enqueueRef("client.react", wire.CmdReact, conv, id, emoji)
}

func (e *Engine) Unreact(conv, id, emoji string) error {
	return e.enqueueRef("client.unreact", wire.CmdUnreact, conv, id, emoji)
}

// MarkRead queues a read receipt. The server ignores reads behind the
// current read cursor.
func (e *Engine) MarkRead(conv, id string) error {
	return e.enqueueRef("client.mark_read", wire.CmdMarkRead, conv, id, "")
}

func (e *Engine) enqueueRef(op, typ, conv, id, emoji string) error {
	if (typ == wire.CmdReact || typ == wire.CmdUnreact) && emoji == "" {
		return apperr.Validation(op, "emoji is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.durableLocked(op, conv, id)
	if err != nil {
		return err
	}
	if _, err := e.cache.Enqueue(cache.Action{
		Type:           typ,
		ConversationID: conv,
		MessageID:      ent.Message.ID,
		Emoji:          emoji,
		CreatedTS:      e.clock.Now().UnixMilli(),
	}); err != nil {
		return err
	}
	e.wake()
	return nil
}

// Retry queues a failed send again.
func (e *Engine) Retry(conv, tempID string) (*cache.Entry, error) {
	const op = "client.retry"
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.cache.Entry(conv, cache.TempKey(tempID))
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, apperr.NotFound(op, "no local message %q", tempID)
	}
	if ent.Status != cache.Failed {
		return nil, apperr.Conflict(op, "message is %s", ent.Status)
	}
	ent.Status = cache.Pending
	ent.Error = ""
	if _, err := e.cache.Enqueue(cache.Action{
		Type:           wire.CmdSendMessage,
		ConversationID: conv,
		TempID:         tempID,
		Content:        ent.Message.Content,
		MediaRef:       ent.Message.MediaRef,
		CreatedTS:      e.clock.Now().UnixMilli(),
	}); err != nil {
		return nil, err
	}
	return e.putLocked(*ent)
}

// Discard drops a failed send.
func (e *Engine) Discard(conv, tempID string) error {
	const op = "client.discard"
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.cache.Entry(conv, cache.TempKey(tempID))
	if err != nil {
		return err
	}
	if ent == nil {
		return nil
	}
	if ent.Status != cache.Failed {
		return apperr.Conflict(op, "message is %s", ent.Status)
	}
	return e.removeLocked(conv, ent.Key())
}

// unsentLocked finds a local send not yet reconciled, with its queued send
// action if one is still in the outbox.
func (e *Engine) unsentLocked(conv, id string) (*cache.Entry, *cache.Action, error) {
	ent, err := e.cache.Entry(conv, cache.TempKey(id))
	if err != nil || ent == nil {
		return nil, nil, err
	}
	queue, err := e.cache.Outbox()
	if err != nil {
		return nil, nil, err
	}
	for i := range queue {
		if queue[i].Type == wire.CmdSendMessage && queue[i].TempID == id {
			return ent, &queue[i], nil
		}
	}
	return ent, nil, nil
}

// durableLocked loads a confirmed message by durable id, or by a temp id
// that has already been reconciled.
func (e *Engine) durableLocked(op, conv, id string) (*cache.Entry, error) {
	if durable, ok := e.temps.Lookup(id); ok {
		id = durable
	}
	ent, err := e.cache.Entry(conv, id)
	if err != nil {
		return nil, err
	}
	if ent != nil {
		return ent, nil
	}
	if tmp, err := e.cache.Entry(conv, cache.TempKey(id)); err == nil && tmp != nil {
		return nil, errNotConfirmed
	}
	return nil, apperr.NotFound(op, "message %q not found", id)
}

func (e *Engine) putLocked(ent cache.Entry) (*cache.Entry, error) {
	if err := e.cache.PutEntry(ent); err != nil {
		return nil, err
	}
	out := ent
	e.emitLocked(Update{Kind: MessageUpserted, ConversationID: ent.Message.ConversationID, Entry: &out})
	e.wake()
	return &out, nil
}

func (e *Engine) removeLocked(conv, key string) error {
	if err := e.cache.DeleteEntry(conv, key); err != nil {
		return err
	}
	e.emitLocked(Update{Kind: MessageRemoved, ConversationID: conv, Key: key})
	return nil
}
