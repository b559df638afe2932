package coordinator

import (
	"context"
	"errors"
	"unicode/utf8"

	"chatsync/pkg/apperr"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/store/keys"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"
)

type SendRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	MediaRef       string
	ClientTempID   string
}

func (c *Coordinator) validateContent(op, content, media string, requireContent bool) error {
	if !utf8.ValidString(content) {
		return apperr.Validation(op, "content is not valid utf-8")
	}
	if len(content) > c.opts.MaxContentSize {
		return apperr.Validation(op, "content exceeds %d bytes", c.opts.MaxContentSize)
	}
	if len(media) > c.opts.MaxMediaRefSize {
		return apperr.Validation(op, "media_ref exceeds %d bytes", c.opts.MaxMediaRefSize)
	}
	if trimmed(content) == "" && (requireContent || media == "") {
		return apperr.Validation(op, "message needs content or a media_ref")
	}
	return nil
}

// Send commits a new message. A retry carrying a client temp id that was
// already committed returns the original message with created=false and
// emits nothing.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (msg *models.Message, created bool, err error) {
	const op = "coordinator.send"
	tr := telemetry.Track(op)
	defer tr.Finish()

	if err := c.validateContent(op, req.Content, req.MediaRef, false); err != nil {
		return nil, false, err
	}
	if req.ClientTempID != "" {
		if err := keys.ValidateID("client temp", req.ClientTempID); err != nil {
			return nil, false, apperr.Validation(op, "%v", err)
		}
	}
	if err := c.checkBanned(ctx, op, req.ConversationID, req.SenderID); err != nil {
		return nil, false, err
	}
	tr.Mark("moderation")

	conv, unlock, err := c.lock(req.ConversationID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	tr.Mark("lock")

	if err := requireParticipant(op, conv, req.SenderID); err != nil {
		return nil, false, err
	}
	if other := conv.Counterpart(req.SenderID); other != "" {
		if err := c.checkBlocked(ctx, op, other, req.SenderID); err != nil {
			return nil, false, err
		}
	}
	if req.ClientTempID != "" {
		id, err := c.st.LookupTemp(conv.ID, req.SenderID, req.ClientTempID)
		if err != nil {
			return nil, false, err
		}
		if id != "" {
			existing, err := c.st.GetMessage(id)
			if err == nil {
				logger.Debug("send_deduplicated", "conversation", conv.ID, "temp_id", req.ClientTempID, "msg_id", id)
				return existing, false, nil
			}
			if !errors.Is(err, apperr.ErrNotFound) {
				return nil, false, err
			}
		}
	}

	ts := c.now(conv.UpdatedTS)
	m := &models.Message{
		ID:             newID("m-"),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Seq:            conv.LastSeq + 1,
		Rev:            conv.LastRev + 1,
		Content:        req.Content,
		MediaRef:       req.MediaRef,
		ClientTempID:   req.ClientTempID,
		CreatedTS:      ts,
	}
	next := *conv
	next.LastSeq = m.Seq
	next.LastRev = m.Rev
	next.UpdatedTS = ts
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.CommitMessage(&next, m)
		return nil
	}); err != nil {
		return nil, false, err
	}
	tr.Mark("commit")
	telemetry.MessagesCommitted.Inc()

	c.out.Emit(wire.ConversationRoom(conv.ID), wire.EvtMessageCreated, *m)
	c.out.NotifyOffline(conv.Participants, req.SenderID, wire.EvtMessageCreated, *m)
	tr.Mark("emit")
	logger.Debug("message_committed", "conversation", conv.ID, "msg_id", m.ID, "seq", m.Seq)
	return m, true, nil
}

// loadLocked fetches a message and enters its conversation's exclusive
// section, re-reading the message inside it.
func (c *Coordinator) loadLocked(messageID string) (*models.Conversation, *models.Message, func(), error) {
	m, err := c.st.GetMessage(messageID)
	if err != nil {
		return nil, nil, nil, err
	}
	conv, unlock, err := c.lock(m.ConversationID)
	if err != nil {
		return nil, nil, nil, err
	}
	m, err = c.st.GetMessage(messageID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return conv, m, unlock, nil
}

// Edit replaces the content of a message. Only its sender may edit, and
// deleted messages stay deleted.
func (c *Coordinator) Edit(ctx context.Context, messageID, editorID, content string) (*models.Message, error) {
	const op = "coordinator.edit"
	if err := c.validateContent(op, content, "", true); err != nil {
		return nil, err
	}
	conv, m, unlock, err := c.loadLocked(messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if m.SenderID != editorID {
		return nil, apperr.Forbidden(op, "only the sender may edit a message")
	}
	if err := requireParticipant(op, conv, editorID); err != nil {
		return nil, err
	}
	if m.Deleted() {
		return nil, apperr.Conflict(op, "message %s is deleted", messageID)
	}
	if m.Content == content {
		return m, nil
	}
	prevRev := m.Rev
	m.Content = content
	m.EditedTS = c.now(maxTS(m.UpdatedTS(), conv.UpdatedTS))
	m.Rev = conv.LastRev + 1
	conv.UpdatedTS = m.EditedTS
	conv.LastRev = m.Rev
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.PutMessage(m, prevRev)
		w.PutConversation(conv, nil, nil)
		return nil
	}); err != nil {
		return nil, err
	}
	c.out.Emit(wire.ConversationRoom(conv.ID), wire.EvtMessageEdited, *m)
	return m, nil
}

// Delete tombstones a message. The sender or a moderator may delete.
// Deleting a missing or already deleted message succeeds without emitting.
func (c *Coordinator) Delete(ctx context.Context, messageID, actorID string) (*models.Message, error) {
	const op = "coordinator.delete"
	conv, m, unlock, err := c.loadLocked(messageID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer unlock()
	if m.SenderID != actorID && !conv.IsModerator(actorID) {
		return nil, apperr.Forbidden(op, "only the sender or a moderator may delete a message")
	}
	if m.Deleted() {
		return m, nil
	}
	reactions, err := c.st.Reactions(conv.ID, m.ID)
	if err != nil {
		return nil, err
	}
	prevRev := m.Rev
	m.Redact(c.now(maxTS(m.UpdatedTS(), conv.UpdatedTS)))
	m.Rev = conv.LastRev + 1
	conv.UpdatedTS = m.DeletedTS
	conv.LastRev = m.Rev
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.PutMessage(m, prevRev)
		w.PutConversation(conv, nil, nil)
		for _, r := range reactions {
			w.DeleteReaction(r.ConversationID, r.MessageID, r.UserID, r.Emoji)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	c.out.Emit(wire.ConversationRoom(conv.ID), wire.EvtMessageDeleted, *m)
	logger.Info("message_deleted", "conversation", conv.ID, "msg_id", m.ID, "by", actorID)
	return m, nil
}

func maxTS(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
