package coordinator

import (
	"context"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/wire"
)

// MarkRead moves userID's read cursor to messageID. The cursor only moves
// forward; marking an older message reports advanced=false and emits
// nothing.
func (c *Coordinator) MarkRead(ctx context.Context, messageID, userID string) (cur *models.ReadCursor, advanced bool, err error) {
	const op = "coordinator.mark_read"
	conv, m, unlock, err := c.loadLocked(messageID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	if err := requireParticipant(op, conv, userID); err != nil {
		return nil, false, err
	}
	prev, err := c.st.ReadCursor(conv.ID, userID)
	if err != nil {
		return nil, false, err
	}
	if prev != nil && prev.Seq >= m.Seq {
		return prev, false, nil
	}
	var floor int64
	if prev != nil {
		floor = prev.ReadTS
	}
	cur = &models.ReadCursor{
		ConversationID: conv.ID,
		UserID:         userID,
		MessageID:      m.ID,
		Seq:            m.Seq,
		ReadTS:         c.now(floor),
	}
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.PutReadCursor(cur)
		return nil
	}); err != nil {
		return nil, false, err
	}
	c.out.Emit(wire.ConversationRoom(conv.ID), wire.EvtMessageRead, wire.MessageRead{
		ConversationID: conv.ID,
		MessageID:      m.ID,
		UserID:         userID,
		Seq:            m.Seq,
		ReadAt:         cur.ReadTS,
	})
	return cur, true, nil
}

// MarkReadBatch applies MarkRead to every id and reports per-item results.
// One failing item does not fail the batch.
func (c *Coordinator) MarkReadBatch(ctx context.Context, messageIDs []string, userID string) []wire.ReadResult {
	out := make([]wire.ReadResult, 0, len(messageIDs))
	for _, id := range messageIDs {
		res := wire.ReadResult{MessageID: id}
		_, advanced, err := c.MarkRead(ctx, id, userID)
		if err != nil {
			res.Code = apperr.Code(err)
			res.Error = apperr.Message(err)
		}
		res.Advanced = advanced
		out = append(out, res)
	}
	return out
}

type SeenBy struct {
	MessageID string              `json:"message_id"`
	Count     int                 `json:"count"`
	Readers   []models.ReadCursor `json:"readers"`
	Truncated bool                `json:"truncated,omitempty"`
}

// SeenBy lists the participants whose read cursor is at or past messageID,
// excluding its sender. The list is capped by the receipts limit; Count is
// always the full total.
func (c *Coordinator) SeenBy(ctx context.Context, actor, messageID string) (*SeenBy, error) {
	const op = "coordinator.seen_by"
	m, err := c.st.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	conv, err := c.st.GetConversation(m.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(op, conv, actor); err != nil {
		return nil, err
	}
	cursors, err := c.st.ReadCursors(conv.ID)
	if err != nil {
		return nil, err
	}
	res := &SeenBy{MessageID: m.ID, Readers: []models.ReadCursor{}}
	for _, cur := range cursors {
		if cur.UserID == m.SenderID || cur.Seq < m.Seq {
			continue
		}
		res.Count++
		if len(res.Readers) < c.opts.ReceiptsLimit {
			res.Readers = append(res.Readers, cur)
		} else {
			res.Truncated = true
		}
	}
	return res, nil
}
