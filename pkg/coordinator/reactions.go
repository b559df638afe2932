package coordinator

import (
	"context"
	"strings"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/wire"

	"github.com/forPelevin/gomoji"
)

// validEmoji accepts exactly one emoji and nothing else.
func validEmoji(e string) bool {
	if e == "" || len(e) > 64 || strings.ContainsAny(e, ": \t\n") {
		return false
	}
	found := gomoji.CollectAll(e)
	return len(found) == 1 && found[0].Character == e
}

// React adds userID's reaction. Adding an existing reaction is a no-op and
// returns added=false.
func (c *Coordinator) React(ctx context.Context, messageID, userID, emoji string) (r *models.Reaction, added bool, err error) {
	const op = "coordinator.react"
	if !validEmoji(emoji) {
		return nil, false, apperr.Validation(op, "%q is not a single emoji", emoji)
	}
	m, err := c.st.GetMessage(messageID)
	if err != nil {
		return nil, false, err
	}
	if err := c.checkBanned(ctx, op, m.ConversationID, userID); err != nil {
		return nil, false, err
	}
	if err := c.checkBlocked(ctx, op, m.SenderID, userID); err != nil {
		return nil, false, err
	}

	conv, m, unlock, err := c.loadLocked(messageID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	if err := requireParticipant(op, conv, userID); err != nil {
		return nil, false, err
	}
	if m.Deleted() {
		return nil, false, apperr.Conflict(op, "message %s is deleted", messageID)
	}
	r = &models.Reaction{
		MessageID:      m.ID,
		ConversationID: conv.ID,
		UserID:         userID,
		Emoji:          emoji,
	}
	exists, err := c.st.HasReaction(conv.ID, m.ID, userID, emoji)
	if err != nil {
		return nil, false, err
	}
	if exists {
		return r, false, nil
	}
	r.ID = newID("r-")
	r.CreatedTS = c.now(0)
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.PutReaction(r)
		return nil
	}); err != nil {
		return nil, false, err
	}
	c.out.Emit(wire.ConversationRoom(conv.ID), wire.EvtReactionAdded, *r)
	return r, true, nil
}

// Unreact removes userID's reaction. Removing a missing reaction succeeds
// with removed=false.
func (c *Coordinator) Unreact(ctx context.Context, messageID, userID, emoji string) (removed bool, err error) {
	const op = "coordinator.unreact"
	if !validEmoji(emoji) {
		return false, apperr.Validation(op, "%q is not a single emoji", emoji)
	}
	conv, m, unlock, err := c.loadLocked(messageID)
	if err != nil {
		return false, err
	}
	defer unlock()
	if err := requireParticipant(op, conv, userID); err != nil {
		return false, err
	}
	exists, err := c.st.HasReaction(conv.ID, m.ID, userID, emoji)
	if err != nil || !exists {
		return false, err
	}
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.DeleteReaction(conv.ID, m.ID, userID, emoji)
		return nil
	}); err != nil {
		return false, err
	}
	c.out.Emit(wire.ConversationRoom(conv.ID), wire.EvtReactionRemoved, models.Reaction{
		MessageID:      m.ID,
		ConversationID: conv.ID,
		UserID:         userID,
		Emoji:          emoji,
		CreatedTS:      c.now(0),
	})
	return true, nil
}
