package coordinator

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
)

type HistoryQuery struct {
	// Cursor pages backwards from an earlier page's NextCursor.
	Cursor string
	// AfterSeq, when set, selects messages created after a seq.
	AfterSeq *uint64
	// AfterRev, when set, selects every message created, edited or deleted
	// after a sync revision.
	AfterRev *uint64
	Limit    int
}

func EncodeCursor(conv string, seq uint64) string {
	b, _ := json.Marshal(models.MessageCursor{ConversationID: conv, Seq: seq})
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(s string) (models.MessageCursor, error) {
	var c models.MessageCursor
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(b, &c)
	return c, err
}

// History returns a page of messages in ascending seq order. Tombstones and
// edited messages are returned in their current state so a cache can apply
// them by id.
func (c *Coordinator) History(ctx context.Context, actor, convID string, q HistoryQuery) (*models.MessagePage, error) {
	const op = "coordinator.history"
	conv, err := c.st.GetConversation(convID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(op, conv, actor); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = c.opts.HistoryLimit
	}
	if limit > c.opts.MaxHistoryLimit {
		limit = c.opts.MaxHistoryLimit
	}

	var (
		msgs []models.Message
		more bool
		next string
	)
	var rev uint64
	switch {
	case q.AfterRev != nil:
		msgs, rev, more, err = c.st.MessagesChangedAfter(convID, *q.AfterRev, limit)
	case q.AfterSeq != nil:
		msgs, more, err = c.st.MessagesAfter(convID, *q.AfterSeq, limit)
		if more && len(msgs) > 0 {
			next = EncodeCursor(convID, msgs[len(msgs)-1].Seq)
		}
	default:
		var before uint64
		if q.Cursor != "" {
			cur, derr := DecodeCursor(q.Cursor)
			if derr != nil || cur.ConversationID != convID {
				return nil, apperr.Validation(op, "invalid cursor")
			}
			before = cur.Seq
		}
		msgs, more, err = c.st.MessagesBefore(convID, before, limit)
		if more && len(msgs) > 0 {
			next = EncodeCursor(convID, msgs[0].Seq)
		}
	}
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	page := &models.MessagePage{
		Messages: msgs,
		LastSeq:  conv.LastSeq,
		Rev:      rev,
		Pagination: models.PaginationResponse{
			Limit:      limit,
			HasMore:    more,
			NextCursor: next,
			Count:      len(msgs),
		},
	}
	for _, m := range msgs {
		if m.Deleted() {
			continue
		}
		rs, err := c.st.Reactions(convID, m.ID)
		if err != nil {
			return nil, err
		}
		page.Reactions = append(page.Reactions, rs...)
	}
	return page, nil
}
