package store

import (
	"encoding/json"
	"strings"

	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"
)

func (s *Store) HasReaction(conv, msgID, user, emoji string) (bool, error) {
	return s.has(keys.Reaction(conv, msgID, user, emoji))
}

func (w *Writer) PutReaction(r *models.Reaction) {
	w.putJSON(keys.Reaction(r.ConversationID, r.MessageID, r.UserID, r.Emoji), r)
}

func (w *Writer) DeleteReaction(conv, msgID, user, emoji string) {
	w.del(keys.Reaction(conv, msgID, user, emoji))
}

func (s *Store) Reactions(conv, msgID string) ([]models.Reaction, error) {
	var out []models.Reaction
	err := s.scan(keys.Reactions(conv, msgID), "", func(_, v []byte) (bool, error) {
		var r models.Reaction
		if err := json.Unmarshal(v, &r); err != nil {
			return false, err
		}
		out = append(out, r)
		return true, nil
	})
	return out, err
}

func (s *Store) ReadCursor(conv, user string) (*models.ReadCursor, error) {
	var c models.ReadCursor
	ok, err := s.getJSON(keys.ReadCursor(conv, user), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

// PutReadCursor advances the cursor and records the receipt for the message
// it now points at.
func (w *Writer) PutReadCursor(c *models.ReadCursor) {
	w.putJSON(keys.ReadCursor(c.ConversationID, c.UserID), c)
	w.putJSON(keys.ReadReceipt(c.MessageID, c.UserID), models.ReadReceipt{
		MessageID: c.MessageID,
		UserID:    c.UserID,
		ReadTS:    c.ReadTS,
	})
}

func (s *Store) ReadCursors(conv string) ([]models.ReadCursor, error) {
	var out []models.ReadCursor
	err := s.scan(keys.ReadCursors(conv), "", func(_, v []byte) (bool, error) {
		var c models.ReadCursor
		if err := json.Unmarshal(v, &c); err != nil {
			return false, err
		}
		out = append(out, c)
		return true, nil
	})
	return out, err
}

// ReadReceipts lists the users whose cursor was set exactly at msgID.
func (s *Store) ReadReceipts(msgID string) ([]models.ReadReceipt, error) {
	prefix := keys.ReadReceipts(msgID)
	var out []models.ReadReceipt
	err := s.scan(prefix, "", func(k, v []byte) (bool, error) {
		var r models.ReadReceipt
		if err := json.Unmarshal(v, &r); err != nil {
			r = models.ReadReceipt{MessageID: msgID, UserID: strings.TrimPrefix(string(k), prefix)}
		}
		out = append(out, r)
		return true, nil
	})
	return out, err
}
