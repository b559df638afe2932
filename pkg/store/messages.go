package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"
)

type tempEntry struct {
	MessageID string `json:"message_id"`
	CreatedTS int64  `json:"created_ts"`
}

// CommitMessage writes a new message at m.Seq together with the updated
// conversation metadata, both lookup indexes and its change entry.
func (w *Writer) CommitMessage(c *models.Conversation, m *models.Message) {
	w.putJSON(keys.Conversation(c.ID), c)
	w.PutMessage(m, 0)
	w.putRaw(keys.MessageID(m.ID), keys.EncodeLocator(m.ConversationID, m.Seq))
	if m.ClientTempID != "" {
		w.putJSON(keys.Temp(m.ConversationID, m.SenderID, m.ClientTempID), tempEntry{MessageID: m.ID, CreatedTS: m.CreatedTS})
	}
}

// PutMessage stores m and moves its change entry from prevRev to m.Rev. The
// change log keeps one entry per message, at its latest revision.
func (w *Writer) PutMessage(m *models.Message, prevRev uint64) {
	w.putJSON(keys.Message(m.ConversationID, m.Seq), m)
	if prevRev != 0 && prevRev != m.Rev {
		w.del(keys.Change(m.ConversationID, prevRev))
	}
	if m.Rev != 0 {
		w.putRaw(keys.Change(m.ConversationID, m.Rev), keys.PadSeq(m.Seq))
	}
}

func (s *Store) GetMessage(id string) (*models.Message, error) {
	raw, ok, err := s.getRaw(keys.MessageID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("store.get_message", "message %s not found", id)
	}
	conv, seq, err := keys.DecodeLocator(string(raw))
	if err != nil {
		return nil, fmt.Errorf("message index %s: %w", id, err)
	}
	return s.GetMessageBySeq(conv, seq)
}

func (s *Store) GetMessageBySeq(conv string, seq uint64) (*models.Message, error) {
	var m models.Message
	ok, err := s.getJSON(keys.Message(conv, seq), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("store.get_message", "message %s/%d not found", conv, seq)
	}
	return &m, nil
}

// LookupTemp returns the message committed for a client temp id, or "".
func (s *Store) LookupTemp(conv, sender, tempID string) (string, error) {
	var e tempEntry
	ok, err := s.getJSON(keys.Temp(conv, sender, tempID), &e)
	if err != nil || !ok {
		return "", err
	}
	return e.MessageID, nil
}

// MessagesAfter returns up to limit messages with seq > after, ascending.
func (s *Store) MessagesAfter(conv string, after uint64, limit int) ([]models.Message, bool, error) {
	var out []models.Message
	more := false
	err := s.scan(keys.Messages(conv), keys.Message(conv, after+1), func(_, v []byte) (bool, error) {
		if len(out) == limit {
			more = true
			return false, nil
		}
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		out = append(out, m)
		return true, nil
	})
	return out, more, err
}

// MessagesChangedAfter returns up to limit messages whose latest revision
// is above after, in revision order. Each message appears once in its current
// state. rev is the revision a reader has seen everything up to once it has
// applied the page.
func (s *Store) MessagesChangedAfter(conv string, after uint64, limit int) (out []models.Message, rev uint64, more bool, err error) {
	if !s.Ready() {
		return nil, 0, false, apperr.TransientIO("store.changes", errors.New("store closed"))
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	var seqs []string
	err = s.scanIn(snap, keys.Changes(conv), keys.Change(conv, after+1), func(k, v []byte) (bool, error) {
		if len(seqs) == limit {
			more = true
			return false, nil
		}
		seqs = append(seqs, string(v))
		if r, err := strconv.ParseUint(string(k[len(keys.Changes(conv)):]), 10, 64); err == nil {
			rev = r
		}
		return true, nil
	})
	if err != nil {
		return nil, 0, false, err
	}
	if rev < after {
		rev = after
	}
	if !more {
		var c models.Conversation
		if _, err := s.getJSONIn(snap, keys.Conversation(conv), &c); err != nil {
			return nil, 0, false, err
		}
		if c.LastRev > rev {
			rev = c.LastRev
		}
	}
	for _, seq := range seqs {
		var m models.Message
		ok, err := s.getJSONIn(snap, keys.Messages(conv)+seq, &m)
		if err != nil {
			return nil, 0, false, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, rev, more, nil
}

// MessagesBefore returns up to limit messages with seq < before (or the
// newest when before is 0), in ascending order.
func (s *Store) MessagesBefore(conv string, before uint64, limit int) ([]models.Message, bool, error) {
	var rev []models.Message
	more := false
	bound := ""
	if before > 0 {
		bound = keys.Message(conv, before)
	}
	err := s.scanReverse(keys.Messages(conv), bound, func(_, v []byte) (bool, error) {
		if len(rev) == limit {
			more = true
			return false, nil
		}
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		rev = append(rev, m)
		return true, nil
	})
	out := make([]models.Message, len(rev))
	for i, m := range rev {
		out[len(rev)-1-i] = m
	}
	return out, more, err
}

// MessageIDs lists every message id in a conversation.
func (s *Store) MessageIDs(conv string) ([]string, error) {
	var out []string
	err := s.scan(keys.Messages(conv), "", func(_, v []byte) (bool, error) {
		var m struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		out = append(out, m.ID)
		return true, nil
	})
	return out, err
}

// SweepTempIndex deletes idempotency entries created before cutoff. It
// returns the number of entries removed, or that would be with dryRun.
func (s *Store) SweepTempIndex(cutoff int64, batch int, dryRun bool) (int, error) {
	var expired []string
	err := s.scan(keys.TempIndexPrefix, "", func(k, v []byte) (bool, error) {
		var e tempEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return true, nil
		}
		if e.CreatedTS < cutoff {
			expired = append(expired, string(k))
		}
		return batch <= 0 || len(expired) < batch, nil
	})
	if err != nil || dryRun || len(expired) == 0 {
		return len(expired), err
	}
	err = s.Update("store.sweep_temp_index", func(w *Writer) error {
		for _, k := range expired {
			w.del(k)
		}
		return nil
	})
	return len(expired), err
}
