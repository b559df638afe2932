package store

import (
	"strings"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"
)

func (s *Store) GetConversation(id string) (*models.Conversation, error) {
	var c models.Conversation
	ok, err := s.getJSON(keys.Conversation(id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("store.get_conversation", "conversation %s not found", id)
	}
	return &c, nil
}

// PutConversation writes conversation metadata and keeps the per-user
// membership index in step with the participant diff.
func (w *Writer) PutConversation(c *models.Conversation, joined, left []string) {
	w.putJSON(keys.Conversation(c.ID), c)
	for _, u := range joined {
		w.putRaw(keys.Membership(u, c.ID), "")
	}
	for _, u := range left {
		w.del(keys.Membership(u, c.ID))
	}
}

// DeleteConversation removes the conversation and everything stored under
// it. Message ids must be supplied so their global index entries go too.
func (w *Writer) DeleteConversation(c *models.Conversation, messageIDs []string) {
	w.delPrefix("c:" + c.ID + ":")
	w.delPrefix("tmp:" + c.ID + ":")
	for _, u := range c.Participants {
		w.del(keys.Membership(u, c.ID))
	}
	for _, id := range messageIDs {
		w.del(keys.MessageID(id))
		w.delPrefix(keys.ReadReceipts(id))
	}
}

// ConversationsFor lists the ids of conversations userID participates in.
func (s *Store) ConversationsFor(userID string) ([]string, error) {
	prefix := keys.Memberships(userID)
	var out []string
	err := s.scan(prefix, "", func(k, _ []byte) (bool, error) {
		out = append(out, strings.TrimPrefix(string(k), prefix))
		return true, nil
	})
	return out, err
}
