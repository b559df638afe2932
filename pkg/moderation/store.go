package moderation

import (
	"context"

	"chatsync/pkg/store"
)

// Store keeps moderation state next to the conversations in pebble.
type Store struct {
	st *store.Store
}

func NewStore(st *store.Store) *Store { return &Store{st: st} }

func (s *Store) IsBlocked(_ context.Context, blocker, blocked string) (bool, error) {
	return s.st.IsBlocked(blocker, blocked)
}

func (s *Store) IsBanned(_ context.Context, conv, user string) (bool, error) {
	return s.st.IsBanned(conv, user)
}

func (s *Store) SetBan(_ context.Context, conv, user string, banned bool) error {
	return s.st.Update("moderation.set_ban", func(w *store.Writer) error {
		w.SetBan(conv, user, banned)
		return nil
	})
}

func (s *Store) SetBlock(_ context.Context, blocker, blocked string, on bool) error {
	return s.st.Update("moderation.set_block", func(w *store.Writer) error {
		w.SetBlock(blocker, blocked, on)
		return nil
	})
}
