package store

import (
	"chatsync/pkg/store/keys"
)

func (s *Store) IsBanned(conv, user string) (bool, error) {
	return s.has(keys.Ban(conv, user))
}

func (s *Store) IsBlocked(blocker, blocked string) (bool, error) {
	return s.has(keys.Block(blocker, blocked))
}

func (w *Writer) SetBan(conv, user string, banned bool) {
	if banned {
		w.putRaw(keys.Ban(conv, user), "")
		return
	}
	w.del(keys.Ban(conv, user))
}

func (w *Writer) SetBlock(blocker, blocked string, on bool) {
	if on {
		w.putRaw(keys.Block(blocker, blocked), "")
		return
	}
	w.del(keys.Block(blocker, blocked))
}
