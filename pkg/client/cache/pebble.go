package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"chatsync/pkg/store/keys"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

const (
	entryPrefix  = "e:"
	cursorPrefix = "cur:"
	outboxPrefix = "ob:"
	outboxSeqKey = "meta:outbox_seq"
)

// Pebble persists the cache so pending sends and cursors survive restarts.
type Pebble struct {
	db *pebble.DB
	// mu serializes outbox id allocation.
	mu     sync.Mutex
	nextID uint64
}

// OpenPebble opens the cache at dir. A nil fs uses the OS filesystem.
func OpenPebble(dir string, fs vfs.FS) (*Pebble, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open cache at %s", dir)
	}
	p := &Pebble{db: db}
	v, closer, err := db.Get([]byte(outboxSeqKey))
	switch {
	case err == nil:
		p.nextID = binary.BigEndian.Uint64(v)
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		db.Close()
		return nil, errors.Wrap(err, "read outbox sequence")
	}
	return p, nil
}

func entryKey(convID, key string) []byte { return []byte(entryPrefix + convID + ":" + key) }
func outboxKey(id uint64) []byte         { return []byte(fmt.Sprintf("%s%020d", outboxPrefix, id)) }

func (p *Pebble) putJSON(key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return errors.Wrapf(p.db.Set(key, b, pebble.Sync), "write %s", key)
}

func (p *Pebble) getJSON(key []byte, v any) (bool, error) {
	b, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read %s", key)
	}
	defer closer.Close()
	return true, errors.Wrapf(json.Unmarshal(b, v), "decode %s", key)
}

func (p *Pebble) scan(prefix string, fn func(v []byte) error) error {
	lo := []byte(prefix)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: keys.PrefixUpperBound(lo)})
	if err != nil {
		return errors.Wrapf(err, "scan %s", prefix)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), lo) {
			break
		}
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return errors.Wrapf(iter.Error(), "scan %s", prefix)
}

func (p *Pebble) PutEntry(e Entry) error {
	return p.putJSON(entryKey(e.Message.ConversationID, e.Key()), e)
}

func (p *Pebble) DeleteEntry(convID, key string) error {
	return errors.Wrap(p.db.Delete(entryKey(convID, key), pebble.Sync), "delete entry")
}

func (p *Pebble) Entry(convID, key string) (*Entry, error) {
	var e Entry
	ok, err := p.getJSON(entryKey(convID, key), &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (p *Pebble) Entries(convID string) ([]Entry, error) {
	var out []Entry
	err := p.scan(entryPrefix+convID+":", func(v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return errors.Wrap(err, "decode entry")
		}
		out = append(out, e)
		return nil
	})
	SortEntries(out)
	return out, err
}

func (p *Pebble) PutCursor(c SyncCursor) error {
	return p.putJSON([]byte(cursorPrefix+c.ConversationID), c)
}

func (p *Pebble) Cursor(convID string) (SyncCursor, error) {
	c := SyncCursor{ConversationID: convID}
	_, err := p.getJSON([]byte(cursorPrefix+convID), &c)
	return c, err
}

func (p *Pebble) Cursors() ([]SyncCursor, error) {
	var out []SyncCursor
	err := p.scan(cursorPrefix, func(v []byte) error {
		var c SyncCursor
		if err := json.Unmarshal(v, &c); err != nil {
			return errors.Wrap(err, "decode cursor")
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// Enqueue writes the action and the advanced sequence in one batch.
func (p *Pebble) Enqueue(a Action) (Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a.ID = p.nextID + 1
	body, err := json.Marshal(a)
	if err != nil {
		return a, errors.Wrap(err, "encode action")
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], a.ID)
	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set(outboxKey(a.ID), body, nil); err != nil {
		return a, errors.Wrap(err, "enqueue")
	}
	if err := b.Set([]byte(outboxSeqKey), seq[:], nil); err != nil {
		return a, errors.Wrap(err, "enqueue")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return a, errors.Wrap(err, "enqueue")
	}
	p.nextID = a.ID
	return a, nil
}

func (p *Pebble) UpdateAction(a Action) error {
	var cur Action
	ok, err := p.getJSON(outboxKey(a.ID), &cur)
	if err != nil || !ok {
		return err
	}
	return p.putJSON(outboxKey(a.ID), a)
}

func (p *Pebble) Outbox() ([]Action, error) {
	var out []Action
	err := p.scan(outboxPrefix, func(v []byte) error {
		var a Action
		if err := json.Unmarshal(v, &a); err != nil {
			return errors.Wrap(err, "decode action")
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (p *Pebble) Dequeue(id uint64) error {
	return errors.Wrap(p.db.Delete(outboxKey(id), pebble.Sync), "dequeue")
}

func (p *Pebble) Close() error { return p.db.Close() }
