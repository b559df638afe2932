// Package store is the pebble-backed server of record for conversations,
// messages, reactions, read state, live sessions and join requests.
//
// The store does not serialize writers itself: callers hold the keylock for
// the conversation or session they mutate, and every mutation is a single
// atomic batch.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"chatsync/pkg/apperr"
	"chatsync/pkg/logger"
	"chatsync/pkg/store/keys"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type Options struct {
	// FS overrides the filesystem; tests pass vfs.NewMem().
	FS           vfs.FS
	SyncWrites   bool
	WriteRetries int
	RetryBackoff time.Duration
}

type Store struct {
	db            *pebble.DB
	path          string
	syncWrites    bool
	retries       int
	retryBackoff  time.Duration
	pendingWrites uint64
	closed        atomic.Bool
}

// Open opens or creates the pebble database at path.
func Open(path string, opts Options) (*Store, error) {
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	db, err := pebble.Open(path, popts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{
		db:           db,
		path:         path,
		syncWrites:   opts.SyncWrites,
		retries:      opts.WriteRetries,
		retryBackoff: opts.RetryBackoff,
	}
	if s.retries < 0 {
		s.retries = 0
	}
	if s.retryBackoff <= 0 {
		s.retryBackoff = 20 * time.Millisecond
	}
	return s, nil
}

// OpenMem opens an in-memory store.
func OpenMem() (*Store, error) {
	return Open("", Options{FS: vfs.NewMem(), WriteRetries: 2, RetryBackoff: time.Millisecond})
}

func (s *Store) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool {
	return s != nil && !s.closed.Load()
}

func (s *Store) Path() string { return s.path }

// Writes returns the number of batches committed since open.
func (s *Store) Writes() uint64 {
	return atomic.LoadUint64(&s.pendingWrites)
}

func (s *Store) writeOpt() *pebble.WriteOptions {
	if s.syncWrites {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Update builds a batch with fn and commits it atomically. Commit failures
// are retried with exponential backoff; fn is re-run on every attempt so it
// must be free of side effects outside the Writer. Errors returned by fn are
// not retried.
func (s *Store) Update(op string, fn func(w *Writer) error) error {
	if !s.Ready() {
		return apperr.TransientIO(op, errors.New("store closed"))
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryBackoff
	bo.MaxElapsedTime = 0
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		w := &Writer{b: s.db.NewBatch()}
		defer w.b.Close()
		if err := fn(w); err != nil {
			return backoff.Permanent(err)
		}
		if w.err != nil {
			return backoff.Permanent(w.err)
		}
		if w.b.Empty() {
			return nil
		}
		if err := s.db.Apply(w.b, s.writeOpt()); err != nil {
			logger.Warn("store_apply_failed", "op", op, "attempt", attempt, "error", err)
			return err
		}
		atomic.AddUint64(&s.pendingWrites, 1)
		return nil
	}, backoff.WithMaxRetries(bo, uint64(s.retries)))
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	var me *marshalError
	if errors.As(err, &me) {
		return fmt.Errorf("%s: %w", op, err)
	}
	logger.Error("store_write_failed", "op", op, "attempts", attempt, "error", err)
	return apperr.TransientIO(op, err)
}

type marshalError struct{ err error }

func (e *marshalError) Error() string { return "marshal: " + e.err.Error() }
func (e *marshalError) Unwrap() error { return e.err }

// Writer accumulates the mutations of one atomic batch.
type Writer struct {
	b   *pebble.Batch
	err error
}

func (w *Writer) putJSON(key string, v any) {
	if w.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		w.err = &marshalError{err: err}
		return
	}
	w.err = w.b.Set([]byte(key), data, nil)
}

func (w *Writer) putRaw(key, val string) {
	if w.err != nil {
		return
	}
	w.err = w.b.Set([]byte(key), []byte(val), nil)
}

func (w *Writer) del(key string) {
	if w.err != nil {
		return
	}
	w.err = w.b.Delete([]byte(key), nil)
}

func (w *Writer) delPrefix(prefix string) {
	if w.err != nil {
		return
	}
	w.err = w.b.DeleteRange([]byte(prefix), keys.PrefixUpperBound([]byte(prefix)), nil)
}

func (s *Store) getRaw(key string) ([]byte, bool, error) {
	return s.getRawIn(s.db, key)
}

func (s *Store) getRawIn(r pebble.Reader, key string) ([]byte, bool, error) {
	if !s.Ready() {
		return nil, false, apperr.TransientIO("store.get", errors.New("store closed"))
	}
	v, closer, err := r.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.TransientIO("store.get", err)
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, true, nil
}

func (s *Store) getJSON(key string, v any) (bool, error) {
	return s.getJSONIn(s.db, key, v)
}

func (s *Store) getJSONIn(r pebble.Reader, key string, v any) (bool, error) {
	raw, ok, err := s.getRawIn(r, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) has(key string) (bool, error) {
	_, ok, err := s.getRaw(key)
	return ok, err
}

// scan visits keys under prefix in order, starting at from (inclusive) when
// non-empty. fn returns false to stop.
func (s *Store) scan(prefix, from string, fn func(k, v []byte) (bool, error)) error {
	return s.scanIn(s.db, prefix, from, fn)
}

// scanIn is scan over r, which may be a snapshot.
func (s *Store) scanIn(r pebble.Reader, prefix, from string, fn func(k, v []byte) (bool, error)) error {
	if !s.Ready() {
		return apperr.TransientIO("store.scan", errors.New("store closed"))
	}
	p := []byte(prefix)
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: p, UpperBound: keys.PrefixUpperBound(p)})
	if err != nil {
		return apperr.TransientIO("store.scan", err)
	}
	defer iter.Close()
	start := p
	if from != "" {
		start = []byte(from)
	}
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return apperr.TransientIO("store.scan", err)
	}
	return nil
}

// scanReverse visits keys under prefix in descending order, strictly below
// before when non-empty.
func (s *Store) scanReverse(prefix, before string, fn func(k, v []byte) (bool, error)) error {
	if !s.Ready() {
		return apperr.TransientIO("store.scan", errors.New("store closed"))
	}
	p := []byte(prefix)
	upper := keys.PrefixUpperBound(p)
	if before != "" {
		upper = []byte(before)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: p, UpperBound: upper})
	if err != nil {
		return apperr.TransientIO("store.scan", err)
	}
	defer iter.Close()
	for iter.Last(); iter.Valid(); iter.Prev() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return apperr.TransientIO("store.scan", err)
	}
	return nil
}
