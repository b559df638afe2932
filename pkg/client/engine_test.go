package client

import (
	"context"
	"strconv"
	"testing"
	"time"

	"chatsync/pkg/apperr"
	"chatsync/pkg/client/cache"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const conv = "c1"

func newTestEngine(t *testing.T, d Dialer, h History) *Engine {
	t.Helper()
	if h == nil {
		h = &fakeHistory{}
	}
	e, err := New(cache.NewMem(), d, h, Options{
		UserID:         "alice",
		ReplayRate:     1000,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AckTimeout:     time.Second,
	})
	require.NoError(t, err)
	return e
}

// start runs e against one fake connection served by srv.
func start(t *testing.T, e *Engine, srv *fakeServer) (*fakeConn, func()) {
	t.Helper()
	c := newFakeConn()
	srv.serve(c)
	e.dialer = &fakeDialer{conns: []*fakeConn{c}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	require.Eventually(t, func() bool { return e.State() == StateOnline }, 2*time.Second, 5*time.Millisecond)
	return c, func() {
		cancel()
		<-done
	}
}

func entries(t *testing.T, e *Engine) []cache.Entry {
	t.Helper()
	got, err := e.Messages(conv)
	require.NoError(t, err)
	return got
}

func outboxLen(t *testing.T, e *Engine) int {
	t.Helper()
	q, err := e.Pending()
	require.NoError(t, err)
	return len(q)
}

func TestSendReconcilesTempID(t *testing.T) {
	srv := newFakeServer(t)
	e := newTestEngine(t, nil, nil)
	require.NoError(t, e.Watch(conv))
	updates, unsub := e.Subscribe()
	defer unsub()

	ent, err := e.Send(conv, "hello", "")
	require.NoError(t, err)
	require.Equal(t, cache.Pending, ent.Status)
	require.Equal(t, cache.TempKey(ent.TempID), ent.Key())

	first := <-updates
	require.Equal(t, MessageUpserted, first.Kind)
	require.Equal(t, cache.Pending, first.Entry.Status)

	_, stop := start(t, e, srv)
	defer stop()

	require.Eventually(t, func() bool { return outboxLen(t, e) == 0 }, 2*time.Second, 5*time.Millisecond)
	got := entries(t, e)
	require.Len(t, got, 1, "temp entry must be replaced, not duplicated")
	require.Equal(t, "m-1", got[0].Message.ID)
	require.Equal(t, cache.Confirmed, got[0].Status)
	require.Equal(t, ent.TempID, got[0].TempID)

	id, ok := e.ResolveTemp(ent.TempID)
	require.True(t, ok)
	require.Equal(t, "m-1", id)

	cur, err := e.Cursor(conv)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.Seq)
	require.Equal(t, []string{wire.CmdJoinRoom, wire.CmdSendMessage}, srv.commands())
}

func TestOfflineActionsReplayInOrder(t *testing.T) {
	srv := newFakeServer(t)
	e := newTestEngine(t, nil, nil)
	require.NoError(t, e.Watch(conv))

	a, err := e.Send(conv, "one", "")
	require.NoError(t, err)
	_, err = e.Send(conv, "two", "")
	require.NoError(t, err)
	// editing an unsent message rewrites the queued send
	_, err = e.Edit(conv, a.TempID, "one, edited")
	require.NoError(t, err)
	require.Equal(t, 2, outboxLen(t, e))

	_, stop := start(t, e, srv)
	defer stop()
	require.Eventually(t, func() bool { return outboxLen(t, e) == 0 }, 2*time.Second, 5*time.Millisecond)

	got := entries(t, e)
	require.Len(t, got, 2)
	require.Equal(t, "one, edited", got[0].Message.Content)
	require.Equal(t, uint64(1), got[0].Message.Seq)
	require.Equal(t, "two", got[1].Message.Content)
	require.Equal(t, uint64(2), got[1].Message.Seq)
}

func TestEditAndDeleteConfirmed(t *testing.T) {
	srv := newFakeServer(t)
	e := newTestEngine(t, nil, nil)
	require.NoError(t, e.Watch(conv))
	_, stop := start(t, e, srv)
	defer stop()

	_, err := e.Send(conv, "draft", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return outboxLen(t, e) == 0 }, 2*time.Second, 5*time.Millisecond)

	ent, err := e.Edit(conv, "m-1", "final")
	require.NoError(t, err)
	require.Equal(t, cache.Pending, ent.Status)
	require.Equal(t, "draft", ent.Base.Content)
	require.Eventually(t, func() bool { return outboxLen(t, e) == 0 }, 2*time.Second, 5*time.Millisecond)
	got := entries(t, e)
	require.Equal(t, "final", got[0].Message.Content)
	require.Equal(t, cache.Confirmed, got[0].Status)
	require.Nil(t, got[0].Base)

	require.NoError(t, e.Delete(conv, "m-1"))
	require.Eventually(t, func() bool { return outboxLen(t, e) == 0 }, 2*time.Second, 5*time.Millisecond)
	got = entries(t, e)
	require.True(t, got[0].Message.Deleted())
	require.Equal(t, cache.Confirmed, got[0].Status)

	// deleting again is a no-op
	require.NoError(t, e.Delete(conv, "m-1"))
	require.Equal(t, 0, outboxLen(t, e))
}

func TestRejectedSendCanBeRetried(t *testing.T) {
	srv := newFakeServer(t)
	fail := true
	srv.reject = func(typ string) error {
		if typ == wire.CmdSendMessage && fail {
			return apperr.Forbidden("coordinator.send", "banned")
		}
		return nil
	}
	e := newTestEngine(t, nil, nil)
	require.NoError(t, e.Watch(conv))
	updates, unsub := e.Subscribe()
	defer unsub()
	_, stop := start(t, e, srv)
	defer stop()

	ent, err := e.Send(conv, "hi", "")
	require.NoError(t, err)

	var failed Update
	require.Eventually(t, func() bool {
		for {
			select {
			case u := <-updates:
				if u.Kind == ActionFailed {
					failed = u
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, apperr.KindForbidden, apperr.KindOf(failed.Err))
	require.Equal(t, cache.Failed, failed.Entry.Status)

	// editing a failed send rewrites it in place for the retry
	edited, err := e.Edit(conv, ent.TempID, "hi again")
	require.NoError(t, err)
	require.Equal(t, cache.Failed, edited.Status)
	require.Equal(t, 0, outboxLen(t, e))

	srv.mu.Lock()
	fail = false
	srv.mu.Unlock()
	_, err = e.Retry(conv, ent.TempID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got := entries(t, e)
		return len(got) == 1 && got[0].Status == cache.Confirmed && got[0].Message.Content == "hi again"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRejectedEditRollsBack(t *testing.T) {
	srv := newFakeServer(t)
	srv.reject = func(typ string) error {
		if typ == wire.CmdEditMessage {
			return apperr.Forbidden("coordinator.edit", "only the sender may edit")
		}
		return nil
	}
	e := newTestEngine(t, nil, nil)
	require.NoError(t, e.Watch(conv))
	_, stop := start(t, e, srv)
	defer stop()

	_, err := e.Send(conv, "original", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return outboxLen(t, e) == 0 }, 2*time.Second, 5*time.Millisecond)

	_, err = e.Edit(conv, "m-1", "changed")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got := entries(t, e)
		return got[0].Status == cache.Confirmed && got[0].Error != ""
	}, 2*time.Second, 5*time.Millisecond)
	got := entries(t, e)
	require.Equal(t, "original", got[0].Message.Content)
	require.Nil(t, got[0].Base)
}

func TestDeleteUnsentDropsAction(t *testing.T) {
	e := newTestEngine(t, &fakeDialer{}, nil)
	ent, err := e.Send(conv, "oops", "")
	require.NoError(t, err)
	require.NoError(t, e.Delete(conv, ent.TempID))
	require.Equal(t, 0, outboxLen(t, e))
	require.Empty(t, entries(t, e))
}

func TestActionsNeedConfirmedMessage(t *testing.T) {
	e := newTestEngine(t, &fakeDialer{}, nil)
	ent, err := e.Send(conv, "x", "")
	require.NoError(t, err)
	err = e.React(conv, ent.TempID, "👍")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	err = e.MarkRead(conv, "nope")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = e.Send(conv, "  ", "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestServerMergeRules(t *testing.T) {
	e := newTestEngine(t, &fakeDialer{}, nil)
	apply := func(m models.Message) {
		t.Helper()
		m.ConversationID = conv
		e.mu.Lock()
		defer e.mu.Unlock()
		require.NoError(t, e.applyServerLocked(m))
	}

	apply(models.Message{ID: "m-1", Seq: 1, Content: "a", CreatedTS: 10})
	apply(models.Message{ID: "m-1", Seq: 1, Content: "a", CreatedTS: 10})
	require.Len(t, entries(t, e), 1, "duplicate delivery")

	apply(models.Message{ID: "m-1", Seq: 1, Content: "b", CreatedTS: 10, EditedTS: 30})
	apply(models.Message{ID: "m-1", Seq: 1, Content: "stale", CreatedTS: 10, EditedTS: 20})
	require.Equal(t, "b", entries(t, e)[0].Message.Content, "older edit must not win")

	apply(models.Message{ID: "m-1", Seq: 1, CreatedTS: 10, DeletedTS: 25})
	apply(models.Message{ID: "m-1", Seq: 1, Content: "late", CreatedTS: 10, EditedTS: 40})
	got := entries(t, e)[0]
	require.True(t, got.Message.Deleted(), "delete wins over any edit")
	require.Empty(t, got.Message.Content)

	cur, err := e.Cursor(conv)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.Seq)

	event := func(m models.Message) {
		t.Helper()
		m.ConversationID = conv
		raw, err := wire.Encode(wire.JSON, wire.EvtMessageCreated, "", "", 0, m)
		require.NoError(t, err)
		e.handleEvent(wire.JSON, wire.EvtMessageCreated, raw)
	}
	event(models.Message{ID: "m-1", Seq: 1, Rev: 1, CreatedTS: 10, DeletedTS: 25})
	cur, err = e.Cursor(conv)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.Rev)

	event(models.Message{ID: "m-3", Seq: 3, Rev: 3, Content: "c", CreatedTS: 50})
	cur, err = e.Cursor(conv)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.Seq, "cursor stays below a gap")
	require.Equal(t, uint64(1), cur.Rev)
	select {
	case j := <-e.jobs:
		require.Equal(t, conv, j.conv)
		require.False(t, j.join)
	default:
		t.Fatalf("gap did not schedule a catch-up")
	}
}

func TestPendingEditSurvivesServerEdit(t *testing.T) {
	e := newTestEngine(t, &fakeDialer{}, nil)
	e.mu.Lock()
	require.NoError(t, e.applyServerLocked(models.Message{ID: "m-1", ConversationID: conv, Seq: 1, Content: "a", CreatedTS: 10}))
	e.mu.Unlock()

	_, err := e.Edit(conv, "m-1", "mine")
	require.NoError(t, err)

	e.mu.Lock()
	require.NoError(t, e.applyServerLocked(models.Message{ID: "m-1", ConversationID: conv, Seq: 1, Content: "theirs", CreatedTS: 10, EditedTS: 20}))
	e.mu.Unlock()
	got := entries(t, e)[0]
	require.Equal(t, "mine", got.Message.Content)
	require.Equal(t, "theirs", got.Base.Content)

	// a server delete supersedes the queued edit
	e.mu.Lock()
	require.NoError(t, e.applyServerLocked(models.Message{ID: "m-1", ConversationID: conv, Seq: 1, CreatedTS: 10, DeletedTS: 30}))
	e.mu.Unlock()
	got = entries(t, e)[0]
	require.True(t, got.Message.Deleted())
	require.Nil(t, got.Base)
	require.Equal(t, 0, outboxLen(t, e))
}

func TestCatchUpPages(t *testing.T) {
	h := &fakeHistory{}
	for i := uint64(1); i <= 5; i++ {
		h.msgs = append(h.msgs, models.Message{ID: "m-" + strconv.FormatUint(i, 10), ConversationID: conv, Seq: i, Rev: i, CreatedTS: int64(i)})
	}
	e := newTestEngine(t, &fakeDialer{}, h)
	e.opts.PageSize = 2
	require.NoError(t, e.catchUp(context.Background(), conv))

	cur, err := e.Cursor(conv)
	require.NoError(t, err)
	require.Equal(t, uint64(5), cur.Seq)
	require.Equal(t, uint64(5), cur.Rev)
	require.Len(t, entries(t, e), 5)
	require.Equal(t, 3, h.calls)
}

func TestReconnectCatchesUp(t *testing.T) {
	srv := newFakeServer(t)
	e := newTestEngine(t, nil, srv)
	require.NoError(t, e.Watch(conv))
	c, stop := start(t, e, srv)
	defer stop()

	_, err := e.Send(conv, "before", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return outboxLen(t, e) == 0 }, 2*time.Second, 5*time.Millisecond)

	// another participant posts while the link is down
	srv.mu.Lock()
	srv.msgs["m-2"] = &models.Message{ID: "m-2", ConversationID: conv, SenderID: "bob", Seq: 2, Rev: 2, Content: "missed", CreatedTS: 2000}
	srv.seq, srv.rev = 2, 2
	srv.mu.Unlock()

	reconnect(e, srv, c)

	require.Eventually(t, func() bool { return len(entries(t, e)) == 2 }, 2*time.Second, 5*time.Millisecond)
	cur, err := e.Cursor(conv)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur.Seq)
}

func TestReconnectAppliesMissedEditsAndDeletes(t *testing.T) {
	srv := newFakeServer(t)
	srv.msgs["m-1"] = &models.Message{ID: "m-1", ConversationID: conv, SenderID: "bob", Seq: 1, Rev: 1, Content: "one", CreatedTS: 1}
	srv.msgs["m-2"] = &models.Message{ID: "m-2", ConversationID: conv, SenderID: "bob", Seq: 2, Rev: 2, Content: "two", CreatedTS: 2}
	srv.seq, srv.rev = 2, 2
	e := newTestEngine(t, nil, srv)
	require.NoError(t, e.Watch(conv))
	c, stop := start(t, e, srv)
	defer stop()
	require.Eventually(t, func() bool { return len(entries(t, e)) == 2 }, 2*time.Second, 5*time.Millisecond)

	// bob deletes the first message and edits the second while the link is down
	srv.mu.Lock()
	srv.msgs["m-1"].Redact(3)
	srv.msgs["m-1"].Rev = 3
	srv.msgs["m-2"].Content, srv.msgs["m-2"].EditedTS, srv.msgs["m-2"].Rev = "two (edited)", 4, 4
	srv.rev = 4
	srv.mu.Unlock()
	reconnect(e, srv, c)

	require.Eventually(t, func() bool {
		got := entries(t, e)
		return len(got) == 2 && got[0].Message.Deleted() && got[1].Message.Content == "two (edited)"
	}, 2*time.Second, 5*time.Millisecond)
	cur, err := e.Cursor(conv)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur.Seq)
	require.Equal(t, uint64(4), cur.Rev)
}

// reconnect drops c and lets the engine dial a fresh connection to srv.
func reconnect(e *Engine, srv *fakeServer, c *fakeConn) {
	next := newFakeConn()
	srv.serve(next)
	d := e.dialer.(*fakeDialer)
	d.mu.Lock()
	d.conns = append(d.conns, next)
	d.mu.Unlock()
	_ = c.Close()
}

func TestRunFailsAfterMaxElapsed(t *testing.T) {
	e := newTestEngine(t, &fakeDialer{err: errors.New("connection refused")}, nil)
	e.opts.MaxElapsed = 20 * time.Millisecond
	err := e.Run(context.Background())
	require.ErrorIs(t, err, ErrConnectFailed)
	require.Equal(t, StateFailed, e.State())
}

func TestRunStopsOnUnauthorized(t *testing.T) {
	d := &fakeDialer{err: errors.Wrap(ErrUnauthorized, "gateway handshake")}
	e := newTestEngine(t, d, nil)
	err := e.Run(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, 1, d.dials)
	require.Equal(t, StateFailed, e.State())
}
