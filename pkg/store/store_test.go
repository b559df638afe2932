package store

import (
	"errors"
	"fmt"
	"testing"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMem()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func commit(t *testing.T, s *Store, c *models.Conversation, content, temp string) *models.Message {
	t.Helper()
	c.LastSeq++
	m := &models.Message{
		ID:             fmt.Sprintf("m-%d", c.LastSeq),
		ConversationID: c.ID,
		SenderID:       "alice",
		Seq:            c.LastSeq,
		Content:        content,
		ClientTempID:   temp,
		CreatedTS:      int64(c.LastSeq) * 100,
	}
	if err := s.Update("test.commit", func(w *Writer) error {
		w.CommitMessage(c, m)
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return m
}

func TestConversationAndMembership(t *testing.T) {
	s := openTest(t)
	c := &models.Conversation{ID: "c1", Kind: models.KindGroup, Participants: []string{"alice", "bob"}}
	if err := s.Update("test", func(w *Writer) error {
		w.PutConversation(c, c.Participants, nil)
		return nil
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetConversation("c1")
	if err != nil || len(got.Participants) != 2 {
		t.Fatalf("get: %+v %v", got, err)
	}
	ids, err := s.ConversationsFor("bob")
	if err != nil || len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("memberships: %v %v", ids, err)
	}
	if _, err := s.GetConversation("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMessagesPaging(t *testing.T) {
	s := openTest(t)
	c := &models.Conversation{ID: "c1"}
	for i := 0; i < 12; i++ {
		commit(t, s, c, fmt.Sprintf("msg %d", i), "")
	}

	after, more, err := s.MessagesAfter("c1", 5, 4)
	if err != nil || !more || len(after) != 4 || after[0].Seq != 6 || after[3].Seq != 9 {
		t.Fatalf("after: %v more=%v err=%v", seqs(after), more, err)
	}
	tail, more, err := s.MessagesAfter("c1", 9, 10)
	if err != nil || more || len(tail) != 3 {
		t.Fatalf("tail: %v more=%v err=%v", seqs(tail), more, err)
	}

	newest, more, err := s.MessagesBefore("c1", 0, 5)
	if err != nil || !more || newest[0].Seq != 8 || newest[4].Seq != 12 {
		t.Fatalf("before: %v more=%v err=%v", seqs(newest), more, err)
	}
	older, more, err := s.MessagesBefore("c1", 3, 5)
	if err != nil || more || len(older) != 2 || older[0].Seq != 1 {
		t.Fatalf("older: %v more=%v err=%v", seqs(older), more, err)
	}
}

func TestChangeLogKeepsLatestRevision(t *testing.T) {
	s := openTest(t)
	c := &models.Conversation{ID: "c1"}
	for i := 0; i < 3; i++ {
		m := commit(t, s, c, fmt.Sprintf("msg %d", i), "")
		m.Rev = m.Seq
		c.LastRev = m.Rev
		if err := s.Update("test.rev", func(w *Writer) error {
			w.PutMessage(m, 0)
			w.PutConversation(c, nil, nil)
			return nil
		}); err != nil {
			t.Fatalf("stamp: %v", err)
		}
	}
	m, err := s.GetMessageBySeq("c1", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	m.Content = "edited"
	m.Rev = 4
	c.LastRev = 4
	if err := s.Update("test.edit", func(w *Writer) error {
		w.PutMessage(m, 1)
		w.PutConversation(c, nil, nil)
		return nil
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	all, rev, more, err := s.MessagesChangedAfter("c1", 0, 10)
	if err != nil || more || rev != 4 || len(all) != 3 {
		t.Fatalf("changes: %v rev=%d more=%v err=%v", seqs(all), rev, more, err)
	}
	if all[2].Seq != 1 || all[2].Content != "edited" {
		t.Fatalf("edited message should come last: %+v", all)
	}
	some, rev, more, err := s.MessagesChangedAfter("c1", 0, 1)
	if err != nil || !more || rev != 2 || len(some) != 1 || some[0].Seq != 2 {
		t.Fatalf("first page: %v rev=%d more=%v err=%v", seqs(some), rev, more, err)
	}
}

func TestGetMessageByIDAndTemp(t *testing.T) {
	s := openTest(t)
	c := &models.Conversation{ID: "c1"}
	m := commit(t, s, c, "hello", "tmp-1")

	got, err := s.GetMessage(m.ID)
	if err != nil || got.Content != "hello" || got.Seq != 1 {
		t.Fatalf("get: %+v %v", got, err)
	}
	id, err := s.LookupTemp("c1", "alice", "tmp-1")
	if err != nil || id != m.ID {
		t.Fatalf("temp lookup: %q %v", id, err)
	}
	if id, _ := s.LookupTemp("c1", "bob", "tmp-1"); id != "" {
		t.Fatalf("temp ids are scoped by sender")
	}
	stored, _ := s.GetConversation("c1")
	if stored.LastSeq != 1 {
		t.Fatalf("conversation meta not committed with message")
	}

	n, err := s.SweepTempIndex(50, 0, false)
	if err != nil || n != 0 {
		t.Fatalf("sweep young: %d %v", n, err)
	}
	n, err = s.SweepTempIndex(1000, 0, true)
	if err != nil || n != 1 {
		t.Fatalf("dry run: %d %v", n, err)
	}
	if id, _ := s.LookupTemp("c1", "alice", "tmp-1"); id == "" {
		t.Fatalf("dry run must not delete")
	}
	if n, _ = s.SweepTempIndex(1000, 0, false); n != 1 {
		t.Fatalf("sweep: %d", n)
	}
	if id, _ := s.LookupTemp("c1", "alice", "tmp-1"); id != "" {
		t.Fatalf("entry survived sweep")
	}
}

func TestUpdateErrorsAreNotApplied(t *testing.T) {
	s := openTest(t)
	c := &models.Conversation{ID: "c1"}
	want := apperr.Conflict("test", "nope")
	err := s.Update("test", func(w *Writer) error {
		w.PutConversation(c, nil, nil)
		return want
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.GetConversation("c1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("half-applied batch: %v", err)
	}
}

func TestClosedStoreIsTransient(t *testing.T) {
	s := openTest(t)
	_ = s.Close()
	err := s.Update("test", func(w *Writer) error { return nil })
	if !errors.Is(err, apperr.ErrTransientIO) {
		t.Fatalf("expected transient, got %v", err)
	}
	if _, err := s.GetConversation("x"); !errors.Is(err, apperr.ErrTransientIO) {
		t.Fatalf("expected transient read, got %v", err)
	}
}

func TestJoinRequestPendingMarker(t *testing.T) {
	s := openTest(t)
	ls := &models.LiveSession{ID: "s1", HostID: "h", Status: models.SessionWaiting}
	r := &models.JoinRequest{ID: "r1", SessionID: "s1", UserID: "x", Status: models.JoinPending}
	put := func() {
		if err := s.Update("test", func(w *Writer) error {
			w.PutSession(ls)
			w.PutJoinRequest(r)
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	put()
	p, err := s.PendingJoinRequest("s1", "x")
	if err != nil || p == nil || p.ID != "r1" {
		t.Fatalf("pending: %+v %v", p, err)
	}
	hosted, _ := s.HostedSessions("h")
	if len(hosted) != 1 {
		t.Fatalf("hosted index missing")
	}

	r.Status = models.JoinApproved
	ls.Status = models.SessionEnded
	put()
	if p, _ := s.PendingJoinRequest("s1", "x"); p != nil {
		t.Fatalf("pending marker should be cleared")
	}
	if hosted, _ := s.HostedSessions("h"); len(hosted) != 0 {
		t.Fatalf("ended session still hosted")
	}
	got, err := s.GetJoinRequest("r1")
	if err != nil || got.Status != models.JoinApproved {
		t.Fatalf("get: %+v %v", got, err)
	}

	if err := s.Update("test", func(w *Writer) error {
		w.DeleteSession(ls, []string{"r1"})
		return nil
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJoinRequest("r1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("request survived purge: %v", err)
	}
}

func TestReadCursorsAndModeration(t *testing.T) {
	s := openTest(t)
	if err := s.Update("test", func(w *Writer) error {
		w.PutReadCursor(&models.ReadCursor{ConversationID: "c1", UserID: "bob", MessageID: "m-3", Seq: 3, ReadTS: 9})
		w.SetBan("c1", "eve", true)
		w.SetBlock("alice", "eve", true)
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	cur, err := s.ReadCursor("c1", "bob")
	if err != nil || cur == nil || cur.Seq != 3 {
		t.Fatalf("cursor: %+v %v", cur, err)
	}
	if cur, _ := s.ReadCursor("c1", "alice"); cur != nil {
		t.Fatalf("unexpected cursor")
	}
	rr, _ := s.ReadReceipts("m-3")
	if len(rr) != 1 || rr[0].UserID != "bob" {
		t.Fatalf("receipts: %+v", rr)
	}
	if ok, _ := s.IsBanned("c1", "eve"); !ok {
		t.Fatalf("ban missing")
	}
	if ok, _ := s.IsBlocked("eve", "alice"); ok {
		t.Fatalf("block is directional")
	}
}

func seqs(ms []models.Message) []uint64 {
	out := make([]uint64, len(ms))
	for i, m := range ms {
		out[i] = m.Seq
	}
	return out
}
