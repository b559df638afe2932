package client

import (
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"testing"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"
)

// fakeConn is an in-memory connection; the test plays the gateway.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), out: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) Codec() wire.Codec { return wire.JSON }

func (c *fakeConn) WriteFrame(b []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.out <- b:
		return nil
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case b := <-c.in:
		return b, nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, typ, ref string, data any) {
	t.Helper()
	b, err := wire.Encode(wire.JSON, typ, ref, "", 0, data)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	select {
	case c.in <- b:
	case <-c.closed:
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

// fakeServer answers commands like a single-conversation gateway.
type fakeServer struct {
	t    *testing.T
	mu   sync.Mutex
	msgs map[string]*models.Message
	seq  uint64
	rev  uint64
	now  int64
	// reject, when set, fails commands before they are applied. It runs
	// with mu held.
	reject func(typ string) error
	seen   []string
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{t: t, msgs: make(map[string]*models.Message), now: 1000}
}

func (s *fakeServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func (s *fakeServer) serve(c *fakeConn) {
	go func() {
		for {
			select {
			case <-c.closed:
				return
			case raw := <-c.out:
				s.handle(c, raw)
			}
		}
	}()
}

func (s *fakeServer) handle(c *fakeConn, raw []byte) {
	h, err := wire.DecodeHeader(wire.JSON, raw)
	if err != nil {
		s.t.Errorf("bad frame: %v", err)
		return
	}
	s.mu.Lock()
	s.seen = append(s.seen, h.Type)
	if s.reject != nil {
		if err := s.reject(h.Type); err != nil {
			s.mu.Unlock()
			c.push(s.t, wire.EvtError, h.Ref, wire.ErrorBody{Code: apperr.Code(err), Message: apperr.Message(err)})
			return
		}
	}
	s.now++
	var (
		result any
		event  string
		msg    models.Message
	)
	switch h.Type {
	case wire.CmdSendMessage:
		f, _ := wire.Decode[wire.SendMessage](wire.JSON, raw)
		s.seq++
		s.rev++
		m := &models.Message{
			ID:             "m-" + strconv.FormatUint(s.seq, 10),
			ConversationID: f.Data.ConversationID,
			SenderID:       "alice",
			Seq:            s.seq,
			Rev:            s.rev,
			Content:        f.Data.Content,
			ClientTempID:   f.Data.ClientTempID,
			CreatedTS:      s.now,
		}
		s.msgs[m.ID] = m
		msg, event, result = *m, wire.EvtMessageCreated, *m
	case wire.CmdEditMessage:
		f, _ := wire.Decode[wire.EditMessage](wire.JSON, raw)
		m := s.msgs[f.Data.MessageID]
		s.rev++
		m.Content, m.EditedTS, m.Rev = f.Data.Content, s.now, s.rev
		msg, event, result = *m, wire.EvtMessageEdited, *m
	case wire.CmdDeleteMessage:
		f, _ := wire.Decode[wire.MessageRef](wire.JSON, raw)
		if m, ok := s.msgs[f.Data.MessageID]; ok {
			if !m.Deleted() {
				s.rev++
				m.Redact(s.now)
				m.Rev = s.rev
				msg, event = *m, wire.EvtMessageDeleted
			}
			result = *m
		}
	}
	s.mu.Unlock()
	if event != "" {
		c.push(s.t, event, "", msg)
	}
	c.push(s.t, wire.EvtAck, h.Ref, result)
}

func (s *fakeServer) history() *fakeHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHistory{}
	for _, m := range s.msgs {
		h.msgs = append(h.msgs, *m)
	}
	return h
}

// After serves catch-up from the server's current state.
func (s *fakeServer) After(ctx context.Context, conv string, after uint64, limit int) (*models.MessagePage, error) {
	return s.history().After(ctx, conv, after, limit)
}

type fakeHistory struct {
	mu    sync.Mutex
	msgs  []models.Message
	calls int
}

func (h *fakeHistory) After(ctx context.Context, conv string, after uint64, limit int) (*models.MessagePage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	var (
		out     []models.Message
		lastSeq uint64
		lastRev = after
	)
	for _, m := range h.msgs {
		if m.ConversationID != conv {
			continue
		}
		if m.Seq > lastSeq {
			lastSeq = m.Seq
		}
		if m.Rev > lastRev {
			lastRev = m.Rev
		}
		if m.Rev > after {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rev < out[j].Rev })
	more := len(out) > limit
	if more {
		out = out[:limit]
		lastRev = out[len(out)-1].Rev
	}
	return &models.MessagePage{
		Messages:   out,
		LastSeq:    lastSeq,
		Rev:        lastRev,
		Pagination: models.PaginationResponse{Limit: limit, HasMore: more, Count: len(out)},
	}, nil
}
