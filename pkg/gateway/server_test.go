package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"chatsync/pkg/auth"
	"chatsync/pkg/broker"
	"chatsync/pkg/clock"
	"chatsync/pkg/coordinator"
	"chatsync/pkg/events"
	"chatsync/pkg/keylock"
	"chatsync/pkg/models"
	"chatsync/pkg/presence"
	"chatsync/pkg/store"
	"chatsync/pkg/wire"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const testKey = "test-signing-key"

type stack struct {
	ln    *fasthttputil.InmemoryListener
	hub   *Hub
	coord *coordinator.Coordinator
	br    *broker.Broker
}

func newStack(t *testing.T) *stack {
	t.Helper()
	st, err := store.OpenMem()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clk := clock.Real()
	locks := keylock.New()
	hub := NewHub(clk, 50*time.Millisecond)
	disp := events.New(hub, nil, clk, events.Options{})
	coord := coordinator.New(st, locks, disp, nil, clk, coordinator.Options{})
	br := broker.New(st, locks, coord, disp, clk, broker.Options{})
	br.SetRooms(hub)
	coord.SetRooms(hub)
	typing := presence.NewTracker(disp, clk, time.Second)
	hub.OnUserGone(func(u string) {
		typing.ClearUser(u)
		br.OnUserGone(context.Background(), u)
	})

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ctx, hub, NewRouter(hub, coord, br, typing), auth.NewHMACProvider([]string{testKey}), nil, Options{PingInterval: time.Second})
	ln := fasthttputil.NewInmemoryListener()
	hs := &fasthttp.Server{Handler: srv.Handler}
	go hs.Serve(ln)
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		disp.Close()
		_ = st.Close()
	})
	return &stack{ln: ln, hub: hub, coord: coord, br: br}
}

type client struct {
	t     *testing.T
	ws    *websocket.Conn
	codec wire.Codec
	ref   int
}

func (s *stack) dial(t *testing.T, token string, codec wire.Codec) (*client, *http.Response, error) {
	t.Helper()
	d := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) { return s.ln.Dial() },
		Subprotocols:   []string{codec.Name()},
	}
	ws, resp, err := d.Dial("ws://chatsync.test/v1/ws?token="+token, nil)
	if err != nil {
		return nil, resp, err
	}
	c := &client{t: t, ws: ws, codec: codec}
	t.Cleanup(func() { _ = ws.Close() })
	c.expect(wire.EvtHello)
	return c, resp, nil
}

func (s *stack) connect(t *testing.T, user string, codec wire.Codec) *client {
	t.Helper()
	c, _, err := s.dial(t, auth.Sign(testKey, user), codec)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	return c
}

func (c *client) next() wire.Frame[any] {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	f, err := wire.Decode[any](c.codec, b)
	if err != nil {
		c.t.Fatalf("decode frame: %v", err)
	}
	return f
}

// expect skips frames until one of type typ arrives.
func (c *client) expect(typ string) wire.Frame[any] {
	c.t.Helper()
	for i := 0; i < 50; i++ {
		f := c.next()
		if f.Type == typ {
			return f
		}
	}
	c.t.Fatalf("no %s frame", typ)
	return wire.Frame[any]{}
}

// call sends a command and waits for its ack or error.
func (c *client) call(typ string, data any) wire.Frame[any] {
	c.t.Helper()
	c.ref++
	ref := fmt.Sprintf("%s-%d", typ, c.ref)
	b, err := wire.Encode(c.codec, typ, ref, "", 0, data)
	if err != nil {
		c.t.Fatalf("encode: %v", err)
	}
	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	if err := c.ws.WriteMessage(msgType, b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	for i := 0; i < 50; i++ {
		f := c.next()
		if f.Ref == ref && (f.Type == wire.EvtAck || f.Type == wire.EvtError || f.Type == wire.EvtPong) {
			return f
		}
	}
	c.t.Fatalf("no reply to %s", typ)
	return wire.Frame[any]{}
}

func field(f wire.Frame[any], key string) any {
	m, ok := f.Data.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	s := newStack(t)
	_, resp, err := s.dial(t, auth.Sign("wrong-key", "alice"), wire.JSON)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestMessageFanOutAcrossCodecs(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	conv, err := s.coord.CreateConversation(ctx, "alice", coordinator.CreateConversation{
		Kind:         models.KindGroup,
		Participants: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	room := wire.ConversationRoom(conv.ID)

	alice := s.connect(t, "alice", wire.JSON)
	bob := s.connect(t, "bob", wire.CBOR)
	mallory := s.connect(t, "mallory", wire.JSON)

	if f := alice.call(wire.CmdJoinRoom, wire.JoinRoom{RoomID: room}); f.Type != wire.EvtAck {
		t.Fatalf("alice join: %+v", f)
	}
	if f := bob.call(wire.CmdJoinRoom, wire.JoinRoom{RoomID: room}); f.Type != wire.EvtAck {
		t.Fatalf("bob join: %+v", f)
	}
	if f := alice.expect(wire.EvtParticipantJoined); field(f, "user_id") != "bob" {
		t.Fatalf("alice saw join of %v", field(f, "user_id"))
	}
	if f := mallory.call(wire.CmdJoinRoom, wire.JoinRoom{RoomID: room}); f.Type != wire.EvtError || field(f, "code") != "forbidden" {
		t.Fatalf("outsider join: %+v", f)
	}

	ack := alice.call(wire.CmdSendMessage, wire.SendMessage{ConversationID: conv.ID, Content: "hi", ClientTempID: "tmp-1"})
	if ack.Type != wire.EvtAck || field(ack, "client_temp_id") != "tmp-1" {
		t.Fatalf("send ack: %+v", ack)
	}
	id := field(ack, "id")
	created := bob.expect(wire.EvtMessageCreated)
	if field(created, "id") != id || created.Room != room {
		t.Fatalf("bob saw %+v, want id %v", created, id)
	}

	retry := alice.call(wire.CmdSendMessage, wire.SendMessage{ConversationID: conv.ID, Content: "hi", ClientTempID: "tmp-1"})
	if field(retry, "id") != id {
		t.Fatalf("retry returned a different message: %v", field(retry, "id"))
	}

	if f := mallory.call(wire.CmdSendMessage, wire.SendMessage{ConversationID: conv.ID, Content: "x"}); field(f, "code") != "forbidden" {
		t.Fatalf("outsider send: %+v", f)
	}
	if f := alice.call("nonsense", nil); field(f, "code") != "validation_error" {
		t.Fatalf("unknown command: %+v", f)
	}
	if f := alice.call(wire.CmdPing, nil); f.Type != wire.EvtPong {
		t.Fatalf("ping: %+v", f)
	}
}

// until reads frames up to and including the first of type typ.
func (c *client) until(typ string) []string {
	c.t.Helper()
	var seen []string
	for i := 0; i < 50; i++ {
		f := c.next()
		seen = append(seen, f.Type)
		if f.Type == typ {
			return seen
		}
	}
	c.t.Fatalf("no %s frame", typ)
	return nil
}

func TestRemovedParticipantStopsReceiving(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	conv, err := s.coord.CreateConversation(ctx, "alice", coordinator.CreateConversation{
		Kind:         models.KindGroup,
		Participants: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	room := wire.ConversationRoom(conv.ID)
	alice := s.connect(t, "alice", wire.JSON)
	bob := s.connect(t, "bob", wire.JSON)
	for _, c := range []*client{alice, bob} {
		if f := c.call(wire.CmdJoinRoom, wire.JoinRoom{RoomID: room}); f.Type != wire.EvtAck {
			t.Fatalf("join: %+v", f)
		}
	}

	if err := s.coord.Ban(ctx, "alice", conv.ID, "bob", true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if got := s.hub.Members(room); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("members after ban = %v", got)
	}
	if f := bob.expect(wire.EvtParticipantLeft); field(f, "user_id") != "bob" {
		t.Fatalf("bob saw %+v", f)
	}
	if f := alice.call(wire.CmdSendMessage, wire.SendMessage{ConversationID: conv.ID, Content: "secret after ban"}); f.Type != wire.EvtAck {
		t.Fatalf("send: %+v", f)
	}
	// the event precedes the ack, so anything bob was sent is queued by now
	b, _ := wire.Encode(bob.codec, wire.CmdPing, "last", "", 0, nil)
	if err := bob.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, typ := range bob.until(wire.EvtPong) {
		if typ == wire.EvtMessageCreated {
			t.Fatalf("banned user still receives conversation events")
		}
	}
	if f := bob.call(wire.CmdJoinRoom, wire.JoinRoom{RoomID: room}); field(f, "code") != "forbidden" {
		t.Fatalf("banned rejoin: %+v", f)
	}

	if err := s.coord.DeleteConversation(ctx, "alice", conv.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	if got := s.hub.Members(room); len(got) != 0 {
		t.Fatalf("members after delete = %v", got)
	}
}

func TestJoinRequestOverSockets(t *testing.T) {
	s := newStack(t)
	host := s.connect(t, "hana", wire.JSON)
	guest := s.connect(t, "gus", wire.JSON)

	created := host.call(wire.CmdCreateSession, wire.CreateSession{Capacity: 2, RequireApproval: true})
	if created.Type != wire.EvtAck {
		t.Fatalf("create session: %+v", created)
	}
	sid, _ := field(created, "id").(string)

	req := guest.call(wire.CmdRequestJoin, wire.SessionRef{SessionID: sid})
	if field(req, "status") != string(models.JoinPending) {
		t.Fatalf("request: %+v", req)
	}
	rid, _ := field(req, "id").(string)
	host.expect(wire.EvtJoinRequestReceived)

	if f := guest.call(wire.CmdApproveRequest, wire.RequestRef{RequestID: rid}); field(f, "code") != "forbidden" {
		t.Fatalf("guest approving own request: %+v", f)
	}
	if f := host.call(wire.CmdApproveRequest, wire.RequestRef{RequestID: rid}); f.Type != wire.EvtAck {
		t.Fatalf("approve: %+v", f)
	}
	if f := guest.expect(wire.EvtJoinRequestApproved); field(f, "request_id") != rid {
		t.Fatalf("approved frame: %+v", f)
	}
	if !s.hub.Online("gus") {
		t.Fatalf("guest should be online")
	}
	if members := s.hub.Members(wire.SessionRoom(sid)); len(members) != 2 {
		t.Fatalf("session room members = %v", members)
	}
}

func TestHostDisconnectEndsSession(t *testing.T) {
	s := newStack(t)
	host := s.connect(t, "hana", wire.JSON)
	guest := s.connect(t, "gus", wire.JSON)
	created := host.call(wire.CmdCreateSession, wire.CreateSession{Capacity: 5, RequireApproval: true})
	sid, _ := field(created, "id").(string)
	guest.call(wire.CmdRequestJoin, wire.SessionRef{SessionID: sid})

	_ = host.ws.Close()
	f := guest.expect(wire.EvtJoinRequestRejected)
	if field(f, "reason") != broker.ReasonSessionEnded {
		t.Fatalf("rejection reason %v", field(f, "reason"))
	}
	ls, err := s.br.GetSession(context.Background(), sid)
	if err != nil || ls.Status != models.SessionEnded {
		t.Fatalf("session status %v err %v", ls, err)
	}
}
