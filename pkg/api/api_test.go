package api

import (
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"chatsync/pkg/api/router"
	"chatsync/pkg/auth"
	"chatsync/pkg/broker"
	"chatsync/pkg/clock"
	"chatsync/pkg/coordinator"
	"chatsync/pkg/events"
	"chatsync/pkg/gateway"
	"chatsync/pkg/keylock"
	"chatsync/pkg/models"
	"chatsync/pkg/store"

	"github.com/valyala/fasthttp"
)

const testKey = "api-test-key"

type env struct {
	h     fasthttp.RequestHandler
	ready error
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.OpenMem()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clk := clock.Real()
	locks := keylock.New()
	hub := gateway.NewHub(clk, time.Second)
	disp := events.New(hub, nil, clk, events.Options{})
	coord := coordinator.New(st, locks, disp, nil, clk, coordinator.Options{})
	br := broker.New(st, locks, coord, disp, clk, broker.Options{})
	br.SetRooms(hub)
	t.Cleanup(func() {
		disp.Close()
		_ = st.Close()
	})

	e := &env{}
	e.h = Handler(Deps{
		Coord:  coord,
		Broker: br,
		Ready:  func() error { return e.ready },
	}, auth.SecConfig{}, auth.NewHMACProvider([]string{testKey}), nil)
	return e
}

type result struct {
	status int
	body   []byte
}

func (e *env) do(t *testing.T, user, method, uri string, body any) result {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Sign(testKey, user))
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		req.SetBody(b)
		req.Header.SetContentType("application/json")
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}, nil)
	e.h(&ctx)
	return result{status: ctx.Response.StatusCode(), body: append([]byte(nil), ctx.Response.Body()...)}
}

func decode[T any](t *testing.T, r result) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(r.body, &v); err != nil {
		t.Fatalf("decode %q: %v", r.body, err)
	}
	return v
}

func (e *env) group(t *testing.T, owner string, members ...string) models.Conversation {
	t.Helper()
	r := e.do(t, owner, "POST", "/v1/conversations", coordinator.CreateConversation{
		Kind: models.KindGroup, Title: "team", Participants: members,
	})
	if r.status != fasthttp.StatusCreated {
		t.Fatalf("create conversation: %d %s", r.status, r.body)
	}
	return decode[models.Conversation](t, r)
}

func TestProbes(t *testing.T) {
	e := newEnv(t)
	if r := e.do(t, "", "GET", "/healthz", nil); r.status != fasthttp.StatusOK {
		t.Fatalf("healthz status %d", r.status)
	}
	if r := e.do(t, "", "GET", "/readyz", nil); r.status != fasthttp.StatusOK {
		t.Fatalf("readyz status %d", r.status)
	}
	e.ready = errors.New("disk full")
	r := e.do(t, "", "GET", "/readyz", nil)
	if r.status != fasthttp.StatusServiceUnavailable || !strings.Contains(string(r.body), "disk full") {
		t.Fatalf("readyz degraded: %d %s", r.status, r.body)
	}
	if r := e.do(t, "", "GET", "/metrics", nil); r.status != fasthttp.StatusOK {
		t.Fatalf("metrics status %d", r.status)
	}
}

func TestRequiresToken(t *testing.T) {
	e := newEnv(t)
	r := e.do(t, "", "GET", "/v1/conversations", nil)
	if r.status != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", r.status)
	}
	body := decode[map[string]string](t, r)
	if body["code"] != "unauthenticated" {
		t.Fatalf("unexpected code %q", body["code"])
	}
}

func TestMessagesFlow(t *testing.T) {
	e := newEnv(t)
	conv := e.group(t, "alice", "bob")

	send := func(user, content, temp string) result {
		return e.do(t, user, "POST", "/v1/conversations/"+conv.ID+"/messages",
			map[string]string{"content": content, "client_temp_id": temp})
	}
	r := send("alice", "hello", "t1")
	if r.status != fasthttp.StatusCreated {
		t.Fatalf("send: %d %s", r.status, r.body)
	}
	first := decode[models.Message](t, r)
	if first.Seq != 1 || first.ClientTempID != "t1" {
		t.Fatalf("unexpected message %+v", first)
	}

	// a retried send with the same temp id returns the original
	r = send("alice", "hello", "t1")
	if r.status != fasthttp.StatusOK || decode[models.Message](t, r).ID != first.ID {
		t.Fatalf("retry: %d %s", r.status, r.body)
	}
	send("bob", "hi", "t2")
	send("alice", "how are you", "t3")

	if r := send("mallory", "let me in", ""); r.status != fasthttp.StatusForbidden {
		t.Fatalf("outsider send: %d", r.status)
	}

	page := decode[models.MessagePage](t, e.do(t, "bob", "GET", "/v1/conversations/"+conv.ID+"/messages?after_seq=1", nil))
	if len(page.Messages) != 2 || page.Messages[0].Seq != 2 || page.LastSeq != 3 {
		t.Fatalf("delta: %+v", page)
	}

	r = e.do(t, "bob", "GET", "/v1/conversations/"+conv.ID+"/messages?after_seq=x", nil)
	if r.status != fasthttp.StatusBadRequest {
		t.Fatalf("bad after_seq: %d", r.status)
	}

	r = e.do(t, "bob", "PUT", "/v1/messages/"+first.ID, map[string]string{"content": "edited"})
	if r.status != fasthttp.StatusForbidden {
		t.Fatalf("edit by non-sender: %d", r.status)
	}
	r = e.do(t, "alice", "PUT", "/v1/messages/"+first.ID, map[string]string{"content": "edited"})
	if r.status != fasthttp.StatusOK || decode[models.Message](t, r).EditedTS == 0 {
		t.Fatalf("edit: %d %s", r.status, r.body)
	}

	changes := decode[models.MessagePage](t, e.do(t, "bob", "GET", "/v1/conversations/"+conv.ID+"/messages?after_rev=3", nil))
	if len(changes.Messages) != 1 || changes.Messages[0].Content != "edited" || changes.Rev != 4 {
		t.Fatalf("changes since rev 3: %+v", changes)
	}
	r = e.do(t, "bob", "GET", "/v1/conversations/"+conv.ID+"/messages?after_rev=3&after_seq=1", nil)
	if r.status != fasthttp.StatusBadRequest {
		t.Fatalf("after_rev with after_seq: %d", r.status)
	}

	r = e.do(t, "bob", "POST", "/v1/conversations/"+conv.ID+"/read", map[string][]string{"message_ids": {first.ID}})
	if r.status != fasthttp.StatusOK {
		t.Fatalf("mark read: %d %s", r.status, r.body)
	}
	r = e.do(t, "alice", "GET", "/v1/messages/"+first.ID+"/receipts", nil)
	if r.status != fasthttp.StatusOK || !strings.Contains(string(r.body), "bob") {
		t.Fatalf("receipts: %d %s", r.status, r.body)
	}

	for i := 0; i < 2; i++ {
		if r := e.do(t, "alice", "DELETE", "/v1/messages/"+first.ID, nil); r.status != fasthttp.StatusNoContent {
			t.Fatalf("delete #%d: %d %s", i, r.status, r.body)
		}
	}
	if r := e.do(t, "alice", "DELETE", "/v1/messages/missing", nil); r.status != fasthttp.StatusNoContent {
		t.Fatalf("delete missing: %d", r.status)
	}
}

func TestConversationAdmin(t *testing.T) {
	e := newEnv(t)
	conv := e.group(t, "alice", "bob")
	base := "/v1/conversations/" + conv.ID

	r := e.do(t, "bob", "POST", base+"/participants", map[string]string{"user_id": "carol"})
	if r.status != fasthttp.StatusForbidden {
		t.Fatalf("non-moderator add: %d", r.status)
	}
	r = e.do(t, "alice", "POST", base+"/participants", map[string]string{"user_id": "carol"})
	if r.status != fasthttp.StatusOK || len(decode[models.Conversation](t, r).Participants) != 3 {
		t.Fatalf("add participant: %d %s", r.status, r.body)
	}

	list := decode[map[string][]string](t, e.do(t, "carol", "GET", "/v1/conversations", nil))
	if len(list["conversations"]) != 1 || list["conversations"][0] != conv.ID {
		t.Fatalf("carol conversations: %v", list)
	}

	if r := e.do(t, "alice", "PUT", base+"/bans/carol", nil); r.status != fasthttp.StatusNoContent {
		t.Fatalf("ban: %d %s", r.status, r.body)
	}
	r = e.do(t, "carol", "POST", base+"/messages", map[string]string{"content": "hi"})
	if r.status == fasthttp.StatusCreated {
		t.Fatalf("banned user sent a message")
	}

	r = e.do(t, "alice", "PUT", base+"/settings", models.ConversationSettings{ApprovalRequired: true, MaxParticipants: 10})
	if r.status != fasthttp.StatusOK || !decode[models.Conversation](t, r).Settings.ApprovalRequired {
		t.Fatalf("settings: %d %s", r.status, r.body)
	}

	if r := e.do(t, "alice", "POST", base+"/participants", nil); r.status != fasthttp.StatusBadRequest {
		t.Fatalf("missing body: %d", r.status)
	}
	if r := e.do(t, "alice", "DELETE", base, nil); r.status != fasthttp.StatusNoContent {
		t.Fatalf("delete conversation: %d %s", r.status, r.body)
	}
	if r := e.do(t, "alice", "GET", base, nil); r.status != fasthttp.StatusNotFound {
		t.Fatalf("get deleted: %d", r.status)
	}
}

func TestSessionsFlow(t *testing.T) {
	e := newEnv(t)
	r := e.do(t, "host", "POST", "/v1/sessions", map[string]any{"title": "ama", "capacity": 5, "require_approval": true})
	if r.status != fasthttp.StatusCreated {
		t.Fatalf("create session: %d %s", r.status, r.body)
	}
	ls := decode[models.LiveSession](t, r)

	if r := e.do(t, "host", "POST", "/v1/sessions/"+ls.ID+"/start", nil); r.status != fasthttp.StatusOK {
		t.Fatalf("start: %d %s", r.status, r.body)
	}
	r = e.do(t, "viewer", "POST", "/v1/sessions/"+ls.ID+"/requests", nil)
	if r.status != fasthttp.StatusOK {
		t.Fatalf("request join: %d %s", r.status, r.body)
	}
	jr := decode[models.JoinRequest](t, r)

	if r := e.do(t, "viewer", "GET", "/v1/sessions/"+ls.ID+"/requests", nil); r.status != fasthttp.StatusForbidden {
		t.Fatalf("viewer listing requests: %d", r.status)
	}
	pending := decode[map[string][]models.JoinRequest](t, e.do(t, "host", "GET", "/v1/sessions/"+ls.ID+"/requests", nil))
	if len(pending["requests"]) != 1 {
		t.Fatalf("pending: %+v", pending)
	}

	r = e.do(t, "host", "POST", "/v1/requests/"+jr.ID+"/approve", nil)
	if r.status != fasthttp.StatusOK || decode[models.JoinRequest](t, r).Status != models.JoinApproved {
		t.Fatalf("approve: %d %s", r.status, r.body)
	}
	if r := e.do(t, "host", "POST", "/v1/requests/"+jr.ID+"/reject", nil); r.status != fasthttp.StatusConflict {
		t.Fatalf("reject after approve: %d %s", r.status, r.body)
	}

	r = e.do(t, "host", "POST", "/v1/sessions/"+ls.ID+"/end", nil)
	if r.status != fasthttp.StatusOK {
		t.Fatalf("end: %d %s", r.status, r.body)
	}
	if got := decode[models.LiveSession](t, e.do(t, "viewer", "GET", "/v1/sessions/"+ls.ID, nil)); got.Status != models.SessionEnded {
		t.Fatalf("status after end: %v", got.Status)
	}
}

func TestRouterAttachesNotFound(t *testing.T) {
	r := router.New()
	RegisterRoutes(r, Deps{})
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/nope")
	ctx.Request.Header.SetMethod("GET")
	r.Handler(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
}
