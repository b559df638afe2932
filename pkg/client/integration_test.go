package client_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"chatsync/internal/app"
	"chatsync/pkg/auth"
	"chatsync/pkg/client"
	"chatsync/pkg/client/cache"
	"chatsync/pkg/config"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const signingKey = "client-test-key"

type server struct {
	ln *fasthttputil.InmemoryListener
}

func startServer(t *testing.T) *server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.SigningKeys = []string{signingKey}
	cfg.Sensor.DiskHighPct = 100
	cfg.Sensor.DiskLowPct = 99
	cfg.ApplyDefaults()
	dir := t.TempDir()
	cfg.Server.DBPath = dir
	a, err := app.New(context.Background(), config.EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DBPath: dir, Source: "test"}, "test")
	require.NoError(t, err)

	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
		sctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Shutdown(sctx)
	})
	return &server{ln: ln}
}

func (s *server) rest(user string) *client.REST {
	r := client.NewREST("http://chatsync.test", auth.Sign(signingKey, user))
	r.Client = &fasthttp.Client{Dial: func(string) (net.Conn, error) { return s.ln.Dial() }}
	return r
}

func (s *server) engine(t *testing.T, user string) *client.Engine {
	t.Helper()
	d := &client.WSDialer{
		URL:   "ws://chatsync.test/v1/ws",
		Token: auth.Sign(signingKey, user),
		NetDial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return s.ln.Dial()
		},
	}
	e, err := client.New(cache.NewMem(), d, s.rest(user), client.Options{UserID: user, ReplayRate: 100})
	require.NoError(t, err)
	return e
}

// run connects e and returns a func that takes it offline again.
func run(t *testing.T, e *client.Engine) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	require.Eventually(t, func() bool { return e.State() == client.StateOnline }, 5*time.Second, 10*time.Millisecond)
	return stop
}

func contents(t *testing.T, e *client.Engine, conv string) []string {
	t.Helper()
	got, err := e.Messages(conv)
	require.NoError(t, err)
	out := make([]string, 0, len(got))
	for _, m := range got {
		if m.Status == cache.Confirmed {
			out = append(out, m.Message.Content)
		}
	}
	return out
}

func TestOfflineChangesReachOtherParticipants(t *testing.T) {
	srv := startServer(t)
	conv, err := srv.rest("alice").CreateConversation(context.Background(), models.KindGroup, "team", []string{"bob", "carol"})
	require.NoError(t, err)

	carol := srv.engine(t, "carol")
	require.NoError(t, carol.Watch(conv.ID))
	run(t, carol)

	// alice works offline first
	alice := srv.engine(t, "alice")
	require.NoError(t, alice.Watch(conv.ID))
	first, err := alice.Send(conv.ID, "one", "")
	require.NoError(t, err)
	_, err = alice.Send(conv.ID, "two", "")
	require.NoError(t, err)
	_, err = alice.Edit(conv.ID, first.TempID, "one (edited)")
	require.NoError(t, err)

	run(t, alice)

	want := []string{"one (edited)", "two"}
	require.Eventually(t, func() bool {
		got := contents(t, carol, conv.ID)
		return len(got) == 2 && got[0] == want[0] && got[1] == want[1]
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		q, err := alice.Pending()
		return err == nil && len(q) == 0
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, want, contents(t, alice, conv.ID))

	id, ok := alice.ResolveTemp(first.TempID)
	require.True(t, ok)
	require.NoError(t, alice.Delete(conv.ID, id))
	require.Eventually(t, func() bool {
		got, err := carol.Messages(conv.ID)
		return err == nil && len(got) == 2 && got[0].Message.Deleted()
	}, 5*time.Second, 20*time.Millisecond)

	cur, err := carol.Cursor(conv.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur.Seq)
}

func TestReconnectPicksUpChangesMadeWhileOffline(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	alice := srv.rest("alice")
	conv, err := alice.CreateConversation(ctx, models.KindGroup, "team", []string{"carol"})
	require.NoError(t, err)
	var one, two models.Message
	require.NoError(t, alice.Do(ctx, "POST", "/v1/conversations/"+conv.ID+"/messages", wire.SendMessage{Content: "one"}, &one))
	require.NoError(t, alice.Do(ctx, "POST", "/v1/conversations/"+conv.ID+"/messages", wire.SendMessage{Content: "two"}, &two))

	carol := srv.engine(t, "carol")
	require.NoError(t, carol.Watch(conv.ID))
	stop := run(t, carol)
	require.Eventually(t, func() bool {
		return len(contents(t, carol, conv.ID)) == 2
	}, 5*time.Second, 20*time.Millisecond)
	stop()

	require.NoError(t, alice.Do(ctx, "DELETE", "/v1/messages/"+one.ID, nil, nil))
	require.NoError(t, alice.Do(ctx, "PUT", "/v1/messages/"+two.ID, wire.EditMessage{Content: "two (edited)"}, nil))

	run(t, carol)
	require.Eventually(t, func() bool {
		got, err := carol.Messages(conv.ID)
		return err == nil && len(got) == 2 &&
			got[0].Message.Deleted() && got[1].Message.Content == "two (edited)"
	}, 5*time.Second, 20*time.Millisecond)
	cur, err := carol.Cursor(conv.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur.Seq)
	require.Equal(t, uint64(4), cur.Rev)
}
