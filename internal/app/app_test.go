package app

import (
	"context"
	"net"
	"testing"
	"time"

	"chatsync/pkg/auth"
	"chatsync/pkg/config"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const signingKey = "app-test-key"

func testConfig(t *testing.T) config.EffectiveConfigResult {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.SigningKeys = []string{signingKey}
	cfg.Retention.Enabled = true
	cfg.Sensor.DiskHighPct = 100
	cfg.Sensor.DiskLowPct = 99
	cfg.ApplyDefaults()
	dir := t.TempDir()
	cfg.Server.DBPath = dir
	return config.EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DBPath: dir, Source: "test"}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	eff := testConfig(t)
	eff.Config.Security.SigningKeys = nil
	if _, err := New(context.Background(), eff, "test"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestServeAndShutdown(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), "test")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	do := func(method, uri, token, body string) int {
		t.Helper()
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		req.Header.SetMethod(method)
		req.SetRequestURI("http://chatsync.test" + uri)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if body != "" {
			req.SetBodyString(body)
		}
		if err := client.DoTimeout(req, resp, 3*time.Second); err != nil {
			t.Fatalf("%s %s: %v", method, uri, err)
		}
		return resp.StatusCode()
	}

	if got := do("GET", "/healthz", "", ""); got != fasthttp.StatusOK {
		t.Fatalf("healthz: %d", got)
	}
	if got := do("GET", "/readyz", "", ""); got != fasthttp.StatusOK {
		t.Fatalf("readyz: %d", got)
	}
	if got := do("GET", "/v1/conversations", "", ""); got != fasthttp.StatusUnauthorized {
		t.Fatalf("unauthenticated list: %d", got)
	}
	token := auth.Sign(signingKey, "alice")
	if got := do("POST", "/v1/conversations", token, `{"kind":"group","title":"ops","participants":["bob"]}`); got != fasthttp.StatusCreated {
		t.Fatalf("create conversation: %d", got)
	}
	if got := do("GET", "/metrics", "", ""); got != fasthttp.StatusOK {
		t.Fatalf("metrics: %d", got)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if a.st.Ready() {
		t.Fatal("store still open after shutdown")
	}
}
