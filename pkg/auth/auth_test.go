package auth

import (
	"errors"
	"net"
	"testing"

	"chatsync/pkg/apperr"

	"github.com/valyala/fasthttp"
)

func TestHMACProvider(t *testing.T) {
	p := NewHMACProvider([]string{"old-key", "new-key"})
	cases := []struct {
		name  string
		token string
		user  string
		ok    bool
	}{
		{"current key", Sign("new-key", "alice"), "alice", true},
		{"rotated key", Sign("old-key", "bob"), "bob", true},
		{"dotted user id", Sign("new-key", "a.b"), "a.b", true},
		{"unknown key", Sign("other", "alice"), "", false},
		{"tampered user", "mallory" + Sign("new-key", "alice")[5:], "", false},
		{"no signature", "alice.", "", false},
		{"empty", "", "", false},
		{"bad user id", Sign("new-key", "a b"), "", false},
	}
	for _, c := range cases {
		user, err := p.Resolve(c.token)
		if (err == nil) != c.ok || user != c.user {
			t.Fatalf("%s: user=%q err=%v", c.name, user, err)
		}
		if err != nil && !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Fatalf("%s: expected unauthenticated, got %v", c.name, err)
		}
	}
	if _, err := NewHMACProvider(nil).Resolve(Sign("k", "alice")); err == nil {
		t.Fatalf("provider without keys must reject")
	}
}

func TestTokenFromRequest(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/v1/ws?token=query-token")
	if got := TokenFromRequest(&ctx); got != "query-token" {
		t.Fatalf("query token = %q", got)
	}
	ctx.Request.Header.Set("Authorization", "Bearer header-token")
	if got := TokenFromRequest(&ctx); got != "header-token" {
		t.Fatalf("header token = %q", got)
	}
}

func TestLimiters(t *testing.T) {
	l := NewLimiters(1, 2)
	defer l.Close()
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("burst should allow two")
	}
	if l.Allow("a") {
		t.Fatalf("third request should be limited")
	}
	if !l.Allow("b") {
		t.Fatalf("keys are independent")
	}
	l.sweep(l.m["a"].lastSeen.Add(l.ttl + 1))
	if l.Len() != 0 {
		t.Fatalf("sweep left %d entries", l.Len())
	}
}

func TestMiddleware(t *testing.T) {
	ids := NewHMACProvider([]string{"k"})
	var seen string
	h := Middleware(SecConfig{Public: []string{"/healthz"}, AllowedOrigins: []string{"https://app.example"}}, ids, NewLimiters(0, 0),
		func(ctx *fasthttp.RequestCtx, err error) { ctx.SetStatusCode(apperr.HTTPStatus(err)) },
	)(func(ctx *fasthttp.RequestCtx) { seen = UserFrom(ctx) })

	run := func(path, token string) *fasthttp.RequestCtx {
		var ctx fasthttp.RequestCtx
		ctx.Init(&fasthttp.Request{}, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil)
		ctx.Request.SetRequestURI(path)
		ctx.Request.Header.Set("Origin", "https://app.example")
		if token != "" {
			ctx.Request.Header.Set("Authorization", "Bearer "+token)
		}
		seen = ""
		h(&ctx)
		return &ctx
	}

	if ctx := run("/v1/conversations", ""); ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("missing token status %d", ctx.Response.StatusCode())
	}
	ctx := run("/v1/conversations", Sign("k", "alice"))
	if seen != "alice" {
		t.Fatalf("user not attached, got %q", seen)
	}
	if string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")) != "https://app.example" {
		t.Fatalf("cors header missing")
	}
	if ctx := run("/healthz", ""); ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("public path status %d", ctx.Response.StatusCode())
	}
}

func TestIPWhitelist(t *testing.T) {
	list := []string{"10.0.0.0/8", "192.168.1.5"}
	for ip, want := range map[string]bool{"10.2.3.4": true, "192.168.1.5": true, "192.168.1.6": false, "junk": false} {
		if got := ipWhitelisted(ip, list); got != want {
			t.Fatalf("%s: got %v", ip, got)
		}
	}
}
