package router

import (
	"testing"

	"github.com/valyala/fasthttp"
)

func serve(r *Router, method, uri string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	r.Handler(&ctx)
	return &ctx
}

func TestRouting(t *testing.T) {
	r := New()
	var got string
	r.GET("/v1/conversations/{id}/messages", func(ctx *fasthttp.RequestCtx) { got = "list:" + Param(ctx, "id") })
	r.POST("/v1/conversations/{id}/messages", func(ctx *fasthttp.RequestCtx) { got = "send:" + Param(ctx, "id") })
	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) { got = "health" })

	cases := []struct {
		method, uri, want string
		status            int
	}{
		{"GET", "/v1/conversations/c1/messages", "list:c1", 200},
		{"POST", "/v1/conversations/c%2E1/messages", "send:c.1", 200},
		{"GET", "/healthz/", "health", 200},
		{"DELETE", "/v1/conversations/c1/messages", "", 405},
		{"GET", "/v1/conversations//messages", "", 404},
		{"GET", "/nope", "", 404},
	}
	for _, c := range cases {
		got = ""
		ctx := serve(r, c.method, c.uri)
		if got != c.want || ctx.Response.StatusCode() != c.status {
			t.Fatalf("%s %s: got %q status %d", c.method, c.uri, got, ctx.Response.StatusCode())
		}
	}
	if allow := string(serve(r, "PUT", "/v1/conversations/c1/messages").Response.Header.Peek("Allow")); allow != "GET, POST" {
		t.Fatalf("allow = %q", allow)
	}
}
