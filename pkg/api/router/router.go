// Package router is a small fasthttp path router. Patterns use {name}
// segments; matched values are exposed through Param.
package router

import (
	"net/url"
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

type Router struct {
	routes   []*route
	notFound fasthttp.RequestHandler
}

type route struct {
	segments []segment
	methods  map[string]fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

type paramKey string

func New() *Router {
	return &Router{}
}

// Param returns the unescaped value of a {name} path segment.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(paramKey(name)).(string)
	return v
}

// Handler dispatches by path, then method. A known path with an unknown
// method answers 405 with an Allow header.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())
	for _, rt := range r.routes {
		values, ok := match(path, rt.segments)
		if !ok {
			continue
		}
		h, ok := rt.methods[method]
		if !ok {
			ctx.Response.Header.Set("Allow", rt.allow())
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		for k, v := range values {
			ctx.SetUserValue(paramKey(k), v)
		}
		h(ctx)
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.add(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodPut, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodDelete, path, h) }

func (r *Router) NotFound(h fasthttp.RequestHandler) { r.notFound = h }

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	segs := parse(path)
	for _, rt := range r.routes {
		if sameShape(rt.segments, segs) {
			rt.methods[method] = h
			return
		}
	}
	r.routes = append(r.routes, &route{segments: segs, methods: map[string]fasthttp.RequestHandler{method: h}})
}

func (rt *route) allow() string {
	out := make([]string, 0, len(rt.methods))
	for m := range rt.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func parse(path string) []segment {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if len(part) > 2 && strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func sameShape(a, b []segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].isParam != b[i].isParam || (!a[i].isParam && a[i].name != b[i].name) {
			return false
		}
	}
	return true
}

func match(path string, segs []segment) (map[string]string, bool) {
	path = strings.Trim(path, "/")
	var parts []string
	if path != "" {
		parts = strings.Split(path, "/")
	}
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			v, err := url.PathUnescape(parts[i])
			if err != nil || v == "" {
				return nil, false
			}
			values[seg.name] = v
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
