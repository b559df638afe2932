// Package auth authenticates REST and websocket callers and rate limits
// them.
package auth

import (
	"net"
	"strings"

	"chatsync/pkg/apperr"
	"chatsync/pkg/logger"

	"github.com/valyala/fasthttp"
)

type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	// Public paths skip authentication (probes, metrics).
	Public []string
}

type errorWriter func(ctx *fasthttp.RequestCtx, err error)

// Middleware applies CORS, the IP whitelist, token authentication and the
// per-user rate limit, in that order.
func Middleware(cfg SecConfig, ids IdentityProvider, limiters *Limiters, writeErr errorWriter) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			logger.LogRequestFast(ctx)

			origin := string(ctx.Request.Header.Peek("Origin"))
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
				ctx.Response.Header.Set("Vary", "Origin")
				ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				ctx.Response.Header.Set("Access-Control-Max-Age", "600")
				ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if string(ctx.Method()) == fasthttp.MethodOptions {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}

			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(ctx)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", string(ctx.Path()))
					writeErr(ctx, apperr.Forbidden("auth.ip_whitelist", "forbidden"))
					return
				}
			}

			path := string(ctx.Path())
			for _, p := range cfg.Public {
				if path == p {
					next(ctx)
					return
				}
			}

			userID, err := ids.Resolve(TokenFromRequest(ctx))
			if err != nil {
				logger.Warn("request_unauthenticated", "path", path, "remote", ctx.RemoteAddr().String())
				writeErr(ctx, err)
				return
			}
			if limiters != nil && !limiters.Allow(userID) {
				logger.Warn("rate_limited", "user", userID, "path", path)
				ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"error":"rate limit exceeded","code":"rate_limited"}`)
				return
			}
			WithUser(ctx, userID)
			next(ctx)
		}
	}
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// ipWhitelisted accepts exact addresses and CIDR ranges.
func ipWhitelisted(ip string, list []string) bool {
	parsed := net.ParseIP(ip)
	for _, entry := range list {
		if entry == ip {
			return true
		}
		if _, n, err := net.ParseCIDR(entry); err == nil && parsed != nil && n.Contains(parsed) {
			return true
		}
	}
	return false
}
