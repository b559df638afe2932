// Package api serves the REST surface: history and gap-fill reads,
// conversation administration, receipts and live sessions. Live delivery
// happens over the gateway socket mounted at /v1/ws.
package api

import (
	"chatsync/pkg/api/router"
	"chatsync/pkg/auth"
	"chatsync/pkg/broker"
	"chatsync/pkg/coordinator"
	"chatsync/pkg/telemetry"

	"github.com/valyala/fasthttp"
)

const WSPath = "/v1/ws"

type Deps struct {
	Coord   *coordinator.Coordinator
	Broker  *broker.Broker
	Gateway fasthttp.RequestHandler
	// Ready reports nil once the service can take traffic.
	Ready       func() error
	MetricsPath string
}

type handlers struct {
	coord  *coordinator.Coordinator
	broker *broker.Broker
	ready  func() error
}

// PublicPaths skip token authentication in the middleware. The websocket
// endpoint authenticates its own handshake.
func PublicPaths(metricsPath string) []string {
	return []string{"/healthz", "/readyz", metricsPath, WSPath}
}

// RegisterRoutes wires all API routes onto r.
func RegisterRoutes(r *router.Router, d Deps) {
	h := &handlers{coord: d.Coord, broker: d.Broker, ready: d.Ready}
	metrics := d.MetricsPath
	if metrics == "" {
		metrics = "/metrics"
	}

	r.GET("/healthz", h.health)
	r.GET("/readyz", h.readiness)
	r.GET(metrics, telemetry.Handler())
	if d.Gateway != nil {
		r.GET(WSPath, d.Gateway)
	}

	// conversations
	r.POST("/v1/conversations", h.createConversation)
	r.GET("/v1/conversations", h.listConversations)
	r.GET("/v1/conversations/{id}", h.getConversation)
	r.DELETE("/v1/conversations/{id}", h.deleteConversation)
	r.POST("/v1/conversations/{id}/participants", h.addParticipant)
	r.DELETE("/v1/conversations/{id}/participants/{user}", h.removeParticipant)
	r.POST("/v1/conversations/{id}/moderators", h.promoteModerator)
	r.PUT("/v1/conversations/{id}/settings", h.updateSettings)
	r.PUT("/v1/conversations/{id}/bans/{user}", h.ban(true))
	r.DELETE("/v1/conversations/{id}/bans/{user}", h.ban(false))
	r.PUT("/v1/blocks/{user}", h.block(true))
	r.DELETE("/v1/blocks/{user}", h.block(false))

	// messages
	r.GET("/v1/conversations/{id}/messages", h.history)
	r.POST("/v1/conversations/{id}/messages", h.sendMessage)
	r.POST("/v1/conversations/{id}/read", h.markReadBatch)
	r.PUT("/v1/messages/{id}", h.editMessage)
	r.DELETE("/v1/messages/{id}", h.deleteMessage)
	r.GET("/v1/messages/{id}/receipts", h.receipts)

	// live sessions
	r.POST("/v1/sessions", h.createSession)
	r.GET("/v1/sessions/{id}", h.getSession)
	r.POST("/v1/sessions/{id}/start", h.startSession)
	r.POST("/v1/sessions/{id}/end", h.endSession)
	r.GET("/v1/sessions/{id}/requests", h.pendingRequests)
	r.POST("/v1/sessions/{id}/requests", h.requestJoin)
	r.POST("/v1/requests/{id}/approve", h.approveRequest)
	r.POST("/v1/requests/{id}/reject", h.rejectRequest)

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		WriteJSON(ctx, fasthttp.StatusNotFound, map[string]string{"error": "not found", "code": "not_found"})
	})
}

// Handler builds the full HTTP handler: routes behind the security
// middleware.
func Handler(d Deps, sec auth.SecConfig, ids auth.IdentityProvider, limiters *auth.Limiters) fasthttp.RequestHandler {
	r := router.New()
	RegisterRoutes(r, d)
	if sec.Public == nil {
		sec.Public = PublicPaths(d.MetricsPath)
	}
	return auth.Middleware(sec, ids, limiters, WriteError)(r.Handler)
}

func (h *handlers) health(ctx *fasthttp.RequestCtx) {
	WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) readiness(ctx *fasthttp.RequestCtx) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": err.Error()})
			return
		}
	}
	WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}
