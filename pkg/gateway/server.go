package gateway

import (
	"context"
	"encoding/json"
	"time"

	"chatsync/pkg/apperr"
	"chatsync/pkg/auth"
	"chatsync/pkg/logger"
	"chatsync/pkg/wire"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
	MaxFrameSize int64
	// Codecs in preference order; the client picks one through the
	// websocket subprotocol and gets JSON if it names none.
	Codecs []wire.Codec
	// CheckOrigin defaults to accepting any origin; tokens authenticate.
	CheckOrigin func(ctx *fasthttp.RequestCtx) bool
}

func (o *Options) fill() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 64 << 10
	}
	if len(o.Codecs) == 0 {
		o.Codecs = wire.Codecs
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*fasthttp.RequestCtx) bool { return true }
	}
}

// Server upgrades authenticated HTTP requests to websocket connections and
// runs their read and write pumps.
type Server struct {
	hub      *Hub
	router   *Router
	ids      auth.IdentityProvider
	limiters *auth.Limiters
	opts     Options
	upgrader websocket.FastHTTPUpgrader
	ctx      context.Context
}

// NewServer builds the websocket endpoint. ctx bounds every command the
// server dispatches; cancelling it stops in-flight work on shutdown.
func NewServer(ctx context.Context, hub *Hub, router *Router, ids auth.IdentityProvider, limiters *auth.Limiters, opts Options) *Server {
	opts.fill()
	return &Server{
		hub:      hub,
		router:   router,
		ids:      ids,
		limiters: limiters,
		opts:     opts,
		ctx:      ctx,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    wire.Names(opts.Codecs),
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// Handler authenticates the handshake before upgrading: a bad token is a
// plain 401, never an open socket.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	userID, err := s.ids.Resolve(auth.TokenFromRequest(ctx))
	if err != nil {
		logger.Warn("gateway_auth_failed", "remote", ctx.RemoteAddr().String(), "error", err)
		writeError(ctx, err)
		return
	}
	err = s.upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		s.serve(ws, userID)
	})
	if err != nil {
		logger.Warn("gateway_upgrade_failed", "user", userID, "error", err)
	}
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	ctx.SetStatusCode(apperr.HTTPStatus(err))
	ctx.SetContentType("application/json")
	b, _ := json.Marshal(map[string]string{"error": apperr.Message(err), "code": apperr.Code(err)})
	ctx.SetBody(b)
}

func (s *Server) serve(ws *websocket.Conn, userID string) {
	codec := wire.JSON
	if c, ok := wire.Lookup(ws.Subprotocol()); ok {
		codec = c
	}
	c := newConn(uuid.NewString(), userID, codec, s.opts.SendBuffer)
	c.reply(wire.EvtHello, "", s.hub.now(), wire.Hello{UserID: userID, ConnID: c.ID, ServerTime: s.hub.now()})
	s.hub.Register(c)
	logger.Info("gateway_conn_opened", "conn", c.ID, "user", userID, "codec", codec.Name())

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writePump(ws, c)
	}()
	s.readPump(ws, c)

	s.hub.Unregister(c)
	<-written
	logger.Info("gateway_conn_closed", "conn", c.ID, "user", userID)
}

func (s *Server) readPump(ws *websocket.Conn, c *Conn) {
	pongWait := s.opts.PingInterval * 2
	ws.SetReadLimit(s.opts.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.closed() {
				logger.Debug("gateway_read_failed", "conn", c.ID, "error", err)
			}
			c.Close()
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if s.limiters != nil && !s.limiters.Allow("ws:"+c.UserID) {
			h, _ := wire.DecodeHeader(c.codec, data)
			c.reply(wire.EvtError, h.Ref, s.hub.now(), wire.ErrorBody{Code: "rate_limited", Message: "rate limit exceeded"})
			continue
		}
		s.router.Handle(s.ctx, c, data)
	}
}

func (s *Server) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	for {
		select {
		case b := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := ws.WriteMessage(msgType, b); err != nil {
				logger.Debug("gateway_write_failed", "conn", c.ID, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
