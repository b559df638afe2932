package app

import (
	"context"
	"net"
	"os"
	"time"

	"chatsync/pkg/api"
	"chatsync/pkg/auth"
	"chatsync/pkg/config/banner"
	"chatsync/pkg/gateway"
	"chatsync/pkg/logger"

	"github.com/valyala/fasthttp"
)

const (
	readBufferSize       = 64 * 1024
	maxRequestBodySize   = 1 << 20
	readTimeout          = 10 * time.Second
	writeTimeout         = 10 * time.Second
	idleTimeout          = 60 * time.Second
	maxKeepaliveDuration = 5 * time.Minute
)

// Handler builds the full request handler: REST routes, probes, metrics and
// the websocket endpoint behind the security middleware.
func (a *App) Handler(ctx context.Context) fasthttp.RequestHandler {
	cfg := a.eff.Config
	if a.frameLimiters == nil {
		a.frameLimiters = auth.NewLimiters(cfg.Gateway.FrameRPS, cfg.Gateway.FrameBurst)
	}
	gw := gateway.NewServer(ctx, a.hub, gateway.NewRouter(a.hub, a.coord, a.broker, a.typing), a.ids,
		a.frameLimiters,
		gateway.Options{
			WriteTimeout: cfg.Gateway.WriteTimeout.Duration(),
			PingInterval: cfg.Gateway.PingInterval.Duration(),
			SendBuffer:   cfg.Gateway.SendBuffer,
			MaxFrameSize: cfg.Gateway.MaxFrameSize.Int64(),
			Codecs:       codecsFor(cfg.Gateway.Codecs),
		})
	sec := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Security.IPWhitelist...),
	}
	return api.Handler(api.Deps{
		Coord:       a.coord,
		Broker:      a.broker,
		Gateway:     gw.Handler,
		Ready:       a.ready,
		MetricsPath: cfg.Telemetry.MetricsPath,
	}, sec, a.ids, a.limiters)
}

// Run starts background workers and serves on the configured address until
// ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.eff.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	banner.Print(os.Stdout, a.eff, a.version)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.sensor.Start()
	if a.sweeper != nil {
		if err := a.sweeper.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	a.srv = &fasthttp.Server{
		Handler:               a.Handler(runCtx),
		Name:                  "chatsync",
		ReadBufferSize:        readBufferSize,
		MaxRequestBodySize:    maxRequestBodySize,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           idleTimeout,
		MaxKeepaliveDuration:  maxKeepaliveDuration,
		NoDefaultServerHeader: true,
	}

	tls := a.eff.Config.Server.TLS
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", ln.Addr().String(), "tls", tls.CertFile != "")
		if tls.CertFile != "" {
			errCh <- a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.srv.Serve(ln)
	}()

	select {
	case <-runCtx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
