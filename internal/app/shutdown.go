package app

import (
	"context"

	"chatsync/pkg/auth"
	"chatsync/pkg/logger"
)

// Shutdown stops accepting requests, closes live connections, drains the
// notification workers and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutdown_started")
	var firstErr error
	if a.srv != nil {
		if err := a.srv.ShutdownWithContext(ctx); err != nil {
			logger.Error("http_shutdown_failed", "error", err)
			firstErr = err
		}
	}
	if a.hub != nil {
		a.hub.CloseAll()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.sensor != nil {
		a.sensor.Stop()
	}
	for _, l := range []*auth.Limiters{a.limiters, a.frameLimiters} {
		if l != nil {
			l.Close()
		}
	}
	if a.disp != nil {
		a.disp.Close()
	}
	a.closeAll()
	logger.Info("shutdown_complete")
	return firstErr
}
