// Package app assembles the server from an effective config and owns its
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"chatsync/internal/retention"
	"chatsync/pkg/auth"
	"chatsync/pkg/broker"
	"chatsync/pkg/clock"
	"chatsync/pkg/config"
	"chatsync/pkg/coordinator"
	"chatsync/pkg/events"
	"chatsync/pkg/gateway"
	"chatsync/pkg/keylock"
	"chatsync/pkg/logger"
	"chatsync/pkg/moderation"
	"chatsync/pkg/notify"
	"chatsync/pkg/presence"
	"chatsync/pkg/sensor"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"
)

// App groups server state and components.
type App struct {
	eff     config.EffectiveConfigResult
	version string
	paths   state.Paths
	clock   clock.Clock

	st       *store.Store
	locks    *keylock.Locker
	hub      *gateway.Hub
	disp     *events.Dispatcher
	coord    *coordinator.Coordinator
	broker   *broker.Broker
	typing   *presence.Tracker
	limiters *auth.Limiters
	ids      auth.IdentityProvider
	sensor   *sensor.Sensor
	sweeper  *retention.Manager

	// frameLimiters pace inbound websocket frames per user.
	frameLimiters *auth.Limiters

	// closers release external drivers (redis, postgres) on shutdown.
	closers []io.Closer

	srv    *fasthttp.Server
	cancel context.CancelFunc
}

// New opens the store and connects the configured drivers. Nothing is
// served until Run.
func New(ctx context.Context, eff config.EffectiveConfigResult, version string) (*App, error) {
	if err := config.ValidateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config
	a := &App{eff: eff, version: version, paths: state.PathsFor(eff.DBPath), clock: clock.Real()}
	if err := state.EnsureStateDirs(a.paths); err != nil {
		return nil, fmt.Errorf("state dirs under %s: %w", a.paths.DB, err)
	}

	telemetry.SlowThreshold = cfg.Telemetry.SlowThreshold.Duration()

	st, err := store.Open(a.paths.Store, store.Options{
		SyncWrites:   *cfg.Store.SyncWrites,
		WriteRetries: cfg.Store.WriteRetries,
		RetryBackoff: cfg.Store.RetryBackoff.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", a.paths.Store, err)
	}
	a.st = st

	notifier, err := a.openNotifier(ctx, cfg.Notify)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	mod, err := a.openModeration(ctx, cfg.Moderation)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	a.locks = keylock.New()
	a.hub = gateway.NewHub(a.clock, cfg.Gateway.DisconnectGrace.Duration())
	a.disp = events.New(a.hub, notifier, a.clock, events.Options{
		Workers:       cfg.Notify.Workers,
		QueueSize:     cfg.Notify.QueueSize,
		NotifyTimeout: cfg.Notify.Timeout.Duration(),
	})
	a.coord = coordinator.New(st, a.locks, a.disp, mod, a.clock, coordinator.Options{
		MaxContentSize: int(cfg.Messages.MaxContentSize.Int64()),
		ReceiptsLimit:  cfg.Messages.ReceiptsLimit,
		HistoryLimit:   cfg.Messages.HistoryLimit,
	})
	a.broker = broker.New(st, a.locks, a.coord, a.disp, a.clock, broker.Options{
		DefaultCapacity: cfg.Sessions.DefaultCapacity,
		MaxCapacity:     cfg.Sessions.MaxCapacity,
	})
	a.broker.SetRooms(a.hub)
	a.coord.SetRooms(a.hub)
	a.typing = presence.NewTracker(a.disp, a.clock, cfg.Presence.TypingTTL.Duration())
	a.hub.OnUserGone(func(userID string) {
		a.typing.ClearUser(userID)
		a.broker.OnUserGone(context.Background(), userID)
	})

	a.ids = auth.NewHMACProvider(cfg.Security.SigningKeys)
	a.limiters = auth.NewLimiters(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst)
	a.sensor = sensor.NewSensor(sensor.MonitorConfig{
		Path:         a.paths.Store,
		PollInterval: cfg.Sensor.PollInterval.Duration(),
		DiskHighPct:  cfg.Sensor.DiskHighPct,
		DiskLowPct:   cfg.Sensor.DiskLowPct,
	})
	if cfg.Retention.Enabled {
		a.sweeper = retention.New(st, a.locks, a.clock, retention.Options{
			Cron:       cfg.Retention.Cron,
			Period:     cfg.Retention.Period.Duration(),
			TempTTL:    cfg.Messages.IdempotencyTTL.Duration(),
			BatchSize:  cfg.Retention.BatchSize,
			DryRun:     cfg.Retention.DryRun,
			ReportPath: filepath.Join(a.paths.Retention, "last_run.json"),
			TmpDir:     a.paths.Tmp,
		})
	}

	logger.LogConfigSummary("config_limits_summary", []string{
		fmt.Sprintf("max_content_size: %s", humanize.IBytes(uint64(cfg.Messages.MaxContentSize.Int64()))),
		fmt.Sprintf("max_frame_size: %s", humanize.IBytes(uint64(cfg.Gateway.MaxFrameSize.Int64()))),
		fmt.Sprintf("send_buffer: %s frames", humanize.Comma(int64(cfg.Gateway.SendBuffer))),
		fmt.Sprintf("disconnect_grace: %s", cfg.Gateway.DisconnectGrace.Duration()),
		fmt.Sprintf("session_capacity: %d default, %d max", cfg.Sessions.DefaultCapacity, cfg.Sessions.MaxCapacity),
		fmt.Sprintf("notify_driver: %s", cfg.Notify.Driver),
		fmt.Sprintf("moderation_driver: %s", cfg.Moderation.Driver),
	})
	return a, nil
}

func (a *App) openNotifier(ctx context.Context, cfg config.NotifyConfig) (notify.Dispatcher, error) {
	switch cfg.Driver {
	case "webhook":
		return notify.NewWebhook(cfg.WebhookURL, cfg.Timeout.Duration()), nil
	case "redis":
		client, err := notify.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		q := notify.NewRedisQueue(client, cfg.RedisQueue)
		a.closers = append(a.closers, q)
		return q, nil
	default:
		return notify.Log{}, nil
	}
}

func (a *App) openModeration(ctx context.Context, cfg config.ModerationConfig) (moderation.Service, error) {
	if cfg.Driver == "postgres" {
		pg, err := moderation.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg)
		return pg, nil
	}
	return moderation.NewStore(a.st), nil
}

// ready gates /readyz: the store must be open and the disk below its high
// mark.
func (a *App) ready() error {
	if !a.st.Ready() {
		return errors.New("store closed")
	}
	if !a.sensor.Healthy() {
		return fmt.Errorf("disk usage %.1f%% above threshold", a.sensor.LastUsedPercent())
	}
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warn("driver_close_failed", "error", err)
		}
	}
	a.closers = nil
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
	}
}

func codecsFor(names []string) []wire.Codec {
	var out []wire.Codec
	for _, n := range names {
		if c, ok := wire.Lookup(n); ok {
			out = append(out, c)
		}
	}
	return out
}
