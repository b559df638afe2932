// Package retention purges live sessions that ended long ago, together with
// their join requests and chat history, and expires the send idempotency
// index. Runs are scheduled with a cron expression.
package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/pkg/clock"
	"chatsync/pkg/keylock"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"

	"github.com/adhocore/gronx"
)

var ErrRunning = errors.New("retention run already in progress")

type Options struct {
	Cron string
	// Period is how long an ended session is kept.
	Period time.Duration
	// TempTTL is how long a client temp id stays deduplicated.
	TempTTL   time.Duration
	BatchSize int
	DryRun    bool
	// ReportPath receives the JSON report of the last run; empty disables it.
	ReportPath string
	TmpDir     string
}

const (
	DefaultCron      = "0 3 * * *"
	DefaultPeriod    = 7 * 24 * time.Hour
	DefaultTempTTL   = 24 * time.Hour
	DefaultBatchSize = 1000
)

func (o *Options) fill() {
	if o.Cron == "" {
		o.Cron = DefaultCron
	}
	if o.Period <= 0 {
		o.Period = DefaultPeriod
	}
	if o.TempTTL <= 0 {
		o.TempTTL = DefaultTempTTL
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
}

type Manager struct {
	st    *store.Store
	locks *keylock.Locker
	clock clock.Clock
	opts  Options

	mu      sync.Mutex
	running bool
	last    *Report
}

func New(st *store.Store, locks *keylock.Locker, clk clock.Clock, opts Options) *Manager {
	opts.fill()
	return &Manager{st: st, locks: locks, clock: clk, opts: opts}
}

// Start runs the schedule loop until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if !gronx.IsValid(m.opts.Cron) {
		return errors.New("invalid retention cron expression: " + m.opts.Cron)
	}
	logger.Info("retention_enabled", "cron", m.opts.Cron, "period", m.opts.Period.String(), "dry_run", m.opts.DryRun)
	go m.scheduleLoop(ctx)
	return nil
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		now := m.clock.Now()
		next, err := gronx.NextTickAfter(m.opts.Cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.opts.Cron, "error", err)
			select {
			case <-m.clock.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-m.clock.After(next.Sub(now)):
			if _, err := m.RunNow(ctx); err != nil && !errors.Is(err, ErrRunning) {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one run unless another is in progress.
func (m *Manager) RunNow(ctx context.Context) (*Report, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	rep, err := m.runOnce(ctx)
	if rep != nil {
		m.mu.Lock()
		m.last = rep
		m.mu.Unlock()
	}
	return rep, err
}

// Last returns the report of the most recent run, if any.
func (m *Manager) Last() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
