// Package sensor watches disk usage on the volume holding the store. It
// feeds the disk gauge and gates readiness with hysteresis: the alert is
// raised above the high mark and cleared only below the low mark.
package sensor

import (
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"

	"golang.org/x/sys/unix"
)

type MonitorConfig struct {
	Path         string
	PollInterval time.Duration
	DiskHighPct  int
	DiskLowPct   int
}

// UsageFunc returns the used percentage of the volume holding path.
type UsageFunc func(path string) (float64, error)

type Sensor struct {
	config   MonitorConfig
	usage    UsageFunc
	stopCh   chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	diskAlert bool
	lastPct   float64
}

func NewSensor(config MonitorConfig) *Sensor {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	return &Sensor{config: config, usage: DiskUsedPercent, stopCh: make(chan struct{})}
}

// DiskUsedPercent reads filesystem statistics with statfs.
func DiskUsedPercent(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	available := stat.Bavail * uint64(stat.Bsize)
	return float64(total-available) / float64(total) * 100, nil
}

func (s *Sensor) Start() {
	s.Check()
	go s.run()
}

func (s *Sensor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Sensor) run() {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check()
		case <-s.stopCh:
			return
		}
	}
}

// Check samples disk usage once.
func (s *Sensor) Check() {
	pct, err := s.usage(s.config.Path)
	if err != nil {
		logger.Warn("sensor_disk_stat_failed", "path", s.config.Path, "error", err)
		return
	}
	telemetry.DiskUsedPercent.Set(pct)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPct = pct
	switch {
	case !s.diskAlert && pct > float64(s.config.DiskHighPct):
		s.diskAlert = true
		logger.Warn("disk_usage_high", "used_pct", pct, "threshold", s.config.DiskHighPct)
	case s.diskAlert && pct < float64(s.config.DiskLowPct):
		s.diskAlert = false
		logger.Info("disk_usage_recovered", "used_pct", pct, "threshold", s.config.DiskLowPct)
	}
}

// Healthy is false while the disk alert is raised.
func (s *Sensor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.diskAlert
}

func (s *Sensor) LastUsedPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPct
}
