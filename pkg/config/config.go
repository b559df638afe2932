package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort = 8080

	defaultRateRPS   = 100
	defaultRateBurst = 200

	defaultDisconnectGrace = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultPingInterval    = 30 * time.Second
	defaultSendBuffer      = 256
	defaultMaxFrameSize    = 64 * 1024
	defaultFrameRPS        = 20
	defaultFrameBurst      = 40

	defaultMaxContentSize = 16 * 1024
	defaultIdempotencyTTL = 24 * time.Hour
	defaultReceiptsLimit  = 50
	defaultHistoryLimit   = 50

	defaultSessionCapacity = 50
	defaultSessionMax      = 1000

	defaultTypingTTL = 5 * time.Second

	defaultWriteRetries = 3
	defaultRetryBackoff = 20 * time.Millisecond

	defaultRetentionCron   = "0 3 * * *" // daily at 03:00
	defaultRetentionPeriod = 7 * 24 * time.Hour
	defaultRetentionBatch  = 500

	defaultNotifyTimeout = 5 * time.Second
	defaultNotifyWorkers = 4
	defaultNotifyQueue   = 1024
	defaultRedisQueue    = "chatsync:notifications"

	defaultMetricsPath   = "/metrics"
	defaultSlowThreshold = 200 * time.Millisecond

	defaultSensorPollInterval = 5 * time.Second
	defaultSensorDiskHighPct  = 90
	defaultSensorDiskLowPct   = 80
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Security.RateLimit.RPS <= 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst <= 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}

	g := &c.Gateway
	if g.DisconnectGrace == 0 {
		g.DisconnectGrace = Duration(defaultDisconnectGrace)
	}
	if g.WriteTimeout == 0 {
		g.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if g.PingInterval == 0 {
		g.PingInterval = Duration(defaultPingInterval)
	}
	if g.SendBuffer <= 0 {
		g.SendBuffer = defaultSendBuffer
	}
	if g.MaxFrameSize <= 0 {
		g.MaxFrameSize = defaultMaxFrameSize
	}
	if len(g.Codecs) == 0 {
		g.Codecs = []string{"chatsync.cbor", "chatsync.json"}
	}
	if g.FrameRPS <= 0 {
		g.FrameRPS = defaultFrameRPS
	}
	if g.FrameBurst <= 0 {
		g.FrameBurst = defaultFrameBurst
	}

	m := &c.Messages
	if m.MaxContentSize <= 0 {
		m.MaxContentSize = defaultMaxContentSize
	}
	if m.IdempotencyTTL == 0 {
		m.IdempotencyTTL = Duration(defaultIdempotencyTTL)
	}
	if m.ReceiptsLimit <= 0 {
		m.ReceiptsLimit = defaultReceiptsLimit
	}
	if m.HistoryLimit <= 0 {
		m.HistoryLimit = defaultHistoryLimit
	}

	if c.Sessions.DefaultCapacity <= 0 {
		c.Sessions.DefaultCapacity = defaultSessionCapacity
	}
	if c.Sessions.MaxCapacity <= 0 {
		c.Sessions.MaxCapacity = defaultSessionMax
	}
	if c.Presence.TypingTTL == 0 {
		c.Presence.TypingTTL = Duration(defaultTypingTTL)
	}

	if c.Store.WriteRetries <= 0 {
		c.Store.WriteRetries = defaultWriteRetries
	}
	if c.Store.RetryBackoff == 0 {
		c.Store.RetryBackoff = Duration(defaultRetryBackoff)
	}
	if c.Store.SyncWrites == nil {
		on := true
		c.Store.SyncWrites = &on
	}

	r := &c.Retention
	if r.Cron == "" {
		r.Cron = defaultRetentionCron
	}
	if r.Period == 0 {
		r.Period = Duration(defaultRetentionPeriod)
	}
	if r.BatchSize <= 0 {
		r.BatchSize = defaultRetentionBatch
	}

	n := &c.Notify
	if n.Driver == "" {
		n.Driver = "log"
	}
	if n.Timeout == 0 {
		n.Timeout = Duration(defaultNotifyTimeout)
	}
	if n.Workers <= 0 {
		n.Workers = defaultNotifyWorkers
	}
	if n.QueueSize <= 0 {
		n.QueueSize = defaultNotifyQueue
	}
	if n.RedisQueue == "" {
		n.RedisQueue = defaultRedisQueue
	}
	if c.Moderation.Driver == "" {
		c.Moderation.Driver = "store"
	}

	if c.Telemetry.MetricsPath == "" {
		c.Telemetry.MetricsPath = defaultMetricsPath
	}
	if c.Telemetry.SlowThreshold == 0 {
		c.Telemetry.SlowThreshold = Duration(defaultSlowThreshold)
	}
	if c.Sensor.PollInterval == 0 {
		c.Sensor.PollInterval = Duration(defaultSensorPollInterval)
	}
	if c.Sensor.DiskHighPct == 0 {
		c.Sensor.DiskHighPct = defaultSensorDiskHighPct
	}
	if c.Sensor.DiskLowPct == 0 {
		c.Sensor.DiskLowPct = defaultSensorDiskLowPct
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
