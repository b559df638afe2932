package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Messages   MessagesConfig   `yaml:"messages"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Presence   PresenceConfig   `yaml:"presence"`
	Store      StoreConfig      `yaml:"store"`
	Retention  RetentionConfig  `yaml:"retention"`
	Notify     NotifyConfig     `yaml:"notify"`
	Moderation ModerationConfig `yaml:"moderation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Sensor     SensorConfig     `yaml:"sensor"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	// SigningKeys verify connection tokens. More than one allows rotation.
	SigningKeys []string `yaml:"signing_keys"`
	CORS        struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

type GatewayConfig struct {
	DisconnectGrace Duration  `yaml:"disconnect_grace"`
	WriteTimeout    Duration  `yaml:"write_timeout"`
	PingInterval    Duration  `yaml:"ping_interval"`
	SendBuffer      int       `yaml:"send_buffer"`
	MaxFrameSize    SizeBytes `yaml:"max_frame_size"`
	Codecs          []string  `yaml:"codecs"`
	FrameRPS        float64   `yaml:"frame_rps"`
	FrameBurst      int       `yaml:"frame_burst"`
}

type MessagesConfig struct {
	MaxContentSize SizeBytes `yaml:"max_content_size"`
	IdempotencyTTL Duration  `yaml:"idempotency_ttl"`
	ReceiptsLimit  int       `yaml:"receipts_limit"`
	HistoryLimit   int       `yaml:"history_limit"`
}

type SessionsConfig struct {
	DefaultCapacity int `yaml:"default_capacity"`
	MaxCapacity     int `yaml:"max_capacity"`
}

type PresenceConfig struct {
	TypingTTL Duration `yaml:"typing_ttl"`
}

type StoreConfig struct {
	WriteRetries int      `yaml:"write_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	SyncWrites   *bool    `yaml:"sync_writes"`
}

// RetentionConfig holds configuration for the scheduled sweeper.
type RetentionConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Cron      string   `yaml:"cron"`
	Period    Duration `yaml:"period"`
	BatchSize int      `yaml:"batch_size"`
	DryRun    bool     `yaml:"dry_run"`
}

// NotifyConfig selects the offline notification dispatcher.
type NotifyConfig struct {
	Driver     string   `yaml:"driver"` // log | webhook | redis
	WebhookURL string   `yaml:"webhook_url"`
	Timeout    Duration `yaml:"timeout"`
	RedisAddr  string   `yaml:"redis_addr"`
	RedisPass  string   `yaml:"redis_password"`
	RedisDB    int      `yaml:"redis_db"`
	RedisQueue string   `yaml:"redis_queue"`
	Workers    int      `yaml:"workers"`
	QueueSize  int      `yaml:"queue_size"`
}

// ModerationConfig selects where bans and blocks live.
type ModerationConfig struct {
	Driver string `yaml:"driver"` // store | postgres
	DSN    string `yaml:"dsn"`
}

type TelemetryConfig struct {
	MetricsPath   string   `yaml:"metrics_path"`
	SlowThreshold Duration `yaml:"slow_threshold"`
}

// SensorConfig holds sensor related tuning knobs.
type SensorConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	DiskHighPct  int      `yaml:"disk_high_pct"`
	DiskLowPct   int      `yaml:"disk_low_pct"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
