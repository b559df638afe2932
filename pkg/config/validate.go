package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/adhocore/gronx"
)

var knownCodecs = map[string]bool{"chatsync.json": true, "chatsync.cbor": true}

// ValidateConfig fails fast on values the server cannot run with.
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATSYNC_DB_PATH env, or server.db_path in config")
	}
	if len(cfg.Security.SigningKeys) == 0 {
		return fmt.Errorf("no signing keys: set security.signing_keys or CHATSYNC_SIGNING_KEYS")
	}

	cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	for _, c := range cfg.Gateway.Codecs {
		if !knownCodecs[c] {
			return fmt.Errorf("unknown gateway codec %q", c)
		}
	}
	if cfg.Gateway.WriteTimeout.Duration() >= cfg.Gateway.PingInterval.Duration() {
		return fmt.Errorf("gateway.write_timeout must be shorter than gateway.ping_interval")
	}
	if cfg.Sessions.DefaultCapacity > cfg.Sessions.MaxCapacity {
		return fmt.Errorf("sessions.default_capacity %d exceeds sessions.max_capacity %d",
			cfg.Sessions.DefaultCapacity, cfg.Sessions.MaxCapacity)
	}
	if cfg.Sensor.DiskLowPct >= cfg.Sensor.DiskHighPct || cfg.Sensor.DiskHighPct > 100 {
		return fmt.Errorf("sensor thresholds must satisfy disk_low_pct < disk_high_pct <= 100")
	}

	switch cfg.Notify.Driver {
	case "log":
	case "webhook":
		u, err := url.Parse(cfg.Notify.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("notify.webhook_url must be an http(s) URL")
		}
	case "redis":
		if cfg.Notify.RedisAddr == "" {
			return fmt.Errorf("notify.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", cfg.Notify.Driver)
	}
	switch cfg.Moderation.Driver {
	case "store":
	case "postgres":
		if cfg.Moderation.DSN == "" {
			return fmt.Errorf("moderation.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown moderation.driver %q", cfg.Moderation.Driver)
	}

	if !gronx.IsValid(cfg.Retention.Cron) {
		return fmt.Errorf("invalid retention.cron: not a valid cron expression")
	}
	return nil
}
