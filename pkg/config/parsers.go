package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "CHATSYNC_"

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged configuration plus where it came from.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	// Source lists the layers that contributed, e.g. "config+env".
	Source string
}

// ParseConfigFlags parses the three server flags from args.
func ParseConfigFlags(args []string) (Flags, error) {
	fsFlags := flag.NewFlagSet("chatsync", flag.ContinueOnError)
	addr := fsFlags.String("addr", ":8080", "HTTP listen address")
	db := fsFlags.String("db", "./.chatsync", "Pebble DB path")
	cfg := fsFlags.String("config", "./config.yaml", "Path to config file")
	if err := fsFlags.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fsFlags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addr, DB: *db, Config: *cfg, Set: set}, nil
}

// ParseConfigFile loads the config file. A missing file is not an error
// unless the path was given explicitly.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	path := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !flags.Set["config"] && os.Getenv("CHATSYNC_CONFIG") == "" {
			return &Config{}, false, nil
		}
		return nil, false, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, true, nil
}

func parseList(v string) []string {
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// envApplier records the first malformed value so one bad variable is
// reported instead of silently ignored.
type envApplier struct {
	used bool
	err  error
}

func (e *envApplier) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	e.used = true
	return strings.TrimSpace(v), true
}

func (e *envApplier) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envApplier) list(name string, dst *[]string) {
	if v, ok := e.lookup(name); ok {
		*dst = parseList(v)
	}
}

func (e *envApplier) boolean(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		*dst = parseBool(v)
	}
}

func (e *envApplier) integer(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v)
			return
		}
		*dst = n
	}
}

func (e *envApplier) float(name string, dst *float64) {
	if v, ok := e.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, v)
			return
		}
		*dst = f
	}
}

func (e *envApplier) duration(name string, dst *Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := parseDuration(v)
		if err != nil {
			e.fail(name, v)
			return
		}
		*dst = d
	}
}

func (e *envApplier) size(name string, dst *SizeBytes) {
	if v, ok := e.lookup(name); ok {
		s, err := parseSize(v)
		if err != nil {
			e.fail(name, v)
			return
		}
		*dst = s
	}
}

func (e *envApplier) fail(name, v string) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s value %q", envPrefix, name, v)
	}
}

// ApplyEnvs overlays CHATSYNC_* variables onto cfg and reports whether any
// were set.
func ApplyEnvs(cfg *Config) (bool, error) {
	e := &envApplier{}

	if v, ok := e.lookup("ADDR"); ok {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	e.str("SERVER_ADDRESS", &cfg.Server.Address)
	e.integer("SERVER_PORT", &cfg.Server.Port)
	e.str("DB_PATH", &cfg.Server.DBPath)
	e.str("TLS_CERT", &cfg.Server.TLS.CertFile)
	e.str("TLS_KEY", &cfg.Server.TLS.KeyFile)

	e.list("SIGNING_KEYS", &cfg.Security.SigningKeys)
	e.list("CORS_ORIGINS", &cfg.Security.CORS.AllowedOrigins)
	e.float("RATE_RPS", &cfg.Security.RateLimit.RPS)
	e.integer("RATE_BURST", &cfg.Security.RateLimit.Burst)
	e.list("IP_WHITELIST", &cfg.Security.IPWhitelist)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_FORMAT", &cfg.Logging.Format)

	e.duration("GATEWAY_DISCONNECT_GRACE", &cfg.Gateway.DisconnectGrace)
	e.duration("GATEWAY_WRITE_TIMEOUT", &cfg.Gateway.WriteTimeout)
	e.duration("GATEWAY_PING_INTERVAL", &cfg.Gateway.PingInterval)
	e.integer("GATEWAY_SEND_BUFFER", &cfg.Gateway.SendBuffer)
	e.size("GATEWAY_MAX_FRAME_SIZE", &cfg.Gateway.MaxFrameSize)
	e.list("GATEWAY_CODECS", &cfg.Gateway.Codecs)
	e.float("GATEWAY_FRAME_RPS", &cfg.Gateway.FrameRPS)
	e.integer("GATEWAY_FRAME_BURST", &cfg.Gateway.FrameBurst)

	e.size("MESSAGES_MAX_CONTENT_SIZE", &cfg.Messages.MaxContentSize)
	e.duration("MESSAGES_IDEMPOTENCY_TTL", &cfg.Messages.IdempotencyTTL)
	e.integer("MESSAGES_RECEIPTS_LIMIT", &cfg.Messages.ReceiptsLimit)
	e.integer("MESSAGES_HISTORY_LIMIT", &cfg.Messages.HistoryLimit)

	e.integer("SESSIONS_DEFAULT_CAPACITY", &cfg.Sessions.DefaultCapacity)
	e.integer("SESSIONS_MAX_CAPACITY", &cfg.Sessions.MaxCapacity)
	e.duration("PRESENCE_TYPING_TTL", &cfg.Presence.TypingTTL)

	e.integer("STORE_WRITE_RETRIES", &cfg.Store.WriteRetries)
	e.duration("STORE_RETRY_BACKOFF", &cfg.Store.RetryBackoff)
	if v, ok := e.lookup("STORE_SYNC_WRITES"); ok {
		b := parseBool(v)
		cfg.Store.SyncWrites = &b
	}

	e.boolean("RETENTION_ENABLED", &cfg.Retention.Enabled)
	e.str("RETENTION_CRON", &cfg.Retention.Cron)
	e.duration("RETENTION_PERIOD", &cfg.Retention.Period)
	e.integer("RETENTION_BATCH_SIZE", &cfg.Retention.BatchSize)
	e.boolean("RETENTION_DRY_RUN", &cfg.Retention.DryRun)

	e.str("NOTIFY_DRIVER", &cfg.Notify.Driver)
	e.str("NOTIFY_WEBHOOK_URL", &cfg.Notify.WebhookURL)
	e.duration("NOTIFY_TIMEOUT", &cfg.Notify.Timeout)
	e.str("NOTIFY_REDIS_ADDR", &cfg.Notify.RedisAddr)
	e.str("NOTIFY_REDIS_PASSWORD", &cfg.Notify.RedisPass)
	e.integer("NOTIFY_REDIS_DB", &cfg.Notify.RedisDB)
	e.str("NOTIFY_REDIS_QUEUE", &cfg.Notify.RedisQueue)

	e.str("MODERATION_DRIVER", &cfg.Moderation.Driver)
	e.str("MODERATION_DSN", &cfg.Moderation.DSN)

	e.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.MetricsPath)
	e.duration("TELEMETRY_SLOW_THRESHOLD", &cfg.Telemetry.SlowThreshold)

	e.duration("SENSOR_POLL_INTERVAL", &cfg.Sensor.PollInterval)
	e.integer("SENSOR_DISK_HIGH_PCT", &cfg.Sensor.DiskHighPct)
	e.integer("SENSOR_DISK_LOW_PCT", &cfg.Sensor.DiskLowPct)

	return e.used, e.err
}

// LoadEffectiveConfig layers the sources: explicit flags win over env,
// env over the config file, and the file over defaults.
func LoadEffectiveConfig(flags Flags) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	cfg, found, err := ParseConfigFile(flags)
	if err != nil {
		return res, err
	}
	var sources []string
	if found {
		sources = append(sources, "config")
	}
	envUsed, err := ApplyEnvs(cfg)
	if err != nil {
		return res, err
	}
	if envUsed {
		sources = append(sources, "env")
	}
	if flags.Set["addr"] {
		if h, p, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = h
			cfg.Server.Port = parsePort(p)
		} else {
			return res, fmt.Errorf("invalid -addr %q: %w", flags.Addr, err)
		}
	}
	if flags.Set["db"] || strings.TrimSpace(cfg.Server.DBPath) == "" {
		cfg.Server.DBPath = flags.DB
	}
	if flags.Set["addr"] || flags.Set["db"] {
		sources = append(sources, "flags")
	}
	if len(sources) == 0 {
		sources = append(sources, "defaults")
	}
	cfg.ApplyDefaults()

	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Server.DBPath
	res.Source = strings.Join(sources, "+")
	return res, nil
}

func parsePort(p string) int {
	pi, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return pi
}
