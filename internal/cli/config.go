package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// Config is the client profile stored in ~/.chatsync.yaml.
type Config struct {
	Server string `yaml:"server" json:"server"`
	UserID string `yaml:"user_id" json:"user_id"`
	Token  string `yaml:"token" json:"token"`
	// SigningKey lets `token` mint tokens for development servers.
	SigningKey string `yaml:"signing_key,omitempty" json:"signing_key,omitempty"`
	CacheDir   string `yaml:"cache_dir" json:"cache_dir"`
	// Codec is the preferred wire codec: json or cbor.
	Codec string `yaml:"codec" json:"codec"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatsync.yaml"
	}
	return filepath.Join(home, ".chatsync.yaml")
}

func (c *Config) applyDefaults() {
	if c.Server == "" {
		c.Server = "http://localhost:8080"
	}
	c.Server = strings.TrimRight(c.Server, "/")
	if c.CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.CacheDir = filepath.Join(home, ".chatsync", "cache")
		} else {
			c.CacheDir = filepath.Join(".chatsync", "cache")
		}
	}
	if c.Codec == "" {
		c.Codec = "json"
	}
}

// WSURL is the gateway address derived from the server url.
func (c *Config) WSURL() string {
	switch {
	case strings.HasPrefix(c.Server, "https://"):
		return "wss://" + strings.TrimPrefix(c.Server, "https://") + "/v1/ws"
	case strings.HasPrefix(c.Server, "http://"):
		return "ws://" + strings.TrimPrefix(c.Server, "http://") + "/v1/ws"
	}
	return c.Server + "/v1/ws"
}

// CachePath is the per-user cache directory, so profiles never share an
// outbox.
func (c *Config) CachePath() string {
	return filepath.Join(c.CacheDir, c.UserID)
}

// MissingFields lists what a command talking to the server still needs.
func (c *Config) MissingFields() []string {
	var missing []string
	if c.UserID == "" {
		missing = append(missing, "user_id")
	}
	if c.Token == "" {
		missing = append(missing, "token")
	}
	return missing
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// loadConfig reads the profile named by --config (or the default path),
// then applies flag and environment overrides. A missing default file is
// not an error.
func loadConfig(cmd *cobra.Command) (*Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, path, err
		}
		cfg = &Config{}
	}
	if v := os.Getenv("CHATSYNC_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("CHATSYNC_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("CHATSYNC_SIGNING_KEY"); v != "" {
		cfg.SigningKey = v
	}
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.Server = v
	}
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.UserID = v
	}
	cfg.applyDefaults()
	return cfg, path, nil
}

// requireConfig is loadConfig for commands that need credentials.
func requireConfig(cmd *cobra.Command) (*Config, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if missing := cfg.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("missing %s in %s; run `chatsync-cli login`", strings.Join(missing, ", "), path)
	}
	return cfg, nil
}
