package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig enables the shared read cache and cross-instance change fan-out.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string `yaml:"url" json:"url"`
	// CacheTTL bounds how long fetched tasks/conditions stay cached, e.g. "5m".
	CacheTTL string `yaml:"cache_ttl" json:"cache_ttl"`
	// Channel is the pub/sub channel carrying change notifications.
	Channel string `yaml:"channel" json:"channel"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	// JWTSecret is the HS256 key used to verify (and in dev, issue) tokens.
	JWTSecret string `yaml:"jwt_secret" json:"-"`
}

// NotifyConfig controls upcoming-event notifications.
type NotifyConfig struct {
	// Cron is a 5-field cron schedule for the upcoming-event check.
	Cron string `yaml:"cron" json:"cron"`
	// LeadMinutes is how far ahead of an event's start a notification fires.
	LeadMinutes int `yaml:"lead_minutes" json:"lead_minutes"`
	// Webhook delivers notifications by POSTing JSON to each user's push
	// endpoint. When false notifications are only logged.
	Webhook bool `yaml:"webhook" json:"webhook"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to interpret calendar dates.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database"`

	// CORSOrigins lists origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	Auth   AuthConfig   `yaml:"auth" json:"auth"`
	Notify NotifyConfig `yaml:"notify" json:"notify"`

	// Redis, if non-nil, enables the Redis cache and pub/sub bus.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultDatabase    = "./var/condcal.db"
	defaultNotifyCron  = "* * * * *"
	defaultLeadMinutes = 60
	defaultCacheTTL    = 5 * time.Minute
	defaultChannel     = "condcal:changes"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		LogLevel:    "info",
		Database:    defaultDatabase,
		CORSOrigins: []string{"*"},
		Notify: NotifyConfig{
			Cron:        defaultNotifyCron,
			LeadMinutes: defaultLeadMinutes,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{"*"}
	}
	if c.Notify.Cron == "" {
		c.Notify.Cron = defaultNotifyCron
	}
	if c.Notify.LeadMinutes <= 0 {
		c.Notify.LeadMinutes = defaultLeadMinutes
	}
	if c.Redis != nil {
		if c.Redis.Channel == "" {
			c.Redis.Channel = defaultChannel
		}
		if _, err := time.ParseDuration(c.Redis.CacheTTL); err != nil {
			c.Redis.CacheTTL = defaultCacheTTL.String()
		}
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CacheTTL returns the parsed Redis cache TTL, or zero when Redis is off.
func (c *Config) CacheTTL() time.Duration {
	if c.Redis == nil {
		return 0
	}
	d, err := time.ParseDuration(c.Redis.CacheTTL)
	if err != nil {
		return defaultCacheTTL
	}
	return d
}

// NotifyLead returns the notification lead window.
func (c *Config) NotifyLead() time.Duration {
	return time.Duration(c.Notify.LeadMinutes) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".condcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
