// Package config provides loading of ldfeed.yaml configuration files with
// environment variable overrides.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "LDFEED_"

// Config represents an ldfeed.yaml configuration file.
type Config struct {
	// Descriptor is the path of the schema descriptor (JSON or YAML).
	Descriptor string `yaml:"descriptor" env:"DESCRIPTOR"`

	Constraints ConstraintsConfig `yaml:"constraints" envPrefix:"CONSTRAINTS_"`
	Feed        FeedConfig        `yaml:"feed" envPrefix:"FEED_"`
	Report      ReportConfig      `yaml:"report" envPrefix:"REPORT_"`
	Source      SourceConfig      `yaml:"source" envPrefix:"SOURCE_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
}

// ConstraintsConfig locates the constraint set: a local file, or a key in
// etcd when Etcd.Endpoints is set.
type ConstraintsConfig struct {
	Path string     `yaml:"path,omitempty" env:"PATH"`
	Etcd EtcdConfig `yaml:"etcd,omitempty" envPrefix:"ETCD_"`
}

// EtcdConfig addresses a constraint set stored in etcd.
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints,omitempty" env:"ENDPOINTS" envSeparator:","`
	Namespace string   `yaml:"namespace,omitempty" env:"NAMESPACE"`
	Key       string   `yaml:"key,omitempty" env:"KEY"`

	// DialTimeout format: Go duration string (e.g., "5s")
	// Default: 5s
	DialTimeout string `yaml:"dial_timeout,omitempty" env:"DIAL_TIMEOUT"`
}

// FeedConfig configures the feed writer.
type FeedConfig struct {
	// Type is "ItemList" or "DataFeed". Default: ItemList
	Type string `yaml:"type,omitempty" env:"TYPE"`

	// Output is the feed file. Empty means standard output.
	Output string `yaml:"output,omitempty" env:"OUTPUT"`

	// KeepInvalid writes items that fail validation.
	KeepInvalid bool `yaml:"keep_invalid,omitempty" env:"KEEP_INVALID"`
}

// ReportConfig configures where the validation report goes.
type ReportConfig struct {
	// Format is html, json or markdown. Default: html
	Format string `yaml:"format,omitempty" env:"FORMAT"`

	// Output is the report file. Empty means no file.
	Output string `yaml:"output,omitempty" env:"OUTPUT"`

	// RedisURL enables publishing reports to Redis.
	RedisURL string `yaml:"redis_url,omitempty" env:"REDIS_URL"`

	// RedisPrefix namespaces Redis keys. Default: ldfeed
	RedisPrefix string `yaml:"redis_prefix,omitempty" env:"REDIS_PREFIX"`
}

// SourceConfig locates the entity store.
type SourceConfig struct {
	SQLite string `yaml:"sqlite,omitempty" env:"SQLITE"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty" env:"LEVEL"`

	// Format is text or json. Default: text
	Format string `yaml:"format,omitempty" env:"FORMAT"`
}

// GetDialTimeout parses the dial timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (e EtcdConfig) GetDialTimeout() time.Duration {
	if e.DialTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(e.DialTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// UsesEtcd reports whether the constraint set is read from etcd.
func (c ConstraintsConfig) UsesEtcd() bool {
	return len(c.Etcd.Endpoints) > 0
}

// GetType returns the feed type or the default value.
func (f FeedConfig) GetType() string {
	if f.Type == "" {
		return "ItemList"
	}
	return f.Type
}

// GetFormat returns the report format or the default value.
func (r ReportConfig) GetFormat() string {
	if r.Format == "" {
		return "html"
	}
	return r.Format
}

// GetRedisPrefix returns the Redis prefix or the default value.
func (r ReportConfig) GetRedisPrefix() string {
	if r.RedisPrefix == "" {
		return "ldfeed"
	}
	return r.RedisPrefix
}

// GetLevel returns the configured level, defaulting to info.
func (l LogConfig) GetLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds a logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.GetLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	switch c.Feed.GetType() {
	case "ItemList", "DataFeed":
	default:
		return fmt.Errorf("feed.type must be ItemList or DataFeed, got %q", c.Feed.Type)
	}
	switch strings.ToLower(c.Report.GetFormat()) {
	case "html", "json", "markdown", "md":
	default:
		return fmt.Errorf("report.format must be html, json or markdown, got %q", c.Report.Format)
	}
	if c.Constraints.UsesEtcd() && c.Constraints.Etcd.Key == "" {
		return fmt.Errorf("constraints.etcd.key is required when endpoints are set")
	}
	if c.Constraints.Etcd.DialTimeout != "" {
		if _, err := time.ParseDuration(c.Constraints.Etcd.DialTimeout); err != nil {
			return fmt.Errorf("constraints.etcd.dial_timeout: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with LDFEED_* environment variables, such as
// LDFEED_DESCRIPTOR or LDFEED_REPORT_REDIS_URL. Unset variables leave the
// current values in place.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads and parses an ldfeed.yaml file from the given path and applies
// environment overrides. If the path is a directory, it looks for ldfeed.yaml
// or ldfeed.yml in that directory. Relative file paths in the configuration
// are resolved against the configuration file's directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"ldfeed.yaml", "ldfeed.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no ldfeed.yaml or ldfeed.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.resolve(filepath.Dir(configPath))

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from environment variables alone.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.Descriptor, &c.Constraints.Path, &c.Feed.Output, &c.Report.Output, &c.Source.SQLite} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}
