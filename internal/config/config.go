// Package config loads engine configuration: built-in defaults overlaid
// with an optional YAML file. A missing file is not an error — the
// defaults produce a fully working single-machine setup under
// ~/.contexthub.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "15m".
type Duration time.Duration

// UnmarshalYAML accepts a duration string ("90s", "15m") or an integer
// number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Second)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds")
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the engine's tunable surface.
type Config struct {
	// DataDir holds the SQLite databases (entities, records, cache).
	DataDir string `yaml:"data_dir"`

	// ReposRoot is where repository checkouts live for code-facts
	// detection. Empty disables the detector.
	ReposRoot string `yaml:"repos_root"`

	// CacheEntries bounds the in-process cache tier.
	CacheEntries int `yaml:"cache_entries"`

	// CacheTTL is the backstop expiry for cached payloads.
	CacheTTL Duration `yaml:"cache_ttl"`

	// RecordLimit bounds supporting records per section per payload.
	RecordLimit int `yaml:"record_limit"`

	// EventBuffer bounds the retained update-event window.
	EventBuffer int `yaml:"event_buffer"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFile receives structured logs. Empty logs to stderr. Stdout is
	// never used — it belongs to the MCP stdio transport.
	LogFile string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".contexthub")
	return Config{
		DataDir:      base,
		CacheEntries: 512,
		CacheTTL:     Duration(15 * time.Minute),
		RecordLimit:  20,
		EventBuffer:  128,
		LogLevel:     "info",
		LogFile:      filepath.Join(base, "contexthub.log"),
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".contexthub", "config.yaml")
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path means DefaultPath; a missing file yields plain defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg.normalize(), nil
}

// normalize backfills zero values with defaults so a sparse YAML file
// cannot produce a degenerate configuration.
func (c Config) normalize() Config {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.CacheEntries <= 0 {
		c.CacheEntries = def.CacheEntries
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.RecordLimit <= 0 {
		c.RecordLimit = def.RecordLimit
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}
