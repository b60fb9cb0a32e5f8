// Package config loads engine settings from ~/.aime/config.yaml with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends supported by the store.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds every tunable of the engine.
type Config struct {
	Backend     string            `yaml:"backend"`
	DBPath      string            `yaml:"db_path"`
	FallbackDir string            `yaml:"fallback_dir"`
	LogLevel    string            `yaml:"log_level"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Memory      MemoryConfig      `yaml:"memory"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
}

// TrackerConfig controls session segmentation.
type TrackerConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	CheckpointEvery   int           `yaml:"checkpoint_every"`
	MaxRetries        int           `yaml:"max_retries"`
	OriginURL         string        `yaml:"origin_url,omitempty"`
	Platform          string        `yaml:"platform,omitempty"`
	OriginKey         string        `yaml:"origin_key,omitempty"`
}

// MemoryConfig controls retention and search.
type MemoryConfig struct {
	MaxSessions     int     `yaml:"max_sessions"`
	SearchThreshold float64 `yaml:"search_threshold"`
	SearchLimit     int     `yaml:"search_limit"`
}

// FingerprintConfig controls vector shape and caching.
type FingerprintConfig struct {
	Dimensions   int   `yaml:"dimensions"`
	TopTerms     int   `yaml:"top_terms"`
	CacheEntries int64 `yaml:"cache_entries"`
}

// Dir returns ~/.aime.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aime"
	}
	return filepath.Join(home, ".aime")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Backend:     BackendSQLite,
		DBPath:      filepath.Join(dir, "memory.db"),
		FallbackDir: filepath.Join(dir, "fallback"),
		LogLevel:    "info",
		Tracker: TrackerConfig{
			InactivityTimeout: 5 * time.Minute,
			CheckpointEvery:   3,
			MaxRetries:        3,
		},
		Memory: MemoryConfig{
			MaxSessions:     100,
			SearchThreshold: 0.3,
			SearchLimit:     20,
		},
		Fingerprint: FingerprintConfig{
			Dimensions:   50,
			TopTerms:     20,
			CacheEntries: 10_000,
		},
	}
}

// Path returns the config file location: $AIME_CONFIG or ~/.aime/config.yaml.
func Path() string {
	if p := os.Getenv("AIME_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config file at path (Path() when empty) over the defaults,
// then applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.DBPath = expandHome(cfg.DBPath)
	cfg.FallbackDir = expandHome(cfg.FallbackDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AIME_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("AIME_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("AIME_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AIME_FALLBACK_DIR"); v != "" {
		c.FallbackDir = v
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Backend {
	case BackendSQLite, BackendBadger:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.DBPath == "" {
		problems = append(problems, "db_path is empty")
	}
	if c.Tracker.InactivityTimeout <= 0 {
		problems = append(problems, "tracker.inactivity_timeout must be positive")
	}
	if c.Tracker.CheckpointEvery <= 0 {
		problems = append(problems, "tracker.checkpoint_every must be positive")
	}
	if c.Tracker.MaxRetries <= 0 {
		problems = append(problems, "tracker.max_retries must be positive")
	}
	if c.Memory.MaxSessions <= 0 {
		problems = append(problems, "memory.max_sessions must be positive")
	}
	if c.Memory.SearchThreshold < 0 || c.Memory.SearchThreshold > 1 {
		problems = append(problems, "memory.search_threshold must be within [0,1]")
	}
	if c.Memory.SearchLimit <= 0 {
		problems = append(problems, "memory.search_limit must be positive")
	}
	if c.Fingerprint.Dimensions <= 0 || c.Fingerprint.TopTerms <= 0 {
		problems = append(problems, "fingerprint dimensions and top_terms must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
