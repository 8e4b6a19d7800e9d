// Package config loads adingest.yaml.
//
// Loading is three steps: the raw YAML is checked against an embedded CUE
// schema (closed, so typos in keys are reported), decoded into Config, then
// defaults and environment overrides are applied and cross-field rules
// checked. Configuration is read once at startup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvDatabaseDSN  = "ADINGEST_DB_DSN"
	EnvDatabasePath = "ADINGEST_DB_PATH"
)

// Source kinds.
const (
	KindCounters  = "counters"
	KindClicks    = "clicks"
	KindActions   = "actions"
	KindHierarchy = "hierarchy"
)

// Config is the full process configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Timezone    string            `yaml:"timezone"`
	Attribution AttributionConfig `yaml:"attribution"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Hierarchy   HierarchyConfig   `yaml:"hierarchy"`
	Families    []FamilyConfig    `yaml:"families"`
	Sources     []SourceConfig    `yaml:"sources"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// LogConfig configures the root slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// AttributionConfig configures the referrer resolver.
type AttributionConfig struct {
	QueryParam string `yaml:"query_param"`
}

// ReconcileConfig configures the counter reconciliation engine.
type ReconcileConfig struct {
	SpreadWindow time.Duration `yaml:"spread_window"`
	MaxDelta     int64         `yaml:"max_delta"`
}

// HierarchyConfig configures master-data sync.
type HierarchyConfig struct {
	UpdateConcurrency int `yaml:"update_concurrency"`
}

// FamilyConfig is one schedule family.
type FamilyConfig struct {
	Name        string        `yaml:"name"`
	Schedule    string        `yaml:"schedule"`
	MaxParallel int           `yaml:"max_parallel"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	MaxRetries  *int          `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Retries returns the retry count. An omitted max_retries means
// DefaultMaxRetries; an explicit 0 disables retries.
func (f FamilyConfig) Retries() int {
	if f.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *f.MaxRetries
}

// SourceConfig is one HTTP-JSON feed registered as a task.
type SourceConfig struct {
	Name             string            `yaml:"name"`
	Family           string            `yaml:"family"`
	Kind             string            `yaml:"kind"`
	URL              string            `yaml:"url"`
	Source           string            `yaml:"source"`
	RPS              float64           `yaml:"rps"`
	Burst            int               `yaml:"burst"`
	Items            string            `yaml:"items"`
	RefreshSnapshots bool              `yaml:"refresh_snapshots"`
	Headers          map[string]string `yaml:"headers"`
	Fields           map[string]string `yaml:"fields"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes YAML configuration, applying defaults and
// environment overrides.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Family returns the family named name.
func (c *Config) Family(name string) (FamilyConfig, bool) {
	for _, f := range c.Families {
		if f.Name == name {
			return f, true
		}
	}
	return FamilyConfig{}, false
}
