package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults.
const (
	DefaultDriver            = "sqlite"
	DefaultDatabasePath      = "adingest.db"
	DefaultMaxConns          = 4
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultMetricsAddress    = ":9090"
	DefaultTimezone          = "UTC"
	DefaultQueryParam        = "ref"
	DefaultSpreadWindow      = 3 * time.Minute
	DefaultMaxDelta          = 1_000_000
	DefaultUpdateConcurrency = 8
	DefaultMaxParallel       = 2
	DefaultTaskTimeout       = 5 * time.Minute
	DefaultMaxRetries        = 2
	DefaultRetryDelay        = 10 * time.Second
	DefaultRPS               = 1.0
)

// Default returns a configuration with every default applied and no
// families or sources.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Attribution.QueryParam == "" {
		c.Attribution.QueryParam = DefaultQueryParam
	}
	if c.Reconcile.SpreadWindow == 0 {
		c.Reconcile.SpreadWindow = DefaultSpreadWindow
	}
	if c.Reconcile.MaxDelta == 0 {
		c.Reconcile.MaxDelta = DefaultMaxDelta
	}
	if c.Hierarchy.UpdateConcurrency == 0 {
		c.Hierarchy.UpdateConcurrency = DefaultUpdateConcurrency
	}
	for i := range c.Families {
		f := &c.Families[i]
		if f.MaxParallel == 0 {
			f.MaxParallel = DefaultMaxParallel
		}
		if f.TaskTimeout == 0 {
			f.TaskTimeout = DefaultTaskTimeout
		}
		if f.RetryDelay == 0 {
			f.RetryDelay = DefaultRetryDelay
		}
		if f.MaxRetries == nil {
			retries := DefaultMaxRetries
			f.MaxRetries = &retries
		}
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Source == "" {
			s.Source = s.Name
		}
		if s.RPS == 0 {
			s.RPS = DefaultRPS
		}
		if s.Burst == 0 {
			s.Burst = 1
		}
	}
}

// applyEnv overrides database settings from the environment. A DSN switches
// the driver to postgres.
func (c *Config) applyEnv(getenv func(string) string) {
	if dsn := getenv(EnvDatabaseDSN); dsn != "" {
		c.Database.DSN = dsn
		c.Database.Driver = "postgres"
	}
	if path := getenv(EnvDatabasePath); path != "" {
		c.Database.Path = path
	}
}

// Validate checks rules the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		add("database.dsn", "required when driver is postgres (or set %s)", EnvDatabaseDSN)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("timezone", "unknown time zone %q", c.Timezone)
	}

	families := make(map[string]bool, len(c.Families))
	for i, f := range c.Families {
		path := fmt.Sprintf("families.%d", i)
		if families[f.Name] {
			add(path+".name", "duplicate family %q", f.Name)
		}
		families[f.Name] = true
		if f.Schedule != "" {
			if _, err := cron.ParseStandard(f.Schedule); err != nil {
				add(path+".schedule", "invalid cron expression %q: %v", f.Schedule, err)
			}
		}
	}

	sources := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		path := fmt.Sprintf("sources.%d", i)
		if sources[s.Name] {
			add(path+".name", "duplicate source %q", s.Name)
		}
		sources[s.Name] = true
		if !families[s.Family] {
			add(path+".family", "unknown family %q", s.Family)
		}
		for key := range s.Fields {
			if !knownField(s.Kind, key) {
				add(path+".fields."+key, "not a field of %s sources (want one of %s)",
					s.Kind, strings.Join(FieldNames(s.Kind), ", "))
			}
		}
	}

	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// FieldNames lists the record fields a source kind extracts.
func FieldNames(kind string) []string {
	switch kind {
	case KindCounters:
		return []string{"entity_id", "total", "referrer_url"}
	case KindClicks:
		return []string{"entity_id", "occurred_at", "referrer_url"}
	case KindActions:
		return []string{"entity_id", "occurred_at", "referrer_url", "reward"}
	case KindHierarchy:
		return []string{"account_id", "campaign_id", "campaign_name", "adgroup_id", "adgroup_name", "ad_id", "ad_name"}
	default:
		return nil
	}
}

func knownField(kind, key string) bool {
	for _, f := range FieldNames(kind) {
		if f == key {
			return true
		}
	}
	return false
}

// FieldPath returns the gjson path for field, defaulting to the field name.
func (s SourceConfig) FieldPath(field string) string {
	if p, ok := s.Fields[field]; ok {
		return p
	}
	return field
}
