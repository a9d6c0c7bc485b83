package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittomq/internal/telemetry"
	"github.com/marmos91/dittomq/pkg/auth"
	"github.com/marmos91/dittomq/pkg/identity"
	"github.com/marmos91/dittomq/pkg/linkstate/sql"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(cfg)
	applyShutdownTimeoutDefaults(cfg)
	applyLinkDefaults(&cfg.Link)
	applyStoreDefaults(&cfg.Store)
	applyIdentityDefaults(&cfg.Identity)
	applyAuditDefaults(&cfg.Audit)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *telemetry.Config) {
	def := telemetry.DefaultConfig()
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = def.Profiling.Endpoint
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = def.Profiling.ProfileTypes
	}
}

func applyMetricsDefaults(cfg *Config) {
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLinkDefaults(cfg *LinkConfig) {
	if cfg.InitialCredit == 0 {
		cfg.InitialCredit = 100
	}
	if cfg.CreditWindow == 0 {
		cfg.CreditWindow = cfg.InitialCredit
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = StoreMemory
	}
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}

	switch cfg.Type {
	case StoreBadger:
		if cfg.Badger.Path == "" && !cfg.Badger.InMemory {
			cfg.Badger.Path = filepath.Join(dataDir(), "links.badger")
		}
	case StoreSQLite, StorePostgres:
		sc := sqlConfig(cfg)
		sc.ApplyDefaults()
		cfg.SQLite = sc.SQLite
		cfg.Postgres = sc.Postgres
	}
}

func applyIdentityDefaults(cfg *IdentityConfig) {
	def := identity.DefaultConfig()
	if cfg.DeterministicNames == nil {
		cfg.DeterministicNames = def.Names
	}
	if cfg.DeterministicPrefixes == nil {
		cfg.DeterministicPrefixes = def.Prefixes
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Placeholder == "" {
		cfg.Placeholder = auth.DefaultPlaceholder
	}
}

// sqlConfig maps the store section onto the sql backend's configuration.
func sqlConfig(cfg *StoreConfig) *sql.Config {
	sc := &sql.Config{SQLite: cfg.SQLite, Postgres: cfg.Postgres}
	if cfg.Type == StorePostgres {
		sc.Type = sql.DatabaseTypePostgres
	} else {
		sc.Type = sql.DatabaseTypeSQLite
	}
	return sc
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
