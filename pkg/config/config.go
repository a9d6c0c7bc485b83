package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittomq/internal/telemetry"
	"github.com/marmos91/dittomq/pkg/linkstate/badger"
	"github.com/marmos91/dittomq/pkg/linkstate/sql"
	"github.com/marmos91/dittomq/pkg/metrics"
)

// EnvPrefix prefixes every environment variable override.
// Example: DITTOMQ_LOGGING_LEVEL=DEBUG
const EnvPrefix = "DITTOMQ"

// Config represents the dittomq configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOMQ_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`

	// Metrics configures Prometheus collection and its HTTP endpoint
	Metrics metrics.Config `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Link holds per-link defaults applied by every session
	Link LinkConfig `mapstructure:"link" yaml:"link" json:"link"`

	// Store selects where link state is retained between detach and reattach
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`

	// Identity configures link identifier generation
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity" json:"identity"`

	// Audit configures principal attribution in audit logs
	Audit AuditConfig `mapstructure:"audit" yaml:"audit" json:"audit"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level" json:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format" json:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output" json:"output"`
}

// LinkConfig holds link defaults.
type LinkConfig struct {
	// InitialCredit is granted by receiving links right after attach.
	// Default: 100
	InitialCredit uint32 `mapstructure:"initial_credit" yaml:"initial_credit" json:"initial_credit"`

	// CreditWindow is the credit receiving links keep outstanding; a new
	// grant is issued once half of it is used. 0 disables replenishment.
	// Default: same as InitialCredit
	CreditWindow uint32 `mapstructure:"credit_window" validate:"omitempty,gtefield=InitialCredit" yaml:"credit_window" json:"credit_window"`

	// StaleAfter is the age after which the sweeper settles an unsettled
	// delivery as released. 0 disables the sweeper.
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"gte=0" yaml:"stale_after" json:"stale_after"`

	// SweepInterval is how often the sweeper runs when enabled.
	// Default: 30s
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0" yaml:"sweep_interval" json:"sweep_interval"`
}

// StoreType names a recovery store backend.
type StoreType string

const (
	StoreMemory   StoreType = "memory"
	StoreBadger   StoreType = "badger"
	StoreSQLite   StoreType = "sqlite"
	StorePostgres StoreType = "postgres"
)

// StoreConfig configures the recovery store.
type StoreConfig struct {
	// Type selects the backend. Default: memory
	Type StoreType `mapstructure:"type" validate:"required,oneof=memory badger sqlite postgres" yaml:"type" json:"type"`

	// Retention is how long a retained link record survives without a
	// reattach before `dittomq state purge` may remove it.
	// Default: 24h
	Retention time.Duration `mapstructure:"retention" validate:"gte=0" yaml:"retention" json:"retention"`

	// Badger configures the badger backend
	Badger badger.Config `mapstructure:"badger" yaml:"badger,omitempty" json:"badger,omitempty"`

	// SQLite configures the sqlite backend
	SQLite sql.SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite,omitempty" json:"sqlite,omitempty"`

	// Postgres configures the postgres backend
	Postgres sql.PostgresConfig `mapstructure:"postgres" yaml:"postgres,omitempty" json:"postgres,omitempty"`
}

// IdentityConfig configures link identifier generation.
type IdentityConfig struct {
	// VirtualHost is mixed into name-derived identifiers
	VirtualHost string `mapstructure:"virtual_host" yaml:"virtual_host" json:"virtual_host"`

	// DeterministicNames are link names that always get the same identifier.
	// Default: [""]
	DeterministicNames []string `mapstructure:"deterministic_names" yaml:"deterministic_names" json:"deterministic_names"`

	// DeterministicPrefixes extend DeterministicNames to any name with one
	// of these prefixes. Default: ["amq.", "qpid."]
	DeterministicPrefixes []string `mapstructure:"deterministic_prefixes" yaml:"deterministic_prefixes" json:"deterministic_prefixes"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	// Placeholder is recorded when no principal can be resolved.
	// Default: "<<unknown>>"
	Placeholder string `mapstructure:"placeholder" yaml:"placeholder" json:"placeholder"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMQ_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location. A missing file yields
// the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, failing with instructions when the file
// does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dittomq config init\n\n"+
				"Or specify a custom config file:\n"+
				"  dittomq <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dittomq config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reports whether a config file was found and read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings such as "30s" or "5m" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/dittomq, ~/.config/dittomq, or "."
// when no home directory can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomq")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittomq")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
