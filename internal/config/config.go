// Package config loads scantrack configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Listen  string
	Storage StorageConfig
	Tracker TrackerConfig
	Metrics MetricsConfig
	Tracing TracingConfig
	Log     LogConfig
}

// StorageConfig selects and parameterises the persistence backend.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver      string
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// TrackerConfig controls directory marker synchronisation.
type TrackerConfig struct {
	Enabled bool
	// Backend is one of fs, memory, s3.
	Backend string
	S3      S3Config
}

// S3Config parameterises the S3 marker backend.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool `mapstructure:"path_style"`
}

// MetricsConfig controls the prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool
}

// TracingConfig mirrors the observability tracing settings.
type TracingConfig struct {
	Enabled      bool
	Exporter     string
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is one of text, json.
	Format string
}

// Load reads configuration from file and env. Env var overrides use prefix
// SCANTRACK_, e.g. SCANTRACK_STORAGE_DRIVER.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8008")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "scantrack.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("tracker.enabled", false)
	v.SetDefault("tracker.backend", "fs")
	v.SetDefault("tracker.s3.bucket", "")
	v.SetDefault("tracker.s3.region", "")
	v.SetDefault("tracker.s3.endpoint", "")
	v.SetDefault("tracker.s3.path_style", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "scantrack")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigType("toml")
	if path == "" {
		path = os.Getenv("SCANTRACK_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/scantrack")
		v.SetConfigName("scantrack")
	}

	v.SetEnvPrefix("SCANTRACK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; defaults and env cover everything.
	if err := v.ReadInConfig(); err != nil && path != "" {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
