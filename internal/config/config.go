// Package config defines the structured configuration object accepted by
// the service at startup and on reload. It only owns the Config shape
// and a viper-backed loader for standalone/dev use.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the single structured object the core accepts at startup and
// on reload. It is read-mostly; Store swaps it atomically.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	DBPath        string `mapstructure:"db_path"`
	MaxSizeMB     int    `mapstructure:"max_size_mb"`
	RetentionDays int    `mapstructure:"retention_days"`

	BatchSize       int `mapstructure:"batch_size"`
	FlushIntervalMS int `mapstructure:"flush_interval_ms"`
	IngestBuffer    int `mapstructure:"ingest_buffer"`

	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	BurstLimit   int     `mapstructure:"burst_limit"`

	SensitiveKeys []string `mapstructure:"sensitive_keys"`
	DropPatterns  []string `mapstructure:"drop_patterns"`

	LogLevel string `mapstructure:"log_level"`

	AutoReconnect            bool `mapstructure:"auto_reconnect"`
	WSMaxSubscribers         int  `mapstructure:"ws_max_subscribers"`
	GracefulShutdownTimeoutMS int `mapstructure:"graceful_shutdown_timeout_ms"`

	DeadLetterPath string `mapstructure:"dead_letter_path"`
}

// Default returns the baseline configuration new deployments start from.
func Default() *Config {
	return &Config{
		Host:          "0.0.0.0",
		Port:          8080,
		DBPath:        "./logs/logs.db",
		MaxSizeMB:     1024,
		RetentionDays: 30,

		BatchSize:       500,
		FlushIntervalMS: 50,
		IngestBuffer:    10000,

		RateLimitRPS: 0,
		BurstLimit:   0,

		SensitiveKeys: []string{"password", "token", "secret", "key", "auth"},
		DropPatterns:  nil,

		LogLevel: "info",

		AutoReconnect:             true,
		WSMaxSubscribers:          1000,
		GracefulShutdownTimeoutMS: 30000,

		DeadLetterPath: "./logs/dead-letter.ndjson",
	}
}

// Validate rejects configurations that would make the service behave
// unpredictably.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive")
	}
	if c.IngestBuffer <= 0 {
		return fmt.Errorf("config: ingest_buffer must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// Load builds a Config from defaults, an optional config file, environment
// variables prefixed LOGHUB_, and command-line flags, in that order of
// increasing precedence — mirroring CrlsMrls-dummybox's viper/pflag setup.
func Load(args []string) (*Config, error) {
	v := viper.New()
	d := Default()

	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("max_size_mb", d.MaxSizeMB)
	v.SetDefault("retention_days", d.RetentionDays)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("flush_interval_ms", d.FlushIntervalMS)
	v.SetDefault("ingest_buffer", d.IngestBuffer)
	v.SetDefault("rate_limit_rps", d.RateLimitRPS)
	v.SetDefault("burst_limit", d.BurstLimit)
	v.SetDefault("sensitive_keys", d.SensitiveKeys)
	v.SetDefault("drop_patterns", d.DropPatterns)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("auto_reconnect", d.AutoReconnect)
	v.SetDefault("ws_max_subscribers", d.WSMaxSubscribers)
	v.SetDefault("graceful_shutdown_timeout_ms", d.GracefulShutdownTimeoutMS)
	v.SetDefault("dead_letter_path", d.DeadLetterPath)

	fs := pflag.NewFlagSet("loghub", pflag.ContinueOnError)
	fs.String("host", d.Host, "bind host")
	fs.Int("port", d.Port, "bind port")
	fs.String("db-path", d.DBPath, "storage file path")
	fs.String("config-file", "", "path to a config file (yaml/json/toml)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}
	v.BindPFlag("host", fs.Lookup("host"))
	v.BindPFlag("port", fs.Lookup("port"))
	v.BindPFlag("db_path", fs.Lookup("db-path"))

	v.SetEnvPrefix("LOGHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cf, _ := fs.GetString("config-file"); cf != "" {
		v.SetConfigFile(cf)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Store is an atomically-swappable Config pointer shared across
// subsystems, so a config reload swaps the pointer without callers
// needing to lock.
type Store struct {
	ptr atomic.Pointer[Config]
}

func NewStore(initial *Config) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

func (s *Store) Load() *Config { return s.ptr.Load() }

func (s *Store) Swap(next *Config) { s.ptr.Store(next) }
