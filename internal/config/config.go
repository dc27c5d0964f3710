// Package config loads the manager configuration
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/scash-manager/internal/model"
)

const (
	// EnvConfigPath names the environment variable holding the config file path
	EnvConfigPath = "SCASH_MANAGER_CONFIG"

	// DefaultConfigPath is used when neither a flag nor EnvConfigPath is set
	DefaultConfigPath = "./config/config.yaml"

	envPrefix = "SCASH"
)

// Config holds the manager configuration
type Config struct {
	Wallet    string          `mapstructure:"wallet"`
	Miner     MinerConfig     `mapstructure:"miner"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// MinerConfig selects the mining client and its connection
type MinerConfig struct {
	Impl          string        `mapstructure:"impl"`
	URL           string        `mapstructure:"url"`
	Threads       int           `mapstructure:"threads"`
	BinPath       string        `mapstructure:"bin_path"`
	Algorithm     string        `mapstructure:"algorithm"`
	ExtraArgs     string        `mapstructure:"extra_args"`
	SweepPatterns []string      `mapstructure:"sweep_patterns"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	Autostart     bool          `mapstructure:"autostart"`
}

// WatchdogConfig controls automatic restarts
type WatchdogConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

// TelemetryConfig sizes the log buffer and hash rate history
type TelemetryConfig struct {
	LogCapacity      int           `mapstructure:"log_capacity"`
	HistoryInterval  time.Duration `mapstructure:"history_interval"`
	HistoryMaxPoints int           `mapstructure:"history_max_points"`
	SampleSchedule   string        `mapstructure:"sample_schedule"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Development bool   `mapstructure:"development"`
}

// NATSConfig configures the optional NATS connection
type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig configures the run history database
type StorageConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Path            string        `mapstructure:"path"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Listen   string        `mapstructure:"listen"`
	Interval time.Duration `mapstructure:"interval"`
}

// Path resolves the config file path from a flag value, the environment or the default
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultConfigPath
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("wallet", "")

	v.SetDefault("miner.impl", string(model.VariantCPUMiner))
	v.SetDefault("miner.url", "")
	v.SetDefault("miner.threads", 0)
	v.SetDefault("miner.bin_path", "/usr/local/bin/minerd")
	v.SetDefault("miner.algorithm", "randomx")
	v.SetDefault("miner.extra_args", "")
	v.SetDefault("miner.sweep_patterns", []string{"SRBMiner-MULTI", "SRBMiner", "randomscash"})
	v.SetDefault("miner.stop_timeout", 8*time.Second)
	v.SetDefault("miner.autostart", true)

	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.interval", 5*time.Second)
	v.SetDefault("watchdog.restart_delay", 10*time.Second)

	v.SetDefault("telemetry.log_capacity", 500)
	v.SetDefault("telemetry.history_interval", 180*time.Second)
	v.SetDefault("telemetry.history_max_points", 600)
	v.SetDefault("telemetry.sample_schedule", "@every 30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.development", false)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.name", "scash-manager")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", "./data/runs.db")
	v.SetDefault("storage.retention", 720*time.Hour)
	v.SetDefault("storage.cleanup_schedule", "0 0 3 * * *")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9102")
	v.SetDefault("metrics.interval", 15*time.Second)
}

// Load reads the configuration file at path. A missing file yields the
// defaults; environment variables prefixed SCASH_ override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would make the manager unusable
func (c *Config) Validate() error {
	switch model.Variant(c.Miner.Impl) {
	case model.VariantCPUMiner, model.VariantXMRig, model.VariantSRBMiner:
	default:
		return fmt.Errorf("invalid miner.impl %q: expected cpuminer, xmrig or srbminer", c.Miner.Impl)
	}
	if c.Telemetry.LogCapacity < 0 {
		return fmt.Errorf("invalid telemetry.log_capacity %d", c.Telemetry.LogCapacity)
	}
	if c.Watchdog.Interval < 0 || c.Watchdog.RestartDelay < 0 {
		return errors.New("watchdog durations must not be negative")
	}
	return nil
}

// Ready reports whether enough is configured to start mining
func (c *Config) Ready() bool {
	return strings.TrimSpace(c.Wallet) != "" && strings.TrimSpace(c.Miner.URL) != ""
}

// Worker maps the configuration to a worker description
func (c *Config) Worker() model.WorkerConfig {
	return model.WorkerConfig{
		Variant:    model.Variant(c.Miner.Impl),
		Executable: c.Miner.BinPath,
		Pool:       strings.TrimSpace(c.Miner.URL),
		Wallet:     strings.TrimSpace(c.Wallet),
		Threads:    c.Miner.Threads,
		ExtraArgs:  c.Miner.ExtraArgs,
		Algorithm:  c.Miner.Algorithm,
	}
}
