// Package config loads nodewire configuration from flags, environment
// and config file, in that order of priority.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Endpoint      string              `mapstructure:"endpoint"`
	DataDir       string              `mapstructure:"data_dir"`
	AutoReconnect bool                `mapstructure:"auto_reconnect"`
	Session       SessionConfig       `mapstructure:"session"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Spill         SpillConfig         `mapstructure:"spill"`
	Probe         ProbeConfig         `mapstructure:"probe"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type SessionConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	IdleDelay      time.Duration `mapstructure:"idle_delay"`
	BusyDelay      time.Duration `mapstructure:"busy_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type TransportConfig struct {
	OpenTimeout    time.Duration `mapstructure:"open_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
}

// SpillConfig selects the overflow persistence backend by name with
// backend-specific options as a flat string map.
type SpillConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type ProbeConfig struct {
	Endpoints []string      `mapstructure:"endpoints"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DefaultDataDir returns the default data directory (~/.nodewire).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodewire"
	}
	return filepath.Join(home, ".nodewire")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "ws://localhost:9944")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("auto_reconnect", true)

	v.SetDefault("session.queue_size", 100)
	v.SetDefault("session.idle_delay", time.Second)
	v.SetDefault("session.busy_delay", 100*time.Millisecond)
	v.SetDefault("session.request_timeout", 30*time.Second)

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("retry.max_interval", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("transport.open_timeout", 10*time.Second)
	v.SetDefault("transport.send_timeout", 5*time.Second)
	v.SetDefault("transport.receive_timeout", 30*time.Second)

	v.SetDefault("spill.backend", "fs")

	v.SetDefault("probe.endpoints", []string{"1.1.1.1:443", "8.8.8.8:53"})
	v.SetDefault("probe.timeout", time.Second)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", "")
}

// AddCommonFlags declares the standard CLI flags on cmd. Call
// BindCommonFlags once the command is chosen; with several
// subcommands sharing one Viper, binding at declaration time would
// leave every key pointing at the last command's flag set.
func AddCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.String("endpoint", "", "node endpoint URL (default ws://localhost:9944)")
	f.String("data-dir", "", "data directory (default ~/.nodewire)")
	f.String("config", "", "config file path")
	f.Bool("no-reconnect", false, "disable automatic reconnection")
	f.String("spill-backend", "", "overflow store backend (fs, badger, redis)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("metrics-addr", "", "metrics HTTP listen address")
}

// BindCommonFlags binds cmd's standard flags to Viper.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	_ = v.BindPFlag("endpoint", f.Lookup("endpoint"))
	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("no_reconnect", f.Lookup("no-reconnect"))
	_ = v.BindPFlag("spill.backend", f.Lookup("spill-backend"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
}

// Load reads config from flags, env (NODEWIRE_ prefix), and file,
// returning the merged Config. A missing config file is only an error
// when one was named explicitly.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("NODEWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("nodewire")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nodewire")
		v.AddConfigPath("/etc/nodewire")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if v.GetBool("no_reconnect") {
		cfg.AutoReconnect = false
	}
	return cfg, nil
}
