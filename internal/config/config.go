// Package config loads the thingmsg demo configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bjaus/thingmsg"
)

// EnvPrefix prefixes every environment override, e.g. THINGMSG_NATS_URL.
const EnvPrefix = "THINGMSG"

// Config is the root configuration.
type Config struct {
	// Transport selects the message transport: "mem" or "nats".
	Transport string `mapstructure:"transport"`

	NATS     NATSConfig     `mapstructure:"nats"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Demo     DemoConfig     `mapstructure:"demo"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Subject        string        `mapstructure:"subject"`
	Name           string        `mapstructure:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DispatchConfig configures the router.
type DispatchConfig struct {
	// MaxConcurrency bounds concurrent handlers per message; 0 is unbounded.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// CompletionMode: invocations or messages
	CompletionMode string `mapstructure:"completion_mode"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	// Listen is the address serving /metrics; empty disables the endpoint.
	Listen string `mapstructure:"listen"`
}

// DemoConfig drives the demo run.
type DemoConfig struct {
	// Namespace of the demo thing ids.
	Namespace    string        `mapstructure:"namespace"`
	Expected     int           `mapstructure:"expected"`
	AwaitTimeout time.Duration `mapstructure:"await_timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Transport: "mem",
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Subject:        "things.live.messages",
			Name:           "thingmsg-demo",
			ConnectTimeout: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			CompletionMode: thingmsg.CountInvocations.String(),
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/thingmsg.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{Namespace: "thingmsg"},
		Demo: DemoConfig{
			Namespace:    "org.eclipse.ditto",
			Expected:     17,
			AwaitTimeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from path, or from thingmsg.yaml in the usual
// locations when path is empty. A missing file is not an error. Environment
// variables override both, with "." and "-" replaced by "_":
// THINGMSG_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// every key needs a default for env-only configs to unmarshal
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("nats.url", cfg.NATS.URL)
	v.SetDefault("nats.subject", cfg.NATS.Subject)
	v.SetDefault("nats.name", cfg.NATS.Name)
	v.SetDefault("nats.connect_timeout", cfg.NATS.ConnectTimeout)
	v.SetDefault("dispatch.max_concurrency", cfg.Dispatch.MaxConcurrency)
	v.SetDefault("dispatch.completion_mode", cfg.Dispatch.CompletionMode)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("demo.namespace", cfg.Demo.Namespace)
	v.SetDefault("demo.expected", cfg.Demo.Expected)
	v.SetDefault("demo.await_timeout", cfg.Demo.AwaitTimeout)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("thingmsg")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".thingmsg"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CompletionMode returns the parsed dispatch.completion_mode.
func (c *Config) CompletionMode() thingmsg.CompletionMode {
	m, _ := thingmsg.ParseCompletionMode(c.Dispatch.CompletionMode)
	return m
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case "mem", "nats":
	default:
		return fmt.Errorf("invalid transport: %q", c.Transport)
	}
	if c.Transport == "nats" && strings.TrimSpace(c.NATS.Subject) == "" {
		return errors.New("nats.subject is required")
	}

	if _, err := thingmsg.ParseCompletionMode(c.Dispatch.CompletionMode); err != nil {
		return fmt.Errorf("invalid dispatch.completion_mode: %w", err)
	}
	if c.Dispatch.MaxConcurrency < 0 {
		return fmt.Errorf("invalid dispatch.max_concurrency: %d", c.Dispatch.MaxConcurrency)
	}
	if c.Demo.Expected < 0 {
		return fmt.Errorf("invalid demo.expected: %d", c.Demo.Expected)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}
