// Package config loads the client configuration from a YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/session"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SCENELINK_"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Session session.Config `yaml:"session" envPrefix:"SESSION_"`
	Log     LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Editor  EditorConfig   `yaml:"editor" envPrefix:"EDITOR_"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LEVEL"`
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

type EditorConfig struct {
	// TickInterval is how often Run cycles the session.
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// RealtimeUpdateDelay is the minimum time between low-priority cycles,
	// which carry transform and new component requests.
	RealtimeUpdateDelay time.Duration `yaml:"realtime_update_delay" env:"REALTIME_UPDATE_DELAY"`
}

func Default() Config {
	return Config{
		Session: session.DefaultConfig(),
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		Editor: EditorConfig{
			TickInterval:        10 * time.Millisecond,
			RealtimeUpdateDelay: 33 * time.Millisecond,
		},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := Decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode merges YAML from r into cfg. Keys absent from the document keep
// their current values.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ParseEnv applies SCENELINK_* variables to cfg.
func ParseEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Log.Encoding != "console" && c.Log.Encoding != "json" {
		return fmt.Errorf("%w: log encoding %q", ErrInvalidConfig, c.Log.Encoding)
	}
	if c.Editor.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	}
	if c.Editor.RealtimeUpdateDelay < 0 {
		return fmt.Errorf("%w: realtime update delay must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Logger builds the zap-backed logger described by c.Log.
func (c Config) Logger() *log.Logger {
	level, _ := log.ParseLevel(c.Log.Level)
	return log.NewWithConfig(log.Config{Level: level, Encoding: c.Log.Encoding})
}
