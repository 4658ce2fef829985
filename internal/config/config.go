// Package config loads runtime configuration from an optional YAML file,
// with environment variables overriding individual keys.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/stitch"
)

// Config holds all runtime configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Output  OutputConfig  `yaml:"output"`
	Stitch  StitchConfig  `yaml:"stitch"`
	Render  RenderConfig  `yaml:"render"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
}

// GatewayConfig is the generation backend connection.
type GatewayConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// OutputConfig is the render target format.
type OutputConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// StitchConfig is the default join policy for new sessions.
type StitchConfig struct {
	OverlapSeconds  float64 `yaml:"overlap_seconds"`
	Auto            bool    `yaml:"auto"`
	WindowSeconds   float64 `yaml:"window_seconds"`
	EnergyTolerance float64 `yaml:"energy_tolerance"`
	Curve           string  `yaml:"curve"`
	Strict          bool    `yaml:"strict"`
}

// RenderConfig sizes the render worker pool.
type RenderConfig struct {
	Workers int `yaml:"workers"`
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`
}

// StoreConfig picks the segment store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory or badger
	Dir     string `yaml:"dir"`     // badger scratch dir; empty means in-memory
}

// Default returns the built-in configuration.
func Default() Config {
	pol := stitch.DefaultPolicy()
	return Config{
		Gateway: GatewayConfig{URL: "http://localhost:8000"},
		Output: OutputConfig{
			SampleRate: audio.DefaultFormat.SampleRate,
			Channels:   audio.DefaultFormat.Channels,
		},
		Stitch: StitchConfig{
			OverlapSeconds:  pol.Overlap.Seconds(),
			Auto:            pol.Auto,
			WindowSeconds:   pol.SearchWindow.Seconds(),
			EnergyTolerance: pol.EnergyTolerance,
			Curve:           pol.Curve.String(),
			Strict:          pol.Strict,
		},
		Render:  RenderConfig{Workers: 4},
		Session: SessionConfig{IdleTimeoutMinutes: 30},
		Store:   StoreConfig{Backend: "memory"},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist), then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Gateway.URL = envStr("WELD_GATEWAY_URL", c.Gateway.URL)
	c.Gateway.APIKey = envStr("WELD_GATEWAY_KEY", c.Gateway.APIKey)
	c.Output.SampleRate = envInt("WELD_SAMPLE_RATE", c.Output.SampleRate)
	c.Output.Channels = envInt("WELD_CHANNELS", c.Output.Channels)
	c.Stitch.OverlapSeconds = envFloat("WELD_OVERLAP_SECONDS", c.Stitch.OverlapSeconds)
	c.Stitch.Curve = envStr("WELD_CURVE", c.Stitch.Curve)
	c.Render.Workers = envInt("WELD_RENDER_WORKERS", c.Render.Workers)
	c.Session.IdleTimeoutMinutes = envInt("WELD_IDLE_TIMEOUT_MINUTES", c.Session.IdleTimeoutMinutes)
	c.Store.Backend = envStr("WELD_STORE_BACKEND", c.Store.Backend)
	c.Store.Dir = envStr("WELD_STORE_DIR", c.Store.Dir)
}

func (c *Config) validate() error {
	if !c.Target().Valid() {
		return fmt.Errorf("%w: output format %d Hz / %d ch", audio.ErrValidation,
			c.Output.SampleRate, c.Output.Channels)
	}
	if _, err := audio.ParseCurve(c.Stitch.Curve); err != nil {
		return err
	}
	if c.Render.Workers < 1 {
		return fmt.Errorf("%w: render workers must be positive", audio.ErrValidation)
	}
	switch c.Store.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("%w: unknown store backend %q", audio.ErrValidation, c.Store.Backend)
	}
	return nil
}

// Target returns the configured render output format.
func (c Config) Target() audio.Format {
	return audio.Format{SampleRate: c.Output.SampleRate, Channels: c.Output.Channels}
}

// Policy returns the configured default join policy.
func (c Config) Policy() stitch.Policy {
	curve, _ := audio.ParseCurve(c.Stitch.Curve)
	return stitch.Policy{
		Overlap:         time.Duration(c.Stitch.OverlapSeconds * float64(time.Second)),
		Auto:            c.Stitch.Auto,
		SearchWindow:    time.Duration(c.Stitch.WindowSeconds * float64(time.Second)),
		EnergyTolerance: c.Stitch.EnergyTolerance,
		Curve:           curve,
		Strict:          c.Stitch.Strict,
	}
}

// IdleTimeout returns the session idle timeout.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
