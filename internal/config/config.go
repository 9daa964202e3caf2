// Package config loads the bridge configuration from a yaml file and applies
// the documented defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the tunable intervals and the protocol chunk cap.
const (
	DefaultPollIntervalMs   = 5000
	DefaultBatchChunkSize   = 15
	DefaultCoalesceWindowMs = 100
	DefaultModeSettleMs     = 300
)

// DeviceConfig identifies one device and its access token.
type DeviceConfig struct {
	Host  string `yaml:"host"`
	Token string `yaml:"token"`
	ID    string `yaml:"id"`
}

// FacetsConfig toggles the optional control surfaces per deployment.
type FacetsConfig struct {
	LED    *bool `yaml:"led"`
	Buzzer *bool `yaml:"buzzer"`
}

// MQTTConfig configures the MQTT presentation surface. An empty broker
// disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// APIConfig configures the HTTP status server. A zero port disables it.
type APIConfig struct {
	Port int `yaml:"port"`
}

// Config is the full bridge configuration.
type Config struct {
	Device           DeviceConfig `yaml:"device"`
	PollIntervalMs   int          `yaml:"poll_interval_ms"`
	BatchChunkSize   int          `yaml:"batch_chunk_size"`
	CoalesceWindowMs int          `yaml:"coalesce_window_ms"`
	ModeSettleMs     int          `yaml:"mode_settle_delay_ms"`
	Facets           FacetsConfig `yaml:"facets"`
	MQTT             MQTTConfig   `yaml:"mqtt"`
	API              APIConfig    `yaml:"api"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.BatchChunkSize <= 0 {
		c.BatchChunkSize = DefaultBatchChunkSize
	}
	if c.CoalesceWindowMs <= 0 {
		c.CoalesceWindowMs = DefaultCoalesceWindowMs
	}
	if c.ModeSettleMs <= 0 {
		c.ModeSettleMs = DefaultModeSettleMs
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "airbridge"
	}
}

func (c *Config) validate() error {
	if c.Device.Host == "" {
		return fmt.Errorf("device.host is required")
	}
	if c.Device.Token == "" {
		return fmt.Errorf("device.token is required")
	}
	return nil
}

// PollInterval returns the poll period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// CoalesceWindow returns the write-debounce quiet window as a duration.
func (c *Config) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMs) * time.Millisecond
}

// ModeSettle returns the post-mode-switch settle delay as a duration.
func (c *Config) ModeSettle() time.Duration {
	return time.Duration(c.ModeSettleMs) * time.Millisecond
}

// LEDEnabled reports whether the LED control surface is exposed.
// Unset means enabled.
func (c *Config) LEDEnabled() bool {
	return c.Facets.LED == nil || *c.Facets.LED
}

// BuzzerEnabled reports whether the buzzer control surface is exposed.
// Unset means enabled.
func (c *Config) BuzzerEnabled() bool {
	return c.Facets.Buzzer == nil || *c.Facets.Buzzer
}
