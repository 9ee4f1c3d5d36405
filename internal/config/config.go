// Package config loads and validates the camctl YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the complete camctl configuration.
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig     `yaml:"camera"`
	Controller       ControllerConfig `yaml:"controller"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
}

// CameraConfig locates the camera device's line-protocol endpoint.
type CameraConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ControllerConfig contains state machine timing settings.
type ControllerConfig struct {
	SaveDelayMS      int `yaml:"save_delay_ms"`      // simulated image save work (default: 2000)
	AbortDelayMS     int `yaml:"abort_delay_ms"`     // simulated abort cleanup work (default: 2000)
	StatusIntervalMS int `yaml:"status_interval_ms"` // exposing-time poll period (default: 100)
}

// SaveDelay returns the Saving state's simulated work duration.
func (c ControllerConfig) SaveDelay() time.Duration {
	return time.Duration(c.SaveDelayMS) * time.Millisecond
}

// AbortDelay returns the Aborting state's simulated work duration.
func (c ControllerConfig) AbortDelay() time.Duration {
	return time.Duration(c.AbortDelayMS) * time.Millisecond
}

// StatusInterval returns the exposing-time poll period.
func (c ControllerConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalMS) * time.Millisecond
}

// MQTTConfig contains MQTT broker settings for the notification emitter.
// With Enabled false the daemon runs with a log-only notification sink.
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled"`
	Broker  string          `yaml:"broker"`
	Topics  MQTTTopics      `yaml:"topics"`
	QoS     map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names for the two event kinds the emitter
// publishes: state-entry events (JSON) and exposing-time telemetry (msgpack).
type MQTTTopics struct {
	Events    string `yaml:"events"`
	Telemetry string `yaml:"telemetry"`
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = fmt.Sprintf("camctl-%s", uuid.NewString()[:8])
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.Controller.SaveDelayMS == 0 {
		cfg.Controller.SaveDelayMS = 2000
	}
	if cfg.Controller.AbortDelayMS == 0 {
		cfg.Controller.AbortDelayMS = 2000
	}
	if cfg.Controller.StatusIntervalMS == 0 {
		cfg.Controller.StatusIntervalMS = 100
	}
}
