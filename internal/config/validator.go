package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid. It also fills in dependent
// MQTT defaults that need the instance id.
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Validate camera endpoint
	if cfg.Camera.Host == "" {
		return fmt.Errorf("camera.host is required")
	}
	if cfg.Camera.Port <= 0 || cfg.Camera.Port > 65535 {
		return fmt.Errorf("camera.port must be in 1..65535, got %d", cfg.Camera.Port)
	}

	// Validate controller timing
	if cfg.Controller.SaveDelayMS < 0 {
		return fmt.Errorf("controller.save_delay_ms must be >= 0")
	}
	if cfg.Controller.AbortDelayMS < 0 {
		return fmt.Errorf("controller.abort_delay_ms must be >= 0")
	}
	if cfg.Controller.StatusIntervalMS <= 0 {
		return fmt.Errorf("controller.status_interval_ms must be > 0")
	}

	// Validate MQTT settings when the emitter is enabled
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
		}
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("camctl/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Telemetry == "" {
		cfg.MQTT.Topics.Telemetry = fmt.Sprintf("camctl/telemetry/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"events":    1,
			"telemetry": 0,
		}
	}

	return nil
}
