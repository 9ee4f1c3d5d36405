// Package emitter publishes controller notifications to an MQTT broker.
// State-entry events go out as JSON on the events topic; the higher-rate
// exposing-time updates go out as compact msgpack on the telemetry topic.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bmitc/camctl/internal/config"
	"github.com/bmitc/camctl/internal/control"
)

// StateEvent is the JSON payload published on every state entry.
type StateEvent struct {
	InstanceID string    `json:"instance_id"`
	State      string    `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
}

// Telemetry is the msgpack payload for exposing-time updates.
type Telemetry struct {
	InstanceID    string  `msgpack:"instance_id"`
	ExposingTimeS float64 `msgpack:"exposing_time_s"`
	TimestampNS   int64   `msgpack:"ts_ns"`
}

// MQTTEmitter publishes controller notifications to an MQTT broker.
// It implements control.Notifier.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // exported for health checks

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the connection to the MQTT broker.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// NotifyState publishes a state-entry event (implements control.Notifier).
// Notifications are fire-and-forget from the controller's point of view, so
// publish failures are counted and logged here rather than propagated.
func (e *MQTTEmitter) NotifyState(state control.State) {
	event := StateEvent{
		InstanceID: e.cfg.InstanceID,
		State:      state.String(),
		Timestamp:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.recordError()
		slog.Error("failed to marshal state event", "state", state.String(), "error", err)
		return
	}

	e.publish(e.cfg.MQTT.Topics.Events, e.getQoS("events"), payload)
}

// NotifyExposingTime publishes an exposing-time telemetry sample (implements
// control.Notifier). Telemetry is hot-path data at the status poll rate, so
// it is msgpack-encoded and defaults to QoS 0.
func (e *MQTTEmitter) NotifyExposingTime(seconds float64) {
	sample := Telemetry{
		InstanceID:    e.cfg.InstanceID,
		ExposingTimeS: seconds,
		TimestampNS:   time.Now().UnixNano(),
	}

	payload, err := msgpack.Marshal(sample)
	if err != nil {
		e.recordError()
		slog.Error("failed to marshal telemetry", "error", err)
		return
	}

	e.publish(e.cfg.MQTT.Topics.Telemetry, e.getQoS("telemetry"), payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) {
	if !e.isConnected() {
		e.recordError()
		slog.Debug("mqtt publish skipped, not connected", "topic", topic)
		return
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.recordError()
		slog.Warn("mqtt publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		e.recordError()
		slog.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("event published", "topic", topic, "qos", qos, "size", len(payload))
}

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) recordError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// getQoS returns the QoS level for a given payload kind.
func (e *MQTTEmitter) getQoS(kind string) byte {
	if qos, ok := e.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0 // default QoS 0
}
