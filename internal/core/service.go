// Package core wires the camctl components together: configuration, the
// camera worker, the exposure controller, the notification emitter, the
// status poller, and the health endpoint.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmitc/camctl/internal/config"
	"github.com/bmitc/camctl/internal/control"
	"github.com/bmitc/camctl/internal/device"
	"github.com/bmitc/camctl/internal/emitter"
)

// Service is the camctl orchestrator. It owns the camera worker and the
// controller, runs them as goroutines, and polls the controller for
// exposing-time updates so observers get a continuous stream while exposing.
type Service struct {
	cfg *config.Config

	camera     *device.CameraWorker
	controller *control.Controller
	emitter    *emitter.MQTTEmitter // nil when MQTT is disabled

	started      time.Time
	mu           sync.RWMutex
	wg           sync.WaitGroup
	isRunning    bool
	stopRun      context.CancelFunc
	healthServer *healthServer
}

// NewService builds a service from the configuration at configPath.
func NewService(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"camera", fmt.Sprintf("%s:%d", cfg.Camera.Host, cfg.Camera.Port),
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	s := &Service{cfg: cfg}

	var notifier control.Notifier = control.LogNotifier{}
	if cfg.MQTT.Enabled {
		s.emitter = emitter.NewMQTTEmitter(cfg)
		notifier = s.emitter
	}

	s.camera = device.NewCameraWorker(cfg.Camera.Host, cfg.Camera.Port)
	s.controller = control.New(s.camera, notifier, control.Config{
		SaveDelay:  cfg.Controller.SaveDelay(),
		AbortDelay: cfg.Controller.AbortDelay(),
	})

	return s, nil
}

// Controller exposes the command surface consumed by callers of the service.
func (s *Service) Controller() *control.Controller { return s.controller }

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration { return s.cfg.ShutdownTimeout() }

// Run starts all components and blocks until the context is cancelled or a
// worker terminates. A worker terminating with an error is fatal for the
// whole service: this system has one device and one controller, so there is
// nothing sensible to degrade to. The owner restarts the process instead.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	// The workers stop through ScheduleShutdown so in-flight messages
	// drain; only the poller is stopped by cancelling this context, which
	// Shutdown does even when Run ended for another reason.
	pollCtx, cancel := context.WithCancel(ctx)
	s.stopRun = cancel
	s.mu.Unlock()
	defer cancel()

	slog.Info("camctl service starting", "instance_id", s.cfg.InstanceID)

	if s.emitter != nil {
		if err := s.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt emitter: %w", err)
		}
	}

	// Buffered so worker goroutines never block on exit, even when Run has
	// already returned.
	workerErrs := make(chan error, 2)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		workerErrs <- s.camera.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		workerErrs <- s.controller.Run(ctx)
	}()

	s.wg.Add(1)
	go s.pollStatus(pollCtx)

	select {
	case <-pollCtx.Done():
		slog.Info("camctl service stopping", "reason", "context cancelled")
		return nil
	case err := <-workerErrs:
		if err != nil {
			return fmt.Errorf("worker terminated: %w", err)
		}
		slog.Info("camctl service stopping", "reason", "worker stopped")
		return nil
	}
}

// pollStatus periodically asks the controller for the exposing time, which
// pushes a value-carrying update to the notification sink on every poll.
func (s *Service) pollStatus(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.Controller.StatusInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("status poller started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("status poller stopped")
			return
		case <-ticker.C:
			s.controller.Send(control.CmdGetExposingTime)
		}
	}
}

// Shutdown terminates the workers cooperatively and releases external
// connections, within the given context's budget.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	stopRun := s.stopRun
	s.mu.Unlock()

	// Controller first, so no new device commands are issued while the
	// camera worker drains its final messages.
	s.controller.ScheduleShutdown()
	s.camera.ScheduleShutdown()
	if stopRun != nil {
		stopRun()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}

	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Warn("mqtt disconnect failed", "error", err)
		}
	}

	if s.healthServer != nil {
		if err := s.healthServer.stop(ctx); err != nil {
			slog.Warn("health server stop failed", "error", err)
		}
	}

	slog.Info("camctl service stopped")
	return nil
}
