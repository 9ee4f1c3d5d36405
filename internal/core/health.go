package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the camctl service.
type HealthStatus struct {
	Status          string `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID      string `json:"instance_id"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	State           string `json:"state"`
	CameraConnected bool   `json:"camera_connected"`
	MQTTConnected   bool   `json:"mqtt_connected"`
}

// HealthCheck returns the current health status of the service.
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		InstanceID:    s.cfg.InstanceID,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		State:         s.controller.State().String(),
	}

	status.CameraConnected = s.camera.IsInitialized() && !s.camera.IsShutdown()

	if s.emitter != nil && s.emitter.Client != nil && s.emitter.Client.IsConnected() {
		status.MQTTConnected = true
	}

	switch {
	case !s.isRunning:
		status.Status = "unhealthy"
	case !status.CameraConnected, s.emitter != nil && !status.MQTTConnected:
		status.Status = "degraded"
	}

	return status
}

type healthServer struct {
	server *http.Server
}

// LivenessHandler handles /health (simple liveness check).
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness (detailed readiness check).
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StartHealthServer starts the HTTP health check server on the given port.
// It runs in its own goroutine and does not block.
func (s *Service) StartHealthServer(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.healthServer = &healthServer{server: server}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}

func (h *healthServer) stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}
