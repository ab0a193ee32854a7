package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nasti-l/movement-tracker/capture"
)

// HealthStatus represents the health state of the posture sensor
type HealthStatus struct {
	Status          string  `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64   `json:"uptime_seconds"`
	CaptureState    string  `json:"capture_state"`
	CaptureSessions uint64  `json:"capture_sessions"`
	FramesDelivered uint64  `json:"frames_delivered"`
	RecordsOut      uint64  `json:"records_out"`
	DeriveErrors    uint64  `json:"derive_errors"`
	Pending         int     `json:"pending"`
	FPSMean         float64 `json:"fps_mean"`
	CadenceStable   bool    `json:"cadence_stable"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	WSClients       int     `json:"ws_clients"`
}

// HealthCheck returns the current health status of the service
func (s *Sensor) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	cs := s.source.Stats()
	ps := s.processor.Stats()

	status := HealthStatus{
		Status:          "healthy",
		CaptureState:    cs.State.String(),
		CaptureSessions: cs.Sessions,
		FramesDelivered: cs.FramesDelivered,
		RecordsOut:      ps.RecordsOut,
		DeriveErrors:    ps.Errors,
		Pending:         ps.Pending,
		FPSMean:         ps.Cadence.FPSMean,
		CadenceStable:   ps.Cadence.IsStable,
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if s.mqtt != nil {
		status.MQTTConnected = s.mqtt.Stats().Connected
	}
	if s.hub != nil {
		status.WSClients = s.hub.Stats().Clients
	}

	// Determine overall health status
	switch {
	case !running:
		status.Status = "unhealthy"
	case cs.State != capture.StateRunning:
		status.Status = "degraded"
	case s.mqtt != nil && !status.MQTTConnected:
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Sensor) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "alive",
		"instance_id": s.cfg.InstanceID,
	})
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
// Returns 503 only when the service is not running
func (s *Sensor) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// Handler returns the HTTP routes: health endpoints plus the record stream
// when the websocket sink is enabled
func (s *Sensor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	if s.hub != nil {
		mux.Handle(s.cfg.Sinks.WebSocket.Path, s.hub)
	}
	return mux
}

// startHTTP serves Handler on the websocket listen address. It is a no-op
// when the websocket sink is disabled.
func (s *Sensor) startHTTP() error {
	if s.hub == nil {
		return nil
	}

	addr := s.cfg.Sinks.WebSocket.Listen
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("starting http server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", s.cfg.Sinks.WebSocket.Path},
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	return nil
}
