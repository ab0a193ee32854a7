package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nasti-l/movement-tracker/internal/config"
	"github.com/nasti-l/movement-tracker/processor"
	"github.com/nasti-l/movement-tracker/sink"
)

type collectSink struct {
	mu   sync.Mutex
	recs []processor.Record
}

func (c *collectSink) Publish(rec processor.Record) error {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
	return nil
}

func (c *collectSink) Close() error { return nil }

func (c *collectSink) records() []processor.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]processor.Record(nil), c.recs...)
}

func mockConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	return cfg
}

const endOfStreamConfig = `
camera:
  source: mocksrc
  width: 16
  height: 12
  fps: 100
  max_frames: 12
  mock:
    value: 255
posture:
  threshold: 100
  seed: 7
`

func TestSensorEndOfStream(t *testing.T) {
	cfg := mockConfig(t, endOfStreamConfig)
	collected := &collectSink{}

	s, err := New(cfg, Options{Sinks: []sink.Sink{collected}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil at end of stream", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	recs := collected.records()
	if len(recs) != 12 {
		t.Fatalf("published %d records, want 12", len(recs))
	}
	for i, r := range recs {
		if r.FrameSeq != uint64(i+1) {
			t.Errorf("record %d FrameSeq = %d", i, r.FrameSeq)
		}
		if r.Posture != processor.PostureSlouching {
			t.Errorf("record %d posture = %s", i, r.Posture)
		}
	}
	t.Logf("✅ %d records from mock source to sink", len(recs))
}

func TestSensorCancelAndShutdown(t *testing.T) {
	cfg := mockConfig(t, "camera:\n  source: mocksrc\n  width: 8\n  height: 6\n  fps: 100\n")
	collected := &collectSink{}

	s, err := New(cfg, Options{Sinks: []sink.Sink{collected}, StatsInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(collected.records()) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("no records within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if h := s.HealthCheck(); h.Status != "healthy" || h.CaptureState != "running" {
		t.Errorf("HealthCheck() = %+v", h)
	}

	cancel()
	if err := <-runErr; err != nil {
		t.Errorf("Run() = %v after cancel", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.ShutdownTimeout())
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	// Every frame the source delivered reached the sink.
	if got, want := uint64(len(collected.records())), s.source.Stats().FramesDelivered; got != want {
		t.Errorf("published %d records, source delivered %d", got, want)
	}
	if h := s.HealthCheck(); h.Status != "unhealthy" {
		t.Errorf("Status after shutdown = %s", h.Status)
	}
}

func TestSensorRunTwice(t *testing.T) {
	s, err := New(mockConfig(t, endOfStreamConfig), Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mu.Lock()
	s.isRunning = true
	s.mu.Unlock()

	if err := s.Run(ctx); err == nil {
		t.Error("Run() while running succeeded")
	}
}

func TestNewRejectsBadSource(t *testing.T) {
	cfg := mockConfig(t, "camera:\n  source: mocksrc\n")
	cfg.Camera.Mock.Pattern = "noise"
	if _, err := New(cfg, Options{}); err == nil {
		t.Error("New() with an unknown mock pattern succeeded")
	}
}

func TestApplyConfigThreshold(t *testing.T) {
	cfg := mockConfig(t, endOfStreamConfig)
	s, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	next := mockConfig(t, endOfStreamConfig)
	next.Posture.Threshold = 250

	changes := s.ApplyConfig(next)
	if len(changes) != 1 {
		t.Errorf("changes = %v, want one", changes)
	}
	if got := s.Policy().Threshold(); got != 250 {
		t.Errorf("Threshold() = %v, want 250", got)
	}

	if changes := s.ApplyConfig(next); len(changes) != 0 {
		t.Errorf("second apply changes = %v, want none", changes)
	}
}

func TestHealthHandlers(t *testing.T) {
	s, err := New(mockConfig(t, endOfStreamConfig), Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	h := s.Handler()

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/readiness", http.StatusServiceUnavailable}, // not running
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Errorf("GET %s body is not json: %v", tt.path, err)
		}
	}
}
