package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nasti-l/movement-tracker/capture"
	"github.com/nasti-l/movement-tracker/internal/config"
	"github.com/nasti-l/movement-tracker/processor"
	"github.com/nasti-l/movement-tracker/queue"
	"github.com/nasti-l/movement-tracker/sink"
)

// Options adjust how New wires the pipeline
type Options struct {
	// Mock replaces the camera with the synthetic source.
	Mock bool
	// Sinks are added to the ones enabled in the configuration.
	Sinks []sink.Sink
	// StatsInterval for the periodic stats log. 0 disables it.
	StatsInterval time.Duration
}

// Sensor is the main service orchestrator: source → processor → output
// queue → reader → sinks
type Sensor struct {
	cfg *config.Config

	// Core components
	source    capture.Source
	policy    *processor.BrightnessPolicy
	processor *processor.Processor
	output    *queue.Queue[processor.Record]
	reader    *sink.Reader
	mqtt      *sink.MQTTSink
	hub       *sink.WebSocketHub
	sinks     sink.Sink
	server    *http.Server

	statsInterval time.Duration

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelRun context.CancelFunc
}

// New wires every component from cfg. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*Sensor, error) {
	s := &Sensor{
		cfg:           cfg,
		output:        queue.New[processor.Record](cfg.OutputQueueConfig()),
		statsInterval: opts.StatsInterval,
	}

	policy, err := processor.NewBrightnessPolicy(cfg.PolicyConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create posture policy: %w", err)
	}
	s.policy = policy

	proc, err := processor.New(cfg.ProcessorConfig(), policy, s.output)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}
	s.processor = proc

	if err := s.initializeSource(opts.Mock); err != nil {
		return nil, err
	}

	sinks, err := s.initializeSinks(opts.Sinks)
	if err != nil {
		return nil, err
	}
	s.sinks = sink.Fanout(sinks...)

	reader, err := sink.NewReader(cfg.ReaderConfig(), s.output, s.sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	s.reader = reader

	return s, nil
}

// initializeSource creates the camera (or mock) source feeding the processor
func (s *Sensor) initializeSource(mock bool) error {
	capCfg := s.cfg.CaptureConfig()
	capCfg.OnError = func(err error) {
		slog.Error("capture error", "instance_id", s.cfg.InstanceID, "error", err)
	}

	if mock || s.cfg.Camera.Source == "mocksrc" {
		src, err := capture.NewMockSource(capCfg, s.cfg.MockConfig(), s.processor.ProcessFrame)
		if err != nil {
			return fmt.Errorf("failed to create mock source: %w", err)
		}
		s.source = src
		slog.Info("using mock source", "pattern", s.cfg.Camera.Mock.Pattern)
		return nil
	}

	src, err := capture.NewGstSource(capCfg, s.processor.ProcessFrame)
	if err != nil {
		return fmt.Errorf("failed to create capture source: %w", err)
	}
	s.source = src
	slog.Info("using gstreamer source", "stage", capCfg.SourceStage, "device", capCfg.DevicePath)
	return nil
}

// initializeSinks builds the record consumers enabled in the configuration
func (s *Sensor) initializeSinks(extra []sink.Sink) ([]sink.Sink, error) {
	var sinks []sink.Sink

	if s.cfg.Sinks.Log {
		sinks = append(sinks, sink.NewLogSink(nil))
	}

	if s.cfg.Sinks.MQTT.Enabled {
		m, err := sink.NewMQTTSink(s.cfg.MQTTConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create mqtt sink: %w", err)
		}
		s.mqtt = m
		sinks = append(sinks, m)
	}

	if s.cfg.Sinks.WebSocket.Enabled {
		hub, err := sink.NewWebSocketHub(s.cfg.HubConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket hub: %w", err)
		}
		s.hub = hub
		sinks = append(sinks, hub)
	}

	sinks = append(sinks, extra...)
	slog.Info("sinks initialized", "count", len(sinks))
	return sinks, nil
}

// Run starts the pipeline and blocks until ctx is cancelled or the source
// ends. End of stream returns nil; a source that exhausts its restarts
// returns the capture error.
func (s *Sensor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Unlock()
	defer cancel()

	slog.Info("posture sensor starting", "instance_id", s.cfg.InstanceID)

	if s.mqtt != nil {
		if err := s.mqtt.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
	}

	if err := s.startHTTP(); err != nil {
		return err
	}

	if err := s.reader.Start(); err != nil {
		return fmt.Errorf("failed to start reader: %w", err)
	}
	if err := s.processor.Start(); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}

	if s.statsInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logStats(ctx)
		}()
	}

	captureErr := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		captureErr <- capture.Supervise(ctx, s.source, s.cfg.RestartConfig())
	}()

	slog.Info("posture sensor running")

	select {
	case <-ctx.Done():
		slog.Info("posture sensor run loop exiting")
		return nil
	case err := <-captureErr:
		if err != nil {
			return fmt.Errorf("capture stopped: %w", err)
		}
		slog.Info("capture finished (end of stream)")
		return nil
	}
}

// Shutdown stops every component in pipeline order so that frames already
// captured are still derived and published
func (s *Sensor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancelRun
	s.mu.Unlock()

	slog.Info("shutting down posture sensor")

	done := make(chan error, 1)
	go func() { done <- s.shutdown(cancel) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown did not complete: %w", ctx.Err())
	}
}

func (s *Sensor) shutdown(cancel context.CancelFunc) error {
	var errs []error

	// Shutdown sequence (order is important!):
	// 1. Stop capture; no new frames
	if cancel != nil {
		cancel()
	}
	if err := s.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}
	s.wg.Wait()

	// 2. Drain the processor into the output queue
	if err := s.processor.Stop(); err != nil {
		errs = append(errs, err)
	}

	// 3. Drain the output queue into the sinks
	if err := s.reader.Stop(); err != nil {
		errs = append(errs, err)
	}
	s.output.Close()

	// 4. Close sinks and the HTTP server
	if err := s.sinks.Close(); err != nil {
		errs = append(errs, fmt.Errorf("sinks: %w", err))
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	ps := s.processor.Stats()
	rs := s.reader.Stats()
	slog.Info("posture sensor shutdown complete",
		"uptime", uptime,
		"frames_in", ps.FramesIn,
		"records_out", ps.RecordsOut,
		"records_published", rs.Read-rs.PublishErrors,
	)

	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Sensor) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// Policy exposes the posture policy for hot updates
func (s *Sensor) Policy() *processor.BrightnessPolicy {
	return s.policy
}

func (s *Sensor) logStats(ctx context.Context) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs := s.source.Stats()
			ps := s.processor.Stats()
			slog.Info("pipeline stats",
				"frames_delivered", cs.FramesDelivered,
				"sessions", cs.Sessions,
				"records_out", ps.RecordsOut,
				"pending", ps.Pending,
				"derive_errors", ps.Errors,
				"output_len", s.output.Len(),
				"fps_mean", fmt.Sprintf("%.2f", ps.Cadence.FPSMean),
				"stable", ps.Cadence.IsStable,
			)
		}
	}
}
