package config

import (
	"fmt"
	"math"
	"regexp"

	"github.com/nasti-l/movement-tracker/capture"
	"github.com/nasti-l/movement-tracker/internal/logging"
	"github.com/nasti-l/movement-tracker/queue"
	"github.com/nasti-l/movement-tracker/sink"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "posture-sensor"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return err
	}

	if cfg.Restart.MaxRetries < 0 {
		return fmt.Errorf("restart.max_retries must be >= 0")
	}
	if cfg.Restart.InitialDelayMS <= 0 {
		cfg.Restart.InitialDelayMS = 1000
	}
	if cfg.Restart.MaxDelayMS <= 0 {
		cfg.Restart.MaxDelayMS = 30000
	}
	if cfg.Restart.MaxDelayMS < cfg.Restart.InitialDelayMS {
		return fmt.Errorf("restart.max_delay_ms must be >= initial_delay_ms")
	}

	if math.IsNaN(cfg.Posture.Threshold) {
		return fmt.Errorf("posture.threshold is NaN")
	}
	if cfg.Posture.HeadFraction < 0 || cfg.Posture.HeadFraction > 1 {
		return fmt.Errorf("posture.head_fraction must be in (0, 1]")
	}

	if err := validateQueue("processor.frame_queue", cfg.Processor.FrameQueue); err != nil {
		return err
	}
	if cfg.Processor.CadenceWindow < 0 {
		return fmt.Errorf("processor.cadence_window must be >= 0")
	}
	if err := validateQueue("output.queue", cfg.Output.Queue); err != nil {
		return err
	}
	if cfg.Output.PollIntervalMS <= 0 {
		cfg.Output.PollIntervalMS = 10
	}

	return validateSinks(cfg)
}

func validateCamera(cam *CameraConfig) error {
	if cam.Source == "" {
		cam.Source = capture.DefaultSourceStage
	}
	if cam.PreviewSink == "" {
		cam.PreviewSink = capture.DefaultSinkStage
	}
	if _, err := capture.ParsePixelFormat(cam.Format); err != nil {
		return fmt.Errorf("camera.format: %w", err)
	}
	if cam.Width < 0 || cam.Height < 0 {
		return fmt.Errorf("camera.width and camera.height must be >= 0")
	}
	if cam.FPS < 0 {
		return fmt.Errorf("camera.fps must be >= 0")
	}
	if cam.MaxFrames < 0 {
		return fmt.Errorf("camera.max_frames must be >= 0")
	}
	switch cam.Mock.Pattern {
	case "", capture.PatternUniform, capture.PatternGradient:
	default:
		return fmt.Errorf("camera.mock.pattern must be uniform or gradient, got %q", cam.Mock.Pattern)
	}
	if cam.Mock.FailAfter < 0 {
		return fmt.Errorf("camera.mock.fail_after must be >= 0")
	}
	return nil
}

func validateQueue(name string, q QueueConfig) error {
	if q.Capacity < 0 {
		return fmt.Errorf("%s.capacity must be >= 0", name)
	}
	if _, err := queue.ParsePolicy(q.Policy); err != nil {
		return fmt.Errorf("%s.policy: %w", name, err)
	}
	return nil
}

func validateSinks(cfg *Config) error {
	m := &cfg.Sinks.MQTT
	if m.Enabled {
		if m.Broker == "" {
			return fmt.Errorf("sinks.mqtt.broker is required when mqtt is enabled")
		}
		if m.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2")
		}
	}
	if m.Topic == "" {
		m.Topic = fmt.Sprintf("posture/%s", cfg.InstanceID)
	}
	if _, err := sink.ParseEncoding(m.Encoding); err != nil {
		return fmt.Errorf("sinks.mqtt.encoding: %w", err)
	}

	ws := &cfg.Sinks.WebSocket
	if ws.Listen == "" {
		ws.Listen = ":8080"
	}
	if ws.Path == "" {
		ws.Path = "/records"
	}
	if _, err := sink.ParseEncoding(ws.Encoding); err != nil {
		return fmt.Errorf("sinks.websocket.encoding: %w", err)
	}
	if ws.ClientBuffer < 0 {
		return fmt.Errorf("sinks.websocket.client_buffer must be >= 0")
	}

	if !cfg.Sinks.Log && !m.Enabled && !ws.Enabled {
		cfg.Sinks.Log = true
	}
	return nil
}
