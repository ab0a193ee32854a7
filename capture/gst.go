package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/nasti-l/movement-tracker/capture/internal/gstpipe"
)

// GstSource captures frames from a GStreamer pipeline.
//
// The pipeline is built once by NewGstSource and reused across sessions:
// Start moves it to PLAYING, and every session end (Stop, ctx, EOS, error)
// moves it back to NULL, releasing the device.
type GstSource struct {
	cfg Config
	cb  FrameCallback

	elems *gstpipe.Elements
	seq   atomic.Uint64

	session session
	telemetry
}

var _ Source = (*GstSource)(nil)

// NewGstSource validates cfg and builds the pipeline.
//
// Returns an *InitError (matching ErrInit) when GStreamer is unavailable or a
// stage cannot be created or linked. No pipeline is left behind on failure.
func NewGstSource(cfg Config, cb FrameCallback) (*GstSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, &InitError{Stage: "callback", Err: errors.New("frame callback is required")}
	}

	if err := gstpipe.Available(); err != nil {
		return nil, &InitError{Stage: "gstreamer", Err: err}
	}

	elems, err := gstpipe.Build(gstpipe.Config{
		SourceStage: cfg.SourceStage,
		DevicePath:  cfg.DevicePath,
		SinkStage:   cfg.SinkStage,
		Format:      cfg.Format.String(),
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		MaxFrames:   cfg.MaxFrames,
	})
	if err != nil {
		var buildErr *gstpipe.BuildError
		if errors.As(err, &buildErr) {
			if buildErr.Stage == "link" || buildErr.Stage == "pipeline" {
				return nil, &InitError{Stage: buildErr.Stage, Err: buildErr.Err}
			}
			return nil, stageUnavailable(buildErr.Stage, buildErr.Err)
		}
		return nil, &InitError{Err: err}
	}

	s := &GstSource{
		cfg:   cfg,
		cb:    cb,
		elems: elems,
	}

	elems.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return gstpipe.OnNewSample(sink, s.onSample)
		},
	})

	slog.Info("capture: gstreamer source created",
		"source", cfg.Name,
		"source_stage", cfg.SourceStage,
		"device", cfg.DevicePath,
		"sink_stage", cfg.SinkStage,
		"format", cfg.Format.String(),
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
	)

	return s, nil
}

// Start runs one capture session and blocks until it ends.
func (s *GstSource) Start(ctx context.Context) error {
	stop, done, ok := s.session.open()
	if !ok {
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrAlreadyRunning)
	}
	defer s.session.close(done)

	s.begin()
	started := time.Now()

	slog.Info("capture: starting pipeline", "source", s.cfg.Name)

	if err := s.elems.Pipeline.SetState(gst.StatePlaying); err != nil {
		gstpipe.Destroy(s.elems)
		return s.fail(&gstpipe.BusError{Message: err.Error(), Category: CategoryUnknown})
	}

	outcome, watchErr := gstpipe.Watch(ctx, s.elems.Pipeline, stop)

	// Self-stop on every outcome
	if err := gstpipe.Destroy(s.elems); err != nil {
		slog.Error("capture: failed to stop pipeline", "source", s.cfg.Name, "error", err)
	}

	switch outcome {
	case gstpipe.OutcomeEOS:
		s.end(ExitEOS)
		slog.Info("capture: end of stream, source stopped",
			"source", s.cfg.Name,
			"uptime", time.Since(started),
			"frames_delivered", s.frames.Load(),
		)
		return nil

	case gstpipe.OutcomeError:
		var busErr *gstpipe.BusError
		if !errors.As(watchErr, &busErr) {
			busErr = &gstpipe.BusError{Message: fmt.Sprint(watchErr), Category: CategoryUnknown}
		}
		return s.fail(busErr)

	default:
		s.end(ExitStopped)
		slog.Info("capture: source stopped",
			"source", s.cfg.Name,
			"uptime", time.Since(started),
			"frames_delivered", s.frames.Load(),
		)
		return nil
	}
}

func (s *GstSource) fail(busErr *gstpipe.BusError) error {
	return s.telemetry.fail(s.cfg, busErr.Category, busErr, "debug", busErr.Debug)
}

// Stop ends the running session and waits (up to 3s) for Start to return.
// No-op when idle.
func (s *GstSource) Stop() error {
	wasActive, joined := s.session.signal(stopTimeout)
	if !wasActive {
		slog.Debug("capture: source not running, nothing to stop", "source", s.cfg.Name)
		return nil
	}
	if !joined {
		slog.Warn("capture: stop timeout exceeded", "source", s.cfg.Name, "timeout", stopTimeout)
		return fmt.Errorf("capture: %s: stop timeout after %v", s.cfg.Name, stopTimeout)
	}
	return nil
}

// Stats returns a telemetry snapshot.
func (s *GstSource) Stats() Stats {
	return s.snapshot()
}

// Config returns the validated configuration.
func (s *GstSource) Config() Config {
	return s.cfg
}

// onSample runs on the GStreamer streaming thread.
func (s *GstSource) onSample(data []byte) {
	depth := s.cfg.Format.Depth()

	packed, ok := gstpipe.Unpad(data, s.cfg.Width, s.cfg.Height, depth)
	if !ok {
		slog.Warn("capture: unexpected buffer size, skipping frame",
			"source", s.cfg.Name,
			"size_bytes", len(data),
			"want_bytes", s.cfg.Width*s.cfg.Height*depth,
		)
		return
	}

	frame := Frame{
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Format:    s.cfg.Format,
		Data:      packed,
		TraceID:   uuid.New().String(),
	}

	slog.Debug("capture: frame captured",
		"source", s.cfg.Name,
		"seq", frame.Seq,
		"size_bytes", len(packed),
		"trace_id", frame.TraceID,
	)

	s.deliver(s.cfg.Name, s.cb, frame)
}
