package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultMockFPS = 30

// Mock patterns.
const (
	PatternUniform  = "uniform"
	PatternGradient = "gradient"
)

var (
	mockSourceStages = map[string]bool{"mocksrc": true, "v4l2src": true, "videotestsrc": true}
	mockSinkStages   = map[string]bool{"appsink": true, "fakesink": true}
)

// errMockDeviceLost is the runtime error injected by MockConfig.FailAfter.
var errMockDeviceLost = errors.New("mock: device disconnected")

// GeneratorFunc fills one frame's pixel data. seq starts at 1.
type GeneratorFunc func(seq uint64, width, height, depth int) []byte

// MockConfig configures synthetic frame generation.
type MockConfig struct {
	// Pattern is uniform (every byte = Value) or gradient (rows ramp 0→255
	// top to bottom). Default uniform.
	Pattern string
	Value   uint8
	// Generator overrides Pattern when set.
	Generator GeneratorFunc
	// FailAfter stops the session with a device error after that many frames
	// in the session. 0 = never.
	FailAfter int
}

// MockSource generates synthetic frames on its own goroutine (the goroutine
// that calls Start), at Config.FPS (default 30).
//
// Config.MaxFrames ends each session with EOS.
type MockSource struct {
	cfg  Config
	mock MockConfig
	cb   FrameCallback
	gen  GeneratorFunc

	seq atomic.Uint64

	session session
	telemetry
}

var _ Source = (*MockSource)(nil)

// NewMockSource validates cfg the same way NewGstSource does. Stage names
// are checked against the stages a mock can stand in for; others fail with
// an *InitError wrapping ErrStageUnavailable.
func NewMockSource(cfg Config, mock MockConfig, cb FrameCallback) (*MockSource, error) {
	if cfg.SourceStage == "" {
		cfg.SourceStage = "mocksrc"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, &InitError{Stage: "callback", Err: errors.New("frame callback is required")}
	}
	if !mockSourceStages[cfg.SourceStage] {
		return nil, stageUnavailable(cfg.SourceStage, fmt.Errorf("no such element factory %q", cfg.SourceStage))
	}
	if !mockSinkStages[cfg.SinkStage] {
		return nil, stageUnavailable(cfg.SinkStage, fmt.Errorf("no such element factory %q", cfg.SinkStage))
	}
	if mock.FailAfter < 0 {
		return nil, &InitError{Stage: "config", Err: errors.New("fail after must be >= 0")}
	}

	gen := mock.Generator
	if gen == nil {
		switch mock.Pattern {
		case "", PatternUniform:
			gen = UniformPattern(mock.Value)
		case PatternGradient:
			gen = GradientPattern
		default:
			return nil, &InitError{Stage: "config", Err: fmt.Errorf("unknown mock pattern %q", mock.Pattern)}
		}
	}

	if cfg.FPS == 0 {
		cfg.FPS = defaultMockFPS
	}

	slog.Info("capture: mock source created",
		"source", cfg.Name,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"format", cfg.Format.String(),
		"fps", cfg.FPS,
		"pattern", mock.Pattern,
	)

	return &MockSource{cfg: cfg, mock: mock, cb: cb, gen: gen}, nil
}

// Start generates frames until Stop, ctx cancellation, MaxFrames (EOS) or
// FailAfter (runtime error).
func (m *MockSource) Start(ctx context.Context) error {
	stop, done, ok := m.session.open()
	if !ok {
		return fmt.Errorf("%s: %w", m.cfg.Name, ErrAlreadyRunning)
	}
	defer m.session.close(done)

	m.begin()

	interval := time.Duration(float64(time.Second) / m.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Debug("capture: mock generator started", "source", m.cfg.Name, "interval", interval)

	var produced int
	for {
		select {
		case <-ctx.Done():
			m.end(ExitStopped)
			return nil
		case <-stop:
			m.end(ExitStopped)
			return nil
		case <-ticker.C:
		}

		if m.mock.FailAfter > 0 && produced >= m.mock.FailAfter {
			return m.fail(m.cfg, CategoryDevice, errMockDeviceLost)
		}

		seq := m.seq.Add(1)
		depth := m.cfg.Format.Depth()
		frame := Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Width:     m.cfg.Width,
			Height:    m.cfg.Height,
			Format:    m.cfg.Format,
			Data:      m.gen(seq, m.cfg.Width, m.cfg.Height, depth),
			TraceID:   uuid.New().String(),
		}
		m.deliver(m.cfg.Name, m.cb, frame)
		produced++

		if m.cfg.MaxFrames > 0 && produced >= m.cfg.MaxFrames {
			m.end(ExitEOS)
			slog.Info("capture: end of stream, source stopped",
				"source", m.cfg.Name,
				"frames_delivered", produced,
			)
			return nil
		}
	}
}

// Stop ends the running session. No-op when idle.
func (m *MockSource) Stop() error {
	wasActive, joined := m.session.signal(stopTimeout)
	if wasActive && !joined {
		return fmt.Errorf("capture: %s: stop timeout after %v", m.cfg.Name, stopTimeout)
	}
	return nil
}

// Stats returns a telemetry snapshot.
func (m *MockSource) Stats() Stats {
	return m.snapshot()
}

// UniformPattern fills every byte with v.
func UniformPattern(v uint8) GeneratorFunc {
	return func(_ uint64, width, height, depth int) []byte {
		data := make([]byte, width*height*depth)
		if v != 0 {
			for i := range data {
				data[i] = v
			}
		}
		return data
	}
}

// GradientPattern ramps rows from 0 (top) to 255 (bottom).
func GradientPattern(_ uint64, width, height, depth int) []byte {
	row := width * depth
	data := make([]byte, row*height)
	for y := 0; y < height; y++ {
		var v byte
		if height > 1 {
			v = byte(y * 255 / (height - 1))
		}
		line := data[y*row : (y+1)*row]
		for i := range line {
			line[i] = v
		}
	}
	return data
}
