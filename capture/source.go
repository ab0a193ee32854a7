package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasti-l/movement-tracker/capture/internal/gstpipe"
)

// stopTimeout bounds how long Stop waits for Start to return.
const stopTimeout = 3 * time.Second

// Source produces frames and hands each one to the registered callback.
//
// Implementations must guarantee:
//   - Start blocks until Stop, ctx cancellation, end-of-stream or a runtime
//     error, and leaves the source Idle when it returns
//   - Start returns nil on Stop, ctx cancellation or end-of-stream, and a
//     *CaptureError on a runtime error
//   - Start on a running source returns ErrAlreadyRunning
//   - Stop before Start (or after the source stopped itself) is a no-op
//   - Stats is safe to call from any goroutine
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() Stats
}

// telemetry holds counters shared by source implementations.
type telemetry struct {
	state    atomic.Int32
	lastExit atomic.Int32

	sessions atomic.Uint64
	frames   atomic.Uint64
	bytes    atomic.Uint64
	panics   atomic.Uint64

	mu          sync.Mutex
	errCounts   map[Category]uint64
	startedAt   time.Time
	lastFrameAt time.Time
}

func (t *telemetry) begin() {
	t.sessions.Add(1)
	t.state.Store(int32(StateRunning))

	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
}

func (t *telemetry) end(reason ExitReason) {
	t.lastExit.Store(int32(reason))
	t.state.Store(int32(StateIdle))
}

func (t *telemetry) recordError(c Category) {
	t.mu.Lock()
	if t.errCounts == nil {
		t.errCounts = make(map[Category]uint64)
	}
	t.errCounts[c]++
	t.mu.Unlock()
}

func (t *telemetry) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := make(map[Category]uint64, len(gstpipe.Categories))
	for _, c := range gstpipe.Categories {
		errs[c] = t.errCounts[c]
	}

	return Stats{
		State:           State(t.state.Load()),
		LastExit:        ExitReason(t.lastExit.Load()),
		Sessions:        t.sessions.Load(),
		FramesDelivered: t.frames.Load(),
		BytesRead:       t.bytes.Load(),
		CallbackPanics:  t.panics.Load(),
		Errors:          errs,
		StartedAt:       t.startedAt,
		LastFrameAt:     t.lastFrameAt,
	}
}

// fail records a runtime error that stopped the source, logs it, runs the
// OnError hook and returns the *CaptureError for Start to return.
func (t *telemetry) fail(cfg Config, category Category, cause error, attrs ...any) error {
	t.recordError(category)
	t.end(ExitError)

	err := &CaptureError{Category: category, Err: cause}

	args := append([]any{
		"source", cfg.Name,
		"error", cause,
		"category", category.String(),
		"frames_delivered", t.frames.Load(),
	}, attrs...)
	slog.Error("capture: runtime error, source stopped", args...)

	if cfg.OnError != nil {
		cfg.OnError(err)
	}
	return err
}

// deliver invokes cb with panic recovery and updates counters. A panicking
// callback loses that frame only; capture continues.
func (t *telemetry) deliver(name string, cb FrameCallback, frame Frame) {
	defer func() {
		if p := recover(); p != nil {
			t.panics.Add(1)
			slog.Error("capture: frame callback panicked",
				"source", name,
				"seq", frame.Seq,
				"panic", p,
			)
		}
	}()

	t.frames.Add(1)
	t.bytes.Add(uint64(len(frame.Data)))
	t.mu.Lock()
	t.lastFrameAt = frame.Timestamp
	t.mu.Unlock()

	cb(frame)
}

// session is the Start/Stop handshake shared by source implementations.
type session struct {
	mu     sync.Mutex
	active bool
	stop   chan struct{}
	done   chan struct{}
}

// open claims the session. It returns the stop channel and the done channel
// the caller must close when Start returns.
func (s *session) open() (stop <-chan struct{}, done chan struct{}, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil, nil, false
	}
	s.active = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	return s.stop, s.done, true
}

// close releases the session; called by Start on return.
func (s *session) close(done chan struct{}) {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	close(done)
}

// signal asks the active session to end and waits for Start to return.
// It returns false on timeout.
func (s *session) signal(timeout time.Duration) (wasActive, joined bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false, true
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return true, true
	case <-time.After(timeout):
		return true, false
	}
}
