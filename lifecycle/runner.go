// Package lifecycle implements a composable run-loop driver.
//
// A Runner owns one background goroutine and a lifecycle flag. Components
// embed a Runner by ownership (not inheritance) and supply the loop body:
//
//	r := lifecycle.New(lifecycle.Config{Name: "processor"}, func(r *lifecycle.Runner) error {
//	    for r.Running() {
//	        // one unit of work, must return promptly
//	        r.Wait(10 * time.Millisecond)
//	    }
//	    return nil
//	})
//	r.Start()
//	defer r.Stop()
//
// State machine:
//
//	Idle --Start()--> Running --Stop() / loop returns--> Idle
//
// Cancellation is cooperative: Stop clears the flag and cancels Context(),
// then joins the goroutine. A loop that never checks Running() or Context()
// cannot be stopped; Stop gives up after StopTimeout and returns
// ErrStopTimeout.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultStopTimeout = 3 * time.Second

var (
	// ErrAlreadyRunning is returned by Start on a running Runner.
	ErrAlreadyRunning = errors.New("lifecycle: already running")
	// ErrStopTimeout is returned by Stop when the loop did not exit in time.
	ErrStopTimeout = errors.New("lifecycle: stop timeout exceeded")
)

// State of a Runner.
type State int32

const (
	// StateIdle is the initial state and the state after Stop.
	StateIdle State = iota
	// StateRunning means the loop goroutine is live.
	StateRunning
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// LoopFunc is the run-loop body. It must check r.Running() (or select on
// r.Context().Done()) often enough to honor Stop.
type LoopFunc func(r *Runner) error

// Config configures a Runner.
type Config struct {
	// Name is used in log messages.
	Name string
	// StopTimeout bounds the join in Stop (default 3s).
	StopTimeout time.Duration
}

// Runner drives a LoopFunc on its own goroutine.
type Runner struct {
	name        string
	stopTimeout time.Duration
	loop        LoopFunc

	// running is the lifecycle flag read by the loop.
	running atomic.Bool
	state   atomic.Int32

	mu sync.Mutex // serializes Start/Stop

	// ctxMu guards ctx/cancel/done; never held while joining the loop.
	ctxMu  sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// New creates an idle Runner.
func New(cfg Config, loop LoopFunc) *Runner {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "runner"
	}

	return &Runner{
		name:        cfg.Name,
		stopTimeout: cfg.StopTimeout,
		loop:        loop,
		ctx:         context.Background(),
	}
}

// Start transitions Idle→Running and launches the loop. It does not block.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if done := r.Done(); done != nil {
		select {
		case <-done:
			// previous loop exited on its own; allow restart
		default:
			return fmt.Errorf("%s: %w", r.name, ErrAlreadyRunning)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.ctxMu.Lock()
	r.ctx, r.cancel, r.done = ctx, cancel, done
	r.ctxMu.Unlock()

	r.running.Store(true)
	r.state.Store(int32(StateRunning))
	r.setErr(nil)

	go r.run(done)

	slog.Debug("lifecycle: runner started", "name", r.name)
	return nil
}

func (r *Runner) run(done chan struct{}) {
	defer close(done)
	defer func() {
		r.running.Store(false)
		r.state.Store(int32(StateIdle))
	}()
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%s: loop panic: %v", r.name, p)
			r.setErr(err)
			slog.Error("lifecycle: run loop panicked", "name", r.name, "panic", p)
		}
	}()

	if err := r.loop(r); err != nil {
		r.setErr(err)
		slog.Error("lifecycle: run loop exited with error", "name", r.name, "error", err)
		return
	}

	slog.Debug("lifecycle: run loop exited", "name", r.name)
}

// Stop transitions Running→Idle: it clears the lifecycle flag, cancels
// Context() and waits for the loop to return.
//
// Stop on an idle Runner (including before the first Start) is a no-op and
// returns nil. Stop must not be called from inside the loop.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctxMu.RLock()
	done, cancel := r.done, r.cancel
	r.ctxMu.RUnlock()

	if done == nil {
		return nil
	}

	r.running.Store(false)
	cancel()

	select {
	case <-done:
	case <-time.After(r.stopTimeout):
		slog.Warn("lifecycle: stop timeout exceeded, loop may still be running",
			"name", r.name,
			"timeout", r.stopTimeout,
		)
		return fmt.Errorf("%s: %w (%v)", r.name, ErrStopTimeout, r.stopTimeout)
	}

	r.ctxMu.Lock()
	r.done = nil
	r.ctxMu.Unlock()

	slog.Debug("lifecycle: runner stopped", "name", r.name)
	return nil
}

// Running reports the lifecycle flag.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// State returns the current state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Context is cancelled when Stop is called. Loops blocking on channels or
// queues should select on it.
func (r *Runner) Context() context.Context {
	r.ctxMu.RLock()
	defer r.ctxMu.RUnlock()
	return r.ctx
}

// Wait sleeps for d or until Stop is called, whichever comes first, and
// reports whether the Runner is still running.
func (r *Runner) Wait(d time.Duration) bool {
	ctx := r.Context()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return r.Running()
}

// Done returns a channel closed when the current loop exits, or nil when the
// Runner was never started.
func (r *Runner) Done() <-chan struct{} {
	r.ctxMu.RLock()
	defer r.ctxMu.RUnlock()
	return r.done
}

// Err returns the error of the last loop exit (nil for a clean exit).
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

// Name returns the configured name.
func (r *Runner) Name() string {
	return r.name
}

func (r *Runner) setErr(err error) {
	r.errMu.Lock()
	r.lastErr = err
	r.errMu.Unlock()
}
