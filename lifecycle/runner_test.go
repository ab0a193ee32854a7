package lifecycle

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func pollingLoop(ticks *atomic.Int64) LoopFunc {
	return func(r *Runner) error {
		for r.Running() {
			ticks.Add(1)
			r.Wait(10 * time.Millisecond)
		}
		return nil
	}
}

func TestStartStop(t *testing.T) {
	var ticks atomic.Int64
	r := New(Config{Name: "test"}, pollingLoop(&ticks))

	if r.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", r.State())
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if r.State() != StateRunning || !r.Running() {
		t.Fatalf("state after Start = %v (running=%v), want running", r.State(), r.Running())
	}

	time.Sleep(50 * time.Millisecond)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if r.State() != StateIdle || r.Running() {
		t.Errorf("state after Stop = %v (running=%v), want idle", r.State(), r.Running())
	}
	if ticks.Load() == 0 {
		t.Error("loop body never executed")
	}
}

func TestStopBeforeStart(t *testing.T) {
	r := New(Config{}, func(r *Runner) error { return nil })

	if err := r.Stop(); err != nil {
		t.Errorf("Stop() before Start returned %v, want nil", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() returned %v, want nil", err)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %v, want idle", r.State())
	}
	if r.Name() != "runner" {
		t.Errorf("default name = %q, want runner", r.Name())
	}
}

func TestDoubleStart(t *testing.T) {
	var ticks atomic.Int64
	r := New(Config{Name: "dup"}, pollingLoop(&ticks))

	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer r.Stop()

	err := r.Start()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() = %v, want ErrAlreadyRunning", err)
	}
	if !strings.Contains(err.Error(), "dup") {
		t.Errorf("error %q does not name the runner", err)
	}
}

// TestStopIsBounded verifies Stop returns within roughly one loop iteration
// for a cooperative loop.
func TestStopIsBounded(t *testing.T) {
	var ticks atomic.Int64
	r := New(Config{}, pollingLoop(&ticks))
	r.Start()
	time.Sleep(25 * time.Millisecond)

	start := time.Now()
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("Stop() took %v, want < 100ms", elapsed)
	}
	t.Logf("✅ Stop joined in %v after %d ticks", elapsed, ticks.Load())
}

// TestStopWakesBlockedLoop verifies a loop blocked on Context() is released.
func TestStopWakesBlockedLoop(t *testing.T) {
	r := New(Config{}, func(r *Runner) error {
		<-r.Context().Done()
		return nil
	})
	r.Start()

	start := time.Now()
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Stop() took %v for a context-driven loop", elapsed)
	}
}

func TestSelfExitAndRestart(t *testing.T) {
	var runs atomic.Int64
	r := New(Config{}, func(r *Runner) error {
		runs.Add(1)
		return nil
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("self-exiting loop did not finish")
	}

	if r.State() != StateIdle {
		t.Errorf("state after self-exit = %v, want idle", r.State())
	}

	if err := r.Start(); err != nil {
		t.Fatalf("restart after self-exit failed: %v", err)
	}
	<-r.Done()

	if err := r.Stop(); err != nil {
		t.Errorf("Stop() after self-exit returned %v", err)
	}
	if runs.Load() != 2 {
		t.Errorf("loop ran %d times, want 2", runs.Load())
	}
}

func TestStopTimeout(t *testing.T) {
	release := make(chan struct{})
	r := New(Config{Name: "stubborn", StopTimeout: 30 * time.Millisecond}, func(r *Runner) error {
		<-release // ignores Running() and Context()
		return nil
	})
	r.Start()
	defer close(release)

	err := r.Stop()
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("Stop() = %v, want ErrStopTimeout", err)
	}
}

func TestLoopErrorAndPanic(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		r := New(Config{}, func(r *Runner) error { return boom })
		r.Start()
		<-r.Done()

		if !errors.Is(r.Err(), boom) {
			t.Errorf("Err() = %v, want boom", r.Err())
		}
	})

	t.Run("panic", func(t *testing.T) {
		r := New(Config{Name: "panicky"}, func(r *Runner) error { panic("kaboom") })
		r.Start()

		select {
		case <-r.Done():
		case <-time.After(time.Second):
			t.Fatal("panicking loop did not finish")
		}

		if r.Err() == nil || !strings.Contains(r.Err().Error(), "kaboom") {
			t.Errorf("Err() = %v, want panic message", r.Err())
		}
		if r.State() != StateIdle {
			t.Errorf("state after panic = %v, want idle", r.State())
		}
	})

	t.Run("cleared on restart", func(t *testing.T) {
		var first atomic.Bool
		first.Store(true)
		r := New(Config{}, func(r *Runner) error {
			if first.Swap(false) {
				return errors.New("first run fails")
			}
			return nil
		})
		r.Start()
		<-r.Done()
		r.Start()
		<-r.Done()

		if r.Err() != nil {
			t.Errorf("Err() after clean restart = %v, want nil", r.Err())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
