package cadence

import (
	"sync"
	"time"
)

const defaultWindowSize = 120

// Window keeps the most recent frame arrival times. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewWindow creates a window holding up to size timestamps (default 120).
func NewWindow(size int) *Window {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &Window{times: make([]time.Time, size)}
}

// Observe records one frame arrival.
func (w *Window) Observe(t time.Time) {
	w.mu.Lock()
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.next == 0 {
		w.full = true
	}
	w.mu.Unlock()
}

// Len returns the number of timestamps held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.times)
	}
	return w.next
}

// Stats computes cadence over the held timestamps. The duration is the span
// from first to last arrival extended by one mean interval, so that a steady
// stream at R fps reports FPSMean ≈ R.
func (w *Window) Stats() Stats {
	times := w.snapshot()
	n := len(times)
	if n < 2 {
		return Calculate(times, 0)
	}

	span := times[n-1].Sub(times[0])
	if span <= 0 {
		return Calculate(times, 0)
	}
	total := span + span/time.Duration(n-1)
	return Calculate(times, total)
}

// Reset discards all timestamps.
func (w *Window) Reset() {
	w.mu.Lock()
	w.next = 0
	w.full = false
	w.mu.Unlock()
}

// snapshot returns the held timestamps oldest first.
func (w *Window) snapshot() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.full {
		out := make([]time.Time, w.next)
		copy(out, w.times[:w.next])
		return out
	}

	out := make([]time.Time, 0, len(w.times))
	out = append(out, w.times[w.next:]...)
	out = append(out, w.times[:w.next]...)
	return out
}
