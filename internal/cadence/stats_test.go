package cadence

import (
	"math"
	"math/rand"
	"testing"
	"testing/quick"
	"time"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// generateFrameTimes generates timestamps at targetFPS with uniform jitter of
// ±jitterFraction of the interval (deterministic seed).
func generateFrameTimes(numFrames int, targetFPS, jitterFraction float64) []time.Time {
	if numFrames < 1 {
		return []time.Time{}
	}

	expected := 1.0 / targetFPS
	times := make([]time.Time, numFrames)
	times[0] = base

	rng := rand.New(rand.NewSource(42))
	for i := 1; i < numFrames; i++ {
		offset := (rng.Float64()*2 - 1) * jitterFraction * expected
		times[i] = times[i-1].Add(time.Duration((expected + offset) * float64(time.Second)))
	}
	return times
}

func TestCalculateStability(t *testing.T) {
	t.Run("regular stream", func(t *testing.T) {
		times := generateFrameTimes(30, 1.0, 0)
		stats := Calculate(times, 30*time.Second)

		if !stats.IsStable {
			t.Errorf("expected stable, got %+v", stats)
		}
		if math.Abs(stats.FPSMean-1.0) > 1e-9 {
			t.Errorf("FPSMean = %.4f, want 1.0", stats.FPSMean)
		}
		if stats.FPSStdDev > 1e-6 || stats.JitterMax > 1e-6 {
			t.Errorf("expected zero spread, got stddev=%.6f jitterMax=%.6f", stats.FPSStdDev, stats.JitterMax)
		}
	})

	t.Run("alternating intervals", func(t *testing.T) {
		times := []time.Time{base}
		for i := 1; i <= 30; i++ {
			step := 500 * time.Millisecond
			if i%2 == 0 {
				step = 1500 * time.Millisecond
			}
			times = append(times, times[i-1].Add(step))
		}
		stats := Calculate(times, 30*time.Second)

		if stats.IsStable {
			t.Errorf("expected unstable (jitter %.2f%%), got stable",
				stats.JitterMean*stats.FPSMean*100)
		}
	})
}

func TestCalculateEdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		frameTimes []time.Time
		duration   time.Duration
		wantFrames int
	}{
		{"zero frames", nil, time.Second, 0},
		{"one frame", []time.Time{base}, time.Second, 1},
		{"two frames", []time.Time{base, base.Add(time.Second)}, 2 * time.Second, 2},
		{"duplicate timestamps", []time.Time{base, base, base}, time.Second, 3},
		{"zero duration", []time.Time{base, base.Add(time.Second)}, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Calculate(tt.frameTimes, tt.duration)

			if stats.Frames != tt.wantFrames {
				t.Errorf("Frames = %d, want %d", stats.Frames, tt.wantFrames)
			}
			if stats.IsStable {
				t.Errorf("IsStable = true, not enough data to be stable")
			}
			if stats.FPSStdDev < 0 || stats.JitterMean < 0 || stats.JitterMax < 0 {
				t.Errorf("negative spread: %+v", stats)
			}
			if math.IsInf(stats.FPSMin, 0) || math.IsNaN(stats.FPSMean) {
				t.Errorf("non-finite values: %+v", stats)
			}
		})
	}
}

// TestCalculateBounds checks min <= mean <= max and non-negative jitter over
// random inputs.
func TestCalculateBounds(t *testing.T) {
	f := func(fps float64, numFrames uint8) bool {
		if fps < 0.1 || fps > 30.0 || numFrames < 3 || numFrames > 100 {
			return true
		}

		times := generateFrameTimes(int(numFrames), fps, 0.1)
		duration := time.Duration(float64(numFrames) / fps * float64(time.Second))
		stats := Calculate(times, duration)

		const tolerance = 0.001
		if stats.FPSMin > stats.FPSMean*1.2+tolerance {
			t.Logf("FPSMin %.3f far above mean %.3f", stats.FPSMin, stats.FPSMean)
			return false
		}
		if stats.FPSMax < stats.FPSMin {
			t.Logf("FPSMax %.3f < FPSMin %.3f", stats.FPSMax, stats.FPSMin)
			return false
		}
		if stats.JitterMean < 0 || stats.JitterStdDev < 0 || stats.JitterMax < stats.JitterMean {
			t.Logf("jitter bounds violated: %+v", stats)
			return false
		}
		return true
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 100}); err != nil {
		t.Errorf("property violated: %v", err)
	}
}

func TestWindow(t *testing.T) {
	t.Run("steady", func(t *testing.T) {
		w := NewWindow(0)
		for i := 0; i < 10; i++ {
			w.Observe(base.Add(time.Duration(i) * 100 * time.Millisecond))
		}

		if w.Len() != 10 {
			t.Fatalf("Len() = %d, want 10", w.Len())
		}
		stats := w.Stats()
		if math.Abs(stats.FPSMean-10) > 0.01 {
			t.Errorf("FPSMean = %.3f, want 10", stats.FPSMean)
		}
		if !stats.IsStable {
			t.Errorf("steady 10 fps reported unstable: %+v", stats)
		}
	})

	t.Run("wraps keeping newest", func(t *testing.T) {
		w := NewWindow(5)
		for i := 0; i < 8; i++ {
			w.Observe(base.Add(time.Duration(i) * time.Second))
		}

		if w.Len() != 5 {
			t.Fatalf("Len() = %d, want 5", w.Len())
		}
		got := w.snapshot()
		for i, ts := range got {
			want := base.Add(time.Duration(i+3) * time.Second)
			if !ts.Equal(want) {
				t.Errorf("snapshot[%d] = %v, want %v", i, ts, want)
			}
		}
	})

	t.Run("reset", func(t *testing.T) {
		w := NewWindow(4)
		w.Observe(base)
		w.Observe(base.Add(time.Second))
		w.Reset()

		if w.Len() != 0 {
			t.Errorf("Len() after Reset = %d, want 0", w.Len())
		}
		if s := w.Stats(); s.Frames != 0 || s.FPSMean != 0 {
			t.Errorf("Stats() after Reset = %+v", s)
		}
	})
}

func BenchmarkCalculate(b *testing.B) {
	times := generateFrameTimes(100, 1.0, 0.1)
	for i := 0; i < b.N; i++ {
		_ = Calculate(times, 100*time.Second)
	}
}
