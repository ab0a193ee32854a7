// Package cadence computes frame-rate statistics from frame arrival times.
package cadence

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20
)

// Stats summarizes a sequence of frame arrivals.
type Stats struct {
	Frames   int
	Duration time.Duration

	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64

	// Jitter is the absolute deviation of each inter-frame interval from the
	// expected interval, in seconds.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64

	IsStable bool
}

// Calculate derives Stats from frame timestamps observed over total.
//
// Stability requires both:
//   - FPS stddev < 15% of mean FPS
//   - mean jitter < 20% of the expected interval
//
// Fewer than two frames, or a non-positive total, yield a zero, unstable result.
func Calculate(frameTimes []time.Time, total time.Duration) Stats {
	n := len(frameTimes)
	stats := Stats{Frames: n, Duration: total}

	if n == 0 || total <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / total.Seconds()

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); iv > 0 {
			intervals = append(intervals, iv)
		}
	}
	if len(intervals) == 0 {
		return stats
	}

	stats.FPSMin = math.Inf(1)
	var sumSquares float64
	for _, iv := range intervals {
		fps := 1.0 / iv
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - stats.FPSMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(intervals)))

	expected := 1.0 / stats.FPSMean

	jitters := make([]float64, len(intervals))
	var jitterSum float64
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - stats.JitterMean
		jitterSquares += diff * diff
	}
	stats.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	// Two frames give one interval; not enough to judge stability.
	if len(intervals) < 2 {
		return stats
	}

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}
