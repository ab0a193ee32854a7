package processor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasti-l/movement-tracker/capture"
)

// ErrInvalidFrame is returned by derivers for frames whose data does not
// match their shape.
var ErrInvalidFrame = errors.New("processor: invalid frame")

// Deriver turns a frame into a record. Implementations are called from one
// goroutine at a time.
type Deriver interface {
	Derive(frame capture.Frame) (Record, error)
}

// DeriverFunc adapts a function to Deriver.
type DeriverFunc func(frame capture.Frame) (Record, error)

// Derive calls f(frame).
func (f DeriverFunc) Derive(frame capture.Frame) (Record, error) {
	return f(frame)
}

// PolicyConfig configures BrightnessPolicy.
type PolicyConfig struct {
	// HeadFraction is the fraction of rows, from the top, treated as the head
	// region. Default 1/3.
	HeadFraction float64
	// Threshold: posture is slouching when HeadY > Threshold. Default 0.
	Threshold float64
	// AccelY is drawn uniformly from [AccelMin, AccelMax). Default [-10, -8).
	AccelMin float64
	AccelMax float64
	// Seed for the accelerometer stand-in. 0 seeds from the clock.
	Seed int64
}

// BrightnessPolicy is the placeholder posture heuristic: the mean sample
// value of the top rows stands in for head height.
type BrightnessPolicy struct {
	headFraction float64
	accelMin     float64
	accelMax     float64
	threshold    atomic.Uint64 // math.Float64bits

	mu  sync.Mutex
	rng *rand.Rand

	now func() time.Time
}

// NewBrightnessPolicy validates cfg and fills defaults.
func NewBrightnessPolicy(cfg PolicyConfig) (*BrightnessPolicy, error) {
	if cfg.HeadFraction == 0 {
		cfg.HeadFraction = 1.0 / 3.0
	}
	if cfg.AccelMin == 0 && cfg.AccelMax == 0 {
		cfg.AccelMin, cfg.AccelMax = -10, -8
	}

	if cfg.HeadFraction <= 0 || cfg.HeadFraction > 1 {
		return nil, fmt.Errorf("processor: head fraction %.3f out of range (0, 1]", cfg.HeadFraction)
	}
	if cfg.AccelMin >= cfg.AccelMax {
		return nil, fmt.Errorf("processor: accel range [%.2f, %.2f) is empty", cfg.AccelMin, cfg.AccelMax)
	}
	if math.IsNaN(cfg.Threshold) {
		return nil, errors.New("processor: threshold is NaN")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &BrightnessPolicy{
		headFraction: cfg.HeadFraction,
		accelMin:     cfg.AccelMin,
		accelMax:     cfg.AccelMax,
		rng:          rand.New(rand.NewSource(seed)),
		now:          time.Now,
	}
	p.SetThreshold(cfg.Threshold)
	return p, nil
}

// Threshold returns the current posture threshold.
func (p *BrightnessPolicy) Threshold() float64 {
	return math.Float64frombits(p.threshold.Load())
}

// SetThreshold updates the threshold; safe while frames are being derived.
func (p *BrightnessPolicy) SetThreshold(v float64) {
	p.threshold.Store(math.Float64bits(v))
}

// HeadRows returns how many top rows form the head region of a frame with
// the given height (at least one).
func (p *BrightnessPolicy) HeadRows(height int) int {
	rows := int(float64(height) * p.headFraction)
	if rows < 1 {
		rows = 1
	}
	if rows > height {
		rows = height
	}
	return rows
}

// Derive computes HeadY, AccelY and Posture for frame.
func (p *BrightnessPolicy) Derive(frame capture.Frame) (Record, error) {
	if err := frame.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	headY := MeanIntensity(frame.Data[:p.HeadRows(frame.Height)*frame.Stride()])

	posture := PostureNormal
	if headY > p.Threshold() {
		posture = PostureSlouching
	}

	return Record{
		Timestamp: EpochSeconds(p.now()),
		AccelY:    p.accel(),
		Posture:   posture,
		HeadY:     headY,
		FrameSeq:  frame.Seq,
		TraceID:   frame.TraceID,
	}, nil
}

func (p *BrightnessPolicy) accel() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accelMin + p.rng.Float64()*(p.accelMax-p.accelMin)
}

// MeanIntensity returns the mean of all samples, 0 for empty input.
func MeanIntensity(samples []byte) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum uint64
	for _, b := range samples {
		sum += uint64(b)
	}
	return float64(sum) / float64(len(samples))
}
