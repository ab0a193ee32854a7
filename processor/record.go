package processor

import (
	"fmt"
	"math"
	"time"
)

// Posture classification.
type Posture string

const (
	PostureSlouching Posture = "slouching"
	PostureNormal    Posture = "normal"
)

// ParsePosture validates a posture string.
func ParsePosture(s string) (Posture, error) {
	switch Posture(s) {
	case PostureSlouching, PostureNormal:
		return Posture(s), nil
	default:
		return "", fmt.Errorf("processor: unknown posture %q", s)
	}
}

// Record is the metadata derived from one frame.
type Record struct {
	// Timestamp is seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp" msgpack:"timestamp"`
	AccelY    float64 `json:"accel_y" msgpack:"accel_y"`
	Posture   Posture `json:"posture" msgpack:"posture"`
	// HeadY is the mean brightness of the head region.
	HeadY    float64 `json:"head_y" msgpack:"head_y"`
	FrameSeq uint64  `json:"frame_seq" msgpack:"frame_seq"`
	TraceID  string  `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
}

// Time returns Timestamp as a time.Time.
func (r Record) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// EpochSeconds converts t to float seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
