package capture

import (
	"fmt"
	"strings"
	"time"
)

// PixelFormat is the negotiated raw video format.
type PixelFormat int

const (
	// FormatRGB is packed 24-bit RGB, depth 3.
	FormatRGB PixelFormat = iota
	// FormatYUY2 is packed 4:2:2 YUV, depth 2.
	FormatYUY2
)

// Depth returns bytes per pixel.
func (f PixelFormat) Depth() int {
	switch f {
	case FormatRGB:
		return 3
	case FormatYUY2:
		return 2
	default:
		return 0
	}
}

// String returns the GStreamer format name.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB:
		return "RGB"
	case FormatYUY2:
		return "YUY2"
	default:
		return "unknown"
	}
}

// ParsePixelFormat parses a format name (case-insensitive). An empty string
// means RGB.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToUpper(s) {
	case "", "RGB":
		return FormatRGB, nil
	case "YUY2", "YUYV":
		return FormatYUY2, nil
	default:
		return 0, fmt.Errorf("capture: unknown pixel format %q (must be RGB or YUY2)", s)
	}
}

// Frame is one captured image: Height rows of Width pixels, Depth bytes each,
// tightly packed.
//
// Data is owned by the callback invocation that receives the frame. Callbacks
// that keep frames beyond the call may keep Data as is; the source never
// reuses it.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Format    PixelFormat
	Data      []byte
	TraceID   string
}

// Depth returns bytes per pixel.
func (f Frame) Depth() int {
	return f.Format.Depth()
}

// Shape returns (height, width, depth).
func (f Frame) Shape() (int, int, int) {
	return f.Height, f.Width, f.Depth()
}

// Stride returns bytes per row.
func (f Frame) Stride() int {
	return f.Width * f.Depth()
}

// Pixel returns the bytes of the pixel at (row, col), or nil when out of range.
func (f Frame) Pixel(row, col int) []byte {
	if row < 0 || row >= f.Height || col < 0 || col >= f.Width {
		return nil
	}
	d := f.Depth()
	off := row*f.Stride() + col*d
	if off+d > len(f.Data) {
		return nil
	}
	return f.Data[off : off+d]
}

// Validate checks that Data matches the declared shape.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("capture: invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.Depth() == 0 {
		return fmt.Errorf("capture: invalid pixel format %d", f.Format)
	}
	if want := f.Height * f.Stride(); len(f.Data) != want {
		return fmt.Errorf("capture: frame data is %d bytes, want %d (%dx%dx%d)",
			len(f.Data), want, f.Height, f.Width, f.Depth())
	}
	return nil
}

// FrameCallback receives each frame on the capture context. It must return
// promptly; heavy work belongs on another goroutine.
type FrameCallback func(Frame)

// State of a source.
type State int32

const (
	// StateIdle means not capturing (initial, after Stop, EOS or error).
	StateIdle State = iota
	// StateRunning means Start is blocking and frames are flowing.
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

// ExitReason records why the last session ended.
type ExitReason int32

const (
	// ExitNone means no session has ended yet.
	ExitNone ExitReason = iota
	// ExitStopped means Stop was called or ctx was cancelled.
	ExitStopped
	// ExitEOS means the source reached end-of-stream.
	ExitEOS
	// ExitError means a runtime error stopped the pipeline.
	ExitError
)

// String returns a human-readable reason.
func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "none"
	case ExitStopped:
		return "stopped"
	case ExitEOS:
		return "eos"
	case ExitError:
		return "error"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of source telemetry.
type Stats struct {
	State           State
	LastExit        ExitReason
	Sessions        uint64
	FramesDelivered uint64
	BytesRead       uint64
	CallbackPanics  uint64
	Errors          map[Category]uint64
	StartedAt       time.Time
	LastFrameAt     time.Time
}
