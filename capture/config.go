package capture

import (
	"errors"
	"fmt"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultSourceStage = "v4l2src"
	DefaultDevicePath  = "/dev/video0"
	DefaultSinkStage   = "appsink"
	DefaultWidth       = 640
	DefaultHeight      = 480
)

// Config configures a frame source.
type Config struct {
	// Name identifies the source in logs.
	Name string

	// SourceStage is the GStreamer source element (default v4l2src).
	SourceStage string
	// DevicePath is the capture device for v4l2src (default /dev/video0).
	DevicePath string
	// SinkStage is appsink (default) or a preview sink such as autovideosink.
	// Frames reach the callback either way.
	SinkStage string

	Format PixelFormat
	Width  int
	Height int
	// FPS caps the frame rate. 0 keeps the device rate.
	FPS float64
	// MaxFrames ends the stream (EOS) after that many frames. 0 = unlimited.
	MaxFrames int

	// OnError is called (once per session) when a runtime error stops the
	// source. Optional.
	OnError func(error)
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "camera"
	}
	if c.SourceStage == "" {
		c.SourceStage = DefaultSourceStage
	}
	if c.DevicePath == "" && c.SourceStage == "v4l2src" {
		c.DevicePath = DefaultDevicePath
	}
	if c.SinkStage == "" {
		c.SinkStage = DefaultSinkStage
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	return c
}

// Validate fills defaults and checks the configuration. Failures are
// returned as *InitError.
func (c *Config) Validate() error {
	*c = c.withDefaults()

	if c.Width < 0 || c.Height < 0 {
		return &InitError{Stage: "config", Err: fmt.Errorf("invalid size %dx%d", c.Width, c.Height)}
	}
	if c.Format.Depth() == 0 {
		return &InitError{Stage: "config", Err: fmt.Errorf("invalid pixel format %d", c.Format)}
	}
	if c.FPS < 0 || c.FPS > 120 {
		return &InitError{Stage: "config", Err: fmt.Errorf("invalid FPS %.2f (must be 0-120)", c.FPS)}
	}
	if c.MaxFrames < 0 {
		return &InitError{Stage: "config", Err: errors.New("max frames must be >= 0")}
	}
	// YUY2 packs two pixels into one macropixel.
	if c.Format == FormatYUY2 && c.Width%2 != 0 {
		return &InitError{Stage: "config", Err: fmt.Errorf("YUY2 width must be even, got %d", c.Width)}
	}
	return nil
}
