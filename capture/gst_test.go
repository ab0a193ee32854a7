package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nasti-l/movement-tracker/capture/internal/gstpipe"
)

func requireGStreamer(t *testing.T) {
	t.Helper()
	if err := gstpipe.Available(); err != nil {
		t.Skipf("GStreamer not available: %v", err)
	}
}

func TestNewGstSourceUnknownStage(t *testing.T) {
	requireGStreamer(t)

	tests := []struct {
		name  string
		cfg   Config
		stage string
	}{
		{"source", Config{SourceStage: "no-such-camera-src"}, "no-such-camera-src"},
		{"sink", Config{SourceStage: "videotestsrc", SinkStage: "no-such-preview-sink"}, "no-such-preview-sink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewGstSource(tt.cfg, func(Frame) {})
			if src != nil {
				t.Error("constructor returned a source on failure")
			}
			if !errors.Is(err, ErrInit) || !errors.Is(err, ErrStageUnavailable) {
				t.Fatalf("error = %v, want ErrInit wrapping ErrStageUnavailable", err)
			}
			var initErr *InitError
			if errors.As(err, &initErr) && initErr.Stage != tt.stage {
				t.Errorf("Stage = %q, want %q", initErr.Stage, tt.stage)
			}
			t.Logf("✅ init failure reported: %v", err)
		})
	}
}

func TestGstSourceTestPattern(t *testing.T) {
	requireGStreamer(t)

	formats := []PixelFormat{FormatRGB, FormatYUY2}
	for _, format := range formats {
		t.Run(format.String(), func(t *testing.T) {
			var (
				mu     sync.Mutex
				frames []Frame
			)
			src, err := NewGstSource(Config{
				Name:        "test-pattern",
				SourceStage: "videotestsrc",
				Format:      format,
				Width:       160,
				Height:      120,
				MaxFrames:   5,
			}, func(f Frame) {
				mu.Lock()
				frames = append(frames, f)
				mu.Unlock()
			})
			if err != nil {
				t.Fatalf("NewGstSource() failed: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := src.Start(ctx); err != nil {
				t.Fatalf("Start() = %v, want nil at EOS", err)
			}

			mu.Lock()
			defer mu.Unlock()

			if len(frames) != 5 {
				t.Fatalf("got %d frames, want 5", len(frames))
			}
			for i, f := range frames {
				if err := f.Validate(); err != nil {
					t.Errorf("frame %d: %v", i, err)
				}
				if f.Seq != uint64(i+1) {
					t.Errorf("frame %d Seq = %d", i, f.Seq)
				}
			}

			h, w, d := frames[0].Shape()
			if h != 120 || w != 160 || d != format.Depth() {
				t.Errorf("Shape() = %d×%d×%d", h, w, d)
			}
			if src.Stats().LastExit != ExitEOS {
				t.Errorf("LastExit = %v, want eos", src.Stats().LastExit)
			}
			t.Logf("✅ %d frames captured (%d×%d×%d)", len(frames), h, w, d)
		})
	}
}

func TestGstSourceStop(t *testing.T) {
	requireGStreamer(t)

	first := make(chan struct{})
	var once sync.Once
	src, err := NewGstSource(Config{
		SourceStage: "videotestsrc",
		Width:       64,
		Height:      48,
		FPS:         30,
	}, func(Frame) { once.Do(func() { close(first) }) })
	if err != nil {
		t.Fatalf("NewGstSource() failed: %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- src.Start(context.Background()) }()

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		src.Stop()
		t.Fatal("no frame within 5s")
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Start() = %v after Stop", err)
	}
	if s := src.Stats(); s.State != StateIdle || s.LastExit != ExitStopped {
		t.Errorf("Stats() state=%v exit=%v", s.State, s.LastExit)
	}
}
