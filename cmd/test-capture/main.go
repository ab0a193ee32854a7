package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nasti-l/movement-tracker/capture"
	"github.com/nasti-l/movement-tracker/internal/cadence"
	"github.com/nasti-l/movement-tracker/internal/logging"
	"github.com/nasti-l/movement-tracker/queue"
)

const version = "v0.1.0"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Width(18).Foreground(lipgloss.Color("7"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func main() {
	source := flag.String("source", capture.DefaultSourceStage, "Source stage: v4l2src, videotestsrc")
	device := flag.String("device", capture.DefaultDevicePath, "Capture device (v4l2src only)")
	preview := flag.String("preview", capture.DefaultSinkStage, "Preview sink, e.g. autovideosink (appsink = none)")
	pixFormat := flag.String("pix", "rgb", "Pixel format: rgb, yuy2")
	width := flag.Int("width", capture.DefaultWidth, "Frame width")
	height := flag.Int("height", capture.DefaultHeight, "Frame height")
	fps := flag.Float64("fps", 0, "Frame rate cap (0 = device rate)")
	maxFrames := flag.Int("max-frames", 0, "Stop after this many frames (0 = unlimited)")
	mock := flag.Bool("mock", false, "Use the synthetic gradient source")
	outputDir := flag.String("output", "", "Directory to save frames (optional)")
	outputFormat := flag.String("format", "png", "Output format: png, jpeg")
	jpegQuality := flag.Int("jpeg-quality", 90, "JPEG quality (1-100)")
	saveEvery := flag.Int("save-every", 30, "Save one frame out of N")
	statsInterval := flag.Duration("stats-interval", 5*time.Second, "Interval between cadence reports")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("test-capture %s\n", version)
		os.Exit(0)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	if _, _, err := logging.Setup(logging.Options{Level: level, Format: "text"}); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	format, err := capture.ParsePixelFormat(*pixFormat)
	if err != nil {
		log.Fatalf("Invalid pixel format: %v", err)
	}
	if *outputFormat != "png" && *outputFormat != "jpeg" {
		log.Fatalf("Invalid output format: %s (must be png or jpeg)", *outputFormat)
	}
	if *saveEvery < 1 {
		*saveEvery = 1
	}
	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	cfg := capture.Config{
		Name:        "test-capture",
		SourceStage: *source,
		DevicePath:  *device,
		SinkStage:   *preview,
		Format:      format,
		Width:       *width,
		Height:      *height,
		FPS:         *fps,
		MaxFrames:   *maxFrames,
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Posture capture probe %s", version)))
	fmt.Println(renderBox("Configuration", [][2]string{
		{"Source", *source},
		{"Device", *device},
		{"Preview", *preview},
		{"Format", format.String()},
		{"Resolution", fmt.Sprintf("%dx%d", *width, *height)},
		{"FPS cap", fmt.Sprintf("%.2f", *fps)},
		{"Mock", fmt.Sprintf("%v", *mock)},
		{"Output", outputLabel(*outputDir, *outputFormat, *saveEvery)},
	}))

	// Frames cross from the capture goroutine to main through a bounded
	// queue so that slow disk writes drop old frames instead of stalling
	// capture.
	frames := queue.New[capture.Frame](queue.Config{Capacity: 8, Policy: queue.DropOldest})
	window := cadence.NewWindow(0)
	onFrame := func(f capture.Frame) {
		window.Observe(f.Timestamp)
		frames.Put(f)
	}

	var src capture.Source
	if *mock {
		src, err = capture.NewMockSource(cfg, capture.MockConfig{Pattern: capture.PatternGradient}, onFrame)
	} else {
		src, err = capture.NewGstSource(cfg, onFrame)
	}
	if err != nil {
		log.Fatalf("Failed to create source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Printf("\nReceived interrupt signal, shutting down...\n")
		cancel()
	}()

	captureDone := make(chan error, 1)
	go func() {
		captureDone <- capture.Supervise(ctx, src, capture.DefaultRestartConfig())
		frames.Close()
	}()

	go func() {
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Println(renderStats("Cadence", window.Stats(), src.Stats()))
			}
		}
	}()

	start := time.Now()
	saved, saveErrors := 0, 0
	for {
		frame, err := frames.Get(ctx)
		if err != nil {
			break
		}

		h, w, d := frame.Shape()
		fmt.Printf("[%s] frame #%-6d %d×%d×%d  %6.1f KB\n",
			frame.Timestamp.Format("15:04:05.000"), frame.Seq, h, w, d, float64(len(frame.Data))/1024)

		if *outputDir != "" && frame.Seq%uint64(*saveEvery) == 1%uint64(*saveEvery) {
			if err := saveFrame(*outputDir, frame, *outputFormat, *jpegQuality); err != nil {
				slog.Error("Failed to save frame", "error", err, "seq", frame.Seq)
				saveErrors++
			} else {
				saved++
			}
		}
	}

	cancel()
	if err := src.Stop(); err != nil {
		slog.Error("Error stopping source", "error", err)
	}
	if err := <-captureDone; err != nil {
		slog.Error("Capture failed", "error", err)
	}

	final := src.Stats()
	fmt.Println(renderStats(fmt.Sprintf("Final (uptime %s)", time.Since(start).Round(time.Second)), window.Stats(), final))
	fmt.Println(renderBox("Totals", [][2]string{
		{"Frames delivered", fmt.Sprintf("%d", final.FramesDelivered)},
		{"Frames dropped", fmt.Sprintf("%d", frames.Stats().Dropped)},
		{"Frames saved", fmt.Sprintf("%d", saved)},
		{"Save errors", fmt.Sprintf("%d", saveErrors)},
		{"Last exit", final.LastExit.String()},
	}))
}

func outputLabel(dir, format string, every int) string {
	if dir == "" {
		return "(none)"
	}
	return fmt.Sprintf("%s (%s, 1/%d)", dir, format, every)
}

func renderBox(title string, rows [][2]string) string {
	lines := titleStyle.Render(title)
	for _, r := range rows {
		lines += "\n" + labelStyle.Render(r[0]) + r[1]
	}
	return boxStyle.Render(lines)
}

func renderStats(title string, c cadence.Stats, s capture.Stats) string {
	stable := okStyle.Render("stable")
	if !c.IsStable {
		stable = warnStyle.Render("unstable")
	}

	rows := [][2]string{
		{"State", s.State.String()},
		{"Frames", fmt.Sprintf("%d delivered, %d in window", s.FramesDelivered, c.Frames)},
		{"FPS mean", fmt.Sprintf("%.2f (σ %.2f)", c.FPSMean, c.FPSStdDev)},
		{"FPS range", fmt.Sprintf("%.1f – %.1f", c.FPSMin, c.FPSMax)},
		{"Jitter", fmt.Sprintf("mean %.3fs, max %.3fs", c.JitterMean, c.JitterMax)},
		{"Cadence", stable},
		{"Bytes read", fmt.Sprintf("%.2f MB", float64(s.BytesRead)/1024/1024)},
		{"Sessions", fmt.Sprintf("%d", s.Sessions)},
	}
	for cat, n := range s.Errors {
		if n > 0 {
			rows = append(rows, [2]string{cat.String() + " errors", warnStyle.Render(fmt.Sprintf("%d", n))})
		}
	}
	return renderBox(title, rows)
}

// saveFrame writes a frame to disk as PNG or JPEG
func saveFrame(outputDir string, frame capture.Frame, format string, jpegQuality int) error {
	filename := fmt.Sprintf("frame_%06d_%s.%s", frame.Seq, frame.Timestamp.Format("20060102_150405.000"), format)
	path := filepath.Join(outputDir, filename)

	img, err := toImage(frame)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	return nil
}

// toImage wraps packed RGB as RGBA and unpacks YUY2 into 4:2:2 planes.
func toImage(frame capture.Frame) (image.Image, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	w, h := frame.Width, frame.Height
	rect := image.Rect(0, 0, w, h)

	switch frame.Format {
	case capture.FormatRGB:
		img := image.NewRGBA(rect)
		for i := 0; i < w*h; i++ {
			img.Pix[i*4+0] = frame.Data[i*3+0]
			img.Pix[i*4+1] = frame.Data[i*3+1]
			img.Pix[i*4+2] = frame.Data[i*3+2]
			img.Pix[i*4+3] = 255
		}
		return img, nil

	case capture.FormatYUY2:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		for y := 0; y < h; y++ {
			row := frame.Data[y*frame.Stride():]
			for x := 0; x < w; x += 2 {
				i := x * 2
				img.Y[y*img.YStride+x] = row[i]
				img.Y[y*img.YStride+x+1] = row[i+2]
				img.Cb[y*img.CStride+x/2] = row[i+1]
				img.Cr[y*img.CStride+x/2] = row[i+3]
			}
		}
		return img, nil

	default:
		return nil, fmt.Errorf("unsupported pixel format %s", frame.Format)
	}
}
