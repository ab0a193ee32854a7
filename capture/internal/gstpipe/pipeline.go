// Package gstpipe builds and watches the GStreamer capture pipeline.
package gstpipe

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// AppSinkStage is the sink stage name that delivers frames directly.
const AppSinkStage = "appsink"

// Config describes the pipeline topology.
type Config struct {
	SourceStage string
	DevicePath  string // applied as "device" on v4l2src
	SinkStage   string
	Format      string // GStreamer video format: RGB, YUY2
	Width       int
	Height      int
	FPS         float64 // 0 keeps the native rate (no videorate)
	MaxFrames   int     // num-buffers on the source, 0 = unlimited
}

// Elements holds references to the built pipeline.
type Elements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	Source   *gst.Element
	Preview  *gst.Element // nil unless a preview sink stage is configured
}

// BuildError reports which stage could not be created or linked.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Available reports whether GStreamer can be initialized and create elements.
func Available() error {
	// Safe to call multiple times
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// Build creates and links the capture pipeline:
//
//	source → videoconvert → videoscale → [videorate] → capsfilter → appsink
//
// With a preview sink stage the tail becomes:
//
//	capsfilter → tee ─┬→ queue → appsink
//	                  └→ queue → videoconvert → <sink stage>
//
// The pipeline is returned in state NULL. On failure nothing is left running:
// the partial pipeline is set to NULL before returning a *BuildError.
func Build(cfg Config) (*Elements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, &BuildError{Stage: "pipeline", Err: err}
	}

	elems, err := build(pipeline, cfg)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}
	return elems, nil
}

func build(pipeline *gst.Pipeline, cfg Config) (*Elements, error) {
	newElement := func(factory string) (*gst.Element, error) {
		elem, err := gst.NewElement(factory)
		if err != nil {
			return nil, &BuildError{Stage: factory, Err: err}
		}
		return elem, nil
	}

	source, err := newElement(cfg.SourceStage)
	if err != nil {
		return nil, err
	}
	if cfg.SourceStage == "v4l2src" && cfg.DevicePath != "" {
		if err := source.SetProperty("device", cfg.DevicePath); err != nil {
			return nil, &BuildError{Stage: cfg.SourceStage, Err: err}
		}
	}
	if cfg.SourceStage == "videotestsrc" {
		source.SetProperty("is-live", true)
	}
	if cfg.MaxFrames > 0 {
		source.SetProperty("num-buffers", cfg.MaxFrames)
	}

	converter, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}
	scaler, err := newElement("videoscale")
	if err != nil {
		return nil, err
	}

	chain := []*gst.Element{source, converter, scaler}

	if cfg.FPS > 0 {
		videorate, err := newElement("videorate")
		if err != nil {
			return nil, err
		}
		videorate.SetProperty("drop-only", true)
		videorate.SetProperty("skip-to-first", true)
		chain = append(chain, videorate)
	}

	capsfilter, err := newElement("capsfilter")
	if err != nil {
		return nil, err
	}
	caps := BuildCaps(cfg.Format, cfg.Width, cfg.Height, cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(caps))
	chain = append(chain, capsfilter)

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, &BuildError{Stage: AppSinkStage, Err: err}
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("emit-signals", false)

	elems := &Elements{
		Pipeline: pipeline,
		AppSink:  appsink,
		Source:   source,
	}

	if cfg.SinkStage == "" || cfg.SinkStage == AppSinkStage {
		chain = append(chain, appsink.Element)
		if err := pipeline.AddMany(chain...); err != nil {
			return nil, &BuildError{Stage: "pipeline", Err: err}
		}
		if err := gst.ElementLinkMany(chain...); err != nil {
			return nil, &BuildError{Stage: "link", Err: err}
		}

		slog.Debug("gstpipe: pipeline built",
			"source", cfg.SourceStage,
			"sink", AppSinkStage,
			"caps", caps,
		)
		return elems, nil
	}

	preview, err := newElement(cfg.SinkStage)
	if err != nil {
		return nil, err
	}
	tee, err := newElement("tee")
	if err != nil {
		return nil, err
	}
	frameQueue, err := newElement("queue")
	if err != nil {
		return nil, err
	}
	previewQueue, err := newElement("queue")
	if err != nil {
		return nil, err
	}
	previewConvert, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}
	preview.SetProperty("sync", false)

	all := make([]*gst.Element, 0, len(chain)+6)
	all = append(all, chain...)
	all = append(all, tee, frameQueue, appsink.Element, previewQueue, previewConvert, preview)
	if err := pipeline.AddMany(all...); err != nil {
		return nil, &BuildError{Stage: "pipeline", Err: err}
	}

	chain = append(chain, tee)
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, &BuildError{Stage: "link", Err: err}
	}
	if err := gst.ElementLinkMany(tee, frameQueue, appsink.Element); err != nil {
		return nil, &BuildError{Stage: "link", Err: err}
	}
	if err := gst.ElementLinkMany(tee, previewQueue, previewConvert, preview); err != nil {
		return nil, &BuildError{Stage: cfg.SinkStage, Err: err}
	}

	elems.Preview = preview

	slog.Debug("gstpipe: pipeline built",
		"source", cfg.SourceStage,
		"sink", cfg.SinkStage,
		"preview", true,
		"caps", caps,
	)
	return elems, nil
}

// Destroy sets the pipeline to NULL, releasing the device.
//
// Safe to call on nil or already stopped pipelines.
func Destroy(elems *Elements) error {
	if elems == nil || elems.Pipeline == nil {
		return nil
	}
	if err := elems.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// BuildCaps builds the capsfilter caps string.
//
// Framerate handling:
//   - fps <= 0: no framerate constraint
//   - fps >= 1: framerate = fps/1 (e.g. 5.0 → 5/1)
//   - fps < 1:  framerate = 1/(1/fps) (e.g. 0.5 → 1/2)
func BuildCaps(format string, width, height int, fps float64) string {
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", format, width, height)
	if fps <= 0 {
		return caps
	}

	numerator, denominator := 1, 1
	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}
	return fmt.Sprintf("%s,framerate=%d/%d", caps, numerator, denominator)
}
