package gstpipe

import (
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// SampleFunc receives a private copy of one frame's pixel bytes. It runs on
// the GStreamer streaming thread.
type SampleFunc func(data []byte)

// OnNewSample pulls a sample from the appsink, copies its bytes and hands them
// to fn.
//
// A bad sample is skipped rather than terminating the stream; the function
// always returns gst.FlowOK.
func OnNewSample(sink *app.Sink, fn SampleFunc) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstpipe: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstpipe: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstpipe: empty buffer received")
		return gst.FlowOK
	}

	// GStreamer reuses the buffer after Unmap
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	fn(frameData)
	return gst.FlowOK
}

// Unpad strips GStreamer's 4-byte row alignment from raw video so rows are
// tightly packed (width*depth bytes). It returns the input unchanged when
// already tight, and false when the size matches neither layout.
func Unpad(data []byte, width, height, depth int) ([]byte, bool) {
	row := width * depth
	if len(data) == row*height {
		return data, true
	}

	stride := (row + 3) &^ 3
	if len(data) != stride*height {
		return nil, false
	}

	out := make([]byte, row*height)
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, true
}
