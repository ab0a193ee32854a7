package gstpipe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// busPollInterval bounds how long a Stop or ctx cancellation waits for the
// watch loop to notice.
const busPollInterval = 50 * time.Millisecond

// Outcome describes why Watch returned.
type Outcome int

const (
	// OutcomeStopped means ctx was cancelled or stop was closed.
	OutcomeStopped Outcome = iota
	// OutcomeEOS means the pipeline reached end-of-stream.
	OutcomeEOS
	// OutcomeError means the pipeline posted an error message.
	OutcomeError
)

// BusError is a pipeline error message taken off the bus.
type BusError struct {
	Message  string
	Debug    string
	Category Category
}

func (e *BusError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

// Watch polls the pipeline bus until EOS, an error message, ctx cancellation
// or stop is closed. It does not change the pipeline state; the caller owns
// teardown.
//
// The returned error is a *BusError iff the outcome is OutcomeError.
func Watch(ctx context.Context, pipeline *gst.Pipeline, stop <-chan struct{}) (Outcome, error) {
	if pipeline == nil {
		return OutcomeError, &BusError{Message: "pipeline not initialized", Category: CategoryUnknown}
	}

	bus := pipeline.GetPipelineBus()
	name := pipeline.GetName()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstpipe: context cancelled, stopping bus watch")
			return OutcomeStopped, nil
		case <-stop:
			slog.Debug("gstpipe: stop requested, stopping bus watch")
			return OutcomeStopped, nil
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return OutcomeEOS, nil

		case gst.MessageError:
			gerr := msg.ParseError()
			busErr := &BusError{Category: CategoryUnknown}
			if gerr != nil {
				busErr.Message = gerr.Error()
				busErr.Debug = gerr.DebugString()
				busErr.Category = Classify(busErr.Message, busErr.Debug)
			}
			return OutcomeError, busErr

		case gst.MessageWarning:
			if gwarn := msg.ParseWarning(); gwarn != nil {
				slog.Warn("gstpipe: pipeline warning",
					"warning", gwarn.Error(),
					"debug", gwarn.DebugString(),
				)
			}

		case gst.MessageStateChanged:
			if msg.Source() == name {
				oldState, newState := msg.ParseStateChanged()
				slog.Debug("gstpipe: pipeline state changed",
					"from", oldState,
					"to", newState,
				)
			}
		}
	}
}
