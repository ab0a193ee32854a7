// Package processor derives posture records from captured frames.
//
// The capture context hands frames to ProcessFrame, which only enqueues them.
// A worker goroutine (a lifecycle.Runner owned by the Processor) pops frames
// in order, runs the Deriver and puts each record on the output queue:
//
//	capture callback → ProcessFrame → frame queue → worker → Derive → output queue
//
// Derivation errors and panics drop that frame's record; processing continues.
package processor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nasti-l/movement-tracker/capture"
	"github.com/nasti-l/movement-tracker/internal/cadence"
	"github.com/nasti-l/movement-tracker/lifecycle"
	"github.com/nasti-l/movement-tracker/queue"
)

// Config configures a Processor.
type Config struct {
	Name string
	// FrameQueue bounds the intermediate frame queue. Default unbounded.
	FrameQueue queue.Config
	// StopTimeout bounds Stop (default 3s).
	StopTimeout time.Duration
	// DropPendingOnStop discards queued frames on Stop instead of deriving them.
	DropPendingOnStop bool
	// CadenceWindow is how many frame arrivals feed Stats().Cadence (default 120).
	CadenceWindow int
}

// Stats is a snapshot of processor counters.
type Stats struct {
	FramesIn       uint64
	FramesDropped  uint64 // rejected by a bounded frame queue or discarded on stop
	RecordsOut     uint64
	Errors         uint64 // derivation errors and panics
	RecordsDropped uint64 // rejected by the output queue
	Pending        int
	Cadence        cadence.Stats
}

// Processor consumes frames and produces records.
type Processor struct {
	cfg     Config
	deriver Deriver

	frames *queue.Queue[capture.Frame]
	out    *queue.Queue[Record]
	runner *lifecycle.Runner
	window *cadence.Window

	framesIn       atomic.Uint64
	framesDropped  atomic.Uint64
	recordsOut     atomic.Uint64
	errors         atomic.Uint64
	recordsDropped atomic.Uint64
}

// New creates an idle processor writing to out.
func New(cfg Config, deriver Deriver, out *queue.Queue[Record]) (*Processor, error) {
	if deriver == nil {
		return nil, errors.New("processor: deriver is required")
	}
	if out == nil {
		return nil, errors.New("processor: output queue is required")
	}
	if cfg.Name == "" {
		cfg.Name = "processor"
	}

	p := &Processor{
		cfg:     cfg,
		deriver: deriver,
		frames:  queue.New[capture.Frame](cfg.FrameQueue),
		out:     out,
		window:  cadence.NewWindow(cfg.CadenceWindow),
	}
	p.runner = lifecycle.New(lifecycle.Config{
		Name:        cfg.Name,
		StopTimeout: cfg.StopTimeout,
	}, p.loop)

	return p, nil
}

// Start launches the worker. Frames enqueued before Start are processed.
func (p *Processor) Start() error {
	if err := p.runner.Start(); err != nil {
		return err
	}
	slog.Info("processor: started", "name", p.cfg.Name, "pending", p.frames.Len())
	return nil
}

// Stop stops the worker. Unless DropPendingOnStop is set, frames already
// queued are derived before Stop returns.
func (p *Processor) Stop() error {
	if err := p.runner.Stop(); err != nil {
		return fmt.Errorf("processor: %w", err)
	}
	return nil
}

// Running reports whether the worker is live.
func (p *Processor) Running() bool {
	return p.runner.Running()
}

// ProcessFrame enqueues frame for derivation. It is safe to call from the
// capture context: with the default unbounded queue it never blocks.
func (p *Processor) ProcessFrame(frame capture.Frame) {
	p.framesIn.Add(1)
	p.window.Observe(frame.Timestamp)

	if err := p.frames.Put(frame); err != nil {
		p.framesDropped.Add(1)
		slog.Debug("processor: frame rejected",
			"name", p.cfg.Name,
			"seq", frame.Seq,
			"error", err,
		)
	}
}

// Stats returns a counter snapshot.
func (p *Processor) Stats() Stats {
	return Stats{
		FramesIn:       p.framesIn.Load(),
		FramesDropped:  p.framesDropped.Load(),
		RecordsOut:     p.recordsOut.Load(),
		Errors:         p.errors.Load(),
		RecordsDropped: p.recordsDropped.Load(),
		Pending:        p.frames.Len(),
		Cadence:        p.window.Stats(),
	}
}

func (p *Processor) loop(r *lifecycle.Runner) error {
	ctx := r.Context()

	for ctx.Err() == nil {
		frame, err := p.frames.Get(ctx)
		if err != nil {
			break
		}
		p.handle(frame)
	}

	pending := p.frames.Len()
	if pending == 0 {
		return nil
	}

	if p.cfg.DropPendingOnStop {
		var dropped uint64
		for {
			if _, ok := p.frames.TryGet(); !ok {
				break
			}
			dropped++
		}
		p.framesDropped.Add(dropped)
		slog.Info("processor: dropped pending frames on stop", "name", p.cfg.Name, "count", pending)
		return nil
	}

	for {
		frame, ok := p.frames.TryGet()
		if !ok {
			break
		}
		p.handle(frame)
	}
	slog.Debug("processor: drained pending frames", "name", p.cfg.Name, "count", pending)
	return nil
}

func (p *Processor) handle(frame capture.Frame) {
	rec, err := p.derive(frame)
	if err != nil {
		p.errors.Add(1)
		slog.Error("processor: derive failed, record dropped",
			"name", p.cfg.Name,
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return
	}

	if err := p.out.Put(rec); err != nil {
		p.recordsDropped.Add(1)
		slog.Warn("processor: output queue rejected record",
			"name", p.cfg.Name,
			"seq", frame.Seq,
			"error", err,
		)
		return
	}
	p.recordsOut.Add(1)

	slog.Debug("processor: record queued",
		"name", p.cfg.Name,
		"seq", rec.FrameSeq,
		"posture", rec.Posture,
		"head_y", rec.HeadY,
	)
}

func (p *Processor) derive(frame capture.Frame) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor: deriver panicked: %v", r)
		}
	}()
	return p.deriver.Derive(frame)
}
