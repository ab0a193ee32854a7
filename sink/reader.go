package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nasti-l/movement-tracker/lifecycle"
	"github.com/nasti-l/movement-tracker/processor"
	"github.com/nasti-l/movement-tracker/queue"
)

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Name string
	// PollInterval is the sleep between empty polls. Default 10ms.
	PollInterval time.Duration
	StopTimeout  time.Duration
}

// ReaderStats is a snapshot of reader counters.
type ReaderStats struct {
	Read          uint64
	PublishErrors uint64
}

// Reader drains the output queue into a Sink on its own goroutine.
type Reader struct {
	cfg    ReaderConfig
	in     *queue.Queue[processor.Record]
	sink   Sink
	runner *lifecycle.Runner

	read   atomic.Uint64
	errors atomic.Uint64
}

// NewReader creates an idle reader.
func NewReader(cfg ReaderConfig, in *queue.Queue[processor.Record], sink Sink) (*Reader, error) {
	if in == nil {
		return nil, errors.New("sink: reader input queue is required")
	}
	if sink == nil {
		return nil, errors.New("sink: reader sink is required")
	}
	if cfg.Name == "" {
		cfg.Name = "reader"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	rd := &Reader{cfg: cfg, in: in, sink: sink}
	rd.runner = lifecycle.New(lifecycle.Config{
		Name:        cfg.Name,
		StopTimeout: cfg.StopTimeout,
	}, rd.loop)
	return rd, nil
}

// Start launches the polling loop.
func (rd *Reader) Start() error {
	return rd.runner.Start()
}

// Stop ends polling after publishing whatever is still queued.
func (rd *Reader) Stop() error {
	if err := rd.runner.Stop(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

// Stats returns a counter snapshot.
func (rd *Reader) Stats() ReaderStats {
	return ReaderStats{
		Read:          rd.read.Load(),
		PublishErrors: rd.errors.Load(),
	}
}

func (rd *Reader) loop(r *lifecycle.Runner) error {
	for r.Running() {
		if !rd.drain(r.Running) {
			r.Wait(rd.cfg.PollInterval)
		}
	}
	rd.drain(nil)
	return nil
}

// drain publishes queued records until the queue is empty or more returns
// false, and reports whether it published any.
func (rd *Reader) drain(more func() bool) bool {
	got := false
	for more == nil || more() {
		rec, ok := rd.in.TryGet()
		if !ok {
			return got
		}
		got = true
		rd.read.Add(1)
		if err := rd.sink.Publish(rec); err != nil {
			rd.errors.Add(1)
			slog.Warn("sink: publish failed",
				"reader", rd.cfg.Name,
				"frame_seq", rec.FrameSeq,
				"error", err,
			)
		}
	}
	return got
}
