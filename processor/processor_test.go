package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nasti-l/movement-tracker/capture"
	"github.com/nasti-l/movement-tracker/queue"
)

func newTestProcessor(t *testing.T, cfg Config, d Deriver) (*Processor, *queue.Queue[Record]) {
	t.Helper()
	out := queue.New[Record](queue.Config{})
	p, err := New(cfg, d, out)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return p, out
}

func seqDeriver() Deriver {
	return DeriverFunc(func(f capture.Frame) (Record, error) {
		return Record{FrameSeq: f.Seq, Posture: PostureNormal}, nil
	})
}

// collect pops n records or fails after timeout.
func collect(t *testing.T, out *queue.Queue[Record], n int, timeout time.Duration) []Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	recs := make([]Record, 0, n)
	for len(recs) < n {
		r, err := out.Get(ctx)
		if err != nil {
			t.Fatalf("got %d of %d records: %v", len(recs), n, err)
		}
		recs = append(recs, r)
	}
	return recs
}

func TestNewRequiresDeriverAndOutput(t *testing.T) {
	if _, err := New(Config{}, nil, queue.New[Record](queue.Config{})); err == nil {
		t.Error("New() without deriver succeeded")
	}
	if _, err := New(Config{}, seqDeriver(), nil); err == nil {
		t.Error("New() without output succeeded")
	}
}

func TestProcessorOrdering(t *testing.T) {
	p, out := newTestProcessor(t, Config{}, seqDeriver())
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer p.Stop()

	const n = 200
	for i := 1; i <= n; i++ {
		p.ProcessFrame(capture.Frame{Seq: uint64(i), Timestamp: time.Now()})
	}

	recs := collect(t, out, n, 2*time.Second)
	for i, r := range recs {
		if r.FrameSeq != uint64(i+1) {
			t.Fatalf("record %d FrameSeq = %d, want %d", i, r.FrameSeq, i+1)
		}
	}

	s := p.Stats()
	if s.FramesIn != n || s.RecordsOut != n || s.Errors != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	t.Logf("✅ %d records in frame order", n)
}

func TestProcessorDropsFailedRecords(t *testing.T) {
	d := DeriverFunc(func(f capture.Frame) (Record, error) {
		switch f.Seq {
		case 2:
			return Record{}, errors.New("bad frame")
		case 4:
			panic("deriver bug")
		}
		return Record{FrameSeq: f.Seq}, nil
	})
	p, out := newTestProcessor(t, Config{}, d)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer p.Stop()

	for i := 1; i <= 5; i++ {
		p.ProcessFrame(capture.Frame{Seq: uint64(i)})
	}

	recs := collect(t, out, 3, 2*time.Second)
	want := []uint64{1, 3, 5}
	for i, r := range recs {
		if r.FrameSeq != want[i] {
			t.Errorf("record %d FrameSeq = %d, want %d", i, r.FrameSeq, want[i])
		}
	}
	if !p.Running() {
		t.Error("processor stopped after a deriver panic")
	}
	if e := p.Stats().Errors; e != 2 {
		t.Errorf("Errors = %d, want 2", e)
	}
}

func TestProcessorStopDrainsPending(t *testing.T) {
	release := make(chan struct{})
	var derived atomic.Int32
	d := DeriverFunc(func(f capture.Frame) (Record, error) {
		<-release
		derived.Add(1)
		return Record{FrameSeq: f.Seq}, nil
	})
	p, out := newTestProcessor(t, Config{}, d)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	for i := 1; i <= 10; i++ {
		p.ProcessFrame(capture.Frame{Seq: uint64(i)})
	}

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()
	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if derived.Load() != 10 || out.Len() != 10 {
		t.Errorf("derived=%d queued=%d, want 10 each", derived.Load(), out.Len())
	}
}

func TestProcessorDropPendingOnStop(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	d := DeriverFunc(func(f capture.Frame) (Record, error) {
		entered <- struct{}{}
		<-release
		return Record{FrameSeq: f.Seq}, nil
	})
	p, out := newTestProcessor(t, Config{DropPendingOnStop: true}, d)

	// Not started: frames accumulate.
	for i := 1; i <= 5; i++ {
		p.ProcessFrame(capture.Frame{Seq: uint64(i)})
	}
	if s := p.Stats(); s.Pending != 5 {
		t.Fatalf("Pending = %d, want 5", s.Pending)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	<-entered
	ctx := p.runner.Context()

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()
	<-ctx.Done()
	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	s := p.Stats()
	if s.RecordsOut != 1 || out.Len() != 1 {
		t.Errorf("RecordsOut=%d queued=%d, want 1", s.RecordsOut, out.Len())
	}
	if s.FramesDropped != 4 || s.Pending != 0 {
		t.Errorf("FramesDropped=%d Pending=%d, want 4 and 0", s.FramesDropped, s.Pending)
	}
}

func TestProcessorLifecycle(t *testing.T) {
	p, _ := newTestProcessor(t, Config{Name: "lifecycle"}, seqDeriver())

	if err := p.Stop(); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := p.Start(); err == nil {
		t.Error("second Start() succeeded")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
	if p.Running() {
		t.Error("Running() after Stop")
	}
}

func TestProcessorBoundedFrameQueue(t *testing.T) {
	p, _ := newTestProcessor(t, Config{
		FrameQueue: queue.Config{Capacity: 2, Policy: queue.DropNewest},
	}, seqDeriver())

	for i := 1; i <= 5; i++ {
		p.ProcessFrame(capture.Frame{Seq: uint64(i)})
	}
	s := p.Stats()
	if s.FramesIn != 5 || s.FramesDropped != 3 || s.Pending != 2 {
		t.Errorf("Stats() = %+v, want 5 in, 3 dropped, 2 pending", s)
	}
}

func TestProcessorWithMockSource(t *testing.T) {
	policy := newTestPolicy(t, PolicyConfig{})
	p, out := newTestProcessor(t, Config{}, policy)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	src, err := capture.NewMockSource(capture.Config{
		Width:     16,
		Height:    12,
		FPS:       120,
		MaxFrames: 8,
	}, capture.MockConfig{Value: 255}, p.ProcessFrame)
	if err != nil {
		t.Fatalf("NewMockSource() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("source Start() = %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}

	if out.Len() != 8 {
		t.Fatalf("got %d records, want 8", out.Len())
	}
	for i := 1; i <= 8; i++ {
		rec, _ := out.TryGet()
		if rec.FrameSeq != uint64(i) {
			t.Errorf("record %d FrameSeq = %d", i, rec.FrameSeq)
		}
		if rec.Posture != PostureSlouching || rec.HeadY != 255 {
			t.Errorf("record %d = %s head_y=%v, want slouching 255", i, rec.Posture, rec.HeadY)
		}
		if rec.TraceID == "" {
			t.Errorf("record %d has no trace id", i)
		}
	}

	if c := p.Stats().Cadence; c.Frames != 8 {
		t.Errorf("Cadence.Frames = %d, want 8", c.Frames)
	}
	t.Logf("✅ mock source → processor → 8 records")
}
