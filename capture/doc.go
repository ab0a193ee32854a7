// Package capture provides frame sources for the posture pipeline.
//
// A Source produces frames and invokes one registered FrameCallback per frame,
// synchronously, on its capture context (the GStreamer streaming thread for
// GstSource, the Start goroutine for MockSource). Frames are delivered in
// capture order.
//
// Lifecycle:
//
//	Idle --Start(ctx)--> Running --Stop() / ctx / EOS / error--> Idle
//
// Start blocks for the whole session. End-of-stream and runtime errors stop
// the source on their own: Start returns nil for EOS and a *CaptureError for
// errors (after calling Config.OnError). Stop before Start is a no-op.
//
// Constructors fail fast with an *InitError (errors.Is(err, ErrInit)) when the
// topology cannot be built, for example when a configured stage does not
// exist. No half-built pipeline is left behind.
//
// Usage:
//
//	src, err := capture.NewGstSource(capture.Config{
//	    SourceStage: "v4l2src",
//	    DevicePath:  "/dev/video0",
//	}, func(f capture.Frame) {
//	    h, w, d := f.Shape()
//	    fmt.Println(h, w, d)
//	})
//	if errors.Is(err, capture.ErrInit) {
//	    log.Fatal(err)
//	}
//	go src.Start(ctx)
//	defer src.Stop()
//
// Supervise restarts a source after runtime errors with exponential backoff.
package capture
