// Package audiostream captures audio, encodes it and streams it over RTP,
// optionally recording a second copy into rotating segment files.
//
// The package separates what the pipeline is from how it runs:
//
//   - Graph, Stage and StageConfig describe the topology as plain data and
//     validate it (cycles, dangling ports, media format agreement) without
//     touching any device.
//   - Runtime is the multimedia framework that moves the audio. Two are
//     provided: internal/gstreamer (GStreamer via go-gst) and internal/native
//     (pure Go, used for tests and machines without GStreamer).
//   - Controller drives one pipeline through its lifecycle and turns runtime
//     failures into typed errors.
//
// # Quick Start
//
//	cfg := audiostream.DefaultConfig()
//	cfg.Capture.Source = audiostream.SourceTest
//	cfg.Record.Enabled = true
//
//	rt, err := gstreamer.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctrl := audiostream.NewController(rt)
//	if err := ctrl.Build(cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ctrl.Activate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := ctrl.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lifecycle
//
//	Unbuilt --Build--> Ready --Activate--> Playing --Run--> Stopped | Failed
//
// Build failures leave the Controller Unbuilt. Activation failures roll back
// and leave it Ready. Stopped and Failed are terminal: a new Controller is
// needed for another run.
//
// # Recording Branch
//
// When recording is enabled a Junction duplicates every unit to both
// branches. Each branch begins with its own leaky Buffer: when it is full new
// units are dropped for that branch only, so disk stalls never delay the
// network stream and network stalls never starve the recording. The SegmentWriter rotates files once they reach MaxBytes
// and keeps the newest MaxSegments.
package audiostream
