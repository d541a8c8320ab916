package audiostream

import "context"

// Runtime is the multimedia framework that actually moves audio.
//
// The Controller drives a Runtime through this contract and never looks
// inside it. Implementations must guarantee:
//   - Realize, Connect, Activate and Deactivate are called from one goroutine
//   - Start returns immediately; processing runs on the runtime's own workers
//   - Deactivate is idempotent and safe on stages that were never activated
//   - Wait returns exactly the first terminal event of the run
//
// Two implementations live in this module: internal/gstreamer (GStreamer via
// go-gst) and internal/native (pure Go, in-process).
type Runtime interface {
	// Name identifies the runtime in logs
	Name() string

	// Realize instantiates the external resource backing one stage.
	//
	// Returns an error if the stage cannot be created (missing plugin or
	// codec, capture device not present). The Controller wraps it in a
	// *StageCreationError.
	Realize(s *Stage) error

	// Connect links two realized stages. format is the negotiated format of
	// the link and convert requests an implicit converter on it.
	Connect(l Link, format MediaFormat, convert bool) error

	// Activate brings one stage to its active state. Stages are activated
	// sinks first so that nothing flows into an inactive stage.
	Activate(id StageID) error

	// Start sets the whole pipeline running once every stage is active.
	// Non-blocking.
	Start() error

	// SendEndOfStream injects end-of-stream at the sources so encoders and
	// muxers flush. Non-blocking; completion is reported by Wait.
	SendEndOfStream() error

	// Wait blocks until the next terminal event. It returns nil when ctx is
	// cancelled before any event arrives.
	Wait(ctx context.Context) TerminalEvent

	// Deactivate releases the resources of one stage.
	Deactivate(id StageID) error

	// Release frees pipeline-wide resources after every stage is deactivated.
	Release() error
}
