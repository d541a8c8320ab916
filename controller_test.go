package audiostream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRuntime records every call and fails on demand.
type fakeRuntime struct {
	mu    sync.Mutex
	calls []string

	failRealize    map[StageID]bool
	failConnect    map[StageID]bool // keyed by the downstream stage
	failActivate   map[StageID]bool
	failDeactivate map[StageID]bool
	failStart      bool

	// eosOnSend posts EndOfStream when end-of-stream is injected
	eosOnSend bool
	events    chan TerminalEvent
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		failRealize:    map[StageID]bool{},
		failConnect:    map[StageID]bool{},
		failActivate:   map[StageID]bool{},
		failDeactivate: map[StageID]bool{},
		events:         make(chan TerminalEvent, 4),
	}
}

func (f *fakeRuntime) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRuntime) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, strings.TrimPrefix(c, prefix))
		}
	}
	return out
}

func (f *fakeRuntime) Name() string { return "fake" }

func (f *fakeRuntime) Realize(s *Stage) error {
	f.record("realize:" + string(s.ID))
	if f.failRealize[s.ID] {
		return fmt.Errorf("no element for %s", s.Kind())
	}
	return nil
}

func (f *fakeRuntime) Connect(l Link, _ MediaFormat, _ bool) error {
	f.record("connect:" + l.String())
	if f.failConnect[l.To] {
		return errors.New("pads refused")
	}
	return nil
}

func (f *fakeRuntime) Activate(id StageID) error {
	f.record("activate:" + string(id))
	if f.failActivate[id] {
		return errors.New("state change refused")
	}
	return nil
}

func (f *fakeRuntime) Start() error {
	f.record("start")
	if f.failStart {
		return errors.New("pipeline refused to play")
	}
	return nil
}

func (f *fakeRuntime) SendEndOfStream() error {
	f.record("eos")
	if f.eosOnSend {
		f.events <- EndOfStream{}
	}
	return nil
}

func (f *fakeRuntime) Wait(ctx context.Context) TerminalEvent {
	select {
	case ev := <-f.events:
		return ev
	case <-ctx.Done():
		return nil
	}
}

func (f *fakeRuntime) Deactivate(id StageID) error {
	f.record("deactivate:" + string(id))
	if f.failDeactivate[id] {
		return errors.New("stuck")
	}
	return nil
}

func (f *fakeRuntime) Release() error {
	f.record("release")
	return nil
}

// streamingConfig is the default streaming-only pipeline fed by the test tone.
func streamingConfig() Config {
	cfg := DefaultConfig()
	cfg.Capture = CaptureConfig{Source: SourceTest, NumBuffers: 10}
	return cfg
}

// streamOrder is the topological order of streamingConfig.
var streamOrder = []string{
	string(StageCapture), string(StageFormat), string(StageResample),
	string(StageStreamEncode), string(StageStreamPayload), string(StageStreamSend),
}

func playingController(t *testing.T, rt *fakeRuntime, cfg Config) *Controller {
	t.Helper()
	c := NewController(rt)
	if err := c.Build(cfg); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	return c
}

func TestController_EndOfStream(t *testing.T) {
	rt := newFakeRuntime()
	c := playingController(t, rt, streamingConfig())

	rt.events <- EndOfStream{}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []PipelineState{StateUnbuilt, StateReady, StatePlaying, StateStopped}
	if !slices.Equal(c.Transitions(), want) {
		t.Errorf("transitions = %v, want %v", c.Transitions(), want)
	}

	if got := rt.callsWithPrefix("realize:"); !slices.Equal(got, streamOrder) {
		t.Errorf("realize order = %v, want %v", got, streamOrder)
	}

	reversed := slices.Clone(streamOrder)
	slices.Reverse(reversed)
	if got := rt.callsWithPrefix("activate:"); !slices.Equal(got, reversed) {
		t.Errorf("activate order = %v, want sinks first %v", got, reversed)
	}

	if n := len(rt.callsWithPrefix("eos")); n != 1 {
		t.Errorf("end-of-stream forwarded %d times, want 1", n)
	}
	if got := rt.callsWithPrefix("deactivate:"); len(got) != len(streamOrder) {
		t.Errorf("deactivated %v, want every stage", got)
	}
}

func TestController_BuildFailures(t *testing.T) {
	t.Run("stage creation", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.failRealize[StageStreamEncode] = true
		c := NewController(rt)

		err := c.Build(streamingConfig())

		var creation *StageCreationError
		if !errors.As(err, &creation) {
			t.Fatalf("expected *StageCreationError, got %T: %v", err, err)
		}
		if creation.Stage != StageStreamEncode || creation.Kind != KindEncode {
			t.Errorf("error names %s (%s)", creation.Stage, creation.Kind)
		}
		if c.State() != StateUnbuilt {
			t.Errorf("state = %s, want unbuilt", c.State())
		}

		// stages realized before the failure are released, newest first
		want := []string{string(StageResample), string(StageFormat), string(StageCapture)}
		if got := rt.callsWithPrefix("deactivate:"); !slices.Equal(got, want) {
			t.Errorf("released %v, want %v", got, want)
		}
		if len(rt.callsWithPrefix("release")) != 1 {
			t.Errorf("pipeline not released")
		}
	})

	t.Run("link refused", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.failConnect[StageStreamPayload] = true
		c := NewController(rt)

		err := c.Build(streamingConfig())

		var linkErr *LinkError
		if !errors.As(err, &linkErr) {
			t.Fatalf("expected *LinkError, got %T: %v", err, err)
		}
		if linkErr.Link.To != StageStreamPayload {
			t.Errorf("link = %s", linkErr.Link)
		}
		if c.State() != StateUnbuilt {
			t.Errorf("state = %s, want unbuilt", c.State())
		}
	})

	t.Run("invalid configuration", func(t *testing.T) {
		cfg := streamingConfig()
		cfg.Stream.Transport.Port = 0
		c := NewController(newFakeRuntime())

		var creation *StageCreationError
		if err := c.Build(cfg); !errors.As(err, &creation) || creation.Stage != StageStreamSend {
			t.Errorf("got %v, want creation error for %s", err, StageStreamSend)
		}
	})

	t.Run("invalid topology", func(t *testing.T) {
		g := NewGraph()
		mustAdd(t, g, mustStage(t, "cap", testSource()))
		c := NewController(newFakeRuntime())

		var linkErr *LinkError
		if err := c.BuildGraph(g); !errors.As(err, &linkErr) {
			t.Errorf("got %v, want *LinkError", err)
		}
	})
}

func TestController_ActivationRollback(t *testing.T) {
	rt := newFakeRuntime()
	rt.failActivate[StageResample] = true
	c := NewController(rt)
	if err := c.Build(streamingConfig()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	err := c.Activate()

	var actErr *ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected *ActivationError, got %T: %v", err, err)
	}
	if actErr.Stage != StageResample || actErr.RollbackErr != nil {
		t.Errorf("error = %+v", actErr)
	}
	if c.State() != StateReady {
		t.Errorf("state = %s, want ready", c.State())
	}

	// stages downstream of resample were activated and are rolled back in reverse
	want := []string{string(StageStreamEncode), string(StageStreamPayload), string(StageStreamSend)}
	if got := rt.callsWithPrefix("deactivate:"); !slices.Equal(got, want) {
		t.Errorf("rollback = %v, want %v", got, want)
	}
	for _, id := range rt.callsWithPrefix("activate:") {
		if id == string(StageCapture) || id == string(StageFormat) {
			t.Errorf("%s activated after an upstream failure", id)
		}
	}
	if len(rt.callsWithPrefix("start")) != 0 {
		t.Errorf("pipeline started despite activation failure")
	}
}

func TestController_StartFailureRollsBack(t *testing.T) {
	rt := newFakeRuntime()
	rt.failStart = true
	rt.failDeactivate[StageCapture] = true
	c := NewController(rt)
	if err := c.Build(streamingConfig()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	err := c.Activate()

	var actErr *ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected *ActivationError, got %T: %v", err, err)
	}
	var deact *DeactivationError
	if !errors.As(actErr.RollbackErr, &deact) || deact.Failures[0].Stage != StageCapture {
		t.Errorf("rollback error = %v, want capture failure", actErr.RollbackErr)
	}
	if got := rt.callsWithPrefix("deactivate:"); len(got) != len(streamOrder) {
		t.Errorf("rolled back %v, want every stage", got)
	}
}

func TestController_RuntimeError(t *testing.T) {
	rt := newFakeRuntime()
	c := playingController(t, rt, streamingConfig())

	rt.events <- ErrorEvent{Source: StageStreamSend, Message: "Could not send", Debug: "udpsink.c:42"}
	err := c.Run(context.Background())

	var rtErr *RuntimeError
	if !errors.As(err, &rtErr) {
		t.Fatalf("expected *RuntimeError, got %T: %v", err, err)
	}
	if rtErr.Stage != StageStreamSend || rtErr.Debug != "udpsink.c:42" {
		t.Errorf("error = %+v", rtErr)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
	if len(rt.callsWithPrefix("eos")) != 0 {
		t.Errorf("end-of-stream sent after an error")
	}

	// terminal: Deactivate is a no-op
	before := len(rt.callsWithPrefix("deactivate:"))
	if err := c.Deactivate(); err != nil {
		t.Errorf("Deactivate after failure: %v", err)
	}
	if after := len(rt.callsWithPrefix("deactivate:")); after != before {
		t.Errorf("Deactivate touched stages again (%d -> %d)", before, after)
	}
}

func TestController_ExplicitStop(t *testing.T) {
	tests := []struct {
		name      string
		eosOnSend bool
	}{
		{"end-of-stream drains", true},
		{"drain timeout", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newFakeRuntime()
			rt.eosOnSend = tt.eosOnSend
			cfg := streamingConfig()
			cfg.DrainTimeout = 50 * time.Millisecond
			c := playingController(t, rt, cfg)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			start := time.Now()
			if err := c.Run(ctx); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("stop took %s", elapsed)
			}
			if c.State() != StateStopped {
				t.Errorf("state = %s, want stopped", c.State())
			}
			if n := len(rt.callsWithPrefix("eos")); n != 1 {
				t.Errorf("end-of-stream sent %d times, want 1", n)
			}
		})
	}
}

func TestController_DeactivateIsBestEffort(t *testing.T) {
	rt := newFakeRuntime()
	rt.failDeactivate[StageCapture] = true
	rt.failDeactivate[StageStreamSend] = true
	c := playingController(t, rt, streamingConfig())

	err := c.Deactivate()

	var deact *DeactivationError
	if !errors.As(err, &deact) {
		t.Fatalf("expected *DeactivationError, got %T: %v", err, err)
	}
	if len(deact.Failures) != 2 {
		t.Errorf("failures = %+v, want 2", deact.Failures)
	}
	if got := rt.callsWithPrefix("deactivate:"); len(got) != len(streamOrder) {
		t.Errorf("attempted %v, want every stage", got)
	}
	if c.State() != StateStopped {
		t.Errorf("state = %s, want stopped", c.State())
	}

	if err := c.Deactivate(); err != nil {
		t.Errorf("second Deactivate: %v", err)
	}
}

func TestController_InvalidState(t *testing.T) {
	c := NewController(newFakeRuntime())

	if err := c.Activate(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Activate before Build: %v", err)
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Run before Activate: %v", err)
	}
	if err := c.Deactivate(); err != nil {
		t.Errorf("Deactivate on unbuilt pipeline: %v", err)
	}

	if err := c.Build(streamingConfig()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := c.Build(streamingConfig()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Build: %v", err)
	}
	if c.RunID() == "" || c.RunID() == NewController(newFakeRuntime()).RunID() {
		t.Errorf("run ids must be unique and non-empty")
	}
}
