package audiostream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Controller owns one pipeline and drives it through its lifecycle:
//
//	Unbuilt --Build--> Ready --Activate--> Playing --Run--> Stopped | Failed
//
// Failures during Build leave the Controller Unbuilt; failures during
// Activate roll back every activated stage and leave it Ready. Stopped and
// Failed are terminal.
//
// Thread-safety: State, RunID and Transitions are safe from any goroutine.
// Build, Activate, Run and Deactivate must be called from one goroutine.
type Controller struct {
	rt    Runtime
	runID string
	log   *slog.Logger

	mu          sync.RWMutex
	state       PipelineState
	transitions []PipelineState

	graph        *Graph
	order        []*Stage // topological order, sources first
	realized     []StageID
	drainTimeout time.Duration
	started      time.Time
}

// NewController creates a Controller bound to rt.
//
// Every log line emitted by the Controller carries a run_id attribute that
// identifies this pipeline run.
func NewController(rt Runtime) *Controller {
	id := uuid.NewString()
	return &Controller{
		rt:           rt,
		runID:        id,
		log:          slog.Default().With("run_id", id, "runtime", rt.Name()),
		state:        StateUnbuilt,
		transitions:  []PipelineState{StateUnbuilt},
		drainTimeout: DefaultDrainTimeout,
	}
}

// RunID returns the unique id of this pipeline run.
func (c *Controller) RunID() string {
	return c.runID
}

// State returns the current pipeline state.
func (c *Controller) State() PipelineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transitions returns every state the Controller went through, in order.
func (c *Controller) Transitions() []PipelineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]PipelineState(nil), c.transitions...)
}

// Graph returns the built graph, or nil before Build.
func (c *Controller) Graph() *Graph {
	return c.graph
}

func (c *Controller) setState(s PipelineState) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.transitions = append(c.transitions, s)
	c.mu.Unlock()

	c.log.Debug("audio-stream: state changed", "from", from.String(), "to", s.String())
}

// Build assembles the graph described by cfg and realizes it.
//
// Returns a *StageCreationError when a stage cannot be created and a
// *LinkError when the topology is invalid or a link is refused. On error the
// Controller stays Unbuilt and every realized stage is released.
func (c *Controller) Build(cfg Config) error {
	g, err := BuildGraph(cfg)
	if err != nil {
		return err
	}
	c.drainTimeout = cfg.DrainTimeout
	return c.BuildGraph(g)
}

// BuildGraph validates g and realizes it in the runtime.
//
// Error contract as Build.
func (c *Controller) BuildGraph(g *Graph) error {
	if c.State() != StateUnbuilt {
		return fmt.Errorf("build in state %s: %w", c.State(), ErrInvalidState)
	}

	if err := g.Validate(); err != nil {
		c.log.Error("audio-stream: invalid pipeline graph", "error", err)
		return &LinkError{Err: err}
	}

	order, err := g.Order()
	if err != nil {
		return &LinkError{Err: err}
	}

	for _, s := range order {
		if err := c.rt.Realize(s); err != nil {
			c.log.Error("audio-stream: failed to create stage",
				"stage", s.ID,
				"kind", s.Kind(),
				"error", err,
			)
			c.discard()
			return &StageCreationError{Stage: s.ID, Kind: s.Kind(), Err: err}
		}
		c.realized = append(c.realized, s.ID)
	}

	for _, l := range g.Links() {
		format, _ := g.Format(l)
		if err := c.rt.Connect(l, format, g.ConversionAllowed(l)); err != nil {
			c.log.Error("audio-stream: failed to link stages", "link", l.String(), "error", err)
			c.discard()
			return &LinkError{Link: l, Err: err}
		}
	}

	c.graph = g
	c.order = order
	c.setState(StateReady)

	c.log.Info("audio-stream: pipeline built",
		"stages", len(order),
		"links", len(g.Links()),
	)
	return nil
}

// discard releases everything realized by a failed build.
func (c *Controller) discard() {
	for i := len(c.realized) - 1; i >= 0; i-- {
		if err := c.rt.Deactivate(c.realized[i]); err != nil {
			c.log.Warn("audio-stream: failed to release stage", "stage", c.realized[i], "error", err)
		}
	}
	if err := c.rt.Release(); err != nil {
		c.log.Warn("audio-stream: failed to release pipeline", "error", err)
	}
	c.realized = nil
}

// Activate activates every stage, sinks first, then starts the pipeline.
//
// If a stage refuses, the stages already activated are deactivated in
// reverse order and an *ActivationError is returned; the Controller stays
// Ready.
func (c *Controller) Activate() error {
	if c.State() != StateReady {
		return fmt.Errorf("activate in state %s: %w", c.State(), ErrInvalidState)
	}

	var activated []StageID
	rollback := func() error {
		var failures []StageFailure
		for i := len(activated) - 1; i >= 0; i-- {
			if err := c.rt.Deactivate(activated[i]); err != nil {
				failures = append(failures, StageFailure{Stage: activated[i], Err: err})
			}
		}
		if len(failures) > 0 {
			return &DeactivationError{Failures: failures}
		}
		return nil
	}

	for i := len(c.order) - 1; i >= 0; i-- {
		s := c.order[i]
		if err := c.rt.Activate(s.ID); err != nil {
			rbErr := rollback()
			c.log.Error("audio-stream: failed to activate stage",
				"stage", s.ID,
				"kind", s.Kind(),
				"error", err,
				"rolled_back", len(activated),
			)
			return &ActivationError{Stage: s.ID, Err: err, RollbackErr: rbErr}
		}
		activated = append(activated, s.ID)
	}

	if err := c.rt.Start(); err != nil {
		rbErr := rollback()
		c.log.Error("audio-stream: failed to start pipeline", "error", err)
		return &ActivationError{Stage: c.order[0].ID, Err: err, RollbackErr: rbErr}
	}

	c.started = time.Now()
	c.setState(StatePlaying)
	c.log.Info("audio-stream: pipeline playing")
	return nil
}

// Run blocks until the pipeline ends.
//
// Exactly one terminal event is consumed:
//   - EndOfStream: end-of-stream is forwarded so encoders and muxers flush,
//     then the pipeline is deactivated and the state becomes Stopped
//   - ErrorEvent: the pipeline is deactivated, the state becomes Failed and a
//     *RuntimeError is returned
//
// Cancelling ctx is an explicit stop request: end-of-stream is injected and
// the Controller waits up to the drain timeout for it to reach the sinks
// before deactivating (Stopped).
func (c *Controller) Run(ctx context.Context) error {
	if c.State() != StatePlaying {
		return fmt.Errorf("run in state %s: %w", c.State(), ErrInvalidState)
	}

	ev := c.rt.Wait(ctx)
	drained := false
	if ev == nil {
		c.log.Info("audio-stream: stop requested")
		ev = c.drain()
		drained = true
	}

	switch e := ev.(type) {
	case ErrorEvent:
		c.log.Error("audio-stream: error received from stage",
			"stage", e.Source,
			"error", e.Message,
			"debug", e.Debug,
			"uptime", time.Since(c.started),
		)
		runErr := &RuntimeError{Stage: e.Source, Message: e.Message, Debug: e.Debug}
		if err := c.teardown(StateFailed); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr

	case EndOfStream:
		c.log.Info("audio-stream: end of stream reached", "uptime", time.Since(c.started))
		if !drained {
			if err := c.rt.SendEndOfStream(); err != nil {
				c.log.Warn("audio-stream: failed to forward end-of-stream", "error", err)
			}
		}
		return c.teardown(StateStopped)

	default:
		// drain timed out
		return c.teardown(StateStopped)
	}
}

// drain injects end-of-stream and waits for it to reach the sinks.
// Returns nil if the drain timeout expires first.
func (c *Controller) drain() TerminalEvent {
	if err := c.rt.SendEndOfStream(); err != nil {
		c.log.Warn("audio-stream: failed to send end-of-stream", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.drainTimeout)
	defer cancel()

	ev := c.rt.Wait(ctx)
	if ev == nil {
		c.log.Warn("audio-stream: drain timeout exceeded, some units may be lost",
			"timeout", c.drainTimeout,
		)
	}
	return ev
}

// Deactivate releases every stage of the pipeline.
//
// It is best-effort: all stages are attempted and every failure is reported
// in a *DeactivationError. Calling it on a Stopped or Failed pipeline is a
// no-op returning nil. A Ready or Playing pipeline ends Stopped.
func (c *Controller) Deactivate() error {
	switch c.State() {
	case StateStopped, StateFailed, StateUnbuilt:
		return nil
	}
	return c.teardown(StateStopped)
}

// teardown deactivates every realized stage, sources first, and moves to
// final regardless of failures.
func (c *Controller) teardown(final PipelineState) error {
	var failures []StageFailure
	for _, id := range c.realized {
		if err := c.rt.Deactivate(id); err != nil {
			c.log.Warn("audio-stream: failed to deactivate stage", "stage", id, "error", err)
			failures = append(failures, StageFailure{Stage: id, Err: err})
		}
	}
	if err := c.rt.Release(); err != nil {
		c.log.Warn("audio-stream: failed to release pipeline", "error", err)
		failures = append(failures, StageFailure{Stage: "pipeline", Err: err})
	}

	c.setState(final)
	c.log.Info("audio-stream: pipeline deactivated", "state", final.String())

	if len(failures) > 0 {
		return &DeactivationError{Failures: failures}
	}
	return nil
}
