package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// defaultHaltTimeout bounds how long Deactivate waits for the workers to exit
const defaultHaltTimeout = 3 * time.Second

// node is one realized stage.
//
// Exactly one of src, elem, buffer or junction is set (junction is created
// by Start once all outbound edges are known).
type node struct {
	id       audiostream.StageID
	src      source
	elem     element
	buffer   *audiostream.Buffer
	junction *audiostream.Junction
	isJunc   bool

	out    []*edge
	format audiostream.MediaFormat // output format of a source
	active bool
	closed bool
}

// edge is a realized link.
type edge struct {
	link    audiostream.Link
	to      *node
	format  audiostream.MediaFormat
	convert bool
}

// stageError attributes a processing failure to a stage.
type stageError struct {
	stage audiostream.StageID
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }

func (e *stageError) Unwrap() error { return e.err }

// Runtime runs the pipeline in-process with pure Go stages.
//
// Threading model:
//   - each source runs on its own goroutine and pushes units synchronously
//     through the stages downstream of it
//   - each buffer stage has a consumer goroutine that drains it into its
//     branch, so a slow branch behind a buffer never delays the source
//   - end-of-stream flows the same way; EndOfStream is posted once every sink
//     has flushed
//
// Only raw PCM is processed: opus, vorbis and ogg stages fail to realize.
type Runtime struct {
	nodes map[audiostream.StageID]*node
	order []*node

	events  chan audiostream.TerminalEvent
	eos     atomic.Bool
	pending atomic.Int32 // sinks not yet flushed

	mu          sync.Mutex
	cancel      context.CancelFunc
	group       *errgroup.Group
	running     bool
	haltTimeout time.Duration
	// stuck is set when a worker outlived haltTimeout; stages are then left
	// open because the worker may still be using them
	stuck bool
}

var _ audiostream.Runtime = (*Runtime)(nil)

// New creates an empty native runtime.
func New() *Runtime {
	return &Runtime{
		nodes:       make(map[audiostream.StageID]*node),
		events:      make(chan audiostream.TerminalEvent, 1),
		haltTimeout: defaultHaltTimeout,
	}
}

// Name implements audiostream.Runtime.
func (r *Runtime) Name() string { return "native" }

// Realize creates the stage implementation for s.
func (r *Runtime) Realize(s *audiostream.Stage) error {
	n := &node{id: s.ID}

	switch cfg := s.Config().(type) {
	case audiostream.CaptureConfig:
		src, err := newSource(cfg)
		if err != nil {
			return err
		}
		n.src = src
	case audiostream.BufferConfig:
		n.buffer = audiostream.NewBuffer(cfg.Capacity)
	case audiostream.JunctionConfig:
		n.isJunc = true
	default:
		elem, err := newElement(s.Config())
		if err != nil {
			return err
		}
		n.elem = elem
	}

	r.nodes[s.ID] = n
	r.order = append(r.order, n)
	return nil
}

// Connect records the link. Converted links remix channels on the way.
func (r *Runtime) Connect(l audiostream.Link, format audiostream.MediaFormat, convert bool) error {
	from, ok := r.nodes[l.From]
	if !ok {
		return fmt.Errorf("stage %s not realized", l.From)
	}
	to, ok := r.nodes[l.To]
	if !ok {
		return fmt.Errorf("stage %s not realized", l.To)
	}

	from.out = append(from.out, &edge{link: l, to: to, format: format, convert: convert})
	sort.SliceStable(from.out, func(i, j int) bool {
		return from.out[i].link.FromPort < from.out[j].link.FromPort
	})
	if from.src != nil {
		from.format = format
	}
	return nil
}

// Activate opens the resources of one stage.
func (r *Runtime) Activate(id audiostream.StageID) error {
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("stage %s not realized", id)
	}
	if n.active {
		return nil
	}

	var err error
	switch {
	case n.src != nil:
		err = n.src.Open(n.format)
	case n.elem != nil:
		err = n.elem.Open()
	}
	if err != nil {
		return err
	}
	n.active = true
	n.closed = false
	return nil
}

// Start wires the junctions and launches the workers.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("already running")
	}

	var sinks int32
	for _, n := range r.order {
		if !n.active {
			return fmt.Errorf("stage %s is not active", n.id)
		}
		if n.isJunc {
			n.junction = audiostream.NewJunction(n.id, r.outlets(n)...)
		}
		if n.elem != nil && len(n.out) == 0 {
			sinks++
		}
	}
	r.pending.Store(sinks)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range r.order {
		n := n
		switch {
		case n.src != nil:
			g.Go(func() error { return r.runSource(ctx, n) })
		case n.buffer != nil:
			g.Go(func() error { return r.runBuffer(ctx, n) })
		}
	}

	r.cancel = cancel
	r.group = g
	r.running = true

	slog.Debug("native: pipeline started", "stages", len(r.order), "sinks", sinks)
	return nil
}

// outlets returns one junction outlet per outbound edge, in port order.
func (r *Runtime) outlets(n *node) []audiostream.Outlet {
	outlets := make([]audiostream.Outlet, 0, len(n.out))
	for _, e := range n.out {
		e := e
		outlets = append(outlets, audiostream.OutletFunc(func(u audiostream.Unit) (bool, error) {
			ok, err := r.push(e, u)
			if err != nil {
				r.fail(err)
			}
			return ok, err
		}))
	}
	return outlets
}

// SendEndOfStream asks the sources to stop after the current unit.
func (r *Runtime) SendEndOfStream() error {
	r.eos.Store(true)
	return nil
}

// Wait returns the first terminal event, or nil when ctx is done.
func (r *Runtime) Wait(ctx context.Context) audiostream.TerminalEvent {
	select {
	case ev := <-r.events:
		return ev
	case <-ctx.Done():
		return nil
	}
}

// Deactivate stops the workers (first call only) and closes one stage.
// Idempotent.
//
// If the workers did not exit within the halt timeout the stage is not
// closed and an error is returned.
func (r *Runtime) Deactivate(id audiostream.StageID) error {
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	stuck := r.halt()

	if n.closed {
		return nil
	}
	n.closed = true
	n.active = false

	if stuck {
		return fmt.Errorf("workers still running after %s, stage left open", r.haltTimeout)
	}

	switch {
	case n.src != nil:
		return n.src.Close()
	case n.elem != nil:
		return n.elem.Close()
	case n.buffer != nil:
		n.buffer.Close()
	}
	return nil
}

// Release stops the workers if they are still running.
func (r *Runtime) Release() error {
	r.halt()
	return nil
}

// halt cancels the workers and waits for them to exit. Reports whether a
// worker was still running when the halt timeout expired.
func (r *Runtime) halt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return r.stuck
	}
	r.running = false
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("native: workers stopped cleanly")
	case <-time.After(r.haltTimeout):
		r.stuck = true
		slog.Warn("native: halt timeout exceeded, leaving stages open", "timeout", r.haltTimeout)
	}
	return r.stuck
}

// JunctionStats returns the per-branch counters of a junction stage.
func (r *Runtime) JunctionStats(id audiostream.StageID) []audiostream.BranchStats {
	n, ok := r.nodes[id]
	if !ok || n.junction == nil {
		return nil
	}
	return n.junction.Stats()
}

// Segments returns the retained files of a segment stage.
func (r *Runtime) Segments(id audiostream.StageID) []string {
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	if s, ok := n.elem.(*segmentSink); ok && s.writer != nil {
		return s.writer.Segments()
	}
	return nil
}

// post delivers ev unless a terminal event is already pending.
func (r *Runtime) post(ev audiostream.TerminalEvent) {
	select {
	case r.events <- ev:
	default:
		slog.Debug("native: terminal event already posted, dropping", "event", ev.String())
	}
}

// fail posts an ErrorEvent for err and stops the sources.
func (r *Runtime) fail(err error) {
	ev := audiostream.ErrorEvent{Message: err.Error()}
	var se *stageError
	if errors.As(err, &se) {
		ev.Source = se.stage
		ev.Message = se.err.Error()
	}
	r.eos.Store(true)
	r.post(ev)
}

// runSource reads until end-of-stream, then flushes downstream.
func (r *Runtime) runSource(ctx context.Context, n *node) error {
	for !r.eos.Load() {
		u, err := n.src.Read(ctx)
		if errors.Is(err, io.EOF) {
			slog.Debug("native: source exhausted", "stage", n.id)
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			err = &stageError{stage: n.id, err: err}
			r.fail(err)
			return err
		}
		if err := r.forward(n, u); err != nil {
			r.fail(err)
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := r.flushOutputs(n); err != nil {
		r.fail(err)
		return err
	}
	return nil
}

// runBuffer drains a buffer stage into its branch.
func (r *Runtime) runBuffer(ctx context.Context, n *node) error {
	for {
		for {
			u, ok := n.buffer.Pop()
			if !ok {
				break
			}
			if err := r.forward(n, u); err != nil {
				r.fail(err)
				return err
			}
		}

		if n.buffer.Drained() {
			if err := r.flushOutputs(n); err != nil {
				r.fail(err)
				return err
			}
			return nil
		}

		select {
		case <-n.buffer.Ready():
		case <-ctx.Done():
			return nil
		}
	}
}

// push delivers u across e. Returns false when a buffer stage dropped it.
func (r *Runtime) push(e *edge, u audiostream.Unit) (bool, error) {
	n := e.to
	if e.convert {
		converted, err := convertUnit(u, e.format)
		if err != nil {
			return false, &stageError{stage: n.id, err: err}
		}
		u = converted
	}

	switch {
	case n.junction != nil:
		n.junction.Publish(u)
		return true, nil
	case n.buffer != nil:
		return n.buffer.Push(u), nil
	}

	outs, err := n.elem.Process(u)
	if err != nil {
		return false, &stageError{stage: n.id, err: err}
	}
	for _, o := range outs {
		if err := r.forward(n, o); err != nil {
			return false, err
		}
	}
	return true, nil
}

// forward pushes u on every outbound edge of n.
func (r *Runtime) forward(n *node, u audiostream.Unit) error {
	for _, e := range n.out {
		if _, err := r.push(e, u); err != nil {
			return err
		}
	}
	return nil
}

// flushOutputs propagates end-of-stream to every stage downstream of n.
func (r *Runtime) flushOutputs(n *node) error {
	for _, e := range n.out {
		if err := r.flush(e.to); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) flush(n *node) error {
	switch {
	case n.junction != nil:
		return r.flushOutputs(n)
	case n.buffer != nil:
		// the consumer goroutine flushes the branch once drained
		n.buffer.Close()
		return nil
	}

	outs, err := n.elem.Flush()
	if err != nil {
		return &stageError{stage: n.id, err: err}
	}
	for _, o := range outs {
		if err := r.forward(n, o); err != nil {
			return err
		}
	}

	if len(n.out) == 0 {
		slog.Debug("native: sink flushed", "stage", n.id)
		if r.pending.Add(-1) == 0 {
			r.post(audiostream.EndOfStream{})
		}
		return nil
	}
	return r.flushOutputs(n)
}
