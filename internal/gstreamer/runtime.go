package gstreamer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// Runtime realizes stages as GStreamer elements inside one pipeline.
//
// Stage activation moves elements to READY, which is where GStreamer opens
// capture devices, sockets and files; Start moves the whole pipeline to
// PLAYING.
type Runtime struct {
	pipeline *gst.Pipeline
	stages   map[audiostream.StageID]*stageElements
	names    map[string]audiostream.StageID // element name -> owning stage
	released bool

	// sinkErrs carries failures raised inside appsink callbacks
	sinkErrs chan audiostream.ErrorEvent
}

var _ audiostream.Runtime = (*Runtime)(nil)

// New creates an empty GStreamer pipeline.
//
// Returns an error if GStreamer is not installed (fail-fast).
func New() (*Runtime, error) {
	if err := Available(); err != nil {
		return nil, fmt.Errorf("gstreamer: %w", err)
	}

	pipeline, err := gst.NewPipeline("audio-stream")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create pipeline: %w", err)
	}

	return &Runtime{
		pipeline: pipeline,
		stages:   make(map[audiostream.StageID]*stageElements),
		names:    make(map[string]audiostream.StageID),
		sinkErrs: make(chan audiostream.ErrorEvent, 1),
	}, nil
}

// Available checks that GStreamer is installed and usable.
func Available() error {
	// safe to call multiple times
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// Name implements audiostream.Runtime.
func (r *Runtime) Name() string { return "gstreamer" }

// Realize creates the elements of s and adds them to the pipeline.
func (r *Runtime) Realize(s *audiostream.Stage) error {
	se, err := createStage(s)
	if err != nil {
		return err
	}

	if err := r.pipeline.AddMany(se.elements...); err != nil {
		return fmt.Errorf("failed to add %s to pipeline: %w", s.ID, err)
	}
	if len(se.elements) > 1 {
		if err := gst.ElementLinkMany(se.elements...); err != nil {
			return fmt.Errorf("failed to link elements of %s: %w", s.ID, err)
		}
	}
	if cfg, ok := s.Config().(audiostream.SegmentConfig); ok {
		seg, err := attachSegmentSink(se, cfg, r.sinkErrs)
		if err != nil {
			return err
		}
		se.segment = seg
	}

	r.stages[s.ID] = se
	for _, e := range se.elements {
		r.names[e.GetName()] = s.ID
	}
	return nil
}

// Connect links l, inserting an audioconvert when convert is set.
//
// A dynamic source (decodebin) is linked from its pad-added signal.
func (r *Runtime) Connect(l audiostream.Link, format audiostream.MediaFormat, convert bool) error {
	from, ok := r.stages[l.From]
	if !ok {
		return fmt.Errorf("stage %s not realized", l.From)
	}
	to, ok := r.stages[l.To]
	if !ok {
		return fmt.Errorf("stage %s not realized", l.To)
	}

	dst := to.first()
	if convert {
		conv, err := newConverter(l)
		if err != nil {
			return err
		}
		if err := r.pipeline.Add(conv); err != nil {
			return fmt.Errorf("failed to add converter: %w", err)
		}
		if err := conv.Link(dst); err != nil {
			return fmt.Errorf("failed to link converter to %s: %w", l.To, err)
		}
		to.elements = append([]*gst.Element{conv}, to.elements...)
		r.names[conv.GetName()] = l.To
		dst = conv
	}

	if from.dynamic {
		from.last().Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			OnPadAdded(self, srcPad, dst)
		})
		slog.Debug("gstreamer: deferred link until pad-added", "link", l.String())
		return nil
	}

	if err := from.last().Link(dst); err != nil {
		return fmt.Errorf("caps %s: %w", format, err)
	}
	slog.Debug("gstreamer: stages linked", "link", l.String(), "format", format.String(), "converted", convert)
	return nil
}

// Activate moves the elements of one stage to READY.
func (r *Runtime) Activate(id audiostream.StageID) error {
	se, ok := r.stages[id]
	if !ok {
		return fmt.Errorf("stage %s not realized", id)
	}
	if se.segment != nil {
		if err := se.segment.open(); err != nil {
			return err
		}
	}
	for i := len(se.elements) - 1; i >= 0; i-- {
		if err := se.elements[i].SetState(gst.StateReady); err != nil {
			return fmt.Errorf("element %s refused READY: %w", se.elements[i].GetName(), err)
		}
	}
	return nil
}

// Start sets the pipeline to PLAYING.
func (r *Runtime) Start() error {
	if err := r.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("unable to set the pipeline to the playing state: %w", err)
	}
	return nil
}

// SendEndOfStream sends an EOS event into the pipeline.
func (r *Runtime) SendEndOfStream() error {
	if r.released {
		return nil
	}
	if !r.pipeline.SendEvent(gst.NewEOSEvent()) {
		return fmt.Errorf("pipeline did not accept end-of-stream")
	}
	return nil
}

// Deactivate moves the elements of one stage to NULL. Idempotent.
func (r *Runtime) Deactivate(id audiostream.StageID) error {
	se, ok := r.stages[id]
	if !ok || se.released {
		return nil
	}
	se.released = true

	var failed []string
	for _, e := range se.elements {
		if err := e.SetState(gst.StateNull); err != nil {
			failed = append(failed, e.GetName())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("elements refused NULL: %s", strings.Join(failed, ", "))
	}
	if se.segment != nil {
		// NULL stops the streaming thread, so no callback is in flight
		return se.segment.close()
	}
	return nil
}

// Segments returns the retained files of a segment stage.
func (r *Runtime) Segments(id audiostream.StageID) []string {
	se, ok := r.stages[id]
	if !ok || se.segment == nil {
		return nil
	}
	return se.segment.segments()
}

// Release sets the pipeline to NULL. Idempotent.
func (r *Runtime) Release() error {
	if r.released {
		return nil
	}
	r.released = true

	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop pipeline: %w", err)
	}
	slog.Debug("gstreamer: pipeline released")
	return nil
}

// stageOf maps an element name from a bus message to its stage id.
// Elements created inside bins (decodebin children) keep their own name.
func (r *Runtime) stageOf(name string) audiostream.StageID {
	if id, ok := r.names[name]; ok {
		return id
	}
	return audiostream.StageID(name)
}
