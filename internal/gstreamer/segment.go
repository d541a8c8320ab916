package gstreamer

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// segmentSink realizes a segment-write stage as an appsink whose samples are
// written through an audiostream.SegmentWriter.
//
// Every GStreamer buffer is one unit: it is written whole, and the segment
// rotates after the write that reaches MaxBytes, the same as in the native
// runtime.
type segmentSink struct {
	id     audiostream.StageID
	cfg    audiostream.SegmentConfig
	sink   *app.Sink
	errs   chan<- audiostream.ErrorEvent
	writer atomic.Pointer[audiostream.SegmentWriter]

	samples atomic.Uint64
	bytes   atomic.Uint64
	failed  atomic.Bool
}

// attachSegmentSink wires the appsink of se to a segment writer. Write
// failures are reported on errs.
func attachSegmentSink(se *stageElements, cfg audiostream.SegmentConfig, errs chan<- audiostream.ErrorEvent) (*segmentSink, error) {
	sink := app.SinkFromElement(se.last())
	if sink == nil {
		return nil, fmt.Errorf("element %s is not an appsink", se.last().GetName())
	}

	s := &segmentSink{id: se.id, cfg: cfg, sink: sink, errs: errs}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})
	return s, nil
}

// open creates the segment writer (stage activation).
func (s *segmentSink) open() error {
	w, err := audiostream.NewSegmentWriter(s.cfg)
	if err != nil {
		return err
	}
	s.writer.Store(w)
	return nil
}

// onNewSample pulls one sample, copies it out of the mapped buffer and
// writes it as one unit.
func (s *segmentSink) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstreamer: failed to pull sample from appsink, skipping", "stage", s.id)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstreamer: sample without buffer, skipping", "stage", s.id)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	unit := make([]byte, len(data))
	copy(unit, data)
	buffer.Unmap()

	w := s.writer.Load()
	if w == nil {
		s.report(fmt.Errorf("segment writer is not open"))
		return gst.FlowError
	}
	if _, err := w.Write(unit); err != nil {
		s.report(err)
		return gst.FlowError
	}

	s.samples.Add(1)
	s.bytes.Add(uint64(len(unit)))
	return gst.FlowOK
}

// report posts the first write failure for the bus monitor.
func (s *segmentSink) report(err error) {
	if !s.failed.CompareAndSwap(false, true) {
		return
	}
	slog.Error("gstreamer: segment write failed", "stage", s.id, "error", err)
	select {
	case s.errs <- audiostream.ErrorEvent{Source: s.id, Message: err.Error()}:
	default:
	}
}

// close closes the current segment. Idempotent.
func (s *segmentSink) close() error {
	w := s.writer.Load()
	if w == nil {
		return nil
	}
	slog.Debug("gstreamer: segment sink closed",
		"stage", s.id,
		"samples", s.samples.Load(),
		"bytes", s.bytes.Load(),
		"rotations", w.Rotations(),
	)
	return w.Close()
}

// segments returns the retained segment paths.
func (s *segmentSink) segments() []string {
	if w := s.writer.Load(); w != nil {
		return w.Segments()
	}
	return nil
}
