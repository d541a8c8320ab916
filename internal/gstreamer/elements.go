package gstreamer

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// stageElements holds the GStreamer elements realizing one stage.
//
// Most stages map to a single element. A file capture is filesrc followed by
// decodebin, whose source pad only appears once the stream is typed.
type stageElements struct {
	id       audiostream.StageID
	elements []*gst.Element // upstream first
	dynamic  bool           // output pad is added at runtime (decodebin)
	released bool
	segment  *segmentSink // set for segment-write stages
}

// first returns the element receiving input.
func (s *stageElements) first() *gst.Element { return s.elements[0] }

// last returns the element producing output.
func (s *stageElements) last() *gst.Element { return s.elements[len(s.elements)-1] }

// factoryFor returns the GStreamer factory implementing a stage.
//
// Element choice:
//
//	capture   audiotestsrc | pulsesrc | filesrc + decodebin
//	format    capsfilter
//	convert   audioconvert
//	resample  audioresample
//	encode    opusenc | vorbisenc | identity (pcm)
//	payload   rtpopuspay | rtpvorbispay | rtpL16pay
//	transport udpsink
//	junction  tee
//	buffer    queue
//	mux       oggmux | identity (none)
//	segment   appsink (feeding audiostream.SegmentWriter)
func factoryFor(s *audiostream.Stage) (string, error) {
	switch cfg := s.Config().(type) {
	case audiostream.CaptureConfig:
		switch cfg.Source {
		case audiostream.SourceTest:
			return "audiotestsrc", nil
		case audiostream.SourceDevice:
			return "pulsesrc", nil
		case audiostream.SourceFile:
			return "decodebin", nil
		}
	case audiostream.FormatConfig:
		return "capsfilter", nil
	case audiostream.ConvertConfig:
		return "audioconvert", nil
	case audiostream.ResampleConfig:
		return "audioresample", nil
	case audiostream.EncoderConfig:
		switch cfg.Codec {
		case audiostream.CodecOpus:
			return "opusenc", nil
		case audiostream.CodecVorbis:
			return "vorbisenc", nil
		case audiostream.CodecPCM:
			return "identity", nil
		}
	case audiostream.PayloadConfig:
		switch cfg.Encoding {
		case audiostream.EncodingOpus:
			return "rtpopuspay", nil
		case audiostream.EncodingVorbis:
			return "rtpvorbispay", nil
		case audiostream.EncodingRaw:
			return "rtpL16pay", nil
		}
	case audiostream.TransportConfig:
		return "udpsink", nil
	case audiostream.JunctionConfig:
		return "tee", nil
	case audiostream.BufferConfig:
		return "queue", nil
	case audiostream.MuxConfig:
		if cfg.Container == audiostream.ContainerOgg {
			return "oggmux", nil
		}
		return "identity", nil
	case audiostream.SegmentConfig:
		return "appsink", nil
	}
	return "", fmt.Errorf("no GStreamer element for stage %s", s)
}

// createStage instantiates and configures the elements of s.
//
// Elements are named after the stage id so bus messages can be attributed
// to stages.
func createStage(s *audiostream.Stage) (*stageElements, error) {
	factory, err := factoryFor(s)
	if err != nil {
		return nil, err
	}

	elem, err := gst.NewElementWithName(factory, string(s.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", factory, err)
	}
	if err := applyProperties(elem, s); err != nil {
		return nil, err
	}

	out := &stageElements{id: s.ID, elements: []*gst.Element{elem}}

	if cfg, ok := s.Config().(audiostream.CaptureConfig); ok && cfg.Source == audiostream.SourceFile {
		filesrc, err := gst.NewElementWithName("filesrc", fileSourceName(s.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to create filesrc: %w", err)
		}
		if err := filesrc.SetProperty("location", cfg.Path); err != nil {
			return nil, fmt.Errorf("failed to set location on filesrc: %w", err)
		}
		out.elements = []*gst.Element{filesrc, elem}
		out.dynamic = true
	}

	slog.Debug("gstreamer: stage created",
		"stage", s.ID,
		"factory", factory,
		"elements", len(out.elements),
	)
	return out, nil
}

// applyProperties sets the stage configuration on elem.
//
// The "caps" property is given as a caps string and converted here. File
// capture properties belong to filesrc and are skipped.
func applyProperties(elem *gst.Element, s *audiostream.Stage) error {
	if cfg, ok := s.Config().(audiostream.CaptureConfig); ok && cfg.Source == audiostream.SourceFile {
		return nil
	}

	props := s.Config().Properties()
	if _, ok := s.Config().(audiostream.TransportConfig); ok {
		// udpsink must not wait for the clock of a live source
		props["sync"] = false
	}

	for name, value := range props {
		if name == "caps" {
			if str, ok := value.(string); ok {
				value = gst.NewCapsFromString(str)
			}
		}
		if err := elem.SetProperty(name, value); err != nil {
			return fmt.Errorf("failed to set %s on %s: %w", name, s.ID, err)
		}
	}
	return nil
}

// newConverter creates the implicit audioconvert inserted on a link.
func newConverter(l audiostream.Link) (*gst.Element, error) {
	conv, err := gst.NewElementWithName("audioconvert", converterName(l))
	if err != nil {
		return nil, fmt.Errorf("failed to create audioconvert: %w", err)
	}
	return conv, nil
}

func fileSourceName(id audiostream.StageID) string {
	return string(id) + "-file"
}

func converterName(l audiostream.Link) string {
	return fmt.Sprintf("%s-convert", l.To)
}
