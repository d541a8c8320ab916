package audiostream

import (
	"fmt"
	"time"
)

// Encoding identifies the kind of media carried on a link.
type Encoding string

const (
	// EncodingAny matches every encoding (wildcard contract)
	EncodingAny Encoding = ""
	// EncodingRaw is interleaved signed 16-bit (or other depth) PCM
	EncodingRaw Encoding = "audio/x-raw"
	// EncodingOpus is an Opus elementary stream
	EncodingOpus Encoding = "audio/x-opus"
	// EncodingVorbis is a Vorbis elementary stream
	EncodingVorbis Encoding = "audio/x-vorbis"
	// EncodingRTP is RTP packets
	EncodingRTP Encoding = "application/x-rtp"
	// EncodingOgg is an Ogg container stream
	EncodingOgg Encoding = "application/ogg"
)

// MediaFormat describes the media carried between two stages.
//
// Zero numeric fields mean "any": a format with Rate 0 accepts every rate.
type MediaFormat struct {
	Encoding Encoding `yaml:"encoding,omitempty"`
	Channels int      `yaml:"channels,omitempty"`
	Depth    int      `yaml:"depth,omitempty"`
	Rate     int      `yaml:"rate,omitempty"`
}

// RawFormat returns a raw PCM format.
func RawFormat(channels, depth, rate int) MediaFormat {
	return MediaFormat{Encoding: EncodingRaw, Channels: channels, Depth: depth, Rate: rate}
}

// AnyRaw accepts raw PCM of any layout.
var AnyRaw = MediaFormat{Encoding: EncodingRaw}

// AnyFormat accepts everything.
var AnyFormat = MediaFormat{}

// Compatible reports whether two format contracts can be satisfied by one
// concrete format.
func (f MediaFormat) Compatible(other MediaFormat) bool {
	if f.Encoding != EncodingAny && other.Encoding != EncodingAny && f.Encoding != other.Encoding {
		return false
	}
	return fieldMatch(f.Channels, other.Channels) &&
		fieldMatch(f.Depth, other.Depth) &&
		fieldMatch(f.Rate, other.Rate)
}

// Intersect narrows f by other. Callers must check Compatible first.
func (f MediaFormat) Intersect(other MediaFormat) MediaFormat {
	out := f
	if out.Encoding == EncodingAny {
		out.Encoding = other.Encoding
	}
	if out.Channels == 0 {
		out.Channels = other.Channels
	}
	if out.Depth == 0 {
		out.Depth = other.Depth
	}
	if out.Rate == 0 {
		out.Rate = other.Rate
	}
	return out
}

// Caps renders the format as a GStreamer caps string.
func (f MediaFormat) Caps() string {
	enc := f.Encoding
	if enc == EncodingAny {
		enc = EncodingRaw
	}
	s := string(enc)
	if enc == EncodingRaw && f.Depth == 16 {
		s += ",format=S16LE"
	}
	if f.Channels > 0 {
		s += fmt.Sprintf(",channels=%d", f.Channels)
	}
	if f.Rate > 0 {
		s += fmt.Sprintf(",rate=%d", f.Rate)
	}
	return s
}

// BytesPerFrame returns the size of one sample frame for raw formats, or 0.
func (f MediaFormat) BytesPerFrame() int {
	if f.Encoding != EncodingRaw || f.Channels == 0 || f.Depth == 0 {
		return 0
	}
	return f.Channels * f.Depth / 8
}

func (f MediaFormat) String() string {
	return f.Caps()
}

func fieldMatch(a, b int) bool {
	return a == 0 || b == 0 || a == b
}

// Unit is one media buffer travelling through the pipeline.
type Unit struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is the presentation time relative to stream start
	Timestamp time.Duration
	// Duration of the audio contained in Data (zero if unknown)
	Duration time.Duration
	// Format of Data
	Format MediaFormat
	// Data is never mutated after the source emits it
	Data []byte
}

// PipelineState is the lifecycle state owned by the Controller.
type PipelineState int

const (
	// StateUnbuilt is the initial state
	StateUnbuilt PipelineState = iota
	// StateReady means all stages are instantiated and linked
	StateReady
	// StatePlaying means activation succeeded
	StatePlaying
	// StateStopped is a clean shutdown (end of stream or explicit stop)
	StateStopped
	// StateFailed is an unrecoverable runtime error
	StateFailed
)

// String returns a human-readable string representation of the state
func (s PipelineState) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the run.
func (s PipelineState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// BranchStats contains delivery counters for one junction output.
type BranchStats struct {
	// Sent is the number of units accepted by the branch
	Sent uint64
	// Dropped is the number of units the branch could not take
	Dropped uint64
	// Failed is set once the branch outlet reported an error
	Failed bool
}
