package audiostream

import (
	"fmt"
	"strings"
)

// StageConfig is the typed configuration of one stage kind.
//
// Implementations are value types validated when the stage is created; the
// Controller never mutates them, so they are immutable once activated.
type StageConfig interface {
	// Kind returns the stage kind this configuration belongs to
	Kind() StageKind
	// Validate checks parameter ranges (fail-fast at construction time)
	Validate() error
	// Properties renders the configuration as runtime property values
	Properties() map[string]any
	// Accepts returns the input format contract (ignored for sources)
	Accepts() MediaFormat
	// Produces returns the output format given the negotiated input format
	Produces(in MediaFormat) MediaFormat
}

// SourceType selects what the capture stage reads from
type SourceType int

const (
	// SourceDevice captures from a live audio device
	SourceDevice SourceType = iota
	// SourceTest generates a synthetic tone
	SourceTest
	// SourceFile decodes an audio file
	SourceFile
)

// String returns a human-readable string representation of the source type
func (s SourceType) String() string {
	switch s {
	case SourceDevice:
		return "device"
	case SourceTest:
		return "test"
	case SourceFile:
		return "file"
	default:
		return "unknown"
	}
}

// CaptureConfig configures the capture stage.
type CaptureConfig struct {
	Source SourceType
	// Device identifier; empty selects the platform default microphone
	Device string
	// Path of the file for SourceFile
	Path string
	// Frequency of the test tone in Hz
	Frequency float64
	// NumBuffers limits the test source; -1 runs until stopped
	NumBuffers int
	// SamplesPerBuffer is the number of sample frames per emitted unit
	SamplesPerBuffer int
	// Format the source produces; zero fields are negotiated downstream
	Format MediaFormat
}

func (c CaptureConfig) Kind() StageKind { return KindCapture }

func (c CaptureConfig) Validate() error {
	switch c.Source {
	case SourceDevice, SourceTest:
	case SourceFile:
		if c.Path == "" {
			return fmt.Errorf("file source requires a path")
		}
	default:
		return fmt.Errorf("invalid source type %d", c.Source)
	}
	if c.NumBuffers < -1 {
		return fmt.Errorf("invalid num-buffers %d (must be -1 or >= 0)", c.NumBuffers)
	}
	if c.SamplesPerBuffer < 0 {
		return fmt.Errorf("invalid samples-per-buffer %d", c.SamplesPerBuffer)
	}
	if c.Frequency < 0 {
		return fmt.Errorf("invalid frequency %.1f", c.Frequency)
	}
	return nil
}

func (c CaptureConfig) Properties() map[string]any {
	props := map[string]any{}
	switch c.Source {
	case SourceTest:
		props["is-live"] = true
		props["num-buffers"] = c.NumBuffers
		if c.Frequency > 0 {
			props["freq"] = c.Frequency
		}
		if c.SamplesPerBuffer > 0 {
			props["samplesperbuffer"] = c.SamplesPerBuffer
		}
	case SourceDevice:
		if c.Device != "" {
			props["device"] = c.Device
		}
	case SourceFile:
		props["location"] = c.Path
	}
	return props
}

func (c CaptureConfig) Accepts() MediaFormat { return AnyFormat }

func (c CaptureConfig) Produces(MediaFormat) MediaFormat {
	return c.Format.Intersect(AnyRaw)
}

// FormatConfig pins the raw format (capsfilter).
type FormatConfig struct {
	Format MediaFormat
}

func (c FormatConfig) Kind() StageKind { return KindFormat }

func (c FormatConfig) Validate() error {
	if c.Format.Encoding != EncodingRaw {
		return fmt.Errorf("format constraint must be raw audio, got %q", c.Format.Encoding)
	}
	if c.Format.Channels < 0 || c.Format.Depth < 0 || c.Format.Rate < 0 {
		return fmt.Errorf("invalid format %s", c.Format)
	}
	if c.Format.Depth != 0 && c.Format.Depth%8 != 0 {
		return fmt.Errorf("invalid sample depth %d (must be a multiple of 8)", c.Format.Depth)
	}
	return nil
}

func (c FormatConfig) Properties() map[string]any {
	return map[string]any{"caps": c.Format.Caps()}
}

func (c FormatConfig) Accepts() MediaFormat { return c.Format }

func (c FormatConfig) Produces(in MediaFormat) MediaFormat {
	return c.Format.Intersect(in)
}

// ConvertConfig converts raw audio layouts (channels, sample depth).
type ConvertConfig struct {
	// Target layout; zero fields pass through
	Format MediaFormat
}

func (c ConvertConfig) Kind() StageKind { return KindConvert }

func (c ConvertConfig) Validate() error {
	if c.Format.Encoding != EncodingAny && c.Format.Encoding != EncodingRaw {
		return fmt.Errorf("convert target must be raw audio, got %q", c.Format.Encoding)
	}
	return nil
}

func (c ConvertConfig) Properties() map[string]any { return map[string]any{} }

func (c ConvertConfig) Accepts() MediaFormat { return AnyRaw }

func (c ConvertConfig) Produces(in MediaFormat) MediaFormat {
	return c.Format.Intersect(in)
}

// ResampleConfig configures the resampler.
type ResampleConfig struct {
	// Quality 0-10 (GStreamer audioresample scale)
	Quality int
	// Rate is the target rate; 0 leaves the rate to downstream negotiation
	Rate int
}

func (c ResampleConfig) Kind() StageKind { return KindResample }

func (c ResampleConfig) Validate() error {
	if c.Quality < 0 || c.Quality > 10 {
		return fmt.Errorf("invalid resample quality %d (must be 0-10)", c.Quality)
	}
	if c.Rate < 0 {
		return fmt.Errorf("invalid resample rate %d", c.Rate)
	}
	return nil
}

func (c ResampleConfig) Properties() map[string]any {
	return map[string]any{"quality": c.Quality}
}

func (c ResampleConfig) Accepts() MediaFormat { return AnyRaw }

func (c ResampleConfig) Produces(in MediaFormat) MediaFormat {
	out := in
	out.Rate = c.Rate
	return out
}

// Codec selects the encoder implementation
type Codec string

const (
	CodecOpus   Codec = "opus"
	CodecVorbis Codec = "vorbis"
	CodecPCM    Codec = "pcm"
)

// ParseCodec parses a codec name.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(s)); c {
	case CodecOpus, CodecVorbis, CodecPCM:
		return c, nil
	default:
		return "", fmt.Errorf("unknown codec %q (must be opus, vorbis or pcm)", s)
	}
}

// Encoding returns the media encoding produced by the codec.
func (c Codec) Encoding() Encoding {
	switch c {
	case CodecOpus:
		return EncodingOpus
	case CodecVorbis:
		return EncodingVorbis
	default:
		return EncodingRaw
	}
}

// Opus audio types (opusenc enum values)
const (
	OpusAudioVoice   = 2048
	OpusAudioGeneric = 2049
)

// Opus bandwidths (opusenc enum values)
const (
	OpusBandwidthNarrow    = 1101
	OpusBandwidthMedium    = 1102
	OpusBandwidthWide      = 1103
	OpusBandwidthSuperWide = 1104
	OpusBandwidthFull      = 1105
)

// EncoderConfig configures an encode stage.
type EncoderConfig struct {
	Codec Codec

	// Opus parameters
	Bitrate           int
	AudioType         int
	Bandwidth         int
	DTX               bool
	InbandFEC         bool
	PacketLossPercent int

	// Vorbis quality (-0.1 to 1.0)
	Quality float64
}

// DefaultOpusConfig returns the streaming encoder settings tuned for voice.
func DefaultOpusConfig() EncoderConfig {
	return EncoderConfig{
		Codec:             CodecOpus,
		Bitrate:           32000,
		AudioType:         OpusAudioVoice,
		Bandwidth:         OpusBandwidthWide,
		DTX:               false,
		InbandFEC:         true,
		PacketLossPercent: 20,
	}
}

// DefaultVorbisConfig returns the recording encoder settings.
func DefaultVorbisConfig() EncoderConfig {
	return EncoderConfig{Codec: CodecVorbis, Quality: 0.3}
}

func (c EncoderConfig) Kind() StageKind { return KindEncode }

func (c EncoderConfig) Validate() error {
	switch c.Codec {
	case CodecOpus:
		if c.Bitrate < 4000 || c.Bitrate > 650000 {
			return fmt.Errorf("invalid opus bitrate %d (must be 4000-650000)", c.Bitrate)
		}
		if c.AudioType != OpusAudioVoice && c.AudioType != OpusAudioGeneric {
			return fmt.Errorf("invalid opus audio type %d", c.AudioType)
		}
		if c.Bandwidth < OpusBandwidthNarrow || c.Bandwidth > OpusBandwidthFull {
			return fmt.Errorf("invalid opus bandwidth %d", c.Bandwidth)
		}
		if c.PacketLossPercent < 0 || c.PacketLossPercent > 100 {
			return fmt.Errorf("invalid packet loss percentage %d (must be 0-100)", c.PacketLossPercent)
		}
	case CodecVorbis:
		if c.Quality < -0.1 || c.Quality > 1.0 {
			return fmt.Errorf("invalid vorbis quality %.2f (must be -0.1-1.0)", c.Quality)
		}
	case CodecPCM:
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	return nil
}

func (c EncoderConfig) Properties() map[string]any {
	switch c.Codec {
	case CodecOpus:
		return map[string]any{
			"bitrate":                c.Bitrate,
			"audio-type":             c.AudioType,
			"bandwidth":              c.Bandwidth,
			"dtx":                    c.DTX,
			"inband-fec":             c.InbandFEC,
			"packet-loss-percentage": c.PacketLossPercent,
		}
	case CodecVorbis:
		return map[string]any{"quality": c.Quality}
	default:
		return map[string]any{}
	}
}

func (c EncoderConfig) Accepts() MediaFormat {
	switch c.Codec {
	case CodecOpus:
		return MediaFormat{Encoding: EncodingRaw, Depth: 16, Rate: 48000}
	case CodecVorbis:
		return MediaFormat{Encoding: EncodingRaw, Depth: 32}
	default:
		return AnyRaw
	}
}

func (c EncoderConfig) Produces(in MediaFormat) MediaFormat {
	if c.Codec == CodecPCM {
		return in
	}
	return MediaFormat{Encoding: c.Codec.Encoding(), Channels: in.Channels, Rate: in.Rate}
}

// PayloadConfig configures the RTP payloader.
type PayloadConfig struct {
	// Encoding being packetized
	Encoding    Encoding
	PayloadType int
	MTU         int
}

func (c PayloadConfig) Kind() StageKind { return KindPayload }

func (c PayloadConfig) Validate() error {
	if c.Encoding == EncodingAny || c.Encoding == EncodingRTP {
		return fmt.Errorf("invalid payload encoding %q", c.Encoding)
	}
	if c.PayloadType < 96 || c.PayloadType > 127 {
		return fmt.Errorf("invalid dynamic payload type %d (must be 96-127)", c.PayloadType)
	}
	if c.MTU < 28 || c.MTU > 65507 {
		return fmt.Errorf("invalid MTU %d", c.MTU)
	}
	return nil
}

func (c PayloadConfig) Properties() map[string]any {
	return map[string]any{"pt": uint(c.PayloadType), "mtu": uint(c.MTU)}
}

func (c PayloadConfig) Accepts() MediaFormat { return MediaFormat{Encoding: c.Encoding} }

func (c PayloadConfig) Produces(in MediaFormat) MediaFormat {
	return MediaFormat{Encoding: EncodingRTP, Channels: in.Channels, Rate: in.Rate}
}

// TransportConfig configures the network sender.
type TransportConfig struct {
	Host string
	Port int
}

// Addr returns host:port.
func (c TransportConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c TransportConfig) Kind() StageKind { return KindTransport }

func (c TransportConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("transport host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

func (c TransportConfig) Properties() map[string]any {
	return map[string]any{"host": c.Host, "port": c.Port}
}

func (c TransportConfig) Accepts() MediaFormat { return MediaFormat{Encoding: EncodingRTP} }

func (c TransportConfig) Produces(MediaFormat) MediaFormat { return MediaFormat{} }

// JunctionConfig configures the fan-out junction.
type JunctionConfig struct {
	Branches int
}

func (c JunctionConfig) Kind() StageKind { return KindJunction }

func (c JunctionConfig) Validate() error {
	if c.Branches < 2 {
		return fmt.Errorf("junction needs at least 2 branches, got %d", c.Branches)
	}
	return nil
}

func (c JunctionConfig) Properties() map[string]any {
	return map[string]any{"allow-not-linked": true}
}

func (c JunctionConfig) Accepts() MediaFormat { return AnyFormat }

func (c JunctionConfig) Produces(in MediaFormat) MediaFormat { return in }

// BufferConfig configures a buffering stage.
type BufferConfig struct {
	// Capacity in media units
	Capacity int
	// Leaky drops new units when full instead of blocking upstream
	Leaky bool
}

func (c BufferConfig) Kind() StageKind { return KindBuffer }

func (c BufferConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("buffer capacity must be positive, got %d", c.Capacity)
	}
	if !c.Leaky {
		return fmt.Errorf("buffer must be leaky (blocking buffers are not supported)")
	}
	return nil
}

func (c BufferConfig) Properties() map[string]any {
	return map[string]any{
		"max-size-buffers": uint(c.Capacity),
		"max-size-bytes":   uint(0),
		"max-size-time":    uint64(0),
		"leaky":            1, // upstream: drop the incoming buffer when full
	}
}

func (c BufferConfig) Accepts() MediaFormat { return AnyFormat }

func (c BufferConfig) Produces(in MediaFormat) MediaFormat { return in }

// Containers
const (
	ContainerOgg  = "ogg"
	ContainerNone = "none"
)

// MuxConfig configures the container muxer.
type MuxConfig struct {
	Container string
}

func (c MuxConfig) Kind() StageKind { return KindMux }

func (c MuxConfig) Validate() error {
	if c.Container != ContainerOgg && c.Container != ContainerNone {
		return fmt.Errorf("unknown container %q (must be ogg or none)", c.Container)
	}
	return nil
}

func (c MuxConfig) Properties() map[string]any { return map[string]any{} }

func (c MuxConfig) Accepts() MediaFormat { return AnyFormat }

func (c MuxConfig) Produces(in MediaFormat) MediaFormat {
	if c.Container == ContainerOgg {
		return MediaFormat{Encoding: EncodingOgg}
	}
	return in
}

// SegmentConfig configures the rotating segment writer.
type SegmentConfig struct {
	// Pattern is a file path with exactly one %d verb (segment index)
	Pattern string
	// MaxBytes is the rotation threshold
	MaxBytes int64
	// MaxSegments is the number of files retained on disk
	MaxSegments int
}

func (c SegmentConfig) Kind() StageKind { return KindSegment }

func (c SegmentConfig) Validate() error {
	if strings.Count(c.Pattern, "%d") != 1 || strings.Count(c.Pattern, "%") != 1 {
		return fmt.Errorf("segment pattern %q must contain exactly one %%d", c.Pattern)
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("segment size must be positive, got %d", c.MaxBytes)
	}
	if c.MaxSegments <= 0 {
		return fmt.Errorf("max segments must be positive, got %d", c.MaxSegments)
	}
	return nil
}

// Properties configures the application sink; rotation itself is done by
// SegmentWriter.
func (c SegmentConfig) Properties() map[string]any {
	return map[string]any{
		"sync": false,
	}
}

func (c SegmentConfig) Accepts() MediaFormat { return AnyFormat }

func (c SegmentConfig) Produces(MediaFormat) MediaFormat { return MediaFormat{} }
