package audiostream

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default values
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 6000
	DefaultSegmentBytes       = 500000
	DefaultMaxSegments        = 5
	DefaultRecordBufferUnits  = 200
	DefaultStreamBufferUnits  = 200
	DefaultPayloadType        = 96
	DefaultMTU                = 1400
	DefaultResampleQuality    = 4
	DefaultDrainTimeout       = 3 * time.Second
	DefaultSegmentPatternName = "rec_%d.ogg"
)

// DefaultFormat is the raw format pinned after capture (mono, 16 bit, 44.1 kHz).
var DefaultFormat = RawFormat(1, 16, 44100)

// StreamConfig configures the streaming branch.
type StreamConfig struct {
	// Buffer heads the branch when a junction feeds it (recording enabled)
	Buffer    BufferConfig
	Encoder   EncoderConfig
	Payload   PayloadConfig
	Transport TransportConfig
}

// RecordConfig configures the optional recording branch.
type RecordConfig struct {
	Enabled bool
	Buffer  BufferConfig
	Encoder EncoderConfig
	Mux     MuxConfig
	Segment SegmentConfig
}

// Config is the complete pipeline configuration.
type Config struct {
	Capture CaptureConfig
	// Format pinned after capture
	Format          MediaFormat
	ResampleQuality int
	Stream          StreamConfig
	Record          RecordConfig
	// DrainTimeout bounds how long an explicit stop waits for end-of-stream
	// to reach the sinks
	DrainTimeout time.Duration
}

// DefaultConfig returns the configuration of the original tool: live
// microphone, Opus voice stream to 0.0.0.0:6000, recording disabled.
func DefaultConfig() Config {
	return Config{
		Capture: CaptureConfig{
			Source:     SourceDevice,
			NumBuffers: -1,
		},
		Format:          DefaultFormat,
		ResampleQuality: DefaultResampleQuality,
		Stream: StreamConfig{
			Buffer:  BufferConfig{Capacity: DefaultStreamBufferUnits, Leaky: true},
			Encoder: DefaultOpusConfig(),
			Payload: PayloadConfig{
				PayloadType: DefaultPayloadType,
				MTU:         DefaultMTU,
			},
			Transport: TransportConfig{
				Host: DefaultHost,
				Port: DefaultPort,
			},
		},
		Record: RecordConfig{
			Enabled: false,
			Buffer:  BufferConfig{Capacity: DefaultRecordBufferUnits, Leaky: true},
			Encoder: DefaultVorbisConfig(),
			Mux:     MuxConfig{Container: ContainerOgg},
			Segment: SegmentConfig{
				Pattern:     filepath.Join(os.TempDir(), DefaultSegmentPatternName),
				MaxBytes:    DefaultSegmentBytes,
				MaxSegments: DefaultMaxSegments,
			},
		},
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Validate checks every stage configuration (fail-fast).
// Returns an error describing the first failure found.
func (c Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := (FormatConfig{Format: c.Format}).Validate(); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if err := (ResampleConfig{Quality: c.ResampleQuality}).Validate(); err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	if err := c.Stream.Encoder.Validate(); err != nil {
		return fmt.Errorf("stream encoder: %w", err)
	}
	if err := c.streamPayload().Validate(); err != nil {
		return fmt.Errorf("stream payload: %w", err)
	}
	if err := c.Stream.Transport.Validate(); err != nil {
		return fmt.Errorf("stream transport: %w", err)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must not be negative, got %s", c.DrainTimeout)
	}

	if !c.Record.Enabled {
		return nil
	}
	if err := c.Stream.Buffer.Validate(); err != nil {
		return fmt.Errorf("stream buffer: %w", err)
	}
	if err := c.Record.Buffer.Validate(); err != nil {
		return fmt.Errorf("record buffer: %w", err)
	}
	if err := c.Record.Encoder.Validate(); err != nil {
		return fmt.Errorf("record encoder: %w", err)
	}
	if err := c.Record.Mux.Validate(); err != nil {
		return fmt.Errorf("record mux: %w", err)
	}
	if err := c.Record.Segment.Validate(); err != nil {
		return fmt.Errorf("record segment: %w", err)
	}
	return nil
}

// streamPayload returns the payload config bound to the stream codec.
func (c Config) streamPayload() PayloadConfig {
	p := c.Stream.Payload
	p.Encoding = c.Stream.Encoder.Codec.Encoding()
	return p
}
