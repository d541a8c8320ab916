package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// EnvPrefix is the prefix of environment overrides (AUDIOSTREAM_STREAM_PORT)
const EnvPrefix = "AUDIOSTREAM"

// Runtime names
const (
	RuntimeGStreamer = "gstreamer"
	RuntimeNative    = "native"
)

// Source selects the capture source.
type Source struct {
	Test       bool    `mapstructure:"test"`
	Device     string  `mapstructure:"device"`
	File       string  `mapstructure:"file"`
	NumBuffers int     `mapstructure:"num_buffers"`
	Frequency  float64 `mapstructure:"frequency"`
}

// Stream configures the network branch.
type Stream struct {
	Address     string `mapstructure:"address"`
	Port        int    `mapstructure:"port"`
	Codec       string `mapstructure:"codec"`
	Bitrate     int    `mapstructure:"bitrate"`
	PayloadType int    `mapstructure:"payload_type"`
	MTU         int    `mapstructure:"mtu"`
	BufferUnits int    `mapstructure:"buffer_units"`
}

// Record configures the recording branch.
type Record struct {
	Enabled     bool   `mapstructure:"enabled"`
	MaxBytes    int64  `mapstructure:"max_bytes"`
	MaxSegments int    `mapstructure:"max_segments"`
	Pattern     string `mapstructure:"pattern"`
	Codec       string `mapstructure:"codec"`
	Container   string `mapstructure:"container"`
	BufferUnits int    `mapstructure:"buffer_units"`
}

// File is the layered configuration: defaults, config file, environment
// and flags, in increasing priority.
type File struct {
	Runtime      string        `mapstructure:"runtime"`
	Debug        bool          `mapstructure:"debug"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	Source       Source        `mapstructure:"source"`
	Stream       Stream        `mapstructure:"stream"`
	Record       Record        `mapstructure:"record"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"test":          "source.test",
	"device":        "source.device",
	"file":          "source.file",
	"num-buffers":   "source.num_buffers",
	"address":       "stream.address",
	"port":          "stream.port",
	"codec":         "stream.codec",
	"record":        "record.max_bytes",
	"max-segments":  "record.max_segments",
	"record-codec":  "record.codec",
	"runtime":       "runtime",
	"debug":         "debug",
	"drain-timeout": "drain_timeout",
}

func setDefaults(v *viper.Viper) {
	def := audiostream.DefaultConfig()

	v.SetDefault("runtime", RuntimeGStreamer)
	v.SetDefault("debug", false)
	v.SetDefault("drain_timeout", def.DrainTimeout)

	v.SetDefault("source.test", false)
	v.SetDefault("source.num_buffers", def.Capture.NumBuffers)
	v.SetDefault("source.frequency", 440.0)

	v.SetDefault("stream.address", def.Stream.Transport.Host)
	v.SetDefault("stream.port", def.Stream.Transport.Port)
	v.SetDefault("stream.bitrate", def.Stream.Encoder.Bitrate)
	v.SetDefault("stream.payload_type", def.Stream.Payload.PayloadType)
	v.SetDefault("stream.mtu", def.Stream.Payload.MTU)
	v.SetDefault("stream.buffer_units", def.Stream.Buffer.Capacity)

	v.SetDefault("record.enabled", false)
	v.SetDefault("record.max_bytes", def.Record.Segment.MaxBytes)
	v.SetDefault("record.max_segments", def.Record.Segment.MaxSegments)
	v.SetDefault("record.pattern", def.Record.Segment.Pattern)
	v.SetDefault("record.buffer_units", def.Record.Buffer.Capacity)
}

// Load layers the configuration.
//
// cfgFile is optional; when empty, audio-streamer.yaml is looked up in the
// working directory and skipped if absent. A .env file in the working
// directory is loaded into the environment first. Passing the record flag
// enables recording.
func Load(cfgFile string, flags *pflag.FlagSet) (*File, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("audio-streamer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		if flags.Changed("record") {
			v.Set("record.enabled", true)
		}
	}

	f := &File{}
	if err := v.Unmarshal(f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return f, nil
}

// Pipeline converts the layered configuration into a pipeline Config.
//
// Codec and container names left empty take the runtime's default:
// opus/vorbis/ogg under GStreamer, pcm/none under the native runtime.
func (f *File) Pipeline() (audiostream.Config, error) {
	cfg := audiostream.DefaultConfig()
	native := f.Runtime == RuntimeNative

	if f.Runtime != RuntimeGStreamer && !native {
		return cfg, fmt.Errorf("unknown runtime %q (must be %s or %s)", f.Runtime, RuntimeGStreamer, RuntimeNative)
	}

	switch {
	case f.Source.File != "":
		cfg.Capture.Source = audiostream.SourceFile
		cfg.Capture.Path = f.Source.File
	case f.Source.Test:
		cfg.Capture.Source = audiostream.SourceTest
	default:
		cfg.Capture.Source = audiostream.SourceDevice
		cfg.Capture.Device = f.Source.Device
	}
	cfg.Capture.NumBuffers = f.Source.NumBuffers
	cfg.Capture.Frequency = f.Source.Frequency

	streamCodec, err := codecOrDefault(f.Stream.Codec, native, audiostream.CodecOpus)
	if err != nil {
		return cfg, fmt.Errorf("stream: %w", err)
	}
	if streamCodec != audiostream.CodecOpus {
		cfg.Stream.Encoder = audiostream.EncoderConfig{Codec: streamCodec}
		if streamCodec == audiostream.CodecVorbis {
			cfg.Stream.Encoder = audiostream.DefaultVorbisConfig()
		}
	} else if f.Stream.Bitrate > 0 {
		cfg.Stream.Encoder.Bitrate = f.Stream.Bitrate
	}
	cfg.Stream.Payload.PayloadType = f.Stream.PayloadType
	cfg.Stream.Payload.MTU = f.Stream.MTU
	cfg.Stream.Buffer.Capacity = f.Stream.BufferUnits
	cfg.Stream.Transport = audiostream.TransportConfig{Host: f.Stream.Address, Port: f.Stream.Port}

	cfg.Record.Enabled = f.Record.Enabled
	recordCodec, err := codecOrDefault(f.Record.Codec, native, audiostream.CodecVorbis)
	if err != nil {
		return cfg, fmt.Errorf("record: %w", err)
	}
	if recordCodec != audiostream.CodecVorbis {
		cfg.Record.Encoder = audiostream.EncoderConfig{Codec: recordCodec}
		if recordCodec == audiostream.CodecOpus {
			cfg.Record.Encoder = audiostream.DefaultOpusConfig()
		}
	}
	cfg.Record.Mux.Container = f.Record.Container
	if cfg.Record.Mux.Container == "" {
		cfg.Record.Mux.Container = audiostream.ContainerOgg
		if native {
			cfg.Record.Mux.Container = audiostream.ContainerNone
		}
	}
	cfg.Record.Buffer.Capacity = f.Record.BufferUnits
	cfg.Record.Segment = audiostream.SegmentConfig{
		Pattern:     f.Record.Pattern,
		MaxBytes:    f.Record.MaxBytes,
		MaxSegments: f.Record.MaxSegments,
	}
	cfg.DrainTimeout = f.DrainTimeout

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func codecOrDefault(name string, native bool, def audiostream.Codec) (audiostream.Codec, error) {
	if name == "" {
		if native {
			return audiostream.CodecPCM, nil
		}
		return def, nil
	}
	return audiostream.ParseCodec(name)
}
