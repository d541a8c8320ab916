package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/hajimehoshi/go-mp3"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// source produces units for a capture stage.
type source interface {
	// Open acquires the underlying resource. format is the negotiated output
	// format; open fields are left to the source.
	Open(format audiostream.MediaFormat) error
	// Read returns the next unit, or io.EOF once the source is exhausted.
	Read(ctx context.Context) (audiostream.Unit, error)
	Close() error
}

// newSource selects the source implementation for cfg.
//
// Device and file sources check their resource here so a missing
// microphone or file fails stage creation rather than activation.
func newSource(cfg audiostream.CaptureConfig) (source, error) {
	spb := cfg.SamplesPerBuffer
	if spb == 0 {
		spb = defaultSamplesPerBuffer
	}

	switch cfg.Source {
	case audiostream.SourceTest:
		freq := cfg.Frequency
		if freq == 0 {
			freq = 440
		}
		return &toneSource{frequency: freq, numBuffers: cfg.NumBuffers, samplesPerBuffer: spb}, nil
	case audiostream.SourceDevice:
		return newDeviceSource(cfg.Device, spb)
	case audiostream.SourceFile:
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, fmt.Errorf("audio file: %w", err)
		}
		return &mp3Source{path: cfg.Path, samplesPerBuffer: spb}, nil
	}
	return nil, fmt.Errorf("unsupported source %s", cfg.Source)
}

// toneSource generates a live sine tone paced in real time.
type toneSource struct {
	frequency        float64
	numBuffers       int
	samplesPerBuffer int

	format  audiostream.MediaFormat
	emitted int
	frames  int
	started time.Time
}

func (s *toneSource) Open(format audiostream.MediaFormat) error {
	s.format = concrete(format)
	if s.format.Depth != defaultDepth {
		return fmt.Errorf("tone source supports 16-bit PCM only, got %d bits", s.format.Depth)
	}
	return nil
}

func (s *toneSource) Read(ctx context.Context) (audiostream.Unit, error) {
	if s.numBuffers >= 0 && s.emitted >= s.numBuffers {
		return audiostream.Unit{}, io.EOF
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}

	ts := frameDuration(s.frames, s.format.Rate)
	if wait := time.Until(s.started.Add(ts)); wait > 0 {
		select {
		case <-ctx.Done():
			return audiostream.Unit{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	ch := s.format.Channels
	samples := make([]int16, s.samplesPerBuffer*ch)
	for f := 0; f < s.samplesPerBuffer; f++ {
		t := float64(s.frames+f) / float64(s.format.Rate)
		v := int16(0.8 * math.MaxInt16 * math.Sin(2*math.Pi*s.frequency*t))
		for c := 0; c < ch; c++ {
			samples[f*ch+c] = v
		}
	}

	u := audiostream.Unit{
		Seq:       uint64(s.emitted),
		Timestamp: ts,
		Duration:  frameDuration(s.samplesPerBuffer, s.format.Rate),
		Format:    s.format,
		Data:      int16ToBytes(samples),
	}
	s.emitted++
	s.frames += s.samplesPerBuffer
	return u, nil
}

func (s *toneSource) Close() error { return nil }

// deviceSource captures from a PortAudio input device.
type deviceSource struct {
	device           *portaudio.DeviceInfo
	samplesPerBuffer int

	format audiostream.MediaFormat
	stream *portaudio.Stream
	buf    []int16
	seq    uint64
	frames int
	inited bool
}

// newDeviceSource initializes PortAudio and resolves the device by name,
// or the default input device when name is empty.
func newDeviceSource(name string, samplesPerBuffer int) (*deviceSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}

	dev, err := findInputDevice(name)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	slog.Debug("native: capture device selected", "device", dev.Name, "max_channels", dev.MaxInputChannels)
	return &deviceSource{device: dev, samplesPerBuffer: samplesPerBuffer, inited: true}, nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

func (s *deviceSource) Open(format audiostream.MediaFormat) error {
	s.format = concrete(format)
	if s.format.Depth != defaultDepth {
		return fmt.Errorf("device capture supports 16-bit PCM only, got %d bits", s.format.Depth)
	}

	params := portaudio.LowLatencyParameters(s.device, nil)
	params.Input.Channels = s.format.Channels
	params.SampleRate = float64(s.format.Rate)
	params.FramesPerBuffer = s.samplesPerBuffer

	s.buf = make([]int16, s.samplesPerBuffer*s.format.Channels)
	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		return fmt.Errorf("open input stream on %s: %w", s.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream on %s: %w", s.device.Name, err)
	}
	s.stream = stream
	return nil
}

func (s *deviceSource) Read(ctx context.Context) (audiostream.Unit, error) {
	if err := ctx.Err(); err != nil {
		return audiostream.Unit{}, err
	}
	if err := s.stream.Read(); err != nil {
		// overflow loses samples but the stream stays usable
		if !errors.Is(err, portaudio.InputOverflowed) {
			return audiostream.Unit{}, fmt.Errorf("read %s: %w", s.device.Name, err)
		}
		slog.Warn("native: input overflowed", "device", s.device.Name)
	}

	u := audiostream.Unit{
		Seq:       s.seq,
		Timestamp: frameDuration(s.frames, s.format.Rate),
		Duration:  frameDuration(s.samplesPerBuffer, s.format.Rate),
		Format:    s.format,
		Data:      int16ToBytes(s.buf),
	}
	s.seq++
	s.frames += s.samplesPerBuffer
	return u, nil
}

func (s *deviceSource) Close() error {
	var errs []error
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		s.stream = nil
	}
	if s.inited {
		s.inited = false
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// mp3Source decodes an MP3 file. go-mp3 always yields 16-bit stereo.
type mp3Source struct {
	path             string
	samplesPerBuffer int

	file   *os.File
	dec    *mp3.Decoder
	format audiostream.MediaFormat
	buf    []byte
	seq    uint64
	frames int
}

func (s *mp3Source) Open(audiostream.MediaFormat) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", s.path, err)
	}

	s.file = f
	s.dec = dec
	s.format = audiostream.RawFormat(2, 16, dec.SampleRate())
	s.buf = make([]byte, s.samplesPerBuffer*s.format.BytesPerFrame())
	return nil
}

func (s *mp3Source) Read(ctx context.Context) (audiostream.Unit, error) {
	if err := ctx.Err(); err != nil {
		return audiostream.Unit{}, err
	}

	n, err := io.ReadFull(s.dec, s.buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return audiostream.Unit{}, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return audiostream.Unit{}, fmt.Errorf("decode %s: %w", s.path, err)
	}

	bpf := s.format.BytesPerFrame()
	n -= n % bpf
	frames := n / bpf

	u := audiostream.Unit{
		Seq:       s.seq,
		Timestamp: frameDuration(s.frames, s.format.Rate),
		Duration:  frameDuration(frames, s.format.Rate),
		Format:    s.format,
		Data:      append([]byte(nil), s.buf[:n]...),
	}
	s.seq++
	s.frames += frames
	return u, nil
}

func (s *mp3Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
