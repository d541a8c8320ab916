package native

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// element transforms or consumes units for one non-source stage.
//
// Process and Flush run on the goroutine that owns the stage's branch;
// Open and Close run on the controlling goroutine while the branch is idle.
type element interface {
	Open() error
	// Process handles one unit and returns the units to pass downstream.
	Process(u audiostream.Unit) ([]audiostream.Unit, error)
	// Flush is called once at end-of-stream and returns trailing units.
	Flush() ([]audiostream.Unit, error)
	Close() error
}

// newElement selects the element implementation for cfg.
//
// Compressed codecs and containers have no pure-Go implementation here;
// asking for one fails stage creation.
func newElement(cfg audiostream.StageConfig) (element, error) {
	switch c := cfg.(type) {
	case audiostream.FormatConfig:
		return &formatElement{want: c.Format}, nil
	case audiostream.ConvertConfig:
		return &convertElement{target: c.Format}, nil
	case audiostream.ResampleConfig:
		return &resampleElement{rate: c.Rate}, nil
	case audiostream.EncoderConfig:
		if c.Codec != audiostream.CodecPCM {
			return nil, fmt.Errorf("codec %s is not available in the native runtime", c.Codec)
		}
		return passthrough{}, nil
	case audiostream.MuxConfig:
		if c.Container != audiostream.ContainerNone {
			return nil, fmt.Errorf("container %s is not available in the native runtime", c.Container)
		}
		return passthrough{}, nil
	case audiostream.PayloadConfig:
		return newPayloader(c)
	case audiostream.TransportConfig:
		return newUDPSender(c)
	case audiostream.SegmentConfig:
		return &segmentSink{cfg: c}, nil
	}
	return nil, fmt.Errorf("no native element for %s", cfg.Kind())
}

// passthrough forwards units unchanged (pcm encoder, no container).
type passthrough struct{}

func (passthrough) Open() error { return nil }

func (passthrough) Process(u audiostream.Unit) ([]audiostream.Unit, error) {
	return []audiostream.Unit{u}, nil
}

func (passthrough) Flush() ([]audiostream.Unit, error) { return nil, nil }

func (passthrough) Close() error { return nil }

// formatElement enforces the pinned raw format (capsfilter).
type formatElement struct {
	passthrough
	want audiostream.MediaFormat
}

func (e *formatElement) Process(u audiostream.Unit) ([]audiostream.Unit, error) {
	if !u.Format.Compatible(e.want) {
		return nil, fmt.Errorf("not negotiated: got %s, want %s", u.Format, e.want)
	}
	u.Format = e.want.Intersect(u.Format)
	return []audiostream.Unit{u}, nil
}

// convertElement remixes channels (audioconvert).
type convertElement struct {
	passthrough
	target audiostream.MediaFormat
}

func (e *convertElement) Process(u audiostream.Unit) ([]audiostream.Unit, error) {
	out, err := convertUnit(u, e.target)
	if err != nil {
		return nil, err
	}
	return []audiostream.Unit{out}, nil
}

// resampleElement passes audio that is already at the target rate.
type resampleElement struct {
	passthrough
	rate int
}

func (e *resampleElement) Process(u audiostream.Unit) ([]audiostream.Unit, error) {
	if e.rate != 0 && u.Format.Rate != e.rate {
		return nil, fmt.Errorf("resampling %d Hz -> %d Hz is not supported", u.Format.Rate, e.rate)
	}
	return []audiostream.Unit{u}, nil
}

// rtpHeaderSize is the fixed RTP header without CSRCs or extensions
const rtpHeaderSize = 12

// payloader packetizes units into RTP.
//
// Raw PCM is sent as L16 (network byte order, clock rate = sample rate) and
// split on frame boundaries to fit the MTU. The SSRC and initial timestamp
// are random per stream.
type payloader struct {
	cfg       audiostream.PayloadConfig
	sequencer rtp.Sequencer
	ssrc      uint32
	timestamp uint32
	started   bool
	packets   uint64
}

func newPayloader(cfg audiostream.PayloadConfig) (*payloader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New()
	return &payloader{
		cfg:       cfg,
		sequencer: rtp.NewRandomSequencer(),
		ssrc:      binary.BigEndian.Uint32(id[0:4]),
		timestamp: binary.BigEndian.Uint32(id[4:8]),
	}, nil
}

func (p *payloader) Open() error { return nil }

func (p *payloader) Process(u audiostream.Unit) ([]audiostream.Unit, error) {
	maxPayload := p.cfg.MTU - rtpHeaderSize
	bpf := u.Format.BytesPerFrame()
	data := u.Data

	if u.Format.Encoding == audiostream.EncodingRaw {
		if bpf == 0 {
			return nil, fmt.Errorf("raw payload needs a concrete format, got %s", u.Format)
		}
		maxPayload -= maxPayload % bpf
		data = swap16(data)
	}
	if maxPayload <= 0 {
		return nil, fmt.Errorf("MTU %d too small for %s", p.cfg.MTU, u.Format)
	}

	out := make([]audiostream.Unit, 0, len(data)/maxPayload+1)
	for off := 0; off < len(data); off += maxPayload {
		end := min(off+maxPayload, len(data))
		chunk := data[off:end]

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         !p.started,
				PayloadType:    uint8(p.cfg.PayloadType),
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      p.timestamp,
				SSRC:           p.ssrc,
			},
			Payload: chunk,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal rtp packet: %w", err)
		}
		p.started = true
		p.packets++

		if bpf > 0 {
			p.timestamp += uint32(len(chunk) / bpf)
		}

		out = append(out, audiostream.Unit{
			Seq:       u.Seq,
			Timestamp: u.Timestamp,
			Format: audiostream.MediaFormat{
				Encoding: audiostream.EncodingRTP,
				Channels: u.Format.Channels,
				Rate:     u.Format.Rate,
			},
			Data: raw,
		})
	}
	return out, nil
}

func (p *payloader) Flush() ([]audiostream.Unit, error) { return nil, nil }

func (p *payloader) Close() error { return nil }

// udpSender sends every unit as one datagram.
//
// The socket is unconnected so an absent receiver does not turn into
// ECONNREFUSED errors on later writes.
type udpSender struct {
	addr *net.UDPAddr
	conn net.PacketConn
	sent atomic.Uint64
}

func newUDPSender(cfg audiostream.TransportConfig) (*udpSender, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Addr(), err)
	}
	return &udpSender{addr: addr}, nil
}

func (s *udpSender) Open() error {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return fmt.Errorf("open udp socket: %w", err)
	}
	s.conn = conn
	slog.Debug("native: udp sender ready", "local", conn.LocalAddr().String(), "remote", s.addr.String())
	return nil
}

func (s *udpSender) Process(u audiostream.Unit) ([]audiostream.Unit, error) {
	if _, err := s.conn.WriteTo(u.Data, s.addr); err != nil {
		return nil, fmt.Errorf("send to %s: %w", s.addr, err)
	}
	s.sent.Add(1)
	return nil, nil
}

func (s *udpSender) Flush() ([]audiostream.Unit, error) { return nil, nil }

func (s *udpSender) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// segmentSink writes units through a SegmentWriter.
type segmentSink struct {
	cfg    audiostream.SegmentConfig
	writer *audiostream.SegmentWriter
}

func (s *segmentSink) Open() error {
	w, err := audiostream.NewSegmentWriter(s.cfg)
	if err != nil {
		return err
	}
	s.writer = w
	return nil
}

func (s *segmentSink) Process(u audiostream.Unit) ([]audiostream.Unit, error) {
	if err := s.writer.WriteUnit(u); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *segmentSink) Flush() ([]audiostream.Unit, error) { return nil, nil }

func (s *segmentSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
