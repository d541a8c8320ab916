package gstreamer

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

func TestFactoryFor(t *testing.T) {
	tests := []struct {
		cfg  audiostream.StageConfig
		want string
	}{
		{audiostream.CaptureConfig{Source: audiostream.SourceTest}, "audiotestsrc"},
		{audiostream.CaptureConfig{Source: audiostream.SourceDevice}, "pulsesrc"},
		{audiostream.CaptureConfig{Source: audiostream.SourceFile, Path: "a.mp3"}, "decodebin"},
		{audiostream.FormatConfig{Format: audiostream.DefaultFormat}, "capsfilter"},
		{audiostream.ResampleConfig{Quality: 4}, "audioresample"},
		{audiostream.DefaultOpusConfig(), "opusenc"},
		{audiostream.DefaultVorbisConfig(), "vorbisenc"},
		{audiostream.EncoderConfig{Codec: audiostream.CodecPCM}, "identity"},
		{audiostream.PayloadConfig{Encoding: audiostream.EncodingOpus, PayloadType: 96, MTU: 1400}, "rtpopuspay"},
		{audiostream.PayloadConfig{Encoding: audiostream.EncodingRaw, PayloadType: 96, MTU: 1400}, "rtpL16pay"},
		{audiostream.TransportConfig{Host: "127.0.0.1", Port: 6000}, "udpsink"},
		{audiostream.JunctionConfig{Branches: 2}, "tee"},
		{audiostream.BufferConfig{Capacity: 200, Leaky: true}, "queue"},
		{audiostream.MuxConfig{Container: audiostream.ContainerOgg}, "oggmux"},
		{audiostream.MuxConfig{Container: audiostream.ContainerNone}, "identity"},
		{audiostream.SegmentConfig{Pattern: "rec_%d.ogg", MaxBytes: 1, MaxSegments: 1}, "appsink"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s, err := audiostream.NewStage("s", tt.cfg)
			if err != nil {
				t.Fatalf("NewStage failed: %v", err)
			}
			got, err := factoryFor(s)
			if err != nil {
				t.Fatalf("factoryFor failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("factory = %s, want %s", got, tt.want)
			}
		})
	}
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New()
	if err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}
	return rt
}

// buildOrSkip builds cfg, skipping when a required plugin is missing.
func buildOrSkip(t *testing.T, c *audiostream.Controller, cfg audiostream.Config) {
	t.Helper()
	err := c.Build(cfg)
	var creation *audiostream.StageCreationError
	if errors.As(err, &creation) {
		t.Skipf("Skipping test: plugin for %s not installed: %v", creation.Stage, err)
	}
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
}

// TestRuntime_StreamAndRecord runs the full dual-branch pipeline on the test
// tone: opus over loopback RTP and ogg/vorbis segments on disk.
func TestRuntime_StreamAndRecord(t *testing.T) {
	rt := newTestRuntime(t)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer conn.Close()

	dir := t.TempDir()
	cfg := audiostream.DefaultConfig()
	cfg.Capture = audiostream.CaptureConfig{Source: audiostream.SourceTest, NumBuffers: 50}
	cfg.Stream.Transport = audiostream.TransportConfig{Host: "127.0.0.1", Port: conn.LocalAddr().(*net.UDPAddr).Port}
	cfg.Record.Enabled = true
	cfg.Record.Segment.Pattern = filepath.Join(dir, "rec_%d.ogg")

	c := audiostream.NewController(rt)
	buildOrSkip(t, c, cfg)
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.State() != audiostream.StateStopped {
		t.Errorf("state = %s, want stopped", c.State())
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	if _, _, err := conn.ReadFrom(buf); err != nil {
		t.Errorf("no RTP packet received: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "rec_*.ogg"))
	if len(files) == 0 {
		t.Errorf("no recording segment written in %s", dir)
	}
	t.Logf("✅ dual-branch run finished: %d segment(s)", len(files))
}

// TestRuntime_SegmentRotation records the test tone into small segments and
// checks that a segment only rotates after reaching the size threshold.
func TestRuntime_SegmentRotation(t *testing.T) {
	rt := newTestRuntime(t)

	const maxBytes = 1000
	dir := t.TempDir()
	cfg := audiostream.DefaultConfig()
	cfg.Capture = audiostream.CaptureConfig{Source: audiostream.SourceTest, NumBuffers: 100}
	cfg.Stream.Transport.Host = "127.0.0.1"
	cfg.Record.Enabled = true
	cfg.Record.Segment = audiostream.SegmentConfig{
		Pattern:     filepath.Join(dir, "rec_%d.ogg"),
		MaxBytes:    maxBytes,
		MaxSegments: 1000,
	}

	c := audiostream.NewController(rt)
	buildOrSkip(t, c, cfg)
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	segments := rt.Segments(audiostream.StageRecordSink)
	if len(segments) == 0 {
		t.Fatalf("no segment written in %s", dir)
	}
	for i, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		// only the last segment may stay below the threshold
		if i < len(segments)-1 && info.Size() < maxBytes {
			t.Errorf("segment %d rotated at %d bytes, want >= %d", i, info.Size(), maxBytes)
		}
	}
	if info, _ := os.Stat(segments[0]); len(segments) > 1 && info.Size() < maxBytes {
		t.Errorf("first segment = %d bytes, want >= %d", info.Size(), maxBytes)
	}
	t.Logf("✅ %d segment(s), rotation at or above %d bytes", len(segments), maxBytes)
}

// TestRuntime_SegmentWriteFailure makes the first segment path unusable and
// expects a runtime error attributed to the recording sink.
func TestRuntime_SegmentWriteFailure(t *testing.T) {
	rt := newTestRuntime(t)

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "rec_0.ogg"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := audiostream.DefaultConfig()
	cfg.Capture = audiostream.CaptureConfig{Source: audiostream.SourceTest, NumBuffers: 50}
	cfg.Stream.Transport.Host = "127.0.0.1"
	cfg.Record.Enabled = true
	cfg.Record.Segment.Pattern = filepath.Join(dir, "rec_%d.ogg")

	c := audiostream.NewController(rt)
	buildOrSkip(t, c, cfg)
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.Run(ctx)
	var rtErr *audiostream.RuntimeError
	if !errors.As(err, &rtErr) {
		t.Fatalf("expected *RuntimeError, got %T: %v", err, err)
	}
	if rtErr.Stage != audiostream.StageRecordSink {
		t.Errorf("error attributed to %s, want %s", rtErr.Stage, audiostream.StageRecordSink)
	}
	if c.State() != audiostream.StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
}

// TestRuntime_ExplicitStop verifies that cancelling a live pipeline drains
// through end-of-stream and ends Stopped.
func TestRuntime_ExplicitStop(t *testing.T) {
	rt := newTestRuntime(t)

	cfg := audiostream.DefaultConfig()
	cfg.Capture = audiostream.CaptureConfig{Source: audiostream.SourceTest, NumBuffers: -1}
	cfg.Stream.Transport.Host = "127.0.0.1"

	c := audiostream.NewController(rt)
	buildOrSkip(t, c, cfg)
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond+cfg.DrainTimeout+time.Second {
		t.Errorf("stop took %s", elapsed)
	}
	if c.State() != audiostream.StateStopped {
		t.Errorf("state = %s, want stopped", c.State())
	}
}

func TestRuntime_ReleaseIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)

	for i := 0; i < 2; i++ {
		if err := rt.Release(); err != nil {
			t.Errorf("Release #%d failed: %v", i+1, err)
		}
	}
	if err := rt.Deactivate("missing"); err != nil {
		t.Errorf("Deactivate of unknown stage: %v", err)
	}
}
