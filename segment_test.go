package audiostream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func newTestWriter(t *testing.T, maxBytes int64, maxSegments int) (*SegmentWriter, string) {
	t.Helper()
	pattern := filepath.Join(t.TempDir(), "rec_%d.ogg")
	w, err := NewSegmentWriter(SegmentConfig{Pattern: pattern, MaxBytes: maxBytes, MaxSegments: maxSegments})
	if err != nil {
		t.Fatalf("NewSegmentWriter failed: %v", err)
	}
	return w, pattern
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

// TestSegmentWriter_Rotation writes 1500 bytes in 150-byte units with a
// 1000-byte threshold: the first segment closes once it reaches the
// threshold and the second holds the remainder.
func TestSegmentWriter_Rotation(t *testing.T) {
	w, pattern := newTestWriter(t, 1000, 5)

	for i := 0; i < 10; i++ {
		if err := w.WriteUnit(Unit{Seq: uint64(i), Data: make([]byte, 150)}); err != nil {
			t.Fatalf("WriteUnit %d failed: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	segments := w.Segments()
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2: %v", len(segments), segments)
	}
	if segments[0] != fmt.Sprintf(pattern, 0) || segments[1] != fmt.Sprintf(pattern, 1) {
		t.Errorf("segment names = %v", segments)
	}

	first, second := fileSize(t, segments[0]), fileSize(t, segments[1])
	if first < 1000 {
		t.Errorf("first segment = %d bytes, want >= 1000", first)
	}
	if first+second != 1500 {
		t.Errorf("total = %d bytes, want 1500", first+second)
	}
	if w.Rotations() != 1 {
		t.Errorf("Rotations = %d, want 1", w.Rotations())
	}
}

func TestSegmentWriter_UnitNeverSplit(t *testing.T) {
	w, _ := newTestWriter(t, 100, 5)

	// one unit larger than the threshold stays whole
	if _, err := w.Write(make([]byte, 250)); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	w.Close()

	segments := w.Segments()
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	if size := fileSize(t, segments[0]); size != 250 {
		t.Errorf("first segment = %d bytes, want 250", size)
	}
}

func TestSegmentWriter_Retention(t *testing.T) {
	w, pattern := newTestWriter(t, 10, 3)

	for i := 0; i < 6; i++ {
		if _, err := w.Write(make([]byte, 10)); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	segments := w.Segments()
	if len(segments) != 3 {
		t.Fatalf("retained %d segments, want 3", len(segments))
	}
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(fmt.Sprintf(pattern, i)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("segment %d should have been removed (err=%v)", i, err)
		}
	}
	for i := 3; i < 6; i++ {
		if _, err := os.Stat(fmt.Sprintf(pattern, i)); err != nil {
			t.Errorf("segment %d missing: %v", i, err)
		}
	}
}

func TestSegmentWriter_Close(t *testing.T) {
	w, _ := newTestWriter(t, 1000, 1)

	if err := w.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := w.Write([]byte{1}); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Write after Close: got %v, want ErrWriterClosed", err)
	}
	if len(w.Segments()) != 0 {
		t.Errorf("no file should be created without writes")
	}
}

func TestNewSegmentWriter_FailFast(t *testing.T) {
	tests := []struct {
		name string
		cfg  SegmentConfig
	}{
		{"missing verb", SegmentConfig{Pattern: "rec.ogg", MaxBytes: 10, MaxSegments: 1}},
		{"zero size", SegmentConfig{Pattern: "rec_%d.ogg", MaxBytes: 0, MaxSegments: 1}},
		{"zero retention", SegmentConfig{Pattern: "rec_%d.ogg", MaxBytes: 10, MaxSegments: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSegmentWriter(tt.cfg); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}
