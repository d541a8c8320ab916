package audiostream

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// SegmentWriter is the recording sink: it writes units to numbered segment
// files and rotates once a segment reaches MaxBytes.
//
// Rotation rules:
//   - a unit is always written whole to the current segment
//   - after the write, if the segment holds >= MaxBytes it is closed
//   - the next unit opens the next segment (monotonic %d suffix)
//   - only the newest MaxSegments files are kept; older ones are removed
//
// Thread-safety: all methods are safe for concurrent use; rotation happens
// under the same lock as the write, so no unit is split across files.
type SegmentWriter struct {
	mu sync.Mutex

	pattern     string
	maxBytes    int64
	maxSegments int

	file     *os.File
	next     int   // index of the next segment to open
	written  int64 // bytes in the current segment
	retained []string
	rotated  int
	closed   bool
}

// NewSegmentWriter validates cfg and creates the target directory.
// No file is created until the first write.
func NewSegmentWriter(cfg SegmentConfig) (*SegmentWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("audio-stream: segment writer: %w", err)
	}

	dir := filepath.Dir(cfg.Pattern)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio-stream: create segment directory: %w", err)
	}

	return &SegmentWriter{
		pattern:     cfg.Pattern,
		maxBytes:    cfg.MaxBytes,
		maxSegments: cfg.MaxSegments,
	}, nil
}

// Write writes p as one indivisible unit. Implements io.Writer.
func (w *SegmentWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if w.file == nil {
		if err := w.openNext(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("audio-stream: write segment %s: %w", w.file.Name(), err)
	}

	if w.written >= w.maxBytes {
		if err := w.closeCurrent(); err != nil {
			return n, err
		}
		w.rotated++
	}
	return n, nil
}

// WriteUnit writes the data of u.
func (w *SegmentWriter) WriteUnit(u Unit) error {
	_, err := w.Write(u.Data)
	return err
}

// Segments returns the retained segment paths, oldest first.
func (w *SegmentWriter) Segments() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.retained...)
}

// Rotations returns how many segments reached the size threshold.
func (w *SegmentWriter) Rotations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotated
}

// Close flushes and closes the current segment. Idempotent.
func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeCurrent()
}

func (w *SegmentWriter) openNext() error {
	path := fmt.Sprintf(w.pattern, w.next)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("audio-stream: open segment: %w", err)
	}

	w.file = f
	w.written = 0
	w.next++
	w.retained = append(w.retained, path)

	for len(w.retained) > w.maxSegments {
		oldest := w.retained[0]
		w.retained = w.retained[1:]
		if err := os.Remove(oldest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("audio-stream: failed to remove old segment", "path", oldest, "error", err)
			continue
		}
		slog.Debug("audio-stream: removed old segment", "path", oldest)
	}

	slog.Debug("audio-stream: segment opened", "path", path)
	return nil
}

func (w *SegmentWriter) closeCurrent() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("audio-stream: sync segment %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio-stream: close segment %s: %w", f.Name(), err)
	}
	slog.Debug("audio-stream: segment closed", "path", f.Name(), "bytes", w.written)
	return nil
}
