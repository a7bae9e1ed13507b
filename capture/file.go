package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arloliu/go-astm/e1381"
)

// ErrSinkClosed is returned by Append after Close.
var ErrSinkClosed = errors.New("capture: sink closed")

// FileSink appends captures to a writer, one capture per Append.
type FileSink struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

var _ e1381.CaptureSink = (*FileSink)(nil)

// OpenFileSink opens path for appending, creating it when missing.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}

	return NewFileSink(f), nil
}

// NewFileSink wraps w. The sink owns w and closes it on Close.
func NewFileSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: w}
}

// RotateConfig configures a size-rotated capture file.
type RotateConfig struct {
	Filename   string // file to write to; backups are kept in the same directory
	MaxSizeMB  int    // megabytes before rotation, 0 means 100
	MaxBackups int    // rotated files to keep, 0 keeps all
	MaxAgeDays int    // days to keep rotated files, 0 keeps all
	Compress   bool   // gzip rotated files
}

// NewRotatingFileSink creates a FileSink over a rotating file.
func NewRotatingFileSink(cfg RotateConfig) (*FileSink, error) {
	if cfg.Filename == "" {
		return nil, errors.New("capture: rotating sink needs a filename")
	}

	return NewFileSink(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}), nil
}

// Append writes the capture data. Concurrent appends never interleave.
func (s *FileSink) Append(_ context.Context, c e1381.Capture) error {
	if len(c.Data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if _, err := s.w.Write(c.Data); err != nil {
		return fmt.Errorf("capture: write: %w", err)
	}

	return nil
}

// Close closes the underlying writer.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.w.Close()
}
