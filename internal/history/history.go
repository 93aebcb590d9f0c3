// Package history persists per-owner usage snapshots to Parquet files.
//
// At the end of each reconciliation cycle the worker hands the sink one row
// per owner aggregate. Rows accumulate in memory and are flushed to a new
// timestamped file under the configured directory, one file per flush, so
// downstream tooling can query usage over time without touching the daemon.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/quotad/internal/errors"
	"github.com/xtxerr/quotad/internal/logging"
)

var log = logging.Component("history")

// UsageRow is one owner aggregate observation in Parquet format.
type UsageRow struct {
	Partition   string `parquet:"partition,zstd"`
	Owner       string `parquet:"owner,zstd"`
	TotalSize   int64  `parquet:"total_size"`
	Quota       int64  `parquet:"quota"`
	Cycle       uint64 `parquet:"cycle"`
	TimestampMs int64  `parquet:"timestamp_ms"`
}

// Options configures the history sink.
type Options struct {
	// Dir is the directory usage files are written to.
	Dir string

	// Compression algorithm for the Parquet files.
	Compression compress.Codec

	// FlushRows flushes to disk once this many rows are buffered,
	// independently of cycles.
	FlushRows int
}

// DefaultOptions returns default sink options.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:         dir,
		Compression: &parquet.Zstd,
		FlushRows:   100000,
	}
}

// Sink buffers usage rows and writes them out as Parquet files.
type Sink struct {
	mu      sync.Mutex
	opts    Options
	pending []UsageRow
	files   int64
	rows    int64
	closed  bool
}

// NewSink creates the sink and its output directory.
func NewSink(opts Options) (*Sink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: history directory", errors.ErrMissingField)
	}
	if opts.Compression == nil {
		opts.Compression = &parquet.Zstd
	}
	if opts.FlushRows <= 0 {
		opts.FlushRows = 100000
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &Sink{opts: opts}, nil
}

// Append buffers rows and flushes when the buffer grows past FlushRows.
func (s *Sink) Append(rows []UsageRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrClosed
	}

	s.pending = append(s.pending, rows...)
	if len(s.pending) >= s.opts.FlushRows {
		return s.flushLocked()
	}
	return nil
}

// Flush writes all buffered rows to a new Parquet file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrClosed
	}
	return s.flushLocked()
}

// flushLocked writes the pending buffer out. Caller holds s.mu.
func (s *Sink) flushLocked() error {
	if len(s.pending) == 0 {
		return nil
	}

	name := fmt.Sprintf("usage-%s-%06d.parquet", time.Now().UTC().Format("20060102T150405"), s.files)
	path := filepath.Join(s.opts.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create history file: %w", err)
	}

	w := parquet.NewGenericWriter[UsageRow](f, parquet.Compression(s.opts.Compression))
	if _, err := w.Write(s.pending); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write history rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("close history writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history file: %w", err)
	}

	log.Debug("usage history flushed", "path", path, "rows", len(s.pending))

	s.files++
	s.rows += int64(len(s.pending))
	s.pending = s.pending[:0]
	return nil
}

// Close flushes any buffered rows and marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	return err
}

// Stats reports how much the sink has written.
func (s *Sink) Stats() (files, rows int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files, s.rows
}
