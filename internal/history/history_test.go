package history

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/quotad/internal/errors"
)

func TestAppendAndFlush(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	rows := []UsageRow{
		{Partition: "shared", Owner: "alice", TotalSize: 500, Quota: 1000, Cycle: 1, TimestampMs: 1700000000000},
		{Partition: "shared", Owner: "bob", TotalSize: 2000, Quota: -1, Cycle: 1, TimestampMs: 1700000000000},
	}
	if err := sink.Append(rows); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	files, rowCount := sink.Stats()
	if files != 1 || rowCount != 2 {
		t.Errorf("stats = %d files, %d rows", files, rowCount)
	}

	// Read the file back to confirm the rows survived.
	matches, err := filepath.Glob(filepath.Join(dir, "usage-*.parquet"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("glob: %v, %v", matches, err)
	}

	got, err := readRows(matches[0])
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d rows, want 2", len(got))
	}
	if got[0].Owner != "alice" || got[0].TotalSize != 500 {
		t.Errorf("row 0: %+v", got[0])
	}
	if got[1].Quota != -1 {
		t.Errorf("row 1: %+v", got[1])
	}
}

func TestFlushWithNothingPending(t *testing.T) {
	sink, err := NewSink(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	if err := sink.Flush(); err != nil {
		t.Errorf("empty flush: %v", err)
	}
	if files, _ := sink.Stats(); files != 0 {
		t.Errorf("empty flush wrote %d files", files)
	}
}

func TestCloseFlushesAndRejectsFurtherWrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	sink.Append([]UsageRow{{Partition: "shared", Owner: "alice", TotalSize: 1, Cycle: 1}})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if files, _ := sink.Stats(); files != 1 {
		t.Errorf("close did not flush: %d files", files)
	}
	if err := sink.Append([]UsageRow{{Owner: "bob"}}); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("append after close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestMissingDirRejected(t *testing.T) {
	_, err := NewSink(Options{})
	if !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func readRows(path string) ([]UsageRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[UsageRow](f)
	defer reader.Close()

	out := make([]UsageRow, reader.NumRows())
	if _, err := reader.Read(out); err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}
