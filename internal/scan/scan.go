// Package scan walks the storage directory tree and reports the size of
// every qualifying data file.
//
// The scan is read-only with respect to storage. Classification is purely a
// pattern match against the path below the root:
//
//	shared/<unit>[.<segment>]
//		data belonging to the shared namespace; attributed to the
//		synthetic partition tag config.SharedPartition
//
//	parts/<partition>/<unit>[.<segment>]
//		data belonging to a named partition
//
// Data file names start with the decimal unit identifier; anything after the
// digit run (segment numbers, auxiliary fork suffixes) is counted toward the
// same unit. Paths that match neither pattern are ignored, as are units
// below the configured identifier threshold, which are system-internal.
package scan

import (
	"context"
	"io/fs"
	"math"
	"path/filepath"
	"strings"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/logging"
	"github.com/xtxerr/quotad/internal/model"
)

var log = logging.Component("scan")

// Observation is one scanner finding: a qualifying file, the storage unit
// and partition it belongs to, and its current size.
type Observation struct {
	Unit      model.UnitID
	Partition string
	Path      string // slash-separated, relative to the scan root
	Size      int64
}

// Scanner walks a storage root and emits observations.
type Scanner struct {
	// Root is the storage directory to walk.
	Root string

	// Partition restricts the walk to one partition's subtree. Empty means
	// every partition, including the shared namespace.
	Partition string

	// MinUnitID is the smallest unit identifier that qualifies. Zero uses
	// config.DefaultMinTrackedUnitID.
	MinUnitID uint64

	// YieldEvery is how many files to visit between context checks. Zero
	// uses config.DefaultScanYieldEvery.
	YieldEvery int
}

// New creates a Scanner over root restricted to one partition.
func New(root, partition string) *Scanner {
	return &Scanner{Root: root, Partition: partition}
}

// Scan walks the root and calls emit for every qualifying file, in directory
// order. Unreadable or vanished files are skipped with a diagnostic; only a
// failure to read the tree itself, or context cancellation, aborts the walk.
func (s *Scanner) Scan(ctx context.Context, emit func(Observation)) error {
	minID := s.MinUnitID
	if minID == 0 {
		minID = config.DefaultMinTrackedUnitID
	}
	yieldEvery := s.YieldEvery
	if yieldEvery <= 0 {
		yieldEvery = config.DefaultScanYieldEvery
	}

	visited := 0
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory that vanished mid-scan is not fatal.
			log.Debug("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if skip := s.skipDir(path); skip {
				return fs.SkipDir
			}
			return nil
		}

		visited++
		if visited%yieldEvery == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}

		rel, rerr := filepath.Rel(s.Root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		unit, partition, ok := Classify(rel)
		if !ok {
			return nil
		}
		if uint64(unit) < minID {
			return nil
		}
		if s.Partition != "" && partition != s.Partition {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			// The file vanished between the directory read and the stat.
			log.Debug("could not stat file", "path", rel, "error", ierr)
			return nil
		}

		emit(Observation{
			Unit:      unit,
			Partition: partition,
			Path:      rel,
			Size:      info.Size(),
		})
		return nil
	}

	if err := filepath.WalkDir(s.Root, walk); err != nil {
		return err
	}
	return nil
}

// skipDir prunes subtrees that cannot contain qualifying files for the
// scanner's partition filter.
func (s *Scanner) skipDir(path string) bool {
	if s.Partition == "" {
		return false
	}
	rel, err := filepath.Rel(s.Root, path)
	if err != nil || rel == "." {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch parts[0] {
	case "shared":
		return s.Partition != config.SharedPartition
	case "parts":
		return len(parts) >= 2 && parts[1] != s.Partition
	default:
		return true
	}
}

// Classify matches a root-relative, slash-separated path against the
// recognized data file patterns. It returns the unit identifier and the
// partition tag, or ok=false when the path is not a data file.
func Classify(rel string) (unit model.UnitID, partition string, ok bool) {
	parts := strings.Split(rel, "/")

	var name string
	switch {
	case len(parts) == 2 && parts[0] == "shared":
		partition = config.SharedPartition
		name = parts[1]
	case len(parts) == 3 && parts[0] == "parts" && parts[1] != "":
		partition = parts[1]
		name = parts[2]
	default:
		return 0, "", false
	}

	id, ok := leadingID(name)
	if !ok {
		return 0, "", false
	}

	// Note: anything after the digit run (non-zero segments, auxiliary
	// forks) is counted as part of the same unit.
	return model.UnitID(id), partition, true
}

// leadingID parses the decimal digit run at the start of a file name.
// A run that does not fit in a uint64 is not a unit identifier; wrapping
// around would attribute the file to an unrelated unit.
func leadingID(name string) (uint64, bool) {
	var id uint64
	n := 0
	for ; n < len(name); n++ {
		c := name[n]
		if c < '0' || c > '9' {
			break
		}
		d := uint64(c - '0')
		if id > (math.MaxUint64-d)/10 {
			return 0, false
		}
		id = id*10 + d
	}
	if n == 0 {
		return 0, false
	}
	return id, true
}
