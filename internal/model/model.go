// Package model provides the per-partition accounting model.
//
// The model tracks two indexes: file path to file entry, and storage unit ID
// to unit entry. Scan observations are applied as size deltas that flow up
// from files to units to the shared per-owner aggregate table. Deletion is
// detected by a generation-stamp sweep: every observation marks its file
// entry with the current cycle, and entries left unmarked when the cycle
// ends no longer exist on disk.
//
// A Model is exclusively owned by its partition worker and requires no
// locking of its own; every mutation of shared state goes through the
// registry, which has its own lock.
package model

import (
	"context"

	"github.com/xtxerr/quotad/internal/logging"
	"github.com/xtxerr/quotad/internal/registry"
)

var log = logging.Component("model")

// UnitID identifies one storage unit (a table-like object composed of one or
// more files).
type UnitID uint64

// =============================================================================
// Entries
// =============================================================================

// fileEntry tracks one file belonging to a storage unit.
type fileEntry struct {
	path string
	size int64

	// unit this file belongs to.
	unit *unitEntry

	// generation stamp, to detect removed files.
	generation uint64
}

// unitEntry tracks one storage unit: its owner and the aggregate size of its
// live files.
//
// Invariants: totalSize equals the sum of sizes of file entries referencing
// the unit, and numFiles equals their count. The entry is created by the
// first referencing file and destroyed with the last one, at which point
// totalSize is zero again.
type unitEntry struct {
	id    UnitID
	owner string // empty until resolved

	numFiles  int
	totalSize int64
}

// UnitInfo is a read-only view of a unit entry, for callers and tests.
type UnitInfo struct {
	ID        UnitID
	Owner     string
	NumFiles  int
	TotalSize int64
	Orphan    bool
}

// OwnerLookup resolves a storage unit to its owning principal.
// An empty owner with a nil error means "unknown"; errors are treated the
// same way by the orphan sweep and retried next cycle.
type OwnerLookup interface {
	UnitOwner(ctx context.Context, partition string, unit UnitID) (string, error)
}

// =============================================================================
// Model
// =============================================================================

// Model is the local accounting model for one partition.
//
// Model is NOT safe for concurrent use; it is owned by a single worker.
type Model struct {
	partition string
	reg       *registry.Registry

	files map[string]*fileEntry
	units map[UnitID]*unitEntry

	// Units whose owner has not been resolved yet, re-tried each cycle.
	// A secondary index rather than an intrusive list, so entries can leave
	// the set mid-iteration.
	orphans map[UnitID]*unitEntry

	// Current generation, used to detect entries for deleted files.
	generation uint64
}

// New creates an empty Model for one partition, forwarding owner deltas to
// the given registry.
func New(partition string, reg *registry.Registry) *Model {
	return &Model{
		partition: partition,
		reg:       reg,
		files:     make(map[string]*fileEntry),
		units:     make(map[UnitID]*unitEntry),
		orphans:   make(map[UnitID]*unitEntry),
	}
}

// Partition returns the partition this model accounts for.
func (m *Model) Partition() string {
	return m.partition
}

// BeginCycle advances the generation counter. It must be called once before
// a scan pass begins, so the pass can mark every file it still sees.
func (m *Model) BeginCycle() {
	m.generation++
}

// Generation returns the current cycle number.
func (m *Model) Generation() uint64 {
	return m.generation
}

// ApplyObservation updates the model with the observed size of one file.
//
// This is the only path that changes recorded sizes. The file's generation
// stamp is always refreshed; unit and owner totals move only when the size
// actually changed, so re-observing an unchanged file is a no-op beyond the
// stamp.
func (m *Model) ApplyObservation(unit UnitID, path string, size int64) {
	// Find or create the entry for the unit.
	ue, ok := m.units[unit]
	if !ok {
		ue = &unitEntry{id: unit}
		m.units[unit] = ue
		m.orphans[unit] = ue
	}

	// Find or create the entry for the file.
	fe, ok := m.files[path]
	if !ok {
		fe = &fileEntry{path: path, unit: ue}
		m.files[path] = fe
		ue.numFiles++
	}

	oldSize := fe.size
	fe.size = size

	// Touch the generation even when the size is unchanged: deletion
	// detection depends on the stamp, not on the totals moving.
	fe.generation = m.generation

	if size == oldSize {
		return
	}

	delta := size - oldSize
	ue.totalSize += delta

	if ue.owner != "" {
		if err := m.reg.ApplyDelta(ue.owner, m.partition, delta); err != nil {
			log.Warn("aggregate update skipped",
				"owner", ue.owner, "partition", m.partition, "error", err)
		}
	}
}

// EndCycle sweeps the file index and removes every entry whose generation
// stamp was not refreshed during the pass that just finished. The model has
// no delete notification; absence of a re-observation is the only signal.
// It returns the number of files removed.
func (m *Model) EndCycle() int {
	removed := 0
	for _, fe := range m.files {
		if fe.generation != m.generation {
			m.removeFile(fe)
			removed++
		}
	}
	return removed
}

// removeFile removes one file entry, unwinding its contribution from the
// owning unit and, when the owner is known, from the shared aggregate.
func (m *Model) removeFile(fe *fileEntry) {
	ue := fe.unit
	size := fe.size
	owner := ue.owner

	delete(m.files, fe.path)

	// Update the owning unit. If this was its last file, remove the unit
	// entry altogether.
	ue.totalSize -= size
	ue.numFiles--
	if ue.numFiles == 0 {
		if ue.totalSize != 0 {
			log.Error("unit removed with nonzero total",
				"unit", ue.id, "partition", m.partition, "total", ue.totalSize)
		}
		delete(m.orphans, ue.id)
		delete(m.units, ue.id)
	}

	if owner != "" && size != 0 {
		if err := m.reg.ApplyDelta(owner, m.partition, -size); err != nil {
			log.Warn("aggregate update skipped",
				"owner", owner, "partition", m.partition, "error", err)
		}
	}
}

// SetOwner records the owner of a storage unit, migrating its accounted
// total between aggregate entries. It is a no-op when the unit is unknown
// locally or the owner is unchanged.
//
// The migration goes through registry.Transfer so readers never observe the
// total subtracted from the old owner but not yet added to the new one. When
// the transfer fails (table full), the unit keeps its previous owner and
// stays in the orphan set for a retry next cycle.
func (m *Model) SetOwner(unit UnitID, owner string) {
	ue, ok := m.units[unit]
	if !ok {
		return
	}
	if ue.owner == owner {
		return
	}

	if err := m.reg.Transfer(ue.owner, owner, m.partition, ue.totalSize); err != nil {
		log.Warn("owner migration skipped",
			"unit", unit, "partition", m.partition, "owner", owner, "error", err)
		return
	}

	ue.owner = owner
	if owner == "" {
		m.orphans[unit] = ue
	} else {
		delete(m.orphans, unit)
	}
}

// ResolveOrphans retries the owner lookup for every unit whose owner is not
// yet known. Resolved units migrate into their owner's aggregate via
// SetOwner, which removes them from the orphan set mid-iteration; unresolved
// units stay for the next cycle. Lookup failures count as "unknown", never
// as errors.
func (m *Model) ResolveOrphans(ctx context.Context, lookup OwnerLookup) {
	// Iterate over a snapshot of IDs: SetOwner mutates the set.
	ids := make([]UnitID, 0, len(m.orphans))
	for id := range m.orphans {
		ids = append(ids, id)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		owner, err := lookup.UnitOwner(ctx, m.partition, id)
		if err != nil {
			log.Debug("owner lookup failed", "unit", id, "error", err)
			continue
		}
		if owner == "" {
			continue
		}
		m.SetOwner(id, owner)
		log.Debug("resolved unit owner",
			"unit", id, "partition", m.partition, "owner", owner)
	}
}

// =============================================================================
// Introspection
// =============================================================================

// FileCount returns the number of tracked files.
func (m *Model) FileCount() int {
	return len(m.files)
}

// UnitCount returns the number of tracked units.
func (m *Model) UnitCount() int {
	return len(m.units)
}

// OrphanCount returns the number of units awaiting owner resolution.
func (m *Model) OrphanCount() int {
	return len(m.orphans)
}

// Unit returns a read-only view of one unit entry.
func (m *Model) Unit(id UnitID) (UnitInfo, bool) {
	ue, ok := m.units[id]
	if !ok {
		return UnitInfo{}, false
	}
	_, orphan := m.orphans[id]
	return UnitInfo{
		ID:        ue.id,
		Owner:     ue.owner,
		NumFiles:  ue.numFiles,
		TotalSize: ue.totalSize,
		Orphan:    orphan,
	}, true
}

// FileSize returns the recorded size of one tracked file.
func (m *Model) FileSize(path string) (int64, bool) {
	fe, ok := m.files[path]
	if !ok {
		return 0, false
	}
	return fe.size, true
}
