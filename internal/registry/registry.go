// Package registry provides the shared per-owner aggregate table.
//
// The registry is the one structure shared by every partition worker and
// every enforcement caller in the process group. It maps (owner, partition)
// to the owner's current total disk usage and configured quota, and is
// guarded by a readers-writer lock: Check and Snapshot take the shared form,
// all mutation takes the exclusive form.
//
// The table is sized for a small, bounded number of distinct owners; entry
// creation fails with errors.ErrRegistryFull when the capacity is exhausted,
// and callers treat that as a recoverable condition.
package registry

import (
	"sync"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/errors"
	"github.com/xtxerr/quotad/internal/logging"
)

var log = logging.Component("registry")

// =============================================================================
// Types
// =============================================================================

// Key identifies one aggregate entry.
type Key struct {
	Owner     string
	Partition string
}

// String returns the string representation of the key.
func (k Key) String() string {
	return k.Partition + "/" + k.Owner
}

// Entry is one (owner, partition) aggregate row.
//
// Quota is config.QuotaUnlimited when no quota is configured.
type Entry struct {
	Owner     string
	Partition string
	TotalSize int64
	Quota     int64
}

// Unlimited returns true when no quota is configured for the entry.
func (e Entry) Unlimited() bool {
	return e.Quota == config.QuotaUnlimited
}

// Exceeded returns true when the entry's usage is over its quota.
func (e Entry) Exceeded() bool {
	return !e.Unlimited() && e.TotalSize > e.Quota
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the shared aggregate table.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[Key]*Entry
	capacity int
}

// New creates a Registry bounded to at most capacity entries.
// A capacity of zero or less uses config.DefaultMaxOwnerEntries.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = config.DefaultMaxOwnerEntries
	}
	return &Registry{
		entries:  make(map[Key]*Entry),
		capacity: capacity,
	}
}

// lookupOrCreate returns the entry for key, creating it if absent.
// New entries start at zero usage with no quota.
// Must be called with the exclusive lock held.
func (r *Registry) lookupOrCreate(key Key) (*Entry, error) {
	if e, ok := r.entries[key]; ok {
		return e, nil
	}
	if len(r.entries) >= r.capacity {
		return nil, errors.ErrRegistryFull
	}
	e := &Entry{
		Owner:     key.Owner,
		Partition: key.Partition,
		Quota:     config.QuotaUnlimited,
	}
	r.entries[key] = e
	return e, nil
}

// ApplyDelta adds a signed usage delta to the entry for (owner, partition),
// creating it if needed.
func (r *Registry) ApplyDelta(owner, partition string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookupOrCreate(Key{Owner: owner, Partition: partition})
	if err != nil {
		return err
	}
	e.TotalSize += delta
	return nil
}

// SetQuota replaces the quota for (owner, partition), creating the entry if
// needed. Usage is left untouched.
func (r *Registry) SetQuota(owner, partition string, quota int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookupOrCreate(Key{Owner: owner, Partition: partition})
	if err != nil {
		return err
	}
	e.Quota = quota
	return nil
}

// Transfer moves size bytes of accounted usage from oldOwner to newOwner
// within a partition, in one critical section so no reader can observe the
// subtracted-but-not-yet-added intermediate state. An empty owner name on
// either side skips that side (the unit was, or becomes, unowned).
//
// Entry creation for the receiving owner may fail when the table is full; in
// that case nothing is changed.
func (r *Registry) Transfer(oldOwner, newOwner, partition string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dst *Entry
	if newOwner != "" {
		var err error
		dst, err = r.lookupOrCreate(Key{Owner: newOwner, Partition: partition})
		if err != nil {
			return err
		}
	}

	if oldOwner != "" {
		src, ok := r.entries[Key{Owner: oldOwner, Partition: partition}]
		if ok {
			src.TotalSize -= size
		} else {
			// The previous owner should have been contributing. Corrupt map?
			log.Warn("owner total not found during transfer",
				"owner", oldOwner, "partition", partition)
		}
	}

	if dst != nil {
		dst.TotalSize += size
	}
	return nil
}

// Check reports whether owner may grow within partition. It returns true
// when no entry exists, the quota is unlimited, or usage is at most the
// quota. This is the hot read path; it takes only the shared lock.
func (r *Registry) Check(owner, partition string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[Key{Owner: owner, Partition: partition}]
	if !ok {
		return true
	}
	return !e.Exceeded()
}

// Snapshot returns a copy of all entries for a partition, for reporting.
func (r *Registry) Snapshot(partition string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.Partition == partition {
			out = append(out, *e)
		}
	}
	return out
}

// SnapshotAll returns a copy of every entry across all partitions.
func (r *Registry) SnapshotAll() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// ResetPartition removes every entry for a partition. A worker calls this
// once at startup, before its first cycle, to discard totals left behind by
// a previous crashed instance; otherwise the stale contributions would
// double-count once the fresh scan starts adding deltas.
func (r *Registry) ResetPartition(partition string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.entries {
		if key.Partition == partition {
			delete(r.entries, key)
			removed++
		}
	}
	if removed > 0 {
		log.Info("partition aggregates reset", "partition", partition, "entries", removed)
	}
}

// Len returns the number of entries in the table.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
