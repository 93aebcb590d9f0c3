package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/errors"
)

func TestApplyDeltaCreatesEntry(t *testing.T) {
	r := New(8)

	if err := r.ApplyDelta("alice", "shared", 100); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	entries := r.Snapshot("shared")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Owner != "alice" || e.TotalSize != 100 {
		t.Errorf("unexpected entry: %+v", e)
	}
	if !e.Unlimited() {
		t.Errorf("new entry should be unlimited, quota %d", e.Quota)
	}
}

func TestApplyDeltaAccumulates(t *testing.T) {
	r := New(8)

	r.ApplyDelta("alice", "shared", 100)
	r.ApplyDelta("alice", "shared", 50)
	r.ApplyDelta("alice", "shared", -30)

	entries := r.Snapshot("shared")
	if len(entries) != 1 || entries[0].TotalSize != 120 {
		t.Errorf("expected total 120, got %+v", entries)
	}
}

func TestCapacityBound(t *testing.T) {
	r := New(2)

	if err := r.ApplyDelta("a", "shared", 1); err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if err := r.ApplyDelta("b", "shared", 1); err != nil {
		t.Fatalf("second entry: %v", err)
	}

	err := r.ApplyDelta("c", "shared", 1)
	if !errors.Is(err, errors.ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}

	// Existing entries still updatable at capacity.
	if err := r.ApplyDelta("a", "shared", 1); err != nil {
		t.Errorf("update at capacity: %v", err)
	}
}

func TestCheckBoundary(t *testing.T) {
	r := New(8)

	r.ApplyDelta("alice", "shared", 1000)
	r.SetQuota("alice", "shared", 1000)

	// Usage equal to quota still passes; one byte over does not.
	if !r.Check("alice", "shared") {
		t.Error("usage == quota should pass")
	}

	r.ApplyDelta("alice", "shared", 1)
	if r.Check("alice", "shared") {
		t.Error("usage > quota should fail")
	}
}

func TestCheckUnknownOwnerPasses(t *testing.T) {
	r := New(8)

	if !r.Check("nobody", "shared") {
		t.Error("unknown owner should pass")
	}
}

func TestCheckUnlimitedPasses(t *testing.T) {
	r := New(8)

	r.ApplyDelta("alice", "shared", 1<<40)
	if !r.Check("alice", "shared") {
		t.Error("unlimited owner should pass regardless of usage")
	}
}

func TestSetQuotaUnlimited(t *testing.T) {
	r := New(8)

	r.ApplyDelta("alice", "shared", 500)
	r.SetQuota("alice", "shared", 100)
	if r.Check("alice", "shared") {
		t.Fatal("over quota should fail")
	}

	r.SetQuota("alice", "shared", config.QuotaUnlimited)
	if !r.Check("alice", "shared") {
		t.Error("removing the quota should pass again")
	}
}

func TestPartitionsIndependent(t *testing.T) {
	r := New(8)

	r.ApplyDelta("alice", "p1", 200)
	r.SetQuota("alice", "p1", 100)
	r.ApplyDelta("alice", "p2", 50)

	if r.Check("alice", "p1") {
		t.Error("p1 should be over quota")
	}
	if !r.Check("alice", "p2") {
		t.Error("p2 should pass")
	}
}

func TestTransfer(t *testing.T) {
	r := New(8)

	r.ApplyDelta("alice", "shared", 300)
	if err := r.Transfer("alice", "bob", "shared", 100); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	totals := make(map[string]int64)
	for _, e := range r.Snapshot("shared") {
		totals[e.Owner] = e.TotalSize
	}
	if totals["alice"] != 200 || totals["bob"] != 100 {
		t.Errorf("unexpected totals after transfer: %v", totals)
	}
}

func TestTransferFromUnowned(t *testing.T) {
	r := New(8)

	if err := r.Transfer("", "bob", "shared", 100); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	entries := r.Snapshot("shared")
	if len(entries) != 1 || entries[0].TotalSize != 100 {
		t.Errorf("expected bob at 100, got %+v", entries)
	}
}

func TestTransferFullTableUnchanged(t *testing.T) {
	r := New(1)
	r.ApplyDelta("alice", "shared", 300)

	err := r.Transfer("alice", "bob", "shared", 100)
	if !errors.Is(err, errors.ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}

	// A failed transfer must leave the source untouched.
	entries := r.Snapshot("shared")
	if len(entries) != 1 || entries[0].TotalSize != 300 {
		t.Errorf("source changed by failed transfer: %+v", entries)
	}
}

func TestResetPartition(t *testing.T) {
	r := New(8)

	r.ApplyDelta("alice", "p1", 100)
	r.ApplyDelta("alice", "p2", 100)
	r.ResetPartition("p1")

	if got := len(r.Snapshot("p1")); got != 0 {
		t.Errorf("p1 should be empty, got %d entries", got)
	}
	if got := len(r.Snapshot("p2")); got != 1 {
		t.Errorf("p2 should be untouched, got %d entries", got)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := New(64)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			owner := fmt.Sprintf("owner-%d", w)
			for i := 0; i < 1000; i++ {
				r.ApplyDelta(owner, "shared", 1)
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			owner := fmt.Sprintf("owner-%d", w)
			for i := 0; i < 1000; i++ {
				r.Check(owner, "shared")
				r.Snapshot("shared")
			}
		}(w)
	}
	wg.Wait()

	for _, e := range r.SnapshotAll() {
		if e.TotalSize != 1000 {
			t.Errorf("owner %s: expected 1000, got %d", e.Owner, e.TotalSize)
		}
	}
}

func TestTransferConcurrentReadersSeeConsistentSum(t *testing.T) {
	r := New(8)
	r.ApplyDelta("alice", "shared", 1000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			r.Transfer("alice", "bob", "shared", 1)
			r.Transfer("bob", "alice", "shared", 1)
		}
	}()

	// The combined total must never waver while usage migrates back and
	// forth between the two owners.
	for {
		select {
		case <-done:
			return
		default:
		}
		var sum int64
		for _, e := range r.Snapshot("shared") {
			sum += e.TotalSize
		}
		if sum != 1000 {
			t.Fatalf("observed intermediate transfer state: sum=%d", sum)
		}
	}
}
