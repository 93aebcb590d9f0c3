// Package worker drives the reconciliation loop for one partition.
//
// A Worker owns the partition's local model exclusively. Each cycle it
// rescans the partition's files, folds the observations into the model,
// sweeps entries for files that disappeared, resolves units whose owner is
// still unknown, and refreshes quota limits from the catalog. Between cycles
// it sleeps for the configured naptime, but can be woken early.
package worker

import (
	"context"
	"time"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/catalog"
	"github.com/xtxerr/quotad/internal/history"
	"github.com/xtxerr/quotad/internal/logging"
	"github.com/xtxerr/quotad/internal/model"
	"github.com/xtxerr/quotad/internal/registry"
	"github.com/xtxerr/quotad/internal/scan"
	"github.com/xtxerr/quotad/internal/stats"
)

var log = logging.Component("worker")

// Options configures a Worker.
type Options struct {
	// Partition this worker reconciles.
	Partition string

	// Root is the storage directory to scan.
	Root string

	// Naptime is the pause between reconciliation cycles.
	Naptime time.Duration

	// MinUnitID is the smallest unit identifier worth tracking.
	MinUnitID model.UnitID

	// YieldEvery bounds how many files are scanned between
	// cancellation checks.
	YieldEvery int

	// History receives per-owner usage rows after each cycle.
	// Nil disables usage history.
	History *history.Sink
}

// Worker reconciles one partition's on-disk state with the aggregate table.
type Worker struct {
	opts    Options
	reg     *registry.Registry
	model   *model.Model
	scanner *scan.Scanner
	lookup  model.OwnerLookup
	quotas  catalog.QuotaSource
	stats   *stats.Recorder
	wake    chan struct{}
}

// New creates a Worker. The quota source may be nil when no quota
// configuration exists yet; all owners then stay unlimited.
func New(opts Options, reg *registry.Registry, lookup model.OwnerLookup, quotas catalog.QuotaSource) *Worker {
	if opts.Naptime <= 0 {
		opts.Naptime = config.DefaultNaptime
	}

	scanner := scan.New(opts.Root, opts.Partition)
	scanner.MinUnitID = uint64(opts.MinUnitID)
	scanner.YieldEvery = opts.YieldEvery

	return &Worker{
		opts:    opts,
		reg:     reg,
		model:   model.New(opts.Partition, reg),
		scanner: scanner,
		lookup:  lookup,
		quotas:  quotas,
		stats:   stats.NewRecorder(opts.Partition),
		wake:    make(chan struct{}, 1),
	}
}

// Stats exposes the worker's cycle statistics recorder.
func (w *Worker) Stats() *stats.Recorder {
	return w.stats
}

// Wake requests an immediate cycle. Safe to call from any goroutine; a
// pending wakeup is collapsed with the next one.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run executes the reconciliation loop until ctx is cancelled.
//
// Aggregates left over from a previous run of this partition are discarded
// first, so the totals this worker publishes always reflect a scan it
// performed itself. The first cycle runs immediately.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logging.ContextWithPartition(ctx, w.opts.Partition)
	log.Info("worker starting", "partition", w.opts.Partition, "root", w.opts.Root, "naptime", w.opts.Naptime)

	w.reg.ResetPartition(w.opts.Partition)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping", "partition", w.opts.Partition)
			return ctx.Err()
		case <-timer.C:
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if err := w.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping", "partition", w.opts.Partition)
				return ctx.Err()
			}
			log.Warn("cycle failed", "partition", w.opts.Partition, "error", err)
		}

		timer.Reset(w.opts.Naptime)
	}
}

// runCycle performs one full reconciliation pass.
func (w *Worker) runCycle(ctx context.Context) error {
	start := time.Now()

	w.model.BeginCycle()
	cycle := w.model.Generation()
	ctx = logging.ContextWithCycle(ctx, cycle)
	w.stats.Begin(cycle)

	err := w.scanner.Scan(ctx, func(obs scan.Observation) {
		w.model.ApplyObservation(obs.Unit, obs.Path, obs.Size)
		w.stats.Observe(obs.Size)
	})
	if err != nil {
		// Leave the model as-is; a partial sweep would discard
		// files the aborted scan never reached.
		return err
	}

	removed := w.model.EndCycle()

	if w.lookup != nil {
		w.model.ResolveOrphans(ctx, w.lookup)
	}

	w.reloadQuotas(ctx)

	cs := w.stats.Finish(w.model.UnitCount(), w.model.OrphanCount(), removed, time.Since(start))
	log.Info("cycle complete",
		"partition", cs.Partition,
		"cycle", cs.Cycle,
		"files", cs.Files,
		"units", cs.Units,
		"orphans", cs.Orphans,
		"removed", cs.FilesRemoved,
		"bytes", cs.TotalBytes,
		"duration_ms", cs.DurationMs)

	w.recordHistory(cycle)
	return nil
}

// reloadQuotas refreshes quota limits from the catalog. A missing or
// unreachable quota source is tolerated: accounting continues and existing
// limits stay in force.
func (w *Worker) reloadQuotas(ctx context.Context) {
	if w.quotas == nil {
		return
	}

	assignments, err := w.quotas.Quotas(ctx, w.opts.Partition)
	if err != nil {
		log.Warn("quota reload skipped", "partition", w.opts.Partition, "error", err)
		return
	}

	for _, a := range assignments {
		if err := w.reg.SetQuota(a.Owner, w.opts.Partition, a.Quota); err != nil {
			log.Warn("quota not applied", "partition", w.opts.Partition, "owner", a.Owner, "error", err)
		}
	}
}

// recordHistory appends one usage row per owner aggregate to the sink.
func (w *Worker) recordHistory(cycle uint64) {
	if w.opts.History == nil {
		return
	}

	entries := w.reg.Snapshot(w.opts.Partition)
	if len(entries) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	rows := make([]history.UsageRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, history.UsageRow{
			Partition:   e.Partition,
			Owner:       e.Owner,
			TotalSize:   e.TotalSize,
			Quota:       e.Quota,
			Cycle:       cycle,
			TimestampMs: now,
		})
	}

	if err := w.opts.History.Append(rows); err != nil {
		log.Warn("usage history not recorded", "partition", w.opts.Partition, "error", err)
	}
	if err := w.opts.History.Flush(); err != nil {
		log.Warn("usage history flush failed", "partition", w.opts.Partition, "error", err)
	}
}
