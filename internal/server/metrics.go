package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/quotad/internal/registry"
	"github.com/xtxerr/quotad/internal/stats"
)

var (
	descOwnerUsedBytes = prometheus.NewDesc(
		"quotad_owner_used_bytes",
		"Disk space in use per owner and partition",
		[]string{"owner", "partition"}, nil,
	)
	descOwnerQuotaBytes = prometheus.NewDesc(
		"quotad_owner_quota_bytes",
		"Disk space quota per owner and partition; absent when unlimited",
		[]string{"owner", "partition"}, nil,
	)
	descAggregateEntries = prometheus.NewDesc(
		"quotad_aggregate_entries",
		"Number of live (owner, partition) aggregates",
		nil, nil,
	)
	descCycleFiles = prometheus.NewDesc(
		"quotad_cycle_files",
		"Files observed in the last completed reconciliation cycle",
		[]string{"partition"}, nil,
	)
	descCycleUnits = prometheus.NewDesc(
		"quotad_cycle_units",
		"Storage units tracked after the last completed cycle",
		[]string{"partition"}, nil,
	)
	descCycleOrphans = prometheus.NewDesc(
		"quotad_cycle_orphans",
		"Units with unknown owner after the last completed cycle",
		[]string{"partition"}, nil,
	)
	descCycleDuration = prometheus.NewDesc(
		"quotad_cycle_duration_seconds",
		"Duration of the last completed reconciliation cycle",
		[]string{"partition"}, nil,
	)
	descCycleGeneration = prometheus.NewDesc(
		"quotad_cycle_generation",
		"Generation number of the last completed cycle",
		[]string{"partition"}, nil,
	)
)

// Collector exposes the aggregate table and per-partition cycle statistics
// as Prometheus metrics. It reads live state on every scrape.
type Collector struct {
	reg       *registry.Registry
	recorders map[string]*stats.Recorder
}

// NewCollector creates a Collector over the aggregate table and the given
// per-partition statistics recorders.
func NewCollector(reg *registry.Registry, recorders map[string]*stats.Recorder) *Collector {
	return &Collector{reg: reg, recorders: recorders}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descOwnerUsedBytes
	ch <- descOwnerQuotaBytes
	ch <- descAggregateEntries
	ch <- descCycleFiles
	ch <- descCycleUnits
	ch <- descCycleOrphans
	ch <- descCycleDuration
	ch <- descCycleGeneration
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	entries := c.reg.SnapshotAll()
	ch <- prometheus.MustNewConstMetric(descAggregateEntries, prometheus.GaugeValue, float64(len(entries)))

	for _, e := range entries {
		ch <- prometheus.MustNewConstMetric(descOwnerUsedBytes, prometheus.GaugeValue,
			float64(e.TotalSize), e.Owner, e.Partition)
		if !e.Unlimited() {
			ch <- prometheus.MustNewConstMetric(descOwnerQuotaBytes, prometheus.GaugeValue,
				float64(e.Quota), e.Owner, e.Partition)
		}
	}

	for partition, rec := range c.recorders {
		cs, ok := rec.Last()
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(descCycleFiles, prometheus.GaugeValue, float64(cs.Files), partition)
		ch <- prometheus.MustNewConstMetric(descCycleUnits, prometheus.GaugeValue, float64(cs.Units), partition)
		ch <- prometheus.MustNewConstMetric(descCycleOrphans, prometheus.GaugeValue, float64(cs.Orphans), partition)
		ch <- prometheus.MustNewConstMetric(descCycleDuration, prometheus.GaugeValue, float64(cs.DurationMs)/1000.0, partition)
		ch <- prometheus.MustNewConstMetric(descCycleGeneration, prometheus.CounterValue, float64(cs.Cycle), partition)
	}
}
