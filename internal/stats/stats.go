// Package stats maintains per-cycle scan statistics.
//
// Each reconciliation cycle records the distribution of observed file sizes
// into a DDSketch, so the cycle summary can report percentiles alongside the
// plain count/sum/min/max running values. The summary is logged by the
// worker and exposed through the reporting surface.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/quotad/config"
)

// CycleStats is the summary of one completed reconciliation cycle.
type CycleStats struct {
	Partition string `json:"partition"`
	Cycle     uint64 `json:"cycle"`

	Files        int64 `json:"files"`
	Units        int   `json:"units"`
	Orphans      int   `json:"orphans"`
	FilesRemoved int   `json:"files_removed"`
	TotalBytes   int64 `json:"total_bytes"`

	MinSize float64 `json:"min_size"`
	MaxSize float64 `json:"max_size"`
	AvgSize float64 `json:"avg_size"`

	// File size percentiles, valid only when HasPercentiles is set.
	P50            float64 `json:"p50,omitempty"`
	P90            float64 `json:"p90,omitempty"`
	P99            float64 `json:"p99,omitempty"`
	HasPercentiles bool    `json:"has_percentiles"`

	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Recorder accumulates file size observations for the cycle in progress and
// keeps the summary of the last completed cycle.
//
// Recorder is safe for concurrent use: the worker writes, the reporting
// surface reads the last summary.
type Recorder struct {
	mu sync.Mutex

	partition string
	accuracy  float64

	// Cycle in progress
	cycle  uint64
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch

	// Last completed cycle
	last *CycleStats
}

// NewRecorder creates a Recorder for one partition.
func NewRecorder(partition string) *Recorder {
	return &Recorder{
		partition: partition,
		accuracy:  config.DefaultSketchAccuracy,
		min:       math.MaxFloat64,
		max:       -math.MaxFloat64,
	}
}

// Begin resets the in-progress statistics for a new cycle.
func (r *Recorder) Begin(cycle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cycle = cycle
	r.count = 0
	r.sum = 0
	r.min = math.MaxFloat64
	r.max = -math.MaxFloat64

	// DDSketch has no clear operation; start a fresh one.
	sketch, err := ddsketch.NewDefaultDDSketch(r.accuracy)
	if err == nil {
		r.sketch = sketch
	} else {
		r.sketch = nil
	}
}

// Observe records the size of one scanned file.
func (r *Recorder) Observe(size int64) {
	v := float64(size)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	r.sum += v
	if v < r.min {
		r.min = v
	}
	if v > r.max {
		r.max = v
	}
	if r.sketch != nil {
		r.sketch.Add(v)
	}
}

// Finish completes the cycle, stores its summary, and returns it.
func (r *Recorder) Finish(units, orphans, removed int, elapsed time.Duration) CycleStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs := CycleStats{
		Partition:    r.partition,
		Cycle:        r.cycle,
		Files:        r.count,
		Units:        units,
		Orphans:      orphans,
		FilesRemoved: removed,
		TotalBytes:   int64(r.sum),
		DurationMs:   elapsed.Milliseconds(),
		FinishedAt:   time.Now(),
	}

	if r.count > 0 {
		cs.MinSize = r.min
		cs.MaxSize = r.max
		cs.AvgSize = r.sum / float64(r.count)
	}

	if r.sketch != nil && r.count > 0 {
		p50, err1 := r.sketch.GetValueAtQuantile(0.50)
		p90, err2 := r.sketch.GetValueAtQuantile(0.90)
		p99, err3 := r.sketch.GetValueAtQuantile(0.99)
		if err1 == nil && err2 == nil && err3 == nil {
			cs.P50 = p50
			cs.P90 = p90
			cs.P99 = p99
			cs.HasPercentiles = true
		}
	}

	r.last = &cs
	return cs
}

// Last returns the summary of the most recently completed cycle, or false
// when no cycle has finished yet.
func (r *Recorder) Last() (CycleStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		return CycleStats{}, false
	}
	return *r.last, true
}
