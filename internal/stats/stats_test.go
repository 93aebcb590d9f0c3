package stats

import (
	"testing"
	"time"
)

func TestEmptyCycle(t *testing.T) {
	r := NewRecorder("shared")

	if _, ok := r.Last(); ok {
		t.Error("Last before any cycle should report nothing")
	}

	r.Begin(1)
	cs := r.Finish(0, 0, 0, time.Millisecond)

	if cs.Files != 0 || cs.TotalBytes != 0 {
		t.Errorf("empty cycle: %+v", cs)
	}
	if cs.HasPercentiles {
		t.Error("empty cycle should have no percentiles")
	}
	if cs.MinSize != 0 || cs.MaxSize != 0 || cs.AvgSize != 0 {
		t.Errorf("empty cycle extremes: %+v", cs)
	}
}

func TestRunningValues(t *testing.T) {
	r := NewRecorder("shared")
	r.Begin(1)

	for _, size := range []int64{100, 200, 300} {
		r.Observe(size)
	}
	cs := r.Finish(2, 1, 0, 5*time.Millisecond)

	if cs.Files != 3 || cs.TotalBytes != 600 {
		t.Errorf("count/sum: %+v", cs)
	}
	if cs.MinSize != 100 || cs.MaxSize != 300 || cs.AvgSize != 200 {
		t.Errorf("extremes: %+v", cs)
	}
	if cs.Units != 2 || cs.Orphans != 1 {
		t.Errorf("counts: %+v", cs)
	}
	if cs.Cycle != 1 || cs.Partition != "shared" {
		t.Errorf("identity: %+v", cs)
	}
}

func TestPercentilesWithinAccuracy(t *testing.T) {
	r := NewRecorder("shared")
	r.Begin(1)

	// 1..1000, so p50 ~ 500, p99 ~ 990.
	for i := 1; i <= 1000; i++ {
		r.Observe(int64(i))
	}
	cs := r.Finish(1, 0, 0, time.Millisecond)

	if !cs.HasPercentiles {
		t.Fatal("expected percentiles")
	}
	// The sketch guarantees 1% relative accuracy; allow 5% in the test.
	if cs.P50 < 450 || cs.P50 > 550 {
		t.Errorf("p50 = %f", cs.P50)
	}
	if cs.P99 < 940 || cs.P99 > 1040 {
		t.Errorf("p99 = %f", cs.P99)
	}
	if cs.P50 > cs.P90 || cs.P90 > cs.P99 {
		t.Errorf("percentiles not ordered: %+v", cs)
	}
}

func TestBeginResetsState(t *testing.T) {
	r := NewRecorder("shared")

	r.Begin(1)
	r.Observe(1000)
	first := r.Finish(1, 0, 0, time.Millisecond)

	r.Begin(2)
	r.Observe(10)
	second := r.Finish(1, 0, 0, time.Millisecond)

	if second.Files != 1 || second.TotalBytes != 10 {
		t.Errorf("second cycle carried state: %+v", second)
	}
	if second.MaxSize != 10 {
		t.Errorf("max not reset: %+v", second)
	}

	last, ok := r.Last()
	if !ok || last.Cycle != 2 {
		t.Errorf("Last = %+v, %v; first was %+v", last, ok, first)
	}
}
