package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorSummaryPercentiles(t *testing.T) {
	c := NewCollector("api", 0, nil)

	for i := 1; i <= 100; i++ {
		c.Observe("fan_out", time.Duration(i)*time.Millisecond)
	}

	summary := c.Summary()
	s, ok := summary["fan_out"]
	if !ok {
		t.Fatalf("missing stage summary: %v", summary)
	}
	if s.Count != 100 {
		t.Fatalf("count = %d, want 100", s.Count)
	}
	if s.P50 != 50 || s.P95 != 95 || s.P99 != 99 {
		t.Fatalf("percentiles = %f/%f/%f, want 50/95/99", s.P50, s.P95, s.P99)
	}
	if s.Avg != 50.5 {
		t.Fatalf("avg = %f, want 50.5", s.Avg)
	}
}

func TestCollectorWindowEvictsOldestSamples(t *testing.T) {
	c := NewCollector("api", 4, nil)

	for i := 1; i <= 8; i++ {
		c.Observe("gate", time.Duration(i)*time.Millisecond)
	}

	s := c.Summary()["gate"]
	if s.Count != 8 {
		t.Fatalf("count must track all observations, got %d", s.Count)
	}
	// Window holds only 5..8 after wraparound.
	if s.P50 != 6 {
		t.Fatalf("p50 over the window = %f, want 6", s.P50)
	}
}

func TestCollectorIgnoresNegativeDurations(t *testing.T) {
	c := NewCollector("api", 0, nil)
	c.Observe("rerank", -time.Second)
	if len(c.Summary()) != 0 {
		t.Fatalf("negative durations must be dropped")
	}
}

func TestCollectorConcurrentObserve(t *testing.T) {
	c := NewCollector("api", 128, nil)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Observe("total", time.Millisecond)
				c.Summary()
			}
		}()
	}
	wg.Wait()

	if s := c.Summary()["total"]; s.Count != 4000 {
		t.Fatalf("count = %d, want 4000", s.Count)
	}
}
