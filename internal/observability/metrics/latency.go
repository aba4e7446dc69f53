package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

const defaultWindowSize = 2048

// Collector keeps a sliding window of stage durations for percentile
// summaries. Prometheus histograms cover dashboards; the window serves
// the admin latency endpoint with exact in-process percentiles.
type Collector struct {
	service string
	mirror  *RetrievalMetrics

	mu     sync.Mutex
	window int
	stages map[string]*stageWindow
}

type stageWindow struct {
	samples []float64
	next    int
	total   int
}

func NewCollector(service string, windowSize int, mirror *RetrievalMetrics) *Collector {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Collector{
		service: service,
		mirror:  mirror,
		window:  windowSize,
		stages:  make(map[string]*stageWindow),
	}
}

func (c *Collector) Observe(stage string, d time.Duration) {
	if d < 0 {
		return
	}
	if c.mirror != nil {
		c.mirror.ObserveStage(c.service, stage, d)
	}

	ms := float64(d.Microseconds()) / 1000.0

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.stages[stage]
	if !ok {
		w = &stageWindow{samples: make([]float64, 0, c.window)}
		c.stages[stage] = w
	}
	if len(w.samples) < c.window {
		w.samples = append(w.samples, ms)
	} else {
		w.samples[w.next] = ms
		w.next = (w.next + 1) % c.window
	}
	w.total++
}

func (c *Collector) Summary() map[string]domain.LatencySummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]domain.LatencySummary, len(c.stages))
	for stage, w := range c.stages {
		if len(w.samples) == 0 {
			continue
		}
		sorted := make([]float64, len(w.samples))
		copy(sorted, w.samples)
		sort.Float64s(sorted)

		var sum float64
		for _, v := range sorted {
			sum += v
		}
		out[stage] = domain.LatencySummary{
			P50:   percentile(sorted, 0.50),
			P95:   percentile(sorted, 0.95),
			P99:   percentile(sorted, 0.99),
			Avg:   sum / float64(len(sorted)),
			Count: w.total,
		}
	}
	return out
}

// percentile uses nearest-rank on an ascending sample set.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
