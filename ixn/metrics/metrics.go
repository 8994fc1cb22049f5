package metrics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/voxhollow/interactions-go/ixn/model"
)

// maxLatencySamples bounds the quantile window; older samples are
// overwritten ring-style.
const maxLatencySamples = 4096

// Collector aggregates client-side counters for runs, tool rounds,
// stream reconnects, and snapshot cache effectiveness. A nil Collector
// is safe to record into.
type Collector struct {
	mu          sync.Mutex
	runs        map[model.Status]int64
	toolRounds  int64
	reconnects  int64
	cacheHits   int64
	cacheMisses int64
	latencies   []float64 // seconds
	latencyNext int
}

func NewCollector() *Collector {
	return &Collector{runs: make(map[model.Status]int64)}
}

// RecordRun counts one settled run under its terminal status and
// samples its wall-clock latency.
func (c *Collector) RecordRun(status model.Status, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[status]++

	sample := d.Seconds()
	if len(c.latencies) < maxLatencySamples {
		c.latencies = append(c.latencies, sample)
		return
	}
	c.latencies[c.latencyNext] = sample
	c.latencyNext = (c.latencyNext + 1) % maxLatencySamples
}

func (c *Collector) RecordToolRounds(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolRounds += int64(n)
}

func (c *Collector) RecordReconnects(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects += int64(n)
}

func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheMisses++
}

// Snapshot is a point-in-time view of the collected metrics. Latency
// quantiles cover a bounded window of recent runs.
type Snapshot struct {
	Runs        map[model.Status]int64
	ToolRounds  int64
	Reconnects  int64
	CacheHits   int64
	CacheMisses int64

	RunLatencyP50 time.Duration
	RunLatencyP95 time.Duration
	RunLatencyP99 time.Duration
}

func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Runs:        make(map[model.Status]int64, len(c.runs)),
		ToolRounds:  c.toolRounds,
		Reconnects:  c.reconnects,
		CacheHits:   c.cacheHits,
		CacheMisses: c.cacheMisses,
	}
	for status, n := range c.runs {
		snap.Runs[status] = n
	}

	if len(c.latencies) > 0 {
		xs := make([]float64, len(c.latencies))
		copy(xs, c.latencies)
		sort.Float64s(xs)
		snap.RunLatencyP50 = seconds(stat.Quantile(0.50, stat.Empirical, xs, nil))
		snap.RunLatencyP95 = seconds(stat.Quantile(0.95, stat.Empirical, xs, nil))
		snap.RunLatencyP99 = seconds(stat.Quantile(0.99, stat.Empirical, xs, nil))
	}
	return snap
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
