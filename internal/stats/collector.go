package stats

import (
	"sort"
	"sync"
	"time"

	"padtrace/internal/trace"
	"padtrace/pkg/types"
)

// Collector aggregates decode statistics for one capture file.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time

	Counters trace.Counters

	// Classifications counts emitted TLPs by symbolic type name.
	Classifications map[string]uint64

	FirstTimestampNS uint64
	LastTimestampNS  uint64

	mu sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime:       time.Now(),
		Classifications: make(map[string]uint64),
	}
}

// RecordEmitted records one emitted trace record.
func (c *Collector) RecordEmitted(rec *types.TraceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FirstTimestampNS == 0 {
		c.FirstTimestampNS = rec.Desc.TimestampNS
	}
	c.LastTimestampNS = rec.Desc.TimestampNS

	if rec.DLLP != nil {
		c.Classifications[rec.DLLP.TLP.Classify().Name]++
	}
}

// SetCounters stores the trace reader's final per-disposition totals.
func (c *Collector) SetCounters(counters trace.Counters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Counters = counters
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed decode time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// CaptureSpanNS returns the captured time range covered by the emitted
// records.
func (c *Collector) CaptureSpanNS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LastTimestampNS < c.FirstTimestampNS {
		return 0
	}
	return c.LastTimestampNS - c.FirstTimestampNS
}

// SortedClassifications returns the classification names in descending
// count order, ties broken alphabetically.
func (c *Collector) SortedClassifications() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.Classifications))
	for name := range c.Classifications {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if c.Classifications[names[i]] != c.Classifications[names[j]] {
			return c.Classifications[names[i]] > c.Classifications[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		Counters:         c.Counters,
		Classifications:  make(map[string]uint64, len(c.Classifications)),
		FirstTimestampNS: c.FirstTimestampNS,
		LastTimestampNS:  c.LastTimestampNS,
	}
	for k, v := range c.Classifications {
		snap.Classifications[k] = v
	}
	return snap
}
