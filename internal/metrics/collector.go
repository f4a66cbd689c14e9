// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated timings for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// StreamMetrics aggregates statistics across streamed chat replies.
type StreamMetrics struct {
	Streams        int64
	Deltas         int64
	Bytes          int64
	TotalTime      time.Duration
	TotalFirstWait time.Duration // summed time-to-first-delta
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// StreamSnapshot provides computed stream statistics.
type StreamSnapshot struct {
	Streams       int64
	Deltas        int64
	Bytes         int64
	AvgDurationMs float64
	AvgFirstMs    float64
}

// Snapshot represents the full client statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Ops           map[string]OperationSnapshot
	Stream        StreamSnapshot
}

// Operation names for the collector.
const (
	OpLogin      = "login"
	OpHealth     = "health"
	OpMeta       = "meta"
	OpListModels = "list_models"
	OpStream     = "stream"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and nil-safe, so callers can leave the
// collector unset when statistics are not wanted.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	stream    StreamMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordStream records one completed (or failed) streamed reply.
// firstWait is the time from request start to the first delta; pass zero
// when no delta arrived.
func (c *Collector) RecordStream(duration, firstWait time.Duration, deltas int, bytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stream.Streams++
	c.stream.Deltas += int64(deltas)
	c.stream.Bytes += bytes
	c.stream.TotalTime += duration
	c.stream.TotalFirstWait += firstWait

	m := c.getOrCreate(OpStream)
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// snapshotOp creates a snapshot for an operation.
func snapshotOp(m *OperationMetrics) OperationSnapshot {
	return OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]OperationSnapshot, len(c.ops))
	for op, m := range c.ops {
		if m.Count == 0 {
			continue
		}
		ops[op] = snapshotOp(m)
	}

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Ops:           ops,
	}
	if c.stream.Streams > 0 {
		snap.Stream = StreamSnapshot{
			Streams:       c.stream.Streams,
			Deltas:        c.stream.Deltas,
			Bytes:         c.stream.Bytes,
			AvgDurationMs: float64(c.stream.TotalTime.Milliseconds()) / float64(c.stream.Streams),
			AvgFirstMs:    float64(c.stream.TotalFirstWait.Milliseconds()) / float64(c.stream.Streams),
		}
	}
	return snap
}
