package bulksync

import "fmt"

// Metrics accumulates per-batch processing timings for one session. It
// is owned by its session and dies with it; never a shared global.
type Metrics struct {
	durations     []int64 // milliseconds, append-only
	totalProducts int
	totalMs       int64
	minMs         int64
	maxMs         int64
}

// MetricsSnapshot is the serializable form stored on the session row.
type MetricsSnapshot struct {
	DurationsMs   []int64 `json:"durationsMs"`
	TotalProducts int     `json:"totalProducts"`
}

// DefaultSlowBatchMs is the slow-batch threshold when the caller does
// not supply one.
const DefaultSlowBatchMs int64 = 10000

// NewMetrics creates an empty accumulator.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RestoreMetrics rebuilds an accumulator from a persisted snapshot.
func RestoreMetrics(snap MetricsSnapshot) *Metrics {
	m := NewMetrics()
	for _, d := range snap.DurationsMs {
		_ = m.AddBatch(d, 0)
	}
	m.totalProducts = snap.TotalProducts
	return m
}

// AddBatch records one batch's duration and product count. Negative
// durations are rejected.
func (m *Metrics) AddBatch(durationMs int64, products int) error {
	if durationMs < 0 {
		return fmt.Errorf("negative batch duration: %dms", durationMs)
	}
	if len(m.durations) == 0 || durationMs < m.minMs {
		m.minMs = durationMs
	}
	if durationMs > m.maxMs {
		m.maxMs = durationMs
	}
	m.durations = append(m.durations, durationMs)
	m.totalMs += durationMs
	m.totalProducts += products
	return nil
}

// BatchCount returns the number of recorded batches.
func (m *Metrics) BatchCount() int { return len(m.durations) }

// TotalProducts returns the number of products processed so far.
func (m *Metrics) TotalProducts() int { return m.totalProducts }

// TotalMs returns the summed processing time.
func (m *Metrics) TotalMs() int64 { return m.totalMs }

// MinMs returns the fastest batch duration, 0 before the first batch.
func (m *Metrics) MinMs() int64 { return m.minMs }

// MaxMs returns the slowest batch duration, 0 before the first batch.
func (m *Metrics) MaxMs() int64 { return m.maxMs }

// AvgMs returns the mean batch duration, 0 before the first batch.
func (m *Metrics) AvgMs() float64 {
	if len(m.durations) == 0 {
		return 0
	}
	return float64(m.totalMs) / float64(len(m.durations))
}

// Throughput returns products per second, 0 when no time was recorded.
func (m *Metrics) Throughput() float64 {
	if m.totalMs <= 0 {
		return 0
	}
	return float64(m.totalProducts) / (float64(m.totalMs) / 1000.0)
}

// SlowBatches returns the 1-based indices of batches over thresholdMs.
// Pass 0 or negative to use DefaultSlowBatchMs.
func (m *Metrics) SlowBatches(thresholdMs int64) []int {
	if thresholdMs <= 0 {
		thresholdMs = DefaultSlowBatchMs
	}
	var slow []int
	for i, d := range m.durations {
		if d > thresholdMs {
			slow = append(slow, i+1)
		}
	}
	return slow
}

// Snapshot returns the serializable form for persistence.
func (m *Metrics) Snapshot() MetricsSnapshot {
	durations := make([]int64, len(m.durations))
	copy(durations, m.durations)
	return MetricsSnapshot{
		DurationsMs:   durations,
		TotalProducts: m.totalProducts,
	}
}
