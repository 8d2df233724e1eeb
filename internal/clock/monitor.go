package clock

import (
	"sync"
	"time"
)

// MetricsSnapshot summarises observed scheduler pass durations.
type MetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
}

// AverageHz derives the passes-per-second equivalent of the average duration.
func (s MetricsSnapshot) AverageHz() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// Monitor accumulates timing statistics for scheduler passes. It is safe for
// concurrent use so status queries never block the server loop.
type Monitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewMonitor constructs an empty monitor ready to collect samples.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Observe records the duration of one completed scheduler pass.
func (m *Monitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *Monitor) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	samples := m.samples
	total := m.total
	max := m.max
	last := m.last
	m.mu.Unlock()

	average := time.Duration(0)
	if samples > 0 {
		average = total / time.Duration(samples)
	}
	return MetricsSnapshot{Samples: samples, Average: average, Max: max, Last: last}
}

// Reset clears the statistics so a fresh round starts cleanly.
func (m *Monitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples = 0
	m.total = 0
	m.max = 0
	m.last = 0
	m.mu.Unlock()
}
