package gateway

import "sync"

// seriesCap bounds every named time series at 1024 samples; once full,
// the oldest sample is dropped to make room for the newest.
const seriesCap = 1024

// MetricsRegistry holds the gateway's counters and bounded named time
// series. Every reader gets a copy-on-read snapshot, so a caller iterating
// the result never blocks writers for longer than the copy itself.
type MetricsRegistry struct {
	mu       sync.Mutex
	counters map[string]int64

	seriesMu sync.Mutex
	series   map[string][]float64
}

// NewMetricsRegistry returns an empty registry with the well-known
// counters pre-seeded at zero, so a fresh gateway's /gateway/metrics
// response always lists them.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		counters: make(map[string]int64),
		series:   make(map[string][]float64),
	}
	for _, name := range []string{
		"polls_completed",
		"total_http_success",
		"total_http_failures",
		"http_retries",
		"total_convergence_events",
		"last_reachable_nodes",
		"last_merge_duration_ms",
	} {
		m.counters[name] = 0
	}
	return m
}

// Incr adds delta to the named counter.
func (m *MetricsRegistry) Incr(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Set overwrites the named counter, used for gauges like
// last_reachable_nodes that are not cumulative.
func (m *MetricsRegistry) Set(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = value
}

// Counters returns a copy of every counter's current value.
func (m *MetricsRegistry) Counters() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// Observe appends a sample to the named series, evicting the oldest
// sample once the series reaches seriesCap.
func (m *MetricsRegistry) Observe(name string, value float64) {
	m.seriesMu.Lock()
	defer m.seriesMu.Unlock()
	s := m.series[name]
	s = append(s, value)
	if len(s) > seriesCap {
		s = s[len(s)-seriesCap:]
	}
	m.series[name] = s
}

// Series returns up to the last limit samples of the named series (all of
// them if limit <= 0), oldest first.
func (m *MetricsRegistry) Series(name string, limit int) []float64 {
	m.seriesMu.Lock()
	defer m.seriesMu.Unlock()
	s := m.series[name]
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	out := make([]float64, limit)
	copy(out, s[len(s)-limit:])
	return out
}
