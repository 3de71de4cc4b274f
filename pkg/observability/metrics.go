package observability

import (
	"sync"
	"time"
)

// Metrics records application metrics. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
	Histogram(name string, value float64, tags ...Tag)
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag labels a metric.
type Tag struct {
	Key   string
	Value string
}

// T is shorthand for building a Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(name string, value int64, tags ...Tag) {}

func (NoopMetrics) Gauge(name string, value float64, tags ...Tag) {}

func (NoopMetrics) Histogram(name string, value float64, tags ...Tag) {}

func (NoopMetrics) Timing(name string, duration time.Duration, tags ...Tag) {}

// InMemoryMetrics keeps metrics in maps. Good enough for a single process
// CLI and for assertions in tests.
type InMemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
	timings    map[string][]time.Duration
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, tags)] += value
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, tags)] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, tags)
	m.histograms[key] = append(m.histograms[key], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, tags)
	m.timings[key] = append(m.timings[key], duration)
}

// GetCounter returns the accumulated counter value.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, tags)]
}

// GetGauge returns the last gauge value.
func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[metricKey(name, tags)]
}

// GetHistogram returns every recorded histogram value.
func (m *InMemoryMetrics) GetHistogram(name string, tags ...Tag) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.histograms[metricKey(name, tags)]
}

// GetTimings returns every recorded duration.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timings[metricKey(name, tags)]
}

// Reset drops all recorded metrics.
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]int64)
	m.gauges = make(map[string]float64)
	m.histograms = make(map[string][]float64)
	m.timings = make(map[string][]time.Duration)
}

// metricKey flattens name and tags into one map key. Tags are appended in
// call order, so callers must pass them consistently.
func metricKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	key := name
	for _, t := range tags {
		key += ":" + t.Key + "=" + t.Value
	}
	return key
}

// Metric names recorded by nekosync.
const (
	MetricOperationTotal    = "nekosync.operation.total"
	MetricOperationDuration = "nekosync.operation.duration"
	MetricOperationErrors   = "nekosync.operation.errors"

	MetricLicenseValidations  = "nekosync.license.validations"
	MetricLicenseGraceEntries = "nekosync.license.grace_entries"
	MetricLicenseTamperFlags  = "nekosync.license.tamper_flags"

	MetricSyncTriggers  = "nekosync.sync.triggers"
	MetricSyncStarts    = "nekosync.sync.starts"
	MetricSyncSuccesses = "nekosync.sync.successes"
	MetricSyncFailures  = "nekosync.sync.failures"
	MetricSyncRetries   = "nekosync.sync.retries"
	MetricSyncDuration  = "nekosync.sync.duration"

	MetricRemotePulls  = "nekosync.remote.pulls"
	MetricRemotePushes = "nekosync.remote.pushes"
)
