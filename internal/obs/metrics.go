package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics wraps lazily-created OTel counters/histograms behind a small
// label-map API, matching the teacher's rag/obs.OtelMetrics double-checked
// lazy-instrument cache.
type Metrics struct {
	meter      metric.Meter
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewMetrics constructs a Metrics instance bound to the "raptorsvc" meter.
func NewMetrics() *Metrics {
	return &Metrics{
		meter:      otel.Meter("raptorsvc"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *Metrics) getCounter(name string) metric.Int64Counter {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, _ = m.meter.Int64Counter(name)
	m.counters[name] = c
	return c
}

func (m *Metrics) getHistogram(name string) metric.Float64Histogram {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h, _ = m.meter.Float64Histogram(name)
	m.histograms[name] = h
	return h
}

// IncCounter increments a named counter by 1, attaching labels as attributes.
func (m *Metrics) IncCounter(name string, labels map[string]string) {
	m.getCounter(name).Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

// ObserveHistogram records a value into a named histogram.
func (m *Metrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.getHistogram(name).Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
