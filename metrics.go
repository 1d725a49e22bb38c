package siteguard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const maxHistogramSamples = 4096

// InMemoryMetricsCollector keeps counters, gauges and histogram samples in
// process memory and renders them in Prometheus text format on demand.
type InMemoryMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]map[string]int64
	gauges     map[string]map[string]float64
	histograms map[string][]float64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:   make(map[string]map[string]int64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][labelKey(labels)]++
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][labelKey(labels)] = value
}

func (m *InMemoryMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := append(m.histograms[name], value)
	if len(samples) > maxHistogramSamples {
		samples = samples[len(samples)-maxHistogramSamples:]
	}
	m.histograms[name] = samples
}

// CounterValue returns the current value of a counter, for tests and the
// admin status endpoint.
func (m *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if series, ok := m.counters[name]; ok {
		return series[labelKey(labels)]
	}
	return 0
}

// GaugeValue returns the current value of a gauge.
func (m *InMemoryMetricsCollector) GaugeValue(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if series, ok := m.gauges[name]; ok {
		return series[labelKey(labels)]
	}
	return 0
}

func (m *InMemoryMetricsCollector) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_ = len(m.counters)
	_ = len(m.gauges)
	_ = len(m.histograms)
	return nil
}

// ExportPrometheus renders all series in Prometheus text exposition format.
func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out strings.Builder
	for name, series := range m.counters {
		out.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		for labels, value := range series {
			out.WriteString(fmt.Sprintf("%s{%s} %d\n", name, labels, value))
		}
	}
	for name, series := range m.gauges {
		out.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		for labels, value := range series {
			out.WriteString(fmt.Sprintf("%s{%s} %f\n", name, labels, value))
		}
	}
	for name, samples := range m.histograms {
		if len(samples) == 0 {
			continue
		}
		var sum float64
		for _, v := range samples {
			sum += v
		}
		out.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
		out.WriteString(fmt.Sprintf("%s_sum %f\n", name, sum))
		out.WriteString(fmt.Sprintf("%s_count %d\n", name, len(samples)))
	}
	return out.String()
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}
