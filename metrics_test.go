package siteguard

import (
	"strings"
	"testing"
)

func TestCounterIncrement(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	labels := map[string]string{"signal": "honeypot"}
	m.IncrementCounter("rejections_total", labels)
	m.IncrementCounter("rejections_total", labels)
	m.IncrementCounter("rejections_total", map[string]string{"signal": "spam"})

	if got := m.CounterValue("rejections_total", labels); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := m.CounterValue("rejections_total", map[string]string{"signal": "spam"}); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := m.CounterValue("missing", nil); got != 0 {
		t.Fatalf("missing counter must be 0, got %d", got)
	}
}

func TestGaugeSet(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	m.SetGauge("attack_distinct_ips", 5, nil)
	m.SetGauge("attack_distinct_ips", 8, nil)
	if got := m.GaugeValue("attack_distinct_ips", nil); got != 8 {
		t.Fatalf("expected last write 8, got %f", got)
	}
}

func TestLabelKeyOrderIndependent(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	m.IncrementCounter("c", map[string]string{"a": "1", "b": "2"})
	m.IncrementCounter("c", map[string]string{"b": "2", "a": "1"})
	if got := m.CounterValue("c", map[string]string{"a": "1", "b": "2"}); got != 2 {
		t.Fatalf("label order must not split series, got %d", got)
	}
}

func TestExportPrometheus(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	m.IncrementCounter("requests_total", map[string]string{"bucket": "form"})
	m.SetGauge("active", 3, nil)
	m.ObserveHistogram("latency_seconds", 0.25, nil)
	m.ObserveHistogram("latency_seconds", 0.75, nil)

	out := m.ExportPrometheus()
	for _, want := range []string{
		"# TYPE requests_total counter",
		`requests_total{bucket="form"} 1`,
		"# TYPE active gauge",
		"# TYPE latency_seconds histogram",
		"latency_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}
