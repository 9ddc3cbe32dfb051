package authcore

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsCountConcurrently(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(MetricLoginSuccess)
			}
		}()
	}
	wg.Wait()
	if got := m.Value(MetricLoginSuccess); got != 1600 {
		t.Fatalf("expected 1600, got %d", got)
	}
}

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginFailure)
	m.Observe(MetricLoginLatency, time.Millisecond)
	if m.Value(MetricLoginFailure) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatal("disabled snapshot must be empty")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginFailure)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics report disabled")
	}
}

func TestLatencyHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, d := range []time.Duration{
		2 * time.Millisecond,
		7 * time.Millisecond,
		40 * time.Millisecond,
		300 * time.Millisecond,
		2 * time.Second,
	} {
		m.Observe(MetricLoginLatency, d)
	}
	// Counters cannot record into a histogram.
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	got := snap.Histograms[MetricLoginLatency]
	want := []uint64{1, 1, 0, 1, 0, 0, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bucket %d: got %d want %d (%v)", i, got[i], want[i], got)
		}
	}
	if _, ok := snap.Counters[MetricLoginLatency]; ok {
		t.Fatal("latency id must not appear as a counter")
	}
	if len(snap.Counters) != MetricCount-1 {
		t.Fatalf("expected %d counters, got %d", MetricCount-1, len(snap.Counters))
	}
}
