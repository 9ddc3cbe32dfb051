package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sportsai/authcore"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters:   make(map[authcore.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authcore.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				require.Len(t, data.DataPoints, 1)
				return data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				require.Len(t, data.DataPoints, 1)
				return data.DataPoints[0].Value
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:       3,
				authcore.MetricRefreshRevoked:     2,
				authcore.MetricOAuthStateRejected: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricLoginLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewFromSource(provider.Meter("authcore-test"), src)
	require.NoError(t, err)
	defer func() { assert.NoError(t, exp.Close()) }()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.EqualValues(t, 3, sumOf(t, rm, "authcore_login_success_total"))
	assert.EqualValues(t, 2, sumOf(t, rm, "authcore_refresh_revoked_total"))
	assert.EqualValues(t, 0, sumOf(t, rm, "authcore_logout_total"))
	assert.EqualValues(t, 1, sumOf(t, rm, "authcore_audit_dropped_total"))
	assert.EqualValues(t, 4, sumOf(t, rm, "authcore_login_latency_seconds_bucket_le_0_05"))
	assert.EqualValues(t, 8, sumOf(t, rm, "authcore_login_latency_seconds_count"))
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()

	_, err := NewFromSource(provider.Meter("authcore-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)

	_, err = NewFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)

	_, err = New(provider.Meter("authcore-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestCloseOnNilExporter(t *testing.T) {
	var exp *Exporter
	assert.NoError(t, exp.Close())
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{authcore.MetricLoginLatency: {1, 0, 0, 0, 0, 0, 0, 0}},
		},
	}

	exp, err := NewFromSource(provider.Meter("authcore-test"), src)
	require.NoError(t, err)
	defer func() { assert.NoError(t, exp.Close()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authcore.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
