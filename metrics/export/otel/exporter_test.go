package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/stepup"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot stepup.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() stepup.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := stepup.MetricsSnapshot{
		Counters:   make(map[stepup.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[stepup.MetricID][]uint64, len(f.snapshot.Histograms)),
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

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// int64Values flattens collected data points by instrument name, suffixed with
// {le=...} for bucket points.
func int64Values(t *testing.T, rm metricdata.ResourceMetrics) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	add := func(name string, dp metricdata.DataPoint[int64]) {
		if le, ok := dp.Attributes.Value("le"); ok {
			name += "{le=" + le.AsString() + "}"
		}
		out[name] = dp.Value
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					add(m.Name, dp)
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					add(m.Name, dp)
				}
			}
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("stepup-test")

	src := &fakeSource{
		snapshot: stepup.MetricsSnapshot{
			Counters: map[stepup.MetricID]uint64{
				stepup.MetricChallengeIssued: 3,
			},
			Histograms: map[stepup.MetricID][]uint64{
				stepup.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	got := int64Values(t, rm)

	checks := map[string]int64{
		"stepup_challenge_issued_total":                 3,
		"stepup_challenge_failed_total":                 0,
		"stepup_audit_dropped_total":                    1,
		"stepup_verify_latency_seconds_bucket{le=0.01}": 2,
		"stepup_verify_latency_seconds_bucket{le=0.5}":  7,
		"stepup_verify_latency_seconds_bucket{le=+Inf}": 8,
		"stepup_verify_latency_seconds_count":           8,
	}
	for name, want := range checks {
		if got[name] != want {
			t.Fatalf("%s: expected %d, got %d", name, want, got[name])
		}
	}
	if _, ok := got["stepup_challenge_failed_total"]; !ok {
		t.Fatal("expected zero-valued counters to be observed")
	}
	if _, ok := got["stepup_assess_latency_seconds_count"]; ok {
		t.Fatal("expected no observation for a histogram absent from the snapshot")
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()
	meter := provider.Meter("stepup-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestNewOTelExporterRejectsNilEngine(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewOTelExporter(provider.Meter("stepup-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("stepup-test")

	src := &fakeSource{
		snapshot: stepup.MetricsSnapshot{
			Counters: map[stepup.MetricID]uint64{
				stepup.MetricTokenIssued: 1,
			},
			Histograms: map[stepup.MetricID][]uint64{
				stepup.MetricAssessLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[stepup.MetricTokenIssued] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
