package testutil

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
)

// MetricReader wraps an SDK meter provider backed by a manual reader.
type MetricReader struct {
	Provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// NewMetricReader creates a provider whose metrics can be collected on demand.
func NewMetricReader(t *testing.T) *MetricReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return &MetricReader{Provider: provider, reader: reader}
}

// Instrumentation returns enabled instrumentation that records into r.
func (r *MetricReader) Instrumentation(t *testing.T) *instrumentation.Instrumentation {
	t.Helper()

	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:        true,
		MeterProvider:  r.Provider,
		TracerProvider: tracenoop.NewTracerProvider(),
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	return inst
}

// Sum returns the total of the int64 sum named name across data points
// whose attributes include every attr. Missing metrics yield 0.
func (r *MetricReader) Sum(t *testing.T, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if hasAttributes(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// Gauge returns the last int64 gauge value named name (0 when absent).
func (r *MetricReader) Gauge(t *testing.T, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Gauge[int64]", name, m.Data)
			}
			if n := len(g.DataPoints); n > 0 {
				return g.DataPoints[n-1].Value
			}
		}
	}
	return 0
}

func hasAttributes(set attribute.Set, want []attribute.KeyValue) bool {
	for _, kv := range want {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}
