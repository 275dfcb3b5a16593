package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var (
	_ port.Instrumentation = (*Instruments)(nil)
	_ port.Instrumentation = (*PrometheusInstruments)(nil)
	_ port.Instrumentation = Multi(nil)
)

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	assert.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "test")
	assert.NotNil(t, span)
	span.End()
}

func TestNoopInstruments(t *testing.T) {
	inst := NoopInstruments()
	require.NotNil(t, inst)
	assert.NotNil(t, inst.CallCount)
	assert.NotNil(t, inst.CallDuration)
	assert.NotNil(t, inst.SinkErrors)

	// Should not panic.
	inst.RecordCall(context.Background(), "f", domain.StatusError, 12)
	inst.IncrementSinkErrors(context.Background())
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	var p *Provider
	err := p.Shutdown(context.Background())
	assert.NoError(t, err)
}

func TestInstruments_RecordCall(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst := newInstrumentsFromMeter(mp.Meter("test"))
	ctx := context.Background()

	inst.RecordCall(ctx, "sample_function", domain.StatusSuccess, 1000)
	inst.RecordCall(ctx, "sample_function", domain.StatusSuccess, 1001)
	inst.RecordCall(ctx, "failing_function", domain.StatusError, 0)
	inst.IncrementSinkErrors(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	count, ok := byName["callmeter.call.count"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range count.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Len(t, count.DataPoints, 2, "one series per function/status pair")

	errs, ok := byName["callmeter.call.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)

	hist, ok := byName["callmeter.call.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)

	assert.Contains(t, byName, "callmeter.sink.errors")
}

func TestPrometheusInstruments(t *testing.T) {
	p := NewPrometheusInstruments()
	ctx := context.Background()

	p.RecordCall(ctx, "sample_function", domain.StatusSuccess, 1000)
	p.RecordCall(ctx, "sample_function", domain.StatusSuccess, 998)
	p.RecordCall(ctx, "failing_function", domain.StatusError, 0)
	p.IncrementSinkErrors(ctx)
	p.RecordQueryDuration(ctx, 3)
	p.IncrementQueryErrors(ctx)

	assert.Equal(t, float64(2), testutil.ToFloat64(p.calls.WithLabelValues("sample_function", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.calls.WithLabelValues("failing_function", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.sinkErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.queryErrors))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `callmeter_calls_total{function="sample_function",status="success"} 2`))
	assert.Contains(t, string(body), "callmeter_call_duration_milliseconds_bucket")
}

func TestMulti(t *testing.T) {
	a, b := NewPrometheusInstruments(), NewPrometheusInstruments()
	m := Multi{a, b, port.NoopInstrumentation{}}

	m.RecordCall(context.Background(), "f", domain.StatusSuccess, 5)
	m.IncrementSinkErrors(context.Background())

	for _, p := range []*PrometheusInstruments{a, b} {
		assert.Equal(t, float64(1), testutil.ToFloat64(p.calls.WithLabelValues("f", "success")))
		assert.Equal(t, float64(1), testutil.ToFloat64(p.sinkErrors))
	}
}
