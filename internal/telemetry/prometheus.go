package telemetry

import (
	"context"
	"net/http"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusInstruments exposes the call metrics on a private registry so
// /metrics serves only what this process records.
type PrometheusInstruments struct {
	registry *prometheus.Registry

	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	sinkErrors    prometheus.Counter
	queryDuration prometheus.Histogram
	queryErrors   prometheus.Counter
}

func NewPrometheusInstruments() *PrometheusInstruments {
	p := &PrometheusInstruments{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callmeter_calls_total",
				Help: "Total number of wrapped function calls, partitioned by function and status.",
			},
			[]string{"function", "status"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callmeter_call_duration_milliseconds",
				Help:    "Observed wrapped function call duration.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"function", "status"},
		),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callmeter_sink_errors_total",
			Help: "Call records that could not be written to the sink.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "callmeter_query_duration_milliseconds",
			Help:    "Report query execution duration.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		queryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callmeter_query_errors_total",
			Help: "Rejected or failed report queries.",
		}),
	}
	p.registry.MustRegister(p.calls, p.callDuration, p.sinkErrors, p.queryDuration, p.queryErrors)
	return p
}

// Handler exposes /metrics for Prometheus scrapers.
func (p *PrometheusInstruments) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (p *PrometheusInstruments) RecordCall(_ context.Context, function string, status domain.Status, ms float64) {
	p.calls.WithLabelValues(function, string(status)).Inc()
	p.callDuration.WithLabelValues(function, string(status)).Observe(ms)
}

func (p *PrometheusInstruments) IncrementSinkErrors(context.Context) { p.sinkErrors.Inc() }

func (p *PrometheusInstruments) RecordQueryDuration(_ context.Context, ms float64) {
	p.queryDuration.Observe(ms)
}

func (p *PrometheusInstruments) IncrementQueryErrors(context.Context) { p.queryErrors.Inc() }
