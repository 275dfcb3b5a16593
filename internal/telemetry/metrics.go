package telemetry

import (
	"context"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/guillermoBallester/callmeter"

// Instruments holds pre-created OTel metric instruments.
type Instruments struct {
	CallCount     metric.Int64Counter
	CallDuration  metric.Float64Histogram
	CallErrors    metric.Int64Counter
	SinkErrors    metric.Int64Counter
	QueryDuration metric.Float64Histogram
	QueryErrors   metric.Int64Counter
}

// NewInstruments creates metric instruments from the global MeterProvider.
// Returns nil-safe instruments: if creation fails, noop instruments are used.
func NewInstruments() *Instruments {
	meter := otel.Meter(meterName)
	return newInstrumentsFromMeter(meter)
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	meter := noop.NewMeterProvider().Meter(meterName)
	return newInstrumentsFromMeter(meter)
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	callCount, _ := meter.Int64Counter("callmeter.call.count",
		metric.WithDescription("Total number of wrapped function calls"),
	)
	callDuration, _ := meter.Float64Histogram("callmeter.call.duration",
		metric.WithDescription("Wrapped function call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	callErrors, _ := meter.Int64Counter("callmeter.call.errors",
		metric.WithDescription("Total number of wrapped calls that failed"),
	)
	sinkErrors, _ := meter.Int64Counter("callmeter.sink.errors",
		metric.WithDescription("Call records that could not be written to the sink"),
	)
	queryDuration, _ := meter.Float64Histogram("callmeter.query.duration",
		metric.WithDescription("Report query execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryErrors, _ := meter.Int64Counter("callmeter.query.errors",
		metric.WithDescription("Total number of rejected or failed report queries"),
	)

	return &Instruments{
		CallCount:     callCount,
		CallDuration:  callDuration,
		CallErrors:    callErrors,
		SinkErrors:    sinkErrors,
		QueryDuration: queryDuration,
		QueryErrors:   queryErrors,
	}
}

func (i *Instruments) RecordCall(ctx context.Context, function string, status domain.Status, ms float64) {
	attrs := metric.WithAttributes(
		attribute.String("function", function),
		attribute.String("status", string(status)),
	)
	i.CallCount.Add(ctx, 1, attrs)
	i.CallDuration.Record(ctx, ms, attrs)
	if status == domain.StatusError {
		i.CallErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("function", function)))
	}
}

func (i *Instruments) IncrementSinkErrors(ctx context.Context) {
	i.SinkErrors.Add(ctx, 1)
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	i.QueryDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementQueryErrors(ctx context.Context) {
	i.QueryErrors.Add(ctx, 1)
}
