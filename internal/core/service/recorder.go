package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var errGoexit = errors.New("goroutine exited before the call returned")

// Recorder times calls and appends exactly one CallRecord per call to its
// sink. The sink's health never changes what the caller observes: append
// failures are logged and counted, then dropped.
type Recorder struct {
	sink   port.Sink
	logger *slog.Logger
	tracer trace.Tracer
	inst   port.Instrumentation
	now    func() time.Time
}

func NewRecorder(sink port.Sink, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &Recorder{
		sink:   sink,
		logger: logger,
		tracer: tracer,
		inst:   inst,
		now:    time.Now,
	}
}

// Recent returns the n most recent records from the underlying sink.
func (r *Recorder) Recent(ctx context.Context, n int) ([]domain.CallRecord, error) {
	return r.sink.QueryRecent(ctx, n)
}

// Track starts timing a code block and returns the function that finishes it.
// Pass the address of the block's error (or nil) so the outcome is recorded:
//
//	func load(ctx context.Context) (err error) {
//		defer rec.Track(ctx, "load")(&err)
//		...
//	}
//
// The returned function must be deferred directly: it recovers a panic in the
// block, records it as an error and re-raises it.
func (r *Recorder) Track(ctx context.Context, name string) func(errp *error) {
	c := r.begin(ctx, name)
	return func(errp *error) {
		if p := recover(); p != nil {
			c.finish(fmt.Errorf("panic: %v", p))
			panic(p)
		}
		var err error
		if errp != nil {
			err = *errp
		}
		c.finish(err)
	}
}

// run invokes fn as one recorded call. A panic inside fn is recorded as an
// error and then re-raised with its original value.
func (r *Recorder) run(ctx context.Context, name string, fn func(context.Context) error) error {
	c := r.begin(ctx, name)

	returned := false
	defer func() {
		if returned {
			return
		}
		p := recover()
		if p == nil {
			// runtime.Goexit, e.g. t.FailNow inside the wrapped function.
			c.finish(errGoexit)
			return
		}
		c.finish(fmt.Errorf("panic: %v", p))
		panic(p)
	}()

	err := fn(c.ctx)
	returned = true
	c.finish(err)
	return err
}

type call struct {
	r     *Recorder
	ctx   context.Context
	span  trace.Span
	name  string
	start time.Time
}

func (r *Recorder) begin(ctx context.Context, name string) *call {
	ctx, span := r.tracer.Start(ctx, "call "+name,
		trace.WithAttributes(attribute.String("code.function", name)),
	)
	return &call{r: r, ctx: ctx, span: span, name: name, start: r.now()}
}

func (c *call) finish(err error) {
	rec := domain.NewCallRecord(c.name, c.start, c.r.now(), err)

	c.span.SetAttributes(
		attribute.Int64("call.duration_ms", rec.DurationMS),
		attribute.String("call.status", string(rec.Status)),
	)
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	c.span.End()

	c.r.emit(c.ctx, rec)
}

func (r *Recorder) emit(ctx context.Context, rec domain.CallRecord) {
	r.inst.RecordCall(ctx, rec.Function, rec.Status, float64(rec.DurationMS))

	r.logger.LogAttrs(ctx, slog.LevelDebug, "call finished",
		slog.String("function", rec.Function),
		slog.Int64("duration_ms", rec.DurationMS),
		slog.String("status", string(rec.Status)),
	)

	// The caller's context may already be cancelled; the record is still owed.
	if err := r.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		r.inst.IncrementSinkErrors(ctx)
		r.logger.LogAttrs(ctx, slog.LevelWarn, "recording call failed",
			slog.String("function", rec.Function),
			slog.String("status", string(rec.Status)),
			slog.String("error.type", "sink_error"),
			slog.String("error.message", err.Error()),
		)
	}
}
