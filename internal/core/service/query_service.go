package service

import (
	"context"
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

// QueryService runs validated, read-only report queries against the
// metrics table of a SQL-backed sink.
type QueryService struct {
	validator   port.QueryValidator
	executor    port.QueryExecutor
	system      string // db.system attribute: duckdb, sqlite, postgresql
	explainOnly bool
	logger      *slog.Logger
	tracer      trace.Tracer
	inst        port.Instrumentation
}

type QueryOption func(*QueryService)

// WithExplainOnly makes Execute return query plans instead of rows: every
// statement that is not already an EXPLAIN gets one prepended.
func WithExplainOnly() QueryOption {
	return func(s *QueryService) { s.explainOnly = true }
}

func NewQueryService(validator port.QueryValidator, executor port.QueryExecutor, system string,
	logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation, opts ...QueryOption,
) *QueryService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	s := &QueryService{
		validator: validator,
		executor:  executor,
		system:    system,
		logger:    logger,
		tracer:    tracer,
		inst:      inst,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute validates sql and runs it. Rejected statements never reach the
// executor; their errors wrap the domain validation sentinels.
func (s *QueryService) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	if s.explainOnly && !domain.IsExplain(sql) {
		sql = "EXPLAIN " + sql
	}
	operation := "select"
	if domain.IsExplain(sql) {
		operation = "explain"
	}

	ctx, span := s.tracer.Start(ctx, "QueryService.Execute",
		trace.WithAttributes(
			attribute.String("db.system", s.system),
			attribute.String("db.operation.name", operation),
			attribute.String("db.statement", sql),
		),
	)
	defer span.End()

	if err := s.validator.Validate(sql); err != nil {
		s.logger.WarnContext(ctx, "report query rejected",
			slog.String("db.system", s.system),
			slog.String("db.statement", sql),
			slog.String("error.message", err.Error()),
		)
		s.fail(ctx, span, err)
		return nil, fmt.Errorf("validation: %w", err)
	}

	start := time.Now()
	rows, err := s.executor.Execute(ctx, sql)
	elapsed := time.Since(start)
	s.inst.RecordQueryDuration(ctx, float64(domain.DurationMS(elapsed)))

	if err != nil {
		s.fail(ctx, span, err)
		return nil, fmt.Errorf("running %s query: %w", s.system, err)
	}

	s.logger.DebugContext(ctx, "report query",
		slog.String("db.system", s.system),
		slog.String("db.operation.name", operation),
		slog.Int("db.response.rows", len(rows)),
		slog.Duration("duration", elapsed),
	)
	span.SetAttributes(attribute.Int("db.response.rows", len(rows)))
	return rows, nil
}

func (s *QueryService) fail(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.inst.IncrementQueryErrors(ctx)
}
