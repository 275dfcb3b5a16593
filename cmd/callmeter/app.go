package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/callmeter/internal/adapter/memory"
	"github.com/guillermoBallester/callmeter/internal/adapter/postgres"
	"github.com/guillermoBallester/callmeter/internal/adapter/sqlstore"
	"github.com/guillermoBallester/callmeter/internal/audit"
	"github.com/guillermoBallester/callmeter/internal/config"
	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
	"github.com/guillermoBallester/callmeter/internal/core/service"
	"github.com/guillermoBallester/callmeter/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// app holds everything a command needs, built from one Config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	sink     port.Sink
	recorder *service.Recorder
	query    *service.QueryService // nil when the sink cannot answer SQL

	tracer trace.Tracer
	inst   port.Instrumentation
	prom   *telemetry.PrometheusInstruments

	closers []func(context.Context) error
}

// systemer is implemented by sinks that report their database engine.
type systemer interface {
	System() string
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		tracer: telemetry.NoopTracer(),
		prom:   telemetry.NewPrometheusInstruments(),
	}
	defer func() {
		if err != nil {
			_ = a.close(context.WithoutCancel(ctx))
		}
	}()

	inst := telemetry.Multi{a.prom}
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, "callmeter", version)
		if err != nil {
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
		a.closers = append(a.closers, provider.Shutdown)
		a.tracer = telemetry.Tracer()
		inst = append(inst, telemetry.NewInstruments())
		logger.Info("opentelemetry enabled")
	}
	a.inst = inst

	primary, err := a.openSink(ctx)
	if err != nil {
		return nil, err
	}
	a.sink = primary

	if cfg.AuditLog != "" {
		journal, err := audit.NewFileSink(cfg.AuditLog)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		a.sink = audit.NewMirror(primary, journal, logger)
		logger.Info("audit log enabled", slog.String("file", cfg.AuditLog))
	}
	a.closers = append(a.closers, func(context.Context) error { return a.sink.Close() })

	a.recorder = service.NewRecorder(a.sink, logger, a.tracer, a.inst)

	if executor, ok := primary.(port.QueryExecutor); ok && cfg.SQLCapable() {
		system := cfg.Sink
		if s, ok := primary.(systemer); ok {
			system = s.System()
		}
		var opts []service.QueryOption
		if cfg.ExplainOnly {
			opts = append(opts, service.WithExplainOnly())
		}
		a.query = service.NewQueryService(domain.NewSelectValidator(), executor, system, logger, a.tracer, a.inst, opts...)
	}

	return a, nil
}

// openSink builds the configured primary sink. A postgres pool is closed
// after the sink.
func (a *app) openSink(ctx context.Context) (port.Sink, error) {
	cfg := a.cfg
	switch cfg.Sink {
	case config.SinkDuckDB, config.SinkSQLite:
		dialect, _ := sqlstore.DialectFor(cfg.Sink)
		store, err := sqlstore.Open(ctx, dialect, cfg.SinkPath, sqlstore.Options{
			Table:        cfg.Table,
			MaxRows:      cfg.MaxRows,
			QueryTimeout: cfg.QueryTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening %s sink: %w", cfg.Sink, err)
		}
		a.logger.Info("sink opened",
			slog.String("db.system", store.System()),
			slog.String("file", cfg.SinkPath),
			slog.String("table", store.Table()),
		)
		return store, nil

	case config.SinkPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
			MaxConns:        cfg.PoolMaxConns,
			MinConns:        cfg.PoolMinConns,
			MaxConnLifetime: cfg.PoolMaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })

		sink, err := postgres.NewSink(ctx, pool, postgres.SinkOptions{
			Table:        cfg.Table,
			MaxRows:      cfg.MaxRows,
			QueryTimeout: cfg.QueryTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres sink: %w", err)
		}
		a.logger.Info("sink opened",
			slog.String("db.system", sink.System()),
			slog.String("database_url", redactDSN(cfg.DatabaseURL)),
			slog.String("table", cfg.Table),
		)
		return sink, nil

	case config.SinkFile:
		sink, err := audit.NewFileSink(cfg.SinkPath)
		if err != nil {
			return nil, fmt.Errorf("opening file sink: %w", err)
		}
		a.logger.Info("sink opened", slog.String("db.system", "file"), slog.String("file", sink.Path()))
		return sink, nil

	case config.SinkMemory:
		a.logger.Info("sink opened", slog.String("db.system", "memory"))
		return memory.NewSink(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
