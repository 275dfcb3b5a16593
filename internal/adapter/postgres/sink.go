package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SinkOptions struct {
	Table        string
	MaxRows      int
	QueryTimeout time.Duration
}

// Sink stores call records in a PostgreSQL table. The pool is owned by the
// caller; Close only stops the sink.
type Sink struct {
	*Executor

	pool  *pgxpool.Pool
	table string

	mu     sync.Mutex
	closed bool

	insertSQL string
	recentSQL string
}

func NewSink(ctx context.Context, pool *pgxpool.Pool, opts SinkOptions) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = "function_metrics"
	}
	if err := domain.ValidateIdentifier(opts.Table); err != nil {
		return nil, err
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 100
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}

	for _, stmt := range schema(opts.Table) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, domain.NewStorageError("create schema", err)
		}
	}

	return &Sink{
		Executor: NewExecutor(pool, opts.MaxRows, opts.QueryTimeout),
		pool:     pool,
		table:    opts.Table,
		insertSQL: fmt.Sprintf(
			`INSERT INTO %s (function_name, start_time, duration_ms, status, error_message) VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
			opts.Table),
		recentSQL: fmt.Sprintf(
			`SELECT seq, function_name, start_time, duration_ms, status, error_message FROM %s ORDER BY start_time DESC, seq DESC LIMIT $1`,
			opts.Table),
	}, nil
}

func schema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	function_name TEXT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL CHECK (duration_ms >= 0),
	status        TEXT NOT NULL CHECK (status IN ('success', 'error')),
	error_message TEXT,
	CHECK ((status = 'error') = (error_message IS NOT NULL))
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_start_time_idx ON %[1]s (start_time)`, table),
	}
}

func (s *Sink) System() string { return "postgresql" }

func (s *Sink) Append(ctx context.Context, rec domain.CallRecord) error {
	if err := rec.Validate(); err != nil {
		return domain.NewStorageError("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.NewStorageError("append", domain.ErrSinkClosed)
	}

	var seq int64
	err := s.pool.QueryRow(ctx, s.insertSQL,
		rec.Function, rec.StartTime.UTC(), rec.DurationMS, string(rec.Status), rec.ErrorMessage,
	).Scan(&seq)
	if err != nil {
		return domain.NewStorageError("append", err)
	}
	return nil
}

func (s *Sink) QueryRecent(ctx context.Context, n int) ([]domain.CallRecord, error) {
	if s.isClosed() {
		return nil, domain.NewStorageError("query recent", domain.ErrSinkClosed)
	}
	if n <= 0 {
		return []domain.CallRecord{}, nil
	}

	rows, err := s.pool.Query(ctx, s.recentSQL, n)
	if err != nil {
		return nil, domain.NewStorageError("query recent", err)
	}
	defer rows.Close()

	out := make([]domain.CallRecord, 0, n)
	for rows.Next() {
		var (
			rec    domain.CallRecord
			status string
		)
		if err := rows.Scan(&rec.Sequence, &rec.Function, &rec.StartTime, &rec.DurationMS, &status, &rec.ErrorMessage); err != nil {
			return nil, domain.NewStorageError("query recent", err)
		}
		rec.StartTime = rec.StartTime.UTC()
		rec.Status = domain.Status(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("query recent", err)
	}
	return out, nil
}

func (s *Sink) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	if s.isClosed() {
		return nil, domain.NewStorageError("execute", domain.ErrSinkClosed)
	}
	return s.Executor.Execute(ctx, sql)
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
