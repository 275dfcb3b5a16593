// Package sqlstore implements port.Sink and port.QueryExecutor over an
// embedded SQL engine reached through database/sql (DuckDB or SQLite).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
)

const DefaultTable = "function_metrics"

type Options struct {
	Table        string
	MaxRows      int
	QueryTimeout time.Duration
}

// Store is an append-only metrics table. Appends are serialized so sequence
// numbers follow append order.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string

	maxRows      int
	queryTimeout time.Duration

	mu     sync.Mutex
	closed bool

	insertSQL string
	recentSQL string
}

// Open opens (creating if needed) the database at path and ensures the
// metrics table exists.
func Open(ctx context.Context, dialect Dialect, path string, opts Options) (*Store, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
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

	db, err := sql.Open(dialect.Driver, path)
	if err != nil {
		return nil, domain.NewStorageError("open", fmt.Errorf("opening %s database %q: %w", dialect.Name, path, err))
	}
	if err := dialect.prepare(db, path); err != nil {
		_ = db.Close()
		return nil, domain.NewStorageError("open", err)
	}
	for _, stmt := range dialect.schema(opts.Table) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, domain.NewStorageError("create schema", err)
		}
	}
	if dialect.lockdown != nil {
		if err := dialect.lockdown(ctx, db); err != nil {
			_ = db.Close()
			return nil, domain.NewStorageError("open", err)
		}
	}

	return &Store{
		db:           db,
		dialect:      dialect,
		table:        opts.Table,
		maxRows:      opts.MaxRows,
		queryTimeout: opts.QueryTimeout,
		insertSQL: fmt.Sprintf(
			`INSERT INTO %s (function_name, start_time, duration_ms, status, error_message) VALUES (?, ?, ?, ?, ?) RETURNING seq`,
			opts.Table),
		recentSQL: fmt.Sprintf(
			`SELECT seq, function_name, start_time, duration_ms, status, error_message FROM %s ORDER BY start_time DESC, seq DESC LIMIT %%d`,
			opts.Table),
	}, nil
}

// System returns the engine name, e.g. "duckdb".
func (s *Store) System() string { return s.dialect.Name }

func (s *Store) Table() string { return s.table }

func (s *Store) Append(ctx context.Context, rec domain.CallRecord) error {
	if err := rec.Validate(); err != nil {
		return domain.NewStorageError("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.NewStorageError("append", domain.ErrSinkClosed)
	}

	var msg any
	if rec.ErrorMessage != nil {
		msg = *rec.ErrorMessage
	}

	var seq int64
	err := s.db.QueryRowContext(ctx, s.insertSQL,
		rec.Function,
		s.dialect.timeArg(rec.StartTime.UTC()),
		rec.DurationMS,
		string(rec.Status),
		msg,
	).Scan(&seq)
	if err != nil {
		return domain.NewStorageError("append", err)
	}
	return nil
}

func (s *Store) QueryRecent(ctx context.Context, n int) ([]domain.CallRecord, error) {
	if s.isClosed() {
		return nil, domain.NewStorageError("query recent", domain.ErrSinkClosed)
	}
	if n <= 0 {
		return []domain.CallRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(s.recentSQL, n))
	if err != nil {
		return nil, domain.NewStorageError("query recent", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.CallRecord, 0, n)
	for rows.Next() {
		var (
			rec    domain.CallRecord
			start  any
			status string
			msg    sql.NullString
		)
		if err := rows.Scan(&rec.Sequence, &rec.Function, &start, &rec.DurationMS, &status, &msg); err != nil {
			return nil, domain.NewStorageError("query recent", err)
		}
		if rec.StartTime, err = toTime(start); err != nil {
			return nil, domain.NewStorageError("query recent", err)
		}
		rec.Status = domain.Status(status)
		if msg.Valid {
			m := msg.String
			rec.ErrorMessage = &m
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("query recent", err)
	}
	return out, nil
}

// Execute runs a read-only statement against the database and returns at
// most maxRows rows. Callers validate the SQL first.
func (s *Store) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	if s.isClosed() {
		return nil, domain.NewStorageError("execute", domain.ErrSinkClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, domain.LimitRows(query, s.maxRows))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("executing query (timeout %s): %w", s.queryTimeout, err)
		}
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return rowsToMaps(rows)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return domain.NewStorageError("close", err)
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
