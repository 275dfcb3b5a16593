package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executor runs report queries against the metrics table. Every query runs in
// its own read-only transaction with a statement timeout.
type Executor struct {
	pool         *pgxpool.Pool
	maxRows      int
	queryTimeout time.Duration
}

func NewExecutor(pool *pgxpool.Pool, maxRows int, queryTimeout time.Duration) *Executor {
	return &Executor{
		pool:         pool,
		maxRows:      maxRows,
		queryTimeout: queryTimeout,
	}
}

func (e *Executor) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	var results []map[string]any
	err := e.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, domain.LimitRows(sql, e.maxRows))
		if err != nil {
			return fmt.Errorf("executing query: %w", err)
		}
		results, err = rowsToMaps(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// readOnly runs fn in a read-only transaction whose statements are cut off
// server side after queryTimeout.
func (e *Executor) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL ends with the transaction.
	stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.queryTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("setting statement timeout: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
