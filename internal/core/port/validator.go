package port

import "context"

// QueryValidator validates SQL statements before execution.
type QueryValidator interface {
	Validate(sql string) error
}

// QueryExecutor runs a read-only statement and returns rows keyed by column name.
// SQL-backed sinks implement it alongside Sink.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
}
