package domain

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNotAllowed     = errors.New("only SELECT queries are allowed against the metrics table")
	ErrMultiStatement = errors.New("multiple statements are not allowed")
	ErrParseFailed    = errors.New("failed to parse SQL")
)

// SelectValidator guards ad-hoc report queries. It parses with the PostgreSQL
// grammar, which DuckDB and SQLite SELECTs also satisfy, and accepts a single
// SELECT or EXPLAIN statement. Anything that could write to the append-only
// metrics table is rejected.
type SelectValidator struct{}

func NewSelectValidator() *SelectValidator {
	return &SelectValidator{}
}

func (v *SelectValidator) Validate(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return ErrEmptyQuery
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	switch {
	case len(tree.Stmts) == 0:
		return ErrEmptyQuery
	case len(tree.Stmts) > 1:
		return ErrMultiStatement
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return ErrEmptyQuery
	}

	switch n := stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		// SELECT ... INTO creates a table.
		if n.SelectStmt.GetIntoClause() != nil {
			return ErrNotAllowed
		}
		return nil
	case *pg_query.Node_ExplainStmt:
		// EXPLAIN ANALYZE executes its statement.
		if n.ExplainStmt.GetQuery().GetSelectStmt() == nil {
			return ErrNotAllowed
		}
		return nil
	default:
		return ErrNotAllowed
	}
}

// IsExplain reports whether sql is an EXPLAIN statement.
func IsExplain(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "EXPLAIN")
}

// LimitRows caps a validated SELECT at maxRows by wrapping it in a subquery.
// EXPLAIN statements cannot be wrapped and are returned as is. Trailing
// semicolons are dropped either way.
func LimitRows(sql string, maxRows int) string {
	sql = strings.TrimRight(strings.TrimSpace(sql), "; \t\n")
	if IsExplain(sql) {
		return sql
	}
	// The newline ends a trailing -- comment before the closing parenthesis.
	return fmt.Sprintf("SELECT * FROM (%s\n) AS _q LIMIT %d", sql, maxRows)
}
