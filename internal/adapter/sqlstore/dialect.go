package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"
)

// timeLayout is used where the engine has no native timestamp type. It is
// fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Dialect captures what differs between the embedded SQL engines.
type Dialect struct {
	// Name doubles as the db.system attribute value.
	Name   string
	Driver string

	schema func(table string) []string
	// prepare runs once per opened database, before the schema.
	prepare func(db *sql.DB, path string) error
	// lockdown runs after the schema exists. It limits ad-hoc queries to the
	// database itself.
	lockdown func(ctx context.Context, db *sql.DB) error
	// timeArg converts a UTC start time into a bind argument.
	timeArg func(t time.Time) any
}

var DuckDB = Dialect{
	Name:   "duckdb",
	Driver: "duckdb",
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS %s_seq START 1`, table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	seq           BIGINT PRIMARY KEY DEFAULT nextval('%[1]s_seq'),
	function_name VARCHAR NOT NULL,
	start_time    TIMESTAMP NOT NULL,
	duration_ms   BIGINT NOT NULL CHECK (duration_ms >= 0),
	status        VARCHAR NOT NULL CHECK (status IN ('success', 'error')),
	error_message VARCHAR
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_start_time_idx ON %[1]s (start_time)`, table),
		}
	},
	prepare: func(*sql.DB, string) error { return nil },
	// Table functions such as read_text and read_csv reach the host
	// filesystem from a plain SELECT. Both settings are global and the
	// second one stops any later SET from undoing the first.
	lockdown: func(ctx context.Context, db *sql.DB) error {
		for _, stmt := range []string{
			"SET enable_external_access = false",
			"SET lock_configuration = true",
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return nil
	},
	timeArg: func(t time.Time) any { return t },
}

var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	function_name TEXT NOT NULL,
	start_time    TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL CHECK (duration_ms >= 0),
	status        TEXT NOT NULL CHECK (status IN ('success', 'error')),
	error_message TEXT
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_start_time_idx ON %[1]s (start_time)`, table),
		}
	},
	prepare: func(db *sql.DB, path string) error {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
		pragmas := []string{"PRAGMA busy_timeout = 5000"}
		if path != ":memory:" {
			pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
		}
		for _, p := range pragmas {
			if _, err := db.Exec(p); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
		return nil
	},
	timeArg: func(t time.Time) any { return t.Format(timeLayout) },
}

// DialectFor looks up a dialect by sink name.
func DialectFor(name string) (Dialect, bool) {
	switch name {
	case DuckDB.Name:
		return DuckDB, true
	case SQLite.Name:
		return SQLite, true
	}
	return Dialect{}, false
}
