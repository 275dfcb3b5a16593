package main

import (
	"github.com/guillermoBallester/callmeter/internal/config"
	"github.com/spf13/pflag"
)

// addGlobalFlags registers the flags shared by every command.
func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file (env: CONFIG_FILE)")
	fs.String("sink", "", "storage backend: duckdb, sqlite, postgres, file or memory (env: SINK)")
	fs.String("sink-path", "", "database or journal file for duckdb, sqlite and file sinks (env: SINK_PATH)")
	fs.String("database-url", "", "PostgreSQL connection string (env: DATABASE_URL)")
	fs.String("table", "", "metrics table name (env: METRICS_TABLE)")
	fs.String("log-level", "", "log level: debug, info, warn, error (env: LOG_LEVEL)")
	fs.String("audit-log", "", "NDJSON file mirroring every recorded call (env: AUDIT_LOG)")
	fs.Bool("otel", false, "enable OpenTelemetry tracing and metrics (env: OTEL_ENABLED)")
}

// overridesFrom collects the flags that were explicitly set on fs. Flags a
// command does not define are skipped.
func overridesFrom(fs *pflag.FlagSet) config.Overrides {
	var o config.Overrides

	o.ConfigFile = stringFlag(fs, "config")
	o.Sink = stringFlag(fs, "sink")
	o.SinkPath = stringFlag(fs, "sink-path")
	o.DatabaseURL = stringFlag(fs, "database-url")
	o.Table = stringFlag(fs, "table")
	o.LogLevel = stringFlag(fs, "log-level")
	o.AuditLog = stringFlag(fs, "audit-log")
	o.Transport = stringFlag(fs, "transport")
	o.HTTPAddr = stringFlag(fs, "http-addr")
	o.HTTPBearerToken = stringFlag(fs, "http-bearer-token")

	if fs.Changed("limit") {
		if n, err := fs.GetInt("limit"); err == nil {
			o.ReportLimit = &n
		}
	}
	if fs.Changed("max-rows") {
		if n, err := fs.GetInt("max-rows"); err == nil {
			o.MaxRows = &n
		}
	}
	if fs.Changed("query-timeout") {
		if d, err := fs.GetDuration("query-timeout"); err == nil {
			o.QueryTimeout = &d
		}
	}

	o.OTelEnabled, _ = fs.GetBool("otel")
	o.ExplainOnly, _ = fs.GetBool("explain-only")

	return o
}

func stringFlag(fs *pflag.FlagSet, name string) *string {
	if !fs.Changed(name) {
		return nil
	}
	v, err := fs.GetString(name)
	if err != nil {
		return nil
	}
	return &v
}
