package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Sink kinds.
const (
	SinkDuckDB   = "duckdb"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkFile     = "file"
	SinkMemory   = "memory"
)

type Config struct {
	// Storage.
	Sink        string // duckdb (default), sqlite, postgres, file, memory
	SinkPath    string // database or journal file for duckdb, sqlite, file
	DatabaseURL string // required when Sink is postgres
	Table       string
	AuditLog    string // optional NDJSON mirror of every appended record

	// Reporting and ad-hoc queries.
	ReportLimit  int
	MaxRows      int
	QueryTimeout time.Duration

	// Logging.
	LogLevel slog.Level

	// Transport.
	Transport       string // "stdio" (default) or "http"
	HTTPAddr        string // listen address for HTTP transport (default ":8080")
	HTTPBearerToken string // required when transport=http

	// Connection pool.
	PoolMaxConns        int32         // default: 5
	PoolMinConns        int32         // default: 1
	PoolMaxConnLifetime time.Duration // default: 30m

	// Observability.
	OTelEnabled bool // enable OpenTelemetry tracing and metrics

	// CLI-only fields (not settable via env vars).
	ExplainOnly bool
}

// Overrides holds CLI flag values that override environment variables.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	ConfigFile      *string
	Sink            *string
	SinkPath        *string
	DatabaseURL     *string
	Table           *string
	AuditLog        *string
	LogLevel        *string
	ReportLimit     *int
	MaxRows         *int
	QueryTimeout    *time.Duration
	Transport       *string
	HTTPAddr        *string
	HTTPBearerToken *string
	OTelEnabled     bool
	ExplainOnly     bool
}

// fileConfig is the YAML form. Durations are strings ("10s").
type fileConfig struct {
	Sink        *string `yaml:"sink"`
	SinkPath    *string `yaml:"sink_path"`
	DatabaseURL *string `yaml:"database_url"`
	Table       *string `yaml:"table"`
	AuditLog    *string `yaml:"audit_log"`
	LogLevel    *string `yaml:"log_level"`

	Report struct {
		Limit *int `yaml:"limit"`
	} `yaml:"report"`

	Query struct {
		MaxRows *int    `yaml:"max_rows"`
		Timeout *string `yaml:"timeout"`
	} `yaml:"query"`

	Serve struct {
		Transport   *string `yaml:"transport"`
		HTTPAddr    *string `yaml:"http_addr"`
		BearerToken *string `yaml:"bearer_token"`
	} `yaml:"serve"`

	Pool struct {
		MaxConns        *int32  `yaml:"max_conns"`
		MinConns        *int32  `yaml:"min_conns"`
		MaxConnLifetime *string `yaml:"max_conn_lifetime"`
	} `yaml:"pool"`

	OTelEnabled *bool `yaml:"otel_enabled"`
}

// Load builds a Config from defaults, an optional YAML file, environment
// variables and CLI overrides, in that order, then validates the result.
func Load(overrides Overrides) (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_FILE")
	if overrides.ConfigFile != nil {
		path = *overrides.ConfigFile
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := loadEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a Config populated with default values.
func defaults() *Config {
	return &Config{
		Sink:                SinkDuckDB,
		SinkPath:            "function_metrics.db",
		Table:               "function_metrics",
		ReportLimit:         10,
		MaxRows:             100,
		QueryTimeout:        10 * time.Second,
		LogLevel:            slog.LevelInfo,
		Transport:           "stdio",
		HTTPAddr:            ":8080",
		PoolMaxConns:        5,
		PoolMinConns:        1,
		PoolMaxConnLifetime: 30 * time.Minute,
	}
}

// loadFile reads the YAML config file at path into cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setString(&cfg.Sink, fc.Sink)
	setString(&cfg.SinkPath, fc.SinkPath)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.Table, fc.Table)
	setString(&cfg.AuditLog, fc.AuditLog)
	setString(&cfg.Transport, fc.Serve.Transport)
	setString(&cfg.HTTPAddr, fc.Serve.HTTPAddr)
	setString(&cfg.HTTPBearerToken, fc.Serve.BearerToken)

	if fc.LogLevel != nil {
		level, err := parseLogLevel(*fc.LogLevel)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		cfg.LogLevel = level
	}
	if fc.Report.Limit != nil {
		cfg.ReportLimit = *fc.Report.Limit
	}
	if fc.Query.MaxRows != nil {
		cfg.MaxRows = *fc.Query.MaxRows
	}
	if fc.Query.Timeout != nil {
		d, err := time.ParseDuration(*fc.Query.Timeout)
		if err != nil {
			return fmt.Errorf("%s: invalid query.timeout %q: %w", path, *fc.Query.Timeout, err)
		}
		cfg.QueryTimeout = d
	}
	if fc.Pool.MaxConns != nil {
		cfg.PoolMaxConns = *fc.Pool.MaxConns
	}
	if fc.Pool.MinConns != nil {
		cfg.PoolMinConns = *fc.Pool.MinConns
	}
	if fc.Pool.MaxConnLifetime != nil {
		d, err := time.ParseDuration(*fc.Pool.MaxConnLifetime)
		if err != nil {
			return fmt.Errorf("%s: invalid pool.max_conn_lifetime %q: %w", path, *fc.Pool.MaxConnLifetime, err)
		}
		cfg.PoolMaxConnLifetime = d
	}
	if fc.OTelEnabled != nil {
		cfg.OTelEnabled = *fc.OTelEnabled
	}
	return nil
}

// loadEnvVars reads all supported environment variables into cfg.
func loadEnvVars(cfg *Config) error {
	for env, dst := range map[string]*string{
		"SINK":              &cfg.Sink,
		"SINK_PATH":         &cfg.SinkPath,
		"DATABASE_URL":      &cfg.DatabaseURL,
		"METRICS_TABLE":     &cfg.Table,
		"AUDIT_LOG":         &cfg.AuditLog,
		"TRANSPORT":         &cfg.Transport,
		"HTTP_ADDR":         &cfg.HTTPAddr,
		"HTTP_BEARER_TOKEN": &cfg.HTTPBearerToken,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("REPORT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid REPORT_LIMIT value %q: must be a positive integer", v)
		}
		cfg.ReportLimit = n
	}

	if v := os.Getenv("MAX_ROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MAX_ROWS value %q: must be a positive integer", v)
		}
		cfg.MaxRows = n
	}

	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUERY_TIMEOUT value %q: %w", v, err)
		}
		cfg.QueryTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OTEL_ENABLED value %q: %w", v, err)
		}
		cfg.OTelEnabled = b
	}

	return loadPoolEnvVars(cfg)
}

// loadPoolEnvVars reads connection pool environment variables.
func loadPoolEnvVars(cfg *Config) error {
	if v := os.Getenv("POOL_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid POOL_MAX_CONNS value %q: must be a positive integer", v)
		}
		cfg.PoolMaxConns = int32(n)
	}
	if v := os.Getenv("POOL_MIN_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid POOL_MIN_CONNS value %q: must be a non-negative integer", v)
		}
		cfg.PoolMinConns = int32(n)
	}
	if v := os.Getenv("POOL_MAX_CONN_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POOL_MAX_CONN_LIFETIME value %q: %w", v, err)
		}
		cfg.PoolMaxConnLifetime = d
	}
	return nil
}

// applyOverrides applies CLI flag values on top of the env-loaded config.
func applyOverrides(cfg *Config, o Overrides) error {
	setString(&cfg.Sink, o.Sink)
	setString(&cfg.SinkPath, o.SinkPath)
	setString(&cfg.DatabaseURL, o.DatabaseURL)
	setString(&cfg.Table, o.Table)
	setString(&cfg.AuditLog, o.AuditLog)
	setString(&cfg.Transport, o.Transport)
	setString(&cfg.HTTPAddr, o.HTTPAddr)
	setString(&cfg.HTTPBearerToken, o.HTTPBearerToken)

	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if o.ReportLimit != nil {
		if *o.ReportLimit <= 0 {
			return fmt.Errorf("invalid --limit value: must be a positive integer")
		}
		cfg.ReportLimit = *o.ReportLimit
	}
	if o.MaxRows != nil {
		if *o.MaxRows <= 0 {
			return fmt.Errorf("invalid --max-rows value: must be a positive integer")
		}
		cfg.MaxRows = *o.MaxRows
	}
	if o.QueryTimeout != nil {
		cfg.QueryTimeout = *o.QueryTimeout
	}

	cfg.ExplainOnly = o.ExplainOnly
	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled

	return nil
}

// validate checks cross-field constraints on the final config.
func validate(cfg *Config) error {
	switch cfg.Sink {
	case SinkDuckDB, SinkSQLite, SinkFile:
		if cfg.SinkPath == "" {
			return fmt.Errorf("SINK_PATH is required for the %s sink", cfg.Sink)
		}
	case SinkPostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres sink (set via env var or --database-url flag)")
		}
	case SinkMemory:
	default:
		return fmt.Errorf("invalid SINK value %q: must be duckdb, sqlite, postgres, file, or memory", cfg.Sink)
	}

	if err := domain.ValidateIdentifier(cfg.Table); err != nil {
		return fmt.Errorf("invalid METRICS_TABLE: %w", err)
	}

	if cfg.ReportLimit <= 0 {
		return fmt.Errorf("report limit must be a positive integer, got %d", cfg.ReportLimit)
	}
	if cfg.MaxRows <= 0 {
		return fmt.Errorf("max rows must be a positive integer, got %d", cfg.MaxRows)
	}
	if cfg.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive, got %s", cfg.QueryTimeout)
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid TRANSPORT value %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}

	if cfg.Transport == "http" && cfg.HTTPBearerToken == "" {
		return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
	}

	if cfg.PoolMinConns > cfg.PoolMaxConns {
		return fmt.Errorf("POOL_MIN_CONNS (%d) must not exceed POOL_MAX_CONNS (%d)", cfg.PoolMinConns, cfg.PoolMaxConns)
	}

	return nil
}

// SQLCapable reports whether the configured sink can answer ad-hoc SQL.
func (c *Config) SQLCapable() bool {
	switch c.Sink {
	case SinkDuckDB, SinkSQLite, SinkPostgres:
		return true
	}
	return false
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}
