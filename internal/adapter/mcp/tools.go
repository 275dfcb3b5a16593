package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "callmeter"

// maxRecentLimit caps recent_calls so one request cannot dump the whole table.
const maxRecentLimit = 1000

// Tool descriptions
const (
	descRecentCalls = "List the most recent recorded function calls, newest first. " +
		"Each record has a sequence number, function name, start time (UTC), duration in milliseconds, " +
		"status (success or error) and the error message for failed calls."

	descRecentCallsLimit = "Maximum number of calls to return"

	descQueryCalls = "Run a read-only SQL query against the function_metrics table and return rows as a JSON array. " +
		"Columns: seq, function_name, start_time, duration_ms, status, error_message. " +
		"A server-side row limit and query timeout are enforced. " +
		"Useful for aggregates such as error rates or average duration per function."

	descQueryCallsSQL = "SQL query to execute (a single SELECT statement)"
)

// RecentReader returns the newest call records.
type RecentReader interface {
	Recent(ctx context.Context, n int) ([]domain.CallRecord, error)
}

// RegisterTools adds the call-metrics tools to s. query may be nil when the
// sink cannot answer SQL; query_calls is then not offered.
func RegisterTools(s *server.MCPServer, recent RecentReader, query *service.QueryService, defaultLimit int, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("recent_calls",
			mcp.WithDescription(descRecentCalls),
			mcp.WithNumber("limit",
				mcp.Description(descRecentCallsLimit),
				mcp.DefaultNumber(float64(defaultLimit)),
				mcp.Min(1),
				mcp.Max(maxRecentLimit),
			),
		),
		recentCallsHandler(recent, defaultLimit, logger),
	)

	if query != nil {
		s.AddTool(
			mcp.NewTool("query_calls",
				mcp.WithDescription(descQueryCalls),
				mcp.WithString("sql",
					mcp.Required(),
					mcp.Description(descQueryCallsSQL),
				),
				mcp.WithBoolean("explain",
					mcp.Description("Return the query plan instead of rows. Defaults to false."),
				),
			),
			queryCallsHandler(query, logger),
		)
	}
}

func recentCallsHandler(recent RecentReader, defaultLimit int, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", defaultLimit)
		if limit <= 0 {
			return mcp.NewToolResultError("limit must be a positive integer"), nil
		}
		limit = min(limit, maxRecentLimit)

		records, err := recent.Recent(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "recent calls")), nil
		}

		data, err := json.Marshal(records)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func queryCallsHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		if request.GetBool("explain", false) && !domain.IsExplain(sql) {
			sql = "EXPLAIN " + sql
		}

		results, err := query.Execute(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "query")), nil
		}
		if results == nil {
			results = []map[string]any{}
		}

		data, err := json.Marshal(results)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

// sanitizeError turns err into a message safe to hand to an MCP client.
// Validation and timeout errors pass through; anything else is logged and
// replaced by a generic message.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	for _, sentinel := range []error{
		domain.ErrEmptyQuery,
		domain.ErrNotAllowed,
		domain.ErrMultiStatement,
		domain.ErrParseFailed,
	} {
		if errors.Is(err, sentinel) {
			return fmt.Sprintf("%s failed: %v", op, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &pgErr) && pgErr.Code == "57014") {
		return fmt.Sprintf("%s timed out", op)
	}

	logger.Error("tool call failed",
		slog.String("operation", op),
		slog.String("error.message", err.Error()),
	)
	return fmt.Sprintf("%s failed: internal error (check server logs)", op)
}
