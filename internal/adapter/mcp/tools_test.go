package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guillermoBallester/callmeter/internal/adapter/memory"
	"github.com/guillermoBallester/callmeter/internal/adapter/sqlstore"
	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/service"
	"github.com/guillermoBallester/callmeter/internal/sinktest"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// --- mocks ---

type mockExecutor struct {
	result  []map[string]any
	err     error
	lastSQL string // captures the SQL passed to Execute
}

func (m *mockExecutor) Execute(_ context.Context, sql string) ([]map[string]any, error) {
	m.lastSQL = sql
	return m.result, m.err
}

type failingReader struct{}

func (failingReader) Recent(context.Context, int) ([]domain.CallRecord, error) {
	return nil, domain.NewStorageError("query recent", errors.New("IO Error: could not open file"))
}

type recordedCall struct {
	function string
	status   domain.Status
}

type capturingInstrumentation struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (c *capturingInstrumentation) RecordCall(_ context.Context, function string, status domain.Status, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{function, status})
}
func (c *capturingInstrumentation) IncrementSinkErrors(context.Context)          {}
func (c *capturingInstrumentation) RecordQueryDuration(context.Context, float64) {}
func (c *capturingInstrumentation) IncrementQueryErrors(context.Context)         {}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sessionCounter atomic.Int64

// rpc sends one request on a fresh session so a server can serve several
// calls in one test.
func rpc(t *testing.T, s *server.MCPServer, method string, params map[string]any) []byte {
	t.Helper()
	ctx := context.Background()
	session := server.NewInProcessSession(fmt.Sprintf("test-%d", sessionCounter.Add(1)), nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	// Initialize session.
	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": method, "params": params,
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)
	return respBytes
}

func callTool(t *testing.T, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	respBytes := rpc(t, s, "tools/call", map[string]any{"name": toolName, "arguments": args})

	var resp struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	require.Nil(t, resp.Error, "unexpected RPC error: %v", resp.Error)
	require.NotNil(t, resp.Result)
	return resp.Result
}

func listTools(t *testing.T, s *server.MCPServer) []string {
	t.Helper()
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rpc(t, s, "tools/list", map[string]any{}), &resp))
	names := make([]string, 0, len(resp.Result.Tools))
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func seededRecorder(t *testing.T) *service.Recorder {
	t.Helper()
	sink := memory.NewSink()
	ctx := context.Background()
	for i := range 5 {
		rec := sinktest.Record(fmt.Sprintf("f%d", i), time.Duration(i)*time.Second, int64(10*i), "")
		require.NoError(t, sink.Append(ctx, rec))
	}
	require.NoError(t, sink.Append(ctx, sinktest.Record("failing_function", time.Minute, 0, "Sample error")))
	return service.NewRecorder(sink, testLogger(), nil, nil)
}

func setupServer(recent RecentReader, executor *mockExecutor) *server.MCPServer {
	var querySvc *service.QueryService
	if executor != nil {
		querySvc = service.NewQueryService(domain.NewSelectValidator(), executor, "duckdb", testLogger(), nil, nil)
	}
	return NewServer("0.1.0", recent, querySvc, 3, testLogger(), nil, nil)
}

// --- tests ---

func TestRecentCalls_DefaultLimit(t *testing.T) {
	s := setupServer(seededRecorder(t), nil)

	result := callTool(t, s, "recent_calls", nil)
	require.False(t, result.IsError, toolText(result))

	var records []domain.CallRecord
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &records))
	require.Len(t, records, 3)
	assert.Equal(t, "failing_function", records[0].Function)
	require.NotNil(t, records[0].ErrorMessage)
	assert.Equal(t, "Sample error", *records[0].ErrorMessage)
	assert.Equal(t, "f4", records[1].Function)
}

func TestRecentCalls_Limit(t *testing.T) {
	s := setupServer(seededRecorder(t), nil)

	result := callTool(t, s, "recent_calls", map[string]any{"limit": 10})
	require.False(t, result.IsError, toolText(result))

	var records []domain.CallRecord
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &records))
	assert.Len(t, records, 6)
}

func TestRecentCalls_InvalidLimit(t *testing.T) {
	s := setupServer(seededRecorder(t), nil)

	result := callTool(t, s, "recent_calls", map[string]any{"limit": 0})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "limit must be a positive integer")
}

func TestRecentCalls_StorageError(t *testing.T) {
	s := setupServer(failingReader{}, nil)

	result := callTool(t, s, "recent_calls", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
	assert.NotContains(t, toolText(result), "IO Error")
}

func TestQueryCalls_OnlyRegisteredForSQLSinks(t *testing.T) {
	assert.ElementsMatch(t, []string{"recent_calls"}, listTools(t, setupServer(seededRecorder(t), nil)))
	assert.ElementsMatch(t, []string{"recent_calls", "query_calls"}, listTools(t, setupServer(seededRecorder(t), &mockExecutor{})))
}

func TestQueryCalls_HappyPath(t *testing.T) {
	executor := &mockExecutor{
		result: []map[string]any{{"function_name": "sample_function", "calls": 3}},
	}
	s := setupServer(seededRecorder(t), executor)

	result := callTool(t, s, "query_calls", map[string]any{
		"sql": "SELECT function_name, count(*) AS calls FROM function_metrics GROUP BY 1",
	})
	require.False(t, result.IsError, toolText(result))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "sample_function", rows[0]["function_name"])
}

func TestQueryCalls_EmptyResultIsArray(t *testing.T) {
	s := setupServer(seededRecorder(t), &mockExecutor{})

	result := callTool(t, s, "query_calls", map[string]any{"sql": "SELECT 1 WHERE false"})
	require.False(t, result.IsError, toolText(result))
	assert.Equal(t, "[]", toolText(result))
}

func TestQueryCalls_MissingSQL(t *testing.T) {
	s := setupServer(seededRecorder(t), &mockExecutor{})

	result := callTool(t, s, "query_calls", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "sql is required")
}

func TestQueryCalls_Explain(t *testing.T) {
	executor := &mockExecutor{result: []map[string]any{{"explain_value": "SEQ_SCAN"}}}
	s := setupServer(seededRecorder(t), executor)

	result := callTool(t, s, "query_calls", map[string]any{
		"sql":     "SELECT seq FROM function_metrics",
		"explain": true,
	})
	assert.False(t, result.IsError)
	assert.Equal(t, "EXPLAIN SELECT seq FROM function_metrics", executor.lastSQL)
}

func TestQueryCalls_ValidationErrorPassthrough(t *testing.T) {
	executor := &mockExecutor{}
	s := setupServer(seededRecorder(t), executor)

	result := callTool(t, s, "query_calls", map[string]any{"sql": "DELETE FROM function_metrics"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "only SELECT queries are allowed")
	assert.Empty(t, executor.lastSQL)
}

func TestQueryCalls_ExecutorError(t *testing.T) {
	executor := &mockExecutor{err: fmt.Errorf("connection timeout")}
	s := setupServer(seededRecorder(t), executor)

	result := callTool(t, s, "query_calls", map[string]any{"sql": "SELECT 1"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
}

func TestHooks_RecordToolCalls(t *testing.T) {
	inst := &capturingInstrumentation{}
	s := NewServer("0.1.0", seededRecorder(t), nil, 3, testLogger(), nil, inst)

	_ = callTool(t, s, "recent_calls", nil)
	_ = callTool(t, s, "recent_calls", map[string]any{"limit": -1})

	inst.mu.Lock()
	defer inst.mu.Unlock()
	require.Len(t, inst.calls, 2)
	assert.Equal(t, recordedCall{"mcp.recent_calls", domain.StatusSuccess}, inst.calls[0])
	assert.Equal(t, recordedCall{"mcp.recent_calls", domain.StatusError}, inst.calls[1])
}

func TestHooks_SpansAndLogs(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	s := NewServer("0.1.0", seededRecorder(t), nil, 3, logger, tp.Tracer("test"), nil)

	_ = callTool(t, s, "recent_calls", nil)
	_ = callTool(t, s, "recent_calls", map[string]any{"limit": 0})

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "mcp.tool.call", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "limit must be a positive integer", spans[1].Status.Description)

	assert.Contains(t, logs.String(), `"msg":"tool call"`)
	assert.Contains(t, logs.String(), `"mcp.tool":"recent_calls"`)
	assert.Contains(t, logs.String(), `"status":"error"`)
}

func TestTools_AgainstSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.SQLite, filepath.Join(t.TempDir(), "calls.db"), sqlstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := service.NewRecorder(store, testLogger(), nil, nil)
	ok := service.WrapErr(r, "sample_function", func(context.Context) error { return nil })
	bad := service.WrapErr(r, "failing_function", func(context.Context) error { return errors.New("Sample error") })
	for range 3 {
		require.NoError(t, ok(ctx))
	}
	require.Error(t, bad(ctx))

	querySvc := service.NewQueryService(domain.NewSelectValidator(), store, store.System(), testLogger(), nil, nil)
	s := NewServer("0.1.0", r, querySvc, 10, testLogger(), nil, nil)

	result := callTool(t, s, "recent_calls", nil)
	require.False(t, result.IsError, toolText(result))
	var records []domain.CallRecord
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &records))
	require.Len(t, records, 4)
	assert.Equal(t, "failing_function", records[0].Function)

	result = callTool(t, s, "query_calls", map[string]any{
		"sql": "SELECT status, count(*) AS n FROM function_metrics GROUP BY status ORDER BY status",
	})
	require.False(t, result.IsError, toolText(result))
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "error", rows[0]["status"])
	assert.EqualValues(t, 1, rows[0]["n"])
	assert.Equal(t, "success", rows[1]["status"])
	assert.EqualValues(t, 3, rows[1]["n"])
}

// --- sanitizeError tests ---

func TestSanitizeError_ValidationPassthrough(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"empty query", domain.ErrEmptyQuery, "empty query"},
		{"not allowed", domain.ErrNotAllowed, "only SELECT"},
		{"multi statement", domain.ErrMultiStatement, "multiple statements"},
		{"parse error", fmt.Errorf("%w: syntax error", domain.ErrParseFailed), "failed to parse SQL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sanitizeError(testLogger(), tt.err, "query")
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestSanitizeError_Timeout(t *testing.T) {
	msg := sanitizeError(testLogger(), fmt.Errorf("executing query: %w", context.DeadlineExceeded), "query")
	assert.Contains(t, msg, "query timed out")

	pgErr := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	msg = sanitizeError(testLogger(), pgErr, "query")
	assert.Contains(t, msg, "query timed out")
}

func TestSanitizeError_Generic(t *testing.T) {
	msg := sanitizeError(testLogger(), fmt.Errorf("unexpected error: relation OID 12345"), "query")
	assert.Contains(t, msg, "internal error")
	assert.Contains(t, msg, "check server logs")
	assert.NotContains(t, msg, "OID")
}
