package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock QueryExecutor ---

type mockExecutor struct {
	executeCalled bool
	lastSQL       string
	result        []map[string]any
	err           error
}

func (m *mockExecutor) Execute(_ context.Context, sql string) ([]map[string]any, error) {
	m.executeCalled = true
	m.lastSQL = sql
	return m.result, m.err
}

type queryInstrumentation struct {
	countingInstrumentation
	queries int
	errors  int
}

func (q *queryInstrumentation) RecordQueryDuration(context.Context, float64) { q.queries++ }
func (q *queryInstrumentation) IncrementQueryErrors(context.Context)         { q.errors++ }

func newQueryService(exec *mockExecutor, inst *queryInstrumentation) *QueryService {
	if inst == nil {
		return NewQueryService(domain.NewSelectValidator(), exec, "duckdb", testLogger(), nil, nil)
	}
	return NewQueryService(domain.NewSelectValidator(), exec, "duckdb", testLogger(), nil, inst)
}

// --- tests ---

func TestQueryService_ValidSelect(t *testing.T) {
	exec := &mockExecutor{
		result: []map[string]any{{"function_name": "sample_function", "calls": int64(3)}},
	}
	svc := newQueryService(exec, nil)

	sql := "SELECT function_name, count(*) AS calls FROM function_metrics GROUP BY function_name"
	rows, err := svc.Execute(context.Background(), sql)
	require.NoError(t, err)
	assert.True(t, exec.executeCalled)
	assert.Equal(t, sql, exec.lastSQL)
	require.Len(t, rows, 1)
	assert.Equal(t, "sample_function", rows[0]["function_name"])
}

func TestQueryService_RejectsWrites(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"insert", "INSERT INTO function_metrics (function_name) VALUES ('x')"},
		{"drop", "DROP TABLE function_metrics"},
		{"delete", "DELETE FROM function_metrics WHERE seq = 1"},
		{"update", "UPDATE function_metrics SET status = 'error'"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{}
			inst := &queryInstrumentation{}
			svc := newQueryService(exec, inst)

			_, err := svc.Execute(context.Background(), tt.sql)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation")
			assert.False(t, exec.executeCalled, "executor should not be called for rejected queries")
			assert.Equal(t, 1, inst.errors)
			assert.Zero(t, inst.queries)
		})
	}
}

func TestQueryService_AllowsExplain(t *testing.T) {
	exec := &mockExecutor{
		result: []map[string]any{{"explain_value": "SEQ_SCAN function_metrics"}},
	}
	svc := newQueryService(exec, nil)

	rows, err := svc.Execute(context.Background(), "EXPLAIN SELECT * FROM function_metrics")
	require.NoError(t, err)
	assert.True(t, exec.executeCalled)
	require.Len(t, rows, 1)
}

func TestQueryService_ExecutorError(t *testing.T) {
	exec := &mockExecutor{err: fmt.Errorf("database is locked")}
	inst := &queryInstrumentation{}
	svc := newQueryService(exec, inst)

	rows, err := svc.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 1, inst.queries)
	assert.Equal(t, 1, inst.errors)
}

func TestQueryService_ExplainOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		expectedSQL string
	}{
		{"plain select gets prefix", "SELECT 1", "EXPLAIN SELECT 1"},
		{"explain passes through", "EXPLAIN SELECT 1", "EXPLAIN SELECT 1"},
		{"explain analyze passes through", "EXPLAIN ANALYZE SELECT 1", "EXPLAIN ANALYZE SELECT 1"},
		{"lowercase explain passes through", "explain SELECT 1", "explain SELECT 1"},
		{"leading whitespace select", "  SELECT 1", "EXPLAIN   SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inner := &mockExecutor{}
			svc := NewQueryService(domain.NewSelectValidator(), inner, "sqlite", testLogger(), nil, nil, WithExplainOnly())

			_, err := svc.Execute(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedSQL, inner.lastSQL)
		})
	}
}

func TestQueryService_ExplainOnlyStillValidates(t *testing.T) {
	inner := &mockExecutor{}
	svc := NewQueryService(domain.NewSelectValidator(), inner, "sqlite", testLogger(), nil, nil, WithExplainOnly())

	_, err := svc.Execute(context.Background(), "DELETE FROM function_metrics")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotAllowed)
	assert.False(t, inner.executeCalled)
}

func TestQueryService_NilLogger(t *testing.T) {
	exec := &mockExecutor{result: []map[string]any{{"n": int64(1)}}}
	svc := NewQueryService(domain.NewSelectValidator(), exec, "sqlite", nil, nil, nil)

	rows, err := svc.Execute(context.Background(), "SELECT 1 AS n")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = svc.Execute(context.Background(), "DELETE FROM function_metrics")
	require.ErrorIs(t, err, domain.ErrNotAllowed)
	assert.NotEqual(t, "DELETE FROM function_metrics", exec.lastSQL)
}
