package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// toolMeter times tool calls the same way the Recorder times wrapped
// functions: one log line, one span and one call metric per invocation,
// under the function name "mcp.<tool>".
type toolMeter struct {
	logger *slog.Logger
	tracer trace.Tracer
	inst   port.Instrumentation

	inflight sync.Map // callKey -> *toolCall
}

// callKey identifies a request across sessions; JSON-RPC ids are only unique
// within one.
type callKey struct {
	session string
	id      any
}

func keyFor(ctx context.Context, id any) callKey {
	k := callKey{id: id}
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		k.session = cs.SessionID()
	}
	return k
}

type toolCall struct {
	tool  string
	start time.Time
	span  trace.Span
}

// ToolCallHooks returns MCP hooks that meter every tool call. logger, tracer
// and inst may be nil.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	m := &toolMeter{logger: logger, tracer: tracer, inst: inst}

	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(m.before)
	hooks.AddAfterCallTool(m.after)
	hooks.AddOnError(m.onError)
	return hooks
}

func (m *toolMeter) before(ctx context.Context, id any, req *mcp.CallToolRequest) {
	_, span := m.tracer.Start(ctx, "mcp.tool.call",
		trace.WithAttributes(attribute.String("mcp.tool", req.Params.Name)),
	)
	m.inflight.Store(keyFor(ctx, id), &toolCall{tool: req.Params.Name, start: time.Now(), span: span})
}

func (m *toolMeter) after(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
	var err error
	if r, ok := result.(*mcp.CallToolResult); ok && r.IsError {
		err = toolError(r)
	}
	m.finish(ctx, id, req.Params.Name, err)
}

func (m *toolMeter) onError(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
	req, ok := message.(*mcp.CallToolRequest)
	if !ok || method != mcp.MethodToolsCall {
		return
	}
	m.finish(ctx, id, req.Params.Name, err)
}

func (m *toolMeter) finish(ctx context.Context, id any, tool string, err error) {
	var (
		elapsed time.Duration
		span    trace.Span
	)
	if v, ok := m.inflight.LoadAndDelete(keyFor(ctx, id)); ok {
		call := v.(*toolCall)
		elapsed = time.Since(call.start)
		span = call.span
	}

	status := domain.StatusSuccess
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("mcp.tool", tool),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		status = domain.StatusError
		level = slog.LevelError
		attrs = append(attrs, slog.String("error.message", err.Error()))
	}
	attrs = append(attrs, slog.String("status", string(status)))

	m.logger.LogAttrs(ctx, level, "tool call", attrs...)
	m.inst.RecordCall(ctx, "mcp."+tool, status, float64(domain.DurationMS(elapsed)))

	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type toolResultError string

func (e toolResultError) Error() string { return string(e) }

// toolError extracts the message of an error result.
func toolError(r *mcp.CallToolResult) error {
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return toolResultError(tc.Text)
		}
	}
	return toolResultError("tool returned error")
}
