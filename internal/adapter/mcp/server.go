package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/callmeter/internal/core/port"
	"github.com/guillermoBallester/callmeter/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with the call-metrics tools and
// logging/tracing hooks. query, logger, tracer and inst may be nil.
func NewServer(version string, recent RecentReader, query *service.QueryService, defaultLimit int,
	logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation,
) *server.MCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	RegisterTools(s, recent, query, defaultLimit, logger)

	return s
}
