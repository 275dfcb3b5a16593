package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/guillermoBallester/callmeter/internal/adapter/mcp"
	"github.com/guillermoBallester/callmeter/internal/core/domain"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	shutdownTimeout = 5 * time.Second
	maxAPILimit     = 1000
)

// serveHTTP runs the HTTP surface until ctx is cancelled.
func serveHTTP(ctx context.Context, a *app, mcpServer *mcpserver.MCPServer) error {
	streamable := mcpserver.NewStreamableHTTPServer(mcpServer, mcpserver.WithEndpointPath("/mcp"))

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           newRouter(a, streamable),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving MCP over HTTP", slog.String("addr", a.cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

// newRouter wires the HTTP routes. mcpHandler serves /mcp behind bearer auth.
func newRouter(a *app, mcpHandler http.Handler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", a.prom.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/calls", recentCallsHandler(a.recorder, a.cfg.ReportLimit, a.logger)).Methods(http.MethodGet)
	r.Handle("/mcp", bearerAuthMiddleware(mcpHandler, a.cfg.HTTPBearerToken))

	return recoveryMiddleware(r, a.logger)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func recentCallsHandler(recent mcp.RecentReader, defaultLimit int, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxAPILimit)
		}

		records, err := recent.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("reading recent calls", slog.String("error.message", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if records == nil {
			records = []domain.CallRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// bearerAuthMiddleware rejects requests without "Authorization: Bearer <token>".
func bearerAuthMiddleware(next http.Handler, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="callmeter"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns a handler panic into a 500.
func recoveryMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("http handler panic",
					slog.String("http.method", r.Method),
					slog.String("http.path", r.URL.Path),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
