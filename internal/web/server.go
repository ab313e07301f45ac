// Package web provides the HTTP JSON API for OffTimes.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
)

// Server wraps an HTTP server with graceful shutdown capabilities.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	port       int
}

// NewServer creates a Server. passwordHash is a bcrypt hash of the admin
// password; if username or hash is empty, authentication is disabled.
func NewServer(port int, handler *Handler, logger *slog.Logger, username, passwordHash string) *Server {
	if port == 0 {
		port = 9310
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handler.Health)
	mux.HandleFunc("/api/usage/daily", handler.DailyUsage)
	mux.HandleFunc("/api/usage/categories", handler.CategoryUsage)
	mux.HandleFunc("/api/sessions", handler.Sessions)
	mux.HandleFunc("/api/observations", handler.IngestObservations)
	mux.HandleFunc("/api/apps", handler.Apps)
	mux.HandleFunc("/api/apps/exclude", handler.ExcludeApp)
	mux.HandleFunc("/api/timers", handler.Timers)
	mux.HandleFunc("/api/timers/start", handler.StartTimer)
	mux.HandleFunc("/api/timers/stop", handler.StopTimer)
	mux.HandleFunc("/api/maintenance/cleanup", handler.RunCleanup)
	mux.HandleFunc("/api/maintenance/purge", handler.RunPurge)

	var finalHandler http.Handler = mux
	if username != "" && passwordHash != "" {
		finalHandler = AuthMiddleware(username, passwordHash)(mux)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    ":" + strconv.Itoa(port),
			Handler: finalHandler,
		},
		logger: logger,
		port:   port,
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	return s.httpServer.Shutdown(ctx)
}
