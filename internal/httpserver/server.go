package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shopbot/internal/metrics"
	"shopbot/internal/repo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readinessTimeout    = 3 * time.Second
	defaultMessageLimit = 20
	maxMessageLimit     = 200
)

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	TelegramWebhook http.Handler
}

// Check is one readiness check, e.g. the order backend or the session store.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// MessageLister reads the conversation journal. Both SQL repositories satisfy it.
type MessageLister interface {
	ListRecentMessages(ctx context.Context, userID string, limit int) ([]repo.MessageRecord, error)
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Checks []Check
	// Messages is nil unless a SQL session store is configured.
	Messages MessageLister
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		handlers: handlers,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", server.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /admin/conversations/{user_id}", server.handleConversation)

	if handlers.TelegramWebhook != nil {
		mux.Handle("/webhook/telegram", handlers.TelegramWebhook)
	}

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// SetDependencies makes dependencies accessible to handlers.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := "ok"
	results := make(map[string]string, len(s.deps.Checks))
	for _, check := range s.deps.Checks {
		if err := check.Fn(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", check.Name, "error", err)
			s.metrics.IncError("readiness")
			results[check.Name] = err.Error()
			status = "unavailable"
			continue
		}
		results[check.Name] = "ok"
	}

	if status != "ok" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": results})
		return
	}
	writeJSON(w, map[string]any{"status": status, "checks": results})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Messages == nil {
		http.Error(w, "conversation journal not configured", http.StatusNotFound)
		return
	}

	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMessageLimit)
	}

	records, err := s.deps.Messages.ListRecentMessages(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("list conversation failed", "user_id", userID, "error", err)
		s.metrics.IncError("journal")
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []repo.MessageRecord{}
	}
	writeJSON(w, map[string]any{"user_id": userID, "messages": records})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
