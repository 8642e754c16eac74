package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/wagmii/core/internal/automation"
	"github.com/wagmii/core/internal/engine"
	"github.com/wagmii/core/internal/mcp"
	"github.com/wagmii/core/internal/ratelimit"
	"github.com/wagmii/core/internal/runtimelog"
	"github.com/wagmii/core/internal/sessions"
	"github.com/wagmii/core/internal/skills"
	"github.com/wagmii/core/internal/tasks"
)

// Dependencies are the collaborators the router dispatches to. All fields
// except Engine and Logs are optional; a nil dependency disables the routes
// that need it rather than failing server construction.
type Dependencies struct {
	Engine       *engine.Engine
	Logs         *runtimelog.Manager
	Sessions     sessions.Store
	Automations  *automation.Scheduler
	Tasks        tasks.Store
	Skills       *skills.Manager
	MCP          *mcp.Manager
	WorkspaceDir string

	// AuthSecret, when non-empty, requires a valid bearer JWT on every
	// route except /health. Leave empty for the default local-only,
	// unauthenticated binding.
	AuthSecret string

	// CORSOrigins restricts the Access-Control-Allow-Origin response to
	// this list; empty means the loopback-only default (see corsMiddleware).
	CORSOrigins []string

	// RateLimit throttles inbound requests per remote address; the zero
	// value disables throttling.
	RateLimit ratelimit.Config

	Logger *slog.Logger
}

// Server owns the HTTP listener and the mux built from Dependencies,
// splitting construction from lifecycle: a plain net/http, SSE-based
// surface.
type Server struct {
	deps     Dependencies
	logger   *slog.Logger
	mux      http.Handler
	jwt      *jwtVerifier
	limiters *ratelimit.Limiter

	httpServer *http.Server
	listener   net.Listener
}

func newLimiters(cfg ratelimit.Config) *ratelimit.Limiter {
	if !cfg.Enabled {
		return nil
	}
	return ratelimit.NewLimiter(cfg)
}

// NewServer builds the router. Call ListenAndServe to start accepting
// connections, or use Handler() directly (e.g. for httptest).
func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	s := &Server{deps: deps, logger: logger}
	if deps.AuthSecret != "" {
		s.jwt = newJWTVerifier(deps.AuthSecret)
	}
	s.limiters = newLimiters(deps.RateLimit)
	s.mux = s.buildMux()
	return s
}

// Handler returns the fully wrapped http.Handler, for use with httptest
// or an external http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) buildMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/resume-thread", s.handleResumeThread)

	mux.HandleFunc("GET /v1/threads", s.handleListThreads)
	mux.HandleFunc("GET /v1/threads/summary", s.handleThreadsSummary)
	mux.HandleFunc("POST /v1/threads", s.handleCreateThread)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleGetThread)
	mux.HandleFunc("PATCH /v1/threads/{id}", s.handlePatchThread)
	mux.HandleFunc("POST /v1/threads/{id}/turns", s.handleStartTurn)
	mux.HandleFunc("POST /v1/threads/{id}/turns/{turn_id}/steer", s.handleSteerTurn)
	mux.HandleFunc("POST /v1/threads/{id}/turns/{turn_id}/interrupt", s.handleInterruptTurn)
	mux.HandleFunc("POST /v1/threads/{id}/compact", s.handleCompactThread)
	mux.HandleFunc("GET /v1/threads/{id}/events", s.handleThreadEvents)
	mux.HandleFunc("GET /v1/threads/{id}/ws", s.handleThreadEventsWS)

	mux.HandleFunc("POST /v1/stream", s.handleLegacyStream)

	mux.HandleFunc("GET /v1/workspace/status", s.handleWorkspaceStatus)

	mux.HandleFunc("GET /v1/skills", s.handleListSkills)

	mux.HandleFunc("GET /v1/mcp/servers", s.handleMCPServers)
	mux.HandleFunc("GET /v1/mcp/tools", s.handleMCPTools)

	mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	mux.HandleFunc("POST /v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.handleCancelTask)

	mux.HandleFunc("GET /v1/automations", s.handleListAutomations)
	mux.HandleFunc("POST /v1/automations", s.handleCreateAutomation)
	mux.HandleFunc("GET /v1/automations/{id}", s.handleGetAutomation)
	mux.HandleFunc("DELETE /v1/automations/{id}", s.handleDeleteAutomation)
	mux.HandleFunc("POST /v1/automations/{id}/run-now", s.handleRunAutomationNow)
	mux.HandleFunc("POST /v1/automations/{id}/pause", s.handlePauseAutomation)
	mux.HandleFunc("POST /v1/automations/{id}/resume", s.handleResumeAutomation)
	mux.HandleFunc("GET /v1/automations/{id}/runs", s.handleAutomationRuns)

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = s.authMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = s.corsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP listener on addr and blocks the caller's
// goroutine until it exits; callers choose whether to background it.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("starting http server", "addr", addr)
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener, draining in-flight requests
// (and SSE streams, which observe ctx.Done and return) within ctx's
// deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
