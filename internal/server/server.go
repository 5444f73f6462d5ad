// Package server provides the litdigest HTTP surface: batch runs, run
// history, provider probing, and the live event stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/ledger"
	"github.com/HerbHall/litdigest/internal/metrics"
	"github.com/HerbHall/litdigest/internal/pipeline"
	"github.com/HerbHall/litdigest/internal/version"
	"go.uber.org/zap"
)

// Runner starts batch runs. pipeline.Worker implements it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options, events chan<- event.Event) (*pipeline.Outcome, error)
	Running() bool
}

// History reads recorded runs. ledger.Ledger implements it.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.Run, error)
	GetRun(ctx context.Context, id string) (*ledger.Run, []ledger.Result, error)
}

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// ProbeFunc reports whether the LLM endpoint answers.
type ProbeFunc func(ctx context.Context) bool

// SimpleRouteRegistrar can register routes without middleware.
type SimpleRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Deps are the collaborators the API is built on. Only Runner is required.
type Deps struct {
	Runner   Runner
	History  History
	Bus      *event.Bus // created when nil
	Probe    ProbeFunc
	Ready    ReadinessChecker
	Metrics  *metrics.Metrics
	Defaults pipeline.Options // applied to fields a start request leaves empty
}

// Server is the litdigest HTTP server.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
	mux        *http.ServeMux

	ctx    context.Context // cancelled on Shutdown; parents every run
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current activeRun
}

// New creates a new Server with middleware and routes. Additional route
// registrars (the event stream handler) are mounted alongside the API.
func New(addr string, deps Deps, logger *zap.Logger, extraRoutes ...SimpleRouteRegistrar) *Server {
	mux := http.NewServeMux()
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Bus == nil {
		deps.Bus = event.NewBus(logger.Named("event"))
	}

	s := &Server{
		deps:   deps,
		logger: logger,
		mux:    mux,
		ctx:    ctx,
		cancel: cancel,
	}

	s.registerRoutes()
	for _, r := range extraRoutes {
		r.RegisterRoutes(mux)
	}

	// Middleware chain: outermost listed first.
	handler := Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, deps.Metrics, []string{"/healthz", "/readyz", "/metrics"}),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(20, 40, []string{"/healthz", "/readyz", "/metrics"}),
	)

	// No WriteTimeout: the event stream holds its connection open.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// registerRoutes sets up all core routes.
func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	// Versioned API endpoints.
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/probe", s.handleProbe)
	s.mux.HandleFunc("POST /api/v1/runs", s.handleStartRun)
	s.mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /api/v1/runs/current", s.handleCurrentRun)
	s.mux.HandleFunc("DELETE /api/v1/runs/current", s.handleCancelRun)
	s.mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels any run started over the API,
// and waits for it to record its outcome or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("run did not stop before shutdown deadline")
	}
	return err
}

// handleHealthz is a liveness probe -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// handleReadyz checks readiness -- returns 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status" example:"ok"`
	Service string            `json:"service" example:"litdigest"`
	Running bool              `json:"running"`
	Version map[string]string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "litdigest",
		Running: s.deps.Runner.Running(),
		Version: version.Map(),
	})
}

// ProbeResponse is the response for GET /api/v1/probe.
type ProbeResponse struct {
	Reachable bool `json:"reachable"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Probe == nil {
		Unavailable(w, "no LLM provider configured", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Reachable: s.deps.Probe(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
