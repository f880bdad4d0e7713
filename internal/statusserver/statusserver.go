// Package statusserver exposes the tracking state over a local read-only
// HTTP API: health checks, the loading summary with every tracked operation,
// and the archived errors. Nothing mutates through it.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/salerhq/optrack/internal/aggregator"
	"github.com/salerhq/optrack/internal/conventions"
	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
	"github.com/salerhq/optrack/internal/telemetry"
)

// Checker runs the preflight checks served on /healthz.
type Checker interface {
	Check(ctx context.Context) []model.CheckResult
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) []model.CheckResult

// Check satisfies the Checker interface.
func (f CheckerFunc) Check(ctx context.Context) []model.CheckResult { return f(ctx) }

// ServerConfig is the configuration for the status server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr       string
	Registry   registry.Store
	Aggregator *aggregator.Aggregator
	Archive    telemetry.Store
	// Checker runs the checks behind /healthz. When unset the endpoint
	// reports ok with no checks.
	Checker Checker
	Logger  log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.Addr == "" {
		c.Addr = conventions.DefaultListenAddr
	}

	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}

	if c.Aggregator == nil {
		return fmt.Errorf("aggregator is required")
	}

	if c.Archive == nil {
		return fmt.Errorf("archive is required")
	}

	if c.Checker == nil {
		c.Checker = CheckerFunc(func(context.Context) []model.CheckResult { return nil })
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "statusserver.Server"})

	return nil
}

// Server serves the read-only HTTP API over the tracking state.
type Server struct {
	server   *http.Server
	registry registry.Store
	agg      *aggregator.Aggregator
	archive  telemetry.Store
	checker  Checker
	logger   log.Logger
}

// NewServer creates a new status server. Run must be called to start
// listening.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		registry: cfg.Registry,
		agg:      cfg.Aggregator,
		archive:  cfg.Archive,
		checker:  cfg.Checker,
		logger:   cfg.Logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)
	router.Get("/errors", s.handleErrors)

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	return s, nil
}

// Handler returns the server's HTTP handler, for serving through a listener
// the caller owns.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the server and blocks until ctx is cancelled. It performs a
// graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Status server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server error: %w", err)
	case <-ctx.Done():
		s.logger.Infof("Shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown error: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Check(r.Context())

	resp := HealthResponse{
		Status: string(model.CheckStatusOK),
		Checks: make([]CheckResult, 0, len(results)),
	}
	for _, res := range results {
		resp.Checks = append(resp.Checks, toCheckResult(res))
	}

	code := http.StatusOK
	_, warnings, errs := model.CountByStatus(results)
	switch {
	case errs > 0:
		resp.Status = string(model.CheckStatusError)
		code = http.StatusServiceUnavailable
	case warnings > 0:
		resp.Status = string(model.CheckStatusWarning)
	}

	s.writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary := s.agg.Summary()
	records := s.registry.Snapshot()
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	resp := StatusResponse{
		GlobalLoading: summary.GlobalLoading,
		Counts:        make(map[string]int, len(summary.Counts)),
		Operations:    make([]Operation, 0, len(records)),
	}
	for priority, n := range summary.Counts {
		resp.Counts[string(priority)] = n
	}
	for _, rec := range records {
		resp.Operations = append(resp.Operations, toOperation(rec))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	events, err := s.archive.List(r.Context())
	if err != nil {
		s.logger.Errorf("Could not list archived errors: %s", err)
		s.writeError(w, http.StatusInternalServerError, "could not list archived errors")
		return
	}

	resp := ErrorsResponse{Events: make([]ErrorEvent, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, toErrorEvent(event))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Errorf("Could not encode response: %s", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, errorResponse{Error: message})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
