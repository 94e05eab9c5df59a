// Package api exposes the running sequence over HTTP: status, running instructions,
// operator controls, a server-sent event stream, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/engine"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/stores"
	"github.com/openfroyo/skyrun/pkg/telemetry"
)

// Controller is the part of the scheduler the API drives.
type Controller interface {
	Active() (engine.RunInfo, bool)
	Status(ctx context.Context, runID string) (engine.RunInfo, error)
	Running() []sequencer.RunningEntry
	Cancel(ctx context.Context, runID string) error
	Interrupt(ctx context.Context) error
	SkipCurrent(ctx context.Context) (int, error)
}

var _ Controller = (*engine.Scheduler)(nil)

// History lists past runs and their audit trail.
type History interface {
	ListRuns(ctx context.Context, limit, offset int) ([]*stores.Run, error)
	Summarize(ctx context.Context, runID string) (*stores.RunSummary, error)
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*stores.AuditEntry, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server serves the control API.
type Server struct {
	controller Controller
	history    History
	tel        *telemetry.Telemetry
	checks     map[string]HealthCheck
	streams    *StreamManager
	logger     zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables the run history endpoints.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer creates a server for controller. Events published through tel are streamed
// to /api/v1/events subscribers.
func NewServer(controller Controller, tel *telemetry.Telemetry, opts ...Option) *Server {
	s := &Server{
		controller: controller,
		tel:        tel,
		checks:     make(map[string]HealthCheck),
		streams:    NewStreamManager(),
		logger:     tel.Logger.Zerolog().With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	tel.Events.Subscribe(s.streams.Publish, nil)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.tel.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/running", s.running)
		r.Post("/interrupt", s.interrupt)
		r.Post("/skip", s.skip)
		r.Post("/cancel", s.cancel)
		r.Get("/events", s.events)

		r.Get("/runs", s.listRuns)
		r.Get("/runs/{runID}", s.getRun)
		r.Get("/runs/{runID}/summary", s.summarizeRun)
		r.Get("/audit", s.listAudit)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control API failed: %w", err)
	case <-ctx.Done():
	}

	s.streams.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down control API: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Active bool            `json:"active"`
	Run    *engine.RunInfo `json:"run,omitempty"`
}

// RunningItem describes one executing instruction.
type RunningItem struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Type  string    `json:"type"`
	Path  string    `json:"path"`
	Since time.Time `json:"since"`
}

// CancelRequest is the optional body of POST /api/v1/cancel.
type CancelRequest struct {
	RunID string `json:"run_id"`
}

// SkipResponse is returned by POST /api/v1/skip.
type SkipResponse struct {
	Skipped int `json:"skipped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	info, ok := s.controller.Active()
	resp := StatusResponse{Active: ok}
	if ok {
		resp.Run = &info
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) running(w http.ResponseWriter, _ *http.Request) {
	entries := s.controller.Running()
	items := make([]RunningItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, RunningItem{
			ID:    e.Item.ID(),
			Name:  e.Item.Name(),
			Type:  sequencer.TypeOf(e.Item),
			Path:  sequencer.Path(e.Item),
			Since: e.Since,
		})
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) interrupt(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Interrupt(s.actorContext(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) skip(w http.ResponseWriter, r *http.Request) {
	n, err := s.controller.SkipCurrent(s.actorContext(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SkipResponse{Skipped: n})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	if err := s.controller.Cancel(s.actorContext(r), req.RunID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	info, err := s.controller.Status(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "run history is not configured"})
		return
	}
	limit, offset := pagination(r)
	runs, err := s.history.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) summarizeRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "run history is not configured"})
		return
	}
	summary, err := s.history.Summarize(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "run history is not configured"})
		return
	}
	var action *string
	if a := r.URL.Query().Get("action"); a != "" {
		action = &a
	}
	limit, offset := pagination(r)
	entries, err := s.history.ListAuditEntries(r.Context(), action, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(s.checks))
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	s.writeJSON(w, code, map[string]any{"status": status, "checks": results})
}

// actorContext tags control requests with the caller's address.
func (s *Server) actorContext(r *http.Request) context.Context {
	return engine.WithActor(r.Context(), "api:"+r.RemoteAddr)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNoActiveRun):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrRunNotFound), errors.Is(err, stores.ErrNotFound):
		code = http.StatusNotFound
	}
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
