// Package server exposes orchestrator status, history and queueing over
// HTTP, plus Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/engine"
	"github.com/DrSkyle/codevet/pkg/engine/report"
	"github.com/DrSkyle/codevet/pkg/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 1 << 20

// Orchestrator is what the API needs from the engine.
type Orchestrator interface {
	Status() engine.Status
	History(ctx context.Context, n int) ([]artifact.IngestionProgress, error)
	AddRepository(t artifact.RepositoryTarget) error
}

// Server is the status API.
type Server struct {
	orch     Orchestrator
	logger   *slog.Logger
	registry *prometheus.Registry
	router   chi.Router
}

// New builds the router. Metrics are registered on a private registry.
func New(orch Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:     orch,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(newCollector(orch))
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/report", s.handleReport)
		r.Post("/repositories", s.handleAddRepository)
	})
	s.router = r
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "codevet.api")
}

// ListenAndServe serves on addr until ctx is done, then drains for up to
// five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Current})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.orch.History(r.Context(), n)
	if err != nil {
		s.logger.Error("History load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	n, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.orch.History(r.Context(), n)
	if err != nil {
		s.logger.Error("History load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		err = report.WriteJSON(w, runs)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		err = report.WriteCSV(w, runs)
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = report.WriteHTML(w, runs)
	default:
		writeError(w, http.StatusBadRequest, "format must be json, csv or html")
		return
	}
	if err != nil {
		s.logger.Warn("Report write failed", "error", err)
	}
}

// addRequest accepts either the full target or a "repository" shorthand.
type addRequest struct {
	artifact.RepositoryTarget
	Repository string `json:"repository"`
}

func (s *Server) handleAddRepository(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t := req.RepositoryTarget
	if req.Repository != "" {
		owner, name, err := artifact.ParseKey(req.Repository)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		t.Owner, t.Name = owner, name
	}

	if err := s.orch.AddRepository(t); err != nil {
		var qe *artifact.QueueError
		if errors.As(err, &qe) {
			writeError(w, http.StatusBadRequest, qe.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": t.Key()})
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
