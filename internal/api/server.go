// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/config"
	"github.com/linkforge/harvester/internal/engine"
	"github.com/linkforge/harvester/internal/export"
	"github.com/linkforge/harvester/internal/harvest"
	"github.com/linkforge/harvester/internal/metrics"
)

// RunSubmitter hands a combination to the background runner pool.
type RunSubmitter interface {
	Submit(ctx context.Context, req harvest.RunRequest) error
}

// Server wires HTTP handlers to the engine and stores.
type Server struct {
	router    chi.Router
	lifecycle *engine.Lifecycle
	executor  *engine.Executor
	runs      RunSubmitter
	combos    harvest.CombinationStore
	links     harvest.LinkStore
	exporter  *export.Exporter
	clock     harvest.Clock
	ready     engine.Pinger
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil
// when the backing store holds no external connection.
func NewServer(
	lifecycle *engine.Lifecycle,
	executor *engine.Executor,
	runs RunSubmitter,
	combos harvest.CombinationStore,
	links harvest.LinkStore,
	exporter *export.Exporter,
	clock harvest.Clock,
	ready engine.Pinger,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		lifecycle: lifecycle,
		executor:  executor,
		runs:      runs,
		combos:    combos,
		links:     links,
		exporter:  exporter,
		clock:     clock,
		ready:     ready,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(s.apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/combinations", func(r chi.Router) {
			r.Post("/", s.createCombination)
			r.Route("/{combination_id}", func(r chi.Router) {
				r.Post("/execute", s.executePage)
				r.Post("/pause", s.pauseCombination)
				r.Post("/resume", s.resumeCombination)
				r.Post("/reset", s.resetCombination)
				r.Get("/status", s.getStatus)
				r.Get("/links", s.listLinks)
				r.Post("/export", s.exportLinks)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) combinationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "combination_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid combination id")
		return uuid.Nil, false
	}
	return id, true
}

// writeDomainError maps engine sentinels onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, harvest.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "combination not found")
	case errors.Is(err, harvest.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, harvest.ErrAlreadyInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, harvest.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
