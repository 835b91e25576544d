// Package api exposes the read-only status endpoints: envelope lookup,
// per-container listings and the audit trail behind one envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ScanDrop/internal/model"
	"github.com/dharsanguruparan/ScanDrop/internal/repository"
)

// EnvelopeReader is the repository slice the API reads envelopes through.
type EnvelopeReader interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Envelope, error)
	ListByContainer(ctx context.Context, container string) ([]*model.Envelope, error)
}

// EventReader lists the audit trail behind one archive.
type EventReader interface {
	ListByZip(ctx context.Context, container, zipFileName string) ([]*model.ProcessEvent, error)
}

// Server exposes the HTTP status surface.
type Server struct {
	addr      string
	envelopes EnvelopeReader
	events    EventReader
	server    *http.Server
	once      sync.Once
	log       zerolog.Logger
}

// New constructs a Server.
func New(addr string, envelopes EnvelopeReader, events EventReader, log zerolog.Logger) *Server {
	return &Server{
		addr:      addr,
		envelopes: envelopes,
		events:    events,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// Handler builds the route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/envelopes/", s.handleEnvelopeRoute)
	mux.HandleFunc("/containers/", s.handleContainerRoute)
	return s.loggingMiddleware(mux)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.addr,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.addr).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnvelopeRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/envelopes/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid envelope id", http.StatusBadRequest)
		return
	}
	switch {
	case len(parts) == 1:
		s.handleEnvelope(w, r, id)
	case len(parts) == 2 && parts[1] == "events":
		s.handleEnvelopeEvents(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	env, err := s.envelopes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "envelope not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("envelope_id", id.String()).Msg("load envelope")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, model.NewEnvelopeView(env))
}

func (s *Server) handleEnvelopeEvents(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	env, err := s.envelopes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "envelope not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("envelope_id", id.String()).Msg("load envelope")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	events, err := s.events.ListByZip(r.Context(), env.Container, env.ZipFileName)
	if err != nil {
		s.log.Error().Err(err).Str("envelope_id", id.String()).Msg("list events")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	views := make([]*model.ProcessEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, model.NewProcessEventView(ev))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleContainerRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/containers/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "envelopes" {
		http.NotFound(w, r)
		return
	}
	envs, err := s.envelopes.ListByContainer(r.Context(), parts[0])
	if err != nil {
		s.log.Error().Err(err).Str("container", parts[0]).Msg("list envelopes")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	views := make([]*model.EnvelopeView, 0, len(envs))
	for _, env := range envs {
		views = append(views, model.NewEnvelopeView(env))
	}
	respondJSON(w, http.StatusOK, views)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
