// Copyright 2025 Microfactory Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the session store over HTTP: listing and
// inspecting sessions, resuming a paused one, and streaming status changes
// over server-sent events. It never constructs kernels or runners itself -
// resuming is delegated to a Resumer the composition root wires up.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/sessionstore"
)

// Resumer continues a suspended session. The composition root implements
// this against a *runner.Runner rebuilt with the session's domain kernels.
type Resumer interface {
	Resume(ctx context.Context, sessionID string) error
}

// Option configures a Server.
type Option func(*Server)

// WithAuth enables bearer-token auth on every route except /health.
func WithAuth(validator *JWTValidator) Option {
	return func(s *Server) { s.auth = validator }
}

// WithNotifier registers a channel fed session-status changes for the
// /sessions/stream SSE endpoint. Typically fed from the composition root's
// session-transition callback (composition.Service.OnTransition).
func WithNotifier(notifier *Notifier) Option {
	return func(s *Server) { s.notifier = notifier }
}

// WithDefaultLimit sets the page size GET /sessions uses when the caller
// omits ?limit. Zero (the default) passes a limit of 0 to the repository,
// which then applies its own default (sessionstore.Store returns at most
// 100 sessions).
func WithDefaultLimit(limit int) Option {
	return func(s *Server) { s.defaultLimit = limit }
}

// Server serves the HTTP session-inspection API.
type Server struct {
	Sessions ports.SessionRepository
	Resumer  Resumer
	Addr     string

	auth         *JWTValidator
	notifier     *Notifier
	defaultLimit int

	httpServer *http.Server
}

// New constructs a Server; call ListenAndServe to start it.
func New(sessions ports.SessionRepository, resumer Resumer, addr string, opts ...Option) *Server {
	s := &Server{Sessions: sessions, Resumer: resumer, Addr: addr}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLoggingMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.middleware)
		}
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/resume", s.handleResumeSession)
		r.Get("/sessions/stream", s.handleStream)
	})

	return r
}

// ListenAndServe starts the HTTP server and blocks until ctx is canceled or
// the server fails, shutting down gracefully on cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Addr,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := s.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	snaps, err := s.Sessions.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(snaps))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.Sessions.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	exp, err := sessionstore.ExportSnapshot(*snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.Resumer == nil {
		writeError(w, http.StatusServiceUnavailable, "resume is not available on this server")
		return
	}
	if _, err := s.Sessions.Load(r.Context(), id); err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := s.Resumer.Resume(ctx, id); err != nil {
			slog.Error("resume failed", "session_id", id, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"session_id": id, "status": "resuming"})
}

// sessionSummary is the listing projection of a snapshot: no payload, since
// that can be megabytes of serialized step history.
type sessionSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Domain    string    `json:"domain"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(snaps []ports.SessionSnapshot) []sessionSummary {
	out := make([]sessionSummary, len(snaps))
	for i, snap := range snaps {
		out[i] = sessionSummary{
			ID:        snap.ID,
			Status:    snap.Status,
			Provider:  snap.Provider,
			Model:     snap.Model,
			Domain:    snap.Domain,
			UpdatedAt: snap.UpdatedAt,
		}
	}
	return out
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
