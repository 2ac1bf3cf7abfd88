// Package transport exposes the review/session/merge core over HTTP
// using gorilla/mux, per the on-disk-free JSON surface spec.md §6
// defines.
package transport

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/dvcs"
)

// Server wires HTTP handlers to the core domain services.
type Server struct {
	trunk    *dvcs.Client
	reviews  *review.Service
	sessions *session.Service
	logger   *slog.Logger
}

// NewServer constructs a Server bound to the given domain services.
func NewServer(trunk *dvcs.Client, reviews *review.Service, sessions *session.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{trunk: trunk, reviews: reviews, sessions: sessions, logger: logger}
}

// Router builds the gorilla/mux router exposing the full HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/feedback", s.handleFeedback).Methods(http.MethodGet)
	r.HandleFunc("/changes", s.handleListChanges).Methods(http.MethodGet)
	r.HandleFunc("/changes/{id}/diff", s.handleChangeDiff).Methods(http.MethodGet)
	r.HandleFunc("/changes/{id}/review", s.handleGetOrCreateReview).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/changes/{id}/comments", s.handleAddComment).Methods(http.MethodPost)
	r.HandleFunc("/changes/{id}/threads/{tid}/reply", s.handleReplyThread).Methods(http.MethodPost)
	r.HandleFunc("/changes/{id}/threads/{tid}/resolve", s.handleResolveThread).Methods(http.MethodPost)
	r.HandleFunc("/changes/{id}/threads/{tid}/reopen", s.handleReopenThread).Methods(http.MethodPost)
	r.HandleFunc("/changes/{id}/merge", s.handleMergeChange).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{name}/changes", s.handleSessionChanges).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{name}/merge", s.handleMergeSession).Methods(http.MethodPost)

	return r
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON and writeErrorJSON live in responses.go alongside the rest
// of the response-shaping helpers.
