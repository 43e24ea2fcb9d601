// Package server exposes the HTTP surface: sync triggers, job status,
// reconciliation decisions and suggestion listings. Authentication is handled
// by a fronting layer; the authenticated user arrives as the X-User-ID
// header and every handler enforces ownership of the rows it touches.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/match"
	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/reconcile"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

type contextKey string

const userIDKey contextKey = "userID"

// Server wires the HTTP handlers to the application services.
type Server struct {
	storage   service.Storage
	jobs      *queue.Queue
	matcher   *match.Engine
	reconcile *reconcile.Service
}

// New creates a server over the given services.
func New(storage service.Storage, jobs *queue.Queue, matcher *match.Engine, rec *reconcile.Service) *Server {
	return &Server{
		storage:   storage,
		jobs:      jobs,
		matcher:   matcher,
		reconcile: rec,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireUser)

	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/jobs/status", s.handleJobStatus).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/reject", s.handleReject).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/unmatch", s.handleUnmatch).Methods(http.MethodPost)
	api.HandleFunc("/source-items/{id}/skip", s.handleSkip).Methods(http.MethodPost)
	api.HandleFunc("/source-items/{id}/suggestions", s.handleItemSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/suggestions", s.handleSuggestions).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// requireUser rejects requests without the authenticated-user header set by
// the fronting auth layer.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not the owner of this resource")
	case errors.Is(err, common.ErrSyncAlreadyRunning):
		writeError(w, http.StatusConflict, "a sync is already running for this folder")
	case common.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		var userErr *common.UserError
		if errors.As(err, &userErr) {
			writeError(w, http.StatusBadRequest, userErr.Error())
			return
		}
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
