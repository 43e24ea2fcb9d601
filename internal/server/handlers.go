package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/queue"
)

type syncRequest struct {
	AccountID string `json:"account_id"`
	Folder    string `json:"folder"`
	Mode      string `json:"mode"`
}

// handleSync enqueues a folder sync job. Responds 202 with the job id, or
// 409 when the folder's cursor is already running.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if req.Folder == "" {
		req.Folder = "INBOX"
	}
	mode := queue.SyncModeIncremental
	if req.Mode == string(queue.SyncModeFull) {
		mode = queue.SyncModeFull
	}

	// Fail fast on an already-running folder so the caller gets a 409
	// instead of a job that will no-op.
	cursor, err := s.storage.GetSyncCursor(r.Context(), req.AccountID, req.Folder)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		writeServiceError(w, err)
		return
	}
	if cursor != nil && cursor.Status == model.SyncStatusRunning {
		writeServiceError(w, common.ErrSyncAlreadyRunning)
		return
	}

	jobID, err := s.jobs.Enqueue(r.Context(), model.JobTypeSync, queue.SyncPayload{
		UserID:    userID(r),
		AccountID: req.AccountID,
		Folder:    req.Folder,
		Mode:      mode,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"job_id":  jobID,
	})
}

// handleJobStatus returns one job record when jobId is given, otherwise a
// queue-wide snapshot by state.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		stats, err := s.jobs.Stats(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"stats":   stats,
		})
		return
	}

	job, err := s.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job": map[string]any{
			"id":          job.ID,
			"type":        job.Type,
			"state":       job.State,
			"retry_count": job.RetryCount,
			"last_error":  job.LastError,
			"created_at":  job.CreatedAt,
		},
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["id"]
	if err := s.reconcile.Approve(r.Context(), userID(r), matchID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["id"]

	var req rejectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.reconcile.Reject(r.Context(), userID(r), matchID, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["id"]
	if err := s.reconcile.Unmatch(r.Context(), userID(r), matchID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type skipRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	var req skipRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.reconcile.Skip(r.Context(), userID(r), itemID, req.Notes); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleItemSuggestions computes a read-only candidate preview for one
// source item, including transactions already matched elsewhere.
func (s *Server) handleItemSuggestions(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	item, err := s.storage.GetSourceItem(r.Context(), itemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if item.UserID != userID(r) {
		writeServiceError(w, common.ErrNotOwner)
		return
	}

	matches, err := s.matcher.FindSuggestions(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, common.ErrNoExtraction) {
			writeError(w, http.StatusConflict, "source item has no extraction yet")
			return
		}
		writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		out = append(out, map[string]any{
			"transaction_id":   m.TransactionID,
			"confidence_score": m.ConfidenceScore,
			"reasons":          m.Reasons,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"suggestions": out,
	})
}

// handleSuggestions lists the caller's pending suggested matches.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	matches, err := s.reconcile.Suggestions(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		out = append(out, map[string]any{
			"id":               m.ID,
			"source_item_id":   m.SourceItemID,
			"transaction_id":   m.TransactionID,
			"confidence_score": m.ConfidenceScore,
			"reasons":          m.Reasons,
			"created_at":       m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"suggestions": out,
	})
}
