package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/livpulse/internal/auth"
	"github.com/JonMunkholm/livpulse/internal/core"
)

type commitResponse struct {
	Message         string `json:"message"`
	InsertedRecords int    `json:"insertedRecords"`
	core.CommitSummary
}

type rollbackResponse struct {
	Message string `json:"message"`
	core.RollbackResult
}

// handleCommit writes the validated rows of an upload to its destination
// table. Only the uploader or an Admin/TPM may commit.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")
	if !s.allowStaged(w, r, uploadID) {
		return
	}
	user, _ := auth.UserFromContext(r.Context())

	summary, err := s.service.CommitData(r.Context(), uploadID, user.ID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, commitResponse{
		Message:         "CSV data committed successfully",
		InsertedRecords: summary.CommittedRows,
		CommitSummary:   summary,
	})
}

// handleRollback removes every row an upload committed and re-opens it for
// commit when it is still staged.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	res, err := s.service.RollbackUpload(r.Context(), uploadID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, rollbackResponse{
		Message:        "Upload rolled back",
		RollbackResult: res,
	})
}
