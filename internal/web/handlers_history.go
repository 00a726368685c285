package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/livpulse/internal/auth"
	"github.com/JonMunkholm/livpulse/internal/core"
)

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type historyResponse struct {
	Uploads    []core.HistoryRecord `json:"uploads"`
	Pagination pagination           `json:"pagination"`
}

// handleHistory lists committed uploads, newest first. Admin and TPM see
// every user's uploads; everyone else sees their own.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	q := core.HistoryQuery{
		Page:  queryInt(r, "page", 1),
		Limit: queryInt(r, "limit", 20),
	}
	if !user.Privileged() {
		q.UserID = user.ID
	}

	page, err := s.service.History(r.Context(), q)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if page.Uploads == nil {
		page.Uploads = []core.HistoryRecord{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Uploads: page.Uploads,
		Pagination: pagination{
			Page:  page.Page,
			Limit: page.Limit,
			Total: page.Total,
			Pages: page.Pages(),
		},
	})
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}
