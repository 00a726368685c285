package web

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/JonMunkholm/livpulse/internal/auth"
	"github.com/JonMunkholm/livpulse/internal/core"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status  string                   `json:"status"`
	Checks  map[string]string        `json:"checks"`
	Uploads core.UploadLimiterStatus `json:"uploads"`
}

// handleHealth probes every registered dependency. Any failing check turns
// the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{
		Status:  "ok",
		Checks:  make(map[string]string, len(names)),
		Uploads: s.service.LimiterStatus(),
	}
	status := http.StatusOK

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// snapshot answers websocket requests for the latest progress of an upload
// the caller may see.
func (s *Server) snapshot(ctx context.Context, user auth.User, event, uploadID string) (any, bool) {
	if event != core.ProgressEvent || uploadID == "" {
		return nil, false
	}
	if res, ok := s.service.Result(ctx, uploadID); ok && res.UserID != user.ID && !user.Privileged() {
		return nil, false
	}

	p, ok := s.service.Progress(ctx, uploadID)
	if !ok {
		return nil, false
	}
	return core.ProgressMessage{
		UploadID:  uploadID,
		Progress:  p,
		Timestamp: time.Now().UTC(),
	}, true
}
