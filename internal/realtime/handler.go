package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/JonMunkholm/livpulse/internal/auth"
)

// Handler upgrades authenticated requests to websocket connections on hub.
//
// The token comes from the Authorization header or the token query
// parameter. Origins not in allowedOrigins are refused; an empty list
// allows any origin.
func Handler(hub *Hub, verifier *auth.Verifier, allowedOrigins []string, snapshot SnapshotFunc) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowedOrigins)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		user, err := verifier.Verify(auth.TokenFromRequest(r))
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			slog.Debug("websocket upgrade failed", "user_id", user.ID, "error", err)
			return
		}

		c := &client{
			hub:      hub,
			conn:     conn,
			user:     user,
			send:     make(chan []byte, sendBuffer),
			snapshot: snapshot,
		}
		hub.register(c)
		slog.Info("websocket connected", "user_id", user.ID, "role", user.Role)

		// The request context ends when the handler returns.
		ctx := context.WithoutCancel(r.Context())
		go c.writePump()
		go c.readPump(ctx)
	}
}

func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowed) == 0 {
		return true
	}
	if slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}
