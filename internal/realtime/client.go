package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JonMunkholm/livpulse/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// request is a client-initiated frame.
type request struct {
	Type     string `json:"type"`
	UploadID string `json:"uploadId"`
}

// SnapshotFunc returns the latest stored payload for a client request of
// the given type. ok is false when nothing should be sent.
type SnapshotFunc func(ctx context.Context, user auth.User, event, uploadID string) (payload any, ok bool)

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	user     auth.User
	send     chan []byte
	snapshot SnapshotFunc

	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// readPump answers snapshot requests until the connection fails.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "user_id", c.user.ID, "error", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
			continue
		}
		if c.snapshot == nil {
			continue
		}
		payload, ok := c.snapshot(ctx, c.user, req.Type, req.UploadID)
		if !ok {
			continue
		}
		if err := c.hub.Notify(ctx, c.user.ID, req.Type, payload); err != nil {
			slog.Warn("websocket snapshot failed", "user_id", c.user.ID, "type", req.Type, "error", err)
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
