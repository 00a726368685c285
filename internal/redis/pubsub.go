package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/livpulse/internal/core"
)

// DefaultChannel carries progress events between instances.
const DefaultChannel = "csv:progress"

// Envelope is one event addressed to a user, as sent over the channel.
type Envelope struct {
	UserID  int64           `json:"userId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcaster publishes user events to every instance subscribed to the
// channel, including the publishing one.
type Broadcaster struct {
	client  *Client
	channel string
}

var _ core.Notifier = (*Broadcaster)(nil)

func NewBroadcaster(client *Client, channel string) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broadcaster{client: client, channel: channel}
}

// Notify publishes the event. Delivery to sockets happens in Listen handlers.
func (b *Broadcaster) Notify(ctx context.Context, userID int64, event string, payload any) error {
	raw := b.client.Raw()
	if raw == nil {
		return errNotInitialized
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{UserID: userID, Event: event, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := raw.Publish(ctx, b.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// Listen subscribes to the channel and calls handler for every envelope
// until ctx is done. Undecodable messages are logged and skipped.
func (b *Broadcaster) Listen(ctx context.Context, handler func(Envelope)) error {
	raw := b.client.Raw()
	if raw == nil {
		return errNotInitialized
	}

	pubsub := raw.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so publishes are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	slog.Info("progress subscriber started", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("progress message decode failed", "channel", b.channel, "error", err)
				continue
			}
			handler(env)
		}
	}
}
