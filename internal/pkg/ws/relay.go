package ws

import (
	"context"
	"errors"

	"github.com/qs3c/vpn_access_server/internal/pkg/pubsub"
)

// EventSource delivers subscriber events until ctx ends.
type EventSource interface {
	Subscribe(ctx context.Context, handler func(*pubsub.SubscriberEvent)) error
}

// Relay forwards every event from src to the matching consoles. Observers see
// each event before it is broadcast. It returns nil when ctx is cancelled.
func (h *Hub) Relay(ctx context.Context, src EventSource, observers ...func(*pubsub.SubscriberEvent)) error {
	err := src.Subscribe(ctx, func(event *pubsub.SubscriberEvent) {
		for _, observe := range observers {
			observe(event)
		}
		if err := h.Broadcast(event.ExternalKey, &Message{Type: event.Type, Data: event}); err != nil {
			h.log.Warn().Err(err).Str("external_key", event.ExternalKey).Msg("relay event failed")
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
