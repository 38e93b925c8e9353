// Package livefeed delivers owner-scoped live updates: events are
// published to a per-owner Redis channel and fanned out to that owner's
// connected websocket sessions. Delivery is best effort; missed updates
// are not redelivered.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Emitter pushes a live update to every currently-connected session of an
// owner.
type Emitter interface {
	EmitToOwner(ctx context.Context, ownerID, event string, payload any) error
}

// Update is the wire shape of a live update.
type Update struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// ChannelForOwner names the Redis channel carrying an owner's updates.
func ChannelForOwner(ownerID string) string {
	return "owner:" + ownerID + ":events"
}

// ownerFromChannel is the inverse of ChannelForOwner.
func ownerFromChannel(channel string) string {
	return strings.TrimSuffix(strings.TrimPrefix(channel, "owner:"), ":events")
}

// RedisFeed implements Emitter over Redis pub/sub, so updates reach hub
// instances on any node.
type RedisFeed struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisFeed creates a new RedisFeed instance.
func NewRedisFeed(client *redis.Client, logger zerolog.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: logger}
}

// EmitToOwner publishes the update on the owner's channel.
func (f *RedisFeed) EmitToOwner(ctx context.Context, ownerID, event string, payload any) error {
	body, err := json.Marshal(Update{Event: event, Payload: payload, At: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal live update: %w", err)
	}

	if err := f.client.Publish(ctx, ChannelForOwner(ownerID), body).Err(); err != nil {
		return fmt.Errorf("publish live update: %w", err)
	}

	f.logger.Debug().
		Str("owner_id", ownerID).
		Str("event", event).
		Msg("Live update published")
	return nil
}
