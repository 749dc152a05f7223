// Package redisrelay implements an optional bus.Relay that forwards
// progress events to a Redis pub/sub channel per session, for horizontally
// scaled C10 transport replicas. The in-process bus.Bus stays the source of
// truth within a replica; this relay is an additional subscriber only.
package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/estatecopilot/runtime/runtime/bus"
)

// Relay publishes bus.Event values as JSON to a per-session Redis channel
// named by Prefix+session_id, so a transport replica that did not receive
// the originating WebSocket connection can still forward the event to its
// own local clients.
type Relay struct {
	client *redis.Client
	prefix string
}

// New constructs a Relay over an existing Redis client. prefix defaults to
// "estatecopilot:progress:" when empty.
func New(client *redis.Client, prefix string) *Relay {
	if prefix == "" {
		prefix = "estatecopilot:progress:"
	}
	return &Relay{client: client, prefix: prefix}
}

// Publish implements bus.Relay.
func (r *Relay) Publish(ctx context.Context, event bus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redisrelay: marshal event: %w", err)
	}
	channel := r.prefix + event.SessionID
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe listens on the per-session channel and decodes each message
// into a bus.Event, invoking handle for each one until ctx is canceled.
// Used by a transport replica that did not originate the run to still relay
// progress events to its locally connected client.
func (r *Relay) Subscribe(ctx context.Context, sessionID string, handle func(bus.Event)) error {
	channel := r.prefix + sessionID
	sub := r.client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event bus.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			handle(event)
		}
	}
}

var _ bus.Relay = (*Relay)(nil)
