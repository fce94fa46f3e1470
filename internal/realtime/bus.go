package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	busRetryMin = 500 * time.Millisecond
	busRetryMax = 30 * time.Second
)

type busMessage struct {
	Origin   int64    `json:"origin"`
	Rooms    []Room   `json:"rooms"`
	Envelope Envelope `json:"envelope"`
}

// RedisBus spreads deliveries across server instances. Every instance
// delivers to its own Hub and publishes to one Pub/Sub channel; peers deliver
// what they receive, so a room's members are reached whichever instance they
// are attached to. nodeID must be unique per instance.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	nodeID  int64
	hub     *Hub
}

func NewRedisBus(client redis.UniversalClient, channel string, nodeID int64, hub *Hub) *RedisBus {
	return &RedisBus{client: client, channel: channel, nodeID: nodeID, hub: hub}
}

// Deliver reaches local members directly, then publishes for the other
// instances. A failed publish only costs the remote members.
func (b *RedisBus) Deliver(ctx context.Context, rooms []Room, env Envelope) {
	b.hub.Deliver(ctx, rooms, env)

	data, err := json.Marshal(busMessage{Origin: b.nodeID, Rooms: rooms, Envelope: env})
	if err != nil {
		slog.ErrorContext(ctx, "encoding bus message", "error", err)
		return
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		busPublishFailures.Inc()
		slog.WarnContext(ctx, "realtime publish failed", "error", err, "channel", b.channel)
	}
}

// Run relays deliveries published by other instances to the local hub until
// ctx is cancelled. A failed or dropped subscription is retried with backoff.
func (b *RedisBus) Run(ctx context.Context) error {
	backoff := busRetryMin
	for {
		subscribed, err := b.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			backoff = busRetryMin
		}

		busSubscribeFailures.Inc()
		slog.WarnContext(ctx, "realtime bus subscription lost, retrying",
			"error", err,
			"channel", b.channel,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, busRetryMax)
	}
}

// subscribe relays one subscription until it ends. subscribed reports
// whether Redis confirmed the subscription before it ended.
func (b *RedisBus) subscribe(ctx context.Context) (subscribed bool, err error) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	slog.InfoContext(ctx, "realtime bus subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, fmt.Errorf("subscription to %s closed", b.channel)
			}
			b.relay(ctx, msg.Payload)
		}
	}
}

func (b *RedisBus) relay(ctx context.Context, payload string) {
	var m busMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		slog.WarnContext(ctx, "dropping malformed bus message", "error", err)
		return
	}
	if m.Origin == b.nodeID {
		return
	}
	b.hub.Deliver(ctx, m.Rooms, m.Envelope)
}
