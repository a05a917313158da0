package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus layers cross-process fan-out on top of a local Bus using Redis
// Pub/Sub, for deployments running more than one server process behind a
// load balancer. It is entirely optional: the core design (spec.md
// "Persisted state: None") runs correctly with a single process and a
// plain Bus; RedisBus only widens the fan-out, it never stores anything
// durably — a publish failure degrades to local-only delivery rather than
// blocking or erroring the caller.
type RedisBus struct {
	local   *Bus
	client  *redis.Client
	channel string
	cancel  context.CancelFunc
}

// NewRedisBus wraps local with a Redis Pub/Sub channel. Messages published
// locally are also published to Redis; messages arriving on Redis from
// other processes are decoded with decode and fanned into local exactly
// as if Publish had been called on this process.
func NewRedisBus(ctx context.Context, client *redis.Client, channel string, local *Bus, decode func([]byte) (Message, error)) *RedisBus {
	ctx, cancel := context.WithCancel(ctx)
	rb := &RedisBus{local: local, client: client, channel: channel, cancel: cancel}

	sub := client.Subscribe(ctx, channel)
	go rb.relayLoop(ctx, sub, decode)

	return rb
}

func (rb *RedisBus) relayLoop(ctx context.Context, sub *redis.PubSub, decode func([]byte) (Message, error)) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg, err := decode([]byte(m.Payload))
			if err != nil {
				slog.Warn("relay: failed to decode redis message", "channel", rb.channel, "error", err)
				continue
			}
			rb.local.Publish(msg)
		}
	}
}

// Publish fans msg out locally and, best-effort, to every other process
// subscribed to the same Redis channel.
func (rb *RedisBus) Publish(ctx context.Context, msg Message) {
	rb.local.Publish(msg)

	encoded, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("relay: failed to encode message for redis fan-out", "error", err)
		return
	}
	if err := rb.client.Publish(ctx, rb.channel, encoded).Err(); err != nil {
		slog.Warn("relay: redis publish failed, delivering locally only", "channel", rb.channel, "error", err)
	}
}

// Close stops the background relay loop. It does not close the
// underlying local Bus or Redis client.
func (rb *RedisBus) Close() {
	rb.cancel()
}
