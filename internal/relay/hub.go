package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

// Hub owns the two buses spec.md §4.3 describes (events fan server/bridge
// -> clients, requests fan clients -> bridge) plus the single shared
// Config snapshot every session reads. Exactly one Hub exists per server
// process; it holds no per-connection state itself, so it needs no
// teardown beyond letting its buses' subscribers drain out naturally as
// sessions end.
type Hub struct {
	events     *Bus
	requests   *Bus
	config     atomic.Pointer[protocol.Config]
	bridgeUUID string

	redisEvents   *RedisBus
	redisRequests *RedisBus
}

// NewHub creates a Hub. bridgeUUID is the single opaque path-capability
// token that authenticates the bridge's WebSocket connection (spec.md §6:
// "GET /bridge/{uuid}"); busCapacity overrides the default per-subscriber
// channel depth (0 keeps the default).
func NewHub(bridgeUUID string, busCapacity int) *Hub {
	h := &Hub{
		events:     NewBus(busCapacity),
		requests:   NewBus(busCapacity),
		bridgeUUID: bridgeUUID,
	}
	h.config.Store(&protocol.Config{
		Users: map[string]protocol.User{},
		Doors: map[string]protocol.Door{},
	})
	return h
}

// Events returns the bus carrying ServerEvent messages (config pushes,
// challenges) downstream to clients and the bridge.
func (h *Hub) Events() *Bus { return h.events }

// Requests returns the bus carrying ClientRequest messages (fetch, solve)
// upstream from clients to the bridge.
func (h *Hub) Requests() *Bus { return h.requests }

// Config returns the current shared configuration snapshot. The returned
// pointer must be treated as immutable by the caller — updates always
// replace the pointer via SetConfig, never mutate the pointee, so a
// session can safely hold a reference across a request without locking
// (spec.md §9: "config as an immutable snapshot").
func (h *Hub) Config() *protocol.Config {
	return h.config.Load()
}

// SetConfig installs a new configuration snapshot, as pushed by the bridge
// on connect and on every subsequent bridge-side config change.
func (h *Hub) SetConfig(cfg *protocol.Config) {
	h.config.Store(cfg)
}

// BridgeUUID returns the capability token that must match the {uuid} path
// segment for a bridge connection to be accepted.
func (h *Hub) BridgeUUID() string {
	return h.bridgeUUID
}

// AuthorizedDoors returns the doors user may open, filtered to only the
// ones present in the current Config (an authorize entry naming a door
// that no longer exists grants nothing) and rendered as the client-facing
// UIDoor shape.
func (h *Hub) AuthorizedDoors(user string) []protocol.UIDoor {
	cfg := h.Config()
	u, ok := cfg.Users[user]
	if !ok {
		return nil
	}

	doors := make([]protocol.UIDoor, 0, len(u.Authorize))
	for _, id := range u.Authorize {
		d, ok := cfg.Doors[id]
		if !ok {
			continue
		}
		doors = append(doors, protocol.UIDoor{ID: id, Label: d.Label})
	}
	return doors
}

// UserExists reports whether user appears in the current Config. Used to
// 404 a client connection for an unknown user before ever upgrading it to
// a WebSocket, matching original_source/src/ws/user.rs's websocket() gate.
func (h *Hub) UserExists(user string) bool {
	_, ok := h.Config().Users[user]
	return ok
}

// IsAuthorized reports whether user may act on door under the current
// Config snapshot.
func (h *Hub) IsAuthorized(user, door string) bool {
	u, ok := h.Config().Users[user]
	if !ok {
		return false
	}
	for _, id := range u.Authorize {
		if id == door {
			return true
		}
	}
	return false
}

// EnableRedis layers Redis Pub/Sub fan-out on top of both buses, so that
// PublishEvent/PublishRequest calls on this Hub reach every server process
// subscribed to the same Redis instance, not just this process's local
// subscribers. Intended for running the server horizontally behind a load
// balancer; a single process never needs this.
func (h *Hub) EnableRedis(ctx context.Context, client *redis.Client, keyPrefix string) {
	h.redisEvents = NewRedisBus(ctx, client, keyPrefix+":events", h.events, decodeServerEvent)
	h.redisRequests = NewRedisBus(ctx, client, keyPrefix+":requests", h.requests, decodeClientRequest)
}

// CloseRedis stops the Redis relay loops, if EnableRedis was called. Safe
// to call on a Hub that never enabled Redis.
func (h *Hub) CloseRedis() {
	if h.redisEvents != nil {
		h.redisEvents.Close()
	}
	if h.redisRequests != nil {
		h.redisRequests.Close()
	}
}

// PublishEvent fans a ServerEvent out to this process's subscribers and,
// when EnableRedis was called, to every other server process as well.
func (h *Hub) PublishEvent(ctx context.Context, ev protocol.ServerEvent) {
	if h.redisEvents != nil {
		h.redisEvents.Publish(ctx, ev)
		return
	}
	h.events.Publish(ev)
}

// PublishRequest fans a ClientRequest out to this process's subscribers
// and, when EnableRedis was called, to every other server process as well.
func (h *Hub) PublishRequest(ctx context.Context, req protocol.ClientRequest) {
	if h.redisRequests != nil {
		h.redisRequests.Publish(ctx, req)
		return
	}
	h.requests.Publish(req)
}

func decodeServerEvent(data []byte) (Message, error) {
	var ev protocol.ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeClientRequest(data []byte) (Message, error) {
	var req protocol.ClientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return req, nil
}
