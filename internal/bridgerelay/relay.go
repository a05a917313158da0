// Package bridgerelay implements the bridge's half of the server<->bridge
// WebSocket hop: dialing the server, pushing the shared Config on connect,
// and servicing Fetch/Solve requests by driving internal/protocol's
// challenge engine and, on a successful Solve, internal/bledispatch's BLE
// session. Grounded on original_source/bridge/src/ws.rs.
package bridgerelay

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kpcyrd/d3xs/internal/bledispatch"
	"github.com/kpcyrd/d3xs/internal/bridgeconfig"
	"github.com/kpcyrd/d3xs/internal/metrics"
	"github.com/kpcyrd/d3xs/internal/protocol"
)

// wsOpenTimeout bounds a BLE door-open triggered by a server-relayed
// Solve, per spec.md §4.5 (original_source calls this WS_BLE_TIMEOUT).
const wsOpenTimeout = 5 * time.Second

// RandReader is the randomness capability the challenge engine needs;
// satisfied by crypto/rand.Reader in production.
type RandReader interface {
	Read(p []byte) (int, error)
}

// Bridge holds one running bridge process's state: its local config, the
// user<->bridge challenge ring (one UserDoorMap, since many users share
// one bridge process), and its BLE session driver.
type Bridge struct {
	cfg     *bridgeconfig.Config
	secret  *[protocol.KeySize]byte
	rnd     RandReader
	ring    *protocol.UserDoorMap
	ble     *bledispatch.Session
	metrics *metrics.Metrics
}

// New builds a Bridge from a loaded bridgeconfig.Config.
func New(cfg *bridgeconfig.Config, rnd RandReader, central bledispatch.Central, m *metrics.Metrics) (*Bridge, error) {
	secret, err := cfg.SecretKey()
	if err != nil {
		return nil, err
	}
	return &Bridge{
		cfg:     cfg,
		secret:  secret,
		rnd:     rnd,
		ring:    protocol.NewUserDoorMap(),
		ble:     bledispatch.NewSession(central, m),
		metrics: m,
	}, nil
}

// Run dials url as given (the full bridge endpoint, /bridge/{uuid}
// included), pushes the shared config, and then services Fetch/Solve
// requests until ctx is cancelled or the connection drops.
func (b *Bridge) Run(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Closing the connection on cancellation unblocks ReadJSON below.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	shared, err := b.cfg.ToSharedConfig()
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(protocol.ServerEvent{Type: protocol.EventTypeConfig, Bridge: shared}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var req protocol.ClientRequest
		if err := conn.ReadJSON(&req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch req.Type {
		case protocol.RequestTypeFetch:
			b.handleFetch(ctx, conn, req)
		case protocol.RequestTypeSolve:
			b.handleSolve(ctx, conn, req)
		default:
			slog.Warn("bridgerelay: dropping request with unknown type", "type", req.Type)
		}
	}
}

func (b *Bridge) userBoxFor(user string) (*protocol.Box, bool) {
	u, ok := b.cfg.Users[user]
	if !ok {
		return nil, false
	}
	pub, err := protocol.DecodeKey(u.PublicKey)
	if err != nil {
		slog.Warn("bridgerelay: user has invalid public key", "user", user, "error", err)
		return nil, false
	}
	return protocol.NewBox(b.secret, pub), true
}

// handleFetch issues a fresh user<->bridge challenge, dropping the request
// silently (per spec.md §7's no-oracle policy) if the user is unknown or
// unauthorized for the door.
func (b *Bridge) handleFetch(ctx context.Context, conn *websocket.Conn, req protocol.ClientRequest) {
	if req.User == nil {
		return
	}
	user := *req.User

	if !b.isAuthorized(user, req.Door) {
		slog.Warn("bridgerelay: dropping fetch for unauthorized user/door", "user", user, "door", req.Door)
		return
	}

	box, ok := b.userBoxFor(user)
	if !ok {
		return
	}

	chall, err := b.ring.GenerateNext(b.rnd, box, user, req.Door)
	if err != nil {
		slog.Warn("bridgerelay: failed to generate challenge", "user", user, "door", req.Door, "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.RecordChallengeIssued("user")
	}

	msg := protocol.ServerEvent{
		Type: protocol.EventTypeChallenge,
		Challenge: &protocol.ChallengeMessage{
			User:      user,
			Challenge: base64.StdEncoding.EncodeToString(chall.Encrypted),
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		slog.Warn("bridgerelay: failed to send challenge", "user", user, "error", err)
	}
}

// handleSolve verifies a user's response, resets the ring before touching
// any hardware (spec.md §9: reset-before-actuation), and — only on a
// verified solve — attempts the bridge<->door BLE open. A BLE failure is
// logged but never rolled back into re-arming the user<->bridge ring,
// matching original_source/bridge/src/ws.rs's Solve handler.
func (b *Bridge) handleSolve(ctx context.Context, conn *websocket.Conn, req protocol.ClientRequest) {
	if req.User == nil {
		return
	}
	user := *req.User

	code, err := base64.StdEncoding.DecodeString(req.Code)
	if err != nil {
		slog.Warn("bridgerelay: dropping solve with undecodable code", "user", user, "error", err)
		return
	}

	door, err := b.ring.Verify(user, req.Door, code)
	if err != nil {
		if b.metrics != nil {
			b.metrics.RecordSolveAttempt("user", "rejected")
		}
		return
	}
	if b.metrics != nil {
		b.metrics.RecordSolveAttempt("user", "accepted")
	}

	if box, ok := b.userBoxFor(user); ok {
		if err := b.ring.Reset(b.rnd, box, user, req.Door); err != nil {
			slog.Warn("bridgerelay: failed to reset ring after solve", "user", user, "door", door, "error", err)
		}
	}

	// BLE actuation runs detached from the WebSocket read loop (spec.md
	// §5): it can take up to wsOpenTimeout, and must never stall Fetch/
	// Solve traffic for every other user sharing this bridge connection.
	go b.actuateDoor(ctx, door)
}

func (b *Bridge) actuateDoor(ctx context.Context, doorID string) {
	d, ok := b.cfg.Doors[doorID]
	if !ok || d.MAC == "" || d.PublicKey == "" {
		slog.Info("bridgerelay: door has no BLE hop configured, skipping actuation", "door", doorID)
		return
	}

	doorPub, err := protocol.DecodeKey(d.PublicKey)
	if err != nil {
		slog.Warn("bridgerelay: door has invalid public key", "door", doorID, "error", err)
		return
	}
	box := protocol.NewBox(b.secret, doorPub)

	if err := b.ble.Open(ctx, box, d.MAC, wsOpenTimeout); err != nil {
		slog.Warn("bridgerelay: BLE open failed", "door", doorID, "mac", d.MAC, "error", err)
	}
}

func (b *Bridge) isAuthorized(user, door string) bool {
	u, ok := b.cfg.Users[user]
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
