// Package clientsim is a reference implementation of the browser client's
// solver logic (spec.md §4.7): connect, learn the bridge's public key and
// this user's authorized doors, fetch a challenge, decrypt it, and solve
// it. It exists so the relay/bridge/door stack can be exercised
// end-to-end in tests without a browser, and as a model for a future
// WASM/DOM port — which is itself out of scope per spec.md's Non-goals.
// Grounded on pkg/sdk.Client's Config+constructor+verb-method shape,
// generalized from HTTP+governance verbs to WebSocket+decrypt verbs.
package clientsim

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

// Config configures one simulated client connection.
type Config struct {
	// ServerURL is the ws:// or wss:// base URL, e.g. "ws://localhost:8080".
	ServerURL string
	// User is this client's user id (the URL path segment).
	User string
	// SecretKey is this user's own X25519 secret key. It never leaves the
	// client — the server and bridge only ever see ciphertext sealed to
	// or opened from it.
	SecretKey *[protocol.KeySize]byte
	// DialTimeout bounds the initial connection and config handshake.
	DialTimeout time.Duration
}

// Client is one simulated user session.
type Client struct {
	cfg       Config
	conn      *websocket.Conn
	serverBox *protocol.Box
	doors     []protocol.UIDoor
}

// Connect dials the server, reads the initial Config push, and derives
// the user<->bridge crypto context from the bridge public key that push
// carries.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s", cfg.ServerURL, cfg.User)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("clientsim: dial failed: %w", err)
	}

	c := &Client{cfg: cfg, conn: conn}

	// The initial config read shares the dial deadline.
	if deadline, ok := dialCtx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var ev protocol.ServerEvent
	if err := conn.ReadJSON(&ev); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientsim: failed to read initial config: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if ev.Type != protocol.EventTypeConfig || ev.Config == nil {
		conn.Close()
		return nil, fmt.Errorf("clientsim: expected initial config event, got %q", ev.Type)
	}

	serverPub, err := protocol.DecodeKey(ev.Config.PublicKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.serverBox = protocol.NewBox(cfg.SecretKey, serverPub)
	c.doors = ev.Config.Doors

	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// AuthorizedDoors returns the doors this user was told it may open.
func (c *Client) AuthorizedDoors() []protocol.UIDoor {
	return c.doors
}

// Fetch requests a fresh challenge for door and returns its decrypted
// plaintext response, ready to be handed to Solve.
func (c *Client) Fetch(door string) ([]byte, error) {
	req := protocol.ClientRequest{Type: protocol.RequestTypeFetch, Door: door}
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("clientsim: fetch request failed: %w", err)
	}

	for {
		var ev protocol.ServerEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			return nil, fmt.Errorf("clientsim: failed reading challenge: %w", err)
		}
		if ev.Type != protocol.EventTypeChallenge || ev.Challenge == nil {
			continue
		}
		if ev.Challenge.User != c.cfg.User {
			continue
		}

		sealed, err := base64.StdEncoding.DecodeString(ev.Challenge.Challenge)
		if err != nil {
			return nil, fmt.Errorf("clientsim: challenge payload not base64: %w", err)
		}
		return c.serverBox.Decrypt(sealed)
	}
}

// Solve submits response (as returned by Fetch) for door.
func (c *Client) Solve(door string, response []byte) error {
	req := protocol.ClientRequest{
		Type: protocol.RequestTypeSolve,
		Door: door,
		Code: base64.StdEncoding.EncodeToString(response),
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("clientsim: solve request failed: %w", err)
	}
	return nil
}
