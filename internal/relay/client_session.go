package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

// writeWait bounds a single WebSocket write, including control frames.
// Kept short relative to pingInterval: a write that can't complete in a
// few seconds means the connection is already dead.
const writeWait = 10 * time.Second

// ClientSession runs one browser client's WebSocket connection: it pushes
// the user's authorized-door UIConfig on connect, re-renders it on every
// Config event the hub broadcasts, forwards only the Challenge events
// addressed to this user, and forwards the client's Fetch/Solve requests onto the
// hub's requests bus with the user field forced from the URL path rather
// than trusted from the message body (spec.md §4.7,
// original_source/src/ws/user.rs).
type ClientSession struct {
	hub          *Hub
	user         string
	conn         *websocket.Conn
	pingInterval time.Duration
}

// NewClientSession builds a session for user over conn. A pingInterval of
// 0 or less uses a fixed 50-second default.
func NewClientSession(hub *Hub, user string, conn *websocket.Conn, pingInterval time.Duration) *ClientSession {
	if pingInterval <= 0 {
		pingInterval = 50 * time.Second
	}
	return &ClientSession{hub: hub, user: user, conn: conn, pingInterval: pingInterval}
}

// Run drives the session until ctx is cancelled or the connection closes.
// It always returns once the connection is no longer usable.
func (s *ClientSession) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.sendUIConfig(); err != nil {
		return err
	}

	sub, unsubscribe := s.hub.Events().Subscribe()
	defer unsubscribe()

	incoming := make(chan protocol.ClientRequest)
	readErrs := make(chan error, 1)
	go s.readLoop(ctx, incoming, readErrs)

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrs:
			return err

		case req := <-incoming:
			s.handleRequest(ctx, req)

		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			ev, ok := msg.(protocol.ServerEvent)
			if !ok {
				continue
			}

			switch ev.Type {
			case protocol.EventTypeConfig:
				// The bus carries the bridge's full, unfiltered Config
				// (every user's authorize list, every door) — never the
				// client-facing shape. Rebuild this user's own UIConfig
				// from the freshly-installed snapshot instead of
				// forwarding ev verbatim (spec.md §3: never leak other
				// users'/doors' data to a client).
				if !s.hub.UserExists(s.user) {
					// This user no longer exists under the new config;
					// close the session rather than leave it open against
					// stale authorization (spec.md §9 scenario S6).
					return nil
				}
				if err := s.sendUIConfig(); err != nil {
					return err
				}
			case protocol.EventTypeChallenge:
				// Only forward challenges addressed to this user; the bus
				// is shared by every connected client.
				if ev.Challenge == nil || ev.Challenge.User != s.user {
					continue
				}
				if err := s.writeJSON(ev); err != nil {
					return err
				}
			default:
				continue
			}

		case <-ticker.C:
			if err := s.ping(); err != nil {
				return err
			}
		}
	}
}

func (s *ClientSession) sendUIConfig() error {
	cfg := s.hub.Config()
	ui := protocol.UIConfig{
		PublicKey: cfg.PublicKey,
		Doors:     s.hub.AuthorizedDoors(s.user),
	}
	return s.writeJSON(protocol.ServerEvent{Type: protocol.EventTypeConfig, Config: &ui})
}

// handleRequest validates and forwards one client request. Unauthorized or
// malformed requests are dropped silently (with a log at warn level) per
// spec.md §7's policy of never giving a client an oracle for which doors
// or users exist.
func (s *ClientSession) handleRequest(ctx context.Context, req protocol.ClientRequest) {
	req = req.WithUser(s.user)

	if !s.hub.IsAuthorized(s.user, req.Door) {
		slog.Warn("relay: dropping request for unauthorized door", "user", s.user, "door", req.Door)
		return
	}

	s.hub.PublishRequest(ctx, req)
}

func (s *ClientSession) readLoop(ctx context.Context, out chan<- protocol.ClientRequest, errs chan<- error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}

		var req protocol.ClientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("relay: dropping malformed client message", "user", s.user, "error", err)
			continue
		}

		select {
		case out <- req:
		case <-ctx.Done():
			return
		}
	}
}

func (s *ClientSession) writeJSON(v interface{}) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *ClientSession) ping() error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
