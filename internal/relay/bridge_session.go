package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

// BridgeSession runs the server's side of the single bridge connection at
// GET /bridge/{uuid}. Unlike a client, the bridge is the party that pushes
// Config (it owns the users/doors/secret-key truth, spec.md §4.3); the
// server's job here is purely relay: forward every Fetch/Solve from the
// requests bus downstream to the bridge, and install whatever Config the
// bridge sends upstream as the new shared snapshot
// (original_source/src/ws/bridge.rs).
type BridgeSession struct {
	hub          *Hub
	conn         *websocket.Conn
	pingInterval time.Duration
}

// NewBridgeSession builds a session for the (already uuid-authenticated)
// bridge connection.
func NewBridgeSession(hub *Hub, conn *websocket.Conn, pingInterval time.Duration) *BridgeSession {
	if pingInterval <= 0 {
		pingInterval = 50 * time.Second
	}
	return &BridgeSession{hub: hub, conn: conn, pingInterval: pingInterval}
}

// Run drives the session until ctx is cancelled or the connection closes.
func (s *BridgeSession) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, unsubscribe := s.hub.Requests().Subscribe()
	defer unsubscribe()

	incoming := make(chan protocol.ServerEvent)
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

		case ev := <-incoming:
			s.handleBridgeEvent(ctx, ev)

		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			req, ok := msg.(protocol.ClientRequest)
			if !ok {
				continue
			}
			if err := s.writeJSON(req); err != nil {
				return err
			}

		case <-ticker.C:
			if err := s.ping(); err != nil {
				return err
			}
		}
	}
}

// handleBridgeEvent installs a Config push and republishes a Challenge
// onto the events bus so the addressed client's ClientSession forwards it.
func (s *BridgeSession) handleBridgeEvent(ctx context.Context, ev protocol.ServerEvent) {
	switch ev.Type {
	case protocol.EventTypeConfig:
		if ev.Bridge == nil {
			slog.Warn("relay: bridge sent config event with no payload")
			return
		}
		s.hub.SetConfig(ev.Bridge)
		// Every already-connected ClientSession must re-render against the
		// new snapshot (spec.md §4.3: store under lock + broadcast), and a
		// user the new config drops entirely must have its session closed
		// (spec.md §9 scenario S6) — both happen in ClientSession's own
		// EventTypeConfig branch once it observes this broadcast.
		s.hub.PublishEvent(ctx, ev)
	case protocol.EventTypeChallenge:
		if ev.Challenge == nil {
			slog.Warn("relay: bridge sent challenge event with no payload")
			return
		}
		s.hub.PublishEvent(ctx, ev)
	default:
		slog.Warn("relay: dropping unknown bridge event type", "type", ev.Type)
	}
}

func (s *BridgeSession) readLoop(ctx context.Context, out chan<- protocol.ServerEvent, errs chan<- error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}

		var ev protocol.ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("relay: dropping malformed bridge message", "error", err)
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *BridgeSession) writeJSON(v interface{}) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *BridgeSession) ping() error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
