package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the server's HTTP surface (spec.md §6): the per-user
// WebSocket endpoint, the single bridge capability endpoint, and a
// Prometheus /metrics endpoint. Asset serving (the HTML shell, JS, WASM)
// is an explicit Non-goal and is not wired here; a caller that wants to
// serve assets alongside this API mounts its own handler on the router's
// NotFoundHandler or a sibling mux.
func NewRouter(hub *Hub, pingInterval time.Duration) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/metrics", promhttp.Handler().ServeHTTP).Methods(http.MethodGet)

	r.HandleFunc("/bridge/{uuid}", bridgeHandler(hub, pingInterval)).Methods(http.MethodGet)
	r.HandleFunc("/{user}", clientHandler(hub, pingInterval)).Methods(http.MethodGet)

	return r
}

func bridgeHandler(hub *Hub, pingInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uuid := mux.Vars(r)["uuid"]
		if uuid != hub.BridgeUUID() {
			http.NotFound(w, r)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("relay: bridge websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		session := NewBridgeSession(hub, conn, pingInterval)
		if err := session.Run(r.Context()); err != nil {
			slog.Info("relay: bridge session ended", "error", err)
		}
	}
}

func clientHandler(hub *Hub, pingInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := mux.Vars(r)["user"]
		if !hub.UserExists(user) {
			http.NotFound(w, r)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("relay: client websocket upgrade failed", "user", user, "error", err)
			return
		}
		defer conn.Close()

		session := NewClientSession(hub, user, conn, pingInterval)
		if err := session.Run(r.Context()); err != nil {
			slog.Info("relay: client session ended", "user", user, "error", err)
		}
	}
}
