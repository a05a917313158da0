package relay_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kpcyrd/d3xs/internal/protocol"
	"github.com/kpcyrd/d3xs/internal/relay"
)

func dialUser(t *testing.T, baseURL, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dialBridge(t *testing.T, baseURL, uuid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/bridge/" + uuid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestFetchForUnauthorizedDoorIsSilentlyDropped covers the S2 scenario:
// a client asks for a door it isn't authorized for, and the relay must
// neither answer with a challenge nor surface any error that would let the
// client learn whether the door exists (spec.md §7's no-oracle policy).
func TestFetchForUnauthorizedDoorIsSilentlyDropped(t *testing.T) {
	hub := relay.NewHub("bridge-uuid", 16)
	hub.SetConfig(&protocol.Config{
		PublicKey: "irrelevant-for-this-test",
		Users: map[string]protocol.User{
			"alice": {Authorize: []string{"home"}},
		},
		Doors: map[string]protocol.Door{
			"home":   {Label: "Home"},
			"vault":  {Label: "Vault"},
			"garage": {Label: "Garage"},
		},
	})

	srv := httptest.NewServer(relay.NewRouter(hub, 50*time.Second))
	defer srv.Close()

	dialBridge(t, srv.URL, hub.BridgeUUID())
	bridgeSub, unsubscribe := hub.Requests().Subscribe()
	defer unsubscribe()

	alice := dialUser(t, srv.URL, "alice")
	var initial protocol.ServerEvent
	require.NoError(t, alice.ReadJSON(&initial))
	require.Equal(t, protocol.EventTypeConfig, initial.Type)

	require.NoError(t, alice.WriteJSON(protocol.ClientRequest{
		Type: protocol.RequestTypeFetch,
		Door: "vault", // alice is only authorized for "home"
	}))

	select {
	case msg := <-bridgeSub:
		t.Fatalf("fetch for an unauthorized door reached the bridge: %#v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestBridgeConfigBroadcastUpdatesAuthorizedDoorsAndClosesLostUser covers
// scenarios S5 ("client sessions re-render" on a live config push) and S6
// ("a user's session closes on the next Event::Config" once that user no
// longer exists under the new config) from spec.md §9.
func TestBridgeConfigBroadcastUpdatesAuthorizedDoorsAndClosesLostUser(t *testing.T) {
	hub := relay.NewHub("bridge-uuid", 16)
	hub.SetConfig(&protocol.Config{
		PublicKey: "server-pubkey-v1",
		Users: map[string]protocol.User{
			"alice": {Authorize: []string{"home"}},
			"bob":   {Authorize: []string{"garage"}},
		},
		Doors: map[string]protocol.Door{
			"home":   {Label: "Home"},
			"garage": {Label: "Garage"},
		},
	})

	srv := httptest.NewServer(relay.NewRouter(hub, 50*time.Second))
	defer srv.Close()

	alice := dialUser(t, srv.URL, "alice")
	var aliceInitial protocol.ServerEvent
	require.NoError(t, alice.ReadJSON(&aliceInitial))
	require.Len(t, aliceInitial.Config.Doors, 1)
	require.Equal(t, "home", aliceInitial.Config.Doors[0].ID)

	bob := dialUser(t, srv.URL, "bob")
	var bobInitial protocol.ServerEvent
	require.NoError(t, bob.ReadJSON(&bobInitial))
	require.Len(t, bobInitial.Config.Doors, 1)
	require.Equal(t, "garage", bobInitial.Config.Doors[0].ID)

	// The bridge pushes a new config: alice is gone entirely, bob gains a
	// second door.
	bridge := dialBridge(t, srv.URL, hub.BridgeUUID())
	require.NoError(t, bridge.WriteJSON(protocol.ServerEvent{
		Type: protocol.EventTypeConfig,
		Bridge: &protocol.Config{
			PublicKey: "server-pubkey-v2",
			Users: map[string]protocol.User{
				"bob": {Authorize: []string{"garage", "home"}},
			},
			Doors: map[string]protocol.Door{
				"home":   {Label: "Home"},
				"garage": {Label: "Garage"},
			},
		},
	}))

	// alice no longer exists under the new config: her session must close.
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev protocol.ServerEvent
	err := alice.ReadJSON(&ev)
	require.Error(t, err, "alice's session should have closed once she was dropped from config")

	// bob is still present, with an expanded door list: his session must
	// re-render a fresh UIConfig reflecting it.
	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	var bobUpdate protocol.ServerEvent
	require.NoError(t, bob.ReadJSON(&bobUpdate))
	require.Equal(t, protocol.EventTypeConfig, bobUpdate.Type)
	require.Len(t, bobUpdate.Config.Doors, 2)
}
