package relay_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kpcyrd/d3xs/internal/clientsim"
	"github.com/kpcyrd/d3xs/internal/protocol"
	"github.com/kpcyrd/d3xs/internal/relay"
)

// TestClientFetchRoundTripsThroughHub exercises the full client<->server
// path (spec.md scenario S1: a client fetches a challenge and solves it)
// without a real bridge process: a goroutine stands in for the bridge by
// reading the requests bus and answering on the events bus directly,
// exactly as internal/bridgerelay would over its own WebSocket hop.
func TestClientFetchRoundTripsThroughHub(t *testing.T) {
	serverPub, serverSec, err := protocol.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	_, userSec, err := protocol.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	userPub, err := protocol.PublicKeyFor(userSec)
	require.NoError(t, err)

	hub := relay.NewHub("bridge-uuid", 16)
	hub.SetConfig(&protocol.Config{
		PublicKey: protocol.EncodeKey(serverPub),
		Users: map[string]protocol.User{
			"alice": {Authorize: []string{"home"}},
		},
		Doors: map[string]protocol.Door{
			"home": {Label: "Home"},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge stand-in: answers every Fetch request for alice/home with a
	// real challenge encrypted under the user's actual public key.
	ring := protocol.NewUserDoorMap()
	serverSideUserBox := protocol.NewBox(serverSec, userPub)
	go func() {
		sub, unsubscribe := hub.Requests().Subscribe()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub:
				req, ok := msg.(protocol.ClientRequest)
				if !ok || req.Type != protocol.RequestTypeFetch || req.User == nil {
					continue
				}
				chall, err := ring.GenerateNext(rand.Reader, serverSideUserBox, *req.User, req.Door)
				if err != nil {
					continue
				}
				hub.Events().Publish(protocol.ServerEvent{
					Type: protocol.EventTypeChallenge,
					Challenge: &protocol.ChallengeMessage{
						User:      *req.User,
						Challenge: base64.StdEncoding.EncodeToString(chall.Encrypted),
					},
				})
			}
		}
	}()

	router := relay.NewRouter(hub, 50*time.Second)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	client, err := clientsim.Connect(context.Background(), clientsim.Config{
		ServerURL: wsURL,
		User:      "alice",
		SecretKey: userSec,
	})
	require.NoError(t, err)
	defer client.Close()

	doors := client.AuthorizedDoors()
	require.Len(t, doors, 1)
	require.Equal(t, "home", doors[0].ID)

	response, err := client.Fetch("home")
	require.NoError(t, err)
	require.Len(t, response, protocol.ChallengeSize)

	require.NoError(t, client.Solve("home", response))
}
