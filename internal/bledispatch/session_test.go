package bledispatch

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

func doorBoxPair(t *testing.T) (bridgeBox, doorBox *protocol.Box) {
	t.Helper()
	bridgePub, bridgeSec, err := protocol.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	doorPub, doorSec, err := protocol.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	return protocol.NewBox(bridgeSec, doorPub), protocol.NewBox(doorSec, bridgePub)
}

func TestSessionOpenSucceedsOnFirstAttempt(t *testing.T) {
	bridgeBox, doorBox := doorBoxPair(t)

	plaintext := []byte("0123456789abcdef0123456789abcdef")
	sealed, err := doorBox.Encrypt(rand.Reader, plaintext)
	require.NoError(t, err)

	peripheral := NewFakePeripheral("aa:bb:cc:dd:ee:ff", sealed)
	central := NewFakeCentral(peripheral)
	session := NewSession(central, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = session.Open(ctx, bridgeBox, "aa:bb:cc:dd:ee:ff", 0)
	require.NoError(t, err)
	require.Len(t, peripheral.Written, 1)
	assert.Equal(t, plaintext, peripheral.Written[0])
}

func TestSessionOpenFailsForUnknownMAC(t *testing.T) {
	bridgeBox, _ := doorBoxPair(t)

	peripheral := NewFakePeripheral("aa:bb:cc:dd:ee:ff", []byte("irrelevant"))
	central := NewFakeCentral(peripheral)
	session := NewSession(central, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := session.Open(ctx, bridgeBox, "11:22:33:44:55:66", 0)
	require.Error(t, err)
}

func TestSessionOpenRetriesOnReadFailure(t *testing.T) {
	bridgeBox, doorBox := doorBoxPair(t)

	plaintext := []byte("0123456789abcdef0123456789abcdef")
	sealed, err := doorBox.Encrypt(rand.Reader, plaintext)
	require.NoError(t, err)

	peripheral := NewFakePeripheral("aa:bb:cc:dd:ee:ff", sealed)
	peripheral.FailRead = true

	central := NewFakeCentral(peripheral)
	session := NewSession(central, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = session.Open(ctx, bridgeBox, "aa:bb:cc:dd:ee:ff", 0)
	require.Error(t, err, "a peripheral that always fails to read should exhaust all attempts and fail")
}
