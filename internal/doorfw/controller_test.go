package doorfw

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

func testController(t *testing.T) (*Controller, *protocol.Box) {
	t.Helper()
	doorPub, doorSec, err := protocol.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	bridgePub, bridgeSec, err := protocol.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	doorBox := protocol.NewBox(doorSec, bridgePub)
	bridgeBox := protocol.NewBox(bridgeSec, doorPub)

	c, err := NewController(rand.Reader, doorBox, LoggingActuator{})
	require.NoError(t, err)
	return c, bridgeBox
}

func TestOnWriteCharacteristicAcceptsValidSolve(t *testing.T) {
	c, bridgeBox := testController(t)

	encrypted, err := c.OnReadCharacteristic()
	require.NoError(t, err)

	plaintext, err := bridgeBox.Decrypt(encrypted)
	require.NoError(t, err)

	c.OnWriteCharacteristic(plaintext)
	assert.Equal(t, ActionSuccess, c.LatestAction())
}

func TestOnWriteCharacteristicRejectsWrongSolve(t *testing.T) {
	c, _ := testController(t)

	c.OnWriteCharacteristic([]byte("definitely not the right answer ...."))
	assert.Equal(t, ActionFail, c.LatestAction())
}

func TestLatestActionNeverDowngradesFromSuccess(t *testing.T) {
	c, bridgeBox := testController(t)

	encrypted, err := c.OnReadCharacteristic()
	require.NoError(t, err)
	plaintext, err := bridgeBox.Decrypt(encrypted)
	require.NoError(t, err)

	c.OnWriteCharacteristic(plaintext)
	require.Equal(t, ActionSuccess, c.LatestAction())

	// A late/stale Fail observation must not overwrite a recorded Success.
	c.setLatestAction(ActionFail)
	assert.Equal(t, ActionSuccess, c.LatestAction())
}

func TestOnWriteCharacteristicDiscardsWriteWhileSuccessLatched(t *testing.T) {
	c, bridgeBox := testController(t)

	encrypted, err := c.OnReadCharacteristic()
	require.NoError(t, err)
	plaintext, err := bridgeBox.Decrypt(encrypted)
	require.NoError(t, err)

	c.OnWriteCharacteristic(plaintext)
	require.Equal(t, ActionSuccess, c.LatestAction())

	// No generator tick ran (drainLatestAction was never called), so the
	// latch is still closed: a second write, even a wrong one, must not
	// flip the reported action away from Success.
	c.OnWriteCharacteristic([]byte("wrong answer, arrived before the latch drained"))
	assert.Equal(t, ActionSuccess, c.LatestAction())
}

func TestRegenerateDrainsLatchedSuccess(t *testing.T) {
	c, bridgeBox := testController(t)

	encrypted, err := c.OnReadCharacteristic()
	require.NoError(t, err)
	plaintext, err := bridgeBox.Decrypt(encrypted)
	require.NoError(t, err)

	c.OnWriteCharacteristic(plaintext)
	require.Equal(t, ActionSuccess, c.LatestAction())

	c.regenerate()
	assert.Equal(t, ActionNone, c.LatestAction(), "generator tick should drain a latched terminal action")
}

func TestSolveCannotBeReplayedAfterSuccess(t *testing.T) {
	c, bridgeBox := testController(t)

	encrypted, err := c.OnReadCharacteristic()
	require.NoError(t, err)
	plaintext, err := bridgeBox.Decrypt(encrypted)
	require.NoError(t, err)

	c.OnWriteCharacteristic(plaintext)
	require.Equal(t, ActionSuccess, c.LatestAction())

	// Reset the ratchet to observe the second attempt cleanly.
	c.ResetLatestAction()
	c.OnWriteCharacteristic(plaintext)
	assert.Equal(t, ActionFail, c.LatestAction(), "replaying a consumed solve must fail")
}
