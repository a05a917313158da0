package protocol

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBoxPair(t *testing.T) (*Box, *Box) {
	t.Helper()
	aPub, aSec, err := GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	bPub, bSec, err := GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	return NewBox(aSec, bPub), NewBox(bSec, aPub)
}

// decryptChallenge simulates the solver's side: decrypt the Encrypted
// payload with the reciprocal Box to recover the plaintext response.
func decryptChallenge(t *testing.T, solverBox *Box, c *Challenge) []byte {
	t.Helper()
	plaintext, err := solverBox.Decrypt(c.Encrypted)
	require.NoError(t, err)
	return plaintext
}

func TestRingBufferVerifyIdempotent(t *testing.T) {
	issuerBox, solverBox := testBoxPair(t)

	rb, err := NewRingBuffer(rand.Reader, issuerBox)
	require.NoError(t, err)

	cur, err := rb.Current()
	require.NoError(t, err)
	response := decryptChallenge(t, solverBox, cur)

	require.NoError(t, rb.Verify(response))
	// Verify alone does not consume the challenge (I3): replaying the same
	// response still matches until Reset is called.
	require.NoError(t, rb.Verify(response))

	require.NoError(t, rb.Reset(rand.Reader, issuerBox))
	err = rb.Verify(response)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindInvalidChallengeResponse, pe.Kind)
}

func TestRingBufferWindowSaturation(t *testing.T) {
	issuerBox, solverBox := testBoxPair(t)

	rb, err := NewRingBuffer(rand.Reader, issuerBox)
	require.NoError(t, err)

	first, err := rb.Current()
	require.NoError(t, err)
	firstResponse := decryptChallenge(t, solverBox, first)

	// Advance exactly RingSize-1 more times (including the initial Current,
	// that's RingSize total slots filled) so the first challenge is still
	// live at the boundary.
	for i := 0; i < RingSize-1; i++ {
		_, err := rb.GenerateNext(rand.Reader, issuerBox)
		require.NoError(t, err)
	}
	require.NoError(t, rb.Verify(firstResponse), "challenge still inside the window should verify")

	// One more eviction pushes the first challenge out of the ring.
	_, err = rb.GenerateNext(rand.Reader, issuerBox)
	require.NoError(t, err)
	err = rb.Verify(firstResponse)
	require.Error(t, err, "challenge evicted past RingSize should no longer verify")
}

func TestUserDoorMapScopesIndependently(t *testing.T) {
	issuerBox, solverBox := testBoxPair(t)
	m := NewUserDoorMap()

	chAlice, err := m.GenerateNext(rand.Reader, issuerBox, "alice", "home")
	require.NoError(t, err)
	aliceResponse := decryptChallenge(t, solverBox, chAlice)

	// bob has never fetched for "home": verifying against bob's lane fails
	// even with a value that would pass for alice.
	_, err = m.Verify("bob", "home", aliceResponse)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindAuthError, pe.Kind)

	door, err := m.Verify("alice", "home", aliceResponse)
	require.NoError(t, err)
	assert.Equal(t, "home", door)
}

func TestChallengeCommitmentHidesPlaintext(t *testing.T) {
	issuerBox, _ := testBoxPair(t)

	c, err := generateChallenge(rand.Reader, issuerBox)
	require.NoError(t, err)

	// The wrong guess must not verify.
	assert.False(t, c.Verify([]byte("wrong guess, 32 bytes padded out!")))
}
