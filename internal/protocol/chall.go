package protocol

import (
	"crypto/subtle"
	"io"
	"sync"

	"golang.org/x/crypto/sha3"
)

const (
	// RingSize is the number of outstanding challenges a RingBuffer keeps
	// alive at once (spec.md §3/§8, invariant I2).
	RingSize = 4
	// ChallengeSize is the length, in bytes, of the random plaintext a
	// Challenge commits to.
	ChallengeSize = 32
	// EncryptedChallengeSize is the wire size of a Challenge's encrypted
	// form: ChallengeSize plus the crypto envelope's Overhead.
	EncryptedChallengeSize = ChallengeSize + Overhead
)

// Challenge is a single outstanding proof-of-possession round. Commitment
// holds SHA3-256(plaintext), never the plaintext itself — the plaintext
// only ever exists encrypted (Encrypted, sealed to the solver's box) or
// inside the solver's own memory after it decrypts and returns it. Storing
// only the commitment means a compromised ring buffer snapshot reveals
// nothing usable without breaking the hash or the crypto envelope.
type Challenge struct {
	Commitment [32]byte
	Encrypted  []byte
}

// generateChallenge draws a fresh random plaintext, seals it for the
// solver, and commits to it.
func generateChallenge(rnd io.Reader, b *Box) (*Challenge, error) {
	plaintext := make([]byte, ChallengeSize)
	if _, err := io.ReadFull(rnd, plaintext); err != nil {
		return nil, errCrypto("failed to read challenge plaintext")
	}

	encrypted, err := b.Encrypt(rnd, plaintext)
	if err != nil {
		return nil, err
	}

	return &Challenge{
		Commitment: sha3.Sum256(plaintext),
		Encrypted:  encrypted,
	}, nil
}

// Verify reports whether response is the plaintext this Challenge
// committed to. Comparison is constant-time: the commitment guards a
// physical door, not just an API call.
func (c *Challenge) Verify(response []byte) bool {
	sum := sha3.Sum256(response)
	return subtle.ConstantTimeCompare(sum[:], c.Commitment[:]) == 1
}

// RingBuffer holds the last RingSize challenges issued on one channel
// (spec.md §3, invariant I2: bounded capacity, oldest silently evicted).
// Safe for concurrent use.
type RingBuffer struct {
	mu         sync.Mutex
	challenges [RingSize]*Challenge
	cursor     int
}

// NewRingBuffer creates a RingBuffer with one challenge already issued at
// cursor 0, so Current never observes an empty ring immediately after
// construction.
func NewRingBuffer(rnd io.Reader, b *Box) (*RingBuffer, error) {
	rb := &RingBuffer{cursor: -1}
	if _, err := rb.GenerateNext(rnd, b); err != nil {
		return nil, err
	}
	return rb, nil
}

// newEmptyRingBuffer returns a RingBuffer with no challenge issued yet.
// Only UserDoorMap's lazy-create path should use this: it always follows
// construction with its own GenerateNext call, so a pre-issued challenge
// from NewRingBuffer would be generated and immediately discarded.
func newEmptyRingBuffer() *RingBuffer {
	return &RingBuffer{cursor: -1}
}

// Current returns the most recently issued challenge. It returns AuthError
// if none has been issued yet (the Rust original panics here; panicking on
// ordinary caller error is not idiomatic Go, so this is returned instead).
func (rb *RingBuffer) Current() (*Challenge, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.cursor < 0 {
		return nil, errAuth("no challenge has been issued yet")
	}
	c := rb.challenges[rb.cursor]
	if c == nil {
		return nil, errAuth("no challenge has been issued yet")
	}
	return c, nil
}

// GenerateNext advances the ring by one slot, generates a fresh challenge
// there (evicting whatever challenge previously occupied that slot), and
// returns it. This is the Fetch-path operation.
func (rb *RingBuffer) GenerateNext(rnd io.Reader, b *Box) (*Challenge, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	c, err := generateChallenge(rnd, b)
	if err != nil {
		return nil, err
	}
	rb.cursor = (rb.cursor + 1) % RingSize
	rb.challenges[rb.cursor] = c
	return c, nil
}

// Verify checks response against every still-outstanding challenge in the
// ring (not just the current one — a client may be replying to a slightly
// stale Fetch, invariant I3) and succeeds on the first match. It does not
// mutate the ring; callers that want reset-on-success semantics (the Solve
// path, spec.md §4.3) must call Reset themselves after a successful Verify.
func (rb *RingBuffer) Verify(response []byte) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, c := range rb.challenges {
		if c != nil && c.Verify(response) {
			return nil
		}
	}
	return errInvalidChallengeResponse()
}

// Reset discards every outstanding challenge and issues a fresh one,
// re-arming the ring to its post-construction state. Called after a
// successful Verify so a captured-and-replayed response can never
// authenticate twice (invariant I4).
func (rb *RingBuffer) Reset(rnd io.Reader, b *Box) error {
	rb.mu.Lock()
	rb.challenges = [RingSize]*Challenge{}
	rb.cursor = -1
	rb.mu.Unlock()

	_, err := rb.GenerateNext(rnd, b)
	return err
}

// doorUserKey identifies one (user, door) challenge lane.
type doorUserKey struct {
	user, door string
}

// UserDoorMap multiplexes independent RingBuffers over (user, door) pairs,
// lazily creating one on first use (spec.md §3). Used on the bridge side,
// where a single process fields challenges for many users across many
// doors; the door side instead owns a single bare RingBuffer (spec.md
// §4.6), since a door only ever proves itself to whichever bridge is
// currently talking to it.
type UserDoorMap struct {
	mu   sync.Mutex
	ring map[doorUserKey]*RingBuffer
}

// NewUserDoorMap returns an empty map.
func NewUserDoorMap() *UserDoorMap {
	return &UserDoorMap{ring: make(map[doorUserKey]*RingBuffer)}
}

// GenerateNext returns the next challenge for (user, door), creating the
// ring lane on first use.
func (m *UserDoorMap) GenerateNext(rnd io.Reader, b *Box, user, door string) (*Challenge, error) {
	m.mu.Lock()
	key := doorUserKey{user, door}
	rb, ok := m.ring[key]
	if !ok {
		// Start empty rather than NewRingBuffer: the GenerateNext call
		// below is about to issue this pair's first challenge, and
		// NewRingBuffer would have already issued (and immediately
		// orphaned) one of its own.
		rb = newEmptyRingBuffer()
		m.ring[key] = rb
	}
	m.mu.Unlock()

	return rb.GenerateNext(rnd, b)
}

// Verify checks response against the (user, door) lane and returns the
// door id on success. Returns AuthError if the lane has never been
// created (nothing was ever fetched for that pair) or if no outstanding
// challenge matches.
func (m *UserDoorMap) Verify(user, door string, response []byte) (string, error) {
	m.mu.Lock()
	rb, ok := m.ring[doorUserKey{user, door}]
	m.mu.Unlock()
	if !ok {
		return "", errAuth("no outstanding challenge for user/door pair")
	}

	if err := rb.Verify(response); err != nil {
		return "", errAuth("no outstanding challenge for user/door pair matches")
	}
	return door, nil
}

// Reset re-arms the (user, door) lane with a brand new ring, discarding
// any outstanding challenges.
func (m *UserDoorMap) Reset(rnd io.Reader, b *Box, user, door string) error {
	rb, err := NewRingBuffer(rnd, b)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ring[doorUserKey{user, door}] = rb
	m.mu.Unlock()
	return nil
}
