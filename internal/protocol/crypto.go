package protocol

import (
	"encoding/base64"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	// NonceSize is the XSalsa20 nonce length nacl/box uses.
	NonceSize = 24
	// TagSize is the Poly1305 authentication tag length nacl/box appends.
	TagSize = 16
	// KeySize is the length of both X25519 public and secret keys.
	KeySize = 32
	// Overhead is the number of bytes Encrypt adds to a plaintext: a
	// leading nonce plus a trailing tag.
	Overhead = NonceSize + TagSize
)

// Box is a precomputed X25519 shared-secret context, the Go equivalent of
// libsodium's crypto_box "precompute" step. Building one is the expensive
// scalarmult; sealing/opening against it is cheap, so callers should build
// one Box per (local secret, peer public) pair and reuse it across many
// challenges rather than rederive the shared key per message.
type Box struct {
	shared [KeySize]byte
}

// NewBox precomputes the shared key between a local secret key and a peer's
// public key.
func NewBox(secret, peerPublic *[KeySize]byte) *Box {
	b := &Box{}
	box.Precompute(&b.shared, peerPublic, secret)
	return b
}

// Encrypt seals plaintext into nonce||ciphertext||tag, reading the nonce
// from rnd. The returned slice is always len(plaintext)+Overhead bytes.
func (b *Box) Encrypt(rnd io.Reader, plaintext []byte) ([]byte, error) {
	dest := make([]byte, len(plaintext)+Overhead)
	if err := b.EncryptInto(rnd, dest, plaintext); err != nil {
		return nil, err
	}
	return dest, nil
}

// EncryptInto is Encrypt with a caller-supplied destination buffer. dest
// must be exactly len(plaintext)+Overhead bytes; any other size is a
// BufferLimit error rather than a short write, matching the fixed-size
// wire buffers the challenge engine uses.
func (b *Box) EncryptInto(rnd io.Reader, dest, plaintext []byte) error {
	if len(dest) != len(plaintext)+Overhead {
		return errBufferLimit("destination buffer must be len(plaintext)+Overhead")
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rnd, nonce[:]); err != nil {
		return errCrypto("failed to read nonce")
	}
	copy(dest[:NonceSize], nonce[:])

	sealed := box.SealAfterPrecomputation(dest[:NonceSize], plaintext, &nonce, &b.shared)
	if len(sealed) != len(dest) {
		// Should be unreachable given the length check above; surfaced as
		// a crypto error rather than silently truncating or panicking.
		return errCrypto("unexpected sealed length")
	}
	return nil
}

// Decrypt opens a nonce||ciphertext||tag buffer produced by Encrypt.
func (b *Box) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, errBufferLimit("ciphertext shorter than Overhead")
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	opened, ok := box.OpenAfterPrecomputation(nil, sealed[NonceSize:], &nonce, &b.shared)
	if !ok {
		return nil, errCrypto("authentication failed")
	}
	return opened, nil
}

// GenerateKeypair produces a fresh X25519 keypair, reading randomness from
// rnd (typically crypto/rand.Reader in production, a deterministic source
// in tests).
func GenerateKeypair(rnd io.Reader) (public, secret *[KeySize]byte, err error) {
	pub, sec, err := box.GenerateKey(rnd)
	if err != nil {
		return nil, nil, errCrypto("keypair generation failed")
	}
	return pub, sec, nil
}

// PublicKeyFor derives the public key matching a secret key.
func PublicKeyFor(secret *[KeySize]byte) (*[KeySize]byte, error) {
	var pub [KeySize]byte
	out, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, errCrypto("scalar multiplication failed")
	}
	copy(pub[:], out)
	return &pub, nil
}

// DecodeKey parses a standard-base64-encoded 32-byte key, as carried in
// YAML config and over the wire (spec.md §6).
func DecodeKey(s string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errDecodeEncoding(err)
	}
	if len(raw) != KeySize {
		return nil, errInvalidKeyLength(len(raw))
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// EncodeKey renders a key as the same base64 form DecodeKey parses.
func EncodeKey(key *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}
