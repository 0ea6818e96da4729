package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

var errUnknownSuite = errors.New("primitives: unknown cipher suite")

// gcmAEAD wraps crypto/cipher's AES-GCM. The base nonce is fixed for the
// session direction (derived during key exchange), but GCM cannot reuse a
// (key, nonce) pair across messages without catastrophic loss of
// authentication, so each Seal/Open call XORs a monotonically incrementing
// per-context counter into the low 8 bytes of the base nonce. One context
// is used by exactly one direction of one session, and the record layer
// (C6) calls Seal/Open exactly once per accepted sequence number, so the
// counter never repeats for the life of the session.
type gcmAEAD struct {
	gcm     cipher.AEAD
	base    []byte
	aad     []byte
	counter uint64
}

func newGCM(key, nonce []byte) (AEAD, error) {
	if len(key) != 32 {
		return nil, errors.New("primitives: AES-256-GCM requires a 32-byte key")
	}
	if len(nonce) < 8 {
		return nil, errors.New("primitives: AES-256-GCM nonce too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, err
	}
	return &gcmAEAD{gcm: gcm, base: append([]byte{}, nonce...)}, nil
}

func (g *gcmAEAD) SetAAD(aad []byte) { g.aad = aad }

func (g *gcmAEAD) nextNonce() []byte {
	n := append([]byte{}, g.base...)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], g.counter)
	g.counter++
	off := len(n) - 8
	for i := 0; i < 8; i++ {
		n[off+i] ^= ctr[i]
	}
	return n
}

func (g *gcmAEAD) Seal(dst, plaintext []byte) []byte {
	return g.gcm.Seal(dst, g.nextNonce(), plaintext, g.aad)
}

func (g *gcmAEAD) Open(dst, ciphertext []byte) ([]byte, error) {
	return g.gcm.Open(dst, g.nextNonce(), ciphertext, g.aad)
}

func (g *gcmAEAD) TagSize() int { return g.gcm.Overhead() }
