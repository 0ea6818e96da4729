package primitives

import "github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"

// AEAD is the cipher-context contract C6 and the KEX establish/verify
// steps are built on: init once with a key and nonce bound to one
// direction, set associated data per message, then seal or open exactly
// one message per AAD. Implementations are not safe for concurrent use;
// callers serialize access with the owning session's mutex.
type AEAD interface {
	// SetAAD binds the next Seal/Open call to aad (the serialized packet
	// header). It must be called before every Seal or Open.
	SetAAD(aad []byte)
	// Seal appends the authenticated ciphertext (and tag) for plaintext to
	// dst and returns the extended slice.
	Seal(dst, plaintext []byte) []byte
	// Open authenticates and decrypts ciphertext, appending the plaintext
	// to dst. It returns an error on any tag mismatch.
	Open(dst, ciphertext []byte) ([]byte, error)
	// TagSize reports the authentication tag overhead in bytes.
	TagSize() int
}

// NewAEAD constructs the AEAD implementation selected by the profile's
// suite, keyed and nonced from the KEX key schedule's output.
func NewAEAD(p profile.Params, key, nonce []byte) (AEAD, error) {
	switch p.Suite {
	case profile.SuiteAES256GCM:
		return newGCM(key, nonce)
	case profile.SuiteRCS256, profile.SuiteRCS512:
		return newRCS(p, key, nonce)
	default:
		return nil, errUnknownSuite
	}
}
