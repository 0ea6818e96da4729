// Package primitives binds SKDP's cryptographic core (C1) to concrete Go
// libraries: SHA3/cSHAKE/KMAC from golang.org/x/crypto/sha3, HKDF from
// golang.org/x/crypto/hkdf for the 512-bit profile's keyed-XOF (see
// DESIGN.md for why), and two AEAD implementations selected by profile.
package primitives

import (
	"hash"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"golang.org/x/crypto/sha3"
)

// Hash computes SHA3-256 or SHA3-512 depending on the profile's hash size,
// used for the session-hash bindings (dsh, ssh) and verify-token proofs.
func Hash(p profile.Params, data ...[]byte) []byte {
	var h hash.Hash
	if p.HashSize == 64 {
		h = sha3.New512()
	} else {
		h = sha3.New256()
	}
	for _, part := range data {
		h.Write(part)
	}
	return h.Sum(nil)
}
