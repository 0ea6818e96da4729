package primitives

import (
	"crypto/hmac"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// XofKeyed is the key-schedule PRF: "cSHAKE(key, custom, name)" squeezed
// for outLen bytes, as spec'd throughout SKDP's key hierarchy and KEX
// (prnd derivation, dtk/stk masking).
//
// The 256-bit profile implements this exactly as NIST SP800-185 KMACXOF256
// via golang.org/x/crypto/sha3's cSHAKE256. NIST SP800-185 only standardizes
// cSHAKE/KMAC at the 128- and 256-bit security levels, so Go's crypto
// library carries no cSHAKE512/KMAC512 equivalent for the 512-bit profile;
// that profile instead uses HKDF-Expand over SHA3-512 (golang.org/x/crypto/
// hkdf, already part of this codebase's key-schedule toolkit), with key as
// the HKDF secret and custom ‖ name as the HKDF info parameter. Both are
// keyed extendable-output functions over the same secret and session
// binding; the substitution is documented here and in DESIGN.md.
func XofKeyed(p profile.Params, key, custom, name []byte, outLen int) []byte {
	if p.HashSize == 64 {
		info := append(append([]byte{}, custom...), name...)
		r := hkdf.New(sha3.New512, key, nil, info)
		out := make([]byte, outLen)
		if _, err := r.Read(out); err != nil {
			panic("primitives: hkdf expand failed: " + err.Error())
		}
		return out
	}
	return KMACXOF256(key, custom, name, outLen)
}

// MAC is the KEX authentication tag: KMAC(key, custom, data) truncated to
// outLen bytes. The 512-bit profile substitutes HMAC-SHA3-512 for the same
// reason XofKeyed does (see above) — both are keyed, collision-resistant
// MACs built on SHA3.
func MAC(p profile.Params, key, custom, data []byte, outLen int) []byte {
	if p.HashSize == 64 {
		h := hmac.New(sha3.New512, key)
		h.Write(custom)
		h.Write(data)
		sum := h.Sum(nil)
		if outLen >= len(sum) {
			return sum
		}
		return sum[:outLen]
	}
	return KMAC256(key, custom, data, outLen)
}
