package primitives

import "crypto/subtle"

// ConstantTimeCompare reports whether a and b are equal without branching
// on the position of the first differing byte. Unequal lengths compare
// unequal in constant time relative to the shorter input's probing, which
// is all Go's crypto/subtle guarantees and all SKDP's MAC/hash comparisons
// require.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zeroize overwrites buf with zero bytes in place. Long-lived secrets
// (MDK/SDK/DDK, DTK/STK/STOK, session hashes, cipher keys) call this on
// drop instead of relying on garbage collection.
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
