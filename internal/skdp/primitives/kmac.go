package primitives

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// cShakeRate256 is the cSHAKE256 rate in bytes (1088 bits), used to bytepad
// the KMAC key per NIST SP800-185.
const cShakeRate256 = 136

// leftEncode implements SP800-185's left_encode: the minimal big-endian
// byte encoding of x prefixed by its own length in one byte.
func leftEncode(x uint64) []byte {
	if x == 0 {
		return []byte{1, 0}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], x)
	n := 0
	for n < 8 && buf[n] == 0 {
		n++
	}
	out := make([]byte, 0, 9)
	out = append(out, byte(8-n))
	out = append(out, buf[n:]...)
	return out
}

// rightEncode implements SP800-185's right_encode.
func rightEncode(x uint64) []byte {
	if x == 0 {
		return []byte{0, 1}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], x)
	n := 0
	for n < 8 && buf[n] == 0 {
		n++
	}
	out := make([]byte, 0, 9)
	out = append(out, buf[n:]...)
	out = append(out, byte(8-n))
	return out
}

// encodeString implements SP800-185's encode_string: left_encode of the bit
// length of s, followed by s itself.
func encodeString(s []byte) []byte {
	out := leftEncode(uint64(len(s)) * 8)
	return append(out, s...)
}

// bytepad implements SP800-185's bytepad: prefixes x with left_encode(w)
// and zero-pads the result out to a multiple of w bytes.
func bytepad(x []byte, w int) []byte {
	prefix := leftEncode(uint64(w))
	out := append(prefix, x...)
	if rem := len(out) % w; rem != 0 {
		out = append(out, make([]byte, w-rem)...)
	}
	return out
}

// kmac256Core feeds key||data through cSHAKE256("KMAC", custom) and returns
// the live XOF so callers can squeeze either a fixed KMAC tag (right_encode
// of the output length appended before squeezing) or an unbounded KMACXOF
// stream (right_encode(0) appended instead).
func kmac256Core(key, custom, data []byte) sha3.ShakeHash {
	x := sha3.NewCShake256([]byte("KMAC"), custom)
	x.Write(bytepad(encodeString(key), cShakeRate256))
	x.Write(data)
	return x
}

// KMAC256 computes the fixed-length KMAC256 tag of data under key,
// domain-separated by custom, per NIST SP800-185.
func KMAC256(key, custom, data []byte, outLen int) []byte {
	x := kmac256Core(key, custom, data)
	x.Write(rightEncode(uint64(outLen) * 8))
	out := make([]byte, outLen)
	x.Read(out)
	return out
}

// KMACXOF256 computes the extendable-output KMAC256 stream of data under
// key, domain-separated by custom. This is the "keyed cSHAKE" the SKDP key
// schedule uses to derive pseudo-random pads (prnd) of arbitrary length
// from a secret plus a session hash.
func KMACXOF256(key, custom, data []byte, outLen int) []byte {
	x := kmac256Core(key, custom, data)
	x.Write(rightEncode(0))
	out := make([]byte, outLen)
	x.Read(out)
	return out
}
