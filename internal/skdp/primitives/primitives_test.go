package primitives_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/primitives"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

func TestXofKeyedDeterministic(t *testing.T) {
	for _, p := range []profile.Params{profile.AES256GCM(), profile.RCS256(), profile.RCS512()} {
		key := make([]byte, p.DDKSize)
		for i := range key {
			key[i] = byte(i)
		}
		name := []byte("session-hash")
		a := primitives.XofKeyed(p, key, p.ConfigString[:], name, 64)
		b := primitives.XofKeyed(p, key, p.ConfigString[:], name, 64)
		assert.Equal(t, a, b, "XofKeyed must be deterministic for suite %s", p.Suite)

		other := primitives.XofKeyed(p, key, p.ConfigString[:], []byte("different"), 64)
		assert.NotEqual(t, a, other)
	}
}

func TestMACDetectsTamper(t *testing.T) {
	for _, p := range []profile.Params{profile.AES256GCM(), profile.RCS512()} {
		key := make([]byte, p.MacKeySize)
		data := []byte("exchange request body")
		tag := primitives.MAC(p, key, []byte("custom"), data, p.MacKeySize)

		tampered := append([]byte{}, data...)
		tampered[0] ^= 0xFF
		other := primitives.MAC(p, key, []byte("custom"), tampered, p.MacKeySize)
		assert.False(t, primitives.ConstantTimeCompare(tag, other))
	}
}

func TestAEADRoundTrip(t *testing.T) {
	for _, p := range []profile.Params{profile.AES256GCM(), profile.RCS256(), profile.RCS512()} {
		key := make([]byte, p.CprKeySize)
		nonce := make([]byte, p.NonceSize)
		for i := range key {
			key[i] = byte(i * 3)
		}
		for i := range nonce {
			nonce[i] = byte(i)
		}

		seal, err := primitives.NewAEAD(p, key, nonce)
		require.NoError(t, err)
		open, err := primitives.NewAEAD(p, key, nonce)
		require.NoError(t, err)

		aad := []byte("header-bytes")
		plaintext := []byte("attack at dawn")

		seal.SetAAD(aad)
		ct := seal.Seal(nil, plaintext)
		assert.NotEqual(t, plaintext, ct[:len(plaintext)])

		open.SetAAD(aad)
		pt, err := open.Open(nil, ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, pt)
	}
}

func TestAEADRejectsTamperedCiphertext(t *testing.T) {
	p := profile.RCS256()
	key := make([]byte, p.CprKeySize)
	nonce := make([]byte, p.NonceSize)

	seal, err := primitives.NewAEAD(p, key, nonce)
	require.NoError(t, err)
	seal.SetAAD([]byte("aad"))
	ct := seal.Seal(nil, []byte("payload"))
	ct[0] ^= 0x01

	open, err := primitives.NewAEAD(p, key, nonce)
	require.NoError(t, err)
	open.SetAAD([]byte("aad"))
	_, err = open.Open(nil, ct)
	assert.Error(t, err)
}

func TestAEADRejectsWrongAAD(t *testing.T) {
	p := profile.AES256GCM()
	key := make([]byte, p.CprKeySize)
	nonce := make([]byte, p.NonceSize)

	seal, err := primitives.NewAEAD(p, key, nonce)
	require.NoError(t, err)
	seal.SetAAD([]byte("header-v1"))
	ct := seal.Seal(nil, []byte("payload"))

	open, err := primitives.NewAEAD(p, key, nonce)
	require.NoError(t, err)
	open.SetAAD([]byte("header-v2"))
	_, err = open.Open(nil, ct)
	assert.Error(t, err)
}

func TestGCMNoncesVaryAcrossMessages(t *testing.T) {
	p := profile.AES256GCM()
	key := make([]byte, p.CprKeySize)
	nonce := make([]byte, p.NonceSize)

	cipher, err := primitives.NewAEAD(p, key, nonce)
	require.NoError(t, err)

	cipher.SetAAD([]byte("aad"))
	first := cipher.Seal(nil, []byte("same plaintext"))
	cipher.SetAAD([]byte("aad"))
	second := cipher.Seal(nil, []byte("same plaintext"))

	assert.NotEqual(t, first, second, "sealing the same plaintext twice under one context must not repeat a nonce")
}

func TestZeroize(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	primitives.Zeroize(buf)
	for _, b := range buf {
		assert.Zero(t, b)
	}
}
