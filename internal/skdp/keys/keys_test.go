package keys_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

func TestKeyHierarchyDerivationIsDeterministic(t *testing.T) {
	p := profile.AES256GCM()
	rng := bytes.NewReader(bytes.Repeat([]byte{0x42}, p.MDKSize))

	mid := [profile.MIDSize]byte{1, 2, 3, 4}
	master, err := keys.GenerateMasterKey(rng, p, mid)
	require.NoError(t, err)

	var sid [profile.SIDSize]byte
	copy(sid[:], []byte{9, 9, 9, 9})
	var did [profile.DIDSize]byte
	serverKID := keys.NewKID(mid, sid, did)

	server1, err := keys.DeriveServerKey(master, serverKID)
	require.NoError(t, err)
	server2, err := keys.DeriveServerKey(master, serverKID)
	require.NoError(t, err)
	assert.Equal(t, server1.SDK, server2.SDK)

	var deviceDID [profile.DIDSize]byte
	copy(deviceDID[:], []byte{1, 1, 1, 1, 1, 1, 1, 1})
	deviceKID := keys.NewKID(mid, sid, deviceDID)

	device1, err := keys.DeriveDeviceKey(server1, deviceKID)
	require.NoError(t, err)
	device2, err := keys.DeriveDeviceKey(server1, deviceKID)
	require.NoError(t, err)
	assert.Equal(t, device1.DDK, device2.DDK)
	assert.NotEqual(t, server1.SDK, device1.DDK)
}

func TestDeriveServerKeyRejectsMismatchedMID(t *testing.T) {
	p := profile.RCS256()
	rng := bytes.NewReader(bytes.Repeat([]byte{0x01}, p.MDKSize))
	mid := [profile.MIDSize]byte{1, 1, 1, 1}
	master, err := keys.GenerateMasterKey(rng, p, mid)
	require.NoError(t, err)

	wrongMID := [profile.MIDSize]byte{9, 9, 9, 9}
	var sid [profile.SIDSize]byte
	var did [profile.DIDSize]byte
	badKID := keys.NewKID(wrongMID, sid, did)

	_, err = keys.DeriveServerKey(master, badKID)
	assert.ErrorIs(t, err, keys.ErrBadKID)
}

func TestMasterKeyCodecRoundTrip(t *testing.T) {
	p := profile.RCS512()
	rng := bytes.NewReader(bytes.Repeat([]byte{0x07}, p.MDKSize))
	mid := [profile.MIDSize]byte{5, 5, 5, 5}
	master, err := keys.GenerateMasterKey(rng, p, mid)
	require.NoError(t, err)

	encoded := keys.EncodeMaster(master)
	decoded, err := keys.DecodeMaster(encoded, p)
	require.NoError(t, err)

	assert.Equal(t, master.KID, decoded.KID)
	assert.Equal(t, master.MDK, decoded.MDK)
	assert.Equal(t, master.Expiration, decoded.Expiration)
}
