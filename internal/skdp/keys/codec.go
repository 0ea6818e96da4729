package keys

import (
	"encoding/binary"
	"fmt"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

// Persisted encoding (§4.1, §6.2): KID(16) ‖ secret(K) ‖ expiration(8),
// all little-endian, byte-exact, no header or magic — the file extension
// (.mkey/.skey/.dkey) is the only type discriminator.

// EncodeMaster serializes a MasterKey to its on-disk byte-exact form.
func EncodeMaster(m *MasterKey) []byte {
	return encode(m.KID, m.MDK, m.Expiration)
}

// EncodeServer serializes a ServerKey to its on-disk byte-exact form.
func EncodeServer(s *ServerKey) []byte {
	return encode(s.KID, s.SDK, s.Expiration)
}

// EncodeDevice serializes a DeviceKey to its on-disk byte-exact form.
func EncodeDevice(d *DeviceKey) []byte {
	return encode(d.KID, d.DDK, d.Expiration)
}

func encode(kid KID, secret []byte, expiration uint64) []byte {
	out := make([]byte, profile.KIDSize+len(secret)+profile.ExpSize)
	copy(out[0:profile.KIDSize], kid[:])
	copy(out[profile.KIDSize:profile.KIDSize+len(secret)], secret)
	binary.LittleEndian.PutUint64(out[profile.KIDSize+len(secret):], expiration)
	return out
}

func decode(buf []byte, secretSize int) (KID, []byte, uint64, error) {
	want := profile.KIDSize + secretSize + profile.ExpSize
	if len(buf) != want {
		return KID{}, nil, 0, fmt.Errorf("keys: expected %d encoded bytes, got %d", want, len(buf))
	}
	var kid KID
	copy(kid[:], buf[0:profile.KIDSize])
	secret := append([]byte{}, buf[profile.KIDSize:profile.KIDSize+secretSize]...)
	expiration := binary.LittleEndian.Uint64(buf[profile.KIDSize+secretSize:])
	return kid, secret, expiration, nil
}

// DecodeMaster parses a MasterKey from its on-disk byte-exact form.
func DecodeMaster(buf []byte, p profile.Params) (*MasterKey, error) {
	kid, secret, exp, err := decode(buf, p.MDKSize)
	if err != nil {
		return nil, err
	}
	return &MasterKey{KID: kid, MDK: secret, Expiration: exp, Params: p}, nil
}

// DecodeServer parses a ServerKey from its on-disk byte-exact form.
func DecodeServer(buf []byte, p profile.Params) (*ServerKey, error) {
	kid, secret, exp, err := decode(buf, p.SDKSize)
	if err != nil {
		return nil, err
	}
	return &ServerKey{KID: kid, SDK: secret, Expiration: exp, Params: p}, nil
}

// DecodeDevice parses a DeviceKey from its on-disk byte-exact form.
func DecodeDevice(buf []byte, p profile.Params) (*DeviceKey, error) {
	kid, secret, exp, err := decode(buf, p.DDKSize)
	if err != nil {
		return nil, err
	}
	return &DeviceKey{KID: kid, DDK: secret, Expiration: exp, Params: p}, nil
}
