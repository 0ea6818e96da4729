// Package keys implements SKDP's three-stage pre-shared key hierarchy
// (C2): a root Master key derives per-server keys, and each server key
// derives per-device keys, all via a keyed extendable-output function
// customized with the active CONFIG_STRING and personalized with the
// child's KID.
package keys

import (
	"errors"
	"io"
	"time"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/primitives"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

// KeyDuration is the validity window applied to every newly generated
// Master key and inherited unchanged down the hierarchy.
const KeyDuration = time.Duration(profile.KeyDurationDays) * 24 * time.Hour

// KID is a 16-byte key identity: 4-byte Master ID, 4-byte Server ID,
// 8-byte Device/Session ID.
type KID [profile.KIDSize]byte

// NewKID builds a KID from its three partitions.
func NewKID(mid [profile.MIDSize]byte, sid [profile.SIDSize]byte, did [profile.DIDSize]byte) KID {
	var k KID
	copy(k[0:4], mid[:])
	copy(k[4:8], sid[:])
	copy(k[8:16], did[:])
	return k
}

// MID returns the Master-ID partition.
func (k KID) MID() []byte { return k[0:4] }

// SID returns the Server-ID partition.
func (k KID) SID() []byte { return k[4:8] }

// DID returns the Device/Session-ID partition.
func (k KID) DID() []byte { return k[8:16] }

// MasterKey is the root secret an administrator generates once per
// deployment. It never leaves the issuing authority.
type MasterKey struct {
	KID        KID
	MDK        []byte
	Expiration uint64
	Params     profile.Params
}

// ServerKey is deterministically derived from a MasterKey and a server
// KID, and is the only secret a server process needs to hold.
type ServerKey struct {
	KID        KID
	SDK        []byte
	Expiration uint64
	Params     profile.Params
}

// DeviceKey is deterministically derived from a ServerKey and a device
// KID, and is the only secret a device needs to hold.
type DeviceKey struct {
	KID        KID
	DDK        []byte
	Expiration uint64
	Params     profile.Params
}

var (
	// ErrBadKID is returned when a KID's Master or Server partition does
	// not match the parent key it is being derived against.
	ErrBadKID = errors.New("keys: KID does not match parent key")
	// ErrRandomFailure mirrors the random_failure error code: the entropy
	// source refused to fill the requested buffer.
	ErrRandomFailure = errors.New("keys: entropy source failure")
)

func nowEpochSeconds() uint64 { return uint64(time.Now().UTC().Unix()) }

func randFill(rng io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rng, buf); err != nil {
		return nil, ErrRandomFailure
	}
	return buf, nil
}

// GenerateMasterKey creates a new root key for Master ID mid. rng supplies
// entropy (crypto/rand.Reader in production, a seeded DRBG in tests).
func GenerateMasterKey(rng io.Reader, p profile.Params, mid [profile.MIDSize]byte) (*MasterKey, error) {
	mdk, err := randFill(rng, p.MDKSize)
	if err != nil {
		return nil, err
	}
	var sid [profile.SIDSize]byte
	var did [profile.DIDSize]byte
	return &MasterKey{
		KID:        NewKID(mid, sid, did),
		MDK:        mdk,
		Expiration: nowEpochSeconds() + uint64(KeyDuration.Seconds()),
		Params:     p,
	}, nil
}

// DeriveServerKey derives the deterministic Server key identified by kid
// (whose Master-ID partition must match master's, and whose Device-ID
// partition must be zero) from a Master key.
func DeriveServerKey(master *MasterKey, kid KID) (*ServerKey, error) {
	if !bytesEqual(kid.MID(), master.KID.MID()) {
		return nil, ErrBadKID
	}
	for _, b := range kid.DID() {
		if b != 0 {
			return nil, ErrBadKID
		}
	}
	p := master.Params
	buf := primitives.XofKeyed(p, master.MDK, p.ConfigString[:], kid[0:8], p.SDKSize)
	var sid [profile.SIDSize]byte
	copy(sid[:], kid.SID())
	var did [profile.DIDSize]byte
	return &ServerKey{
		KID:        NewKID(toMID(kid), sid, did),
		SDK:        buf,
		Expiration: master.Expiration,
		Params:     p,
	}, nil
}

// DeriveDeviceKey derives the deterministic Device key identified by kid
// (whose Master+Server-ID partition must match server's) from a Server
// key.
func DeriveDeviceKey(server *ServerKey, kid KID) (*DeviceKey, error) {
	if !bytesEqual(kid[0:8], server.KID[0:8]) {
		return nil, ErrBadKID
	}
	p := server.Params
	buf := primitives.XofKeyed(p, server.SDK, p.ConfigString[:], kid[:], p.DDKSize)
	return &DeviceKey{
		KID:        kid,
		DDK:        buf,
		Expiration: server.Expiration,
		Params:     p,
	}, nil
}

// DeriveClientDeviceKey re-derives a client's device key on the fly from a
// ServerKey and the client-presented KID, exactly as DeriveDeviceKey does.
// It exists as a distinct name because the server calls it mid-KEX (§4.3.3)
// rather than at provisioning time, and the derived key is scoped to that
// one exchange.
func DeriveClientDeviceKey(server *ServerKey, kid KID) (*DeviceKey, error) {
	return DeriveDeviceKey(server, kid)
}

func toMID(kid KID) [profile.MIDSize]byte {
	var m [profile.MIDSize]byte
	copy(m[:], kid.MID())
	return m
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Zeroize scrubs the long-term secret in place.
func (m *MasterKey) Zeroize() { primitives.Zeroize(m.MDK) }

// Zeroize scrubs the long-term secret in place.
func (s *ServerKey) Zeroize() { primitives.Zeroize(s.SDK) }

// Zeroize scrubs the long-term secret in place.
func (d *DeviceKey) Zeroize() { primitives.Zeroize(d.DDK) }
