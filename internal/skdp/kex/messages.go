package kex

import (
	"fmt"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

// connectPayload is the ConnectRequest/ConnectResponse body: KID(16) ‖
// CONFIG_STRING(26) ‖ STOK(N).
type connectPayload struct {
	KID    [profile.KIDSize]byte
	Config [profile.ConfigSize]byte
	Stok   []byte
}

func encodeConnect(kid [profile.KIDSize]byte, config [profile.ConfigSize]byte, stok []byte) []byte {
	out := make([]byte, 0, profile.KIDSize+profile.ConfigSize+len(stok))
	out = append(out, kid[:]...)
	out = append(out, config[:]...)
	out = append(out, stok...)
	return out
}

func decodeConnect(payload []byte, stokSize int) (connectPayload, error) {
	want := profile.KIDSize + profile.ConfigSize + stokSize
	if len(payload) != want {
		return connectPayload{}, fmt.Errorf("kex: connect payload must be %d bytes, got %d", want, len(payload))
	}
	var cp connectPayload
	copy(cp.KID[:], payload[0:profile.KIDSize])
	copy(cp.Config[:], payload[profile.KIDSize:profile.KIDSize+profile.ConfigSize])
	cp.Stok = append([]byte{}, payload[profile.KIDSize+profile.ConfigSize:]...)
	return cp, nil
}

// encodeExchange concatenates a masked ephemeral token with its MAC:
// ct ‖ mac. Used for both ExchangeRequest (ct_dtk) and ExchangeResponse
// (ct_stk).
func encodeExchange(ct, mac []byte) []byte {
	out := make([]byte, 0, len(ct)+len(mac))
	out = append(out, ct...)
	out = append(out, mac...)
	return out
}

func decodeExchange(payload []byte, ctSize, macSize int) (ct, mac []byte, err error) {
	if len(payload) != ctSize+macSize {
		return nil, nil, fmt.Errorf("kex: exchange payload must be %d bytes, got %d", ctSize+macSize, len(payload))
	}
	return payload[:ctSize], payload[ctSize:], nil
}
