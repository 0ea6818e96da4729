package keepalive

import (
	"context"
	"crypto/rand"
	"io"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/packet"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/primitives"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/skdperr"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

// Ratchet re-derives both directions' cipher contexts from a fresh
// ephemeral exchange layered on top of an already-established session,
// reusing the same masked-token-plus-MAC construction as the KEX Exchange
// phase (§4.3.2/§4.3.3) but binding it to the session's existing dsh/ssh
// instead of a new handshake. The ratchet packets take the next record-layer
// sequence numbers, so both counters continue from their current values
// rather than resetting.
type Ratchet struct {
	Rand io.Reader
}

func (r *Ratchet) rng() io.Reader {
	if r.Rand != nil {
		return r.Rand
	}
	return rand.Reader
}

// Initiate runs the device side of a ratchet: mint a new ephemeral token,
// mask it under the long-term device key, send it, and install the new
// tx cipher once the server acknowledges.
func (r *Ratchet) Initiate(ctx context.Context, sock transport.Socket, sess *session.State, device *keys.DeviceKey) error {
	p := sess.Params

	ephemeral := make([]byte, p.DTKSize)
	if _, err := io.ReadFull(r.rng(), ephemeral); err != nil {
		return skdperr.New(skdperr.RandomFailure, err)
	}

	sess.Lock()
	dsh := sess.DSH
	seq := sess.NextTXSeq()
	sess.Unlock()

	prnd := primitives.XofKeyed(p, device.DDK, []byte("SKDP-ratchet"), dsh, p.DTKSize+p.MacKeySize)
	defer primitives.Zeroize(prnd)
	ct := xorBytes(ephemeral, prnd[:p.DTKSize])

	hdr := headerFor(packet.FlagExchangeRequest, seq, p.DTKSize+p.MacKeySize)
	mac := primitives.MAC(p, prnd[p.DTKSize:p.DTKSize+p.MacKeySize], dsh, append(append([]byte{}, ct...), hdr...), p.MacKeySize)

	stream := append(append([]byte{}, hdr...), append(ct, mac...)...)
	if err := sock.Send(ctx, stream); err != nil {
		return skdperr.New(skdperr.TransmitFailure, err)
	}

	prnd2 := primitives.XofKeyed(p, ephemeral, []byte("SKDP-ratchet"), dsh, p.CprKeySize+p.NonceSize)
	defer primitives.Zeroize(prnd2)
	primitives.Zeroize(ephemeral)
	txCipher, err := primitives.NewAEAD(p, prnd2[:p.CprKeySize], prnd2[p.CprKeySize:p.CprKeySize+p.NonceSize])
	if err != nil {
		return skdperr.New(skdperr.GeneralFailure, err)
	}

	header, err := sock.RecvExact(ctx, packet.HeaderSize)
	if err != nil {
		return skdperr.New(skdperr.ReceiveFailure, err)
	}
	flag, msgLen, rseq, _, err := packet.DecodeHeader(header)
	if err != nil || flag != packet.FlagExchangeResponse {
		return skdperr.New(skdperr.ConnectionFailure, err)
	}
	respPayload, err := sock.RecvExact(ctx, int(msgLen))
	if err != nil {
		return skdperr.New(skdperr.ReceiveFailure, err)
	}

	sess.Lock()
	seqOK := sess.CheckAndAdvanceRXSeq(rseq)
	ssh := sess.SSH
	sess.Unlock()
	if !seqOK {
		return skdperr.New(skdperr.Unsequenced, nil)
	}

	ctStk, gotMac := respPayload[:p.STKSize], respPayload[p.STKSize:]
	prndS := primitives.XofKeyed(p, device.DDK, []byte("SKDP-ratchet"), ssh, p.STKSize+p.MacKeySize)
	defer primitives.Zeroize(prndS)
	wantMac := primitives.MAC(p, prndS[p.STKSize:p.STKSize+p.MacKeySize], ssh, append(append([]byte{}, ctStk...), header...), p.MacKeySize)
	if !primitives.ConstantTimeCompare(wantMac, gotMac) {
		return skdperr.New(skdperr.KexAuthFailure, nil)
	}
	stk := xorBytes(ctStk, prndS[:p.STKSize])
	defer primitives.Zeroize(stk)

	prnd2S := primitives.XofKeyed(p, stk, []byte("SKDP-ratchet"), ssh, p.CprKeySize+p.NonceSize)
	defer primitives.Zeroize(prnd2S)
	rxCipher, err := primitives.NewAEAD(p, prnd2S[:p.CprKeySize], prnd2S[p.CprKeySize:p.CprKeySize+p.NonceSize])
	if err != nil {
		return skdperr.New(skdperr.GeneralFailure, err)
	}

	sess.Lock()
	sess.TXCipher = txCipher
	sess.RXCipher = rxCipher
	sess.Unlock()
	return nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
