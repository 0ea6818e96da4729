// Package keepalive implements SKDP's server-driven liveness probe (C7):
// a periodic plaintext echo that keeps an idle established session from
// timing out. Per §3.2/§4.5 the exchange tracks its own KeepAliveState,
// separate from SessionState, and never touches the record layer's
// tx_seq/rx_seq counters.
package keepalive

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/packet"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/skdperr"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

// Timeout is how long a session may sit without a keep-alive exchange
// before the server considers it dead.
const Timeout = time.Duration(profile.KeepAliveTimeoutSec) * time.Second

// KeepAliveState is the component-level entity §3.2 tracks alongside, but
// separately from, SessionState: the epoch time a probe was sent with, a
// packet sequence number private to the keep-alive exchange, and whether
// the outstanding probe was answered.
type KeepAliveState struct {
	ETime  uint64
	SeqCtr uint64
	Recd   bool
}

// Prober drives the keep-alive probe from the side that owns the timer
// (ordinarily the server). The exchange is plaintext: §4.3.1 fixes
// KeepAlive's payload as a bare little-endian utc_time_le u64 with no MAC
// tag, and the peer answers by echoing the identical packet bytes back
// unparsed.
type Prober struct {
	Sock  transport.Socket
	Sess  *session.State
	State KeepAliveState
}

// Probe sends one KeepAlive carrying the current epoch time and verifies
// the peer echoed it back unchanged, advancing the probe's own sequence
// counter on success.
func (pr *Prober) Probe(ctx context.Context) error {
	pr.Sess.Lock()
	if pr.Sess.Phase != session.PhaseEstablished {
		pr.Sess.Unlock()
		return skdperr.New(skdperr.ChannelDown, nil)
	}
	pr.Sess.Phase = session.PhaseKeepAlive
	pr.Sess.Unlock()

	pr.State.Recd = false
	pr.State.ETime = uint64(time.Now().UTC().Unix())

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, pr.State.ETime)

	p := &packet.Packet{Flag: packet.FlagKeepAlive, Sequence: pr.State.SeqCtr, Payload: payload}
	p.SetUTCTime()
	if err := pr.Sock.Send(ctx, packet.EncodeStream(p)); err != nil {
		return finish(pr, skdperr.New(skdperr.TransmitFailure, err))
	}

	header, err := pr.Sock.RecvExact(ctx, packet.HeaderSize)
	if err != nil {
		return finish(pr, skdperr.New(skdperr.KeepAliveExpired, err))
	}
	flag, msgLen, seq, _, err := packet.DecodeHeader(header)
	if err != nil || flag != packet.FlagKeepAlive {
		return finish(pr, skdperr.New(skdperr.BadKeepAlive, err))
	}
	resp, err := pr.Sock.RecvExact(ctx, int(msgLen))
	if err != nil {
		return finish(pr, skdperr.New(skdperr.KeepAliveExpired, err))
	}

	if seq != pr.State.SeqCtr || len(resp) != 8 || binary.LittleEndian.Uint64(resp) != pr.State.ETime {
		return finish(pr, skdperr.New(skdperr.BadKeepAlive, nil))
	}

	pr.State.SeqCtr++
	pr.State.Recd = true
	return finish(pr, nil)
}

// finish restores the session to PhaseEstablished regardless of outcome
// and passes err through, so every Probe return path clears
// PhaseKeepAlive.
func finish(pr *Prober, err error) error {
	pr.Sess.Lock()
	if pr.Sess.Phase == session.PhaseKeepAlive {
		pr.Sess.Phase = session.PhaseEstablished
	}
	pr.Sess.Unlock()
	return err
}

// headerFor builds a packet header stamped with the current UTC time, for
// callers (the ratchet sub-protocol) that assemble a packet's ciphertext
// against the header before it is final.
func headerFor(flag packet.Flag, seq uint64, payloadLen int) []byte {
	p := &packet.Packet{Flag: flag, Sequence: seq, Payload: make([]byte, payloadLen)}
	p.SetUTCTime()
	return packet.EncodeHeader(p)
}

// Respond answers one inbound KeepAlive packet by echoing its header and
// payload back unchanged, matching the reference client's handling of
// skdp_flag_keepalive_request: it copies the received packet bytes onto
// the wire without decrypting or reinterpreting them.
func Respond(ctx context.Context, sock transport.Socket, header, payload []byte) error {
	stream := make([]byte, 0, len(header)+len(payload))
	stream = append(stream, header...)
	stream = append(stream, payload...)
	if err := sock.Send(ctx, stream); err != nil {
		return skdperr.New(skdperr.TransmitFailure, err)
	}
	return nil
}
