// Package kex implements the four-message SKDP key-exchange state
// machine: Client (C4) drives Connect→Exchange→Establish→Verify, and
// Server (C5) mirrors it. Both share the wire I/O, header/MAC/AAD
// plumbing, and key-schedule helpers in this file and messages.go.
package kex

import (
	"context"
	"time"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/packet"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/skdperr"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

// nowUTC returns the current UTC epoch second, matching Packet.SetUTCTime.
func nowUTC() uint64 { return uint64(time.Now().UTC().Unix()) }

// decodeUTC extracts the utc_time field from an already-serialized header,
// so callers that built a header solely to compute a MAC/AAD input don't
// need to track the timestamp separately.
func decodeUTC(header []byte) uint64 {
	_, _, _, utc, _ := packet.DecodeHeader(header)
	return utc
}

// sendPacket serializes p, writes it to sock, and returns the exact
// header bytes used on the wire — callers need them again as KMAC input
// or AEAD associated data, and §4.3.4 requires both uses see identical
// bytes.
func sendPacket(ctx context.Context, sock transport.Socket, p *packet.Packet) ([]byte, error) {
	header := packet.EncodeHeader(p)
	stream := make([]byte, 0, len(header)+len(p.Payload))
	stream = append(stream, header...)
	stream = append(stream, p.Payload...)
	if err := sock.Send(ctx, stream); err != nil {
		return nil, skdperr.New(skdperr.TransmitFailure, err)
	}
	return header, nil
}

// recvPacket reads one header-then-payload packet from sock, rejecting an
// oversize msg_len before ever allocating it.
func recvPacket(ctx context.Context, sock transport.Socket) (*packet.Packet, []byte, error) {
	header, err := sock.RecvExact(ctx, packet.HeaderSize)
	if err != nil {
		return nil, nil, skdperr.New(skdperr.ReceiveFailure, err)
	}
	flag, msgLen, seq, utc, err := packet.DecodeHeader(header)
	if err != nil {
		return nil, nil, skdperr.New(skdperr.ReceiveFailure, err)
	}
	if msgLen > profile.MessageMax {
		return nil, nil, skdperr.New(skdperr.InvalidInput, packet.ErrOversizePayload)
	}
	var payload []byte
	if msgLen > 0 {
		payload, err = sock.RecvExact(ctx, int(msgLen))
		if err != nil {
			return nil, nil, skdperr.New(skdperr.ReceiveFailure, err)
		}
	}
	return &packet.Packet{Flag: flag, Sequence: seq, UTCTime: utc, Payload: payload}, header, nil
}

// errorPacket builds a best-effort ErrorCondition packet carrying code.
func errorPacket(code skdperr.Code) *packet.Packet {
	p := &packet.Packet{
		Flag:     packet.FlagErrorCondition,
		Sequence: packet.SequenceTerminator,
		Payload:  []byte{byte(code)},
	}
	p.SetUTCTime()
	return p
}

// sendErrorBestEffort reports a terminal error to the peer without letting
// a second failure mask the first: send errors here are discarded.
func sendErrorBestEffort(sock transport.Socket, code skdperr.Code) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = sendPacket(ctx, sock, errorPacket(code))
}
