// Package record implements the post-handshake encrypted channel (C6):
// once a session.State reaches PhaseEstablished, every application
// message is sealed or opened through Channel.Send/Receive, which enforce the
// sequence and timestamp anti-replay invariants (§3.3, §8.1).
package record

import (
	"context"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/packet"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/skdperr"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

// Channel wraps an established session and socket with the record-layer
// send/receive operations. It is safe for concurrent Send and Receive
// calls from different goroutines — the mutex inside sess serializes
// access to the sequence counters and cipher contexts, but Send and
// Receive still each hold their own socket half (TCP/WS sockets already
// serialize concurrent writers/readers internally).
type Channel struct {
	Sock transport.Socket
	Sess *session.State
}

// Send encrypts plaintext under the session's tx cipher and writes it as
// one EncryptedMessage packet.
func (c *Channel) Send(ctx context.Context, plaintext []byte) error {
	c.Sess.Lock()
	if c.Sess.Phase != session.PhaseEstablished && c.Sess.Phase != session.PhaseKeepAlive {
		c.Sess.Unlock()
		return skdperr.New(skdperr.ChannelDown, nil)
	}
	seq := c.Sess.NextTXSeq()
	cipher := c.Sess.TXCipher
	c.Sess.Unlock()

	p := &packet.Packet{Flag: packet.FlagEncryptedMessage, Sequence: seq}
	p.SetUTCTime()
	// msg_len in the header covers the sealed ciphertext+tag, so the
	// header must be built against that final length before it's used as
	// AAD — compute it with a placeholder payload of the right size first.
	hdr := packet.EncodeHeader(&packet.Packet{Flag: p.Flag, Sequence: p.Sequence, UTCTime: p.UTCTime,
		Payload: make([]byte, len(plaintext)+cipher.TagSize())})
	cipher.SetAAD(hdr)
	p.Payload = cipher.Seal(nil, plaintext)

	stream := make([]byte, 0, len(hdr)+len(p.Payload))
	stream = append(stream, hdr...)
	stream = append(stream, p.Payload...)
	if err := c.Sock.Send(ctx, stream); err != nil {
		return skdperr.New(skdperr.TransmitFailure, err)
	}
	return nil
}

// Receive reads one packet, validating sequence order and timestamp
// freshness before authenticating and decrypting it.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	header, err := c.Sock.RecvExact(ctx, packet.HeaderSize)
	if err != nil {
		return nil, skdperr.New(skdperr.ReceiveFailure, err)
	}
	flag, msgLen, seq, utc, err := packet.DecodeHeader(header)
	if err != nil {
		return nil, skdperr.New(skdperr.ReceiveFailure, err)
	}
	if msgLen > profile.MessageMax {
		return nil, skdperr.New(skdperr.InvalidInput, nil)
	}
	var payload []byte
	if msgLen > 0 {
		payload, err = c.Sock.RecvExact(ctx, int(msgLen))
		if err != nil {
			return nil, skdperr.New(skdperr.ReceiveFailure, err)
		}
	}
	p := &packet.Packet{Flag: flag, Sequence: seq, UTCTime: utc, Payload: payload}

	if p.Flag == packet.FlagTerminate {
		c.Sess.Lock()
		c.Sess.Phase = session.PhaseTerminate
		c.Sess.Unlock()
		return nil, skdperr.New(skdperr.ChannelDown, nil)
	}
	if p.Flag == packet.FlagErrorCondition {
		code := skdperr.GeneralFailure
		if len(p.Payload) >= 1 {
			code = skdperr.Code(p.Payload[0])
		}
		return nil, skdperr.New(code, nil)
	}
	if p.Flag != packet.FlagEncryptedMessage {
		return nil, skdperr.New(skdperr.InvalidInput, nil)
	}
	if !p.TimeValid() {
		return nil, skdperr.New(skdperr.PacketExpired, nil)
	}

	c.Sess.Lock()
	if c.Sess.Phase != session.PhaseEstablished && c.Sess.Phase != session.PhaseKeepAlive {
		c.Sess.Unlock()
		return nil, skdperr.New(skdperr.ChannelDown, nil)
	}
	seqOK := c.Sess.CheckAndAdvanceRXSeq(p.Sequence)
	cipher := c.Sess.RXCipher
	c.Sess.Unlock()
	if !seqOK {
		return nil, skdperr.New(skdperr.Unsequenced, nil)
	}

	cipher.SetAAD(header)
	plaintext, err := cipher.Open(nil, p.Payload)
	if err != nil {
		return nil, skdperr.New(skdperr.CipherAuthFailure, err)
	}
	return plaintext, nil
}

// Close sends a best-effort Terminate packet carrying cause and marks the
// session down. Terminate always carries SequenceTerminator, per §8.3: that
// value is reserved for Terminate/ErrorCondition and must never appear on
// a normal record.
func (c *Channel) Close(ctx context.Context, cause skdperr.Code) error {
	c.Sess.Lock()
	c.Sess.Phase = session.PhaseTerminate
	c.Sess.Unlock()
	p := &packet.Packet{Flag: packet.FlagTerminate, Sequence: packet.SequenceTerminator, Payload: []byte{byte(cause)}}
	p.SetUTCTime()
	_ = c.Sock.Send(ctx, packet.EncodeStream(p))
	return c.Sock.Close()
}
