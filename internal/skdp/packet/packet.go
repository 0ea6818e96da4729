// Package packet implements SKDP's wire packet codec (C3): a fixed
// 21-byte header followed by a variable-length payload, little-endian
// throughout.
package packet

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

// Flag identifies the packet's message type (§4.3.1).
type Flag byte

const (
	FlagNone              Flag = 0
	FlagConnectRequest    Flag = 1
	FlagConnectResponse   Flag = 2
	FlagTerminate         Flag = 3
	FlagEncryptedMessage  Flag = 4
	FlagExchangeRequest   Flag = 5
	FlagExchangeResponse  Flag = 6
	FlagEstablishRequest  Flag = 7
	FlagEstablishResponse Flag = 8
	FlagEstablishVerify   Flag = 9
	FlagKeepAlive         Flag = 10
	FlagErrorCondition    Flag = 0xFF
)

// Packet is the in-memory NetworkPacket (§3.2): an owned payload buffer
// with a length, replacing the reference implementation's bare pointer
// (§9 design note).
type Packet struct {
	Flag     Flag
	Sequence uint64
	UTCTime  uint64
	Payload  []byte
}

// SequenceTerminator is reserved for Terminate/ErrorCondition packets and
// must never appear as a record-layer sequence number.
const SequenceTerminator = profile.SequenceTerminator

// SetUTCTime stamps the packet with the current UTC epoch second.
func (p *Packet) SetUTCTime() { p.UTCTime = uint64(time.Now().UTC().Unix()) }

// TimeValid reports whether the packet's UTC timestamp falls within
// PacketTimeThreshold of now.
func (p *Packet) TimeValid() bool {
	now := int64(time.Now().UTC().Unix())
	skew := now - int64(p.UTCTime)
	if skew < 0 {
		skew = -skew
	}
	return skew <= profile.PacketThresholdSecs
}

// Clear zeroizes the payload and resets every field, matching the
// reference implementation's packet_clear.
func (p *Packet) Clear() {
	for i := range p.Payload {
		p.Payload[i] = 0
	}
	p.Flag = FlagNone
	p.Sequence = 0
	p.UTCTime = 0
	p.Payload = nil
}

// HeaderSize is the fixed wire size of a packet header.
const HeaderSize = profile.HeaderSize

var (
	// ErrOversizePayload mirrors the invalid_input error for a msg_len
	// exceeding MESSAGE_MAX.
	ErrOversizePayload = errors.New("packet: msg_len exceeds MESSAGE_MAX")
	// ErrShortStream mirrors receive_failure: fewer bytes than the header
	// or declared msg_len.
	ErrShortStream = errors.New("packet: short read")
)

// EncodeHeader serializes the packet's header (flag ‖ msg_len ‖ sequence
// ‖ utc_time), all little-endian. The header bytes it returns are what
// both sides use as KMAC input and AEAD associated data: callers must
// serialize exactly once, after every field (including UTCTime) has its
// final value, and reuse the same bytes for every purpose.
func EncodeHeader(p *Packet) []byte {
	h := make([]byte, HeaderSize)
	h[0] = byte(p.Flag)
	binary.LittleEndian.PutUint32(h[1:5], uint32(len(p.Payload)))
	binary.LittleEndian.PutUint64(h[5:13], p.Sequence)
	binary.LittleEndian.PutUint64(h[13:21], p.UTCTime)
	return h
}

// DecodeHeader parses a 21-byte header. It does not validate msg_len
// against MESSAGE_MAX; callers combine it with a payload length check, as
// DecodeStream does.
func DecodeHeader(h []byte) (flag Flag, msgLen uint32, sequence uint64, utc uint64, err error) {
	if len(h) != HeaderSize {
		return 0, 0, 0, 0, ErrShortStream
	}
	flag = Flag(h[0])
	msgLen = binary.LittleEndian.Uint32(h[1:5])
	sequence = binary.LittleEndian.Uint64(h[5:13])
	utc = binary.LittleEndian.Uint64(h[13:21])
	return flag, msgLen, sequence, utc, nil
}

// EncodeStream serializes a full packet (header ‖ payload) for writing to
// the transport.
func EncodeStream(p *Packet) []byte {
	h := EncodeHeader(p)
	out := make([]byte, 0, len(h)+len(p.Payload))
	out = append(out, h...)
	out = append(out, p.Payload...)
	return out
}

// DecodeStream parses a full packet from header ‖ payload bytes already
// read from the transport, rejecting any msg_len above MESSAGE_MAX.
func DecodeStream(header, payload []byte) (*Packet, error) {
	flag, msgLen, seq, utc, err := DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	if msgLen > profile.MessageMax {
		return nil, ErrOversizePayload
	}
	if uint32(len(payload)) != msgLen {
		return nil, ErrShortStream
	}
	return &Packet{Flag: flag, Sequence: seq, UTCTime: utc, Payload: payload}, nil
}
