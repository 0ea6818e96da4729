package kex

import (
	"context"
	"crypto/rand"
	"io"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/packet"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/primitives"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/skdperr"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

// Client drives the device side of the KEX state machine (C4) over one
// socket, against one session. It is not safe for concurrent Connect
// calls; a Client is single-use for the lifetime of one connection.
type Client struct {
	// Rand supplies entropy for stok/dtk/vtoken. Defaults to crypto/rand
	// if nil; tests substitute a seeded DRBG to reproduce spec §8.4's
	// literal scenarios.
	Rand io.Reader
	// Device is the long-term pre-shared key this client authenticates
	// with. It is read-only for the duration of Connect and is never
	// copied into the session state.
	Device *keys.DeviceKey
	Sock   transport.Socket
	Sess   *session.State

	vtoken []byte
}

func (c *Client) rng() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

func (c *Client) randFill(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rng(), buf); err != nil {
		return nil, skdperr.New(skdperr.RandomFailure, err)
	}
	return buf, nil
}

func headerBytes(flag packet.Flag, seq, utc uint64, payloadLen int) []byte {
	p := &packet.Packet{Flag: flag, Sequence: seq, UTCTime: utc, Payload: make([]byte, payloadLen)}
	return packet.EncodeHeader(p)
}

func expectFlag(p *packet.Packet, want packet.Flag) error {
	if p.Flag == packet.FlagErrorCondition {
		if len(p.Payload) < 1 {
			return skdperr.New(skdperr.GeneralFailure, nil)
		}
		return skdperr.New(skdperr.Code(p.Payload[0]), nil)
	}
	if p.Flag != want {
		return skdperr.New(skdperr.ConnectionFailure, nil)
	}
	return nil
}

// Connect runs Connect→Exchange→Establish→Verify against the peer on
// c.Sock. On any failure it sends a best-effort ErrorCondition/Terminate,
// marks the session Error, and returns the taxonomy code that caused it.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.connectPhase(ctx); err != nil {
		return c.fail(err)
	}
	if err := c.exchangePhase(ctx); err != nil {
		return c.fail(err)
	}
	if err := c.establishPhase(ctx); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *Client) fail(err error) error {
	c.Sess.Lock()
	code := skdperr.CodeOf(err)
	c.Sess.Phase = session.PhaseError
	c.Sess.Unlock()
	sendErrorBestEffort(c.Sock, code)
	primitives.Zeroize(c.vtoken)
	return err
}

func (c *Client) connectPhase(ctx context.Context) error {
	p := c.Sess.Params

	stokC, err := c.randFill(p.STOKSize)
	if err != nil {
		return err
	}
	defer primitives.Zeroize(stokC)

	kid := [profile.KIDSize]byte(c.Device.KID)
	payload := encodeConnect(kid, p.ConfigString, stokC)
	c.Sess.DSH = primitives.Hash(p, payload)

	c.Sess.Lock()
	seq := c.Sess.CurrentTXSeq()
	c.Sess.Unlock()

	req := &packet.Packet{Flag: packet.FlagConnectRequest, Sequence: seq, Payload: payload}
	req.SetUTCTime()
	if _, err := sendPacket(ctx, c.Sock, req); err != nil {
		return err
	}
	c.Sess.Lock()
	c.Sess.AdvanceTXSeq()
	c.Sess.Phase = session.PhaseConnReq
	c.Sess.Unlock()

	resp, _, err := recvPacket(ctx, c.Sock)
	if err != nil {
		return err
	}
	if !resp.TimeValid() {
		return skdperr.New(skdperr.PacketExpired, nil)
	}
	c.Sess.Lock()
	seqOK := c.Sess.CheckRXSeqKEX(resp.Sequence)
	c.Sess.Unlock()
	if !seqOK {
		return skdperr.New(skdperr.Unsequenced, nil)
	}
	if err := expectFlag(resp, packet.FlagConnectResponse); err != nil {
		return err
	}

	c.Sess.SSH = primitives.Hash(p, resp.Payload)
	c.Sess.Phase = session.PhaseConnResp
	return nil
}

func (c *Client) exchangePhase(ctx context.Context) error {
	p := c.Sess.Params

	dtk, err := c.randFill(p.DTKSize)
	if err != nil {
		return err
	}

	prnd := primitives.XofKeyed(p, c.Device.DDK, nil, c.Sess.DSH, p.DTKSize+p.MacKeySize)
	defer primitives.Zeroize(prnd)
	ct := xorBytes(dtk, prnd[:p.DTKSize])

	c.Sess.Lock()
	seq := c.Sess.CurrentTXSeq()
	c.Sess.Unlock()
	hdr := headerBytes(packet.FlagExchangeRequest, seq, nowUTC(), p.DTKSize+p.MacKeySize)
	mac := primitives.MAC(p, prnd[p.DTKSize:p.DTKSize+p.MacKeySize], c.Sess.DSH, append(append([]byte{}, ct...), hdr...), p.MacKeySize)

	req := &packet.Packet{Flag: packet.FlagExchangeRequest, Sequence: seq, UTCTime: decodeUTC(hdr), Payload: encodeExchange(ct, mac)}
	if _, err := sendPacket(ctx, c.Sock, req); err != nil {
		return err
	}
	c.Sess.Lock()
	c.Sess.AdvanceTXSeq()
	c.Sess.Phase = session.PhaseExchReq
	c.Sess.Unlock()

	// Derive the client's tx cipher now that dtk is committed on the wire.
	prnd2 := primitives.XofKeyed(p, dtk, nil, c.Sess.DSH, p.CprKeySize+p.NonceSize)
	defer primitives.Zeroize(prnd2)
	primitives.Zeroize(dtk)
	txCipher, err := primitives.NewAEAD(p, prnd2[:p.CprKeySize], prnd2[p.CprKeySize:p.CprKeySize+p.NonceSize])
	if err != nil {
		return skdperr.New(skdperr.GeneralFailure, err)
	}
	c.Sess.Lock()
	c.Sess.TXCipher = txCipher
	c.Sess.Unlock()

	resp, respHdr, err := recvPacket(ctx, c.Sock)
	if err != nil {
		return err
	}
	if !resp.TimeValid() {
		return skdperr.New(skdperr.PacketExpired, nil)
	}
	c.Sess.Lock()
	seqOK := c.Sess.CheckRXSeqKEX(resp.Sequence)
	c.Sess.Unlock()
	if !seqOK {
		return skdperr.New(skdperr.Unsequenced, nil)
	}
	if err := expectFlag(resp, packet.FlagExchangeResponse); err != nil {
		return err
	}

	ctStk, gotMac, err := decodeExchange(resp.Payload, p.STKSize, p.MacKeySize)
	if err != nil {
		return skdperr.New(skdperr.InvalidInput, err)
	}

	prndS := primitives.XofKeyed(p, c.Device.DDK, nil, c.Sess.SSH, p.STKSize+p.MacKeySize)
	defer primitives.Zeroize(prndS)
	wantMac := primitives.MAC(p, prndS[p.STKSize:p.STKSize+p.MacKeySize], c.Sess.SSH, append(append([]byte{}, ctStk...), respHdr...), p.MacKeySize)
	if !primitives.ConstantTimeCompare(wantMac, gotMac) {
		return skdperr.New(skdperr.KexAuthFailure, nil)
	}
	stk := xorBytes(ctStk, prndS[:p.STKSize])
	defer primitives.Zeroize(stk)

	prnd2S := primitives.XofKeyed(p, stk, nil, c.Sess.SSH, p.CprKeySize+p.NonceSize)
	defer primitives.Zeroize(prnd2S)
	rxCipher, err := primitives.NewAEAD(p, prnd2S[:p.CprKeySize], prnd2S[p.CprKeySize:p.CprKeySize+p.NonceSize])
	if err != nil {
		return skdperr.New(skdperr.GeneralFailure, err)
	}
	c.Sess.Lock()
	c.Sess.RXCipher = rxCipher
	c.Sess.Phase = session.PhaseExchResp
	c.Sess.Unlock()
	return nil
}

func (c *Client) establishPhase(ctx context.Context) error {
	p := c.Sess.Params

	vtoken, err := c.randFill(p.STHSize)
	if err != nil {
		return err
	}
	c.vtoken = vtoken

	c.Sess.Lock()
	seq := c.Sess.CurrentTXSeq()
	txCipher := c.Sess.TXCipher
	c.Sess.Unlock()

	hdr := headerBytes(packet.FlagEstablishRequest, seq, nowUTC(), p.STHSize+txCipher.TagSize())
	txCipher.SetAAD(hdr)
	ciphertext := txCipher.Seal(nil, vtoken)

	req := &packet.Packet{Flag: packet.FlagEstablishRequest, Sequence: seq, UTCTime: decodeUTC(hdr), Payload: ciphertext}
	if _, err := sendPacket(ctx, c.Sock, req); err != nil {
		return err
	}
	c.Sess.Lock()
	c.Sess.AdvanceTXSeq()
	c.Sess.Phase = session.PhaseEstReq
	c.Sess.Unlock()

	resp, respHdr, err := recvPacket(ctx, c.Sock)
	if err != nil {
		return err
	}
	if !resp.TimeValid() {
		return skdperr.New(skdperr.PacketExpired, nil)
	}
	c.Sess.Lock()
	seqOK := c.Sess.CheckRXSeqKEX(resp.Sequence)
	rxCipher := c.Sess.RXCipher
	c.Sess.Unlock()
	if !seqOK {
		return skdperr.New(skdperr.Unsequenced, nil)
	}
	if err := expectFlag(resp, packet.FlagEstablishResponse); err != nil {
		return err
	}

	rxCipher.SetAAD(respHdr)
	plaintext, err := rxCipher.Open(nil, resp.Payload)
	if err != nil {
		return skdperr.New(skdperr.CipherAuthFailure, err)
	}

	expected := primitives.Hash(p, c.vtoken)
	if !primitives.ConstantTimeCompare(expected, plaintext) {
		return skdperr.New(skdperr.EstablishFailure, nil)
	}

	primitives.Zeroize(c.vtoken)
	c.vtoken = nil
	c.Sess.Lock()
	c.Sess.Phase = session.PhaseEstablished
	c.Sess.Unlock()
	return nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
