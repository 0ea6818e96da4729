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

// ServerKeyResolver looks up the ServerKey that owns a client-presented KID.
// Implementations typically wrap a keystore.Store (C8) backed by a file
// or Vault secret.
type ServerKeyResolver interface {
	ResolveServerKey(kid keys.KID) (*keys.ServerKey, error)
}

// Server drives the server side of the KEX state machine (C5) for one
// accepted connection. A Server is single-use for the lifetime of one
// connection, like Client.
type Server struct {
	Rand      io.Reader
	Resolver  ServerKeyResolver
	Sock      transport.Socket
	Sess      *session.State
	DeviceKey *keys.DeviceKey // resolved during connectPhase, for callers that want it after Accept
}

func (s *Server) rng() io.Reader {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.Reader
}

func (s *Server) randFill(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.rng(), buf); err != nil {
		return nil, skdperr.New(skdperr.RandomFailure, err)
	}
	return buf, nil
}

// Accept runs Connect→Exchange→Establish→Verify as the responder.
func (s *Server) Accept(ctx context.Context) error {
	if err := s.connectPhase(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.exchangePhase(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.establishPhase(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Server) fail(err error) error {
	s.Sess.Lock()
	code := skdperr.CodeOf(err)
	s.Sess.Phase = session.PhaseError
	s.Sess.Unlock()
	sendErrorBestEffort(s.Sock, code)
	return err
}

func (s *Server) connectPhase(ctx context.Context) error {
	req, _, err := recvPacket(ctx, s.Sock)
	if err != nil {
		return err
	}
	if !req.TimeValid() {
		return skdperr.New(skdperr.PacketExpired, nil)
	}
	if err := expectFlag(req, packet.FlagConnectRequest); err != nil {
		return err
	}

	// STOK length is profile-dependent, but the profile isn't known until
	// the CONFIG_STRING embedded in this very payload is parsed, so the
	// remainder is whatever's left after KID and CONFIG_STRING.
	if len(req.Payload) < profile.KIDSize+profile.ConfigSize {
		return skdperr.New(skdperr.InvalidInput, nil)
	}
	configBytes := req.Payload[profile.KIDSize : profile.KIDSize+profile.ConfigSize]
	params, err := profile.ByConfigString(configBytes)
	if err != nil {
		return skdperr.New(skdperr.UnknownProtocol, err)
	}
	if params != s.Sess.Params {
		return skdperr.New(skdperr.UnknownProtocol, nil)
	}

	cp, err := decodeConnect(req.Payload, params.STOKSize)
	if err != nil {
		return skdperr.New(skdperr.InvalidInput, err)
	}

	kid := keys.KID(cp.KID)
	serverKey, err := s.Resolver.ResolveServerKey(kid)
	if err != nil {
		return skdperr.New(skdperr.KeyNotRecognized, err)
	}
	deviceKey, err := keys.DeriveClientDeviceKey(serverKey, kid)
	if err != nil {
		return skdperr.New(skdperr.KeyNotRecognized, err)
	}
	s.DeviceKey = deviceKey
	s.Sess.KID = [profile.KIDSize]byte(kid)
	s.Sess.DSH = primitives.Hash(params, req.Payload)

	// The opening ConnectRequest seeds rx_seq rather than being checked
	// against a prior value, matching the client's symmetric choice of
	// sequence 0 as its opening value (§8.4).
	s.Sess.Lock()
	s.Sess.RXSeq = req.Sequence + 1
	s.Sess.Unlock()

	stokS, err := s.randFill(params.STOKSize)
	if err != nil {
		return err
	}
	defer primitives.Zeroize(stokS)

	respPayload := encodeConnect(cp.KID, params.ConfigString, stokS)

	s.Sess.Lock()
	seq := s.Sess.CurrentTXSeq()
	s.Sess.Unlock()
	resp := &packet.Packet{Flag: packet.FlagConnectResponse, Sequence: seq, Payload: respPayload}
	resp.SetUTCTime()
	if _, err := sendPacket(ctx, s.Sock, resp); err != nil {
		return err
	}
	s.Sess.Lock()
	s.Sess.AdvanceTXSeq()
	s.Sess.SSH = primitives.Hash(params, respPayload)
	s.Sess.Phase = session.PhaseConnResp
	s.Sess.Unlock()
	return nil
}

func (s *Server) exchangePhase(ctx context.Context) error {
	p := s.Sess.Params

	req, reqHdr, err := recvPacket(ctx, s.Sock)
	if err != nil {
		return err
	}
	if !req.TimeValid() {
		return skdperr.New(skdperr.PacketExpired, nil)
	}
	s.Sess.Lock()
	seqOK := s.Sess.CheckRXSeqKEX(req.Sequence)
	s.Sess.Unlock()
	if !seqOK {
		return skdperr.New(skdperr.Unsequenced, nil)
	}
	if err := expectFlag(req, packet.FlagExchangeRequest); err != nil {
		return err
	}

	ctDtk, gotMac, err := decodeExchange(req.Payload, p.DTKSize, p.MacKeySize)
	if err != nil {
		return skdperr.New(skdperr.InvalidInput, err)
	}

	prnd := primitives.XofKeyed(p, s.DeviceKey.DDK, nil, s.Sess.DSH, p.DTKSize+p.MacKeySize)
	defer primitives.Zeroize(prnd)
	wantMac := primitives.MAC(p, prnd[p.DTKSize:p.DTKSize+p.MacKeySize], s.Sess.DSH, append(append([]byte{}, ctDtk...), reqHdr...), p.MacKeySize)
	if !primitives.ConstantTimeCompare(wantMac, gotMac) {
		return skdperr.New(skdperr.KexAuthFailure, nil)
	}
	dtk := xorBytes(ctDtk, prnd[:p.DTKSize])
	defer primitives.Zeroize(dtk)

	prnd2 := primitives.XofKeyed(p, dtk, nil, s.Sess.DSH, p.CprKeySize+p.NonceSize)
	defer primitives.Zeroize(prnd2)
	rxCipher, err := primitives.NewAEAD(p, prnd2[:p.CprKeySize], prnd2[p.CprKeySize:p.CprKeySize+p.NonceSize])
	if err != nil {
		return skdperr.New(skdperr.GeneralFailure, err)
	}
	s.Sess.Lock()
	s.Sess.RXCipher = rxCipher
	s.Sess.Phase = session.PhaseExchReq
	s.Sess.Unlock()

	stk, err := s.randFill(p.STKSize)
	if err != nil {
		return err
	}

	prndS := primitives.XofKeyed(p, s.DeviceKey.DDK, nil, s.Sess.SSH, p.STKSize+p.MacKeySize)
	defer primitives.Zeroize(prndS)
	ctStk := xorBytes(stk, prndS[:p.STKSize])

	s.Sess.Lock()
	seq := s.Sess.CurrentTXSeq()
	s.Sess.Unlock()
	hdr := headerBytes(packet.FlagExchangeResponse, seq, nowUTC(), p.STKSize+p.MacKeySize)
	mac := primitives.MAC(p, prndS[p.STKSize:p.STKSize+p.MacKeySize], s.Sess.SSH, append(append([]byte{}, ctStk...), hdr...), p.MacKeySize)

	resp := &packet.Packet{Flag: packet.FlagExchangeResponse, Sequence: seq, UTCTime: decodeUTC(hdr), Payload: encodeExchange(ctStk, mac)}
	if _, err := sendPacket(ctx, s.Sock, resp); err != nil {
		primitives.Zeroize(stk)
		return err
	}
	s.Sess.Lock()
	s.Sess.AdvanceTXSeq()
	s.Sess.Phase = session.PhaseExchResp
	s.Sess.Unlock()

	prnd2S := primitives.XofKeyed(p, stk, nil, s.Sess.SSH, p.CprKeySize+p.NonceSize)
	defer primitives.Zeroize(prnd2S)
	primitives.Zeroize(stk)
	txCipher, err := primitives.NewAEAD(p, prnd2S[:p.CprKeySize], prnd2S[p.CprKeySize:p.CprKeySize+p.NonceSize])
	if err != nil {
		return skdperr.New(skdperr.GeneralFailure, err)
	}
	s.Sess.Lock()
	s.Sess.TXCipher = txCipher
	s.Sess.Unlock()
	return nil
}

func (s *Server) establishPhase(ctx context.Context) error {
	p := s.Sess.Params

	req, reqHdr, err := recvPacket(ctx, s.Sock)
	if err != nil {
		return err
	}
	if !req.TimeValid() {
		return skdperr.New(skdperr.PacketExpired, nil)
	}
	s.Sess.Lock()
	seqOK := s.Sess.CheckRXSeqKEX(req.Sequence)
	rxCipher := s.Sess.RXCipher
	s.Sess.Unlock()
	if !seqOK {
		return skdperr.New(skdperr.Unsequenced, nil)
	}
	if err := expectFlag(req, packet.FlagEstablishRequest); err != nil {
		return err
	}

	rxCipher.SetAAD(reqHdr)
	vtoken, err := rxCipher.Open(nil, req.Payload)
	if err != nil {
		return skdperr.New(skdperr.CipherAuthFailure, err)
	}

	s.Sess.Lock()
	seq := s.Sess.CurrentTXSeq()
	txCipher := s.Sess.TXCipher
	s.Sess.Unlock()

	proof := primitives.Hash(p, vtoken)
	primitives.Zeroize(vtoken)

	hdr := headerBytes(packet.FlagEstablishResponse, seq, nowUTC(), len(proof)+txCipher.TagSize())
	txCipher.SetAAD(hdr)
	ciphertext := txCipher.Seal(nil, proof)

	resp := &packet.Packet{Flag: packet.FlagEstablishResponse, Sequence: seq, UTCTime: decodeUTC(hdr), Payload: ciphertext}
	if _, err := sendPacket(ctx, s.Sock, resp); err != nil {
		return err
	}
	s.Sess.Lock()
	s.Sess.AdvanceTXSeq()
	s.Sess.Phase = session.PhaseEstablished
	s.Sess.Unlock()
	return nil
}
