package record_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/kex"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/packet"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/record"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/skdperr"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

type countingReader struct{ n byte }

func (c *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = c.n
		c.n++
	}
	return len(p), nil
}

type staticResolver struct{ serverKey *keys.ServerKey }

func (r *staticResolver) ResolveServerKey(kid keys.KID) (*keys.ServerKey, error) {
	return r.serverKey, nil
}

func establishedChannels(t *testing.T) (*record.Channel, *record.Channel) {
	t.Helper()
	p := profile.AES256GCM()

	mid := [profile.MIDSize]byte{1, 2, 3, 4}
	master, err := keys.GenerateMasterKey(&countingReader{}, p, mid)
	require.NoError(t, err)
	var sid [profile.SIDSize]byte
	copy(sid[:], []byte{5, 6, 7, 8})
	var did [profile.DIDSize]byte
	serverKID := keys.NewKID(mid, sid, did)
	serverKey, err := keys.DeriveServerKey(master, serverKID)
	require.NoError(t, err)
	var deviceDID [profile.DIDSize]byte
	copy(deviceDID[:], []byte{9, 9, 9, 9, 9, 9, 9, 9})
	deviceKID := keys.NewKID(mid, sid, deviceDID)
	deviceKey, err := keys.DeriveDeviceKey(serverKey, deviceKID)
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	clientSock := transport.NewTCP(clientConn)
	serverSock := transport.NewTCP(serverConn)
	clientSess := session.New(p)
	serverSess := session.New(p)

	client := &kex.Client{Rand: &countingReader{n: 0x40}, Device: deviceKey, Sock: clientSock, Sess: clientSess}
	server := &kex.Server{Rand: &countingReader{n: 0x90}, Resolver: &staticResolver{serverKey: serverKey}, Sock: serverSock, Sess: serverSess}

	errs := make(chan error, 2)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs <- server.Accept(ctx)
	}()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs <- client.Connect(ctx)
	}()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	return &record.Channel{Sock: clientSock, Sess: clientSess}, &record.Channel{Sock: serverSock, Sess: serverSess}
}

func TestRecordRoundTrip(t *testing.T) {
	clientCh, serverCh := establishedChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	var received []byte
	var recvErr error
	go func() {
		received, recvErr = serverCh.Receive(ctx)
		close(done)
	}()

	require.NoError(t, clientCh.Send(ctx, []byte("hello server")))
	<-done
	require.NoError(t, recvErr)
	assert.Equal(t, []byte("hello server"), received)
}

func TestRecordRejectsReplayedSequence(t *testing.T) {
	clientCh, serverCh := establishedChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, _ = serverCh.Receive(ctx)
		close(done)
	}()
	require.NoError(t, clientCh.Send(ctx, []byte("message one")))
	<-done

	// Forge a second message reusing the first message's already-consumed
	// sequence number by resetting the client's counter back one step.
	clientCh.Sess.Lock()
	clientCh.Sess.TXSeq--
	clientCh.Sess.Unlock()

	done2 := make(chan struct{})
	var recvErr error
	go func() {
		_, recvErr = serverCh.Receive(ctx)
		close(done2)
	}()
	require.NoError(t, clientCh.Send(ctx, []byte("replayed")))
	<-done2
	assert.Error(t, recvErr)
}

// sealCustom seals plaintext under sess's tx cipher like Channel.Send
// does, but lets the caller override the wire timestamp to manufacture an
// expired packet.
func sealCustom(sess *session.State, plaintext []byte, utcOverride *uint64) (header, payload []byte) {
	sess.Lock()
	seq := sess.NextTXSeq()
	cipher := sess.TXCipher
	sess.Unlock()

	p := &packet.Packet{Flag: packet.FlagEncryptedMessage, Sequence: seq}
	if utcOverride != nil {
		p.UTCTime = *utcOverride
	} else {
		p.SetUTCTime()
	}
	header = packet.EncodeHeader(&packet.Packet{Flag: p.Flag, Sequence: p.Sequence, UTCTime: p.UTCTime,
		Payload: make([]byte, len(plaintext)+cipher.TagSize())})
	cipher.SetAAD(header)
	payload = cipher.Seal(nil, plaintext)
	return header, payload
}

func TestChannelCloseSendsTerminateWithCausePayload(t *testing.T) {
	clientCh, serverCh := establishedChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	var header, payload []byte
	var recvErr error
	go func() {
		defer close(done)
		header, recvErr = serverCh.Sock.RecvExact(ctx, packet.HeaderSize)
		if recvErr != nil {
			return
		}
		var msgLen uint32
		_, msgLen, _, _, recvErr = packet.DecodeHeader(header)
		if recvErr != nil {
			return
		}
		payload, recvErr = serverCh.Sock.RecvExact(ctx, int(msgLen))
	}()

	require.NoError(t, clientCh.Close(ctx, skdperr.BadKeepAlive))
	<-done
	require.NoError(t, recvErr)

	flag, msgLen, seq, _, err := packet.DecodeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, packet.FlagTerminate, flag)
	assert.Equal(t, uint64(packet.SequenceTerminator), seq)
	require.Equal(t, uint32(1), msgLen)
	assert.Equal(t, []byte{byte(skdperr.BadKeepAlive)}, payload)
}

func TestRecordReceiveRejectsTamperedCiphertext(t *testing.T) {
	clientCh, serverCh := establishedChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header, payload := sealCustom(clientCh.Sess, []byte("tamper me"), nil)
	payload[len(payload)-1] ^= 0xFF

	done := make(chan struct{})
	var recvErr error
	go func() {
		_, recvErr = serverCh.Receive(ctx)
		close(done)
	}()
	require.NoError(t, clientCh.Sock.Send(ctx, append(append([]byte{}, header...), payload...)))
	<-done
	require.Error(t, recvErr)
	assert.Equal(t, skdperr.CipherAuthFailure, skdperr.CodeOf(recvErr))
}

func TestRecordReceiveRejectsExpiredPacket(t *testing.T) {
	clientCh, serverCh := establishedChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stale := uint64(time.Now().UTC().Add(-1 * time.Hour).Unix())
	header, payload := sealCustom(clientCh.Sess, []byte("old"), &stale)

	done := make(chan struct{})
	var recvErr error
	go func() {
		_, recvErr = serverCh.Receive(ctx)
		close(done)
	}()
	require.NoError(t, clientCh.Sock.Send(ctx, append(append([]byte{}, header...), payload...)))
	<-done
	require.Error(t, recvErr)
	assert.Equal(t, skdperr.PacketExpired, skdperr.CodeOf(recvErr))
}

func TestRecordReceiveRejectsKeyMismatch(t *testing.T) {
	clientCh, serverCh := establishedChannels(t)
	_, otherServerCh := establishedChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// establishedChannels is deterministic, so the second session's rx cipher
	// would carry the very same key; swap in its server-to-client (tx) cipher
	// instead, so the server holds a key the client never sealed under even
	// though sequencing lines up.
	serverCh.Sess.Lock()
	serverCh.Sess.RXCipher = otherServerCh.Sess.TXCipher
	serverCh.Sess.Unlock()

	done := make(chan struct{})
	var recvErr error
	go func() {
		_, recvErr = serverCh.Receive(ctx)
		close(done)
	}()
	require.NoError(t, clientCh.Send(ctx, []byte("hello")))
	<-done
	require.Error(t, recvErr)
	assert.Equal(t, skdperr.CipherAuthFailure, skdperr.CodeOf(recvErr))
}
