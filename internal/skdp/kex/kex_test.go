package kex_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/kex"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

// countingReader is a deterministic, non-repeating byte source standing in
// for the device RNG in tests, so a run is reproducible without drawing on
// crypto/rand.
type countingReader struct{ n byte }

func (c *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = c.n
		c.n++
	}
	return len(p), nil
}

type staticResolver struct {
	serverKey *keys.ServerKey
}

func (r *staticResolver) ResolveServerKey(kid keys.KID) (*keys.ServerKey, error) {
	return r.serverKey, nil
}

func setupHierarchy(t *testing.T, p profile.Params) (*keys.ServerKey, *keys.DeviceKey) {
	t.Helper()
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
	copy(deviceDID[:], []byte{1, 1, 1, 1, 1, 1, 1, 1})
	deviceKID := keys.NewKID(mid, sid, deviceDID)
	deviceKey, err := keys.DeriveDeviceKey(serverKey, deviceKID)
	require.NoError(t, err)

	return serverKey, deviceKey
}

func runHandshake(t *testing.T, p profile.Params) (*session.State, *session.State) {
	t.Helper()
	serverKey, deviceKey := setupHierarchy(t, p)

	clientConn, serverConn := net.Pipe()
	clientSock := transport.NewTCP(clientConn)
	serverSock := transport.NewTCP(serverConn)

	clientSess := session.New(p)
	serverSess := session.New(p)

	client := &kex.Client{Rand: &countingReader{n: 0x80}, Device: deviceKey, Sock: clientSock, Sess: clientSess}
	server := &kex.Server{Rand: &countingReader{n: 0xC0}, Resolver: &staticResolver{serverKey: serverKey}, Sock: serverSock, Sess: serverSess}

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
	return clientSess, serverSess
}

func TestHandshakeEstablishesMatchingState(t *testing.T) {
	for _, p := range []profile.Params{profile.AES256GCM(), profile.RCS256(), profile.RCS512()} {
		clientSess, serverSess := runHandshake(t, p)

		assert.Equal(t, session.PhaseEstablished, clientSess.Phase)
		assert.Equal(t, session.PhaseEstablished, serverSess.Phase)

		// The client's outgoing stream and the server's incoming stream must
		// land on the same sequence counters, and vice versa — §8.4's
		// literal scenario.
		assert.Equal(t, clientSess.TXSeq, serverSess.RXSeq)
		assert.Equal(t, serverSess.TXSeq, clientSess.RXSeq)
		assert.NotNil(t, clientSess.TXCipher)
		assert.NotNil(t, clientSess.RXCipher)
	}
}

func TestHandshakeFailsOnUnknownKey(t *testing.T) {
	p := profile.AES256GCM()
	_, deviceKey := setupHierarchy(t, p)
	otherServerKey, _ := setupHierarchy(t, p)
	// Use a server key that won't derive the same device key as deviceKey,
	// so the MAC check in the exchange phase fails.
	otherServerKey.SDK[0] ^= 0xFF

	clientConn, serverConn := net.Pipe()
	clientSock := transport.NewTCP(clientConn)
	serverSock := transport.NewTCP(serverConn)

	clientSess := session.New(p)
	serverSess := session.New(p)

	client := &kex.Client{Rand: &countingReader{n: 1}, Device: deviceKey, Sock: clientSock, Sess: clientSess}
	server := &kex.Server{Rand: &countingReader{n: 2}, Resolver: &staticResolver{serverKey: otherServerKey}, Sock: serverSock, Sess: serverSess}

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

	first := <-errs
	second := <-errs
	assert.True(t, first != nil || second != nil)
	assert.Equal(t, session.PhaseError, clientSess.Phase)
}
