package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
)

// TCPSocket wraps a net.Conn to satisfy Socket directly.
type TCPSocket struct {
	conn      net.Conn
	connected atomic.Bool
}

// NewTCP wraps an already-established net.Conn (from net.Dial or a
// net.Listener's Accept) as a Socket.
func NewTCP(conn net.Conn) *TCPSocket {
	t := &TCPSocket{conn: conn}
	t.connected.Store(true)
	return t
}

func (t *TCPSocket) Send(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	_, err := t.conn.Write(b)
	if err != nil {
		t.connected.Store(false)
	}
	return err
}

func (t *TCPSocket) RecvExact(ctx context.Context, n int) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(t.conn, buf)
	if err != nil {
		t.connected.Store(false)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, err
	}
	return buf, nil
}

func (t *TCPSocket) Shutdown() error {
	if tc, ok := t.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return nil
}

func (t *TCPSocket) Close() error {
	t.connected.Store(false)
	return t.conn.Close()
}

func (t *TCPSocket) IsConnected() bool { return t.connected.Load() }
