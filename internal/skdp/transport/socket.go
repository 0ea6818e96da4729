// Package transport implements the reliable, ordered byte-stream Socket
// contract SKDP's KEX and record layer are built against (§6.3), plus two
// concrete transports: a plain TCP socket and a WebSocket-framed adapter
// for devices that reach the server through a browser/WS gateway (C15).
package transport

import "context"

// Socket is the transport contract the KEX state machines and record
// layer depend on. Implementations need not be safe for two concurrent Send
// calls or two concurrent RecvExact calls, but must support one Send and
// one RecvExact concurrently (the typical full-duplex
// case of a read loop and a write loop on the same session).
type Socket interface {
	Send(ctx context.Context, b []byte) error
	RecvExact(ctx context.Context, n int) ([]byte, error)
	Shutdown() error
	Close() error
	IsConnected() bool
}
