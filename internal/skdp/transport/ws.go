package transport

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSSocket adapts a gorilla/websocket connection to the Socket contract.
// SKDP's packet framing is self-describing (fixed header + msg_len), so
// each Send is written as one binary WebSocket message and RecvExact
// buffers across message boundaries to present a plain byte stream to the
// KEX and record layers above it — neither knows it isn't talking to a
// raw TCP socket.
type WSSocket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	readMu    sync.Mutex
	buf       bytes.Buffer
	connected atomic.Bool
}

// NewWS wraps an established *websocket.Conn (from websocket.Dial or an
// Upgrader.Upgrade call) as a Socket.
func NewWS(conn *websocket.Conn) *WSSocket {
	w := &WSSocket{conn: conn}
	w.connected.Store(true)
	return w
}

func (w *WSSocket) Send(ctx context.Context, b []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		w.connected.Store(false)
		return err
	}
	return nil
}

func (w *WSSocket) RecvExact(ctx context.Context, n int) ([]byte, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	for w.buf.Len() < n {
		if dl, ok := ctx.Deadline(); ok {
			_ = w.conn.SetReadDeadline(dl)
		}
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.connected.Store(false)
			return nil, err
		}
		w.buf.Write(msg)
	}
	out := make([]byte, n)
	if _, err := w.buf.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *WSSocket) Shutdown() error {
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(5*time.Second))
}

func (w *WSSocket) Close() error {
	w.connected.Store(false)
	return w.conn.Close()
}

func (w *WSSocket) IsConnected() bool { return w.connected.Load() }
