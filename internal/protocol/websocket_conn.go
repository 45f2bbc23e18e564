package protocol

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a WebSocket connection into a byte stream.
// The barrage WebSocket endpoint carries the same 12-byte framed protocol
// inside binary messages, so the rest of the client can keep reading frames
// with ReadFrame as it does on a TCP socket.
type WebSocketConn struct {
	conn      *websocket.Conn
	readMu    sync.Mutex
	writeMu   sync.Mutex
	pending   []byte
	closeOnce sync.Once
}

// DialWebSocket connects to a WebSocket barrage endpoint
func DialWebSocket(ctx context.Context, url string, handshakeTimeout time.Duration) (*WebSocketConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            websocket.DefaultDialer.Proxy,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(conn), nil
}

// NewWebSocketConn wraps an established WebSocket connection
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// Read returns the next chunk of payload data taken from binary messages.
// Text messages are not part of the barrage protocol and are skipped.
// After Close it returns an error wrapping net.ErrClosed.
func (w *WebSocketConn) Read(p []byte) (int, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	for len(w.pending) == 0 {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, w.translateErr(err)
		}
		if msgType == websocket.BinaryMessage {
			w.pending = data
		}
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// Write sends p as a single binary message
func (w *WebSocketConn) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, w.translateErr(err)
	}
	return len(p), nil
}

// Close sends a close control frame (best effort) and closes the underlying connection.
func (w *WebSocketConn) Close() error {
	err := net.ErrClosed
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// translateErr maps a normal close handshake onto net.ErrClosed so that
// callers treat both transports the same way.
func (w *WebSocketConn) translateErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return net.ErrClosed
	}
	return err
}
