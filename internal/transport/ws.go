package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/relaysync/internal/util"
)

const writeWait = 5 * time.Second

// WebSocket is a Transport backed by a gorilla/websocket client connection.
type WebSocket struct {
	handlers

	dialer *websocket.Dialer

	mu        sync.Mutex // guards conn and writes
	conn      *websocket.Conn
	closeOnce sync.Once
	local     atomic.Bool // set by Close before the read loop ends
}

// NewWebSocket creates an unconnected WebSocket transport.
func NewWebSocket() *WebSocket {
	return &WebSocket{dialer: websocket.DefaultDialer}
}

// NewWebSocketFactory returns a Factory producing WebSocket transports.
func NewWebSocketFactory() Factory {
	return func() Transport { return NewWebSocket() }
}

// Connect dials url and starts the read loop. OnOpen fires before Connect
// returns.
func (w *WebSocket) Connect(ctx context.Context, url string) error {
	conn, _, err := w.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WS server: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	util.LogDebug("WS connected: %s", url)

	w.fireOpen()
	go w.readLoop(conn)
	return nil
}

// readLoop forwards every inbound text/binary frame until the connection ends.
func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			if w.local.Load() {
				code, reason = websocket.CloseNormalClosure, "client closed"
			}
			if code != websocket.CloseNormalClosure {
				w.fireError(fmt.Errorf("WS read failed: %w", err))
			}
			w.finish(code, reason)
			return
		}
		w.fireMessage(data)
	}
}

// Send writes one text frame, serialized with other writers.
func (w *WebSocket) Send(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrNotOpen
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("WS send failed: %w", err)
	}
	return nil
}

// Close sends a normal close frame and tears down the connection. Safe to
// call more than once.
func (w *WebSocket) Close() error {
	w.local.Store(true)
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
			time.Now().Add(writeWait))
	}
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// finish fires OnClose once and drops the connection reference.
func (w *WebSocket) finish(code int, reason string) {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		w.fireClose(code, reason)
	})
}
