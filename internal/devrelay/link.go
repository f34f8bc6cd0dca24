package devrelay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/relaysync/internal/transport"
)

var (
	errLinkClosed = errors.New("link closed")
	errHelloWait  = errors.New("no frame before deadline")
)

// link is one peer's frame channel. /ws peers sit on a WebSocket; /rtc peers
// sit on a DataChannel the relay answered itself.
type link interface {
	send(frame []byte) error
	// recv blocks for the next frame. wait bounds the block; zero waits
	// until the link closes.
	recv(wait time.Duration) ([]byte, error)
	close() error
}

type wsLink struct {
	conn *websocket.Conn
}

func (l *wsLink) send(frame []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

func (l *wsLink) recv(wait time.Duration) ([]byte, error) {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	_ = l.conn.SetReadDeadline(deadline)
	_, data, err := l.conn.ReadMessage()
	return data, err
}

func (l *wsLink) close() error { return l.conn.Close() }

// rtcLink adapts a DataChannel's callbacks to the pull-style recv the hub
// loop uses. Frames arriving after the channel closed are dropped.
type rtcLink struct {
	dc     *transport.DataChannel
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newRTCLink(dc *transport.DataChannel) *rtcLink {
	l := &rtcLink{dc: dc, frames: make(chan []byte, 16), done: make(chan struct{})}
	dc.OnMessage(func(frame []byte) {
		select {
		case l.frames <- frame:
		case <-l.done:
		}
	})
	dc.OnClose(func(int, string) { l.once.Do(func() { close(l.done) }) })
	return l
}

func (l *rtcLink) send(frame []byte) error { return l.dc.Send(frame) }

func (l *rtcLink) recv(wait time.Duration) ([]byte, error) {
	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case frame := <-l.frames:
		return frame, nil
	case <-l.done:
		return nil, errLinkClosed
	case <-timeout:
		return nil, errHelloWait
	}
}

func (l *rtcLink) close() error {
	err := l.dc.Close()
	l.once.Do(func() { close(l.done) })
	return err
}
