package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/relaysync/internal/util"
)

func init() {
	util.Quiet()
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// echoServer echoes every frame; a frame reading "bye" makes it close with
// code 4000 instead.
func echoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "bye"))
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// events records transport callbacks.
type events struct {
	mu       sync.Mutex
	opened   int
	messages []string
	errs     []error
	closes   []int
}

func (e *events) bind(tr Transport) {
	tr.OnOpen(func() { e.mu.Lock(); e.opened++; e.mu.Unlock() })
	tr.OnMessage(func(p []byte) { e.mu.Lock(); e.messages = append(e.messages, string(p)); e.mu.Unlock() })
	tr.OnError(func(err error) { e.mu.Lock(); e.errs = append(e.errs, err); e.mu.Unlock() })
	tr.OnClose(func(code int, _ string) { e.mu.Lock(); e.closes = append(e.closes, code); e.mu.Unlock() })
}

func (e *events) snapshot() (opened int, messages []string, errs []error, closes []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened, append([]string(nil), e.messages...), append([]error(nil), e.errs...), append([]int(nil), e.closes...)
}

func TestWebSocketEcho(t *testing.T) {
	url := echoServer(t)
	ws := NewWebSocket()
	ev := &events{}
	ev.bind(ws)

	require.ErrorIs(t, ws.Send([]byte("early")), ErrNotOpen)
	require.NoError(t, ws.Connect(context.Background(), url))
	opened, _, _, _ := ev.snapshot()
	assert.Equal(t, 1, opened, "OnOpen fires before Connect returns")

	require.NoError(t, ws.Send([]byte("one")))
	require.NoError(t, ws.Send([]byte("two")))
	require.Eventually(t, func() bool {
		_, msgs, _, _ := ev.snapshot()
		return len(msgs) == 2
	}, 2*time.Second, 5*time.Millisecond)
	_, msgs, _, _ := ev.snapshot()
	assert.Equal(t, []string{"one", "two"}, msgs)

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		_, _, _, closes := ev.snapshot()
		return len(closes) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, _, errs, closes := ev.snapshot()
	assert.Empty(t, errs, "a local close is not an error")
	assert.Equal(t, []int{websocket.CloseNormalClosure}, closes)
	assert.ErrorIs(t, ws.Send([]byte("late")), ErrNotOpen)
}

func TestWebSocketRemoteClose(t *testing.T) {
	url := echoServer(t)
	ws := NewWebSocket()
	ev := &events{}
	ev.bind(ws)

	require.NoError(t, ws.Connect(context.Background(), url))
	require.NoError(t, ws.Send([]byte("bye")))

	require.Eventually(t, func() bool {
		_, _, _, closes := ev.snapshot()
		return len(closes) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, _, errs, closes := ev.snapshot()
	assert.Equal(t, []int{4000}, closes)
	assert.Len(t, errs, 1)
}

func TestWebSocketConnectFailure(t *testing.T) {
	ws := NewWebSocket()
	ev := &events{}
	ev.bind(ws)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := ws.Connect(ctx, "ws://127.0.0.1:1/ws")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")

	opened, _, errs, closes := ev.snapshot()
	assert.Zero(t, opened)
	assert.Empty(t, errs)
	assert.Empty(t, closes)
}

func TestFactoriesProduceFreshTransports(t *testing.T) {
	f := NewWebSocketFactory()
	assert.NotSame(t, f(), f())

	d := NewDataChannelFactory(RoleAnswerer)
	a, b := d(), d()
	assert.NotSame(t, a, b)
	assert.Equal(t, RoleAnswerer, a.(*DataChannel).role)
}
