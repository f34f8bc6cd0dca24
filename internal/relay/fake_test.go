package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/relaysync/internal/config"
	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/transport"
	"github.com/1ureka/relaysync/internal/util"
)

func init() {
	util.Quiet()
}

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	block      chan struct{} // if set, Connect waits on it or ctx
	open       bool
	sent       [][]byte

	onOpen    func()
	onMessage func([]byte)
	onError   func(error)
	onClose   func(int, string)
}

func (f *fakeTransport) Connect(ctx context.Context, url string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	if f.connectErr != nil {
		f.mu.Unlock()
		return f.connectErr
	}
	f.open = true
	fn := f.onOpen
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return transport.ErrNotOpen
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	wasOpen := f.open
	f.open = false
	fn := f.onClose
	f.mu.Unlock()
	if wasOpen && fn != nil {
		fn(1000, "closed")
	}
	return nil
}

func (f *fakeTransport) OnOpen(fn func())             { f.mu.Lock(); f.onOpen = fn; f.mu.Unlock() }
func (f *fakeTransport) OnMessage(fn func([]byte))    { f.mu.Lock(); f.onMessage = fn; f.mu.Unlock() }
func (f *fakeTransport) OnError(fn func(error))       { f.mu.Lock(); f.onError = fn; f.mu.Unlock() }
func (f *fakeTransport) OnClose(fn func(int, string)) { f.mu.Lock(); f.onClose = fn; f.mu.Unlock() }

// deliver feeds a message to the client as if the relay had sent it.
func (f *fakeTransport) deliver(t *testing.T, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	f.deliverRaw(frame)
}

func (f *fakeTransport) deliverRaw(frame []byte) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	fn(frame)
}

// drop simulates the relay going away.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.open = false
	fn := f.onClose
	f.mu.Unlock()
	fn(1006, "gone")
}

// sentTypes decodes every frame the client wrote.
func (f *fakeTransport) sentTypes(t *testing.T) []protocol.Type {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []protocol.Type
	for _, frame := range f.sent {
		msg, err := protocol.Decode(frame)
		require.NoError(t, err)
		types = append(types, msg.Type())
	}
	return types
}

// lastSent decodes the most recent frame.
func (f *fakeTransport) lastSent(t *testing.T) protocol.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	msg, err := protocol.Decode(f.sent[len(f.sent)-1])
	require.NoError(t, err)
	return msg
}

// fakeDialer hands out fakeTransports and remembers them.
type fakeDialer struct {
	mu         sync.Mutex
	connectErr error
	made       []*fakeTransport
}

func (d *fakeDialer) factory() transport.Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr := &fakeTransport{connectErr: d.connectErr}
	d.made = append(d.made, tr)
	return tr
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.made)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.made[len(d.made)-1]
}

var errRefused = errors.New("connection refused")

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
	hook   func(Event)
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// errorsOf returns every reported SyncError of the given type.
func (r *recorder) errorsOf(typ ErrorType) []*SyncError {
	var out []*SyncError
	for _, ev := range r.all() {
		if e, ok := ev.(ErrorOccurred); ok && e.Err.Type == typ {
			out = append(out, e.Err)
		}
	}
	return out
}

func (r *recorder) phases() []Phase {
	var out []Phase
	for _, ev := range r.all() {
		if e, ok := ev.(PhaseChanged); ok {
			out = append(out, e.Phase)
		}
	}
	return out
}

// waitFor blocks until an event matching fn was recorded.
func (r *recorder) waitFor(t *testing.T, fn func(Event) bool) Event {
	t.Helper()
	var found Event
	require.Eventually(t, func() bool {
		for _, ev := range r.all() {
			if fn(ev) {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ServerURL = "ws://localhost:9999"
	cfg.ReconnectDelay = time.Millisecond
	cfg.ConnectionTimeout = time.Second
	return cfg
}

// newFakeClient builds a client on a fakeDialer.
func newFakeClient(t *testing.T, cfg config.Config) (*Client, *fakeDialer, *recorder) {
	t.Helper()
	d := &fakeDialer{}
	rec := &recorder{}
	c := New(cfg, rec.handle, WithTransport(d.factory))
	t.Cleanup(c.Disconnect)
	return c, d, rec
}

// joined connects c through the fake and completes the handshake as clientID.
func joined(t *testing.T, c *Client, d *fakeDialer, clientID string, peers ...string) *fakeTransport {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	tr := d.last()
	require.Equal(t, []protocol.Type{protocol.TypeHello}, tr.sentTypes(t))
	tr.deliver(t, protocol.Welcome{ClientID: clientID, SessionID: "s1", Peers: append(peers, clientID)})
	require.Equal(t, PhaseConnectedIdle, c.CurrentPhase())
	return tr
}

// transportT shortens factory literals in tests.
type transportT = transport.Transport
