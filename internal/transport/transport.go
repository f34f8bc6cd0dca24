// Package transport defines the duplex message channel the relay client runs
// on, with two interchangeable implementations: a WebSocket (for processes
// that talk to the relay directly) and a WebRTC DataChannel (for clients whose
// relay answers DataChannel offers on a signaling socket).
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrNotOpen is returned by Send when the channel is not open.
var ErrNotOpen = errors.New("transport not open")

// Transport is the capability the relay client depends on. Handlers may be
// registered before Connect; implementations apply them to the underlying
// channel once it exists. Payloads are opaque frames (JSON in practice).
//
// Connect blocks until the channel is open or fails; a failed Connect does not
// invoke OnError or OnClose. After a successful Connect, exactly one OnClose
// follows when the channel ends, whether closed locally or by the remote side.
type Transport interface {
	Connect(ctx context.Context, url string) error
	Send(payload []byte) error
	Close() error

	OnOpen(fn func())
	OnMessage(fn func(payload []byte))
	OnError(fn func(err error))
	OnClose(fn func(code int, reason string))
}

// Factory creates a fresh Transport for one connection attempt.
type Factory func() Transport

// handlers stores the registered callbacks; both implementations embed it.
type handlers struct {
	mu      sync.RWMutex
	open    func()
	message func([]byte)
	err     func(error)
	close   func(int, string)
}

func (h *handlers) OnOpen(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = fn
}

func (h *handlers) OnMessage(fn func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.message = fn
}

func (h *handlers) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = fn
}

func (h *handlers) OnClose(fn func(int, string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.close = fn
}

func (h *handlers) fireOpen() {
	h.mu.RLock()
	fn := h.open
	h.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (h *handlers) fireMessage(payload []byte) {
	h.mu.RLock()
	fn := h.message
	h.mu.RUnlock()
	if fn != nil {
		fn(payload)
	}
}

func (h *handlers) fireError(err error) {
	h.mu.RLock()
	fn := h.err
	h.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (h *handlers) fireClose(code int, reason string) {
	h.mu.RLock()
	fn := h.close
	h.mu.RUnlock()
	if fn != nil {
		fn(code, reason)
	}
}
