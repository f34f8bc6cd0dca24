package relay

import (
	"sync"

	"github.com/1ureka/relaysync/internal/util"
)

// emitter queues events and delivers them to the handler one at a time, in
// push order. Events are pushed while the client lock is held and flushed
// after it is released, so the handler may call back into the client. A push
// made while another goroutine (or a re-entrant handler) is draining is picked
// up by that drainer. A panicking handler is logged and skips only the event
// it panicked on.
type emitter struct {
	handler EventHandler

	mu       sync.Mutex
	queue    []Event
	draining bool
}

func (e *emitter) push(ev Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
}

func (e *emitter) flush() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		ev := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()
		e.deliver(ev)
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}

func (e *emitter) deliver(ev Event) {
	if e.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			util.LogError("event handler panic on %T: %v", ev, r)
		}
	}()
	e.handler(ev)
}
