package relay

import (
	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/util"
)

// tutorialCache holds the last sent or received state. Last write wins; the
// value is replaced wholesale. It survives disconnects.
type tutorialCache struct {
	last *protocol.TutorialState
}

func (t *tutorialCache) put(s protocol.TutorialState) { t.last = &s }

// get returns a copy, or nil before any state was seen.
func (t *tutorialCache) get() *protocol.TutorialState {
	if t.last == nil {
		return nil
	}
	s := *t.last
	return &s
}

// TutorialOps exchange the shared tutorial state.
type TutorialOps struct{ c *Client }

// SendState publishes s to the peer. Only the active client may send.
func (o TutorialOps) SendState(s protocol.TutorialState) error {
	c := o.c
	c.lock()
	defer c.unlock()

	if c.phase.current() != PhaseActive {
		return newError(ErrInvalidOperation, false, msgNotActive)
	}
	c.tutorial.put(s)
	c.sendLocked(protocol.StateSend{State: s})
	return nil
}

// RequestState asks the active peer for its state. The answer arrives as a
// TutorialStateReceived event, possibly never.
func (o TutorialOps) RequestState() error {
	c := o.c
	c.lock()
	defer c.unlock()

	switch c.phase.current() {
	case PhaseDisconnected, PhaseConnecting:
		return newError(ErrInvalidOperation, false, msgNotConnected)
	}
	c.sendLocked(protocol.StateRequest{From: c.session.clientID})
	return nil
}

// LastState returns the cached state, or nil.
func (o TutorialOps) LastState() *protocol.TutorialState {
	o.c.lock()
	defer o.c.unlock()
	return o.c.tutorial.get()
}

// onStateReceived overwrites the cache with a pushed state.
func (c *Client) onStateReceived(from string, s protocol.TutorialState) {
	c.tutorial.put(s)
	c.events.push(TutorialStateReceived{From: from, State: s})
}

// onStateRequest answers a peer's request when we are the active side.
func (c *Client) onStateRequest(m protocol.StateRequest) {
	if c.phase.current() != PhaseActive {
		return
	}
	last := c.tutorial.get()
	if last == nil {
		util.LogDebug("state requested by %s but nothing cached yet", m.From)
		return
	}
	c.sendLocked(protocol.StateSend{State: *last})
}
