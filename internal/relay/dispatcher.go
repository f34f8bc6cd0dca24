package relay

import (
	"errors"
	"fmt"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/util"
)

// dispatcher decodes inbound frames and routes each typed message to the
// component that owns it.
type dispatcher struct {
	c *Client
}

// receive handles one inbound frame from the transport with generation gen.
// It never panics back into the transport's read loop.
func (d dispatcher) receive(gen uint64, payload []byte) {
	c := d.c
	c.lock()
	defer c.unlock()
	defer func() {
		if r := recover(); r != nil {
			c.reportLocked(newError(ErrInvalidMessage, true, "frame handler panic: %v", r))
		}
	}()

	if gen != c.conn.gen {
		return
	}
	util.Stats.AddRecv()

	msg, err := protocol.Decode(payload)
	if err != nil {
		util.Stats.AddDropped()
		if errors.Is(err, protocol.ErrVersion) {
			c.reportLocked(newError(ErrProtocolVersion, false, "%v", err))
			c.dropLocked("protocol version mismatch", false)
			return
		}
		c.reportLocked(newError(ErrInvalidMessage, true, "dropped frame: %v", err))
		return
	}
	d.route(msg)
}

func (d dispatcher) route(msg protocol.Message) {
	c := d.c
	switch m := msg.(type) {
	case protocol.Welcome:
		c.onWelcome(m)
	case protocol.PeerEvent:
		c.onPeer(m)
	case protocol.Error:
		c.onServerError(m)

	case protocol.ControlOffer:
		c.onControlOffer(m)
	case protocol.ControlAccept:
		c.onControlAccept(m)
	case protocol.ControlDecline:
		c.onControlDecline(m)
	case protocol.ControlRelease:
		c.onControlRelease(m)
	case protocol.ControlGranted:
		c.onControlGranted(m)

	case protocol.StateReceived:
		c.onStateReceived(m.From, m.State)
	case protocol.StateSend:
		// Relays that forward verbatim deliver the peer's send as is.
		c.onStateReceived("", m.State)
	case protocol.StateRequest:
		c.onStateRequest(m)

	default:
		// hello and control.take are client → relay only.
		util.LogDebug("ignoring %s from relay", msg.Type())
	}
}

// onWelcome completes the handshake.
func (c *Client) onWelcome(m protocol.Welcome) {
	if c.phase.current() != PhaseConnecting {
		util.LogWarning("unexpected welcome in phase %s", c.phase.current())
		return
	}
	if c.conn.handshake != nil {
		c.conn.handshake.Stop()
		c.conn.handshake = nil
	}
	c.session.welcome(m)
	if err := c.phase.set(PhaseConnectedIdle, "handshake complete"); err != nil {
		return
	}
	util.LogFields("joined session", "session", m.SessionID, "client", m.ClientID)
	c.events.push(SessionResolved{SessionID: c.session.id, ClientID: m.ClientID})
}

func (c *Client) onPeer(m protocol.PeerEvent) {
	if m.ClientID == c.session.clientID {
		return
	}
	switch m.Event {
	case protocol.PeerJoined:
		if c.session.addPeer(m.ClientID) {
			c.events.push(PeerJoined{ClientID: m.ClientID})
		}
	case protocol.PeerLeft:
		if c.session.removePeer(m.ClientID) {
			if c.session.activeClientID == m.ClientID {
				c.session.activeClientID = ""
			}
			for id, target := range c.control.outgoing {
				if target == m.ClientID {
					delete(c.control.outgoing, id)
				}
			}
			for id, from := range c.control.incoming {
				if from == m.ClientID {
					c.control.forgetIncoming(id)
				}
			}
			c.events.push(PeerLeft{ClientID: m.ClientID})
		}
	}
}

// onServerError maps relay error codes onto the error taxonomy. Errors that
// make the handshake impossible end the connection without retrying.
func (c *Client) onServerError(m protocol.Error) {
	text := fmt.Sprintf("relay error %s: %s", m.Code, m.Message)
	switch m.Code {
	case protocol.CodeProtocolVersion:
		c.reportLocked(newError(ErrProtocolVersion, false, "%s", text))
		c.dropLocked("protocol version mismatch", false)
	case protocol.CodeControlDenied:
		c.control.pendingTake = false
		c.reportLocked(newError(ErrInvalidOperation, true, "%s", text))
	case protocol.CodeSessionNotFound, protocol.CodeSessionFull:
		fatal := c.phase.current() == PhaseConnecting
		c.reportLocked(newError(ErrServerError, !fatal, "%s", text))
		if fatal {
			c.dropLocked("session rejected", false)
		}
	default:
		c.reportLocked(newError(ErrServerError, true, "%s", text))
	}
}
