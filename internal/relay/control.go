package relay

import (
	"github.com/google/uuid"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/util"
)

// ControlOffer is an inbound offer of the active role. It only names the
// offer; the negotiator owns its pending state, so Accept and Decline resolve
// it once and are no-ops afterwards (including after a disconnect expired
// it).
type ControlOffer struct {
	ID           string
	FromClientID string
	State        *protocol.TutorialState // snapshot sent with the offer, may be nil

	c *Client
}

// Accept takes the active role and acknowledges the offer.
func (o *ControlOffer) Accept() error {
	return o.c.resolveOffer(o.ID, true)
}

// Decline acknowledges the offer without any local phase change.
func (o *ControlOffer) Decline() error {
	return o.c.resolveOffer(o.ID, false)
}

// negotiator tracks offers in flight. Guarded by the client lock.
type negotiator struct {
	outgoing    map[string]string // offer id → target client id
	incoming    map[string]string // offer id → offering client id
	snapshots   map[string]*protocol.TutorialState
	pendingTake bool
}

func newNegotiator() negotiator {
	n := negotiator{}
	n.reset()
	return n
}

// reset forgets every offer; used when the connection ends.
func (n *negotiator) reset() {
	n.outgoing = make(map[string]string)
	n.incoming = make(map[string]string)
	n.snapshots = make(map[string]*protocol.TutorialState)
	n.pendingTake = false
}

// heldByOtherLocked reports whether the relay last announced a different active
// peer.
func (c *Client) heldByOtherLocked() (string, bool) {
	active := c.session.activeClientID
	return active, active != "" && active != c.session.clientID
}

// claimLocked is Sync.AsActive: optimistic local claim from CONNECTED_IDLE.
func (n *negotiator) claimLocked(c *Client) error {
	if c.phase.current() != PhaseConnectedIdle {
		return newError(ErrInvalidOperation, false,
			"active role can only be claimed from %s, current phase is %s",
			PhaseConnectedIdle, c.phase.current())
	}
	if holder, held := c.heldByOtherLocked(); held {
		return newError(ErrInvalidOperation, false, "control is held by %s", holder)
	}
	if err := c.phase.set(PhaseActive, "claimed active role"); err != nil {
		return err
	}
	c.session.activeClientID = c.session.clientID
	n.pendingTake = true
	c.sendLocked(protocol.ControlTake{From: c.session.clientID})
	return nil
}

// resolveOffer performs Accept/Decline for a pending inbound offer.
func (c *Client) resolveOffer(id string, accept bool) error {
	c.lock()
	defer c.unlock()

	from, ok := c.control.incoming[id]
	if !ok {
		return nil // already resolved or expired
	}

	if !accept {
		c.control.forgetIncoming(id)
		c.sendLocked(protocol.ControlDecline{OfferID: id, From: c.session.clientID, To: from})
		util.LogInfo("declined control offer from %s", from)
		return nil
	}

	switch c.phase.current() {
	case PhaseConnectedIdle, PhasePassive:
	default:
		return newError(ErrInvalidOperation, false,
			"cannot accept control in phase %s", c.phase.current())
	}
	if err := c.phase.set(PhaseActive, "accepted control from "+from); err != nil {
		return err
	}
	if snap := c.control.snapshots[id]; snap != nil {
		c.tutorial.put(*snap)
	}
	c.control.forgetIncoming(id)
	c.session.activeClientID = c.session.clientID
	c.sendLocked(protocol.ControlAccept{OfferID: id, From: c.session.clientID, To: from})
	util.LogInfo("accepted control offer from %s", from)
	return nil
}

func (n *negotiator) forgetIncoming(id string) {
	delete(n.incoming, id)
	delete(n.snapshots, id)
}

// ---------------------------------------------------------------------------
// Inbound control messages
// ---------------------------------------------------------------------------

func (c *Client) onControlOffer(m protocol.ControlOffer) {
	if m.To != "" && m.To != c.session.clientID {
		util.LogDebug("ignoring control offer %s addressed to %s", m.OfferID, m.To)
		return
	}
	if _, dup := c.control.incoming[m.OfferID]; dup {
		return
	}
	var snap *protocol.TutorialState
	if m.State != nil {
		s := *m.State
		snap = &s
	}
	c.control.incoming[m.OfferID] = m.From
	c.control.snapshots[m.OfferID] = snap

	offer := &ControlOffer{ID: m.OfferID, FromClientID: m.From, c: c}
	if snap != nil {
		s := *snap
		offer.State = &s
	}
	c.events.push(ControlOfferReceived{Offer: offer})
}

func (c *Client) onControlAccept(m protocol.ControlAccept) {
	target, ok := c.control.outgoing[m.OfferID]
	if !ok {
		util.LogDebug("accept for unknown offer %s", m.OfferID)
		return
	}
	delete(c.control.outgoing, m.OfferID)
	by := m.From
	if by == "" {
		by = target
	}
	if c.phase.current() == PhaseActive {
		if err := c.phase.set(PhasePassive, "control handed off to "+by); err != nil {
			return
		}
	}
	c.session.activeClientID = by
	c.events.push(ControlAccepted{By: by})
}

func (c *Client) onControlDecline(m protocol.ControlDecline) {
	target, ok := c.control.outgoing[m.OfferID]
	if !ok {
		return
	}
	delete(c.control.outgoing, m.OfferID)
	by := m.From
	if by == "" {
		by = target
	}
	c.events.push(ControlDeclined{By: by})
}

func (c *Client) onControlRelease(m protocol.ControlRelease) {
	if m.From != "" && c.session.activeClientID == m.From {
		c.session.activeClientID = ""
	}
	c.events.push(ControlReleased{By: m.From})
}

// onControlGranted applies the relay's arbitration. The relay's verdict wins
// over any local claim.
func (c *Client) onControlGranted(m protocol.ControlGranted) {
	self := c.session.clientID
	c.session.activeClientID = m.ActiveClientID
	pending := c.control.pendingTake
	c.control.pendingTake = false

	switch {
	case m.ActiveClientID != "" && m.ActiveClientID == self:
		switch c.phase.current() {
		case PhaseConnectedIdle, PhasePassive:
			_ = c.phase.set(PhaseActive, "control granted by relay")
		}
	case m.ActiveClientID != "":
		if c.phase.current() == PhaseActive {
			_ = c.phase.set(PhasePassive, "relay granted control to "+m.ActiveClientID)
		}
		if pending {
			c.reportLocked(newError(ErrInvalidOperation, true,
				"control request lost: %s is active", m.ActiveClientID))
		}
	}
	c.events.push(ControlGranted{ActiveClientID: m.ActiveClientID})
}

// ---------------------------------------------------------------------------
// Control operations
// ---------------------------------------------------------------------------

// ControlOps negotiate the active role.
type ControlOps struct{ c *Client }

// TakeControl asks the relay for the active role. The phase changes when the
// relay answers with a grant.
func (o ControlOps) TakeControl() error {
	c := o.c
	c.lock()
	defer c.unlock()

	switch c.phase.current() {
	case PhaseConnectedIdle, PhasePassive:
	default:
		return newError(ErrInvalidOperation, false,
			"take control requires %s or %s, current phase is %s",
			PhaseConnectedIdle, PhasePassive, c.phase.current())
	}
	if holder, held := c.heldByOtherLocked(); held {
		return newError(ErrInvalidOperation, false, "control is held by %s", holder)
	}
	c.control.pendingTake = true
	c.sendLocked(protocol.ControlTake{From: c.session.clientID})
	return nil
}

// OfferToPeer offers the active role to target. The local phase changes only
// once the peer accepts.
func (o ControlOps) OfferToPeer(target string) (string, error) {
	c := o.c
	c.lock()
	defer c.unlock()

	if c.phase.current() != PhaseActive {
		return "", newError(ErrInvalidOperation, false, "only active clients can offer control")
	}
	if target == "" || target == c.session.clientID {
		return "", newError(ErrInvalidOperation, false, "invalid offer target %q", target)
	}

	id := uuid.NewString()
	c.control.outgoing[id] = target
	c.sendLocked(protocol.ControlOffer{
		OfferID: id,
		From:    c.session.clientID,
		To:      target,
		State:   c.tutorial.get(),
	})
	util.LogInfo("offered control to %s (offer %s)", target, id)
	return id, nil
}

// Release gives up the active role; the client becomes passive.
func (o ControlOps) Release() error {
	c := o.c
	c.lock()
	defer c.unlock()

	if c.phase.current() != PhaseActive {
		return newError(ErrInvalidOperation, false, "only active clients can release control")
	}
	if err := c.phase.set(PhasePassive, "released control"); err != nil {
		return err
	}
	c.session.activeClientID = ""
	c.control.outgoing = make(map[string]string)
	c.sendLocked(protocol.ControlRelease{From: c.session.clientID})
	return nil
}
