// Package relay is the client-side synchronization engine: it connects to a
// relay server, resolves a session, negotiates which peer drives the shared
// tutorial, and keeps the last known tutorial state.
//
// All state lives behind one lock. Transport callbacks, reconnect timers and
// public methods each take it for the duration of a state change; events are
// queued while it is held and delivered to the EventHandler after release, in
// order.
package relay

import (
	"net/http"
	"sync"

	"github.com/1ureka/relaysync/internal/config"
	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/transport"
	"github.com/1ureka/relaysync/internal/util"
)

// Option customizes a Client at construction time.
type Option func(*Client)

// WithTransport selects the transport implementation. The default is a
// WebSocket transport.
func WithTransport(f transport.Factory) Option {
	return func(c *Client) { c.conn.factory = f }
}

// WithHTTPClient sets the HTTP client used for session creation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.session.http = hc }
}

// Client is the relay synchronization facade. Operations are grouped the way
// hosts use them: c.Session, c.Tutorial, c.Control, c.Sync and c.Is.
type Client struct {
	cfg    config.Config
	events emitter

	mu         sync.Mutex
	phase      phaseMachine
	conn       connectionManager
	session    sessionManager
	control    negotiator
	tutorial   tutorialCache
	toClose    []transport.Transport // closed after the lock is released
	dispatcher dispatcher

	Session  SessionOps
	Tutorial TutorialOps
	Control  ControlOps
	Sync     SyncOps
	Is       Predicates
}

// New constructs a disconnected Client. Zero-valued fields of cfg take their
// defaults, so config.Config{ServerURL: u} is enough to connect.
func New(cfg config.Config, handler EventHandler, opts ...Option) *Client {
	cfg = cfg.WithDefaults()
	c := &Client{cfg: cfg}
	c.events.handler = handler
	c.phase = phaseMachine{phase: PhaseDisconnected, emit: c.events.push}
	c.conn = connectionManager{factory: transport.NewWebSocketFactory(), status: StatusDisconnected}
	c.session = sessionManager{supplied: cfg.SessionID, http: http.DefaultClient}
	c.session.reset(false)
	c.control = newNegotiator()
	c.dispatcher = dispatcher{c: c}

	for _, opt := range opts {
		opt(c)
	}

	c.Session = SessionOps{c}
	c.Tutorial = TutorialOps{c}
	c.Control = ControlOps{c}
	c.Sync = SyncOps{c}
	c.Is = Predicates{c}
	return c
}

// Config returns the configuration in effect, defaults included.
func (c *Client) Config() config.Config { return c.cfg }

// CurrentPhase returns the current phase.
func (c *Client) CurrentPhase() Phase {
	c.lock()
	defer c.unlock()
	return c.phase.current()
}

// UIState is a snapshot of everything a host UI renders.
type UIState struct {
	Phase            Phase
	Status           ConnectionStatus
	SessionID        string
	ClientID         string
	ActiveClientID   string
	Peers            []string
	LastState        *protocol.TutorialState
	ReconnectAttempt int
}

// UIState returns a consistent snapshot of the client state.
func (c *Client) UIState() UIState {
	c.lock()
	defer c.unlock()
	return UIState{
		Phase:            c.phase.current(),
		Status:           c.conn.status,
		SessionID:        c.session.id,
		ClientID:         c.session.clientID,
		ActiveClientID:   c.session.activeClientID,
		Peers:            append([]string(nil), c.session.peers...),
		LastState:        c.tutorial.get(),
		ReconnectAttempt: c.conn.attempts,
	}
}

// lock/unlock bracket every state change. unlock closes transports dropped
// while locked and then delivers queued events, both outside the lock.
func (c *Client) lock() { c.mu.Lock() }

func (c *Client) unlock() {
	closing := c.toClose
	c.toClose = nil
	c.mu.Unlock()

	for _, tr := range closing {
		if err := tr.Close(); err != nil {
			util.LogDebug("transport close: %v", err)
		}
	}
	c.events.flush()
}

// setPhase applies a transition under the client lock.
func (c *Client) setPhase(next Phase, reason string) error {
	c.lock()
	defer c.unlock()
	return c.phase.set(next, reason)
}

// reportLocked logs err and queues it as an ErrorOccurred event.
func (c *Client) reportLocked(err *SyncError) {
	util.LogWarning("%v", err)
	c.events.push(ErrorOccurred{Err: err})
}

// sendLocked encodes and transmits msg. Transport failures are reported
// asynchronously and never returned to the caller.
func (c *Client) sendLocked(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.reportLocked(newError(ErrInvalidMessage, true, "%v", err))
		return
	}
	tr := c.conn.tr
	if tr == nil || c.conn.status != StatusConnected {
		c.reportLocked(newError(ErrConnectionLost, c.cfg.AutoReconnect(),
			"cannot send %s: %s", msg.Type(), transport.ErrNotOpen))
		return
	}
	if err := tr.Send(frame); err != nil {
		c.reportLocked(newError(ErrConnectionLost, c.cfg.AutoReconnect(),
			"send %s failed: %v", msg.Type(), err))
		return
	}
	util.Stats.AddSent()
}

// ---------------------------------------------------------------------------
// Grouped operations
// ---------------------------------------------------------------------------

// Predicates are derived from the current phase on every call.
type Predicates struct{ c *Client }

func (p Predicates) Connected() bool { return p.read((*phaseMachine).connected) }
func (p Predicates) Active() bool    { return p.read((*phaseMachine).active) }
func (p Predicates) Passive() bool   { return p.read((*phaseMachine).passive) }
func (p Predicates) Idle() bool      { return p.read((*phaseMachine).idle) }

func (p Predicates) read(fn func(*phaseMachine) bool) bool {
	p.c.lock()
	defer p.c.unlock()
	return fn(&p.c.phase)
}

// SyncOps choose the local role once connected.
type SyncOps struct{ c *Client }

// AsActive claims the driving role from CONNECTED_IDLE and announces it to
// the relay, which arbitrates conflicts.
func (s SyncOps) AsActive() error {
	c := s.c
	c.lock()
	defer c.unlock()
	return c.control.claimLocked(c)
}

// AsPassive takes the follower role from CONNECTED_IDLE and asks the active
// peer for the current state.
func (s SyncOps) AsPassive() error {
	c := s.c
	c.lock()
	defer c.unlock()
	if c.phase.current() != PhaseConnectedIdle {
		return newError(ErrInvalidOperation, false,
			"passive role can only be chosen from %s, current phase is %s",
			PhaseConnectedIdle, c.phase.current())
	}
	if err := c.phase.set(PhasePassive, "chose passive role"); err != nil {
		return err
	}
	c.sendLocked(protocol.StateRequest{From: c.session.clientID})
	return nil
}
