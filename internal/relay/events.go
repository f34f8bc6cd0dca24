package relay

import "github.com/1ureka/relaysync/internal/protocol"

// Event is delivered to the host's single EventHandler. The set of events is
// closed; switch on the concrete type.
type Event interface {
	isEvent()
}

// EventHandler receives every event in the order it was produced. It may
// call back into the Client (e.g. to accept an offer).
type EventHandler func(Event)

// PhaseChanged reports a successful phase transition.
type PhaseChanged struct {
	Phase    Phase
	Previous Phase
	Reason   string
}

// ConnectionChanged reports a transport-level status change.
type ConnectionChanged struct {
	Status ConnectionStatus
}

// SessionResolved is emitted when the relay assigns a client id.
type SessionResolved struct {
	SessionID string
	ClientID  string
}

// SessionCreated is emitted when Session.Create obtained a new session id.
type SessionCreated struct {
	SessionID string
}

// TutorialStateReceived carries a state pushed by the active peer.
type TutorialStateReceived struct {
	From  string
	State protocol.TutorialState
}

// ControlOfferReceived carries an offer of the active role from a peer.
// Resolve it with Offer.Accept or Offer.Decline.
type ControlOfferReceived struct {
	Offer *ControlOffer
}

// ControlAccepted: the peer accepted our offer; we are now passive.
type ControlAccepted struct {
	By string
}

// ControlDeclined: the peer declined our offer; we stay active.
type ControlDeclined struct {
	By string
}

// ControlReleased: a peer gave up the active role.
type ControlReleased struct {
	By string
}

// ControlGranted: the relay announced which client is active.
type ControlGranted struct {
	ActiveClientID string
}

type PeerJoined struct {
	ClientID string
}

type PeerLeft struct {
	ClientID string
}

// ErrorOccurred reports an asynchronous failure.
type ErrorOccurred struct {
	Err *SyncError
}

func (PhaseChanged) isEvent()          {}
func (ConnectionChanged) isEvent()     {}
func (SessionResolved) isEvent()       {}
func (SessionCreated) isEvent()        {}
func (TutorialStateReceived) isEvent() {}
func (ControlOfferReceived) isEvent()  {}
func (ControlAccepted) isEvent()       {}
func (ControlDeclined) isEvent()       {}
func (ControlReleased) isEvent()       {}
func (ControlGranted) isEvent()        {}
func (PeerJoined) isEvent()            {}
func (PeerLeft) isEvent()              {}
func (ErrorOccurred) isEvent()         {}
