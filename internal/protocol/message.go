// Package protocol defines the versioned wire schema exchanged with the relay.
//
// Every frame is a JSON envelope {"v":1,"type":"...","data":{...}}. The set of
// message types is closed: Decode returns one of the concrete variants below
// or an error, so nothing downstream ever handles untyped payloads.
package protocol

// Version is the wire protocol version carried in every envelope.
const Version = 1

// Type identifies a message variant.
type Type string

const (
	// Handshake and system.
	TypeHello   Type = "hello"   // client → relay: join or create a session
	TypeWelcome Type = "welcome" // relay → client: assigned client id
	TypePeer    Type = "peer"    // relay → client: peer joined/left
	TypeError   Type = "error"   // relay → client: server-side failure

	// Control handoff.
	TypeControlOffer   Type = "control.offer"
	TypeControlAccept  Type = "control.accept"
	TypeControlDecline Type = "control.decline"
	TypeControlRelease Type = "control.release"
	TypeControlTake    Type = "control.take"
	TypeControlGranted Type = "control.granted" // relay broadcast of the active peer

	// Tutorial state.
	TypeStateSend     Type = "state.send"
	TypeStateRequest  Type = "state.request"
	TypeStateReceived Type = "state.received"
)

// Message is implemented by every wire variant.
type Message interface {
	Type() Type
}

// TutorialState is the shared tutorial-navigation state. It is replaced
// wholesale on every update.
type TutorialState struct {
	TutorialID        string `json:"tutorialId"`
	TutorialTitle     string `json:"tutorialTitle"`
	TotalSteps        int    `json:"totalSteps"`
	IsShowingSolution bool   `json:"isShowingSolution"`
	StepContent       string `json:"stepContent"`
	RepoURL           string `json:"repoUrl"`
}

// Peer event kinds.
const (
	PeerJoined = "joined"
	PeerLeft   = "left"
)

// Error codes the relay may send.
const (
	CodeProtocolVersion = "protocol_version"
	CodeSessionNotFound = "session_not_found"
	CodeSessionFull     = "session_full"
	CodeControlDenied   = "control_denied"
)

type Hello struct {
	SessionID string `json:"sessionId,omitempty"`
}

type Welcome struct {
	ClientID       string   `json:"clientId"`
	SessionID      string   `json:"sessionId"`
	ActiveClientID string   `json:"activeClientId,omitempty"`
	Peers          []string `json:"peers,omitempty"`
}

type PeerEvent struct {
	ClientID string `json:"clientId"`
	Event    string `json:"event"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ControlOffer struct {
	OfferID string         `json:"offerId"`
	From    string         `json:"from,omitempty"`
	To      string         `json:"to"`
	State   *TutorialState `json:"state,omitempty"`
}

type ControlAccept struct {
	OfferID string `json:"offerId"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
}

type ControlDecline struct {
	OfferID string `json:"offerId"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
}

type ControlRelease struct {
	From string `json:"from,omitempty"`
}

type ControlTake struct {
	From string `json:"from,omitempty"`
}

type ControlGranted struct {
	ActiveClientID string `json:"activeClientId"`
}

type StateSend struct {
	State TutorialState `json:"state"`
}

type StateRequest struct {
	From string `json:"from,omitempty"`
}

type StateReceived struct {
	From  string        `json:"from,omitempty"`
	State TutorialState `json:"state"`
}

func (Hello) Type() Type          { return TypeHello }
func (Welcome) Type() Type        { return TypeWelcome }
func (PeerEvent) Type() Type      { return TypePeer }
func (Error) Type() Type          { return TypeError }
func (ControlOffer) Type() Type   { return TypeControlOffer }
func (ControlAccept) Type() Type  { return TypeControlAccept }
func (ControlDecline) Type() Type { return TypeControlDecline }
func (ControlRelease) Type() Type { return TypeControlRelease }
func (ControlTake) Type() Type    { return TypeControlTake }
func (ControlGranted) Type() Type { return TypeControlGranted }
func (StateSend) Type() Type      { return TypeStateSend }
func (StateRequest) Type() Type   { return TypeStateRequest }
func (StateReceived) Type() Type  { return TypeStateReceived }
