package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrVersion is wrapped by Decode when a frame carries a different protocol
// version.
var ErrVersion = errors.New("unsupported protocol version")

// envelope is the outer JSON structure of every frame.
type envelope struct {
	V    int             `json:"v"`
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// decoders maps each known type to its payload decoder.
var decoders = map[Type]func(json.RawMessage) (Message, error){
	TypeHello:          decodeAs[Hello],
	TypeWelcome:        decodeAs[Welcome],
	TypePeer:           decodeAs[PeerEvent],
	TypeError:          decodeAs[Error],
	TypeControlOffer:   decodeAs[ControlOffer],
	TypeControlAccept:  decodeAs[ControlAccept],
	TypeControlDecline: decodeAs[ControlDecline],
	TypeControlRelease: decodeAs[ControlRelease],
	TypeControlTake:    decodeAs[ControlTake],
	TypeControlGranted: decodeAs[ControlGranted],
	TypeStateSend:      decodeAs[StateSend],
	TypeStateRequest:   decodeAs[StateRequest],
	TypeStateReceived:  decodeAs[StateReceived],
}

// Encode serializes a Message into a JSON frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{V: Version, Type: msg.Type(), Data: data})
}

// Decode parses a JSON frame into its concrete Message variant.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("malformed frame: missing type")
	}
	if env.V != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersion, env.V, Version)
	}

	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	msg, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// decodeAs unmarshals a payload into T. An absent payload decodes to the
// zero value.
func decodeAs[T Message](data json.RawMessage) (Message, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// validate enforces the required fields of each variant.
func validate(msg Message) error {
	switch m := msg.(type) {
	case Welcome:
		if m.ClientID == "" {
			return errors.New("welcome without clientId")
		}
	case PeerEvent:
		if m.ClientID == "" {
			return errors.New("peer event without clientId")
		}
		if m.Event != PeerJoined && m.Event != PeerLeft {
			return fmt.Errorf("unknown peer event %q", m.Event)
		}
	case ControlOffer:
		if m.OfferID == "" {
			return errors.New("control offer without offerId")
		}
	case ControlAccept:
		if m.OfferID == "" {
			return errors.New("control accept without offerId")
		}
	case ControlDecline:
		if m.OfferID == "" {
			return errors.New("control decline without offerId")
		}
	}
	return nil
}
