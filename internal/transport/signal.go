package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// signalType identifies an SDP/ICE signaling message.
type signalType string

const (
	signalOffer     signalType = "offer"
	signalAnswer    signalType = "answer"
	signalCandidate signalType = "candidate"
)

// signal is the JSON structure exchanged over the signaling WebSocket before
// the DataChannel opens.
type signal struct {
	Type      signalType `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// signalSender serializes outgoing signaling messages to the WebSocket.
type signalSender struct {
	pc   *webrtc.PeerConnection
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *signalSender) send(msg signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *signalSender) sendOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.send(signal{Type: signalOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *signalSender) sendAnswer() error {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.send(signal{Type: signalAnswer, SDP: answer.SDP})
}

// sendCandidate forwards a locally gathered ICE candidate.
func (s *signalSender) sendCandidate(c *webrtc.ICECandidate) error {
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		return err
	}
	return s.send(signal{Type: signalCandidate, Candidate: string(data)})
}

// watchSignals applies inbound signaling messages to pc until the WebSocket
// read fails (which includes being closed once the DataChannel is up).
// Candidates that arrive before the remote description are held until it is
// set.
func watchSignals(conn *websocket.Conn, pc *webrtc.PeerConnection, s *signalSender) error {
	var pending []webrtc.ICECandidateInit
	applyPending := func() error {
		for _, c := range pending {
			if err := pc.AddICECandidate(c); err != nil {
				return err
			}
		}
		pending = nil
		return nil
	}

	for {
		var msg signal
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("signaling read failed: %w", err)
		}

		switch msg.Type {
		case signalOffer:
			if err := pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := applyPending(); err != nil {
				return err
			}
			if err := s.sendAnswer(); err != nil {
				return err
			}

		case signalAnswer:
			if err := pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := applyPending(); err != nil {
				return err
			}

		case signalCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("invalid ICE candidate: %w", err)
			}
			if pc.RemoteDescription() == nil {
				pending = append(pending, init)
				continue
			}
			if err := pc.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}
