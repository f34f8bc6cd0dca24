package devrelay

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/transport"
	"github.com/1ureka/relaysync/internal/util"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serve(&peer{id: uuid.NewString(), link: &wsLink{conn: conn}})
}

// handleRTC answers a DataChannel offer on the upgraded socket, then runs the
// relay protocol over the channel. The socket only carries SDP and ICE.
func (s *Server) handleRTC(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	dc := transport.NewDataChannel(transport.RoleAnswerer, s.ICEServers...)
	l := newRTCLink(dc)

	ctx, cancel := context.WithTimeout(context.Background(), rtcWait)
	defer cancel()
	if err := dc.Accept(ctx, conn); err != nil {
		util.LogDebug("devrelay: rtc signaling from %s failed: %v", r.RemoteAddr, err)
		return
	}
	s.serve(&peer{id: uuid.NewString(), link: l})
}

// serve runs one peer from handshake to departure.
func (s *Server) serve(p *peer) {
	defer p.link.close()

	rm, ok := s.handshake(p)
	if !ok {
		return
	}
	defer s.leave(rm, p)

	for {
		data, err := p.link.recv(0)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			p.send(protocol.Error{Code: "invalid_message", Message: err.Error()})
			continue
		}
		s.forward(rm, p, msg)
	}
}

// handshake waits for hello, places the peer in a room and sends welcome.
func (s *Server) handshake(p *peer) (*room, bool) {
	data, err := p.link.recv(helloWait)
	if err != nil {
		return nil, false
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		code := "invalid_message"
		if errors.Is(err, protocol.ErrVersion) {
			code = protocol.CodeProtocolVersion
		}
		p.send(protocol.Error{Code: code, Message: err.Error()})
		return nil, false
	}
	hello, ok := msg.(protocol.Hello)
	if !ok {
		p.send(protocol.Error{Code: "handshake_required", Message: "expected hello"})
		return nil, false
	}

	var rm *room
	if hello.SessionID == "" {
		rm = s.newRoom()
	}

	s.mu.Lock()
	if rm == nil {
		rm = s.sessions[hello.SessionID]
	}
	if rm == nil {
		s.mu.Unlock()
		p.send(protocol.Error{Code: protocol.CodeSessionNotFound, Message: "unknown session " + hello.SessionID})
		return nil, false
	}
	if len(rm.peers) >= MaxPeers {
		s.mu.Unlock()
		p.send(protocol.Error{Code: protocol.CodeSessionFull, Message: "session already has two peers"})
		return nil, false
	}
	others := rm.others(p.id)
	peerIDs := make([]string, 0, len(others))
	for _, o := range others {
		peerIDs = append(peerIDs, o.id)
	}
	rm.peers[p.id] = p
	welcome := protocol.Welcome{ClientID: p.id, SessionID: rm.id, ActiveClientID: rm.active, Peers: peerIDs}
	s.mu.Unlock()

	p.send(welcome)
	for _, o := range others {
		o.send(protocol.PeerEvent{ClientID: p.id, Event: protocol.PeerJoined})
	}
	util.LogDebug("devrelay: %s joined %s", p.id, rm.id)
	return rm, true
}

// leave removes p and tells the remaining peer.
func (s *Server) leave(rm *room, p *peer) {
	s.mu.Lock()
	delete(rm.peers, p.id)
	if rm.active == p.id {
		rm.active = ""
	}
	others := rm.others(p.id)
	s.mu.Unlock()

	for _, o := range others {
		o.send(protocol.PeerEvent{ClientID: p.id, Event: protocol.PeerLeft})
	}
	util.LogDebug("devrelay: %s left %s", p.id, rm.id)
}

// forward routes one client message. Sender ids are stamped by the relay.
func (s *Server) forward(rm *room, from *peer, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.ControlTake:
		s.mu.Lock()
		if rm.active == "" || rm.active == from.id {
			rm.active = from.id
		}
		active := rm.active
		everyone := rm.others("")
		s.mu.Unlock()
		granted := protocol.ControlGranted{ActiveClientID: active}
		if active != from.id {
			from.send(granted)
			return
		}
		for _, o := range everyone {
			o.send(granted)
		}

	case protocol.ControlRelease:
		s.mu.Lock()
		if rm.active == from.id {
			rm.active = ""
		}
		others := rm.others(from.id)
		s.mu.Unlock()
		for _, o := range others {
			o.send(protocol.ControlRelease{From: from.id})
		}

	case protocol.ControlOffer:
		m.From = from.id
		s.sendTo(rm, m.To, m)

	case protocol.ControlDecline:
		m.From = from.id
		s.sendTo(rm, m.To, m)

	case protocol.ControlAccept:
		m.From = from.id
		s.mu.Lock()
		rm.active = from.id
		everyone := rm.others("")
		s.mu.Unlock()
		s.sendTo(rm, m.To, m)
		for _, o := range everyone {
			o.send(protocol.ControlGranted{ActiveClientID: from.id})
		}

	case protocol.StateSend:
		s.mu.Lock()
		allowed := rm.active == from.id
		others := rm.others(from.id)
		s.mu.Unlock()
		if !allowed {
			from.send(protocol.Error{Code: "not_active", Message: "only the active client may send state"})
			return
		}
		for _, o := range others {
			o.send(protocol.StateReceived{From: from.id, State: m.State})
		}

	case protocol.StateRequest:
		s.mu.Lock()
		others := rm.others(from.id)
		s.mu.Unlock()
		for _, o := range others {
			o.send(protocol.StateRequest{From: from.id})
		}

	default:
		util.LogDebug("devrelay: ignoring %s from %s", msg.Type(), from.id)
	}
}

func (s *Server) sendTo(rm *room, id string, msg protocol.Message) {
	s.mu.Lock()
	p := rm.peers[id]
	s.mu.Unlock()
	if p != nil {
		p.send(msg)
	}
}

// others lists the room's peers except id. Callers hold s.mu.
func (r *room) others(id string) []*peer {
	out := make([]*peer, 0, len(r.peers))
	for pid, p := range r.peers {
		if pid != id {
			out = append(out, p)
		}
	}
	return out
}
