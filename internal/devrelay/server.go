// Package devrelay is a minimal in-process relay: a session endpoint plus a
// hub that forwards sync messages between at most two peers per session and
// arbitrates the active role first-request-wins. Peers reach the hub over a
// WebSocket at /ws, or over a WebRTC DataChannel signaled at /rtc with the
// relay as the answering side. It exists for local development and tests;
// production relays live elsewhere.
package devrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/util"
)

const (
	// MaxPeers is the number of clients one session admits.
	MaxPeers = 2

	helloWait = 5 * time.Second
	writeWait = 5 * time.Second
	rtcWait   = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the dev relay. The zero value is not usable; call NewServer.
type Server struct {
	// ICEServers are the STUN URLs used when answering /rtc peers. Empty
	// means the transport defaults.
	ICEServers []string

	sessionPath string

	mu       sync.Mutex
	sessions map[string]*room

	listener net.Listener
	http     *http.Server
}

// room is one session's peer set and arbitration state.
type room struct {
	id        string
	createdAt time.Time
	peers     map[string]*peer
	active    string
}

// peer is one connected client. Writes are serialized by mu.
type peer struct {
	id   string
	link link
	mu   sync.Mutex
}

func (p *peer) send(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		util.LogError("devrelay: encode %s: %v", msg.Type(), err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.link.send(frame); err != nil {
		util.LogDebug("devrelay: send to %s failed: %v", p.id, err)
	}
}

// NewServer creates a relay serving sessions at sessionPath (e.g.
// "/api/sessions"), WebSocket clients at "/ws" and DataChannel signaling at
// "/rtc".
func NewServer(sessionPath string) *Server {
	return &Server{
		sessionPath: sessionPath,
		sessions:    make(map[string]*room),
	}
}

// Handler returns the HTTP handler, for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.sessionPath, s.handleCreate)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/rtc", s.handleRTC)
	return mux
}

// Start begins listening on addr (":0" for a random port) and returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: helloWait}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("devrelay: serve: %v", err)
		}
	}()
	return listener.Addr().String(), nil
}

// Close shuts the listener down and drops every client.
func (s *Server) Close() error {
	s.mu.Lock()
	for _, r := range s.sessions {
		for _, p := range r.peers {
			_ = p.link.close()
		}
	}
	s.mu.Unlock()

	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Sessions returns the ids of all known sessions.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Active returns the active client of a session, or "".
func (s *Server) Active(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[sessionID]; ok {
		return r.active
	}
	return ""
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rm := s.newRoom()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessionId": rm.id,
		"createdAt": rm.createdAt,
	})
}

func (s *Server) newRoom() *room {
	rm := &room{id: uuid.NewString(), createdAt: time.Now().UTC(), peers: make(map[string]*peer)}
	s.mu.Lock()
	s.sessions[rm.id] = rm
	s.mu.Unlock()
	util.LogDebug("devrelay: session %s created", rm.id)
	return rm
}
