package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/util"
)

// SessionSource records where the current session id came from.
type SessionSource string

const (
	SourceSupplied SessionSource = "supplied" // from config; survives disconnects
	SourceCreated  SessionSource = "created"  // from Session.Create
	SourceAssigned SessionSource = "assigned" // chosen by the relay at handshake
)

// SessionInfo is the last known session metadata.
type SessionInfo struct {
	ID             string
	ClientID       string
	ActiveClientID string
	Peers          []string
	Source         SessionSource
	CreatedAt      time.Time
}

// sessionManager tracks session and client identity. Guarded by the client
// lock.
type sessionManager struct {
	http     *http.Client
	supplied string

	id             string
	source         SessionSource
	createdAt      time.Time
	clientID       string
	activeClientID string
	peers          []string

	// rejoin keeps a connection-scoped id across an automatic reconnect.
	rejoin string
}

// reset clears connection-scoped identity. A supplied session id survives;
// with keepRejoin, any other id is kept only as the reconnect target.
func (s *sessionManager) reset(keepRejoin bool) {
	if keepRejoin && s.id != "" {
		s.rejoin = s.id
	} else if !keepRejoin {
		s.rejoin = ""
	}
	s.clientID = ""
	s.activeClientID = ""
	s.peers = nil
	s.id, s.source, s.createdAt = "", "", time.Time{}
	if s.supplied != "" {
		s.id, s.source = s.supplied, SourceSupplied
	}
}

// joinID picks the session id announced in the handshake.
func (s *sessionManager) joinID() string {
	if s.source == SourceCreated {
		return s.id
	}
	if s.rejoin != "" {
		return s.rejoin
	}
	return s.supplied
}

// welcome applies the relay's handshake answer.
func (s *sessionManager) welcome(w protocol.Welcome) {
	switch {
	case w.SessionID != "" && w.SessionID == s.supplied:
		s.source = SourceSupplied
	case w.SessionID != "" && s.source == SourceCreated && w.SessionID == s.id:
	default:
		s.source, s.createdAt = SourceAssigned, time.Now()
	}
	s.id = w.SessionID
	s.rejoin = ""
	s.clientID = w.ClientID
	s.activeClientID = w.ActiveClientID
	s.peers = s.peers[:0]
	for _, p := range w.Peers {
		if p != w.ClientID {
			s.peers = append(s.peers, p)
		}
	}
}

func (s *sessionManager) addPeer(id string) bool {
	for _, p := range s.peers {
		if p == id {
			return false
		}
	}
	s.peers = append(s.peers, id)
	return true
}

func (s *sessionManager) removePeer(id string) bool {
	for i, p := range s.peers {
		if p == id {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *sessionManager) info() *SessionInfo {
	if s.id == "" {
		return nil
	}
	return &SessionInfo{
		ID:             s.id,
		ClientID:       s.clientID,
		ActiveClientID: s.activeClientID,
		Peers:          append([]string(nil), s.peers...),
		Source:         s.source,
		CreatedAt:      s.createdAt,
	}
}

// ---------------------------------------------------------------------------
// Session operations
// ---------------------------------------------------------------------------

// SessionOps resolve and inspect the session.
type SessionOps struct{ c *Client }

// ID returns the current session id, or "" when unresolved.
func (s SessionOps) ID() string {
	s.c.lock()
	defer s.c.unlock()
	return s.c.session.id
}

// ClientID returns the relay-assigned client id, or "" before the handshake.
func (s SessionOps) ClientID() string {
	s.c.lock()
	defer s.c.unlock()
	return s.c.session.clientID
}

// Info returns the last known session metadata, or nil when unresolved.
func (s SessionOps) Info() *SessionInfo {
	s.c.lock()
	defer s.c.unlock()
	return s.c.session.info()
}

// createResponse is the body returned by the session endpoint.
type createResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Create asks the session endpoint for a new session. The id is announced in
// the next handshake. Non-success responses fail with SERVER_ERROR.
func (s SessionOps) Create(ctx context.Context) (*SessionInfo, error) {
	c := s.c
	endpoint, err := sessionURL(c.cfg.ServerURL, c.cfg.SessionEndpoint)
	if err != nil {
		return nil, newError(ErrInvalidOperation, false, "%v", err)
	}

	c.lock()
	hc := c.session.http
	c.unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, newError(ErrInvalidOperation, false, "build session request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, newError(ErrServerError, true, "session request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, newError(ErrServerError, true, "read session response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(ErrServerError, resp.StatusCode >= 500,
			"session endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr createResponse
	if err := json.Unmarshal(body, &cr); err != nil || cr.SessionID == "" {
		return nil, newError(ErrServerError, false, "session endpoint returned no session id")
	}
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = time.Now()
	}

	c.lock()
	defer c.unlock()
	c.session.id = cr.SessionID
	c.session.source = SourceCreated
	c.session.createdAt = cr.CreatedAt
	c.session.rejoin = ""
	c.events.push(SessionCreated{SessionID: cr.SessionID})
	util.LogInfo("created session %s", cr.SessionID)
	return c.session.info(), nil
}

// sessionURL resolves the session endpoint against the relay URL: an
// absolute http(s) endpoint is used as is, a path is joined onto the relay
// host with ws→http and wss→https.
func sessionURL(serverURL, endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("no session endpoint configured")
	}
	if ep, err := url.Parse(endpoint); err == nil && (ep.Scheme == "http" || ep.Scheme == "https") {
		return endpoint, nil
	}

	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server url: %q", serverURL)
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: endpoint}).String(), nil
}
