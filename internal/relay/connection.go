package relay

import (
	"context"
	"errors"
	"time"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/transport"
	"github.com/1ureka/relaysync/internal/util"
)

// ConnectionStatus is the transport-level state, tracked independently of
// Phase: the transport is CONNECTED while the phase is still CONNECTING
// during the handshake.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// connectionManager owns the current transport and the retry policy. It is
// guarded by the client lock.
type connectionManager struct {
	factory transport.Factory
	tr      transport.Transport
	status  ConnectionStatus

	// gen identifies the current transport; callbacks and timers carrying an
	// older generation are ignored.
	gen           uint64
	cancelAttempt context.CancelFunc
	handshake     *time.Timer

	attempts     int
	reconnect    *time.Timer
	reconnectSeq uint64
}

// Connect opens the transport and sends the handshake. It returns once the
// transport is open (the phase reaches CONNECTED_IDLE asynchronously when the
// relay answers) or with a CONNECTION_FAILED error. With AutoReconnect, a
// failed attempt also schedules retries in the background.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, 0)
}

// Disconnect cancels any pending reconnect and in-flight attempt, closes the
// transport and drops to DISCONNECTED. Safe to call when already
// disconnected.
func (c *Client) Disconnect() {
	c.lock()
	defer c.unlock()
	c.conn.attempts = 0
	c.dropLocked("disconnect requested", false)
}

// connect runs one connection attempt. seq is zero for host-initiated
// attempts and the reconnect sequence number for timer-initiated ones.
func (c *Client) connect(ctx context.Context, seq uint64) error {
	c.lock()
	if seq != 0 && seq != c.conn.reconnectSeq {
		// Cancelled by Disconnect or superseded by a manual Connect.
		c.unlock()
		return nil
	}
	if c.conn.status != StatusDisconnected {
		status := c.conn.status
		c.unlock()
		return newError(ErrInvalidOperation, false, "connect called while %s", status)
	}
	c.stopReconnectLocked()

	if err := c.phase.set(PhaseConnecting, "connecting to "+c.cfg.ServerURL); err != nil {
		c.unlock()
		return err
	}
	c.conn.gen++
	gen := c.conn.gen
	started := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	c.conn.cancelAttempt = cancel
	c.setStatusLocked(StatusConnecting)

	tr := c.conn.factory()
	c.bindLocked(tr, gen)
	c.conn.tr = tr
	url := c.cfg.ServerURL
	c.unlock()

	err := tr.Connect(attemptCtx, url)
	cancel()

	c.lock()
	defer c.unlock()

	if gen != c.conn.gen {
		// Disconnect ran while we were dialing.
		if err == nil {
			c.toClose = append(c.toClose, tr)
		}
		return newError(ErrConnectionFailed, false, "connection attempt cancelled")
	}
	c.conn.cancelAttempt = nil

	if err != nil {
		c.conn.tr = nil
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "no connection within " + c.cfg.ConnectionTimeout.String()
		}
		serr := newError(ErrConnectionFailed, c.cfg.AutoReconnect(), "%s: %s", url, msg)
		c.reportLocked(serr)
		c.dropLocked("connection failed", c.cfg.AutoReconnect())
		return serr
	}

	c.conn.attempts = 0
	c.setStatusLocked(StatusConnected)
	util.LogInfo("connected to relay %s", url)

	c.sendLocked(protocol.Hello{SessionID: c.session.joinID()})

	remaining := c.cfg.ConnectionTimeout - time.Since(started)
	if remaining < 0 {
		remaining = 0
	}
	c.conn.handshake = time.AfterFunc(remaining, func() { c.handshakeExpired(gen) })
	return nil
}

// bindLocked registers the transport callbacks, tagged with gen.
func (c *Client) bindLocked(tr transport.Transport, gen uint64) {
	tr.OnOpen(func() {
		util.LogDebug("transport open (gen %d)", gen)
	})
	tr.OnMessage(func(payload []byte) {
		c.dispatcher.receive(gen, payload)
	})
	tr.OnError(func(err error) {
		// The close that follows drives the lifecycle.
		util.LogWarning("transport error: %v", err)
	})
	tr.OnClose(func(code int, reason string) {
		c.transportClosed(gen, code, reason)
	})
}

// transportClosed handles the end of a transport. Only unexpected closes of
// the current transport reach the body.
func (c *Client) transportClosed(gen uint64, code int, reason string) {
	c.lock()
	defer c.unlock()
	if gen != c.conn.gen {
		return
	}
	c.conn.tr = nil // already closed
	c.reportLocked(newError(ErrConnectionLost, c.cfg.AutoReconnect(),
		"connection closed (code %d): %s", code, reason))
	c.dropLocked("connection lost", c.cfg.AutoReconnect())
}

// handshakeExpired fires when the relay did not assign a client id in time.
func (c *Client) handshakeExpired(gen uint64) {
	c.lock()
	defer c.unlock()
	if gen != c.conn.gen || c.phase.current() != PhaseConnecting {
		return
	}
	c.reportLocked(newError(ErrTimeout, c.cfg.AutoReconnect(),
		"relay handshake not completed within %s", c.cfg.ConnectionTimeout))
	c.dropLocked("handshake timed out", c.cfg.AutoReconnect())
}

// dropLocked tears down the current connection state and forces the phase
// to DISCONNECTED. With reconnect set, a retry is scheduled per policy.
func (c *Client) dropLocked(reason string, reconnect bool) {
	c.conn.gen++
	if c.conn.cancelAttempt != nil {
		c.conn.cancelAttempt()
		c.conn.cancelAttempt = nil
	}
	if c.conn.handshake != nil {
		c.conn.handshake.Stop()
		c.conn.handshake = nil
	}
	if c.conn.tr != nil {
		c.toClose = append(c.toClose, c.conn.tr)
		c.conn.tr = nil
	}
	if !reconnect {
		c.stopReconnectLocked()
	}
	c.setStatusLocked(StatusDisconnected)
	c.session.reset(reconnect)
	c.control.reset()

	if c.phase.current() != PhaseDisconnected {
		_ = c.phase.set(PhaseDisconnected, reason)
	}
	if reconnect {
		c.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the reconnect timer, or gives up once the
// attempt budget is exhausted.
func (c *Client) scheduleReconnectLocked() {
	c.conn.attempts++
	if c.conn.attempts > c.cfg.MaxReconnectAttempts {
		err := newError(ErrMaxReconnectAttempts, false,
			"gave up after %d reconnect attempts", c.cfg.MaxReconnectAttempts)
		err.Action = "call Connect again"
		c.conn.attempts = 0
		c.session.reset(false)
		c.reportLocked(err)
		return
	}

	util.Stats.AddReconnect()
	util.LogInfo("reconnecting in %s (attempt %d/%d)",
		c.cfg.ReconnectDelay, c.conn.attempts, c.cfg.MaxReconnectAttempts)

	c.conn.reconnectSeq++
	seq := c.conn.reconnectSeq
	c.conn.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		// Errors are reported as events by connect itself.
		_ = c.connect(context.Background(), seq)
	})
}

// stopReconnectLocked cancels a pending reconnect timer.
func (c *Client) stopReconnectLocked() {
	c.conn.reconnectSeq++
	if c.conn.reconnect != nil {
		c.conn.reconnect.Stop()
		c.conn.reconnect = nil
	}
}

func (c *Client) setStatusLocked(s ConnectionStatus) {
	if c.conn.status == s {
		return
	}
	c.conn.status = s
	c.events.push(ConnectionChanged{Status: s})
}
