// Package app contains the top-level orchestration for the watch and drive
// roles of the relaysync CLI.
package app

import (
	"context"
	"fmt"

	"github.com/1ureka/relaysync/internal/config"
	"github.com/1ureka/relaysync/internal/relay"
	"github.com/1ureka/relaysync/internal/transport"
	"github.com/1ureka/relaysync/internal/util"
)

// Transport names accepted by Options.Transport.
const (
	TransportWebSocket = "ws"
	TransportWebRTC    = "webrtc"
)

// Options configure a runner.
type Options struct {
	Config     config.Config
	Transport  string   // "ws" (default) or "webrtc"
	ICEServers []string // webrtc only; empty means the default STUN servers
}

// factory picks the transport implementation. Over WebRTC the relay is the
// answering peer, so every client offers.
func (o Options) factory() (transport.Factory, error) {
	switch o.Transport {
	case "", TransportWebSocket:
		return transport.NewWebSocketFactory(), nil
	case TransportWebRTC:
		return transport.NewDataChannelFactory(transport.RoleOfferer, o.ICEServers...), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: must be %q or %q", o.Transport, TransportWebSocket, TransportWebRTC)
	}
}

// runner owns one relay client for the lifetime of a command. chooseRole
// runs every time the client reaches CONNECTED_IDLE, so a role is picked
// again after each reconnect.
type runner struct {
	client     *relay.Client
	fatal      chan error
	chooseRole func() error
	render     func(relay.Event)
}

func newRunner(opts Options) (*runner, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	factory, err := opts.factory()
	if err != nil {
		return nil, err
	}
	r := &runner{fatal: make(chan error, 1)}
	r.client = relay.New(opts.Config, r.handle, relay.WithTransport(factory))
	return r, nil
}

// Client exposes the underlying relay client.
func (r *runner) Client() *relay.Client { return r.client }

func (r *runner) handle(ev relay.Event) {
	switch e := ev.(type) {
	case relay.PhaseChanged:
		util.LogDebug("phase %s → %s (%s)", e.Previous, e.Phase, e.Reason)
		if e.Phase == relay.PhaseConnectedIdle && r.chooseRole != nil {
			if err := r.chooseRole(); err != nil {
				util.LogWarning("could not choose role: %v", err)
			}
		}
	case relay.SessionResolved:
		util.LogSuccess("joined session %s as %s", e.SessionID, e.ClientID)
	case relay.PeerJoined:
		util.LogInfo("peer %s joined", e.ClientID)
	case relay.PeerLeft:
		util.LogInfo("peer %s left", e.ClientID)
	case relay.ErrorOccurred:
		if e.Err.Type == relay.ErrMaxReconnectAttempts || !e.Err.Recoverable {
			select {
			case r.fatal <- e.Err:
			default:
			}
		}
	}
	if r.render != nil {
		r.render(ev)
	}
}

// connect starts the client. With auto-reconnect on, a failed first attempt
// is left to the retry policy.
func (r *runner) connect(ctx context.Context) error {
	err := r.client.Connect(ctx)
	if err == nil {
		return nil
	}
	if r.client.Config().AutoReconnect() {
		util.LogWarning("initial connect failed, retrying: %v", err)
		return nil
	}
	return err
}

// wait blocks until ctx is done or the client reports a fatal error.
func (r *runner) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-r.fatal:
		return err
	}
}
