package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/relaysync/internal/util"
)

// Role decides which side of a DataChannel pair creates the SDP offer.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

// Close codes reported through OnClose by the DataChannel transport. They
// reuse the WebSocket close-code space so callers can treat both alike.
const (
	closeNormal   = websocket.CloseNormalClosure
	closeAbnormal = websocket.CloseAbnormalClosure
)

// DataChannel is a Transport carried over a WebRTC DataChannel. Connect takes
// the URL of a signaling WebSocket; the SDP/ICE exchange runs there, and the
// WebSocket is closed as soon as the DataChannel opens. A relay that
// terminates DataChannels itself uses Accept on the upgraded socket instead.
type DataChannel struct {
	handlers

	role       Role
	iceServers []string

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	isOpen    bool
	local     bool
	closeOnce sync.Once
}

// NewDataChannel creates an unconnected DataChannel transport. iceServers may
// be empty to use the default STUN servers.
func NewDataChannel(role Role, iceServers ...string) *DataChannel {
	return &DataChannel{role: role, iceServers: iceServers}
}

// NewDataChannelFactory returns a Factory producing DataChannel transports.
func NewDataChannelFactory(role Role, iceServers ...string) Factory {
	return func() Transport { return NewDataChannel(role, iceServers...) }
}

// Connect performs signaling over signalURL and blocks until the DataChannel
// is open, signaling fails, or ctx is done.
func (d *DataChannel) Connect(ctx context.Context, signalURL string) error {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, signalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return d.establish(ctx, wsConn)
}

// Accept runs the signaling exchange on a WebSocket the caller already
// upgraded. It takes ownership of conn and closes it once the DataChannel is
// open or the exchange fails. Register handlers before calling Accept so no
// early frame is missed.
func (d *DataChannel) Accept(ctx context.Context, conn *websocket.Conn) error {
	return d.establish(ctx, conn)
}

func (d *DataChannel) establish(ctx context.Context, wsConn *websocket.Conn) error {
	defer wsConn.Close()

	pc, err := newPeerConnection(d.iceServers)
	if err != nil {
		return fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return fmt.Errorf("failed to create DataChannel: %w", err)
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	dc.OnOpen(func() {
		readyOnce.Do(func() { close(ready) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.fireMessage(msg.Data)
	})
	dc.OnClose(func() {
		d.finish()
	})

	failed := make(chan struct{})
	var failOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state != webrtc.PeerConnectionStateFailed {
			return
		}
		failOnce.Do(func() { close(failed) })
		d.mu.Lock()
		open := d.isOpen
		d.mu.Unlock()
		if open {
			d.fireError(errors.New("peer connection failed"))
			d.finish()
		}
	})

	s := &signalSender{pc: pc, conn: wsConn}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			// Best-effort: a lost candidate only narrows the ICE search.
			_ = s.sendCandidate(c)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- watchSignals(wsConn, pc, s) // exits when wsConn is closed (deferred above)
	}()

	if d.role == RoleOfferer {
		if err := s.sendOffer(); err != nil {
			pc.Close()
			return fmt.Errorf("failed to send offer: %w", err)
		}
	}

	for {
		select {
		case <-ready:
			d.mu.Lock()
			d.pc, d.dc, d.isOpen = pc, dc, true
			d.mu.Unlock()
			util.LogDebug("WebRTC DataChannel established, closing signaling WS")
			d.fireOpen()
			return nil

		case err := <-errCh:
			// The far side hangs up signaling as soon as its own channel
			// opens, which may be just before ours does.
			if pc.RemoteDescription() == nil {
				pc.Close()
				return fmt.Errorf("signaling failed: %w", err)
			}
			util.LogDebug("signaling ended before the DataChannel opened: %v", err)
			errCh = nil

		case <-failed:
			pc.Close()
			return errors.New("peer connection failed")

		case <-ctx.Done():
			pc.Close()
			return ctx.Err()
		}
	}
}

// Send writes one frame to the DataChannel.
func (d *DataChannel) Send(payload []byte) error {
	d.mu.Lock()
	dc, isOpen := d.dc, d.isOpen
	d.mu.Unlock()
	if !isOpen {
		return ErrNotOpen
	}
	return dc.Send(payload)
}

// Close shuts down the DataChannel and PeerConnection.
func (d *DataChannel) Close() error {
	d.mu.Lock()
	pc, dc := d.pc, d.dc
	d.local = true
	d.mu.Unlock()
	if pc == nil {
		return nil
	}
	err := errors.Join(dc.Close(), pc.Close())
	d.finish()
	return err
}

// finish fires OnClose once after the channel was open.
func (d *DataChannel) finish() {
	d.mu.Lock()
	wasOpen, local := d.isOpen, d.local
	d.isOpen = false
	d.mu.Unlock()
	if !wasOpen {
		return
	}
	d.closeOnce.Do(func() {
		if local {
			d.fireClose(closeNormal, "client closed")
			return
		}
		d.fireClose(closeAbnormal, "data channel closed")
	})
}
