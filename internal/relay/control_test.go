package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/relaysync/internal/protocol"
)

// offerFrom delivers an inbound offer and returns the resulting event.
func offerFrom(t *testing.T, tr *fakeTransport, rec *recorder, id, from, to string, state *protocol.TutorialState) *ControlOffer {
	t.Helper()
	tr.deliver(t, protocol.ControlOffer{OfferID: id, From: from, To: to, State: state})
	ev := rec.waitFor(t, func(ev Event) bool {
		e, ok := ev.(ControlOfferReceived)
		return ok && e.Offer.ID == id
	})
	return ev.(ControlOfferReceived).Offer
}

func countType(types []protocol.Type, want protocol.Type) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func TestAcceptOfferIsResolvedOnce(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c2", "c1")
	require.NoError(t, c.Sync.AsPassive())

	offer := offerFrom(t, tr, rec, "o1", "c1", "c2", &sampleState)
	assert.Equal(t, "c1", offer.FromClientID)
	require.NotNil(t, offer.State)
	assert.Equal(t, sampleState, *offer.State)

	require.NoError(t, offer.Accept())
	assert.Equal(t, PhaseActive, c.CurrentPhase())
	assert.Equal(t, sampleState, *c.Tutorial.LastState())
	assert.Equal(t, protocol.ControlAccept{OfferID: "o1", From: "c2", To: "c1"}, tr.lastSent(t))

	phasesBefore := len(rec.phases())
	require.NoError(t, offer.Accept())
	require.NoError(t, offer.Decline())

	types := tr.sentTypes(t)
	assert.Equal(t, 1, countType(types, protocol.TypeControlAccept))
	assert.Zero(t, countType(types, protocol.TypeControlDecline))
	assert.Len(t, rec.phases(), phasesBefore)
}

func TestDeclineOfferIsResolvedOnce(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c2", "c1")

	offer := offerFrom(t, tr, rec, "o1", "c1", "c2", nil)
	assert.Nil(t, offer.State)

	require.NoError(t, offer.Decline())
	require.NoError(t, offer.Decline())
	require.NoError(t, offer.Accept())

	assert.Equal(t, PhaseConnectedIdle, c.CurrentPhase())
	types := tr.sentTypes(t)
	assert.Equal(t, 1, countType(types, protocol.TypeControlDecline))
	assert.Zero(t, countType(types, protocol.TypeControlAccept))
}

func TestAcceptFromConnectedIdle(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c2", "c1")

	offer := offerFrom(t, tr, rec, "o1", "c1", "", nil)
	require.NoError(t, offer.Accept())
	assert.Equal(t, PhaseActive, c.CurrentPhase())
}

func TestOfferToOtherClientIsIgnored(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c2", "c1")

	tr.deliver(t, protocol.ControlOffer{OfferID: "o1", From: "c1", To: "c3"})
	for _, ev := range rec.all() {
		_, isOffer := ev.(ControlOfferReceived)
		assert.False(t, isOffer)
	}
}

func TestOfferExpiresOnDisconnect(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c2", "c1")
	offer := offerFrom(t, tr, rec, "o1", "c1", "c2", nil)

	c.Disconnect()
	require.NoError(t, offer.Accept())
	assert.Equal(t, PhaseDisconnected, c.CurrentPhase())
}

func TestOfferToPeerHandoff(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c1", "c2")

	_, err := c.Control.OfferToPeer("c2")
	require.Error(t, err, "only active clients can offer")

	require.NoError(t, c.Sync.AsActive())
	require.NoError(t, c.Tutorial.SendState(sampleState))

	_, err = c.Control.OfferToPeer("")
	require.Error(t, err)
	_, err = c.Control.OfferToPeer("c1")
	require.Error(t, err)

	id, err := c.Control.OfferToPeer("c2")
	require.NoError(t, err)
	sent, ok := tr.lastSent(t).(protocol.ControlOffer)
	require.True(t, ok)
	assert.Equal(t, id, sent.OfferID)
	assert.Equal(t, "c2", sent.To)
	require.NotNil(t, sent.State)
	assert.Equal(t, sampleState, *sent.State)
	assert.Equal(t, PhaseActive, c.CurrentPhase(), "phase waits for the answer")

	tr.deliver(t, protocol.ControlAccept{OfferID: id, From: "c2", To: "c1"})
	assert.Equal(t, PhasePassive, c.CurrentPhase())
	assert.Equal(t, "c2", c.Session.Info().ActiveClientID)
	rec.waitFor(t, func(ev Event) bool { return ev == ControlAccepted{By: "c2"} })

	// A repeated accept for the same offer is ignored.
	tr.deliver(t, protocol.ControlAccept{OfferID: id, From: "c2", To: "c1"})
	assert.Equal(t, PhasePassive, c.CurrentPhase())
}

func TestOfferToPeerDeclined(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c1", "c2")
	require.NoError(t, c.Sync.AsActive())

	id, err := c.Control.OfferToPeer("c2")
	require.NoError(t, err)
	tr.deliver(t, protocol.ControlDecline{OfferID: id, From: "c2", To: "c1"})

	assert.Equal(t, PhaseActive, c.CurrentPhase())
	rec.waitFor(t, func(ev Event) bool { return ev == ControlDeclined{By: "c2"} })
}

func TestTakeControl(t *testing.T) {
	t.Run("granted", func(t *testing.T) {
		c, d, _ := newFakeClient(t, testConfig())
		tr := joined(t, c, d, "c1")

		require.NoError(t, c.Control.TakeControl())
		assert.Equal(t, protocol.ControlTake{From: "c1"}, tr.lastSent(t))
		assert.Equal(t, PhaseConnectedIdle, c.CurrentPhase(), "phase waits for the grant")

		tr.deliver(t, protocol.ControlGranted{ActiveClientID: "c1"})
		assert.Equal(t, PhaseActive, c.CurrentPhase())
	})

	t.Run("lost race", func(t *testing.T) {
		c, d, rec := newFakeClient(t, testConfig())
		tr := joined(t, c, d, "c1", "c2")

		require.NoError(t, c.Control.TakeControl())
		tr.deliver(t, protocol.ControlGranted{ActiveClientID: "c2"})

		assert.Equal(t, PhaseConnectedIdle, c.CurrentPhase())
		assert.Len(t, rec.errorsOf(ErrInvalidOperation), 1)
	})

	t.Run("held by other", func(t *testing.T) {
		c, d, _ := newFakeClient(t, testConfig())
		tr := joined(t, c, d, "c1", "c2")
		tr.deliver(t, protocol.ControlGranted{ActiveClientID: "c2"})

		err := c.Control.TakeControl()
		require.Error(t, err)
		assert.True(t, IsType(err, ErrInvalidOperation))
		assert.Error(t, c.Sync.AsActive())
	})

	t.Run("not while active", func(t *testing.T) {
		c, d, _ := newFakeClient(t, testConfig())
		joined(t, c, d, "c1")
		require.NoError(t, c.Sync.AsActive())
		assert.Error(t, c.Control.TakeControl())
	})

	t.Run("after peer released", func(t *testing.T) {
		c, d, _ := newFakeClient(t, testConfig())
		tr := joined(t, c, d, "c1", "c2")
		tr.deliver(t, protocol.ControlGranted{ActiveClientID: "c2"})
		require.NoError(t, c.Sync.AsPassive())

		tr.deliver(t, protocol.ControlRelease{From: "c2"})
		require.NoError(t, c.Control.TakeControl())
		tr.deliver(t, protocol.ControlGranted{ActiveClientID: "c1"})
		assert.Equal(t, PhaseActive, c.CurrentPhase())
	})
}

func TestRelayPreemptsOptimisticClaim(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c1", "c2")
	require.NoError(t, c.Sync.AsActive())

	tr.deliver(t, protocol.ControlGranted{ActiveClientID: "c2"})

	assert.Equal(t, PhasePassive, c.CurrentPhase())
	assert.Len(t, rec.errorsOf(ErrInvalidOperation), 1)
}

func TestRelease(t *testing.T) {
	c, d, _ := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c1")

	require.Error(t, c.Control.Release())

	require.NoError(t, c.Sync.AsActive())
	require.NoError(t, c.Control.Release())
	assert.Equal(t, PhasePassive, c.CurrentPhase())
	assert.Equal(t, protocol.ControlRelease{From: "c1"}, tr.lastSent(t))
	assert.Empty(t, c.Session.Info().ActiveClientID)
}

func TestPeerLeftDropsPendingOffers(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c2", "c1")
	offer := offerFrom(t, tr, rec, "o1", "c1", "c2", nil)

	tr.deliver(t, protocol.PeerEvent{ClientID: "c1", Event: protocol.PeerLeft})
	rec.waitFor(t, func(ev Event) bool { return ev == PeerLeft{ClientID: "c1"} })

	require.NoError(t, offer.Accept())
	assert.Equal(t, PhaseConnectedIdle, c.CurrentPhase())
	assert.Empty(t, c.Session.Info().Peers)
}
