package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/relaysync/internal/config"
	"github.com/1ureka/relaysync/internal/protocol"
)

var sampleState = protocol.TutorialState{
	TutorialID:    "git-basics",
	TutorialTitle: "Git Basics",
	TotalSteps:    5,
	StepContent:   "## Step 2\nCommit your work.",
	RepoURL:       "https://example.com/tutorials/git-basics.git",
}

func TestNewClientStartsDisconnected(t *testing.T) {
	c := New(testConfig(), nil)

	assert.Equal(t, PhaseDisconnected, c.CurrentPhase())
	assert.Empty(t, c.Session.ID())
	assert.Nil(t, c.Session.Info())
	assert.Empty(t, c.Session.ClientID())
	assert.Nil(t, c.Tutorial.LastState())
	assert.False(t, c.Is.Connected())
	assert.False(t, c.Is.Active())
	assert.False(t, c.Is.Passive())
	assert.False(t, c.Is.Idle())
}

func TestSuppliedSessionIDIsVisibleBeforeConnect(t *testing.T) {
	cfg := testConfig()
	cfg.SessionID = "lesson-42"
	c := New(cfg, nil)

	assert.Equal(t, "lesson-42", c.Session.ID())
	require.NotNil(t, c.Session.Info())
	assert.Equal(t, SourceSupplied, c.Session.Info().Source)
}

func TestManualPhaseWalkToActive(t *testing.T) {
	c := New(config.Config{ServerURL: "ws://localhost:9999"}, nil)

	require.NoError(t, c.setPhase(PhaseConnecting, "start"))
	require.NoError(t, c.setPhase(PhaseConnectedIdle, "open"))
	require.NoError(t, c.setPhase(PhaseActive, "claim"))

	assert.Equal(t, PhaseActive, c.CurrentPhase())
	assert.True(t, c.Is.Active())
	assert.False(t, c.Is.Passive())

	require.NoError(t, c.setPhase(PhasePassive, "handoff"))

	err := c.Tutorial.SendState(sampleState)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active clients")
	assert.NoError(t, c.Tutorial.RequestState())
}

func TestSendStatePermission(t *testing.T) {
	path := map[Phase][]Phase{
		PhaseDisconnected:  nil,
		PhaseConnecting:    {PhaseConnecting},
		PhaseConnectedIdle: {PhaseConnecting, PhaseConnectedIdle},
		PhasePassive:       {PhaseConnecting, PhaseConnectedIdle, PhasePassive},
	}

	var messages []string
	for phase, steps := range path {
		t.Run(phase.String(), func(t *testing.T) {
			c := New(testConfig(), nil)
			for _, p := range steps {
				require.NoError(t, c.setPhase(p, "walk"))
			}

			err := c.Tutorial.SendState(sampleState)
			require.Error(t, err)
			assert.True(t, IsType(err, ErrInvalidOperation))
			messages = append(messages, err.(*SyncError).Message)
			assert.Nil(t, c.Tutorial.LastState())
		})
	}

	for _, m := range messages {
		assert.Equal(t, msgNotActive, m)
	}
}

func TestRequestStateGate(t *testing.T) {
	testCases := []struct {
		name    string
		steps   []Phase
		wantErr bool
	}{
		{"disconnected", nil, true},
		{"connecting", []Phase{PhaseConnecting}, true},
		{"idle", []Phase{PhaseConnecting, PhaseConnectedIdle}, false},
		{"active", []Phase{PhaseConnecting, PhaseConnectedIdle, PhaseActive}, false},
		{"passive", []Phase{PhaseConnecting, PhaseConnectedIdle, PhasePassive}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			c := New(testConfig(), rec.handle)
			for _, p := range tc.steps {
				require.NoError(t, c.setPhase(p, "walk"))
			}

			err := c.Tutorial.RequestState()
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), msgNotConnected)
				return
			}
			require.NoError(t, err)
			// Without a transport the send failure is reported, not returned.
			assert.Len(t, rec.errorsOf(ErrConnectionLost), 1)
		})
	}
}

func TestSendStateWhileActive(t *testing.T) {
	c, d, _ := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c1")

	require.NoError(t, c.Sync.AsActive())
	require.NoError(t, c.Tutorial.SendState(sampleState))

	got := c.Tutorial.LastState()
	require.NotNil(t, got)
	assert.Equal(t, sampleState, *got)
	assert.Equal(t, protocol.StateSend{State: sampleState}, tr.lastSent(t))

	// The cache hands out copies.
	got.TotalSteps = 99
	assert.Equal(t, 5, c.Tutorial.LastState().TotalSteps)
}

func TestStateReceivedOverwritesCache(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c2", "c1")
	require.NoError(t, c.Sync.AsPassive())
	assert.Equal(t, []protocol.Type{protocol.TypeHello, protocol.TypeStateRequest}, tr.sentTypes(t))

	first := sampleState
	second := sampleState
	second.IsShowingSolution = true

	tr.deliver(t, protocol.StateReceived{From: "c1", State: first})
	tr.deliver(t, protocol.StateReceived{From: "c1", State: second})

	assert.Equal(t, second, *c.Tutorial.LastState())
	var received []protocol.TutorialState
	for _, ev := range rec.all() {
		if e, ok := ev.(TutorialStateReceived); ok {
			assert.Equal(t, "c1", e.From)
			received = append(received, e.State)
		}
	}
	assert.Equal(t, []protocol.TutorialState{first, second}, received)
}

func TestActiveAnswersStateRequest(t *testing.T) {
	c, d, _ := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c1", "c2")
	require.NoError(t, c.Sync.AsActive())
	require.NoError(t, c.Tutorial.SendState(sampleState))

	tr.deliver(t, protocol.StateRequest{From: "c2"})
	assert.Equal(t, protocol.StateSend{State: sampleState}, tr.lastSent(t))
}

func TestDisconnectClearsIdentityKeepsState(t *testing.T) {
	c, d, rec := newFakeClient(t, testConfig())
	joined(t, c, d, "c1")
	require.NoError(t, c.Sync.AsActive())
	require.NoError(t, c.Tutorial.SendState(sampleState))

	c.Disconnect()

	assert.Equal(t, PhaseDisconnected, c.CurrentPhase())
	assert.Empty(t, c.Session.ID())
	assert.Empty(t, c.Session.ClientID())
	assert.Equal(t, sampleState, *c.Tutorial.LastState())
	assert.Equal(t, StatusDisconnected, c.UIState().Status)

	// Idempotent: a second call changes nothing and emits nothing.
	before := len(rec.all())
	c.Disconnect()
	assert.Len(t, rec.all(), before)
}

func TestConnectTwiceFails(t *testing.T) {
	c, d, _ := newFakeClient(t, testConfig())
	joined(t, c, d, "c1")

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, IsType(err, ErrInvalidOperation))
}

func TestUIState(t *testing.T) {
	c, d, _ := newFakeClient(t, testConfig())
	tr := joined(t, c, d, "c1", "c2")
	tr.deliver(t, protocol.ControlGranted{ActiveClientID: "c2"})

	ui := c.UIState()
	assert.Equal(t, PhaseConnectedIdle, ui.Phase)
	assert.Equal(t, StatusConnected, ui.Status)
	assert.Equal(t, "s1", ui.SessionID)
	assert.Equal(t, "c1", ui.ClientID)
	assert.Equal(t, "c2", ui.ActiveClientID)
	assert.Equal(t, []string{"c2"}, ui.Peers)
}

func TestHandlerMayReenterClient(t *testing.T) {
	rec := &recorder{}
	d := &fakeDialer{}
	c := New(testConfig(), rec.handle, WithTransport(d.factory))
	t.Cleanup(c.Disconnect)

	var phasesSeen []string
	rec.hook = func(ev Event) {
		if _, ok := ev.(PhaseChanged); ok {
			phasesSeen = append(phasesSeen, c.CurrentPhase().String())
		}
	}
	joined(t, c, d, "c1")

	assert.Equal(t, "CONNECTING,CONNECTED_IDLE", strings.Join(phasesSeen, ","))
}
