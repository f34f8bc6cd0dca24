package relay

import (
	"fmt"

	"github.com/1ureka/relaysync/internal/util"
)

// Phase is the local session lifecycle state.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnectedIdle
	PhaseActive
	PhasePassive
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "DISCONNECTED"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseConnectedIdle:
		return "CONNECTED_IDLE"
	case PhaseActive:
		return "ACTIVE"
	case PhasePassive:
		return "PASSIVE"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// transitions is the complete legal graph. Every phase may also drop to
// PhaseDisconnected.
var transitions = map[Phase][]Phase{
	PhaseDisconnected:  {PhaseConnecting},
	PhaseConnecting:    {PhaseConnectedIdle},
	PhaseConnectedIdle: {PhaseActive, PhasePassive},
	PhaseActive:        {PhasePassive},
	PhasePassive:       {PhaseActive},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Phase) bool {
	if to == PhaseDisconnected {
		return from != PhaseDisconnected
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// phaseMachine is the single source of truth for the current Phase. It is
// guarded by the client lock.
type phaseMachine struct {
	phase Phase
	emit  func(Event)
}

// set validates and applies a transition, emitting PhaseChanged on success.
// An illegal transition leaves the phase unchanged.
func (m *phaseMachine) set(next Phase, reason string) error {
	prev := m.phase
	if !CanTransition(prev, next) {
		err := newError(ErrInvalidStateTransition, false,
			"illegal phase transition %s → %s (%s)", prev, next, reason)
		util.LogWarning("%v", err)
		return err
	}
	m.phase = next
	util.Stats.AddPhase()
	util.LogDebug("phase %s → %s: %s", prev, next, reason)
	m.emit(PhaseChanged{Phase: next, Previous: prev, Reason: reason})
	return nil
}

func (m *phaseMachine) current() Phase { return m.phase }

// Derived predicates; never stored.

func (m *phaseMachine) connected() bool {
	switch m.phase {
	case PhaseConnectedIdle, PhaseActive, PhasePassive:
		return true
	}
	return false
}

func (m *phaseMachine) active() bool  { return m.phase == PhaseActive }
func (m *phaseMachine) passive() bool { return m.phase == PhasePassive }
func (m *phaseMachine) idle() bool    { return m.phase == PhaseConnectedIdle }
