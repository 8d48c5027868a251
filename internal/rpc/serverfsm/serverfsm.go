// Package serverfsm models the server lifecycle (spec §4.7) as a finite
// state machine on top of the shared fsm wrapper, rather than a bare
// sync/atomic flag: stopped -> starting -> running -> stopping -> stopped.
// file: internal/rpc/serverfsm/serverfsm.go
package serverfsm

import (
	"context"

	"github.com/trafficctl/rpcmgmt/internal/fsm"
	"github.com/trafficctl/rpcmgmt/internal/logging"
)

// States the lifecycle may occupy.
const (
	Stopped  fsm.State = "stopped"
	Starting fsm.State = "starting"
	Running  fsm.State = "running"
	Stopping fsm.State = "stopping"
)

// Events that drive transitions between lifecycle states.
const (
	EventStart   fsm.Event = "start"
	EventStarted fsm.Event = "started"
	EventStop    fsm.Event = "stop"
	EventStopped fsm.Event = "stopped"
)

// Lifecycle wraps fsm.FSM with the four states and transitions the server
// needs; Server (spec §4.7) drives it instead of reimplementing the state
// table inline.
type Lifecycle struct {
	machine fsm.FSM
}

// New builds a Lifecycle starting in Stopped. onEnterRunning and
// onEnterStopped are optional hooks the owning Server attaches to run its
// init_cb/destroy_cb at the right point in the transition (spec §4.7).
func New(logger logging.Logger, onEnterRunning, onEnterStopped fsm.TransitionAction) *Lifecycle {
	machine := fsm.NewFSM(Stopped, logger)

	machine.
		AddTransition(fsm.Transition{From: []fsm.State{Stopped}, To: Starting, Event: EventStart}).
		AddTransition(fsm.Transition{From: []fsm.State{Starting}, To: Running, Event: EventStarted, Action: onEnterRunning}).
		AddTransition(fsm.Transition{From: []fsm.State{Running}, To: Stopping, Event: EventStop}).
		AddTransition(fsm.Transition{From: []fsm.State{Stopping}, To: Stopped, Event: EventStopped, Action: onEnterStopped})

	return &Lifecycle{machine: machine}
}

// Build finalises the underlying machine; callers must invoke it once
// before any transition.
func (l *Lifecycle) Build() error {
	return l.machine.Build()
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() fsm.State {
	return l.machine.CurrentState()
}

// Fire triggers event, forwarding ctx and data to any attached action.
func (l *Lifecycle) Fire(ctx context.Context, event fsm.Event, data interface{}) error {
	return l.machine.Transition(ctx, event, data)
}

// CanFire reports whether event is valid from the current state.
func (l *Lifecycle) CanFire(event fsm.Event) bool {
	return l.machine.CanTransition(event)
}
