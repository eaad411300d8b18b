// Package fsm tracks the recognition stream lifecycle.
package fsm

import "fmt"

// State names one point in the stream lifecycle.
type State string

// Event is a lifecycle trigger fed to Transition.
type Event string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

const (
	EventStart   Event = "start"
	EventStarted Event = "started"
	EventEnded   Event = "ended"
	EventError   Event = "error"
	EventStop    Event = "stop"
)

// transitions holds every legal edge except EventStop, which is
// accepted from any state.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart: StateStarting,
	},
	StateStarting: {
		EventStarted: StateRunning,
		EventEnded:   StateRestarting,
		EventError:   StateRestarting,
	},
	StateRunning: {
		EventEnded: StateRestarting,
		EventError: StateRestarting,
	},
	StateRestarting: {
		EventStarted: StateRunning,
		EventEnded:   StateRestarting,
		EventError:   StateRestarting,
	},
	StateStopped: {
		EventStart:   StateStarting,
		EventStarted: StateStopped,
		EventEnded:   StateStopped,
		EventError:   StateStopped,
	},
}

// Transition applies event to current. An intentional stop wins from
// every state, and stray termination signals cannot leave stopped.
func Transition(current State, event Event) (State, error) {
	if event == EventStop {
		return StateStopped, nil
	}

	edges, ok := transitions[current]
	if !ok {
		return current, fmt.Errorf("unknown state %q", current)
	}
	next, ok := edges[event]
	if !ok {
		return current, fmt.Errorf("invalid transition: %s --(%s)--> ?", current, event)
	}
	return next, nil
}
