package sync

import (
	"fmt"
	"time"

	"habitsync/internal/conflict"
)

// State is the variant of a Status
type State int

const (
	StateIdle State = iota
	StateSyncing
	StateSuccess
	StateFailed
	StateSimulatorBlocked
	StateConflictDetected
	StateAwaitingUserDecision
)

var stateNames = map[State]string{
	StateIdle:                 "idle",
	StateSyncing:              "syncing",
	StateSuccess:              "success",
	StateFailed:               "failed",
	StateSimulatorBlocked:     "simulator_blocked",
	StateConflictDetected:     "conflict_detected",
	StateAwaitingUserDecision: "awaiting_user_decision",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON and YAML output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the states reachable from each state. A sync attempt in
// a simulated environment may block from anywhere.
var transitions = map[State][]State{
	StateIdle:                 {StateSyncing, StateSimulatorBlocked},
	StateSyncing:              {StateSyncing, StateSuccess, StateFailed, StateConflictDetected, StateSimulatorBlocked},
	StateSuccess:              {StateIdle, StateSyncing, StateSimulatorBlocked},
	StateFailed:               {StateIdle, StateSyncing, StateSimulatorBlocked},
	StateSimulatorBlocked:     {StateIdle, StateSyncing, StateSimulatorBlocked},
	StateConflictDetected:     {StateAwaitingUserDecision, StateSimulatorBlocked},
	StateAwaitingUserDecision: {StateSyncing, StateIdle, StateSimulatorBlocked},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is the engine's observable state. Message is set for Syncing,
// Success and Failed; Conflict for ConflictDetected and AwaitingUserDecision.
type Status struct {
	State    State            `json:"state" yaml:"state"`
	Message  string           `json:"message,omitempty" yaml:"message,omitempty"`
	Conflict *conflict.Record `json:"conflict,omitempty" yaml:"conflict,omitempty"`
	Since    time.Time        `json:"since" yaml:"since"`
}

func Idle() Status {
	return Status{State: StateIdle}
}

func Syncing(msg string) Status {
	return Status{State: StateSyncing, Message: msg}
}

func Success(msg string) Status {
	return Status{State: StateSuccess, Message: msg}
}

func Failed(msg string) Status {
	return Status{State: StateFailed, Message: msg}
}

func SimulatorBlocked() Status {
	return Status{State: StateSimulatorBlocked, Message: "Sync is disabled in simulated environments"}
}

func ConflictDetected(rec conflict.Record) Status {
	return Status{State: StateConflictDetected, Conflict: &rec}
}

func AwaitingUserDecision(rec conflict.Record) Status {
	return Status{State: StateAwaitingUserDecision, Conflict: &rec}
}

// IsTerminal reports whether the status can be dismissed
func (s Status) IsTerminal() bool {
	return s.State == StateSuccess || s.State == StateFailed || s.State == StateSimulatorBlocked
}

// NeedsDecision reports whether syncing is blocked on a resolution
func (s Status) NeedsDecision() bool {
	return s.State == StateConflictDetected || s.State == StateAwaitingUserDecision
}

func (s Status) String() string {
	switch {
	case s.Conflict != nil:
		return fmt.Sprintf("%s (cloud data from %s)", s.State, s.Conflict.RemoteLabel())
	case s.Message != "":
		return fmt.Sprintf("%s: %s", s.State, s.Message)
	default:
		return s.State.String()
	}
}
