package pipeline

import (
	"slices"
	"time"
)

// State is a pipeline lifecycle position.
type State string

const (
	StateIdle              State = "idle"
	StateWorkspaceAcquired State = "workspace_acquired"
	StateExtracted         State = "extracted"
	StateOptimized         State = "optimized"
	StateRepacked          State = "repacked"
	StateReplaced          State = "replaced"
	StateFailed            State = "failed"
	StateReleased          State = "released"
)

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

var allowed = map[State][]State{
	StateIdle:              {StateWorkspaceAcquired, StateFailed},
	StateWorkspaceAcquired: {StateExtracted, StateFailed},
	StateExtracted:         {StateOptimized, StateFailed},
	StateOptimized:         {StateRepacked, StateFailed},
	StateRepacked:          {StateReplaced, StateFailed},
	StateReplaced:          {StateReleased},
	StateFailed:            {StateReleased},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	return slices.Contains(allowed[from], to)
}
