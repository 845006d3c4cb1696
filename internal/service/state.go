package service

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of the launched services.
type State int

const (
	NeedsConfiguration State = iota
	Configuring
	Starting
	Running
	Stopping
	Stopped
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case NeedsConfiguration:
		return "NeedsConfiguration"
	case Configuring:
		return "Configuring"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case ShuttingDown:
		return "ShuttingDown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// 合法的状态迁移；任何状态都可以进入 ShuttingDown
var transitions = map[State][]State{
	NeedsConfiguration: {Configuring},
	Configuring:        {Starting, NeedsConfiguration},
	Starting:           {Running, Stopped},
	Running:            {Stopping},
	Stopping:           {Stopped},
	Stopped:            {Starting},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	if to == ShuttingDown {
		return from != ShuttingDown
	}
	return slices.Contains(transitions[from], to)
}
