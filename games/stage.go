package games

import (
	"sync/atomic"
)

type Stage string

const (
	WaitingForPlayers Stage = "WaitingForPlayers" // The stage of a new game until its mode says it is ready
	Running           Stage = "Running"           // Frames are simulated
	Paused            Stage = "Paused"            // The game is paused; no time passes
	Stopped           Stage = "Stopped"           // The game was removed or the server shut down
)

var transitions = map[Stage][]Stage{
	WaitingForPlayers: {Running, Paused, Stopped},
	Running:           {WaitingForPlayers, Paused, Stopped},
	Paused:            {Running, WaitingForPlayers, Stopped},
	Stopped:           {},
}

// CanTransition reports whether a game may move from one stage to another.
func CanTransition(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type stageManager struct {
	current atomic.Value
}

func newStageManager() *stageManager {
	m := &stageManager{}
	m.current.Store(WaitingForPlayers)
	return m
}

func (m *stageManager) Current() Stage {
	return m.current.Load().(Stage)
}

func (m *stageManager) CompareAndSwap(from, to Stage) bool {
	if !CanTransition(from, to) {
		return false
	}
	return m.current.CompareAndSwap(from, to)
}

// stop moves to Stopped from any stage and returns the previous one.
func (m *stageManager) stop() Stage {
	return m.current.Swap(Stopped).(Stage)
}
