package physics

import (
	"time"

	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/state"
)

// Stage contribution types, in the order they run within a tick.
const (
	TypeBeforeFrame = "BeforePhysicsFrame"
	TypeOnFrame     = "OnPhysicsFrame"
	TypeAfterFrame  = "AfterPhysicsFrame"
	// TypeWaitingForPlayers contributions decide whether a game is still waiting for its lobby to fill.
	TypeWaitingForPlayers = "WaitingForPlayers"
)

// Frame is what a frame callback gets to work with. State reflects every patch applied earlier in the tick.
type Frame struct {
	Game  *games.Game
	Delta time.Duration
	// Now is the tick's clock reading in milliseconds.
	Now   int64
	State state.Access
}

// Handler is a frame callback. The returned patch is applied before the next callback runs.
type Handler = func(f Frame) (state.Patch, error)

// WaitingFunc reports whether a game is still waiting for players.
type WaitingFunc = func(g *games.Game, current state.Access) bool
