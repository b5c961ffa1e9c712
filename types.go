package ensemble

import (
	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/state"
)

// Lifecycle hook types. Contributions are collected in definition order and filtered by game mode.
const (
	TypeNewGame          = "OnNewGame"
	TypeGameReady        = "OnGameReady"
	TypeGameRemoved      = "OnGameRemoved"
	TypePause            = "OnPause"
	TypeResume           = "OnResume"
	TypeClientConnect    = "OnClientConnect"
	TypeClientDisconnect = "OnClientDisconnect"
	TypeError            = "OnError"

	// Deprecated: older names of TypeNewGame and TypeGameReady. Their contributions still run, after the
	// ones under the current names.
	TypeNewSave   = "OnNewSave"
	TypeSaveReady = "OnSaveReady"

	// TypeStateSeed contributions are merged into the state of every new game, before OnNewGame runs.
	TypeStateSeed = "StateSeed"
)

// Singleton types the engine defines for plugins to depend on.
const (
	TypeDelayedJobs         = "DelayedJobs"
	TypeDynamicPluginLoader = "DynamicPluginLoader"
	TypeGamesList           = "GamesList"
	TypeStateMutator        = "StateMutator"
	TypeTime                = "Time"
)

// GameHook is the signature of OnNewGame, OnGameReady, OnGameRemoved, OnPause and OnResume contributions.
type GameHook = func(g *games.Game, current state.Access) (state.Patch, error)

// ClientHook is the signature of OnClientConnect and OnClientDisconnect contributions.
type ClientHook = func(g *games.Game, playerID string, current state.Access) (state.Patch, error)

// ErrorHook is the signature of OnError contributions. playerID is empty for errors raised by the update
// loop.
type ErrorHook = func(gameID, playerID string, err error)

// StateSeed is one form a StateSeed contribution may take. A plain map[string]any is merged as is.
type StateSeed = func(g *games.Game) (state.Patch, error)
