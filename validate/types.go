package validate

import (
	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/state"
)

// Contribution types holding raw maps, and the validator types exporting their normalized form.
const (
	TypeActionMap  = "ActionMap"
	TypeAckMap     = "AckMap"
	TypeTriggerMap = "TriggerMap"

	TypeActionMapValidator  = "ActionMapValidator"
	TypeAckMapValidator     = "AckMapValidator"
	TypeTriggerMapValidator = "TriggerMapValidator"
)

// Context is handed to action, acknowledgement and trigger callbacks.
type Context struct {
	Game     *games.Game
	State    state.Access
	PlayerID string
	// Data is the payload of the input or acknowledgement that caused the call. It is nil for triggers.
	Data map[string]any
	Now  int64
}

// Callback is the signature shared by actions, acknowledgements and triggers.
type Callback = func(c Context) (state.Patch, error)

// Input keys with special meaning.
const (
	KeyNothing = "nothing" // fired when no key is held
	KeyCursor  = "cursor"  // fired when the input carries a cursor position
	KeyTouch   = "touch"
)

// Action is a response to an input key.
type Action struct {
	Call Callback
	// OnRelease fires when the key was held in the previous input and no longer is.
	OnRelease Callback
	// WhenWaiting lets the action fire while the game waits for players.
	WhenWaiting bool
}

// Ack types.
const (
	AckEvery      = "every"
	AckOnceForAll = "once-for-all"
	AckOnceEach   = "once-each"
)

// Ack is a response to a client acknowledgement.
type Ack struct {
	OnComplete Callback
	// Type is one of AckEvery, AckOnceForAll or AckOnceEach. Empty means AckOnceForAll.
	Type string
}

// Trigger fires when the watched state path meets its condition. Exactly one condition must be set.
type Trigger struct {
	Call       Callback
	Eq         *Equal
	Lt         *float64
	Lte        *float64
	Gt         *float64
	Gte        *float64
	OnChangeOf bool
}

// Equal is an equality condition. Value may be nil, which matches a missing or null path.
type Equal struct {
	Value any
}

func EqualTo(v any) *Equal {
	return &Equal{Value: v}
}

// ActionMap is one validated ActionMap contribution.
type ActionMap struct {
	Namespace string
	Modes     []string
	Actions   map[string][]Action
}

// AckMap is one validated AckMap contribution.
type AckMap struct {
	Namespace string
	Modes     []string
	Acks      map[string][]Ack
}

// TriggerMap is one validated TriggerMap contribution. Keys are state paths.
type TriggerMap struct {
	Namespace string
	Modes     []string
	Triggers  map[string][]Trigger
}
