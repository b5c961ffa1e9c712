package physics

import (
	"pkg.world.dev/ensemble/state"
)

// AdvanceWorldTime is the framework's BeforePhysicsFrame contribution. It adds the frame's delta, in
// milliseconds, to the game's world time.
func AdvanceWorldTime(f Frame) (state.Patch, error) {
	current, _ := state.Int64(f.State.Get(state.PathWorldTime))
	return state.Set(state.PathWorldTime, current+f.Delta.Milliseconds()), nil
}
