package state

import (
	"math"

	"github.com/goccy/go-json"
)

// Int64 reads a numeric state value. Trees restored from JSON hold float64 and json.Number, trees built
// in process hold Go integers; both are accepted.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	default:
		return 0, false
	}
}

// Float64 reads a numeric state value as a float.
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		i, ok := Int64(v)
		return float64(i), ok
	}
}

// Bool reads a boolean state value. Missing values are false.
func Bool(v any) bool {
	b, _ := v.(bool)
	return b
}

// Paused reports whether the game's reserved paused flag is set.
func (a Access) Paused() bool {
	return Bool(a.Get(PathPaused))
}

// Mode returns the game's mode from the reserved subtree.
func (a Access) Mode() string {
	mode, _ := a.Get(PathMode).(string)
	return mode
}
