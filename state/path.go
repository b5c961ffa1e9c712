package state

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Tree is a game's state. Nested objects are map[string]any.
type Tree = map[string]any

// ErrInvalidPath is returned for empty paths and paths with empty segments.
var ErrInvalidPath = eris.New("invalid state path")

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, eris.Wrap(ErrInvalidPath, "path is empty")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, eris.Wrapf(ErrInvalidPath, "path %q has an empty segment", path)
		}
	}
	return parts, nil
}

// Lookup reads the value at a dot separated path. ok is false if any segment is missing.
func Lookup(tree Tree, path string) (value any, ok bool) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = tree
	for _, p := range parts {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign writes value at parts, creating intermediate objects and replacing non-object intermediates.
func assign(tree Tree, parts []string, value any) (old any) {
	cur := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	last := parts[len(parts)-1]
	old = cur[last]
	cur[last] = value
	return old
}

// Clone deep copies the generic containers of a tree. Other values are shared.
func Clone(tree Tree) Tree {
	if tree == nil {
		return nil
	}
	return cloneValue(tree).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
