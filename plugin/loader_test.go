package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderFindsMethodDefinedLater(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	loader := NewLoader(r)

	_, err := loader.Method("Timers", "ring")
	require.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, r.Define(Definition{Type: "Timers", Func: value(Methods{
		"ring": func() string { return "ring" },
	})}))

	ring, err := LoadMethod[func() string](loader, "Timers", "ring")
	require.NoError(t, err)
	assert.Equal(t, "ring", ring())
}

func TestLoaderMissingMethod(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	loader := NewLoader(r)

	require.NoError(t, r.Define(Definition{Type: "Timers", Func: value(Methods{})}))
	_, err := loader.Method("Timers", "ring")
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestLoaderWrongSignature(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	loader := NewLoader(r)

	require.NoError(t, r.Define(Definition{Type: "Timers", Func: value(Methods{"ring": 5})}))
	_, err := LoadMethod[func()](loader, "Timers", "ring")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestLoaderFanInFirstMatchWins(t *testing.T) {
	t.Parallel()
	r := newTestRegistry("Commands")
	loader := NewLoader(r)

	require.NoError(t, r.Define(Definition{Type: "Commands", Func: value("not methods")}))
	require.NoError(t, r.Define(Definition{Type: "Commands", Func: value(Methods{"go": func() int { return 1 }})}))
	require.NoError(t, r.Define(Definition{Type: "Commands", Func: value(Methods{"go": func() int { return 2 }})}))

	fn, err := LoadMethod[func() int](loader, "Commands", "go")
	require.NoError(t, err)
	assert.Equal(t, 1, fn())
}
