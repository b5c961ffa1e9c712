package games

import (
	"testing"

	"pkg.world.dev/ensemble/assert"
)

func TestNewGameIsWaitingForPlayers(t *testing.T) {
	l := NewList()
	g, err := l.Add("", "arena", 10)
	assert.NilError(t, err)

	assert.Check(t, g.ID != "", "an empty id should be replaced")
	assert.Equal(t, WaitingForPlayers, g.Stage())
	assert.Check(t, !g.Loaded())

	g.MarkLoaded()
	assert.Check(t, g.Loaded())
}

func TestDuplicateID(t *testing.T) {
	l := NewList()
	_, err := l.Add("g1", "arena", 0)
	assert.NilError(t, err)

	_, err = l.Add("g1", "arena", 0)
	assert.ErrorIs(t, err, ErrGameExists)
}

func TestTransitions(t *testing.T) {
	l := NewList()
	g, err := l.Add("g1", "arena", 0)
	assert.NilError(t, err)

	assert.Check(t, !g.Transition(Running, Paused), "game is not running yet")
	assert.Check(t, g.Transition(WaitingForPlayers, Running))
	assert.Check(t, g.Transition(Running, Paused))
	assert.Check(t, g.Transition(Paused, Running))
	assert.Equal(t, Running, g.Stage())

	_, err = l.Remove("g1")
	assert.NilError(t, err)
	assert.Equal(t, Stopped, g.Stage())
	assert.Check(t, !g.Transition(Stopped, Running), "stopped is terminal")
}

func TestListOrderIsStable(t *testing.T) {
	l := NewList()
	for _, id := range []string{"c", "a", "b"} {
		_, err := l.Add(id, "*", 0)
		assert.NilError(t, err)
	}
	_, err := l.Remove("a")
	assert.NilError(t, err)

	ids := make([]string, 0)
	for _, g := range l.All() {
		ids = append(ids, g.ID)
	}
	assert.DeepEqual(t, []string{"c", "b"}, ids)

	_, err = l.Remove("a")
	assert.ErrorIs(t, err, ErrUnknownGame)
}

func TestOnlyOneTransitionWins(t *testing.T) {
	l := NewList()
	g, err := l.Add("g1", "arena", 0)
	assert.NilError(t, err)

	results := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			results <- g.Transition(WaitingForPlayers, Running)
		}()
	}
	wins := 0
	for i := 0; i < 10; i++ {
		if <-results {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestStopAll(t *testing.T) {
	l := NewList()
	_, err := l.Add("a", "*", 0)
	assert.NilError(t, err)
	_, err = l.Add("b", "*", 0)
	assert.NilError(t, err)

	stopped := l.StopAll()
	assert.Len(t, stopped, 2)
	assert.Empty(t, l.All())
	assert.Empty(t, l.StopAll())
}
