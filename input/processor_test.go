package input

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/physics"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/validate"
)

type fixture struct {
	registry  *plugin.Registry
	store     *state.Store
	queue     *Queue
	processor *Processor
	game      *games.Game
	calls     []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry: plugin.NewRegistry(zerolog.Nop()),
		store:    state.NewStore(),
		queue:    NewQueue(),
	}
	f.registry.Configure(plugin.Config{
		Logger:           zerolog.Nop(),
		MultiTypes:       []string{validate.TypeActionMap, validate.TypeAckMap},
		DefaultModeTypes: []string{validate.TypeActionMap, validate.TypeAckMap},
	})
	require.NoError(t, f.store.Create("g1", state.Seed("arena", 1)))
	mutator := state.NewMutator(f.store, zerolog.Nop())
	f.processor = NewProcessor(f.queue, f.registry, mutator, zerolog.Nop())

	g, err := games.NewList().Add("g1", "arena", 0)
	require.NoError(t, err)
	require.True(t, g.Transition(games.WaitingForPlayers, games.Running))
	f.game = g
	return f
}

func (f *fixture) record(name string) validate.Callback {
	return func(c validate.Context) (state.Patch, error) {
		f.calls = append(f.calls, name+":"+c.PlayerID)
		return state.Set("game.last", name), nil
	}
}

func (f *fixture) define(t *testing.T, typ string, v any, modes ...string) {
	t.Helper()
	require.NoError(t, f.registry.Define(plugin.Definition{
		Type:      typ,
		Namespace: "game",
		Modes:     modes,
		Func:      func(plugin.Deps) (any, error) { return v, nil },
	}))
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	require.NoError(t, f.registry.Load(state.Framework, validate.Definitions(f.registry, zerolog.Nop())...))
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	patch, err := f.processor.Frame(physics.Frame{Game: f.game, State: f.store.For("g1")})
	require.NoError(t, err)
	assert.Nil(t, patch)
}

func TestActionsFireForKeys(t *testing.T) {
	f := newFixture(t)
	f.define(t, validate.TypeActionMap, map[string]any{
		"left":             validate.Action{Call: f.record("left"), OnRelease: f.record("left-up")},
		validate.KeyNothing: validate.Action{Call: f.record("nothing")},
		validate.KeyCursor:  validate.Action{Call: f.record("cursor")},
	})
	f.define(t, validate.TypeActionMap, map[string]any{
		"left": validate.Action{Call: f.record("other-mode")},
	}, "lobby")
	f.load(t)

	f.queue.PushInput("g1", "p1", Packet{ID: 1, Keys: []string{"left"}})
	f.queue.PushInput("g1", "p1", Packet{ID: 2, Keys: nil, Cursor: &Cursor{X: 1, Y: 2}})
	f.tick(t)

	assert.Equal(t, []string{"left:p1", "nothing:p1", "cursor:p1", "left-up:p1"}, f.calls)
	assert.Equal(t, "left-up", f.store.For("g1").Get("game.last"))
	assert.Equal(t, int64(2), f.queue.HighestProcessed("g1", "p1"))
	assert.Equal(t, int64(0), f.queue.HighestProcessed("g1", "p2"))
}

func TestOnlyWhenWaitingActionsFireWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.define(t, validate.TypeActionMap, map[string]any{
		"ready": validate.Action{Call: f.record("ready"), WhenWaiting: true},
		"move":  validate.Action{Call: f.record("move")},
	})
	f.load(t)
	require.True(t, f.game.Transition(games.Running, games.WaitingForPlayers))

	f.queue.PushInput("g1", "p1", Packet{ID: 1, Keys: []string{"ready", "move"}})
	f.tick(t)
	assert.Equal(t, []string{"ready:p1"}, f.calls)
}

func TestAckTypes(t *testing.T) {
	f := newFixture(t)
	f.define(t, validate.TypeAckMap, map[string]any{
		"loaded": []validate.Ack{
			{OnComplete: f.record("every"), Type: validate.AckEvery},
			{OnComplete: f.record("each"), Type: validate.AckOnceEach},
			{OnComplete: f.record("all")},
		},
	})
	f.load(t)

	f.queue.PushAck("g1", "p1", Ack{ID: 3, Name: "loaded"})
	f.queue.PushAck("g1", "p1", Ack{ID: 4, Name: "loaded"})
	f.queue.PushAck("g1", "p2", Ack{ID: 1, Name: "loaded"})
	f.tick(t)

	assert.Equal(t, []string{
		"every:p1", "each:p1", "all:p1",
		"every:p1",
		"every:p2", "each:p2",
	}, f.calls)
	assert.Equal(t, int64(4), f.queue.HighestProcessed("g1", "p1"))
}

func TestFailingActionDoesNotStopTheRest(t *testing.T) {
	f := newFixture(t)
	f.define(t, validate.TypeActionMap, map[string]any{
		"a": validate.Action{Call: func(validate.Context) (state.Patch, error) { panic("no") }},
		"b": validate.Action{Call: func(validate.Context) (state.Patch, error) {
			return state.Set(state.PathPaused, true), nil
		}},
		"c": validate.Action{Call: f.record("c")},
	})
	f.load(t)

	f.queue.PushInput("g1", "p1", Packet{ID: 1, Keys: []string{"a", "b", "c"}})
	f.tick(t)
	assert.Equal(t, []string{"c:p1"}, f.calls)
	assert.False(t, f.store.For("g1").Paused())
}

func TestNoValidatorsIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.queue.PushInput("g1", "p1", Packet{ID: 9})
	f.tick(t)
	assert.Equal(t, int64(9), f.queue.HighestProcessed("g1", "p1"))

	f.processor.Forget("g1")
	assert.Equal(t, int64(0), f.queue.HighestProcessed("g1", "p1"))
}
