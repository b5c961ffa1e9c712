package physics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkg.world.dev/ensemble/clock"
	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/hook"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/statsd"
)

type harness struct {
	registry *plugin.Registry
	list     *games.List
	store    *state.Store
	mutator  *state.Mutator
	clock    *clock.Manual
	loop     *Loop
	failures map[string]error
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		registry: plugin.NewRegistry(zerolog.Nop()),
		list:     games.NewList(),
		store:    state.NewStore(),
		clock:    clock.NewManual(0),
		failures: make(map[string]error),
	}
	h.registry.Configure(plugin.Config{
		Logger:     zerolog.Nop(),
		MultiTypes: []string{TypeWaitingForPlayers},
	})
	h.mutator = state.NewMutator(h.store, zerolog.Nop())
	opts = append([]Option{WithErrorHandler(func(g *games.Game, err error) {
		h.failures[g.ID] = err
	})}, opts...)
	h.loop = NewLoop(h.registry, h.list, h.store, h.mutator, h.clock, zerolog.Nop(), opts...)

	fw := hook.NewDispatcher(h.registry, state.Framework)
	require.NoError(t, fw.Before("PhysicsFrame", hook.Handle(Handler(AdvanceWorldTime))))
	return h
}

func (h *harness) addGame(t *testing.T, id, mode string) *games.Game {
	t.Helper()
	g, err := h.list.Add(id, mode, h.clock.Present())
	require.NoError(t, err)
	require.NoError(t, h.store.Create(id, state.Seed(mode, 1)))
	g.MarkLoaded()
	h.loop.Track(id, h.clock.Present())
	return g
}

func (h *harness) setPaused(t *testing.T, id string, paused bool) {
	t.Helper()
	require.NoError(t, h.mutator.Mutate(state.Framework, id, state.Set(state.PathPaused, paused)))
}

func TestPausedGamesDoNotAccumulateDelta(t *testing.T) {
	h := newHarness(t)
	h.addGame(t, "g1", "arena")

	var deltas []time.Duration
	require.NoError(t, hook.NewDispatcher(h.registry, "game").On("PhysicsFrame", hook.Handle(Handler(
		func(f Frame) (state.Patch, error) {
			deltas = append(deltas, f.Delta)
			return nil, nil
		}))))

	h.setPaused(t, "g1", true)
	h.loop.Tick(context.Background())

	for _, at := range []int64{2500, 5000, 10000} {
		h.clock.Set(at)
		h.loop.Tick(context.Background())
	}
	assert.Empty(t, deltas)
	assert.Equal(t, int64(0), h.store.For("g1").Get(state.PathWorldTime))
	assert.Equal(t, games.Paused, mustGame(t, h, "g1").Stage())

	h.setPaused(t, "g1", false)
	h.clock.Set(10100)
	h.loop.Tick(context.Background())

	require.Len(t, deltas, 1)
	assert.Equal(t, 100*time.Millisecond, deltas[0])
	assert.Equal(t, int64(100), h.store.For("g1").Get(state.PathWorldTime))
	assert.Equal(t, games.Running, mustGame(t, h, "g1").Stage())
}

func TestModeFiltering(t *testing.T) {
	h := newHarness(t)
	modes := []string{plugin.Wildcard, "custom", "other"}
	for _, mode := range modes {
		h.addGame(t, "save-"+mode, mode)
	}

	counts := make(map[string]int)
	counter := func(tag string) Handler {
		return func(Frame) (state.Patch, error) {
			counts[tag]++
			return nil, nil
		}
	}
	d := hook.NewDispatcher(h.registry, "game")
	for _, tag := range modes {
		require.NoError(t, d.On("PhysicsFrame", hook.Handle(counter(tag)), hook.WithModes(tag)))
	}

	h.loop.Tick(context.Background())
	assert.Equal(t, map[string]int{plugin.Wildcard: 3, "custom": 1, "other": 1}, counts)
}

func TestStagesRunInOrderAndSeeEarlierPatches(t *testing.T) {
	h := newHarness(t)
	h.addGame(t, "g1", "arena")

	var order []string
	d := hook.NewDispatcher(h.registry, "game")
	require.NoError(t, d.After("PhysicsFrame", hook.Handle(Handler(func(f Frame) (state.Patch, error) {
		order = append(order, "after")
		assert.Equal(t, 2, f.State.Get("game.y"))
		return nil, nil
	}))))
	require.NoError(t, d.On("PhysicsFrame", hook.Handle(Handler(func(f Frame) (state.Patch, error) {
		order = append(order, "on")
		x, _ := f.State.Get("game.x").(int)
		return state.Set("game.y", x+1), nil
	}))))
	require.NoError(t, d.Before("PhysicsFrame", hook.Handle(Handler(func(Frame) (state.Patch, error) {
		order = append(order, "before")
		return state.Set("game.x", 1), nil
	}))))

	h.loop.Tick(context.Background())
	assert.Equal(t, []string{"before", "on", "after"}, order)
	assert.Empty(t, h.failures)
}

func TestWaitingForPlayersSkipsSimulation(t *testing.T) {
	h := newHarness(t)
	g := h.addGame(t, "g1", "arena")

	lobbyFull := false
	ons := 0
	d := hook.NewDispatcher(h.registry, "game")
	require.NoError(t, d.Define(TypeWaitingForPlayers, hook.Handle(WaitingFunc(
		func(*games.Game, state.Access) bool { return !lobbyFull }))))
	require.NoError(t, d.On("PhysicsFrame", hook.Handle(Handler(func(Frame) (state.Patch, error) {
		ons++
		return nil, nil
	}))))

	h.clock.Set(50)
	h.loop.Tick(context.Background())
	assert.Equal(t, 0, ons)
	assert.Equal(t, int64(50), h.store.For("g1").Get(state.PathWorldTime))
	assert.Equal(t, games.WaitingForPlayers, g.Stage())

	lobbyFull = true
	h.clock.Set(80)
	h.loop.Tick(context.Background())
	assert.Equal(t, 1, ons)
	assert.Equal(t, games.Running, g.Stage())
}

func TestFailingCallbackOnlyAbortsItsGame(t *testing.T) {
	h := newHarness(t)
	h.addGame(t, "bad", "broken")
	h.addGame(t, "panics", "panics")
	h.addGame(t, "good", "fine")

	afters := make(map[string]int)
	d := hook.NewDispatcher(h.registry, "game")
	require.NoError(t, d.On("PhysicsFrame", hook.Handle(Handler(func(Frame) (state.Patch, error) {
		return nil, errors.New("boom")
	})), hook.WithModes("broken")))
	require.NoError(t, d.On("PhysicsFrame", hook.Handle(Handler(func(Frame) (state.Patch, error) {
		panic("kaboom")
	})), hook.WithModes("panics")))
	require.NoError(t, d.After("PhysicsFrame", hook.Handle(Handler(func(f Frame) (state.Patch, error) {
		afters[f.Game.ID]++
		return nil, nil
	}))))

	h.loop.Tick(context.Background())
	assert.Equal(t, map[string]int{"good": 1}, afters)
	require.Len(t, h.failures, 2)
	assert.Contains(t, h.failures["bad"].Error(), "boom")
	assert.Contains(t, h.failures["panics"].Error(), "kaboom")
}

func TestReservedWritesFromGameCallbacksFail(t *testing.T) {
	h := newHarness(t)
	h.addGame(t, "g1", "arena")
	require.NoError(t, hook.NewDispatcher(h.registry, "game").On("PhysicsFrame", hook.Handle(Handler(
		func(Frame) (state.Patch, error) { return state.Set(state.PathPaused, true), nil }))))

	h.loop.Tick(context.Background())
	assert.ErrorIs(t, h.failures["g1"], state.ErrReservedPath)
	assert.False(t, h.store.For("g1").Paused())
}

type recordingProfiler struct {
	mu     sync.Mutex
	names  []string
	counts map[string]int64
}

func (p *recordingProfiler) Count(name string, value int64, _ ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = make(map[string]int64)
	}
	p.counts[name] += value
}

func (p *recordingProfiler) Start(name string, _ ...string) statsd.Timer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	return statsd.NoOp{}.Start(name)
}

func TestProfilerWrapsCallbacks(t *testing.T) {
	prof := &recordingProfiler{}
	h := newHarness(t, WithProfiler(prof))
	h.addGame(t, "g1", "arena")
	require.NoError(t, hook.NewDispatcher(h.registry, "game").On("PhysicsFrame", hook.Handle(Handler(
		func(Frame) (state.Patch, error) { return nil, nil }))))

	h.loop.Tick(context.Background())
	assert.Equal(t, []string{TypeBeforeFrame, TypeOnFrame}, prof.names)
	assert.Empty(t, prof.counts)
}

func TestAbortedTicksAreCounted(t *testing.T) {
	prof := &recordingProfiler{}
	h := newHarness(t, WithProfiler(prof))
	h.addGame(t, "g1", "arena")
	require.NoError(t, hook.NewDispatcher(h.registry, "game").On("PhysicsFrame", hook.Handle(Handler(
		func(Frame) (state.Patch, error) { return nil, errors.New("boom") }))))

	h.loop.Tick(context.Background())
	h.loop.Tick(context.Background())
	assert.Equal(t, map[string]int64{"tick_aborted": 2}, prof.counts)
}

func TestBrokenContributionDoesNotStopTheLoop(t *testing.T) {
	h := newHarness(t)
	h.addGame(t, "g1", "arena")
	var broken []string
	h.registry.Configure(plugin.Config{
		Logger:     zerolog.Nop(),
		MultiTypes: []string{TypeWaitingForPlayers},
		OnBroken:   func(typ, namespace string, _ error) { broken = append(broken, namespace) },
	})

	require.NoError(t, hook.NewDispatcher(h.registry, "good").On("PhysicsFrame", hook.Handle(Handler(
		func(f Frame) (state.Patch, error) {
			n, _ := state.Int64(f.State.Get("good.frames"))
			return state.Set("good.frames", n+1), nil
		}))))
	require.NoError(t, hook.NewDispatcher(h.registry, "bad").On("PhysicsFrame",
		func(plugin.Deps) (any, error) { return nil, errors.New("cannot build") }))
	require.NoError(t, hook.NewDispatcher(h.registry, "typo").On("PhysicsFrame", hook.Handle("not a handler")))

	h.loop.Tick(context.Background())
	h.loop.Tick(context.Background())
	frames, _ := state.Int64(h.store.For("g1").Get("good.frames"))
	assert.Equal(t, int64(2), frames)
	assert.Empty(t, h.failures)
	assert.Equal(t, []string{"bad", "typo"}, broken)
}

func TestCommandsRunOnTheLoopBeforeFrames(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	h := newHarness(t)
	h.addGame(t, "g1", "arena")
	require.NoError(t, hook.NewDispatcher(h.registry, "game").On("PhysicsFrame", hook.Handle(Handler(
		func(Frame) (state.Patch, error) {
			record("frame")
			return nil, nil
		}))))

	h.loop.Do(func(queued bool) {
		assert.False(t, queued)
		record("inline")
	})

	ticks := make(chan time.Time)
	done := make(chan uint64)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.loop.Run(ctx, ticks, done)
	}()
	ticks <- time.Now()
	<-done

	h.loop.Do(func(queued bool) {
		assert.True(t, queued)
		record("queued")
	})
	ticks <- time.Now()
	<-done

	h.loop.Do(func(bool) { record("leftover") })
	cancel()
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"inline", "frame", "queued", "frame", "leftover"}, events)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	var observed []uint64
	h := newHarness(t, WithTickObserver(func(_ context.Context, tick uint64) {
		observed = append(observed, tick)
	}))
	h.addGame(t, "g1", "arena")

	ticks := make(chan time.Time)
	done := make(chan uint64)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.loop.Run(ctx, ticks, done)
	}()

	for want := uint64(1); want <= 3; want++ {
		h.clock.Advance(10 * time.Millisecond)
		ticks <- time.Now()
		assert.Equal(t, want, <-done)
	}
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, int64(30), h.store.For("g1").Get(state.PathWorldTime))
	assert.Equal(t, []uint64{1, 2, 3}, observed)
}

func TestRunFailsWhenTickChannelCloses(t *testing.T) {
	h := newHarness(t)
	ticks := make(chan time.Time)
	close(ticks)
	err := h.loop.Run(context.Background(), ticks, nil)
	assert.ErrorIs(t, err, ErrTickChannelClosed)
}

func mustGame(t *testing.T, h *harness, id string) *games.Game {
	t.Helper()
	g, ok := h.list.Get(id)
	require.True(t, ok)
	return g
}

func TestGamesThatAreNotReadyAreSkipped(t *testing.T) {
	h := newHarness(t)
	_, err := h.list.Add("g1", "arena", 0)
	require.NoError(t, err)
	require.NoError(t, h.store.Create("g1", state.Seed("arena", 1)))

	h.clock.Advance(100 * time.Millisecond)
	h.loop.Tick(context.Background())
	assert.Equal(t, int64(0), h.store.For("g1").Get(state.PathWorldTime))
}
