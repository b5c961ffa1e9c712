package main

import (
	"sync"
	"time"

	"pkg.world.dev/ensemble"
	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/hook"
	"pkg.world.dev/ensemble/interval"
	"pkg.world.dev/ensemble/physics"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/validate"
)

const (
	countdownMode    = "countdown"
	countdownSeconds = 60
)

// countdown is a sample game mode: a timer counts down from a minute, a trigger marks the game finished
// when it reaches zero and the "restart" key starts it over.
type countdown struct {
	mu     sync.Mutex
	timers map[string]*timer
}

type timer struct {
	step    func(time.Duration)
	elapsed int64
}

func (c *countdown) timerFor(gameID string) *timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.timers[gameID]
	if !ok {
		t = &timer{}
		t.step = interval.Every(1).Seconds().Wrap(func() { t.elapsed++ })
		c.timers[gameID] = t
	}
	return t
}

func (c *countdown) frame(f physics.Frame) (state.Patch, error) {
	if state.Bool(f.State.Get("countdown.finished")) {
		return nil, nil
	}
	t := c.timerFor(f.Game.ID)
	t.step(f.Delta)
	if t.elapsed == 0 {
		return nil, nil
	}
	left, _ := state.Int64(f.State.Get("countdown.secondsLeft"))
	left = max(left-t.elapsed, 0)
	t.elapsed = 0
	return state.Set("countdown.secondsLeft", left), nil
}

func (c *countdown) removed(g *games.Game, _ state.Access) (state.Patch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, g.ID)
	return nil, nil
}

func fresh() state.Patch {
	return state.Merge(map[string]any{"countdown": map[string]any{
		"secondsLeft": countdownSeconds,
		"finished":    false,
	}})
}

func registerCountdown(e *ensemble.Engine) error {
	c := &countdown{timers: make(map[string]*timer)}
	only := hook.WithModes(countdownMode)
	finishAt := 0.0

	hooks := e.Hooks(countdownMode)
	if err := hooks.On("PhysicsFrame", hook.Handle(physics.Handler(c.frame)), only); err != nil {
		return err
	}
	if err := hooks.On("GameRemoved", hook.Handle(ensemble.GameHook(c.removed)), only); err != nil {
		return err
	}

	return e.Load(countdownMode,
		plugin.Definition{
			Type:  ensemble.TypeStateSeed,
			Func:  hook.Handle(ensemble.StateSeed(func(*games.Game) (state.Patch, error) { return fresh(), nil })),
			Modes: []string{countdownMode},
		},
		plugin.Definition{
			Type: validate.TypeActionMap,
			Func: hook.Handle(map[string]any{
				"restart": validate.Action{Call: func(validate.Context) (state.Patch, error) { return fresh(), nil }},
			}),
			Modes: []string{countdownMode},
		},
		plugin.Definition{
			Type: validate.TypeTriggerMap,
			Func: hook.Handle(map[string]any{
				"countdown.secondsLeft": validate.Trigger{
					Lte: &finishAt,
					Call: func(validate.Context) (state.Patch, error) {
						return state.Set("countdown.finished", true), nil
					},
				},
			}),
			Modes: []string{countdownMode},
		},
	)
}
