package ensemble

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/hook"
	"pkg.world.dev/ensemble/log"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/storage"
)

var renamedHooks = map[string]string{
	TypeNewGame:   TypeNewSave,
	TypeGameReady: TypeSaveReady,
}

var (
	ErrModeRequired = eris.New("a game mode is required")
	ErrModeMismatch = eris.New("game runs a different mode")
)

// NewGame adds a game and sets it up: its state is seeded and the OnNewGame and OnGameReady hooks run. An
// empty id is replaced by a random one. If seeding or OnNewGame fails the game is discarded.
//
// While the engine runs, setup happens on the update loop at the start of the next tick and NewGame
// returns before it. Setup failures are then reported to the OnError hooks instead of being returned.
func (e *Engine) NewGame(mode, id string) (*games.Game, error) {
	e.joinMu.Lock()
	defer e.joinMu.Unlock()
	return e.newGame(mode, id)
}

func (e *Engine) newGame(mode, id string) (*games.Game, error) {
	if mode == "" {
		return nil, ErrModeRequired
	}
	g, err := e.list.Add(id, mode, e.clock.Present())
	if err != nil {
		return nil, err
	}
	if err := e.onLoop(g.ID, func() error { return e.setUp(g) }); err != nil {
		return nil, err
	}
	return g, nil
}

func (e *Engine) setUp(g *games.Game) error {
	if err := e.store.Create(g.ID, state.Seed(g.Mode, rand.Int64())); err != nil {
		e.discard(g)
		return err
	}
	if err := e.seed(g); err != nil {
		e.discard(g)
		return err
	}
	if err := e.runGameHooks(TypeNewGame, g); err != nil {
		e.discard(g)
		return err
	}
	e.ready(g)
	e.logger.Info().Str("game_id", g.ID).Str("mode", g.Mode).Msg("game created")
	return nil
}

// Restore brings a saved game back. Its state, jobs included, continues where it was saved; only the
// OnGameReady hooks run. Like NewGame, a running engine finishes the restore on the update loop.
func (e *Engine) Restore(ctx context.Context, id string) (*games.Game, error) {
	e.joinMu.Lock()
	defer e.joinMu.Unlock()
	return e.restore(ctx, id)
}

func (e *Engine) restore(ctx context.Context, id string) (*games.Game, error) {
	if e.saves == nil {
		return nil, eris.Wrapf(storage.ErrSaveNotFound, "game %q: saves are disabled", id)
	}
	snap, err := e.saves.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := e.list.Add(snap.ID, snap.Mode, e.clock.Present())
	if err != nil {
		return nil, err
	}
	err = e.onLoop(g.ID, func() error {
		if err := e.store.Create(g.ID, snap.State); err != nil {
			e.discard(g)
			return err
		}
		e.ready(g)
		e.logger.Info().Str("game_id", g.ID).Str("mode", g.Mode).Msg("game restored")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ready runs the OnGameReady hooks and hands the game to the update loop. The first delta counts from
// when the game was added.
func (e *Engine) ready(g *games.Game) {
	if err := e.runGameHooks(TypeGameReady, g); err != nil {
		e.reportError(g.ID, "", err)
	}
	g.MarkLoaded()
	e.loop.Track(g.ID, g.CreatedAt)
}

func (e *Engine) discard(g *games.Game) {
	if _, err := e.list.Remove(g.ID); err != nil {
		e.logger.Debug().Err(err).Str("game_id", g.ID).Msg("failed to discard game")
	}
	e.forget(g.ID)
}

func (e *Engine) forget(id string) {
	e.store.Remove(id)
	e.loop.Forget(id)
	e.scheduler.Forget(id)
	e.processor.Forget(id)
	e.evaluator.Forget(id)
}

// onLoop runs fn on the update loop. When fn runs right away its error is returned; a queued fn reports
// its error to the OnError hooks.
func (e *Engine) onLoop(gameID string, fn func() error) error {
	var err error
	e.loop.Do(func(queued bool) {
		if !queued {
			err = fn()
			return
		}
		if runErr := fn(); runErr != nil {
			e.reportError(gameID, "", runErr)
		}
	})
	return err
}

// awaitLoop runs fn on the update loop and waits for it. It blocks for up to a tick, so plugin callbacks
// must not call it.
func (e *Engine) awaitLoop(fn func() error) error {
	result := make(chan error, 1)
	e.loop.Do(func(bool) { result <- fn() })
	return <-result
}

// seed merges every StateSeed contribution for the game's mode into its state.
func (e *Engine) seed(g *games.Game) error {
	for _, entry := range e.registry.Entries(TypeStateSeed) {
		c := hook.Contribution[any]{Namespace: entry.Namespace, Modes: entry.Modes}
		if !c.AppliesTo(g.Mode) {
			continue
		}
		var patch state.Patch
		switch v := entry.Value.(type) {
		case map[string]any:
			patch = state.Merge(v)
		case StateSeed:
			var err error
			if patch, err = v(g); err != nil {
				return eris.Wrapf(err, "state seed from %q failed", entry.Namespace)
			}
		default:
			e.registry.Reject(entry, eris.Wrapf(plugin.ErrWrongType,
				"state seed from %q is %T, want a map or a StateSeed", entry.Namespace, entry.Value))
			continue
		}
		if err := e.mutator.Mutate(entry.Namespace, g.ID, patch); err != nil {
			return eris.Wrapf(err, "state seed from %q is invalid", entry.Namespace)
		}
	}
	return nil
}

// RemoveGame saves a game, runs the OnGameRemoved hooks and drops it. A running engine removes the game
// on the update loop at the start of the next tick.
func (e *Engine) RemoveGame(ctx context.Context, id string) error {
	g, ok := e.list.Get(id)
	if !ok {
		return eris.Wrapf(games.ErrUnknownGame, "game %q", id)
	}
	ctx = context.WithoutCancel(ctx)
	return e.onLoop(id, func() error { return e.remove(ctx, g) })
}

func (e *Engine) remove(ctx context.Context, g *games.Game) error {
	if current, ok := e.list.Get(g.ID); !ok || current != g {
		return nil
	}
	if err := e.save(ctx, g); err != nil {
		e.logger.Error().Err(err).Str("game_id", g.ID).Msg("failed to save game")
	}
	if err := e.runGameHooks(TypeGameRemoved, g); err != nil {
		e.reportError(g.ID, "", err)
	}
	if _, err := e.list.Remove(g.ID); err != nil {
		return err
	}
	e.forget(g.ID)
	e.logger.Info().Str("game_id", g.ID).Msg("game removed")
	return nil
}

// save writes a snapshot of the game. It does nothing when saves are disabled.
func (e *Engine) save(ctx context.Context, g *games.Game) error {
	if e.saves == nil || !g.Loaded() {
		return nil
	}
	tree, err := e.store.Snapshot(g.ID)
	if err != nil {
		return err
	}
	return e.saves.Save(ctx, storage.Snapshot{
		ID:      g.ID,
		Mode:    g.Mode,
		State:   tree,
		SavedAt: e.clock.Present(),
	})
}

// Saves lists the ids of the stored saves. It is empty when saves are disabled.
func (e *Engine) Saves(ctx context.Context) ([]string, error) {
	if e.saves == nil {
		return nil, nil
	}
	return e.saves.List(ctx)
}

// DeleteSave drops a stored save. A game that is still hosted writes a new save when it is removed.
func (e *Engine) DeleteSave(ctx context.Context, id string) error {
	if e.saves == nil {
		return eris.Wrapf(storage.ErrSaveNotFound, "game %q: saves are disabled", id)
	}
	return e.saves.Delete(ctx, id)
}

// Pause stops the update loop for a game and runs the OnPause hooks.
func (e *Engine) Pause(id string) error {
	g, ok := e.list.Get(id)
	if !ok {
		return eris.Wrapf(games.ErrUnknownGame, "game %q", id)
	}
	return e.onLoop(id, func() error {
		if err := e.mutator.Mutate(state.Framework, id, state.Set(state.PathPaused, true)); err != nil {
			return err
		}
		if err := e.runGameHooks(TypePause, g); err != nil {
			e.reportError(id, "", err)
		}
		return nil
	})
}

// Resume restarts the update loop for a game and runs the OnResume hooks. The next delta counts from the
// call, so time spent paused is not simulated.
func (e *Engine) Resume(id string) error {
	g, ok := e.list.Get(id)
	if !ok {
		return eris.Wrapf(games.ErrUnknownGame, "game %q", id)
	}
	at := e.clock.Present()
	return e.onLoop(id, func() error {
		e.loop.Track(id, at)
		if err := e.mutator.Mutate(state.Framework, id, state.Set(state.PathPaused, false)); err != nil {
			return err
		}
		if err := e.runGameHooks(TypeResume, g); err != nil {
			e.reportError(id, "", err)
		}
		return nil
	})
}

// runGameHooks calls the GameHook contributions to typ that apply to the game's mode and applies their
// patches. It stops at the first failure.
func (e *Engine) runGameHooks(typ string, g *games.Game) error {
	list := e.gameHooks(typ)
	access := e.store.For(g.ID)
	for _, c := range hook.ForMode(list, g.Mode) {
		patch, err := protect(func() (state.Patch, error) { return c.Handler(g, access) })
		if err != nil {
			return eris.Wrapf(err, "%s hook from %q failed", typ, c.Namespace)
		}
		if err := e.mutator.Mutate(c.Namespace, g.ID, patch); err != nil {
			return eris.Wrapf(err, "%s hook from %q returned a bad patch", typ, c.Namespace)
		}
	}
	return nil
}

// gameHooks resolves typ and, for renamed hooks, appends the contributions made under the old name.
func (e *Engine) gameHooks(typ string) []hook.Contribution[GameHook] {
	list := hook.Contributions[GameHook](e.registry, typ)
	old, ok := renamedHooks[typ]
	if !ok {
		return list
	}
	legacy := hook.Contributions[GameHook](e.registry, old)
	if len(legacy) > 0 {
		log.Deprecate(e.logger, old, fmt.Sprintf("contribute to %s instead of %s", typ, old))
	}
	return append(list, legacy...)
}

// runClientHooks is runGameHooks for ClientHook contributions. A failing hook is reported and the rest
// still run.
func (e *Engine) runClientHooks(typ string, g *games.Game, playerID string) {
	list := hook.Contributions[ClientHook](e.registry, typ)
	access := e.store.For(g.ID)
	for _, c := range hook.ForMode(list, g.Mode) {
		patch, err := protect(func() (state.Patch, error) { return c.Handler(g, playerID, access) })
		if err == nil {
			err = e.mutator.Mutate(c.Namespace, g.ID, patch)
		}
		if err != nil {
			e.reportError(g.ID, playerID, eris.Wrapf(err, "%s hook from %q failed", typ, c.Namespace))
		}
	}
}

// reportError logs err and hands it to the OnError hooks that apply to the game's mode.
func (e *Engine) reportError(gameID, playerID string, err error) {
	e.logger.Error().Err(err).Str("game_id", gameID).Str("player_id", playerID).Msg("game error")

	list := hook.Contributions[ErrorHook](e.registry, TypeError)
	if g, ok := e.list.Get(gameID); ok {
		list = hook.ForMode(list, g.Mode)
	}
	for _, c := range list {
		_, hookErr := protect(func() (state.Patch, error) {
			c.Handler(gameID, playerID, err)
			return nil, nil
		})
		if hookErr != nil {
			e.logger.Error().Err(hookErr).Str("namespace", c.Namespace).Msg("error hook failed")
		}
	}
}

// reportLater hands err to the OnError hooks from the update loop. Code running outside the loop reports
// through it.
func (e *Engine) reportLater(gameID, playerID string, err error) {
	e.loop.Do(func(bool) { e.reportError(gameID, playerID, err) })
}

func (e *Engine) onLoopError(g *games.Game, err error) {
	e.reportError(g.ID, "", err)
}

// onBroken reports a plugin the registry had to leave out.
func (e *Engine) onBroken(typ, namespace string, err error) {
	e.reportLater("", "", eris.Wrapf(err, "plugin %s from %q is broken and was skipped", typ, namespace))
}

func protect(fn func() (state.Patch, error)) (patch state.Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("hook panicked: %v", r)
		}
	}()
	return fn()
}
