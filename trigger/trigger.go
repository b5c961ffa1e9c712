// Package trigger runs TriggerMap callbacks when a watched state path changes and meets its condition.
// Comparison triggers fire on the edge, when the condition goes from false to true.
package trigger

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.world.dev/ensemble/hook"
	"pkg.world.dev/ensemble/physics"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/validate"
)

// Evaluator watches store changes and checks the affected triggers after each frame.
type Evaluator struct {
	registry *plugin.Registry
	mutator  *state.Mutator
	logger   zerolog.Logger

	mu          sync.Mutex
	dirty       map[string]map[string]struct{}
	last        map[string]map[string]any
	unsubscribe func()
}

func NewEvaluator(store *state.Store, registry *plugin.Registry, mutator *state.Mutator, logger zerolog.Logger) *Evaluator {
	e := &Evaluator{
		registry: registry,
		mutator:  mutator,
		logger:   logger,
		dirty:    make(map[string]map[string]struct{}),
		last:     make(map[string]map[string]any),
	}
	e.unsubscribe = store.Subscribe(e.observe)
	return e
}

// Close stops watching the store.
func (e *Evaluator) Close() {
	e.unsubscribe()
}

func (e *Evaluator) observe(c state.Change) {
	e.mu.Lock()
	defer e.mu.Unlock()
	paths, ok := e.dirty[c.Game]
	if !ok {
		paths = make(map[string]struct{})
		e.dirty[c.Game] = paths
	}
	paths[c.Path] = struct{}{}
}

func (e *Evaluator) Forget(game string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.dirty, game)
	delete(e.last, game)
}

func (e *Evaluator) takeDirty(game string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	paths := make([]string, 0, len(e.dirty[game]))
	for p := range e.dirty[game] {
		paths = append(paths, p)
	}
	delete(e.dirty, game)
	return paths
}

// swapLast stores cur as the last evaluated value of path and returns the previous one.
func (e *Evaluator) swapLast(game, path string, cur any) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	values, ok := e.last[game]
	if !ok {
		values = make(map[string]any)
		e.last[game] = values
	}
	prev := values[path]
	values[path] = cur
	return prev
}

// Frame is the evaluator's AfterPhysicsFrame contribution. Changes made by trigger callbacks are
// evaluated on the next frame.
func (e *Evaluator) Frame(f physics.Frame) (state.Patch, error) {
	changed := e.takeDirty(f.Game.ID)
	if len(changed) == 0 {
		return nil, nil
	}

	maps, err := validate.Current[validate.TriggerMap](e.registry, validate.TypeTriggerMapValidator)
	if err != nil {
		return nil, err
	}
	list := make([]hook.Contribution[validate.TriggerMap], 0, len(maps))
	for _, m := range maps {
		list = append(list, hook.Contribution[validate.TriggerMap]{Namespace: m.Namespace, Modes: m.Modes, Handler: m})
	}

	evaluated := make(map[string]struct {
		prev, cur any
	})
	for _, m := range hook.ForMode(list, f.Game.Mode) {
		paths := make([]string, 0, len(m.Handler.Triggers))
		for path := range m.Handler.Triggers {
			if affected(path, changed) {
				paths = append(paths, path)
			}
		}
		sort.Strings(paths)
		for _, path := range paths {
			triggers := m.Handler.Triggers[path]
			values, ok := evaluated[path]
			if !ok {
				values.cur = f.State.Get(path)
				values.prev = e.swapLast(f.Game.ID, path, values.cur)
				evaluated[path] = values
			}
			for _, tr := range triggers {
				if fires(tr, values.prev, values.cur) {
					e.call(f, m.Namespace, path, tr.Call)
				}
			}
		}
	}
	return nil, nil
}

func (e *Evaluator) call(f physics.Frame, namespace, path string, fn validate.Callback) {
	patch, err := safeCall(fn, validate.Context{Game: f.Game, State: f.State, Now: f.Now})
	if err == nil {
		err = e.mutator.Mutate(namespace, f.Game.ID, patch)
	}
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("game_id", f.Game.ID).
			Str("namespace", namespace).
			Str("path", path).
			Msg("trigger callback failed")
	}
}

func safeCall(fn validate.Callback, c validate.Context) (patch state.Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("trigger panicked: %v", r)
		}
	}()
	return fn(c)
}

// affected reports whether a write to any of changed may have altered the value at path.
func affected(path string, changed []string) bool {
	for _, c := range changed {
		if c == path || strings.HasPrefix(c, path+".") || strings.HasPrefix(path, c+".") {
			return true
		}
	}
	return false
}

func fires(tr validate.Trigger, prev, cur any) bool {
	if tr.OnChangeOf {
		return !equal(prev, cur)
	}
	return holds(tr, cur) && !holds(tr, prev)
}

func holds(tr validate.Trigger, v any) bool {
	if tr.Eq != nil {
		return equal(v, tr.Eq.Value)
	}
	n, ok := state.Float64(v)
	if !ok {
		return false
	}
	switch {
	case tr.Lt != nil:
		return n < *tr.Lt
	case tr.Lte != nil:
		return n <= *tr.Lte
	case tr.Gt != nil:
		return n > *tr.Gt
	case tr.Gte != nil:
		return n >= *tr.Gte
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, aNum := state.Float64(a)
	fb, bNum := state.Float64(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}
