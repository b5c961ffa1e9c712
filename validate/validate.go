// Package validate checks the shape of ActionMap, AckMap and TriggerMap contributions and repairs what it
// can. Bare values are wrapped into single element lists; entries that cannot be used are dropped and
// reported. Maps are validated again whenever a contribution is added. Nothing here stops the server.
package validate

import (
	"errors"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.world.dev/ensemble/plugin"
)

var ErrInvalidEntry = eris.New("invalid map entry")

// Definitions returns the three validator plugins. Each resolves to a *Validator of its normalized list.
func Definitions(r *plugin.Registry, logger zerolog.Logger) []plugin.Definition {
	return []plugin.Definition{
		{
			Type: TypeActionMapValidator,
			Deps: []string{TypeActionMap},
			Func: func(plugin.Deps) (any, error) {
				return NewValidator(r, TypeActionMap, logger, ActionMaps), nil
			},
		},
		{
			Type: TypeAckMapValidator,
			Deps: []string{TypeAckMap},
			Func: func(plugin.Deps) (any, error) {
				return NewValidator(r, TypeAckMap, logger, AckMaps), nil
			},
		},
		{
			Type: TypeTriggerMapValidator,
			Deps: []string{TypeTriggerMap},
			Func: func(plugin.Deps) (any, error) {
				return NewValidator(r, TypeTriggerMap, logger, TriggerMaps), nil
			},
		},
	}
}

// Validator keeps the validated form of one map type. It validates again when definitions were added to
// the raw type since the last run.
type Validator[T any] struct {
	registry *plugin.Registry
	typ      string
	logger   zerolog.Logger
	validate func(*plugin.Registry, zerolog.Logger) ([]T, []error)

	mu    sync.Mutex
	seen  int
	maps  []T
	valid bool
}

func NewValidator[T any](
	r *plugin.Registry,
	typ string,
	logger zerolog.Logger,
	validate func(*plugin.Registry, zerolog.Logger) ([]T, []error),
) *Validator[T] {
	return &Validator[T]{registry: r, typ: typ, logger: logger, validate: validate}
}

// Current returns the validated maps, validating again if the raw type gained definitions.
func (v *Validator[T]) Current() []T {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := v.registry.Count(v.typ)
	if !v.valid || n != v.seen {
		v.maps, _ = v.validate(v.registry, v.logger)
		v.seen = n
		v.valid = true
	}
	return v.maps
}

// Current resolves the validator registered under typ and returns its maps. A missing validator yields an
// empty list.
func Current[T any](r *plugin.Registry, typ string) ([]T, error) {
	v, err := plugin.Get[*Validator[T]](r, typ)
	if errors.Is(err, plugin.ErrNotRegistered) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v.Current(), nil
}

type reporter struct {
	logger zerolog.Logger
	typ    string
	errs   []error
}

func (rep *reporter) report(namespace, key, reason string) {
	rep.logger.Error().
		Str("type", rep.typ).
		Str("namespace", namespace).
		Str("key", key).
		Msg(reason)
	rep.errs = append(rep.errs, eris.Wrapf(ErrInvalidEntry, "%s from %q, key %q: %s", rep.typ, namespace, key, reason))
}

// ActionMaps validates every ActionMap contribution.
func ActionMaps(r *plugin.Registry, logger zerolog.Logger) ([]ActionMap, []error) {
	rep := &reporter{logger: logger, typ: TypeActionMap}
	entries := r.Entries(TypeActionMap)

	out := make([]ActionMap, 0, len(entries))
	for _, e := range entries {
		raw, ok := rawMap[Action](e.Value)
		if !ok {
			rep.report(e.Namespace, "", "contribution is not a map")
			continue
		}
		m := ActionMap{Namespace: e.Namespace, Modes: e.Modes, Actions: make(map[string][]Action)}
		for _, key := range sortedKeys(raw) {
			list, ok := asList[Action](raw[key])
			if !ok {
				rep.report(e.Namespace, key, "expected an Action or a list of Actions")
				continue
			}
			valid := make([]Action, 0, len(list))
			for _, a := range list {
				if a.Call == nil {
					rep.report(e.Namespace, key, "action has no Call")
					continue
				}
				if a.OnRelease != nil && (key == KeyNothing || key == KeyCursor || key == KeyTouch) {
					rep.report(e.Namespace, key, "OnRelease is not supported on this key and was removed")
					a.OnRelease = nil
				}
				valid = append(valid, a)
			}
			if len(valid) > 0 {
				m.Actions[key] = valid
			}
		}
		out = append(out, m)
	}
	return out, rep.errs
}

// AckMaps validates every AckMap contribution.
func AckMaps(r *plugin.Registry, logger zerolog.Logger) ([]AckMap, []error) {
	rep := &reporter{logger: logger, typ: TypeAckMap}
	entries := r.Entries(TypeAckMap)

	out := make([]AckMap, 0, len(entries))
	for _, e := range entries {
		raw, ok := rawMap[Ack](e.Value)
		if !ok {
			rep.report(e.Namespace, "", "contribution is not a map")
			continue
		}
		m := AckMap{Namespace: e.Namespace, Modes: e.Modes, Acks: make(map[string][]Ack)}
		for _, key := range sortedKeys(raw) {
			list, ok := asList[Ack](raw[key])
			if !ok {
				rep.report(e.Namespace, key, "expected an Ack or a list of Acks")
				continue
			}
			valid := make([]Ack, 0, len(list))
			for _, a := range list {
				if a.OnComplete == nil {
					rep.report(e.Namespace, key, "ack has no OnComplete")
					continue
				}
				switch a.Type {
				case "":
					a.Type = AckOnceForAll
				case AckEvery, AckOnceForAll, AckOnceEach:
				default:
					rep.report(e.Namespace, key, "unknown ack type "+a.Type)
					continue
				}
				valid = append(valid, a)
			}
			if len(valid) > 0 {
				m.Acks[key] = valid
			}
		}
		out = append(out, m)
	}
	return out, rep.errs
}

// TriggerMaps validates every TriggerMap contribution.
func TriggerMaps(r *plugin.Registry, logger zerolog.Logger) ([]TriggerMap, []error) {
	rep := &reporter{logger: logger, typ: TypeTriggerMap}
	entries := r.Entries(TypeTriggerMap)

	out := make([]TriggerMap, 0, len(entries))
	for _, e := range entries {
		raw, ok := rawMap[Trigger](e.Value)
		if !ok {
			rep.report(e.Namespace, "", "contribution is not a map")
			continue
		}
		m := TriggerMap{Namespace: e.Namespace, Modes: e.Modes, Triggers: make(map[string][]Trigger)}
		for _, key := range sortedKeys(raw) {
			list, ok := asList[Trigger](raw[key])
			if !ok {
				rep.report(e.Namespace, key, "expected a Trigger or a list of Triggers")
				continue
			}
			valid := make([]Trigger, 0, len(list))
			for _, tr := range list {
				if tr.Call == nil {
					rep.report(e.Namespace, key, "trigger has no Call")
					continue
				}
				if n := conditions(tr); n != 1 {
					rep.report(e.Namespace, key, "trigger must have exactly one condition")
					continue
				}
				valid = append(valid, tr)
			}
			if len(valid) > 0 {
				m.Triggers[key] = valid
			}
		}
		out = append(out, m)
	}
	return out, rep.errs
}

func conditions(tr Trigger) int {
	n := 0
	for _, set := range []bool{tr.Eq != nil, tr.Lt != nil, tr.Lte != nil, tr.Gt != nil, tr.Gte != nil, tr.OnChangeOf} {
		if set {
			n++
		}
	}
	return n
}

// rawMap accepts the map shapes a contribution may use.
func rawMap[T any](v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]T:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	case map[string][]T:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// asList wraps a bare value into a single element list.
func asList[T any](v any) ([]T, bool) {
	switch t := v.(type) {
	case T:
		return []T{t}, true
	case *T:
		if t == nil {
			return nil, false
		}
		return []T{*t}, true
	case []T:
		return t, true
	case []any:
		out := make([]T, 0, len(t))
		for _, item := range t {
			single, ok := asList[T](item)
			if !ok || len(single) != 1 {
				return nil, false
			}
			out = append(out, single[0])
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
