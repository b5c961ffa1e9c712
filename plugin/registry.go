package plugin

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Wildcard is the mode tag that applies a definition to every game mode.
const Wildcard = "*"

// Kind tells the registry how to combine the definitions made under a type.
type Kind uint8

const (
	// KindSingleton types have exactly one definition; resolving them yields that definition's value.
	KindSingleton Kind = iota
	// KindMulti types collect any number of definitions; resolving them yields an ordered []any.
	KindMulti
)

func (k Kind) String() string {
	if k == KindMulti {
		return "multi"
	}
	return "singleton"
}

// Factory builds a plugin's exported value. deps holds one Accessor per declared dependency, in the
// order the dependencies were declared. A factory should only keep the accessors; calling Get on them
// during construction is allowed but makes a declared cycle a real one.
type Factory func(deps Deps) (any, error)

// Definition describes a plugin.
type Definition struct {
	// Type is the name the exported value is registered under.
	Type string
	// Deps lists the types this plugin needs.
	Deps []string
	// Func builds the exported value.
	Func Factory
	// Modes restricts the definition to the given game modes. Empty means untagged.
	Modes []string
	// Namespace identifies who made the definition (for example "ensemble" for framework plugins).
	Namespace string
}

// Entry is a resolved definition.
type Entry struct {
	Type      string
	Namespace string
	Modes     []string
	Value     any

	def *definition
}

// Config controls how types are treated. See Registry.Configure.
type Config struct {
	Logger zerolog.Logger
	// MultiTypes are fan-in types. Types prefixed with On, Before or After are always fan-in.
	MultiTypes []string
	// DefaultModeTypes receive the Wildcard mode when defined without modes.
	DefaultModeTypes []string
	// SilencedTypes do not emit registration trace logs.
	SilencedTypes []string
	// OnBroken is told about every definition that fails to resolve or holds the wrong Go type, once per
	// definition. Broken fan-in contributions are left out and the rest of the type keeps working.
	OnBroken func(typ, namespace string, err error)
}

type definition struct {
	Definition
	cell   *Lazy[any]
	broken atomic.Bool
}

// Registry stores plugin definitions and resolves them on demand.
type Registry struct {
	mu           sync.RWMutex
	logger       zerolog.Logger
	multi        map[string]bool
	defaultModes map[string]bool
	silenced     map[string]bool
	types        map[string][]*definition
	order        []*definition
	onBroken     func(typ, namespace string, err error)
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:       logger,
		multi:        make(map[string]bool),
		defaultModes: make(map[string]bool),
		silenced:     make(map[string]bool),
		types:        make(map[string][]*definition),
		order:        make([]*definition, 0),
	}
}

// Configure sets the logger and the type tables. It should be called before any definitions that depend
// on the tables are made; existing definitions keep the modes they were given.
func (r *Registry) Configure(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger = cfg.Logger
	r.onBroken = cfg.OnBroken
	for _, t := range cfg.MultiTypes {
		r.multi[t] = true
	}
	for _, t := range cfg.DefaultModeTypes {
		r.defaultModes[t] = true
	}
	for _, t := range cfg.SilencedTypes {
		r.silenced[t] = true
	}
}

// Kind reports whether typ is a singleton or a fan-in type.
func (r *Registry) Kind(typ string) Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kindLocked(typ)
}

func (r *Registry) kindLocked(typ string) Kind {
	if r.multi[typ] || IsHookType(typ) {
		return KindMulti
	}
	return KindSingleton
}

// IsHookType reports whether typ follows the On*/Before*/After* naming convention.
func IsHookType(typ string) bool {
	for _, prefix := range []string{"On", "Before", "After"} {
		rest, ok := strings.CutPrefix(typ, prefix)
		if ok && rest != "" && unicode.IsUpper(rune(rest[0])) {
			return true
		}
	}
	return false
}

// Define registers def. Definitions under a fan-in type are appended in call order. A second definition
// under a singleton type is refused with ErrDuplicateSingleton and the first definition stays in effect.
// Define may be called at any time, including after the registry has been warmed up.
func (r *Registry) Define(def Definition) error {
	if def.Type == "" {
		return eris.Wrap(ErrInvalidDefinition, "definition has no type")
	}
	if def.Func == nil {
		return eris.Wrapf(ErrInvalidDefinition, "definition %q has no factory", def.Type)
	}

	r.mu.Lock()
	if r.kindLocked(def.Type) == KindSingleton && len(r.types[def.Type]) > 0 {
		existing := r.types[def.Type][0].Namespace
		r.mu.Unlock()
		r.logger.Error().
			Str("type", def.Type).
			Str("namespace", def.Namespace).
			Str("existing_namespace", existing).
			Msg("duplicate definition for singleton plugin type")
		return eris.Wrapf(ErrDuplicateSingleton, "type %q", def.Type)
	}
	if len(def.Modes) == 0 && r.defaultModes[def.Type] {
		def.Modes = []string{Wildcard}
	}
	def.Deps = append([]string(nil), def.Deps...)
	def.Modes = append([]string(nil), def.Modes...)

	d := &definition{Definition: def}
	d.cell = NewLazyWithin(func(chain *Resolution) (any, error) {
		return r.instantiate(d, chain)
	})
	r.types[def.Type] = append(r.types[def.Type], d)
	r.order = append(r.order, d)
	silenced := r.silenced[def.Type]
	r.mu.Unlock()

	if !silenced {
		r.logger.Debug().
			Str("type", def.Type).
			Str("namespace", def.Namespace).
			Strs("deps", def.Deps).
			Strs("modes", def.Modes).
			Msg("plugin defined")
	}
	return nil
}

func (r *Registry) instantiate(d *definition, chain *Resolution) (any, error) {
	deps := make(Deps, len(d.Deps))
	for i, name := range d.Deps {
		deps[i] = Accessor{registry: r, typ: name, chain: chain}
	}
	v, err := d.Func(deps)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to instantiate plugin %q (%s)", d.Type, d.Namespace)
	}
	return v, nil
}

// Load is the bulk loading entry point. It defines every definition under namespace (unless a definition
// names its own) and then resolves them, so factories that fail are reported immediately. Errors from
// individual definitions are joined; a failing definition does not prevent the others from loading.
func (r *Registry) Load(namespace string, defs ...Definition) error {
	var errs []error
	loaded := make([]*definition, 0, len(defs))
	for _, def := range defs {
		if def.Namespace == "" {
			def.Namespace = namespace
		}
		if err := r.Define(def); err != nil {
			errs = append(errs, err)
			continue
		}
		r.mu.RLock()
		list := r.types[def.Type]
		loaded = append(loaded, list[len(list)-1])
		r.mu.RUnlock()
	}
	for _, d := range loaded {
		if _, err := d.cell.Get(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WarmUp resolves every definition that has not been resolved yet, in definition order.
func (r *Registry) WarmUp() error {
	r.mu.RLock()
	order := append([]*definition(nil), r.order...)
	r.mu.RUnlock()

	var errs []error
	for _, d := range order {
		if _, err := d.cell.Get(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate reports definitions that depend on a singleton type nobody defined. It does not fail; callers
// decide whether to log or stop.
func (r *Registry) Validate() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, d := range r.order {
		for _, dep := range d.Deps {
			if r.kindLocked(dep) == KindSingleton && len(r.types[dep]) == 0 {
				errs = append(errs, eris.Wrapf(ErrNotRegistered,
					"plugin %q (%s) depends on %q", d.Type, d.Namespace, dep))
			}
		}
	}
	return errs
}

// Get resolves typ. Singleton types return their single value or ErrNotRegistered. Fan-in types return
// an ordered []any, which is empty when nothing was contributed.
func (r *Registry) Get(typ string) (any, error) {
	return Accessor{registry: r, typ: typ}.Value()
}

// Entries resolves every definition under typ, keeping each definition's modes and namespace. Definitions
// that fail to resolve are reported once and left out.
func (r *Registry) Entries(typ string) []Entry {
	r.mu.RLock()
	defs := append([]*definition(nil), r.types[typ]...)
	r.mu.RUnlock()

	entries := make([]Entry, 0, len(defs))
	for _, d := range defs {
		v, err := d.cell.Get()
		if err != nil {
			r.reportBroken(d, err)
			continue
		}
		entries = append(entries, Entry{
			Type:      d.Type,
			Namespace: d.Namespace,
			Modes:     d.Modes,
			Value:     v,
			def:       d,
		})
	}
	return entries
}

// Reject reports an entry its consumer cannot use, typically because it holds the wrong Go type. Like a
// failed resolution it is reported once.
func (r *Registry) Reject(e Entry, err error) {
	if e.def == nil {
		return
	}
	r.reportBroken(e.def, err)
}

func (r *Registry) reportBroken(d *definition, err error) {
	if !d.broken.CompareAndSwap(false, true) {
		return
	}
	r.mu.RLock()
	onBroken := r.onBroken
	r.mu.RUnlock()

	r.logger.Error().Err(err).
		Str("type", d.Type).
		Str("namespace", d.Namespace).
		Msg("plugin is broken and will be skipped")
	if onBroken != nil {
		onBroken(d.Type, d.Namespace, err)
	}
}

// Count returns the number of definitions made under typ.
func (r *Registry) Count(typ string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types[typ])
}

// RegisteredTypes returns the number of definitions made under each type.
func (r *Registry) RegisteredTypes() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.types))
	for t, defs := range r.types {
		out[t] = len(defs)
	}
	return out
}

func (r *Registry) resolve(typ string, chain *Resolution) (any, error) {
	r.mu.RLock()
	kind := r.kindLocked(typ)
	defs := append([]*definition(nil), r.types[typ]...)
	r.mu.RUnlock()

	if kind == KindMulti {
		values := make([]any, 0, len(defs))
		for _, d := range defs {
			v, err := d.cell.GetWithin(chain)
			if errors.Is(err, ErrCircularUse) && !d.cell.Resolved() {
				return nil, eris.Wrapf(err, "failed to resolve %q", typ)
			}
			if err != nil {
				r.reportBroken(d, err)
				continue
			}
			values = append(values, v)
		}
		return values, nil
	}

	if len(defs) == 0 {
		return nil, eris.Wrapf(ErrNotRegistered, "type %q", typ)
	}
	v, err := defs[0].cell.GetWithin(chain)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %q", typ)
	}
	return v, nil
}
