// Package hook is the vocabulary plugins use to contribute to named lifecycle stages. Contributions are
// only collected here; the component that owns a stage fetches them and decides how to call them.
package hook

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"pkg.world.dev/ensemble/plugin"
)

const (
	PrefixOn     = "On"
	PrefixBefore = "Before"
	PrefixAfter  = "After"
)

// TypeName prefixes name with prefix unless it already carries it.
func TypeName(prefix, name string) string {
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

type options struct {
	deps  []string
	modes []string
}

type Option func(*options)

// WithDeps declares the types the contribution's factory needs.
func WithDeps(deps ...string) Option {
	return func(o *options) {
		o.deps = append(o.deps, deps...)
	}
}

// WithModes limits the contribution to the given game modes. plugin.Wildcard matches every mode.
func WithModes(modes ...string) Option {
	return func(o *options) {
		o.modes = append(o.modes, modes...)
	}
}

// Dispatcher defines contributions on behalf of one namespace.
type Dispatcher struct {
	registry  *plugin.Registry
	namespace string
}

func NewDispatcher(r *plugin.Registry, namespace string) *Dispatcher {
	return &Dispatcher{registry: r, namespace: namespace}
}

func (d *Dispatcher) On(name string, factory plugin.Factory, opts ...Option) error {
	return d.Define(TypeName(PrefixOn, name), factory, opts...)
}

func (d *Dispatcher) Before(name string, factory plugin.Factory, opts ...Option) error {
	return d.Define(TypeName(PrefixBefore, name), factory, opts...)
}

func (d *Dispatcher) After(name string, factory plugin.Factory, opts ...Option) error {
	return d.Define(TypeName(PrefixAfter, name), factory, opts...)
}

// Define contributes to typ as is.
func (d *Dispatcher) Define(typ string, factory plugin.Factory, opts ...Option) error {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	err := d.registry.Define(plugin.Definition{
		Type:      typ,
		Deps:      o.deps,
		Func:      factory,
		Modes:     o.modes,
		Namespace: d.namespace,
	})
	return eris.Wrapf(err, "failed to contribute to %s", typ)
}

// Handle is a shorthand for a factory that has no dependencies and returns v.
func Handle(v any) plugin.Factory {
	return func(plugin.Deps) (any, error) { return v, nil }
}

// Contribution is one typed handler contributed to a stage.
type Contribution[F any] struct {
	Type      string
	Namespace string
	Modes     []string
	Handler   F
}

// AppliesTo reports whether the contribution runs for mode. Untagged contributions run for every mode.
func (c Contribution[F]) AppliesTo(mode string) bool {
	return len(c.Modes) == 0 || slices.Contains(c.Modes, plugin.Wildcard) || slices.Contains(c.Modes, mode)
}

// Contributions resolves typ into its ordered, typed contributions. Contributions that fail to resolve or
// hold something other than F are reported to the registry once and left out.
func Contributions[F any](r *plugin.Registry, typ string) []Contribution[F] {
	entries := r.Entries(typ)
	out := make([]Contribution[F], 0, len(entries))
	for _, e := range entries {
		handler, ok := e.Value.(F)
		if !ok {
			var zero F
			r.Reject(e, eris.Wrapf(plugin.ErrWrongType,
				"%s contribution from %q is %T, want %T", typ, e.Namespace, e.Value, zero))
			continue
		}
		out = append(out, Contribution[F]{
			Type:      e.Type,
			Namespace: e.Namespace,
			Modes:     e.Modes,
			Handler:   handler,
		})
	}
	return out
}

// ForMode returns the contributions that apply to mode, keeping their order.
func ForMode[F any](list []Contribution[F], mode string) []Contribution[F] {
	out := make([]Contribution[F], 0, len(list))
	for _, c := range list {
		if c.AppliesTo(mode) {
			out = append(out, c)
		}
	}
	return out
}
