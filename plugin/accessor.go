package plugin

import (
	"github.com/rotisserie/eris"
)

// Accessor is a deferred handle on a type. It is what factories receive in place of their dependencies:
// holding one is always safe, and every call resolves the type's current value, so definitions made after
// the accessor was handed out are visible to it.
type Accessor struct {
	registry *Registry
	typ      string
	chain    *Resolution
}

// Type returns the type the accessor resolves.
func (a Accessor) Type() string {
	return a.typ
}

// Get returns the current value, or nil if it cannot be resolved. Fan-in types always return a []any.
func (a Accessor) Get() any {
	v, err := a.Value()
	if err != nil {
		return nil
	}
	return v
}

// Value is like Get but reports why resolution failed.
func (a Accessor) Value() (any, error) {
	if a.registry == nil {
		return nil, eris.Wrapf(ErrNotRegistered, "type %q: accessor has no registry", a.typ)
	}
	return a.registry.resolve(a.typ, a.chain)
}

// Deps is the accessor list passed to a factory, in declared order.
type Deps []Accessor

// At returns the i-th accessor. Out of range indexes return an accessor that never resolves.
func (d Deps) At(i int) Accessor {
	if i < 0 || i >= len(d) {
		return Accessor{}
	}
	return d[i]
}

// Of returns the accessor for typ, or one that never resolves if typ was not declared.
func (d Deps) Of(typ string) Accessor {
	for _, a := range d {
		if a.typ == typ {
			return a
		}
	}
	return Accessor{typ: typ}
}

// As resolves a singleton accessor and asserts its Go type.
func As[T any](a Accessor) (T, error) {
	var zero T
	v, err := a.Value()
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, eris.Wrapf(ErrWrongType, "type %q holds %T, want %T", a.typ, v, zero)
	}
	return t, nil
}

// AllOf resolves a fan-in accessor and asserts the Go type of every contribution.
func AllOf[T any](a Accessor) ([]T, error) {
	v, err := a.Value()
	if err != nil {
		return nil, err
	}
	values, ok := v.([]any)
	if !ok {
		values = []any{v}
	}
	out := make([]T, 0, len(values))
	for i, value := range values {
		t, ok := value.(T)
		if !ok {
			var zero T
			return nil, eris.Wrapf(ErrWrongType, "type %q contribution %d holds %T, want %T", a.typ, i, value, zero)
		}
		out = append(out, t)
	}
	return out, nil
}

// Get resolves a singleton type from r.
func Get[T any](r *Registry, typ string) (T, error) {
	return As[T](Accessor{registry: r, typ: typ})
}

// All resolves a fan-in type from r.
func All[T any](r *Registry, typ string) ([]T, error) {
	return AllOf[T](Accessor{registry: r, typ: typ})
}
