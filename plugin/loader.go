package plugin

import (
	"github.com/rotisserie/eris"
)

// Methods is the exported value of a plugin that can be called by name, such as the target of a delayed
// job. Values are usually functions; callers pick the signature with LoadMethod.
type Methods map[string]any

// Loader looks plugin methods up when they are needed rather than when the caller was wired, so the
// target may be defined after the caller stored its (plugin, method) pair.
type Loader struct {
	registry *Registry
}

func NewLoader(r *Registry) *Loader {
	return &Loader{registry: r}
}

// Method returns method from the plugin registered under typ. For fan-in types the first contribution
// that exports method wins.
func (l *Loader) Method(typ, method string) (any, error) {
	v, err := l.registry.Get(typ)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load %s.%s", typ, method)
	}

	candidates, ok := v.([]any)
	if !ok {
		candidates = []any{v}
	}
	for _, candidate := range candidates {
		methods, ok := candidate.(Methods)
		if !ok {
			continue
		}
		if fn, ok := methods[method]; ok && fn != nil {
			return fn, nil
		}
	}
	return nil, eris.Wrapf(ErrMethodNotFound, "%s.%s", typ, method)
}

// LoadMethod is Method with a typed result.
func LoadMethod[F any](l *Loader, typ, method string) (F, error) {
	var zero F
	fn, err := l.Method(typ, method)
	if err != nil {
		return zero, err
	}
	typed, ok := fn.(F)
	if !ok {
		return zero, eris.Wrapf(ErrWrongType, "%s.%s is %T, want %T", typ, method, fn, zero)
	}
	return typed, nil
}
