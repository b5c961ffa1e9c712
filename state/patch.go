package state

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Patch describes a state mutation. Callbacks return patches instead of writing to the store; the
// Mutator applies them one at a time.
type Patch interface {
	// Paths lists the leaf paths the patch writes.
	Paths() []string
	validate() error
	apply(tree Tree, record func(path string, old, new any)) error
}

type setPatch struct {
	path  string
	value any
}

// Set is the [path, value] patch.
func Set(path string, value any) Patch {
	return setPatch{path: path, value: value}
}

func (p setPatch) Paths() []string {
	return []string{p.path}
}

func (p setPatch) validate() error {
	_, err := splitPath(p.path)
	return err
}

func (p setPatch) apply(tree Tree, record func(string, any, any)) error {
	parts, err := splitPath(p.path)
	if err != nil {
		return err
	}
	v := cloneValue(p.value)
	old := assign(tree, parts, v)
	record(p.path, old, v)
	return nil
}

type mergePatch struct {
	values map[string]any
}

// Merge is the nested partial object patch. Nested objects are merged key by key; every other value
// replaces what was there.
func Merge(values map[string]any) Patch {
	return mergePatch{values: values}
}

func (p mergePatch) Paths() []string {
	var out []string
	collectPaths("", p.values, &out)
	sort.Strings(out)
	return out
}

func collectPaths(prefix string, values map[string]any, out *[]string) {
	for k, v := range values {
		path := joinPath(prefix, k)
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			collectPaths(path, nested, out)
			continue
		}
		*out = append(*out, path)
	}
}

func (p mergePatch) validate() error {
	return validateKeys("", p.values)
}

func validateKeys(prefix string, values map[string]any) error {
	for k, v := range values {
		if k == "" || strings.Contains(k, ".") {
			return eris.Wrapf(ErrInvalidPath, "merge key %q under %q", k, prefix)
		}
		if nested, ok := v.(map[string]any); ok {
			if err := validateKeys(joinPath(prefix, k), nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p mergePatch) apply(tree Tree, record func(string, any, any)) error {
	mergeInto(tree, "", p.values, record)
	return nil
}

func mergeInto(dst map[string]any, prefix string, values map[string]any, record func(string, any, any)) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := joinPath(prefix, k)
		v := values[k]
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			child, isMap := dst[k].(map[string]any)
			if !isMap {
				child = make(map[string]any)
				dst[k] = child
			}
			mergeInto(child, path, nested, record)
			continue
		}
		v = cloneValue(v)
		old := dst[k]
		dst[k] = v
		record(path, old, v)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

type batchPatch []Patch

// Batch applies patches in order. Nil entries are skipped.
func Batch(patches ...Patch) Patch {
	return batchPatch(patches)
}

func (b batchPatch) Paths() []string {
	var out []string
	for _, p := range b {
		if p != nil {
			out = append(out, p.Paths()...)
		}
	}
	return out
}

func (b batchPatch) validate() error {
	for _, p := range b {
		if p == nil {
			continue
		}
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (b batchPatch) apply(tree Tree, record func(string, any, any)) error {
	for _, p := range b {
		if p == nil {
			continue
		}
		if err := p.apply(tree, record); err != nil {
			return err
		}
	}
	return nil
}
