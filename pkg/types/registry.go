// Package types holds the global type registry shared by the whole
// translation unit. The registry is an arena: Add never invalidates an
// Index that was handed out earlier, even though template instantiation
// appends new concrete types mid-lowering. Callers that held a raw Def
// pointer across an instantiation must re-resolve through the index.
package types

// Index is a stable handle into the registry. Invalid marks operands that
// are not struct- or enum-typed.
type Index int32

const Invalid Index = -1

func (i Index) Valid() bool { return i >= 0 }

// Def is implemented by the registered type definitions (struct and enum
// layouts live in pkg/ast next to the tree that references them).
type Def interface {
	DefName() string
}

type Registry struct {
	defs   []Def
	byName map[string]Index
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Index)}
}

// Add registers a definition and returns its index. Registering a name
// twice replaces the definition but keeps the original index, so handles
// issued before a template's self-referential patch stay valid.
func (r *Registry) Add(d Def) Index {
	if i, ok := r.byName[d.DefName()]; ok {
		r.defs[i] = d
		return i
	}
	i := Index(len(r.defs))
	r.defs = append(r.defs, d)
	r.byName[d.DefName()] = i
	return i
}

func (r *Registry) Lookup(name string) (Index, bool) {
	i, ok := r.byName[name]
	return i, ok
}

func (r *Registry) At(i Index) Def {
	if !i.Valid() || int(i) >= len(r.defs) {
		return nil
	}
	return r.defs[i]
}

func (r *Registry) Len() int { return len(r.defs) }
