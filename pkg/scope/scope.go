// Package scope wraps the per-function symbol table plus a reference to
// the file-scope table, and implements the identifier resolution chain:
// local scope, using-declarations, enclosing namespaces, global scope,
// and finally implicit member lookup on the current class.
package scope

import (
	"strings"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
)

type SymKind int

const (
	SymLocal SymKind = iota
	SymParam
	SymGlobal
	SymFunc
	SymMember // implicit member of the current class
)

type Symbol struct {
	Name string
	Kind SymKind
	Type ast.TypeSpec
	// StructName is the owning class of struct-typed variables, used for
	// destructor calls at scope exit.
	StructName string

	next *Symbol
}

type level struct {
	syms   *Symbol
	parent *level
}

// Table is the resolution state for one function body.
type Table struct {
	current *level
	global  *level

	// Namespace is the enclosing namespace path of the function being
	// lowered; Usings holds active using-declarations.
	Namespace []string
	Usings    []string

	// Class is the current class for implicit member lookup, nil outside
	// member functions.
	Class *ast.StructDef
}

func NewTable() *Table {
	g := &level{}
	return &Table{current: g, global: g}
}

// Enter opens a nested block scope.
func (t *Table) Enter() { t.current = &level{parent: t.current} }

// Leave closes the innermost scope.
func (t *Table) Leave() {
	if t.current.parent != nil {
		t.current = t.current.parent
	}
}

// Declare binds a symbol in the innermost scope.
func (t *Table) Declare(s *Symbol) *Symbol {
	s.next = t.current.syms
	t.current.syms = s
	return s
}

// DeclareGlobal binds a symbol at file scope, optionally under a
// namespace path.
func (t *Table) DeclareGlobal(ns []string, s *Symbol) *Symbol {
	if len(ns) > 0 {
		s.Name = strings.Join(ns, "::") + "::" + s.Name
	}
	s.next = t.global.syms
	t.global.syms = s
	return s
}

func find(l *level, name string) *Symbol {
	for sym := l.syms; sym != nil; sym = sym.next {
		if sym.Name == name {
			return sym
		}
	}
	return nil
}

// Resolve runs the full lookup chain. The second result is false when the
// identifier is unknown everywhere, which callers treat as fatal.
func (t *Table) Resolve(name string) (*Symbol, bool) {
	// Local scopes, innermost first.
	for l := t.current; l != nil; l = l.parent {
		if l == t.global {
			break
		}
		if s := find(l, name); s != nil {
			return s, true
		}
	}

	// Using-declarations.
	for _, u := range t.Usings {
		if s := find(t.global, u+"::"+name); s != nil {
			return s, true
		}
	}

	// Enclosing namespaces, innermost first.
	for i := len(t.Namespace); i > 0; i-- {
		q := strings.Join(t.Namespace[:i], "::") + "::" + name
		if s := find(t.global, q); s != nil {
			return s, true
		}
	}

	// Global scope.
	if s := find(t.global, name); s != nil {
		return s, true
	}

	// Implicit member lookup.
	if t.Class != nil {
		if m, ok := t.Class.FindMember(name); ok {
			return &Symbol{Name: name, Kind: SymMember, Type: m.Type, StructName: t.Class.Name}, true
		}
		for _, st := range t.Class.Statics {
			if st.Name == name {
				return &Symbol{Name: st.Sym, Kind: SymGlobal, Type: st.Type}, true
			}
		}
	}

	return nil, false
}

// ResolveLocal looks only at block scopes, skipping the global table.
// Capture lists are checked against it: a by-value or by-reference
// capture must name a local or parameter of the enclosing function.
func (t *Table) ResolveLocal(name string) (*Symbol, bool) {
	for l := t.current; l != nil && l != t.global; l = l.parent {
		if s := find(l, name); s != nil {
			return s, true
		}
	}
	return nil, false
}
