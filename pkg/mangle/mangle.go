// Package mangle produces linker-visible symbol names. The scheme's
// internals are not this repository's concern; the lowering pass only
// guarantees it supplies fully-resolved inputs, including template types
// patched to their concrete instantiation.
package mangle

import (
	"strconv"
	"strings"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
)

// Request carries every input the scheme needs for one symbol.
type Request struct {
	Name      string
	Return    ast.TypeSpec
	Params    []ast.TypeSpec
	Variadic  bool
	Struct    string
	Namespace []string
}

// Mangler is consumed as an external service by the lowering pass.
type Mangler interface {
	Mangle(r Request) string
}

// Default is a compact scheme sufficient for linking test programs. It is
// deterministic in the request's resolved types, which is all the
// lowering pass relies on.
type Default struct{}

func (Default) Mangle(r Request) string {
	var b strings.Builder
	b.WriteString("_F")
	for _, ns := range r.Namespace {
		enc(&b, ns)
	}
	if r.Struct != "" {
		enc(&b, r.Struct)
	}
	enc(&b, r.Name)
	b.WriteByte('E')
	if len(r.Params) == 0 {
		b.WriteByte('v')
	}
	for _, p := range r.Params {
		encType(&b, p)
	}
	if r.Variadic {
		b.WriteByte('z')
	}
	return b.String()
}

func enc(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteString(s)
}

func encType(b *strings.Builder, t ast.TypeSpec) {
	if t.IsConst {
		b.WriteByte('K')
	}
	for i := 0; i < t.PointerDepth; i++ {
		b.WriteByte('P')
	}
	if t.IsRef {
		b.WriteByte('R')
	}
	if t.IsRValRef {
		b.WriteByte('O')
	}
	switch t.Kind {
	case ast.TYPE_VOID:
		b.WriteByte('v')
	case ast.TYPE_BOOL:
		b.WriteByte('b')
	case ast.TYPE_CHAR:
		b.WriteByte('c')
	case ast.TYPE_UCHAR:
		b.WriteByte('h')
	case ast.TYPE_SHORT:
		b.WriteByte('s')
	case ast.TYPE_USHORT:
		b.WriteByte('t')
	case ast.TYPE_INT:
		b.WriteByte('i')
	case ast.TYPE_UINT:
		b.WriteByte('j')
	case ast.TYPE_LONG:
		b.WriteByte('l')
	case ast.TYPE_ULONG:
		b.WriteByte('m')
	case ast.TYPE_FLOAT:
		b.WriteByte('f')
	case ast.TYPE_DOUBLE:
		b.WriteByte('d')
	case ast.TYPE_STRUCT, ast.TYPE_ENUM:
		enc(b, t.Name)
	default:
		// TYPE_AUTO / TYPE_TEMPLATEPARAM must never get here; the caller
		// validates before mangling.
		b.WriteByte('?')
	}
}
