// Package ast defines the typed tree the lowering pass consumes. The
// upstream parser and semantic phases produce it; by the time a node
// reaches lowering every expression carries a resolved TypeSpec.
package ast

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// TypeKind is the scalar/category kind of a TypeSpec.
type TypeKind int

const (
	TYPE_VOID TypeKind = iota
	TYPE_BOOL
	TYPE_CHAR
	TYPE_UCHAR
	TYPE_SHORT
	TYPE_USHORT
	TYPE_INT
	TYPE_UINT
	TYPE_LONG
	TYPE_ULONG
	TYPE_FLOAT
	TYPE_DOUBLE
	TYPE_STRUCT
	TYPE_ENUM
	TYPE_AUTO          // generic-lambda parameter awaiting call-site deduction
	TYPE_TEMPLATEPARAM // unexpanded template parameter; fatal if it reaches lowering
)

// TypeSpec describes a fully-resolved type annotation. PointerDepth
// counts levels of indirection; references are flags on top of the
// referred-to type, matching how the upstream phase models T& / T&&.
type TypeSpec struct {
	Kind         TypeKind
	PointerDepth int
	IsRef        bool
	IsRValRef    bool
	IsConst      bool
	IsArray      bool
	ArrayLen     int64

	// TypeIndex is set only for struct/enum types.
	TypeIndex types.Index

	// Name survives for struct/enum/template-parameter types so mangling
	// and self-referential template patching can work by name.
	Name string
}

// Pre-defined specs for the scalar types.
var (
	TypeVoid   = TypeSpec{Kind: TYPE_VOID, TypeIndex: types.Invalid}
	TypeBool   = TypeSpec{Kind: TYPE_BOOL, TypeIndex: types.Invalid}
	TypeChar   = TypeSpec{Kind: TYPE_CHAR, TypeIndex: types.Invalid}
	TypeUChar  = TypeSpec{Kind: TYPE_UCHAR, TypeIndex: types.Invalid}
	TypeShort  = TypeSpec{Kind: TYPE_SHORT, TypeIndex: types.Invalid}
	TypeUShort = TypeSpec{Kind: TYPE_USHORT, TypeIndex: types.Invalid}
	TypeInt    = TypeSpec{Kind: TYPE_INT, TypeIndex: types.Invalid}
	TypeUInt   = TypeSpec{Kind: TYPE_UINT, TypeIndex: types.Invalid}
	TypeLong   = TypeSpec{Kind: TYPE_LONG, TypeIndex: types.Invalid}
	TypeULong  = TypeSpec{Kind: TYPE_ULONG, TypeIndex: types.Invalid}
	TypeFloat  = TypeSpec{Kind: TYPE_FLOAT, TypeIndex: types.Invalid}
	TypeDouble = TypeSpec{Kind: TYPE_DOUBLE, TypeIndex: types.Invalid}
)

// StructType builds a struct-typed spec bound to a registry index.
func StructType(name string, idx types.Index) TypeSpec {
	return TypeSpec{Kind: TYPE_STRUCT, Name: name, TypeIndex: idx}
}

// PointerTo returns a copy of t with one more level of indirection.
func PointerTo(t TypeSpec) TypeSpec {
	t.PointerDepth++
	t.IsRef, t.IsRValRef = false, false
	return t
}

// RefTo returns an lvalue-reference spec to t.
func RefTo(t TypeSpec) TypeSpec {
	t.IsRef = true
	t.IsRValRef = false
	return t
}

// RValRefTo returns an rvalue-reference spec to t.
func RValRefTo(t TypeSpec) TypeSpec {
	t.IsRef = false
	t.IsRValRef = true
	return t
}

func (t TypeSpec) IsPointer() bool   { return t.PointerDepth > 0 }
func (t TypeSpec) IsReference() bool { return t.IsRef || t.IsRValRef }
func (t TypeSpec) IsStruct() bool    { return t.Kind == TYPE_STRUCT && !t.IsPointer() }

func (t TypeSpec) IsFloating() bool {
	return !t.IsPointer() && (t.Kind == TYPE_FLOAT || t.Kind == TYPE_DOUBLE)
}

func (t TypeSpec) IsUnsigned() bool {
	if t.IsPointer() {
		return true
	}
	switch t.Kind {
	case TYPE_BOOL, TYPE_UCHAR, TYPE_USHORT, TYPE_UINT, TYPE_ULONG:
		return true
	}
	return false
}

func (t TypeSpec) IsIntegral() bool {
	if t.IsPointer() {
		return false
	}
	switch t.Kind {
	case TYPE_BOOL, TYPE_CHAR, TYPE_UCHAR, TYPE_SHORT, TYPE_USHORT,
		TYPE_INT, TYPE_UINT, TYPE_LONG, TYPE_ULONG, TYPE_ENUM:
		return true
	}
	return false
}

// SizeBits is the storage width of a value of this type. References and
// pointers are machine words; struct sizes come from the registry.
func (t TypeSpec) SizeBits(reg *types.Registry) int {
	if t.IsPointer() || t.IsReference() {
		return 64
	}
	switch t.Kind {
	case TYPE_VOID:
		return 0
	case TYPE_BOOL, TYPE_CHAR, TYPE_UCHAR:
		return 8
	case TYPE_SHORT, TYPE_USHORT:
		return 16
	case TYPE_INT, TYPE_UINT, TYPE_FLOAT:
		return 32
	case TYPE_LONG, TYPE_ULONG, TYPE_DOUBLE:
		return 64
	case TYPE_ENUM:
		if d, ok := reg.At(t.TypeIndex).(*EnumDef); ok && d.UnderlyingBits > 0 {
			return d.UnderlyingBits
		}
		return 32
	case TYPE_STRUCT:
		if d, ok := reg.At(t.TypeIndex).(*StructDef); ok {
			return int(d.SizeBytes) * 8
		}
		return 0
	}
	return 64
}

// PointeeSizeBytes is the element size used to scale pointer arithmetic:
// 1 for void*, the word size for multi-level pointers, sizeof(pointee)
// otherwise.
func (t TypeSpec) PointeeSizeBytes(reg *types.Registry) int64 {
	if t.PointerDepth > 1 {
		return 8
	}
	elem := t
	elem.PointerDepth = 0
	elem.IsArray = false
	if elem.Kind == TYPE_VOID {
		return 1
	}
	return int64(elem.SizeBits(reg) / 8)
}

// Elem returns the pointee (or array element) type.
func (t TypeSpec) Elem() TypeSpec {
	if t.IsArray {
		t.IsArray = false
		t.ArrayLen = 0
		return t
	}
	if t.PointerDepth > 0 {
		t.PointerDepth--
	}
	return t
}
