package ir

import (
	"fmt"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// Type is the IR-level type category of an operand. Width lives in the
// operand's SizeBits field, not here.
type Type int

const (
	Void Type = iota
	Bool
	Int
	UInt
	Float
	Ptr
	Struct
	Enum
)

var typeNames = [...]string{
	Void: "void", Bool: "bool", Int: "int", UInt: "uint",
	Float: "float", Ptr: "ptr", Struct: "struct", Enum: "enum",
}

func (t Type) String() string { return typeNames[t] }

// Location is where an operand's value lives: a named storage slot, a
// virtual register, or an immediate.
type Location interface {
	loc()
	String() string
}

type Slot struct{ Name string }
type VReg struct{ ID int }
type ImmInt struct{ Value int64 }
type ImmFloat struct{ Value float64 }

func (Slot) loc()     {}
func (VReg) loc()     {}
func (ImmInt) loc()   {}
func (ImmFloat) loc() {}

func (l Slot) String() string     { return "$" + l.Name }
func (l VReg) String() string     { return fmt.Sprintf("%%%d", l.ID) }
func (l ImmInt) String() string   { return fmt.Sprintf("#%d", l.Value) }
func (l ImmFloat) String() string { return fmt.Sprintf("#%g", l.Value) }

// Operand is the universal exchange format between lowering components:
// (type, size in bits, value location, registry index). TypeIndex is
// populated only for struct/enum-typed operands.
type Operand struct {
	Type      Type
	SizeBits  int
	Loc       Location
	TypeIndex types.Index
}

// None is the absent operand (void results, statement-position calls).
var None = Operand{Type: Void, TypeIndex: types.Invalid}

func (o Operand) IsNone() bool { return o.Loc == nil }

// Reg returns the virtual register number, or -1 when the operand does
// not live in a register.
func (o Operand) Reg() int {
	if r, ok := o.Loc.(VReg); ok {
		return r.ID
	}
	return -1
}

func (o Operand) String() string {
	if o.IsNone() {
		return "_"
	}
	s := fmt.Sprintf("%s:%d %s", o.Type, o.SizeBits, o.Loc)
	if o.TypeIndex.Valid() {
		s += fmt.Sprintf(" t%d", o.TypeIndex)
	}
	return s
}

// InReg builds a register operand.
func InReg(t Type, bits, reg int, ti types.Index) Operand {
	return Operand{Type: t, SizeBits: bits, Loc: VReg{ID: reg}, TypeIndex: ti}
}

// InSlot builds a named-storage operand.
func InSlot(t Type, bits int, name string, ti types.Index) Operand {
	return Operand{Type: t, SizeBits: bits, Loc: Slot{Name: name}, TypeIndex: ti}
}

// Imm builds an immediate integer operand.
func Imm(t Type, bits int, v int64) Operand {
	return Operand{Type: t, SizeBits: bits, Loc: ImmInt{Value: v}, TypeIndex: types.Invalid}
}

// ImmF builds an immediate float operand.
func ImmF(t Type, bits int, v float64) Operand {
	return Operand{Type: t, SizeBits: bits, Loc: ImmFloat{Value: v}, TypeIndex: types.Invalid}
}
