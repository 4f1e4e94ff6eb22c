package ast

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// FuncKind distinguishes plain functions from the special members whose
// bodies the lowering pass partly synthesizes.
type FuncKind int

const (
	FuncPlain FuncKind = iota
	FuncCtor
	FuncDtor
)

// SpecialKind marks compiler-synthesized special members on defaulted
// declarations.
type SpecialKind int

const (
	SpecialNone SpecialKind = iota
	SpecialCopyCtor
	SpecialMoveCtor
	SpecialSpaceship
)

type ParamDecl struct {
	Tok  token.Token
	Name string
	Type TypeSpec
}

// MemberInit is one entry of a constructor's initializer list. A base
// class name targets the base constructor; Delegating marks the
// ": OtherCtor(args)" form that replaces all other initialization.
type MemberInit struct {
	Tok        token.Token
	Name       string
	Args       []Expr
	Delegating bool
}

type FuncDecl struct {
	Tok       token.Token
	Name      string
	Namespace []string
	// StructName is the owning class for member functions, "" otherwise.
	StructName string
	Kind       FuncKind
	Special    SpecialKind
	Params     []*ParamDecl
	Return     TypeSpec
	Body       *Block
	MemberInit []MemberInit

	IsStatic    bool
	IsVirtual   bool
	IsVariadic  bool
	IsDefaulted bool
}

// TemplateFunc is a function template awaiting concrete type arguments.
// The scheduler instantiates it by substituting TemplateParams.
type TemplateFunc struct {
	Decl           *FuncDecl
	TemplateParams []string
}

// Access is base-class inheritance access.
type Access int

const (
	AccessPublic Access = iota
	AccessProtected
	AccessPrivate
)

// Base records one base class with its offset inside the derived object.
// Offsets everywhere in a layout are absolute from the object's own base
// address, never cumulative from the immediate parent.
type Base struct {
	Name   string
	Index  types.Index
	Offset int64
	Access Access
}

// Member is one data member of a struct layout. BitWidth > 0 marks a
// bitfield occupying BitWidth bits at BitOffset within the storage unit.
type Member struct {
	Name      string
	Type      TypeSpec
	Offset    int64
	BitWidth  int
	BitOffset int
	// Init is the default member initializer, nil when absent.
	Init Expr
}

type StaticMember struct {
	Name string
	Type TypeSpec
	// Sym is the linker-visible symbol the mangler produced upstream.
	Sym string
}

// StructDef is the registry entry for a class/struct: layout, bases,
// member functions, and vtable presence. It implements types.Def.
type StructDef struct {
	Name      string
	Members   []Member
	Bases     []Base
	Statics   []StaticMember
	Funcs     []*FuncDecl
	HasVTable bool
	VTableSym string
	Abstract  bool
	SizeBytes int64
	Align     int64

	// TemplateArgs is non-empty on concrete template instantiations;
	// self-referential member types are patched to this instance before
	// mangling.
	TemplateArgs []TypeSpec
}

func (d *StructDef) DefName() string { return d.Name }

// FindMember locates a direct data member.
func (d *StructDef) FindMember(name string) (Member, bool) {
	for _, m := range d.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// FindFunc returns member functions with the given name (overload set).
func (d *StructDef) FindFunc(name string) []*FuncDecl {
	var out []*FuncDecl
	for _, f := range d.Funcs {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out
}

// Ctors returns the constructor overload set.
func (d *StructDef) Ctors() []*FuncDecl {
	var out []*FuncDecl
	for _, f := range d.Funcs {
		if f.Kind == FuncCtor {
			out = append(out, f)
		}
	}
	return out
}

// Dtor returns the destructor or nil.
func (d *StructDef) Dtor() *FuncDecl {
	for _, f := range d.Funcs {
		if f.Kind == FuncDtor {
			return f
		}
	}
	return nil
}

// EnumDef is the registry entry for an enum.
type EnumDef struct {
	Name           string
	UnderlyingBits int
	Members        []EnumMember
}

type EnumMember struct {
	Name  string
	Value int64
}

func (d *EnumDef) DefName() string { return d.Name }

// TranslationUnit is the root handed to the lowering pass.
type TranslationUnit struct {
	Funcs     []*FuncDecl
	Templates []*TemplateFunc
	Globals   []*VarDecl
}
