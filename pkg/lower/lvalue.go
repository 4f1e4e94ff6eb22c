package lower

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// Category is the value category of an expression result.
type Category int

const (
	CatPRValue Category = iota
	CatLValue
	CatXValue
)

// LVKind tags the writeback shape recorded for a register.
type LVKind int

const (
	LVDirect LVKind = iota // named storage
	LVIndirect              // address held in another register
	LVMember                // object + member + byte offset
	LVArrayElem             // base + index
	LVGlobal                // global symbol
	LVTemporary             // no writeback target
)

// LValueInfo is the out-of-band writeback metadata attached to a virtual
// register. Only the fields relevant to Kind are set.
type LValueInfo struct {
	Kind LVKind

	Name string // Direct: slot name; Global: symbol name

	Addr ir.Operand // Indirect

	Object    ir.Operand // Member
	Member    string
	Offset    int64
	BitWidth  int
	BitOffset int

	Base     ir.Operand // ArrayElement
	Index    ir.Operand
	ElemSize int64
	PtrBase  bool

	Type      ir.Type
	SizeBits  int
	TypeIndex types.Index

	Category Category
	// RVO marks a constructor-call prvalue eligible for construction
	// directly into the return slot.
	RVO bool
}

// LValueTable maps virtual registers to their metadata. It is owned by
// the function state and threaded through the lowering context, so state
// cannot leak across function boundaries.
type LValueTable struct {
	m map[int]LValueInfo
}

func NewLValueTable() *LValueTable {
	return &LValueTable{m: make(map[int]LValueInfo)}
}

// Mark records writeback metadata for a register.
func (t *LValueTable) Mark(reg int, info LValueInfo) {
	if reg < 0 {
		return
	}
	t.m[reg] = info
}

// Lookup retrieves metadata recorded for a register.
func (t *LValueTable) Lookup(reg int) (LValueInfo, bool) {
	info, ok := t.m[reg]
	return info, ok
}

// storeTo writes val back through the metadata. Returns false when the
// kind has no writeback target and the caller must fall back to the
// syntactic path.
func (l *Lowerer) storeTo(info LValueInfo, val ir.Operand, tok token.Token) bool {
	switch info.Kind {
	case LVDirect:
		dst := ir.InSlot(info.Type, info.SizeBits, info.Name, info.TypeIndex)
		l.emit(ir.OpAssign, &ir.Move{Dst: dst, Src: val}, tok)
	case LVIndirect:
		l.emit(ir.OpStore, &ir.Move{Dst: info.Addr, Src: val}, tok)
	case LVMember:
		l.emit(ir.OpMemberStore, &ir.MemberAccess{
			Object: info.Object, Member: info.Member, Offset: info.Offset,
			BitWidth: info.BitWidth, BitOffset: info.BitOffset, Src: val,
		}, tok)
	case LVArrayElem:
		l.emit(ir.OpArrayStore, &ir.ArrayAccess{
			Base: info.Base, Index: info.Index, ElemSize: info.ElemSize,
			PtrBase: info.PtrBase, Src: val,
		}, tok)
	case LVGlobal:
		l.emit(ir.OpGlobalStore, &ir.Global{Name: info.Name, Src: val}, tok)
	default:
		return false
	}
	return true
}

// loadFrom reads the current value through the metadata into a fresh
// register. Returns false for kinds with no load path.
func (l *Lowerer) loadFrom(info LValueInfo, tok token.Token) (ir.Operand, bool) {
	dst := ir.InReg(info.Type, info.SizeBits, l.newReg(), info.TypeIndex)
	switch info.Kind {
	case LVDirect:
		src := ir.InSlot(info.Type, info.SizeBits, info.Name, info.TypeIndex)
		l.emit(ir.OpAssign, &ir.Move{Dst: dst, Src: src}, tok)
	case LVIndirect:
		l.emit(ir.OpDeref, &ir.Un{Dst: dst, X: info.Addr}, tok)
	case LVMember:
		l.emit(ir.OpMemberLoad, &ir.MemberAccess{
			Object: info.Object, Member: info.Member, Offset: info.Offset,
			BitWidth: info.BitWidth, BitOffset: info.BitOffset, Dst: dst,
		}, tok)
	case LVArrayElem:
		l.emit(ir.OpArrayLoad, &ir.ArrayAccess{
			Base: info.Base, Index: info.Index, ElemSize: info.ElemSize,
			PtrBase: info.PtrBase, Dst: dst,
		}, tok)
	case LVGlobal:
		l.emit(ir.OpGlobalLoad, &ir.Global{Name: info.Name, Dst: dst}, tok)
	default:
		return ir.None, false
	}
	return dst, true
}

// handleLValueAssignment stores val into the target described by the
// metadata attached to lhs's register. Returns false when no usable
// metadata exists and the caller must take the legacy syntactic path.
func (l *Lowerer) handleLValueAssignment(lhs ir.Operand, val ir.Operand, tok token.Token) bool {
	info, ok := l.fn.lvals.Lookup(lhs.Reg())
	if !ok || info.Kind == LVTemporary {
		return false
	}
	return l.storeTo(info, val, tok)
}

// handleLValueCompoundAssignment performs load-op-store through the
// metadata. Direct and Temporary kinds defer to plain assignment, per
// the tracker contract.
func (l *Lowerer) handleLValueCompoundAssignment(lhs ir.Operand, op ast.BinOp, rhs ir.Operand, lhsType ast.TypeSpec, tok token.Token) (ir.Operand, bool) {
	info, ok := l.fn.lvals.Lookup(lhs.Reg())
	if !ok {
		return ir.None, false
	}
	switch info.Kind {
	case LVIndirect, LVMember, LVArrayElem, LVGlobal:
	default:
		return ir.None, false
	}

	cur, ok := l.loadFrom(info, tok)
	if !ok {
		return ir.None, false
	}
	res := l.emitBinary(op, lhsType, cur, rhs, tok)
	if !l.storeTo(info, res, tok) {
		return ir.None, false
	}
	return res, true
}
