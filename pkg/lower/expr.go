package lower

import (
	"tlog.app/go/errors"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/scope"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// lowerExpr lowers one expression node, emitting instructions as a side
// effect and returning the operand tuple every caller composes directly
// into further instructions. The match is exhaustive over the sealed
// node set; the default arm is an earlier-phase contract violation.
func (l *Lowerer) lowerExpr(e ast.Expr, vc valueContext) (ir.Operand, error) {
	if e == nil {
		return ir.None, nil
	}
	if err := l.checkExpanded(e.Pos(), e.ResultType()); err != nil {
		return ir.None, err
	}

	switch e := e.(type) {
	case *ast.IntLit:
		return ir.Imm(l.irType(e.Type), e.Type.SizeBits(l.reg), e.Value), nil
	case *ast.FloatLit:
		return ir.ImmF(ir.Float, e.Type.SizeBits(l.reg), e.Value), nil
	case *ast.BoolLit:
		v := int64(0)
		if e.Value {
			v = 1
		}
		return ir.Imm(ir.Bool, 8, v), nil
	case *ast.NullptrLit:
		return ir.Imm(ir.Ptr, 64, 0), nil
	case *ast.StringLit:
		l.out.Strings[e.Value] = e.Slot
		return ir.InSlot(ir.Ptr, 64, e.Slot, types.Invalid), nil
	case *ast.Ident:
		return l.lowerIdent(e, vc)
	case *ast.This:
		if l.fn.closure != nil {
			// Inside a lambda body, this refers to the captured enclosing
			// receiver, never the closure object.
			return l.closureReceiver(e.Tok)
		}
		if l.fn.thisReg == 0 {
			return ir.None, l.bag.Internal(e.Tok, "this outside a member function")
		}
		return ir.InReg(ir.Ptr, 64, l.fn.thisReg, tupleIndex(e.Type.Elem())), nil
	case *ast.MemberExpr:
		return l.lowerMember(e, vc)
	case *ast.Subscript:
		return l.lowerSubscript(e, vc)
	case *ast.Call:
		return l.lowerCall(e, vc)
	case *ast.Binary:
		return l.lowerBinary(e)
	case *ast.Assign:
		return l.lowerAssign(e)
	case *ast.Unary:
		return l.lowerUnary(e, vc)
	case *ast.Postfix:
		return l.lowerPostfix(e)
	case *ast.Ternary:
		return l.lowerTernary(e)
	case *ast.Comma:
		// Left is lowered and discarded; the result is the right tuple.
		if _, err := l.lowerExpr(e.L, ctxLoad); err != nil {
			return ir.None, err
		}
		return l.lowerExpr(e.R, vc)
	case *ast.Cast:
		return l.lowerCast(e, vc)
	case *ast.CtorExpr:
		return l.lowerCtorExpr(e, ir.None)
	case *ast.New:
		return l.lowerNew(e)
	case *ast.SizeofExpr:
		return l.lowerSizeof(e)
	case *ast.Lambda:
		return l.lowerLambda(e)
	}
	return ir.None, l.bag.Internal(e.Pos(), "unhandled expression node %T", e)
}

func (l *Lowerer) lowerIdent(e *ast.Ident, vc valueContext) (ir.Operand, error) {
	// Captured names resolve through the enclosing closure first.
	if l.fn.closure != nil {
		if op, ok, err := l.lowerCapturedIdent(e, vc); ok || err != nil {
			return op, err
		}
	}

	sym, ok := l.fn.syms.Resolve(e.Name)
	if !ok {
		if _, isTmpl := l.tmpls[e.Name]; isTmpl {
			// Bare template name only appears as a call callee; the call
			// path instantiates it. Anywhere else is unresolvable.
			return ir.None, l.bag.Internal(e.Tok, "template %q used outside a call", e.Name)
		}
		// Inside a lambda that captured the receiver, bare member names
		// still reach the enclosing class.
		if l.fn.closure != nil {
			if op, hit, err := l.lowerCapturedMember(e, vc); hit || err != nil {
				return op, err
			}
		}
		return ir.None, l.bag.Internal(e.Tok, "unresolved identifier %q", e.Name)
	}

	switch sym.Kind {
	case scope.SymFunc:
		return ir.InSlot(ir.Ptr, 64, sym.Name, types.Invalid), nil

	case scope.SymGlobal:
		if vc == ctxAddr {
			dst := ir.InReg(ir.Ptr, 64, l.newReg(), types.Invalid)
			l.emit(ir.OpAddrOf, &ir.Un{Dst: dst, X: l.operandSlot(sym.Type, sym.Name)}, e.Tok)
			l.markLValue(dst, LValueInfo{
				Kind: LVGlobal, Name: sym.Name,
				Type: l.irType(sym.Type), SizeBits: sym.Type.SizeBits(l.reg),
				TypeIndex: tupleIndex(sym.Type), Category: CatLValue,
			})
			return dst, nil
		}
		dst := l.operandReg(sym.Type)
		l.emit(ir.OpGlobalLoad, &ir.Global{Name: sym.Name, Dst: dst}, e.Tok)
		l.markLValue(dst, LValueInfo{
			Kind: LVGlobal, Name: sym.Name,
			Type: dst.Type, SizeBits: dst.SizeBits, TypeIndex: dst.TypeIndex,
			Category: CatLValue,
		})
		return dst, nil

	case scope.SymMember:
		// Implicit member access through the receiver.
		return l.lowerMemberOf(e.Tok, l.thisOperand(), l.fn.syms.Class, e.Name, vc)

	default: // local or parameter: named storage
		slot := l.operandSlot(sym.Type, sym.Name)
		if vc == ctxAddr {
			dst := ir.InReg(ir.Ptr, 64, l.newReg(), tupleIndex(sym.Type))
			l.emit(ir.OpAddrOf, &ir.Un{Dst: dst, X: slot}, e.Tok)
			l.markLValue(dst, LValueInfo{
				Kind: LVDirect, Name: sym.Name,
				Type: l.irType(sym.Type), SizeBits: sym.Type.SizeBits(l.reg),
				TypeIndex: tupleIndex(sym.Type), Category: CatLValue,
			})
			return dst, nil
		}
		if sym.Type.IsReference() {
			// A reference variable holds an address; reads go through it.
			dst := l.operandReg(sym.Type.Elem())
			l.emit(ir.OpDeref, &ir.Un{Dst: dst, X: slot}, e.Tok)
			l.markLValue(dst, LValueInfo{
				Kind: LVIndirect, Addr: slot,
				Type: dst.Type, SizeBits: dst.SizeBits, TypeIndex: dst.TypeIndex,
				Category: CatLValue,
			})
			return dst, nil
		}
		return slot, nil
	}
}

func (l *Lowerer) thisOperand() ir.Operand {
	ti := types.Invalid
	if l.fn.syms.Class != nil {
		if i, ok := l.reg.Lookup(l.fn.syms.Class.Name); ok {
			ti = i
		}
	}
	return ir.InReg(ir.Ptr, 64, l.fn.thisReg, ti)
}

func (l *Lowerer) markLValue(op ir.Operand, info LValueInfo) {
	l.fn.lvals.Mark(op.Reg(), info)
}

// lowerMember handles obj.name and ptr->name.
func (l *Lowerer) lowerMember(e *ast.MemberExpr, vc valueContext) (ir.Operand, error) {
	objType := e.Object.ResultType()
	var objAddr ir.Operand
	var err error
	if e.Arrow || objType.IsPointer() {
		objAddr, err = l.lowerExpr(e.Object, ctxLoad)
		objType = objType.Elem()
	} else {
		objAddr, err = l.lowerExpr(e.Object, ctxAddr)
	}
	if err != nil {
		return ir.None, err
	}

	def, err := l.structAt(e.Tok, objType.TypeIndex)
	if err != nil {
		return ir.None, err
	}
	return l.lowerMemberOf(e.Tok, objAddr, def, e.Name, vc)
}

// lowerMemberOf emits the access once the object address and owning
// definition are known. Offsets are absolute from the object base; base
// subobject offsets were already folded in by memberLookup.
func (l *Lowerer) lowerMemberOf(tok token.Token, objAddr ir.Operand, def *ast.StructDef, name string, vc valueContext) (ir.Operand, error) {
	m, off, ok := l.memberLookup(tok, def, name)
	if !ok {
		return ir.None, l.bag.Internal(tok, "no member %q in %q", name, def.Name)
	}

	info := LValueInfo{
		Kind: LVMember, Object: objAddr, Member: name, Offset: off,
		BitWidth: m.BitWidth, BitOffset: m.BitOffset,
		Type: l.irType(m.Type), SizeBits: m.Type.SizeBits(l.reg),
		TypeIndex: tupleIndex(m.Type), Category: CatLValue,
	}

	if vc == ctxAddr || m.Type.IsStruct() {
		// Struct-typed members are handled by address; so is any member
		// evaluated for writeback.
		dst := ir.InReg(info.Type, info.SizeBits, l.newReg(), info.TypeIndex)
		if vc == ctxAddr {
			dst = ir.InReg(ir.Ptr, 64, dst.Reg(), info.TypeIndex)
		}
		l.emit(ir.OpAdd, &ir.Bin{Dst: dst, A: objAddr, B: ir.Imm(ir.Int, 64, off)}, tok)
		l.markLValue(dst, info)
		return dst, nil
	}

	dst := ir.InReg(info.Type, info.SizeBits, l.newReg(), info.TypeIndex)
	l.emit(ir.OpMemberLoad, &ir.MemberAccess{
		Object: objAddr, Member: name, Offset: off,
		BitWidth: m.BitWidth, BitOffset: m.BitOffset, Dst: dst,
	}, tok)
	l.markLValue(dst, info)
	return dst, nil
}

func (l *Lowerer) lowerSubscript(e *ast.Subscript, vc valueContext) (ir.Operand, error) {
	baseType := e.Base.ResultType()
	base, err := l.lowerExpr(e.Base, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	idx, err := l.lowerExpr(e.Index, ctxLoad)
	if err != nil {
		return ir.None, err
	}

	elemType := baseType.Elem()
	elemSize := baseType.PointeeSizeBytes(l.reg)
	if baseType.IsArray {
		elemSize = int64(elemType.SizeBits(l.reg) / 8)
	}

	info := LValueInfo{
		Kind: LVArrayElem, Base: base, Index: idx,
		ElemSize: elemSize, PtrBase: baseType.IsPointer() && !baseType.IsArray,
		Type: l.irType(elemType), SizeBits: elemType.SizeBits(l.reg),
		TypeIndex: tupleIndex(elemType), Category: CatLValue,
	}

	if vc == ctxAddr || elemType.IsStruct() {
		// Element address: scale the index by the element size, add.
		scaled := ir.InReg(ir.Int, 64, l.newReg(), types.Invalid)
		l.emit(ir.OpMul, &ir.Bin{Dst: scaled, A: idx, B: ir.Imm(ir.Int, 64, elemSize)}, e.Tok)
		dst := ir.InReg(ir.Ptr, 64, l.newReg(), info.TypeIndex)
		l.emit(ir.OpAdd, &ir.Bin{Dst: dst, A: base, B: scaled}, e.Tok)
		l.markLValue(dst, info)
		return dst, nil
	}

	dst := ir.InReg(info.Type, info.SizeBits, l.newReg(), info.TypeIndex)
	l.emit(ir.OpArrayLoad, &ir.ArrayAccess{
		Base: base, Index: idx, ElemSize: elemSize, PtrBase: info.PtrBase, Dst: dst,
	}, e.Tok)
	l.markLValue(dst, info)
	return dst, nil
}

func (l *Lowerer) lowerTernary(e *ast.Ternary) (ir.Operand, error) {
	thenL, elseL, endL := l.newLabel("tern_then"), l.newLabel("tern_else"), l.newLabel("tern_end")
	res := l.operandReg(e.Type)

	cond, err := l.lowerExpr(e.Cond, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: cond, True: thenL, False: elseL}, e.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: thenL}, e.Tok)
	tv, err := l.lowerExpr(e.Then, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	tv = l.convertTo(tv, e.Then.ResultType(), e.Type, e.Tok)
	l.emit(ir.OpAssign, &ir.Move{Dst: res, Src: tv}, e.Tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: endL}, e.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: elseL}, e.Tok)
	ev, err := l.lowerExpr(e.Else, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	ev = l.convertTo(ev, e.Else.ResultType(), e.Type, e.Tok)
	l.emit(ir.OpAssign, &ir.Move{Dst: res, Src: ev}, e.Tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: endL}, e.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: endL}, e.Tok)
	return res, nil
}

func (l *Lowerer) lowerSizeof(e *ast.SizeofExpr) (ir.Operand, error) {
	t := e.Of
	if e.Arg != nil {
		t = e.Arg.ResultType()
	}
	var size int64
	switch {
	case t.IsPointer() || t.IsReference():
		size = int64(l.opts.WordSize)
	case t.IsArray:
		size = t.ArrayLen * int64(t.Elem().SizeBits(l.reg)/8)
	default:
		size = int64(t.SizeBits(l.reg) / 8)
	}
	return ir.Imm(ir.UInt, 64, size), nil
}

// lowerCtorExpr constructs a temporary (or, when dst names storage,
// constructs in place). The result is the object address, tagged as an
// RVO-eligible prvalue so return lowering can elide the copy.
func (l *Lowerer) lowerCtorExpr(e *ast.CtorExpr, dst ir.Operand) (ir.Operand, error) {
	def, err := l.structAt(e.Tok, e.Type.TypeIndex)
	if err != nil {
		return ir.None, err
	}
	if def.Abstract {
		return ir.None, l.bag.Semantic(e.Tok, "cannot instantiate abstract class %q", def.Name)
	}

	obj := dst
	if obj.IsNone() {
		name := l.newLabel("__tmp")
		l.emit(ir.OpVarDecl, &ir.VarDecl{
			Name: name, Type: ir.Struct,
			SizeBits: int(def.SizeBytes) * 8, TypeIndex: e.Type.TypeIndex,
		}, e.Tok)
		obj = ir.InSlot(ir.Struct, int(def.SizeBytes)*8, name, e.Type.TypeIndex)
	}

	if err := l.emitConstruction(e.Tok, def, obj, e.Args, e.List); err != nil {
		return ir.None, err
	}

	res := obj
	l.markLValue(res, LValueInfo{
		Kind: LVTemporary, Type: ir.Struct, SizeBits: obj.SizeBits,
		TypeIndex: e.Type.TypeIndex, Category: CatPRValue, RVO: true,
	})
	return res, nil
}

func (l *Lowerer) lowerNew(e *ast.New) (ir.Operand, error) {
	if e.Type.IsStruct() {
		def, err := l.structAt(e.Tok, e.Type.TypeIndex)
		if err != nil {
			return ir.None, err
		}
		if def.Abstract {
			return ir.None, l.bag.Semantic(e.Tok, "cannot instantiate abstract class %q", def.Name)
		}

		var addr ir.Operand
		if e.Placement != nil {
			addr, err = l.lowerExpr(e.Placement, ctxLoad)
			if err != nil {
				return ir.None, err
			}
			l.emit(ir.OpPlacementNew, &ir.PlacementNew{Addr: addr, TypeIndex: e.Type.TypeIndex}, e.Tok)
		} else {
			addr = ir.InReg(ir.Ptr, 64, l.newReg(), e.Type.TypeIndex)
			l.emit(ir.OpHeapAlloc, &ir.HeapAlloc{Dst: addr, Size: ir.Imm(ir.UInt, 64, def.SizeBytes)}, e.Tok)
		}

		if err := l.emitConstruction(e.Tok, def, addr, e.Args, false); err != nil {
			return ir.None, err
		}
		return addr, nil
	}

	// Scalar new.
	size := int64(e.Type.SizeBits(l.reg) / 8)
	addr := ir.InReg(ir.Ptr, 64, l.newReg(), types.Invalid)
	l.emit(ir.OpHeapAlloc, &ir.HeapAlloc{Dst: addr, Size: ir.Imm(ir.UInt, 64, size)}, e.Tok)
	if len(e.Args) == 1 {
		v, err := l.lowerExpr(e.Args[0], ctxLoad)
		if err != nil {
			return ir.None, err
		}
		l.emit(ir.OpStore, &ir.Move{Dst: addr, Src: v}, e.Tok)
	}
	return addr, nil
}

// lowerCast handles the cast spellings. Reference casts are evaluated in
// address context and tag the result's value category; numeric casts
// pick a conversion following the usual int/float tables.
func (l *Lowerer) lowerCast(e *ast.Cast, vc valueContext) (ir.Operand, error) {
	if e.To.IsReference() {
		src, err := l.lowerExpr(e.X, ctxAddr)
		if err != nil {
			return ir.None, err
		}

		cat := CatLValue
		if e.To.IsRValRef {
			cat = CatXValue
		}

		// An address-of is only needed when the source operand does not
		// already hold an address.
		res := src
		if src.Type != ir.Ptr {
			res = ir.InReg(ir.Ptr, 64, l.newReg(), tupleIndex(e.To.Elem()))
			l.emit(ir.OpAddrOf, &ir.Un{Dst: res, X: src}, e.Tok)
		}

		info, ok := l.fn.lvals.Lookup(src.Reg())
		if !ok {
			info = LValueInfo{Kind: LVIndirect, Addr: res,
				Type: l.irType(e.To.Elem()), SizeBits: e.To.Elem().SizeBits(l.reg),
				TypeIndex: tupleIndex(e.To.Elem())}
		}
		info.Category = cat
		l.markLValue(res, info)
		return res, nil
	}

	if e.Kind == ast.CastReinterpret || e.To.IsPointer() {
		// Bit-pattern reinterpretation: pass the value through retyped.
		src, err := l.lowerExpr(e.X, ctxLoad)
		if err != nil {
			return ir.None, err
		}
		src.Type = l.irType(e.To)
		src.SizeBits = e.To.SizeBits(l.reg)
		src.TypeIndex = tupleIndex(e.To)
		return src, nil
	}

	src, err := l.lowerExpr(e.X, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	return l.convertTo(src, e.X.ResultType(), e.To, e.Tok), nil
}

// convertTo emits a conversion when from and to differ in IR category or
// width; same-shape values pass through untouched.
func (l *Lowerer) convertTo(v ir.Operand, from, to ast.TypeSpec, tok token.Token) ir.Operand {
	ft, tt := l.irType(from), l.irType(to)
	fb, tb := from.SizeBits(l.reg), to.SizeBits(l.reg)
	if ft == tt && fb == tb {
		return v
	}
	if tt == ir.Struct || ft == ir.Struct {
		return v
	}
	dst := ir.InReg(tt, tb, l.newReg(), tupleIndex(to))
	l.emit(ir.OpConv, &ir.Un{Dst: dst, X: v}, tok)
	return dst
}

// boolize coerces a value to an 8-bit boolean without running numeric
// promotion, so logical results are not misclassified as needing
// further conversion.
func (l *Lowerer) boolize(v ir.Operand, tok token.Token) ir.Operand {
	if v.Type == ir.Bool && v.SizeBits == 8 {
		return v
	}
	dst := ir.InReg(ir.Bool, 8, l.newReg(), types.Invalid)
	op := ir.OpCmpNe
	if v.Type == ir.Float {
		op = ir.OpCmpFNe
	}
	l.emit(op, &ir.Bin{Dst: dst, A: v, B: ir.Imm(v.Type, v.SizeBits, 0)}, tok)
	return dst
}

func (l *Lowerer) wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, format, args...)
}
