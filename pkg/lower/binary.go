package lower

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/diag"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/scope"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// integer conversion rank, after promotion to at least int width.
func intRank(k ast.TypeKind) int {
	switch k {
	case ast.TYPE_BOOL:
		return 0
	case ast.TYPE_CHAR, ast.TYPE_UCHAR:
		return 1
	case ast.TYPE_SHORT, ast.TYPE_USHORT:
		return 2
	case ast.TYPE_INT, ast.TYPE_UINT:
		return 3
	case ast.TYPE_LONG, ast.TYPE_ULONG:
		return 4
	}
	return 3
}

func promoted(t ast.TypeSpec) ast.TypeSpec {
	if t.Kind == ast.TYPE_ENUM {
		return ast.TypeInt
	}
	if intRank(t.Kind) < intRank(ast.TYPE_INT) {
		return ast.TypeInt
	}
	return t
}

func unsignedOf(k ast.TypeKind) ast.TypeSpec {
	switch k {
	case ast.TYPE_INT, ast.TYPE_UINT:
		return ast.TypeUInt
	case ast.TYPE_LONG, ast.TYPE_ULONG:
		return ast.TypeULong
	}
	return ast.TypeUInt
}

// commonType runs the usual arithmetic conversions on two scalar
// operand types: floating point dominates, integers promote to at least
// int, then the wider rank wins and unsignedness sticks when the
// unsigned operand is at least as wide.
func commonType(a, b ast.TypeSpec) ast.TypeSpec {
	if a.Kind == ast.TYPE_DOUBLE || b.Kind == ast.TYPE_DOUBLE {
		return ast.TypeDouble
	}
	if a.Kind == ast.TYPE_FLOAT || b.Kind == ast.TYPE_FLOAT {
		return ast.TypeFloat
	}
	a, b = promoted(a), promoted(b)
	ra, rb := intRank(a.Kind), intRank(b.Kind)
	wide := a
	if rb > ra {
		wide = b
	}
	if ra == rb && (a.IsUnsigned() || b.IsUnsigned()) {
		return unsignedOf(wide.Kind)
	}
	if (a.IsUnsigned() && ra >= rb) || (b.IsUnsigned() && rb >= ra) {
		return unsignedOf(wide.Kind)
	}
	return wide
}

// binOpcode selects the IR opcode for a built-in operator applied at
// type t. Comparisons come back with width 8 and type bool.
func binOpcode(op ast.BinOp, t ast.TypeSpec) ir.Op {
	f := t.IsFloating()
	u := t.IsUnsigned() || t.IsPointer()
	switch op {
	case ast.OpAdd:
		if f {
			return ir.OpAddF
		}
		return ir.OpAdd
	case ast.OpSub:
		if f {
			return ir.OpSubF
		}
		return ir.OpSub
	case ast.OpMul:
		if f {
			return ir.OpMulF
		}
		return ir.OpMul
	case ast.OpDiv:
		if f {
			return ir.OpDivF
		}
		if u {
			return ir.OpUDiv
		}
		return ir.OpDiv
	case ast.OpMod:
		if u {
			return ir.OpUMod
		}
		return ir.OpMod
	case ast.OpBitAnd:
		return ir.OpAnd
	case ast.OpBitOr:
		return ir.OpOr
	case ast.OpBitXor:
		return ir.OpXor
	case ast.OpShl:
		return ir.OpShl
	case ast.OpShr:
		if u {
			return ir.OpUShr
		}
		return ir.OpShr
	case ast.OpEq:
		if f {
			return ir.OpCmpFEq
		}
		return ir.OpCmpEq
	case ast.OpNe:
		if f {
			return ir.OpCmpFNe
		}
		return ir.OpCmpNe
	case ast.OpLt:
		if f {
			return ir.OpCmpFLt
		}
		if u {
			return ir.OpCmpULt
		}
		return ir.OpCmpLt
	case ast.OpGt:
		if f {
			return ir.OpCmpFGt
		}
		if u {
			return ir.OpCmpUGt
		}
		return ir.OpCmpGt
	case ast.OpLe:
		if f {
			return ir.OpCmpFLe
		}
		if u {
			return ir.OpCmpULe
		}
		return ir.OpCmpLe
	case ast.OpGe:
		if f {
			return ir.OpCmpFGe
		}
		if u {
			return ir.OpCmpUGe
		}
		return ir.OpCmpGe
	}
	return ir.OpAdd
}

// emitBinary emits one built-in binary operation with both operands
// already converted to t. Comparison results are 8-bit booleans.
func (l *Lowerer) emitBinary(op ast.BinOp, t ast.TypeSpec, a, b ir.Operand, tok token.Token) ir.Operand {
	var dst ir.Operand
	if op.IsComparison() {
		dst = ir.InReg(ir.Bool, 8, l.newReg(), types.Invalid)
	} else {
		dst = l.operandReg(t)
	}
	l.emit(binOpcode(op, t), &ir.Bin{Dst: dst, A: a, B: b}, tok)
	return dst
}

func (l *Lowerer) lowerBinary(e *ast.Binary) (ir.Operand, error) {
	if e.Op.IsLogical() {
		return l.lowerShortCircuit(e)
	}

	lt, rt := stripRef(e.L.ResultType()), stripRef(e.R.ResultType())

	if lt.IsStruct() || rt.IsStruct() {
		return l.lowerOverloadedBinary(e, lt, rt)
	}

	if e.Op == ast.OpSpaceship {
		return l.lowerScalarSpaceship(e, lt, rt)
	}

	// Pointer arithmetic keeps its own scaling rules and never promotes.
	if lt.IsPointer() || rt.IsPointer() {
		return l.lowerPointerBinary(e, lt, rt)
	}

	a, err := l.lowerExpr(e.L, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	b, err := l.lowerExpr(e.R, ctxLoad)
	if err != nil {
		return ir.None, err
	}

	ct := commonType(lt, rt)
	a = l.convertTo(a, lt, ct, e.Tok)
	b = l.convertTo(b, rt, ct, e.Tok)
	return l.emitBinary(e.Op, ct, a, b, e.Tok), nil
}

// stripRef looks through references: a T& operand participates in
// arithmetic as a T.
func stripRef(t ast.TypeSpec) ast.TypeSpec {
	if t.IsReference() {
		return t.Elem()
	}
	return t
}

// lowerShortCircuit lowers && and || with proper control flow. Both
// forms yield an 8-bit boolean and never run numeric promotion.
func (l *Lowerer) lowerShortCircuit(e *ast.Binary) (ir.Operand, error) {
	rightL := l.newLabel("sc_rhs")
	endL := l.newLabel("sc_end")
	res := ir.InReg(ir.Bool, 8, l.newReg(), types.Invalid)

	a, err := l.lowerExpr(e.L, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	a = l.boolize(a, e.Tok)
	l.emit(ir.OpAssign, &ir.Move{Dst: res, Src: a}, e.Tok)
	if e.Op == ast.OpLogAnd {
		l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: a, True: rightL, False: endL}, e.Tok)
	} else {
		l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: a, True: endL, False: rightL}, e.Tok)
	}

	l.emit(ir.OpLabel, &ir.Label{Name: rightL}, e.Tok)
	b, err := l.lowerExpr(e.R, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	b = l.boolize(b, e.Tok)
	l.emit(ir.OpAssign, &ir.Move{Dst: res, Src: b}, e.Tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: endL}, e.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: endL}, e.Tok)
	return res, nil
}

// lowerPointerBinary covers ptr+int, int+ptr, ptr-int, ptr-ptr, and
// pointer comparisons. Offsets scale by the pointee size; a pointer
// difference divides the raw byte distance by the element size; order
// comparisons are unsigned 64-bit.
func (l *Lowerer) lowerPointerBinary(e *ast.Binary, lt, rt ast.TypeSpec) (ir.Operand, error) {
	a, err := l.lowerExpr(e.L, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	b, err := l.lowerExpr(e.R, ctxLoad)
	if err != nil {
		return ir.None, err
	}

	if e.Op.IsComparison() {
		dst := ir.InReg(ir.Bool, 8, l.newReg(), types.Invalid)
		pt := ast.PointerTo(ast.TypeVoid)
		l.emit(binOpcode(e.Op, pt), &ir.Bin{Dst: dst, A: a, B: b}, e.Tok)
		return dst, nil
	}

	switch e.Op {
	case ast.OpAdd, ast.OpSub:
		if lt.IsPointer() && rt.IsPointer() {
			if e.Op != ast.OpSub {
				return ir.None, l.bag.Semantic(e.Tok, "invalid operands to pointer %v", e.Op)
			}
			elem := lt.PointeeSizeBytes(l.reg)
			diff := ir.InReg(ir.Int, 64, l.newReg(), types.Invalid)
			l.emit(ir.OpSub, &ir.Bin{Dst: diff, A: a, B: b}, e.Tok)
			dst := ir.InReg(ir.Int, 64, l.newReg(), types.Invalid)
			l.emit(ir.OpDiv, &ir.Bin{Dst: dst, A: diff, B: ir.Imm(ir.Int, 64, elem)}, e.Tok)
			return dst, nil
		}
		ptr, off, pt := a, b, lt
		if rt.IsPointer() {
			ptr, off, pt = b, a, rt
		}
		scaled := ir.InReg(ir.Int, 64, l.newReg(), types.Invalid)
		l.emit(ir.OpMul, &ir.Bin{Dst: scaled, A: off, B: ir.Imm(ir.Int, 64, pt.PointeeSizeBytes(l.reg))}, e.Tok)
		dst := ir.InReg(ir.Ptr, 64, l.newReg(), tupleIndex(pt.Elem()))
		op := ir.OpAdd
		if e.Op == ast.OpSub {
			op = ir.OpSub
		}
		l.emit(op, &ir.Bin{Dst: dst, A: ptr, B: scaled}, e.Tok)
		return dst, nil
	}
	return ir.None, l.bag.Semantic(e.Tok, "invalid operands to pointer %v", e.Op)
}

// lowerScalarSpaceship yields the conventional negative/zero/positive
// ordering value for built-in operands: (a > b) - (a < b).
func (l *Lowerer) lowerScalarSpaceship(e *ast.Binary, lt, rt ast.TypeSpec) (ir.Operand, error) {
	a, err := l.lowerExpr(e.L, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	b, err := l.lowerExpr(e.R, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	ct := commonType(lt, rt)
	a = l.convertTo(a, lt, ct, e.Tok)
	b = l.convertTo(b, rt, ct, e.Tok)

	gt := l.emitBinary(ast.OpGt, ct, a, b, e.Tok)
	ltr := l.emitBinary(ast.OpLt, ct, a, b, e.Tok)
	dst := ir.InReg(ir.Int, 32, l.newReg(), types.Invalid)
	l.emit(ir.OpSub, &ir.Bin{Dst: dst, A: gt, B: ltr}, e.Tok)
	return dst, nil
}

// lowerOverloadedBinary resolves operator@ against the left operand's
// class. Relational operators without a direct overload rewrite through
// a defaulted operator<=>: one ordering call, then a comparison of its
// result against zero.
func (l *Lowerer) lowerOverloadedBinary(e *ast.Binary, lt, rt ast.TypeSpec) (ir.Operand, error) {
	owner := lt
	if !owner.IsStruct() {
		owner = rt
	}
	def, err := l.structAt(e.Tok, owner.TypeIndex)
	if err != nil {
		return ir.None, err
	}

	name := "operator" + e.Op.String()
	if fd := l.selectOverload(l.funcOverloads(def, name), []ast.Expr{e.R}); fd != nil {
		objAddr, err := l.lowerExpr(e.L, ctxAddr)
		if err != nil {
			return ir.None, err
		}
		return l.emitMemberCall(e.Tok, fd, objAddr, []ast.Expr{e.R})
	}

	if e.Op.IsComparison() || e.Op == ast.OpSpaceship {
		if fd := l.selectOverload(l.funcOverloads(def, "operator<=>"), []ast.Expr{e.R}); fd != nil {
			objAddr, err := l.lowerExpr(e.L, ctxAddr)
			if err != nil {
				return ir.None, err
			}
			ord, err := l.emitMemberCall(e.Tok, fd, objAddr, []ast.Expr{e.R})
			if err != nil {
				return ir.None, err
			}
			if e.Op == ast.OpSpaceship {
				return ord, nil
			}
			ordType := stripRef(fd.Return)
			return l.emitBinary(e.Op, ordType, ord, ir.Imm(ord.Type, ord.SizeBits, 0), e.Tok), nil
		}
	}

	return ir.None, l.bag.Semantic(e.Tok, "no match for %q in %q", name, def.Name)
}

// lowerAssign handles = and the compound forms. The right side converts
// to the left side's type; the left side never promotes. Struct targets
// dispatch to the class's assignment operator when one exists.
func (l *Lowerer) lowerAssign(e *ast.Assign) (ir.Operand, error) {
	lt := stripRef(e.L.ResultType())

	if lt.IsStruct() {
		def, err := l.structAt(e.Tok, lt.TypeIndex)
		if err != nil {
			return ir.None, err
		}
		name := "operator" + e.Op.String()
		if fd := l.selectOverload(l.funcOverloads(def, name), []ast.Expr{e.R}); fd != nil {
			objAddr, err := l.lowerExpr(e.L, ctxAddr)
			if err != nil {
				return ir.None, err
			}
			return l.emitMemberCall(e.Tok, fd, objAddr, []ast.Expr{e.R})
		}
		if e.Op == ast.AssignEq {
			// No user operator=: member-wise copy through the storage.
			return l.lowerStructCopyAssign(e, def)
		}
		return ir.None, l.bag.Semantic(e.Tok, "no match for %q in %q", name, def.Name)
	}

	rhs, err := l.lowerExpr(e.R, ctxLoad)
	if err != nil {
		return ir.None, err
	}
	rhs = l.convertTo(rhs, stripRef(e.R.ResultType()), lt, e.Tok)

	if e.Op != ast.AssignEq {
		lhs, err := l.lowerExpr(e.L, ctxAddr)
		if err != nil {
			return ir.None, err
		}
		if res, ok := l.handleLValueCompoundAssignment(lhs, e.Op.Binary(), rhs, lt, e.Tok); ok {
			return res, nil
		}
		// Syntactic fallback: reload, combine, store.
		cur, err := l.lowerExpr(e.L, ctxLoad)
		if err != nil {
			return ir.None, err
		}
		res := l.emitBinary(e.Op.Binary(), lt, cur, rhs, e.Tok)
		if err := l.syntacticStore(e.L, res); err != nil {
			return ir.None, err
		}
		return res, nil
	}

	lhs, err := l.lowerExpr(e.L, ctxAddr)
	if err != nil {
		return ir.None, err
	}
	if l.handleLValueAssignment(lhs, rhs, e.Tok) {
		return rhs, nil
	}
	if err := l.syntacticStore(e.L, rhs); err != nil {
		return ir.None, err
	}
	return rhs, nil
}

// lowerStructCopyAssign is the fallback for struct assignment with no
// user-declared operator: the source object is copied into the target's
// storage as one block move.
func (l *Lowerer) lowerStructCopyAssign(e *ast.Assign, def *ast.StructDef) (ir.Operand, error) {
	dst, err := l.lowerExpr(e.L, ctxAddr)
	if err != nil {
		return ir.None, err
	}
	src, err := l.lowerExpr(e.R, ctxAddr)
	if err != nil {
		return ir.None, err
	}
	l.emit(ir.OpStore, &ir.Move{Dst: dst, Src: src}, e.Tok)
	return dst, nil
}

// syntacticStore is the second-tier assignment path: it stores by node
// shape when no metadata was recorded for the evaluated left side.
func (l *Lowerer) syntacticStore(lhs ast.Expr, val ir.Operand) error {
	switch t := lhs.(type) {
	case *ast.Ident:
		sym, ok := l.fn.syms.Resolve(t.Name)
		if !ok {
			return l.bag.Internal(t.Tok, "unresolved assignment target %q", t.Name)
		}
		switch sym.Kind {
		case scope.SymGlobal:
			l.emit(ir.OpGlobalStore, &ir.Global{Name: sym.Name, Src: val}, t.Tok)
		default:
			l.emit(ir.OpAssign, &ir.Move{Dst: l.operandSlot(sym.Type, sym.Name), Src: val}, t.Tok)
		}
		return nil
	case *ast.Unary:
		if t.Op == ast.OpDeref {
			addr, err := l.lowerExpr(t.X, ctxLoad)
			if err != nil {
				return err
			}
			l.emit(ir.OpStore, &ir.Move{Dst: addr, Src: val}, t.Tok)
			return nil
		}
	}
	return l.bag.Semantic(lhs.Pos(), "expression is not assignable")
}

func (l *Lowerer) lowerUnary(e *ast.Unary, vc valueContext) (ir.Operand, error) {
	xt := stripRef(e.X.ResultType())

	switch e.Op {
	case ast.OpPlusSign:
		return l.lowerExpr(e.X, vc)

	case ast.OpNeg:
		if xt.IsStruct() {
			return l.lowerOverloadedUnary(e, xt, "operator-")
		}
		x, err := l.lowerExpr(e.X, ctxLoad)
		if err != nil {
			return ir.None, err
		}
		ct := promoted(xt)
		x = l.convertTo(x, xt, ct, e.Tok)
		dst := l.operandReg(ct)
		op := ir.OpNeg
		if ct.IsFloating() {
			op = ir.OpNegF
		}
		l.emit(op, &ir.Un{Dst: dst, X: x}, e.Tok)
		return dst, nil

	case ast.OpLogNot:
		x, err := l.lowerExpr(e.X, ctxLoad)
		if err != nil {
			return ir.None, err
		}
		b := l.boolize(x, e.Tok)
		dst := ir.InReg(ir.Bool, 8, l.newReg(), types.Invalid)
		l.emit(ir.OpCmpEq, &ir.Bin{Dst: dst, A: b, B: ir.Imm(ir.Bool, 8, 0)}, e.Tok)
		return dst, nil

	case ast.OpBitNot:
		if xt.IsStruct() {
			return l.lowerOverloadedUnary(e, xt, "operator~")
		}
		x, err := l.lowerExpr(e.X, ctxLoad)
		if err != nil {
			return ir.None, err
		}
		ct := promoted(xt)
		x = l.convertTo(x, xt, ct, e.Tok)
		dst := l.operandReg(ct)
		l.emit(ir.OpBitNot, &ir.Un{Dst: dst, X: x}, e.Tok)
		return dst, nil

	case ast.OpDeref:
		if xt.IsStruct() {
			return l.lowerOverloadedUnary(e, xt, "operator*")
		}
		addr, err := l.lowerExpr(e.X, ctxLoad)
		if err != nil {
			return ir.None, err
		}
		elem := xt.Elem()
		if vc == ctxAddr || elem.IsStruct() {
			l.markLValue(addr, LValueInfo{
				Kind: LVIndirect, Addr: addr,
				Type: l.irType(elem), SizeBits: elem.SizeBits(l.reg),
				TypeIndex: tupleIndex(elem), Category: CatLValue,
			})
			return addr, nil
		}
		dst := l.operandReg(elem)
		l.emit(ir.OpDeref, &ir.Un{Dst: dst, X: addr}, e.Tok)
		l.markLValue(dst, LValueInfo{
			Kind: LVIndirect, Addr: addr,
			Type: dst.Type, SizeBits: dst.SizeBits, TypeIndex: dst.TypeIndex,
			Category: CatLValue,
		})
		return dst, nil

	case ast.OpAddrOf:
		return l.lowerExpr(e.X, ctxAddr)

	case ast.OpPreInc, ast.OpPreDec:
		return l.lowerIncDec(e.Tok, e.X, e.Op == ast.OpPreInc, false)
	}
	return ir.None, l.bag.Internal(e.Tok, "unhandled unary operator")
}

func (l *Lowerer) lowerOverloadedUnary(e *ast.Unary, xt ast.TypeSpec, name string) (ir.Operand, error) {
	def, err := l.structAt(e.Tok, xt.TypeIndex)
	if err != nil {
		return ir.None, err
	}
	fd := l.selectOverload(l.funcOverloads(def, name), nil)
	if fd == nil {
		return ir.None, l.bag.Semantic(e.Tok, "no match for %q in %q", name, def.Name)
	}
	objAddr, err := l.lowerExpr(e.X, ctxAddr)
	if err != nil {
		return ir.None, err
	}
	return l.emitMemberCall(e.Tok, fd, objAddr, nil)
}

func (l *Lowerer) lowerPostfix(e *ast.Postfix) (ir.Operand, error) {
	return l.lowerIncDec(e.Tok, e.X, e.Inc, true)
}

// lowerIncDec covers all four increment/decrement spellings. Pointers
// step by the pointee size. Class operands dispatch to operator++ or
// operator-- by arity (0 params prefix, dummy-int postfix), falling
// back to whichever arity exists with a warning.
func (l *Lowerer) lowerIncDec(tok token.Token, x ast.Expr, inc, postfix bool) (ir.Operand, error) {
	xt := stripRef(x.ResultType())

	if xt.IsStruct() {
		def, err := l.structAt(tok, xt.TypeIndex)
		if err != nil {
			return ir.None, err
		}
		name := "operator++"
		if !inc {
			name = "operator--"
		}
		fns := l.funcOverloads(def, name)
		var fd *ast.FuncDecl
		want := 0
		if postfix {
			want = 1
		}
		for _, f := range fns {
			if len(f.Params) == want {
				fd = f
				break
			}
		}
		if fd == nil && postfix {
			for _, f := range fns {
				if len(f.Params) == 0 {
					fd = f
					l.bag.Warn(diag.WarnExtra, tok, "postfix %s uses prefix overload in %q", name, def.Name)
					break
				}
			}
		}
		if fd == nil && !postfix {
			for _, f := range fns {
				if len(f.Params) == 1 {
					fd = f
					l.bag.Warn(diag.WarnExtra, tok, "prefix %s uses postfix overload in %q", name, def.Name)
					break
				}
			}
		}
		if fd == nil {
			return ir.None, l.bag.Semantic(tok, "no match for %q in %q", name, def.Name)
		}
		objAddr, err := l.lowerExpr(x, ctxAddr)
		if err != nil {
			return ir.None, err
		}
		var args []ast.Expr
		if len(fd.Params) == 1 {
			args = []ast.Expr{&ast.IntLit{Tok: tok, Value: 0, Type: ast.TypeInt}}
		}
		return l.emitMemberCall(tok, fd, objAddr, args)
	}

	step := int64(1)
	if xt.IsPointer() {
		step = xt.PointeeSizeBytes(l.reg)
	}

	cur, err := l.lowerExpr(x, ctxLoad)
	if err != nil {
		return ir.None, err
	}

	op := ast.OpAdd
	if !inc {
		op = ast.OpSub
	}
	next := l.emitBinary(op, xt, cur, ir.Imm(cur.Type, cur.SizeBits, step), tok)

	stored := false
	if info, ok := l.fn.lvals.Lookup(cur.Reg()); ok && info.Kind != LVTemporary {
		stored = l.storeTo(info, next, tok)
	}
	if !stored {
		if err := l.syntacticStore(x, next); err != nil {
			return ir.None, err
		}
	}

	if postfix {
		return cur, nil
	}
	return next, nil
}
