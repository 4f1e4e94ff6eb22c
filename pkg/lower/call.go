package lower

import (
	"strings"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/diag"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/scope"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// Compiler intrinsics accepted and dropped. Each lowers to a recorded
// no-op so later phases can see something was here, plus a warning.
var droppedIntrinsics = map[string]bool{
	"__assume":           true,
	"__builtin_assume":   true,
	"_ReadWriteBarrier":  true,
	"_mm_pause":          true,
	"__debugbreak":       true,
	"__builtin_unreachable": true,
}

func (l *Lowerer) lowerCall(e *ast.Call, vc valueContext) (ir.Operand, error) {
	switch fn := e.Fn.(type) {
	case *ast.MemberExpr:
		return l.lowerMethodCall(e, fn)
	case *ast.Ident:
		return l.lowerNamedCall(e, fn)
	}
	return ir.None, l.bag.Semantic(e.Tok, "called object is not a function")
}

func (l *Lowerer) lowerNamedCall(e *ast.Call, fn *ast.Ident) (ir.Operand, error) {
	name := fn.Name

	// Intrinsics first. GetExceptionCode is only meaningful inside an
	// __except filter or handler, where the code slot is live.
	if name == "GetExceptionCode" || name == "_exception_code" {
		if l.fn.sehCodeSlot == "" {
			return ir.None, l.bag.Semantic(e.Tok, "%s outside an __except context", name)
		}
		return ir.InSlot(ir.UInt, 32, l.fn.sehCodeSlot, types.Invalid), nil
	}
	if name == "__builtin_expect" {
		// Branch-weight hint: the value is just the first argument.
		if len(e.Args) != 2 {
			return ir.None, l.bag.Semantic(e.Tok, "__builtin_expect takes 2 arguments")
		}
		if _, err := l.lowerExpr(e.Args[1], ctxLoad); err != nil {
			return ir.None, err
		}
		return l.lowerExpr(e.Args[0], ctxLoad)
	}
	if droppedIntrinsics[name] {
		for _, a := range e.Args {
			if _, err := l.lowerExpr(a, ctxLoad); err != nil {
				return ir.None, err
			}
		}
		l.bag.Warn(diag.WarnFallback, e.Tok, "intrinsic %q lowered as no-op", name)
		l.emit(ir.OpNop, &ir.Nop{Reason: name}, e.Tok)
		return ir.None, nil
	}

	// A local whose class declares operator() is a callable object; this
	// is how lambda values are invoked.
	if sym, ok := l.resolveValueSym(name); ok && stripRef(sym.Type).IsStruct() {
		def, err := l.structAt(e.Tok, stripRef(sym.Type).TypeIndex)
		if err != nil {
			return ir.None, err
		}
		if fns := l.funcOverloads(def, "operator()"); len(fns) > 0 {
			objAddr, err := l.lowerExpr(fn, ctxAddr)
			if err != nil {
				return ir.None, err
			}
			fd := l.selectOverload(fns, e.Args)
			if fd == nil {
				return ir.None, l.bag.Semantic(e.Tok, "no matching operator() in %q", def.Name)
			}
			if hasAutoParams(fd) {
				fd, err = l.instantiateGenericCall(e.Tok, def, fd, e.Args)
				if err != nil {
					return ir.None, err
				}
			}
			return l.emitMemberCall(e.Tok, fd, objAddr, e.Args)
		}
	}

	// Template call: deduce, schedule the instantiation, call the
	// instance's mangled name now.
	if tf, ok := l.tmpls[name]; ok {
		fd, err := l.instantiateTemplateCall(e.Tok, tf, e.Args)
		if err != nil {
			return ir.None, err
		}
		return l.emitDirectCall(e.Tok, fd, e.Args)
	}

	// Implicit member call through the receiver.
	if l.fn.syms.Class != nil {
		if fns := l.funcOverloads(l.fn.syms.Class, name); len(fns) > 0 {
			fd := l.selectOverload(fns, e.Args)
			if fd == nil {
				return ir.None, l.bag.Semantic(e.Tok, "no matching overload for %q in %q", name, l.fn.syms.Class.Name)
			}
			return l.emitMemberCall(e.Tok, fd, l.thisOperand(), e.Args)
		}
	}

	// Free function, namespace-aware.
	if fns := l.lookupFreeFunc(name); len(fns) > 0 {
		fd := l.selectOverload(fns, e.Args)
		if fd == nil {
			return ir.None, l.bag.Semantic(e.Tok, "no matching overload for %q", name)
		}
		return l.emitDirectCall(e.Tok, fd, e.Args)
	}

	// Unknown name: assume an external C symbol and call it unmangled.
	return l.emitExternCall(e, name)
}

// resolveValueSym resolves a name to a value-holding symbol, ignoring
// function symbols.
func (l *Lowerer) resolveValueSym(name string) (*scope.Symbol, bool) {
	sym, ok := l.fn.syms.Resolve(name)
	if !ok || sym.Kind == scope.SymFunc {
		return nil, false
	}
	return sym, true
}

// lookupFreeFunc tries the name against the unit's free functions,
// qualified by the current namespace chain and active usings, innermost
// first.
func (l *Lowerer) lookupFreeFunc(name string) []*ast.FuncDecl {
	if fns, ok := l.funcs[name]; ok {
		return fns
	}
	ns := l.fn.syms.Namespace
	for i := len(ns); i > 0; i-- {
		key := strings.Join(ns[:i], "::") + "::" + name
		if fns, ok := l.funcs[key]; ok {
			return fns
		}
	}
	for _, u := range l.fn.syms.Usings {
		if fns, ok := l.funcs[u+"::"+name]; ok {
			return fns
		}
	}
	return nil
}

func (l *Lowerer) lowerMethodCall(e *ast.Call, fn *ast.MemberExpr) (ir.Operand, error) {
	objType := fn.Object.ResultType()
	var objAddr ir.Operand
	var err error
	if fn.Arrow || objType.IsPointer() {
		objAddr, err = l.lowerExpr(fn.Object, ctxLoad)
		objType = objType.Elem()
	} else {
		objAddr, err = l.lowerExpr(fn.Object, ctxAddr)
	}
	if err != nil {
		return ir.None, err
	}
	objType = stripRef(objType)

	def, err := l.structAt(e.Tok, objType.TypeIndex)
	if err != nil {
		return ir.None, err
	}

	fns := l.funcOverloads(def, fn.Name)
	if len(fns) == 0 {
		return ir.None, l.bag.Semantic(e.Tok, "no member function %q in %q", fn.Name, def.Name)
	}
	fd := l.selectOverload(fns, e.Args)
	if fd == nil {
		return ir.None, l.bag.Semantic(e.Tok, "no matching overload for %q in %q", fn.Name, def.Name)
	}

	// A base-declared method receives the base subobject's address.
	if _, off, owner := l.funcLookup(def, fn.Name); owner != nil && owner != def && off != 0 {
		adj := ir.InReg(ir.Ptr, 64, l.newReg(), types.Invalid)
		l.emit(ir.OpAdd, &ir.Bin{Dst: adj, A: objAddr, B: ir.Imm(ir.Int, 64, off)}, e.Tok)
		objAddr = adj
	}

	if hasAutoParams(fd) {
		fd, err = l.instantiateGenericCall(e.Tok, def, fd, e.Args)
		if err != nil {
			return ir.None, err
		}
	}

	if fd.IsStatic {
		return l.emitDirectCall(e.Tok, fd, e.Args)
	}
	return l.emitMemberCall(e.Tok, fd, objAddr, e.Args)
}

func hasAutoParams(fd *ast.FuncDecl) bool {
	for _, p := range fd.Params {
		if p.Type.Kind == ast.TYPE_AUTO {
			return true
		}
	}
	return false
}

// selectOverload scores candidates against the argument list and
// returns the best match, or nil. Exact struct identity and exact
// scalar kind outrank scalar conversions; auto parameters match
// anything; arity must match exactly unless the candidate is variadic.
func (l *Lowerer) selectOverload(fns []*ast.FuncDecl, args []ast.Expr) *ast.FuncDecl {
	var best *ast.FuncDecl
	bestScore := -1
	for _, fd := range fns {
		if len(args) != len(fd.Params) && !(fd.IsVariadic && len(args) > len(fd.Params)) {
			continue
		}
		score, ok := 0, true
		for i, p := range fd.Params {
			at := stripRef(args[i].ResultType())
			pt := stripRef(p.Type)
			switch {
			case pt.Kind == ast.TYPE_AUTO:
				score++
			case pt.IsStruct() || at.IsStruct():
				if pt.TypeIndex != at.TypeIndex {
					ok = false
				} else {
					score += 2
				}
			case pt.IsPointer() != at.IsPointer():
				// nullptr converts to any pointer.
				if !(pt.IsPointer() && at.Kind == ast.TYPE_VOID) {
					ok = false
				}
			case pt.Kind == at.Kind && pt.PointerDepth == at.PointerDepth:
				score += 2
			default:
				score++ // scalar conversion
			}
			if !ok {
				break
			}
		}
		if ok && score > bestScore {
			best, bestScore = fd, score
		}
	}
	return best
}

// lowerArgs lowers call arguments against the formal parameters:
// reference parameters receive addresses, value parameters convert to
// the declared type, and variadic extras follow the default argument
// promotions.
func (l *Lowerer) lowerArgs(tok token.Token, params []*ast.ParamDecl, variadic bool, args []ast.Expr) ([]ir.Operand, error) {
	out := make([]ir.Operand, 0, len(args))
	for i, a := range args {
		if i < len(params) {
			p := params[i]
			if p.Type.IsReference() || stripRef(p.Type).IsStruct() {
				op, err := l.lowerExpr(a, ctxAddr)
				if err != nil {
					return nil, err
				}
				out = append(out, op)
				continue
			}
			op, err := l.lowerExpr(a, ctxLoad)
			if err != nil {
				return nil, err
			}
			out = append(out, l.convertTo(op, stripRef(a.ResultType()), p.Type, tok))
			continue
		}
		if !variadic {
			return nil, l.bag.Internal(tok, "argument %d past the parameter list", i)
		}
		op, err := l.lowerExpr(a, ctxLoad)
		if err != nil {
			return nil, err
		}
		at := stripRef(a.ResultType())
		switch {
		case at.Kind == ast.TYPE_FLOAT:
			op = l.convertTo(op, at, ast.TypeDouble, tok)
		case at.IsIntegral() && !at.IsPointer():
			op = l.convertTo(op, at, promoted(at), tok)
		}
		out = append(out, op)
	}
	return out, nil
}

// callResult builds the destination and hidden-return plumbing for a
// call to fd, returning (dst, retSlot, result operand).
func (l *Lowerer) callResult(tok token.Token, fd *ast.FuncDecl) (dst, retSlot, res ir.Operand) {
	ret := fd.Return
	if ret.Kind == ast.TYPE_VOID && !ret.IsPointer() {
		return ir.None, ir.None, ir.None
	}
	if l.needsHiddenRet(ret) {
		name := l.newLabel("__ret")
		d, _ := l.reg.At(ret.TypeIndex).(*ast.StructDef)
		size := 0
		if d != nil {
			size = int(d.SizeBytes) * 8
		}
		l.emit(ir.OpVarDecl, &ir.VarDecl{Name: name, Type: ir.Struct, SizeBits: size, TypeIndex: ret.TypeIndex}, tok)
		slot := ir.InSlot(ir.Struct, size, name, ret.TypeIndex)
		return ir.None, slot, slot
	}
	r := l.operandReg(stripRef(ret))
	if ret.IsReference() {
		r = ir.InReg(ir.Ptr, 64, r.Reg(), tupleIndex(ret.Elem()))
	}
	return r, ir.None, r
}

func (l *Lowerer) emitDirectCall(tok token.Token, fd *ast.FuncDecl, args []ast.Expr) (ir.Operand, error) {
	mangled, err := l.mangleFunc(fd)
	if err != nil {
		return ir.None, err
	}
	ops, err := l.lowerArgs(tok, fd.Params, fd.IsVariadic, args)
	if err != nil {
		return ir.None, err
	}
	l.scheduleBody(fd)
	dst, retSlot, res := l.callResult(tok, fd)
	l.emit(ir.OpCall, &ir.Call{Dst: dst, Mangled: mangled, Args: ops, Variadic: fd.IsVariadic, RetSlot: retSlot}, tok)
	l.tagCallResult(res, fd.Return)
	return res, nil
}

// emitMemberCall calls fd with objAddr as the receiver. The receiver is
// always the first argument.
func (l *Lowerer) emitMemberCall(tok token.Token, fd *ast.FuncDecl, objAddr ir.Operand, args []ast.Expr) (ir.Operand, error) {
	mangled, err := l.mangleFunc(fd)
	if err != nil {
		return ir.None, err
	}
	ops, err := l.lowerArgs(tok, fd.Params, fd.IsVariadic, args)
	if err != nil {
		return ir.None, err
	}
	l.scheduleBody(fd)
	dst, retSlot, res := l.callResult(tok, fd)
	all := append([]ir.Operand{objAddr}, ops...)
	l.emit(ir.OpCall, &ir.Call{Dst: dst, Mangled: mangled, Args: all, Variadic: fd.IsVariadic, RetSlot: retSlot}, tok)
	l.tagCallResult(res, fd.Return)
	return res, nil
}

// tagCallResult records value-category metadata on a call result: a
// reference return is an lvalue whose address is the result register, a
// struct return is an RVO-eligible temporary.
func (l *Lowerer) tagCallResult(res ir.Operand, ret ast.TypeSpec) {
	if res.IsNone() {
		return
	}
	if ret.IsReference() {
		elem := ret.Elem()
		cat := CatLValue
		if ret.IsRValRef {
			cat = CatXValue
		}
		l.markLValue(res, LValueInfo{
			Kind: LVIndirect, Addr: res,
			Type: l.irType(elem), SizeBits: elem.SizeBits(l.reg),
			TypeIndex: tupleIndex(elem), Category: cat,
		})
		return
	}
	if ret.IsStruct() {
		l.markLValue(res, LValueInfo{
			Kind: LVTemporary, Type: ir.Struct, SizeBits: res.SizeBits,
			TypeIndex: ret.TypeIndex, Category: CatPRValue, RVO: true,
		})
	}
}

// emitExternCall handles a name the unit never declared: it is assumed
// to be an external C symbol and called with no mangling applied.
func (l *Lowerer) emitExternCall(e *ast.Call, name string) (ir.Operand, error) {
	ops := make([]ir.Operand, 0, len(e.Args))
	for _, a := range e.Args {
		op, err := l.lowerExpr(a, ctxLoad)
		if err != nil {
			return ir.None, err
		}
		at := stripRef(a.ResultType())
		if at.Kind == ast.TYPE_FLOAT {
			op = l.convertTo(op, at, ast.TypeDouble, e.Tok)
		}
		ops = append(ops, op)
	}
	var dst, res ir.Operand
	if e.Type.Kind != ast.TYPE_VOID || e.Type.IsPointer() {
		res = l.operandReg(e.Type)
		dst = res
	}
	l.emit(ir.OpCall, &ir.Call{Dst: dst, Mangled: name, Args: ops, Variadic: true}, e.Tok)
	return res, nil
}
