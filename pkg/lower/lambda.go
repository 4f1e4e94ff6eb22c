package lower

import (
	"fmt"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// thisCapture is the reserved member name for a captured enclosing
// receiver.
const thisCapture = "__this"

// closureInfo is the capture context threaded to a lambda's call
// operator: which names were captured, how, and the closure class they
// live in.
type closureInfo struct {
	def      *ast.StructDef
	captures map[string]ast.Capture
}

// lowerLambda synthesizes the closure class, materializes the closure
// object with one store per capture, and defers the call operator's
// body to the work list. The result is the closure object's storage.
func (l *Lowerer) lowerLambda(e *ast.Lambda) (ir.Operand, error) {
	name := e.NameHint
	if name == "" {
		l.lambdaSeq++
		name = fmt.Sprintf("__lambda_%d", l.lambdaSeq)
	} else {
		name = "__lambda_" + name
	}

	def, caps, err := l.buildClosureDef(e, name)
	if err != nil {
		return ir.None, err
	}
	idx := l.reg.Add(def)

	ret := ast.TypeVoid
	if e.Return != nil {
		ret = *e.Return
	} else if !lambdaIsGeneric(e) {
		ret = deducedReturnType(e.Body)
	} else {
		ret = ast.TypeSpec{Kind: ast.TYPE_AUTO}
	}

	callOp := &ast.FuncDecl{
		Tok:        e.Tok,
		Name:       "operator()",
		StructName: name,
		Params:     e.Params,
		Return:     ret,
		Body:       e.Body,
	}
	def.Funcs = append(def.Funcs, callOp)

	cl := &closureInfo{def: def, captures: caps}
	l.closures[name] = cl

	// A captureless lambda also gets a static entry point with the call
	// operator's signature, usable wherever a plain function is.
	if len(e.Captures) == 0 && !lambdaIsGeneric(e) {
		inv := &ast.FuncDecl{
			Tok: e.Tok, Name: "__invoke", StructName: name,
			Params: e.Params, Return: ret, Body: e.Body,
			IsStatic: true,
		}
		def.Funcs = append(def.Funcs, inv)
		l.scheduleClosureBody(inv, cl)
	}

	// Object storage plus one store per capture, in capture-list order.
	slotName := l.newLabel("__clos")
	l.emit(ir.OpVarDecl, &ir.VarDecl{
		Name: slotName, Type: ir.Struct, SizeBits: int(def.SizeBytes) * 8, TypeIndex: idx,
	}, e.Tok)
	obj := ir.InSlot(ir.Struct, int(def.SizeBytes)*8, slotName, idx)

	for _, c := range e.Captures {
		if err := l.emitCaptureStore(e.Tok, def, obj, c); err != nil {
			return ir.None, err
		}
	}

	if !lambdaIsGeneric(e) {
		l.scheduleClosureBody(callOp, cl)
	}

	l.markLValue(obj, LValueInfo{
		Kind: LVTemporary, Type: ir.Struct, SizeBits: obj.SizeBits,
		TypeIndex: idx, Category: CatPRValue, RVO: true,
	})
	return obj, nil
}

func lambdaIsGeneric(e *ast.Lambda) bool {
	for _, p := range e.Params {
		if p.Type.Kind == ast.TYPE_AUTO {
			return true
		}
	}
	return false
}

// buildClosureDef lays out the closure class: by-value captures embed a
// copy, by-reference captures hold a pointer, a captured receiver is a
// pointer member, *this embeds a copy of the enclosing object.
func (l *Lowerer) buildClosureDef(e *ast.Lambda, name string) (*ast.StructDef, map[string]ast.Capture, error) {
	def := &ast.StructDef{Name: name}
	caps := make(map[string]ast.Capture, len(e.Captures))

	var off int64
	place := func(memberName string, t ast.TypeSpec) {
		sizeBytes := int64(t.SizeBits(l.reg) / 8)
		if sizeBytes == 0 {
			sizeBytes = 1
		}
		align := sizeBytes
		if align > 8 {
			align = 8
		}
		if rem := off % align; rem != 0 {
			off += align - rem
		}
		def.Members = append(def.Members, ast.Member{Name: memberName, Type: t, Offset: off})
		off += sizeBytes
	}

	for _, c := range e.Captures {
		switch c.Kind {
		case ast.CaptureByValue, ast.CaptureInit:
			if c.Kind == ast.CaptureByValue && !l.capturableLocal(c.Name) {
				return nil, nil, l.bag.Semantic(e.Tok, "capture %q does not name a local variable", c.Name)
			}
			place(c.Name, stripRef(c.Type))
			caps[c.Name] = c
		case ast.CaptureByRef:
			if !l.capturableLocal(c.Name) {
				return nil, nil, l.bag.Semantic(e.Tok, "capture %q does not name a local variable", c.Name)
			}
			place(c.Name, ast.PointerTo(stripRef(c.Type)))
			caps[c.Name] = c
		case ast.CaptureThis:
			if l.fn.syms.Class == nil && l.fn.closure == nil {
				return nil, nil, l.bag.Semantic(e.Tok, "cannot capture this outside a member function")
			}
			place(thisCapture, c.Type)
			caps[thisCapture] = c
		case ast.CaptureStarThis:
			if l.fn.syms.Class == nil {
				return nil, nil, l.bag.Semantic(e.Tok, "cannot capture *this outside a member function")
			}
			place(thisCapture, stripRef(c.Type))
			caps[thisCapture] = c
		}
	}

	if off == 0 {
		off = 1 // empty closures still occupy storage
	}
	def.SizeBytes = off
	def.Align = 8
	return def, caps, nil
}

// capturableLocal reports whether name is a local or parameter of the
// enclosing function, or re-captures a member of the enclosing closure
// when lambdas nest.
func (l *Lowerer) capturableLocal(name string) bool {
	if _, ok := l.fn.syms.ResolveLocal(name); ok {
		return true
	}
	if l.fn.closure != nil {
		_, ok := l.fn.closure.captures[name]
		return ok
	}
	return false
}

func (l *Lowerer) emitCaptureStore(tok token.Token, def *ast.StructDef, obj ir.Operand, c ast.Capture) error {
	memberName := c.Name
	if c.Kind == ast.CaptureThis || c.Kind == ast.CaptureStarThis {
		memberName = thisCapture
	}
	m, ok := def.FindMember(memberName)
	if !ok {
		return l.bag.Internal(tok, "closure member %q missing", memberName)
	}

	var val ir.Operand
	var err error
	switch c.Kind {
	case ast.CaptureByValue:
		val, err = l.lowerExpr(&ast.Ident{Tok: tok, Name: c.Name, Type: c.Type}, ctxLoad)
	case ast.CaptureByRef:
		val, err = l.lowerExpr(&ast.Ident{Tok: tok, Name: c.Name, Type: c.Type}, ctxAddr)
	case ast.CaptureInit:
		val, err = l.lowerExpr(c.Init, ctxLoad)
	case ast.CaptureThis:
		val = l.thisOperand()
	case ast.CaptureStarThis:
		return l.emitStarThisCopy(tok, obj, m)
	}
	if err != nil {
		return err
	}

	l.emit(ir.OpMemberStore, &ir.MemberAccess{
		Object: obj, Member: memberName, Offset: m.Offset, Src: val,
	}, tok)
	return nil
}

// emitStarThisCopy deep-copies the enclosing object into the closure's
// embedded receiver member, one member at a time. Struct-typed members
// go through their class's copy semantics.
func (l *Lowerer) emitStarThisCopy(tok token.Token, obj ir.Operand, m ast.Member) error {
	def := l.fn.syms.Class
	if def == nil {
		return l.bag.Internal(tok, "*this capture outside a member function")
	}
	recv := l.thisOperand()

	var objAddr ir.Operand
	for _, rm := range def.Members {
		if rm.Type.IsStruct() {
			if objAddr.IsNone() {
				objAddr = ir.InReg(ir.Ptr, 64, l.newReg(), obj.TypeIndex)
				l.emit(ir.OpAddrOf, &ir.Un{Dst: objAddr, X: obj}, tok)
			}
			md, err := l.structAt(tok, rm.Type.TypeIndex)
			if err != nil {
				return err
			}
			dst := l.memberAddr(tok, objAddr, m.Offset+rm.Offset, rm.Type.TypeIndex)
			srcSub := l.memberAddr(tok, recv, rm.Offset, rm.Type.TypeIndex)
			if err := l.emitCopyInit(tok, md, dst, srcSub); err != nil {
				return err
			}
			continue
		}
		v := l.operandReg(rm.Type)
		l.emit(ir.OpMemberLoad, &ir.MemberAccess{
			Object: recv, Member: rm.Name, Offset: rm.Offset, Dst: v,
		}, tok)
		l.emit(ir.OpMemberStore, &ir.MemberAccess{
			Object: obj, Member: rm.Name, Offset: m.Offset + rm.Offset, Src: v,
		}, tok)
	}
	return nil
}

// lowerCapturedIdent resolves a name through the enclosing closure's
// capture table. By-value captures read the closure member directly;
// by-reference captures read the stored pointer and go through it.
func (l *Lowerer) lowerCapturedIdent(e *ast.Ident, vc valueContext) (ir.Operand, bool, error) {
	cl := l.fn.closure
	c, ok := cl.captures[e.Name]
	if !ok {
		return ir.None, false, nil
	}
	m, found := cl.def.FindMember(e.Name)
	if !found {
		return ir.None, false, l.bag.Internal(e.Tok, "capture %q has no closure member", e.Name)
	}
	closureThis := ir.InReg(ir.Ptr, 64, l.fn.thisReg, types.Invalid)

	if c.Kind == ast.CaptureByRef {
		ptr := l.operandReg(m.Type)
		l.emit(ir.OpMemberLoad, &ir.MemberAccess{
			Object: closureThis, Member: e.Name, Offset: m.Offset, Dst: ptr,
		}, e.Tok)
		elem := m.Type.Elem()
		if vc == ctxAddr || elem.IsStruct() {
			l.markLValue(ptr, LValueInfo{
				Kind: LVIndirect, Addr: ptr,
				Type: l.irType(elem), SizeBits: elem.SizeBits(l.reg),
				TypeIndex: tupleIndex(elem), Category: CatLValue,
			})
			return ptr, true, nil
		}
		dst := l.operandReg(elem)
		l.emit(ir.OpDeref, &ir.Un{Dst: dst, X: ptr}, e.Tok)
		l.markLValue(dst, LValueInfo{
			Kind: LVIndirect, Addr: ptr,
			Type: dst.Type, SizeBits: dst.SizeBits, TypeIndex: dst.TypeIndex,
			Category: CatLValue,
		})
		return dst, true, nil
	}

	op, err := l.lowerMemberOf(e.Tok, closureThis, cl.def, e.Name, vc)
	return op, true, err
}

// lowerCapturedMember resolves an implicit member name inside a lambda
// that captured this or *this: the member lookup runs against the
// enclosing class through the captured receiver.
func (l *Lowerer) lowerCapturedMember(e *ast.Ident, vc valueContext) (ir.Operand, bool, error) {
	cl := l.fn.closure
	c, ok := cl.captures[thisCapture]
	if !ok {
		return ir.None, false, nil
	}
	t := stripRef(c.Type)
	if t.IsPointer() {
		t = t.Elem()
	}
	def, err := l.structAt(e.Tok, t.TypeIndex)
	if err != nil {
		return ir.None, false, err
	}
	if _, _, found := l.memberLookup(e.Tok, def, e.Name); !found {
		return ir.None, false, nil
	}
	recv, err := l.closureReceiver(e.Tok)
	if err != nil {
		return ir.None, false, err
	}
	op, err := l.lowerMemberOf(e.Tok, recv, def, e.Name, vc)
	return op, true, err
}

// closureReceiver resolves an enclosing-object reference inside a
// lambda body: the captured receiver pointer (or the address of the
// captured copy for *this).
func (l *Lowerer) closureReceiver(tok token.Token) (ir.Operand, error) {
	cl := l.fn.closure
	c, ok := cl.captures[thisCapture]
	if !ok {
		return ir.None, l.bag.Semantic(tok, "this was not captured")
	}
	m, found := cl.def.FindMember(thisCapture)
	if !found {
		return ir.None, l.bag.Internal(tok, "captured receiver has no closure member")
	}
	closureThis := ir.InReg(ir.Ptr, 64, l.fn.thisReg, types.Invalid)

	if c.Kind == ast.CaptureStarThis {
		// Embedded copy: its address is the receiver.
		addr := ir.InReg(ir.Ptr, 64, l.newReg(), tupleIndex(m.Type))
		l.emit(ir.OpAdd, &ir.Bin{Dst: addr, A: closureThis, B: ir.Imm(ir.Int, 64, m.Offset)}, tok)
		return addr, nil
	}

	ptr := ir.InReg(ir.Ptr, 64, l.newReg(), tupleIndex(stripRef(c.Type).Elem()))
	l.emit(ir.OpMemberLoad, &ir.MemberAccess{
		Object: closureThis, Member: thisCapture, Offset: m.Offset, Dst: ptr,
	}, tok)
	return ptr, nil
}

// lowerClosureFunc generates a lambda call operator with its capture
// context installed, so body identifiers resolve through the closure
// before the ordinary chain.
func (l *Lowerer) lowerClosureFunc(fd *ast.FuncDecl, cl *closureInfo) error {
	mangled, err := l.mangleFunc(fd)
	if err != nil {
		return err
	}
	if l.done[mangled] {
		return nil
	}
	l.done[mangled] = true

	saved := l.fn
	defer func() { l.fn = saved }()
	if err := l.beginFunc(fd); err != nil {
		return err
	}
	l.fn.closure = cl
	l.emitFuncHeader(fd, mangled)

	if err := l.lowerBlock(fd.Body, stmtCtx{}); err != nil {
		return err
	}
	l.emitImplicitReturn(fd)
	l.emit(ir.OpFuncEnd, &ir.Marker{}, fd.Tok)
	l.log.Printw("lambda lowered", "closure", fd.StructName, "mangled", mangled)
	return nil
}

// instantiateGenericCall builds the concrete call operator for a
// generic lambda at one call-site signature: auto parameters take the
// argument types, the return type is deduced from the rewritten body,
// and the instance joins the overload set so identical signatures reuse
// it.
func (l *Lowerer) instantiateGenericCall(tok token.Token, def *ast.StructDef, fd *ast.FuncDecl, args []ast.Expr) (*ast.FuncDecl, error) {
	if len(args) != len(fd.Params) {
		return nil, l.bag.Semantic(tok, "wrong argument count for generic operator()")
	}
	autos := make(map[string]ast.TypeSpec)
	for i, p := range fd.Params {
		if p.Type.Kind == ast.TYPE_AUTO {
			autos[p.Name] = stripRef(args[i].ResultType())
		}
	}

	sub := &subst{autos: autos}
	inst := sub.rewriteFunc(fd)
	if inst.Return.Kind == ast.TYPE_AUTO {
		inst.Return = deducedReturnType(inst.Body)
	}
	def.Funcs = append(def.Funcs, inst)

	l.scheduleClosureBody(inst, l.closures[def.Name])
	return inst, nil
}
