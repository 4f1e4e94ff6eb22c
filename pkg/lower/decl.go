package lower

import (
	"tlog.app/go/errors"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/scope"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// LowerFunc generates exactly one body per mangled name: a second
// request for the same symbol, whether from the work list or a direct
// call path, is a no-op. Declarations without a body are externs and
// emit nothing.
func (l *Lowerer) LowerFunc(f *ast.FuncDecl) error {
	if f.Body == nil && !f.IsDefaulted {
		return nil
	}
	mangled, err := l.mangleFunc(f)
	if err != nil {
		return err
	}
	if l.done[mangled] {
		return nil
	}
	l.done[mangled] = true

	saved := l.fn
	defer func() { l.fn = saved }()
	if err := l.beginFunc(f); err != nil {
		return err
	}

	l.emitFuncHeader(f, mangled)

	switch {
	case f.Kind == ast.FuncCtor:
		if err := l.lowerCtorBody(f); err != nil {
			return errors.Wrap(err, "ctor %v", f.StructName)
		}
	case f.Kind == ast.FuncDtor:
		if err := l.lowerDtorBody(f); err != nil {
			return errors.Wrap(err, "dtor %v", f.StructName)
		}
	case f.IsDefaulted && f.Special == ast.SpecialSpaceship:
		if err := l.synthSpaceship(f); err != nil {
			return errors.Wrap(err, "defaulted <=> %v", f.StructName)
		}
	default:
		if err := l.lowerBlock(f.Body, stmtCtx{}); err != nil {
			return err
		}
	}

	l.emitImplicitReturn(f)
	l.emit(ir.OpFuncEnd, &ir.Marker{}, f.Tok)
	l.log.Printw("function lowered", "name", f.Name, "mangled", mangled)
	return nil
}

// beginFunc resets all per-function state: fresh symbol table, fresh
// lvalue table, register counter back to zero. File-scope names are
// redeclared into the new table.
func (l *Lowerer) beginFunc(f *ast.FuncDecl) error {
	syms := scope.NewTable()
	syms.Namespace = f.Namespace

	for _, g := range l.globals {
		syms.DeclareGlobal(nil, &scope.Symbol{Name: g.Name, Kind: scope.SymGlobal, Type: g.Type})
	}
	for name, fns := range l.funcs {
		if len(fns) > 0 {
			syms.DeclareGlobal(nil, &scope.Symbol{Name: name, Kind: scope.SymFunc, Type: fns[0].Return})
		}
	}

	if f.StructName != "" {
		idx, ok := l.reg.Lookup(f.StructName)
		if !ok {
			return l.bag.Internal(f.Tok, "member function of unknown class %q", f.StructName)
		}
		def, err := l.structAt(f.Tok, idx)
		if err != nil {
			return err
		}
		syms.Class = def
	}

	l.fn = &fnState{
		decl:      f,
		syms:      syms,
		lvals:     NewLValueTable(),
		retSpec:   f.Return,
		retHidden: l.needsHiddenRet(f.Return),
	}
	return nil
}

// emitFuncHeader opens the body: the receiver takes register 1 for
// member functions, named parameters become frame slots.
func (l *Lowerer) emitFuncHeader(f *ast.FuncDecl, mangled string) {
	l.fn.syms.Enter()

	if f.StructName != "" && !f.IsStatic {
		l.fn.thisReg = l.newReg()
	}

	params := make([]ir.ParamInfo, 0, len(f.Params))
	for _, p := range f.Params {
		slot := l.operandSlot(p.Type, p.Name)
		params = append(params, ir.ParamInfo{
			Name: p.Name, Type: slot.Type, SizeBits: slot.SizeBits,
			TypeIndex: slot.TypeIndex, IsRef: p.Type.IsReference(),
		})
		l.fn.syms.Declare(&scope.Symbol{Name: p.Name, Kind: scope.SymParam, Type: p.Type})
	}

	var ret ir.Operand
	if f.Return.Kind != ast.TYPE_VOID || f.Return.IsPointer() {
		// Descriptive only: register 0 is never allocated to a body value.
		rt := stripRef(f.Return)
		ret = ir.InReg(l.irType(rt), rt.SizeBits(l.reg), 0, tupleIndex(rt))
	}

	l.emit(ir.OpFuncDecl, &ir.FuncDecl{
		Name: f.Name, Mangled: mangled, Return: ret,
		HiddenRetPtr: l.fn.retHidden, Params: params,
		Variadic: f.IsVariadic,
		Entry:    f.StructName == "" && f.Name == l.opts.Entry,
	}, f.Tok)
}

// emitImplicitReturn closes a body whose last statement did not
// transfer control. The entry function returns zero; everything else
// returns void.
func (l *Lowerer) emitImplicitReturn(f *ast.FuncDecl) {
	if n := l.out.Len(); n > 0 {
		switch l.out.Instrs[n-1].Op {
		case ir.OpRet, ir.OpRetVoid, ir.OpThrow, ir.OpRethrow:
			return
		}
	}
	if f.StructName == "" && f.Name == l.opts.Entry {
		l.emit(ir.OpRet, &ir.Ret{Val: ir.Imm(ir.Int, 32, 0)}, f.Tok)
		return
	}
	l.emit(ir.OpRetVoid, &ir.Marker{}, f.Tok)
}

// synthSpaceship generates the defaulted member-wise three-way
// comparison: members compare in declaration order, the first unequal
// pair decides, equal objects yield zero. Struct-typed members dispatch
// through their own operator<=> instead of comparing storage.
func (l *Lowerer) synthSpaceship(f *ast.FuncDecl) error {
	def := l.fn.syms.Class
	if def == nil {
		return l.bag.Internal(f.Tok, "defaulted comparison outside a class")
	}
	if len(f.Params) != 1 {
		return l.bag.Internal(f.Tok, "defaulted comparison with %d parameters", len(f.Params))
	}

	this := l.thisOperand()
	other := l.operandSlot(f.Params[0].Type, f.Params[0].Name)

	for _, m := range def.Members {
		diffL, nextL := l.newLabel("cmp_diff"), l.newLabel("cmp_next")

		if m.Type.IsStruct() {
			md, err := l.structAt(f.Tok, m.Type.TypeIndex)
			if err != nil {
				return err
			}
			cmps := l.funcOverloads(md, "operator<=>")
			if len(cmps) == 0 {
				return l.bag.Semantic(f.Tok, "member %q of %q has no operator<=>", m.Name, def.Name)
			}
			mangled, err := l.mangleFunc(cmps[0])
			if err != nil {
				return err
			}
			l.scheduleBody(cmps[0])

			aAddr := l.memberAddr(f.Tok, this, m.Offset, m.Type.TypeIndex)
			bAddr := l.memberAddr(f.Tok, other, m.Offset, m.Type.TypeIndex)
			ord := ir.InReg(ir.Int, 32, l.newReg(), types.Invalid)
			l.emit(ir.OpCall, &ir.Call{Dst: ord, Mangled: mangled, Args: []ir.Operand{aAddr, bAddr}}, f.Tok)

			ne := ir.InReg(ir.Bool, 8, l.newReg(), types.Invalid)
			l.emit(ir.OpCmpNe, &ir.Bin{Dst: ne, A: ord, B: ir.Imm(ir.Int, 32, 0)}, f.Tok)
			l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: ne, True: diffL, False: nextL}, f.Tok)

			l.emit(ir.OpLabel, &ir.Label{Name: diffL}, f.Tok)
			l.emit(ir.OpRet, &ir.Ret{Val: ord}, f.Tok)
			l.emit(ir.OpLabel, &ir.Label{Name: nextL}, f.Tok)
			continue
		}

		a := l.operandReg(m.Type)
		l.emit(ir.OpMemberLoad, &ir.MemberAccess{Object: this, Member: m.Name, Offset: m.Offset, Dst: a}, f.Tok)
		b := l.operandReg(m.Type)
		l.emit(ir.OpMemberLoad, &ir.MemberAccess{Object: other, Member: m.Name, Offset: m.Offset, Dst: b}, f.Tok)

		ne := l.emitBinary(ast.OpNe, m.Type, a, b, f.Tok)
		l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: ne, True: diffL, False: nextL}, f.Tok)

		l.emit(ir.OpLabel, &ir.Label{Name: diffL}, f.Tok)
		gt := l.emitBinary(ast.OpGt, m.Type, a, b, f.Tok)
		lt := l.emitBinary(ast.OpLt, m.Type, a, b, f.Tok)
		ord := ir.InReg(ir.Int, 32, l.newReg(), types.Invalid)
		l.emit(ir.OpSub, &ir.Bin{Dst: ord, A: gt, B: lt}, f.Tok)
		l.emit(ir.OpRet, &ir.Ret{Val: ord}, f.Tok)

		l.emit(ir.OpLabel, &ir.Label{Name: nextL}, f.Tok)
	}

	l.emit(ir.OpRet, &ir.Ret{Val: ir.Imm(ir.Int, 32, 0)}, f.Tok)
	return nil
}

// lowerGlobalInits lowers file-scope variable declarations into the
// synthetic module-init function, in declaration order.
func (l *Lowerer) lowerGlobalInits(u *ast.TranslationUnit) error {
	if len(u.Globals) == 0 {
		return nil
	}
	init := &ast.FuncDecl{
		Tok:    token.None,
		Name:   "__module_init",
		Return: ast.TypeVoid,
		Body:   &ast.Block{Synthetic: true},
	}
	saved := l.fn
	defer func() { l.fn = saved }()
	if err := l.beginFunc(init); err != nil {
		return err
	}
	l.emitFuncHeader(init, "__module_init")
	l.fn.blocks = append(l.fn.blocks, blockScope{})

	for _, g := range u.Globals {
		if len(g.Init) == 0 {
			continue
		}
		if g.Type.IsStruct() {
			def, err := l.structAt(g.Tok, g.Type.TypeIndex)
			if err != nil {
				return err
			}
			slot := l.operandSlot(g.Type, g.Name)
			if err := l.emitConstruction(g.Tok, def, slot, g.Init, g.ListInit); err != nil {
				return err
			}
			continue
		}
		v, err := l.lowerExpr(g.Init[0], ctxLoad)
		if err != nil {
			return err
		}
		v = l.convertTo(v, stripRef(g.Init[0].ResultType()), g.Type, g.Tok)
		l.emit(ir.OpGlobalStore, &ir.Global{Name: g.Name, Src: v}, g.Tok)
	}

	l.emit(ir.OpRetVoid, &ir.Marker{}, token.None)
	l.emit(ir.OpFuncEnd, &ir.Marker{}, token.None)
	return nil
}
