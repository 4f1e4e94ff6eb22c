package lower

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/scope"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// stmtCtx carries the control-flow targets live at one statement. It is
// a value: every construct that changes a target passes an amended copy
// down, so an inner statement can never corrupt an outer one's view.
type stmtCtx struct {
	breakLabel    string
	continueLabel string

	// loopBlockDepth is the destruction-stack depth at entry to the
	// innermost loop or switch; break and continue unwind to it.
	loopBlockDepth int

	// finallies names the enclosing __finally funclets, outermost first.
	// Early exits invoke a suffix of this list before transferring.
	finallies []string
	// loopFinallyDepth is len(finallies) at entry to the innermost loop,
	// so break and continue run only the funclets opened inside it.
	loopFinallyDepth int

	// sehTryEnd is the __leave target of the innermost __try, with the
	// finally and destruction depths at its entry.
	sehTryEnd         string
	leaveFinallyDepth int
	leaveBlockDepth   int

	// inHandler is set inside catch and __except bodies, where rethrow
	// is legal.
	inHandler bool
}

func (l *Lowerer) lowerStmt(s ast.Stmt, ctx stmtCtx) error {
	switch s := s.(type) {
	case *ast.Block:
		return l.lowerBlock(s, ctx)
	case *ast.ExprStmt:
		_, err := l.lowerExpr(s.X, ctxLoad)
		return err
	case *ast.VarDecl:
		return l.lowerVarDecl(s)
	case *ast.If:
		return l.lowerIf(s, ctx)
	case *ast.While:
		return l.lowerWhile(s, ctx)
	case *ast.DoWhile:
		return l.lowerDoWhile(s, ctx)
	case *ast.For:
		return l.lowerFor(s, ctx)
	case *ast.Switch:
		return l.lowerSwitch(s, ctx)
	case *ast.Break:
		return l.lowerBreak(s.Tok, ctx)
	case *ast.Continue:
		return l.lowerContinue(s.Tok, ctx)
	case *ast.Return:
		return l.lowerReturn(s, ctx)
	case *ast.TryCatch:
		return l.lowerTryCatch(s, ctx)
	case *ast.Throw:
		return l.lowerThrow(s, ctx)
	case *ast.SehTry:
		return l.lowerSehTry(s, ctx)
	case *ast.Leave:
		return l.lowerLeave(s.Tok, ctx)
	case *ast.Delete:
		return l.lowerDelete(s)
	case *ast.UsingDecl:
		l.fn.syms.Usings = append(l.fn.syms.Usings, nsJoin(s.Path))
		return nil
	}
	return l.bag.Internal(s.Pos(), "unhandled statement node %T", s)
}

func (l *Lowerer) lowerBlock(b *ast.Block, ctx stmtCtx) error {
	// Synthetic blocks wrap loop bodies upstream and share the enclosing
	// destruction scope.
	if !b.Synthetic {
		l.fn.syms.Enter()
		l.fn.blocks = append(l.fn.blocks, blockScope{})
		usings := len(l.fn.syms.Usings)
		defer func() {
			l.fn.syms.Usings = l.fn.syms.Usings[:usings]
			l.fn.blocks = l.fn.blocks[:len(l.fn.blocks)-1]
			l.fn.syms.Leave()
		}()
	}

	for _, s := range b.Stmts {
		if err := l.lowerStmt(s, ctx); err != nil {
			return err
		}
		if terminates(s) {
			// The early exit already ran the destructors.
			return nil
		}
	}

	if !b.Synthetic {
		l.emitBlockDtors(len(l.fn.blocks)-1, b.Tok)
	}
	return nil
}

// terminates reports whether a statement unconditionally transfers
// control, making the rest of its block unreachable.
func terminates(s ast.Stmt) bool {
	switch s.(type) {
	case *ast.Return, *ast.Break, *ast.Continue, *ast.Throw, *ast.Leave:
		return true
	}
	return false
}

// emitBlockDtors destroys the variables of one destruction-stack level
// in reverse declaration order.
func (l *Lowerer) emitBlockDtors(level int, tok token.Token) {
	bs := l.fn.blocks[level]
	for i := len(bs.vars) - 1; i >= 0; i-- {
		l.emitVarDtor(bs.vars[i], tok)
	}
}

// unwindBlocks destroys every variable from the top of the destruction
// stack down to (and excluding) depth, for early exits.
func (l *Lowerer) unwindBlocks(depth int, tok token.Token) {
	for lvl := len(l.fn.blocks) - 1; lvl >= depth; lvl-- {
		l.emitBlockDtors(lvl, tok)
	}
}

func (l *Lowerer) emitVarDtor(v scopedVar, tok token.Token) {
	idx, ok := l.reg.Lookup(v.structName)
	if !ok {
		return
	}
	def, ok := l.reg.At(idx).(*ast.StructDef)
	if !ok || def.Dtor() == nil {
		return
	}
	mangled, err := l.mangleFunc(def.Dtor())
	if err != nil {
		return
	}
	l.scheduleBody(def.Dtor())
	obj := ir.InSlot(ir.Struct, int(def.SizeBytes)*8, v.name, idx)
	l.emit(ir.OpDtorCall, &ir.DtorCall{Mangled: mangled, Object: obj}, tok)
}

// trackVar registers a struct local for destruction at scope exit.
func (l *Lowerer) trackVar(name, structName string) {
	if len(l.fn.blocks) == 0 {
		return
	}
	top := len(l.fn.blocks) - 1
	l.fn.blocks[top].vars = append(l.fn.blocks[top].vars, scopedVar{name: name, structName: structName})
}

func (l *Lowerer) lowerVarDecl(d *ast.VarDecl) error {
	if err := l.checkExpanded(d.Tok, d.Type); err != nil {
		return err
	}

	l.fn.syms.Declare(&scope.Symbol{Name: d.Name, Kind: scope.SymLocal, Type: d.Type})
	slot := l.operandSlot(d.Type, d.Name)
	l.emit(ir.OpVarDecl, &ir.VarDecl{
		Name: d.Name, Type: slot.Type, SizeBits: slot.SizeBits, TypeIndex: slot.TypeIndex,
	}, d.Tok)

	switch {
	case d.Type.IsReference():
		if len(d.Init) != 1 {
			return l.bag.Semantic(d.Tok, "reference %q must be initialized", d.Name)
		}
		addr, err := l.lowerExpr(d.Init[0], ctxAddr)
		if err != nil {
			return err
		}
		l.emit(ir.OpAssign, &ir.Move{Dst: slot, Src: addr}, d.Tok)
		return nil

	case d.Type.IsStruct():
		def, err := l.structAt(d.Tok, d.Type.TypeIndex)
		if err != nil {
			return err
		}
		if def.Abstract {
			return l.bag.Semantic(d.Tok, "cannot instantiate abstract class %q", def.Name)
		}
		if err := l.initStructVar(d, def, slot); err != nil {
			return err
		}
		if def.Dtor() != nil {
			l.trackVar(d.Name, def.Name)
		}
		return nil

	case d.Type.IsArray && d.ListInit:
		elem := d.Type.Elem()
		for i, init := range d.Init {
			v, err := l.lowerExpr(init, ctxLoad)
			if err != nil {
				return err
			}
			v = l.convertTo(v, stripRef(init.ResultType()), elem, d.Tok)
			l.emit(ir.OpArrayStore, &ir.ArrayAccess{
				Base: slot, Index: ir.Imm(ir.Int, 64, int64(i)),
				ElemSize: int64(elem.SizeBits(l.reg) / 8), Src: v,
			}, d.Tok)
		}
		return nil

	default:
		if len(d.Init) == 0 {
			return nil
		}
		v, err := l.lowerExpr(d.Init[0], ctxLoad)
		if err != nil {
			return err
		}
		v = l.convertTo(v, stripRef(d.Init[0].ResultType()), d.Type, d.Tok)
		l.emit(ir.OpAssign, &ir.Move{Dst: slot, Src: v}, d.Tok)
		return nil
	}
}

// initStructVar constructs a struct local. A constructor-expression
// initializer builds directly into the variable's storage; a same-type
// expression initializer goes through the copy constructor when one is
// declared, or a block copy otherwise.
func (l *Lowerer) initStructVar(d *ast.VarDecl, def *ast.StructDef, slot ir.Operand) error {
	if len(d.Init) == 1 {
		if ce, ok := d.Init[0].(*ast.CtorExpr); ok {
			_, err := l.lowerCtorExpr(ce, slot)
			return err
		}
		srcType := stripRef(d.Init[0].ResultType())
		if srcType.IsStruct() && srcType.TypeIndex == d.Type.TypeIndex {
			src, err := l.lowerExpr(d.Init[0], ctxAddr)
			if err != nil {
				return err
			}
			return l.emitCopyInit(d.Tok, def, slot, src)
		}
	}
	return l.emitConstruction(d.Tok, def, slot, d.Init, d.ListInit)
}

// emitCopyInit initializes dst from the object at src, preferring a
// user copy (or, for xvalue sources, move) constructor.
func (l *Lowerer) emitCopyInit(tok token.Token, def *ast.StructDef, dst, src ir.Operand) error {
	wantMove := false
	if info, ok := l.fn.lvals.Lookup(src.Reg()); ok && info.Category == CatXValue {
		wantMove = true
	}

	var pick *ast.FuncDecl
	for _, c := range def.Ctors() {
		switch c.Special {
		case ast.SpecialMoveCtor:
			if wantMove {
				pick = c
			}
		case ast.SpecialCopyCtor:
			if pick == nil {
				pick = c
			}
		}
	}
	if pick == nil {
		l.emit(ir.OpStore, &ir.Move{Dst: dst, Src: src}, tok)
		return nil
	}

	mangled, err := l.mangleFunc(pick)
	if err != nil {
		return err
	}
	l.scheduleBody(pick)
	l.emit(ir.OpCtorCall, &ir.CtorCall{Mangled: mangled, Object: dst, Args: []ir.Operand{src}}, tok)
	return nil
}

func (l *Lowerer) lowerIf(s *ast.If, ctx stmtCtx) error {
	thenL, endL := l.newLabel("if_then"), l.newLabel("if_end")
	elseL := endL
	if s.Else != nil {
		elseL = l.newLabel("if_else")
	}

	cond, err := l.lowerExpr(s.Cond, ctxLoad)
	if err != nil {
		return err
	}
	l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: cond, True: thenL, False: elseL}, s.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: thenL}, s.Tok)
	if err := l.lowerStmt(s.Then, ctx); err != nil {
		return err
	}
	l.emit(ir.OpBranch, &ir.Branch{Target: endL}, s.Tok)

	if s.Else != nil {
		l.emit(ir.OpLabel, &ir.Label{Name: elseL}, s.Tok)
		if err := l.lowerStmt(s.Else, ctx); err != nil {
			return err
		}
		l.emit(ir.OpBranch, &ir.Branch{Target: endL}, s.Tok)
	}

	l.emit(ir.OpLabel, &ir.Label{Name: endL}, s.Tok)
	return nil
}

// loopCtx amends the context for a loop body: new break/continue
// targets and fresh depth markers.
func (ctx stmtCtx) loopCtx(breakL, continueL string, blockDepth int) stmtCtx {
	ctx.breakLabel = breakL
	ctx.continueLabel = continueL
	ctx.loopBlockDepth = blockDepth
	ctx.loopFinallyDepth = len(ctx.finallies)
	return ctx
}

func (l *Lowerer) lowerWhile(s *ast.While, ctx stmtCtx) error {
	condL, bodyL, endL := l.newLabel("while_cond"), l.newLabel("while_body"), l.newLabel("while_end")

	l.emit(ir.OpBranch, &ir.Branch{Target: condL}, s.Tok)
	l.emit(ir.OpLabel, &ir.Label{Name: condL}, s.Tok)
	cond, err := l.lowerExpr(s.Cond, ctxLoad)
	if err != nil {
		return err
	}
	l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: cond, True: bodyL, False: endL}, s.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: bodyL}, s.Tok)
	if err := l.lowerStmt(s.Body, ctx.loopCtx(endL, condL, len(l.fn.blocks))); err != nil {
		return err
	}
	l.emit(ir.OpBranch, &ir.Branch{Target: condL}, s.Tok)
	l.emit(ir.OpLabel, &ir.Label{Name: endL}, s.Tok)
	return nil
}

func (l *Lowerer) lowerDoWhile(s *ast.DoWhile, ctx stmtCtx) error {
	bodyL, condL, endL := l.newLabel("do_body"), l.newLabel("do_cond"), l.newLabel("do_end")

	l.emit(ir.OpLabel, &ir.Label{Name: bodyL}, s.Tok)
	if err := l.lowerStmt(s.Body, ctx.loopCtx(endL, condL, len(l.fn.blocks))); err != nil {
		return err
	}
	l.emit(ir.OpLabel, &ir.Label{Name: condL}, s.Tok)
	cond, err := l.lowerExpr(s.Cond, ctxLoad)
	if err != nil {
		return err
	}
	l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: cond, True: bodyL, False: endL}, s.Tok)
	l.emit(ir.OpLabel, &ir.Label{Name: endL}, s.Tok)
	return nil
}

func (l *Lowerer) lowerFor(s *ast.For, ctx stmtCtx) error {
	// The init declaration lives in its own scope level so a variable
	// declared there is destroyed when the loop ends.
	l.fn.syms.Enter()
	l.fn.blocks = append(l.fn.blocks, blockScope{})
	defer func() {
		l.fn.blocks = l.fn.blocks[:len(l.fn.blocks)-1]
		l.fn.syms.Leave()
	}()

	if s.Init != nil {
		if err := l.lowerStmt(s.Init, ctx); err != nil {
			return err
		}
	}

	condL, bodyL, stepL, endL := l.newLabel("for_cond"), l.newLabel("for_body"), l.newLabel("for_step"), l.newLabel("for_end")

	l.emit(ir.OpBranch, &ir.Branch{Target: condL}, s.Tok)
	l.emit(ir.OpLabel, &ir.Label{Name: condL}, s.Tok)
	if s.Cond != nil {
		cond, err := l.lowerExpr(s.Cond, ctxLoad)
		if err != nil {
			return err
		}
		l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: cond, True: bodyL, False: endL}, s.Tok)
	} else {
		l.emit(ir.OpBranch, &ir.Branch{Target: bodyL}, s.Tok)
	}

	l.emit(ir.OpLabel, &ir.Label{Name: bodyL}, s.Tok)
	if err := l.lowerStmt(s.Body, ctx.loopCtx(endL, stepL, len(l.fn.blocks))); err != nil {
		return err
	}
	l.emit(ir.OpBranch, &ir.Branch{Target: stepL}, s.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: stepL}, s.Tok)
	if s.Post != nil {
		if _, err := l.lowerExpr(s.Post, ctxLoad); err != nil {
			return err
		}
	}
	l.emit(ir.OpBranch, &ir.Branch{Target: condL}, s.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: endL}, s.Tok)
	l.emitBlockDtors(len(l.fn.blocks)-1, s.Tok)
	return nil
}

func (l *Lowerer) lowerSwitch(s *ast.Switch, ctx stmtCtx) error {
	cond, err := l.lowerExpr(s.Cond, ctxLoad)
	if err != nil {
		return err
	}

	endL := l.newLabel("switch_end")
	defaultL := endL
	caseLabels := make([]string, len(s.Cases))
	for i, c := range s.Cases {
		caseLabels[i] = l.newLabel("case")
		if c.IsDefault {
			defaultL = caseLabels[i]
		}
	}

	// Dispatch chain: one equality test per case value.
	for i, c := range s.Cases {
		for _, v := range c.Values {
			eq := ir.InReg(ir.Bool, 8, l.newReg(), types.Invalid)
			next := l.newLabel("case_next")
			l.emit(ir.OpCmpEq, &ir.Bin{Dst: eq, A: cond, B: ir.Imm(cond.Type, cond.SizeBits, v)}, s.Tok)
			l.emit(ir.OpCondBranch, &ir.CondBranch{Cond: eq, True: caseLabels[i], False: next}, s.Tok)
			l.emit(ir.OpLabel, &ir.Label{Name: next}, s.Tok)
		}
	}
	l.emit(ir.OpBranch, &ir.Branch{Target: defaultL}, s.Tok)

	bodyCtx := ctx
	bodyCtx.breakLabel = endL
	bodyCtx.loopBlockDepth = len(l.fn.blocks)
	bodyCtx.loopFinallyDepth = len(ctx.finallies)

	for i, c := range s.Cases {
		l.emit(ir.OpLabel, &ir.Label{Name: caseLabels[i]}, s.Tok)
		for _, st := range c.Body {
			if err := l.lowerStmt(st, bodyCtx); err != nil {
				return err
			}
		}
		// Fall-through to the next case unless the body transferred out.
	}
	l.emit(ir.OpLabel, &ir.Label{Name: endL}, s.Tok)
	return nil
}

// runFinallySuffix invokes the enclosing finally funclets from the top
// of the list down to depth, innermost first.
func (l *Lowerer) runFinallySuffix(ctx stmtCtx, depth int, tok token.Token) {
	for i := len(ctx.finallies) - 1; i >= depth; i-- {
		l.emit(ir.OpSehFinallyCall, &ir.SehFinallyCall{Finally: ctx.finallies[i]}, tok)
	}
}

func (l *Lowerer) lowerBreak(tok token.Token, ctx stmtCtx) error {
	if ctx.breakLabel == "" {
		return l.bag.Semantic(tok, "break outside a loop or switch")
	}
	l.unwindBlocks(ctx.loopBlockDepth, tok)
	l.runFinallySuffix(ctx, ctx.loopFinallyDepth, tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: ctx.breakLabel}, tok)
	return nil
}

func (l *Lowerer) lowerContinue(tok token.Token, ctx stmtCtx) error {
	if ctx.continueLabel == "" {
		return l.bag.Semantic(tok, "continue outside a loop")
	}
	l.unwindBlocks(ctx.loopBlockDepth, tok)
	l.runFinallySuffix(ctx, ctx.loopFinallyDepth, tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: ctx.continueLabel}, tok)
	return nil
}

func (l *Lowerer) lowerReturn(s *ast.Return, ctx stmtCtx) error {
	retHiddenSlot := ir.InSlot(ir.Ptr, 64, "__sret", tupleIndex(l.fn.retSpec))

	if s.X == nil {
		l.runFinallySuffix(ctx, 0, s.Tok)
		l.unwindBlocks(0, s.Tok)
		l.emit(ir.OpRetVoid, &ir.Marker{}, s.Tok)
		return nil
	}

	if l.fn.retHidden {
		// Large struct return: construct or copy into the caller slot.
		if ce, ok := s.X.(*ast.CtorExpr); ok {
			dst := ir.InReg(ir.Ptr, 64, l.newReg(), tupleIndex(l.fn.retSpec))
			l.emit(ir.OpAssign, &ir.Move{Dst: dst, Src: retHiddenSlot}, s.Tok)
			if _, err := l.lowerCtorExpr(ce, dst); err != nil {
				return err
			}
		} else {
			addr, err := l.lowerExpr(s.X, ctxAddr)
			if err != nil {
				return err
			}
			l.emit(ir.OpStore, &ir.Move{Dst: retHiddenSlot, Src: addr}, s.Tok)
		}
		l.runFinallySuffix(ctx, 0, s.Tok)
		l.unwindBlocks(0, s.Tok)
		l.emit(ir.OpRet, &ir.Ret{Val: retHiddenSlot}, s.Tok)
		return nil
	}

	if l.fn.retSpec.IsReference() {
		addr, err := l.lowerExpr(s.X, ctxAddr)
		if err != nil {
			return err
		}
		l.runFinallySuffix(ctx, 0, s.Tok)
		l.unwindBlocks(0, s.Tok)
		l.emit(ir.OpRet, &ir.Ret{Val: addr}, s.Tok)
		return nil
	}

	v, err := l.lowerExpr(s.X, ctxLoad)
	if err != nil {
		return err
	}
	v = l.convertTo(v, stripRef(s.X.ResultType()), l.fn.retSpec, s.Tok)
	l.runFinallySuffix(ctx, 0, s.Tok)
	l.unwindBlocks(0, s.Tok)
	l.emit(ir.OpRet, &ir.Ret{Val: v}, s.Tok)
	return nil
}

func (l *Lowerer) lowerDelete(s *ast.Delete) error {
	ptr, err := l.lowerExpr(s.X, ctxLoad)
	if err != nil {
		return err
	}
	pt := stripRef(s.X.ResultType())
	if pt.IsPointer() {
		elem := pt.Elem()
		if elem.IsStruct() && !s.IsArray {
			if def, err := l.structAt(s.Tok, elem.TypeIndex); err == nil && def.Dtor() != nil {
				if mangled, merr := l.mangleFunc(def.Dtor()); merr == nil {
					l.scheduleBody(def.Dtor())
					l.emit(ir.OpDtorCall, &ir.DtorCall{Mangled: mangled, Object: ptr}, s.Tok)
				}
			}
		}
	}
	l.emit(ir.OpHeapFree, &ir.HeapFree{Ptr: ptr}, s.Tok)
	return nil
}

func (l *Lowerer) lowerThrow(s *ast.Throw, ctx stmtCtx) error {
	if s.X == nil {
		if !ctx.inHandler {
			return l.bag.Semantic(s.Tok, "rethrow outside a handler")
		}
		l.emit(ir.OpRethrow, &ir.Marker{}, s.Tok)
		return nil
	}
	v, err := l.lowerExpr(s.X, ctxLoad)
	if err != nil {
		return err
	}
	l.emit(ir.OpThrow, &ir.Throw{Val: v}, s.Tok)
	return nil
}
