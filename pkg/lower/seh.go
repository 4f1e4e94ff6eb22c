package lower

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/scope"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
)

// lowerTryCatch emits a C++ try region. The body runs under an open
// region whose handler chain starts at the first catch; each clause
// tests in declaration order, and an unmatched exception continues past
// the handlers-end marker to the next enclosing region.
func (l *Lowerer) lowerTryCatch(s *ast.TryCatch, ctx stmtCtx) error {
	handlerL := l.newLabel("catch_dispatch")
	contL := l.newLabel("try_cont")

	l.emit(ir.OpTryBegin, &ir.TryBegin{Handler: handlerL}, s.Tok)
	if err := l.lowerBlock(s.Body, ctx); err != nil {
		return err
	}
	l.emit(ir.OpTryEnd, &ir.Marker{}, s.Tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: contL}, s.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: handlerL}, s.Tok)

	handlerCtx := ctx
	handlerCtx.inHandler = true

	for _, c := range s.Catches {
		endL := l.newLabel("catch_end")

		var bound ir.Operand
		isConst, isRef, catchAll := false, false, c.Decl == nil
		if c.Decl != nil {
			isConst = c.Decl.Type.IsConst
			isRef = c.Decl.Type.IsReference()
		}

		l.fn.syms.Enter()
		l.fn.blocks = append(l.fn.blocks, blockScope{})

		if c.Decl != nil {
			l.fn.syms.Declare(&scope.Symbol{Name: c.Decl.Name, Kind: scope.SymLocal, Type: c.Decl.Type})
			bound = l.operandSlot(c.Decl.Type, c.Decl.Name)
			l.emit(ir.OpVarDecl, &ir.VarDecl{
				Name: c.Decl.Name, Type: bound.Type,
				SizeBits: bound.SizeBits, TypeIndex: bound.TypeIndex,
			}, c.Tok)
		}

		l.emit(ir.OpCatchBegin, &ir.CatchBegin{
			Reg: bound, IsConst: isConst, IsRef: isRef, CatchAll: catchAll,
			CatchEnd: endL, Continue: contL,
		}, c.Tok)

		if err := l.lowerBlock(c.Body, handlerCtx); err != nil {
			return err
		}

		l.fn.blocks = l.fn.blocks[:len(l.fn.blocks)-1]
		l.fn.syms.Leave()

		l.emit(ir.OpCatchEnd, &ir.Marker{}, c.Tok)
		l.emit(ir.OpBranch, &ir.Branch{Target: contL}, c.Tok)
		l.emit(ir.OpLabel, &ir.Label{Name: endL}, c.Tok)
	}

	l.emit(ir.OpHandlersEnd, &ir.Marker{}, s.Tok)
	l.emit(ir.OpLabel, &ir.Label{Name: contL}, s.Tok)
	return nil
}

func (l *Lowerer) lowerSehTry(s *ast.SehTry, ctx stmtCtx) error {
	if s.Finally != nil {
		return l.lowerSehTryFinally(s, ctx)
	}
	return l.lowerSehTryExcept(s, ctx)
}

// lowerSehTryFinally emits the __try/__finally shape: the funclet is
// invoked on normal fall-through and before every early exit that
// crosses the region, then control resumes at the transfer target.
func (l *Lowerer) lowerSehTryFinally(s *ast.SehTry, ctx stmtCtx) error {
	finallyL := l.newLabel("seh_finally")
	endL := l.newLabel("seh_end")

	l.emit(ir.OpSehTryBegin, &ir.SehTryBegin{Finally: finallyL}, s.Tok)

	bodyCtx := ctx
	bodyCtx.finallies = append(append([]string(nil), ctx.finallies...), finallyL)
	bodyCtx.sehTryEnd = endL
	bodyCtx.leaveFinallyDepth = len(ctx.finallies)
	bodyCtx.leaveBlockDepth = len(l.fn.blocks)

	if err := l.lowerBlock(s.Body, bodyCtx); err != nil {
		return err
	}
	l.emit(ir.OpSehTryEnd, &ir.Marker{}, s.Tok)
	l.emit(ir.OpSehFinallyCall, &ir.SehFinallyCall{Finally: finallyL}, s.Tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: endL}, s.Tok)

	// The funclet body. It also runs on the unwind path, so it must not
	// assume the normal-path registers are live.
	l.emit(ir.OpLabel, &ir.Label{Name: finallyL}, s.Tok)
	l.emit(ir.OpSehFinallyBegin, &ir.Marker{}, s.Tok)
	if err := l.lowerBlock(s.Finally, ctx); err != nil {
		return err
	}
	l.emit(ir.OpSehFinallyEnd, &ir.Marker{}, s.Tok)

	l.emit(ir.OpLabel, &ir.Label{Name: endL}, s.Tok)
	return nil
}

// lowerSehTryExcept emits __try/__except. A constant filter skips the
// filter funclet entirely; otherwise the funclet saves the in-flight
// exception code into a parent-frame slot before evaluating the filter
// expression, and GetExceptionCode reads that slot in both the filter
// and the handler body.
func (l *Lowerer) lowerSehTryExcept(s *ast.SehTry, ctx stmtCtx) error {
	exceptL := l.newLabel("seh_except")
	endL := l.newLabel("seh_end")

	constFilter, isConst := constIntValue(s.Except.Filter)

	codeSlot := ""
	filterL := ""
	if !isConst {
		codeSlot = l.newLabel("__seh_code")
		filterL = l.newLabel("seh_filter")
		l.emit(ir.OpVarDecl, &ir.VarDecl{Name: codeSlot, Type: ir.UInt, SizeBits: 32}, s.Tok)
	}

	l.emit(ir.OpSehTryBegin, &ir.SehTryBegin{Except: exceptL}, s.Tok)

	bodyCtx := ctx
	bodyCtx.sehTryEnd = endL
	bodyCtx.leaveFinallyDepth = len(ctx.finallies)
	bodyCtx.leaveBlockDepth = len(l.fn.blocks)

	if err := l.lowerBlock(s.Body, bodyCtx); err != nil {
		return err
	}
	l.emit(ir.OpSehTryEnd, &ir.Marker{}, s.Tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: endL}, s.Tok)

	if !isConst {
		l.emit(ir.OpLabel, &ir.Label{Name: filterL}, s.Except.Tok)
		l.emit(ir.OpSehFilterBegin, &ir.SehFilterBegin{Label: filterL, CodeSlot: codeSlot}, s.Except.Tok)
		l.emit(ir.OpSehSaveCode, &ir.SehSaveCode{Slot: codeSlot}, s.Except.Tok)

		prev := l.fn.sehCodeSlot
		l.fn.sehCodeSlot = codeSlot
		verdict, err := l.lowerExpr(s.Except.Filter, ctxLoad)
		l.fn.sehCodeSlot = prev
		if err != nil {
			return err
		}
		l.emit(ir.OpSehFilterEnd, &ir.SehFilterEnd{Verdict: verdict}, s.Except.Tok)
	}

	l.emit(ir.OpLabel, &ir.Label{Name: exceptL}, s.Except.Tok)
	l.emit(ir.OpSehExceptBegin, &ir.SehExceptBegin{
		ConstFilter: constFilter, HasConstFilter: isConst, FilterLabel: filterL,
	}, s.Except.Tok)

	handlerCtx := ctx
	handlerCtx.inHandler = true
	prev := l.fn.sehCodeSlot
	l.fn.sehCodeSlot = codeSlot
	err := l.lowerBlock(s.Except.Body, handlerCtx)
	l.fn.sehCodeSlot = prev
	if err != nil {
		return err
	}

	l.emit(ir.OpSehExceptEnd, &ir.Marker{}, s.Except.Tok)
	l.emit(ir.OpBranch, &ir.Branch{Target: endL}, s.Except.Tok)
	l.emit(ir.OpLabel, &ir.Label{Name: endL}, s.Tok)
	return nil
}

// constIntValue recognizes the filter expressions that fold to an
// integer constant at lowering time.
func constIntValue(e ast.Expr) (int64, bool) {
	switch e := e.(type) {
	case *ast.IntLit:
		return e.Value, true
	case *ast.BoolLit:
		if e.Value {
			return 1, true
		}
		return 0, true
	case *ast.Unary:
		if e.Op == ast.OpNeg {
			if v, ok := constIntValue(e.X); ok {
				return -v, true
			}
		}
	case *ast.Cast:
		return constIntValue(e.X)
	}
	return 0, false
}

// lowerLeave is __leave: destructors for the blocks opened inside the
// region, the region's own finally when it has one, then a jump to the
// try end.
func (l *Lowerer) lowerLeave(tok token.Token, ctx stmtCtx) error {
	if ctx.sehTryEnd == "" {
		return l.bag.Semantic(tok, "__leave outside a __try block")
	}
	l.unwindBlocks(ctx.leaveBlockDepth, tok)
	l.runFinallySuffix(ctx, ctx.leaveFinallyDepth, tok)
	l.emit(ir.OpSehLeave, &ir.SehLeave{Target: ctx.sehTryEnd}, tok)
	return nil
}
