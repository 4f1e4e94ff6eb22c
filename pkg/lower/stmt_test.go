package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

func assignStmt(line int, name string, t ast.TypeSpec, v int64) ast.Stmt {
	return &ast.ExprStmt{Tok: tok(line), X: &ast.Assign{
		Tok: tok(line), Op: ast.AssignEq,
		L: ident(name, t), R: intLit(v), Type: t,
	}}
}

func TestWhileLoopShape(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "i", Type: ast.TypeInt, Init: []ast.Expr{intLit(0)}},
		&ast.While{
			Tok:  tok(3),
			Cond: &ast.Binary{Tok: tok(3), Op: ast.OpLt, L: ident("i", ast.TypeInt), R: intLit(10), Type: ast.TypeBool},
			Body: &ast.Block{Tok: tok(3), Synthetic: true, Stmts: []ast.Stmt{
				&ast.ExprStmt{Tok: tok(4), X: &ast.Postfix{Tok: tok(4), Inc: true, X: ident("i", ast.TypeInt), Type: ast.TypeInt}},
			}},
		},
		&ast.Return{Tok: tok(6), X: ident("i", ast.TypeInt)},
	)
	assert.True(t, opSequence(s, ir.OpLabel, ir.OpCmpLt, ir.OpCondBranch, ir.OpAdd, ir.OpBranch),
		"head label, test, conditional entry, body, back edge")
}

func TestSwitchDispatchesThroughEqualityChain(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "v", Type: ast.TypeInt, Init: []ast.Expr{intLit(2)}},
		&ast.Switch{
			Tok: tok(3), Cond: ident("v", ast.TypeInt),
			Cases: []ast.SwitchCase{
				{Tok: tok(4), Values: []int64{1}, Body: []ast.Stmt{assignStmt(4, "v", ast.TypeInt, 10), &ast.Break{Tok: tok(4)}}},
				{Tok: tok(5), Values: []int64{2, 3}, Body: []ast.Stmt{assignStmt(5, "v", ast.TypeInt, 20), &ast.Break{Tok: tok(5)}}},
				{Tok: tok(6), IsDefault: true, Body: []ast.Stmt{assignStmt(6, "v", ast.TypeInt, 30)}},
			},
		},
		&ast.Return{Tok: tok(8), X: ident("v", ast.TypeInt)},
	)
	// One equality test per case value: 1, 2, 3.
	assert.Len(t, s.Find(ir.OpCmpEq), 3)
	// Breaks turn into jumps past the switch.
	assert.GreaterOrEqual(t, len(s.Find(ir.OpBranch)), 2)
}

func TestScopedDestructionOnBlockExit(t *testing.T) {
	reg := types.NewRegistry()
	pointT := pointClass(reg)

	s := lowerMain(t, reg,
		&ast.Block{Tok: tok(2), Stmts: []ast.Stmt{
			&ast.VarDecl{Tok: tok(3), Name: "p", Type: pointT, Init: []ast.Expr{
				&ast.CtorExpr{Tok: tok(3), Type: pointT, Args: []ast.Expr{intLit(1), intLit(2)}},
			}},
		}},
		&ast.Return{Tok: tok(5), X: intLit(0)},
	)

	dtors := s.Find(ir.OpDtorCall)
	rets := s.Find(ir.OpRet)
	require.Len(t, dtors, 1)
	require.NotEmpty(t, rets)
	assert.Less(t, dtors[0], rets[0], "the inner block destroys its local before main returns")
}

func TestTryCatchRegionMarkers(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.TryCatch{
			Tok: tok(2),
			Body: &ast.Block{Tok: tok(2), Stmts: []ast.Stmt{
				&ast.Throw{Tok: tok(3), X: intLit(7)},
			}},
			Catches: []ast.CatchClause{
				{
					Tok:  tok(4),
					Decl: &ast.VarDecl{Tok: tok(4), Name: "e", Type: ast.TypeInt},
					Body: &ast.Block{Tok: tok(4)},
				},
				{Tok: tok(5), Body: &ast.Block{Tok: tok(5)}},
			},
		},
		&ast.Return{Tok: tok(7), X: intLit(0)},
	)

	assert.True(t, opSequence(s,
		ir.OpTryBegin, ir.OpThrow, ir.OpTryEnd,
		ir.OpCatchBegin, ir.OpCatchEnd,
		ir.OpCatchBegin, ir.OpCatchEnd,
		ir.OpHandlersEnd,
	), "region opens, body throws, clauses test in order, handlers close")

	catches := s.Find(ir.OpCatchBegin)
	require.Len(t, catches, 2)
	first := s.Instrs[catches[0]].Payload.(*ir.CatchBegin)
	second := s.Instrs[catches[1]].Payload.(*ir.CatchBegin)
	assert.False(t, first.CatchAll)
	assert.Equal(t, ir.Slot{Name: "e"}, first.Reg.Loc)
	assert.True(t, second.CatchAll, "a clause without a declaration catches everything")
}

func TestRethrowOnlyInsideHandler(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.TryCatch{
			Tok:  tok(2),
			Body: &ast.Block{Tok: tok(2)},
			Catches: []ast.CatchClause{{
				Tok: tok(3),
				Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
					&ast.Throw{Tok: tok(3)},
				}},
			}},
		},
		&ast.Return{Tok: tok(5), X: intLit(0)},
	)
	assert.Len(t, s.Find(ir.OpRethrow), 1)
	assert.Empty(t, s.Find(ir.OpThrow))
}

func TestFinallyRunsBeforeEarlyReturn(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "v", Type: ast.TypeInt, Init: []ast.Expr{intLit(0)}},
		&ast.SehTry{
			Tok: tok(3),
			Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
				&ast.Return{Tok: tok(4), X: intLit(1)},
			}},
			Finally: &ast.Block{Tok: tok(5), Stmts: []ast.Stmt{
				assignStmt(6, "v", ast.TypeInt, 2),
			}},
		},
		&ast.Return{Tok: tok(8), X: ident("v", ast.TypeInt)},
	)

	calls := s.Find(ir.OpSehFinallyCall)
	rets := s.Find(ir.OpRet)
	require.NotEmpty(t, calls)
	require.NotEmpty(t, rets)
	assert.Less(t, calls[0], rets[0], "the funclet is invoked before the return leaves the region")

	// Normal fall-through also calls the funclet once, after the body.
	assert.Len(t, calls, 2)
}

func TestLeaveJumpsToTryEnd(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "v", Type: ast.TypeInt, Init: []ast.Expr{intLit(0)}},
		&ast.SehTry{
			Tok: tok(3),
			Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
				&ast.Leave{Tok: tok(4)},
				assignStmt(5, "v", ast.TypeInt, 1),
			}},
			Finally: &ast.Block{Tok: tok(6)},
		},
		&ast.Return{Tok: tok(8), X: ident("v", ast.TypeInt)},
	)

	leaves := s.Find(ir.OpSehLeave)
	require.Len(t, leaves, 1)
	leave := s.Instrs[leaves[0]].Payload.(*ir.SehLeave)
	assert.NotEmpty(t, leave.Target)

	// __leave crosses the finally, so the funclet call precedes the jump.
	calls := s.Find(ir.OpSehFinallyCall)
	require.NotEmpty(t, calls)
	assert.Less(t, calls[0], leaves[0])
}

func TestExceptFilterFuncletSavesCode(t *testing.T) {
	reg := types.NewRegistry()
	getCode := func(line int) ast.Expr {
		return &ast.Call{Tok: tok(line), Fn: ident("GetExceptionCode", ast.TypeUInt), Type: ast.TypeUInt}
	}
	s := lowerMain(t, reg,
		&ast.SehTry{
			Tok:  tok(2),
			Body: &ast.Block{Tok: tok(2)},
			Except: &ast.SehExcept{
				Tok: tok(3),
				Filter: &ast.Binary{
					Tok: tok(3), Op: ast.OpEq,
					L: getCode(3), R: intLit(1), Type: ast.TypeBool,
				},
				Body: &ast.Block{Tok: tok(4), Stmts: []ast.Stmt{
					&ast.VarDecl{Tok: tok(4), Name: "code", Type: ast.TypeUInt, Init: []ast.Expr{getCode(4)}},
				}},
			},
		},
		&ast.Return{Tok: tok(6), X: intLit(0)},
	)

	require.Len(t, s.Find(ir.OpSehFilterBegin), 1)
	require.Len(t, s.Find(ir.OpSehSaveCode), 1)
	fb := s.Instrs[s.Find(ir.OpSehFilterBegin)[0]].Payload.(*ir.SehFilterBegin)
	sv := s.Instrs[s.Find(ir.OpSehSaveCode)[0]].Payload.(*ir.SehSaveCode)
	assert.Equal(t, fb.CodeSlot, sv.Slot)

	// Both the filter expression and the handler body read the saved
	// code from the same parent-frame slot.
	slotReads := 0
	for _, i := range s.Find(ir.OpAssign) {
		m := s.Instrs[i].Payload.(*ir.Move)
		if slot, ok := m.Src.Loc.(ir.Slot); ok && slot.Name == fb.CodeSlot {
			slotReads++
		}
	}
	for _, i := range s.Find(ir.OpCmpEq) {
		b := s.Instrs[i].Payload.(*ir.Bin)
		if slot, ok := b.A.Loc.(ir.Slot); ok && slot.Name == fb.CodeSlot {
			slotReads++
		}
	}
	assert.GreaterOrEqual(t, slotReads, 2)
}

func TestConstFilterSkipsFunclet(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.SehTry{
			Tok:  tok(2),
			Body: &ast.Block{Tok: tok(2)},
			Except: &ast.SehExcept{
				Tok:    tok(3),
				Filter: intLit(1),
				Body:   &ast.Block{Tok: tok(3)},
			},
		},
		&ast.Return{Tok: tok(5), X: intLit(0)},
	)

	assert.Empty(t, s.Find(ir.OpSehFilterBegin))
	begins := s.Find(ir.OpSehExceptBegin)
	require.Len(t, begins, 1)
	eb := s.Instrs[begins[0]].Payload.(*ir.SehExceptBegin)
	assert.True(t, eb.HasConstFilter)
	assert.Equal(t, int64(1), eb.ConstFilter)
}

func TestDroppedIntrinsicWarnsAndNops(t *testing.T) {
	reg := types.NewRegistry()
	u := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{mainFunc(
		&ast.ExprStmt{Tok: tok(2), X: &ast.Call{
			Tok: tok(2), Fn: ident("__assume", ast.TypeVoid),
			Args: []ast.Expr{intLit(1)}, Type: ast.TypeVoid,
		}},
		&ast.Return{Tok: tok(3), X: intLit(0)},
	)}}
	s, bag := lowerUnit(t, reg, u)

	nops := s.Find(ir.OpNop)
	require.Len(t, nops, 1)
	assert.Equal(t, "__assume", s.Instrs[nops[0]].Payload.(*ir.Nop).Reason)
	assert.Equal(t, 1, bag.WarningCount())
}

func TestGetExceptionCodeOutsideHandlerRejected(t *testing.T) {
	reg := types.NewRegistry()
	bag := newTestBag()
	l := New(Options{}, reg, testMangler(), bag)
	u := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{mainFunc(
		&ast.ExprStmt{Tok: tok(2), X: &ast.Call{
			Tok: tok(2), Fn: ident("GetExceptionCode", ast.TypeUInt), Type: ast.TypeUInt,
		}},
		&ast.Return{Tok: tok(3), X: intLit(0)},
	)}}
	err := l.LowerUnit(u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "__except")
}

func TestUsingDeclarationResolvesNamespacedCall(t *testing.T) {
	reg := types.NewRegistry()

	helper := &ast.FuncDecl{
		Tok: tok(1), Name: "helper", Namespace: []string{"util"}, Return: ast.TypeInt,
		Body: &ast.Block{Tok: tok(1), Stmts: []ast.Stmt{
			&ast.Return{Tok: tok(1), X: intLit(7)},
		}},
	}
	u := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{
		helper,
		mainFunc(
			&ast.UsingDecl{Tok: tok(10), Path: []string{"util"}},
			&ast.ExprStmt{Tok: tok(11), X: &ast.Call{
				Tok: tok(11), Fn: ident("helper", ast.TypeInt), Type: ast.TypeInt,
			}},
			&ast.Return{Tok: tok(12), X: intLit(0)},
		),
	}}
	s, _ := lowerUnit(t, reg, u)

	assert.Equal(t, 1, countFuncs(s, "helper"), "the unqualified call reaches util::helper")
	mainFrom, mainEnd := funcRegion(t, s, "main")
	found := false
	for _, i := range s.Find(ir.OpCall) {
		if i >= mainFrom && i < mainEnd {
			call := s.Instrs[i].Payload.(*ir.Call)
			assert.Contains(t, call.Mangled, "util")
			found = true
		}
	}
	assert.True(t, found)
}

func TestUsingDeclarationEndsWithItsBlock(t *testing.T) {
	reg := types.NewRegistry()

	helper := &ast.FuncDecl{
		Tok: tok(1), Name: "helper", Namespace: []string{"util"}, Return: ast.TypeInt,
		Body: &ast.Block{Tok: tok(1), Stmts: []ast.Stmt{
			&ast.Return{Tok: tok(1), X: intLit(7)},
		}},
	}
	u := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{
		helper,
		mainFunc(
			&ast.Block{Tok: tok(10), Stmts: []ast.Stmt{
				&ast.UsingDecl{Tok: tok(10), Path: []string{"util"}},
			}},
			&ast.ExprStmt{Tok: tok(12), X: &ast.Call{
				Tok: tok(12), Fn: ident("helper", ast.TypeInt), Type: ast.TypeInt,
			}},
			&ast.Return{Tok: tok(13), X: intLit(0)},
		),
	}}
	s, _ := lowerUnit(t, reg, u)

	// Outside the block the using is gone, so the name no longer reaches
	// util::helper and the call goes out as an unmangled external symbol.
	mainFrom, mainEnd := funcRegion(t, s, "main")
	found := false
	for _, i := range s.Find(ir.OpCall) {
		if i >= mainFrom && i < mainEnd {
			call := s.Instrs[i].Payload.(*ir.Call)
			assert.Equal(t, "helper", call.Mangled)
			found = true
		}
	}
	assert.True(t, found)
}
