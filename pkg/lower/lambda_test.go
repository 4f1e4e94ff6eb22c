package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

func TestByValueCaptureBuildsClosure(t *testing.T) {
	reg := types.NewRegistry()
	lam := &ast.Lambda{
		Tok: tok(3),
		Captures: []ast.Capture{
			{Kind: ast.CaptureByValue, Name: "base", Type: ast.TypeInt},
		},
		Params: []*ast.ParamDecl{{Tok: tok(3), Name: "n", Type: ast.TypeInt}},
		Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
			&ast.Return{Tok: tok(3), X: &ast.Binary{
				Tok: tok(3), Op: ast.OpAdd,
				L: ident("base", ast.TypeInt), R: ident("n", ast.TypeInt),
				Type: ast.TypeInt,
			}},
		}},
		NameHint: "add",
	}

	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "base", Type: ast.TypeInt, Init: []ast.Expr{intLit(10)}},
		&ast.ExprStmt{Tok: tok(3), X: lam},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)

	// The closure object is an anonymous struct local.
	var closVar *ir.VarDecl
	for _, i := range s.Find(ir.OpVarDecl) {
		vd := s.Instrs[i].Payload.(*ir.VarDecl)
		if vd.Type == ir.Struct {
			closVar = vd
		}
	}
	require.NotNil(t, closVar, "evaluating the lambda allocates closure storage")
	assert.Contains(t, closVar.Name, "__clos")
	assert.True(t, closVar.TypeIndex.Valid(), "the closure class registers like any struct")

	// Its capture is stored member-wise at evaluation time.
	stores := s.Find(ir.OpMemberStore)
	require.NotEmpty(t, stores)
	captured := false
	for _, i := range stores {
		m := s.Instrs[i].Payload.(*ir.MemberAccess)
		if m.Member == "base" {
			if slot, ok := m.Object.Loc.(ir.Slot); ok && slot.Name == closVar.Name {
				captured = true
			}
		}
	}
	assert.True(t, captured)

	// The call operator generates on the work list after main, reading
	// the capture through the closure receiver.
	from, to := funcRegion(t, s, "operator()")
	mainAt, _ := funcRegion(t, s, "main")
	assert.Greater(t, from, mainAt)

	loads := 0
	for _, i := range s.Find(ir.OpMemberLoad) {
		if i >= from && i < to {
			m := s.Instrs[i].Payload.(*ir.MemberAccess)
			assert.Equal(t, "base", m.Member)
			assert.Equal(t, 1, m.Object.Reg())
			loads++
		}
	}
	assert.Equal(t, 1, loads)
}

func TestByRefCaptureStoresAddress(t *testing.T) {
	reg := types.NewRegistry()
	lam := &ast.Lambda{
		Tok: tok(3),
		Captures: []ast.Capture{
			{Kind: ast.CaptureByRef, Name: "total", Type: ast.TypeInt},
		},
		Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
			&ast.ExprStmt{Tok: tok(3), X: &ast.Assign{
				Tok: tok(3), Op: ast.AssignAdd,
				L: ident("total", ast.TypeInt), R: intLit(1), Type: ast.TypeInt,
			}},
		}},
		NameHint: "bump",
	}

	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "total", Type: ast.TypeInt, Init: []ast.Expr{intLit(0)}},
		&ast.ExprStmt{Tok: tok(3), X: lam},
		&ast.Return{Tok: tok(4), X: ident("total", ast.TypeInt)},
	)

	// The capture store holds the variable's address, not its value.
	stored := false
	for _, i := range s.Find(ir.OpMemberStore) {
		m := s.Instrs[i].Payload.(*ir.MemberAccess)
		if m.Member == "total" {
			assert.Equal(t, ir.Ptr, m.Src.Type)
			stored = true
		}
	}
	require.True(t, stored)

	// Inside the body, writing the capture goes pointer-load then store
	// through it.
	from, to := funcRegion(t, s, "operator()")
	seen := struct{ load, deref, store bool }{}
	for i := from; i < to; i++ {
		switch s.Instrs[i].Op {
		case ir.OpMemberLoad:
			seen.load = true
		case ir.OpDeref:
			seen.deref = true
		case ir.OpStore:
			seen.store = true
		}
	}
	assert.True(t, seen.load, "the pointer member loads first")
	assert.True(t, seen.deref, "the compound assignment reads the referent")
	assert.True(t, seen.store, "and writes back through the pointer")
}

func TestAnonymousLambdasGetDistinctClasses(t *testing.T) {
	reg := types.NewRegistry()
	mk := func(line int) *ast.Lambda {
		return &ast.Lambda{
			Tok: tok(line),
			Body: &ast.Block{Tok: tok(line), Stmts: []ast.Stmt{
				&ast.Return{Tok: tok(line), X: intLit(int64(line))},
			}},
		}
	}
	s := lowerMain(t, reg,
		&ast.ExprStmt{Tok: tok(2), X: mk(2)},
		&ast.ExprStmt{Tok: tok(3), X: mk(3)},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)

	assert.Equal(t, 2, countFuncs(s, "operator()"),
		"each lambda expression is its own class with its own call operator")

	var mangles []string
	for _, i := range s.Find(ir.OpFuncDecl) {
		fd := s.Instrs[i].Payload.(*ir.FuncDecl)
		if fd.Name == "operator()" {
			mangles = append(mangles, fd.Mangled)
		}
	}
	require.Len(t, mangles, 2)
	assert.NotEqual(t, mangles[0], mangles[1])
}

func TestEmptyClosureStillHasStorage(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.ExprStmt{Tok: tok(2), X: &ast.Lambda{
			Tok:      tok(2),
			Body:     &ast.Block{Tok: tok(2), Stmts: []ast.Stmt{&ast.Return{Tok: tok(2), X: intLit(1)}}},
			NameHint: "unit",
		}},
		&ast.Return{Tok: tok(3), X: intLit(0)},
	)

	found := false
	for _, i := range s.Find(ir.OpVarDecl) {
		vd := s.Instrs[i].Payload.(*ir.VarDecl)
		if vd.Type == ir.Struct {
			assert.Equal(t, 8, vd.SizeBits, "a captureless closure is one byte, like an empty class")
			found = true
		}
	}
	assert.True(t, found)
}

func TestCapturelessLambdaGetsStaticInvoke(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.ExprStmt{Tok: tok(2), X: &ast.Lambda{
			Tok:      tok(2),
			Params:   []*ast.ParamDecl{{Tok: tok(2), Name: "n", Type: ast.TypeInt}},
			Body:     &ast.Block{Tok: tok(2), Stmts: []ast.Stmt{&ast.Return{Tok: tok(2), X: ident("n", ast.TypeInt)}}},
			NameHint: "plain",
		}},
		&ast.Return{Tok: tok(3), X: intLit(0)},
	)

	require.Equal(t, 1, countFuncs(s, "__invoke"),
		"a captureless lambda carries a plain-function entry point")

	from, to := funcRegion(t, s, "__invoke")
	inv := s.Instrs[from].Payload.(*ir.FuncDecl)
	require.Len(t, inv.Params, 1)
	assert.Equal(t, "n", inv.Params[0].Name)

	// No receiver: the body reads the parameter slot, never register 1.
	for _, instr := range s.Instrs[from:to] {
		if ma, ok := instr.Payload.(*ir.MemberAccess); ok {
			assert.NotEqual(t, 1, ma.Object.Reg(), "static invoke has no this")
		}
	}
}

func TestStarThisCaptureCopiesMembers(t *testing.T) {
	reg := types.NewRegistry()

	def := &ast.StructDef{
		Name: "Gauge",
		Members: []ast.Member{
			{Name: "lo", Type: ast.TypeInt, Offset: 0},
			{Name: "hi", Type: ast.TypeInt, Offset: 4},
		},
		SizeBytes: 8, Align: 4,
	}
	idx := reg.Add(def)
	gaugeT := ast.StructType("Gauge", idx)

	lam := &ast.Lambda{
		Tok: tok(3),
		Captures: []ast.Capture{
			{Kind: ast.CaptureStarThis, Type: gaugeT},
		},
		Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
			&ast.Return{Tok: tok(3), X: ident("lo", ast.TypeInt)},
		}},
		NameHint: "snap",
	}
	def.Funcs = []*ast.FuncDecl{{
		Tok: tok(2), Name: "snapshot", StructName: "Gauge", Return: ast.TypeInt,
		Body: &ast.Block{Tok: tok(2), Stmts: []ast.Stmt{
			&ast.ExprStmt{Tok: tok(3), X: lam},
			&ast.Return{Tok: tok(4), X: intLit(0)},
		}},
	}}

	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(10), Name: "g", Type: gaugeT},
		&ast.Return{Tok: tok(11), X: &ast.Call{
			Tok: tok(11),
			Fn: &ast.MemberExpr{
				Tok: tok(11), Object: ident("g", gaugeT), Name: "snapshot", Type: ast.TypeInt,
			},
			Type: ast.TypeInt,
		}},
	)

	// Capturing *this copies the enclosing object into the closure one
	// member at a time, never as a stored receiver pointer.
	from, to := funcRegion(t, s, "snapshot")
	var stores []*ir.MemberAccess
	for _, i := range s.Find(ir.OpMemberStore) {
		if i >= from && i < to {
			stores = append(stores, s.Instrs[i].Payload.(*ir.MemberAccess))
		}
	}
	require.Len(t, stores, 2)
	assert.Equal(t, "lo", stores[0].Member)
	assert.Equal(t, int64(0), stores[0].Offset)
	assert.Equal(t, "hi", stores[1].Member)
	assert.Equal(t, int64(4), stores[1].Offset)
	for _, st := range stores {
		assert.NotEqual(t, ir.Ptr, st.Src.Type)
	}

	// Each copied value reads off the enclosing receiver.
	loads := 0
	for _, i := range s.Find(ir.OpMemberLoad) {
		if i >= from && i < to {
			m := s.Instrs[i].Payload.(*ir.MemberAccess)
			assert.Equal(t, 1, m.Object.Reg())
			loads++
		}
	}
	assert.Equal(t, 2, loads)
}

func TestLambdaBodyReadsEnclosingMember(t *testing.T) {
	reg := types.NewRegistry()

	def := &ast.StructDef{
		Name:      "Cell",
		Members:   []ast.Member{{Name: "v", Type: ast.TypeInt, Offset: 0}},
		SizeBytes: 4, Align: 4,
	}
	idx := reg.Add(def)
	cellT := ast.StructType("Cell", idx)

	lam := &ast.Lambda{
		Tok: tok(3),
		Captures: []ast.Capture{
			{Kind: ast.CaptureThis, Type: ast.PointerTo(cellT)},
		},
		Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
			&ast.Return{Tok: tok(3), X: ident("v", ast.TypeInt)},
		}},
		NameHint: "read",
	}
	def.Funcs = []*ast.FuncDecl{{
		Tok: tok(2), Name: "peek", StructName: "Cell", Return: ast.TypeInt,
		Body: &ast.Block{Tok: tok(2), Stmts: []ast.Stmt{
			&ast.ExprStmt{Tok: tok(3), X: lam},
			&ast.Return{Tok: tok(4), X: intLit(0)},
		}},
	}}

	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(10), Name: "c", Type: cellT},
		&ast.Return{Tok: tok(11), X: &ast.Call{
			Tok: tok(11),
			Fn: &ast.MemberExpr{
				Tok: tok(11), Object: ident("c", cellT), Name: "peek", Type: ast.TypeInt,
			},
			Type: ast.TypeInt,
		}},
	)

	// The bare member name inside the body resolves through the captured
	// receiver: load the stored pointer, then the member through it.
	from, to := funcRegion(t, s, "operator()")
	var loads []*ir.MemberAccess
	for _, i := range s.Find(ir.OpMemberLoad) {
		if i >= from && i < to {
			loads = append(loads, s.Instrs[i].Payload.(*ir.MemberAccess))
		}
	}
	require.Len(t, loads, 2)
	assert.Equal(t, "__this", loads[0].Member)
	assert.Equal(t, "v", loads[1].Member)
}

func TestCaptureMustNameALocal(t *testing.T) {
	reg := types.NewRegistry()
	bag := newTestBag()
	l := New(Options{}, reg, testMangler(), bag)
	u := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{mainFunc(
		&ast.ExprStmt{Tok: tok(2), X: &ast.Lambda{
			Tok: tok(2),
			Captures: []ast.Capture{
				{Kind: ast.CaptureByValue, Name: "ghost", Type: ast.TypeInt},
			},
			Body:     &ast.Block{Tok: tok(2), Stmts: []ast.Stmt{&ast.Return{Tok: tok(2), X: intLit(0)}}},
			NameHint: "bad",
		}},
		&ast.Return{Tok: tok(3), X: intLit(0)},
	)}}

	err := l.LowerUnit(u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCapturingLambdaHasNoStaticInvoke(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "base", Type: ast.TypeInt, Init: []ast.Expr{intLit(5)}},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Lambda{
			Tok: tok(3),
			Captures: []ast.Capture{
				{Kind: ast.CaptureByValue, Name: "base", Type: ast.TypeInt},
			},
			Body:     &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{&ast.Return{Tok: tok(3), X: ident("base", ast.TypeInt)}}},
			NameHint: "bound",
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)

	assert.Equal(t, 0, countFuncs(s, "__invoke"))
}
