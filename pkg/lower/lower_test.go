package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/tlog"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/diag"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/mangle"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

func tok(line int) token.Token { return token.Token{Line: line, Column: 1, Len: 1} }

func intLit(v int64) *ast.IntLit { return &ast.IntLit{Tok: tok(1), Value: v, Type: ast.TypeInt} }

func ident(name string, t ast.TypeSpec) *ast.Ident {
	return &ast.Ident{Tok: tok(1), Name: name, Type: t}
}

func mainFunc(stmts ...ast.Stmt) *ast.FuncDecl {
	return &ast.FuncDecl{
		Tok: tok(1), Name: "main", Return: ast.TypeInt,
		Body: &ast.Block{Tok: tok(1), Stmts: stmts},
	}
}

// newTestBag builds a bag over the default logger; nil would do the
// same, spelled out here so the dependency is visible.
func newTestBag() *diag.Bag { return diag.New(tlog.DefaultLogger) }

func testMangler() mangle.Mangler { return mangle.Default{} }

func lowerUnit(t *testing.T, reg *types.Registry, u *ast.TranslationUnit) (*ir.Stream, *diag.Bag) {
	t.Helper()
	bag := newTestBag()
	l := New(Options{}, reg, testMangler(), bag)
	require.NoError(t, l.LowerUnit(u))
	return l.Stream(), bag
}

func lowerMain(t *testing.T, reg *types.Registry, stmts ...ast.Stmt) *ir.Stream {
	t.Helper()
	s, _ := lowerUnit(t, reg, &ast.TranslationUnit{Funcs: []*ast.FuncDecl{mainFunc(stmts...)}})
	return s
}

func opSequence(s *ir.Stream, ops ...ir.Op) bool {
	at := 0
	for i := range s.Instrs {
		if at < len(ops) && s.Instrs[i].Op == ops[at] {
			at++
		}
	}
	return at == len(ops)
}

func TestUsualArithmeticConversions(t *testing.T) {
	reg := types.NewRegistry()
	// int + unsigned: the signed side converts, the add runs unsigned.
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "a", Type: ast.TypeInt, Init: []ast.Expr{intLit(3)}},
		&ast.VarDecl{Tok: tok(3), Name: "b", Type: ast.TypeUInt, Init: []ast.Expr{intLit(4)}},
		&ast.Return{Tok: tok(4), X: &ast.Binary{
			Tok: tok(4), Op: ast.OpDiv,
			L: ident("a", ast.TypeInt), R: ident("b", ast.TypeUInt),
			Type: ast.TypeUInt,
		}},
	)
	require.Len(t, s.Find(ir.OpUDiv), 1, "mixed-sign division must be unsigned")
	assert.Empty(t, s.Find(ir.OpDiv))

	div := s.Instrs[s.Find(ir.OpUDiv)[0]].Payload.(*ir.Bin)
	assert.Equal(t, ir.UInt, div.Dst.Type)
	assert.Equal(t, 32, div.Dst.SizeBits)
}

func TestSmallIntsPromoteToInt(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "c", Type: ast.TypeChar, Init: []ast.Expr{intLit(1)}},
		&ast.VarDecl{Tok: tok(3), Name: "d", Type: ast.TypeShort, Init: []ast.Expr{intLit(2)}},
		&ast.Return{Tok: tok(4), X: &ast.Binary{
			Tok: tok(4), Op: ast.OpAdd,
			L: ident("c", ast.TypeChar), R: ident("d", ast.TypeShort),
			Type: ast.TypeInt,
		}},
	)
	adds := s.Find(ir.OpAdd)
	require.NotEmpty(t, adds)
	add := s.Instrs[adds[len(adds)-1]].Payload.(*ir.Bin)
	assert.Equal(t, 32, add.Dst.SizeBits, "char+short computes at int width")
	// Both operands were widened first.
	assert.GreaterOrEqual(t, len(s.Find(ir.OpConv)), 2)
}

func TestAssignmentConvertsRightSideOnly(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "c", Type: ast.TypeChar},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Assign{
			Tok: tok(3), Op: ast.AssignEq,
			L: ident("c", ast.TypeChar), R: intLit(300),
			Type: ast.TypeChar,
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)
	convs := s.Find(ir.OpConv)
	require.Len(t, convs, 1, "the int initializer narrows to char")
	conv := s.Instrs[convs[0]].Payload.(*ir.Un)
	assert.Equal(t, 8, conv.Dst.SizeBits)
}

func TestPointerAdditionScalesByPointee(t *testing.T) {
	reg := types.NewRegistry()
	ptrInt := ast.PointerTo(ast.TypeInt)
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "p", Type: ptrInt},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Binary{
			Tok: tok(3), Op: ast.OpAdd,
			L: ident("p", ptrInt), R: intLit(2),
			Type: ptrInt,
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)
	muls := s.Find(ir.OpMul)
	require.Len(t, muls, 1)
	mul := s.Instrs[muls[0]].Payload.(*ir.Bin)
	imm, ok := mul.B.Loc.(ir.ImmInt)
	require.True(t, ok)
	assert.Equal(t, int64(4), imm.Value, "int* steps by sizeof(int)")
}

func TestMultiLevelPointerScalesByWordSize(t *testing.T) {
	reg := types.NewRegistry()
	pp := ast.PointerTo(ast.PointerTo(ast.TypeChar))
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "pp", Type: pp},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Binary{
			Tok: tok(3), Op: ast.OpAdd,
			L: ident("pp", pp), R: intLit(1),
			Type: pp,
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)
	mul := s.Instrs[s.Find(ir.OpMul)[0]].Payload.(*ir.Bin)
	assert.Equal(t, int64(8), mul.B.Loc.(ir.ImmInt).Value)
}

func TestPointerDifferenceDividesByElemSize(t *testing.T) {
	reg := types.NewRegistry()
	ptrInt := ast.PointerTo(ast.TypeInt)
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "p", Type: ptrInt},
		&ast.VarDecl{Tok: tok(3), Name: "q", Type: ptrInt},
		&ast.Return{Tok: tok(4), X: &ast.Binary{
			Tok: tok(4), Op: ast.OpSub,
			L: ident("p", ptrInt), R: ident("q", ptrInt),
			Type: ast.TypeLong,
		}},
	)
	divs := s.Find(ir.OpDiv)
	require.Len(t, divs, 1)
	div := s.Instrs[divs[0]].Payload.(*ir.Bin)
	assert.Equal(t, int64(4), div.B.Loc.(ir.ImmInt).Value)
}

func TestPointerComparisonIsUnsigned(t *testing.T) {
	reg := types.NewRegistry()
	ptrInt := ast.PointerTo(ast.TypeInt)
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "p", Type: ptrInt},
		&ast.VarDecl{Tok: tok(3), Name: "q", Type: ptrInt},
		&ast.ExprStmt{Tok: tok(4), X: &ast.Binary{
			Tok: tok(4), Op: ast.OpLt,
			L: ident("p", ptrInt), R: ident("q", ptrInt),
			Type: ast.TypeBool,
		}},
		&ast.Return{Tok: tok(5), X: intLit(0)},
	)
	require.Len(t, s.Find(ir.OpCmpULt), 1)
	assert.Empty(t, s.Find(ir.OpCmpLt))
}

func TestLogicalAndShortCircuits(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "a", Type: ast.TypeInt, Init: []ast.Expr{intLit(1)}},
		&ast.VarDecl{Tok: tok(3), Name: "b", Type: ast.TypeInt, Init: []ast.Expr{intLit(2)}},
		&ast.Return{Tok: tok(4), X: &ast.Binary{
			Tok: tok(4), Op: ast.OpLogAnd,
			L: ident("a", ast.TypeInt), R: ident("b", ast.TypeInt),
			Type: ast.TypeBool,
		}},
	)
	// The conditional branch around the right operand is the whole point.
	require.NotEmpty(t, s.Find(ir.OpCondBranch))

	// The result is an 8-bit boolean, not a promoted int.
	rets := s.Find(ir.OpRet)
	require.NotEmpty(t, rets)
	ne := s.Find(ir.OpCmpNe)
	require.NotEmpty(t, ne, "operands boolize through a compare with zero")
	first := s.Instrs[ne[0]].Payload.(*ir.Bin)
	assert.Equal(t, ir.Bool, first.Dst.Type)
	assert.Equal(t, 8, first.Dst.SizeBits)
}

func TestImplicitEntryReturnsZero(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "a", Type: ast.TypeInt, Init: []ast.Expr{intLit(1)}},
	)
	rets := s.Find(ir.OpRet)
	require.Len(t, rets, 1)
	ret := s.Instrs[rets[0]].Payload.(*ir.Ret)
	assert.Equal(t, int64(0), ret.Val.Loc.(ir.ImmInt).Value)
	assert.Empty(t, s.Find(ir.OpRetVoid))
}

func TestCompoundAssignmentThroughDeref(t *testing.T) {
	reg := types.NewRegistry()
	ptrInt := ast.PointerTo(ast.TypeInt)
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "p", Type: ptrInt},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Assign{
			Tok: tok(3), Op: ast.AssignAdd,
			L: &ast.Unary{Tok: tok(3), Op: ast.OpDeref, X: ident("p", ptrInt), Type: ast.TypeInt},
			R: intLit(5), Type: ast.TypeInt,
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)
	// Load through the pointer, add, store back through the same address.
	assert.True(t, opSequence(s, ir.OpDeref, ir.OpAdd, ir.OpStore),
		"expected load-op-store through the pointer")
}

func TestCompoundAssignmentThroughMember(t *testing.T) {
	reg := types.NewRegistry()
	idx := reg.Add(&ast.StructDef{
		Name:      "Box",
		Members:   []ast.Member{{Name: "n", Type: ast.TypeInt, Offset: 0}},
		SizeBytes: 4, Align: 4,
	})
	boxT := ast.StructType("Box", idx)

	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "b", Type: boxT},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Assign{
			Tok: tok(3), Op: ast.AssignAdd,
			L: &ast.MemberExpr{Tok: tok(3), Object: ident("b", boxT), Name: "n", Type: ast.TypeInt},
			R: intLit(2), Type: ast.TypeInt,
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)

	assert.True(t, opSequence(s, ir.OpMemberLoad, ir.OpAdd, ir.OpMemberStore),
		"expected load-op-store through the member")
	load := s.Instrs[s.Find(ir.OpMemberLoad)[0]].Payload.(*ir.MemberAccess)
	store := s.Instrs[s.Find(ir.OpMemberStore)[0]].Payload.(*ir.MemberAccess)
	assert.Equal(t, "n", load.Member)
	assert.Equal(t, load.Offset, store.Offset, "read and writeback target the same member")
}

func TestCompoundAssignmentThroughArrayElement(t *testing.T) {
	reg := types.NewRegistry()
	arrT := ast.TypeSpec{Kind: ast.TYPE_INT, IsArray: true, ArrayLen: 10, TypeIndex: types.Invalid}

	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "arr", Type: arrT},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Assign{
			Tok: tok(3), Op: ast.AssignAdd,
			L: &ast.Subscript{Tok: tok(3), Base: ident("arr", arrT), Index: intLit(1), Type: ast.TypeInt},
			R: intLit(2), Type: ast.TypeInt,
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)

	assert.True(t, opSequence(s, ir.OpArrayLoad, ir.OpAdd, ir.OpArrayStore),
		"expected load-op-store through the element")
	load := s.Instrs[s.Find(ir.OpArrayLoad)[0]].Payload.(*ir.ArrayAccess)
	store := s.Instrs[s.Find(ir.OpArrayStore)[0]].Payload.(*ir.ArrayAccess)
	assert.Equal(t, int64(4), load.ElemSize)
	assert.Equal(t, load.ElemSize, store.ElemSize)
	assert.False(t, store.PtrBase, "an array base indexes in place")
}

func TestCompoundAssignmentThroughGlobal(t *testing.T) {
	reg := types.NewRegistry()
	u := &ast.TranslationUnit{
		Globals: []*ast.VarDecl{{Tok: tok(1), Name: "g", Type: ast.TypeInt, Init: []ast.Expr{intLit(0)}}},
		Funcs: []*ast.FuncDecl{mainFunc(
			&ast.ExprStmt{Tok: tok(3), X: &ast.Assign{
				Tok: tok(3), Op: ast.AssignAdd,
				L: ident("g", ast.TypeInt), R: intLit(3), Type: ast.TypeInt,
			}},
			&ast.Return{Tok: tok(4), X: intLit(0)},
		)},
	}
	s, _ := lowerUnit(t, reg, u)

	assert.True(t, opSequence(s, ir.OpGlobalLoad, ir.OpAdd, ir.OpGlobalStore),
		"expected load-op-store through the global")
	stores := s.Find(ir.OpGlobalStore)
	require.NotEmpty(t, stores)
	// The last store is the compound writeback; the first belongs to the
	// synthesized module initializer.
	wb := s.Instrs[stores[len(stores)-1]].Payload.(*ir.Global)
	assert.Equal(t, "g", wb.Name)
}

func TestPrefixIncrementFallsBackToPostfixOverload(t *testing.T) {
	reg := types.NewRegistry()

	def := &ast.StructDef{
		Name:      "Cursor",
		Members:   []ast.Member{{Name: "at", Type: ast.TypeInt, Offset: 0}},
		SizeBytes: 4, Align: 4,
	}
	idx := reg.Add(def)
	cursorT := ast.StructType("Cursor", idx)
	def.Funcs = []*ast.FuncDecl{{
		Tok: tok(1), Name: "operator++", StructName: "Cursor",
		Params: []*ast.ParamDecl{{Tok: tok(1), Name: "tag", Type: ast.TypeInt}},
		Return: ast.TypeVoid,
		Body:   &ast.Block{Tok: tok(1)},
	}}

	u := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{mainFunc(
		&ast.VarDecl{Tok: tok(2), Name: "c", Type: cursorT},
		&ast.ExprStmt{Tok: tok(3), X: &ast.Unary{
			Tok: tok(3), Op: ast.OpPreInc, X: ident("c", cursorT), Type: cursorT,
		}},
		&ast.Return{Tok: tok(4), X: intLit(0)},
	)}}
	s, bag := lowerUnit(t, reg, u)

	assert.Equal(t, 1, bag.WarningCount(), "the arity mismatch warns before dispatch")

	mainFrom, mainEnd := funcRegion(t, s, "main")
	callAt := -1
	for _, i := range s.Find(ir.OpCall) {
		if i >= mainFrom && i < mainEnd {
			callAt = i
		}
	}
	require.GreaterOrEqual(t, callAt, 0, "prefix ++ still dispatches when only the postfix form exists")
	call := s.Instrs[callAt].Payload.(*ir.Call)
	assert.Contains(t, call.Mangled, "operator")
	assert.Len(t, call.Args, 2, "receiver plus the dummy int the postfix form expects")
}

func TestTernaryJoinsIntoOneRegister(t *testing.T) {
	reg := types.NewRegistry()
	s := lowerMain(t, reg,
		&ast.VarDecl{Tok: tok(2), Name: "a", Type: ast.TypeInt, Init: []ast.Expr{intLit(1)}},
		&ast.Return{Tok: tok(3), X: &ast.Ternary{
			Tok: tok(3), Cond: ident("a", ast.TypeInt),
			Then: intLit(10), Else: intLit(20),
			Type: ast.TypeInt,
		}},
	)
	moves := s.Find(ir.OpAssign)
	var dsts []int
	for _, i := range moves {
		m := s.Instrs[i].Payload.(*ir.Move)
		if m.Dst.Reg() >= 0 {
			dsts = append(dsts, m.Dst.Reg())
		}
	}
	require.GreaterOrEqual(t, len(dsts), 2)
	assert.Equal(t, dsts[len(dsts)-2], dsts[len(dsts)-1], "both arms assign the same result register")
}
