package lower

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

func tparam(name string) ast.TypeSpec {
	return ast.TypeSpec{Kind: ast.TYPE_TEMPLATEPARAM, Name: name}
}

func identityTemplate() *ast.TemplateFunc {
	return &ast.TemplateFunc{
		TemplateParams: []string{"T"},
		Decl: &ast.FuncDecl{
			Tok: tok(1), Name: "identity",
			Params: []*ast.ParamDecl{{Tok: tok(1), Name: "x", Type: tparam("T")}},
			Return: tparam("T"),
			Body: &ast.Block{Tok: tok(1), Stmts: []ast.Stmt{
				&ast.Return{Tok: tok(1), X: ident("x", tparam("T"))},
			}},
		},
	}
}

func countFuncs(s *ir.Stream, name string) int {
	n := 0
	for _, i := range s.Find(ir.OpFuncDecl) {
		if s.Instrs[i].Payload.(*ir.FuncDecl).Name == name {
			n++
		}
	}
	return n
}

func TestTemplateInstantiatesOncePerSignature(t *testing.T) {
	reg := types.NewRegistry()
	call := func(line int, arg ast.Expr, ret ast.TypeSpec) ast.Stmt {
		return &ast.ExprStmt{Tok: tok(line), X: &ast.Call{
			Tok: tok(line), Fn: ident("identity", ret), Args: []ast.Expr{arg}, Type: ret,
		}}
	}
	u := &ast.TranslationUnit{
		Templates: []*ast.TemplateFunc{identityTemplate()},
		Funcs: []*ast.FuncDecl{mainFunc(
			call(10, intLit(1), ast.TypeInt),
			call(11, intLit(2), ast.TypeInt),
			&ast.Return{Tok: tok(12), X: intLit(0)},
		)},
	}
	s, _ := lowerUnit(t, reg, u)

	assert.Equal(t, 1, countFuncs(s, "identity"),
		"two calls at the same signature share one instantiation")
}

func TestTemplateInstantiatesPerDeducedType(t *testing.T) {
	reg := types.NewRegistry()
	u := &ast.TranslationUnit{
		Templates: []*ast.TemplateFunc{identityTemplate()},
		Funcs: []*ast.FuncDecl{mainFunc(
			&ast.ExprStmt{Tok: tok(10), X: &ast.Call{
				Tok: tok(10), Fn: ident("identity", ast.TypeInt),
				Args: []ast.Expr{intLit(1)}, Type: ast.TypeInt,
			}},
			&ast.ExprStmt{Tok: tok(11), X: &ast.Call{
				Tok: tok(11), Fn: ident("identity", ast.TypeDouble),
				Args: []ast.Expr{&ast.FloatLit{Tok: tok(11), Value: 1.5, Type: ast.TypeDouble}},
				Type: ast.TypeDouble,
			}},
			&ast.Return{Tok: tok(12), X: intLit(0)},
		)},
	}
	s, _ := lowerUnit(t, reg, u)

	require.Equal(t, 2, countFuncs(s, "identity"))

	var mangles []string
	for _, i := range s.Find(ir.OpFuncDecl) {
		fd := s.Instrs[i].Payload.(*ir.FuncDecl)
		if fd.Name == "identity" {
			mangles = append(mangles, fd.Mangled)
		}
	}
	assert.NotEqual(t, mangles[0], mangles[1], "each deduction gets its own symbol")
}

func TestTemplatePointerDeduction(t *testing.T) {
	reg := types.NewRegistry()
	deref := &ast.TemplateFunc{
		TemplateParams: []string{"T"},
		Decl: &ast.FuncDecl{
			Tok: tok(1), Name: "load",
			Params: []*ast.ParamDecl{{
				Tok: tok(1), Name: "p",
				Type: ast.TypeSpec{Kind: ast.TYPE_TEMPLATEPARAM, Name: "T", PointerDepth: 1},
			}},
			Return: tparam("T"),
			Body: &ast.Block{Tok: tok(1), Stmts: []ast.Stmt{
				&ast.Return{Tok: tok(1), X: &ast.Unary{
					Tok: tok(1), Op: ast.OpDeref,
					X:    ident("p", ast.TypeSpec{Kind: ast.TYPE_TEMPLATEPARAM, Name: "T", PointerDepth: 1}),
					Type: tparam("T"),
				}},
			}},
		},
	}
	ptrInt := ast.PointerTo(ast.TypeInt)
	u := &ast.TranslationUnit{
		Templates: []*ast.TemplateFunc{deref},
		Funcs: []*ast.FuncDecl{mainFunc(
			&ast.VarDecl{Tok: tok(10), Name: "q", Type: ptrInt},
			&ast.ExprStmt{Tok: tok(11), X: &ast.Call{
				Tok: tok(11), Fn: ident("load", ast.TypeInt),
				Args: []ast.Expr{ident("q", ptrInt)}, Type: ast.TypeInt,
			}},
			&ast.Return{Tok: tok(12), X: intLit(0)},
		)},
	}
	s, _ := lowerUnit(t, reg, u)

	// T deduces to int by peeling the parameter's pointer level, so the
	// instantiated body loads a 32-bit value.
	from, to := funcRegion(t, s, "load")
	found := false
	for _, i := range s.Find(ir.OpDeref) {
		if i >= from && i < to {
			un := s.Instrs[i].Payload.(*ir.Un)
			assert.Equal(t, 32, un.Dst.SizeBits)
			found = true
		}
	}
	assert.True(t, found)
}

func TestConflictingDeductionRejected(t *testing.T) {
	reg := types.NewRegistry()
	pair := &ast.TemplateFunc{
		TemplateParams: []string{"T"},
		Decl: &ast.FuncDecl{
			Tok: tok(1), Name: "same",
			Params: []*ast.ParamDecl{
				{Tok: tok(1), Name: "a", Type: tparam("T")},
				{Tok: tok(1), Name: "b", Type: tparam("T")},
			},
			Return: ast.TypeVoid,
			Body:   &ast.Block{Tok: tok(1)},
		},
	}
	u := &ast.TranslationUnit{
		Templates: []*ast.TemplateFunc{pair},
		Funcs: []*ast.FuncDecl{mainFunc(
			&ast.ExprStmt{Tok: tok(10), X: &ast.Call{
				Tok: tok(10), Fn: ident("same", ast.TypeVoid),
				Args: []ast.Expr{intLit(1), &ast.FloatLit{Tok: tok(10), Value: 2, Type: ast.TypeDouble}},
				Type: ast.TypeVoid,
			}},
			&ast.Return{Tok: tok(11), X: intLit(0)},
		)},
	}
	bag := newTestBag()
	l := New(Options{}, reg, testMangler(), bag)
	err := l.LowerUnit(u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting deductions")
}

func TestInstantiationLeavesTemplatePristine(t *testing.T) {
	reg := types.NewRegistry()
	tf := identityTemplate()
	want := identityTemplate()

	u := &ast.TranslationUnit{
		Templates: []*ast.TemplateFunc{tf},
		Funcs: []*ast.FuncDecl{mainFunc(
			&ast.ExprStmt{Tok: tok(10), X: &ast.Call{
				Tok: tok(10), Fn: ident("identity", ast.TypeInt),
				Args: []ast.Expr{intLit(1)}, Type: ast.TypeInt,
			}},
			&ast.Return{Tok: tok(11), X: intLit(0)},
		)},
	}
	_, _ = lowerUnit(t, reg, u)

	// Substitution copies every node it rewrites; the declaration must
	// survive untouched for the next deduction.
	if diff := cmp.Diff(want.Decl, tf.Decl); diff != "" {
		t.Errorf("template declaration mutated by instantiation (-want +got):\n%s", diff)
	}
}

func TestWorkListDeduplicates(t *testing.T) {
	w := NewWorkList()
	fd := &ast.FuncDecl{Name: "f"}
	w.Enqueue(1, workItem{fd: fd})
	w.Enqueue(1, workItem{fd: fd})
	w.Enqueue(2, workItem{fd: fd})

	_, ok := w.pop()
	require.True(t, ok)
	_, ok = w.pop()
	require.True(t, ok)
	_, ok = w.pop()
	assert.False(t, ok, "a key enqueues at most once")
}
