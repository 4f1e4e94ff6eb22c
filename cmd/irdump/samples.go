package main

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// samples are small hand-built translation units, one per lowering
// area, standing in for a parser front-end.
var samples = map[string]func() (*types.Registry, *ast.TranslationUnit){
	"arith":   sampleArith,
	"structs": sampleStructs,
	"lambda":  sampleLambda,
	"seh":     sampleSeh,
}

func tok(line int) token.Token { return token.Token{Line: line, Column: 1, Len: 1} }

func intLit(line int, v int64) *ast.IntLit {
	return &ast.IntLit{Tok: tok(line), Value: v, Type: ast.TypeInt}
}

func ident(line int, name string, t ast.TypeSpec) *ast.Ident {
	return &ast.Ident{Tok: tok(line), Name: name, Type: t}
}

// int main() { int a = 3; unsigned b = 4; return a + b * 2; }
func sampleArith() (*types.Registry, *ast.TranslationUnit) {
	reg := types.NewRegistry()
	body := &ast.Block{Tok: tok(1), Stmts: []ast.Stmt{
		&ast.VarDecl{Tok: tok(2), Name: "a", Type: ast.TypeInt, Init: []ast.Expr{intLit(2, 3)}},
		&ast.VarDecl{Tok: tok(3), Name: "b", Type: ast.TypeUInt, Init: []ast.Expr{intLit(3, 4)}},
		&ast.Return{Tok: tok(4), X: &ast.Binary{
			Tok: tok(4), Op: ast.OpAdd,
			L: ident(4, "a", ast.TypeInt),
			R: &ast.Binary{
				Tok: tok(4), Op: ast.OpMul,
				L:    ident(4, "b", ast.TypeUInt),
				R:    intLit(4, 2),
				Type: ast.TypeUInt,
			},
			Type: ast.TypeUInt,
		}},
	}}
	unit := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{{
		Tok: tok(1), Name: "main", Return: ast.TypeInt, Body: body,
	}}}
	return reg, unit
}

// A Point struct with a constructor and destructor, built and used in
// main so construction, member stores, and scope-exit destruction all
// show up in the stream.
func sampleStructs() (*types.Registry, *ast.TranslationUnit) {
	reg := types.NewRegistry()

	point := &ast.StructDef{
		Name: "Point",
		Members: []ast.Member{
			{Name: "x", Type: ast.TypeInt, Offset: 0},
			{Name: "y", Type: ast.TypeInt, Offset: 4},
		},
		SizeBytes: 8,
		Align:     4,
	}
	idx := reg.Add(point)
	pointT := ast.StructType("Point", idx)

	ctor := &ast.FuncDecl{
		Tok: tok(1), Name: "Point", StructName: "Point", Kind: ast.FuncCtor,
		Params: []*ast.ParamDecl{
			{Tok: tok(1), Name: "px", Type: ast.TypeInt},
			{Tok: tok(1), Name: "py", Type: ast.TypeInt},
		},
		Return: ast.TypeVoid,
		MemberInit: []ast.MemberInit{
			{Tok: tok(1), Name: "x", Args: []ast.Expr{ident(1, "px", ast.TypeInt)}},
			{Tok: tok(1), Name: "y", Args: []ast.Expr{ident(1, "py", ast.TypeInt)}},
		},
		Body: &ast.Block{Tok: tok(1)},
	}
	dtor := &ast.FuncDecl{
		Tok: tok(2), Name: "~Point", StructName: "Point", Kind: ast.FuncDtor,
		Return: ast.TypeVoid, Body: &ast.Block{Tok: tok(2)},
	}
	point.Funcs = []*ast.FuncDecl{ctor, dtor}

	body := &ast.Block{Tok: tok(10), Stmts: []ast.Stmt{
		&ast.VarDecl{Tok: tok(11), Name: "p", Type: pointT, Init: []ast.Expr{
			&ast.CtorExpr{Tok: tok(11), Type: pointT, Args: []ast.Expr{intLit(11, 1), intLit(11, 2)}},
		}},
		&ast.Return{Tok: tok(12), X: &ast.MemberExpr{
			Tok: tok(12), Object: ident(12, "p", pointT), Name: "x", Type: ast.TypeInt,
		}},
	}}
	unit := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{{
		Tok: tok(10), Name: "main", Return: ast.TypeInt, Body: body,
	}}}
	return reg, unit
}

// A by-value capture invoked through the closure's call operator.
func sampleLambda() (*types.Registry, *ast.TranslationUnit) {
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
				L:    ident(3, "base", ast.TypeInt),
				R:    ident(3, "n", ast.TypeInt),
				Type: ast.TypeInt,
			}},
		}},
		NameHint: "add",
	}

	body := &ast.Block{Tok: tok(1), Stmts: []ast.Stmt{
		&ast.VarDecl{Tok: tok(2), Name: "base", Type: ast.TypeInt, Init: []ast.Expr{intLit(2, 10)}},
		&ast.ExprStmt{Tok: tok(3), X: lam},
		&ast.Return{Tok: tok(4), X: intLit(4, 0)},
	}}
	unit := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{{
		Tok: tok(1), Name: "main", Return: ast.TypeInt, Body: body,
	}}}
	return reg, unit
}

// __try/__finally around an assignment, with a __try/__except variant
// carrying a constant filter.
func sampleSeh() (*types.Registry, *ast.TranslationUnit) {
	reg := types.NewRegistry()

	body := &ast.Block{Tok: tok(1), Stmts: []ast.Stmt{
		&ast.VarDecl{Tok: tok(2), Name: "v", Type: ast.TypeInt, Init: []ast.Expr{intLit(2, 0)}},
		&ast.SehTry{
			Tok: tok(3),
			Body: &ast.Block{Tok: tok(3), Stmts: []ast.Stmt{
				&ast.ExprStmt{Tok: tok(4), X: &ast.Assign{
					Tok: tok(4), Op: ast.AssignEq,
					L: ident(4, "v", ast.TypeInt), R: intLit(4, 1), Type: ast.TypeInt,
				}},
			}},
			Finally: &ast.Block{Tok: tok(5), Stmts: []ast.Stmt{
				&ast.ExprStmt{Tok: tok(6), X: &ast.Assign{
					Tok: tok(6), Op: ast.AssignEq,
					L: ident(6, "v", ast.TypeInt), R: intLit(6, 2), Type: ast.TypeInt,
				}},
			}},
		},
		&ast.SehTry{
			Tok: tok(8),
			Body: &ast.Block{Tok: tok(8), Stmts: []ast.Stmt{
				&ast.ExprStmt{Tok: tok(9), X: &ast.Assign{
					Tok: tok(9), Op: ast.AssignEq,
					L: ident(9, "v", ast.TypeInt), R: intLit(9, 3), Type: ast.TypeInt,
				}},
			}},
			Except: &ast.SehExcept{
				Tok:    tok(10),
				Filter: intLit(10, 1),
				Body: &ast.Block{Tok: tok(10), Stmts: []ast.Stmt{
					&ast.ExprStmt{Tok: tok(11), X: &ast.Assign{
						Tok: tok(11), Op: ast.AssignEq,
						L: ident(11, "v", ast.TypeInt), R: intLit(11, 4), Type: ast.TypeInt,
					}},
				}},
			},
		},
		&ast.Return{Tok: tok(13), X: ident(13, "v", ast.TypeInt)},
	}}
	unit := &ast.TranslationUnit{Funcs: []*ast.FuncDecl{{
		Tok: tok(1), Name: "main", Return: ast.TypeInt, Body: body,
	}}}
	return reg, unit
}
