package ast

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
)

// Stmt is the closed set of statement nodes.
type Stmt interface {
	stmtNode()
	Pos() token.Token
}

type (
	Block struct {
		Tok   token.Token
		Stmts []Stmt
		// Synthetic blocks (loop bodies wrapped by upstream) do not open a
		// destruction scope of their own.
		Synthetic bool
	}

	ExprStmt struct {
		Tok token.Token
		X   Expr
	}

	// VarDecl declares one local (or global, when at file scope).
	// Init holds constructor arguments or a single initializer; ListInit
	// marks brace-initialization.
	VarDecl struct {
		Tok      token.Token
		Name     string
		Type     TypeSpec
		Init     []Expr
		ListInit bool
	}

	If struct {
		Tok        token.Token
		Cond       Expr
		Then, Else Stmt
	}

	While struct {
		Tok  token.Token
		Cond Expr
		Body Stmt
	}

	DoWhile struct {
		Tok  token.Token
		Body Stmt
		Cond Expr
	}

	For struct {
		Tok  token.Token
		Init Stmt // nil allowed
		Cond Expr // nil = forever
		Post Expr // nil allowed
		Body Stmt
	}

	Switch struct {
		Tok   token.Token
		Cond  Expr
		Cases []SwitchCase
	}

	Break struct{ Tok token.Token }

	Continue struct{ Tok token.Token }

	Return struct {
		Tok token.Token
		X   Expr // nil for void return
	}

	// TryCatch is C++ try/catch.
	TryCatch struct {
		Tok     token.Token
		Body    *Block
		Catches []CatchClause
	}

	// Throw with nil X is a rethrow.
	Throw struct {
		Tok token.Token
		X   Expr
	}

	// SehTry is the platform __try block, with exactly one of Except or
	// Finally set.
	SehTry struct {
		Tok     token.Token
		Body    *Block
		Except  *SehExcept
		Finally *Block
	}

	// Leave is __leave: jump to the end of the innermost __try region.
	Leave struct{ Tok token.Token }

	// Delete lowers to destructor call + heap free.
	Delete struct {
		Tok     token.Token
		X       Expr
		IsArray bool
	}

	// UsingDecl is `using ns::sub;`, adding one namespace to unqualified
	// lookup for the rest of the enclosing block.
	UsingDecl struct {
		Tok  token.Token
		Path []string
	}
)

// SwitchCase is one case (or default, when IsDefault) arm.
type SwitchCase struct {
	Tok       token.Token
	Values    []int64
	IsDefault bool
	Body      []Stmt
	// Fallthrough arms simply omit a trailing break.
}

// CatchClause binds the caught exception; a nil Decl is catch(...).
type CatchClause struct {
	Tok  token.Token
	Decl *VarDecl
	Body *Block
}

// SehExcept holds the filter expression and handler body of __except.
type SehExcept struct {
	Tok    token.Token
	Filter Expr
	Body   *Block
}

func (*Block) stmtNode()     {}
func (*ExprStmt) stmtNode()  {}
func (*VarDecl) stmtNode()   {}
func (*If) stmtNode()        {}
func (*While) stmtNode()     {}
func (*DoWhile) stmtNode()   {}
func (*For) stmtNode()       {}
func (*Switch) stmtNode()    {}
func (*Break) stmtNode()     {}
func (*Continue) stmtNode()  {}
func (*Return) stmtNode()    {}
func (*TryCatch) stmtNode()  {}
func (*Throw) stmtNode()     {}
func (*SehTry) stmtNode()    {}
func (*Leave) stmtNode()     {}
func (*Delete) stmtNode()    {}
func (*UsingDecl) stmtNode() {}

func (s *Block) Pos() token.Token     { return s.Tok }
func (s *ExprStmt) Pos() token.Token  { return s.Tok }
func (s *VarDecl) Pos() token.Token   { return s.Tok }
func (s *If) Pos() token.Token        { return s.Tok }
func (s *While) Pos() token.Token     { return s.Tok }
func (s *DoWhile) Pos() token.Token   { return s.Tok }
func (s *For) Pos() token.Token       { return s.Tok }
func (s *Switch) Pos() token.Token    { return s.Tok }
func (s *Break) Pos() token.Token     { return s.Tok }
func (s *Continue) Pos() token.Token  { return s.Tok }
func (s *Return) Pos() token.Token    { return s.Tok }
func (s *TryCatch) Pos() token.Token  { return s.Tok }
func (s *Throw) Pos() token.Token     { return s.Tok }
func (s *SehTry) Pos() token.Token    { return s.Tok }
func (s *Leave) Pos() token.Token     { return s.Tok }
func (s *Delete) Pos() token.Token    { return s.Tok }
func (s *UsingDecl) Pos() token.Token { return s.Tok }
