package ast

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
)

// Expr is the closed set of expression nodes. The marker method seals the
// interface so the lowering dispatch can type-switch exhaustively; a node
// kind added without a case is caught by the default arm as an internal
// error instead of silently falling through.
type Expr interface {
	exprNode()
	Pos() token.Token
	ResultType() TypeSpec
}

// BinOp enumerates the built-in binary operators as they appear in source.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpLogAnd
	OpLogOr
	OpSpaceship
)

func (op BinOp) IsComparison() bool { return op >= OpEq && op <= OpGe }
func (op BinOp) IsLogical() bool    { return op == OpLogAnd || op == OpLogOr }

var binOpNames = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpShl: "<<", OpShr: ">>",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpGt: ">", OpLe: "<=", OpGe: ">=",
	OpLogAnd: "&&", OpLogOr: "||", OpSpaceship: "<=>",
}

func (op BinOp) String() string { return binOpNames[op] }

// AssignOp enumerates assignment spellings, plain and compound.
type AssignOp int

const (
	AssignEq AssignOp = iota
	AssignAdd
	AssignSub
	AssignMul
	AssignDiv
	AssignMod
	AssignAnd
	AssignOr
	AssignXor
	AssignShl
	AssignShr
)

var assignOpNames = [...]string{
	AssignEq: "=", AssignAdd: "+=", AssignSub: "-=", AssignMul: "*=",
	AssignDiv: "/=", AssignMod: "%=", AssignAnd: "&=", AssignOr: "|=",
	AssignXor: "^=", AssignShl: "<<=", AssignShr: ">>=",
}

func (op AssignOp) String() string { return assignOpNames[op] }

// Binary returns the arithmetic op a compound assignment applies, e.g.
// AssignAdd -> OpAdd. AssignEq has no underlying op.
func (op AssignOp) Binary() BinOp {
	switch op {
	case AssignAdd:
		return OpAdd
	case AssignSub:
		return OpSub
	case AssignMul:
		return OpMul
	case AssignDiv:
		return OpDiv
	case AssignMod:
		return OpMod
	case AssignAnd:
		return OpBitAnd
	case AssignOr:
		return OpBitOr
	case AssignXor:
		return OpBitXor
	case AssignShl:
		return OpShl
	case AssignShr:
		return OpShr
	}
	return OpAdd
}

// UnOp enumerates prefix unary operators.
type UnOp int

const (
	OpNeg UnOp = iota
	OpPlusSign
	OpLogNot
	OpBitNot
	OpDeref
	OpAddrOf
	OpPreInc
	OpPreDec
)

// CastKind distinguishes the C++ cast spellings that reach lowering.
type CastKind int

const (
	CastStatic CastKind = iota
	CastConst
	CastReinterpret
	CastFunctional
)

type (
	IntLit struct {
		Tok   token.Token
		Value int64
		Type  TypeSpec
	}

	FloatLit struct {
		Tok   token.Token
		Value float64
		Type  TypeSpec
	}

	BoolLit struct {
		Tok   token.Token
		Value bool
	}

	StringLit struct {
		Tok   token.Token
		Value string
		// Slot is the interned string-table name assigned upstream.
		Slot string
	}

	NullptrLit struct {
		Tok  token.Token
		Type TypeSpec
	}

	Ident struct {
		Tok  token.Token
		Name string
		Type TypeSpec
	}

	This struct {
		Tok  token.Token
		Type TypeSpec
	}

	// MemberExpr is obj.name or ptr->name.
	MemberExpr struct {
		Tok    token.Token
		Object Expr
		Name   string
		Arrow  bool
		Type   TypeSpec
	}

	Subscript struct {
		Tok   token.Token
		Base  Expr
		Index Expr
		Type  TypeSpec
	}

	// Call covers free-function calls and explicit member calls; the callee
	// is an Ident or a Member. Overload resolution against the registry
	// happens during lowering.
	Call struct {
		Tok  token.Token
		Fn   Expr
		Args []Expr
		Type TypeSpec
	}

	Binary struct {
		Tok  token.Token
		Op   BinOp
		L, R Expr
		Type TypeSpec
	}

	Assign struct {
		Tok  token.Token
		Op   AssignOp
		L, R Expr
		Type TypeSpec
	}

	Unary struct {
		Tok  token.Token
		Op   UnOp
		X    Expr
		Type TypeSpec
	}

	// Postfix is x++ / x--.
	Postfix struct {
		Tok  token.Token
		Inc  bool
		X    Expr
		Type TypeSpec
	}

	Ternary struct {
		Tok        token.Token
		Cond       Expr
		Then, Else Expr
		Type       TypeSpec
	}

	// Comma evaluates L for effect and yields R.
	Comma struct {
		Tok  token.Token
		L, R Expr
	}

	Cast struct {
		Tok  token.Token
		Kind CastKind
		X    Expr
		To   TypeSpec
	}

	// CtorExpr is a prvalue constructor call: T(args) or T{args}.
	CtorExpr struct {
		Tok  token.Token
		Type TypeSpec
		Args []Expr
		// List marks brace-init, which allows member-wise init of
		// aggregates without a user constructor.
		List bool
	}

	// New is operator new, optionally placement.
	New struct {
		Tok       token.Token
		Type      TypeSpec // the allocated object type; result is pointer to it
		Args      []Expr
		Placement Expr
	}

	SizeofExpr struct {
		Tok  token.Token
		Arg  Expr     // nil when Of is a type
		Of   TypeSpec // valid when Arg is nil
		Type TypeSpec
	}

	Lambda struct {
		Tok      token.Token
		Captures []Capture
		Params   []*ParamDecl
		// Return is nil when the return type is deduced from the body.
		Return *TypeSpec
		Body   *Block
		// NameHint is the enclosing binding's name when known; anonymous
		// lambdas get a counter-based closure name.
		NameHint string
		Type     TypeSpec
	}
)

// CaptureKind distinguishes the lambda capture forms.
type CaptureKind int

const (
	CaptureByValue CaptureKind = iota
	CaptureByRef
	CaptureThis
	CaptureStarThis
	CaptureInit
)

type Capture struct {
	Kind CaptureKind
	Name string
	Init Expr // init-capture only
	Type TypeSpec
}

func (*IntLit) exprNode()     {}
func (*FloatLit) exprNode()   {}
func (*BoolLit) exprNode()    {}
func (*StringLit) exprNode()  {}
func (*NullptrLit) exprNode() {}
func (*Ident) exprNode()      {}
func (*This) exprNode()       {}
func (*MemberExpr) exprNode() {}
func (*Subscript) exprNode()  {}
func (*Call) exprNode()       {}
func (*Binary) exprNode()     {}
func (*Assign) exprNode()     {}
func (*Unary) exprNode()      {}
func (*Postfix) exprNode()    {}
func (*Ternary) exprNode()    {}
func (*Comma) exprNode()      {}
func (*Cast) exprNode()       {}
func (*CtorExpr) exprNode()   {}
func (*New) exprNode()        {}
func (*SizeofExpr) exprNode() {}
func (*Lambda) exprNode()     {}

func (e *IntLit) Pos() token.Token     { return e.Tok }
func (e *FloatLit) Pos() token.Token   { return e.Tok }
func (e *BoolLit) Pos() token.Token    { return e.Tok }
func (e *StringLit) Pos() token.Token  { return e.Tok }
func (e *NullptrLit) Pos() token.Token { return e.Tok }
func (e *Ident) Pos() token.Token      { return e.Tok }
func (e *This) Pos() token.Token       { return e.Tok }
func (e *MemberExpr) Pos() token.Token { return e.Tok }
func (e *Subscript) Pos() token.Token  { return e.Tok }
func (e *Call) Pos() token.Token       { return e.Tok }
func (e *Binary) Pos() token.Token     { return e.Tok }
func (e *Assign) Pos() token.Token     { return e.Tok }
func (e *Unary) Pos() token.Token      { return e.Tok }
func (e *Postfix) Pos() token.Token    { return e.Tok }
func (e *Ternary) Pos() token.Token    { return e.Tok }
func (e *Comma) Pos() token.Token      { return e.Tok }
func (e *Cast) Pos() token.Token       { return e.Tok }
func (e *CtorExpr) Pos() token.Token   { return e.Tok }
func (e *New) Pos() token.Token        { return e.Tok }
func (e *SizeofExpr) Pos() token.Token { return e.Tok }
func (e *Lambda) Pos() token.Token     { return e.Tok }

func (e *IntLit) ResultType() TypeSpec     { return e.Type }
func (e *FloatLit) ResultType() TypeSpec   { return e.Type }
func (e *BoolLit) ResultType() TypeSpec    { return TypeBool }
func (e *StringLit) ResultType() TypeSpec  { return PointerTo(TypeChar) }
func (e *NullptrLit) ResultType() TypeSpec { return e.Type }
func (e *Ident) ResultType() TypeSpec      { return e.Type }
func (e *This) ResultType() TypeSpec       { return e.Type }
func (e *MemberExpr) ResultType() TypeSpec { return e.Type }
func (e *Subscript) ResultType() TypeSpec  { return e.Type }
func (e *Call) ResultType() TypeSpec       { return e.Type }
func (e *Binary) ResultType() TypeSpec     { return e.Type }
func (e *Assign) ResultType() TypeSpec     { return e.Type }
func (e *Unary) ResultType() TypeSpec      { return e.Type }
func (e *Postfix) ResultType() TypeSpec    { return e.Type }
func (e *Ternary) ResultType() TypeSpec    { return e.Type }
func (e *Comma) ResultType() TypeSpec      { return e.R.ResultType() }
func (e *Cast) ResultType() TypeSpec       { return e.To }
func (e *CtorExpr) ResultType() TypeSpec   { return e.Type }
func (e *New) ResultType() TypeSpec        { return PointerTo(e.Type) }
func (e *SizeofExpr) ResultType() TypeSpec { return TypeULong }
func (e *Lambda) ResultType() TypeSpec     { return e.Type }
