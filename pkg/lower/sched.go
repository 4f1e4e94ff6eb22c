package lower

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"tlog.app/go/errors"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
)

// workItem is one deferred body: a member function, a template
// instantiation, or a lambda call operator with its closure context.
type workItem struct {
	fd      *ast.FuncDecl
	closure *closureInfo
}

// WorkList is the deferred-generation queue. Enqueueing is keyed by the
// hash of the mangled name, so a body requested from ten call sites is
// scheduled once; draining runs to a fixed point because lowering a
// body may schedule more work.
type WorkList struct {
	queue []workItem
	seen  map[uint64]bool
}

func NewWorkList() *WorkList {
	return &WorkList{seen: make(map[uint64]bool)}
}

// Enqueue adds an item under its dedup key; it reports whether the item
// was new.
func (w *WorkList) Enqueue(key uint64, it workItem) bool {
	if w.seen[key] {
		return false
	}
	w.seen[key] = true
	w.queue = append(w.queue, it)
	return true
}

func (w *WorkList) pop() (workItem, bool) {
	if len(w.queue) == 0 {
		return workItem{}, false
	}
	it := w.queue[0]
	w.queue = w.queue[1:]
	return it, true
}

// scheduleBody defers generation of fd's body. Bodiless declarations
// are externs and never scheduled; already-generated symbols are
// dropped at the dedup key. Members of a closure class carry their
// capture context along.
func (l *Lowerer) scheduleBody(fd *ast.FuncDecl) {
	l.scheduleClosureBody(fd, l.closures[fd.StructName])
}

func (l *Lowerer) scheduleClosureBody(fd *ast.FuncDecl, cl *closureInfo) {
	if fd.Body == nil && !fd.IsDefaulted {
		return
	}
	mangled, err := l.mangleFunc(fd)
	if err != nil {
		return
	}
	if l.done[mangled] {
		return
	}
	l.work.Enqueue(xxhash.Sum64String(mangled), workItem{fd: fd, closure: cl})
}

// drain generates every queued body until the queue is empty. Lowering
// a body can enqueue more work (a constructor pulls in its base
// constructors, a template body calls another template), so this loops
// to the fixed point rather than snapshotting the queue.
func (l *Lowerer) drain() error {
	for {
		it, ok := l.work.pop()
		if !ok {
			return nil
		}
		if err := l.lowerQueued(it); err != nil {
			return errors.Wrap(err, "%v", it.fd.Name)
		}
	}
}

func (l *Lowerer) lowerQueued(it workItem) error {
	if it.closure == nil {
		return l.LowerFunc(it.fd)
	}
	return l.lowerClosureFunc(it.fd, it.closure)
}

// instantiateTemplateCall deduces the template arguments from the call
// operands, builds the concrete declaration by substitution, and
// schedules its body. The concrete function is returned for immediate
// call emission; generation happens later on the work list.
func (l *Lowerer) instantiateTemplateCall(tok token.Token, tf *ast.TemplateFunc, args []ast.Expr) (*ast.FuncDecl, error) {
	if len(args) != len(tf.Decl.Params) {
		return nil, l.bag.Semantic(tok, "template %q expects %d arguments", tf.Decl.Name, len(tf.Decl.Params))
	}

	binds := make(map[string]ast.TypeSpec)
	for i, p := range tf.Decl.Params {
		pt := p.Type
		if pt.Kind != ast.TYPE_TEMPLATEPARAM {
			continue
		}
		at := stripRef(args[i].ResultType())
		// Deduction peels the parameter's own pointer levels off the
		// argument type.
		for d := 0; d < pt.PointerDepth; d++ {
			if !at.IsPointer() {
				return nil, l.bag.Semantic(tok, "cannot deduce %q from a non-pointer argument", pt.Name)
			}
			at = at.Elem()
		}
		at.IsConst = false
		if prev, ok := binds[pt.Name]; ok {
			if prev.Kind != at.Kind || prev.TypeIndex != at.TypeIndex || prev.PointerDepth != at.PointerDepth {
				return nil, l.bag.Semantic(tok, "conflicting deductions for %q", pt.Name)
			}
			continue
		}
		binds[pt.Name] = at
	}
	for _, name := range tf.TemplateParams {
		if _, ok := binds[name]; !ok {
			return nil, l.bag.Semantic(tok, "template parameter %q not deducible from the call", name)
		}
	}

	sub := &subst{types: binds}
	inst := sub.rewriteFunc(tf.Decl)

	l.scheduleBody(inst)
	l.log.Printw("template instantiated", "name", tf.Decl.Name, "args", bindSummary(binds))
	return inst, nil
}

func bindSummary(binds map[string]ast.TypeSpec) string {
	parts := make([]string, 0, len(binds))
	for k, v := range binds {
		parts = append(parts, k+"="+typeSummary(v))
	}
	return strings.Join(parts, ",")
}

func typeSummary(t ast.TypeSpec) string {
	if t.Name != "" {
		return t.Name
	}
	names := map[ast.TypeKind]string{
		ast.TYPE_VOID: "void", ast.TYPE_BOOL: "bool",
		ast.TYPE_CHAR: "char", ast.TYPE_UCHAR: "uchar",
		ast.TYPE_SHORT: "short", ast.TYPE_USHORT: "ushort",
		ast.TYPE_INT: "int", ast.TYPE_UINT: "uint",
		ast.TYPE_LONG: "long", ast.TYPE_ULONG: "ulong",
		ast.TYPE_FLOAT: "float", ast.TYPE_DOUBLE: "double",
	}
	s := names[t.Kind]
	for i := 0; i < t.PointerDepth; i++ {
		s += "*"
	}
	return s
}

// subst rewrites a declaration tree with template parameters replaced
// by concrete types (keyed by parameter name) and, for generic lambdas,
// auto parameters replaced per call-site signature (keyed by the formal
// name). The rewrite copies every node it touches; the template
// declaration itself stays pristine for the next instantiation.
type subst struct {
	types map[string]ast.TypeSpec // template parameter name -> type
	autos map[string]ast.TypeSpec // auto formal name -> deduced type
}

func (s *subst) rewriteType(t ast.TypeSpec) ast.TypeSpec {
	if t.Kind != ast.TYPE_TEMPLATEPARAM {
		return t
	}
	b, ok := s.types[t.Name]
	if !ok {
		return t
	}
	b.PointerDepth += t.PointerDepth
	b.IsRef = b.IsRef || t.IsRef
	b.IsRValRef = b.IsRValRef || t.IsRValRef
	b.IsConst = b.IsConst || t.IsConst
	b.IsArray = b.IsArray || t.IsArray
	if t.IsArray {
		b.ArrayLen = t.ArrayLen
	}
	return b
}

func (s *subst) rewriteFunc(f *ast.FuncDecl) *ast.FuncDecl {
	out := *f
	out.Return = s.rewriteType(f.Return)
	out.Params = make([]*ast.ParamDecl, len(f.Params))
	for i, p := range f.Params {
		np := *p
		np.Type = s.rewriteType(p.Type)
		if np.Type.Kind == ast.TYPE_AUTO {
			if b, ok := s.autos[p.Name]; ok {
				np.Type = b
			}
		}
		out.Params[i] = &np
	}
	out.MemberInit = make([]ast.MemberInit, len(f.MemberInit))
	for i, mi := range f.MemberInit {
		nmi := mi
		nmi.Args = s.rewriteExprs(mi.Args)
		out.MemberInit[i] = nmi
	}
	if f.Body != nil {
		out.Body = s.rewriteBlock(f.Body)
	}
	return &out
}

func (s *subst) rewriteBlock(b *ast.Block) *ast.Block {
	out := *b
	out.Stmts = make([]ast.Stmt, len(b.Stmts))
	for i, st := range b.Stmts {
		out.Stmts[i] = s.rewriteStmt(st)
	}
	return &out
}

func (s *subst) rewriteStmt(st ast.Stmt) ast.Stmt {
	switch st := st.(type) {
	case *ast.Block:
		return s.rewriteBlock(st)
	case *ast.ExprStmt:
		out := *st
		out.X = s.rewriteExpr(st.X)
		return &out
	case *ast.VarDecl:
		out := *st
		out.Type = s.rewriteType(st.Type)
		out.Init = s.rewriteExprs(st.Init)
		return &out
	case *ast.If:
		out := *st
		out.Cond = s.rewriteExpr(st.Cond)
		out.Then = s.rewriteStmt(st.Then)
		if st.Else != nil {
			out.Else = s.rewriteStmt(st.Else)
		}
		return &out
	case *ast.While:
		out := *st
		out.Cond = s.rewriteExpr(st.Cond)
		out.Body = s.rewriteStmt(st.Body)
		return &out
	case *ast.DoWhile:
		out := *st
		out.Body = s.rewriteStmt(st.Body)
		out.Cond = s.rewriteExpr(st.Cond)
		return &out
	case *ast.For:
		out := *st
		if st.Init != nil {
			out.Init = s.rewriteStmt(st.Init)
		}
		if st.Cond != nil {
			out.Cond = s.rewriteExpr(st.Cond)
		}
		if st.Post != nil {
			out.Post = s.rewriteExpr(st.Post)
		}
		out.Body = s.rewriteStmt(st.Body)
		return &out
	case *ast.Switch:
		out := *st
		out.Cond = s.rewriteExpr(st.Cond)
		out.Cases = make([]ast.SwitchCase, len(st.Cases))
		for i, c := range st.Cases {
			nc := c
			nc.Body = make([]ast.Stmt, len(c.Body))
			for j, cs := range c.Body {
				nc.Body[j] = s.rewriteStmt(cs)
			}
			out.Cases[i] = nc
		}
		return &out
	case *ast.Return:
		out := *st
		if st.X != nil {
			out.X = s.rewriteExpr(st.X)
		}
		return &out
	case *ast.TryCatch:
		out := *st
		out.Body = s.rewriteBlock(st.Body)
		out.Catches = make([]ast.CatchClause, len(st.Catches))
		for i, c := range st.Catches {
			nc := c
			if c.Decl != nil {
				nc.Decl = s.rewriteStmt(c.Decl).(*ast.VarDecl)
			}
			nc.Body = s.rewriteBlock(c.Body)
			out.Catches[i] = nc
		}
		return &out
	case *ast.Throw:
		out := *st
		if st.X != nil {
			out.X = s.rewriteExpr(st.X)
		}
		return &out
	case *ast.SehTry:
		out := *st
		out.Body = s.rewriteBlock(st.Body)
		if st.Except != nil {
			ne := *st.Except
			ne.Filter = s.rewriteExpr(st.Except.Filter)
			ne.Body = s.rewriteBlock(st.Except.Body)
			out.Except = &ne
		}
		if st.Finally != nil {
			out.Finally = s.rewriteBlock(st.Finally)
		}
		return &out
	case *ast.Delete:
		out := *st
		out.X = s.rewriteExpr(st.X)
		return &out
	}
	// Break, Continue, Leave carry no types or subexpressions.
	return st
}

func (s *subst) rewriteExprs(es []ast.Expr) []ast.Expr {
	if es == nil {
		return nil
	}
	out := make([]ast.Expr, len(es))
	for i, e := range es {
		out[i] = s.rewriteExpr(e)
	}
	return out
}

func (s *subst) rewriteExpr(e ast.Expr) ast.Expr {
	switch e := e.(type) {
	case *ast.Ident:
		out := *e
		out.Type = s.rewriteType(e.Type)
		if out.Type.Kind == ast.TYPE_AUTO {
			if b, ok := s.autos[e.Name]; ok {
				out.Type = b
			}
		}
		return &out
	case *ast.MemberExpr:
		out := *e
		out.Object = s.rewriteExpr(e.Object)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Subscript:
		out := *e
		out.Base = s.rewriteExpr(e.Base)
		out.Index = s.rewriteExpr(e.Index)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Call:
		out := *e
		out.Fn = s.rewriteExpr(e.Fn)
		out.Args = s.rewriteExprs(e.Args)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Binary:
		out := *e
		out.L = s.rewriteExpr(e.L)
		out.R = s.rewriteExpr(e.R)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Assign:
		out := *e
		out.L = s.rewriteExpr(e.L)
		out.R = s.rewriteExpr(e.R)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Unary:
		out := *e
		out.X = s.rewriteExpr(e.X)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Postfix:
		out := *e
		out.X = s.rewriteExpr(e.X)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Ternary:
		out := *e
		out.Cond = s.rewriteExpr(e.Cond)
		out.Then = s.rewriteExpr(e.Then)
		out.Else = s.rewriteExpr(e.Else)
		out.Type = s.rewriteType(e.Type)
		return &out
	case *ast.Comma:
		out := *e
		out.L = s.rewriteExpr(e.L)
		out.R = s.rewriteExpr(e.R)
		return &out
	case *ast.Cast:
		out := *e
		out.X = s.rewriteExpr(e.X)
		out.To = s.rewriteType(e.To)
		return &out
	case *ast.CtorExpr:
		out := *e
		out.Type = s.rewriteType(e.Type)
		out.Args = s.rewriteExprs(e.Args)
		return &out
	case *ast.New:
		out := *e
		out.Type = s.rewriteType(e.Type)
		out.Args = s.rewriteExprs(e.Args)
		if e.Placement != nil {
			out.Placement = s.rewriteExpr(e.Placement)
		}
		return &out
	case *ast.SizeofExpr:
		out := *e
		if e.Arg != nil {
			out.Arg = s.rewriteExpr(e.Arg)
		}
		out.Of = s.rewriteType(e.Of)
		return &out
	case *ast.Lambda:
		out := *e
		out.Body = s.rewriteBlock(e.Body)
		out.Captures = make([]ast.Capture, len(e.Captures))
		copy(out.Captures, e.Captures)
		for i, c := range out.Captures {
			if c.Init != nil {
				out.Captures[i].Init = s.rewriteExpr(c.Init)
			}
		}
		return &out
	}
	// Literals carry no substitutable types.
	return e
}

// deducedReturnType scans a rewritten body for its first return with a
// value; a body that never returns a value is void.
func deducedReturnType(b *ast.Block) ast.TypeSpec {
	for _, st := range b.Stmts {
		switch st := st.(type) {
		case *ast.Return:
			if st.X != nil {
				return stripRef(st.X.ResultType())
			}
		case *ast.Block:
			if t := deducedReturnType(st); t.Kind != ast.TYPE_VOID {
				return t
			}
		case *ast.If:
			for _, sub := range []ast.Stmt{st.Then, st.Else} {
				if blk, ok := sub.(*ast.Block); ok {
					if t := deducedReturnType(blk); t.Kind != ast.TYPE_VOID {
						return t
					}
				}
				if r, ok := sub.(*ast.Return); ok && r != nil && r.X != nil {
					return stripRef(r.X.ResultType())
				}
			}
		}
	}
	return ast.TypeVoid
}
