// Package lower walks a fully-parsed, type-annotated tree and emits the
// linear typed IR. It is the middle-end: expression lowering with
// operator-overload resolution and numeric promotion, value-category
// tracking, constructor/destructor synthesis, lambda closure synthesis,
// deferred template instantiation, and exception/SEH control flow.
package lower

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/diag"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/mangle"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/scope"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// Options is the per-unit configuration: target word size, the ABI
// threshold for hidden-pointer returns, and the entry-point name.
type Options struct {
	WordSize int // bytes
	// HiddenRetBytes is the largest struct returned in registers; bigger
	// returns go through a caller-supplied pointer.
	HiddenRetBytes int64
	// Entry is the designated program-entry function; it gets an implicit
	// `return 0` instead of a void return.
	Entry string
}

func (o Options) withDefaults() Options {
	if o.WordSize == 0 {
		o.WordSize = 8
	}
	if o.HiddenRetBytes == 0 {
		o.HiddenRetBytes = 8
	}
	if o.Entry == "" {
		o.Entry = "main"
	}
	return o
}

// valueContext selects what an expression lowering should produce.
type valueContext int

const (
	ctxLoad valueContext = iota // produce a value
	ctxAddr                     // produce a writeback-capable operand, no deref
)

// Lowerer drives one translation unit. All per-function state lives in fn
// and is reset at every function boundary; the work list and the
// generated-name set live for the whole unit.
type Lowerer struct {
	opts    Options
	reg     *types.Registry
	mangler mangle.Mangler
	bag     *diag.Bag
	log     *tlog.Logger

	out  *ir.Stream
	work *WorkList

	// funcs indexes the unit's free functions by (possibly namespace
	// qualified) name for direct-call resolution.
	funcs   map[string][]*ast.FuncDecl
	tmpls   map[string]*ast.TemplateFunc
	globals []*ast.VarDecl

	// done records the mangled names already emitted, so repeated
	// requests for the same instantiation or member body are generated
	// exactly once.
	done map[string]bool

	// closures maps a synthesized closure class name to its capture
	// context, so the call operator's body can resolve captured names
	// when its turn comes on the work list.
	closures map[string]*closureInfo

	labelCount int
	lambdaSeq  int

	fn *fnState
}

// fnState is everything scoped to the function body being lowered.
type fnState struct {
	decl    *ast.FuncDecl
	syms    *scope.Table
	lvals   *LValueTable
	temps   int
	thisReg int // 0 when there is no receiver

	retSpec   ast.TypeSpec
	retHidden bool

	// blocks is the destruction stack: one variable list per open block,
	// popped in reverse declaration order on exit.
	blocks []blockScope

	// closure is non-nil while lowering a lambda call operator; captured
	// names resolve through it before the ordinary chain.
	closure *closureInfo

	// sehCodeSlot names the parent-frame slot holding the in-flight
	// exception code while a __except filter or handler body is lowered.
	sehCodeSlot string
}

type blockScope struct {
	vars []scopedVar
}

type scopedVar struct {
	name       string
	structName string
}

func New(opts Options, reg *types.Registry, m mangle.Mangler, bag *diag.Bag) *Lowerer {
	opts = opts.withDefaults()
	l := &Lowerer{
		opts:     opts,
		reg:      reg,
		mangler:  m,
		bag:      bag,
		log:      bag.Log,
		out:      ir.NewStream(),
		work:     NewWorkList(),
		funcs:    make(map[string][]*ast.FuncDecl),
		tmpls:    make(map[string]*ast.TemplateFunc),
		done:     make(map[string]bool),
		closures: make(map[string]*closureInfo),
	}
	return l
}

// Stream exposes the instruction stream, primarily for tests and the
// dump tool.
func (l *Lowerer) Stream() *ir.Stream { return l.out }

// LowerUnit lowers a whole translation unit: the primary pass over every
// declaration, then a fixed-point drain of deferred work.
func (l *Lowerer) LowerUnit(u *ast.TranslationUnit) error {
	for _, f := range u.Funcs {
		key := f.Name
		if len(f.Namespace) > 0 {
			key = nsJoin(f.Namespace) + "::" + f.Name
		}
		l.funcs[key] = append(l.funcs[key], f)
	}
	for _, tf := range u.Templates {
		l.tmpls[tf.Decl.Name] = tf
	}
	l.globals = u.Globals

	if err := l.lowerGlobalInits(u); err != nil {
		return errors.Wrap(err, "global initializers")
	}

	for _, f := range u.Funcs {
		if f.StructName != "" {
			continue // member bodies are lowered via their class
		}
		if err := l.LowerFunc(f); err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	if err := l.drain(); err != nil {
		return errors.Wrap(err, "deferred work")
	}

	l.log.Printw("unit lowered", "instrs", l.out.Len(), "warnings", l.bag.WarningCount())
	return nil
}

func nsJoin(ns []string) string {
	out := ""
	for i, n := range ns {
		if i > 0 {
			out += "::"
		}
		out += n
	}
	return out
}

// newReg allocates the next virtual register; the counter is monotonic
// within one function body and resets at every boundary.
func (l *Lowerer) newReg() int {
	l.fn.temps++
	return l.fn.temps
}

func (l *Lowerer) newLabel(stem string) string {
	l.labelCount++
	return fmt.Sprintf("%s%d", stem, l.labelCount)
}

// irType maps a resolved TypeSpec to the IR type category.
func (l *Lowerer) irType(t ast.TypeSpec) ir.Type {
	if t.IsPointer() || t.IsReference() || t.IsArray {
		return ir.Ptr
	}
	switch t.Kind {
	case ast.TYPE_VOID:
		return ir.Void
	case ast.TYPE_BOOL:
		return ir.Bool
	case ast.TYPE_CHAR, ast.TYPE_SHORT, ast.TYPE_INT, ast.TYPE_LONG:
		return ir.Int
	case ast.TYPE_UCHAR, ast.TYPE_USHORT, ast.TYPE_UINT, ast.TYPE_ULONG:
		return ir.UInt
	case ast.TYPE_FLOAT, ast.TYPE_DOUBLE:
		return ir.Float
	case ast.TYPE_STRUCT:
		return ir.Struct
	case ast.TYPE_ENUM:
		return ir.Enum
	}
	return ir.Int
}

// tupleIndex keeps the registry index only for struct/enum operands.
func tupleIndex(t ast.TypeSpec) types.Index {
	if t.Kind == ast.TYPE_STRUCT || t.Kind == ast.TYPE_ENUM {
		return t.TypeIndex
	}
	return types.Invalid
}

// operandReg builds a fresh register operand typed after t.
func (l *Lowerer) operandReg(t ast.TypeSpec) ir.Operand {
	return ir.InReg(l.irType(t), t.SizeBits(l.reg), l.newReg(), tupleIndex(t))
}

// operandSlot builds a named-storage operand typed after t.
func (l *Lowerer) operandSlot(t ast.TypeSpec, name string) ir.Operand {
	return ir.InSlot(l.irType(t), t.SizeBits(l.reg), name, tupleIndex(t))
}

func (l *Lowerer) emit(op ir.Op, p ir.Payload, tok token.Token) {
	l.out.Append(op, p, tok)
}

// structAt fetches a struct definition; a dangling index is an
// earlier-phase contract violation.
func (l *Lowerer) structAt(tok token.Token, idx types.Index) (*ast.StructDef, error) {
	d, ok := l.reg.At(idx).(*ast.StructDef)
	if !ok {
		return nil, l.bag.Internal(tok, "type index %d is not a struct", idx)
	}
	return d, nil
}

// checkExpanded rejects types that earlier phases should have substituted.
func (l *Lowerer) checkExpanded(tok token.Token, t ast.TypeSpec) error {
	switch t.Kind {
	case ast.TYPE_TEMPLATEPARAM:
		return l.bag.Internal(tok, "unexpanded template parameter %q reached lowering", t.Name)
	case ast.TYPE_AUTO:
		return l.bag.Internal(tok, "undeduced auto reached lowering")
	}
	return nil
}

// memberLookup finds a member in def or (recursively) its bases. The
// returned offset is absolute from the derived object's own base
// address: base-class member offsets are stored relative to the base
// subobject, so the base offset is added here.
func (l *Lowerer) memberLookup(tok token.Token, def *ast.StructDef, name string) (ast.Member, int64, bool) {
	if m, ok := def.FindMember(name); ok {
		return m, m.Offset, true
	}
	for _, b := range def.Bases {
		bd, ok := l.reg.At(b.Index).(*ast.StructDef)
		if !ok {
			continue
		}
		if m, off, ok := l.memberLookup(tok, bd, name); ok {
			return m, b.Offset + off, true
		}
	}
	return ast.Member{}, 0, false
}

// funcLookup finds a member function in def or its bases, returning the
// base offset to apply to the receiver.
func (l *Lowerer) funcLookup(def *ast.StructDef, name string) (*ast.FuncDecl, int64, *ast.StructDef) {
	if fns := def.FindFunc(name); len(fns) > 0 {
		return fns[0], 0, def
	}
	for _, b := range def.Bases {
		bd, ok := l.reg.At(b.Index).(*ast.StructDef)
		if !ok {
			continue
		}
		if f, off, owner := l.funcLookup(bd, name); f != nil {
			return f, b.Offset + off, owner
		}
	}
	return nil, 0, nil
}

// funcOverloads collects the full overload set for name across def and
// its bases (nearest match set wins, like ordinary name hiding).
func (l *Lowerer) funcOverloads(def *ast.StructDef, name string) []*ast.FuncDecl {
	if fns := def.FindFunc(name); len(fns) > 0 {
		return fns
	}
	for _, b := range def.Bases {
		bd, ok := l.reg.At(b.Index).(*ast.StructDef)
		if !ok {
			continue
		}
		if fns := l.funcOverloads(bd, name); len(fns) > 0 {
			return fns
		}
	}
	return nil
}

// mangleFunc produces the linker name for a declaration, validating that
// every input type is fully resolved first.
func (l *Lowerer) mangleFunc(fd *ast.FuncDecl) (string, error) {
	if err := l.checkExpanded(fd.Tok, fd.Return); err != nil {
		return "", err
	}
	params := make([]ast.TypeSpec, len(fd.Params))
	for i, p := range fd.Params {
		if err := l.checkExpanded(p.Tok, p.Type); err != nil {
			return "", err
		}
		params[i] = p.Type
	}
	return l.mangler.Mangle(mangle.Request{
		Name:      fd.Name,
		Return:    fd.Return,
		Params:    params,
		Variadic:  fd.IsVariadic,
		Struct:    fd.StructName,
		Namespace: fd.Namespace,
	}), nil
}

// needsHiddenRet reports whether a return type goes through the ABI
// hidden return pointer.
func (l *Lowerer) needsHiddenRet(t ast.TypeSpec) bool {
	if !t.IsStruct() || t.IsReference() || t.IsPointer() {
		return false
	}
	d, ok := l.reg.At(t.TypeIndex).(*ast.StructDef)
	return ok && d.SizeBytes > l.opts.HiddenRetBytes
}
