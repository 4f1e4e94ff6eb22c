package lower

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ir"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// vptrMember is the reserved layout name of the vtable pointer, always
// at offset zero of a polymorphic object.
const vptrMember = "__vptr"

// emitConstruction initializes the object at obj. User constructors win
// when declared; brace-init of an aggregate stores member-wise; an
// argument-free construction runs default member initializers.
func (l *Lowerer) emitConstruction(tok token.Token, def *ast.StructDef, obj ir.Operand, args []ast.Expr, list bool) error {
	if ctors := def.Ctors(); len(ctors) > 0 {
		fd := l.selectOverload(ctors, args)
		if fd == nil {
			return l.bag.Semantic(tok, "no matching constructor for %q", def.Name)
		}
		mangled, err := l.mangleFunc(fd)
		if err != nil {
			return err
		}
		ops, err := l.lowerArgs(tok, fd.Params, fd.IsVariadic, args)
		if err != nil {
			return err
		}
		l.scheduleBody(fd)
		l.emit(ir.OpCtorCall, &ir.CtorCall{Mangled: mangled, Object: obj, Args: ops}, tok)
		return nil
	}

	if list && len(args) > 0 {
		return l.emitAggregateInit(tok, def, obj, args)
	}
	if len(args) == 1 {
		srcType := stripRef(args[0].ResultType())
		if srcType.IsStruct() && l.sameDef(srcType.TypeIndex, def) {
			src, err := l.lowerExpr(args[0], ctxAddr)
			if err != nil {
				return err
			}
			return l.emitCopyInit(tok, def, obj, src)
		}
	}
	if len(args) > 0 {
		return l.emitAggregateInit(tok, def, obj, args)
	}
	return l.emitDefaultInit(tok, def, obj)
}

func (l *Lowerer) sameDef(idx types.Index, def *ast.StructDef) bool {
	d, _ := l.reg.At(idx).(*ast.StructDef)
	return d == def
}

// emitAggregateInit stores one initializer per member, in layout order.
func (l *Lowerer) emitAggregateInit(tok token.Token, def *ast.StructDef, obj ir.Operand, args []ast.Expr) error {
	if len(args) > len(def.Members) {
		return l.bag.Semantic(tok, "too many initializers for %q", def.Name)
	}
	for i, a := range args {
		m := def.Members[i]
		if err := l.emitMemberInitValue(tok, obj, m, a); err != nil {
			return err
		}
	}
	return nil
}

// emitDefaultInit stores the vtable pointer when the class is
// polymorphic, then runs default member initializers, default
// constructions of struct members, and zero stores for the rest.
func (l *Lowerer) emitDefaultInit(tok token.Token, def *ast.StructDef, obj ir.Operand) error {
	l.emitVPtrStore(tok, def, obj)
	for _, m := range def.Members {
		switch {
		case m.Init != nil:
			if err := l.emitMemberInitValue(tok, obj, m, m.Init); err != nil {
				return err
			}
		case m.Type.IsStruct():
			md, err := l.structAt(tok, m.Type.TypeIndex)
			if err != nil {
				return err
			}
			addr := l.memberAddr(tok, obj, m.Offset, m.Type.TypeIndex)
			if err := l.emitConstruction(tok, md, addr, nil, false); err != nil {
				return err
			}
		default:
			l.emitZeroMember(tok, obj, m)
		}
	}
	return nil
}

// emitZeroMember stores a zero of the member's type, the terminal
// "else zero" arm of default initialization.
func (l *Lowerer) emitZeroMember(tok token.Token, obj ir.Operand, m ast.Member) {
	bits := m.Type.SizeBits(l.reg)
	zero := ir.Imm(l.irType(m.Type), bits, 0)
	if l.irType(m.Type) == ir.Float {
		zero = ir.ImmF(ir.Float, bits, 0)
	}
	l.emit(ir.OpMemberStore, &ir.MemberAccess{
		Object: obj, Member: m.Name, Offset: m.Offset,
		BitWidth: m.BitWidth, BitOffset: m.BitOffset, Src: zero,
	}, tok)
}

func (l *Lowerer) emitVPtrStore(tok token.Token, def *ast.StructDef, obj ir.Operand) {
	if !def.HasVTable {
		return
	}
	vt := ir.InSlot(ir.Ptr, 64, def.VTableSym, types.Invalid)
	l.emit(ir.OpMemberStore, &ir.MemberAccess{
		Object: obj, Member: vptrMember, Offset: 0, Src: vt,
	}, tok)
}

func (l *Lowerer) memberAddr(tok token.Token, obj ir.Operand, off int64, idx types.Index) ir.Operand {
	if off == 0 {
		return obj
	}
	addr := ir.InReg(ir.Ptr, 64, l.newReg(), idx)
	l.emit(ir.OpAdd, &ir.Bin{Dst: addr, A: obj, B: ir.Imm(ir.Int, 64, off)}, tok)
	return addr
}

// emitMemberInitValue initializes one member from an expression,
// converting scalars to the member's declared type.
func (l *Lowerer) emitMemberInitValue(tok token.Token, obj ir.Operand, m ast.Member, init ast.Expr) error {
	if m.Type.IsStruct() {
		md, err := l.structAt(tok, m.Type.TypeIndex)
		if err != nil {
			return err
		}
		addr := l.memberAddr(tok, obj, m.Offset, m.Type.TypeIndex)
		if ce, ok := init.(*ast.CtorExpr); ok {
			_, err := l.lowerCtorExpr(ce, addr)
			return err
		}
		return l.emitConstruction(tok, md, addr, []ast.Expr{init}, false)
	}
	v, err := l.lowerExpr(init, ctxLoad)
	if err != nil {
		return err
	}
	v = l.convertTo(v, stripRef(init.ResultType()), m.Type, tok)
	l.emit(ir.OpMemberStore, &ir.MemberAccess{
		Object: obj, Member: m.Name, Offset: m.Offset,
		BitWidth: m.BitWidth, BitOffset: m.BitOffset, Src: v,
	}, tok)
	return nil
}

// lowerCtorBody emits a constructor: a delegating constructor forwards
// everything to its target, otherwise bases construct in declaration
// order, then the vtable pointer is stored, then members initialize,
// then the written body runs.
func (l *Lowerer) lowerCtorBody(f *ast.FuncDecl) error {
	def := l.fn.syms.Class
	if def == nil {
		return l.bag.Internal(f.Tok, "constructor outside a class")
	}
	this := l.thisOperand()

	if di := findDelegating(f.MemberInit); di != nil {
		target := l.selectOverload(def.Ctors(), di.Args)
		if target == nil {
			return l.bag.Semantic(di.Tok, "no matching delegated constructor for %q", def.Name)
		}
		if target == f {
			return l.bag.Semantic(di.Tok, "constructor delegates to itself")
		}
		mangled, err := l.mangleFunc(target)
		if err != nil {
			return err
		}
		ops, err := l.lowerArgs(di.Tok, target.Params, target.IsVariadic, di.Args)
		if err != nil {
			return err
		}
		l.scheduleBody(target)
		l.emit(ir.OpCtorCall, &ir.CtorCall{Mangled: mangled, Object: this, Args: ops}, di.Tok)
		return l.lowerWrittenBody(f)
	}

	if f.IsDefaulted && (f.Special == ast.SpecialCopyCtor || f.Special == ast.SpecialMoveCtor) {
		return l.synthCopyCtor(f, def, this)
	}

	for _, b := range def.Bases {
		bd, err := l.structAt(f.Tok, b.Index)
		if err != nil {
			return err
		}
		var args []ast.Expr
		if mi := findInit(f.MemberInit, b.Name); mi != nil {
			args = mi.Args
		}
		sub := l.memberAddr(f.Tok, this, b.Offset, b.Index)
		if err := l.emitConstruction(f.Tok, bd, sub, args, false); err != nil {
			return err
		}
	}

	// The vptr is written after base construction so the object
	// identifies as the derived class from here on.
	l.emitVPtrStore(f.Tok, def, this)

	for _, m := range def.Members {
		if mi := findInit(f.MemberInit, m.Name); mi != nil {
			if err := l.emitCtorMemberInit(f.Tok, this, m, mi.Args); err != nil {
				return err
			}
			continue
		}
		if m.Init != nil {
			if err := l.emitMemberInitValue(f.Tok, this, m, m.Init); err != nil {
				return err
			}
			continue
		}
		if m.Type.IsStruct() {
			md, err := l.structAt(f.Tok, m.Type.TypeIndex)
			if err != nil {
				return err
			}
			addr := l.memberAddr(f.Tok, this, m.Offset, m.Type.TypeIndex)
			if err := l.emitConstruction(f.Tok, md, addr, nil, false); err != nil {
				return err
			}
			continue
		}
		l.emitZeroMember(f.Tok, this, m)
	}

	return l.lowerWrittenBody(f)
}

func (l *Lowerer) lowerWrittenBody(f *ast.FuncDecl) error {
	if f.Body == nil {
		return nil
	}
	return l.lowerBlock(f.Body, stmtCtx{})
}

func (l *Lowerer) emitCtorMemberInit(tok token.Token, this ir.Operand, m ast.Member, args []ast.Expr) error {
	if m.Type.IsStruct() {
		md, err := l.structAt(tok, m.Type.TypeIndex)
		if err != nil {
			return err
		}
		addr := l.memberAddr(tok, this, m.Offset, m.Type.TypeIndex)
		return l.emitConstruction(tok, md, addr, args, false)
	}
	if len(args) != 1 {
		return l.bag.Semantic(tok, "member %q takes one initializer", m.Name)
	}
	return l.emitMemberInitValue(tok, this, m, args[0])
}

// synthCopyCtor is the defaulted copy/move constructor body: each base
// constructs through its own matching copy/move constructor, the vptr
// is restored to this class, then data members copy one by one.
func (l *Lowerer) synthCopyCtor(f *ast.FuncDecl, def *ast.StructDef, this ir.Operand) error {
	if len(f.Params) != 1 {
		return l.bag.Internal(f.Tok, "defaulted copy constructor with %d parameters", len(f.Params))
	}
	src := l.operandSlot(f.Params[0].Type, f.Params[0].Name)
	wantMove := f.Special == ast.SpecialMoveCtor

	for _, b := range def.Bases {
		bd, err := l.structAt(f.Tok, b.Index)
		if err != nil {
			return err
		}
		dstSub := l.memberAddr(f.Tok, this, b.Offset, b.Index)
		srcSub := l.memberAddr(f.Tok, src, b.Offset, b.Index)
		pick := pickCopyCtor(bd, wantMove)
		if pick == nil {
			// Trivially copyable base: its bytes move as a block.
			l.emit(ir.OpStore, &ir.Move{Dst: dstSub, Src: srcSub}, f.Tok)
			continue
		}
		mangled, err := l.mangleFunc(pick)
		if err != nil {
			return err
		}
		l.scheduleBody(pick)
		l.emit(ir.OpCtorCall, &ir.CtorCall{Mangled: mangled, Object: dstSub, Args: []ir.Operand{srcSub}}, f.Tok)
	}

	l.emitVPtrStore(f.Tok, def, this)

	for _, m := range def.Members {
		if m.Type.IsStruct() {
			md, err := l.structAt(f.Tok, m.Type.TypeIndex)
			if err != nil {
				return err
			}
			dstSub := l.memberAddr(f.Tok, this, m.Offset, m.Type.TypeIndex)
			srcSub := l.memberAddr(f.Tok, src, m.Offset, m.Type.TypeIndex)
			if err := l.emitCopyInit(f.Tok, md, dstSub, srcSub); err != nil {
				return err
			}
			continue
		}
		v := l.operandReg(m.Type)
		l.emit(ir.OpMemberLoad, &ir.MemberAccess{
			Object: src, Member: m.Name, Offset: m.Offset,
			BitWidth: m.BitWidth, BitOffset: m.BitOffset, Dst: v,
		}, f.Tok)
		l.emit(ir.OpMemberStore, &ir.MemberAccess{
			Object: this, Member: m.Name, Offset: m.Offset,
			BitWidth: m.BitWidth, BitOffset: m.BitOffset, Src: v,
		}, f.Tok)
	}
	return nil
}

// pickCopyCtor selects a class's copy or move constructor, falling back
// from move to copy when no move constructor is declared.
func pickCopyCtor(def *ast.StructDef, wantMove bool) *ast.FuncDecl {
	var copyCtor *ast.FuncDecl
	for _, c := range def.Ctors() {
		switch c.Special {
		case ast.SpecialMoveCtor:
			if wantMove {
				return c
			}
		case ast.SpecialCopyCtor:
			copyCtor = c
		}
	}
	return copyCtor
}

// lowerDtorBody emits a destructor: the written body first, then
// struct members destroy in reverse declaration order, then bases in
// reverse order.
func (l *Lowerer) lowerDtorBody(f *ast.FuncDecl) error {
	def := l.fn.syms.Class
	if def == nil {
		return l.bag.Internal(f.Tok, "destructor outside a class")
	}
	this := l.thisOperand()

	if err := l.lowerWrittenBody(f); err != nil {
		return err
	}

	for i := len(def.Members) - 1; i >= 0; i-- {
		m := def.Members[i]
		if !m.Type.IsStruct() {
			continue
		}
		md, err := l.structAt(f.Tok, m.Type.TypeIndex)
		if err != nil {
			return err
		}
		if md.Dtor() == nil {
			continue
		}
		mangled, err := l.mangleFunc(md.Dtor())
		if err != nil {
			return err
		}
		l.scheduleBody(md.Dtor())
		addr := l.memberAddr(f.Tok, this, m.Offset, m.Type.TypeIndex)
		l.emit(ir.OpDtorCall, &ir.DtorCall{Mangled: mangled, Object: addr}, f.Tok)
	}

	for i := len(def.Bases) - 1; i >= 0; i-- {
		b := def.Bases[i]
		bd, err := l.structAt(f.Tok, b.Index)
		if err != nil {
			return err
		}
		if bd.Dtor() == nil {
			continue
		}
		mangled, err := l.mangleFunc(bd.Dtor())
		if err != nil {
			return err
		}
		l.scheduleBody(bd.Dtor())
		sub := l.memberAddr(f.Tok, this, b.Offset, b.Index)
		l.emit(ir.OpDtorCall, &ir.DtorCall{Mangled: mangled, Object: sub}, f.Tok)
	}
	return nil
}

func findInit(inits []ast.MemberInit, name string) *ast.MemberInit {
	for i := range inits {
		if inits[i].Name == name {
			return &inits[i]
		}
	}
	return nil
}

func findDelegating(inits []ast.MemberInit) *ast.MemberInit {
	for i := range inits {
		if inits[i].Delegating {
			return &inits[i]
		}
	}
	return nil
}
