package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a one-instruction-per-line listing of the stream.
func (s *Stream) Dump(w io.Writer) {
	for i := range s.Instrs {
		in := &s.Instrs[i]
		fmt.Fprintf(w, "%-14s %s", in.Op, formatPayload(in.Payload))
		if in.Tok.Valid() {
			fmt.Fprintf(w, "\t; %v", in.Tok)
		}
		fmt.Fprintln(w)
	}
}

func formatPayload(p Payload) string {
	switch p := p.(type) {
	case nil, *Marker:
		return ""
	case *FuncDecl:
		var b strings.Builder
		fmt.Fprintf(&b, "%s ret=%s", p.Mangled, p.Return)
		if p.HiddenRetPtr {
			b.WriteString(" hidden-ret")
		}
		if p.Variadic {
			b.WriteString(" variadic")
		}
		for _, pr := range p.Params {
			fmt.Fprintf(&b, " %s:%s:%d", pr.Name, pr.Type, pr.SizeBits)
		}
		return b.String()
	case *VarDecl:
		return fmt.Sprintf("%s %s:%d", p.Name, p.Type, p.SizeBits)
	case *Bin:
		return fmt.Sprintf("%s <- %s, %s", p.Dst, p.A, p.B)
	case *Un:
		return fmt.Sprintf("%s <- %s", p.Dst, p.X)
	case *Move:
		return fmt.Sprintf("%s <- %s", p.Dst, p.Src)
	case *Global:
		if !p.Dst.IsNone() {
			return fmt.Sprintf("%s <- @%s", p.Dst, p.Name)
		}
		return fmt.Sprintf("@%s <- %s", p.Name, p.Src)
	case *MemberAccess:
		at := fmt.Sprintf("%s.%s+%d", p.Object, p.Member, p.Offset)
		if p.BitWidth > 0 {
			at += fmt.Sprintf("[%d:%d]", p.BitOffset, p.BitWidth)
		}
		if !p.Dst.IsNone() {
			return fmt.Sprintf("%s <- %s", p.Dst, at)
		}
		return fmt.Sprintf("%s <- %s", at, p.Src)
	case *ArrayAccess:
		at := fmt.Sprintf("%s[%s]*%d", p.Base, p.Index, p.ElemSize)
		if !p.Dst.IsNone() {
			return fmt.Sprintf("%s <- %s", p.Dst, at)
		}
		return fmt.Sprintf("%s <- %s", at, p.Src)
	case *Label:
		return p.Name + ":"
	case *Branch:
		return p.Target
	case *CondBranch:
		return fmt.Sprintf("%s ? %s : %s", p.Cond, p.True, p.False)
	case *Call:
		args := make([]string, len(p.Args))
		for i, a := range p.Args {
			args[i] = a.String()
		}
		s := fmt.Sprintf("%s(%s)", p.Mangled, strings.Join(args, ", "))
		if !p.Dst.IsNone() {
			s = p.Dst.String() + " <- " + s
		}
		return s
	case *CtorCall:
		args := make([]string, len(p.Args))
		for i, a := range p.Args {
			args[i] = a.String()
		}
		return fmt.Sprintf("%s @ %s (%s)", p.Mangled, p.Object, strings.Join(args, ", "))
	case *DtorCall:
		return fmt.Sprintf("%s @ %s", p.Mangled, p.Object)
	case *Ret:
		return p.Val.String()
	case *HeapAlloc:
		return fmt.Sprintf("%s <- %s bytes", p.Dst, p.Size)
	case *HeapFree:
		return p.Ptr.String()
	case *PlacementNew:
		return fmt.Sprintf("%s t%d", p.Addr, p.TypeIndex)
	case *TryBegin:
		return "handler=" + p.Handler
	case *CatchBegin:
		if p.CatchAll {
			return fmt.Sprintf("(...) end=%s cont=%s", p.CatchEnd, p.Continue)
		}
		flags := ""
		if p.IsConst {
			flags += " const"
		}
		if p.IsRef {
			flags += " ref"
		}
		return fmt.Sprintf("%s%s end=%s cont=%s", p.Reg, flags, p.CatchEnd, p.Continue)
	case *Throw:
		return p.Val.String()
	case *SehTryBegin:
		if p.Finally != "" {
			return "finally=" + p.Finally
		}
		return "except=" + p.Except
	case *SehFilterBegin:
		return fmt.Sprintf("%s code=%s", p.Label, p.CodeSlot)
	case *SehSaveCode:
		return p.Slot
	case *SehFilterEnd:
		return p.Verdict.String()
	case *SehExceptBegin:
		if p.HasConstFilter {
			return fmt.Sprintf("filter=%d", p.ConstFilter)
		}
		return "filter=" + p.FilterLabel
	case *SehFinallyCall:
		return p.Finally
	case *SehLeave:
		return p.Target
	case *Nop:
		return p.Reason
	}
	return fmt.Sprintf("%+v", p)
}
