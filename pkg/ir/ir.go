// Package ir defines the linear intermediate representation the lowering
// pass emits: an append-only stream of instructions, each an opcode plus
// a typed payload and a source token. The stream is unoptimized and
// structurally faithful to source order; a native backend consumes it.
package ir

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
)

type Op int

const (
	// Declarations and lifetime.
	OpFuncDecl Op = iota
	OpFuncEnd
	OpVarDecl
	OpHeapAlloc
	OpHeapFree
	OpPlacementNew

	// Data movement.
	OpAssign
	OpGlobalLoad
	OpGlobalStore
	OpMemberLoad
	OpMemberStore
	OpArrayLoad
	OpArrayStore
	OpDeref
	OpStore // store through an address: *A = Src
	OpAddrOf
	OpConv

	// Arithmetic; U-variants where signedness changes the result,
	// F-variants for floating point.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpUDiv
	OpUMod
	OpAddF
	OpSubF
	OpMulF
	OpDivF
	OpNeg
	OpNegF

	// Comparison.
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpGt
	OpCmpLe
	OpCmpGe
	OpCmpULt
	OpCmpUGt
	OpCmpULe
	OpCmpUGe
	OpCmpFEq
	OpCmpFNe
	OpCmpFLt
	OpCmpFGt
	OpCmpFLe
	OpCmpFGe

	// Bitwise and shifts.
	OpAnd
	OpOr
	OpXor
	OpBitNot
	OpShl
	OpShr  // arithmetic
	OpUShr // logical

	// Control transfer.
	OpLabel
	OpBranch
	OpCondBranch

	// Calls and returns.
	OpCall
	OpCtorCall
	OpDtorCall
	OpRet
	OpRetVoid

	// C++ exception markers.
	OpTryBegin
	OpTryEnd
	OpCatchBegin
	OpCatchEnd
	OpHandlersEnd
	OpThrow
	OpRethrow

	// Platform SEH markers.
	OpSehTryBegin
	OpSehTryEnd
	OpSehExceptBegin
	OpSehExceptEnd
	OpSehFinallyBegin
	OpSehFinallyEnd
	OpSehFilterBegin
	OpSehFilterEnd
	OpSehSaveCode
	OpSehFinallyCall
	OpSehLeave

	// Accepted-but-unimplemented intrinsics lower to this.
	OpNop

	opCount
)

var opNames = [opCount]string{
	OpFuncDecl: "func", OpFuncEnd: "endfunc", OpVarDecl: "var",
	OpHeapAlloc: "halloc", OpHeapFree: "hfree", OpPlacementNew: "pnew",
	OpAssign: "assign", OpGlobalLoad: "gload", OpGlobalStore: "gstore",
	OpMemberLoad: "mload", OpMemberStore: "mstore",
	OpArrayLoad: "aload", OpArrayStore: "astore",
	OpDeref: "deref", OpStore: "store", OpAddrOf: "addrof", OpConv: "conv",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpUDiv: "udiv", OpUMod: "umod",
	OpAddF: "addf", OpSubF: "subf", OpMulF: "mulf", OpDivF: "divf",
	OpNeg: "neg", OpNegF: "negf",
	OpCmpEq: "ceq", OpCmpNe: "cne", OpCmpLt: "clt", OpCmpGt: "cgt",
	OpCmpLe: "cle", OpCmpGe: "cge",
	OpCmpULt: "cult", OpCmpUGt: "cugt", OpCmpULe: "cule", OpCmpUGe: "cuge",
	OpCmpFEq: "cfeq", OpCmpFNe: "cfne", OpCmpFLt: "cflt", OpCmpFGt: "cfgt",
	OpCmpFLe: "cfle", OpCmpFGe: "cfge",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpBitNot: "bnot",
	OpShl: "shl", OpShr: "shr", OpUShr: "ushr",
	OpLabel: "label", OpBranch: "br", OpCondBranch: "cbr",
	OpCall: "call", OpCtorCall: "ctor", OpDtorCall: "dtor",
	OpRet: "ret", OpRetVoid: "retv",
	OpTryBegin: "try", OpTryEnd: "endtry",
	OpCatchBegin: "catch", OpCatchEnd: "endcatch", OpHandlersEnd: "endhandlers",
	OpThrow: "throw", OpRethrow: "rethrow",
	OpSehTryBegin: "sehtry", OpSehTryEnd: "endsehtry",
	OpSehExceptBegin: "sehexcept", OpSehExceptEnd: "endsehexcept",
	OpSehFinallyBegin: "sehfinally", OpSehFinallyEnd: "endsehfinally",
	OpSehFilterBegin: "sehfilter", OpSehFilterEnd: "endsehfilter",
	OpSehSaveCode: "sehsavecode", OpSehFinallyCall: "sehcallfinally",
	OpSehLeave: "sehleave",
	OpNop: "nop",
}

func (op Op) String() string {
	if op < 0 || op >= opCount {
		return "op?"
	}
	return opNames[op]
}

// Payload is the closed set of per-opcode payloads.
type Payload interface{ payload() }

// Instruction is one entry of the stream.
type Instruction struct {
	Op      Op
	Payload Payload
	Tok     token.Token
}

// Stream is the per-translation-unit instruction sequence. It is owned
// exclusively by the active lowering pass and flushed per unit.
type Stream struct {
	Instrs []Instruction
	// Strings maps literal values to their interned slot names; interning
	// itself happens upstream, the stream only records usage.
	Strings map[string]string
}

func NewStream() *Stream {
	return &Stream{Strings: make(map[string]string)}
}

func (s *Stream) Append(op Op, p Payload, tok token.Token) {
	s.Instrs = append(s.Instrs, Instruction{Op: op, Payload: p, Tok: tok})
}

func (s *Stream) Len() int { return len(s.Instrs) }

// Find returns the indices of all instructions with the given opcode.
func (s *Stream) Find(op Op) []int {
	var out []int
	for i := range s.Instrs {
		if s.Instrs[i].Op == op {
			out = append(out, i)
		}
	}
	return out
}
