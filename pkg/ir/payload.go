package ir

import (
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

// ParamInfo is one formal parameter in a function header.
type ParamInfo struct {
	Name     string
	Type     Type
	SizeBits int
	TypeIndex types.Index
	IsRef    bool
}

// FuncDecl opens a function body in the stream.
type FuncDecl struct {
	Name    string
	Mangled string
	Return  Operand
	// HiddenRetPtr marks a struct return too large for registers: the
	// caller passes the destination as an extra pointer argument.
	HiddenRetPtr bool
	Params       []ParamInfo
	Variadic     bool
	// Entry marks the designated program-entry function.
	Entry bool
}

// VarDecl announces a named local and its type.
type VarDecl struct {
	Name      string
	Type      Type
	SizeBits  int
	TypeIndex types.Index
}

// Bin is the payload of every two-operand arithmetic, comparison,
// bitwise, and shift opcode.
type Bin struct {
	Dst  Operand
	A, B Operand
}

// Un is the payload of one-operand value ops (neg, bitnot, conv, deref,
// addrof).
type Un struct {
	Dst Operand
	X   Operand
}

// Move is plain assignment: Dst takes Src's value.
type Move struct {
	Dst Operand
	Src Operand
}

// Global is a load from / store to a global symbol.
type Global struct {
	Name string
	Dst  Operand // load
	Src  Operand // store
}

// MemberAccess is a load/store through an object at a byte offset,
// optionally a bitfield slice of the storage unit.
type MemberAccess struct {
	Object    Operand
	Member    string
	Offset    int64
	BitWidth  int
	BitOffset int
	Dst       Operand // load
	Src       Operand // store
}

// ArrayAccess is an indexed load/store. PtrBase distinguishes a pointer
// base (element address computed through the pointer value) from a
// true array base.
type ArrayAccess struct {
	Base     Operand
	Index    Operand
	ElemSize int64
	PtrBase  bool
	Dst      Operand // load
	Src      Operand // store
}

// Label marks a branch target.
type Label struct{ Name string }

// Branch is an unconditional jump.
type Branch struct{ Target string }

// CondBranch jumps to True when Cond is non-zero, else False.
type CondBranch struct {
	Cond  Operand
	True  string
	False string
}

// Call is a direct call to a mangled symbol.
type Call struct {
	Dst      Operand // None for void or discarded results
	Mangled  string
	Args     []Operand
	Variadic bool
	// RetSlot carries the hidden return pointer for large struct returns.
	RetSlot Operand
}

// CtorCall constructs into Object's storage.
type CtorCall struct {
	Mangled string
	Object  Operand
	Args    []Operand
}

// DtorCall destroys the object at Object.
type DtorCall struct {
	Mangled string
	Object  Operand
}

// Ret returns a value; OpRetVoid carries no payload.
type Ret struct{ Val Operand }

// HeapAlloc allocates Size bytes, result in Dst.
type HeapAlloc struct {
	Dst  Operand
	Size Operand
}

// HeapFree releases the pointer.
type HeapFree struct{ Ptr Operand }

// PlacementNew marks object-lifetime start at an existing address; the
// constructor call follows separately.
type PlacementNew struct {
	Addr      Operand
	TypeIndex types.Index
}

// TryBegin opens a C++ try region; control reaches Handler on a throw.
type TryBegin struct{ Handler string }

// CatchBegin opens one catch clause. A zero Reg with Invalid TypeIndex
// and CatchAll set is catch(...).
type CatchBegin struct {
	Reg       Operand
	IsConst   bool
	IsRef     bool
	CatchAll  bool
	CatchEnd  string
	Continue  string
}

// Throw raises Val; OpRethrow carries no payload.
type Throw struct{ Val Operand }

// SehTryBegin opens a __try region. Exactly one of Except/Finally names
// the out-of-line handler.
type SehTryBegin struct {
	Except  string
	Finally string
}

// SehFilterBegin opens an out-of-line filter funclet; the funclet first
// saves the platform exception code into CodeSlot in the parent frame.
type SehFilterBegin struct {
	Label    string
	CodeSlot string
}

// SehSaveCode stores the in-flight exception code to a parent-frame slot.
type SehSaveCode struct{ Slot string }

// SehFilterEnd closes the funclet; Verdict is the filter expression's
// value (constant filters skip the funclet entirely).
type SehFilterEnd struct{ Verdict Operand }

// SehExceptBegin opens the __except handler body.
type SehExceptBegin struct {
	// Filter is the constant verdict when the filter was elided, or the
	// funclet label otherwise.
	ConstFilter    int64
	HasConstFilter bool
	FilterLabel    string
}

// SehFinallyCall invokes a finally funclet and resumes after it, used on
// normal fall-through and before every early exit from the region.
type SehFinallyCall struct{ Finally string }

// SehLeave is __leave: a jump to the try end, or a finally-call-then-jump.
type SehLeave struct{ Target string }

// Nop records an accepted-but-not-implemented intrinsic.
type Nop struct{ Reason string }

// Marker is the shared empty payload for paired end opcodes.
type Marker struct{}

func (*FuncDecl) payload()       {}
func (*VarDecl) payload()        {}
func (*Bin) payload()            {}
func (*Un) payload()             {}
func (*Move) payload()           {}
func (*Global) payload()         {}
func (*MemberAccess) payload()   {}
func (*ArrayAccess) payload()    {}
func (*Label) payload()          {}
func (*Branch) payload()         {}
func (*CondBranch) payload()     {}
func (*Call) payload()           {}
func (*CtorCall) payload()       {}
func (*DtorCall) payload()       {}
func (*Ret) payload()            {}
func (*HeapAlloc) payload()      {}
func (*HeapFree) payload()       {}
func (*PlacementNew) payload()   {}
func (*TryBegin) payload()       {}
func (*CatchBegin) payload()     {}
func (*Throw) payload()          {}
func (*SehTryBegin) payload()    {}
func (*SehFilterBegin) payload() {}
func (*SehSaveCode) payload()    {}
func (*SehFilterEnd) payload()   {}
func (*SehExceptBegin) payload() {}
func (*SehFinallyCall) payload() {}
func (*SehLeave) payload()       {}
func (*Nop) payload()            {}
func (*Marker) payload()         {}
