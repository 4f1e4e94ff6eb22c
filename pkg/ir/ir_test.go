package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
	"github.com/GregorGullwi/FlashCpp-sub002/pkg/types"
)

func TestOperandLocations(t *testing.T) {
	r := InReg(Int, 32, 4, types.Invalid)
	assert.Equal(t, 4, r.Reg())

	s := InSlot(Ptr, 64, "p", types.Invalid)
	assert.Equal(t, -1, s.Reg(), "slots are not registers")
	assert.Equal(t, Slot{Name: "p"}, s.Loc)

	i := Imm(Int, 32, 7)
	assert.Equal(t, -1, i.Reg())
	assert.Equal(t, ImmInt{Value: 7}, i.Loc)

	f := ImmF(Float, 64, 1.5)
	assert.Equal(t, ImmFloat{Value: 1.5}, f.Loc)

	assert.True(t, None.IsNone())
	assert.False(t, r.IsNone())
}

func TestStreamFind(t *testing.T) {
	s := NewStream()
	dst := InReg(Int, 32, 2, types.Invalid)
	s.Append(OpAdd, &Bin{Dst: dst, A: Imm(Int, 32, 1), B: Imm(Int, 32, 2)}, token.None)
	s.Append(OpSub, &Bin{Dst: dst, A: dst, B: Imm(Int, 32, 1)}, token.None)
	s.Append(OpAdd, &Bin{Dst: dst, A: dst, B: dst}, token.None)

	assert.Equal(t, []int{0, 2}, s.Find(OpAdd))
	assert.Equal(t, []int{1}, s.Find(OpSub))
	assert.Nil(t, s.Find(OpRet))
	assert.Equal(t, 3, s.Len())
}

func TestDumpNamesEveryOpcode(t *testing.T) {
	s := NewStream()
	s.Append(OpFuncDecl, &FuncDecl{Name: "f", Mangled: "_F1fEv"}, token.None)
	s.Append(OpRetVoid, &Marker{}, token.None)
	s.Append(OpFuncEnd, &Marker{}, token.None)

	var b strings.Builder
	s.Dump(&b)
	out := b.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "func")
	assert.Contains(t, out, "_F1fEv")
	assert.Contains(t, out, "retv")
}
