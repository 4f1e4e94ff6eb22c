package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/ast"
)

func TestInnerScopeShadowsOuter(t *testing.T) {
	tab := NewTable()
	tab.Enter()
	tab.Declare(&Symbol{Name: "x", Kind: SymLocal, Type: ast.TypeInt})

	tab.Enter()
	tab.Declare(&Symbol{Name: "x", Kind: SymLocal, Type: ast.TypeDouble})

	s, ok := tab.Resolve("x")
	require.True(t, ok)
	assert.Equal(t, ast.TypeDouble, s.Type)

	tab.Leave()
	s, ok = tab.Resolve("x")
	require.True(t, ok)
	assert.Equal(t, ast.TypeInt, s.Type, "leaving the block restores the outer binding")
}

func TestNamespaceLookupInnermostFirst(t *testing.T) {
	tab := NewTable()
	tab.DeclareGlobal([]string{"a"}, &Symbol{Name: "v", Kind: SymGlobal, Type: ast.TypeInt})
	tab.DeclareGlobal([]string{"a", "b"}, &Symbol{Name: "v", Kind: SymGlobal, Type: ast.TypeDouble})
	tab.Namespace = []string{"a", "b"}

	s, ok := tab.Resolve("v")
	require.True(t, ok)
	assert.Equal(t, ast.TypeDouble, s.Type, "a::b::v wins over a::v inside a::b")

	tab.Namespace = []string{"a"}
	s, ok = tab.Resolve("v")
	require.True(t, ok)
	assert.Equal(t, ast.TypeInt, s.Type)
}

func TestUsingDeclarationOpensNamespace(t *testing.T) {
	tab := NewTable()
	tab.DeclareGlobal([]string{"lib"}, &Symbol{Name: "f", Kind: SymFunc, Type: ast.TypeVoid})

	_, ok := tab.Resolve("f")
	assert.False(t, ok)

	tab.Usings = []string{"lib"}
	s, ok := tab.Resolve("f")
	require.True(t, ok)
	assert.Equal(t, SymFunc, s.Kind)
}

func TestImplicitMemberLookupIsLastResort(t *testing.T) {
	tab := NewTable()
	tab.Class = &ast.StructDef{
		Name:    "Counter",
		Members: []ast.Member{{Name: "n", Type: ast.TypeInt, Offset: 0}},
	}

	s, ok := tab.Resolve("n")
	require.True(t, ok)
	assert.Equal(t, SymMember, s.Kind)
	assert.Equal(t, "Counter", s.StructName)

	// A local of the same name hides the member.
	tab.Enter()
	tab.Declare(&Symbol{Name: "n", Kind: SymLocal, Type: ast.TypeDouble})
	s, ok = tab.Resolve("n")
	require.True(t, ok)
	assert.Equal(t, SymLocal, s.Kind)
}

func TestResolveLocalSkipsGlobals(t *testing.T) {
	tab := NewTable()
	tab.DeclareGlobal(nil, &Symbol{Name: "g", Kind: SymGlobal, Type: ast.TypeInt})
	tab.Enter()
	tab.Declare(&Symbol{Name: "x", Kind: SymLocal, Type: ast.TypeInt})

	_, ok := tab.ResolveLocal("g")
	assert.False(t, ok)
	_, ok = tab.ResolveLocal("x")
	assert.True(t, ok)
}
