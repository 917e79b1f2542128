package ast

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesEqual(t *testing.T) {
	point := StructType{Name: "Point"}
	tests := []struct {
		a, b DataType
		want bool
	}{
		{Int, Int, true},
		{Int, Bool, false},
		{ArrayOf(ArrayOf(Int)), ArrayOf(ArrayOf(Int)), true},
		{ArrayOf(Int), ArrayOf(Bool), false},
		{point, StructType{Name: "Point"}, true},
		{point, StructType{Name: "Line"}, false},
		{FunType{Params: []DataType{Int}, Result: Unit}, FunType{Params: []DataType{Int}, Result: Unit}, true},
		{FunType{Params: []DataType{Int}, Result: Unit}, FunType{Params: []DataType{Bool}, Result: Unit}, false},
		{FunType{Result: Int}, FunType{Result: Bool}, false},
		{nil, nil, true},
		{nil, Int, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypesEqual(tt.a, tt.b), "%v == %v", tt.a, tt.b)
	}
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "[[Int]]", ArrayOf(ArrayOf(Int)).String())
	assert.Equal(t, "Point", StructType{Name: "Point"}.String())
	assert.True(t, IsHeapType(ArrayOf(Bool)))
	assert.True(t, IsHeapType(StructType{Name: "Point"}))
	assert.False(t, IsHeapType(Int))
	assert.False(t, IsHeapType(nil))
}

func TestStackArguments(t *testing.T) {
	assert.Equal(t, 0, StackArguments(6, false, 6))
	assert.Equal(t, 1, StackArguments(6, true, 6))
	assert.Equal(t, 2, StackArguments(3, false, 1))
	assert.Equal(t, 0, StackArguments(0, true, 1))
	assert.Equal(t, 1, FunType{Params: []DataType{Int}}.StackArgumentsCount(1))
}

func TestTypeOf(t *testing.T) {
	x := NewVarDecl("x", ArrayOf(Int), nil)
	f := NewFunction("f", Bool, nil, NewBlock())
	point := &StructDeclaration{Name: "Point"}

	tests := []struct {
		node Node
		want DataType
	}{
		{NewVariable(x), ArrayOf(Int)},
		{NewInt(1), Int},
		{NewComparison(Less, NewInt(1), NewInt(2)), Bool},
		{&UnaryOperation{Operation: Not, Value: NewBool(true)}, Bool},
		{&UnaryOperation{Operation: Minus, Value: NewInt(1)}, Int},
		{NewCall(f), Bool},
		{NewAssign(x, NewVariable(x)), ArrayOf(Int)},
		{&ArrayAlloc{ElementType: Bool, Size: NewInt(2)}, ArrayOf(Bool)},
		{&StructAlloc{Declaration: point}, StructType{Name: "Point"}},
		{&NullLiteral{Type: StructType{Name: "Point"}}, StructType{Name: "Point"}},
		{&BlockWithResult{Body: NewBlock(), Result: NewInt(3)}, Int},
		{NewReturn(nil), Unit},
	}
	for _, tt := range tests {
		assert.True(t, TypesEqual(tt.want, TypeOf(tt.node)), "TypeOf(%T) = %v, want %v", tt.node, TypeOf(tt.node), tt.want)
	}
	assert.Nil(t, TypeOf(&FunctionCall{Identifier: "ghost"}))
}

func TestChildrenSkipsMissingParts(t *testing.T) {
	cond := NewBool(true)
	stmt := &IfStatement{Condition: cond, ThenBody: NewBlock()}
	assert.Equal(t, []Node{cond, stmt.ThenBody}, Children(stmt))

	assert.Empty(t, Children(NewVarDecl("x", Int, nil)))
	assert.Empty(t, Children(NewReturn(nil)))
	assert.Empty(t, Children(NewForeign("show", Unit)))
	assert.Panics(t, func() { Children(nil) })
}

func TestIndexAssignsPreorderIDs(t *testing.T) {
	a := NewVarDecl("a", Int, nil)
	inner := NewFunction("inner", Unit, []*VariableDeclaration{NewVarDecl("p", Int, nil)}, NewBlock())
	b := NewVarDecl("b", Int, NewInt(1))
	outer := NewFunction("outer", Unit, nil, NewBlock(a, inner, b))
	last := NewFunction("last", Unit, nil, NewBlock())

	arena := Index(&Program{Functions: []*FunctionDeclaration{outer, last}})

	var names []string
	for _, f := range arena.Functions {
		names = append(names, f.Identifier)
	}
	if diff := cmp.Diff([]string{"outer", "inner", "last"}, names); diff != "" {
		t.Errorf("function order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, a.ID)
	assert.Equal(t, 1, inner.Parameters[0].ID)
	assert.Equal(t, 2, b.ID)

	require.Same(t, inner, arena.Function(1))
	assert.Nil(t, arena.Function(3))
	assert.Nil(t, arena.Function(-1))
	assert.Equal(t, 3, arena.NewVariableID())
	assert.Equal(t, 4, arena.NewVariableID())
}
