package callgraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/errs"
)

// edgesByName renders a graph with identifiers instead of ids
func edgesByName(g *Graph) map[string][]string {
	out := map[string][]string{}
	for _, k := range g.Keys() {
		callees := []string{}
		for _, c := range g.Callees(k) {
			callees = append(callees, g.Declaration(c).Identifier)
		}
		out[g.Declaration(k).Identifier] = callees
	}
	return out
}

func TestForeignCalleeIsDropped(t *testing.T) {
	c := ast.NewForeign("C", ast.Unit)
	b := ast.NewFunction("B", ast.Unit, nil, ast.NewBlock(ast.NewCall(c)))
	a := ast.NewFunction("A", ast.Unit, nil, ast.NewBlock(ast.NewCall(b)))
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{a, b, c}}
	ast.Index(prog)

	g := Build(prog)
	want := map[string][]string{"A": {"B"}, "B": {}}
	if diff := cmp.Diff(want, edgesByName(g)); diff != "" {
		t.Errorf("call graph mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, g.Has(c.ID))
}

func TestNestedDeclarationIsScopeBoundary(t *testing.T) {
	leaf := ast.NewFunction("leaf", ast.Unit, nil, ast.NewBlock())
	inner := ast.NewFunction("inner", ast.Unit, nil, ast.NewBlock(ast.NewCall(leaf)))
	outer := ast.NewFunction("outer", ast.Unit, nil, ast.NewBlock(inner, ast.NewCall(inner)))
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{leaf, outer}}
	ast.Index(prog)

	want := map[string][]string{
		"leaf":  {},
		"inner": {"leaf"},
		"outer": {"inner"},
	}
	if diff := cmp.Diff(want, edgesByName(Build(prog))); diff != "" {
		t.Errorf("call graph mismatch (-want +got):\n%s", diff)
	}
}

func TestCallsInsideArguments(t *testing.T) {
	x := ast.NewVarDecl("x", ast.Int, nil)
	id := ast.NewFunction("id", ast.Int, []*ast.VariableDeclaration{x}, ast.NewBlock(ast.NewReturn(ast.NewVariable(x))))
	zero := ast.NewFunction("zero", ast.Int, nil, ast.NewBlock(ast.NewReturn(ast.NewInt(0))))
	main := ast.NewFunction("main", ast.Unit, nil, ast.NewBlock(ast.NewCall(id, ast.NewCall(zero))))
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{id, zero, main}}
	ast.Index(prog)

	want := map[string][]string{"id": {}, "zero": {}, "main": {"id", "zero"}}
	if diff := cmp.Diff(want, edgesByName(Build(prog))); diff != "" {
		t.Errorf("call graph mismatch (-want +got):\n%s", diff)
	}
}

func TestEveryCalleeIsAKey(t *testing.T) {
	ext := ast.NewForeign("print", ast.Unit, ast.NewVarDecl("v", ast.Int, nil))
	f := ast.NewFunction("f", ast.Unit, nil, ast.NewBlock(ast.NewCall(ext, ast.NewInt(1))))
	g := ast.NewFunction("g", ast.Unit, nil, ast.NewBlock(ast.NewCall(f), ast.NewCall(ext, ast.NewInt(2))))
	h := ast.NewFunction("h", ast.Unit, nil, ast.NewBlock(ast.NewCall(g), ast.NewCall(f)))
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{ext, f, g, h}}
	ast.Index(prog)

	graph := Build(prog)
	for _, k := range graph.Keys() {
		for _, c := range graph.Callees(k) {
			assert.True(t, graph.Has(c), "callee %d of %d is not a key", c, k)
		}
	}
}

func TestTransitiveClosure(t *testing.T) {
	g := FromEdges(map[int][]int{0: {1}, 1: {2}, 2: {}, 3: {3}, 4: {5}, 5: {4}})
	closure, err := g.TransitiveClosure()
	require.NoError(t, err)

	want := map[int][]int{0: {1, 2}, 1: {2}, 2: {}, 3: {3}, 4: {4, 5}, 5: {4, 5}}
	got := map[int][]int{}
	for _, k := range closure.Keys() {
		got[k] = closure.Callees(k)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("closure mismatch (-want +got):\n%s", diff)
	}
}

func TestTransitiveClosureRejectsDanglingCallee(t *testing.T) {
	_, err := FromEdges(map[int][]int{0: {7}}).TransitiveClosure()
	require.Error(t, err)
	assert.Equal(t, errs.InvariantViolation, errs.KindOf(err))
}

func TestRecursionAndReachability(t *testing.T) {
	g := FromEdges(map[int][]int{0: {1}, 1: {2}, 2: {1}, 3: {}, 4: {4}})
	assert.False(t, g.Recursive(0))
	assert.True(t, g.Recursive(1))
	assert.True(t, g.Recursive(2))
	assert.False(t, g.Recursive(3))
	assert.True(t, g.Recursive(4))

	assert.Equal(t, []int{0, 1, 2}, g.Reachable(0))
	assert.Equal(t, []int{3}, g.Reachable(3))
}

func TestCalleeOutsideTreeIsNotAnEdge(t *testing.T) {
	elsewhere := ast.NewFunction("elsewhere", ast.Unit, nil, ast.NewBlock())
	main := ast.NewFunction("kju", ast.Unit, nil, ast.NewBlock(ast.NewCall(elsewhere)))
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{main}}
	ast.Index(prog)
	require.Equal(t, main.ID, elsewhere.ID, "both carry id 0")

	g := Build(prog)
	assert.Empty(t, g.Callees(main.ID))
	assert.False(t, g.Recursive(main.ID))
	assert.Same(t, main, g.Declaration(main.ID))
}
