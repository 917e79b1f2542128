package varaccess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/callgraph"
)

type unit struct {
	prog         *ast.Program
	x, y, p      *ast.VariableDeclaration
	main, setter *ast.FunctionDeclaration
	callSetter   *ast.FunctionCall
	callPrint    *ast.FunctionCall
	sum          *ast.ArithmeticOperation
}

// newUnit builds:
//
//	foreign print(v Int)
//	main() { x := 1; fun setter(p Int) { x = p }; y := x + setter(2); print(y) }
func newUnit() *unit {
	u := &unit{}
	printFn := ast.NewForeign("print", ast.Unit, ast.NewVarDecl("v", ast.Int, nil))
	u.x = ast.NewVarDecl("x", ast.Int, ast.NewInt(1))
	u.p = ast.NewVarDecl("p", ast.Int, nil)
	u.setter = ast.NewFunction("setter", ast.Unit, []*ast.VariableDeclaration{u.p},
		ast.NewBlock(ast.NewAssign(u.x, ast.NewVariable(u.p))))
	u.callSetter = ast.NewCall(u.setter, ast.NewInt(2))
	u.sum = ast.NewArithmetic(ast.Add, ast.NewVariable(u.x), u.callSetter)
	u.y = ast.NewVarDecl("y", ast.Int, u.sum)
	u.callPrint = ast.NewCall(printFn, ast.NewVariable(u.y))
	u.main = ast.NewFunction("main", ast.Unit, nil, ast.NewBlock(u.x, u.setter, u.y, u.callPrint))
	u.prog = &ast.Program{Functions: []*ast.FunctionDeclaration{printFn, u.main}}
	ast.Index(u.prog)
	return u
}

func build(t *testing.T, u *unit) *Summary {
	t.Helper()
	s, err := Build(u.prog, callgraph.Build(u.prog))
	require.NoError(t, err)
	return s
}

func TestPerFunctionSets(t *testing.T) {
	u := newUnit()
	s := build(t, u)

	assert.Equal(t, sorted(u.x.ID, u.p.ID), s.FunctionModifies(u.setter.ID).Sorted())
	assert.Equal(t, sorted(u.x.ID, u.p.ID), s.FunctionAccesses(u.setter.ID).Sorted(), "an assignment target counts as accessed")
	assert.True(t, s.FunctionModifies(u.main.ID).Has(u.x.ID), "main calls setter, which assigns x")
	assert.True(t, s.OwnReferences(u.setter.ID).Has(u.p.ID))
	assert.False(t, s.OwnReferences(u.main.ID).Has(u.p.ID), "nested bodies are not main's own references")
}

func TestPerNodeSets(t *testing.T) {
	u := newUnit()
	s := build(t, u)

	assert.True(t, s.Modifies(u.callSetter).Has(u.x.ID))
	assert.True(t, s.Accesses(u.sum.Left).Has(u.x.ID))
	assert.True(t, s.Modifies(u.sum).Has(u.x.ID))
	assert.True(t, s.Modifies(u.callSetter).Intersects(s.Accesses(u.sum.Left)))
	assert.Empty(t, s.Modifies(u.sum.Left))
}

func TestForeignCalleeContributesNothing(t *testing.T) {
	u := newUnit()
	s := build(t, u)

	assert.Equal(t, []int{u.y.ID}, s.Accesses(u.callPrint).Sorted())
	assert.Empty(t, s.Modifies(u.callPrint))
}

func TestDeclarationIsBoundary(t *testing.T) {
	u := newUnit()
	s := build(t, u)

	assert.Empty(t, s.Modifies(u.setter))
	assert.Empty(t, s.Accesses(u.setter))
}

func TestUnknownNodeIsEmpty(t *testing.T) {
	s := build(t, newUnit())
	assert.Empty(t, s.Accesses(ast.NewInt(3)))
	assert.Empty(t, s.Modifies(&ast.BlockWithResult{}))
}

func sorted(ids ...int) []int {
	out := Set{}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out.Sorted()
}
