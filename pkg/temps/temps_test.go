package temps

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/callgraph"
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/varaccess"
)

func normalize(t *testing.T, prog *ast.Program, body *ast.InstructionBlock) *ast.InstructionBlock {
	t.Helper()
	arena := ast.Index(prog)
	summary, err := varaccess.Build(prog, callgraph.Build(prog))
	require.NoError(t, err)
	out, err := Normalize(body, summary, arena)
	require.NoError(t, err)
	return out
}

func TestNothingToExtract(t *testing.T) {
	printFn := ast.NewForeign("print", ast.Unit, ast.NewVarDecl("v", ast.Int, nil))
	x := ast.NewVarDecl("x", ast.Int, ast.NewInt(1))
	y := ast.NewVarDecl("y", ast.Int, ast.NewArithmetic(ast.Add, ast.NewVariable(x), ast.NewInt(2)))
	body := ast.NewBlock(x, y,
		&ast.IfStatement{
			Condition: ast.NewComparison(ast.Less, ast.NewVariable(x), ast.NewVariable(y)),
			ThenBody:  ast.NewBlock(ast.NewCall(printFn, ast.NewVariable(x))),
		},
		ast.NewReturn(nil))
	main := ast.NewFunction("main", ast.Unit, nil, body)
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{printFn, main}}

	got := normalize(t, prog, body)
	if diff := cmp.Diff(body, got); diff != "" {
		t.Errorf("normalized body differs (-want +got):\n%s", diff)
	}
	assert.NotSame(t, body, got)
}

// captured builds main() { x := 1; fun bump() : Int { x = x + 1; return x }; <stmt> }
func captured(stmt func(x *ast.VariableDeclaration, bump *ast.FunctionDeclaration) ast.Node) (*ast.Program, *ast.InstructionBlock, *ast.VariableDeclaration) {
	x := ast.NewVarDecl("x", ast.Int, ast.NewInt(1))
	bump := ast.NewFunction("bump", ast.Int, nil, ast.NewBlock(
		ast.NewAssign(x, ast.NewArithmetic(ast.Add, ast.NewVariable(x), ast.NewInt(1))),
		ast.NewReturn(ast.NewVariable(x))))
	body := ast.NewBlock(x, bump, stmt(x, bump))
	main := ast.NewFunction("main", ast.Unit, nil, body)
	return &ast.Program{Functions: []*ast.FunctionDeclaration{main}}, body, x
}

func TestBinaryOperandHoisted(t *testing.T) {
	var sum *ast.ArithmeticOperation
	prog, body, x := captured(func(x *ast.VariableDeclaration, bump *ast.FunctionDeclaration) ast.Node {
		sum = ast.NewArithmetic(ast.Add, ast.NewVariable(x), ast.NewCall(bump))
		return ast.NewVarDecl("y", ast.Int, sum)
	})

	got := normalize(t, prog, body)
	require.Len(t, got.Instructions, 4)

	tmp, ok := got.Instructions[2].(*ast.VariableDeclaration)
	require.True(t, ok, "temporary must precede the statement, got %T", got.Instructions[2])
	assert.Equal(t, "tmp", tmp.Identifier)
	assert.True(t, ast.TypesEqual(ast.Int, tmp.VariableType))
	assert.Same(t, x, tmp.Value.(*ast.Variable).Declaration)

	y := got.Instructions[3].(*ast.VariableDeclaration)
	op := y.Value.(*ast.ArithmeticOperation)
	assert.Same(t, tmp, op.Left.(*ast.Variable).Declaration)
	assert.IsType(t, &ast.FunctionCall{}, op.Right)

	assert.Same(t, x, sum.Left.(*ast.Variable).Declaration, "input must not be modified")
	assert.Len(t, body.Instructions, 3)
}

func TestTemporaryIDsAreFresh(t *testing.T) {
	prog, body, _ := captured(func(x *ast.VariableDeclaration, bump *ast.FunctionDeclaration) ast.Node {
		return ast.NewVarDecl("y", ast.Int, ast.NewArithmetic(ast.Add, ast.NewVariable(x), ast.NewCall(bump)))
	})
	got := normalize(t, prog, body)

	ids := map[int]bool{}
	ast.Inspect(prog, func(n ast.Node) bool {
		if d, ok := n.(*ast.VariableDeclaration); ok { ids[d.ID] = true }
		return true
	})
	tmp := got.Instructions[2].(*ast.VariableDeclaration)
	assert.False(t, ids[tmp.ID], "temporary id %d collides with a declared variable", tmp.ID)
}

func TestArgumentModifiedByLaterArgument(t *testing.T) {
	pair := ast.NewForeign("pair", ast.Unit, ast.NewVarDecl("a", ast.Int, nil), ast.NewVarDecl("b", ast.Int, nil))
	x := ast.NewVarDecl("x", ast.Int, ast.NewInt(1))
	body := ast.NewBlock(x, ast.NewCall(pair, ast.NewVariable(x), ast.NewAssign(x, ast.NewInt(2))))
	main := ast.NewFunction("main", ast.Unit, nil, body)
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{pair, main}}

	got := normalize(t, prog, body)
	call := got.Instructions[1].(*ast.FunctionCall)
	first, ok := call.Arguments[0].(*ast.BlockWithResult)
	require.True(t, ok, "first argument must be copied, got %T", call.Arguments[0])
	decl := first.Body.Instructions[0].(*ast.VariableDeclaration)
	assert.Same(t, x, decl.Value.(*ast.Variable).Declaration)
	assert.Same(t, decl, first.Result.(*ast.Variable).Declaration)
	assert.IsType(t, &ast.Assignment{}, call.Arguments[1])
}

func TestLoopsAreRetargeted(t *testing.T) {
	loop := &ast.WhileStatement{Condition: ast.NewBool(true)}
	brk := &ast.BreakStatement{EnclosingLoop: loop}
	cont := &ast.ContinueStatement{EnclosingLoop: loop}
	loop.Body = ast.NewBlock(&ast.IfStatement{Condition: ast.NewBool(false), ThenBody: ast.NewBlock(cont)}, brk)
	body := ast.NewBlock(loop)
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{ast.NewFunction("main", ast.Unit, nil, body)}}

	got := normalize(t, prog, body)
	newLoop := got.Instructions[0].(*ast.WhileStatement)
	assert.NotSame(t, loop, newLoop)
	assert.Same(t, newLoop, newLoop.Body.Instructions[1].(*ast.BreakStatement).EnclosingLoop)
	inner := newLoop.Body.Instructions[0].(*ast.IfStatement).ThenBody.Instructions[0]
	assert.Same(t, newLoop, inner.(*ast.ContinueStatement).EnclosingLoop)
	assert.Same(t, loop, brk.EnclosingLoop, "input must not be modified")
}

func TestUnexpectedNode(t *testing.T) {
	body := ast.NewBlock(&ast.Program{})
	prog := &ast.Program{Functions: []*ast.FunctionDeclaration{ast.NewFunction("main", ast.Unit, nil, ast.NewBlock())}}
	arena := ast.Index(prog)
	summary, err := varaccess.Build(prog, callgraph.Build(prog))
	require.NoError(t, err)

	_, err = Normalize(body, summary, arena)
	require.Error(t, err)
	assert.Equal(t, errs.InvariantViolation, errs.KindOf(err))
}

func TestWhileConditionKeepsTemporaries(t *testing.T) {
	prog, body, x := captured(func(x *ast.VariableDeclaration, bump *ast.FunctionDeclaration) ast.Node {
		cond := ast.NewComparison(ast.Less,
			ast.NewArithmetic(ast.Add, ast.NewVariable(x), ast.NewCall(bump)), ast.NewInt(10))
		return &ast.WhileStatement{Condition: cond, Body: ast.NewBlock()}
	})

	got := normalize(t, prog, body)
	require.Len(t, got.Instructions, 3, "nothing is hoisted in front of the loop")
	loop := got.Instructions[2].(*ast.WhileStatement)

	cmpOp := loop.Condition.(*ast.Comparison)
	block, ok := cmpOp.Left.(*ast.BlockWithResult)
	require.True(t, ok, "the left operand re-evaluates its temporaries on every iteration, got %T", cmpOp.Left)
	require.Len(t, block.Body.Instructions, 1)
	tmp := block.Body.Instructions[0].(*ast.VariableDeclaration)
	assert.Equal(t, "tmp", tmp.Identifier)
	assert.Same(t, x, tmp.Value.(*ast.Variable).Declaration)

	sum := block.Result.(*ast.ArithmeticOperation)
	assert.Same(t, tmp, sum.Left.(*ast.Variable).Declaration)
}
