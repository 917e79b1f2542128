// Package temps rewrites function bodies so that every expression can be lowered strictly left to right.
// Operands whose value could be changed by a later sibling are copied into temporaries first
package temps

import (
	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/varaccess"
)

const tmpName = "tmp"

type extractor struct {
	access *varaccess.Summary
	arena  *ast.Arena
	loops  map[*ast.WhileStatement]*ast.WhileStatement
}

// Normalize returns a rewritten copy of body. The input tree is never modified.
// Loops are rebuilt and every break and continue is re-targeted to the rebuilt loop
func Normalize(body *ast.InstructionBlock, access *varaccess.Summary, arena *ast.Arena) (*ast.InstructionBlock, error) {
	e := &extractor{access: access, arena: arena, loops: map[*ast.WhileStatement]*ast.WhileStatement{}}
	return e.block(body)
}

func (e *extractor) block(b *ast.InstructionBlock) (*ast.InstructionBlock, error) {
	if b == nil { return nil, nil }
	out := make([]ast.Node, 0, len(b.Instructions))
	for _, inst := range b.Instructions {
		hoisted, n, err := e.extract(inst)
		if err != nil { return nil, err }
		out = append(out, hoisted...)
		out = append(out, n)
	}
	return &ast.InstructionBlock{Instructions: out}, nil
}

// extract returns the instructions that must run before the statement containing n, and n rewritten
func (e *extractor) extract(n ast.Node) ([]ast.Node, ast.Node, error) {
	switch v := n.(type) {
	case *ast.FunctionDeclaration, *ast.StructDeclaration, *ast.Variable, *ast.BoolLiteral,
		*ast.IntegerLiteral, *ast.UnitLiteral, *ast.NullLiteral, *ast.StructAlloc:
		return nil, n, nil

	case *ast.BreakStatement:
		if loop, ok := e.loops[v.EnclosingLoop]; ok { return nil, &ast.BreakStatement{EnclosingLoop: loop}, nil }
		return nil, n, nil
	case *ast.ContinueStatement:
		if loop, ok := e.loops[v.EnclosingLoop]; ok { return nil, &ast.ContinueStatement{EnclosingLoop: loop}, nil }
		return nil, n, nil

	case *ast.InstructionBlock:
		b, err := e.block(v)
		return nil, b, err

	case *ast.VariableDeclaration:
		if v.Value == nil { return nil, n, nil }
		hoisted, value, err := e.extract(v.Value)
		if err != nil { return nil, nil, err }
		decl := *v
		decl.Value = value
		return hoisted, &decl, nil

	case *ast.WhileStatement:
		loop := &ast.WhileStatement{}
		e.loops[v] = loop
		body, err := e.block(v.Body)
		if err != nil { return nil, nil, err }
		// the condition runs on every iteration, so its temporaries stay inside it
		cond, err := e.replaceWithBlock(v.Condition)
		if err != nil { return nil, nil, err }
		loop.Condition, loop.Body = cond, body
		return nil, loop, nil

	case *ast.IfStatement:
		then, err := e.block(v.ThenBody)
		if err != nil { return nil, nil, err }
		els, err := e.block(v.ElseBody)
		if err != nil { return nil, nil, err }
		hoisted, cond, err := e.extract(v.Condition)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.IfStatement{Condition: cond, ThenBody: then, ElseBody: els}, nil

	case *ast.FunctionCall:
		return e.call(v)

	case *ast.ReturnStatement:
		if v.Value == nil { return nil, n, nil }
		hoisted, value, err := e.extract(v.Value)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.ReturnStatement{Value: value}, nil

	case *ast.Assignment:
		hoisted, value, err := e.extract(v.Value)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.Assignment{Lhs: v.Lhs, Value: value}, nil

	case *ast.CompoundAssignment:
		hoisted, value, err := e.extract(v.Value)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.CompoundAssignment{Lhs: v.Lhs, Operation: v.Operation, Value: value}, nil

	case *ast.UnaryOperation:
		hoisted, value, err := e.extract(v.Value)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.UnaryOperation{Operation: v.Operation, Value: value}, nil

	case *ast.ArithmeticOperation:
		hoisted, l, r, err := e.binary(v.Left, v.Right)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.ArithmeticOperation{Operation: v.Operation, Left: l, Right: r}, nil
	case *ast.Comparison:
		hoisted, l, r, err := e.binary(v.Left, v.Right)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.Comparison{Operation: v.Operation, Left: l, Right: r}, nil
	case *ast.LogicalBinaryOperation:
		hoisted, l, r, err := e.binary(v.Left, v.Right)
		if err != nil { return nil, nil, err }
		return hoisted, &ast.LogicalBinaryOperation{Operation: v.Operation, Left: l, Right: r}, nil

	case *ast.ArrayAccess, *ast.FieldAccess:
		access, err := e.container(n)
		return nil, access, err

	case *ast.ComplexAssignment:
		lhs, err := e.container(v.Lhs)
		if err != nil { return nil, nil, err }
		value, err := e.replaceWithBlock(v.Value)
		if err != nil { return nil, nil, err }
		return nil, &ast.ComplexAssignment{Lhs: lhs, Value: value}, nil

	case *ast.ComplexCompoundAssignment:
		lhs, err := e.container(v.Lhs)
		if err != nil { return nil, nil, err }
		value, err := e.replaceWithBlock(v.Value)
		if err != nil { return nil, nil, err }
		return nil, &ast.ComplexCompoundAssignment{Lhs: lhs, Value: value, Operation: v.Operation}, nil

	case *ast.ArrayAlloc:
		size, err := e.replaceWithBlock(v.Size)
		if err != nil { return nil, nil, err }
		return nil, &ast.ArrayAlloc{ElementType: v.ElementType, Size: size}, nil

	case *ast.BlockWithResult:
		body, err := e.block(v.Body)
		if err != nil { return nil, nil, err }
		result, err := e.replaceWithBlock(v.Result)
		if err != nil { return nil, nil, err }
		return nil, &ast.BlockWithResult{Body: body, Result: result}, nil

	case nil:
		return nil, nil, errs.Invariantf("", "nil node in function body")
	}
	return nil, nil, errs.Invariantf("", "unexpected node %T in function body", n)
}

// call wraps every argument in its own block so that argument temporaries run in argument order
func (e *extractor) call(c *ast.FunctionCall) ([]ast.Node, ast.Node, error) {
	args := make([]ast.Node, len(c.Arguments))
	for i, arg := range c.Arguments {
		if v, ok := arg.(*ast.Variable); ok && v.Declaration != nil && e.modifiedLater(c.Arguments[i+1:], v.Declaration.ID) {
			decl, tmp := e.temporary(arg)
			args[i] = &ast.BlockWithResult{Body: ast.NewBlock(decl), Result: tmp}
			continue
		}
		wrapped, err := e.replaceWithBlock(arg)
		if err != nil { return nil, nil, err }
		args[i] = wrapped
	}
	return nil, &ast.FunctionCall{Identifier: c.Identifier, Arguments: args, Declaration: c.Declaration}, nil
}

func (e *extractor) modifiedLater(rest []ast.Node, id int) bool {
	for _, later := range rest {
		if e.access.Modifies(later).Has(id) { return true }
	}
	return false
}

// binary rewrites both operands. The left operand is copied into a temporary when either side
// may write a variable the other reads, since its value is only consumed after the right side has run
func (e *extractor) binary(left, right ast.Node) ([]ast.Node, ast.Node, ast.Node, error) {
	l, err := e.replaceWithBlock(left)
	if err != nil { return nil, nil, nil, err }

	var hoisted []ast.Node
	if e.access.Modifies(left).Intersects(e.access.Accesses(right)) ||
		e.access.Modifies(right).Intersects(e.access.Accesses(left)) {
		decl, tmp := e.temporary(l)
		decl.VariableType = ast.TypeOf(left)
		hoisted = append(hoisted, decl)
		l = tmp
	}

	r, err := e.replaceWithBlock(right)
	if err != nil { return nil, nil, nil, err }
	return hoisted, l, r, nil
}

// container rewrites the operands of an array or field access in place of evaluation
func (e *extractor) container(n ast.Node) (ast.Node, error) {
	switch v := n.(type) {
	case *ast.ArrayAccess:
		lhs, err := e.replaceWithBlock(v.Lhs)
		if err != nil { return nil, err }
		offset, err := e.replaceWithBlock(v.Offset)
		if err != nil { return nil, err }
		return &ast.ArrayAccess{Lhs: lhs, Offset: offset, Type: v.Type}, nil
	case *ast.FieldAccess:
		lhs, err := e.replaceWithBlock(v.Lhs)
		if err != nil { return nil, err }
		return &ast.FieldAccess{Lhs: lhs, Field: v.Field, Index: v.Index, Type: v.Type}, nil
	}
	return nil, errs.Invariantf("", "%T is not an array or field access", n)
}

// replaceWithBlock keeps an expression's temporaries next to it
func (e *extractor) replaceWithBlock(n ast.Node) (ast.Node, error) {
	hoisted, rewritten, err := e.extract(n)
	if err != nil { return nil, err }
	if len(hoisted) == 0 { return rewritten, nil }
	return &ast.BlockWithResult{Body: &ast.InstructionBlock{Instructions: hoisted}, Result: rewritten}, nil
}

func (e *extractor) temporary(value ast.Node) (*ast.VariableDeclaration, *ast.Variable) {
	decl := &ast.VariableDeclaration{
		ID:           e.arena.NewVariableID(),
		Identifier:   tmpName,
		VariableType: ast.TypeOf(value),
		Value:        value,
	}
	return decl, ast.NewVariable(decl)
}
