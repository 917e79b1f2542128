package ast

import (
	"fmt"
	"sync/atomic"
)

// Children returns the immediate children of n in evaluation order. Nil optional children are skipped
func Children(n Node) []Node {
	var out []Node
	add := func(children ...Node) {
		for _, c := range children {
			if !isNil(c) { out = append(out, c) }
		}
	}

	switch e := n.(type) {
	case *Program:
		for _, s := range e.Structs { add(s) }
		for _, f := range e.Functions { add(f) }
	case *FunctionDeclaration:
		for _, p := range e.Parameters { add(p) }
		if e.Body != nil { add(e.Body) }
	case *InstructionBlock:
		add(e.Instructions...)
	case *VariableDeclaration:
		add(e.Value)
	case *WhileStatement:
		add(e.Condition)
		if e.Body != nil { add(e.Body) }
	case *IfStatement:
		add(e.Condition)
		if e.ThenBody != nil { add(e.ThenBody) }
		if e.ElseBody != nil { add(e.ElseBody) }
	case *FunctionCall:
		add(e.Arguments...)
	case *ReturnStatement:
		add(e.Value)
	case *Assignment:
		add(e.Lhs, e.Value)
	case *CompoundAssignment:
		add(e.Lhs, e.Value)
	case *ArithmeticOperation:
		add(e.Left, e.Right)
	case *Comparison:
		add(e.Left, e.Right)
	case *LogicalBinaryOperation:
		add(e.Left, e.Right)
	case *UnaryOperation:
		add(e.Value)
	case *ArrayAccess:
		add(e.Lhs, e.Offset)
	case *FieldAccess:
		add(e.Lhs)
	case *ComplexAssignment:
		add(e.Lhs, e.Value)
	case *ComplexCompoundAssignment:
		add(e.Lhs, e.Value)
	case *ArrayAlloc:
		add(e.Size)
	case *BlockWithResult:
		if e.Body != nil { add(e.Body) }
		add(e.Result)
	case *BreakStatement, *ContinueStatement, *Variable, *BoolLiteral, *IntegerLiteral,
		*UnitLiteral, *NullLiteral, *StructDeclaration, *StructAlloc:
	default:
		panic(fmt.Sprintf("ast: unknown node type %T", n))
	}
	return out
}

// isNil catches typed nil pointers stored in a Node interface
func isNil(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *InstructionBlock:
		return v == nil
	case *Variable:
		return v == nil
	case *FunctionDeclaration:
		return v == nil
	case *VariableDeclaration:
		return v == nil
	}
	return false
}

// Inspect traverses the tree in pre-order. If f returns false the children of n are skipped
func Inspect(n Node, f func(Node) bool) {
	if isNil(n) || !f(n) { return }
	for _, c := range Children(n) {
		Inspect(c, f)
	}
}

// Arena interns function and variable declarations to small integer ids
type Arena struct {
	Functions []*FunctionDeclaration
	nextVar   atomic.Int64
}

// Index assigns pre-order ids to every function and variable declaration reachable from root
func Index(root Node) *Arena {
	a := &Arena{}
	vars := 0
	Inspect(root, func(n Node) bool {
		switch d := n.(type) {
		case *FunctionDeclaration:
			d.ID = len(a.Functions)
			a.Functions = append(a.Functions, d)
		case *VariableDeclaration:
			d.ID = vars
			vars++
		}
		return true
	})
	a.nextVar.Store(int64(vars))
	return a
}

// Function returns the declaration with the given id, or nil
func (a *Arena) Function(id int) *FunctionDeclaration {
	if id < 0 || id >= len(a.Functions) { return nil }
	return a.Functions[id]
}

// NewVariableID allocates an id that no indexed declaration uses. Safe for concurrent use
func (a *Arena) NewVariableID() int { return int(a.nextVar.Add(1) - 1) }
