// Package ir defines the tree-shaped intermediate representation produced by codegen
// and consumed by instruction selection
package ir

import "github.com/xplshn/kju/pkg/ast"

// Node is an IR expression or effect. Every variant is a pointer to one of the structs below
type Node interface{ isNode() }

type IntegerImmediate struct{ Value int64 }
type BooleanImmediate struct{ Value bool }
type UnitImmediate struct{}

// MemoryRead loads the word at Addr
type MemoryRead struct{ Addr Node }
type MemoryWrite struct{ Addr, Value Node }
type RegisterRead struct{ Register Register }
type RegisterWrite struct {
	Register Register
	Value    Node
}

type ArithmeticBinaryOperation struct {
	Op       ast.ArithmeticOp
	Lhs, Rhs Node
}
type Comparison struct {
	Op       ast.ComparisonOp
	Lhs, Rhs Node
}
type LogicalBinaryOperation struct {
	Op       ast.LogicalOp
	Lhs, Rhs Node
}
type UnaryOperation struct {
	Op      ast.UnaryOp
	Operand Node
}

type Push struct{ Value Node }
type Pop struct{ Register Register }

// AlignStackPointer subtracts Offset from RSP; a negative offset releases stack
type AlignStackPointer struct{ Offset int }

// ReserveStackMemory allocates the function's local frame, read at render time
type ReserveStackMemory struct{ Function *Function }

// PushStackLayoutPointer pushes the address of the function's layout record
type PushStackLayoutPointer struct{ Function *Function }
type ClearDF struct{}
type Comment struct{ Text string }

// UsesDefines marks registers as read and clobbered without emitting code
type UsesDefines struct{ Uses, Defines []Register }

func (*IntegerImmediate) isNode()          {}
func (*BooleanImmediate) isNode()          {}
func (*UnitImmediate) isNode()             {}
func (*MemoryRead) isNode()                {}
func (*MemoryWrite) isNode()               {}
func (*RegisterRead) isNode()              {}
func (*RegisterWrite) isNode()             {}
func (*ArithmeticBinaryOperation) isNode() {}
func (*Comparison) isNode()                {}
func (*LogicalBinaryOperation) isNode()    {}
func (*UnaryOperation) isNode()            {}
func (*Push) isNode()                      {}
func (*Pop) isNode()                       {}
func (*AlignStackPointer) isNode()         {}
func (*ReserveStackMemory) isNode()        {}
func (*PushStackLayoutPointer) isNode()    {}
func (*ClearDF) isNode()                   {}
func (*Comment) isNode()                   {}
func (*UsesDefines) isNode()               {}

// Children returns the operand subtrees of n in evaluation order
func Children(n Node) []Node {
	switch e := n.(type) {
	case *MemoryRead: return []Node{e.Addr}
	case *MemoryWrite: return []Node{e.Addr, e.Value}
	case *RegisterWrite: return []Node{e.Value}
	case *ArithmeticBinaryOperation: return []Node{e.Lhs, e.Rhs}
	case *Comparison: return []Node{e.Lhs, e.Rhs}
	case *LogicalBinaryOperation: return []Node{e.Lhs, e.Rhs}
	case *UnaryOperation: return []Node{e.Operand}
	case *Push: return []Node{e.Value}
	}
	return nil
}

func Int(v int64) Node              { return &IntegerImmediate{Value: v} }
func Read(r Register) Node          { return &RegisterRead{Register: r} }
func Write(r Register, v Node) Node { return &RegisterWrite{Register: r, Value: v} }
func Add(lhs, rhs Node) Node        { return &ArithmeticBinaryOperation{Op: ast.Add, Lhs: lhs, Rhs: rhs} }
func Mul(lhs, rhs Node) Node        { return &ArithmeticBinaryOperation{Op: ast.Mul, Lhs: lhs, Rhs: rhs} }

// OffsetAddress is base + 8*words
func OffsetAddress(base Register, words int) Node { return Add(Read(base), Int(int64(8*words))) }
