// Package ast defines the types used to represent a type-resolved KJU Abstract Syntax Tree
package ast

import "fmt"

// Node is a closed sum type over the AST node kinds; every variant is a pointer to one of the structs below
type Node interface{ isNode() }

// Operation kinds
type ArithmeticOp int

const (
	Add ArithmeticOp = iota
	Sub
	Mul
	Div
	Mod
)

type ComparisonOp int

const (
	Equal ComparisonOp = iota
	NotEqual
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
)

type LogicalOp int

const (
	And LogicalOp = iota
	Or
)

type UnaryOp int

const (
	Not UnaryOp = iota
	Minus
	Plus
)

var arithmeticNames = [...]string{Add: "+", Sub: "-", Mul: "*", Div: "/", Mod: "%"}
var comparisonNames = [...]string{Equal: "==", NotEqual: "!=", Less: "<", LessOrEqual: "<=", Greater: ">", GreaterOrEqual: ">="}
var logicalNames = [...]string{And: "&&", Or: "||"}
var unaryNames = [...]string{Not: "!", Minus: "-", Plus: "+"}

func (op ArithmeticOp) String() string { return opName(arithmeticNames[:], int(op)) }
func (op ComparisonOp) String() string { return opName(comparisonNames[:], int(op)) }
func (op LogicalOp) String() string    { return opName(logicalNames[:], int(op)) }
func (op UnaryOp) String() string      { return opName(unaryNames[:], int(op)) }

func opName(names []string, i int) string {
	if i < 0 || i >= len(names) { return fmt.Sprintf("op(%d)", i) }
	return names[i]
}

// --- Node Structs ---

type Program struct {
	Functions []*FunctionDeclaration
	Structs   []*StructDeclaration
}

// FunctionDeclaration is a named function; ID is assigned by Index and is stable for the unit
type FunctionDeclaration struct {
	ID           int
	Identifier   string
	ReturnType   DataType
	Parameters   []*VariableDeclaration
	Body         *InstructionBlock
	IsForeign    bool
	IsEntryPoint bool
}

type InstructionBlock struct{ Instructions []Node }

// VariableDeclaration introduces a local or a parameter; Value is nil when uninitialized
type VariableDeclaration struct {
	ID           int
	Identifier   string
	VariableType DataType
	Value        Node
}

type WhileStatement struct {
	Condition Node
	Body      *InstructionBlock
}
type IfStatement struct {
	Condition Node
	ThenBody  *InstructionBlock
	ElseBody  *InstructionBlock
}
type FunctionCall struct {
	Identifier  string
	Arguments   []Node
	Declaration *FunctionDeclaration
}
type ReturnStatement struct{ Value Node }
type BreakStatement struct{ EnclosingLoop *WhileStatement }
type ContinueStatement struct{ EnclosingLoop *WhileStatement }
type Variable struct {
	Identifier  string
	Declaration *VariableDeclaration
}
type BoolLiteral struct{ Value bool }
type IntegerLiteral struct{ Value int64 }
type UnitLiteral struct{}
type NullLiteral struct{ Type DataType }
type Assignment struct {
	Lhs   *Variable
	Value Node
}
type CompoundAssignment struct {
	Lhs       *Variable
	Operation ArithmeticOp
	Value     Node
}
type ArithmeticOperation struct {
	Operation   ArithmeticOp
	Left, Right Node
}
type Comparison struct {
	Operation   ComparisonOp
	Left, Right Node
}
type LogicalBinaryOperation struct {
	Operation   LogicalOp
	Left, Right Node
}
type UnaryOperation struct {
	Operation UnaryOp
	Value     Node
}

// ArrayAccess reads Lhs[Offset]
type ArrayAccess struct {
	Lhs, Offset Node
	Type        DataType
}

// FieldAccess reads a struct field; Index is the field's position in the declaration
type FieldAccess struct {
	Lhs   Node
	Field string
	Index int
	Type  DataType
}

// ComplexAssignment writes through an ArrayAccess or FieldAccess
type ComplexAssignment struct{ Lhs, Value Node }
type ComplexCompoundAssignment struct {
	Lhs, Value Node
	Operation  ArithmeticOp
}
type ArrayAlloc struct {
	ElementType DataType
	Size        Node
}
type StructField struct {
	Name string
	Type DataType
}
type StructDeclaration struct {
	Name   string
	Fields []StructField
}
type StructAlloc struct{ Declaration *StructDeclaration }

// BlockWithResult executes Body, then evaluates to Result. Only temporary extraction produces it
type BlockWithResult struct {
	Body   *InstructionBlock
	Result Node
}

func (*Program) isNode()                   {}
func (*FunctionDeclaration) isNode()       {}
func (*InstructionBlock) isNode()          {}
func (*VariableDeclaration) isNode()       {}
func (*WhileStatement) isNode()            {}
func (*IfStatement) isNode()               {}
func (*FunctionCall) isNode()              {}
func (*ReturnStatement) isNode()           {}
func (*BreakStatement) isNode()            {}
func (*ContinueStatement) isNode()         {}
func (*Variable) isNode()                  {}
func (*BoolLiteral) isNode()               {}
func (*IntegerLiteral) isNode()            {}
func (*UnitLiteral) isNode()               {}
func (*NullLiteral) isNode()               {}
func (*Assignment) isNode()                {}
func (*CompoundAssignment) isNode()        {}
func (*ArithmeticOperation) isNode()       {}
func (*Comparison) isNode()                {}
func (*LogicalBinaryOperation) isNode()    {}
func (*UnaryOperation) isNode()            {}
func (*ArrayAccess) isNode()               {}
func (*FieldAccess) isNode()               {}
func (*ComplexAssignment) isNode()         {}
func (*ComplexCompoundAssignment) isNode() {}
func (*ArrayAlloc) isNode()                {}
func (*StructDeclaration) isNode()         {}
func (*StructAlloc) isNode()               {}
func (*BlockWithResult) isNode()           {}

// --- Node Constructors ---

func NewBlock(instructions ...Node) *InstructionBlock {
	return &InstructionBlock{Instructions: instructions}
}

func NewFunction(name string, ret DataType, params []*VariableDeclaration, body *InstructionBlock) *FunctionDeclaration {
	return &FunctionDeclaration{Identifier: name, ReturnType: ret, Parameters: params, Body: body}
}

func NewForeign(name string, ret DataType, params ...*VariableDeclaration) *FunctionDeclaration {
	return &FunctionDeclaration{Identifier: name, ReturnType: ret, Parameters: params, IsForeign: true}
}

func NewVarDecl(name string, typ DataType, value Node) *VariableDeclaration {
	return &VariableDeclaration{Identifier: name, VariableType: typ, Value: value}
}

func NewVariable(decl *VariableDeclaration) *Variable {
	return &Variable{Identifier: decl.Identifier, Declaration: decl}
}

func NewCall(decl *FunctionDeclaration, args ...Node) *FunctionCall {
	return &FunctionCall{Identifier: decl.Identifier, Arguments: args, Declaration: decl}
}

func NewInt(v int64) *IntegerLiteral { return &IntegerLiteral{Value: v} }
func NewBool(v bool) *BoolLiteral    { return &BoolLiteral{Value: v} }

func NewAssign(decl *VariableDeclaration, value Node) *Assignment {
	return &Assignment{Lhs: NewVariable(decl), Value: value}
}

func NewArithmetic(op ArithmeticOp, left, right Node) *ArithmeticOperation {
	return &ArithmeticOperation{Operation: op, Left: left, Right: right}
}

func NewComparison(op ComparisonOp, left, right Node) *Comparison {
	return &Comparison{Operation: op, Left: left, Right: right}
}

func NewLogical(op LogicalOp, left, right Node) *LogicalBinaryOperation {
	return &LogicalBinaryOperation{Operation: op, Left: left, Right: right}
}

func NewReturn(value Node) *ReturnStatement { return &ReturnStatement{Value: value} }
