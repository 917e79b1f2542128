package ast

import "strings"

// DataType is the closed set of KJU types. All variants are plain values and compare structurally via TypesEqual
type DataType interface {
	isDataType()
	String() string
}

type BoolType struct{}
type IntType struct{}
type UnitType struct{}
type ArrayType struct{ Elem DataType }
type StructType struct{ Name string }

// FunType is the type of a function-valued expression. It can be sized but not mangled
type FunType struct {
	Params []DataType
	Result DataType
}

// Pre-defined types
var (
	Bool DataType = BoolType{}
	Int  DataType = IntType{}
	Unit DataType = UnitType{}
)

func (BoolType) isDataType()   {}
func (IntType) isDataType()    {}
func (UnitType) isDataType()   {}
func (ArrayType) isDataType()  {}
func (StructType) isDataType() {}
func (FunType) isDataType()    {}

func (BoolType) String() string     { return "Bool" }
func (IntType) String() string      { return "Int" }
func (UnitType) String() string     { return "Unit" }
func (t ArrayType) String() string  { return "[" + typeString(t.Elem) + "]" }
func (t StructType) String() string { return t.Name }
func (t FunType) String() string {
	params := make([]string, len(t.Params))
	for i, p := range t.Params {
		params[i] = typeString(p)
	}
	return "(" + strings.Join(params, ", ") + ") -> " + typeString(t.Result)
}

func typeString(t DataType) string {
	if t == nil { return "<nil>" }
	return t.String()
}

func ArrayOf(elem DataType) DataType { return ArrayType{Elem: elem} }

// TypesEqual compares two types structurally
func TypesEqual(a, b DataType) bool {
	switch x := a.(type) {
	case BoolType, IntType, UnitType:
		return a == b
	case ArrayType:
		y, ok := b.(ArrayType)
		return ok && TypesEqual(x.Elem, y.Elem)
	case StructType:
		y, ok := b.(StructType)
		return ok && x.Name == y.Name
	case FunType:
		y, ok := b.(FunType)
		if !ok || len(x.Params) != len(y.Params) || !TypesEqual(x.Result, y.Result) { return false }
		for i := range x.Params {
			if !TypesEqual(x.Params[i], y.Params[i]) { return false }
		}
		return true
	}
	return a == nil && b == nil
}

// IsHeapType reports whether values of t are pointers into the managed heap
func IsHeapType(t DataType) bool {
	switch t.(type) {
	case ArrayType, StructType:
		return true
	}
	return false
}

// StackArgumentsCount is the number of arguments passed on the stack when calling a function of this type through a closure
func (t FunType) StackArgumentsCount(argumentRegisters int) int {
	return StackArguments(len(t.Params), true, argumentRegisters)
}

// StackArguments is max(0, params + hasParent - argumentRegisters)
func StackArguments(params int, hasParent bool, argumentRegisters int) int {
	n := params - argumentRegisters
	if hasParent { n++ }
	if n < 0 { return 0 }
	return n
}

// TypeOf returns the static type of an expression node; statements are Unit
func TypeOf(n Node) DataType {
	switch e := n.(type) {
	case *Variable:
		if e.Declaration == nil { return nil }
		return e.Declaration.VariableType
	case *BoolLiteral, *Comparison, *LogicalBinaryOperation:
		return Bool
	case *IntegerLiteral, *ArithmeticOperation:
		return Int
	case *UnaryOperation:
		if e.Operation == Not { return Bool }
		return Int
	case *NullLiteral:
		return e.Type
	case *FunctionCall:
		if e.Declaration == nil { return nil }
		return e.Declaration.ReturnType
	case *Assignment:
		return TypeOf(e.Lhs)
	case *CompoundAssignment:
		return TypeOf(e.Lhs)
	case *ArrayAccess:
		return e.Type
	case *FieldAccess:
		return e.Type
	case *ComplexAssignment:
		return TypeOf(e.Lhs)
	case *ComplexCompoundAssignment:
		return TypeOf(e.Lhs)
	case *ArrayAlloc:
		return ArrayOf(e.ElementType)
	case *StructAlloc:
		return StructType{Name: e.Declaration.Name}
	case *BlockWithResult:
		return TypeOf(e.Result)
	}
	return Unit
}
