package asm

import (
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
)

// Template covers an IR pattern with one instruction.
//
// In a Shape, a nil child stands for any subtree whose value arrives in a register, a
// RegisterRead or RegisterWrite with a nil Register stands for any register, and an immediate
// matches every value of its kind. Fit lists what each placeholder matched; instruction
// selection replaces the subtree entries with the registers holding their values before Emit
type Template interface {
	Shape() ir.Node
	Score() float64
	IsConditionalJump() bool
	Emit(result ir.Register, fill []any, label string) (Instruction, error)
}

type template struct {
	name   string
	shape  ir.Node
	score  float64
	branch bool
	emit   func(result ir.Register, f *filler, label string) Instruction
}

func (t *template) Shape() ir.Node          { return t.shape }
func (t *template) Score() float64          { return t.score }
func (t *template) IsConditionalJump() bool { return t.branch }
func (t *template) String() string          { return t.name }

func (t *template) Emit(result ir.Register, fill []any, label string) (Instruction, error) {
	f := &filler{template: t.name, fill: fill}
	inst := t.emit(result, f, label)
	if f.err != nil { return nil, f.err }
	return inst, nil
}

// filler reads typed values out of a fill, keeping the first mismatch
type filler struct {
	template string
	fill     []any
	err      error
}

func (f *filler) at(i int) any {
	if i >= len(f.fill) {
		if f.err == nil { f.err = errs.Invariantf(f.template, "fill has %d values, need %d", len(f.fill), i+1) }
		return nil
	}
	return f.fill[i]
}

func (f *filler) mismatch(i int, want string) {
	if f.err == nil { f.err = errs.Invariantf(f.template, "fill[%d] is %T, want %s", i, f.fill[i], want) }
}

func (f *filler) reg(i int) ir.Register {
	v := f.at(i)
	if v == nil { return nil }
	r, ok := v.(ir.Register)
	if !ok { f.mismatch(i, "register") }
	return r
}

func (f *filler) int(i int) int64 {
	v := f.at(i)
	if v == nil { return 0 }
	n, ok := v.(int64)
	if !ok { f.mismatch(i, "int64") }
	return n
}

func (f *filler) bool(i int) bool {
	v := f.at(i)
	if v == nil { return false }
	b, ok := v.(bool)
	if !ok { f.mismatch(i, "bool") }
	return b
}

func (f *filler) text(i int) string {
	v := f.at(i)
	if v == nil { return "" }
	s, ok := v.(string)
	if !ok { f.mismatch(i, "string") }
	return s
}

func (f *filler) function(i int) *ir.Function {
	v := f.at(i)
	if v == nil { return nil }
	fn, ok := v.(*ir.Function)
	if !ok { f.mismatch(i, "*ir.Function") }
	return fn
}

func (f *filler) registers(i int) []ir.Register {
	v := f.at(i)
	if v == nil { return nil }
	rs, ok := v.([]ir.Register)
	if !ok { f.mismatch(i, "[]ir.Register") }
	return rs
}

// Fit matches node against shape and returns the placeholder values in pre-order:
// a node's own values come before those of its children
func Fit(shape, node ir.Node) ([]any, bool) {
	fill := []any{}
	if !fit(shape, node, &fill) { return nil, false }
	return fill, true
}

func fit(shape, node ir.Node, fill *[]any) bool {
	if shape == nil {
		if node == nil { return false }
		*fill = append(*fill, node)
		return true
	}
	put := func(v any) { *fill = append(*fill, v) }
	reg := func(want, got ir.Register) bool {
		if want != nil { return want == got }
		put(got)
		return true
	}

	switch s := shape.(type) {
	case *ir.IntegerImmediate:
		n, ok := node.(*ir.IntegerImmediate)
		if ok { put(n.Value) }
		return ok
	case *ir.BooleanImmediate:
		n, ok := node.(*ir.BooleanImmediate)
		if ok { put(n.Value) }
		return ok
	case *ir.UnitImmediate:
		_, ok := node.(*ir.UnitImmediate)
		return ok
	case *ir.MemoryRead:
		n, ok := node.(*ir.MemoryRead)
		return ok && fit(s.Addr, n.Addr, fill)
	case *ir.MemoryWrite:
		n, ok := node.(*ir.MemoryWrite)
		return ok && fit(s.Addr, n.Addr, fill) && fit(s.Value, n.Value, fill)
	case *ir.RegisterRead:
		n, ok := node.(*ir.RegisterRead)
		return ok && reg(s.Register, n.Register)
	case *ir.RegisterWrite:
		n, ok := node.(*ir.RegisterWrite)
		return ok && reg(s.Register, n.Register) && fit(s.Value, n.Value, fill)
	case *ir.ArithmeticBinaryOperation:
		n, ok := node.(*ir.ArithmeticBinaryOperation)
		return ok && s.Op == n.Op && fit(s.Lhs, n.Lhs, fill) && fit(s.Rhs, n.Rhs, fill)
	case *ir.Comparison:
		n, ok := node.(*ir.Comparison)
		return ok && s.Op == n.Op && fit(s.Lhs, n.Lhs, fill) && fit(s.Rhs, n.Rhs, fill)
	case *ir.LogicalBinaryOperation:
		n, ok := node.(*ir.LogicalBinaryOperation)
		return ok && s.Op == n.Op && fit(s.Lhs, n.Lhs, fill) && fit(s.Rhs, n.Rhs, fill)
	case *ir.UnaryOperation:
		n, ok := node.(*ir.UnaryOperation)
		return ok && s.Op == n.Op && fit(s.Operand, n.Operand, fill)
	case *ir.Push:
		n, ok := node.(*ir.Push)
		return ok && fit(s.Value, n.Value, fill)
	case *ir.Pop:
		n, ok := node.(*ir.Pop)
		return ok && reg(s.Register, n.Register)
	case *ir.AlignStackPointer:
		n, ok := node.(*ir.AlignStackPointer)
		if ok { put(int64(n.Offset)) }
		return ok
	case *ir.ReserveStackMemory:
		n, ok := node.(*ir.ReserveStackMemory)
		if ok { put(n.Function) }
		return ok
	case *ir.PushStackLayoutPointer:
		n, ok := node.(*ir.PushStackLayoutPointer)
		if ok { put(n.Function) }
		return ok
	case *ir.ClearDF:
		_, ok := node.(*ir.ClearDF)
		return ok
	case *ir.Comment:
		n, ok := node.(*ir.Comment)
		if ok { put(n.Text) }
		return ok
	case *ir.UsesDefines:
		n, ok := node.(*ir.UsesDefines)
		if ok { put(n.Uses); put(n.Defines) }
		return ok
	}
	return false
}
