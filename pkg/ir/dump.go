package ir

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Reachable lists the labels reachable from entry in depth-first discovery order
func Reachable(entry *Label) []*Label {
	var order []*Label
	seen := map[*Label]bool{}
	var visit func(*Label)
	visit = func(l *Label) {
		if l == nil || seen[l] { return }
		seen[l] = true
		order = append(order, l)
		for _, next := range Successors(l.Tree().ControlFlow) {
			visit(next)
		}
	}
	visit(entry)
	return order
}

// Successors returns the labels cf may transfer control to within the same function
func Successors(cf ControlFlow) []*Label {
	switch c := cf.(type) {
	case *UnconditionalJump: return []*Label{c.Target}
	case *ConditionalJump: return []*Label{c.TrueTarget, c.FalseTarget}
	case *FunctionCall: return []*Label{c.TargetAfter}
	}
	return nil
}

// Printer renders trees as s-expressions. Virtual registers are renumbered in order of
// first appearance so output does not depend on global allocation order
type Printer struct {
	virtuals map[VirtualRegister]int
}

func NewPrinter() *Printer { return &Printer{virtuals: map[VirtualRegister]int{}} }

// Dump writes the instruction graph of fn starting at entry
func Dump(w io.Writer, fn *Function, entry *Label) error {
	p := NewPrinter()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "function %s", fn.MangledName)
	if fn.Parent != nil { fmt.Fprintf(bw, " parent=%s", fn.Parent.MangledName) }
	fmt.Fprintf(bw, " stack=%d\n", fn.StackBytes)
	for _, l := range Reachable(entry) {
		t := l.Tree()
		fmt.Fprintf(bw, "%s:\n\t%s\n\t%s\n", l.ID, p.Node(t.Root), p.ControlFlow(t.ControlFlow))
	}
	return bw.Flush()
}

func (p *Printer) Register(r Register) string {
	switch v := r.(type) {
	case VirtualRegister:
		n, ok := p.virtuals[v]
		if !ok {
			n = len(p.virtuals)
			p.virtuals[v] = n
		}
		return fmt.Sprintf("%%%d", n)
	case nil:
		return "_"
	}
	return r.String()
}

func (p *Printer) registers(rs []Register) string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = p.Register(r)
	}
	return "{" + strings.Join(names, " ") + "}"
}

// Node formats n; nil prints as the placeholder "_"
func (p *Printer) Node(n Node) string {
	switch e := n.(type) {
	case nil: return "_"
	case *IntegerImmediate: return fmt.Sprintf("%d", e.Value)
	case *BooleanImmediate: return fmt.Sprintf("%t", e.Value)
	case *UnitImmediate: return "unit"
	case *MemoryRead: return fmt.Sprintf("(load %s)", p.Node(e.Addr))
	case *MemoryWrite: return fmt.Sprintf("(store %s %s)", p.Node(e.Addr), p.Node(e.Value))
	case *RegisterRead: return p.Register(e.Register)
	case *RegisterWrite: return fmt.Sprintf("(set %s %s)", p.Register(e.Register), p.Node(e.Value))
	case *ArithmeticBinaryOperation: return fmt.Sprintf("(%s %s %s)", e.Op, p.Node(e.Lhs), p.Node(e.Rhs))
	case *Comparison: return fmt.Sprintf("(%s %s %s)", e.Op, p.Node(e.Lhs), p.Node(e.Rhs))
	case *LogicalBinaryOperation: return fmt.Sprintf("(%s %s %s)", e.Op, p.Node(e.Lhs), p.Node(e.Rhs))
	case *UnaryOperation: return fmt.Sprintf("(%s %s)", e.Op, p.Node(e.Operand))
	case *Push: return fmt.Sprintf("(push %s)", p.Node(e.Value))
	case *Pop: return fmt.Sprintf("(pop %s)", p.Register(e.Register))
	case *AlignStackPointer: return fmt.Sprintf("(align-rsp %d)", e.Offset)
	case *ReserveStackMemory: return fmt.Sprintf("(reserve %s)", e.Function.MangledName)
	case *PushStackLayoutPointer: return fmt.Sprintf("(push-layout %s)", e.Function.LayoutLabel())
	case *ClearDF: return "(cld)"
	case *Comment: return "; " + e.Text
	case *UsesDefines: return fmt.Sprintf("(uses %s defines %s)", p.registers(e.Uses), p.registers(e.Defines))
	}
	return fmt.Sprintf("<%T>", n)
}

func (p *Printer) ControlFlow(cf ControlFlow) string {
	switch c := cf.(type) {
	case *UnconditionalJump: return "jmp " + c.Target.ID
	case *ConditionalJump: return fmt.Sprintf("br %s %s", c.TrueTarget.ID, c.FalseTarget.ID)
	case *FunctionCall: return fmt.Sprintf("call %s then %s", c.Function.MangledName, c.TargetAfter.ID)
	case *Ret: return "ret"
	}
	return fmt.Sprintf("<%T>", cf)
}
