package codegen

import (
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
)

// GenerateRead reads loc from inside fn, following static links when loc lives in an enclosing frame
func GenerateRead(fn *ir.Function, loc ir.Location) (ir.Node, error) {
	switch l := loc.(type) {
	case ir.Register:
		return ir.Read(l), nil
	case *ir.MemoryLocation:
		addr, err := address(fn, l, ir.Read(ir.RBP))
		if err != nil { return nil, err }
		return &ir.MemoryRead{Addr: addr}, nil
	}
	return nil, errs.Invariantf(fn.MangledName, "unknown location %T", loc)
}

// GenerateWrite stores value to loc from inside fn
func GenerateWrite(fn *ir.Function, loc ir.Location, value ir.Node) (ir.Node, error) {
	switch l := loc.(type) {
	case ir.Register:
		return ir.Write(l, value), nil
	case *ir.MemoryLocation:
		addr, err := address(fn, l, ir.Read(ir.RBP))
		if err != nil { return nil, err }
		return &ir.MemoryWrite{Addr: addr, Value: value}, nil
	}
	return nil, errs.Invariantf(fn.MangledName, "unknown location %T", loc)
}

// address computes loc's address given framePointer, the base pointer of fn's frame.
// Each step out of fn loads the parent's base pointer from fn's static link slot
func address(fn *ir.Function, loc *ir.MemoryLocation, framePointer ir.Node) (ir.Node, error) {
	if loc.Function == fn { return ir.Add(framePointer, ir.Int(int64(loc.Offset))), nil }
	if fn.Parent == nil { return nil, errs.Unresolvablef(loc.String(), "slot is outside the frames reachable from its user") }

	link, ok := fn.Link.(*ir.MemoryLocation)
	if !ok { return nil, errs.Invariantf(fn.MangledName, "nested function has no static link slot") }
	parentFrame := &ir.MemoryRead{Addr: ir.Add(framePointer, ir.Int(int64(link.Offset)))}
	return address(fn.Parent, loc, parentFrame)
}

// CallingSibling returns the ancestor of caller (caller included) whose parent is parent.
// Its static link is the frame pointer a child of parent expects
func CallingSibling(caller, parent *ir.Function) (*ir.Function, error) {
	for f := caller; f != nil; f = f.Parent {
		if f.Parent == parent { return f, nil }
	}
	name := "<top level>"
	if parent != nil { name = parent.MangledName }
	return nil, errs.Unresolvablef(caller.MangledName, "no enclosing function is a child of %s", name)
}

// staticLink is the frame pointer passed to callee when called from caller
func staticLink(caller, callee *ir.Function) (ir.Node, error) {
	if caller == callee.Parent { return ir.Read(ir.RBP), nil }
	sibling, err := CallingSibling(caller, callee.Parent)
	if err != nil { return nil, err }
	return GenerateRead(caller, sibling.Link)
}
