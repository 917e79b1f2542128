package codegen

import (
	"github.com/golang/glog"

	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
)

// GenerateCall emits a System V call of callee from caller. The arguments are already evaluated
// into args; a nested callee gets its static link as an extra last argument. The returned label
// starts the sequence, which stores RAX to result and continues at onReturn
func (ctx *Context) GenerateCall(result ir.Location, args []ir.VirtualRegister, onReturn *ir.Label, caller, callee *ir.Function) (*ir.Label, error) {
	if len(args) != len(callee.Parameters) {
		return nil, errs.Invariantf(callee.MangledName, "called with %d arguments, takes %d", len(args), len(callee.Parameters))
	}
	values := make([]ir.Node, 0, len(args)+1)
	for _, a := range args {
		values = append(values, ir.Read(a))
	}
	if callee.Parent != nil {
		link, err := staticLink(caller, callee)
		if err != nil { return nil, err }
		values = append(values, link)
	}

	inRegisters := min(len(values), len(ctx.argRegs))
	onStack := len(values) - inRegisters
	padding := 0
	if onStack%2 == 1 { padding = 8 }
	glog.V(2).Infof("call %s from %s: %d register and %d stack arguments", callee.MangledName, caller.MangledName, inRegisters, onStack)

	pre := []ir.Node{&ir.AlignStackPointer{Offset: padding}}
	pre = ctx.note(pre, "Pass arguments")
	for i := len(values) - 1; i >= inRegisters; i-- {
		pre = append(pre, &ir.Push{Value: values[i]})
	}
	for i := 0; i < inRegisters; i++ {
		pre = append(pre, ir.Write(ctx.argRegs[i], values[i]))
	}
	pre = append(pre, &ir.ClearDF{})
	pre = ctx.note(pre, "Call "+callee.MangledName)
	pre = append(pre, &ir.UsesDefines{Uses: ir.Registers(ctx.argRegs[:inRegisters]), Defines: ir.Registers(ir.CallerSaved)})

	store, err := GenerateWrite(caller, result, ir.Read(ir.RAX))
	if err != nil { return nil, err }
	post := ctx.note(nil, "Copy function result to variable")
	post = append(post, store)
	post = ctx.note(post, "Restore RSP alignment")
	post = append(post, &ir.AlignStackPointer{Offset: -(padding + 8*onStack)})
	post = ctx.note(post, "End of call")

	after := ctx.labels.Chain(post, onReturn)
	call := ctx.labels.GetLabel(&ir.Tree{Root: &ir.UnitImmediate{}, ControlFlow: &ir.FunctionCall{Function: callee, TargetAfter: after}})
	return ctx.labels.Chain(pre, call), nil
}
