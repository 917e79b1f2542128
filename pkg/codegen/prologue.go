package codegen

import (
	"github.com/golang/glog"

	"github.com/xplshn/kju/pkg/config"
	"github.com/xplshn/kju/pkg/ir"
)

// prologue sets up fn's frame, saves callee-saved registers and moves the incoming arguments
// and static link to their locations before continuing at body
func (ctx *Context) prologue(fn *ir.Function, body *ir.Label) (*ir.Label, error) {
	nodes := []ir.Node{&ir.UsesDefines{Defines: ir.Registers(ir.CalleeSaved)}}
	nodes = ctx.note(nodes, "Save RBP - parent base pointer")
	nodes = append(nodes, &ir.Push{Value: ir.Read(ir.RBP)})
	nodes = ctx.note(nodes, "Copy RSP to RBP - current base pointer")
	nodes = append(nodes, ir.Write(ir.RBP, ir.Read(ir.RSP)))
	if ctx.cfg.IsFeatureEnabled(config.FeatStackLayouts) {
		nodes = ctx.note(nodes, "Place pointer to function's stack layout")
		nodes = append(nodes, &ir.PushStackLayoutPointer{Function: fn})
	} else {
		nodes = append(nodes, &ir.Push{Value: ir.Int(0)})
	}
	nodes = ctx.note(nodes, "Stack 16 alignment")
	nodes = append(nodes, &ir.AlignStackPointer{Offset: 8})
	nodes = ctx.note(nodes, "Reserve memory for local variables")
	nodes = append(nodes, &ir.ReserveStackMemory{Function: fn})

	nodes = ctx.note(nodes, "Save callee saved registers")
	for _, s := range fn.CalleeSaved {
		nodes = append(nodes, ir.Write(s.Backup, ir.Read(s.Hardware)))
	}

	targets := append([]ir.Location{}, fn.Parameters...)
	if fn.Parent != nil { targets = append(targets, fn.Link) }
	nodes = ctx.note(nodes, "Retrieve arguments to temporary variables")
	for i, target := range targets {
		var source ir.Node
		if i < len(ctx.argRegs) {
			source = ir.Read(ctx.argRegs[i])
		} else {
			source = &ir.MemoryRead{Addr: ir.OffsetAddress(ir.RBP, i-len(ctx.argRegs)+2)}
		}
		write, err := GenerateWrite(fn, target, source)
		if err != nil { return nil, err }
		nodes = append(nodes, write)
	}
	glog.V(2).Infof("prologue of %s: %d incoming values", fn.MangledName, len(targets))
	return ctx.labels.Chain(nodes, body), nil
}

// epilogue restores the caller's registers and frame and returns value in RAX
func (ctx *Context) epilogue(fn *ir.Function, value ir.Node) *ir.Label {
	nodes := ctx.note(nil, "Restore callee saved registers")
	for _, s := range fn.CalleeSaved {
		nodes = append(nodes, ir.Write(s.Hardware, ir.Read(s.Backup)))
	}
	nodes = ctx.note(nodes, "Save result to RAX")
	nodes = append(nodes, ir.Write(ir.RAX, value))
	nodes = ctx.note(nodes, "Restore RSP from RBP")
	nodes = append(nodes, ir.Write(ir.RSP, ir.Read(ir.RBP)))
	nodes = ctx.note(nodes, "Restore RBP from stack")
	nodes = append(nodes, &ir.Pop{Register: ir.RBP})
	nodes = ctx.note(nodes, "Clear direction flag")
	nodes = append(nodes, &ir.ClearDF{})
	uses := append(ir.Registers(ir.CalleeSaved), ir.RAX)
	nodes = append(nodes, &ir.UsesDefines{Uses: uses, Defines: []ir.Register{ir.RSP}})
	return ctx.labels.ChainTo(nodes, &ir.Ret{})
}

// defaultReturn is the value a function returns by falling off its end.
// The entry point exits with status 0
func defaultReturn(fn *ir.Function) ir.Node {
	if fn.IsEntryPoint { return ir.Int(0) }
	return &ir.UnitImmediate{}
}
