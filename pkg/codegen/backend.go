package codegen

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xplshn/kju/pkg/asm"
	"github.com/xplshn/kju/pkg/config"
	"github.com/xplshn/kju/pkg/ir"
)

// Backend renders one view of a generated unit
type Backend interface {
	// Generate takes the context CreateIR ran on and the entry labels it returned
	Generate(ctx *Context, entries map[*ir.Function]*ir.Label) (*bytes.Buffer, error)
}

// Emit kinds accepted by SelectBackend
const (
	EmitIR        = "ir"
	EmitSymbols   = "symbols"
	EmitCallGraph = "callgraph"
	EmitHeader    = "header"
	EmitLayouts   = "layouts"
)

var EmitKinds = []string{EmitIR, EmitSymbols, EmitCallGraph, EmitHeader, EmitLayouts}

func SelectBackend(kind string) (Backend, error) {
	switch kind {
	case EmitIR: return irBackend{}, nil
	case EmitSymbols: return symbolsBackend{}, nil
	case EmitCallGraph: return callGraphBackend{}, nil
	case EmitHeader: return headerBackend{}, nil
	case EmitLayouts: return layoutsBackend{}, nil
	}
	return nil, fmt.Errorf("unknown emit kind '%s'", kind)
}

// Descriptors returns every function descriptor of the unit, foreign ones included, in declaration order
func (ctx *Context) Descriptors() []*ir.Function {
	fns := make([]*ir.Function, 0, len(ctx.functions))
	for _, fn := range ctx.functions {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].ID < fns[j].ID })
	return fns
}

type irBackend struct{}

func (irBackend) Generate(ctx *Context, entries map[*ir.Function]*ir.Label) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	for i, fn := range Functions(entries) {
		if i > 0 { buf.WriteString("\n") }
		if err := ir.Dump(&buf, fn, entries[fn]); err != nil { return nil, err }
	}
	return &buf, nil
}

type symbolsBackend struct{}

func (symbolsBackend) Generate(ctx *Context, entries map[*ir.Function]*ir.Label) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	for _, fn := range ctx.Descriptors() {
		kind := "local"
		switch {
		case fn.IsForeign: kind = "extern"
		case fn.IsEntryPoint: kind = "entry"
		}
		fmt.Fprintf(&buf, "%-6s %s %s\n", kind, fn.Identifier, fn.MangledName)
	}
	fmt.Fprintf(&buf, "%-6s %s %s\n", "extern", ctx.allocate.Identifier, ctx.allocate.MangledName)
	return &buf, nil
}

type callGraphBackend struct{}

func (callGraphBackend) Generate(ctx *Context, entries map[*ir.Function]*ir.Label) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	for _, id := range ctx.graph.Keys() {
		fn := ctx.functions[id]
		if fn == nil { continue }
		fmt.Fprintf(&buf, "%s:", fn.MangledName)
		for _, callee := range ctx.graph.Callees(id) {
			if c := ctx.functions[callee]; c != nil { fmt.Fprintf(&buf, " %s", c.MangledName) }
		}
		buf.WriteString("\n")
	}
	return &buf, nil
}

type headerBackend struct{}

func (headerBackend) Generate(ctx *Context, entries map[*ir.Function]*ir.Label) (*bytes.Buffer, error) {
	for _, fn := range Functions(entries) {
		if fn.IsEntryPoint { return bytes.NewBufferString(asm.Header(fn.MangledName)), nil }
	}
	return nil, fmt.Errorf("no entry point; expected a function named '%s'", ctx.cfg.EntryPoint)
}

type layoutsBackend struct{}

func (layoutsBackend) Generate(ctx *Context, entries map[*ir.Function]*ir.Label) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if !ctx.cfg.IsFeatureEnabled(config.FeatStackLayouts) { return &buf, nil }
	buf.WriteString(asm.DataHeader())
	for _, fn := range Functions(entries) {
		buf.WriteString(asm.StackLayout(fn))
	}
	return &buf, nil
}
