package codegen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/kju/pkg/asm"
	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/config"
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	require.NoError(t, cfg.SetLabelIDs(config.LabelsCounter))
	cfg.SetFeature(config.FeatAsmComments, false)
	return cfg
}

func entryPoint(body ...ast.Node) *ast.FunctionDeclaration {
	fn := ast.NewFunction("kju", ast.Unit, nil, ast.NewBlock(body...))
	fn.IsEntryPoint = true
	return fn
}

func generate(t *testing.T, cfg *config.Config, fns ...*ast.FunctionDeclaration) (*Context, map[*ir.Function]*ir.Label) {
	t.Helper()
	ctx := NewContext(cfg)
	entries, err := ctx.CreateIR(&ast.Program{Functions: fns})
	require.NoError(t, err)
	return ctx, entries
}

func trees(entry *ir.Label) []*ir.Tree {
	var out []*ir.Tree
	for _, l := range ir.Reachable(entry) {
		out = append(out, l.Tree())
	}
	return out
}

// writesValue reports whether some tree writes want to target, or to any register when target is nil
func writesValue(ts []*ir.Tree, target ir.Register, want ir.Node) bool {
	for _, t := range ts {
		w, ok := t.Root.(*ir.RegisterWrite)
		if !ok || (target != nil && w.Register != target) { continue }
		if cmp.Equal(w.Value, want) { return true }
	}
	return false
}

func TestStaticLink(t *testing.T) {
	outer := ir.NewFunction(0, "outer", nil, "outer")
	inner := ir.NewFunction(1, "inner", outer, "inner")
	inner.Link = inner.ReserveStackFrameLocation(ast.Int)
	sibling := ir.NewFunction(2, "sibling", outer, "sibling")
	sibling.Link = sibling.ReserveStackFrameLocation(ast.Int)
	deep := ir.NewFunction(3, "deep", inner, "deep")
	deep.Link = deep.ReserveStackFrameLocation(ast.Int)

	parentFrame := func(fp ir.Node) ir.Node { return &ir.MemoryRead{Addr: ir.Add(fp, ir.Int(-24))} }
	tests := []struct {
		name           string
		caller, callee *ir.Function
		want           ir.Node
	}{
		{"direct child", outer, inner, ir.Read(ir.RBP)},
		{"sibling", sibling, inner, parentFrame(ir.Read(ir.RBP))},
		{"self", inner, inner, parentFrame(ir.Read(ir.RBP))},
		{"uncle", deep, sibling, parentFrame(parentFrame(ir.Read(ir.RBP)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := staticLink(tt.caller, tt.callee)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" { t.Errorf("static link mismatch (-want +got):\n%s", diff) }
		})
	}
}

func TestUnresolvableAccess(t *testing.T) {
	outer := ir.NewFunction(0, "outer", nil, "outer")
	inner := ir.NewFunction(1, "inner", outer, "inner")
	inner.Link = inner.ReserveStackFrameLocation(ast.Int)
	stranger := ir.NewFunction(2, "stranger", nil, "stranger")

	_, err := CallingSibling(outer, inner)
	assert.Equal(t, errs.UnresolvableCallTarget, errs.KindOf(err))
	assert.Equal(t, "outer", errs.Subject(err))

	_, err = GenerateRead(inner, stranger.ReserveStackFrameLocation(ast.Int))
	assert.Equal(t, errs.UnresolvableCallTarget, errs.KindOf(err))
}

func TestCapturedVariablesLiveInFrame(t *testing.T) {
	x := ast.NewVarDecl("x", ast.Int, ast.NewInt(1))
	y := ast.NewVarDecl("y", ast.Int, ast.NewInt(2))
	f := ast.NewFunction("f", ast.Int, nil, ast.NewBlock(ast.NewReturn(ast.NewVariable(x))))
	main := entryPoint(x, y, f, ast.NewCall(f), ast.NewAssign(y, ast.NewInt(3)))

	ctx, entries := generate(t, testConfig(t), main)
	mainFn, fFn := ctx.Function(main.ID), ctx.Function(f.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "_ZZN3KJU3kjuEvEN1fEv", fFn.MangledName)
	assert.Same(t, mainFn, fFn.Parent)

	assert.Equal(t, &ir.MemoryLocation{Function: mainFn, Offset: -24}, ctx.locations[x.ID])
	assert.IsType(t, ir.VirtualRegister(0), ctx.locations[y.ID])
	assert.Equal(t, &ir.MemoryLocation{Function: fFn, Offset: -24}, fFn.Link)

	assert.True(t, writesValue(trees(entries[mainFn]), ir.RDI, ir.Read(ir.RBP)), "caller passes its frame as the static link")
	viaLink := &ir.MemoryRead{Addr: ir.Add(&ir.MemoryRead{Addr: ir.Add(ir.Read(ir.RBP), ir.Int(-24))}, ir.Int(-24))}
	assert.True(t, writesValue(trees(entries[fFn]), nil, viaLink), "f reads x through its static link")
}

func TestStackArguments(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.SetArgumentRegisters(1))
	a, b := ast.NewVarDecl("a", ast.Int, nil), ast.NewVarDecl("b", ast.Int, nil)
	pair := ast.NewFunction("pair", ast.Int, []*ast.VariableDeclaration{a, b},
		ast.NewBlock(ast.NewReturn(ast.NewArithmetic(ast.Add, ast.NewVariable(a), ast.NewVariable(b)))))
	main := entryPoint(ast.NewCall(pair, ast.NewInt(1), ast.NewInt(2)))

	ctx, entries := generate(t, cfg, pair, main)

	var aligns []int
	var pushes int
	for _, tr := range trees(entries[ctx.Function(main.ID)]) {
		switch n := tr.Root.(type) {
		case *ir.AlignStackPointer: aligns = append(aligns, n.Offset)
		case *ir.Push:
			if _, ok := n.Value.(*ir.RegisterRead); ok { pushes++ }
		}
	}
	assert.Equal(t, []int{8, 8, -16}, aligns, "prologue alignment, call padding, release")
	assert.Equal(t, 2, pushes, "saved RBP and the second argument")

	stackArg := &ir.MemoryRead{Addr: ir.Add(ir.Read(ir.RBP), ir.Int(16))}
	assert.True(t, writesValue(trees(entries[ctx.Function(pair.ID)]), nil, stackArg))
}

func TestAllocationCallsRuntime(t *testing.T) {
	arr := ast.NewVarDecl("arr", ast.ArrayOf(ast.Int), &ast.ArrayAlloc{ElementType: ast.Int, Size: ast.NewInt(3)})
	main := entryPoint(arr)

	ctx, entries := generate(t, testConfig(t), main)
	mainFn := ctx.Function(main.ID)
	assert.Equal(t, "_ZN3KJU8allocateEx", ctx.Allocate().MangledName)
	assert.Equal(t, []int{-24, -32}, mainFn.HeapSlots, "the variable and the call result are both visible to the collector")

	ts := trees(entries[mainFn])
	assert.True(t, writesValue(ts, nil, ir.Mul(ir.Int(8), ir.Int(3))))
	var called bool
	for _, tr := range ts {
		if c, ok := tr.ControlFlow.(*ir.FunctionCall); ok && c.Function == ctx.Allocate() { called = true }
	}
	assert.True(t, called)
}

func TestForeignFunctionsHaveNoBody(t *testing.T) {
	show := ast.NewForeign("show", ast.Unit, ast.NewVarDecl("x", ast.Int, nil))
	main := entryPoint(ast.NewCall(show, ast.NewInt(7)))

	ctx, entries := generate(t, testConfig(t), show, main)
	require.Len(t, entries, 1)
	assert.Equal(t, []*ir.Function{ctx.Function(main.ID)}, Functions(entries))
	assert.True(t, ctx.Function(show.ID).IsForeign)
	assert.Equal(t, "_ZN3KJU4showEx", ctx.Function(show.ID).MangledName)
}

func TestUnresolvableCallee(t *testing.T) {
	elsewhere := ast.NewFunction("elsewhere", ast.Unit, nil, ast.NewBlock())
	main := entryPoint(ast.NewCall(elsewhere))

	_, err := NewContext(testConfig(t)).CreateIR(&ast.Program{Functions: []*ast.FunctionDeclaration{main}})
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	require.Len(t, merr.Errors, 1)
	assert.Equal(t, errs.UnresolvableCallTarget, errs.KindOf(merr.Errors[0]))
	assert.Equal(t, "elsewhere", errs.Subject(merr.Errors[0]))
}

func TestLoopsAndConditions(t *testing.T) {
	i := ast.NewVarDecl("i", ast.Int, ast.NewInt(0))
	loop := &ast.WhileStatement{Condition: ast.NewBool(true)}
	loop.Body = ast.NewBlock(
		&ast.IfStatement{
			Condition: ast.NewLogical(ast.And, ast.NewComparison(ast.Greater, ast.NewVariable(i), ast.NewInt(9)), ast.NewBool(true)),
			ThenBody:  ast.NewBlock(&ast.BreakStatement{EnclosingLoop: loop}),
		},
		&ast.CompoundAssignment{Lhs: ast.NewVariable(i), Operation: ast.Add, Value: ast.NewInt(1)},
		&ast.ContinueStatement{EnclosingLoop: loop},
	)
	main := entryPoint(i, loop)

	ctx, entries := generate(t, testConfig(t), main)
	var branches int
	for _, tr := range trees(entries[ctx.Function(main.ID)]) {
		if _, ok := tr.ControlFlow.(*ir.ConditionalJump); ok { branches++ }
	}
	assert.Equal(t, 3, branches, "loop test, short-circuit and if")
}

func TestDumpEmptyEntryPoint(t *testing.T) {
	ctx, entries := generate(t, testConfig(t), entryPoint())
	fn := ctx.Function(0)

	block := func(label, root, cf string) string { return label + ":\n\t" + root + "\n\t" + cf + "\n" }
	want := strings.Join([]string{
		"function _ZN3KJU3kjuEv stack=0\n",
		block(".L20", "(uses {} defines {RBX RSP RBP R12 R13 R14 R15})", "jmp .L19"),
		block(".L19", "(push RBP)", "jmp .L18"),
		block(".L18", "(set RBP RSP)", "jmp .L17"),
		block(".L17", "(push-layout _ZN3KJU3kjuEv_layout)", "jmp .L16"),
		block(".L16", "(align-rsp 8)", "jmp .L15"),
		block(".L15", "(reserve _ZN3KJU3kjuEv)", "jmp .L14"),
		block(".L14", "(set %0 RBX)", "jmp .L13"),
		block(".L13", "(set %1 R12)", "jmp .L12"),
		block(".L12", "(set %2 R13)", "jmp .L11"),
		block(".L11", "(set %3 R14)", "jmp .L10"),
		block(".L10", "(set %4 R15)", "jmp .L9"),
		block(".L9", "(set RBX %0)", "jmp .L8"),
		block(".L8", "(set R12 %1)", "jmp .L7"),
		block(".L7", "(set R13 %2)", "jmp .L6"),
		block(".L6", "(set R14 %3)", "jmp .L5"),
		block(".L5", "(set R15 %4)", "jmp .L4"),
		block(".L4", "(set RAX 0)", "jmp .L3"),
		block(".L3", "(set RSP RBP)", "jmp .L2"),
		block(".L2", "(pop RBP)", "jmp .L1"),
		block(".L1", "(cld)", "jmp .L0"),
		block(".L0", "(uses {RBX RSP RBP R12 R13 R14 R15 RAX} defines {RSP})", "ret"),
	}, "")

	var buf bytes.Buffer
	require.NoError(t, ir.Dump(&buf, fn, entries[fn]))
	if diff := cmp.Diff(want, buf.String()); diff != "" { t.Errorf("dump mismatch (-want +got):\n%s", diff) }
}

func TestCommentsAndLayoutsFollowFeatures(t *testing.T) {
	cfg := testConfig(t)
	cfg.SetFeature(config.FeatAsmComments, true)
	cfg.SetFeature(config.FeatStackLayouts, false)
	ctx, entries := generate(t, cfg, entryPoint())

	var comments []string
	for _, tr := range trees(entries[ctx.Function(0)]) {
		switch n := tr.Root.(type) {
		case *ir.Comment: comments = append(comments, n.Text)
		case *ir.PushStackLayoutPointer: t.Errorf("layout pointer pushed with stack layouts disabled")
		}
	}
	assert.Contains(t, comments, "Save RBP - parent base pointer")
	assert.Contains(t, comments, "Restore RBP from stack")
	assert.NotContains(t, comments, "Place pointer to function's stack layout")
}

func TestBackends(t *testing.T) {
	show := ast.NewForeign("show", ast.Unit, ast.NewVarDecl("x", ast.Int, nil))
	ctx, entries := generate(t, testConfig(t), show, entryPoint(ast.NewCall(show, ast.NewInt(7))))

	render := func(kind string) string {
		b, err := SelectBackend(kind)
		require.NoError(t, err)
		buf, err := b.Generate(ctx, entries)
		require.NoError(t, err)
		return buf.String()
	}

	assert.Equal(t, "extern show _ZN3KJU4showEx\nentry  kju _ZN3KJU3kjuEv\nextern allocate _ZN3KJU8allocateEx\n", render(EmitSymbols))
	assert.Equal(t, asm.Header("_ZN3KJU3kjuEv"), render(EmitHeader))
	assert.Equal(t, "section .data\n_ZN3KJU3kjuEv_layout:\ndq 0\n", render(EmitLayouts))
	assert.Equal(t, "_ZN3KJU3kjuEv:\n", render(EmitCallGraph))
	assert.True(t, strings.HasPrefix(render(EmitIR), "function _ZN3KJU3kjuEv stack=0\n"))

	_, err := SelectBackend("qbe")
	assert.Error(t, err)
}
