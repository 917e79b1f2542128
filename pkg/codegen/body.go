package codegen

import (
	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
)

// BuildFunctionBody lowers an already normalized body of fn. Falling off the end returns the
// default value; the returned label is the prologue
func (ctx *Context) BuildFunctionBody(fn *ir.Function, body *ast.InstructionBlock) (*ir.Label, error) {
	ctx.currentFunc = fn
	ctx.temporaries = make(map[int]ir.Location)
	ctx.loops = make(map[*ast.WhileStatement]loopLabels)
	defer func() { ctx.currentFunc, ctx.temporaries, ctx.loops = nil, nil, nil }()

	guard := ctx.epilogue(fn, defaultReturn(fn))
	c, err := ctx.codegenNode(body, guard)
	if err != nil { return nil, err }
	return ctx.prologue(fn, c.Start)
}

type labelled struct {
	start *ir.Label
	err   error
}

// withLabel reserves the label of the tree build returns, for code that must jump to it.
// build returns the tree and the label that starts the whole fragment
func (ctx *Context) withLabel(build func(self *ir.Label) (*ir.Tree, *ir.Label, error)) (*ir.Label, error) {
	r := ir.WithLabel(ctx.labels, func(self *ir.Label) (*ir.Tree, labelled) {
		t, start, err := build(self)
		if err != nil { return &ir.Tree{Root: &ir.UnitImmediate{}, ControlFlow: &ir.Ret{}}, labelled{err: err} }
		return t, labelled{start: start}
	})
	return r.start, r.err
}

func jump(to *ir.Label) ir.ControlFlow { return &ir.UnconditionalJump{Target: to} }

func unit(start *ir.Label) ir.Computation {
	return ir.Computation{Start: start, Result: &ir.UnitImmediate{}}
}

// evaluate runs n, stores its value to target and continues at after
func (ctx *Context) evaluate(n ast.Node, target ir.Register, after *ir.Label) (*ir.Label, error) {
	return ctx.withLabel(func(self *ir.Label) (*ir.Tree, *ir.Label, error) {
		c, err := ctx.codegenNode(n, self)
		if err != nil { return nil, nil, err }
		return &ir.Tree{Root: ir.Write(target, c.Result), ControlFlow: jump(after)}, c.Start, nil
	})
}

// codegenNode lowers n so that it runs before after. The result is valid once after is reached
func (ctx *Context) codegenNode(n ast.Node, after *ir.Label) (ir.Computation, error) {
	switch d := n.(type) {
	case *ast.InstructionBlock:
		return ctx.codegenBlock(d, after)
	case *ast.BlockWithResult:
		result, err := ctx.codegenNode(d.Result, after)
		if err != nil { return ir.Computation{}, err }
		body, err := ctx.codegenBlock(d.Body, result.Start)
		if err != nil { return ir.Computation{}, err }
		return ir.Computation{Start: body.Start, Result: result.Result}, nil
	case *ast.FunctionDeclaration, *ast.StructDeclaration:
		return unit(after), nil
	case *ast.VariableDeclaration:
		return ctx.codegenVarDecl(d, after)
	case *ast.IfStatement:
		return ctx.codegenIf(d, after)
	case *ast.WhileStatement:
		return ctx.codegenWhile(d, after)
	case *ast.BreakStatement, *ast.ContinueStatement:
		return ctx.codegenLoopJump(d)
	case *ast.ReturnStatement:
		return ctx.codegenReturn(d)
	case *ast.FunctionCall:
		return ctx.codegenFuncCall(d, after)
	case *ast.Variable:
		if d.Declaration == nil { return ir.Computation{}, errs.Invariantf(d.Identifier, "variable has no declaration") }
		read, err := GenerateRead(ctx.currentFunc, ctx.location(d.Declaration))
		return ir.Computation{Start: after, Result: read}, err
	case *ast.IntegerLiteral:
		return ir.Computation{Start: after, Result: ir.Int(d.Value)}, nil
	case *ast.BoolLiteral:
		return ir.Computation{Start: after, Result: &ir.BooleanImmediate{Value: d.Value}}, nil
	case *ast.UnitLiteral:
		return unit(after), nil
	case *ast.NullLiteral:
		return ir.Computation{Start: after, Result: ir.Int(0)}, nil
	case *ast.Assignment:
		return ctx.codegenAssign(d, after)
	case *ast.CompoundAssignment:
		value := ast.NewArithmetic(d.Operation, d.Lhs, d.Value)
		return ctx.codegenAssign(&ast.Assignment{Lhs: d.Lhs, Value: value}, after)
	case *ast.ArithmeticOperation:
		return ctx.codegenBinary(d.Left, d.Right, after, func(l, r ir.Node) ir.Node {
			return &ir.ArithmeticBinaryOperation{Op: d.Operation, Lhs: l, Rhs: r}
		})
	case *ast.Comparison:
		return ctx.codegenBinary(d.Left, d.Right, after, func(l, r ir.Node) ir.Node {
			return &ir.Comparison{Op: d.Operation, Lhs: l, Rhs: r}
		})
	case *ast.LogicalBinaryOperation:
		return ctx.codegenLogical(d, after)
	case *ast.UnaryOperation:
		c, err := ctx.codegenNode(d.Value, after)
		if err != nil { return ir.Computation{}, err }
		return ir.Computation{Start: c.Start, Result: &ir.UnaryOperation{Op: d.Operation, Operand: c.Result}}, nil
	case *ast.ArrayAccess, *ast.FieldAccess:
		addr := ir.NewVirtualRegister()
		start, err := ctx.codegenElementAddr(d, addr, after)
		if err != nil { return ir.Computation{}, err }
		return ir.Computation{Start: start, Result: &ir.MemoryRead{Addr: ir.Read(addr)}}, nil
	case *ast.ComplexAssignment:
		return ctx.codegenComplexAssign(d.Lhs, d.Value, nil, after)
	case *ast.ComplexCompoundAssignment:
		op := d.Operation
		return ctx.codegenComplexAssign(d.Lhs, d.Value, &op, after)
	case *ast.ArrayAlloc:
		return ctx.codegenAlloc(d.Size, ast.ArrayOf(d.ElementType), after)
	case *ast.StructAlloc:
		if d.Declaration == nil { return ir.Computation{}, errs.Invariantf("", "struct allocation has no declaration") }
		return ctx.codegenAlloc(ast.NewInt(int64(len(d.Declaration.Fields))), ast.StructType{Name: d.Declaration.Name}, after)
	}
	return ir.Computation{}, errs.Invariantf(ctx.currentFunc.MangledName, "cannot generate code for %T", n)
}

func (ctx *Context) codegenBlock(b *ast.InstructionBlock, after *ir.Label) (ir.Computation, error) {
	next := after
	if b == nil { return unit(next), nil }
	for i := len(b.Instructions) - 1; i >= 0; i-- {
		c, err := ctx.codegenNode(b.Instructions[i], next)
		if err != nil { return ir.Computation{}, err }
		next = c.Start
	}
	return unit(next), nil
}

func (ctx *Context) codegenVarDecl(d *ast.VariableDeclaration, after *ir.Label) (ir.Computation, error) {
	loc := ctx.location(d)
	if d.Value == nil {
		write, err := GenerateWrite(ctx.currentFunc, loc, ir.Int(0))
		if err != nil { return ir.Computation{}, err }
		return unit(ctx.labels.Chain([]ir.Node{write}, after)), nil
	}
	start, err := ctx.withLabel(func(self *ir.Label) (*ir.Tree, *ir.Label, error) {
		c, err := ctx.codegenNode(d.Value, self)
		if err != nil { return nil, nil, err }
		write, err := GenerateWrite(ctx.currentFunc, loc, c.Result)
		if err != nil { return nil, nil, err }
		return &ir.Tree{Root: write, ControlFlow: jump(after)}, c.Start, nil
	})
	return unit(start), err
}

func (ctx *Context) codegenIf(d *ast.IfStatement, after *ir.Label) (ir.Computation, error) {
	then, err := ctx.codegenBlock(d.ThenBody, after)
	if err != nil { return ir.Computation{}, err }
	elseStart := after
	if d.ElseBody != nil {
		els, err := ctx.codegenBlock(d.ElseBody, after)
		if err != nil { return ir.Computation{}, err }
		elseStart = els.Start
	}
	start, err := ctx.withLabel(func(self *ir.Label) (*ir.Tree, *ir.Label, error) {
		cond, err := ctx.codegenNode(d.Condition, self)
		if err != nil { return nil, nil, err }
		return &ir.Tree{Root: cond.Result, ControlFlow: &ir.ConditionalJump{TrueTarget: then.Start, FalseTarget: elseStart}}, cond.Start, nil
	})
	return unit(start), err
}

func (ctx *Context) codegenWhile(d *ast.WhileStatement, after *ir.Label) (ir.Computation, error) {
	start, err := ctx.withLabel(func(test *ir.Label) (*ir.Tree, *ir.Label, error) {
		cond, err := ctx.codegenNode(d.Condition, test)
		if err != nil { return nil, nil, err }
		ctx.loops[d] = loopLabels{condition: cond.Start, after: after}
		body, err := ctx.codegenBlock(d.Body, cond.Start)
		if err != nil { return nil, nil, err }
		return &ir.Tree{Root: cond.Result, ControlFlow: &ir.ConditionalJump{TrueTarget: body.Start, FalseTarget: after}}, cond.Start, nil
	})
	return unit(start), err
}

func (ctx *Context) codegenLoopJump(n ast.Node) (ir.Computation, error) {
	switch d := n.(type) {
	case *ast.BreakStatement:
		if l, ok := ctx.loops[d.EnclosingLoop]; ok { return unit(l.after), nil }
	case *ast.ContinueStatement:
		if l, ok := ctx.loops[d.EnclosingLoop]; ok { return unit(l.condition), nil }
	}
	return ir.Computation{}, errs.Invariantf(ctx.currentFunc.MangledName, "%T outside of its loop", n)
}

func (ctx *Context) codegenReturn(d *ast.ReturnStatement) (ir.Computation, error) {
	if d.Value == nil { return unit(ctx.epilogue(ctx.currentFunc, defaultReturn(ctx.currentFunc))), nil }
	value := ir.NewVirtualRegister()
	start, err := ctx.evaluate(d.Value, value, ctx.epilogue(ctx.currentFunc, ir.Read(value)))
	return unit(start), err
}

func (ctx *Context) codegenFuncCall(d *ast.FunctionCall, after *ir.Label) (ir.Computation, error) {
	callee, err := ctx.callee(d)
	if err != nil { return ir.Computation{}, err }

	var result ir.Location = ir.NewVirtualRegister()
	if ast.IsHeapType(d.Declaration.ReturnType) { result = ctx.currentFunc.ReserveStackFrameLocation(d.Declaration.ReturnType) }
	read, err := GenerateRead(ctx.currentFunc, result)
	if err != nil { return ir.Computation{}, err }

	args := make([]ir.VirtualRegister, len(d.Arguments))
	for i := range args {
		args[i] = ir.NewVirtualRegister()
	}
	next, err := ctx.GenerateCall(result, args, after, ctx.currentFunc, callee)
	if err != nil { return ir.Computation{}, err }
	for i := len(d.Arguments) - 1; i >= 0; i-- {
		next, err = ctx.evaluate(d.Arguments[i], args[i], next)
		if err != nil { return ir.Computation{}, err }
	}
	return ir.Computation{Start: next, Result: read}, nil
}

func (ctx *Context) codegenAssign(d *ast.Assignment, after *ir.Label) (ir.Computation, error) {
	if d.Lhs == nil || d.Lhs.Declaration == nil { return ir.Computation{}, errs.Invariantf("", "assignment to an unresolved variable") }
	value := ir.NewVirtualRegister()
	store, err := GenerateWrite(ctx.currentFunc, ctx.location(d.Lhs.Declaration), ir.Read(value))
	if err != nil { return ir.Computation{}, err }
	start, err := ctx.evaluate(d.Value, value, ctx.labels.Chain([]ir.Node{store}, after))
	return ir.Computation{Start: start, Result: ir.Read(value)}, err
}

func (ctx *Context) codegenBinary(left, right ast.Node, after *ir.Label, combine func(l, r ir.Node) ir.Node) (ir.Computation, error) {
	rhs, err := ctx.codegenNode(right, after)
	if err != nil { return ir.Computation{}, err }
	lhs, err := ctx.codegenNode(left, rhs.Start)
	if err != nil { return ir.Computation{}, err }
	return ir.Computation{Start: lhs.Start, Result: combine(lhs.Result, rhs.Result)}, nil
}

// codegenLogical short-circuits: the right operand only runs when the left one does not decide the result
func (ctx *Context) codegenLogical(d *ast.LogicalBinaryOperation, after *ir.Label) (ir.Computation, error) {
	result := ir.NewVirtualRegister()
	decided := ctx.labels.Chain([]ir.Node{ir.Write(result, &ir.BooleanImmediate{Value: d.Operation == ast.Or})}, after)
	right, err := ctx.evaluate(d.Right, result, after)
	if err != nil { return ir.Computation{}, err }

	start, err := ctx.withLabel(func(self *ir.Label) (*ir.Tree, *ir.Label, error) {
		left, err := ctx.codegenNode(d.Left, self)
		if err != nil { return nil, nil, err }
		branch := &ir.ConditionalJump{TrueTarget: right, FalseTarget: decided}
		if d.Operation == ast.Or { branch = &ir.ConditionalJump{TrueTarget: decided, FalseTarget: right} }
		return &ir.Tree{Root: left.Result, ControlFlow: branch}, left.Start, nil
	})
	return ir.Computation{Start: start, Result: ir.Read(result)}, err
}

// codegenElementAddr stores the address of an array element or struct field to addr.
// Elements and fields are one word each
func (ctx *Context) codegenElementAddr(n ast.Node, addr ir.VirtualRegister, after *ir.Label) (*ir.Label, error) {
	base := ir.NewVirtualRegister()
	switch d := n.(type) {
	case *ast.ArrayAccess:
		return ctx.withLabel(func(self *ir.Label) (*ir.Tree, *ir.Label, error) {
			offset, err := ctx.codegenNode(d.Offset, self)
			if err != nil { return nil, nil, err }
			start, err := ctx.evaluate(d.Lhs, base, offset.Start)
			if err != nil { return nil, nil, err }
			value := ir.Add(ir.Mul(ir.Int(8), offset.Result), ir.Read(base))
			return &ir.Tree{Root: ir.Write(addr, value), ControlFlow: jump(after)}, start, nil
		})
	case *ast.FieldAccess:
		store := ctx.labels.Chain([]ir.Node{ir.Write(addr, ir.OffsetAddress(base, d.Index))}, after)
		return ctx.evaluate(d.Lhs, base, store)
	}
	return nil, errs.Invariantf(ctx.currentFunc.MangledName, "%T is not addressable", n)
}

// codegenComplexAssign writes through an element address. A non-nil op combines the old element with the value
func (ctx *Context) codegenComplexAssign(lhs, value ast.Node, op *ast.ArithmeticOp, after *ir.Label) (ir.Computation, error) {
	addr, result := ir.NewVirtualRegister(), ir.NewVirtualRegister()
	store := ctx.labels.Chain([]ir.Node{&ir.MemoryWrite{Addr: ir.Read(addr), Value: ir.Read(result)}}, after)

	compute, err := ctx.withLabel(func(self *ir.Label) (*ir.Tree, *ir.Label, error) {
		c, err := ctx.codegenNode(value, self)
		if err != nil { return nil, nil, err }
		v := c.Result
		if op != nil { v = &ir.ArithmeticBinaryOperation{Op: *op, Lhs: &ir.MemoryRead{Addr: ir.Read(addr)}, Rhs: c.Result} }
		return &ir.Tree{Root: ir.Write(result, v), ControlFlow: jump(store)}, c.Start, nil
	})
	if err != nil { return ir.Computation{}, err }
	start, err := ctx.codegenElementAddr(lhs, addr, compute)
	return ir.Computation{Start: start, Result: ir.Read(result)}, err
}

// codegenAlloc calls the runtime allocator for words one-word cells
func (ctx *Context) codegenAlloc(words ast.Node, t ast.DataType, after *ir.Label) (ir.Computation, error) {
	size := ir.NewVirtualRegister()
	result := ctx.currentFunc.ReserveStackFrameLocation(t)
	read, err := GenerateRead(ctx.currentFunc, result)
	if err != nil { return ir.Computation{}, err }
	call, err := ctx.GenerateCall(result, []ir.VirtualRegister{size}, after, ctx.currentFunc, ctx.allocate)
	if err != nil { return ir.Computation{}, err }

	start, err := ctx.withLabel(func(self *ir.Label) (*ir.Tree, *ir.Label, error) {
		c, err := ctx.codegenNode(words, self)
		if err != nil { return nil, nil, err }
		return &ir.Tree{Root: ir.Write(size, ir.Mul(ir.Int(8), c.Result)), ControlFlow: jump(call)}, c.Start, nil
	})
	return ir.Computation{Start: start, Result: read}, err
}
