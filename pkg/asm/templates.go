package asm

import (
	"fmt"
	"math"
	"strings"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
)

// Template scores. Larger patterns cover more of the tree and win
const (
	scoreGeneral  = 1
	scoreConstant = 5
	scoreAddress  = 1000
)

var conditionCodes = map[ast.ComparisonOp]string{
	ast.Equal:          "e",
	ast.NotEqual:       "ne",
	ast.Less:           "l",
	ast.LessOrEqual:    "le",
	ast.Greater:        "g",
	ast.GreaterOrEqual: "ge",
}

var logicalMnemonics = map[ast.LogicalOp]string{ast.And: "and", ast.Or: "or"}

// Templates returns the instruction template catalogue
func Templates() []Template {
	ts := []Template{
		&template{name: "register-write", shape: &ir.RegisterWrite{}, score: scoreGeneral, emit: emitRegisterWrite},
		&template{name: "register-read", shape: &ir.RegisterRead{}, score: scoreGeneral, emit: emitRegisterRead},
		&template{name: "memory-read", shape: &ir.MemoryRead{}, score: scoreGeneral, emit: emitMemoryRead},
		&template{name: "memory-write", shape: &ir.MemoryWrite{}, score: scoreGeneral, emit: emitMemoryWrite},

		&template{name: "bool-immediate", shape: &ir.BooleanImmediate{}, score: scoreGeneral, emit: emitBoolImmediate},
		&template{name: "int-immediate", shape: &ir.IntegerImmediate{}, score: scoreGeneral, emit: emitIntImmediate},
		&template{name: "unit-immediate", shape: &ir.UnitImmediate{}, score: scoreGeneral, emit: emitUnitImmediate},

		&template{name: "add", shape: arithmetic(ast.Add, nil, nil), score: scoreGeneral, emit: commutative("add")},
		&template{name: "sub", shape: arithmetic(ast.Sub, nil, nil), score: scoreGeneral, emit: emitSub},
		&template{name: "mul", shape: arithmetic(ast.Mul, nil, nil), score: scoreGeneral, emit: commutative("imul")},
		&template{name: "div", shape: arithmetic(ast.Div, nil, nil), score: scoreGeneral, emit: division(ir.RAX)},
		&template{name: "mod", shape: arithmetic(ast.Mod, nil, nil), score: scoreGeneral, emit: division(ir.RDX)},
		&template{name: "add-constant", shape: arithmetic(ast.Add, nil, &ir.IntegerImmediate{}), score: scoreConstant, emit: addConstant(false)},
		&template{name: "constant-add", shape: arithmetic(ast.Add, &ir.IntegerImmediate{}, nil), score: scoreConstant, emit: addConstant(true)},

		&template{name: "push", shape: &ir.Push{}, score: scoreGeneral, emit: emitPush},
		&template{name: "push-immediate", shape: &ir.Push{Value: &ir.IntegerImmediate{}}, score: scoreConstant, emit: emitPushImmediate},
		&template{name: "pop", shape: &ir.Pop{}, score: scoreGeneral, emit: emitPop},
		&template{name: "reserve-stack", shape: &ir.ReserveStackMemory{}, score: scoreGeneral, emit: emitReserveStack},
		&template{name: "align-stack", shape: &ir.AlignStackPointer{}, score: scoreGeneral, emit: emitAlignStack},
		&template{name: "push-layout", shape: &ir.PushStackLayoutPointer{}, score: scoreGeneral, emit: emitPushLayout},
		&template{name: "cld", shape: &ir.ClearDF{}, score: scoreGeneral, emit: emitClearDF},

		&template{name: "conditional-jump", score: scoreGeneral, branch: true, emit: emitConditionalJump},
		&template{name: "comment", shape: &ir.Comment{}, score: scoreGeneral, emit: emitComment},
		&template{name: "uses-defines", shape: &ir.UsesDefines{}, score: scoreGeneral, emit: emitUsesDefines},

		&template{name: "memory-read-offset", shape: &ir.MemoryRead{Addr: arithmetic(ast.Add, &ir.RegisterRead{}, &ir.IntegerImmediate{})}, score: scoreAddress, emit: emitMemoryReadOffset(false)},
		&template{name: "memory-read-offset-swapped", shape: &ir.MemoryRead{Addr: arithmetic(ast.Add, &ir.IntegerImmediate{}, &ir.RegisterRead{})}, score: scoreAddress, emit: emitMemoryReadOffset(true)},
		&template{name: "memory-write-offset", shape: &ir.MemoryWrite{Addr: arithmetic(ast.Add, &ir.RegisterRead{}, &ir.IntegerImmediate{})}, score: scoreAddress, emit: emitMemoryWriteOffset(false)},
		&template{name: "memory-write-offset-swapped", shape: &ir.MemoryWrite{Addr: arithmetic(ast.Add, &ir.IntegerImmediate{}, &ir.RegisterRead{})}, score: scoreAddress, emit: emitMemoryWriteOffset(true)},
	}
	for _, op := range []ast.ComparisonOp{ast.Equal, ast.NotEqual, ast.Less, ast.LessOrEqual, ast.Greater, ast.GreaterOrEqual} {
		ts = append(ts, &template{name: "set" + conditionCodes[op], shape: &ir.Comparison{Op: op}, score: scoreGeneral, emit: comparison(op)})
	}
	for _, op := range []ast.LogicalOp{ast.And, ast.Or} {
		ts = append(ts, &template{name: logicalMnemonics[op], shape: &ir.LogicalBinaryOperation{Op: op}, score: scoreGeneral, emit: commutative(logicalMnemonics[op])})
	}
	ts = append(ts,
		&template{name: "not", shape: &ir.UnaryOperation{Op: ast.Not}, score: scoreGeneral, emit: unary("xor %s, 1")},
		&template{name: "minus", shape: &ir.UnaryOperation{Op: ast.Minus}, score: scoreGeneral, emit: unary("neg %s")},
		&template{name: "plus", shape: &ir.UnaryOperation{Op: ast.Plus}, score: scoreGeneral, emit: unary("")},
	)
	return ts
}

func arithmetic(op ast.ArithmeticOp, lhs, rhs ir.Node) ir.Node {
	return &ir.ArithmeticBinaryOperation{Op: op, Lhs: lhs, Rhs: rhs}
}

// move copies from into to, emitting nothing when both resolve to the same hardware register
func move(to, from ir.Register) *instruction {
	return &instruction{
		uses:    regs(from),
		defines: regs(to),
		copies:  []Copy{{From: from, To: to}},
		text: func(hw func(ir.Register) ir.HardwareRegister) []string {
			if hw(to) == hw(from) { return nil }
			return []string{fmt.Sprintf("mov %s, %s", hw(to), hw(from))}
		},
	}
}

func emitRegisterWrite(_ ir.Register, f *filler, _ string) Instruction { return move(f.reg(0), f.reg(1)) }
func emitRegisterRead(result ir.Register, f *filler, _ string) Instruction { return move(result, f.reg(0)) }

func emitMemoryRead(result ir.Register, f *filler, _ string) Instruction {
	addr := f.reg(0)
	return &instruction{uses: regs(addr), defines: regs(result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("mov %s, [%s]", hw(result), hw(addr))}
	}}
}

func emitMemoryWrite(_ ir.Register, f *filler, _ string) Instruction {
	addr, value := f.reg(0), f.reg(1)
	return &instruction{uses: regs(addr, value), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("mov [%s], %s", hw(addr), hw(value))}
	}}
}

func address(base string, offset int64) string {
	if offset < 0 { return fmt.Sprintf("[%s-%d]", base, -offset) }
	return fmt.Sprintf("[%s+%d]", base, offset)
}

// base and offset come in either order in the fill
func baseOffset(f *filler, swapped bool) (ir.Register, int64) {
	if swapped { return f.reg(1), f.int(0) }
	return f.reg(0), f.int(1)
}

func emitMemoryReadOffset(swapped bool) func(ir.Register, *filler, string) Instruction {
	return func(result ir.Register, f *filler, _ string) Instruction {
		base, offset := baseOffset(f, swapped)
		checkImm32(f, offset)
		return &instruction{uses: regs(base), defines: regs(result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
			return []string{fmt.Sprintf("mov %s, %s", hw(result), address(hw(base).String(), offset))}
		}}
	}
}

func emitMemoryWriteOffset(swapped bool) func(ir.Register, *filler, string) Instruction {
	return func(_ ir.Register, f *filler, _ string) Instruction {
		base, offset := baseOffset(f, swapped)
		value := f.reg(2)
		checkImm32(f, offset)
		return &instruction{uses: regs(base, value), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
			return []string{fmt.Sprintf("mov %s, %s", address(hw(base).String(), offset), hw(value))}
		}}
	}
}

// checkImm32 rejects constants x86-64 cannot encode as a sign-extended 32-bit immediate
func checkImm32(f *filler, v int64) {
	if (v < math.MinInt32 || v > math.MaxInt32) && f.err == nil {
		f.err = errs.Invariantf(f.template, "constant %d does not fit in 32 bits", v)
	}
}

func emitBoolImmediate(result ir.Register, f *filler, _ string) Instruction {
	v := 0
	if f.bool(0) { v = 1 }
	return &instruction{defines: regs(result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("mov %s, %d", hw(result), v)}
	}}
}

func emitIntImmediate(result ir.Register, f *filler, _ string) Instruction {
	v := f.int(0)
	return &instruction{defines: regs(result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("mov %s, %d", hw(result), v)}
	}}
}

func emitUnitImmediate(ir.Register, *filler, string) Instruction { return &instruction{} }

// commutative emits `op result, other` after moving one operand into result
func commutative(mnemonic string) func(ir.Register, *filler, string) Instruction {
	return func(result ir.Register, f *filler, _ string) Instruction {
		lhs, rhs := f.reg(0), f.reg(1)
		return &instruction{uses: regs(lhs, rhs), defines: regs(result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
			r, l, x := hw(result), hw(lhs), hw(rhs)
			if r == x { return []string{fmt.Sprintf("%s %s, %s", mnemonic, r, l)} }
			var out []string
			if r != l { out = append(out, fmt.Sprintf("mov %s, %s", r, l)) }
			return append(out, fmt.Sprintf("%s %s, %s", mnemonic, r, x))
		}}
	}
}

func emitSub(result ir.Register, f *filler, _ string) Instruction {
	lhs, rhs := f.reg(0), f.reg(1)
	return &instruction{uses: regs(lhs, rhs), defines: regs(result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		r, l, x := hw(result), hw(lhs), hw(rhs)
		if r == x && r != l { return []string{fmt.Sprintf("neg %s", r), fmt.Sprintf("add %s, %s", r, l)} }
		var out []string
		if r != l { out = append(out, fmt.Sprintf("mov %s, %s", r, l)) }
		return append(out, fmt.Sprintf("sub %s, %s", r, x))
	}}
}

func addConstant(constantFirst bool) func(ir.Register, *filler, string) Instruction {
	return func(result ir.Register, f *filler, _ string) Instruction {
		var input ir.Register
		var c int64
		if constantFirst {
			c, input = f.int(0), f.reg(1)
		} else {
			input, c = f.reg(0), f.int(1)
		}
		checkImm32(f, c)
		return &instruction{
			uses:    regs(input),
			defines: regs(result),
			copies:  []Copy{{From: input, To: result}},
			text: func(hw func(ir.Register) ir.HardwareRegister) []string {
				var out []string
				if hw(result) != hw(input) { out = append(out, fmt.Sprintf("mov %s, %s", hw(result), hw(input))) }
				return append(out, fmt.Sprintf("add %s, %d", hw(result), c))
			},
		}
	}
}

// division leaves the quotient in RAX and the remainder in RDX; from selects which one is the result.
// A divisor living in RAX or RDX is divided from the stack since cqo and the dividend overwrite it
func division(from ir.HardwareRegister) func(ir.Register, *filler, string) Instruction {
	return func(result ir.Register, f *filler, _ string) Instruction {
		lhs, rhs := f.reg(0), f.reg(1)
		return &instruction{uses: regs(lhs, rhs), defines: regs(ir.RAX, ir.RDX, result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
			divisor := hw(rhs)
			spilled := divisor == ir.RAX || divisor == ir.RDX
			var out []string
			if spilled { out = append(out, fmt.Sprintf("push %s", divisor)) }
			if hw(lhs) != ir.RAX { out = append(out, fmt.Sprintf("mov %s, %s", ir.RAX, hw(lhs))) }
			out = append(out, "cqo")
			if spilled {
				out = append(out, fmt.Sprintf("idiv qword [%s]", ir.RSP), fmt.Sprintf("add %s, 8", ir.RSP))
			} else {
				out = append(out, fmt.Sprintf("idiv %s", divisor))
			}
			if hw(result) != from { out = append(out, fmt.Sprintf("mov %s, %s", hw(result), from)) }
			return out
		}}
	}
}

func comparison(op ast.ComparisonOp) func(ir.Register, *filler, string) Instruction {
	cc := conditionCodes[op]
	return func(result ir.Register, f *filler, _ string) Instruction {
		lhs, rhs := f.reg(0), f.reg(1)
		return &instruction{uses: regs(lhs, rhs), defines: regs(result), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
			r := hw(result)
			return []string{
				fmt.Sprintf("cmp %s, %s", hw(lhs), hw(rhs)),
				fmt.Sprintf("set%s %s", cc, r.LowByte()),
				fmt.Sprintf("movzx %s, %s", r, r.LowByte()),
			}
		}}
	}
}

// unary moves the operand into result and applies format to it; an empty format is a plain move
func unary(format string) func(ir.Register, *filler, string) Instruction {
	return func(result ir.Register, f *filler, _ string) Instruction {
		operand := f.reg(0)
		inst := move(result, operand)
		if format == "" { return inst }
		inst.copies = nil
		mov := inst.text
		inst.text = func(hw func(ir.Register) ir.HardwareRegister) []string {
			return append(mov(hw), fmt.Sprintf(format, hw(result)))
		}
		return inst
	}
}

func emitPush(_ ir.Register, f *filler, _ string) Instruction {
	value := f.reg(0)
	return &instruction{uses: regs(value, ir.RSP), defines: regs(ir.RSP), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("push %s", hw(value))}
	}}
}

func emitPushImmediate(_ ir.Register, f *filler, _ string) Instruction {
	v := f.int(0)
	checkImm32(f, v)
	return &instruction{uses: regs(ir.RSP), defines: regs(ir.RSP), text: func(func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("push %d", v)}
	}}
}

func emitPop(_ ir.Register, f *filler, _ string) Instruction {
	r := f.reg(0)
	return &instruction{uses: regs(ir.RSP), defines: regs(r, ir.RSP), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("pop %s", hw(r))}
	}}
}

// FrameSize is the local area of fn rounded up to keep RSP 16-byte aligned
func FrameSize(fn *ir.Function) int {
	n := fn.StackBytes
	if n%16 != 0 { n += 16 - n%16 }
	return n
}

func emitReserveStack(_ ir.Register, f *filler, _ string) Instruction {
	fn := f.function(0)
	return &instruction{uses: regs(ir.RSP), defines: regs(ir.RSP), text: func(func(ir.Register) ir.HardwareRegister) []string {
		if fn == nil || FrameSize(fn) == 0 { return nil }
		return []string{fmt.Sprintf("sub %s, %d", ir.RSP, FrameSize(fn))}
	}}
}

func emitAlignStack(_ ir.Register, f *filler, _ string) Instruction {
	off := f.int(0)
	return &instruction{uses: regs(ir.RSP), defines: regs(ir.RSP), text: func(func(ir.Register) ir.HardwareRegister) []string {
		switch {
		case off > 0: return []string{fmt.Sprintf("sub %s, %d", ir.RSP, off)}
		case off < 0: return []string{fmt.Sprintf("add %s, %d", ir.RSP, -off)}
		}
		return nil
	}}
}

func emitPushLayout(_ ir.Register, f *filler, _ string) Instruction {
	fn := f.function(0)
	if fn == nil { return &instruction{} }
	return &instruction{uses: regs(ir.RSP), defines: regs(ir.RSP), text: func(func(ir.Register) ir.HardwareRegister) []string {
		return []string{"push " + fn.LayoutLabel()}
	}}
}

func emitClearDF(ir.Register, *filler, string) Instruction { return lines("cld") }

// emitConditionalJump tests the tree's value and jumps to label when it is non-zero.
// The false edge falls through to the next block
func emitConditionalJump(_ ir.Register, f *filler, label string) Instruction {
	cond := f.reg(0)
	return &instruction{uses: regs(cond), text: func(hw func(ir.Register) ir.HardwareRegister) []string {
		return []string{fmt.Sprintf("test %s, %s", hw(cond), hw(cond)), "jnz " + label}
	}}
}

func emitComment(_ ir.Register, f *filler, _ string) Instruction {
	text := strings.ReplaceAll(f.text(0), "\n", " ")
	return lines("; " + text)
}

func emitUsesDefines(_ ir.Register, f *filler, _ string) Instruction {
	return &instruction{uses: f.registers(0), defines: f.registers(1)}
}
