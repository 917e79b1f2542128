// Package asm turns IR into NASM x86-64 text: lowered instructions, the template catalogue
// used by instruction selection, and the fixed program header
package asm

import (
	"iter"
	"slices"

	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
)

// Assignment maps virtual registers to hardware. Hardware registers always map to themselves
type Assignment map[ir.VirtualRegister]ir.HardwareRegister

// Lookup resolves r under a
func (a Assignment) Lookup(r ir.Register) (ir.HardwareRegister, bool) {
	switch v := r.(type) {
	case ir.HardwareRegister: return v, true
	case ir.VirtualRegister:
		h, ok := a[v]
		return h, ok
	}
	return 0, false
}

func (a Assignment) hw(r ir.Register) ir.HardwareRegister {
	h, ok := a.Lookup(r)
	if !ok { panic(errs.Invariantf(registerName(r), "register has no hardware assignment")) }
	return h
}

// Copy records that an instruction moves From into To, a hint for register coalescing
type Copy struct{ From, To ir.Register }

// Instruction is one lowered unit. ToASM assumes every register it names is assigned
type Instruction interface {
	Uses() []ir.Register
	Defines() []ir.Register
	Copies() []Copy
	ToASM(Assignment) iter.Seq[string]
}

type instruction struct {
	uses, defines []ir.Register
	copies        []Copy
	text          func(hw func(ir.Register) ir.HardwareRegister) []string
}

func (i *instruction) Uses() []ir.Register    { return i.uses }
func (i *instruction) Defines() []ir.Register { return i.defines }
func (i *instruction) Copies() []Copy         { return i.copies }

func (i *instruction) ToASM(a Assignment) iter.Seq[string] {
	return func(yield func(string) bool) {
		if i.text == nil { return }
		for _, line := range i.text(a.hw) {
			if !yield(line) { return }
		}
	}
}

// Render checks that a covers every register inst touches, then collects its lines
func Render(inst Instruction, a Assignment) ([]string, error) {
	check := func(rs []ir.Register) error {
		for _, r := range rs {
			if _, ok := a.Lookup(r); !ok { return errs.Invariantf(registerName(r), "register has no hardware assignment") }
		}
		return nil
	}
	if err := check(inst.Uses()); err != nil { return nil, err }
	if err := check(inst.Defines()); err != nil { return nil, err }
	for _, c := range inst.Copies() {
		if err := check([]ir.Register{c.From, c.To}); err != nil { return nil, err }
	}
	return slices.Collect(inst.ToASM(a)), nil
}

// RenderAll renders a linear instruction sequence
func RenderAll(insts []Instruction, a Assignment) ([]string, error) {
	var out []string
	for _, inst := range insts {
		rendered, err := Render(inst, a)
		if err != nil { return nil, err }
		out = append(out, rendered...)
	}
	return out, nil
}

func registerName(r ir.Register) string {
	if r == nil { return "<nil>" }
	return r.String()
}

func regs(rs ...ir.Register) []ir.Register { return rs }

// lines builds a fixed-text instruction with no register operands
func lines(text ...string) Instruction {
	return &instruction{text: func(func(ir.Register) ir.HardwareRegister) []string { return text }}
}

// Call transfers control to fn. Register effects are carried by the surrounding UsesDefines
func Call(fn *ir.Function) Instruction { return lines("call " + fn.MangledName) }

func Ret() Instruction { return lines("ret") }

func Jump(l *ir.Label) Instruction { return lines("jmp " + l.ID) }

// LabelDef marks where l starts
func LabelDef(l *ir.Label) Instruction { return lines(l.ID + ":") }
