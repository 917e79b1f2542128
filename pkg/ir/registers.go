package ir

import (
	"fmt"
	"sync/atomic"
)

// Register is either a VirtualRegister or a HardwareRegister
type Register interface {
	Location
	isRegister()
	String() string
}

// VirtualRegister names an abstract storage cell; hardware is assigned later by an external allocator
type VirtualRegister int64

var nextVirtual atomic.Int64

// NewVirtualRegister returns a register id unique within the process
func NewVirtualRegister() VirtualRegister { return VirtualRegister(nextVirtual.Add(1)) }

func (VirtualRegister) isRegister()      {}
func (VirtualRegister) isLocation()      {}
func (v VirtualRegister) String() string { return fmt.Sprintf("%%v%d", int64(v)) }

type HardwareRegister int

const (
	RAX HardwareRegister = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	RSP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var hardwareNames = [...]string{"RAX", "RBX", "RCX", "RDX", "RSI", "RDI", "RBP", "RSP", "R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15"}
var lowByteNames = [...]string{"AL", "BL", "CL", "DL", "SIL", "DIL", "BPL", "SPL", "R8B", "R9B", "R10B", "R11B", "R12B", "R13B", "R14B", "R15B"}

func (HardwareRegister) isRegister() {}
func (HardwareRegister) isLocation() {}

func (h HardwareRegister) String() string {
	if h < 0 || int(h) >= len(hardwareNames) { return fmt.Sprintf("HW(%d)", int(h)) }
	return hardwareNames[h]
}

// LowByte is the 8-bit alias used by setcc
func (h HardwareRegister) LowByte() string {
	if h < 0 || int(h) >= len(lowByteNames) { return h.String() }
	return lowByteNames[h]
}

// System V register classes
var (
	ArgumentRegisters = []HardwareRegister{RDI, RSI, RDX, RCX, R8, R9}
	CallerSaved       = []HardwareRegister{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}
	CalleeSaved       = []HardwareRegister{RBX, RSP, RBP, R12, R13, R14, R15}
)

// Registers widens a hardware register list to []Register
func Registers(hw []HardwareRegister) []Register {
	out := make([]Register, len(hw))
	for i, h := range hw {
		out[i] = h
	}
	return out
}
