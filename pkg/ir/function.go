package ir

import (
	"fmt"

	"github.com/xplshn/kju/pkg/ast"
)

// Location is where a variable lives: a Register or a *MemoryLocation
type Location interface{ isLocation() }

// MemoryLocation is a slot at Offset from the frame pointer of Function
type MemoryLocation struct {
	Function *Function
	Offset   int
}

func (*MemoryLocation) isLocation() {}

func (m *MemoryLocation) String() string {
	name := "?"
	if m.Function != nil { name = m.Function.MangledName }
	return fmt.Sprintf("[%s%+d]", name, m.Offset)
}

// FrameHeader is the space between RBP and the first local: the layout pointer and one alignment word
const FrameHeader = 16

// SavedRegister pairs a callee-saved register with the virtual register holding its entry value
type SavedRegister struct {
	Hardware HardwareRegister
	Backup   VirtualRegister
}

// Function is the codegen descriptor of one FunctionDeclaration
type Function struct {
	ID           int
	Identifier   string
	Parent       *Function
	MangledName  string
	Parameters   []Location
	Link         Location
	IsEntryPoint bool
	IsForeign    bool
	StackBytes   int
	HeapSlots    []int
	CalleeSaved  []SavedRegister
}

// NewFunction creates a descriptor with a fresh backup register for every callee-saved
// register except RBP and RSP, which the frame itself preserves
func NewFunction(id int, identifier string, parent *Function, mangled string) *Function {
	f := &Function{ID: id, Identifier: identifier, Parent: parent, MangledName: mangled}
	for _, hw := range CalleeSaved {
		if hw == RBP || hw == RSP { continue }
		f.CalleeSaved = append(f.CalleeSaved, SavedRegister{Hardware: hw, Backup: NewVirtualRegister()})
	}
	return f
}

// ReserveStackFrameLocation allocates a new word below the frame header.
// Heap-typed slots are recorded so the stack layout can list them
func (f *Function) ReserveStackFrameLocation(t ast.DataType) *MemoryLocation {
	f.StackBytes += 8
	loc := &MemoryLocation{Function: f, Offset: -(FrameHeader + f.StackBytes)}
	if ast.IsHeapType(t) { f.HeapSlots = append(f.HeapSlots, loc.Offset) }
	return loc
}

// StackArgumentsCount is the number of arguments, static link included, passed on the stack
func (f *Function) StackArgumentsCount(argumentRegisters int) int {
	return ast.StackArguments(len(f.Parameters), f.Parent != nil, argumentRegisters)
}

// LayoutLabel names the function's stack layout record
func (f *Function) LayoutLabel() string { return f.MangledName + "_layout" }

func (f *Function) String() string { return f.MangledName }
