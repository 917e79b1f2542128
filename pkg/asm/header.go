package asm

import (
	"fmt"
	"strings"

	"github.com/xplshn/kju/pkg/ir"
)

// Header is the program prologue: _start aligns the stack, calls the entry symbol and exits with status 0
func Header(entry string) string {
	return strings.Join([]string{
		"global _start",
		"section .text",
		"_start:",
		"xor RBP, RBP",
		"and RSP, -16",
		"call " + entry,
		"mov RAX, 60",
		"mov RDI, 0",
		"syscall",
	}, "\n") + "\n"
}

// DataHeader opens the section holding the stack layout records
func DataHeader() string { return "section .data\n" }

// StackLayout is fn's layout record: the number of heap-typed frame slots followed by their RBP offsets
func StackLayout(fn *ir.Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", fn.LayoutLabel())
	fmt.Fprintf(&sb, "dq %d\n", len(fn.HeapSlots))
	for _, off := range fn.HeapSlots {
		fmt.Fprintf(&sb, "dq %d\n", off)
	}
	return sb.String()
}
