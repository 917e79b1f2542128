package ir

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xplshn/kju/pkg/errs"
)

// ControlFlow ends a Tree
type ControlFlow interface{ isControlFlow() }

type UnconditionalJump struct{ Target *Label }

// ConditionalJump branches to TrueTarget when the tree's root is non-zero
type ConditionalJump struct{ TrueTarget, FalseTarget *Label }

// FunctionCall transfers control to Function and resumes at TargetAfter
type FunctionCall struct {
	Function    *Function
	TargetAfter *Label
}
type Ret struct{}

func (*UnconditionalJump) isControlFlow() {}
func (*ConditionalJump) isControlFlow()   {}
func (*FunctionCall) isControlFlow()      {}
func (*Ret) isControlFlow()               {}

// Tree is one instruction-graph vertex: a computation followed by a transfer of control
type Tree struct {
	Root        Node
	ControlFlow ControlFlow
}

// Computation is a code fragment starting at Start whose value is Result once it has run
type Computation struct {
	Start  *Label
	Result Node
}

// Label names a Tree. The tree is set exactly once
type Label struct {
	ID    string
	tree  *Tree
	built bool
}

// Tree returns the labelled tree. Reading a reserved label before it is built is a programming error
func (l *Label) Tree() *Tree {
	if !l.built { panic(errs.Invariantf(l.ID, "label read before its tree was built")) }
	return l.tree
}

func (l *Label) String() string { return l.ID }

// IDGenerator produces label ids unique within the process
type IDGenerator interface{ NextID() string }

// GUIDGenerator derives ids from random UUIDs
type GUIDGenerator struct{}

func (GUIDGenerator) NextID() string { return "." + strings.ReplaceAll(uuid.New().String(), "-", "") }

// CounterGenerator yields .L0, .L1, ...
type CounterGenerator struct{ n atomic.Int64 }

func (c *CounterGenerator) NextID() string { return fmt.Sprintf(".L%d", c.n.Add(1)-1) }

// LabelFactory allocates labels; it is safe for concurrent use if its generator is
type LabelFactory struct{ ids IDGenerator }

func NewLabelFactory(ids IDGenerator) *LabelFactory {
	if ids == nil { ids = GUIDGenerator{} }
	return &LabelFactory{ids: ids}
}

// GetLabel labels an already built tree
func (f *LabelFactory) GetLabel(t *Tree) *Label {
	if t == nil { panic(errs.Invariantf("", "label for nil tree")) }
	return &Label{ID: f.ids.NextID(), tree: t, built: true}
}

// WithLabel reserves a label, lets build use it as a jump target, then installs the tree build returned
func WithLabel[T any](f *LabelFactory, build func(*Label) (*Tree, T)) T {
	l := &Label{ID: f.ids.NextID()}
	t, result := build(l)
	if t == nil { panic(errs.Invariantf(l.ID, "label built with nil tree")) }
	l.tree, l.built = t, true
	return result
}

// Chain links nodes into consecutive trees ending with a jump to after. An empty chain is after itself
func (f *LabelFactory) Chain(nodes []Node, after *Label) *Label {
	next := after
	for i := len(nodes) - 1; i >= 0; i-- {
		next = f.GetLabel(&Tree{Root: nodes[i], ControlFlow: &UnconditionalJump{Target: next}})
	}
	return next
}

// ChainTo is Chain where the last tree ends with cf instead of a jump
func (f *LabelFactory) ChainTo(nodes []Node, cf ControlFlow) *Label {
	if len(nodes) == 0 { return f.GetLabel(&Tree{Root: &UnitImmediate{}, ControlFlow: cf}) }
	last := f.GetLabel(&Tree{Root: nodes[len(nodes)-1], ControlFlow: cf})
	return f.Chain(nodes[:len(nodes)-1], last)
}
