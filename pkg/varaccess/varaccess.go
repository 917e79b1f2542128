// Package varaccess computes which variables each function and each AST node reads or assigns,
// following calls through the transitive call graph
package varaccess

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/callgraph"
)

// Set is a set of variable declaration ids
type Set map[int]struct{}

func (s Set) Has(id int) bool {
	_, ok := s[id]
	return ok
}

func (s Set) add(o Set) {
	for k := range o {
		s[k] = struct{}{}
	}
}

// Intersects reports whether s and o share an id
func (s Set) Intersects(o Set) bool {
	if len(o) < len(s) { s, o = o, s }
	for k := range s {
		if o.Has(k) { return true }
	}
	return false
}

// Sorted returns the ids in ascending order
func (s Set) Sorted() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

type extractor func(ast.Node) []int

func accessed(n ast.Node) []int {
	if v, ok := n.(*ast.Variable); ok && v.Declaration != nil { return []int{v.Declaration.ID} }
	return nil
}

func modified(n ast.Node) []int {
	var lhs *ast.Variable
	switch e := n.(type) {
	case *ast.Assignment: lhs = e.Lhs
	case *ast.CompoundAssignment: lhs = e.Lhs
	}
	if lhs == nil || lhs.Declaration == nil { return nil }
	return []int{lhs.Declaration.ID}
}

// Summary holds the access and modification sets of one compilation unit
type Summary struct {
	own        map[int]Set
	accessFn   map[int]Set
	modifyFn   map[int]Set
	accessNode map[ast.Node]Set
	modifyNode map[ast.Node]Set
}

// Build summarizes root; graph is its direct call graph
func Build(root ast.Node, graph *callgraph.Graph) (*Summary, error) {
	closure, err := graph.TransitiveClosure()
	if err != nil { return nil, errors.Wrap(err, "variable access analysis") }

	var decls []*ast.FunctionDeclaration
	ast.Inspect(root, func(n ast.Node) bool {
		if d, ok := n.(*ast.FunctionDeclaration); ok { decls = append(decls, d) }
		return true
	})

	s := &Summary{
		own:        make(map[int]Set, len(decls)),
		accessFn:   make(map[int]Set, len(decls)),
		modifyFn:   make(map[int]Set, len(decls)),
		accessNode: make(map[ast.Node]Set),
		modifyNode: make(map[ast.Node]Set),
	}
	for _, d := range decls {
		s.own[d.ID] = functionVariables(d, accessed)
	}
	s.accessFn = transitive(decls, closure, accessed)
	s.modifyFn = transitive(decls, closure, modified)
	perNode(root, s.accessFn, accessed, s.accessNode)
	perNode(root, s.modifyFn, modified, s.modifyNode)
	return s, nil
}

// functionVariables collects the parameters of d and what extract finds in its own body, skipping nested functions
func functionVariables(d *ast.FunctionDeclaration, extract extractor) Set {
	out := Set{}
	for _, p := range d.Parameters {
		out[p.ID] = struct{}{}
	}
	if d.Body == nil { return out }
	ast.Inspect(d.Body, func(n ast.Node) bool {
		if _, nested := n.(*ast.FunctionDeclaration); nested { return false }
		for _, id := range extract(n) {
			out[id] = struct{}{}
		}
		return true
	})
	return out
}

func transitive(decls []*ast.FunctionDeclaration, closure *callgraph.Graph, extract extractor) map[int]Set {
	own := make(map[int]Set, len(decls))
	byID := make(map[int]*ast.FunctionDeclaration, len(decls))
	for _, d := range decls {
		byID[d.ID] = d
		if d.IsForeign {
			own[d.ID] = Set{}
			continue
		}
		own[d.ID] = functionVariables(d, extract)
	}

	out := make(map[int]Set, len(decls))
	for _, d := range decls {
		set := Set{}
		set.add(own[d.ID])
		for _, callee := range closure.Callees(d.ID) {
			set.add(own[callee])
		}
		out[d.ID] = set
	}
	return out
}

func perNode(n ast.Node, perFunction map[int]Set, extract extractor, into map[ast.Node]Set) Set {
	set := Set{}
	for _, id := range extract(n) {
		set[id] = struct{}{}
	}
	_, isDecl := n.(*ast.FunctionDeclaration)
	for _, c := range ast.Children(n) {
		child := perNode(c, perFunction, extract, into)
		if !isDecl { set.add(child) }
	}
	if call, ok := n.(*ast.FunctionCall); ok && call.Declaration != nil && !call.Declaration.IsForeign {
		set.add(perFunction[call.Declaration.ID])
	}
	into[n] = set
	return set
}

// Accesses returns the variables n may read, including through calls. Unknown nodes yield an empty set
func (s *Summary) Accesses(n ast.Node) Set { return orEmpty(s.accessNode[n]) }

// Modifies returns the variables n may assign, including through calls
func (s *Summary) Modifies(n ast.Node) Set { return orEmpty(s.modifyNode[n]) }

// FunctionAccesses is the transitive access set of a function
func (s *Summary) FunctionAccesses(id int) Set { return orEmpty(s.accessFn[id]) }

// FunctionModifies is the transitive modification set of a function
func (s *Summary) FunctionModifies(id int) Set { return orEmpty(s.modifyFn[id]) }

// OwnReferences is the set of variables a function's own body names, plus its parameters
func (s *Summary) OwnReferences(id int) Set { return orEmpty(s.own[id]) }

func orEmpty(s Set) Set {
	if s == nil { return Set{} }
	return s
}
