// Package callgraph builds the function-to-callees relation of a KJU unit
package callgraph

import (
	"sort"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/errs"
)

type set map[int]struct{}

func (s set) union(o set) {
	for k := range o {
		s[k] = struct{}{}
	}
}

func (s set) sorted() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Graph maps each function with a body to the functions it calls, by declaration id.
// Every callee in a published Graph is itself a key
type Graph struct {
	edges map[int][]int
	decls map[int]*ast.FunctionDeclaration
}

// Build walks root, which must have been indexed with ast.Index.
// A FunctionDeclaration is a scope boundary: calls inside it are recorded
// under it and are not propagated to the enclosing function. A call whose
// declaration is not part of root is not an edge
func Build(root ast.Node) *Graph {
	b := &builder{recorded: make(map[int]set), decls: make(map[int]*ast.FunctionDeclaration)}
	ast.Inspect(root, func(n ast.Node) bool {
		if d, ok := n.(*ast.FunctionDeclaration); ok { b.decls[d.ID] = d }
		return true
	})
	b.visit(root)

	g := &Graph{edges: make(map[int][]int, len(b.recorded)), decls: b.decls}
	for id, callees := range b.recorded {
		kept := set{}
		for c := range callees {
			if _, ok := b.recorded[c]; ok { kept[c] = struct{}{} }
		}
		g.edges[id] = kept.sorted()
	}
	return g
}

// FromEdges wraps an adjacency list as-is, without filtering
func FromEdges(edges map[int][]int) *Graph {
	g := &Graph{edges: make(map[int][]int, len(edges)), decls: map[int]*ast.FunctionDeclaration{}}
	for id, callees := range edges {
		s := set{}
		for _, c := range callees {
			s[c] = struct{}{}
		}
		g.edges[id] = s.sorted()
	}
	return g
}

type builder struct {
	recorded map[int]set
	decls    map[int]*ast.FunctionDeclaration
}

func (b *builder) visit(n ast.Node) set {
	pending := set{}
	switch e := n.(type) {
	case *ast.FunctionDeclaration:
		inner := set{}
		for _, c := range ast.Children(e) {
			inner.union(b.visit(c))
		}
		if e.Body != nil && !e.IsForeign { b.recorded[e.ID] = inner }
		return pending
	case *ast.FunctionCall:
		for _, c := range ast.Children(e) {
			pending.union(b.visit(c))
		}
		if d := e.Declaration; d != nil && b.decls[d.ID] == d { pending[d.ID] = struct{}{} }
	default:
		for _, c := range ast.Children(n) {
			pending.union(b.visit(c))
		}
	}
	return pending
}

// Keys returns the ids of every function in the graph, ascending
func (g *Graph) Keys() []int {
	keys := make([]int, 0, len(g.edges))
	for k := range g.edges {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (g *Graph) Has(id int) bool {
	_, ok := g.edges[id]
	return ok
}

// Callees returns the direct callees of id, ascending
func (g *Graph) Callees(id int) []int { return g.edges[id] }

// Declaration returns the declaration indexed under id in the walked tree
func (g *Graph) Declaration(id int) *ast.FunctionDeclaration { return g.decls[id] }

// Len is the number of keys
func (g *Graph) Len() int { return len(g.edges) }

// TransitiveClosure returns a graph where every key maps to all functions reachable from it.
// A key maps to itself only when it lies on a cycle
func (g *Graph) TransitiveClosure() (*Graph, error) {
	for id, callees := range g.edges {
		for _, c := range callees {
			if !g.Has(c) {
				return nil, errs.Invariantf(g.name(c), "callee of %s is not a key of the call graph", g.name(id))
			}
		}
	}

	closure := &Graph{edges: make(map[int][]int, len(g.edges)), decls: g.decls}
	for id := range g.edges {
		closure.edges[id] = g.reach(id).sorted()
	}
	return closure, nil
}

func (g *Graph) reach(from int) set {
	seen := set{}
	stack := append([]int(nil), g.edges[from]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok { continue }
		seen[n] = struct{}{}
		stack = append(stack, g.edges[n]...)
	}
	return seen
}

// Recursive reports whether id can call itself, directly or through other functions
func (g *Graph) Recursive(id int) bool {
	_, ok := g.reach(id)[id]
	return ok
}

// Reachable returns from and every key reachable from it, ascending
func (g *Graph) Reachable(from int) []int {
	r := g.reach(from)
	if g.Has(from) { r[from] = struct{}{} }
	return r.sorted()
}

func (g *Graph) name(id int) string {
	if d := g.decls[id]; d != nil { return d.Identifier }
	return "?"
}
