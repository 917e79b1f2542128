// Package codegen lowers a resolved KJU program to per-function IR graphs
package codegen

import (
	"sort"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/callgraph"
	"github.com/xplshn/kju/pkg/config"
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
	"github.com/xplshn/kju/pkg/mangler"
	"github.com/xplshn/kju/pkg/temps"
	"github.com/xplshn/kju/pkg/varaccess"
)

// AllocateName is the runtime allocator every array and struct allocation calls
const AllocateName = "allocate"

type loopLabels struct{ condition, after *ir.Label }

type Context struct {
	cfg         *config.Config
	labels      *ir.LabelFactory
	argRegs     []ir.HardwareRegister
	arena       *ast.Arena
	graph       *callgraph.Graph
	access      *varaccess.Summary
	functions   map[int]*ir.Function
	locations   map[int]ir.Location
	allocate    *ir.Function
	currentFunc *ir.Function
	temporaries map[int]ir.Location
	loops       map[*ast.WhileStatement]loopLabels
}

func NewContext(cfg *config.Config) *Context {
	var ids ir.IDGenerator = ir.GUIDGenerator{}
	if cfg.LabelIDs == config.LabelsCounter { ids = &ir.CounterGenerator{} }
	n := cfg.ArgumentRegisters
	if n < 1 || n > len(ir.ArgumentRegisters) { n = len(ir.ArgumentRegisters) }
	return &Context{
		cfg:       cfg,
		labels:    ir.NewLabelFactory(ids),
		argRegs:   ir.ArgumentRegisters[:n],
		functions: make(map[int]*ir.Function),
		locations: make(map[int]ir.Location),
	}
}

// Labels is the factory every tree of the unit was labelled with
func (ctx *Context) Labels() *ir.LabelFactory { return ctx.labels }

// Graph is the call graph of the last unit passed to CreateIR
func (ctx *Context) Graph() *callgraph.Graph { return ctx.graph }

// Function returns the descriptor of the declaration with the given id
func (ctx *Context) Function(id int) *ir.Function { return ctx.functions[id] }

// Allocate is the descriptor of the runtime allocator
func (ctx *Context) Allocate() *ir.Function { return ctx.allocate }

// CreateIR builds descriptors for every function of root and generates the body of every
// non-foreign one. It returns the entry label of each generated function
func (ctx *Context) CreateIR(root ast.Node) (map[*ir.Function]*ir.Label, error) {
	ctx.arena = ast.Index(root)
	ctx.graph = callgraph.Build(root)
	access, err := varaccess.Build(root, ctx.graph)
	if err != nil { return nil, err }
	ctx.access = access

	if err := ctx.buildFunctions(root); err != nil { return nil, err }

	var result *multierror.Error
	entries := make(map[*ir.Function]*ir.Label)
	for _, decl := range ctx.arena.Functions {
		if decl.IsForeign { continue }
		fn := ctx.functions[decl.ID]
		glog.V(1).Infof("generating %s", fn.MangledName)
		entry, err := ctx.GenerateBody(fn, decl)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "in function %s", decl.Identifier))
			continue
		}
		entries[fn] = entry
	}
	if err := result.ErrorOrNil(); err != nil { return nil, err }
	return entries, nil
}

// GenerateBody normalizes the declaration's body and lowers it between the prologue and the epilogue
func (ctx *Context) GenerateBody(fn *ir.Function, decl *ast.FunctionDeclaration) (*ir.Label, error) {
	body, err := temps.Normalize(decl.Body, ctx.access, ctx.arena)
	if err != nil { return nil, err }
	return ctx.BuildFunctionBody(fn, body)
}

// Functions orders the generated functions by declaration
func Functions(entries map[*ir.Function]*ir.Label) []*ir.Function {
	fns := make([]*ir.Function, 0, len(entries))
	for fn := range entries {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].ID < fns[j].ID })
	return fns
}

// buildFunctions creates a descriptor for every declaration, parents before children
func (ctx *Context) buildFunctions(root ast.Node) error {
	users := variableUsers(root)
	mangled, err := mangler.Mangle(AllocateName, []ast.DataType{ast.Int}, "")
	if err != nil { return err }
	ctx.allocate = ir.NewFunction(-1, AllocateName, nil, mangled)
	ctx.allocate.IsForeign = true
	ctx.allocate.Parameters = []ir.Location{ir.NewVirtualRegister()}

	var result *multierror.Error
	var visit func(n ast.Node, parent *ir.Function)
	visit = func(n ast.Node, parent *ir.Function) {
		switch d := n.(type) {
		case *ast.FunctionDeclaration:
			fn, err := ctx.buildFunction(d, parent, users)
			if err != nil {
				result = multierror.Append(result, err)
				return
			}
			if d.Body != nil { visit(d.Body, fn) }
			return
		case *ast.VariableDeclaration:
			if parent != nil { ctx.locations[d.ID] = place(parent, d, users) }
		}
		for _, c := range ast.Children(n) {
			visit(c, parent)
		}
	}
	visit(root, nil)
	return result.ErrorOrNil()
}

func (ctx *Context) buildFunction(d *ast.FunctionDeclaration, parent *ir.Function, users map[int]map[int]bool) (*ir.Function, error) {
	parentName := ""
	if parent != nil { parentName = parent.MangledName }
	mangled, err := mangler.GetMangledName(d, parentName)
	if err != nil { return nil, err }

	if d.IsForeign {
		fn := ir.NewFunction(d.ID, d.Identifier, nil, mangled)
		fn.IsForeign = true
		for range d.Parameters {
			fn.Parameters = append(fn.Parameters, ir.NewVirtualRegister())
		}
		ctx.functions[d.ID] = fn
		return fn, nil
	}

	fn := ir.NewFunction(d.ID, d.Identifier, parent, mangled)
	fn.IsEntryPoint = d.IsEntryPoint
	if parent != nil { fn.Link = fn.ReserveStackFrameLocation(ast.Int) }
	for _, p := range d.Parameters {
		loc := place(fn, p, users)
		ctx.locations[p.ID] = loc
		fn.Parameters = append(fn.Parameters, loc)
	}
	ctx.functions[d.ID] = fn
	return fn, nil
}

// place keeps a variable in a virtual register unless a nested function reaches it through
// the static link or the collector must find it in the frame
func place(fn *ir.Function, d *ast.VariableDeclaration, users map[int]map[int]bool) ir.Location {
	if len(users[d.ID]) > 1 || ast.IsHeapType(d.VariableType) { return fn.ReserveStackFrameLocation(d.VariableType) }
	return ir.NewVirtualRegister()
}

// variableUsers maps each variable id to the ids of the functions that declare or reference it
func variableUsers(root ast.Node) map[int]map[int]bool {
	users := make(map[int]map[int]bool)
	add := func(v, fn int) {
		if users[v] == nil { users[v] = make(map[int]bool) }
		users[v][fn] = true
	}
	var visit func(n ast.Node, fn int)
	visit = func(n ast.Node, fn int) {
		switch d := n.(type) {
		case *ast.FunctionDeclaration:
			fn = d.ID
		case *ast.VariableDeclaration:
			add(d.ID, fn)
		case *ast.Variable:
			if d.Declaration != nil { add(d.Declaration.ID, fn) }
		}
		for _, c := range ast.Children(n) {
			visit(c, fn)
		}
	}
	visit(root, -1)
	return users
}

// note appends a comment node when assembly comments are enabled
func (ctx *Context) note(nodes []ir.Node, text string) []ir.Node {
	if !ctx.cfg.IsFeatureEnabled(config.FeatAsmComments) { return nodes }
	return append(nodes, &ir.Comment{Text: text})
}

func (ctx *Context) location(d *ast.VariableDeclaration) ir.Location {
	if loc, ok := ctx.locations[d.ID]; ok { return loc }
	if loc, ok := ctx.temporaries[d.ID]; ok { return loc }
	loc := ir.NewVirtualRegister()
	ctx.temporaries[d.ID] = loc
	return loc
}

func (ctx *Context) callee(call *ast.FunctionCall) (*ir.Function, error) {
	if call.Declaration == nil { return nil, errs.Unresolvablef(call.Identifier, "call has no resolved declaration") }
	fn, ok := ctx.functions[call.Declaration.ID]
	if !ok || ctx.arena.Function(call.Declaration.ID) != call.Declaration {
		return nil, errs.Unresolvablef(call.Identifier, "callee is not declared in this unit")
	}
	return fn, nil
}
