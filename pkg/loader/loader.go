// Package loader reads a KJU unit described in YAML and resolves it into a typed AST
package loader

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/xplshn/kju/pkg/ast"
)

// DefaultEntry names the entry function when neither the caller nor the unit picks one
const DefaultEntry = "kju"

type paramSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type structSpec struct {
	Name   string      `yaml:"name"`
	Fields []paramSpec `yaml:"fields"`
}

type funcSpec struct {
	Name    string      `yaml:"name"`
	Returns string      `yaml:"returns"`
	Params  []paramSpec `yaml:"params"`
	Foreign bool        `yaml:"foreign"`
	Body    []node      `yaml:"body"`
}

// node decodes a YAML value with every scalar kept as its source text, so
// names like n or yes are not resolved to booleans. A null key reads as "null"
type node struct{ v interface{} }

func (n *node) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s *string
	if err := unmarshal(&s); err == nil {
		if s != nil { n.v = *s }
		return nil
	}
	var seq []node
	if err := unmarshal(&seq); err == nil {
		n.v = plain(seq)
		return nil
	}
	var m map[interface{}]node
	if err := unmarshal(&m); err != nil { return err }
	out := make(map[interface{}]interface{}, len(m))
	for k, val := range m {
		if k == nil { k = "null" }
		out[fmt.Sprint(k)] = val.v
	}
	n.v = out
	return nil
}

func plain(nodes []node) []interface{} {
	out := make([]interface{}, len(nodes))
	for i, n := range nodes {
		out[i] = n.v
	}
	return out
}

type unitFile struct {
	Entry     string       `yaml:"entry"`
	Flags     []string     `yaml:"flags"`
	Structs   []structSpec `yaml:"structs"`
	Functions []funcSpec   `yaml:"functions"`
}

// Unit is a loaded program with the directives its file carried
type Unit struct {
	Program *ast.Program
	Arena   *ast.Arena
	Flags   []string
	Entry   string
}

// Load reads a unit and returns its indexed program
func Load(r io.Reader) (*ast.Program, *ast.Arena, error) {
	u, err := LoadUnit(r, "")
	if err != nil { return nil, nil, err }
	return u.Program, u.Arena, nil
}

// LoadUnit is Load keeping the unit's flags. A non-empty entry overrides the unit's own
func LoadUnit(r io.Reader, entry string) (*Unit, error) {
	data, err := io.ReadAll(r)
	if err != nil { return nil, errors.Wrap(err, "reading unit") }
	var f unitFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil { return nil, errors.Wrap(err, "parsing unit") }

	if entry == "" { entry = f.Entry }
	if entry == "" { entry = DefaultEntry }

	l := &loader{structs: make(map[string]*ast.StructDeclaration)}
	prog := l.program(&f, entry)
	if err := l.result.ErrorOrNil(); err != nil { return nil, err }
	return &Unit{Program: prog, Arena: ast.Index(prog), Flags: f.Flags, Entry: entry}, nil
}

type scope struct {
	parent *scope
	vars   map[string]*ast.VariableDeclaration
	funcs  map[string][]*ast.FunctionDeclaration
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, vars: make(map[string]*ast.VariableDeclaration), funcs: make(map[string][]*ast.FunctionDeclaration)}
}

func (s *scope) variable(name string) *ast.VariableDeclaration {
	for sc := s; sc != nil; sc = sc.parent {
		if d, ok := sc.vars[name]; ok { return d }
	}
	return nil
}

// function finds the innermost function called name taking arity arguments
func (s *scope) function(name string, arity int) *ast.FunctionDeclaration {
	for sc := s; sc != nil; sc = sc.parent {
		for _, d := range sc.funcs[name] {
			if len(d.Parameters) == arity { return d }
		}
	}
	return nil
}

type loader struct {
	structs map[string]*ast.StructDeclaration
	loops   []*ast.WhileStatement
	result  *multierror.Error
}

func (l *loader) fail(format string, args ...interface{}) {
	l.result = multierror.Append(l.result, errors.Errorf(format, args...))
}

func (l *loader) program(f *unitFile, entry string) *ast.Program {
	prog := &ast.Program{}
	for _, s := range f.Structs {
		if _, dup := l.structs[s.Name]; dup {
			l.fail("struct '%s' declared twice", s.Name)
			continue
		}
		decl := &ast.StructDeclaration{Name: s.Name}
		l.structs[s.Name] = decl
		prog.Structs = append(prog.Structs, decl)
	}
	// fields are typed once every struct name is known so structs can refer to each other
	for _, s := range f.Structs {
		decl := l.structs[s.Name]
		if len(decl.Fields) > 0 { continue }
		for _, field := range s.Fields {
			decl.Fields = append(decl.Fields, ast.StructField{Name: field.Name, Type: l.typ(field.Type)})
		}
	}

	global := newScope(nil)
	for i := range f.Functions {
		prog.Functions = append(prog.Functions, l.declare(global, &f.Functions[i]))
	}
	for i, d := range prog.Functions {
		l.define(global, d, &f.Functions[i])
	}
	for _, d := range prog.Functions {
		if d.Identifier == entry && !d.IsForeign {
			d.IsEntryPoint = true
			break
		}
	}
	return prog
}

func (l *loader) typ(s string) ast.DataType {
	switch s {
	case "Int": return ast.Int
	case "Bool": return ast.Bool
	case "Unit", "": return ast.Unit
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") { return ast.ArrayOf(l.typ(s[1 : len(s)-1])) }
	if _, ok := l.structs[s]; ok { return ast.StructType{Name: s} }
	l.fail("unknown type '%s'", s)
	return ast.Unit
}

// declare makes a function visible in sc before its body is resolved
func (l *loader) declare(sc *scope, spec *funcSpec) *ast.FunctionDeclaration {
	params := make([]*ast.VariableDeclaration, 0, len(spec.Params))
	for _, p := range spec.Params {
		if p.Type == "" { l.fail("parameter '%s' of '%s' has no type", p.Name, spec.Name) }
		params = append(params, ast.NewVarDecl(p.Name, l.typ(p.Type), nil))
	}
	decl := ast.NewFunction(spec.Name, l.typ(spec.Returns), params, nil)
	decl.IsForeign = spec.Foreign
	if containsArity(sc.funcs[spec.Name], len(params)) {
		l.fail("function '%s' with %d parameters declared twice", spec.Name, len(params))
	}
	sc.funcs[spec.Name] = append(sc.funcs[spec.Name], decl)
	return decl
}

func containsArity(decls []*ast.FunctionDeclaration, arity int) bool {
	for _, d := range decls {
		if len(d.Parameters) == arity { return true }
	}
	return false
}

func (l *loader) define(sc *scope, decl *ast.FunctionDeclaration, spec *funcSpec) {
	if decl.IsForeign {
		if len(spec.Body) > 0 { l.fail("foreign function '%s' has a body", spec.Name) }
		return
	}
	inner := newScope(sc)
	for _, p := range decl.Parameters {
		if _, dup := inner.vars[p.Identifier]; dup { l.fail("parameter '%s' of '%s' declared twice", p.Identifier, spec.Name) }
		inner.vars[p.Identifier] = p
	}
	outerLoops := l.loops
	l.loops = nil
	decl.Body = l.block(inner, plain(spec.Body))
	l.loops = outerLoops
}

// block resolves a statement list. Functions declared in it are visible to the whole block
func (l *loader) block(sc *scope, items []interface{}) *ast.InstructionBlock {
	inner := newScope(sc)
	type nested struct {
		decl *ast.FunctionDeclaration
		spec *funcSpec
	}
	fns := make(map[int]nested)
	for i, item := range items {
		key, val, err := single(item)
		if err != nil || key != "fun" { continue }
		spec := &funcSpec{}
		if err := decodeAs(val, spec); err != nil {
			l.fail("nested function: %v", err)
			continue
		}
		fns[i] = nested{decl: l.declare(inner, spec), spec: spec}
	}

	out := ast.NewBlock()
	for i, item := range items {
		if fn, ok := fns[i]; ok {
			l.define(inner, fn.decl, fn.spec)
			out.Instructions = append(out.Instructions, fn.decl)
			continue
		}
		if n := l.statement(inner, item); n != nil { out.Instructions = append(out.Instructions, n) }
	}
	return out
}

func (l *loader) statement(sc *scope, item interface{}) ast.Node {
	key, val, err := single(item)
	if err != nil {
		l.fail("statement: %v", err)
		return nil
	}
	switch key {
	case "fun":
		return nil
	case "var":
		m := l.fields(key, val)
		name := l.text(m, "name")
		var value ast.Node
		if m["value"] != nil { value = l.expr(sc, m["value"]) }
		var typ ast.DataType
		switch t := l.text(m, "type"); {
		case t != "": typ = l.typ(t)
		case value != nil: typ = ast.TypeOf(value)
		default:
			l.fail("variable '%s' has neither a type nor a value", name)
			typ = ast.Unit
		}
		decl := ast.NewVarDecl(name, typ, value)
		if _, dup := sc.vars[name]; dup { l.fail("variable '%s' declared twice in one block", name) }
		sc.vars[name] = decl
		return decl
	case "while":
		m := l.fields(key, val)
		loop := &ast.WhileStatement{Condition: l.expr(sc, m["cond"])}
		l.loops = append(l.loops, loop)
		loop.Body = l.block(sc, l.list(m["body"]))
		l.loops = l.loops[:len(l.loops)-1]
		return loop
	case "if":
		m := l.fields(key, val)
		stmt := &ast.IfStatement{Condition: l.expr(sc, m["cond"]), ThenBody: l.block(sc, l.list(m["then"]))}
		if m["else"] != nil { stmt.ElseBody = l.block(sc, l.list(m["else"])) }
		return stmt
	case "return":
		if val == nil { return ast.NewReturn(nil) }
		return ast.NewReturn(l.expr(sc, val))
	case "break", "continue":
		if len(l.loops) == 0 {
			l.fail("%s outside of a loop", key)
			return nil
		}
		loop := l.loops[len(l.loops)-1]
		if key == "break" { return &ast.BreakStatement{EnclosingLoop: loop} }
		return &ast.ContinueStatement{EnclosingLoop: loop}
	}
	return l.expression(sc, key, val)
}

func (l *loader) expr(sc *scope, v interface{}) ast.Node {
	key, val, err := single(v)
	if err != nil {
		l.fail("expression: %v", err)
		return &ast.UnitLiteral{}
	}
	return l.expression(sc, key, val)
}

var (
	arithmeticOps = map[string]ast.ArithmeticOp{"+": ast.Add, "-": ast.Sub, "*": ast.Mul, "/": ast.Div, "%": ast.Mod}
	comparisonOps = map[string]ast.ComparisonOp{"==": ast.Equal, "!=": ast.NotEqual, "<": ast.Less, "<=": ast.LessOrEqual, ">": ast.Greater, ">=": ast.GreaterOrEqual}
	logicalOps    = map[string]ast.LogicalOp{"&&": ast.And, "||": ast.Or}
	unaryOps      = map[string]ast.UnaryOp{"!": ast.Not, "-": ast.Minus, "+": ast.Plus}
)

func (l *loader) expression(sc *scope, key string, val interface{}) ast.Node {
	switch key {
	case "int":
		v, err := toInt(val)
		if err != nil { l.fail("int literal: %v", err) }
		return ast.NewInt(v)
	case "bool":
		b, err := strconv.ParseBool(fmt.Sprint(val))
		if err != nil { l.fail("bool literal: %v is not a boolean", val) }
		return ast.NewBool(b)
	case "unit":
		return &ast.UnitLiteral{}
	case "null":
		return &ast.NullLiteral{Type: l.typ(fmt.Sprint(val))}
	case "ref":
		name := fmt.Sprint(val)
		decl := sc.variable(name)
		if decl == nil {
			l.fail("unknown variable '%s'", name)
			return &ast.UnitLiteral{}
		}
		return ast.NewVariable(decl)
	case "call":
		m := l.fields(key, val)
		name := l.text(m, "name")
		var args []ast.Node
		for _, a := range l.list(m["args"]) {
			args = append(args, l.expr(sc, a))
		}
		decl := sc.function(name, len(args))
		if decl == nil {
			l.fail("unknown function '%s' taking %d arguments", name, len(args))
			return &ast.UnitLiteral{}
		}
		return ast.NewCall(decl, args...)
	case "assign":
		m := l.fields(key, val)
		name := l.text(m, "name")
		value := l.expr(sc, m["value"])
		decl := sc.variable(name)
		if decl == nil {
			l.fail("unknown variable '%s'", name)
			return &ast.UnitLiteral{}
		}
		if op := l.text(m, "op"); op != "" {
			return &ast.CompoundAssignment{Lhs: ast.NewVariable(decl), Operation: l.arithmetic(op), Value: value}
		}
		return ast.NewAssign(decl, value)
	case "binary":
		m := l.fields(key, val)
		op := l.text(m, "op")
		left, right := l.expr(sc, m["left"]), l.expr(sc, m["right"])
		if a, ok := arithmeticOps[op]; ok { return ast.NewArithmetic(a, left, right) }
		if c, ok := comparisonOps[op]; ok { return ast.NewComparison(c, left, right) }
		if g, ok := logicalOps[op]; ok { return ast.NewLogical(g, left, right) }
		l.fail("unknown binary operator '%s'", op)
		return &ast.UnitLiteral{}
	case "unary":
		m := l.fields(key, val)
		op, ok := unaryOps[l.text(m, "op")]
		if !ok { l.fail("unknown unary operator '%s'", l.text(m, "op")) }
		return &ast.UnaryOperation{Operation: op, Value: l.expr(sc, m["value"])}
	case "index":
		m := l.fields(key, val)
		lhs, offset := l.expr(sc, m["array"]), l.expr(sc, m["offset"])
		arr, ok := ast.TypeOf(lhs).(ast.ArrayType)
		if !ok {
			l.fail("indexing a value of type %v", ast.TypeOf(lhs))
			return &ast.ArrayAccess{Lhs: lhs, Offset: offset, Type: ast.Unit}
		}
		return &ast.ArrayAccess{Lhs: lhs, Offset: offset, Type: arr.Elem}
	case "field":
		m := l.fields(key, val)
		lhs, name := l.expr(sc, m["of"]), l.text(m, "name")
		return l.field(lhs, name)
	case "set":
		m := l.fields(key, val)
		target, value := l.expr(sc, m["target"]), l.expr(sc, m["value"])
		switch target.(type) {
		case *ast.ArrayAccess, *ast.FieldAccess:
		default:
			l.fail("set target must be an index or field expression")
			return &ast.UnitLiteral{}
		}
		if op := l.text(m, "op"); op != "" {
			return &ast.ComplexCompoundAssignment{Lhs: target, Value: value, Operation: l.arithmetic(op)}
		}
		return &ast.ComplexAssignment{Lhs: target, Value: value}
	case "new_array":
		m := l.fields(key, val)
		return &ast.ArrayAlloc{ElementType: l.typ(l.text(m, "type")), Size: l.expr(sc, m["size"])}
	case "new":
		name := fmt.Sprint(val)
		decl, ok := l.structs[name]
		if !ok {
			l.fail("unknown struct '%s'", name)
			return &ast.UnitLiteral{}
		}
		return &ast.StructAlloc{Declaration: decl}
	}
	l.fail("unknown expression '%s'", key)
	return &ast.UnitLiteral{}
}

func (l *loader) field(lhs ast.Node, name string) ast.Node {
	st, ok := ast.TypeOf(lhs).(ast.StructType)
	if !ok {
		l.fail("field '%s' of a value of type %v", name, ast.TypeOf(lhs))
		return &ast.FieldAccess{Lhs: lhs, Field: name, Type: ast.Unit}
	}
	for i, f := range l.structs[st.Name].Fields {
		if f.Name == name { return &ast.FieldAccess{Lhs: lhs, Field: name, Index: i, Type: f.Type} }
	}
	l.fail("struct '%s' has no field '%s'", st.Name, name)
	return &ast.FieldAccess{Lhs: lhs, Field: name, Type: ast.Unit}
}

func (l *loader) arithmetic(op string) ast.ArithmeticOp {
	a, ok := arithmeticOps[op]
	if !ok { l.fail("unknown arithmetic operator '%s'", op) }
	return a
}

func (l *loader) fields(key string, v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	raw, ok := v.(map[interface{}]interface{})
	if !ok {
		l.fail("'%s' expects a mapping", key)
		return out
	}
	for k, val := range raw {
		out[fmt.Sprint(k)] = val
	}
	return out
}

func (l *loader) list(v interface{}) []interface{} {
	if v == nil { return nil }
	items, ok := v.([]interface{})
	if !ok { l.fail("expected a list, got %v", v) }
	return items
}

func (l *loader) text(m map[string]interface{}, key string) string {
	if m[key] == nil { return "" }
	return fmt.Sprint(m[key])
}

// single splits a one-key mapping. A bare string is a key without a value
func single(v interface{}) (string, interface{}, error) {
	switch n := v.(type) {
	case string:
		return n, nil, nil
	case map[interface{}]interface{}:
		if len(n) != 1 { return "", nil, errors.Errorf("expected a single-key mapping, got %d keys", len(n)) }
		for k, val := range n {
			return fmt.Sprint(k), val, nil
		}
	}
	return "", nil, errors.Errorf("expected a single-key mapping, got %v", v)
}

func decodeAs(v interface{}, out interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil { return err }
	return yaml.UnmarshalStrict(data, out)
}

func toInt(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok { return 0, errors.Errorf("%v is not an integer", v) }
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange { return 0, errors.Errorf("%s overflows Int", s) }
		return 0, errors.Errorf("%s is not an integer", s)
	}
	return n, nil
}
