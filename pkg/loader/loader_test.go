package loader

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/kju/pkg/ast"
)

const counter = `
functions:
  - name: kju
    body:
      - var: {name: x, type: Int, value: {int: 0}}
      - fun:
          name: bump
          returns: Int
          body:
            - assign: {name: x, op: "+", value: {int: 1}}
            - return: {ref: x}
      - while:
          cond: {binary: {op: "<", left: {ref: x}, right: {int: 10}}}
          body:
            - if:
                cond: {binary: {op: "==", left: {call: {name: bump}}, right: {int: 5}}}
                then: [break]
                else: [continue]
`

func TestLoadResolvesNames(t *testing.T) {
	prog, arena, err := Load(strings.NewReader(counter))
	require.NoError(t, err)
	require.Len(t, prog.Functions, 1)

	main := prog.Functions[0]
	assert.True(t, main.IsEntryPoint)
	assert.Len(t, arena.Functions, 2)

	body := main.Body.Instructions
	require.Len(t, body, 3)
	x := body[0].(*ast.VariableDeclaration)
	bump := body[1].(*ast.FunctionDeclaration)
	loop := body[2].(*ast.WhileStatement)

	assert.Equal(t, ast.Int, bump.ReturnType)
	inc := bump.Body.Instructions[0].(*ast.CompoundAssignment)
	assert.Same(t, x, inc.Lhs.Declaration)
	assert.Equal(t, ast.Add, inc.Operation)

	branch := loop.Body.Instructions[0].(*ast.IfStatement)
	cmp := branch.Condition.(*ast.Comparison)
	assert.Same(t, bump, cmp.Left.(*ast.FunctionCall).Declaration)
	assert.Same(t, loop, branch.ThenBody.Instructions[0].(*ast.BreakStatement).EnclosingLoop)
	assert.Same(t, loop, branch.ElseBody.Instructions[0].(*ast.ContinueStatement).EnclosingLoop)

	assert.Same(t, main, arena.Function(main.ID))
	assert.Same(t, bump, arena.Function(bump.ID))
}

func TestOverloadsByArity(t *testing.T) {
	const src = `
functions:
  - {name: f, returns: Int, body: [{return: {int: 0}}]}
  - name: f
    returns: Int
    params: [{name: a, type: Int}]
    body: [{return: {ref: a}}]
  - name: kju
    body:
      - call: {name: f}
      - call: {name: f, args: [{int: 1}]}
`
	prog, _, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	calls := prog.Functions[2].Body.Instructions
	assert.Same(t, prog.Functions[0], calls[0].(*ast.FunctionCall).Declaration)
	assert.Same(t, prog.Functions[1], calls[1].(*ast.FunctionCall).Declaration)
}

func TestStructsAndArrays(t *testing.T) {
	const src = `
structs:
  - name: Point
    fields: [{name: x, type: Int}, {name: next, type: Point}]
functions:
  - name: kju
    body:
      - var: {name: p, value: {new: Point}}
      - var: {name: xs, value: {new_array: {type: Bool, size: {int: 4}}}}
      - set: {target: {field: {of: {ref: p}, name: next}}, value: {null: Point}}
      - set: {target: {index: {array: {ref: xs}, offset: {int: 2}}}, value: {bool: true}}
      - set: {target: {field: {of: {ref: p}, name: x}}, op: "*", value: {int: 3}}
`
	prog, _, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	body := prog.Functions[0].Body.Instructions

	p := body[0].(*ast.VariableDeclaration)
	assert.Equal(t, ast.StructType{Name: "Point"}, p.VariableType)
	assert.Equal(t, ast.ArrayOf(ast.Bool), body[1].(*ast.VariableDeclaration).VariableType)

	next := body[2].(*ast.ComplexAssignment).Lhs.(*ast.FieldAccess)
	assert.Equal(t, 1, next.Index)
	assert.Equal(t, ast.StructType{Name: "Point"}, next.Type)
	null := body[2].(*ast.ComplexAssignment).Value.(*ast.NullLiteral)
	assert.Equal(t, ast.StructType{Name: "Point"}, null.Type)

	elem := body[3].(*ast.ComplexAssignment).Lhs.(*ast.ArrayAccess)
	assert.Equal(t, ast.Bool, elem.Type)

	scale := body[4].(*ast.ComplexCompoundAssignment)
	assert.Equal(t, ast.Mul, scale.Operation)
	assert.Equal(t, 0, scale.Lhs.(*ast.FieldAccess).Index)
}

func TestKeywordLikeNames(t *testing.T) {
	const src = `
functions:
  - name: kju
    params: [{name: n, type: Int}]
    returns: Bool
    body:
      - var: {name: y, value: {bool: false}}
      - var: {name: off, value: {int: 0x10}}
      - assign: {name: y, value: {binary: {op: "<", left: {ref: n}, right: {ref: off}}}}
      - return: {ref: y}
`
	prog, _, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	fn := prog.Functions[0]
	body := fn.Body.Instructions

	y := body[0].(*ast.VariableDeclaration)
	off := body[1].(*ast.VariableDeclaration)
	assert.Equal(t, "y", y.Identifier)
	assert.Equal(t, "off", off.Identifier)
	assert.Equal(t, int64(16), off.Value.(*ast.IntegerLiteral).Value)

	less := body[2].(*ast.Assignment).Value.(*ast.Comparison)
	assert.Same(t, fn.Parameters[0], less.Left.(*ast.Variable).Declaration)
	assert.Same(t, off, less.Right.(*ast.Variable).Declaration)
	assert.Same(t, y, body[3].(*ast.ReturnStatement).Value.(*ast.Variable).Declaration)
}

func TestUnknownNamesAreReported(t *testing.T) {
	const src = `
functions:
  - name: kju
    body:
      - ref: ghost
      - call: {name: nowhere, args: [{int: 1}]}
      - break
`
	_, _, err := Load(strings.NewReader(src))
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	require.Len(t, merr.Errors, 3)
	assert.Contains(t, merr.Errors[0].Error(), "'ghost'")
	assert.Contains(t, merr.Errors[1].Error(), "'nowhere'")
	assert.Contains(t, merr.Errors[2].Error(), "break outside of a loop")
}

func TestUnitDirectives(t *testing.T) {
	const src = `
entry: start
flags: ["-Wrecursion", "-Fno-asm-comments"]
functions:
  - {name: kju}
  - {name: start}
`
	u, err := LoadUnit(strings.NewReader(src), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"-Wrecursion", "-Fno-asm-comments"}, u.Flags)
	assert.Equal(t, "start", u.Entry)
	assert.False(t, u.Program.Functions[0].IsEntryPoint)
	assert.True(t, u.Program.Functions[1].IsEntryPoint)

	u, err = LoadUnit(strings.NewReader(src), "kju")
	require.NoError(t, err)
	assert.True(t, u.Program.Functions[0].IsEntryPoint)
}

func TestMalformedUnit(t *testing.T) {
	_, _, err := Load(strings.NewReader("functions: [{name: kju, colour: red}]"))
	assert.Error(t, err, "unknown keys are rejected")

	_, _, err = Load(strings.NewReader("functions: [{name: kju, params: [{name: a, type: Widget}]}]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'Widget'")

	_, _, err = Load(strings.NewReader("functions: [{name: kju, body: [{int: 9223372036854775808}, {bool: maybe}]}]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows Int")
	assert.Contains(t, err.Error(), "maybe is not a boolean")
}
