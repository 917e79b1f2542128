// Package mangler encodes function signatures into Itanium-flavoured linkage symbols
package mangler

import (
	"fmt"
	"strings"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/errs"
)

const namespace = "3KJU"

// GetMangledName returns the symbol for decl. parent is the enclosing function's symbol, or "" for a top-level function
func GetMangledName(decl *ast.FunctionDeclaration, parent string) (string, error) {
	params := make([]ast.DataType, len(decl.Parameters))
	for i, p := range decl.Parameters {
		params[i] = p.VariableType
	}
	return Mangle(decl.Identifier, params, parent)
}

// Mangle is GetMangledName over the raw signature parts
func Mangle(identifier string, params []ast.DataType, parent string) (string, error) {
	var sb strings.Builder
	name := fmt.Sprintf("%d%s", len(identifier), identifier)
	if parent == "" {
		fmt.Fprintf(&sb, "_ZN%s%sE", namespace, name)
	} else {
		fmt.Fprintf(&sb, "_Z%sEN%sE", parent[1:], name)
	}

	if len(params) == 0 {
		sb.WriteString("v")
		return sb.String(), nil
	}
	for i, p := range params {
		if err := encodeType(&sb, p); err != nil {
			return "", errs.MalformedTypef(identifier, "parameter %d: %v", i, err)
		}
	}
	return sb.String(), nil
}

func encodeType(sb *strings.Builder, t ast.DataType) error {
	switch t := t.(type) {
	case ast.BoolType: sb.WriteString("b")
	case ast.IntType: sb.WriteString("x")
	case ast.UnitType: sb.WriteString("v")
	case ast.ArrayType:
		sb.WriteString("P")
		return encodeType(sb, t.Elem)
	case ast.StructType:
		sb.WriteString("Ts")
		sb.WriteString(t.Name)
	case nil:
		return fmt.Errorf("missing type")
	default:
		return fmt.Errorf("type %s cannot be mangled", t)
	}
	return nil
}
