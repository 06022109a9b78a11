package exports

import (
	"fmt"
	"go/ast"
	"strings"

	"github.com/emenda-labs/apidelta/core/surface"
)

// renderTypeExpr converts any ast.Expr to its canonical string representation.
// This is the single source of truth for type rendering across the package.
func renderTypeExpr(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name

	case *ast.SelectorExpr:
		return renderTypeExpr(e.X) + "." + e.Sel.Name

	case *ast.StarExpr:
		return "*" + renderTypeExpr(e.X)

	case *ast.ArrayType:
		if e.Len != nil {
			return fmt.Sprintf("[%s]%s", renderTypeExpr(e.Len), renderTypeExpr(e.Elt))
		}
		return "[]" + renderTypeExpr(e.Elt)

	case *ast.MapType:
		return "map[" + renderTypeExpr(e.Key) + "]" + renderTypeExpr(e.Value)

	case *ast.InterfaceType:
		if e.Methods == nil || len(e.Methods.List) == 0 {
			return "interface{}"
		}
		return "interface{...}"

	case *ast.FuncType:
		return "func" + renderFuncType(e)

	case *ast.Ellipsis:
		return "..." + renderTypeExpr(e.Elt)

	case *ast.ChanType:
		switch e.Dir {
		case ast.RECV:
			return "<-chan " + renderTypeExpr(e.Value)
		case ast.SEND:
			return "chan<- " + renderTypeExpr(e.Value)
		default:
			return "chan " + renderTypeExpr(e.Value)
		}

	case *ast.StructType:
		if e.Fields == nil || len(e.Fields.List) == 0 {
			return "struct{}"
		}
		return "struct{...}"

	case *ast.IndexExpr:
		return renderTypeExpr(e.X) + "[" + renderTypeExpr(e.Index) + "]"

	case *ast.IndexListExpr:
		indices := make([]string, len(e.Indices))
		for i, idx := range e.Indices {
			indices[i] = renderTypeExpr(idx)
		}
		return renderTypeExpr(e.X) + "[" + strings.Join(indices, ", ") + "]"

	case *ast.ParenExpr:
		return "(" + renderTypeExpr(e.X) + ")"

	case *ast.UnaryExpr:
		// Type set terms in constraints, e.g. ~int.
		return e.Op.String() + renderTypeExpr(e.X)

	case *ast.BinaryExpr:
		return renderTypeExpr(e.X) + " " + e.Op.String() + " " + renderTypeExpr(e.Y)

	case *ast.BasicLit:
		return e.Value

	default:
		return "unknown"
	}
}

// funcSignature converts a function type. Go arguments are always passed
// by position, so every parameter is positional-only and a trailing
// ...T becomes a variadic parameter of type T.
func funcSignature(funcType *ast.FuncType) surface.Signature {
	if funcType == nil {
		return surface.Signature{}
	}

	var params []surface.Param
	if funcType.Params != nil {
		for _, field := range funcType.Params.List {
			kind := surface.ParamPositionalOnly
			typ := field.Type
			if e, ok := typ.(*ast.Ellipsis); ok {
				kind, typ = surface.ParamVarPositional, e.Elt
			}
			typeStr := renderTypeExpr(typ)

			if len(field.Names) == 0 {
				// Unnamed parameter (common in interface method signatures).
				params = append(params, surface.Param{Name: "_", Kind: kind, Type: typeStr})
				continue
			}
			for _, name := range field.Names {
				params = append(params, surface.Param{Name: name.Name, Kind: kind, Type: typeStr})
			}
		}
	}

	return surface.Signature{Params: params, Returns: renderResults(funcType.Results)}
}

// renderResults renders a result list: "T" for one result, "(A, B)" for
// several, "" for none. Result names are dropped.
func renderResults(results *ast.FieldList) string {
	if results == nil {
		return ""
	}
	var types []string
	for _, field := range results.List {
		typeStr := renderTypeExpr(field.Type)
		if len(field.Names) == 0 {
			types = append(types, typeStr)
			continue
		}
		for range field.Names {
			types = append(types, typeStr)
		}
	}
	switch len(types) {
	case 0:
		return ""
	case 1:
		return types[0]
	default:
		return "(" + strings.Join(types, ", ") + ")"
	}
}

// renderFuncType renders a function type the way it is written in a type
// expression: "(int, string) error".
func renderFuncType(funcType *ast.FuncType) string {
	sig := funcSignature(funcType)
	parts := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		if p.Kind == surface.ParamVarPositional {
			parts[i] = "..." + p.Type
		} else {
			parts[i] = p.Type
		}
	}
	s := "(" + strings.Join(parts, ", ") + ")"
	if sig.Returns != "" {
		s += " " + sig.Returns
	}
	return s
}

// typeParams renders a generic declaration's type parameter list, e.g.
// "[K comparable, V any]".
func typeParams(list *ast.FieldList) string {
	if list == nil || len(list.List) == 0 {
		return ""
	}
	var parts []string
	for _, field := range list.List {
		constraint := renderTypeExpr(field.Type)
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+constraint)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// valueType returns the explicit type of a const or var spec, or "" for
// untyped ones.
func valueType(spec *ast.ValueSpec) string {
	if spec == nil || spec.Type == nil {
		return ""
	}
	return renderTypeExpr(spec.Type)
}

// literalValue renders the i'th initializer of spec when it is a basic
// literal, or a negated one.
func literalValue(spec *ast.ValueSpec, i int) string {
	if spec == nil || i >= len(spec.Values) {
		return ""
	}
	switch v := spec.Values[i].(type) {
	case *ast.BasicLit:
		return v.Value
	case *ast.UnaryExpr:
		if lit, ok := v.X.(*ast.BasicLit); ok {
			return v.Op.String() + lit.Value
		}
	}
	return ""
}
