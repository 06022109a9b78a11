package python

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/emenda-labs/apidelta/core/surface"
)

// parseParameters converts a tree-sitter "parameters" node. A bare "/"
// turns everything before it positional-only; a bare "*" or "*args" turns
// everything after it keyword-only.
func parseParameters(node *sitter.Node, src []byte) []surface.Param {
	if node == nil {
		return nil
	}

	var params []surface.Param
	keywordOnly := false
	nextKind := func() surface.ParamKind {
		if keywordOnly {
			return surface.ParamKeywordOnly
		}
		return surface.ParamPositionalOrKeyword
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "identifier":
			params = append(params, surface.Param{Name: text(child, src), Kind: nextKind()})

		case "default_parameter":
			params = append(params, surface.Param{
				Name:       fieldContent(child, "name", src),
				Kind:       nextKind(),
				HasDefault: true,
			})

		case "typed_default_parameter":
			params = append(params, surface.Param{
				Name:       fieldContent(child, "name", src),
				Kind:       nextKind(),
				HasDefault: true,
				Type:       fieldContent(child, "type", src),
			})

		case "typed_parameter":
			p := surface.Param{Type: fieldContent(child, "type", src)}
			inner := child.NamedChild(0)
			if inner == nil {
				continue
			}
			switch inner.Type() {
			case "list_splat_pattern":
				p.Name, p.Kind = splatName(inner, src), surface.ParamVarPositional
				keywordOnly = true
			case "dictionary_splat_pattern":
				p.Name, p.Kind = splatName(inner, src), surface.ParamVarKeyword
			default:
				p.Name, p.Kind = text(inner, src), nextKind()
			}
			params = append(params, p)

		case "list_splat_pattern":
			keywordOnly = true
			// Older grammars parse a bare "*" as an empty splat.
			if name := splatName(child, src); name != "" {
				params = append(params, surface.Param{Name: name, Kind: surface.ParamVarPositional})
			}

		case "dictionary_splat_pattern":
			params = append(params, surface.Param{Name: splatName(child, src), Kind: surface.ParamVarKeyword})

		case "keyword_separator":
			keywordOnly = true

		case "positional_separator":
			for j := range params {
				if params[j].Kind == surface.ParamPositionalOrKeyword {
					params[j].Kind = surface.ParamPositionalOnly
				}
			}
		}
	}
	return params
}

func splatName(node *sitter.Node, src []byte) string {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if c := node.NamedChild(i); c.Type() == "identifier" {
			return text(c, src)
		}
	}
	return ""
}

func fieldContent(node *sitter.Node, field string, src []byte) string {
	if c := node.ChildByFieldName(field); c != nil {
		return text(c, src)
	}
	return ""
}

// dropReceiver removes the leading self or cls parameter of a method.
func dropReceiver(params []surface.Param) []surface.Param {
	if len(params) > 0 && params[0].Kind.Positional() {
		return params[1:]
	}
	return params
}
