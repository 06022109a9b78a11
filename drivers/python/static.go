package python

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/emenda-labs/apidelta/core/surface"
)

const (
	maxSourceFileSize = 2 * 1024 * 1024
	maxValueLen       = 80
)

// publicDunders are the special methods that belong to a class's public
// surface. __init__ is absorbed into the class signature instead.
var publicDunders = map[string]bool{
	"__call__":   true,
	"__enter__":  true,
	"__exit__":   true,
	"__iter__":   true,
	"__aenter__": true,
	"__aexit__":  true,
}

// parseModule extracts the public elements defined by one source file.
// It fails without partial results when the file is too large, is not
// UTF-8 or does not parse cleanly.
func parseModule(ctx context.Context, module string, src []byte) ([]surface.APIElement, error) {
	if len(src) > maxSourceFileSize {
		return nil, fmt.Errorf("file is %d bytes, limit is %d", len(src), maxSourceFileSize)
	}
	if !utf8.Valid(src) {
		return nil, errors.New("content is not valid UTF-8")
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, errors.New("tree-sitter returned nil root node")
	}
	if root.HasError() {
		return nil, errors.New("source contains syntax errors")
	}

	w := &moduleWalker{module: module, src: src}
	w.statements(root)
	return w.out, nil
}

type moduleWalker struct {
	module string
	src    []byte
	out    []surface.APIElement
}

func (w *moduleWalker) statements(block *sitter.Node) {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		stmt := block.NamedChild(i)
		switch stmt.Type() {
		case "function_definition":
			w.function(stmt, nil)
		case "class_definition":
			w.class(stmt, nil)
		case "decorated_definition":
			decs := decorators(stmt, w.src)
			def := stmt.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			switch def.Type() {
			case "function_definition":
				w.function(def, decs)
			case "class_definition":
				w.class(def, decs)
			}
		case "expression_statement":
			if a := stmt.NamedChild(0); a != nil && a.Type() == "assignment" {
				w.assignment(a)
			}
		case "if_statement":
			if strings.Contains(fieldContent(stmt, "condition", w.src), "TYPE_CHECKING") {
				continue
			}
			for _, b := range nestedBlocks(stmt) {
				w.statements(b)
			}
		case "try_statement":
			for _, b := range nestedBlocks(stmt) {
				w.statements(b)
			}
		}
	}
}

func (w *moduleWalker) emit(e surface.APIElement, doc string, decs []string) {
	e.DefinedIn = w.module
	e.DocSummary = surface.DocSummary(doc)
	for _, d := range decs {
		if surface.IsDeprecationDecorator(d) {
			e.IsDeprecated = true
			e.DeprecationMessage = surface.DecoratorMessage(d)
			break
		}
	}
	if !e.IsDeprecated {
		e.IsDeprecated, e.DeprecationMessage = surface.DetectDeprecation(doc)
	}
	w.out = append(w.out, e)
}

func (w *moduleWalker) function(node *sitter.Node, decs []string) {
	name := fieldContent(node, "name", w.src)
	if !isPublic(name) {
		return
	}
	kind := surface.KindFunction
	if isAsync(node) {
		kind = surface.KindAsyncFunction
	}
	w.emit(surface.APIElement{
		Name: name,
		Kind: kind,
		Signature: surface.Signature{
			Params:  parseParameters(node.ChildByFieldName("parameters"), w.src),
			Returns: fieldContent(node, "return_type", w.src),
		},
	}, docstring(node.ChildByFieldName("body"), w.src), decs)
}

func (w *moduleWalker) class(node *sitter.Node, decs []string) {
	name := fieldContent(node, "name", w.src)
	if !isPublic(name) {
		return
	}
	body := node.ChildByFieldName("body")
	cls := surface.APIElement{
		Name:      name,
		Kind:      surface.KindClass,
		Signature: surface.Signature{Bases: superclasses(node.ChildByFieldName("superclasses"), w.src)},
	}

	var (
		initParams []surface.Param
		hasInit    bool
		fields     []surface.Param
	)
	dataclass := false
	for _, d := range decs {
		switch decoratorName(d) {
		case "dataclass", "define", "frozen", "mutable", "attrs":
			dataclass = true
		}
	}

	var members []func()
	if body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			stmt := body.NamedChild(i)
			var def *sitter.Node
			var mdecs []string
			switch stmt.Type() {
			case "function_definition":
				def = stmt
			case "decorated_definition":
				def = stmt.ChildByFieldName("definition")
				mdecs = decorators(stmt, w.src)
			case "expression_statement":
				a := stmt.NamedChild(0)
				if a == nil || a.Type() != "assignment" {
					continue
				}
				if f, ok := w.classAttribute(name, a, dataclass); ok {
					fields = append(fields, f)
				}
				continue
			default:
				continue
			}
			if def == nil || def.Type() != "function_definition" {
				continue
			}
			if fieldContent(def, "name", w.src) == "__init__" {
				hasInit = true
				initParams = dropReceiver(parseParameters(def.ChildByFieldName("parameters"), w.src))
				continue
			}
			members = append(members, func() { w.method(name, def, mdecs) })
		}
	}

	switch {
	case hasInit:
		cls.Signature.Params = initParams
	case dataclass:
		cls.Signature.Params = fields
	}
	w.emit(cls, docstring(body, w.src), decs)
	for _, m := range members {
		m()
	}
}

// classAttribute handles an assignment in a class body. "x = property(...)"
// becomes a property; annotated attributes of a dataclass become fields.
func (w *moduleWalker) classAttribute(cls string, a *sitter.Node, dataclass bool) (surface.Param, bool) {
	left := a.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return surface.Param{}, false
	}
	name := text(left, w.src)
	right := a.ChildByFieldName("right")

	if w.propertyCall(right) {
		if isPublic(name) {
			w.emit(surface.APIElement{Name: cls + "." + name, Kind: surface.KindProperty}, "", nil)
		}
		return surface.Param{}, false
	}

	typ := fieldContent(a, "type", w.src)
	if !dataclass || typ == "" || strings.Contains(typ, "ClassVar") || strings.HasPrefix(name, "_") {
		return surface.Param{}, false
	}
	return surface.Param{
		Name:       name,
		Kind:       surface.ParamPositionalOrKeyword,
		HasDefault: right != nil,
		Type:       typ,
	}, true
}

func (w *moduleWalker) method(cls string, node *sitter.Node, decs []string) {
	name := fieldContent(node, "name", w.src)
	if !isPublic(name) && !publicDunders[name] {
		return
	}

	kind := surface.KindMethod
	if isAsync(node) {
		kind = surface.KindAsyncMethod
	}
	static := false
	for _, d := range decs {
		switch n := decoratorName(d); {
		case n == "property", n == "cached_property", n == "abstractproperty", n == "getter":
			kind = surface.KindProperty
		case n == "setter", n == "deleter":
			return
		case n == "staticmethod":
			static = true
		}
	}

	params := parseParameters(node.ChildByFieldName("parameters"), w.src)
	if !static {
		params = dropReceiver(params)
	}
	sig := surface.Signature{Returns: fieldContent(node, "return_type", w.src)}
	if kind != surface.KindProperty {
		sig.Params = params
	}
	w.emit(surface.APIElement{
		Name:      cls + "." + name,
		Kind:      kind,
		Signature: sig,
	}, docstring(node.ChildByFieldName("body"), w.src), decs)
}

// assignment classifies a module-level binding. Names that are neither
// constants nor type aliases are not part of the surface.
func (w *moduleWalker) assignment(a *sitter.Node) {
	left := a.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := text(left, w.src)
	if !isPublic(name) {
		return
	}
	typ := fieldContent(a, "type", w.src)
	right := a.ChildByFieldName("right")

	switch {
	case w.propertyCall(right):
		w.emit(surface.APIElement{Name: name, Kind: surface.KindProperty}, "", nil)
	case isAllCaps(name):
		e := surface.APIElement{Name: name, Kind: surface.KindConstant, Signature: surface.Signature{Returns: typ}}
		if right != nil {
			e.Signature.Value = snippet(text(right, w.src))
		}
		w.emit(e, "", nil)
	case right != nil && (isTypeAliasAnnotation(typ) || (startsUpper(name) && genericExpr(right))):
		w.emit(surface.APIElement{
			Name:      name,
			Kind:      surface.KindTypeAlias,
			Signature: surface.Signature{Value: snippet(text(right, w.src))},
		}, "", nil)
	}
}

// propertyCall matches a right-hand side of the form property(...).
func (w *moduleWalker) propertyCall(right *sitter.Node) bool {
	return right != nil && right.Type() == "call" && fieldContent(right, "function", w.src) == "property"
}

// genericExpr matches subscripted types like Dict[str, int] and unions of
// them such as Optional[int] | None.
func genericExpr(n *sitter.Node) bool {
	switch n.Type() {
	case "subscript", "generic_type":
		return true
	case "binary_operator":
		op := n.ChildByFieldName("operator")
		if op == nil || op.Type() != "|" {
			return false
		}
		l, r := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		if l == nil || r == nil || !unionOperand(l) || !unionOperand(r) {
			return false
		}
		return genericExpr(l) || genericExpr(r)
	}
	return false
}

func unionOperand(n *sitter.Node) bool {
	switch n.Type() {
	case "identifier", "attribute", "none":
		return true
	}
	return genericExpr(n)
}

func isTypeAliasAnnotation(typ string) bool {
	return typ == "TypeAlias" || strings.HasSuffix(typ, ".TypeAlias")
}

func isAsync(fn *sitter.Node) bool {
	first := fn.Child(0)
	return first != nil && first.Type() == "async"
}

func isPublic(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

// isAllCaps reports whether name has at least one letter and no lower-case
// ones.
func isAllCaps(name string) bool {
	letter := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			if !unicode.IsUpper(r) {
				return false
			}
			letter = true
		case r != '_' && !unicode.IsDigit(r):
			return false
		}
	}
	return letter
}

func startsUpper(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func decorators(node *sitter.Node, src []byte) []string {
	var decs []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if c.Type() != "decorator" {
			continue
		}
		if expr := c.NamedChild(0); expr != nil {
			decs = append(decs, text(expr, src))
		}
	}
	return decs
}

// decoratorName strips call arguments and module qualifiers:
// "functools.cached_property" -> "cached_property", "x.setter" -> "setter".
func decoratorName(expr string) string {
	name, _, _ := strings.Cut(expr, "(")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}

func superclasses(args *sitter.Node, src []byte) []string {
	if args == nil {
		return nil
	}
	var bases []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		c := args.NamedChild(i)
		switch c.Type() {
		case "keyword_argument", "list_splat", "dictionary_splat", "comment":
			continue
		}
		if base := baseName(text(c, src)); base != "" && base != "object" {
			bases = append(bases, base)
		}
	}
	return bases
}

// baseName reduces a base class expression to the bare class name, the
// form live inspection reports: "abc.ABC" -> "ABC", "Generic[T]" -> "Generic".
func baseName(expr string) string {
	expr, _, _ = strings.Cut(expr, "[")
	if i := strings.LastIndexByte(expr, '.'); i >= 0 {
		expr = expr[i+1:]
	}
	return strings.TrimSpace(expr)
}

func docstring(body *sitter.Node, src []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" {
		return ""
	}
	s := first.NamedChild(0)
	if s == nil || s.Type() != "string" {
		return ""
	}
	return unquote(text(s, src))
}

func unquote(raw string) string {
	raw = strings.TrimLeft(raw, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return raw[len(q) : len(raw)-len(q)]
		}
	}
	return raw
}

// nestedBlocks returns the statement blocks of a compound statement and of
// its elif, else, except and finally clauses.
func nestedBlocks(stmt *sitter.Node) []*sitter.Node {
	var blocks []*sitter.Node
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		c := stmt.NamedChild(i)
		if c.Type() == "block" {
			blocks = append(blocks, c)
			continue
		}
		for j := 0; j < int(c.NamedChildCount()); j++ {
			if gc := c.NamedChild(j); gc.Type() == "block" {
				blocks = append(blocks, gc)
			}
		}
	}
	return blocks
}

// snippet renders a value on one line, bounded in length.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxValueLen {
		r := []rune(s)
		s = string(r[:maxValueLen]) + "..."
	}
	return s
}

func text(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}
