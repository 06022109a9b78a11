// Package exports collects the exported API of a Go module tree as
// surface elements.
package exports

import (
	"context"
	"fmt"
	"go/ast"
	"go/build/constraint"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emenda-labs/apidelta/core/surface"
)

// Result is the exported API of one module tree.
type Result struct {
	Elements []surface.APIElement

	// Packages lists the import paths that contributed elements.
	Packages []string

	// Skipped describes files that could not be parsed, as "path: error".
	Skipped []string
}

// ParseExports walks the Go module source at rootDir and collects all exported symbols.
// The module parameter is the Go module import path (e.g. "github.com/acme/foo").
// Unparseable files are reported in Result.Skipped rather than failing the walk.
func ParseExports(ctx context.Context, rootDir, module string) (*Result, error) {
	sourceRoot, err := FindSourceRoot(rootDir)
	if err != nil {
		return nil, fmt.Errorf("finding source root in %s: %w", rootDir, err)
	}

	fset := token.NewFileSet()
	res := &Result{}
	packages := make(map[string]bool)

	walkErr := filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Skip symlinks to prevent symlink-based path escapes.
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			base := d.Name()
			if base == "internal" || base == "testdata" || base == "vendor" || strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
				return fs.SkipDir
			}
			// Nested modules are versioned separately.
			if path != sourceRoot && hasGoMod(path) {
				return fs.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		file, parseErr := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if parseErr != nil {
			rel, _ := filepath.Rel(sourceRoot, path)
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s: %v", filepath.ToSlash(rel), parseErr))
			return nil
		}

		if file.Name.Name == "main" || ignoredByBuildTag(file) {
			return nil
		}

		pkgPath := computePackagePath(sourceRoot, path, module)
		before := len(res.Elements)

		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				res.collectFunc(d, pkgPath)
			case *ast.GenDecl:
				switch d.Tok {
				case token.TYPE:
					res.collectTypes(d, pkgPath)
				case token.CONST, token.VAR:
					res.collectValues(d, pkgPath)
				}
			}
		}

		if len(res.Elements) > before {
			packages[pkgPath] = true
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking source at %s: %w", sourceRoot, walkErr)
	}

	for p := range packages {
		res.Packages = append(res.Packages, p)
	}
	sort.Strings(res.Packages)
	return res, nil
}

func (r *Result) add(e surface.APIElement, doc *ast.CommentGroup) {
	text := doc.Text()
	e.DocSummary = surface.DocSummary(text)
	e.IsDeprecated, e.DeprecationMessage = deprecation(text)
	r.Elements = append(r.Elements, e)
}

// collectFunc processes a single function or method declaration. Methods
// on unexported receivers are skipped.
func (r *Result) collectFunc(funcDecl *ast.FuncDecl, pkgPath string) {
	if funcDecl.Name == nil || !funcDecl.Name.IsExported() {
		return
	}

	e := surface.APIElement{
		Name:      funcDecl.Name.Name,
		Kind:      surface.KindFunction,
		Signature: funcSignature(funcDecl.Type),
		DefinedIn: pkgPath,
	}
	e.Signature.Value = typeParams(funcDecl.Type.TypeParams)

	if funcDecl.Recv != nil {
		recvName := receiverTypeName(funcDecl.Recv)
		if recvName == "" || !ast.IsExported(recvName) {
			return
		}
		e.Name = recvName + "." + funcDecl.Name.Name
		e.Kind = surface.KindMethod
	}
	r.add(e, funcDecl.Doc)
}

// collectTypes processes a GenDecl with token.TYPE. Structs and interfaces
// become classes whose exported fields, embedded types and interface
// methods are recorded alongside; every other type is a type alias.
func (r *Result) collectTypes(genDecl *ast.GenDecl, pkgPath string) {
	for _, spec := range genDecl.Specs {
		typeSpec, ok := spec.(*ast.TypeSpec)
		if !ok || typeSpec.Name == nil || !typeSpec.Name.IsExported() {
			continue
		}

		typeName := typeSpec.Name.Name
		doc := typeSpec.Doc
		if doc == nil && len(genDecl.Specs) == 1 {
			doc = genDecl.Doc
		}

		if typeSpec.Assign.IsValid() {
			r.add(surface.APIElement{
				Name:      typeName,
				Kind:      surface.KindTypeAlias,
				Signature: surface.Signature{Value: "= " + renderTypeExpr(typeSpec.Type)},
				DefinedIn: pkgPath,
			}, doc)
			continue
		}

		switch t := typeSpec.Type.(type) {
		case *ast.StructType:
			cls := surface.APIElement{Name: typeName, Kind: surface.KindClass, DefinedIn: pkgPath}
			cls.Signature.Value = typeParams(typeSpec.TypeParams)
			var fields []surface.APIElement
			if t.Fields != nil {
				for _, field := range t.Fields.List {
					if len(field.Names) == 0 {
						// Embedded field: its exported methods are promoted.
						if emb := baseTypeName(field.Type); emb != "" && ast.IsExported(emb) {
							cls.Signature.Bases = append(cls.Signature.Bases, renderTypeExpr(field.Type))
						}
						continue
					}
					for _, name := range field.Names {
						if !name.IsExported() {
							continue
						}
						fields = append(fields, surface.APIElement{
							Name:      typeName + "." + name.Name,
							Kind:      surface.KindProperty,
							Signature: surface.Signature{Returns: renderTypeExpr(field.Type)},
							DefinedIn: pkgPath,
						})
					}
				}
			}
			r.add(cls, doc)
			for i, f := range fields {
				r.add(f, fieldDoc(t, i))
			}

		case *ast.InterfaceType:
			cls := surface.APIElement{Name: typeName, Kind: surface.KindClass, DefinedIn: pkgPath}
			cls.Signature.Value = typeParams(typeSpec.TypeParams)
			var methods []*ast.Field
			if t.Methods != nil {
				for _, m := range t.Methods.List {
					if len(m.Names) == 0 {
						cls.Signature.Bases = append(cls.Signature.Bases, renderTypeExpr(m.Type))
						continue
					}
					if m.Names[0].IsExported() {
						methods = append(methods, m)
					}
				}
			}
			r.add(cls, doc)
			for _, m := range methods {
				ft, ok := m.Type.(*ast.FuncType)
				if !ok {
					continue
				}
				r.add(surface.APIElement{
					Name:      typeName + "." + m.Names[0].Name,
					Kind:      surface.KindMethod,
					Signature: funcSignature(ft),
					DefinedIn: pkgPath,
				}, m.Doc)
			}

		default:
			r.add(surface.APIElement{
				Name:      typeName,
				Kind:      surface.KindTypeAlias,
				Signature: surface.Signature{Value: typeParams(typeSpec.TypeParams) + renderTypeExpr(typeSpec.Type)},
				DefinedIn: pkgPath,
			}, doc)
		}
	}
}

// fieldDoc returns the doc comment of the i'th exported named field.
func fieldDoc(t *ast.StructType, i int) *ast.CommentGroup {
	n := 0
	for _, field := range t.Fields.List {
		for _, name := range field.Names {
			if !name.IsExported() {
				continue
			}
			if n == i {
				if field.Doc != nil {
					return field.Doc
				}
				return field.Comment
			}
			n++
		}
	}
	return nil
}

// collectValues processes a GenDecl with token.CONST or token.VAR. Both
// become constants; vars carry the value "var".
func (r *Result) collectValues(genDecl *ast.GenDecl, pkgPath string) {
	var lastType string
	for _, spec := range genDecl.Specs {
		valSpec, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		typ := valueType(valSpec)
		// Implicit repetition in const blocks carries the type forward.
		if genDecl.Tok == token.CONST {
			if typ == "" && len(valSpec.Values) == 0 {
				typ = lastType
			}
			lastType = typ
		}

		doc := valSpec.Doc
		if doc == nil && len(genDecl.Specs) == 1 {
			doc = genDecl.Doc
		}
		for i, name := range valSpec.Names {
			if !name.IsExported() {
				continue
			}
			value := literalValue(valSpec, i)
			if genDecl.Tok == token.VAR {
				value = "var"
			}
			r.add(surface.APIElement{
				Name:      name.Name,
				Kind:      surface.KindConstant,
				Signature: surface.Signature{Returns: typ, Value: value},
				DefinedIn: pkgPath,
			}, doc)
		}
	}
}

// deprecation follows the Go convention of a paragraph starting with
// "Deprecated:".
func deprecation(doc string) (bool, string) {
	for _, para := range strings.Split(doc, "\n\n") {
		para = strings.TrimSpace(para)
		if rest, ok := strings.CutPrefix(para, "Deprecated:"); ok {
			return true, strings.Join(strings.Fields(rest), " ")
		}
	}
	return false, ""
}

// ignoredByBuildTag reports files excluded by "//go:build ignore".
func ignoredByBuildTag(file *ast.File) bool {
	for _, cg := range file.Comments {
		if cg.Pos() > file.Package {
			break
		}
		for _, c := range cg.List {
			if !constraint.IsGoBuild(c.Text) {
				continue
			}
			expr, err := constraint.Parse(c.Text)
			if err != nil {
				continue
			}
			if expr.String() == "ignore" {
				return true
			}
		}
	}
	return false
}

// computePackagePath derives the full Go import path for the package
// containing the file at filePath, relative to the module source root.
func computePackagePath(sourceRoot, filePath, module string) string {
	dir := filepath.Dir(filePath)
	relDir, err := filepath.Rel(sourceRoot, dir)
	if err != nil || relDir == "." || relDir == "" {
		return module
	}
	return module + "/" + filepath.ToSlash(relDir)
}

// baseTypeName extracts the base type name from an AST expression,
// stripping pointers, type parameters (generics), and package selectors.
// Examples: *Client -> "Client", Foo[T] -> "Foo", *Bar[T, U] -> "Bar"
func baseTypeName(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	// Strip pointer.
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}

	// Strip type parameters (generics).
	if idx, ok := expr.(*ast.IndexExpr); ok {
		expr = idx.X
	}
	if idx, ok := expr.(*ast.IndexListExpr); ok {
		expr = idx.X
	}

	if ident, ok := expr.(*ast.Ident); ok {
		return ident.Name
	}
	if sel, ok := expr.(*ast.SelectorExpr); ok {
		return sel.Sel.Name
	}

	return ""
}

// receiverTypeName extracts the base type name from a method receiver.
func receiverTypeName(recv *ast.FieldList) string {
	if recv == nil || len(recv.List) == 0 {
		return ""
	}
	return baseTypeName(recv.List[0].Type)
}

// FindSourceRoot walks from dir looking for go.mod to find the module source root.
// The Go proxy zip extracts to tmpDir/module@version/, so go.mod may be nested.
func FindSourceRoot(dir string) (string, error) {
	// Check dir itself first.
	if hasGoMod(dir) {
		return dir, nil
	}

	// Walk at most 2 levels deep looking for go.mod.
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		// Limit depth to 2 levels below the starting directory.
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(filepath.ToSlash(rel), "/")
		if depth > 2 {
			return fs.SkipDir
		}

		if hasGoMod(path) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching for go.mod: %w", err)
	}

	if found == "" {
		return "", fmt.Errorf("no go.mod found under %s", dir)
	}
	return found, nil
}

// hasGoMod reports whether the directory contains a go.mod file.
func hasGoMod(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "go.mod"))
	return err == nil && !info.IsDir()
}
