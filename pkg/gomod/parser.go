// Package gomod reads go.mod files.
package gomod

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// Module is the part of a go.mod the analyzer uses.
type Module struct {
	Path      string
	GoVersion string
	Requires  []Require
}

// Require is one require directive, with its replacement if any.
type Require struct {
	Path     string
	Version  string
	Indirect bool

	// Replacement is "path" or "path@version" when a replace directive
	// targets this module.
	Replacement string
}

// Parse parses go.mod content. name is used in error messages only.
func Parse(name string, data []byte) (*Module, error) {
	f, err := modfile.Parse(name, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if f.Module == nil {
		return nil, fmt.Errorf("%s has no module directive", name)
	}

	replaced := make(map[string]string, len(f.Replace))
	for _, rep := range f.Replace {
		target := rep.New.Path
		if rep.New.Version != "" {
			target += "@" + rep.New.Version
		}
		// A versioned replace only applies to that version.
		if rep.Old.Version != "" {
			replaced[rep.Old.Path+"@"+rep.Old.Version] = target
			continue
		}
		replaced[rep.Old.Path] = target
	}

	m := &Module{Path: f.Module.Mod.Path}
	if f.Go != nil {
		m.GoVersion = f.Go.Version
	}
	for _, req := range f.Require {
		r := Require{
			Path:     req.Mod.Path,
			Version:  req.Mod.Version,
			Indirect: req.Indirect,
		}
		if target, ok := replaced[req.Mod.Path+"@"+req.Mod.Version]; ok {
			r.Replacement = target
		} else if target, ok := replaced[req.Mod.Path]; ok {
			r.Replacement = target
		}
		m.Requires = append(m.Requires, r)
	}
	return m, nil
}

// ReadModule parses the go.mod in dir.
func ReadModule(dir string) (*Module, error) {
	gomodPath := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(gomodPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no go.mod found at %s", gomodPath)
		}
		return nil, fmt.Errorf("failed to read go.mod: %w", err)
	}
	return Parse(gomodPath, data)
}

// FindModuleVersion returns the version of module required by the go.mod at
// repoPath. A replace directive does not change the answer; the required
// version is what the proxy serves.
func FindModuleVersion(repoPath, module string) (string, error) {
	m, err := ReadModule(repoPath)
	if err != nil {
		return "", err
	}
	for _, req := range m.Requires {
		if req.Path == module {
			return req.Version, nil
		}
	}
	return "", fmt.Errorf("module %s not found in go.mod at %s", module, filepath.Join(repoPath, "go.mod"))
}
