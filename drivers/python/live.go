package python

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/emenda-labs/apidelta/core/driver"
	"github.com/emenda-labs/apidelta/core/surface"
)

//go:embed inspect.py
var inspectScript string

const maxStderrTail = 2048

// dump is the JSON document inspect.py writes.
type dump struct {
	Modules   []dumpModule `json:"modules"`
	Errors    []string     `json:"errors"`
	Truncated bool         `json:"truncated"`
}

type dumpModule struct {
	Name    string       `json:"name"`
	Members []dumpMember `json:"members"`
}

type dumpMember struct {
	// Kind is "callable", "class", "accessor" or "data".
	Kind        string       `json:"kind"`
	Name        string       `json:"name"`
	Coroutine   bool         `json:"coroutine"`
	Params      []dumpParam  `json:"params"`
	Returns     string       `json:"returns"`
	Bases       []string     `json:"bases"`
	Doc         string       `json:"doc"`
	Deprecated  bool         `json:"deprecated"`
	Deprecation string       `json:"deprecation"`
	Value       string       `json:"value"`
	Alias       bool         `json:"alias"`
	Members     []dumpMember `json:"members"`
}

type dumpParam struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	HasDefault bool   `json:"has_default"`
	Type       string `json:"type"`
}

// runInspector runs inspect.py with siteDir on the import path.
func (d *Driver) runInspector(ctx context.Context, siteDir string, names []string) (*dump, error) {
	args := append([]string{"-B", "-c", inspectScript, strconv.Itoa(d.maxModules)}, names...)
	cmd := exec.CommandContext(ctx, d.interpreter, args...)

	pythonPath := siteDir
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		pythonPath += string(os.PathListSeparator) + existing
	}
	cmd.Env = append(os.Environ(),
		"PYTHONPATH="+pythonPath,
		"PYTHONIOENCODING=utf-8",
		"PYTHONDONTWRITEBYTECODE=1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("inspecting %s: %w", strings.Join(names, ","), ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("interpreter %s: %w", d.interpreter, driver.ErrLiveUnavailable)
		}
		return nil, fmt.Errorf("inspection script failed: %w: %s", err, tail(stderr.String(), maxStderrTail))
	}

	var out dump
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decoding inspection output: %w", err)
	}
	return &out, nil
}

// buildFromDump adds the dumped namespace to b.
func buildFromDump(b *surface.Builder, out *dump, maxModules int) error {
	if len(out.Modules) == 0 {
		if len(out.Errors) > 0 {
			return fmt.Errorf("no module could be imported: %s", strings.Join(out.Errors, "; "))
		}
		return errors.New("no module could be imported")
	}
	for _, e := range out.Errors {
		b.MarkPartial("import failed: " + e)
	}

	modules := out.Modules
	if out.Truncated || len(modules) > maxModules {
		b.MarkPartial(fmt.Sprintf("module limit of %d reached", maxModules))
		if len(modules) > maxModules {
			modules = modules[:maxModules]
		}
	}

	for _, m := range modules {
		b.AddModule(m.Name)
		for _, member := range m.Members {
			for _, e := range liveElements(m.Name, member) {
				if err := b.Add(e); err != nil {
					return fmt.Errorf("module %s: %w", m.Name, err)
				}
			}
		}
	}
	return nil
}

// liveElements converts one dumped module member. Data is a constant only
// when its name is all upper-case, or a type alias when it holds a generic
// alias; other module data is not part of the surface.
func liveElements(module string, m dumpMember) []surface.APIElement {
	switch m.Kind {
	case "callable":
		kind := surface.KindFunction
		if m.Coroutine {
			kind = surface.KindAsyncFunction
		}
		return []surface.APIElement{liveElement(module, m.Name, kind, m)}

	case "class":
		cls := liveElement(module, m.Name, surface.KindClass, m)
		cls.Signature = surface.Signature{Params: liveParams(m.Params), Bases: m.Bases}
		els := []surface.APIElement{cls}
		for _, sub := range m.Members {
			name := m.Name + "." + sub.Name
			switch sub.Kind {
			case "callable":
				kind := surface.KindMethod
				if sub.Coroutine {
					kind = surface.KindAsyncMethod
				}
				els = append(els, liveElement(module, name, kind, sub))
			case "accessor":
				p := liveElement(module, name, surface.KindProperty, sub)
				p.Signature = surface.Signature{Returns: sub.Returns}
				els = append(els, p)
			}
		}
		return els

	case "data":
		switch {
		case isAllCaps(m.Name):
			return []surface.APIElement{{
				Name:      m.Name,
				Kind:      surface.KindConstant,
				Signature: surface.Signature{Value: snippet(m.Value)},
				DefinedIn: module,
			}}
		case m.Alias && startsUpper(m.Name):
			return []surface.APIElement{{
				Name:      m.Name,
				Kind:      surface.KindTypeAlias,
				Signature: surface.Signature{Value: snippet(m.Value)},
				DefinedIn: module,
			}}
		}
	}
	return nil
}

func liveElement(module, name string, kind surface.Kind, m dumpMember) surface.APIElement {
	e := surface.APIElement{
		Name:       name,
		Kind:       kind,
		Signature:  surface.Signature{Params: liveParams(m.Params), Returns: m.Returns},
		DocSummary: surface.DocSummary(m.Doc),
		DefinedIn:  module,
	}
	docDeprecated, docMsg := surface.DetectDeprecation(m.Doc)
	switch {
	case m.Deprecated:
		e.IsDeprecated = true
		e.DeprecationMessage = m.Deprecation
		if e.DeprecationMessage == "" {
			e.DeprecationMessage = docMsg
		}
	case docDeprecated:
		e.IsDeprecated, e.DeprecationMessage = true, docMsg
	}
	return e
}

func liveParams(in []dumpParam) []surface.Param {
	if len(in) == 0 {
		return nil
	}
	out := make([]surface.Param, 0, len(in))
	for _, p := range in {
		kind := surface.ParamKind(p.Kind)
		switch kind {
		case surface.ParamPositionalOnly, surface.ParamPositionalOrKeyword, surface.ParamVarPositional,
			surface.ParamKeywordOnly, surface.ParamVarKeyword:
		default:
			kind = surface.ParamPositionalOrKeyword
		}
		out = append(out, surface.Param{Name: p.Name, Kind: kind, HasDefault: p.HasDefault, Type: p.Type})
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
