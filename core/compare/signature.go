package compare

import (
	"fmt"
	"strings"

	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/surface"
)

// verdict is the outcome of classifying one modified element.
type verdict struct {
	impact      changespec.Impact
	description string
}

// classify decides whether the change from oldEl to newEl can break an
// existing caller. Breaking reasons are collected in rule order; when none
// apply, the compatible differences are described instead. typed makes
// type token changes breaking.
func classify(oldEl, newEl *surface.APIElement, typed bool) verdict {
	var breaking []string
	if oldEl.Kind != newEl.Kind {
		breaking = append(breaking, fmt.Sprintf("kind changed from %s to %s", oldEl.Kind, newEl.Kind))
	}
	breaking = append(breaking, paramBreaks(oldEl.Signature.Params, newEl.Signature.Params, typed)...)
	breaking = append(breaking, baseBreaks(oldEl.Signature.Bases, newEl.Signature.Bases)...)
	if typed && oldEl.Signature.Returns != newEl.Signature.Returns {
		breaking = append(breaking, fmt.Sprintf("type changed from %s to %s",
			orNone(oldEl.Signature.Returns), orNone(newEl.Signature.Returns)))
	}
	if typed && oldEl.Kind == surface.KindTypeAlias && oldEl.Signature.Value != newEl.Signature.Value {
		breaking = append(breaking, fmt.Sprintf("definition changed from %s to %s",
			orNone(oldEl.Signature.Value), orNone(newEl.Signature.Value)))
	}

	if len(breaking) > 0 {
		return verdict{impact: changespec.ImpactBreaking, description: strings.Join(breaking, "; ")}
	}
	return verdict{impact: changespec.ImpactCompatible, description: strings.Join(compatibleNotes(oldEl, newEl), "; ")}
}

// paramBreaks applies the breaking parameter rules. Positional-only
// parameters are matched by position since their names are invisible to
// callers; every other parameter is matched by name.
func paramBreaks(oldP, newP []surface.Param, typed bool) []string {
	var out []string
	if len(newP) < len(oldP) {
		out = append(out, fmt.Sprintf("parameter count decreased from %d to %d", len(oldP), len(newP)))
	}

	newByName := make(map[string]int, len(newP))
	for i, p := range newP {
		newByName[p.Name] = i
	}
	oldByName := make(map[string]int, len(oldP))
	for i, p := range oldP {
		oldByName[p.Name] = i
	}

	for i, p := range oldP {
		switch {
		case p.Kind.Variadic():
			if !hasKind(newP, p.Kind) {
				out = append(out, fmt.Sprintf("%s%s removed", variadicPrefix(p.Kind), p.Name))
			}

		case p.Kind == surface.ParamPositionalOnly:
			if i >= len(newP) || !newP[i].Kind.Positional() {
				out = append(out, fmt.Sprintf("positional parameter %d (%s) removed", i+1, p.Name))
				continue
			}
			q := newP[i]
			if p.HasDefault && !q.HasDefault {
				out = append(out, fmt.Sprintf("positional parameter %d (%s) lost its default", i+1, p.Name))
			}
			if typed && p.Type != q.Type {
				out = append(out, fmt.Sprintf("positional parameter %d type changed from %s to %s", i+1, orNone(p.Type), orNone(q.Type)))
			}

		default:
			j, ok := newByName[p.Name]
			if !ok {
				out = append(out, fmt.Sprintf("parameter %s removed", p.Name))
				continue
			}
			q := newP[j]
			if p.Kind == surface.ParamPositionalOrKeyword {
				switch q.Kind {
				case surface.ParamKeywordOnly:
					out = append(out, fmt.Sprintf("parameter %s became keyword-only", p.Name))
				case surface.ParamPositionalOnly:
					out = append(out, fmt.Sprintf("parameter %s became positional-only", p.Name))
				case surface.ParamPositionalOrKeyword:
					if i != j {
						out = append(out, fmt.Sprintf("positional parameter %s moved from position %d to %d", p.Name, i+1, j+1))
					}
				}
			}
			if p.HasDefault && !q.HasDefault && !q.Kind.Variadic() {
				out = append(out, fmt.Sprintf("parameter %s lost its default", p.Name))
			}
			if typed && p.Type != q.Type {
				out = append(out, fmt.Sprintf("parameter %s type changed from %s to %s", p.Name, orNone(p.Type), orNone(q.Type)))
			}
		}
	}

	for j, q := range newP {
		if q.Kind.Variadic() || q.HasDefault {
			continue
		}
		if q.Kind == surface.ParamPositionalOnly {
			if j < len(oldP) && oldP[j].Kind.Positional() {
				continue
			}
		} else if _, ok := oldByName[q.Name]; ok {
			continue
		}
		out = append(out, fmt.Sprintf("required parameter %s added", q.Name))
	}
	return out
}

func baseBreaks(oldBases, newBases []string) []string {
	var out []string
	for _, b := range oldBases {
		if !contains(newBases, b) {
			out = append(out, fmt.Sprintf("base class %s removed", b))
		}
	}
	return out
}

// compatibleNotes describes the non-breaking differences between two
// elements.
func compatibleNotes(oldEl, newEl *surface.APIElement) []string {
	var notes []string
	oldP, newP := oldEl.Signature.Params, newEl.Signature.Params

	oldByName := make(map[string]surface.Param, len(oldP))
	for _, p := range oldP {
		oldByName[p.Name] = p
	}
	for j, q := range newP {
		if q.Kind == surface.ParamPositionalOnly && j < len(oldP) && oldP[j].Kind.Positional() {
			if p := oldP[j]; p.Name != q.Name {
				notes = append(notes, fmt.Sprintf("positional parameter %d renamed from %s to %s", j+1, p.Name, q.Name))
				continue
			}
		}
		p, ok := oldByName[q.Name]
		switch {
		case !ok:
			notes = append(notes, fmt.Sprintf("optional parameter %s added", q.Name))
		case !p.HasDefault && q.HasDefault:
			notes = append(notes, fmt.Sprintf("parameter %s gained a default", q.Name))
		case p.Kind != q.Kind:
			notes = append(notes, fmt.Sprintf("parameter %s is now %s", q.Name, q.Kind))
		case p.Type != q.Type:
			notes = append(notes, fmt.Sprintf("parameter %s type changed from %s to %s", q.Name, orNone(p.Type), orNone(q.Type)))
		}
	}
	if oldEl.Signature.Returns != newEl.Signature.Returns {
		notes = append(notes, fmt.Sprintf("type changed from %s to %s",
			orNone(oldEl.Signature.Returns), orNone(newEl.Signature.Returns)))
	}
	for _, b := range newEl.Signature.Bases {
		if !contains(oldEl.Signature.Bases, b) {
			notes = append(notes, fmt.Sprintf("base class %s added", b))
		}
	}
	if oldEl.Signature.Value != newEl.Signature.Value {
		notes = append(notes, fmt.Sprintf("value changed from %s to %s",
			orNone(oldEl.Signature.Value), orNone(newEl.Signature.Value)))
	}
	if oldEl.DocSummary != newEl.DocSummary {
		notes = append(notes, "documentation changed")
	}
	if len(notes) == 0 {
		notes = append(notes, "signature changed")
	}
	return notes
}

func hasKind(params []surface.Param, kind surface.ParamKind) bool {
	for _, p := range params {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

func variadicPrefix(kind surface.ParamKind) string {
	if kind == surface.ParamVarKeyword {
		return "**"
	}
	return "*"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
