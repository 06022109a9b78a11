package compare

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/surface"
)

func pos(names ...string) []surface.Param {
	out := make([]surface.Param, 0, len(names))
	for _, n := range names {
		p := surface.Param{Name: n, Kind: surface.ParamPositionalOrKeyword}
		if name, _, ok := strings.Cut(n, "="); ok {
			p.Name = name
			p.HasDefault = true
		}
		out = append(out, p)
	}
	return out
}

func fn(name string, params []surface.Param) surface.APIElement {
	return surface.APIElement{
		Name:      name,
		Kind:      surface.KindFunction,
		Signature: surface.Signature{Params: params},
		DefinedIn: "pkg",
	}
}

// buildSurface is a helper to construct a surface from a slice of elements.
func buildSurface(t *testing.T, version string, elements ...surface.APIElement) *surface.APISurface {
	t.Helper()
	b := surface.NewBuilder("pkg", version, surface.StrategyStatic)
	for _, e := range elements {
		if err := b.Add(e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return b.Build()
}

func findChange(list []changespec.APIChange, name string, kind changespec.ChangeKind) (changespec.APIChange, bool) {
	for _, c := range list {
		if c.ElementName == name && c.ChangeKind == kind {
			return c, true
		}
	}
	return changespec.APIChange{}, false
}

func TestCompare_Identical(t *testing.T) {
	s := buildSurface(t, "1.0",
		fn("foo", pos("a", "b")),
		surface.APIElement{Name: "Client", Kind: surface.KindClass, DefinedIn: "pkg", Signature: surface.Signature{Bases: []string{"Base"}}},
		surface.APIElement{Name: "MAX", Kind: surface.KindConstant, DefinedIn: "pkg", Signature: surface.Signature{Value: "3"}},
		surface.APIElement{Name: "old", Kind: surface.KindFunction, DefinedIn: "pkg", IsDeprecated: true},
	)

	cmp := Compare(s, s)
	if !cmp.Empty() {
		t.Errorf("identical surfaces should produce no changes, got %+v", cmp)
	}
	if len(cmp.DependencyChanges) != 0 {
		t.Errorf("dependency changes = %v, want none", cmp.DependencyChanges)
	}
}

func TestCompare_RemovedIsBreaking(t *testing.T) {
	old := buildSurface(t, "1.0", fn("foo", pos("a", "b")), fn("keep", nil))
	new := buildSurface(t, "2.0", fn("keep", nil))

	cmp := Compare(old, new)
	c, ok := findChange(cmp.Breaking, "pkg.foo", changespec.ChangeKindRemoved)
	if !ok {
		t.Fatalf("missing removed pkg.foo in %+v", cmp.Breaking)
	}
	if c.Impact != changespec.ImpactBreaking {
		t.Errorf("impact = %s, want breaking", c.Impact)
	}
	if c.ElementKind != surface.KindFunction {
		t.Errorf("element kind = %s, want function", c.ElementKind)
	}
	if len(cmp.Breaking) != 1 || len(cmp.Modifications) != 0 {
		t.Errorf("breaking=%d modifications=%d, want exactly one removal", len(cmp.Breaking), len(cmp.Modifications))
	}
}

func TestCompare_OptionalParamIsCompatible(t *testing.T) {
	old := buildSurface(t, "1.0", fn("bar", pos("a")))
	new := buildSurface(t, "2.0", fn("bar", pos("a", "b=1")))

	cmp := Compare(old, new)
	c, ok := findChange(cmp.Modifications, "pkg.bar", changespec.ChangeKindModified)
	if !ok {
		t.Fatalf("missing modified pkg.bar, breaking=%+v", cmp.Breaking)
	}
	if c.Impact != changespec.ImpactCompatible {
		t.Errorf("impact = %s, want compatible", c.Impact)
	}
	if c.Description != "optional parameter b added" {
		t.Errorf("description = %q", c.Description)
	}
	if len(cmp.Breaking) != 0 {
		t.Errorf("unexpected breaking changes: %+v", cmp.Breaking)
	}
}

func TestCompare_ReorderIsBreaking(t *testing.T) {
	old := buildSurface(t, "1.0", fn("baz", pos("a", "b")))
	new := buildSurface(t, "2.0", fn("baz", pos("b", "a")))

	cmp := Compare(old, new)
	c, ok := findChange(cmp.Breaking, "pkg.baz", changespec.ChangeKindModified)
	if !ok {
		t.Fatalf("missing breaking pkg.baz, modifications=%+v", cmp.Modifications)
	}
	if !strings.Contains(c.Description, "moved from position") {
		t.Errorf("description = %q, want a reorder reason", c.Description)
	}
}

func TestCompare_DeprecationIndependentOfSignature(t *testing.T) {
	old := buildSurface(t, "1.0", fn("qux", pos("a")))
	deprecated := fn("qux", pos("a"))
	deprecated.IsDeprecated = true
	deprecated.DeprecationMessage = "Use quux instead."
	new := buildSurface(t, "2.0", deprecated)

	cmp := Compare(old, new)
	c, ok := findChange(cmp.Deprecations, "pkg.qux", changespec.ChangeKindDeprecated)
	if !ok {
		t.Fatalf("missing deprecated pkg.qux")
	}
	if c.Description != "deprecated: Use quux instead." {
		t.Errorf("description = %q", c.Description)
	}
	if len(cmp.Modifications) != 0 || len(cmp.Breaking) != 0 {
		t.Errorf("signature is unchanged, got modifications=%v breaking=%v", cmp.Modifications, cmp.Breaking)
	}

	// Deprecation alongside a signature change yields both entries.
	changed := fn("qux", pos("a", "b"))
	changed.IsDeprecated = true
	cmp = Compare(old, buildSurface(t, "2.0", changed))
	if _, ok := findChange(cmp.Deprecations, "pkg.qux", changespec.ChangeKindDeprecated); !ok {
		t.Error("missing deprecated entry next to breaking change")
	}
	if _, ok := findChange(cmp.Breaking, "pkg.qux", changespec.ChangeKindModified); !ok {
		t.Error("missing breaking entry for required parameter b")
	}
}

func TestClassify(t *testing.T) {
	kwonly := func(name string, def bool) surface.Param {
		return surface.Param{Name: name, Kind: surface.ParamKeywordOnly, HasDefault: def}
	}
	tests := []struct {
		name     string
		old, new []surface.Param
		typed    bool
		want     changespec.Impact
		wantText string
	}{
		{"count decreased", pos("a", "b"), pos("a"), false, changespec.ImpactBreaking, "parameter count decreased"},
		{"required added", pos("a"), pos("a", "b"), false, changespec.ImpactBreaking, "required parameter b added"},
		{"required predecessor", pos("b=1"), pos("a", "b=1"), false, changespec.ImpactBreaking, "required parameter a added"},
		{"lost default", pos("a=1"), pos("a"), false, changespec.ImpactBreaking, "parameter a lost its default"},
		{"renamed", pos("a"), pos("x"), false, changespec.ImpactBreaking, "parameter a removed"},
		{"became keyword only", pos("a", "b"), []surface.Param{pos("a")[0], kwonly("b", false)}, false, changespec.ImpactBreaking, "parameter b became keyword-only"},
		{"optional inserted before", pos("a", "c"), pos("a", "b=1", "c"), false, changespec.ImpactBreaking, "positional parameter c moved"},
		{
			"args removed",
			[]surface.Param{pos("a")[0], {Name: "args", Kind: surface.ParamVarPositional}},
			pos("a"),
			false, changespec.ImpactBreaking, "*args removed",
		},
		{
			"kwargs removed",
			[]surface.Param{{Name: "kw", Kind: surface.ParamVarKeyword}},
			nil,
			false, changespec.ImpactBreaking, "**kw removed",
		},
		{"default gained", pos("a"), pos("a=1"), false, changespec.ImpactCompatible, "parameter a gained a default"},
		{"keyword only optional", pos("a"), []surface.Param{pos("a")[0], kwonly("k", true)}, false, changespec.ImpactCompatible, "optional parameter k added"},
		{
			"varargs added",
			pos("a"),
			[]surface.Param{pos("a")[0], {Name: "args", Kind: surface.ParamVarPositional}},
			false, changespec.ImpactCompatible, "optional parameter args added",
		},
		{
			"positional only rename",
			[]surface.Param{{Name: "a", Kind: surface.ParamPositionalOnly, Type: "int"}},
			[]surface.Param{{Name: "n", Kind: surface.ParamPositionalOnly, Type: "int"}},
			true, changespec.ImpactCompatible, "positional parameter 1 renamed from a to n",
		},
		{
			"typed param change",
			[]surface.Param{{Name: "a", Kind: surface.ParamPositionalOnly, Type: "int"}},
			[]surface.Param{{Name: "a", Kind: surface.ParamPositionalOnly, Type: "string"}},
			true, changespec.ImpactBreaking, "positional parameter 1 type changed from int to string",
		},
		{
			"untyped annotation change",
			[]surface.Param{{Name: "a", Kind: surface.ParamPositionalOrKeyword, Type: "int"}},
			[]surface.Param{{Name: "a", Kind: surface.ParamPositionalOrKeyword, Type: "str"}},
			false, changespec.ImpactCompatible, "parameter a type changed from int to str",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEl := fn("f", tt.old)
			newEl := fn("f", tt.new)
			v := classify(&oldEl, &newEl, tt.typed)
			if v.impact != tt.want {
				t.Errorf("impact = %s, want %s (%s)", v.impact, tt.want, v.description)
			}
			if !strings.Contains(v.description, tt.wantText) {
				t.Errorf("description = %q, want it to contain %q", v.description, tt.wantText)
			}
		})
	}
}

func TestCompare_KindChange(t *testing.T) {
	old := buildSurface(t, "1.0", fn("Thing", nil), fn("fetch", pos("url")))
	asyncFetch := fn("fetch", pos("url"))
	asyncFetch.Kind = surface.KindAsyncFunction
	new := buildSurface(t, "2.0",
		surface.APIElement{Name: "Thing", Kind: surface.KindClass, DefinedIn: "pkg"},
		asyncFetch,
	)

	cmp := Compare(old, new)
	if len(cmp.Breaking) != 2 {
		t.Fatalf("breaking = %+v, want two kind changes", cmp.Breaking)
	}
	thing, ok := findChange(cmp.Breaking, "pkg.Thing", changespec.ChangeKindModified)
	if !ok || thing.Description != "kind changed from function to class" {
		t.Errorf("Thing change = %+v", thing)
	}
	fetch, ok := findChange(cmp.Breaking, "pkg.fetch", changespec.ChangeKindModified)
	if !ok || !strings.Contains(fetch.Description, "kind changed from function to async_function") {
		t.Errorf("fetch change = %+v", fetch)
	}
	if len(cmp.Additions) != 0 {
		t.Errorf("kind change should not appear as an addition: %+v", cmp.Additions)
	}
}

func TestCompare_BaseRemoved(t *testing.T) {
	class := func(bases ...string) surface.APIElement {
		return surface.APIElement{Name: "Session", Kind: surface.KindClass, DefinedIn: "pkg", Signature: surface.Signature{Bases: bases}}
	}
	cmp := Compare(buildSurface(t, "1.0", class("Base", "Mixin")), buildSurface(t, "2.0", class("Base")))
	if c, ok := findChange(cmp.Breaking, "pkg.Session", changespec.ChangeKindModified); !ok || c.Description != "base class Mixin removed" {
		t.Errorf("Session change = %+v", c)
	}

	cmp = Compare(buildSurface(t, "1.0", class("Base")), buildSurface(t, "2.0", class("Base", "Mixin")))
	if c, ok := findChange(cmp.Modifications, "pkg.Session", changespec.ChangeKindModified); !ok || c.Description != "base class Mixin added" {
		t.Errorf("Session change = %+v", c)
	}
}

func TestCompare_RenameHint(t *testing.T) {
	old := buildSurface(t, "1.0", fn("fetch_items", pos("url", "timeout=30")))
	new := buildSurface(t, "2.0", fn("fetch_item", pos("url", "timeout=30")))

	cmp := Compare(old, new)
	c, ok := findChange(cmp.Breaking, "pkg.fetch_items", changespec.ChangeKindRemoved)
	if !ok {
		t.Fatalf("renamed element must still be removed: %+v", cmp.Breaking)
	}
	if !strings.Contains(c.Description, "possibly renamed to pkg.fetch_item") {
		t.Errorf("description = %q, want rename hint", c.Description)
	}
	if _, ok := findChange(cmp.Additions, "pkg.fetch_item", changespec.ChangeKindAdded); !ok {
		t.Error("renamed element must still be added")
	}
}

func TestCompare_Ordering(t *testing.T) {
	old := buildSurface(t, "1.0", fn("b", nil), fn("a", nil), fn("c", pos("x")))
	depr := fn("c", pos("y"))
	depr.IsDeprecated = true
	new := buildSurface(t, "2.0", fn("z", nil), fn("y", nil), depr)

	cmp := Compare(old, new)
	var names []string
	for _, c := range cmp.Breaking {
		names = append(names, c.ElementName)
	}
	if got := strings.Join(names, ","); got != "pkg.a,pkg.b,pkg.c" {
		t.Errorf("breaking order = %s", got)
	}
	names = names[:0]
	for _, c := range cmp.Additions {
		names = append(names, c.ElementName)
	}
	if got := strings.Join(names, ","); got != "pkg.y,pkg.z" {
		t.Errorf("additions order = %s", got)
	}
}

func TestCompare_Deterministic(t *testing.T) {
	var olds, news []surface.APIElement
	for _, n := range []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"} {
		olds = append(olds, fn(n, pos("a", "b")))
		news = append(news, fn(n+"_v2", pos("a", "b")))
	}
	news = append(news, fn("alpha", pos("b", "a")))
	old := buildSurface(t, "1.0", olds...)
	new := buildSurface(t, "2.0", news...)

	first, _ := json.Marshal(Compare(old, new))
	for i := 0; i < 20; i++ {
		again, _ := json.Marshal(Compare(old, new))
		if string(again) != string(first) {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, again)
		}
	}
}

func TestCompare_Symmetry(t *testing.T) {
	old := buildSurface(t, "1.0", fn("a", pos("x")), fn("b", nil), fn("gone", nil))
	new := buildSurface(t, "2.0", fn("a", pos("y")), fn("b", pos("k=1")), fn("fresh", nil))

	oldIdx := make(map[string]bool)
	for _, e := range old.All() {
		oldIdx[e.QualifiedName()] = true
	}
	newIdx := make(map[string]bool)
	for _, e := range new.All() {
		newIdx[e.QualifiedName()] = true
	}

	cmp := Compare(old, new)
	for _, c := range append(append([]changespec.APIChange{}, cmp.Breaking...), cmp.Modifications...) {
		if c.ChangeKind == changespec.ChangeKindRemoved {
			if !oldIdx[c.ElementName] || newIdx[c.ElementName] {
				t.Errorf("removed %s should appear only in old", c.ElementName)
			}
			continue
		}
		if !oldIdx[c.ElementName] || !newIdx[c.ElementName] {
			t.Errorf("%s %s should appear in both surfaces", c.ChangeKind, c.ElementName)
		}
	}
}

func TestCompare_PartialPropagates(t *testing.T) {
	b := surface.NewBuilder("pkg", "2.0", surface.StrategyStatic)
	b.MarkPartial("mod.py: syntax error")
	partial := b.Build()

	cmp := Compare(buildSurface(t, "1.0"), partial)
	if !cmp.Partial {
		t.Error("comparison should be partial")
	}
	if cmp.PartialReason != "surface for 2.0 is partial" {
		t.Errorf("partial reason = %q", cmp.PartialReason)
	}
}

func TestCompare_Dependencies(t *testing.T) {
	withReqs := func(version string, reqs ...surface.Requirement) *surface.APISurface {
		b := surface.NewBuilder("pkg", version, surface.StrategyStatic)
		b.SetRequirements(reqs)
		return b.Build()
	}
	old := withReqs("1.0",
		surface.Requirement{Name: "certifi", Constraint: ">=2017"},
		surface.Requirement{Name: "chardet", Constraint: "<5"},
		surface.Requirement{Name: "urllib3", Constraint: "<1.27"},
	)
	new := withReqs("2.0",
		surface.Requirement{Name: "certifi", Constraint: ">=2017"},
		surface.Requirement{Name: "charset-normalizer", Constraint: ""},
		surface.Requirement{Name: "urllib3", Constraint: "<3"},
	)

	got := Compare(old, new).DependencyChanges
	want := []changespec.DependencyChange{
		{Name: "chardet", OldConstraint: "<5", Kind: changespec.DependencyRemoved},
		{Name: "charset-normalizer", NewConstraint: "*", Kind: changespec.DependencyAdded},
		{Name: "urllib3", OldConstraint: "<1.27", NewConstraint: "<3", Kind: changespec.DependencyChanged},
	}
	if len(got) != len(want) {
		t.Fatalf("dependency changes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	undeclared := buildSurface(t, "2.0")
	if deps := Compare(old, undeclared).DependencyChanges; len(deps) != 0 {
		t.Errorf("undeclared side should yield no dependency changes, got %+v", deps)
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"abc", "abc", 1.0},
		{"abcd", "abce", 0.75},
		{"abc", "", 0.0},
	}
	for _, tt := range tests {
		if got := nameSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("nameSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
