package surface

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Builder accumulates elements for one surface. It is not safe for
// concurrent use; the surface returned by Build is.
type Builder struct {
	pkg      string
	version  string
	strategy Strategy

	index    map[Kind]map[string]int
	elements map[Kind][]APIElement

	partialReasons []string
	modules        map[string]struct{}
	requirements   []Requirement
	declaresReqs   bool
	typed          bool
	now            func() time.Time
}

// NewBuilder returns a Builder for the given package version.
func NewBuilder(pkg, version string, strategy Strategy) *Builder {
	return &Builder{
		pkg:      pkg,
		version:  version,
		strategy: strategy,
		index:    make(map[Kind]map[string]int),
		elements: make(map[Kind][]APIElement),
		modules:  make(map[string]struct{}),
		now:      time.Now,
	}
}

// Add records an element. A later element with the same group and
// qualified name replaces the earlier one, the way a rebinding does at
// module execution time.
func (b *Builder) Add(e APIElement) error {
	if e.Name == "" {
		return fmt.Errorf("adding element: empty name")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("adding element %s: unknown kind %q", e.Name, e.Kind)
	}
	e.Signature = e.Signature.clone()

	group := e.Kind.Group()
	idx, ok := b.index[group]
	if !ok {
		idx = make(map[string]int)
		b.index[group] = idx
	}
	qn := e.QualifiedName()
	if i, exists := idx[qn]; exists {
		b.elements[group][i] = e
		return nil
	}
	idx[qn] = len(b.elements[group])
	b.elements[group] = append(b.elements[group], e)
	return nil
}

// Has reports whether an element with the given group and qualified name
// has been added.
func (b *Builder) Has(kind Kind, qualifiedName string) bool {
	_, ok := b.index[kind.Group()][qualifiedName]
	return ok
}

// MarkPartial flags the surface as incomplete. Duplicate reasons are
// collapsed.
func (b *Builder) MarkPartial(reason string) {
	for _, r := range b.partialReasons {
		if r == reason {
			return
		}
	}
	b.partialReasons = append(b.partialReasons, reason)
}

// AddModule records a module path that contributed elements.
func (b *Builder) AddModule(path string) {
	if path != "" {
		b.modules[path] = struct{}{}
	}
}

// SetRequirements records declared dependency constraints. Calling it at
// all, even with an empty slice, marks the surface as declaring them.
func (b *Builder) SetRequirements(reqs []Requirement) {
	b.declaresReqs = true
	b.requirements = append([]Requirement(nil), reqs...)
}

// SetTypedSignatures marks parameter and return types as part of the
// caller contract.
func (b *Builder) SetTypedSignatures() {
	b.typed = true
}

// Build returns the finished surface with each group sorted by qualified
// name.
func (b *Builder) Build() *APISurface {
	s := &APISurface{
		PackageName:          b.pkg,
		Version:              b.version,
		Strategy:             b.strategy,
		Partial:              len(b.partialReasons) > 0,
		PartialReasons:       append([]string(nil), b.partialReasons...),
		DeclaresRequirements: b.declaresReqs,
		TypedSignatures:      b.typed,
		ExtractedAt:          b.now().UTC(),
	}

	for _, g := range Groups {
		els := append([]APIElement(nil), b.elements[g]...)
		sort.Slice(els, func(i, j int) bool {
			return els[i].QualifiedName() < els[j].QualifiedName()
		})
		switch g {
		case KindClass:
			s.Classes = els
		case KindFunction:
			s.Functions = els
		case KindMethod:
			s.Methods = els
		case KindProperty:
			s.Properties = els
		case KindConstant:
			s.Constants = els
		case KindTypeAlias:
			s.TypeAliases = els
		}
	}

	reqs := append([]Requirement(nil), b.requirements...)
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
	s.Requirements = dedupeRequirements(reqs)

	for m := range b.modules {
		s.Modules = append(s.Modules, m)
	}
	sort.Strings(s.Modules)
	return s
}

// dedupeRequirements merges constraints declared more than once for the
// same name (for example under different environment markers). Input must
// be sorted by name.
func dedupeRequirements(reqs []Requirement) []Requirement {
	if len(reqs) == 0 {
		return nil
	}
	out := reqs[:0]
	for _, r := range reqs {
		if n := len(out); n > 0 && out[n-1].Name == r.Name {
			if r.Constraint != "" && !strings.Contains(out[n-1].Constraint, r.Constraint) {
				if out[n-1].Constraint == "" {
					out[n-1].Constraint = r.Constraint
				} else {
					out[n-1].Constraint += "; " + r.Constraint
				}
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
