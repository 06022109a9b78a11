package compare

import (
	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/surface"
)

// diffRequirements reports declared dependency differences. Nothing is
// reported unless both surfaces declare their requirements, since an
// undeclared side says nothing about what was dropped.
func diffRequirements(old, new *surface.APISurface) []changespec.DependencyChange {
	out := []changespec.DependencyChange{}
	if !old.DeclaresRequirements || !new.DeclaresRequirements {
		return out
	}

	// Requirements are sorted by name, so walking both lists keeps the
	// output ordered without another sort.
	i, j := 0, 0
	for i < len(old.Requirements) || j < len(new.Requirements) {
		switch {
		case j >= len(new.Requirements) || (i < len(old.Requirements) && old.Requirements[i].Name < new.Requirements[j].Name):
			r := old.Requirements[i]
			out = append(out, changespec.DependencyChange{
				Name:          r.Name,
				OldConstraint: constraintOrAny(r.Constraint),
				Kind:          changespec.DependencyRemoved,
			})
			i++
		case i >= len(old.Requirements) || new.Requirements[j].Name < old.Requirements[i].Name:
			r := new.Requirements[j]
			out = append(out, changespec.DependencyChange{
				Name:          r.Name,
				NewConstraint: constraintOrAny(r.Constraint),
				Kind:          changespec.DependencyAdded,
			})
			j++
		default:
			o, n := old.Requirements[i], new.Requirements[j]
			if o.Constraint != n.Constraint {
				out = append(out, changespec.DependencyChange{
					Name:          o.Name,
					OldConstraint: constraintOrAny(o.Constraint),
					NewConstraint: constraintOrAny(n.Constraint),
					Kind:          changespec.DependencyChanged,
				})
			}
			i++
			j++
		}
	}
	return out
}

// constraintOrAny distinguishes "present without a constraint" from the
// empty string that means absent.
func constraintOrAny(c string) string {
	if c == "" {
		return "*"
	}
	return c
}
