package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/emenda-labs/apidelta/core/cache"
	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/surface"
)

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSurface renders a surface as a table of elements.
func WriteSurface(w io.Writer, s *surface.APISurface) error {
	fmt.Fprintf(w, "Package:   %s\n", s.PackageName)
	fmt.Fprintf(w, "Version:   %s\n", s.Version)
	fmt.Fprintf(w, "Strategy:  %s\n", s.Strategy)
	fmt.Fprintf(w, "Elements:  %d\n", s.Len())
	writePartial(w, s.Partial, s.PartialReasons)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range s.All() {
		name := e.QualifiedName()
		if e.IsDeprecated {
			name += " (deprecated)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Kind, name, e.Signature.String())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Requirements) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Requirements:")
		for _, r := range s.Requirements {
			fmt.Fprintf(w, "  %s %s\n", r.Name, r.Constraint)
		}
	}
	return nil
}

// WriteComparison renders a comparison grouped by category.
func WriteComparison(w io.Writer, c *changespec.VersionComparison) error {
	fmt.Fprintf(w, "Package:   %s\n", c.PackageName)
	fmt.Fprintf(w, "Versions:  %s -> %s\n", c.OldVersion, c.NewVersion)
	if c.OldStrategy != "" || c.NewStrategy != "" {
		fmt.Fprintf(w, "Strategy:  %s / %s\n", orDash(string(c.OldStrategy)), orDash(string(c.NewStrategy)))
	}
	if c.Degraded {
		fmt.Fprintln(w, "Degraded:  yes")
	}
	if c.Partial {
		fmt.Fprintf(w, "Partial:   %s\n", c.PartialReason)
	}

	sections := []struct {
		title   string
		changes []changespec.APIChange
	}{
		{"Breaking changes", c.Breaking},
		{"Modifications", c.Modifications},
		{"Deprecations", c.Deprecations},
		{"Additions", c.Additions},
	}
	for _, sec := range sections {
		if len(sec.changes) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d):\n", sec.title, len(sec.changes))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, ch := range sec.changes {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", ch.ElementKind, ch.ElementName, ch.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(c.DependencyChanges) > 0 {
		fmt.Fprintf(w, "\nDependency changes (%d):\n", len(c.DependencyChanges))
		for _, d := range c.DependencyChanges {
			fmt.Fprintf(w, "  %-8s %s: %s -> %s\n", d.Kind, d.Name, orDash(d.OldConstraint), orDash(d.NewConstraint))
		}
	}

	if c.Empty() && !c.Partial {
		fmt.Fprintln(w, "\nNo API changes.")
	}
	return nil
}

// WriteResources renders discovered resources by category.
func WriteResources(w io.Writer, r *changespec.MigrationResources) error {
	fmt.Fprintf(w, "Package:   %s\n", r.PackageName)
	fmt.Fprintf(w, "Range:     %s\n", r.VersionRange)

	lists := []struct {
		title string
		links []string
	}{
		{"Migration guides", r.OfficialGuides},
		{"Changelogs", r.Changelogs},
		{"Community", r.CommunityResources},
		{"Documentation", r.DocumentationLinks},
	}
	found := false
	for _, l := range lists {
		if len(l.links) == 0 {
			continue
		}
		found = true
		fmt.Fprintf(w, "\n%s:\n", l.title)
		for _, link := range l.links {
			fmt.Fprintf(w, "  %s\n", link)
		}
	}
	if !found {
		fmt.Fprintln(w, "\nNo resources found.")
	}
	return nil
}

// WriteReport renders a comparison followed by its resources and notes.
func WriteReport(w io.Writer, r *changespec.MigrationReport) error {
	fmt.Fprintf(w, "Report:    %s\n", r.ID)
	if err := WriteComparison(w, r.Comparison); err != nil {
		return err
	}
	if r.Resources != nil {
		fmt.Fprintln(w)
		if err := WriteResources(w, r.Resources); err != nil {
			return err
		}
	}
	if len(r.Notes) > 0 {
		fmt.Fprintf(w, "\nNotes:\n  %s\n", strings.Join(r.Notes, "\n  "))
	}
	return nil
}

// WriteStats renders cache counters on one line.
func WriteStats(w io.Writer, s cache.Stats) {
	fmt.Fprintf(w, "cache: entries=%d/%d hits=%d misses=%d computations=%d evictions=%d invalidations=%d store_errors=%d\n",
		s.Entries, s.Capacity, s.Hits, s.Misses, s.Computations, s.Evictions, s.Invalidations, s.StoreErrors)
}

func writePartial(w io.Writer, partial bool, reasons []string) {
	if !partial {
		return
	}
	fmt.Fprintln(w, "Partial:   yes")
	for _, r := range reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
