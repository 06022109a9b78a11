package changespec

import (
	"time"

	"github.com/emenda-labs/apidelta/core/surface"
)

// ChangeKind represents how an element changed between two versions.
type ChangeKind string

const (
	ChangeKindRemoved    ChangeKind = "removed"
	ChangeKindModified   ChangeKind = "modified"
	ChangeKindDeprecated ChangeKind = "deprecated"
	ChangeKindAdded      ChangeKind = "added"
)

// Order is the tie-break rank used when two changes share a name.
func (k ChangeKind) Order() int {
	switch k {
	case ChangeKindRemoved:
		return 0
	case ChangeKindModified:
		return 1
	case ChangeKindDeprecated:
		return 2
	case ChangeKindAdded:
		return 3
	}
	return 4
}

// Impact is the verdict on whether a change can break existing callers.
type Impact string

const (
	ImpactBreaking    Impact = "breaking"
	ImpactCompatible  Impact = "compatible"
	ImpactEnhancement Impact = "enhancement"
)

// APIChange represents a single difference between two versions.
type APIChange struct {
	ElementName  string       `json:"element_name"`
	ElementKind  surface.Kind `json:"element_kind"`
	ChangeKind   ChangeKind   `json:"change_kind"`
	OldSignature string       `json:"old_signature,omitempty"`
	NewSignature string       `json:"new_signature,omitempty"`
	Impact       Impact       `json:"impact"`
	Description  string       `json:"description"`
}

// DependencyKind classifies a declared dependency difference.
type DependencyKind string

const (
	DependencyAdded   DependencyKind = "added"
	DependencyRemoved DependencyKind = "removed"
	DependencyChanged DependencyKind = "changed"
)

// DependencyChange is one difference in declared requirements. An empty
// constraint means the dependency is absent on that side.
type DependencyChange struct {
	Name          string         `json:"name"`
	OldConstraint string         `json:"old_constraint"`
	NewConstraint string         `json:"new_constraint"`
	Kind          DependencyKind `json:"kind"`
}

// VersionComparison is the full classification of changes between two
// versions of one package. It is created fresh for each comparison.
type VersionComparison struct {
	PackageName string `json:"package_name"`
	OldVersion  string `json:"old_version"`
	NewVersion  string `json:"new_version"`

	Breaking      []APIChange `json:"breaking"`
	Additions     []APIChange `json:"additions"`
	Modifications []APIChange `json:"modifications"`
	Deprecations  []APIChange `json:"deprecations"`

	DependencyChanges []DependencyChange `json:"dependency_changes"`

	OldStrategy surface.Strategy `json:"old_strategy,omitempty"`
	NewStrategy surface.Strategy `json:"new_strategy,omitempty"`

	// Partial means absence of a change is not proven.
	Partial       bool   `json:"partial,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
	PartialReason string `json:"partial_reason,omitempty"`
}

// Empty reports whether no element changes were found.
func (c *VersionComparison) Empty() bool {
	return len(c.Breaking) == 0 && len(c.Additions) == 0 &&
		len(c.Modifications) == 0 && len(c.Deprecations) == 0
}

// MigrationResources is what the resource finder found for an upgrade.
type MigrationResources struct {
	PackageName        string    `json:"package_name"`
	VersionRange       string    `json:"version_range"`
	OfficialGuides     []string  `json:"official_guides"`
	Changelogs         []string  `json:"changelogs"`
	CommunityResources []string  `json:"community_resources"`
	DocumentationLinks []string  `json:"documentation_links"`
	SearchedAt         time.Time `json:"searched_at"`
}

// MigrationReport combines a comparison with discovered resources.
// Resources is nil when discovery failed or did not finish in time.
type MigrationReport struct {
	ID         string              `json:"id"`
	Comparison *VersionComparison  `json:"comparison"`
	Resources  *MigrationResources `json:"resources,omitempty"`
	Notes      []string            `json:"notes,omitempty"`
}
