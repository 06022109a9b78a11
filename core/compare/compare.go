// Package compare classifies the differences between two API surfaces.
// Compare is pure: it never mutates its inputs and its output depends only
// on their contents, never on iteration order.
package compare

import (
	"fmt"
	"sort"

	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/surface"
)

// elementKey identifies an element within a surface.
type elementKey struct {
	group surface.Kind
	name  string
}

// diffState holds the working state across all diff passes.
type diffState struct {
	oldByKey   map[elementKey]*surface.APIElement
	newByKey   map[elementKey]*surface.APIElement
	matchedOld map[elementKey]bool
	matchedNew map[elementKey]bool
	typed      bool
	renames    map[elementKey]string
	changes    []changespec.APIChange
}

func newDiffState(old, new *surface.APISurface) *diffState {
	s := &diffState{
		oldByKey:   make(map[elementKey]*surface.APIElement, old.Len()),
		newByKey:   make(map[elementKey]*surface.APIElement, new.Len()),
		matchedOld: make(map[elementKey]bool),
		matchedNew: make(map[elementKey]bool),
		typed:      old.TypedSignatures && new.TypedSignatures,
		renames:    make(map[elementKey]string),
	}
	index(old, s.oldByKey)
	index(new, s.newByKey)
	return s
}

func index(surf *surface.APISurface, into map[elementKey]*surface.APIElement) {
	for _, g := range surface.Groups {
		els := surf.ByKind(g)
		for i := range els {
			into[elementKey{group: g, name: els[i].QualifiedName()}] = &els[i]
		}
	}
}

// Compare diffs two surfaces of the same package. It runs four passes:
// exact matches, changed elements, rename hints, leftovers.
func Compare(old, new *surface.APISurface) *changespec.VersionComparison {
	s := newDiffState(old, new)
	s.exactMatch()
	s.changed()
	s.renameHints()
	s.leftovers()

	cmp := &changespec.VersionComparison{
		PackageName:   new.PackageName,
		OldVersion:    old.Version,
		NewVersion:    new.Version,
		Breaking:      []changespec.APIChange{},
		Additions:     []changespec.APIChange{},
		Modifications: []changespec.APIChange{},
		Deprecations:  []changespec.APIChange{},
		OldStrategy:   old.Strategy,
		NewStrategy:   new.Strategy,
		Partial:       old.Partial || new.Partial,
	}
	if cmp.PackageName == "" {
		cmp.PackageName = old.PackageName
	}
	if cmp.Partial {
		cmp.PartialReason = partialReason(old, new)
	}

	for _, ch := range s.changes {
		switch {
		case ch.ChangeKind == changespec.ChangeKindDeprecated:
			cmp.Deprecations = append(cmp.Deprecations, ch)
		case ch.ChangeKind == changespec.ChangeKindAdded:
			cmp.Additions = append(cmp.Additions, ch)
		case ch.Impact == changespec.ImpactBreaking:
			cmp.Breaking = append(cmp.Breaking, ch)
		default:
			cmp.Modifications = append(cmp.Modifications, ch)
		}
	}
	for _, list := range [][]changespec.APIChange{cmp.Breaking, cmp.Additions, cmp.Modifications, cmp.Deprecations} {
		sortChanges(list)
	}

	cmp.DependencyChanges = diffRequirements(old, new)
	return cmp
}

func partialReason(old, new *surface.APISurface) string {
	switch {
	case old.Partial && new.Partial:
		return fmt.Sprintf("both surfaces are partial (%s, %s)", old.Version, new.Version)
	case old.Partial:
		return fmt.Sprintf("surface for %s is partial", old.Version)
	default:
		return fmt.Sprintf("surface for %s is partial", new.Version)
	}
}

// sortChanges orders by element name, ties broken by change kind.
func sortChanges(list []changespec.APIChange) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].ElementName != list[j].ElementName {
			return list[i].ElementName < list[j].ElementName
		}
		if oi, oj := list[i].ChangeKind.Order(), list[j].ChangeKind.Order(); oi != oj {
			return oi < oj
		}
		return list[i].ElementKind < list[j].ElementKind
	})
}

func (s *diffState) markMatched(oldKey, newKey elementKey) {
	s.matchedOld[oldKey] = true
	s.matchedNew[newKey] = true
}

func (s *diffState) emit(c changespec.APIChange) {
	s.changes = append(s.changes, c)
}

func (s *diffState) unmatchedOld() []elementKey {
	return unmatched(s.oldByKey, s.matchedOld)
}

func (s *diffState) unmatchedNew() []elementKey {
	return unmatched(s.newByKey, s.matchedNew)
}

// unmatched returns keys in a fixed order so every pass is deterministic.
func unmatched(all map[elementKey]*surface.APIElement, matched map[elementKey]bool) []elementKey {
	var keys []elementKey
	for k := range all {
		if !matched[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].group < keys[j].group
	})
	return keys
}

// deprecation emits a deprecated entry when new carries a marker that old
// did not. It is independent of any signature verdict.
func (s *diffState) deprecation(oldEl, newEl *surface.APIElement) {
	if !newEl.IsDeprecated || oldEl.IsDeprecated {
		return
	}
	desc := "deprecated"
	if newEl.DeprecationMessage != "" {
		desc = "deprecated: " + newEl.DeprecationMessage
	}
	s.emit(changespec.APIChange{
		ElementName:  newEl.QualifiedName(),
		ElementKind:  newEl.Kind,
		ChangeKind:   changespec.ChangeKindDeprecated,
		OldSignature: oldEl.Signature.String(),
		NewSignature: newEl.Signature.String(),
		Impact:       changespec.ImpactCompatible,
		Description:  desc,
	})
}

// Pass 1: identical elements are consumed silently.
func (s *diffState) exactMatch() {
	for key, oldEl := range s.oldByKey {
		newEl, ok := s.newByKey[key]
		if !ok {
			continue
		}
		if oldEl.Kind == newEl.Kind && oldEl.Signature.Equal(newEl.Signature) && oldEl.DocSummary == newEl.DocSummary {
			s.deprecation(oldEl, newEl)
			s.markMatched(key, key)
		}
	}
}

// Pass 2: same-key changes and cross-group kind changes.
func (s *diffState) changed() {
	// Part A: same group and name, different kind, signature or docs.
	for _, key := range s.unmatchedOld() {
		newEl, ok := s.newByKey[key]
		if !ok {
			continue
		}
		oldEl := s.oldByKey[key]
		v := classify(oldEl, newEl, s.typed)
		s.emit(changespec.APIChange{
			ElementName:  oldEl.QualifiedName(),
			ElementKind:  newEl.Kind,
			ChangeKind:   changespec.ChangeKindModified,
			OldSignature: oldEl.Signature.String(),
			NewSignature: newEl.Signature.String(),
			Impact:       v.impact,
			Description:  v.description,
		})
		s.deprecation(oldEl, newEl)
		s.markMatched(key, key)
	}

	// Part B: same qualified name filed under a different group.
	newByName := make(map[string]elementKey)
	for _, key := range s.unmatchedNew() {
		if _, taken := newByName[key.name]; !taken {
			newByName[key.name] = key
		}
	}
	for _, oldKey := range s.unmatchedOld() {
		newKey, ok := newByName[oldKey.name]
		if !ok || s.matchedNew[newKey] {
			continue
		}
		oldEl := s.oldByKey[oldKey]
		newEl := s.newByKey[newKey]
		s.emit(changespec.APIChange{
			ElementName:  oldEl.QualifiedName(),
			ElementKind:  newEl.Kind,
			ChangeKind:   changespec.ChangeKindModified,
			OldSignature: oldEl.Signature.String(),
			NewSignature: newEl.Signature.String(),
			Impact:       changespec.ImpactBreaking,
			Description:  fmt.Sprintf("kind changed from %s to %s", oldEl.Kind, newEl.Kind),
		})
		s.deprecation(oldEl, newEl)
		s.markMatched(oldKey, newKey)
	}
}

// Pass 4: whatever is left is removed or added.
func (s *diffState) leftovers() {
	for _, key := range s.unmatchedOld() {
		oldEl := s.oldByKey[key]
		desc := fmt.Sprintf("%s removed", oldEl.Kind)
		if to, ok := s.renames[key]; ok {
			desc += fmt.Sprintf(" (possibly renamed to %s)", to)
		}
		s.emit(changespec.APIChange{
			ElementName:  oldEl.QualifiedName(),
			ElementKind:  oldEl.Kind,
			ChangeKind:   changespec.ChangeKindRemoved,
			OldSignature: oldEl.Signature.String(),
			Impact:       changespec.ImpactBreaking,
			Description:  desc,
		})
	}
	for _, key := range s.unmatchedNew() {
		newEl := s.newByKey[key]
		s.emit(changespec.APIChange{
			ElementName:  newEl.QualifiedName(),
			ElementKind:  newEl.Kind,
			ChangeKind:   changespec.ChangeKindAdded,
			NewSignature: newEl.Signature.String(),
			Impact:       changespec.ImpactEnhancement,
			Description:  fmt.Sprintf("%s added", newEl.Kind),
		})
	}
}
