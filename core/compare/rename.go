package compare

import (
	"sort"
	"strings"

	"github.com/emenda-labs/apidelta/core/surface"
)

const (
	// MinNameSimilarity is the minimum normalized Levenshtein similarity for a rename hint.
	MinNameSimilarity = 0.7

	// MinParamOverlap is the minimum Jaccard overlap on parameter names for a rename hint.
	MinParamOverlap = 0.8

	// ShortNameLength is the threshold below which stricter name similarity is required.
	ShortNameLength = 4

	// ShortNameMinSimilarity is the stricter threshold for names shorter than ShortNameLength.
	ShortNameMinSimilarity = 0.85
)

// scoredPair holds a candidate rename with its composite score.
type scoredPair struct {
	oldKey  elementKey
	newKey  elementKey
	score   float64
	oldName string
}

// Pass 3: rename hints. A removed element that has a unique same-signature
// counterpart among the additions, or a close fuzzy match, gets a hint in
// its description. Hints never change a classification: the old name is
// still removed and the new one still added.
func (s *diffState) renameHints() {
	oldKeys := s.unmatchedOld()
	newKeys := s.unmatchedNew()
	if len(oldKeys) == 0 || len(newKeys) == 0 {
		return
	}
	hinted := make(map[elementKey]bool)

	// Exact signature renames within the same module and group.
	removedBySig := make(map[string][]elementKey)
	for _, key := range oldKeys {
		sig := renameSigKey(key, s.oldByKey[key])
		removedBySig[sig] = append(removedBySig[sig], key)
	}
	addedBySig := make(map[string][]elementKey)
	for _, key := range newKeys {
		sig := renameSigKey(key, s.newByKey[key])
		addedBySig[sig] = append(addedBySig[sig], key)
	}
	for sig, olds := range removedBySig {
		news, ok := addedBySig[sig]
		if !ok || len(olds) > 1 || len(news) > 1 {
			continue
		}
		oldEl := s.oldByKey[olds[0]]
		// Trivial signatures say nothing about identity.
		if len(oldEl.Signature.Params) == 0 && len(oldEl.Signature.Bases) == 0 {
			continue
		}
		s.renames[olds[0]] = s.newByKey[news[0]].QualifiedName()
		hinted[olds[0]] = true
		hinted[news[0]] = true
	}

	// Fuzzy matching for callables using name similarity and parameter overlap.
	var candidates []scoredPair
	for _, oldKey := range oldKeys {
		if hinted[oldKey] || !callable(oldKey.group) {
			continue
		}
		oldEl := s.oldByKey[oldKey]
		for _, newKey := range newKeys {
			if hinted[newKey] || newKey.group != oldKey.group {
				continue
			}
			newEl := s.newByKey[newKey]
			if oldEl.DefinedIn != newEl.DefinedIn {
				continue
			}

			nameSim := nameSimilarity(oldEl.Name, newEl.Name)
			overlap := paramOverlap(oldEl.Signature, newEl.Signature)

			nameThreshold := MinNameSimilarity
			if max(len(oldEl.Name), len(newEl.Name)) < ShortNameLength {
				nameThreshold = ShortNameMinSimilarity
			}
			if nameSim >= nameThreshold && overlap >= MinParamOverlap {
				candidates = append(candidates, scoredPair{
					oldKey:  oldKey,
					newKey:  newKey,
					score:   nameSim * overlap,
					oldName: oldEl.QualifiedName(),
				})
			}
		}
	}

	// Sort by descending score, tie-break by old name then new name.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].oldName != candidates[j].oldName {
			return candidates[i].oldName < candidates[j].oldName
		}
		return candidates[i].newKey.name < candidates[j].newKey.name
	})

	for _, pair := range candidates {
		if hinted[pair.oldKey] || hinted[pair.newKey] {
			continue
		}
		s.renames[pair.oldKey] = s.newByKey[pair.newKey].QualifiedName()
		hinted[pair.oldKey] = true
		hinted[pair.newKey] = true
	}
}

func renameSigKey(key elementKey, el *surface.APIElement) string {
	return el.Signature.String() + "|" + string(key.group) + "|" + el.DefinedIn + "|" + scope(el.Name)
}

// scope returns the enclosing class of a scope-qualified name, if any.
func scope(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

func callable(group surface.Kind) bool {
	return group == surface.KindFunction || group == surface.KindMethod
}

// levenshteinDistance computes the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	// Use two rows instead of full matrix.
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)

	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[lb]
}

// nameSimilarity returns the normalized Levenshtein similarity between two strings.
// Returns a value in [0.0, 1.0] where 1.0 means identical.
func nameSimilarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	maxLen := max(len(a), len(b))
	return 1.0 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

// paramOverlap computes the Jaccard similarity of parameter name multisets.
// If both sides have no parameters, returns 1.0.
func paramOverlap(a, b surface.Signature) float64 {
	if len(a.Params) == 0 && len(b.Params) == 0 {
		return 1.0
	}

	aSet := make(map[string]int)
	for _, p := range a.Params {
		aSet[p.Name+":"+p.Type]++
	}
	bSet := make(map[string]int)
	for _, p := range b.Params {
		bSet[p.Name+":"+p.Type]++
	}

	// Jaccard on multisets: intersection = sum of min counts, union = sum of max counts.
	var intersection, union int
	allKeys := make(map[string]bool)
	for k := range aSet {
		allKeys[k] = true
	}
	for k := range bSet {
		allKeys[k] = true
	}
	for k := range allKeys {
		intersection += min(aSet[k], bSet[k])
		union += max(aSet[k], bSet[k])
	}

	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
