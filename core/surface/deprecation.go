package surface

import (
	"regexp"
	"strings"
)

// deprecationMarker matches the doc-string tokens that flag an element as
// deprecated. Matching is case-insensitive and on word boundaries so that
// "undeprecated" or "deprecatedness" do not count.
var deprecationMarker = regexp.MustCompile(`(?i)(\.\.\s+deprecated::|\bdeprecated?\b|\bobsolete\b|\bwill\s+be\s+removed\b)`)

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

// DetectDeprecation reports whether doc carries a deprecation marker and,
// if so, the sentence that explains it.
func DetectDeprecation(doc string) (bool, string) {
	loc := deprecationMarker.FindStringIndex(doc)
	if loc == nil {
		return false, ""
	}
	return true, deprecationMessage(doc, loc[0], loc[1])
}

// deprecationMessage picks the remainder of the marker's sentence. When the
// marker ends its sentence (e.g. "Deprecated."), the following sentence is
// used instead.
func deprecationMessage(doc string, start, end int) string {
	rest := strings.TrimLeft(doc[end:], " \t:,-")
	if strings.HasPrefix(rest, "\n") || rest == "" || rest[0] == '.' {
		rest = strings.TrimLeft(rest, ". \t\r\n")
		if rest == "" {
			return firstLine(doc[lineStart(doc, start):])
		}
		return firstSentence(rest)
	}
	// ".. deprecated:: 2.0" directives put the version on the marker line
	// and the explanation on the indented lines after it.
	if strings.HasPrefix(strings.ToLower(doc[start:end]), "..") {
		line, body, _ := strings.Cut(rest, "\n")
		body = collapse(body)
		if body == "" {
			return strings.TrimSpace(line)
		}
		return firstSentence(body)
	}
	return firstSentence(doc[sentenceStart(doc, start):])
}

func lineStart(doc string, i int) int {
	if j := strings.LastIndexByte(doc[:i], '\n'); j >= 0 {
		return j + 1
	}
	return 0
}

// sentenceStart finds where the sentence containing offset i begins,
// without crossing a line break.
func sentenceStart(doc string, i int) int {
	from := lineStart(doc, i)
	head := doc[from:i]
	if locs := sentenceEnd.FindAllStringIndex(head, -1); len(locs) > 0 {
		from += locs[len(locs)-1][1]
	}
	return from
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func firstSentence(s string) string {
	s = collapse(s)
	if loc := sentenceEnd.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[:loc[0]+1])
	}
	return s
}

// collapse joins a paragraph's lines with single spaces, stopping at the
// first blank line.
func collapse(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

// DocSummary returns the first paragraph of a doc string on one line.
func DocSummary(doc string) string {
	return collapse(doc)
}

// IsDeprecationDecorator reports whether a decorator expression (without
// the leading '@') marks its target as deprecated.
func IsDeprecationDecorator(expr string) bool {
	name, _, _ := strings.Cut(strings.TrimSpace(expr), "(")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.EqualFold(name, "deprecated") || strings.EqualFold(name, "deprecate")
}

// DecoratorMessage extracts the first string literal argument of a call
// decorator, e.g. `deprecated("use g instead")`.
func DecoratorMessage(expr string) string {
	_, args, ok := strings.Cut(expr, "(")
	if !ok {
		return ""
	}
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if i := strings.Index(args, q); i >= 0 {
			rest := args[i+len(q):]
			if j := strings.Index(rest, q); j >= 0 {
				return strings.TrimSpace(rest[:j])
			}
		}
	}
	return ""
}
