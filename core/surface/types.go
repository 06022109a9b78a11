package surface

import (
	"strings"
	"time"
)

// Kind identifies what kind of public element this is.
type Kind string

const (
	KindClass         Kind = "class"
	KindFunction      Kind = "function"
	KindAsyncFunction Kind = "async_function"
	KindMethod        Kind = "method"
	KindAsyncMethod   Kind = "async_method"
	KindProperty      Kind = "property"
	KindConstant      Kind = "constant"
	KindTypeAlias     Kind = "type-alias"
)

// Group returns the kind an element is filed under in an APISurface.
// Async sub-kinds share the group of their synchronous counterpart.
func (k Kind) Group() Kind {
	switch k {
	case KindAsyncFunction:
		return KindFunction
	case KindAsyncMethod:
		return KindMethod
	default:
		return k
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindClass, KindFunction, KindAsyncFunction, KindMethod, KindAsyncMethod,
		KindProperty, KindConstant, KindTypeAlias:
		return true
	}
	return false
}

// Groups lists every element group in the order they are rendered.
var Groups = []Kind{KindClass, KindFunction, KindMethod, KindProperty, KindConstant, KindTypeAlias}

// Strategy identifies how a surface was extracted.
type Strategy string

const (
	StrategyLive   Strategy = "live"
	StrategyStatic Strategy = "static"
)

// ParamKind mirrors how a parameter can be supplied by a caller.
type ParamKind string

const (
	ParamPositionalOnly      ParamKind = "positional_only"
	ParamPositionalOrKeyword ParamKind = "positional_or_keyword"
	ParamVarPositional       ParamKind = "var_positional"
	ParamKeywordOnly         ParamKind = "keyword_only"
	ParamVarKeyword          ParamKind = "var_keyword"
)

// Positional reports whether a caller may pass the parameter by position.
func (k ParamKind) Positional() bool {
	return k == ParamPositionalOnly || k == ParamPositionalOrKeyword
}

// Variadic reports whether the parameter collects extra arguments.
func (k ParamKind) Variadic() bool {
	return k == ParamVarPositional || k == ParamVarKeyword
}

// Param is one parameter of a callable signature.
type Param struct {
	Name       string    `json:"name"`
	Kind       ParamKind `json:"kind"`
	HasDefault bool      `json:"has_default,omitempty"`
	Type       string    `json:"type,omitempty"`
}

// Signature is a descriptive snapshot of an element's shape. It is never
// treated as a verified contract.
type Signature struct {
	Params  []Param  `json:"params,omitempty"`
	Returns string   `json:"returns,omitempty"`
	Bases   []string `json:"bases,omitempty"`
	Value   string   `json:"value,omitempty"`
}

// APIElement is a single public element. Elements are plain values; a
// changed signature is always a new element in a new surface.
type APIElement struct {
	Name               string    `json:"name"`
	Kind               Kind      `json:"kind"`
	Signature          Signature `json:"signature"`
	DocSummary         string    `json:"doc_summary,omitempty"`
	IsDeprecated       bool      `json:"is_deprecated,omitempty"`
	DeprecationMessage string    `json:"deprecation_message,omitempty"`
	DefinedIn          string    `json:"defined_in,omitempty"`
}

// QualifiedName is the identity of an element within its surface.
func (e APIElement) QualifiedName() string {
	if e.DefinedIn == "" {
		return e.Name
	}
	return e.DefinedIn + "." + e.Name
}

// Requirement is one declared dependency constraint of a package version.
type Requirement struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint"`
}

// APISurface is the normalized public interface of one package version.
// Build it with a Builder; the element slices are sorted by qualified name.
type APISurface struct {
	PackageName string   `json:"package_name"`
	Version     string   `json:"version"`
	Strategy    Strategy `json:"strategy"`

	Classes     []APIElement `json:"classes,omitempty"`
	Functions   []APIElement `json:"functions,omitempty"`
	Methods     []APIElement `json:"methods,omitempty"`
	Properties  []APIElement `json:"properties,omitempty"`
	Constants   []APIElement `json:"constants,omitempty"`
	TypeAliases []APIElement `json:"type_aliases,omitempty"`

	Partial        bool     `json:"partial,omitempty"`
	PartialReasons []string `json:"partial_reasons,omitempty"`

	// TypedSignatures is set when the ecosystem enforces declared types, so
	// a changed type token breaks callers.
	TypedSignatures bool `json:"typed_signatures,omitempty"`

	// DeclaresRequirements distinguishes "no dependencies" from "unknown".
	DeclaresRequirements bool          `json:"declares_requirements,omitempty"`
	Requirements         []Requirement `json:"requirements,omitempty"`

	Modules     []string  `json:"modules,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// ByKind returns the elements filed under kind's group. Querying
// KindFunction also returns async functions.
func (s *APISurface) ByKind(kind Kind) []APIElement {
	switch kind.Group() {
	case KindClass:
		return s.Classes
	case KindFunction:
		return s.Functions
	case KindMethod:
		return s.Methods
	case KindProperty:
		return s.Properties
	case KindConstant:
		return s.Constants
	case KindTypeAlias:
		return s.TypeAliases
	}
	return nil
}

// Lookup finds an element by kind group and qualified name.
func (s *APISurface) Lookup(kind Kind, qualifiedName string) (APIElement, bool) {
	for _, e := range s.ByKind(kind) {
		if e.QualifiedName() == qualifiedName {
			return e, true
		}
	}
	return APIElement{}, false
}

// Len returns the total number of elements.
func (s *APISurface) Len() int {
	n := 0
	for _, g := range Groups {
		n += len(s.ByKind(g))
	}
	return n
}

// All returns every element, grouped in Groups order.
func (s *APISurface) All() []APIElement {
	out := make([]APIElement, 0, s.Len())
	for _, g := range Groups {
		out = append(out, s.ByKind(g)...)
	}
	return out
}

// String renders the signature in a compact canonical form, e.g.
// "(a, b: int = ..., *args, key=...) -> str".
func (sig Signature) String() string {
	var b strings.Builder
	if len(sig.Bases) > 0 {
		b.WriteString("[" + strings.Join(sig.Bases, ", ") + "]")
	}
	if sig.Value != "" && len(sig.Params) == 0 {
		if sig.Returns != "" {
			b.WriteString(": " + sig.Returns)
		}
		b.WriteString(" = " + sig.Value)
		return b.String()
	}

	parts := make([]string, 0, len(sig.Params)+2)
	sawKeywordOnly := false
	for i, p := range sig.Params {
		switch p.Kind {
		case ParamVarPositional:
			sawKeywordOnly = true
			parts = append(parts, "*"+renderParam(p))
			continue
		case ParamVarKeyword:
			parts = append(parts, "**"+renderParam(p))
			continue
		case ParamKeywordOnly:
			if !sawKeywordOnly {
				parts = append(parts, "*")
				sawKeywordOnly = true
			}
		}
		parts = append(parts, renderParam(p))
		if p.Kind == ParamPositionalOnly && (i+1 == len(sig.Params) || sig.Params[i+1].Kind != ParamPositionalOnly) {
			parts = append(parts, "/")
		}
	}

	b.WriteString("(" + strings.Join(parts, ", ") + ")")
	if sig.Returns != "" {
		b.WriteString(" -> " + sig.Returns)
	}
	return b.String()
}

func renderParam(p Param) string {
	s := p.Name
	if p.Type != "" {
		s += ": " + p.Type
	}
	if p.HasDefault {
		if p.Type != "" {
			s += " = ..."
		} else {
			s += "=..."
		}
	}
	return s
}

// Equal reports structural equality of two signatures.
func (sig Signature) Equal(other Signature) bool {
	if sig.Returns != other.Returns || sig.Value != other.Value {
		return false
	}
	if len(sig.Params) != len(other.Params) || len(sig.Bases) != len(other.Bases) {
		return false
	}
	for i := range sig.Params {
		if sig.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range sig.Bases {
		if sig.Bases[i] != other.Bases[i] {
			return false
		}
	}
	return true
}

// clone returns a deep copy so a built surface never shares slices with
// builder input.
func (sig Signature) clone() Signature {
	out := sig
	if sig.Params != nil {
		out.Params = append([]Param(nil), sig.Params...)
	}
	if sig.Bases != nil {
		out.Bases = append([]string(nil), sig.Bases...)
	}
	return out
}
