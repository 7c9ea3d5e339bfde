// Package resultgraph is a small indexed triple set describing the outcome of
// a constraint check in the SHACL validation report vocabulary.
//
// It is not a general RDF store: it supports exactly the lookups attribution
// needs (first object of a subject/predicate pair, subjects of a
// predicate/object pair, membership) and reads and writes N-Triples so that
// reports from external engines can be attributed.
package resultgraph

import (
	"fmt"
	"strconv"
)

// Namespaces and terms of the validation report vocabulary.
const (
	SHACL = "http://www.w3.org/ns/shacl#"
	XSD   = "http://www.w3.org/2001/XMLSchema#"
	RDF   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

	RDFType    = RDF + "type"
	LangString = RDF + "langString"

	ValidationReport = SHACL + "ValidationReport"
	ValidationResult = SHACL + "ValidationResult"
	Conforms         = SHACL + "conforms"
	Result           = SHACL + "result"
	FocusNode        = SHACL + "focusNode"
	ResultPath       = SHACL + "resultPath"
	Value            = SHACL + "value"
	ResultSeverity   = SHACL + "resultSeverity"
	ResultMessage    = SHACL + "resultMessage"
	SourceShape      = SHACL + "sourceShape"
	SourceComponent  = SHACL + "sourceConstraintComponent"

	SeverityViolation = SHACL + "Violation"
	SeverityWarning   = SHACL + "Warning"
	SeverityInfo      = SHACL + "Info"

	XSDString  = XSD + "string"
	XSDInteger = XSD + "integer"
	XSDDouble  = XSD + "double"
	XSDDecimal = XSD + "decimal"
	XSDBoolean = XSD + "boolean"
)

// TermKind distinguishes IRIs, blank nodes and literals.
type TermKind int

const (
	KindIRI TermKind = iota + 1
	KindBlank
	KindLiteral
)

// Term is an RDF term. Terms are comparable and usable as map keys.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Lang     string
}

// IRI returns an IRI term.
func IRI(s string) Term { return Term{Kind: KindIRI, Value: s} }

// Blank returns a blank node term with the given label.
func Blank(label string) Term { return Term{Kind: KindBlank, Value: label} }

// Literal returns a typed literal. An empty datatype means xsd:string.
func Literal(value, datatype string) Term {
	if datatype == "" {
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: value, Datatype: datatype}
}

// LiteralOf returns a literal typed after the Go value: strings are
// xsd:string, integers xsd:integer, floats xsd:double and bools xsd:boolean.
func LiteralOf(v any) Term {
	switch t := v.(type) {
	case string:
		return Literal(t, XSDString)
	case bool:
		return Literal(strconv.FormatBool(t), XSDBoolean)
	case int:
		return Literal(strconv.Itoa(t), XSDInteger)
	case int64:
		return Literal(strconv.FormatInt(t, 10), XSDInteger)
	case float64:
		return Literal(strconv.FormatFloat(t, 'g', -1, 64), XSDDouble)
	default:
		return Literal(fmt.Sprint(v), XSDString)
	}
}

// IsIRI reports whether t is an IRI.
func (t Term) IsIRI() bool { return t.Kind == KindIRI }

// IsLiteral reports whether t is a literal.
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// IsZero reports whether t is the zero Term.
func (t Term) IsZero() bool { return t.Kind == 0 }

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + escapeIRI(t.Value) + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := `"` + escapeLiteral(t.Value) + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" && t.Datatype != XSDString {
			return s + "^^<" + escapeIRI(t.Datatype) + ">"
		}
		return s
	default:
		return ""
	}
}

// Triple is one (subject, predicate, object) fact.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// String renders the triple as an N-Triples line without the newline.
func (t Triple) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String() + " ."
}

type pair struct {
	a, b Term
}

// Graph is a set of triples indexed by subject/predicate and
// predicate/object. Insertion order is preserved for iteration. A Graph is not
// safe for concurrent mutation.
type Graph struct {
	triples []Triple
	seen    map[Triple]struct{}
	bySP    map[pair][]Term
	byPO    map[pair][]Term
	labels  map[string]struct{}
	blanks  int
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		seen:   make(map[Triple]struct{}),
		bySP:   make(map[pair][]Term),
		byPO:   make(map[pair][]Term),
		labels: make(map[string]struct{}),
	}
}

// Add inserts a triple and reports whether it was new.
func (g *Graph) Add(s, p, o Term) bool {
	tr := Triple{Subject: s, Predicate: p, Object: o}
	if _, dup := g.seen[tr]; dup {
		return false
	}
	g.seen[tr] = struct{}{}
	g.triples = append(g.triples, tr)
	g.bySP[pair{s, p}] = append(g.bySP[pair{s, p}], o)
	g.byPO[pair{p, o}] = append(g.byPO[pair{p, o}], s)
	for _, t := range [...]Term{s, o} {
		if t.Kind == KindBlank {
			g.labels[t.Value] = struct{}{}
		}
	}
	return true
}

// Has reports whether the triple is in the graph.
func (g *Graph) Has(s, p, o Term) bool {
	_, ok := g.seen[Triple{Subject: s, Predicate: p, Object: o}]
	return ok
}

// Value returns the first object of (s, p).
func (g *Graph) Value(s, p Term) (Term, bool) {
	objs := g.bySP[pair{s, p}]
	if len(objs) == 0 {
		return Term{}, false
	}
	return objs[0], true
}

// Objects returns every object of (s, p) in insertion order.
func (g *Graph) Objects(s, p Term) []Term {
	return append([]Term(nil), g.bySP[pair{s, p}]...)
}

// Subjects returns every subject of (p, o) in insertion order.
func (g *Graph) Subjects(p, o Term) []Term {
	return append([]Term(nil), g.byPO[pair{p, o}]...)
}

// Triples returns all triples in insertion order.
func (g *Graph) Triples() []Triple {
	return append([]Triple(nil), g.triples...)
}

// Len returns the number of triples.
func (g *Graph) Len() int {
	return len(g.triples)
}

// NewBlank returns a blank node whose label is not yet used in the graph.
func (g *Graph) NewBlank() Term {
	for {
		g.blanks++
		label := "r" + strconv.Itoa(g.blanks)
		if _, used := g.labels[label]; !used {
			g.labels[label] = struct{}{}
			return Blank(label)
		}
	}
}

// ResultEntry describes one validation result for AddResult.
type ResultEntry struct {
	Focus     Term
	Path      string
	Value     Term
	Severity  string
	Message   string
	Shape     Term
	Component string
}

// AddResult adds a sh:ValidationResult node describing r and returns it. A zero
// Value or Shape and an empty Message or Component are omitted.
func (g *Graph) AddResult(r ResultEntry) Term {
	res := g.NewBlank()
	g.Add(res, IRI(RDFType), IRI(ValidationResult))
	g.Add(res, IRI(FocusNode), r.Focus)
	g.Add(res, IRI(ResultPath), IRI(r.Path))
	if !r.Value.IsZero() {
		g.Add(res, IRI(Value), r.Value)
	}
	severity := r.Severity
	if severity == "" {
		severity = SeverityViolation
	}
	g.Add(res, IRI(ResultSeverity), IRI(severity))
	if r.Message != "" {
		g.Add(res, IRI(ResultMessage), Literal(r.Message, XSDString))
	}
	if !r.Shape.IsZero() {
		g.Add(res, IRI(SourceShape), r.Shape)
	}
	if r.Component != "" {
		g.Add(res, IRI(SourceComponent), IRI(r.Component))
	}
	return res
}

// Results returns every sh:ValidationResult node in insertion order.
func (g *Graph) Results() []Term {
	return g.Subjects(IRI(RDFType), IRI(ValidationResult))
}

// IsResult reports whether t is typed as a sh:ValidationResult.
func (g *Graph) IsResult(t Term) bool {
	return g.Has(t, IRI(RDFType), IRI(ValidationResult))
}
