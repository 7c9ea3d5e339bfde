// Package attribution turns a validation result graph into dotted-path
// violation records.
//
// Results whose focus node is the checked entity's root are the starting
// points. A result whose value is itself the focus node of further results
// describes a failure inside a nested object: the walk follows those results
// and extends the path by the result's attribute, and only the deepest result
// of each chain produces a record.
package attribution

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/resultgraph"
)

// Missing is written for an absent value or message.
const Missing = "-"

// Attribute walks every direct result of root in g and returns the entity's
// conformance together with one record per terminal result. Records are
// returned in depth-first order of the graph's result insertion order. The
// graph is only read.
func Attribute(g *resultgraph.Graph, root resultgraph.Term, source string) (bool, []report.Record) {
	w := &walker{g: g, source: source, onPath: make(map[resultgraph.Term]bool)}

	conforms := true
	for _, r := range w.resultsAbout(root) {
		if !w.visit(r, "") {
			conforms = false
		}
	}
	return conforms, w.records
}

type walker struct {
	g       *resultgraph.Graph
	source  string
	records []report.Record
	onPath  map[resultgraph.Term]bool
}

// resultsAbout returns the validation results whose focus node is focus.
func (w *walker) resultsAbout(focus resultgraph.Term) []resultgraph.Term {
	var out []resultgraph.Term
	for _, r := range w.g.Subjects(resultgraph.IRI(resultgraph.FocusNode), focus) {
		if w.g.IsResult(r) {
			out = append(out, r)
		}
	}
	return out
}

func (w *walker) visit(r resultgraph.Term, path string) bool {
	w.onPath[r] = true
	defer delete(w.onPath, r)

	path = path + "." + attributeName(w.g, r)
	value, hasValue := w.g.Value(r, resultgraph.IRI(resultgraph.Value))
	focus, _ := w.g.Value(r, resultgraph.IRI(resultgraph.FocusNode))

	if hasValue && !value.IsLiteral() && value != focus {
		var nested []resultgraph.Term
		for _, n := range w.resultsAbout(value) {
			if n != r && !w.onPath[n] {
				nested = append(nested, n)
			}
		}
		if len(nested) > 0 {
			conforms := true
			for _, n := range nested {
				if !w.visit(n, path) {
					conforms = false
				}
			}
			return conforms
		}
	}

	severity := severityOf(w.g, r)
	message := Missing
	if m, ok := w.g.Value(r, resultgraph.IRI(resultgraph.ResultMessage)); ok && m.Value != "" {
		message = m.Value
	}

	rendered := Missing
	if hasValue && value.IsLiteral() {
		rendered = CoerceLiteral(value)
	}

	w.records = append(w.records, report.Record{
		Source:   w.source,
		Message:  message,
		Path:     path,
		Value:    rendered,
		Severity: severity,
	})
	return severity.Conforms()
}

// attributeName returns the last segment of a result's path IRI.
func attributeName(g *resultgraph.Graph, r resultgraph.Term) string {
	p, ok := g.Value(r, resultgraph.IRI(resultgraph.ResultPath))
	if !ok {
		return Missing
	}
	return lastSegment(p.Value)
}

func lastSegment(iri string) string {
	if i := strings.LastIndexAny(iri, "/#"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}

// severityOf strips the validation vocabulary prefix from a result's
// severity. A missing severity is treated as a Violation.
func severityOf(g *resultgraph.Graph, r resultgraph.Term) report.Severity {
	s, ok := g.Value(r, resultgraph.IRI(resultgraph.ResultSeverity))
	if !ok {
		return report.SeverityViolation
	}
	if strings.HasPrefix(s.Value, resultgraph.SHACL) {
		return report.Severity(strings.TrimPrefix(s.Value, resultgraph.SHACL))
	}
	return report.Severity(lastSegment(s.Value))
}

// CoerceLiteral renders a literal by its datatype: integers and doubles are
// parsed and reprinted, booleans normalized, strings passed through and any
// other datatype rendered as "". A literal that does not parse as its
// datatype is rendered as an explicit marker.
func CoerceLiteral(t resultgraph.Term) string {
	switch t.Datatype {
	case resultgraph.XSDInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(t.Value), 10, 64)
		if err != nil {
			return invalid("integer", t.Value)
		}
		return strconv.FormatInt(n, 10)
	case resultgraph.XSDDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(t.Value), 64)
		if err != nil {
			return invalid("double", t.Value)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case resultgraph.XSDBoolean:
		switch strings.TrimSpace(t.Value) {
		case "true", "1":
			return "true"
		case "false", "0":
			return "false"
		default:
			return invalid("boolean", t.Value)
		}
	case resultgraph.XSDString, "":
		return t.Value
	default:
		return ""
	}
}

func invalid(kind, raw string) string {
	return fmt.Sprintf("<invalid %s %q>", kind, raw)
}
