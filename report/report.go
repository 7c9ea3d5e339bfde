// Package report holds attributed violation records and their per-type,
// per-severity aggregates.
package report

import (
	"sort"
	"time"
)

// Severity is the tier of a validation result.
type Severity string

const (
	SeverityInfo      Severity = "Info"
	SeverityWarning   Severity = "Warning"
	SeverityViolation Severity = "Violation"
)

// Severities lists the standard tiers from least to most severe.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityViolation}

// Conforms reports whether an entity with a result of this severity still
// conforms. Only the top tier fails conformance.
func (s Severity) Conforms() bool {
	return s != SeverityViolation
}

// Record is one attributed terminal result.
type Record struct {
	// Source identifies the top-level entity: "Id: <id>" or "Position: <n>".
	Source string `json:"source"`

	// Message is the result message, or "-" when the result had none.
	Message string `json:"message"`

	// Path is the dotted property path from the entity to the offending
	// value, such as ".actor.name".
	Path string `json:"path"`

	// Value is the offending value coerced to its literal type.
	Value string `json:"value"`

	Severity Severity `json:"severity"`
}

// Bucket counts results of one severity and the distinct entities they came
// from.
type Bucket struct {
	Count    int `json:"count"`
	Entities int `json:"entities"`
}

// Aggregate maps each severity to its bucket. The three standard severities
// are always present; any other severity seen gets its own bucket.
type Aggregate map[Severity]Bucket

// Summary maps entity type to its aggregate.
type Summary map[string]Aggregate

// Summarize computes the per-type, per-severity summary of records. The result
// depends only on the multiset of records, not on their order.
func Summarize(records map[string][]Record) Summary {
	summary := make(Summary, len(records))
	for typ, recs := range records {
		agg := make(Aggregate, len(Severities))
		entities := make(map[Severity]map[string]struct{})
		for _, s := range Severities {
			agg[s] = Bucket{}
			entities[s] = make(map[string]struct{})
		}

		for _, r := range recs {
			b := agg[r.Severity]
			b.Count++
			agg[r.Severity] = b
			if entities[r.Severity] == nil {
				entities[r.Severity] = make(map[string]struct{})
			}
			entities[r.Severity][r.Source] = struct{}{}
		}

		for s, set := range entities {
			b := agg[s]
			b.Entities = len(set)
			agg[s] = b
		}
		summary[typ] = agg
	}
	return summary
}

// Report is the outcome of validating a stream of entities.
type Report struct {
	// Types lists every entity type seen, sorted.
	Types []string `json:"types"`

	// Records holds the attributed records per type in attribution order.
	Records map[string][]Record `json:"records"`

	// Summary aggregates Records.
	Summary Summary `json:"summary"`

	// Totals counts entities validated per type.
	Totals map[string]int `json:"totals"`

	GeneratedAt time.Time `json:"generated_at"`
}

// New builds a Report from per-type records and totals. The maps are copied.
func New(records map[string][]Record, totals map[string]int, at time.Time) *Report {
	r := &Report{
		Records:     make(map[string][]Record, len(records)),
		Totals:      make(map[string]int, len(totals)),
		GeneratedAt: at.UTC(),
	}
	seen := make(map[string]struct{})
	for typ, recs := range records {
		r.Records[typ] = append([]Record{}, recs...)
		seen[typ] = struct{}{}
	}
	for typ, n := range totals {
		r.Totals[typ] = n
		seen[typ] = struct{}{}
	}
	for typ := range seen {
		if _, ok := r.Records[typ]; !ok {
			r.Records[typ] = []Record{}
		}
		r.Types = append(r.Types, typ)
	}
	sort.Strings(r.Types)
	r.Summary = Summarize(r.Records)
	return r
}

// Count returns the number of records of severity s across all types.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, agg := range r.Summary {
		n += agg[s].Count
	}
	return n
}

// Entities returns the number of entities validated across all types.
func (r *Report) Entities() int {
	n := 0
	for _, t := range r.Totals {
		n += t
	}
	return n
}
