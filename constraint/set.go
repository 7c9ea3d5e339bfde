// Package constraint checks JSON-LD documents against a set of shapes and
// reports the outcome as a result graph in the SHACL validation report
// vocabulary.
//
// Shapes are declared in YAML:
//
//	shapes:
//	  - name: MovieShape
//	    targetClass: Movie
//	    properties:
//	      - path: name
//	        datatype: string
//	        minCount: 1
//	        message: Movie name must be text
//	      - path: actor
//	        node: PersonShape
//	        severity: Warning
//	      - path: duration
//	        expr: value.startsWith("PT")
//
// Each property constraint may combine several checks; every failing check
// produces one result carrying the property's severity and message.
package constraint

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/ldfeed/resultgraph"
)

// Vocabulary is the namespace that document keys are resolved against when
// written as result paths.
const Vocabulary = "http://schema.org/"

// Set is a parsed constraint set.
type Set struct {
	Shapes []Shape `yaml:"shapes"`
}

// Shape groups property constraints applied to one kind of object.
type Shape struct {
	// Name identifies the shape for node references.
	Name string `yaml:"name"`

	// TargetClass selects objects by "@type". A shape without a target class
	// only applies through node references.
	TargetClass string `yaml:"targetClass,omitempty"`

	Properties []Property `yaml:"properties"`
}

// Property constrains the values of one document key.
type Property struct {
	Path string `yaml:"path"`

	// Datatype is one of string, integer, double, number or boolean.
	Datatype string `yaml:"datatype,omitempty"`

	MinCount *int `yaml:"minCount,omitempty"`
	MaxCount *int `yaml:"maxCount,omitempty"`

	MinLength *int `yaml:"minLength,omitempty"`
	MaxLength *int `yaml:"maxLength,omitempty"`

	MinInclusive *float64 `yaml:"minInclusive,omitempty"`
	MaxInclusive *float64 `yaml:"maxInclusive,omitempty"`

	Pattern string `yaml:"pattern,omitempty"`

	// In lists the allowed values, compared by their string form.
	In []string `yaml:"in,omitempty"`

	// Class requires each value to be an object with this "@type".
	Class string `yaml:"class,omitempty"`

	// Node requires each value to be an object conforming to the named shape.
	Node string `yaml:"node,omitempty"`

	// Expr is a CEL expression over value and focus that must be true.
	Expr string `yaml:"expr,omitempty"`

	// Severity is Violation, Warning or Info. Defaults to Violation.
	Severity string `yaml:"severity,omitempty"`

	Message string `yaml:"message,omitempty"`

	pattern *regexp.Regexp
}

// SeverityIRI returns the vocabulary IRI of the property's severity.
func (p Property) SeverityIRI() string {
	switch strings.ToLower(p.Severity) {
	case "warning":
		return resultgraph.SeverityWarning
	case "info":
		return resultgraph.SeverityInfo
	default:
		return resultgraph.SeverityViolation
	}
}

// Parse decodes and validates a YAML constraint set. Unknown keys are
// rejected.
func Parse(data []byte) (*Set, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var set Set
	if err := dec.Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to parse constraint set: %w", err)
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

var datatypes = map[string]bool{"string": true, "integer": true, "double": true, "number": true, "boolean": true}

func (s *Set) validate() error {
	if len(s.Shapes) == 0 {
		return fmt.Errorf("constraint set has no shapes")
	}

	names := make(map[string]bool, len(s.Shapes))
	for _, sh := range s.Shapes {
		if sh.Name == "" {
			return fmt.Errorf("shape without name")
		}
		if names[sh.Name] {
			return fmt.Errorf("duplicate shape %q", sh.Name)
		}
		names[sh.Name] = true
	}

	for i := range s.Shapes {
		sh := &s.Shapes[i]
		for j := range sh.Properties {
			p := &sh.Properties[j]
			where := fmt.Sprintf("shape %s property %d", sh.Name, j)
			if p.Path == "" {
				return fmt.Errorf("%s: path is required", where)
			}
			if p.Datatype != "" && !datatypes[p.Datatype] {
				return fmt.Errorf("%s: unknown datatype %q", where, p.Datatype)
			}
			if p.Node != "" && !names[p.Node] {
				return fmt.Errorf("%s: node references unknown shape %q", where, p.Node)
			}
			switch strings.ToLower(p.Severity) {
			case "", "violation", "warning", "info":
			default:
				return fmt.Errorf("%s: unknown severity %q", where, p.Severity)
			}
			if p.Pattern != "" {
				re, err := regexp.Compile(p.Pattern)
				if err != nil {
					return fmt.Errorf("%s: invalid pattern: %w", where, err)
				}
				p.pattern = re
			}
		}
	}
	return nil
}

// Shape returns the shape with the given name.
func (s *Set) Shape(name string) (*Shape, bool) {
	for i := range s.Shapes {
		if s.Shapes[i].Name == name {
			return &s.Shapes[i], true
		}
	}
	return nil, false
}

// Targeting returns the shapes whose target class is typ.
func (s *Set) Targeting(typ string) []*Shape {
	var out []*Shape
	for i := range s.Shapes {
		if s.Shapes[i].TargetClass != "" && s.Shapes[i].TargetClass == typ {
			out = append(out, &s.Shapes[i])
		}
	}
	return out
}
