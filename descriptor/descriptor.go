// Package descriptor holds the schema descriptor that drives encoding: a table
// from type name to TypeEntry describing the entry's category, its ordered
// field list and, for enumerations, its value table.
//
// Descriptors are normally produced by a schema generator and loaded from a
// JSON file in the generator's format (see LoadJSON), or from an equivalent
// YAML document (see LoadYAML).
package descriptor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zero-day-ai/ldfeed/feederr"
)

// Category is the closed set of roles a TypeEntry can play.
type Category int

const (
	// CategoryUnknown is the zero value and never valid in a loaded descriptor.
	CategoryUnknown Category = iota
	// CategoryClass is an entity type with named fields and an identity slot.
	CategoryClass
	// CategoryProperty is a typed union: exactly one alternative holds the value.
	CategoryProperty
	// CategoryEnumWrapper is an enumeration: a bare selector or a class payload.
	CategoryEnumWrapper
	// CategoryDate is a calendar date {year, month, day}.
	CategoryDate
	// CategoryTime is a wall-clock time with an optional offset.
	CategoryTime
	// CategoryDateTime is a Date and a Time.
	CategoryDateTime
	// CategoryDuration is a length of time in seconds.
	CategoryDuration
	// CategoryQuantitative is a value with a unit, such as a mass or distance.
	CategoryQuantitative
	// CategoryPrimitive is a scalar passed through unchanged.
	CategoryPrimitive
)

// IdentityField is the field name designating a Class entry's identity slot.
const IdentityField = "@id"

var categoryNames = map[Category]string{
	CategoryClass:        "Class",
	CategoryProperty:     "Property",
	CategoryEnumWrapper:  "EnumWrapper",
	CategoryDate:         "DatatypeDate",
	CategoryTime:         "DatatypeTime",
	CategoryDateTime:     "DatatypeDateTime",
	CategoryDuration:     "DatatypeDuration",
	CategoryQuantitative: "DatatypeQuantitative",
	CategoryPrimitive:    "Primitive",
}

// String returns the category name as written in descriptor files.
func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "Unknown"
}

// IsDatatype reports whether the category is one of the structured datatypes.
func (c Category) IsDatatype() bool {
	switch c {
	case CategoryDate, CategoryTime, CategoryDateTime, CategoryDuration, CategoryQuantitative:
		return true
	}
	return false
}

// ParseCategory maps a descriptor category name to a Category. The misspelled
// "DatatypeQuantitaive" written by older generators is accepted.
func ParseCategory(s string) (Category, bool) {
	if s == "DatatypeQuantitaive" {
		return CategoryQuantitative, true
	}
	for c, name := range categoryNames {
		if name == s {
			return c, true
		}
	}
	return CategoryUnknown, false
}

// TypeEntry describes one named type.
type TypeEntry struct {
	// Name is the key the entry is registered under.
	Name string

	// Category decides how nodes of this type are encoded.
	Category Category

	// Tag is the document-facing type name written as "@type" for Class
	// entries. It defaults to Name.
	Tag string

	// Fields is the ordered field list. For Class entries each name other
	// than IdentityField is both the document key and the type of its
	// children. For Property entries each name is an alternative's type. For
	// EnumWrapper entries the second field is the payload Class type.
	Fields []string

	// Values is the enumeration value table, indexed by selector.
	Values []string
}

// PayloadType returns the Class type of an EnumWrapper entry's payload.
func (e TypeEntry) PayloadType() string {
	if e.Category != CategoryEnumWrapper || len(e.Fields) < 2 {
		return ""
	}
	return e.Fields[1]
}

// HasField reports whether name is one of the entry's declared fields.
func (e TypeEntry) HasField(name string) bool {
	for _, f := range e.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Descriptor maps type names to entries. A Descriptor is immutable once
// loaded and safe for concurrent reads.
type Descriptor struct {
	entries map[string]TypeEntry
}

// New creates a descriptor from the given entries. It fails on duplicate or
// empty names but does not check references; call Validate for that.
func New(entries ...TypeEntry) (*Descriptor, error) {
	d := &Descriptor{entries: make(map[string]TypeEntry, len(entries))}
	for _, e := range entries {
		if err := d.add(e); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// MustNew is like New but panics on error. It is intended for descriptors
// declared in code.
func MustNew(entries ...TypeEntry) *Descriptor {
	d, err := New(entries...)
	if err != nil {
		panic(err)
	}
	if err := d.Validate(); err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor) add(e TypeEntry) error {
	if e.Name == "" {
		return feederr.SchemaLoad("descriptor.New", fmt.Errorf("entry with empty name"))
	}
	if _, exists := d.entries[e.Name]; exists {
		return feederr.SchemaLoad("descriptor.New", fmt.Errorf("duplicate entry %q", e.Name))
	}
	if e.Category == CategoryClass && e.Tag == "" {
		e.Tag = e.Name
	}
	e.Fields = append([]string(nil), e.Fields...)
	e.Values = append([]string(nil), e.Values...)
	d.entries[e.Name] = e
	return nil
}

// Lookup returns the entry registered under name.
func (d *Descriptor) Lookup(name string) (TypeEntry, bool) {
	if d == nil {
		return TypeEntry{}, false
	}
	e, ok := d.entries[name]
	return e, ok
}

// Names returns all registered type names in sorted order.
func (d *Descriptor) Names() []string {
	names := make([]string, 0, len(d.entries))
	for n := range d.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (d *Descriptor) Len() int {
	return len(d.entries)
}

// Validate checks that every non-Primitive entry's field types resolve within
// the descriptor, so that recursive encoding always terminates at a Primitive
// or datatype. All dangling references are reported in one error.
func (d *Descriptor) Validate() error {
	var problems []string

	for _, name := range d.Names() {
		e := d.entries[name]
		switch e.Category {
		case CategoryClass:
			for _, f := range e.Fields {
				if f == IdentityField {
					continue
				}
				if _, ok := d.entries[f]; !ok {
					problems = append(problems, fmt.Sprintf("%s.%s: unresolved field type", name, f))
				}
			}
		case CategoryProperty:
			if len(e.Fields) == 0 {
				problems = append(problems, fmt.Sprintf("%s: property without alternatives", name))
			}
			for _, f := range e.Fields {
				if _, ok := d.entries[f]; !ok {
					problems = append(problems, fmt.Sprintf("%s.%s: unresolved alternative type", name, f))
				}
			}
		case CategoryEnumWrapper:
			if len(e.Fields) != 2 {
				problems = append(problems, fmt.Sprintf("%s: enum wrapper needs exactly 2 fields, has %d", name, len(e.Fields)))
				continue
			}
			payload, ok := d.entries[e.Fields[1]]
			if !ok {
				problems = append(problems, fmt.Sprintf("%s.%s: unresolved payload type", name, e.Fields[1]))
			} else if payload.Category != CategoryClass {
				problems = append(problems, fmt.Sprintf("%s.%s: payload must be a Class, is %s", name, e.Fields[1], payload.Category))
			}
		case CategoryUnknown:
			problems = append(problems, fmt.Sprintf("%s: unknown category", name))
		}
	}

	if len(problems) > 0 {
		return feederr.SchemaLoad("descriptor.Validate", fmt.Errorf("%d unresolved references: %s",
			len(problems), strings.Join(problems, "; ")))
	}
	return nil
}
