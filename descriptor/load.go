package descriptor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/ldfeed/feederr"
)

// fileFormat is the on-disk descriptor layout shared by the JSON and YAML
// loaders:
//
//	{
//	  "messages": {
//	    "Movie": {"@type": "Movie", "fields": ["@id", "actor", "name"]},
//	    "name":  {"@type": "Property", "fields": ["Text", "URL"]},
//	    "RsvpResponseType": {"@type": "EnumWrapper",
//	      "fields": ["id", "RsvpResponseTypeClass"],
//	      "values": ["Unknown", "http://schema.org/RsvpResponseYes"]}
//	  },
//	  "primitives": ["Text", "URL", "Integer"]
//	}
//
// A message whose "@type" is not a category name is a Class tagged with that
// value.
type fileFormat struct {
	Messages   map[string]messageEntry `json:"messages" yaml:"messages"`
	Primitives []string                `json:"primitives" yaml:"primitives"`
}

type messageEntry struct {
	Type   string   `json:"@type" yaml:"@type"`
	Fields []string `json:"fields" yaml:"fields"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// LoadJSON reads a descriptor in the generator's JSON format and validates it.
func LoadJSON(r io.Reader) (*Descriptor, error) {
	var ff fileFormat
	if err := json.NewDecoder(r).Decode(&ff); err != nil {
		return nil, feederr.SchemaLoad("descriptor.LoadJSON", fmt.Errorf("failed to decode descriptor: %w", err))
	}
	return fromFile(ff, "descriptor.LoadJSON")
}

// LoadYAML reads a descriptor in the YAML rendition of the generator's format
// and validates it.
func LoadYAML(r io.Reader) (*Descriptor, error) {
	var ff fileFormat
	if err := yaml.NewDecoder(r).Decode(&ff); err != nil {
		return nil, feederr.SchemaLoad("descriptor.LoadYAML", fmt.Errorf("failed to decode descriptor: %w", err))
	}
	return fromFile(ff, "descriptor.LoadYAML")
}

// LoadFile loads a descriptor from path, choosing the format by extension:
// .yaml and .yml are YAML, anything else is JSON.
func LoadFile(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, feederr.SchemaLoad("descriptor.LoadFile", fmt.Errorf("failed to open descriptor %s: %w", path, err))
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return LoadJSON(f)
	}
}

func fromFile(ff fileFormat, op string) (*Descriptor, error) {
	if len(ff.Messages) == 0 && len(ff.Primitives) == 0 {
		return nil, feederr.SchemaLoad(op, fmt.Errorf("descriptor is empty"))
	}

	entries := make([]TypeEntry, 0, len(ff.Messages)+len(ff.Primitives))
	for name, m := range ff.Messages {
		if m.Type == "" {
			return nil, feederr.SchemaLoad(op, fmt.Errorf("message %q has no @type", name))
		}
		entry := TypeEntry{
			Name:   name,
			Fields: m.Fields,
			Values: m.Values,
		}
		cat, ok := ParseCategory(m.Type)
		switch {
		case ok && cat == CategoryClass:
			entry.Category = CategoryClass
			entry.Tag = name
		case ok:
			entry.Category = cat
		default:
			entry.Category = CategoryClass
			entry.Tag = m.Type
		}
		entries = append(entries, entry)
	}

	for _, p := range ff.Primitives {
		if _, dup := ff.Messages[p]; dup {
			return nil, feederr.SchemaLoad(op, fmt.Errorf("primitive %q is also declared as a message", p))
		}
		entries = append(entries, TypeEntry{Name: p, Category: CategoryPrimitive})
	}

	d, err := New(entries...)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
