// Package document works with encoded JSON-LD documents: loosely-typed trees
// of map[string]any objects, []any lists and scalars.
//
// Objects produced by the encoder always carry "@type" and carry "@id" only
// when the source entity had an identity. Keys are written in lexicographic
// order by encoding/json, so "@id" and "@type" lead.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Reserved keys.
const (
	KeyID      = "@id"
	KeyType    = "@type"
	KeyContext = "@context"
)

// RootMarker is the identity assigned to the root object of a document before
// it is checked, so that results about the root can be told apart from
// results about nested objects.
const RootMarker = "urn:ldfeed:start-node"

// Object is a document object.
type Object = map[string]any

// TypeOf returns the "@type" of obj, or "" when absent or not a string.
func TypeOf(obj Object) string {
	s, _ := obj[KeyType].(string)
	return s
}

// IDOf returns the "@id" of obj and whether it is present.
func IDOf(obj Object) (string, bool) {
	s, ok := obj[KeyID].(string)
	return s, ok
}

// Clone returns a deep copy of a document value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}

// IDGenerator returns fresh identities for nested objects.
type IDGenerator func() string

// UUIDGenerator returns a random UUID string.
func UUIDGenerator() string {
	return uuid.NewString()
}

// AssignIdentities returns a deep copy of obj whose root "@id" is root and
// whose nested objects carry fresh "urn:uuid:" identities from gen, replacing
// any they had. The input is not modified. A nil gen uses UUIDGenerator.
func AssignIdentities(obj Object, root string, gen IDGenerator) Object {
	if gen == nil {
		gen = UUIDGenerator
	}
	out := Clone(obj).(map[string]any)
	for k, v := range out {
		if k == KeyID {
			continue
		}
		assignNested(v, gen)
	}
	out[KeyID] = root
	return out
}

func assignNested(v any, gen IDGenerator) {
	switch t := v.(type) {
	case map[string]any:
		t[KeyID] = "urn:uuid:" + gen()
		for k, child := range t {
			if k == KeyID {
				continue
			}
			assignNested(child, gen)
		}
	case []any:
		for _, child := range t {
			assignNested(child, gen)
		}
	}
}

// Decode reads one JSON document from r. Numbers are decoded as json.Number so
// integer values survive unchanged.
func Decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return v, nil
}

// DecodeObjects reads a stream of JSON values from r and calls fn with each
// object. A top-level array is expanded into its elements. Non-object values
// are an error.
func DecodeObjects(r io.Reader, fn func(Object) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	for i := 0; ; i++ {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode document %d: %w", i, err)
		}

		items := []any{v}
		if list, ok := v.([]any); ok {
			items = list
		}
		for j, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("document %d item %d: expected object, got %T", i, j, item)
			}
			if err := fn(obj); err != nil {
				return err
			}
		}
	}
}

// Marshal encodes a document value with the given indent. An empty indent
// produces compact output. HTML characters are not escaped.
func Marshal(v any, prefix, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent(prefix, indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
