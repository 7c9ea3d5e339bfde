package constraint

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"unicode/utf8"

	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/resultgraph"
)

// asList returns the values stored under a key: nothing for an absent key, the
// elements of a list, or the single value.
func asList(v any, present bool) []any {
	if !present || v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// number returns v as a float64 when it is numeric.
func number(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// checkDatatype reports an error when v is not of the named datatype.
func checkDatatype(datatype string, v any) error {
	switch datatype {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %s", kindOf(v))
		}
	case "integer":
		if n, ok := v.(json.Number); ok {
			if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
				return fmt.Errorf("expected integer, got %s", n)
			}
			return nil
		}
		f, ok := number(v)
		if !ok {
			return fmt.Errorf("expected integer, got %s", kindOf(v))
		}
		if f != float64(int64(f)) {
			return fmt.Errorf("expected integer, got float with decimal: %v", v)
		}
	case "double", "number":
		if _, ok := number(v); !ok {
			return fmt.Errorf("expected number, got %s", kindOf(v))
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %s", kindOf(v))
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case nil:
		return "null"
	}
	if _, ok := number(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

// lexical returns the string form used for pattern, length and in checks.
func lexical(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		if id, ok := document.IDOf(t); ok {
			return id
		}
		return document.TypeOf(t)
	}
	if f, ok := number(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func runeCount(v any) int {
	return utf8.RuneCountInString(lexical(v))
}

// focusTerm returns the graph term identifying obj.
func focusTerm(obj map[string]any) (resultgraph.Term, bool) {
	id, ok := document.IDOf(obj)
	if !ok || id == "" {
		return resultgraph.Term{}, false
	}
	if len(id) > 2 && id[:2] == "_:" {
		return resultgraph.Blank(id[2:]), true
	}
	return resultgraph.IRI(id), true
}

// valueTerm returns the graph term for a document value: objects become their
// identity, scalars typed literals.
func valueTerm(v any) resultgraph.Term {
	switch t := v.(type) {
	case map[string]any:
		if term, ok := focusTerm(t); ok {
			return term
		}
		return resultgraph.Literal(document.TypeOf(t), resultgraph.XSDString)
	case json.Number:
		if _, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return resultgraph.Literal(t.String(), resultgraph.XSDInteger)
		}
		return resultgraph.Literal(t.String(), resultgraph.XSDDouble)
	case float32:
		return resultgraph.LiteralOf(float64(t))
	case int32:
		return resultgraph.LiteralOf(int64(t))
	default:
		return resultgraph.LiteralOf(v)
	}
}

// celValue converts a document value into plain Go values CEL can adapt:
// json.Number becomes int64 or float64, containers are converted deeply.
func celValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = celValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = celValue(child)
		}
		return out
	case int:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
