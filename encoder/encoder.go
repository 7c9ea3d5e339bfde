// Package encoder converts typed node graphs into JSON-LD documents, driven
// entirely by a schema descriptor.
//
// Dispatch is by the descriptor category of the declared type name. Each
// category expects one node variant; any other variant is a malformed node.
//
//	enc := encoder.New(desc)
//	doc, err := enc.Encode(movie, "Movie")
package encoder

import (
	"fmt"
	"strconv"
	"time"

	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/node"
)

const opEncode = "encoder.Encode"

// Datatype kinds reported by IncompleteDatatype errors.
const (
	KindDate         = "Date"
	KindTime         = "Time"
	KindDateTime     = "DateTime"
	KindDuration     = "Duration"
	KindQuantitative = "Quantitative"
)

// Encoder encodes nodes against a descriptor. It holds no mutable state and is
// safe for concurrent use.
type Encoder struct {
	desc *descriptor.Descriptor
}

// New creates an Encoder for desc.
func New(desc *descriptor.Descriptor) *Encoder {
	return &Encoder{desc: desc}
}

// Descriptor returns the descriptor the encoder was built with.
func (e *Encoder) Descriptor() *descriptor.Descriptor {
	return e.desc
}

// Encode converts n, declared as typeName, into a document value: a string,
// bool, number, []any or map[string]any. A nil result with a nil error means
// the value is absent, which happens for a Property or Enum with nothing set.
// The input node is never modified.
func (e *Encoder) Encode(n node.Node, typeName string) (any, error) {
	entry, ok := e.desc.Lookup(typeName)
	if !ok {
		return nil, feederr.MalformedNode(opEncode, "type %q is not in the descriptor", typeName)
	}
	if n == nil {
		return nil, feederr.MalformedNode(opEncode, "%s: nil node", typeName)
	}

	switch entry.Category {
	case descriptor.CategoryPrimitive:
		return encodePrimitive(n, entry)
	case descriptor.CategoryProperty:
		return e.encodeProperty(n, entry)
	case descriptor.CategoryEnumWrapper:
		return e.encodeEnum(n, entry)
	case descriptor.CategoryClass:
		return e.encodeClass(n, entry)
	case descriptor.CategoryDate:
		d, ok := n.(*node.Date)
		if !ok || d == nil {
			return nil, mismatch(entry, n)
		}
		return formatDate(d, KindDate)
	case descriptor.CategoryTime:
		t, ok := n.(*node.Time)
		if !ok || t == nil {
			return nil, mismatch(entry, n)
		}
		return formatTime(t, KindTime)
	case descriptor.CategoryDateTime:
		dt, ok := n.(*node.DateTime)
		if !ok || dt == nil {
			return nil, mismatch(entry, n)
		}
		return formatDateTime(dt)
	case descriptor.CategoryDuration:
		d, ok := n.(*node.Duration)
		if !ok || d == nil {
			return nil, mismatch(entry, n)
		}
		return formatDuration(d)
	case descriptor.CategoryQuantitative:
		q, ok := n.(*node.Quantitative)
		if !ok || q == nil {
			return nil, mismatch(entry, n)
		}
		return formatQuantitative(q)
	default:
		return nil, feederr.MalformedNode(opEncode, "%s: unsupported category %s", entry.Name, entry.Category)
	}
}

// EncodeObject encodes a Class-typed node and returns the resulting object.
func (e *Encoder) EncodeObject(n node.Node, typeName string) (document.Object, error) {
	v, err := e.Encode(n, typeName)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, feederr.MalformedNode(opEncode, "%s: encodes to %T, not an object", typeName, v)
	}
	return obj, nil
}

func mismatch(entry descriptor.TypeEntry, n node.Node) error {
	return feederr.MalformedNode(opEncode, "%s: %s expects a different node than %T", entry.Name, entry.Category, n)
}

func encodePrimitive(n node.Node, entry descriptor.TypeEntry) (any, error) {
	p, ok := n.(node.Primitive)
	if !ok {
		return nil, mismatch(entry, n)
	}
	switch p.Value.(type) {
	case nil:
		return nil, nil
	case string, bool, int, int32, int64, uint32, uint64, float32, float64:
		return p.Value, nil
	default:
		return nil, feederr.MalformedNode(opEncode, "%s: unsupported primitive %T", entry.Name, p.Value)
	}
}

func (e *Encoder) encodeProperty(n node.Node, entry descriptor.TypeEntry) (any, error) {
	p, ok := n.(*node.Property)
	if !ok || p == nil {
		return nil, mismatch(entry, n)
	}
	for alt := range p.Alternatives {
		if !entry.HasField(alt) {
			return nil, feederr.MalformedNode(opEncode, "%s: no alternative named %q", entry.Name, alt)
		}
	}
	for _, alt := range entry.Fields {
		if v, ok := p.Alternatives[alt]; ok && v != nil {
			return e.Encode(v, alt)
		}
	}
	return nil, nil
}

func (e *Encoder) encodeEnum(n node.Node, entry descriptor.TypeEntry) (any, error) {
	en, ok := n.(*node.Enum)
	if !ok || en == nil {
		return nil, mismatch(entry, n)
	}
	if en.Payload != nil {
		return e.Encode(en.Payload, entry.PayloadType())
	}
	sel, ok := en.Selector.Get()
	if !ok {
		return nil, nil
	}
	if sel < 0 || sel >= len(entry.Values) {
		return nil, feederr.MalformedNode(opEncode, "%s: selector %d outside value table of %d", entry.Name, sel, len(entry.Values))
	}
	return entry.Values[sel], nil
}

func (e *Encoder) encodeClass(n node.Node, entry descriptor.TypeEntry) (any, error) {
	c, ok := n.(*node.Class)
	if !ok || c == nil {
		return nil, mismatch(entry, n)
	}
	if !c.Populated() {
		return nil, feederr.MalformedNode(opEncode, "%s: class node has no populated slot", entry.Name)
	}
	for field := range c.Slots {
		if field == descriptor.IdentityField || !entry.HasField(field) {
			return nil, feederr.MalformedNode(opEncode, "%s: no field named %q", entry.Name, field)
		}
	}
	if c.ID.Set && !entry.HasField(descriptor.IdentityField) {
		return nil, feederr.MalformedNode(opEncode, "%s: identity set but type has no identity slot", entry.Name)
	}

	out := map[string]any{document.KeyType: entry.Tag}
	for _, field := range entry.Fields {
		if field == descriptor.IdentityField {
			if id, ok := c.ID.Get(); ok {
				out[document.KeyID] = id
			}
			continue
		}

		children := c.Slots[field]
		values := make([]any, 0, len(children))
		for _, child := range children {
			v, err := e.Encode(child, field)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			values = append(values, v)
		}

		switch len(values) {
		case 0:
		case 1:
			out[field] = values[0]
		default:
			out[field] = values
		}
	}
	return out, nil
}

func formatDate(d *node.Date, kind string) (string, error) {
	year, yok := d.Year.Get()
	month, mok := d.Month.Get()
	day, dok := d.Day.Get()
	if !yok || !mok || !dok {
		return "", feederr.IncompleteDatatype(opEncode, kind)
	}
	if year < 0 || year > 9999 || month < 1 || month > 12 || day < 1 || day > 31 {
		return "", feederr.MalformedNode(opEncode, "%s: %d-%d-%d is not a calendar date", kind, year, month, day)
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
}

func formatTime(t *node.Time, kind string) (string, error) {
	hour, hok := t.Hour.Get()
	minute, mok := t.Minute.Get()
	second, sok := t.Second.Get()
	if !hok || !mok || !sok {
		return "", feederr.IncompleteDatatype(opEncode, kind)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return "", feederr.MalformedNode(opEncode, "%s: %d:%d:%d is not a time of day", kind, hour, minute, second)
	}

	s := fmt.Sprintf("%02d:%02d:%02d", hour, minute, second)
	if tz, ok := t.Timezone.Get(); ok && tz != "" {
		if _, err := time.Parse("Z07:00", tz); err != nil {
			return "", feederr.UnresolvedTimezone(opEncode, tz, err)
		}
		s += tz
	}
	return s, nil
}

func formatDateTime(dt *node.DateTime) (string, error) {
	if dt.Date == nil || dt.Time == nil {
		return "", feederr.IncompleteDatatype(opEncode, KindDateTime)
	}
	date, err := formatDate(dt.Date, KindDateTime)
	if err != nil {
		return "", err
	}
	tm, err := formatTime(dt.Time, KindDateTime)
	if err != nil {
		return "", err
	}
	return date + "T" + tm, nil
}

// formatDuration writes seconds as an ISO-8601 duration with unbounded hours,
// so 100456123 seconds is PT27904H28M43S. Zero components are omitted and an
// explicit zero is PT0S.
func formatDuration(d *node.Duration) (string, error) {
	secs, ok := d.Seconds.Get()
	if !ok {
		return "", feederr.IncompleteDatatype(opEncode, KindDuration)
	}

	sign := ""
	abs := uint64(secs)
	if secs < 0 {
		sign = "-"
		abs = uint64(-(secs + 1)) + 1
	}
	if abs == 0 {
		return "PT0S", nil
	}

	h, m, s := abs/3600, (abs%3600)/60, abs%60
	out := sign + "PT"
	if h > 0 {
		out += strconv.FormatUint(h, 10) + "H"
	}
	if m > 0 {
		out += strconv.FormatUint(m, 10) + "M"
	}
	if s > 0 {
		out += strconv.FormatUint(s, 10) + "S"
	}
	return out, nil
}

func formatQuantitative(q *node.Quantitative) (string, error) {
	value, vok := q.Value.Get()
	unit, uok := q.Unit.Get()
	if !vok || !uok || unit == "" {
		return "", feederr.IncompleteDatatype(opEncode, KindQuantitative)
	}
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + unit, nil
}
