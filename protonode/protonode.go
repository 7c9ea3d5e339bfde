// Package protonode builds typed nodes from protobuf messages generated for a
// schema.org release, so they can be passed to the encoder.
//
// Messages are matched to descriptor entries by their short name and read
// with protoreflect, so no generated code is required. The expected message
// layouts are:
//
//   - Class: an optional string "id" field and one repeated message field per
//     property, whose JSON name is the property name.
//   - Property: one field per alternative (usually a oneof), named after the
//     alternative type in snake case.
//   - EnumWrapper: an enum field selecting a value (0 means unset) followed by a
//     message field holding a class payload.
//   - Date {year, month, day}, Time {hours, minutes, seconds, timezone},
//     DateTime {date, time}, Duration {seconds} and Quantitative {value, unit}.
package protonode

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/node"
)

// Converter converts messages according to a descriptor.
type Converter struct {
	desc *descriptor.Descriptor
}

// New creates a converter for desc.
func New(desc *descriptor.Descriptor) *Converter {
	return &Converter{desc: desc}
}

// Convert returns the node for msg and the type name to encode it as.
func (c *Converter) Convert(msg proto.Message) (node.Node, string, error) {
	if msg == nil {
		return nil, "", fmt.Errorf("proto message is nil")
	}
	refl := msg.ProtoReflect()
	typeName := string(refl.Descriptor().Name())
	n, err := c.convert(refl, typeName)
	if err != nil {
		return nil, "", err
	}
	return n, typeName, nil
}

func (c *Converter) convert(msg protoreflect.Message, typeName string) (node.Node, error) {
	entry, ok := c.desc.Lookup(typeName)
	if !ok {
		return nil, feederr.MalformedNode("protonode.Convert", "message %s has no descriptor entry", typeName)
	}

	switch entry.Category {
	case descriptor.CategoryClass:
		return c.convertClass(msg, entry)
	case descriptor.CategoryProperty:
		return c.convertProperty(msg, entry)
	case descriptor.CategoryEnumWrapper:
		return c.convertEnum(msg, entry)
	case descriptor.CategoryDate:
		return convertDate(msg), nil
	case descriptor.CategoryTime:
		return convertTime(msg), nil
	case descriptor.CategoryDateTime:
		dt := &node.DateTime{Date: &node.Date{}, Time: &node.Time{}}
		if fd, ok := field(msg, "date"); ok && msg.Has(fd) {
			dt.Date = convertDate(msg.Get(fd).Message())
		}
		if fd, ok := field(msg, "time"); ok && msg.Has(fd) {
			dt.Time = convertTime(msg.Get(fd).Message())
		}
		return dt, nil
	case descriptor.CategoryDuration:
		d := &node.Duration{}
		if v, ok := intField(msg, "seconds"); ok {
			d.Seconds = node.Of(v)
		}
		return d, nil
	case descriptor.CategoryQuantitative:
		q := &node.Quantitative{}
		if fd, ok := field(msg, "value"); ok && msg.Has(fd) {
			q.Value = node.Of(msg.Get(fd).Float())
		}
		if fd, ok := field(msg, "unit"); ok && msg.Has(fd) {
			q.Unit = node.Of(msg.Get(fd).String())
		}
		return q, nil
	default:
		return nil, feederr.MalformedNode("protonode.Convert", "message %s maps to %s, which is not a message category", typeName, entry.Category)
	}
}

func (c *Converter) convertClass(msg protoreflect.Message, entry descriptor.TypeEntry) (node.Node, error) {
	cls := node.NewClass()
	fields := msg.Descriptor().Fields()

	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !msg.Has(fd) {
			continue
		}

		if fd.Name() == "id" && fd.Kind() == protoreflect.StringKind {
			if id := msg.Get(fd).String(); id != "" {
				cls.WithID(id)
			}
			continue
		}

		slot := fd.JSONName()
		if !entry.HasField(slot) {
			return nil, feederr.MalformedNode("protonode.Convert", "field %s is not a property of %s", slot, entry.Name)
		}
		if fd.Kind() != protoreflect.MessageKind {
			return nil, feederr.MalformedNode("protonode.Convert", "property %s of %s is not a message", slot, entry.Name)
		}

		if fd.IsList() {
			list := msg.Get(fd).List()
			for j := 0; j < list.Len(); j++ {
				child, err := c.convert(list.Get(j).Message(), slot)
				if err != nil {
					return nil, fmt.Errorf("%s.%s[%d]: %w", entry.Name, slot, j, err)
				}
				cls.Add(slot, child)
			}
			continue
		}
		child, err := c.convert(msg.Get(fd).Message(), slot)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entry.Name, slot, err)
		}
		cls.Add(slot, child)
	}

	return cls, nil
}

func (c *Converter) convertProperty(msg protoreflect.Message, entry descriptor.TypeEntry) (node.Node, error) {
	prop := &node.Property{Alternatives: make(map[string]node.Node)}
	fields := msg.Descriptor().Fields()

	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !msg.Has(fd) {
			continue
		}

		alt := alternative(entry, fd)
		if alt == "" {
			return nil, feederr.MalformedNode("protonode.Convert", "field %s matches no alternative of %s", fd.Name(), entry.Name)
		}

		if fd.Kind() == protoreflect.MessageKind {
			child, err := c.convert(msg.Get(fd).Message(), alt)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", entry.Name, alt, err)
			}
			prop.Set(alt, child)
			continue
		}

		v, err := scalar(fd, msg.Get(fd))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entry.Name, alt, err)
		}
		prop.Set(alt, v)
	}

	return prop, nil
}

func (c *Converter) convertEnum(msg protoreflect.Message, entry descriptor.TypeEntry) (node.Node, error) {
	fields := msg.Descriptor().Fields()
	if fields.Len() == 0 {
		return nil, feederr.MalformedNode("protonode.Convert", "enumeration %s has no fields", entry.Name)
	}

	e := &node.Enum{}
	sel := fields.Get(0)
	if sel.Kind() == protoreflect.EnumKind && msg.Has(sel) {
		if n := int(msg.Get(sel).Enum()); n != 0 {
			e.Selector = node.Of(n)
			return e, nil
		}
	}

	if fields.Len() > 1 {
		fd := fields.Get(1)
		if fd.Kind() == protoreflect.MessageKind && msg.Has(fd) {
			payload, err := c.convert(msg.Get(fd).Message(), entry.PayloadType())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", entry.Name, err)
			}
			cls, ok := payload.(*node.Class)
			if !ok {
				return nil, feederr.MalformedNode("protonode.Convert", "payload of %s is not a class", entry.Name)
			}
			e.Payload = cls
		}
	}
	return e, nil
}

func convertDate(msg protoreflect.Message) *node.Date {
	d := &node.Date{}
	if v, ok := intField(msg, "year"); ok {
		d.Year = node.Of(int(v))
	}
	if v, ok := intField(msg, "month"); ok {
		d.Month = node.Of(int(v))
	}
	if v, ok := intField(msg, "day"); ok {
		d.Day = node.Of(int(v))
	}
	return d
}

func convertTime(msg protoreflect.Message) *node.Time {
	t := &node.Time{}
	if v, ok := intField(msg, "hours"); ok {
		t.Hour = node.Of(int(v))
	}
	if v, ok := intField(msg, "minutes"); ok {
		t.Minute = node.Of(int(v))
	}
	if v, ok := intField(msg, "seconds"); ok {
		t.Second = node.Of(int(v))
	}
	if fd, ok := field(msg, "timezone"); ok && msg.Has(fd) {
		t.Timezone = node.Of(msg.Get(fd).String())
	}
	return t
}

func field(msg protoreflect.Message, name protoreflect.Name) (protoreflect.FieldDescriptor, bool) {
	fd := msg.Descriptor().Fields().ByName(name)
	return fd, fd != nil
}

// intField reads a set integer field. Fields without presence that hold zero
// read as unset.
func intField(msg protoreflect.Message, name protoreflect.Name) (int64, bool) {
	fd, ok := field(msg, name)
	if !ok || !msg.Has(fd) {
		return 0, false
	}
	switch fd.Kind() {
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind, protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return int64(msg.Get(fd).Uint()), true
	default:
		return msg.Get(fd).Int(), true
	}
}

// alternative returns the Property alternative a field stores: the message
// name for message fields, otherwise the entry field matching the field name
// with underscores removed, ignoring case.
func alternative(entry descriptor.TypeEntry, fd protoreflect.FieldDescriptor) string {
	if fd.Kind() == protoreflect.MessageKind {
		name := string(fd.Message().Name())
		if entry.HasField(name) {
			return name
		}
	}
	want := strings.ReplaceAll(string(fd.Name()), "_", "")
	for _, f := range entry.Fields {
		if strings.EqualFold(f, want) {
			return f
		}
	}
	return ""
}

// scalar converts a scalar field value to a Primitive.
func scalar(fd protoreflect.FieldDescriptor, v protoreflect.Value) (node.Primitive, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		return node.Text(v.String()), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return node.Int(v.Int()), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind, protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return node.Int(int64(v.Uint())), nil
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return node.Float(v.Float()), nil
	case protoreflect.BoolKind:
		return node.Bool(v.Bool()), nil
	default:
		return node.Primitive{}, fmt.Errorf("unsupported field kind: %v", fd.Kind())
	}
}
