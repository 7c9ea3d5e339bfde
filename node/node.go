// Package node defines the typed object graph consumed by the encoder.
//
// A Node is a closed sum: Class, Property, Enum, Date, Time, DateTime,
// Duration, Quantitative or Primitive. Which variant a given type name expects
// is decided by the descriptor, not by the node itself; the encoder rejects a
// node whose variant does not match its declared category.
//
// Presence is always explicit. Datatype sub-fields use Optional so that a
// literal zero is distinguishable from an unset value.
package node

// Node is implemented by every node variant. The method set is unexported so
// the set of variants is closed to this package.
type Node interface {
	isNode()
}

// Optional is a value with an explicit presence flag.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Of returns a populated Optional.
func Of[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// Class is an entity with an optional identity and ordered field slots. Each
// slot holds zero or more children; slot order comes from the descriptor.
type Class struct {
	ID    Optional[string]
	Slots map[string][]Node
}

// NewClass creates an empty Class node.
func NewClass() *Class {
	return &Class{Slots: make(map[string][]Node)}
}

// WithID sets the identity and returns c.
func (c *Class) WithID(id string) *Class {
	c.ID = Of(id)
	return c
}

// Add appends children to the named slot and returns c.
func (c *Class) Add(field string, children ...Node) *Class {
	if c.Slots == nil {
		c.Slots = make(map[string][]Node)
	}
	c.Slots[field] = append(c.Slots[field], children...)
	return c
}

// Populated reports whether the node carries an identity or any child.
func (c *Class) Populated() bool {
	if c.ID.Set {
		return true
	}
	for _, children := range c.Slots {
		if len(children) > 0 {
			return true
		}
	}
	return false
}

// Property holds one logical value under one of several typed alternatives,
// keyed by alternative type name.
type Property struct {
	Alternatives map[string]Node
}

// NewProperty creates a Property holding value under the alternative typ.
func NewProperty(typ string, value Node) *Property {
	return &Property{Alternatives: map[string]Node{typ: value}}
}

// Set stores value under the alternative typ and returns p.
func (p *Property) Set(typ string, value Node) *Property {
	if p.Alternatives == nil {
		p.Alternatives = make(map[string]Node)
	}
	p.Alternatives[typ] = value
	return p
}

// Enum is either a bare selector into the enumeration's value table or a
// Class-shaped payload. A payload takes precedence.
type Enum struct {
	Selector Optional[int]
	Payload  *Class
}

// EnumValue creates an Enum holding a bare selector.
func EnumValue(selector int) *Enum {
	return &Enum{Selector: Of(selector)}
}

// EnumPayload creates an Enum holding a Class payload.
func EnumPayload(payload *Class) *Enum {
	return &Enum{Payload: payload}
}

// Date is a calendar date. Month and day are 1-based.
type Date struct {
	Year  Optional[int]
	Month Optional[int]
	Day   Optional[int]
}

// NewDate creates a fully populated Date.
func NewDate(year, month, day int) *Date {
	return &Date{Year: Of(year), Month: Of(month), Day: Of(day)}
}

// Time is a wall-clock time with an optional ISO-8601 offset such as "+05:30"
// or "Z".
type Time struct {
	Hour     Optional[int]
	Minute   Optional[int]
	Second   Optional[int]
	Timezone Optional[string]
}

// NewTime creates a populated Time without an offset.
func NewTime(hour, minute, second int) *Time {
	return &Time{Hour: Of(hour), Minute: Of(minute), Second: Of(second)}
}

// In sets the offset and returns t.
func (t *Time) In(offset string) *Time {
	t.Timezone = Of(offset)
	return t
}

// DateTime is a Date and a Time.
type DateTime struct {
	Date *Date
	Time *Time
}

// Duration is a signed length of time in whole seconds.
type Duration struct {
	Seconds Optional[int64]
}

// NewDuration creates a populated Duration.
func NewDuration(seconds int64) *Duration {
	return &Duration{Seconds: Of(seconds)}
}

// Quantitative is a numeric value with a unit, such as 10.5 KG.
type Quantitative struct {
	Value Optional[float64]
	Unit  Optional[string]
}

// NewQuantitative creates a populated Quantitative.
func NewQuantitative(value float64, unit string) *Quantitative {
	return &Quantitative{Value: Of(value), Unit: Of(unit)}
}

// Primitive is a scalar passed through to the document unchanged. Value is a
// string, bool, int64 or float64.
type Primitive struct {
	Value any
}

// Text creates a string Primitive.
func Text(s string) Primitive { return Primitive{Value: s} }

// Int creates an integer Primitive.
func Int(i int64) Primitive { return Primitive{Value: i} }

// Float creates a floating point Primitive.
func Float(f float64) Primitive { return Primitive{Value: f} }

// Bool creates a boolean Primitive.
func Bool(b bool) Primitive { return Primitive{Value: b} }

func (*Class) isNode()        {}
func (*Property) isNode()     {}
func (*Enum) isNode()         {}
func (*Date) isNode()         {}
func (*Time) isNode()         {}
func (*DateTime) isNode()     {}
func (*Duration) isNode()     {}
func (*Quantitative) isNode() {}
func (Primitive) isNode()     {}
