// Package validator checks a stream of JSON-LD entities against a constraint
// set and accumulates attributed violation records until it is closed.
//
// A Validator is not safe for concurrent use: AddEntity calls must be
// serialized by the caller. Each entity is checked on its own and produces its
// own result graph.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/ldfeed/attribution"
	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/resultgraph"
)

// Container types whose members are validated individually.
const (
	TypeItemList = "ItemList"
	TypeDataFeed = "DataFeed"
	TypeListItem = "ListItem"

	KeyItemListElement = "itemListElement"
	KeyDataFeedElement = "dataFeedElement"
	KeyItem            = "item"
)

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithTracer sets the tracer used for per-entity spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(v *Validator) {
		v.tracer = tracer
	}
}

// WithMeter sets the meter used for entity and violation counters.
func WithMeter(meter metric.Meter) Option {
	return func(v *Validator) {
		v.meter = meter
	}
}

// WithIDGenerator sets the generator for nested object identities. Defaults to
// random UUIDs.
func WithIDGenerator(gen document.IDGenerator) Option {
	return func(v *Validator) {
		v.gen = gen
	}
}

// WithClock sets the clock stamped on the final report.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

type state int

const (
	stateOpen state = iota
	stateClosed
)

// Validator accumulates violation records across AddEntity calls.
type Validator struct {
	checker constraint.Checker
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	gen     document.IDGenerator
	now     func() time.Time

	entities   metric.Int64Counter
	violations metric.Int64Counter

	state    state
	position int
	records  map[string][]report.Record
	totals   map[string]int
}

// New creates an open validator backed by checker. The checker must already
// have its constraint set loaded.
func New(checker constraint.Checker, opts ...Option) (*Validator, error) {
	if checker == nil {
		return nil, fmt.Errorf("checker cannot be nil")
	}

	v := &Validator{
		checker: checker,
		logger:  slog.Default(),
		tracer:  tracenoop.NewTracerProvider().Tracer("ldfeed"),
		meter:   metricnoop.NewMeterProvider().Meter("ldfeed"),
		gen:     document.UUIDGenerator,
		now:     time.Now,
		records: make(map[string][]report.Record),
		totals:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(v)
	}

	var err error
	v.entities, err = v.meter.Int64Counter(
		"ldfeed.entities",
		metric.WithDescription("Number of entities validated"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create entities counter: %w", err)
	}
	v.violations, err = v.meter.Int64Counter(
		"ldfeed.violations",
		metric.WithDescription("Number of attributed validation results"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create violations counter: %w", err)
	}

	return v, nil
}

// AddEntity validates doc and records its violations. Containers (ItemList
// and DataFeed) are not validated themselves: each member is validated as its
// own entity and the container conforms when every member does. A member that
// fails to check does not stop the remaining members; the errors are joined.
//
// doc is not modified.
func (v *Validator) AddEntity(ctx context.Context, doc document.Object) (bool, error) {
	if v.state == stateClosed {
		return false, feederr.Sequence("validator.AddEntity", "validator has already been closed")
	}
	return v.add(ctx, doc)
}

func (v *Validator) add(ctx context.Context, doc document.Object) (bool, error) {
	typ := document.TypeOf(doc)

	switch typ {
	case TypeItemList:
		return v.addMembers(ctx, doc, KeyItemListElement, func(el any) (document.Object, bool) {
			li, ok := el.(document.Object)
			if !ok {
				return nil, false
			}
			item, ok := li[KeyItem].(document.Object)
			return item, ok
		})
	case TypeDataFeed:
		return v.addMembers(ctx, doc, KeyDataFeedElement, func(el any) (document.Object, bool) {
			item, ok := el.(document.Object)
			return item, ok
		})
	case "":
		return false, feederr.MalformedNode("validator.AddEntity", "entity has no @type")
	}

	return v.addOne(ctx, doc, typ)
}

func (v *Validator) addMembers(ctx context.Context, doc document.Object, key string, member func(any) (document.Object, bool)) (bool, error) {
	var elements []any
	switch t := doc[key].(type) {
	case []any:
		elements = t
	case nil:
	default:
		elements = []any{t}
	}

	conforms := true
	var errs []error
	for i, el := range elements {
		item, ok := member(el)
		if !ok {
			errs = append(errs, feederr.MalformedNode("validator.AddEntity",
				"%s element %d is not an entity", key, i))
			conforms = false
			continue
		}
		c, err := v.add(ctx, item)
		if err != nil {
			errs = append(errs, err)
		}
		conforms = conforms && c
	}
	return conforms, errors.Join(errs...)
}

func (v *Validator) addOne(ctx context.Context, doc document.Object, typ string) (conforms bool, err error) {
	if _, ok := v.records[typ]; !ok {
		v.records[typ] = []report.Record{}
	}
	v.totals[typ]++
	v.position++

	source := "Position: " + strconv.Itoa(v.position)
	if id, ok := document.IDOf(doc); ok {
		source = "Id: " + id
	}

	ctx, span := v.tracer.Start(ctx, "ldfeed.validate", trace.WithAttributes(
		attribute.String("entity.type", typ),
		attribute.String("entity.source", source),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	checked := document.AssignIdentities(doc, document.RootMarker, v.gen)
	g, err := v.checker.Check(ctx, checked)
	if err != nil {
		v.logger.Warn("failed to check entity",
			"component", "validator",
			"type", typ,
			"source", source,
			"error", err)
		return false, fmt.Errorf("check %s: %w", source, err)
	}

	conforms, records := attribution.Attribute(g, resultgraph.IRI(document.RootMarker), source)
	v.records[typ] = append(v.records[typ], records...)

	for _, r := range records {
		v.logger.Debug("validation result",
			"component", "validator",
			"type", typ,
			"source", r.Source,
			"path", r.Path,
			"severity", string(r.Severity),
			"message", r.Message)
		v.violations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity.type", typ),
			attribute.String("severity", string(r.Severity)),
		))
	}

	span.SetAttributes(
		attribute.Bool("entity.conforms", conforms),
		attribute.Int("violation.count", len(records)),
	)
	v.entities.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity.type", typ),
		attribute.Bool("entity.conforms", conforms),
	))

	return conforms, nil
}

// Reports returns a copy of the records accumulated so far, by entity type.
func (v *Validator) Reports() map[string][]report.Record {
	out := make(map[string][]report.Record, len(v.records))
	for typ, recs := range v.records {
		out[typ] = append([]report.Record{}, recs...)
	}
	return out
}

// Totals returns the number of entities validated so far, by type.
func (v *Validator) Totals() map[string]int {
	out := make(map[string]int, len(v.totals))
	for typ, n := range v.totals {
		out[typ] = n
	}
	return out
}

// Closed reports whether Close has been called.
func (v *Validator) Closed() bool {
	return v.state == stateClosed
}

// Close finalizes the validator and returns its report. Closing twice is a
// sequence error.
func (v *Validator) Close() (*report.Report, error) {
	if v.state == stateClosed {
		return nil, feederr.Sequence("validator.Close", "validator has already been closed")
	}
	v.state = stateClosed

	r := report.New(v.records, v.totals, v.now())
	v.logger.Info("validation finished",
		"component", "validator",
		"entities", r.Entities(),
		"types", len(r.Types),
		"violations", r.Count(report.SeverityViolation),
		"warnings", r.Count(report.SeverityWarning),
		"infos", r.Count(report.SeverityInfo))
	return r, nil
}
