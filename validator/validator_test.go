package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/resultgraph"
)

const movieConstraints = `
shapes:
  - name: MovieShape
    targetClass: Movie
    properties:
      - path: name
        datatype: string
        message: Movie name must be text
      - path: actor
        node: PersonShape
      - path: creator
        node: CreatorShape
  - name: PersonShape
    properties:
      - path: name
        datatype: string
        severity: Warning
        message: Person name should be text
  - name: CreatorShape
    properties:
      - path: url
        datatype: string
        severity: Info
        message: url should be text
      - path: name
        datatype: string
        severity: Warning
        message: Person name should be text
`

var entities = []string{
	`{"@type":"Movie","@id":"movieid1","name":123}`,
	`{"@type":"Movie","@id":"movieid2","name":"Heat","actor":{"@type":"Person","name":123}}`,
	`{"@type":"Movie","@id":"movieid3","name":"Heat","creator":{"@type":"Person","url":345,"name":123}}`,
}

func newChecker(t *testing.T) *constraint.CELChecker {
	t.Helper()
	c, err := constraint.NewChecker()
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), constraint.BytesSource(movieConstraints)))
	return c
}

func parse(t *testing.T, s string) document.Object {
	t.Helper()
	v, err := document.Decode(strings.NewReader(s))
	require.NoError(t, err)
	return v.(document.Object)
}

func TestAddEntityScenario(t *testing.T) {
	v, err := New(newChecker(t))
	require.NoError(t, err)

	want := []bool{false, true, true}
	for i, e := range entities {
		conforms, err := v.AddEntity(context.Background(), parse(t, e))
		require.NoError(t, err)
		assert.Equal(t, want[i], conforms, "entity %d", i+1)
	}

	assert.Equal(t, map[string][]report.Record{
		"Movie": {
			{Source: "Id: movieid1", Message: "Movie name must be text", Path: ".name", Value: "123", Severity: report.SeverityViolation},
			{Source: "Id: movieid2", Message: "Person name should be text", Path: ".actor.name", Value: "123", Severity: report.SeverityWarning},
			{Source: "Id: movieid3", Message: "url should be text", Path: ".creator.url", Value: "345", Severity: report.SeverityInfo},
			{Source: "Id: movieid3", Message: "Person name should be text", Path: ".creator.name", Value: "123", Severity: report.SeverityWarning},
		},
	}, v.Reports())
	assert.Equal(t, map[string]int{"Movie": 3}, v.Totals())
}

func TestAddEntityOrderIndependent(t *testing.T) {
	forward, err := New(newChecker(t))
	require.NoError(t, err)
	backward, err := New(newChecker(t))
	require.NoError(t, err)

	for i := range entities {
		_, err := forward.AddEntity(context.Background(), parse(t, entities[i]))
		require.NoError(t, err)
		_, err = backward.AddEntity(context.Background(), parse(t, entities[len(entities)-1-i]))
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, forward.Reports()["Movie"], backward.Reports()["Movie"])

	a, err := forward.Close()
	require.NoError(t, err)
	b, err := backward.Close()
	require.NoError(t, err)
	assert.Equal(t, a.Summary, b.Summary)
}

func TestAddEntityContainers(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		conforms bool
		sources  []string
	}{
		{
			name: "item list",
			doc: `{"@type":"ItemList","itemListElement":[
				{"@type":"ListItem","position":1,"item":{"@type":"Movie","name":1}},
				{"@type":"ListItem","position":2,"item":{"@type":"Movie","@id":"m2","name":"ok"}}]}`,
			conforms: false,
			sources:  []string{"Position: 1"},
		},
		{
			name: "data feed",
			doc: `{"@type":"DataFeed","dataFeedElement":[
				{"@type":"Movie","name":"ok"},
				{"@type":"Movie","name":"ok","actor":{"@type":"Person","name":2}}]}`,
			conforms: true,
			sources:  []string{"Position: 2"},
		},
		{
			name: "nested containers",
			doc: `{"@type":"DataFeed","dataFeedElement":{"@type":"ItemList","itemListElement":[
				{"@type":"ListItem","item":{"@type":"Movie","@id":"deep","name":false}}]}}`,
			conforms: false,
			sources:  []string{"Id: deep"},
		},
		{
			name:     "empty list",
			doc:      `{"@type":"ItemList","itemListElement":[]}`,
			conforms: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(newChecker(t))
			require.NoError(t, err)

			conforms, err := v.AddEntity(context.Background(), parse(t, tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.conforms, conforms)

			var sources []string
			for _, r := range v.Reports()["Movie"] {
				sources = append(sources, r.Source)
			}
			assert.Equal(t, tt.sources, sources)
			_, hasContainer := v.Totals()[TypeItemList]
			assert.False(t, hasContainer)
		})
	}
}

func TestAddEntityMalformed(t *testing.T) {
	v, err := New(newChecker(t))
	require.NoError(t, err)

	_, err = v.AddEntity(context.Background(), parse(t, `{"name":"untyped"}`))
	assert.True(t, errors.Is(err, feederr.ErrMalformedNode))

	conforms, err := v.AddEntity(context.Background(), parse(t, `{"@type":"ItemList","itemListElement":[
		{"@type":"ListItem"},
		{"@type":"ListItem","item":{"@type":"Movie","name":"ok"}}]}`))
	assert.False(t, conforms)
	assert.True(t, errors.Is(err, feederr.ErrMalformedNode))
	assert.Equal(t, 1, v.Totals()["Movie"], "remaining members are still validated")
}

func TestAddEntityDoesNotModifyInput(t *testing.T) {
	v, err := New(newChecker(t))
	require.NoError(t, err)

	doc := parse(t, entities[1])
	before := document.Clone(doc)
	_, err = v.AddEntity(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, before, doc)
}

type failingChecker struct {
	calls int
}

func (f *failingChecker) Check(context.Context, document.Object) (*resultgraph.Graph, error) {
	f.calls++
	if f.calls == 1 {
		return nil, fmt.Errorf("engine unavailable")
	}
	return resultgraph.New(), nil
}

func TestAddEntityCheckError(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	v, err := New(&failingChecker{}, WithTracer(tp.Tracer("test")))
	require.NoError(t, err)

	_, err = v.AddEntity(context.Background(), parse(t, `{"@type":"Movie","@id":"a"}`))
	assert.ErrorContains(t, err, "engine unavailable")

	conforms, err := v.AddEntity(context.Background(), parse(t, `{"@type":"Movie","@id":"b"}`))
	require.NoError(t, err)
	assert.True(t, conforms)

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "ldfeed.validate", spans[0].Name)
	assert.Len(t, spans[0].Events, 1, "error recorded")
	assert.Empty(t, spans[1].Events)
}

func TestAddEntitySpanAttributes(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	v, err := New(newChecker(t), WithTracer(tp.Tracer("test")))
	require.NoError(t, err)
	_, err = v.AddEntity(context.Background(), parse(t, entities[2]))
	require.NoError(t, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "Movie", attrs["entity.type"])
	assert.Equal(t, "Id: movieid3", attrs["entity.source"])
	assert.Equal(t, "true", attrs["entity.conforms"])
	assert.Equal(t, "2", attrs["violation.count"])
}

func TestLifecycle(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	v, err := New(newChecker(t), WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	_, err = v.AddEntity(context.Background(), parse(t, entities[0]))
	require.NoError(t, err)

	r, err := v.Close()
	require.NoError(t, err)
	assert.True(t, v.Closed())
	assert.Equal(t, at, r.GeneratedAt)
	assert.Equal(t, report.Bucket{Count: 1, Entities: 1}, r.Summary["Movie"][report.SeverityViolation])

	_, err = v.AddEntity(context.Background(), parse(t, entities[1]))
	assert.True(t, errors.Is(err, feederr.ErrSequence))
	_, err = v.Close()
	assert.True(t, errors.Is(err, feederr.ErrSequence))
}

func TestNewRequiresChecker(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
