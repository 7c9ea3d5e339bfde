package ldfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/feed"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/node"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/sink"
)

const movieShapes = `
shapes:
  - name: MovieShape
    targetClass: Movie
    properties:
      - path: name
        datatype: string
        minCount: 1
        message: Movie name must be text
`

func movieDescriptor() *descriptor.Descriptor {
	return descriptor.MustNew(
		descriptor.TypeEntry{Name: "Movie", Category: descriptor.CategoryClass, Fields: []string{"@id", "name"}},
		descriptor.TypeEntry{Name: "name", Category: descriptor.CategoryProperty, Fields: []string{"Text", "Integer"}},
		descriptor.TypeEntry{Name: "Text", Category: descriptor.CategoryPrimitive},
		descriptor.TypeEntry{Name: "Integer", Category: descriptor.CategoryPrimitive},
	)
}

func TestNewRequiresDescriptor(t *testing.T) {
	_, err := New(context.Background())
	assert.True(t, errors.Is(err, feederr.ErrInvalidConfig))

	_, err = New(context.Background(), WithDescriptor(movieDescriptor()), WithFeedType("Catalog"))
	assert.Error(t, err)
}

func TestNewLoadsConstraints(t *testing.T) {
	p, err := New(context.Background(),
		WithDescriptor(movieDescriptor()),
		WithConstraints(constraint.BytesSource(movieShapes)))
	require.NoError(t, err)
	assert.True(t, p.Validates())
	assert.NotNil(t, p.Encoder())
	assert.Same(t, p.Descriptor(), p.Encoder().Descriptor())

	_, err = New(context.Background(),
		WithDescriptor(movieDescriptor()),
		WithConstraints(constraint.BytesSource("shapes: [")))
	assert.True(t, errors.Is(err, feederr.ErrSchemaLoad))
}

func TestEncodeOnly(t *testing.T) {
	p, err := New(context.Background(), WithDescriptor(movieDescriptor()))
	require.NoError(t, err)
	assert.False(t, p.Validates())

	_, err = p.NewValidator()
	assert.True(t, errors.Is(err, feederr.ErrInvalidConfig))

	var buf bytes.Buffer
	w, err := p.NewFeed(&buf)
	require.NoError(t, err)
	written, err := w.AddItem(context.Background(),
		node.NewClass().WithID("m1").Add("name", node.NewProperty("Integer", node.Int(1))), "Movie")
	require.NoError(t, err)
	assert.True(t, written, "without constraints every item is written")
	r, err := w.Close(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestValidate(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var published []*report.Report
	p, err := New(context.Background(),
		WithDescriptor(movieDescriptor()),
		WithConstraints(constraint.BytesSource(movieShapes)),
		WithClock(func() time.Time { return at }),
		WithSink(sink.Func(func(_ context.Context, r *report.Report) error {
			published = append(published, r)
			return nil
		})))
	require.NoError(t, err)

	r, err := p.Validate(context.Background(),
		document.Object{"@type": "Movie", "@id": "m1", "name": "Heat"},
		document.Object{"@type": "Movie", "name": json.Number("3")},
		document.Object{"name": "untyped"},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, feederr.ErrMalformedNode))
	assert.Contains(t, err.Error(), "document 2")

	require.NotNil(t, r)
	assert.Equal(t, at, r.GeneratedAt)
	assert.Equal(t, 2, r.Totals["Movie"])
	assert.Equal(t, []report.Record{
		{Source: "Position: 2", Message: "Movie name must be text", Path: ".name", Value: "3", Severity: report.SeverityViolation},
	}, r.Records["Movie"])
	require.Len(t, published, 1)
	assert.Same(t, r, published[0])
}

func TestValidatedFeed(t *testing.T) {
	p, err := New(context.Background(),
		WithDescriptor(movieDescriptor()),
		WithConstraints(constraint.BytesSource(movieShapes)),
		WithFeedType(feed.DataFeed))
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := p.NewFeed(&buf)
	require.NoError(t, err)

	ok, err := w.AddItem(context.Background(),
		node.NewClass().WithID("m1").Add("name", node.NewProperty("Integer", node.Int(5))), "Movie")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = w.AddItem(context.Background(),
		node.NewClass().WithID("m2").Add("name", node.NewProperty("Text", node.Text("Ronin"))), "Movie")
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := w.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count(report.SeverityViolation))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "DataFeed", doc["@type"])
	assert.Len(t, doc["dataFeedElement"], 1)
}
