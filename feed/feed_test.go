package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/encoder"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/node"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/sink"
	"github.com/zero-day-ai/ldfeed/validator"
)

func testEncoder() *encoder.Encoder {
	return encoder.New(descriptor.MustNew(
		descriptor.TypeEntry{Name: "Movie", Category: descriptor.CategoryClass, Fields: []string{"@id", "name"}},
		descriptor.TypeEntry{Name: "name", Category: descriptor.CategoryProperty, Fields: []string{"Text", "Integer"}},
		descriptor.TypeEntry{Name: "Text", Category: descriptor.CategoryPrimitive},
		descriptor.TypeEntry{Name: "Integer", Category: descriptor.CategoryPrimitive},
	))
}

func movie(id string, name node.Node) *node.Class {
	typ := "Text"
	if _, ok := name.(node.Primitive).Value.(int64); ok {
		typ = "Integer"
	}
	return node.NewClass().WithID(id).Add("name", node.NewProperty(typ, name))
}

func TestItemList(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf, testEncoder())
	require.NoError(t, err)

	for _, m := range []*node.Class{movie("m1", node.Text("Heat")), movie("m2", node.Text("Ronin"))} {
		written, err := w.AddItem(context.Background(), m, "Movie")
		require.NoError(t, err)
		assert.True(t, written)
	}
	r, err := w.Close(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)

	want := "{\n" +
		"\t\"@context\":\"https://schema.org\",\n" +
		"\t\"@type\":\"ItemList\",\n" +
		"\t\"itemListElement\":[\n" +
		"\t\t{\n" +
		"\t\t    \"@type\": \"ListItem\",\n" +
		"\t\t    \"item\": {\n" +
		"\t\t        \"@id\": \"m1\",\n" +
		"\t\t        \"@type\": \"Movie\",\n" +
		"\t\t        \"name\": \"Heat\"\n" +
		"\t\t    },\n" +
		"\t\t    \"position\": 1\n" +
		"\t\t},\n" +
		"\t\t{\n" +
		"\t\t    \"@type\": \"ListItem\",\n" +
		"\t\t    \"item\": {\n" +
		"\t\t        \"@id\": \"m2\",\n" +
		"\t\t        \"@type\": \"Movie\",\n" +
		"\t\t        \"name\": \"Ronin\"\n" +
		"\t\t    },\n" +
		"\t\t    \"position\": 2\n" +
		"\t\t}\n" +
		"\t]\n" +
		"}\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 2, w.Count())
}

func TestDataFeed(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf, testEncoder(), WithType(DataFeed))
	require.NoError(t, err)

	_, err = w.AddItem(context.Background(), movie("m1", node.Text("Heat")), "Movie")
	require.NoError(t, err)
	_, err = w.Close(context.Background())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "DataFeed", doc["@type"])
	assert.Equal(t, "https://schema.org", doc["@context"])
	assert.Equal(t, []any{map[string]any{"@id": "m1", "@type": "Movie", "name": "Heat"}}, doc["dataFeedElement"])
}

func TestEmptyFeedIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf, testEncoder())
	require.NoError(t, err)
	_, err = w.Close(context.Background())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, []any{}, doc["itemListElement"])
}

func TestValidatedFeed(t *testing.T) {
	checker, err := constraint.NewChecker()
	require.NoError(t, err)
	require.NoError(t, checker.Load(context.Background(), constraint.BytesSource(`
shapes:
  - name: MovieShape
    targetClass: Movie
    properties:
      - path: name
        datatype: string
        message: Movie name must be text
`)))
	v, err := validator.New(checker)
	require.NoError(t, err)

	var published *report.Report
	var buf bytes.Buffer
	w, err := New(&buf, testEncoder(),
		WithValidator(v),
		WithSink(sink.Func(func(_ context.Context, r *report.Report) error {
			published = r
			return nil
		})))
	require.NoError(t, err)

	written, err := w.AddItem(context.Background(), movie("m1", node.Int(123)), "Movie")
	require.NoError(t, err)
	assert.False(t, written)

	written, err = w.AddItem(context.Background(), movie("m2", node.Text("Heat")), "Movie")
	require.NoError(t, err)
	assert.True(t, written)

	r, err := w.Close(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Same(t, r, published)
	assert.Equal(t, 1, w.Skipped())
	assert.Equal(t, 1, w.Count())
	assert.Equal(t, []report.Record{
		{Source: "Id: m1", Message: "Movie name must be text", Path: ".name", Value: "123", Severity: report.SeverityViolation},
	}, r.Records["Movie"])
	assert.True(t, v.Closed())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	items := doc["itemListElement"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(1), items[0].(map[string]any)["position"], "positions count written items")
}

func TestKeepInvalid(t *testing.T) {
	checker, err := constraint.NewChecker()
	require.NoError(t, err)
	require.NoError(t, checker.Load(context.Background(), constraint.BytesSource(
		"shapes:\n  - name: M\n    targetClass: Movie\n    properties:\n      - path: name\n        datatype: string\n")))
	v, err := validator.New(checker)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := New(&buf, testEncoder(), WithValidator(v), WithKeepInvalid())
	require.NoError(t, err)

	written, err := w.AddItem(context.Background(), movie("m1", node.Int(1)), "Movie")
	require.NoError(t, err)
	assert.True(t, written)
}

func TestAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf, testEncoder())
	require.NoError(t, err)
	_, err = w.Close(context.Background())
	require.NoError(t, err)

	_, err = w.AddItem(context.Background(), movie("m1", node.Text("x")), "Movie")
	assert.True(t, errors.Is(err, feederr.ErrSequence))
	_, err = w.Close(context.Background())
	assert.True(t, errors.Is(err, feederr.ErrSequence))
}

func TestEncodeErrorWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf, testEncoder())
	require.NoError(t, err)
	before := buf.Len()

	_, err = w.AddItem(context.Background(), node.NewClass(), "Movie")
	assert.True(t, errors.Is(err, feederr.ErrMalformedNode))
	assert.Equal(t, before, buf.Len())
	assert.Zero(t, w.Count())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("")
	require.NoError(t, err)
	assert.Equal(t, ItemList, typ)

	typ, err = ParseType("DataFeed")
	require.NoError(t, err)
	assert.Equal(t, DataFeed, typ)

	_, err = ParseType("Catalog")
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, testEncoder(), WithType("Catalog"))
	assert.Error(t, err)
}
