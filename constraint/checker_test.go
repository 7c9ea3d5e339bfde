package constraint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zero-day-ai/ldfeed/attribution"
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
        minCount: 1
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

func loadedChecker(t *testing.T, src string) *CELChecker {
	t.Helper()
	c, err := NewChecker()
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), BytesSource(src)))
	return c
}

func decode(t *testing.T, s string) document.Object {
	t.Helper()
	v, err := document.Decode(strings.NewReader(s))
	require.NoError(t, err)
	obj, ok := v.(document.Object)
	require.True(t, ok)
	return document.AssignIdentities(obj, document.RootMarker, document.UUIDGenerator)
}

func check(t *testing.T, c *CELChecker, doc string) (bool, []report.Record) {
	t.Helper()
	g, err := c.Check(context.Background(), decode(t, doc))
	require.NoError(t, err)
	return attribution.Attribute(g, resultgraph.IRI(document.RootMarker), "Id: test")
}

func TestCheckerEndToEnd(t *testing.T) {
	c := loadedChecker(t, movieConstraints)

	tests := []struct {
		name     string
		doc      string
		conforms bool
		want     []report.Record
	}{
		{
			name:     "top level violation",
			doc:      `{"@type":"Movie","name":123}`,
			conforms: false,
			want: []report.Record{
				{Source: "Id: test", Message: "Movie name must be text", Path: ".name", Value: "123", Severity: report.SeverityViolation},
			},
		},
		{
			name:     "nested warning",
			doc:      `{"@type":"Movie","name":"Heat","actor":{"@type":"Person","name":123}}`,
			conforms: true,
			want: []report.Record{
				{Source: "Id: test", Message: "Person name should be text", Path: ".actor.name", Value: "123", Severity: report.SeverityWarning},
			},
		},
		{
			name:     "nested info and warning in declaration order",
			doc:      `{"@type":"Movie","name":"Heat","creator":{"@type":"Person","name":123,"url":345}}`,
			conforms: true,
			want: []report.Record{
				{Source: "Id: test", Message: "url should be text", Path: ".creator.url", Value: "345", Severity: report.SeverityInfo},
				{Source: "Id: test", Message: "Person name should be text", Path: ".creator.name", Value: "123", Severity: report.SeverityWarning},
			},
		},
		{
			name:     "conforming",
			doc:      `{"@type":"Movie","name":"Heat","actor":[{"@type":"Person","name":"Al"},{"@type":"Person","name":"Bob"}]}`,
			conforms: true,
		},
		{
			name:     "missing required name",
			doc:      `{"@type":"Movie"}`,
			conforms: false,
			want: []report.Record{
				{Source: "Id: test", Message: "Movie name must be text", Path: ".name", Value: attribution.Missing, Severity: report.SeverityViolation},
			},
		},
		{
			name:     "untargeted type",
			doc:      `{"@type":"Book","name":1}`,
			conforms: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conforms, records := check(t, c, tt.doc)
			assert.Equal(t, tt.conforms, conforms)
			assert.Equal(t, tt.want, records)
		})
	}
}

func TestCheckerMultipleChildren(t *testing.T) {
	c := loadedChecker(t, movieConstraints)

	_, records := check(t, c, `{"@type":"Movie","name":"Heat","actor":[{"@type":"Person","name":1},{"@type":"Person","name":2}]}`)
	require.Len(t, records, 2)
	assert.Equal(t, ".actor.name", records[0].Path)
	assert.Equal(t, ".actor.name", records[1].Path)
	assert.ElementsMatch(t, []string{"1", "2"}, []string{records[0].Value, records[1].Value})
}

func TestCheckerReportNode(t *testing.T) {
	c := loadedChecker(t, movieConstraints)

	g, err := c.Check(context.Background(), decode(t, `{"@type":"Movie","name":1}`))
	require.NoError(t, err)

	reports := g.Subjects(resultgraph.IRI(resultgraph.RDFType), resultgraph.IRI(resultgraph.ValidationReport))
	require.Len(t, reports, 1)
	conforms, ok := g.Value(reports[0], resultgraph.IRI(resultgraph.Conforms))
	require.True(t, ok)
	assert.Equal(t, "false", conforms.Value)
	assert.Len(t, g.Objects(reports[0], resultgraph.IRI(resultgraph.Result)), 1)

	res := g.Results()[0]
	comp, _ := g.Value(res, resultgraph.IRI(resultgraph.SourceComponent))
	assert.Equal(t, resultgraph.IRI(componentDatatype), comp)
	shape, _ := g.Value(res, resultgraph.IRI(resultgraph.SourceShape))
	assert.Equal(t, resultgraph.IRI(ShapePrefix+"MovieShape"), shape)
}

func TestCheckerConstraints(t *testing.T) {
	c := loadedChecker(t, `
shapes:
  - name: RatingShape
    targetClass: Rating
    properties:
      - path: ratingValue
        datatype: number
        minInclusive: 1
        maxInclusive: 5
      - path: bestRating
        datatype: integer
      - path: author
        class: Person
      - path: reviewAspect
        in: [plot, acting]
      - path: alternateName
        pattern: "^[A-Z]"
        minLength: 2
        maxLength: 4
        maxCount: 1
      - path: ratingExplanation
        expr: value.size() > 3 && focus.ratingValue > 0
`)

	tests := []struct {
		name  string
		doc   string
		paths []string
	}{
		{
			name: "valid",
			doc:  `{"@type":"Rating","ratingValue":4.5,"bestRating":5,"author":{"@type":"Person"},"reviewAspect":"plot","alternateName":"Abc","ratingExplanation":"great"}`,
		},
		{
			name:  "out of range",
			doc:   `{"@type":"Rating","ratingValue":7}`,
			paths: []string{".ratingValue"},
		},
		{
			name:  "not a number",
			doc:   `{"@type":"Rating","ratingValue":"high"}`,
			paths: []string{".ratingValue", ".ratingValue", ".ratingValue"},
		},
		{
			name:  "fractional integer",
			doc:   `{"@type":"Rating","bestRating":4.5}`,
			paths: []string{".bestRating"},
		},
		{
			name:  "wrong class",
			doc:   `{"@type":"Rating","author":{"@type":"Organization"}}`,
			paths: []string{".author"},
		},
		{
			name:  "not in list",
			doc:   `{"@type":"Rating","reviewAspect":"music"}`,
			paths: []string{".reviewAspect"},
		},
		{
			name:  "pattern and length",
			doc:   `{"@type":"Rating","alternateName":"abcdef"}`,
			paths: []string{".alternateName", ".alternateName"},
		},
		{
			name:  "too many values",
			doc:   `{"@type":"Rating","alternateName":["Ab","Cd"]}`,
			paths: []string{".alternateName"},
		},
		{
			name:  "expression false",
			doc:   `{"@type":"Rating","ratingValue":2,"ratingExplanation":"ok"}`,
			paths: []string{".ratingExplanation"},
		},
		{
			name:  "expression error",
			doc:   `{"@type":"Rating","ratingExplanation":"long enough"}`,
			paths: []string{".ratingExplanation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conforms, records := check(t, c, tt.doc)
			var paths []string
			for _, r := range records {
				paths = append(paths, r.Path)
			}
			assert.Equal(t, tt.paths, paths)
			assert.Equal(t, len(tt.paths) == 0, conforms)
		})
	}
}

func TestCheckerRecursiveShape(t *testing.T) {
	c := loadedChecker(t, `
shapes:
  - name: PersonShape
    targetClass: Person
    properties:
      - path: name
        datatype: string
      - path: knows
        node: PersonShape
`)

	doc := decode(t, `{"@type":"Person","name":"a","knows":{"@type":"Person","name":1}}`)
	// A cyclic object graph must terminate.
	knows := doc["knows"].(document.Object)
	knows["knows"] = doc

	g, err := c.Check(context.Background(), doc)
	require.NoError(t, err)

	conforms, records := attribution.Attribute(g, resultgraph.IRI(document.RootMarker), "Id: p")
	assert.False(t, conforms)
	require.NotEmpty(t, records)
	assert.Equal(t, ".knows.name", records[0].Path)
}

func TestCheckerSequence(t *testing.T) {
	c, err := NewChecker()
	require.NoError(t, err)
	assert.False(t, c.Loaded())

	_, err = c.Check(context.Background(), document.Object{})
	assert.True(t, errors.Is(err, feederr.ErrSequence))

	require.NoError(t, c.Load(context.Background(), BytesSource(movieConstraints)))
	assert.True(t, c.Loaded())

	err = c.Load(context.Background(), BytesSource(movieConstraints))
	assert.True(t, errors.Is(err, feederr.ErrSequence))
}

func TestCheckerLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "not yaml", src: "shapes: ["},
		{name: "no shapes", src: "shapes: []"},
		{name: "unknown key", src: "shapes:\n  - name: A\n    colour: red\n"},
		{name: "bad expression", src: "shapes:\n  - name: A\n    properties:\n      - path: x\n        expr: value +\n"},
		{name: "non boolean expression", src: "shapes:\n  - name: A\n    properties:\n      - path: x\n        expr: '\"text\"'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChecker()
			require.NoError(t, err)
			err = c.Load(context.Background(), BytesSource(tt.src))
			assert.True(t, errors.Is(err, feederr.ErrSchemaLoad), "got %v", err)
			assert.False(t, c.Loaded())
		})
	}
}

func TestCheckerCancelled(t *testing.T) {
	c := loadedChecker(t, movieConstraints)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Check(ctx, decode(t, `{"@type":"Movie","name":"x"}`))
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeKV struct {
	values map[string]string
	err    error
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := &clientv3.GetResponse{}
	if v, ok := f.values[key]; ok {
		resp.Kvs = []*mvccpb.KeyValue{{Key: []byte(key), Value: []byte(v)}}
	}
	return resp, nil
}

func TestEtcdSource(t *testing.T) {
	kv := &fakeKV{values: map[string]string{"/ldfeed/constraints/movies": movieConstraints}}

	src := NewEtcdSource(kv, "/ldfeed/constraints/movies")
	assert.Equal(t, "etcd:/ldfeed/constraints/movies", src.String())

	c, err := NewChecker()
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), src))

	_, err = NewEtcdSource(kv, "/ldfeed/constraints/missing").Fetch(context.Background())
	assert.ErrorContains(t, err, "not found")

	down := &fakeKV{err: status.Error(codes.Unavailable, "no leader")}
	_, err = NewEtcdSource(down, "/k").Fetch(context.Background())
	assert.ErrorContains(t, err, "etcd unavailable")
	assert.ErrorContains(t, err, "no leader")
}

func TestDialEtcdValidation(t *testing.T) {
	_, _, err := DialEtcd(EtcdConfig{Key: "k"})
	assert.Error(t, err)
	_, _, err = DialEtcd(EtcdConfig{Endpoints: []string{"localhost:2379"}})
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "constraints.yaml"), []byte(movieConstraints), 0o644))

	data, err := FileSource{Path: dir}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, movieConstraints, string(data))

	_, err = FileSource{Path: filepath.Join(dir, "missing.yaml")}.Fetch(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "file:"+dir, FileSource{Path: dir}.String())
}
