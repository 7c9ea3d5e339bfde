package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}
}

func TestAssignIdentities(t *testing.T) {
	in := Object{
		"@id":   "movie-1",
		"@type": "Movie",
		"actor": []any{
			map[string]any{"@type": "Person", "name": "A"},
			map[string]any{"@id": "keep-me-not", "@type": "Person", "name": "B"},
		},
		"name": "Heat",
	}

	out := AssignIdentities(in, RootMarker, sequence())

	assert.Equal(t, RootMarker, out["@id"])
	actors := out["actor"].([]any)
	first := actors[0].(map[string]any)["@id"].(string)
	second := actors[1].(map[string]any)["@id"].(string)
	assert.True(t, strings.HasPrefix(first, "urn:uuid:"))
	assert.True(t, strings.HasPrefix(second, "urn:uuid:"))
	assert.NotEqual(t, first, second)

	// input untouched
	assert.Equal(t, "movie-1", in["@id"])
	_, has := in["actor"].([]any)[0].(map[string]any)["@id"]
	assert.False(t, has)
	assert.Equal(t, "keep-me-not", in["actor"].([]any)[1].(map[string]any)["@id"])
}

func TestAssignIdentitiesDefaultGenerator(t *testing.T) {
	out := AssignIdentities(Object{"@type": "Movie", "actor": map[string]any{"@type": "Person"}}, RootMarker, nil)

	id := out["actor"].(map[string]any)["@id"].(string)
	_, err := uuid.Parse(strings.TrimPrefix(id, "urn:uuid:"))
	assert.NoError(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	src := map[string]any{"list": []any{map[string]any{"k": "v"}}}
	dst := Clone(src).(map[string]any)
	dst["list"].([]any)[0].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", src["list"].([]any)[0].(map[string]any)["k"])
}

func TestTypeAndID(t *testing.T) {
	obj := Object{"@type": "Movie", "@id": "m1"}
	assert.Equal(t, "Movie", TypeOf(obj))
	id, ok := IDOf(obj)
	assert.True(t, ok)
	assert.Equal(t, "m1", id)

	_, ok = IDOf(Object{"@type": "Movie"})
	assert.False(t, ok)
	assert.Empty(t, TypeOf(Object{"@type": 5}))
}

func TestDecodeKeepsNumbers(t *testing.T) {
	v, err := Decode(strings.NewReader(`{"@type":"Movie","rating":123}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("123"), v.(map[string]any)["rating"])
}

func TestDecodeObjects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{name: "single object", input: `{"@type":"Movie"}`, want: []string{"Movie"}},
		{name: "stream", input: "{\"@type\":\"Movie\"}\n{\"@type\":\"Person\"}", want: []string{"Movie", "Person"}},
		{name: "array", input: `[{"@type":"Movie"},{"@type":"Person"}]`, want: []string{"Movie", "Person"}},
		{name: "scalar", input: `42`, wantErr: "expected object"},
		{name: "broken", input: `{"@type":`, wantErr: "failed to decode document 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := DecodeObjects(strings.NewReader(tt.input), func(o Object) error {
				got = append(got, TypeOf(o))
				return nil
			})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeObjectsStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := DecodeObjects(strings.NewReader(`[{},{}]`), func(Object) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestMarshalSortsKeys(t *testing.T) {
	b, err := Marshal(map[string]any{"name": "A&B", "@type": "Movie", "@id": "m1", "actor": "x"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, `{"@id":"m1","@type":"Movie","actor":"x","name":"A&B"}`, string(b))
}
