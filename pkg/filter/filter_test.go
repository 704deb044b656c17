package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framewell/dbsvc/pkg/dberr"
	"github.com/framewell/dbsvc/pkg/schema"
)

func shotTable() schema.Table {
	return schema.Table{
		Name: "Shot",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColInteger, PrimaryKey: true},
			{Name: "name", Type: schema.ColText},
			{Name: "frame_count", Type: schema.ColInteger, Nullable: true},
			{Name: "approved", Type: schema.ColBool, Nullable: true},
			{Name: "rating", Type: schema.ColReal, Nullable: true},
		},
		PrimaryKeys: []string{"id"},
	}
}

// rawFilters decodes a JSON filter document the way the transport does.
func rawFilters(t *testing.T, doc string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &raw))
	return raw
}

func mustParse(t *testing.T, doc string) *Spec {
	t.Helper()
	spec, err := Parse(rawFilters(t, doc))
	require.NoError(t, err)
	return spec
}

func TestParseEmpty(t *testing.T) {
	spec, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, spec.Empty())

	frag, err := Compile(shotTable(), spec, 0)
	require.NoError(t, err)
	assert.Empty(t, frag.SQL)
	assert.Empty(t, frag.Args)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing comparison method", `{"name": "First"}`},
		{"invalid comparison method", `{"is": {"name": "First"}}`},
		{"or requires a list", `{"or": {"name": "First"}}`},
		{"or entries must be objects", `{"or": ["name"]}`},
		{"in requires a list", `{"in": {"id": 1}}`},
		{"eq rejects a list", `{"eq": {"id": [1, 2]}}`},
		{"group must be an object", `{"eq": [1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(rawFilters(t, tt.doc))
			require.Error(t, err)
			assert.Equal(t, dberr.InvalidFilter, dberr.KindOf(err))
		})
	}
}

func TestCompileEq(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"eq": {"id": 1}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"id" = $1`, frag.SQL)
	assert.Equal(t, []any{int64(1)}, frag.Args)
}

func TestCompileMultipleColumnsConjunctive(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"eq": {"name": "s100", "id": 1}}`), 0)
	require.NoError(t, err)
	// clauses are emitted in column order
	assert.Equal(t, `"id" = $1 AND "name" = $2`, frag.SQL)
	assert.Equal(t, []any{int64(1), "s100"}, frag.Args)
}

func TestCompileMultipleGroupsConjunctive(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"gt": {"id": 1}, "ne": {"name": "x"}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"name" != $1 AND "id" > $2`, frag.SQL)
	assert.Equal(t, []any{"x", int64(1)}, frag.Args)
}

func TestCompileIn(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"in": {"id": [1, 3]}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"id" IN ($1, $2)`, frag.SQL)
	assert.Equal(t, []any{int64(1), int64(3)}, frag.Args)
}

func TestCompileNotIn(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"not_in": {"name": ["a", "b"]}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"name" NOT IN ($1, $2)`, frag.SQL)
	assert.Equal(t, []any{"a", "b"}, frag.Args)
}

func TestCompileEmptyInMatchesNothing(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"in": {"id": []}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", frag.SQL)
	assert.Empty(t, frag.Args)

	frag, err = Compile(shotTable(), mustParse(t, `{"not_in": {"id": []}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", frag.SQL)
}

func TestCompileLike(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"like": {"name": "%d"}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"name"::text LIKE $1`, frag.SQL)
	assert.Equal(t, []any{"%d"}, frag.Args)

	frag, err = Compile(shotTable(), mustParse(t, `{"unlike": {"name": "%d"}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"name"::text NOT LIKE $1`, frag.SQL)
}

func TestCompileRangeOperators(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"lt": {"id": 5}, "le": {"id": 4}, "gt": {"id": 1}, "ge": {"id": 2}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"id" < $1 AND "id" <= $2 AND "id" > $3 AND "id" >= $4`, frag.SQL)
	assert.Equal(t, []any{int64(5), int64(4), int64(1), int64(2)}, frag.Args)
}

func TestCompileNull(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"eq": {"frame_count": null}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"frame_count" IS NULL`, frag.SQL)
	assert.Empty(t, frag.Args)

	frag, err = Compile(shotTable(), mustParse(t, `{"ne": {"frame_count": null}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"frame_count" IS NOT NULL`, frag.SQL)

	_, err = Compile(shotTable(), mustParse(t, `{"gt": {"frame_count": null}}`), 0)
	require.Error(t, err)
	assert.Equal(t, dberr.FilterTypeMismatch, dberr.KindOf(err))
}

func TestCompileOr(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"or": [{"eq": {"id": 1}}, {"eq": {"id": 3}}]}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `(("id" = $1) OR ("id" = $2))`, frag.SQL)
	assert.Equal(t, []any{int64(1), int64(3)}, frag.Args)
}

func TestCompileOrCombinedWithGroups(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"gt": {"id": 1}, "or": [{"eq": {"name": "a"}}, {"eq": {"name": "b"}}]}`), 0)
	require.NoError(t, err)
	assert.Equal(t, `"id" > $1 AND (("name" = $2) OR ("name" = $3))`, frag.SQL)
	assert.Equal(t, []any{int64(1), "a", "b"}, frag.Args)
}

func TestCompileArgOffset(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"eq": {"id": 2}}`), 3)
	require.NoError(t, err)
	assert.Equal(t, `"id" = $4`, frag.SQL)
	assert.Equal(t, []any{int64(2)}, frag.Args)
}

func TestCompileQualified(t *testing.T) {
	frag, err := CompileQualified(shotTable(), mustParse(t, `{"eq": {"id": 1}}`), 0, "Shot")
	require.NoError(t, err)
	assert.Equal(t, `"Shot"."id" = $1`, frag.SQL)
}

func TestCompileUnknownColumn(t *testing.T) {
	for _, doc := range []string{
		`{"eq": {"banana": 1}}`,
		`{"in": {"banana": [1]}}`,
		`{"like": {"banana": "%x"}}`,
		`{"or": [{"eq": {"banana": 1}}]}`,
	} {
		_, err := Compile(shotTable(), mustParse(t, doc), 0)
		require.Error(t, err, doc)
		assert.Equal(t, dberr.InvalidFilterColumn, dberr.KindOf(err), doc)
	}
}

func TestCompileTypeMismatch(t *testing.T) {
	for _, doc := range []string{
		`{"eq": {"id": "one"}}`,
		`{"eq": {"approved": "yes"}}`,
		`{"in": {"id": [1, "two"]}}`,
		`{"eq": {"rating": "high"}}`,
	} {
		_, err := Compile(shotTable(), mustParse(t, doc), 0)
		require.Error(t, err, doc)
		assert.Equal(t, dberr.FilterTypeMismatch, dberr.KindOf(err), doc)
	}
}

func TestCompileCoercesJSONNumbers(t *testing.T) {
	frag, err := Compile(shotTable(), mustParse(t, `{"eq": {"rating": 3}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(3)}, frag.Args)

	_, err = Compile(shotTable(), mustParse(t, `{"eq": {"id": 1.5}}`), 0)
	require.Error(t, err)
	assert.Equal(t, dberr.FilterTypeMismatch, dberr.KindOf(err))
}
