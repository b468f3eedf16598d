package lookup_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/lookup"
	"github.com/spandigital/pgext/model"
)

type fixture struct {
	products, numbers *model.Model
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg := model.NewRegistry()
	numbers := model.New("Number", model.Auto("id"), model.Char("name", 50))
	products := model.New("Product",
		model.Auto("id"),
		model.Char("name", 15),
		model.Array("tags", model.Char("", 20)),
		model.Array("prices", model.Integer("")),
		model.Array("coordinates", model.Array("", model.Integer(""))),
		model.HStore("description"),
		model.JSONB("details"),
		model.ArrayManyToMany("numbers", "Number", model.RelatedName("products")),
	)
	require.NoError(t, reg.Register(numbers, products))
	return fixture{products: products, numbers: numbers}
}

func (f fixture) field(t *testing.T, name string) model.Field {
	t.Helper()
	fld, ok := f.products.Field(name)
	require.True(t, ok, name)
	return fld
}

func TestBuild(t *testing.T) {
	fx := newFixture(t)
	tests := []struct {
		name     string
		field    string
		path     []string
		value    any
		wantSQL  string
		wantArgs []any
	}{
		{"implicit exact", "name", nil, "xyz", `"name" = ?`, []any{"xyz"}},
		{"exact nil", "name", []string{"exact"}, nil, `"name" IS NULL`, nil},
		{"iexact", "name", []string{"iexact"}, "XyZ", `UPPER("name"::text) = UPPER(?)`, []any{"XyZ"}},
		{"gt", "id", []string{"gt"}, 3, `"id" > ?`, []any{int64(3)}},
		{"in", "id", []string{"in"}, []int{1, 2}, `"id" = ANY(?)`, []any{[]any{int64(1), int64(2)}}},
		{"empty in", "id", []string{"in"}, []int{}, `FALSE`, nil},
		{"range", "id", []string{"range"}, []int{1, 5}, `"id" BETWEEN ? AND ?`, []any{int64(1), int64(5)}},
		{"contains escapes", "name", []string{"contains"}, "50%_off", `"name"::text LIKE ?`, []any{`%50\%\_off%`}},
		{"istartswith", "name", []string{"istartswith"}, "xy", `"name"::text ILIKE ?`, []any{`xy%`}},
		{"regex", "name", []string{"regex"}, "^x", `"name"::text ~ ?`, []any{`^x`}},
		{"isnull", "name", []string{"isnull"}, false, `"name" IS NOT NULL`, nil},

		{"array exact", "tags", nil, []string{"Music"}, `"tags" = ?`, []any{[]string{"Music"}}},
		{"array contains", "tags", []string{"contains"}, []string{"Music"}, `"tags" @> ?`, []any{[]string{"Music"}}},
		{"array contained by", "tags", []string{"contained_by"}, []string{"Music"}, `"tags" <@ ?`, []any{[]string{"Music"}}},
		{"array overlap", "tags", []string{"overlap"}, []string{"Music"}, `"tags" && ?`, []any{[]string{"Music"}}},
		{"array exactly", "tags", []string{"exactly"}, []string{"Music"}, `("tags" @> ? AND "tags" <@ ?)`, []any{[]string{"Music"}, []string{"Music"}}},
		{"array len", "tags", []string{"len"}, 3, `COALESCE(CARDINALITY("tags"), 0) = ?`, []any{3}},
		{"array index", "tags", []string{"0"}, "Music", `"tags"[1] = ?`, []any{"Music"}},
		{"array index lookup", "prices", []string{"1", "gt"}, "5", `"prices"[2] > ?`, []any{int64(5)}},
		{"array slice", "tags", []string{"0_1"}, []string{"Music"}, `"tags"[1:2] = ?`, []any{[]string{"Music"}}},
		{"array slice contains", "tags", []string{"0_1", "contains"}, []string{"Music"}, `"tags"[1:2] @> ?`, []any{[]string{"Music"}}},
		{"multi-dimensional index", "coordinates", []string{"0", "1"}, 5, `"coordinates"[1][2] = ?`, []any{int64(5)}},

		{"any", "tags", []string{"any"}, "Music", `? = ANY("tags")`, []any{"Music"}},
		{"any_exact", "tags", []string{"any_exact"}, "Music", `? = ANY("tags")`, []any{"Music"}},
		{"any_gt", "prices", []string{"any_gt"}, 5, `? < ANY("prices")`, []any{5}},
		{"any_gte", "prices", []string{"any_gte"}, 5, `? <= ANY("prices")`, []any{5}},
		{"any_lt", "prices", []string{"any_lt"}, 5, `? > ANY("prices")`, []any{5}},
		{"any_lte", "prices", []string{"any_lte"}, 5, `? >= ANY("prices")`, []any{5}},
		{"any_contains", "coordinates", []string{"any_contains"}, []int{1}, `? <@ ANY("coordinates")`, []any{[]int{1}}},
		{"all", "tags", []string{"all"}, "Music", `? = ALL("tags")`, []any{"Music"}},
		{"all_lt", "prices", []string{"all_lt"}, 5, `? > ALL("prices")`, []any{5}},
		{"any_in", "tags", []string{"any_in"}, "us", `EXISTS (SELECT 1 FROM unnest("tags") AS e(v) WHERE e.v::text LIKE ?)`, []any{"%us%"}},
		{"any_isstartof", "tags", []string{"any_isstartof"}, "Mu", `EXISTS (SELECT 1 FROM unnest("tags") AS e(v) WHERE e.v::text LIKE ?)`, []any{"Mu%"}},
		{"all_isendof", "tags", []string{"all_isendof"}, "ic", `NOT EXISTS (SELECT 1 FROM unnest("tags") AS e(v) WHERE NOT (e.v::text LIKE ?))`, []any{"%ic"}},
		{"all_regex", "tags", []string{"all_regex"}, "^[A-Z]", `NOT EXISTS (SELECT 1 FROM unnest("tags") AS e(v) WHERE NOT (e.v::text ~ ?))`, []any{"^[A-Z]"}},

		{"hstore has_key", "description", []string{"has_key"}, "Industry", `EXIST("description", ?::text)`, []any{"Industry"}},
		{"hstore has_keys", "description", []string{"has_keys"}, []string{"a", "b"}, `EXISTS_ALL("description", ?::text[])`, []any{[]string{"a", "b"}}},
		{"hstore has_any_keys", "description", []string{"has_any_keys"}, []string{"a"}, `EXISTS_ANY("description", ?::text[])`, []any{[]string{"a"}}},
		{"hstore contains", "description", []string{"contains"}, map[string]string{"Industry": "Music"}, `"description" @> HSTORE(?::text[], ?::text[])`, []any{[]string{"Industry"}, []string{"Music"}}},
		{"hstore key", "description", []string{"Industry"}, "Music", `("description" -> ?::text) = ?`, []any{"Industry", "Music"}},
		{"hstore key lookup", "description", []string{"Industry", "startswith"}, "Mu", `("description" -> ?::text)::text LIKE ?`, []any{"Industry", "Mu%"}},

		{"json has_key", "details", []string{"has_key"}, "a", `JSONB_EXISTS("details", ?::text)`, []any{"a"}},
		{"json contains", "details", []string{"contains"}, map[string]any{"a": 1}, `"details" @> ?::jsonb`, []any{`{"a":1}`}},
		{"json key path", "details", []string{"a", "b"}, "x", `(("details" -> ?::text) -> ?::text) = ?::jsonb`, []any{"a", "b", `"x"`}},
		{"json array element", "details", []string{"tags", "0"}, "x", `(("details" -> ?::text) -> ?::integer) = ?::jsonb`, []any{"tags", 0, `"x"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fx.field(t, tt.field)
			cond, err := lookup.Default.Build(f, expr.Col{Name: f.Column()}, tt.path, tt.value)
			require.NoError(t, err)
			sql, args, err := cond.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	fx := newFixture(t)
	tags := fx.field(t, "tags")
	_, err := lookup.Default.Build(tags, expr.Col{Name: "tags"}, []string{"bogus"}, 1)
	var fieldErr *model.FieldError
	assert.True(t, errors.As(err, &fieldErr))

	name := fx.field(t, "name")
	_, err = lookup.Default.Build(name, expr.Col{Name: "name"}, []string{"isnull"}, "yes")
	assert.True(t, errors.As(err, &fieldErr))

	_, err = lookup.Default.Build(name, expr.Col{Name: "name"}, []string{"range"}, []int{1})
	assert.True(t, errors.As(err, &fieldErr))
}

func TestRelated(t *testing.T) {
	fx := newFixture(t)
	m2m := fx.field(t, "numbers").(*model.ArrayManyToManyField)
	col := expr.Col{Name: "numbers_ids"}
	one := model.NewInstance(fx.numbers, map[string]any{"id": 1})
	two := model.NewInstance(fx.numbers, map[string]any{"id": int32(2)})

	tests := []struct {
		name     string
		value    any
		wantSQL  string
		wantArgs []any
	}{
		{"", one, `"numbers_ids" @> ?`, []any{[]any{int64(1)}}},
		{"exact", 1, `"numbers_ids" @> ?`, []any{[]any{int64(1)}}},
		{"in", []*model.Instance{one, two}, `"numbers_ids" && ?`, []any{[]any{int64(1), int64(2)}}},
		{"overlap", []int{1, 2}, `"numbers_ids" && ?`, []any{[]any{int64(1), int64(2)}}},
		{"contains", []any{one, 2}, `"numbers_ids" @> ?`, []any{[]any{int64(1), int64(2)}}},
		{"contained_by", []int{1}, `"numbers_ids" <@ ?`, []any{[]any{int64(1)}}},
		{"exactly", []int{1}, `("numbers_ids" @> ? AND "numbers_ids" <@ ?)`, []any{[]any{int64(1)}, []any{int64(1)}}},
		{"gt", one, `? < ANY("numbers_ids")`, []any{int64(1)}},
		{"lte", 3, `? >= ANY("numbers_ids")`, []any{int64(3)}},
	}
	for _, tt := range tests {
		t.Run("lookup "+tt.name, func(t *testing.T) {
			cond, err := lookup.Default.Related(m2m, col, tt.name, tt.value)
			require.NoError(t, err)
			sql, args, err := cond.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}

	_, err := lookup.Default.Related(m2m, col, "startswith", 1)
	var typeErr *model.TypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "Related Array got invalid lookup: startswith", err.Error())

	product := model.NewInstance(fx.products, map[string]any{"id": 1})
	_, err = lookup.Default.Related(m2m, col, "exact", product)
	assert.True(t, errors.As(err, &typeErr))
}

func TestReverse(t *testing.T) {
	fx := newFixture(t)
	rel, ok := fx.numbers.ReverseRelation("products")
	require.True(t, ok)
	col := expr.Col{Name: "T2.id"}
	product := model.NewInstance(fx.products, map[string]any{"id": 9})

	cond, err := lookup.Default.Reverse(rel, col, "", product)
	require.NoError(t, err)
	sql, args, err := cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `"T2"."id" = ?`, sql)
	assert.Equal(t, []any{int64(9)}, args)

	cond, err = lookup.Default.Reverse(rel, col, "in", []any{product, 3})
	require.NoError(t, err)
	sql, args, err = cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `"T2"."id" = ANY(?)`, sql)
	assert.Equal(t, []any{[]any{int64(9), int64(3)}}, args)

	cond, err = lookup.Default.Reverse(rel, col, "isnull", true)
	require.NoError(t, err)
	sql, _, err = cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `"T2"."id" IS NULL`, sql)

	_, err = lookup.Default.Reverse(rel, col, "contains", 1)
	var typeErr *model.TypeError
	assert.True(t, errors.As(err, &typeErr))
}

func TestCustomLookup(t *testing.T) {
	r := lookup.New()
	r.Register(model.KindScalar, "ne", func(t lookup.Target, value any) (expr.Expression, error) {
		sql, args, err := t.LHS.ToSql()
		return expr.Raw{SQL: sql + " <> ?", Args: append(args, value)}, err
	})
	assert.Contains(t, r.Names(model.KindScalar), "ne")
	_, ok := lookup.Default.Get(model.KindScalar, "ne")
	assert.False(t, ok)
}
