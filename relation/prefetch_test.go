package relation_test

import (
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
	"github.com/spandigital/pgext/relation"
)

func names(objs []*model.Instance) []any {
	out := make([]any, len(objs))
	for i, o := range objs {
		out[i] = o.Get("name")
	}
	return out
}

func TestPrefetchForward(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	p1 := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []int32{2, 1}})
	p2 := model.NewInstance(fx.products, map[string]any{"id": 2, "numbers_ids": []int32{2}})
	p3 := model.NewInstance(fx.products, map[string]any{"id": 3})

	mock.ExpectQuery(`FROM "number" WHERE`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
			AddRow(int32(1), "one").
			AddRow(int32(2), "two"))

	require.NoError(t, relation.Prefetch(ctx, mock, []*model.Instance{p1, p2, p3}, "numbers"))

	got, ok := p1.Prefetched("numbers")
	require.True(t, ok)
	assert.Equal(t, []any{"one", "two"}, names(got))
	got, _ = p2.Prefetched("numbers")
	assert.Equal(t, []any{"two"}, names(got))
	got, ok = p3.Prefetched("numbers")
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestPrefetchReverse(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	n1 := model.NewInstance(fx.numbers, map[string]any{"id": 1})
	n2 := model.NewInstance(fx.numbers, map[string]any{"id": 2})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "product" WHERE "product"."numbers_ids" && $1`)).
		WithArgs([]any{int64(1), int64(2)}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "numbers_ids"}).
			AddRow(int32(10), "p", []int32{1, 2}).
			AddRow(int32(11), "q", []int32{2}))

	require.NoError(t, relation.Prefetch(ctx, mock, []*model.Instance{n1, n2}, "products"))

	got, _ := n1.Prefetched("products")
	assert.Equal(t, []any{"p"}, names(got))
	got, _ = n2.Prefetched("products")
	assert.Equal(t, []any{"p", "q"}, names(got))
}

func TestPrefetchThroughQuerySet(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	query.SetPrefetcher(relation.Prefetch)
	t.Cleanup(func() { query.SetPrefetcher(nil) })

	mock.ExpectQuery(`FROM "product"`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "numbers_ids"}).AddRow(int32(1), "p", []int32{3}))
	mock.ExpectQuery(`FROM "number" WHERE`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int32(3), "three"))

	objs, err := query.Objects(mock, fx.products).PrefetchRelated("numbers").All(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 1)

	fm, err := relation.Forward(mock, objs[0], "numbers")
	require.NoError(t, err)
	related, err := fm.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"three"}, names(related))
}

func TestPrefetchErrors(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	p := model.NewInstance(fx.products, map[string]any{"id": 1})

	var fieldErr *model.FieldError
	assert.ErrorAs(t, relation.Prefetch(ctx, mock, []*model.Instance{p}, "name"), &fieldErr)
	assert.ErrorAs(t, relation.Prefetch(ctx, mock, []*model.Instance{p}, "missing"), &fieldErr)
	assert.NoError(t, relation.Prefetch(ctx, mock, nil, "numbers"))
}
