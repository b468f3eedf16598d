package query_test

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

type fixture struct {
	products, numbers, items, specials *model.Model
}

func newFixture(t *testing.T, opts ...model.Option) fixture {
	t.Helper()
	numbers := model.New("Number", model.Auto("id"), model.Char("name", 50))
	products := model.New("Product",
		model.Auto("id"),
		model.Char("name", 15),
		model.Array("tags", model.Char("", 20), model.Null()),
		model.HStore("description", model.Null()),
		model.ArrayManyToMany("numbers", "Number", append([]model.Option{model.RelatedName("products")}, opts...)...),
	)
	items := model.New("Item", model.Auto("id"), model.Char("name", 15))
	specials := model.New("Special", model.Integer("rank")).Inherits(items)
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(numbers, products, items, specials))
	return fixture{products: products, numbers: numbers, items: items, specials: specials}
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, logger.ContextWithLogger(context.Background(), logger.NewForTests())
}

// withArrayM2M sets the join switch for the duration of a test.
func withArrayM2M(t *testing.T, on bool) {
	t.Helper()
	prev := query.ArrayM2MEnabled()
	query.SetArrayM2M(on)
	t.Cleanup(func() { query.SetArrayM2M(prev) })
}
