package relation_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/relation"
)

type fixture struct {
	products, numbers, people *model.Model
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	numbers := model.New("Number", model.Auto("id"), model.Char("name", 50))
	products := model.New("Product",
		model.Auto("id"),
		model.Char("name", 15),
		model.ArrayManyToMany("numbers", "Number", model.RelatedName("products")),
	)
	people := model.New("Person",
		model.Auto("id"),
		model.ArrayManyToMany("friends", model.Self),
	)
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(numbers, products, people))
	return fixture{products: products, numbers: numbers, people: people}
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock, logger.ContextWithLogger(context.Background(), logger.NewForTests())
}

// record collects the actions sent on M2MChanged during a test.
func record(t *testing.T) *[]relation.Action {
	t.Helper()
	var got []relation.Action
	require.True(t, relation.M2MChanged.Connect(t.Name(), func(_ context.Context, c relation.Change) error {
		got = append(got, c.Action)
		return nil
	}))
	t.Cleanup(func() { relation.M2MChanged.Disconnect(t.Name()) })
	return &got
}

func updated() pgconn.CommandTag { return pgxmock.NewResult("UPDATE", 1) }
