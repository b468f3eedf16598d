package relation_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
	"github.com/spandigital/pgext/relation"
)

const (
	catNumber = `UPDATE "product" SET "numbers_ids" = ARRAY_CAT("numbers_ids", $1::integer[]) WHERE "id" = $2`
	notHas    = ` AND NOT ("numbers_ids" @> $3::integer[])`
)

func TestForwardAdd(t *testing.T) {
	fx := newFixture(t)

	t.Run("single item", func(t *testing.T) {
		mock, ctx := newMock(t)
		actions := record(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1, "name": "p"})
		two := model.NewInstance(fx.numbers, map[string]any{"id": int32(2)})

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(catNumber+notHas)).
			WithArgs([]any{int64(2)}, int64(1), []any{int64(2)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		require.NoError(t, fm.Add(ctx, two))
		assert.Equal(t, []any{int64(2)}, p.Keys("numbers"))
		assert.Equal(t, []relation.Action{relation.PreAdd, relation.PostAdd}, *actions)
	})

	t.Run("many items skip the current ones", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []any{int64(2)}})

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .*"numbers_ids".* FROM "product" WHERE`).
			WillReturnRows(pgxmock.NewRows([]string{"numbers_ids"}).AddRow([]int32{2}))
		mock.ExpectExec(regexp.QuoteMeta(catNumber)).
			WithArgs([]any{int64(3)}, int64(1)).
			WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		require.NoError(t, fm.Add(ctx, 2, 3, 3))
		assert.Equal(t, []any{int64(2), int64(3)}, p.Keys("numbers"))
	})

	t.Run("nothing new", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1})

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM "product" WHERE`).
			WillReturnRows(pgxmock.NewRows([]string{"numbers_ids"}).AddRow([]int32{2, 3}))
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		require.NoError(t, fm.Add(ctx, 3, 2))
	})

	t.Run("prefetch cache is dropped", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1})
		p.SetPrefetched("numbers", nil)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(catNumber + notHas)).WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		require.NoError(t, fm.Add(ctx, 4))
		_, cached := p.Prefetched("numbers")
		assert.False(t, cached)
	})
}

func TestForwardErrors(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)

	_, err := relation.Forward(mock, model.NewInstance(fx.products, nil), "numbers")
	assert.ErrorIs(t, err, model.ErrUnsaved)

	p := model.NewInstance(fx.products, map[string]any{"id": 1})
	_, err = relation.Forward(mock, p, "name")
	var fieldErr *model.FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "name", fieldErr.Field)

	fm, err := relation.Forward(mock, p, "numbers")
	require.NoError(t, err)

	other := model.NewInstance(fx.products, map[string]any{"id": 2})
	var typeErr *model.TypeError
	assert.ErrorAs(t, fm.Add(ctx, other), &typeErr)
	assert.ErrorIs(t, fm.Remove(ctx, model.NewInstance(fx.numbers, nil)), model.ErrUnsaved)
	assert.ErrorAs(t, fm.Add(ctx, nil), &typeErr)
}

func TestForwardRemove(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	actions := record(t)
	p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []int32{1, 2, 3}})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product" SET "numbers_ids" = ARRAY_REMOVE(ARRAY_REMOVE("numbers_ids", $1), $2) WHERE "id" = $3`)).
		WithArgs(int64(2), int64(3), int64(1)).
		WillReturnResult(updated())
	mock.ExpectCommit()

	fm, err := relation.Forward(mock, p, "numbers")
	require.NoError(t, err)
	require.NoError(t, fm.Remove(ctx, 2, 3))
	assert.Equal(t, []any{int64(1)}, p.Keys("numbers"))
	assert.Equal(t, []relation.Action{relation.PreRemove, relation.PostRemove}, *actions)
}

func TestForwardRemoveChunks(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	p := model.NewInstance(fx.products, map[string]any{"id": 1})

	keys := make([]any, 150)
	for i := range keys {
		keys[i] = i + 1
	}
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "product" SET "numbers_ids" = ARRAY_REMOVE`).WillReturnResult(updated())
	mock.ExpectExec(`UPDATE "product" SET "numbers_ids" = ARRAY_REMOVE`).WillReturnResult(updated())
	mock.ExpectCommit()

	fm, err := relation.Forward(mock, p, "numbers")
	require.NoError(t, err)
	require.NoError(t, fm.Remove(ctx, keys...))
}

func TestForwardClear(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	actions := record(t)
	p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []any{int64(4)}})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product" SET "numbers_ids" = $1::integer[] WHERE "id" = $2`)).
		WithArgs([]any{}, int64(1)).
		WillReturnResult(updated())
	mock.ExpectCommit()

	fm, err := relation.Forward(mock, p, "numbers")
	require.NoError(t, err)
	require.NoError(t, fm.Clear(ctx))
	assert.Empty(t, p.Keys("numbers"))
	assert.Equal(t, []relation.Action{relation.PreClear, relation.PostClear}, *actions)
}

func TestForwardSet(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []int32{1, 2}})

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "product" WHERE`).
		WillReturnRows(pgxmock.NewRows([]string{"numbers_ids"}).AddRow([]int32{1, 2}))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product" SET "numbers_ids" = ARRAY_REMOVE("numbers_ids", $1) WHERE "id" = $2`)).
		WithArgs(int64(1), int64(1)).
		WillReturnResult(updated())
	mock.ExpectExec(regexp.QuoteMeta(catNumber+notHas)).
		WithArgs([]any{int64(3)}, int64(1), []any{int64(3)}).
		WillReturnResult(updated())
	mock.ExpectCommit()

	fm, err := relation.Forward(mock, p, "numbers")
	require.NoError(t, err)
	require.NoError(t, fm.Set(ctx, []any{2, 3}))
	assert.Equal(t, []any{int64(2), int64(3)}, p.Keys("numbers"))
}

func TestSignalVeto(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	veto := errors.New("not today")
	require.True(t, relation.M2MChanged.Connect("veto", func(_ context.Context, c relation.Change) error {
		if c.Action == relation.PreAdd {
			return veto
		}
		return nil
	}))
	t.Cleanup(func() { relation.M2MChanged.Disconnect("veto") })

	mock.ExpectBegin()
	mock.ExpectRollback()

	fm, err := relation.Forward(mock, model.NewInstance(fx.products, map[string]any{"id": 1}), "numbers")
	require.NoError(t, err)
	err = fm.Add(ctx, 2)
	require.ErrorIs(t, err, veto)
	assert.Contains(t, err.Error(), "pre_add receiver veto")
}

func TestSymmetricalRelation(t *testing.T) {
	fx := newFixture(t)
	const cat = `UPDATE "person" SET "friends_ids" = ARRAY_CAT("friends_ids", $1::integer[]) WHERE `

	t.Run("add mirrors", func(t *testing.T) {
		mock, ctx := newMock(t)
		one := model.NewInstance(fx.people, map[string]any{"id": 1})

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(cat+`"id" = $2 AND NOT ("friends_ids" @> $3::integer[])`)).
			WithArgs([]any{int64(2)}, int64(1), []any{int64(2)}).
			WillReturnResult(updated())
		mock.ExpectExec(regexp.QuoteMeta(cat+`"id" = ANY($2) AND NOT ("friends_ids" @> $3::integer[])`)).
			WithArgs([]any{int64(1)}, []any{int64(2)}, []any{int64(1)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, one, "friends")
		require.NoError(t, err)
		require.NoError(t, fm.Add(ctx, 2))
	})

	t.Run("remove mirrors", func(t *testing.T) {
		mock, ctx := newMock(t)
		one := model.NewInstance(fx.people, map[string]any{"id": 1})

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "person" SET "friends_ids" = ARRAY_REMOVE("friends_ids", $1) WHERE "id" = $2`)).
			WithArgs(int64(2), int64(1)).
			WillReturnResult(updated())
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "person" SET "friends_ids" = ARRAY_REMOVE("friends_ids", $1) WHERE "id" = ANY($2)`)).
			WithArgs(int64(1), []any{int64(2)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, one, "friends")
		require.NoError(t, err)
		require.NoError(t, fm.Remove(ctx, 2))
	})

	t.Run("clear mirrors", func(t *testing.T) {
		mock, ctx := newMock(t)
		one := model.NewInstance(fx.people, map[string]any{"id": 1})

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "person" SET "friends_ids" = $1::integer[] WHERE "id" = $2`)).
			WillReturnResult(updated())
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "person" SET "friends_ids" = ARRAY_REMOVE("friends_ids", $1) WHERE "friends_ids" @> $2::integer[]`)).
			WithArgs(int64(1), []any{int64(1)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, one, "friends")
		require.NoError(t, err)
		require.NoError(t, fm.Clear(ctx))
	})
}

func TestReverse(t *testing.T) {
	fx := newFixture(t)
	five := func() *model.Instance { return model.NewInstance(fx.numbers, map[string]any{"id": int32(5)}) }

	t.Run("add", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1})

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product" SET "numbers_ids" = ARRAY_CAT("numbers_ids", $1::integer[]) WHERE "id" = ANY($2) AND NOT ("numbers_ids" @> $3::integer[])`)).
			WithArgs([]any{int64(5)}, []any{int64(1), int64(2)}, []any{int64(5)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		rm, err := relation.Reverse(mock, five(), "products")
		require.NoError(t, err)
		require.NoError(t, rm.Add(ctx, p, 2))
	})

	t.Run("remove", func(t *testing.T) {
		mock, ctx := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product" SET "numbers_ids" = ARRAY_REMOVE("numbers_ids", $1) WHERE "id" = ANY($2) AND "numbers_ids" @> $3::integer[]`)).
			WithArgs(int64(5), []any{int64(1)}, []any{int64(5)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		rm, err := relation.Reverse(mock, five(), "products")
		require.NoError(t, err)
		require.NoError(t, rm.Remove(ctx, 1))
	})

	t.Run("clear", func(t *testing.T) {
		mock, ctx := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product" SET "numbers_ids" = ARRAY_REMOVE("numbers_ids", $1) WHERE "numbers_ids" @> $2::integer[]`)).
			WithArgs(int64(5), []any{int64(5)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		rm, err := relation.Reverse(mock, five(), "products")
		require.NoError(t, err)
		require.NoError(t, rm.Clear(ctx))
	})

	t.Run("queryset filters by the array column", func(t *testing.T) {
		mock, _ := newMock(t)
		rm, err := relation.Reverse(mock, five(), "products")
		require.NoError(t, err)
		sql, args, err := rm.QuerySet().ToSql()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE "product"."numbers_ids" @> $1`)
		assert.Equal(t, []any{[]any{int64(5)}}, args)
	})

	t.Run("wrong model", func(t *testing.T) {
		mock, ctx := newMock(t)
		rm, err := relation.Reverse(mock, five(), "products")
		require.NoError(t, err)
		var typeErr *model.TypeError
		assert.ErrorAs(t, rm.Add(ctx, five()), &typeErr)
	})

	t.Run("unknown accessor", func(t *testing.T) {
		mock, _ := newMock(t)
		_, err := relation.Reverse(mock, five(), "product_set")
		var fieldErr *model.FieldError
		assert.ErrorAs(t, err, &fieldErr)
	})
}

func TestFor(t *testing.T) {
	fx := newFixture(t)
	mock, _ := newMock(t)

	m, err := relation.For(mock, model.NewInstance(fx.products, map[string]any{"id": 1}), "numbers")
	require.NoError(t, err)
	assert.IsType(t, &relation.ForwardManager{}, m)

	m, err = relation.For(mock, model.NewInstance(fx.numbers, map[string]any{"id": 1}), "products")
	require.NoError(t, err)
	assert.IsType(t, &relation.ReverseManager{}, m)

	m, err = relation.For(mock, model.NewInstance(fx.numbers, map[string]any{"id": 1}), "name")
	require.Error(t, err)
	assert.Nil(t, m)
}

func TestManagerCreate(t *testing.T) {
	fx := newFixture(t)

	t.Run("create adds", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1})

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "number" ("name") VALUES ($1) RETURNING "id"`)).
			WithArgs("three").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int32(3)))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(catNumber+notHas)).
			WithArgs([]any{int64(3)}, int64(1), []any{int64(3)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		obj, err := fm.Create(ctx, query.Values{"name": "three"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), obj.PK())
		assert.Equal(t, []any{int64(3)}, p.Keys("numbers"))
	})

	t.Run("get or create leaves existing rows alone", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1})

		mock.ExpectQuery(`FROM "number" WHERE "number"."name" = \$1 LIMIT 21`).
			WithArgs("one").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int32(1), "one"))

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		obj, created, err := fm.GetOrCreate(ctx, query.Values{"name": "one"}, nil)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "one", obj.Get("name"))
		assert.Empty(t, p.Keys("numbers"))
	})
}

func TestQuerySetUsesPrefetchCache(t *testing.T) {
	fx := newFixture(t)
	mock, ctx := newMock(t)
	p := model.NewInstance(fx.products, map[string]any{"id": 1})
	cached := []*model.Instance{model.NewInstance(fx.numbers, map[string]any{"id": int64(9)})}
	p.SetPrefetched("numbers", cached)

	fm, err := relation.Forward(mock, p, "numbers")
	require.NoError(t, err)
	assert.True(t, fm.QuerySet().Cached())
	all, err := fm.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, cached, all)
}

func TestForwardQuerySetReadsCommittedColumn(t *testing.T) {
	fx := newFixture(t)
	const owned = `"number"."id" IN (SELECT UNNEST(U0."numbers_ids") FROM "product" U0 WHERE U0."id" = $1)`

	mock, _ := newMock(t)
	p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []any{int64(7)}})
	fm, err := relation.Forward(mock, p, "numbers")
	require.NoError(t, err)

	sql, args, err := fm.QuerySet().ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, owned)
	assert.Equal(t, []any{int64(1)}, args)
}

func TestSymmetricalAddVisibleFromLoadedSide(t *testing.T) {
	fx := newFixture(t)
	const cat = `UPDATE "person" SET "friends_ids" = ARRAY_CAT("friends_ids", $1::integer[]) WHERE `
	mock, ctx := newMock(t)
	alice := model.NewInstance(fx.people, map[string]any{"id": 1, "friends_ids": []any{}})
	bob := model.NewInstance(fx.people, map[string]any{"id": 2, "friends_ids": []any{}})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(cat + `"id" = $2`)).WillReturnResult(updated())
	mock.ExpectExec(regexp.QuoteMeta(cat + `"id" = ANY($2)`)).WillReturnResult(updated())
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "person" WHERE "person"."id" IN (SELECT UNNEST(U0."friends_ids") FROM "person" U0 WHERE U0."id" = $1)`)).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "friends_ids"}).AddRow(int32(1), []int32{2}))

	friends, err := relation.Forward(mock, alice, "friends")
	require.NoError(t, err)
	require.NoError(t, friends.Add(ctx, bob))

	back, err := relation.Forward(mock, bob, "friends")
	require.NoError(t, err)
	got, err := back.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), model.NormalizeKey(got[0].PK()))
}

func TestRolledBackChangesStayLocal(t *testing.T) {
	fx := newFixture(t)

	t.Run("post signal error", func(t *testing.T) {
		mock, ctx := newMock(t)
		failed := errors.New("audit failed")
		require.True(t, relation.M2MChanged.Connect("audit", func(_ context.Context, c relation.Change) error {
			if c.Action == relation.PostAdd || c.Action == relation.PostRemove || c.Action == relation.PostClear {
				return failed
			}
			return nil
		}))
		t.Cleanup(func() { relation.M2MChanged.Disconnect("audit") })
		p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []any{int64(4)}})

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(catNumber + notHas)).WillReturnResult(updated())
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec(`ARRAY_REMOVE`).WillReturnResult(updated())
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product" SET "numbers_ids" = $1::integer[]`)).WillReturnResult(updated())
		mock.ExpectRollback()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		require.ErrorIs(t, fm.Add(ctx, 2), failed)
		require.ErrorIs(t, fm.Remove(ctx, 4), failed)
		require.ErrorIs(t, fm.Clear(ctx), failed)
		assert.Equal(t, []any{int64(4)}, p.Keys("numbers"))

		_, args, err := fm.QuerySet().ToSql()
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1)}, args)
	})

	t.Run("enclosing transaction rolls back", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []any{}})
		stop := errors.New("stop")

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(catNumber + notHas)).WillReturnResult(updated())
		mock.ExpectRollback()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		err = db.Atomic(ctx, mock, func(ctx context.Context) error {
			if err := fm.Add(ctx, 2); err != nil {
				return err
			}
			assert.Empty(t, p.Keys("numbers"))
			return stop
		})
		require.ErrorIs(t, err, stop)
		assert.Empty(t, p.Keys("numbers"))
	})

	t.Run("enclosing transaction commits", func(t *testing.T) {
		mock, ctx := newMock(t)
		p := model.NewInstance(fx.products, map[string]any{"id": 1, "numbers_ids": []any{}})

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(catNumber + notHas)).WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, p, "numbers")
		require.NoError(t, err)
		require.NoError(t, db.Atomic(ctx, mock, func(ctx context.Context) error {
			return fm.Add(ctx, 2)
		}))
		assert.Equal(t, []any{int64(2)}, p.Keys("numbers"))
	})
}

func TestNullableArrayRelation(t *testing.T) {
	tags := model.New("Tag", model.Auto("id"))
	posts := model.New("Post", model.Auto("id"), model.ArrayManyToMany("tags", "Tag", model.Null()))
	require.NoError(t, model.NewRegistry().Register(tags, posts))
	post := model.NewInstance(posts, map[string]any{"id": 1})
	const cat = `UPDATE "post" SET "tags_ids" = ARRAY_CAT(COALESCE("tags_ids", '{}'), $1::integer[]) WHERE `

	t.Run("forward add", func(t *testing.T) {
		mock, ctx := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(cat+`"id" = $2 AND NOT (COALESCE("tags_ids", '{}') @> $3::integer[])`)).
			WithArgs([]any{int64(3)}, int64(1), []any{int64(3)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		fm, err := relation.Forward(mock, post, "tags")
		require.NoError(t, err)
		require.NoError(t, fm.Add(ctx, 3))
	})

	t.Run("reverse add", func(t *testing.T) {
		mock, ctx := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(cat+`"id" = ANY($2) AND NOT (COALESCE("tags_ids", '{}') @> $3::integer[])`)).
			WithArgs([]any{int64(3)}, []any{int64(1)}, []any{int64(3)}).
			WillReturnResult(updated())
		mock.ExpectCommit()

		rm, err := relation.Reverse(mock, model.NewInstance(tags, map[string]any{"id": 3}), "post_set")
		require.NoError(t, err)
		require.NoError(t, rm.Add(ctx, post))
	})
}
