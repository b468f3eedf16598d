package forms_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/forms"
	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

func TestCharField(t *testing.T) {
	ctx := context.Background()
	f := forms.NewCharField(5, true)

	got, err := f.Clean(ctx, "  abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = f.Clean(ctx, "")
	var ve *forms.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "required", ve.Code)

	_, err = f.Clean(ctx, "abcdef")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "max_length", ve.Code)
	assert.Equal(t, "Ensure this value has at most 5 characters (it has 6).", ve.Error())

	got, err = f.Clean(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, "12", got)
}

func TestForModelField(t *testing.T) {
	number := model.New("Number", model.Auto("id"), model.Char("name", 20, model.HelpText("Spelled out")))
	product := model.New("Product",
		model.Auto("id"),
		model.HStore("shipping", model.Keys("Address", "City"), model.Blank()),
		model.JSONB("details", model.Keys("Type"), model.MaxValueLength(40), model.RequireAllFields()),
		model.HStore("extra", model.Null()),
		model.ArrayManyToMany("numbers", "Number"),
	)
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(number, product))

	f, err := forms.ForModelField(mustField(t, number, "name"))
	require.NoError(t, err)
	char, ok := f.(*forms.CharField)
	require.True(t, ok)
	assert.Equal(t, 20, char.MaxLength)
	assert.Equal(t, "Spelled out", char.HelpText)
	assert.True(t, char.Required)

	f, err = forms.ForModelField(mustField(t, product, "shipping"))
	require.NoError(t, err)
	nested, ok := f.(*forms.NestedField)
	require.True(t, ok)
	assert.Equal(t, []string{"Address", "City"}, nested.Labels())
	assert.False(t, nested.Required)

	f, err = forms.ForModelField(mustField(t, product, "details"))
	require.NoError(t, err)
	nested = f.(*forms.NestedField)
	assert.True(t, nested.RequireAllFields)
	_, err = nested.Clean(context.Background(), []any{strings.Repeat("x", 40)})
	assert.NoError(t, err)

	f, err = forms.ForModelField(mustField(t, product, "extra"))
	require.NoError(t, err)
	assert.IsType(t, &forms.CharField{}, f)

	_, err = forms.ForModelField(mustField(t, product, "numbers"))
	assert.ErrorIs(t, err, forms.ErrNeedsQuerySet)
}

func mustField(t *testing.T, m *model.Model, name string) model.Field {
	t.Helper()
	f, ok := m.Field(name)
	require.True(t, ok, name)
	return f
}

func TestModelMultipleChoiceField(t *testing.T) {
	number := model.New("Number", model.Auto("id"), model.Char("name", 20))
	require.NoError(t, model.NewRegistry().Register(number))
	ctx := logger.ContextWithLogger(context.Background(), logger.NewForTests())

	newField := func(t *testing.T, required bool) (*forms.ModelMultipleChoiceField, pgxmock.PgxPoolIface) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		t.Cleanup(mock.Close)
		return forms.NewModelMultipleChoiceField(query.Objects(mock, number), required), mock
	}
	rows := func() *pgxmock.Rows {
		return pgxmock.NewRows([]string{"id", "name"}).AddRow(int32(1), "one").AddRow(int32(2), "two")
	}

	t.Run("selected rows", func(t *testing.T) {
		f, mock := newField(t, true)
		mock.ExpectQuery(`FROM "number" WHERE`).WillReturnRows(rows())
		got, err := f.Clean(ctx, []string{"1", "2"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown choice", func(t *testing.T) {
		f, mock := newField(t, true)
		mock.ExpectQuery(`FROM "number" WHERE`).
			WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int32(1), "one"))
		_, err := f.Clean(ctx, []any{"1", "7"})
		var ve *forms.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "invalid_choice", ve.Code)
		assert.Contains(t, ve.Message, "7 is not one of the available choices")
	})

	t.Run("bad values", func(t *testing.T) {
		f, _ := newField(t, true)
		var ve *forms.ValidationError

		_, err := f.Clean(ctx, nil)
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "required", ve.Code)

		_, err = f.Clean(ctx, "1")
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "invalid_list", ve.Code)

		_, err = f.Clean(ctx, []string{"x"})
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "invalid_pk_value", ve.Code)
	})

	t.Run("optional and empty", func(t *testing.T) {
		f, _ := newField(t, false)
		got, err := f.Clean(ctx, []string{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("choices fill the widget", func(t *testing.T) {
		f, mock := newField(t, false)
		f.LabelFrom = func(i *model.Instance) string { return i.Get("name").(string) }
		mock.ExpectQuery(`FROM "number"`).WillReturnRows(rows())
		require.NoError(t, f.LoadChoices(ctx))

		html, err := f.Widget.Render("numbers", []any{int64(2)}, forms.Attrs{"id": "id_numbers"})
		require.NoError(t, err)
		assert.Equal(t, `<select name="numbers" id="id_numbers" multiple>
<option value="1">one</option>
<option value="2" selected>two</option>
</select>`, string(html))
	})

	t.Run("has changed", func(t *testing.T) {
		f, _ := newField(t, false)
		one := model.NewInstance(number, map[string]any{"id": 1})
		assert.False(t, f.HasChanged([]any{one}, []string{"1"}))
		assert.True(t, f.HasChanged([]any{one}, []string{"2"}))
		assert.True(t, f.HasChanged(nil, []string{"2"}))
	})
}
