package schema_test

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/schema"
)

func ptr[T any](v T) *T { return &v }

var columnNames = []string{
	"column_name", "data_type", "udt_name", "character_maximum_length", "nullable",
	"column_default", "primary_key", "element_type", "element_max_length",
}

func TestLoadTable(t *testing.T) {
	ctx := logger.ContextWithLogger(context.Background(), logger.NewForTests())

	t.Run("Should convert columns into fields", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(columnNames).
			AddRow("id", "integer", "int4", (*int32)(nil), false, ptr("nextval('products_id_seq'::regclass)"), true, (*string)(nil), (*int32)(nil)).
			AddRow("name", "character varying", "varchar", ptr(int32(15)), false, (*string)(nil), false, (*string)(nil), (*int32)(nil)).
			AddRow("tags", "ARRAY", "_varchar", (*int32)(nil), true, (*string)(nil), false, ptr("character varying"), ptr(int32(20))).
			AddRow("description", "USER-DEFINED", "hstore", (*int32)(nil), false, (*string)(nil), false, (*string)(nil), (*int32)(nil)).
			AddRow("details", "jsonb", "jsonb", (*int32)(nil), true, (*string)(nil), false, (*string)(nil), (*int32)(nil))
		mock.ExpectQuery("FROM information_schema.columns c").WithArgs("products").WillReturnRows(rows)

		table, err := schema.LoadTable(ctx, mock, "products")
		require.NoError(t, err)
		require.Len(t, table.Columns, 5)

		m, err := table.Model("tags")
		require.NoError(t, err)
		assert.Equal(t, "products", m.Table)
		assert.Equal(t, "id", m.PK().Name())

		wantTypes := map[string]string{
			"id":          "serial",
			"name":        "varchar(15)",
			"tags":        "varchar(20)[]",
			"description": "hstore",
			"details":     "jsonb",
		}
		for name, want := range wantTypes {
			f, ok := m.Field(name)
			require.True(t, ok, name)
			assert.Equal(t, want, f.DBType(), name)
		}
		tags, _ := m.Field("tags")
		assert.True(t, tags.Indexed())
		assert.True(t, tags.Null())
		assert.Equal(t, model.KindArray, tags.Kind())
		assert.Contains(t, schema.IndexStatements(m), `CREATE INDEX "products_tags_ecebb895_gin" ON "products" USING GIN ("tags")`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report a missing table", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectQuery("FROM information_schema.columns c").WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(columnNames))

		_, err = schema.LoadTable(ctx, mock, "missing")
		assert.ErrorIs(t, err, schema.ErrTableNotFound)
	})

	t.Run("Should reject unknown index columns", func(t *testing.T) {
		table := &schema.Table{Name: "products", Columns: []schema.ColumnInfo{
			{Name: "id", DataType: "integer", PrimaryKey: true, Default: ptr("nextval('s')")},
		}}
		_, err := table.Model("tags")
		var fieldErr *model.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "tags", fieldErr.Field)
	})

	t.Run("Should reject unsupported types", func(t *testing.T) {
		table := &schema.Table{Name: "shapes", Columns: []schema.ColumnInfo{
			{Name: "area", DataType: "USER-DEFINED", UDTName: "geometry"},
		}}
		_, err := table.Model()
		assert.ErrorContains(t, err, "unsupported type")
	})
}
