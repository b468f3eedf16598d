package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/model"
)

// ColumnInfo is one column as reported by information_schema.
type ColumnInfo struct {
	Name       string  `db:"column_name"`
	DataType   string  `db:"data_type"`
	UDTName    string  `db:"udt_name"`
	MaxLength  *int32  `db:"character_maximum_length"`
	Nullable   bool    `db:"nullable"`
	Default    *string `db:"column_default"`
	PrimaryKey bool    `db:"primary_key"`
	// ElementType and ElementMaxLength describe array elements.
	ElementType      *string `db:"element_type"`
	ElementMaxLength *int32  `db:"element_max_length"`
}

// Table is an introspected table.
type Table struct {
	Name    string
	Columns []ColumnInfo
}

var ErrTableNotFound = errors.New("table not found")

const columnsQuery = `
	SELECT
		c.column_name,
		c.data_type,
		c.udt_name,
		c.character_maximum_length,
		c.is_nullable = 'YES' AS nullable,
		c.column_default,
		e.data_type AS element_type,
		e.character_maximum_length AS element_max_length,
		EXISTS (
			SELECT 1
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage k
				ON k.constraint_name = tc.constraint_name
				AND k.table_schema = tc.table_schema
				AND k.table_name = tc.table_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name
				AND k.column_name = c.column_name
		) AS primary_key
	FROM information_schema.columns c
	LEFT JOIN information_schema.element_types e
		ON e.object_catalog = c.table_catalog
		AND e.object_schema = c.table_schema
		AND e.object_name = c.table_name
		AND e.object_type = 'TABLE'
		AND e.collection_type_identifier = c.dtd_identifier
	WHERE c.table_schema = current_schema() AND c.table_name = $1
	ORDER BY c.ordinal_position
`

// LoadTable reads the column definitions of a table in the current schema.
func LoadTable(ctx context.Context, conn db.DBTX, name string) (*Table, error) {
	var cols []ColumnInfo
	if err := pgxscan.Select(ctx, db.Conn(ctx, conn), &cols, columnsQuery, name); err != nil {
		return nil, fmt.Errorf("loading table %s: %w", name, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("loading table %s: %w", name, ErrTableNotFound)
	}
	return &Table{Name: name, Columns: cols}, nil
}

// Model converts the table into a model named after it. Columns listed in
// indexed are marked as indexed.
func (t *Table) Model(indexed ...string) (*model.Model, error) {
	fields := make([]model.Field, 0, len(t.Columns))
	for _, c := range t.Columns {
		var opts []model.Option
		if c.Nullable {
			opts = append(opts, model.Null())
		}
		if slices.Contains(indexed, c.Name) {
			opts = append(opts, model.Indexed())
		}
		f, err := c.field(opts)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		fields = append(fields, f)
	}
	for _, name := range indexed {
		if !slices.ContainsFunc(t.Columns, func(c ColumnInfo) bool { return c.Name == name }) {
			return nil, &model.FieldError{Model: t.Name, Field: name, Msg: "no such column"}
		}
	}
	return model.New(t.Name, fields...).WithTable(t.Name), nil
}

func (c ColumnInfo) field(opts []model.Option) (model.Field, error) {
	if c.PrimaryKey {
		serial := c.Default != nil && strings.HasPrefix(*c.Default, "nextval(")
		switch {
		case serial && c.DataType == "integer":
			return model.Auto(c.Name), nil
		case serial && c.DataType == "bigint":
			return model.BigAuto(c.Name), nil
		}
		opts = append(opts, model.PrimaryKey())
	}
	if c.DataType == "ARRAY" {
		if c.ElementType == nil {
			return nil, fmt.Errorf("column %s: unknown array element type", c.Name)
		}
		base, err := scalarField(c.Name, *c.ElementType, strings.TrimPrefix(c.UDTName, "_"), c.ElementMaxLength, nil)
		if err != nil {
			return nil, err
		}
		return model.Array(c.Name, base, opts...), nil
	}
	return scalarField(c.Name, c.DataType, c.UDTName, c.MaxLength, opts)
}

func scalarField(name, dataType, udt string, maxLength *int32, opts []model.Option) (model.Field, error) {
	switch dataType {
	case "integer", "smallint":
		return model.Integer(name, opts...), nil
	case "bigint":
		return model.BigInteger(name, opts...), nil
	case "character varying", "character":
		n := 0
		if maxLength != nil {
			n = int(*maxLength)
		}
		return model.Char(name, n, opts...), nil
	case "text":
		return model.Text(name, opts...), nil
	case "boolean":
		return model.Boolean(name, opts...), nil
	case "uuid":
		return model.UUID(name, opts...), nil
	case "real", "double precision", "numeric":
		return model.Float(name, opts...), nil
	case "timestamp with time zone", "timestamp without time zone", "date":
		return model.Timestamp(name, opts...), nil
	case "json", "jsonb":
		return model.JSONB(name, opts...), nil
	case "USER-DEFINED":
		if udt == "hstore" {
			return model.HStore(name, opts...), nil
		}
	}
	return nil, fmt.Errorf("column %s: unsupported type %s (%s)", name, dataType, udt)
}
