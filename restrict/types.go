package restrict

import (
	"strings"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/spandigital/pgext/model"
)

// Column is one variable visible to a restriction.
type Column struct {
	// Name is the CEL identifier.
	Name string
	// Column is the SQL column; it defaults to Name.
	Column string
	// Type is the PostgreSQL type, e.g. "integer", "varchar(20)[]" or "hstore".
	Type string
}

// ColumnsOf lists the concrete fields of m as restriction variables.
func ColumnsOf(m *model.Model) []Column {
	fields := m.AllFields()
	cols := make([]Column, 0, len(fields))
	for _, f := range fields {
		if f.Column() == "" {
			continue
		}
		cols = append(cols, Column{Name: f.Name(), Column: f.Column(), Type: f.DBType()})
	}
	return cols
}

// celType maps a PostgreSQL type name onto the CEL type used to check
// restrictions. Arrays become lists of their element type; hstore is a
// string map and json values are dynamic maps.
func celType(pgType string) *cel.Type {
	t := strings.ToLower(strings.TrimSpace(pgType))
	if strings.HasSuffix(t, "]") {
		if i := strings.Index(t, "["); i >= 0 {
			return cel.ListType(celType(t[:i]))
		}
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "text", "varchar", "char", "character varying", "character", "uuid", "citext":
		return cel.StringType
	case "bytea":
		return cel.BytesType
	case "boolean", "bool":
		return cel.BoolType
	case "integer", "int", "int4", "bigint", "int8", "smallint", "int2", "serial", "bigserial":
		return cel.IntType
	case "real", "float4", "double precision", "float8", "numeric", "decimal":
		return cel.DoubleType
	case "timestamp", "timestamptz", "timestamp with time zone", "timestamp without time zone", "date":
		return cel.TimestampType
	case "interval":
		return cel.DurationType
	case "hstore":
		return cel.MapType(cel.StringType, cel.StringType)
	case "json", "jsonb":
		return cel.MapType(cel.StringType, cel.DynType)
	}
	return cel.StringType
}

func isTimestampType(typ *exprpb.Type) bool {
	return typ.GetWellKnown() == exprpb.Type_TIMESTAMP
}

func isDurationType(typ *exprpb.Type) bool {
	return typ.GetWellKnown() == exprpb.Type_DURATION
}

func isMapType(typ *exprpb.Type) bool {
	_, ok := typ.GetTypeKind().(*exprpb.Type_MapType_)
	return ok
}

// isKeyed reports types whose members are read by key: maps and the
// dynamic values found inside json.
func isKeyed(typ *exprpb.Type) bool {
	if _, dyn := typ.GetTypeKind().(*exprpb.Type_Dyn); dyn {
		return true
	}
	return isMapType(typ)
}

func isListType(typ *exprpb.Type) bool {
	_, ok := typ.GetTypeKind().(*exprpb.Type_ListType_)
	return ok
}

// isJSONMap reports a map with dynamic values, which is how json columns are
// declared.
func isJSONMap(typ *exprpb.Type) bool {
	m := typ.GetMapType()
	if m == nil {
		return false
	}
	_, dyn := m.GetValueType().GetTypeKind().(*exprpb.Type_Dyn)
	return dyn
}

func isPrimitive(typ *exprpb.Type, p exprpb.Type_PrimitiveType) bool {
	return typ.GetPrimitive() == p
}
