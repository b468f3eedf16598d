package expr

import (
	"fmt"
	"strings"
)

// MaxMultiArgs bounds MultiFunc nesting depth.
const MaxMultiArgs = 100

// CapacityError reports a call with more arguments than a fixed ceiling.
type CapacityError struct {
	Count int
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("multi-func given %d args, the limit is %d", e.Count, e.Limit)
}

// Func is a SQL function call.
type Func struct {
	Name string
	Args []Expression
}

func (f Func) ToSql() (string, []any, error) {
	parts := make([]string, 0, len(f.Args))
	var args []any
	for _, a := range f.Args {
		sql, aArgs, err := unwrap(a).ToSql()
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		parts = append(parts, sql)
		args = append(args, aArgs...)
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")", args, nil
}

// simple builds NAME(field, values...) with string fields treated as columns.
func simple(name string, field any, values ...any) Func {
	args := make([]Expression, 0, len(values)+1)
	args = append(args, asField(field))
	for _, v := range values {
		args = append(args, asValue(v))
	}
	return Func{Name: name, Args: args}
}

// nonField builds NAME(values...) binding every non-expression value.
func nonField(name string, values ...any) Func {
	args := make([]Expression, 0, len(values))
	for _, v := range values {
		args = append(args, asValue(v))
	}
	return Func{Name: name, Args: args}
}

// MultiFunc folds fn over args: fn(fn(fn(field, a0), a1), a2)...
func MultiFunc(fn func(field, value any) Expression, field any, args ...any) (Expression, error) {
	if len(args) > MaxMultiArgs {
		return nil, &CapacityError{Count: len(args), Limit: MaxMultiArgs}
	}
	result := asField(field)
	for _, a := range args {
		result = fn(result, a)
	}
	return result, nil
}

// MultiArrayRemove removes every value from the array column.
func MultiArrayRemove(field any, values ...any) (Expression, error) {
	return MultiFunc(func(f, v any) Expression { return ArrayRemove(f, v) }, field, values...)
}

// Arrays.

func ArrayAppend(field, value any) Func         { return simple("ARRAY_APPEND", field, value) }
func ArrayRemove(field, value any) Func         { return simple("ARRAY_REMOVE", field, value) }
func ArrayReplace(field, from, to any) Func     { return simple("ARRAY_REPLACE", field, from, to) }
func ArrayPosition(field, value any) Func       { return simple("ARRAY_POSITION", field, value) }
func ArrayPositions(field, value any) Func      { return simple("ARRAY_POSITIONS", field, value) }
func ArrayLength(field any, dimension int) Func { return simple("ARRAY_LENGTH", field, dimension) }
func ArrayDims(field any) Func                  { return simple("ARRAY_DIMS", field) }
func ArrayUpper(field any, dimension int) Func  { return simple("ARRAY_UPPER", field, dimension) }
func ArrayLower(field any, dimension int) Func  { return simple("ARRAY_LOWER", field, dimension) }
func Cardinality(field any) Func                { return simple("CARDINALITY", field) }
func ArrayToJSON(field any) Func                { return simple("ARRAY_TO_JSON", field) }

// ArrayPrepend takes the value first, like the SQL function.
func ArrayPrepend(value, field any) Func {
	return Func{Name: "ARRAY_PREPEND", Args: []Expression{asValue(value), asField(field)}}
}

type catOptions struct {
	prepend bool
	base    string
}

type CatOption func(*catOptions)

// Prepend puts value before field.
func Prepend() CatOption { return func(o *catOptions) { o.prepend = true } }

// CatAs casts a bound array value to base[].
func CatAs(base string) CatOption { return func(o *catOptions) { o.base = base } }

// ArrayCat concatenates two arrays. A string value names another column.
func ArrayCat(field, value any, opts ...CatOption) Func {
	var o catOptions
	for _, opt := range opts {
		opt(&o)
	}
	var rhs Expression
	switch v := value.(type) {
	case string:
		rhs = Col{Name: v}
	case Expression:
		rhs = unwrap(v)
	default:
		if o.base != "" {
			rhs = Value{V: v, Cast: o.base + "[]"}
		} else {
			rhs = Value{V: v}
		}
	}
	lhs := asField(field)
	if o.prepend {
		return Func{Name: "ARRAY_CAT", Args: []Expression{rhs, lhs}}
	}
	return Func{Name: "ARRAY_CAT", Args: []Expression{lhs, rhs}}
}

// hstore.

// HStore builds an hstore from key and value arrays (or a single pair).
func HStore(keys, values any) Func {
	return Func{Name: "HSTORE", Args: []Expression{textParam(keys), textParam(values)}}
}

func AKeys(field any) Func          { return simple("AKEYS", field) }
func SKeys(field any) Func          { return simple("SKEYS", field) }
func AVals(field any) Func          { return simple("AVALS", field) }
func SVals(field any) Func          { return simple("SVALS", field) }
func HStoreToArray(field any) Func  { return simple("HSTORE_TO_ARRAY", field) }
func HStoreToMatrix(field any) Func { return simple("HSTORE_TO_MATRIX", field) }
func Each(field any) Func           { return simple("EACH", field) }

func HStoreToJSONB(field any) Func      { return simple("HSTORE_TO_JSONB", field) }
func HStoreToJSONBLoose(field any) Func { return simple("HSTORE_TO_JSONB_LOOSE", field) }

// Slice keeps only the given hstore keys.
func Slice(field any, keys []string) Func {
	return Func{Name: "SLICE", Args: []Expression{asField(field), textParam(keys)}}
}

// Delete removes a key, a key array or a matching hstore.
func Delete(field any, keys any) Func {
	return Func{Name: "DELETE", Args: []Expression{asField(field), textParam(keys)}}
}

// jsonb.

func ToJSONB(value any) Func              { return nonField("TO_JSONB", value) }
func RowToJSON(field any) Func            { return simple("ROW_TO_JSON", field) }
func JSONBBuildArray(values ...any) Func  { return nonField("JSONB_BUILD_ARRAY", values...) }
func JSONBBuildObject(values ...any) Func { return nonField("JSONB_BUILD_OBJECT", values...) }
func JSONBObject(values ...any) Func      { return nonField("JSONB_OBJECT", values...) }
func JSONBArrayElements(field any) Func   { return simple("JSONB_ARRAY_ELEMENTS", field) }
func JSONBArrayLength(field any) Func     { return simple("JSONB_ARRAY_LENGTH", field) }
func JSONBPretty(field any) Func          { return simple("JSONB_PRETTY", field) }
func JSONObjectKeys(field any) Func       { return simple("JSON_OBJECT_KEYS", field) }
func JSONStripNulls(field any) Func       { return simple("JSON_STRIP_NULLS", field) }
func JSONTypeOf(field any) Func           { return simple("JSON_TYPEOF", field) }

// JSONBSet replaces the value at path. The value is bound as jsonb.
func JSONBSet(field any, path []string, value any) Func {
	v := asValue(value)
	if val, ok := v.(Value); ok && val.Cast == "" {
		val.Cast = "jsonb"
		v = val
	}
	return Func{Name: "JSONB_SET", Args: []Expression{asField(field), textParam(path), v}}
}
