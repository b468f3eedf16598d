package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/spandigital/pgext/expr"
)

// ArrayField is a PostgreSQL array of Base values.
type ArrayField struct {
	fieldBase
	Base Field
}

// Array declares an array column. base supplies the element type; nest Array
// calls for multi-dimensional columns.
func Array(name string, base Field, opts ...Option) *ArrayField {
	return &ArrayField{fieldBase: fieldBase{name: name, opts: buildOptions(name, opts)}, Base: base}
}

func (f *ArrayField) Kind() Kind { return KindArray }

func (f *ArrayField) DBType() string {
	if s, ok := f.Base.(*ScalarField); ok {
		return s.RelDBType() + "[]"
	}
	return f.Base.DBType() + "[]"
}

// Dimensions counts nested array levels.
func (f *ArrayField) Dimensions() int {
	if inner, ok := f.Base.(*ArrayField); ok {
		return inner.Dimensions() + 1
	}
	return 1
}

func (f *ArrayField) PrepValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if e, ok := v.(expr.Expression); ok {
		return e, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &FieldError{Field: f.name, Msg: fmt.Sprintf("expected a slice, got %T", v)}
	}
	return v, nil
}

// UpdateExpression handles "del" (remove a value) and a single integer index.
func (f *ArrayField) UpdateExpression(suffixes []string, value any) (Assignment, error) {
	col := expr.QuoteName(f.Column())
	if len(suffixes) == 1 && suffixes[0] == "del" {
		return Assignment{Column: col, Expr: expr.ArrayRemove(f.Column(), value)}, nil
	}
	indexes := make([]int, 0, len(suffixes))
	for _, s := range suffixes {
		i, err := strconv.Atoi(s)
		if err != nil || i < 0 {
			return Assignment{}, &FieldError{Field: f.name, Lookup: strings.Join(suffixes, "__"), Msg: "update lookup type not found"}
		}
		indexes = append(indexes, i)
	}
	if len(indexes) != 1 || f.Dimensions() > 1 {
		return Assignment{}, &FieldError{
			Field:  f.name,
			Lookup: strings.Join(suffixes, "__"),
			Msg:    "updating multi-dimensional arrays by index is not supported",
			Err:    ErrUnsupported,
		}
	}
	rhs, err := assignmentValue(f.Base, value)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{Column: fmt.Sprintf("%s[%d]", col, indexes[0]+1), Expr: rhs}, nil
}

func assignmentValue(f Field, value any) (expr.Expression, error) {
	if e, ok := value.(expr.Expression); ok {
		return e, nil
	}
	v, err := f.PrepValue(value)
	if err != nil {
		return nil, err
	}
	return expr.Value{V: v}, nil
}

// HStoreField is a string to string map column.
type HStoreField struct {
	fieldBase
}

func HStore(name string, opts ...Option) *HStoreField {
	f := &HStoreField{fieldBase: fieldBase{name: name, opts: buildOptions(name, opts)}}
	if f.opts.MaxValueLen == 0 {
		f.opts.MaxValueLen = 25
	}
	return f
}

func (f *HStoreField) Kind() Kind     { return KindHStore }
func (f *HStoreField) DBType() string { return "hstore" }

// PrepValue renders maps through HSTORE(keys, values) so no hstore codec needs
// to be registered on the connection.
func (f *HStoreField) PrepValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if e, ok := v.(expr.Expression); ok {
		return e, nil
	}
	keys, values, err := hstorePairs(f.name, v, true)
	if err != nil {
		return nil, err
	}
	return expr.HStore(keys, values), nil
}

// UpdateExpression merges ("" or a key name), merges without stringifying
// ("raw") or deletes keys ("del").
func (f *HStoreField) UpdateExpression(suffixes []string, value any) (Assignment, error) {
	col := expr.QuoteName(f.Column())
	lookup := strings.Join(suffixes, "__")
	switch lookup {
	case "", "raw":
		keys, values, err := hstorePairs(f.name, value, lookup == "")
		if err != nil {
			return Assignment{}, err
		}
		if lookup == "raw" {
			return Assignment{Column: col, Expr: expr.F(f.Column()).Cat(expr.Func{
				Name: "HSTORE",
				Args: []expr.Expression{expr.Value{V: keys, Cast: "text[]"}, expr.Value{V: values}},
			})}, nil
		}
		return Assignment{Column: col, Expr: expr.F(f.Column()).Cat(expr.HStore(keys, values))}, nil
	case "del":
		return Assignment{Column: col, Expr: expr.Delete(f.Column(), value)}, nil
	}
	if len(suffixes) == 1 {
		return Assignment{Column: col, Expr: expr.F(f.Column()).Cat(expr.HStore(suffixes[0], fmt.Sprint(value)))}, nil
	}
	return Assignment{}, &FieldError{Field: f.name, Lookup: lookup, Msg: "update lookup type not found"}
}

// hstorePairs splits a map into sorted keys and values.
func hstorePairs(field string, v any, stringify bool) ([]string, any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, nil, &FieldError{Field: field, Msg: fmt.Sprintf("expected a map with string keys, got %T", v)}
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	if stringify {
		values := make([]string, len(keys))
		for i, k := range keys {
			mv := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
			if (mv.Kind() == reflect.Interface || mv.Kind() == reflect.Pointer) && !mv.IsNil() {
				mv = mv.Elem()
			}
			if mv.IsValid() && !((mv.Kind() == reflect.Interface || mv.Kind() == reflect.Pointer) && mv.IsNil()) {
				values[i] = fmt.Sprint(mv.Interface())
			}
		}
		return keys, values, nil
	}
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()
	}
	return keys, values, nil
}

// JSONField is a jsonb column.
type JSONField struct {
	fieldBase
}

func JSONB(name string, opts ...Option) *JSONField {
	return &JSONField{fieldBase: fieldBase{name: name, opts: buildOptions(name, opts)}}
}

func (f *JSONField) Kind() Kind     { return KindJSON }
func (f *JSONField) DBType() string { return "jsonb" }

func (f *JSONField) PrepValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if e, ok := v.(expr.Expression); ok {
		return e, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &FieldError{Field: f.name, Msg: "value is not JSON serializable", Err: err}
	}
	return expr.Value{V: string(b), Cast: "jsonb"}, nil
}

// UpdateExpression merges a document ("") or deletes a key or "a__b" path ("del").
func (f *JSONField) UpdateExpression(suffixes []string, value any) (Assignment, error) {
	col := expr.QuoteName(f.Column())
	lookup := strings.Join(suffixes, "__")
	switch lookup {
	case "":
		doc, err := f.PrepValue(value)
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{Column: col, Expr: expr.F(f.Column()).Cat(doc)}, nil
	case "del":
		key, ok := value.(string)
		if !ok {
			return Assignment{}, &FieldError{Field: f.name, Lookup: lookup, Msg: fmt.Sprintf("expected a key or path string, got %T", value)}
		}
		if strings.Contains(key, "__") {
			return Assignment{Column: col, Expr: expr.F(f.Column()).DeletePath(expr.ArrayV(strings.Split(key, "__"), "text"))}, nil
		}
		return Assignment{Column: col, Expr: expr.F(f.Column()).Minus(expr.TypedV(key, "text"))}, nil
	}
	return Assignment{}, &FieldError{Field: f.name, Lookup: lookup, Msg: "update lookup type not found"}
}
