package model

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/spandigital/pgext/expr"
)

// Kind groups fields for lookup registration.
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindHStore
	KindJSON
	KindArrayM2M
	KindM2M
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindHStore:
		return "hstore"
	case KindJSON:
		return "json"
	case KindArrayM2M:
		return "array_m2m"
	case KindM2M:
		return "m2m"
	default:
		return "scalar"
	}
}

// Field is a model attribute backed by a column (or, for classic many-to-many
// relations, by a join table).
type Field interface {
	Name() string
	Column() string
	DBType() string
	Kind() Kind
	Model() *Model
	PrimaryKey() bool
	Indexed() bool
	Unique() bool
	Null() bool
	Options() Options
	// PrepValue converts a Go value into a query parameter for this field.
	PrepValue(v any) (any, error)

	attach(m *Model)
}

// Assignment is one SET target generated by a composite update.
type Assignment struct {
	// Column is the quoted assignment target, possibly subscripted.
	Column string
	Expr   expr.Expression
}

// CompositeUpdater is implemented by fields that accept "field__suffix"
// pseudo-lookups in QuerySet.Update.
type CompositeUpdater interface {
	UpdateExpression(suffixes []string, value any) (Assignment, error)
}

// Options are the declaration flags shared by every field constructor.
// Constructors ignore the flags that do not apply to them.
type Options struct {
	Column       string
	PrimaryKey   bool
	Indexed      bool
	Unique       bool
	Null         bool
	Blank        bool
	Default      any
	MaxLength    int
	VerboseName  string
	HelpText     string
	Keys         []string
	MaxValueLen  int
	RequireAll   bool
	RelatedName  string
	RelatedQuery string
	Symmetrical  *bool
	ToField      string
	LimitTo      string
	JoinRestrict string
}

type Option func(*Options)

func DBColumn(name string) Option { return func(o *Options) { o.Column = name } }
func PrimaryKey() Option          { return func(o *Options) { o.PrimaryKey = true } }
func Indexed() Option             { return func(o *Options) { o.Indexed = true } }
func Unique() Option              { return func(o *Options) { o.Unique = true } }
func Null() Option                { return func(o *Options) { o.Null = true } }
func Blank() Option               { return func(o *Options) { o.Blank = true } }
func Default(v any) Option        { return func(o *Options) { o.Default = v } }
func MaxLength(n int) Option      { return func(o *Options) { o.MaxLength = n } }
func VerboseName(s string) Option { return func(o *Options) { o.VerboseName = s } }
func HelpText(s string) Option    { return func(o *Options) { o.HelpText = s } }
func Keys(keys ...string) Option  { return func(o *Options) { o.Keys = keys } }
func MaxValueLength(n int) Option { return func(o *Options) { o.MaxValueLen = n } }
func RequireAllFields() Option    { return func(o *Options) { o.RequireAll = true } }
func RelatedName(s string) Option { return func(o *Options) { o.RelatedName = s } }
func RelatedQueryName(s string) Option {
	return func(o *Options) { o.RelatedQuery = s }
}
func Symmetrical(b bool) Option  { return func(o *Options) { o.Symmetrical = &b } }
func ToField(name string) Option { return func(o *Options) { o.ToField = name } }

// LimitChoicesTo restricts the related choices with a CEL expression over the
// target model's columns.
func LimitChoicesTo(cel string) Option { return func(o *Options) { o.LimitTo = cel } }

// JoinRestriction adds a CEL condition over the target model's columns to
// every join through the relation.
func JoinRestriction(cel string) Option { return func(o *Options) { o.JoinRestrict = cel } }

func buildOptions(name string, opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Column == "" {
		o.Column = name
	}
	if o.VerboseName == "" {
		o.VerboseName = strings.ReplaceAll(name, "_", " ")
	}
	return o
}

type fieldBase struct {
	name  string
	opts  Options
	model *Model
}

func (f *fieldBase) Name() string     { return f.name }
func (f *fieldBase) Column() string   { return f.opts.Column }
func (f *fieldBase) Model() *Model    { return f.model }
func (f *fieldBase) PrimaryKey() bool { return f.opts.PrimaryKey }
func (f *fieldBase) Indexed() bool    { return f.opts.Indexed }
func (f *fieldBase) Unique() bool     { return f.opts.Unique || f.opts.PrimaryKey }
func (f *fieldBase) Null() bool       { return f.opts.Null }
func (f *fieldBase) Options() Options { return f.opts }
func (f *fieldBase) attach(m *Model)  { f.model = m }
func (f *fieldBase) String() string {
	if f.model == nil {
		return f.name
	}
	return f.model.Name + "." + f.name
}

type scalarType int

const (
	typeAuto scalarType = iota
	typeBigAuto
	typeInteger
	typeBigInteger
	typeChar
	typeText
	typeBoolean
	typeUUID
	typeTimestamp
	typeFloat
)

// ScalarField is a column holding a single value.
type ScalarField struct {
	fieldBase
	typ scalarType
}

func newScalar(name string, typ scalarType, opts []Option) *ScalarField {
	return &ScalarField{fieldBase: fieldBase{name: name, opts: buildOptions(name, opts)}, typ: typ}
}

// Auto is a serial primary key.
func Auto(name string, opts ...Option) *ScalarField {
	return newScalar(name, typeAuto, append([]Option{PrimaryKey()}, opts...))
}

// BigAuto is a bigserial primary key.
func BigAuto(name string, opts ...Option) *ScalarField {
	return newScalar(name, typeBigAuto, append([]Option{PrimaryKey()}, opts...))
}

func Integer(name string, opts ...Option) *ScalarField {
	return newScalar(name, typeInteger, opts)
}

func BigInteger(name string, opts ...Option) *ScalarField {
	return newScalar(name, typeBigInteger, opts)
}

func Char(name string, maxLength int, opts ...Option) *ScalarField {
	return newScalar(name, typeChar, append([]Option{MaxLength(maxLength)}, opts...))
}

func Text(name string, opts ...Option) *ScalarField    { return newScalar(name, typeText, opts) }
func Boolean(name string, opts ...Option) *ScalarField { return newScalar(name, typeBoolean, opts) }
func UUID(name string, opts ...Option) *ScalarField    { return newScalar(name, typeUUID, opts) }
func Float(name string, opts ...Option) *ScalarField   { return newScalar(name, typeFloat, opts) }

func Timestamp(name string, opts ...Option) *ScalarField {
	return newScalar(name, typeTimestamp, opts)
}

func (f *ScalarField) Kind() Kind { return KindScalar }

func (f *ScalarField) DBType() string {
	switch f.typ {
	case typeAuto:
		return "serial"
	case typeBigAuto:
		return "bigserial"
	case typeInteger:
		return "integer"
	case typeBigInteger:
		return "bigint"
	case typeChar:
		if f.opts.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", f.opts.MaxLength)
		}
		return "varchar"
	case typeBoolean:
		return "boolean"
	case typeUUID:
		return "uuid"
	case typeTimestamp:
		return "timestamp with time zone"
	case typeFloat:
		return "double precision"
	default:
		return "text"
	}
}

// RelDBType is the type other columns use to reference this one.
func (f *ScalarField) RelDBType() string {
	switch f.typ {
	case typeAuto:
		return "integer"
	case typeBigAuto:
		return "bigint"
	default:
		return f.DBType()
	}
}

// Auto reports whether the database assigns the value.
func (f *ScalarField) Auto() bool { return f.typ == typeAuto || f.typ == typeBigAuto }

func (f *ScalarField) integral() bool {
	switch f.typ {
	case typeAuto, typeBigAuto, typeInteger, typeBigInteger:
		return true
	}
	return false
}

func (f *ScalarField) PrepValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if e, ok := v.(expr.Expression); ok {
		return e, nil
	}
	switch {
	case f.integral():
		return toInt64(f.name, v)
	case f.typ == typeUUID:
		return toUUID(f.name, v)
	case f.typ == typeChar:
		s, ok := v.(string)
		if !ok {
			return nil, &FieldError{Field: f.name, Msg: fmt.Sprintf("expected string, got %T", v)}
		}
		if f.opts.MaxLength > 0 && len([]rune(s)) > f.opts.MaxLength {
			return nil, &FieldError{Field: f.name, Msg: fmt.Sprintf("value longer than %d characters", f.opts.MaxLength)}
		}
		return s, nil
	}
	return v, nil
}

func toInt64(field string, v any) (any, error) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, &FieldError{Field: field, Msg: fmt.Sprintf("invalid integer %q", t), Err: err}
		}
		return n, nil
	case float64:
		if t != float64(int64(t)) {
			return nil, &FieldError{Field: field, Msg: fmt.Sprintf("invalid integer %v", t)}
		}
		return int64(t), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	}
	return nil, &FieldError{Field: field, Msg: fmt.Sprintf("expected integer, got %T", v)}
}

func toUUID(field string, v any) (any, error) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case [16]byte:
		return uuid.UUID(t), nil
	case string:
		u, err := uuid.Parse(t)
		if err != nil {
			return nil, &FieldError{Field: field, Msg: fmt.Sprintf("invalid uuid %q", t), Err: err}
		}
		return u, nil
	}
	return nil, &FieldError{Field: field, Msg: fmt.Sprintf("expected uuid, got %T", v)}
}
