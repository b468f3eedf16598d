package model

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spandigital/pgext/expr"
)

// Self names the declaring model as a relation target.
const Self = "self"

// ArrayManyToManyField stores the keys of related rows in an array column on
// the declaring model. The column is "<name>_ids".
type ArrayManyToManyField struct {
	fieldBase
	to  string
	rel *Rel
}

// ArrayManyToMany declares an array-backed many-to-many relation to the model
// registered as to (or Self).
func ArrayManyToMany(name, to string, opts ...Option) *ArrayManyToManyField {
	o := buildOptions(name, opts)
	if o.Column == name {
		o.Column = name + "_ids"
	}
	if o.Default == nil {
		o.Default = []any{}
	}
	o.Blank = true
	return &ArrayManyToManyField{fieldBase: fieldBase{name: name, opts: o}, to: to}
}

func (f *ArrayManyToManyField) Kind() Kind { return KindArrayM2M }

// To is the declared target model name.
func (f *ArrayManyToManyField) To() string { return f.to }

// Rel is nil until the registry resolves the target model.
func (f *ArrayManyToManyField) Rel() *Rel { return f.rel }

// Attname is the instance attribute and column holding the keys.
func (f *ArrayManyToManyField) Attname() string { return f.opts.Column }

// DBType follows the target field: serial keys become integer[], bigserial
// keys bigint[], everything else keeps its type.
func (f *ArrayManyToManyField) DBType() string {
	if f.rel == nil || f.rel.ToField == nil {
		return "integer[]"
	}
	if s, ok := f.rel.ToField.(*ScalarField); ok {
		return s.RelDBType() + "[]"
	}
	return f.rel.ToField.DBType() + "[]"
}

func (f *ArrayManyToManyField) PrepValue(v any) (any, error) {
	if v == nil {
		return []any{}, nil
	}
	if e, ok := v.(expr.Expression); ok {
		return e, nil
	}
	items, err := ToSlice(v)
	if err != nil {
		return nil, &FieldError{Field: f.name, Msg: err.Error()}
	}
	keys := make([]any, 0, len(items))
	for _, item := range items {
		k, err := f.ValidateItem(item)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ValidateItem turns a related instance or raw key into a normalized key.
// Instances of other models are rejected with a TypeError.
func (f *ArrayManyToManyField) ValidateItem(item any) (any, error) {
	if f.rel == nil {
		return nil, &FieldError{Field: f.name, Msg: fmt.Sprintf("related model %q is not registered", f.to)}
	}
	return f.rel.validate(f.rel.Target, f.rel.ToField, item)
}

// JoinOn renders the forward join predicate from the declaring model to the target.
func (f *ArrayManyToManyField) JoinOn(parentAlias, lhsCol, tableAlias, rhsCol string) string {
	return fmt.Sprintf("%s = ANY(%s)", qualify(tableAlias, rhsCol), qualify(parentAlias, lhsCol))
}

// JoinColumns returns the (source column, target column) pair of the forward join.
func (f *ArrayManyToManyField) JoinColumns() (string, string) {
	return f.Column(), f.rel.ToField.Column()
}

// ManyToManyField is a classic join-table relation. It has no column; pgext
// only needs it to refuse bulk assignment and to build admin form fields.
type ManyToManyField struct {
	fieldBase
	to          string
	through     string
	autoCreated bool
}

// ManyToMany declares a join-table relation. through is empty for an
// automatically created join table.
func ManyToMany(name, to, through string, opts ...Option) *ManyToManyField {
	o := buildOptions(name, opts)
	o.Column = ""
	return &ManyToManyField{fieldBase: fieldBase{name: name, opts: o}, to: to, through: through, autoCreated: through == ""}
}

func (f *ManyToManyField) Kind() Kind     { return KindM2M }
func (f *ManyToManyField) DBType() string { return "" }
func (f *ManyToManyField) To() string     { return f.to }
func (f *ManyToManyField) Through() string {
	if f.through == "" && f.model != nil {
		return f.model.Table + "_" + f.name
	}
	return f.through
}

// ThroughAutoCreated reports whether the join table is managed implicitly.
func (f *ManyToManyField) ThroughAutoCreated() bool { return f.autoCreated }

func (f *ManyToManyField) PrepValue(v any) (any, error) {
	return nil, &FieldError{Field: f.name, Msg: "many-to-many values cannot be assigned directly"}
}

// Rel describes both sides of an array-backed relation. It is built once when
// the registry resolves the field and is not modified afterwards.
type Rel struct {
	Field       *ArrayManyToManyField
	Model       *Model
	Target      *Model
	ToField     Field
	RelatedName string
	// RelatedQueryName is the name used to filter the target by the reverse side.
	RelatedQueryName string
	Symmetrical      bool
	LimitChoicesTo   string
	JoinRestriction  string
}

func newRel(f *ArrayManyToManyField, target *Model) (*Rel, error) {
	o := f.opts
	toField := target.PK()
	if o.ToField != "" {
		tf, ok := target.Field(o.ToField)
		if !ok {
			return nil, &FieldError{Model: target.Name, Field: o.ToField, Msg: "to_field does not exist"}
		}
		toField = tf
	}
	if toField == nil {
		return nil, &FieldError{Model: target.Name, Field: f.name, Msg: "target model has no primary key"}
	}
	symmetrical := f.to == Self
	if o.Symmetrical != nil {
		symmetrical = *o.Symmetrical
	}
	r := &Rel{
		Field:            f,
		Model:            f.model,
		Target:           target,
		ToField:          toField,
		RelatedName:      o.RelatedName,
		RelatedQueryName: o.RelatedQuery,
		Symmetrical:      symmetrical,
		LimitChoicesTo:   o.LimitTo,
		JoinRestriction:  o.JoinRestrict,
	}
	switch {
	case symmetrical && target == f.model:
		r.RelatedName = f.name + "_rel_+"
	case strings.HasSuffix(r.RelatedName, "+"):
		r.RelatedName = fmt.Sprintf("_%s_%s_+", strings.ToLower(f.model.Name), f.name)
	}
	return r, nil
}

// Hidden relations get no reverse accessor.
func (r *Rel) Hidden() bool { return strings.HasSuffix(r.RelatedName, "+") }

// SelfReferential reports whether source and target are the same model.
func (r *Rel) SelfReferential() bool { return r.Model == r.Target }

// AccessorName is the reverse accessor on the target model: the related name,
// or "<model>_set". Hidden relations return "".
func (r *Rel) AccessorName() string {
	if r.Hidden() {
		return ""
	}
	if r.RelatedName != "" {
		return r.RelatedName
	}
	return strings.ToLower(r.Model.Name) + "_set"
}

// QueryName is the name the target model uses to filter across the relation.
func (r *Rel) QueryName() string {
	switch {
	case r.RelatedQueryName != "":
		return r.RelatedQueryName
	case r.RelatedName != "" && !r.Hidden():
		return r.RelatedName
	default:
		return strings.ToLower(r.Model.Name)
	}
}

// JoinOn renders the reverse join predicate from the target back to the declaring model.
func (r *Rel) JoinOn(parentAlias, lhsCol, tableAlias, rhsCol string) string {
	return fmt.Sprintf("%s = ANY(%s)", qualify(parentAlias, lhsCol), qualify(tableAlias, rhsCol))
}

// JoinColumns returns the (target column, source column) pair of the reverse join.
func (r *Rel) JoinColumns() (string, string) {
	return r.ToField.Column(), r.Field.Column()
}

// ValidateOwner turns a source instance or raw key into a normalized key of
// the source model, as used by the reverse side.
func (r *Rel) ValidateOwner(item any) (any, error) {
	return r.validate(r.Model, r.Model.PK(), item)
}

func (r *Rel) validate(m *Model, keyField Field, item any) (any, error) {
	if inst, ok := item.(*Instance); ok {
		if inst.Model != m {
			return nil, &TypeError{Expected: m.Name, Got: fmt.Sprintf("%q instance", inst.Model.Name)}
		}
		v := inst.Get(keyField.Column())
		if v == nil {
			return nil, &IdentityError{Model: m.Name, Field: r.Field.name}
		}
		return NormalizeKey(v), nil
	}
	if item == nil {
		return nil, &TypeError{Expected: m.Name, Got: "nil"}
	}
	v, err := keyField.PrepValue(item)
	if err != nil {
		return nil, err
	}
	return NormalizeKey(v), nil
}

func qualify(alias, col string) string {
	if alias == "" {
		return expr.QuoteName(col)
	}
	return expr.QuoteName(alias) + "." + expr.QuoteName(col)
}

// ToSlice copies any slice or array into []any.
func ToSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a slice, got %T", v)
	}
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("expected a slice, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
