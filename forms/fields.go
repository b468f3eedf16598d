// Package forms provides the form fields and widgets used to edit models
// with array, hstore and json columns, including nested forms over the keys
// of a composite value.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

// Field validates one submitted value.
type Field interface {
	// Clean converts and validates a submitted value.
	Clean(ctx context.Context, value any) (any, error)
	// HasChanged reports whether data differs from initial.
	HasChanged(initial, data any) bool
	Base() *BaseField
}

// BaseField holds the settings shared by all fields.
type BaseField struct {
	Label    string
	HelpText string
	Required bool
	Initial  any
	Widget   Widget
}

func (b *BaseField) Base() *BaseField { return b }

func (b *BaseField) HasChanged(initial, data any) bool {
	return formatValue(initial) != formatValue(data)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// CharField accepts text. Surrounding whitespace is stripped.
type CharField struct {
	BaseField
	MaxLength int
}

func NewCharField(maxLength int, required bool) *CharField {
	return &CharField{BaseField: BaseField{Required: required, Widget: TextInput()}, MaxLength: maxLength}
}

func (f *CharField) Clean(_ context.Context, value any) (any, error) {
	s := strings.TrimSpace(formatValue(value))
	if s == "" {
		if f.Required {
			return nil, required()
		}
		return "", nil
	}
	if n := utf8.RuneCountInString(s); f.MaxLength > 0 && n > f.MaxLength {
		return nil, &ValidationError{
			Code:    "max_length",
			Message: fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", f.MaxLength, n),
		}
	}
	return s, nil
}

// ModelMultipleChoiceField selects rows of a queryset by key.
type ModelMultipleChoiceField struct {
	BaseField
	QuerySet *query.QuerySet
	// KeyField names the field matched against submitted values; the
	// primary key when empty.
	KeyField string
	// LabelFrom renders a choice label; Instance.String when nil.
	LabelFrom func(*model.Instance) string
}

func NewModelMultipleChoiceField(qs *query.QuerySet, required bool) *ModelMultipleChoiceField {
	return &ModelMultipleChoiceField{
		BaseField: BaseField{Required: required, Widget: &SelectMultiple{}},
		QuerySet:  qs,
	}
}

func (f *ModelMultipleChoiceField) keyField() (model.Field, error) {
	m := f.QuerySet.Model()
	if f.KeyField == "" {
		return m.PK(), nil
	}
	kf, ok := m.Field(f.KeyField)
	if !ok {
		return nil, &model.FieldError{Model: m.Name, Field: f.KeyField, Msg: "cannot resolve keyword into field"}
	}
	return kf, nil
}

// Clean returns the selected instances.
func (f *ModelMultipleChoiceField) Clean(ctx context.Context, value any) (any, error) {
	if !isEmpty(value) {
		if _, ok := value.([]any); !ok {
			if _, ok := value.([]string); !ok {
				return nil, &ValidationError{Code: "invalid_list", Message: "Enter a list of values."}
			}
		}
	}
	items := listOf(value)
	if len(items) == 0 {
		if f.Required {
			return nil, required()
		}
		return []*model.Instance{}, nil
	}
	kf, err := f.keyField()
	if err != nil {
		return nil, err
	}
	keys := make([]any, 0, len(items))
	for _, item := range items {
		k, err := kf.PrepValue(item)
		if err != nil || k == nil {
			return nil, &ValidationError{Code: "invalid_pk_value", Message: fmt.Sprintf("%q is not a valid value.", formatValue(item))}
		}
		keys = append(keys, model.NormalizeKey(k))
	}
	objs, err := f.QuerySet.Filter(kf.Name()+"__in", keys).All(ctx)
	if err != nil {
		return nil, err
	}
	found := make(map[any]bool, len(objs))
	for _, o := range objs {
		found[model.NormalizeKey(o.Get(kf.Column()))] = true
	}
	for i, k := range keys {
		if !found[k] {
			return nil, &ValidationError{
				Code:    "invalid_choice",
				Message: fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", formatValue(items[i])),
			}
		}
	}
	return objs, nil
}

func (f *ModelMultipleChoiceField) HasChanged(initial, data any) bool {
	a, b := listOf(initial), listOf(data)
	if len(a) != len(b) {
		return true
	}
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[formatValue(keyOf(v))] = true
	}
	for _, v := range b {
		if !seen[formatValue(keyOf(v))] {
			return true
		}
	}
	return false
}

func keyOf(v any) any {
	if inst, ok := v.(*model.Instance); ok {
		return inst.PK()
	}
	return v
}

// Choices lists the queryset as widget choices.
func (f *ModelMultipleChoiceField) Choices(ctx context.Context) ([]Choice, error) {
	kf, err := f.keyField()
	if err != nil {
		return nil, err
	}
	objs, err := f.QuerySet.All(ctx)
	if err != nil {
		return nil, err
	}
	label := f.LabelFrom
	if label == nil {
		label = (*model.Instance).String
	}
	out := make([]Choice, len(objs))
	for i, o := range objs {
		out[i] = Choice{Value: formatValue(o.Get(kf.Column())), Label: label(o)}
	}
	return out, nil
}

// LoadChoices fills the widget's choices from the queryset. Widgets without
// choices are left alone.
func (f *ModelMultipleChoiceField) LoadChoices(ctx context.Context) error {
	w, ok := chooser(f.Widget)
	if !ok {
		return nil
	}
	choices, err := f.Choices(ctx)
	if err != nil {
		return err
	}
	w.SetChoices(choices)
	return nil
}

type choiceSetter interface{ SetChoices([]Choice) }

// chooser finds the widget taking choices, looking through wrappers.
func chooser(w Widget) (choiceSetter, bool) {
	for w != nil {
		if c, ok := w.(choiceSetter); ok {
			return c, true
		}
		u, ok := w.(interface{ Unwrap() Widget })
		if !ok {
			return nil, false
		}
		w = u.Unwrap()
	}
	return nil, false
}

// ErrNeedsQuerySet is returned by ForModelField for relation fields, whose
// form field depends on a database connection.
var ErrNeedsQuerySet = errors.New("relation fields need a queryset")

// ForModelField returns the default form field of a model field. Hstore and
// json fields declared with keys get a NestedField.
func ForModelField(f model.Field) (Field, error) {
	o := f.Options()
	var out Field
	switch f.Kind() {
	case model.KindArrayM2M, model.KindM2M:
		return nil, fmt.Errorf("%s: %w", f.Name(), ErrNeedsQuerySet)
	case model.KindHStore, model.KindJSON:
		if len(o.Keys) > 0 {
			n, err := NewNestedField(NestedOptions{
				Keys:             o.Keys,
				RequireAllFields: o.RequireAll,
				MaxValueLength:   o.MaxValueLen,
				Required:         !o.Blank,
			})
			if err != nil {
				return nil, err
			}
			out = n
			break
		}
		out = NewCharField(0, !o.Blank)
	default:
		out = NewCharField(o.MaxLength, !o.Blank)
	}
	b := out.Base()
	b.Label = o.VerboseName
	b.HelpText = o.HelpText
	if o.Default != nil {
		if fn, ok := o.Default.(func() any); ok {
			b.Initial = fn()
		} else {
			b.Initial = o.Default
		}
	}
	return out, nil
}
