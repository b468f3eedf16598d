package forms

import (
	"context"
	"errors"
	"maps"
)

// DefaultMaxValueLength bounds the values of key-only nested fields.
const DefaultMaxValueLength = 25

// NamedField is one member of a NestedField.
type NamedField struct {
	Name  string
	Field Field
}

// NestedOptions configure a NestedField. Exactly one of Fields or Keys must
// be set; Keys produce optional CharFields limited to MaxValueLength.
type NestedOptions struct {
	Fields           []NamedField
	Keys             []string
	RequireAllFields bool
	MaxValueLength   int
	Required         bool
	Label            string
	HelpText         string
}

// NestedField edits a map through one sub-field per key and cleans to a
// map[string]any.
type NestedField struct {
	BaseField
	RequireAllFields bool

	fields []Field
	labels []string
	names  map[string]string
}

// ErrFieldsOrKeys is returned by NewNestedField unless exactly one of
// Fields or Keys is given.
var ErrFieldsOrKeys = errors.New("NestedField requires either fields or keys but not both")

func NewNestedField(o NestedOptions) (*NestedField, error) {
	if (len(o.Fields) > 0) == (len(o.Keys) > 0) {
		return nil, ErrFieldsOrKeys
	}
	members := o.Fields
	if len(o.Keys) > 0 {
		maxLen := o.MaxValueLength
		if maxLen <= 0 {
			maxLen = DefaultMaxValueLength
		}
		members = make([]NamedField, len(o.Keys))
		for i, k := range o.Keys {
			members[i] = NamedField{Name: k, Field: NewCharField(maxLen, false)}
		}
	}
	f := &NestedField{
		BaseField:        BaseField{Label: o.Label, HelpText: o.HelpText, Required: o.Required},
		RequireAllFields: o.RequireAllFields,
		names:            make(map[string]string, len(members)),
	}
	widgets := make([]Widget, len(members))
	for i, m := range members {
		b := m.Field.Base()
		label := b.Label
		if label == "" {
			label = m.Name
		}
		if o.RequireAllFields {
			b.Required = false
		}
		f.names[label] = m.Name
		f.labels = append(f.labels, label)
		f.fields = append(f.fields, m.Field)
		widgets[i] = b.Widget
	}
	f.Widget = NewNestedWidget(f.labels, widgets, f.names, nil)
	return f, nil
}

// Labels returns the member labels in order.
func (f *NestedField) Labels() []string { return f.labels }

// Keys returns the member names in declaration order.
func (f *NestedField) Keys() []string {
	keys := make([]string, len(f.labels))
	for i, label := range f.labels {
		keys[i] = f.names[label]
	}
	return keys
}

// Compress zips cleaned member values to their names. Every member is
// present; members past the end of values map to "".
func (f *NestedField) Compress(values []any) map[string]any {
	out := make(map[string]any, len(f.labels))
	for i, label := range f.labels {
		var v any = ""
		if i < len(values) {
			v = values[i]
		}
		out[f.names[label]] = v
	}
	return out
}

// ToPython accepts an empty value or a map.
func (f *NestedField) ToPython(value any) (map[string]any, error) {
	if isEmpty(value) {
		return map[string]any{}, nil
	}
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	}
	return nil, &ValidationError{Code: "invalid_json", Message: "Enter a valid JSON."}
}

func (f *NestedField) widget() *NestedWidget {
	if w, ok := f.Widget.(*NestedWidget); ok {
		return w
	}
	return NewNestedWidget(f.labels, nil, f.names, nil)
}

// values spreads value over the members: lists pass, maps are decompressed.
func (f *NestedField) values(value any) ([]any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case []any:
		return v, true
	case []string:
		return stringsToAny(v), true
	case map[string]any, map[string]string, string, []byte:
		if isEmpty(v) {
			return nil, true
		}
		return f.widget().Decompress(v), true
	}
	return nil, false
}

// Clean cleans every member and compresses the result into a map.
func (f *NestedField) Clean(ctx context.Context, value any) (any, error) {
	values, ok := f.values(value)
	if !ok {
		return nil, &ValidationError{Code: "invalid", Message: "Enter a list of values."}
	}
	allEmpty := true
	for _, v := range values {
		if !isEmpty(v) {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		if f.Required {
			return nil, required()
		}
		return f.Compress(nil), nil
	}
	cleaned := make([]any, len(f.fields))
	var errs []error
	for i, member := range f.fields {
		var v any
		if i < len(values) {
			v = values[i]
		}
		if isEmpty(v) {
			if f.RequireAllFields {
				if f.Required {
					return nil, required()
				}
			} else if member.Base().Required {
				errs = append(errs, &ValidationError{Code: "incomplete", Message: "Enter a complete value.", Field: f.names[f.labels[i]]})
				continue
			}
		}
		c, err := member.Clean(ctx, v)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) && ve.Field == "" {
				ve.Field = f.names[f.labels[i]]
			}
			errs = append(errs, err)
			continue
		}
		cleaned[i] = c
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f.Compress(cleaned), nil
}

// HasChanged compares member by member; a nil initial value counts as empty
// members.
func (f *NestedField) HasChanged(initial, data any) bool {
	init, _ := f.values(initial)
	got, _ := f.values(data)
	for i, member := range f.fields {
		var a, b any
		if i < len(init) {
			a = init[i]
		}
		if i < len(got) {
			b = got[i]
		}
		if member.HasChanged(a, b) {
			return true
		}
	}
	return false
}

// Members returns a copy of the name to label mapping, keyed by label.
func (f *NestedField) Members() map[string]string { return maps.Clone(f.names) }
