package forms_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spandigital/pgext/forms"
)

func textInputs(n int) []forms.Widget {
	out := make([]forms.Widget, n)
	for i := range out {
		out[i] = forms.TextInput()
	}
	return out
}

func TestNestedWidgetRender(t *testing.T) {
	tests := []struct {
		name   string
		widget *forms.NestedWidget
		value  any
		want   []string
	}{
		{
			name:   "text inputs",
			widget: forms.NewNestedWidget([]string{"A", "B", "C"}, textInputs(3), nil, nil),
			value:  []any{"john", "winston", "lennon"},
			want: []string{
				`<ul>`,
				`<li><label>A:</label><input type="text" name="name_a" value="john"></li>`,
				`<li><label>B:</label><input type="text" name="name_b" value="winston"></li>`,
				`<li><label>C:</label><input type="text" name="name_c" value="lennon"></li>`,
				`</ul>`,
			},
		},
		{
			name:   "constructor attrs",
			widget: forms.NewNestedWidget([]string{"A", "B"}, textInputs(2), nil, forms.Attrs{"id": "bar"}),
			value:  []any{"john", "winston"},
			want: []string{
				`<ul>`,
				`<li><label for="bar_a">A:</label><input type="text" name="name_a" value="john" id="bar_a"></li>`,
				`<li><label for="bar_b">B:</label><input type="text" name="name_b" value="winston" id="bar_b"></li>`,
				`</ul>`,
			},
		},
		{
			name: "nested widgets",
			widget: forms.NewNestedWidget([]string{"A", "B"}, []forms.Widget{
				forms.TextInput(),
				forms.NewNestedWidget([]string{"C", "D"}, textInputs(2), nil, nil),
			}, nil, nil),
			value: []any{"Singer", []any{"John", "Lennon"}},
			want: []string{
				`<ul>`,
				`<li><label>A:</label><input type="text" name="name_a" value="Singer"></li>`,
				`<li><label>B:</label><ul>`,
				`<li><label>C:</label><input type="text" name="name_b_c" value="John"></li>`,
				`<li><label>D:</label><input type="text" name="name_b_d" value="Lennon"></li>`,
				`</ul>`,
				`</li>`,
				`</ul>`,
			},
		},
		{
			name:   "map value with label names",
			widget: forms.NewNestedWidget([]string{"Post Code"}, textInputs(1), map[string]string{"Post Code": "zip"}, nil),
			value:  map[string]any{"zip": "D02"},
			want: []string{
				`<ul>`,
				`<li><label>Post Code:</label><input type="text" name="name_postcode" value="D02"></li>`,
				`</ul>`,
			},
		},
		{
			name:   "escapes values",
			widget: forms.NewNestedWidget([]string{"A"}, textInputs(1), nil, nil),
			value:  []any{`"><b>`},
			want: []string{
				`<ul>`,
				`<li><label>A:</label><input type="text" name="name_a" value="&#34;&gt;&lt;b&gt;"></li>`,
				`</ul>`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.widget.Render("name", tt.value, nil)
			require.NoError(t, err)
			assert.Equal(t, strings.Join(tt.want, "\n")+"\n", string(got))
		})
	}
}

func TestNestedWidgetDecompress(t *testing.T) {
	w := forms.NewNestedWidget([]string{"a", "b"}, textInputs(2), nil, nil)

	assert.Nil(t, w.Decompress(nil))
	assert.Nil(t, w.Decompress(map[string]any{}))
	assert.Nil(t, w.Decompress("not json"))
	assert.Nil(t, w.Decompress(`[1, 2]`))
	assert.Equal(t, []any{"d", ""}, w.Decompress(map[string]any{"a": "d"}))
	assert.Equal(t, []any{"x", "y"}, w.Decompress(map[string]string{"a": "x", "b": "y"}))
	assert.Equal(t,
		[]any{"x", map[string]any{"c": float64(1)}},
		w.Decompress([]byte(`{"a": "x", "b": {"c": 1}}`)))
}

func TestNestedWidgetData(t *testing.T) {
	w := forms.NewNestedWidget([]string{"A", "Label Two", "C"}, textInputs(3), nil, nil)
	data := url.Values{"f1_a": {"d"}, "f1_labeltwo": {"e"}}
	assert.Equal(t, []any{"d", "e", nil}, w.ValueFromData(data, "f1"))
	assert.Equal(t, "id_f1_a", w.IDForLabel("id_f1"))

	assert.False(t, forms.NeedsMultipartForm(w))
	assert.True(t, forms.NeedsMultipartForm(forms.NewNestedWidget(
		[]string{"text", "file"}, []forms.Widget{forms.TextInput(), forms.FileInput()}, nil, nil)))
}

func TestNestedWidgetClone(t *testing.T) {
	w1 := forms.NewNestedWidget([]string{"A", "B", "C"}, textInputs(3), nil, nil)
	w2 := w1.Clone()
	w2.Labels = append(w2.Labels, "d")
	w2.Labels[0] = "changed"
	assert.Equal(t, []string{"A", "B", "C"}, w1.Labels)
}

func TestNestedField(t *testing.T) {
	ctx := context.Background()

	t.Run("requires fields or keys", func(t *testing.T) {
		_, err := forms.NewNestedField(forms.NestedOptions{})
		assert.ErrorIs(t, err, forms.ErrFieldsOrKeys)
		_, err = forms.NewNestedField(forms.NestedOptions{
			Keys:   []string{"a"},
			Fields: []forms.NamedField{{Name: "b", Field: forms.NewCharField(5, false)}},
		})
		assert.ErrorIs(t, err, forms.ErrFieldsOrKeys)
	})

	t.Run("valid", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"a", "b", "c"}})
		require.NoError(t, err)
		got, err := f.Clean(ctx, []any{"d", "", "f"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "d", "b": "", "c": "f"}, got)
		assert.Equal(t, []string{"a", "b", "c"}, f.Labels())
	})

	t.Run("empty", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"a"}})
		require.NoError(t, err)
		got, err := f.Clean(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": ""}, got)

		f.Required = true
		_, err = f.Clean(ctx, []any{"", nil})
		var ve *forms.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "required", ve.Code)
	})

	t.Run("every key is present", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"Industry", "Release"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"Industry", "Release"}, f.Keys())
		assert.Equal(t, map[string]any{"Industry": "", "Release": ""}, f.Compress(nil))
		assert.Equal(t, map[string]any{"Industry": "Music", "Release": ""}, f.Compress([]any{"Music"}))

		got, err := f.Clean(ctx, []any{"", ""})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"Industry": "", "Release": ""}, got)
	})

	t.Run("keys follow member names", func(t *testing.T) {
		country := forms.NewCharField(10, false)
		country.Label = "Country of origin"
		f, err := forms.NewNestedField(forms.NestedOptions{Fields: []forms.NamedField{
			{Name: "country", Field: country},
			{Name: "city", Field: forms.NewCharField(10, false)},
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{"Country of origin", "city"}, f.Labels())
		assert.Equal(t, []string{"country", "city"}, f.Keys())
	})

	t.Run("map input", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"a", "b"}})
		require.NoError(t, err)
		got, err := f.Clean(ctx, map[string]any{"b": " x "})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "", "b": "x"}, got)
	})

	t.Run("max value length", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"a"}})
		require.NoError(t, err)
		_, err = f.Clean(ctx, []any{strings.Repeat("x", 26)})
		var ve *forms.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "max_length", ve.Code)
		assert.Equal(t, "a", ve.Field)

		f, err = forms.NewNestedField(forms.NestedOptions{Keys: []string{"a"}, MaxValueLength: 30})
		require.NoError(t, err)
		_, err = f.Clean(ctx, []any{strings.Repeat("x", 26)})
		assert.NoError(t, err)
	})

	t.Run("require all fields", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"a", "b"}, RequireAllFields: true, Required: true})
		require.NoError(t, err)
		_, err = f.Clean(ctx, []any{"x", ""})
		var ve *forms.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "required", ve.Code)
	})

	t.Run("incomplete member", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Fields: []forms.NamedField{
			{Name: "name", Field: forms.NewCharField(10, true)},
			{Name: "country", Field: forms.NewCharField(10, false)},
		}})
		require.NoError(t, err)
		_, err = f.Clean(ctx, []any{"", "IE"})
		var ve *forms.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "incomplete", ve.Code)
		assert.Equal(t, "name", ve.Field)
	})

	t.Run("nested fields", func(t *testing.T) {
		brand, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"Name", "Country"}})
		require.NoError(t, err)
		f, err := forms.NewNestedField(forms.NestedOptions{Fields: []forms.NamedField{
			{Name: "Brand", Field: brand},
			{Name: "Type", Field: forms.NewCharField(25, false)},
		}})
		require.NoError(t, err)

		data := url.Values{"details_brand_name": {"Adidas"}, "details_brand_country": {"Germany"}, "details_type": {"Runners"}}
		got, err := f.Clean(ctx, f.Widget.ValueFromData(data, "details"))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"Brand": map[string]any{"Name": "Adidas", "Country": "Germany"},
			"Type":  "Runners",
		}, got)
	})

	t.Run("to python", func(t *testing.T) {
		f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"a"}})
		require.NoError(t, err)
		got, err := f.ToPython(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = f.ToPython(map[string]any{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1}, got)

		_, err = f.ToPython(5)
		var ve *forms.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "invalid_json", ve.Code)
	})
}

func TestNestedFieldHasChanged(t *testing.T) {
	f, err := forms.NewNestedField(forms.NestedOptions{Keys: []string{"a", "b", "c"}})
	require.NoError(t, err)

	assert.False(t, f.HasChanged(nil, nil))
	assert.False(t, f.HasChanged(nil, []any{"", nil, ""}))
	assert.True(t, f.HasChanged(nil, f.Widget.ValueFromData(url.Values{"f1_a": {"d"}, "f1_c": {"f"}}, "f1")))
	assert.True(t, f.HasChanged(map[string]any{"a": "d", "c": "f"}, []any{"g", nil, nil}))
	assert.False(t, f.HasChanged(map[string]any{"a": "d"}, []any{"d", "", ""}))
}
