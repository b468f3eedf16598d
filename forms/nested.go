package forms

import (
	"html/template"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// NestedWidget renders one labelled sub-widget per key of a nested value,
// as an unordered list. Labels double as the suffix of each sub-widget's
// name and id: "Label One" under "f" becomes "f_labelone".
type NestedWidget struct {
	Labels  []string
	Widgets []Widget
	// Names maps labels to keys of the decompressed value.
	Names map[string]string
	Attrs Attrs

	idNames []string
}

// NewNestedWidget pairs labels with widgets by index. A nil names map uses
// the labels as keys.
func NewNestedWidget(labels []string, widgets []Widget, names map[string]string, attrs Attrs) *NestedWidget {
	if names == nil {
		names = make(map[string]string, len(labels))
		for _, l := range labels {
			names[l] = l
		}
	}
	w := &NestedWidget{Labels: labels, Widgets: widgets, Names: names, Attrs: attrs}
	w.idNames = make([]string, len(labels))
	for i, l := range labels {
		w.idNames[i] = idName(l)
	}
	return w
}

func idName(label string) string {
	return strings.ReplaceAll(strings.ToLower(label), " ", "")
}

// Decompress spreads a nested value over the sub-widgets in label order.
// Maps and JSON objects are accepted; missing keys become "".
func (w *NestedWidget) Decompress(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		if len(v) == 0 {
			return nil
		}
		return w.pick(func(key string) (any, bool) { x, ok := v[key]; return x, ok })
	case map[string]string:
		if len(v) == 0 {
			return nil
		}
		return w.pick(func(key string) (any, bool) { x, ok := v[key]; return x, ok })
	case string:
		return w.decompressJSON(v)
	case []byte:
		return w.decompressJSON(string(v))
	}
	return nil
}

func (w *NestedWidget) decompressJSON(raw string) []any {
	if strings.TrimSpace(raw) == "" || !gjson.Valid(raw) {
		return nil
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil
	}
	members := doc.Map()
	return w.pick(func(key string) (any, bool) {
		r, ok := members[key]
		return r.Value(), ok
	})
}

func (w *NestedWidget) pick(get func(key string) (any, bool)) []any {
	out := make([]any, len(w.Labels))
	for i, l := range w.Labels {
		v, ok := get(w.Names[l])
		if !ok {
			v = ""
		}
		out[i] = v
	}
	return out
}

type nestedItem struct {
	Label  string
	For    string
	Widget template.HTML
}

// Render writes a <ul> with one <li><label>Label:</label>widget</li> per
// sub-widget. With an id attribute each sub-widget gets "<id>_<idname>".
func (w *NestedWidget) Render(name string, value any, attrs Attrs) (template.HTML, error) {
	values, ok := value.([]any)
	if !ok {
		if s, isStrings := value.([]string); isStrings {
			values = stringsToAny(s)
		} else {
			values = w.Decompress(value)
		}
	}
	final := w.Attrs.Merge(attrs)
	baseID := final["id"]
	items := make([]nestedItem, len(w.Widgets))
	for i, sub := range w.Widgets {
		var v any
		if i < len(values) {
			v = values[i]
		}
		subAttrs := final
		items[i].Label = w.Labels[i]
		if baseID != "" {
			id := baseID + "_" + w.idNames[i]
			subAttrs = final.Merge(Attrs{"id": id})
			items[i].For = sub.IDForLabel(id)
		}
		html, err := sub.Render(name+"_"+w.idNames[i], v, subAttrs)
		if err != nil {
			return "", err
		}
		items[i].Widget = html
	}
	return execute("nested", items)
}

// ValueFromData collects each sub-widget's value from "<name>_<idname>".
func (w *NestedWidget) ValueFromData(data url.Values, name string) any {
	out := make([]any, len(w.Widgets))
	for i, sub := range w.Widgets {
		out[i] = sub.ValueFromData(data, name+"_"+w.idNames[i])
	}
	return out
}

func (w *NestedWidget) IDForLabel(id string) string {
	if id == "" || len(w.idNames) == 0 {
		return id
	}
	return id + "_" + w.idNames[0]
}

func (w *NestedWidget) NeedsMultipartForm() bool {
	return slices.ContainsFunc(w.Widgets, NeedsMultipartForm)
}

// Clone returns a copy whose label, name and widget lists are independent
// of w.
func (w *NestedWidget) Clone() *NestedWidget {
	c := *w
	c.Labels = slices.Clone(w.Labels)
	c.Widgets = slices.Clone(w.Widgets)
	c.idNames = slices.Clone(w.idNames)
	c.Names = maps.Clone(w.Names)
	c.Attrs = w.Attrs.Merge(nil)
	return &c
}
