package forms

import (
	"bytes"
	"fmt"
	"html/template"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// Attrs are HTML attributes of a rendered widget.
type Attrs map[string]string

// Merge returns a copy of a overlaid with other.
func (a Attrs) Merge(other Attrs) Attrs {
	out := make(Attrs, len(a)+len(other))
	maps.Copy(out, a)
	maps.Copy(out, other)
	return out
}

// HTML renders the attributes in name order, each with a leading space.
func (a Attrs) HTML() template.HTMLAttr {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(a)) {
		fmt.Fprintf(&b, ` %s="%s"`, template.HTMLEscapeString(k), template.HTMLEscapeString(a[k]))
	}
	return template.HTMLAttr(b.String())
}

// Widget renders a form value and reads it back from submitted data.
type Widget interface {
	Render(name string, value any, attrs Attrs) (template.HTML, error)
	ValueFromData(data url.Values, name string) any
	// IDForLabel returns the id a <label for> should point at, or "".
	IDForLabel(id string) string
}

// NeedsMultipartForm reports whether w, or any widget inside it, uploads
// files.
func NeedsMultipartForm(w Widget) bool {
	m, ok := w.(interface{ NeedsMultipartForm() bool })
	return ok && m.NeedsMultipartForm()
}

var templates = template.Must(template.New("forms").Parse(`
{{define "input"}}<input type="{{.Type}}" name="{{.Name}}"{{if .Value}} value="{{.Value}}"{{end}}{{.Attrs}}>{{end}}
{{define "select"}}<select name="{{.Name}}"{{.Attrs}} multiple>
{{range .Options}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>
{{end}}</select>{{end}}
{{define "checkboxes"}}<ul{{.Attrs}}>
{{range .Options}}<li><label><input type="checkbox" name="{{$.Name}}" value="{{.Value}}"{{if .Selected}} checked{{end}}> {{.Label}}</label></li>
{{end}}</ul>{{end}}
{{define "nested"}}<ul>
{{range .}}<li><label{{if .For}} for="{{.For}}"{{end}}>{{.Label}}:</label>{{.Widget}}</li>
{{end}}</ul>
{{end}}
`))

func execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// formatValue is the string shown for v; nil renders as no value.
func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Input is a single <input> element.
type Input struct {
	Type  string
	Attrs Attrs
}

func TextInput() *Input { return &Input{Type: "text"} }
func FileInput() *Input { return &Input{Type: "file"} }

func (w *Input) Render(name string, value any, attrs Attrs) (template.HTML, error) {
	return execute("input", struct {
		Type, Name, Value string
		Attrs             template.HTMLAttr
	}{w.Type, name, formatValue(value), w.Attrs.Merge(attrs).HTML()})
}

func (w *Input) ValueFromData(data url.Values, name string) any {
	if _, ok := data[name]; !ok {
		return nil
	}
	return data.Get(name)
}

func (w *Input) IDForLabel(id string) string { return id }

func (w *Input) NeedsMultipartForm() bool { return w.Type == "file" }

// Choice is one selectable option.
type Choice struct {
	Value string
	Label string
}

type option struct {
	Choice
	Selected bool
}

func options(choices []Choice, value any) []option {
	selected := map[string]bool{}
	for _, v := range listOf(value) {
		selected[formatValue(v)] = true
	}
	out := make([]option, len(choices))
	for i, c := range choices {
		out[i] = option{Choice: c, Selected: selected[c.Value]}
	}
	return out
}

// SelectMultiple is a <select multiple> element.
type SelectMultiple struct {
	Choices []Choice
	Attrs   Attrs
}

func (w *SelectMultiple) Render(name string, value any, attrs Attrs) (template.HTML, error) {
	return execute("select", struct {
		Name    string
		Attrs   template.HTMLAttr
		Options []option
	}{name, w.Attrs.Merge(attrs).HTML(), options(w.Choices, value)})
}

func (w *SelectMultiple) ValueFromData(data url.Values, name string) any {
	return stringsToAny(data[name])
}

func (w *SelectMultiple) IDForLabel(id string) string { return id }

func (w *SelectMultiple) SetChoices(choices []Choice) { w.Choices = choices }

// CheckboxSelectMultiple renders one checkbox per choice.
type CheckboxSelectMultiple struct {
	Choices []Choice
	Attrs   Attrs
}

func (w *CheckboxSelectMultiple) Render(name string, value any, attrs Attrs) (template.HTML, error) {
	return execute("checkboxes", struct {
		Name    string
		Attrs   template.HTMLAttr
		Options []option
	}{name, w.Attrs.Merge(attrs).HTML(), options(w.Choices, value)})
}

func (w *CheckboxSelectMultiple) ValueFromData(data url.Values, name string) any {
	return stringsToAny(data[name])
}

func (w *CheckboxSelectMultiple) IDForLabel(string) string { return "" }

func (w *CheckboxSelectMultiple) SetChoices(choices []Choice) { w.Choices = choices }

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// listOf turns a submitted or initial value into a list; scalars become a
// one-element list.
func listOf(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		return stringsToAny(v)
	}
	return []any{value}
}
