package admin

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/spandigital/pgext/forms"
	"github.com/spandigital/pgext/model"
)

var templates = template.Must(template.New("admin").Parse(`
{{define "lookup"}}{{.Input}}<a href="{{.URL}}" class="related-lookup" id="lookup_id_{{.Name}}" title="Lookup"></a>{{end}}
{{define "wrapper"}}<div class="related-widget-wrapper">
{{.Widget}}
{{- if .CanChange}}
<a class="related-widget-wrapper-link change-related" id="change_id_{{.Name}}" data-href-template="{{.ChangeURL}}" title="Change selected {{.Model}}"></a>
{{- end}}
{{- if .CanAdd}}
<a class="related-widget-wrapper-link add-related" id="add_id_{{.Name}}" href="{{.AddURL}}" title="Add another {{.Model}}"></a>
{{- end}}
{{- if .CanDelete}}
<a class="related-widget-wrapper-link delete-related" id="delete_id_{{.Name}}" data-href-template="{{.DeleteURL}}" title="Delete selected {{.Model}}"></a>
{{- end}}
</div>{{end}}
`))

func execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// FilteredSelectMultiple is the two-box select used for filter_vertical and
// filter_horizontal relations.
type FilteredSelectMultiple struct {
	forms.SelectMultiple
	VerboseName string
	IsStacked   bool
}

func NewFilteredSelectMultiple(verboseName string, isStacked bool) *FilteredSelectMultiple {
	return &FilteredSelectMultiple{VerboseName: verboseName, IsStacked: isStacked}
}

func (w *FilteredSelectMultiple) Render(name string, value any, attrs forms.Attrs) (template.HTML, error) {
	class, stacked := "selectfilter", "0"
	if w.IsStacked {
		class, stacked = "selectfilterstacked", "1"
	}
	extra := forms.Attrs{"class": class, "data-field-name": w.VerboseName, "data-is-stacked": stacked}
	return w.SelectMultiple.Render(name, value, extra.Merge(attrs))
}

// ManyToManyRawIDWidget edits related keys as a comma separated list with a
// lookup link to the related changelist.
type ManyToManyRawIDWidget struct {
	Target *model.Model
	Site   *Site
	Attrs  forms.Attrs
}

func (w *ManyToManyRawIDWidget) Render(name string, value any, attrs forms.Attrs) (template.HTML, error) {
	keys := make([]string, 0)
	for _, v := range listOf(value) {
		if inst, ok := v.(*model.Instance); ok {
			v = inst.PK()
		}
		keys = append(keys, fmt.Sprint(v))
	}
	final := forms.Attrs{"class": "vManyToManyRawIdAdminField"}.Merge(w.Attrs).Merge(attrs)
	input, err := (&forms.Input{Type: "text", Attrs: final}).Render(name, strings.Join(keys, ","), nil)
	if err != nil {
		return "", err
	}
	lookup := w.Site.url(w.Target, "") + "?_to_field=" + url.QueryEscape(w.Target.PK().Name())
	return execute("lookup", struct {
		Input template.HTML
		URL   string
		Name  string
	}{input, lookup, name})
}

func (w *ManyToManyRawIDWidget) ValueFromData(data url.Values, name string) any {
	raw := data.Get(name)
	if raw == "" {
		return []any{}
	}
	parts := strings.Split(raw, ",")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func (w *ManyToManyRawIDWidget) IDForLabel(id string) string { return id }

// RelatedFieldWidgetWrapper adds the add/change/delete related links after
// a relation widget. Change and delete links are dropped for widgets that
// select several rows.
type RelatedFieldWidgetWrapper struct {
	Widget           forms.Widget
	Target           *model.Model
	Site             *Site
	CanAddRelated    bool
	CanChangeRelated bool
	CanDeleteRelated bool
}

func NewRelatedFieldWidgetWrapper(w forms.Widget, target *model.Model, site *Site, perms Permissions) *RelatedFieldWidgetWrapper {
	multiple := allowsMultiple(w)
	return &RelatedFieldWidgetWrapper{
		Widget:           w,
		Target:           target,
		Site:             site,
		CanAddRelated:    perms.Add,
		CanChangeRelated: perms.Change && !multiple,
		CanDeleteRelated: perms.Delete && !multiple,
	}
}

func (w *RelatedFieldWidgetWrapper) Render(name string, value any, attrs forms.Attrs) (template.HTML, error) {
	inner, err := w.Widget.Render(name, value, attrs)
	if err != nil {
		return "", err
	}
	return execute("wrapper", struct {
		Widget                       template.HTML
		Name, Model                  string
		CanAdd, CanChange, CanDelete bool
		AddURL, ChangeURL, DeleteURL string
	}{
		Widget:    inner,
		Name:      name,
		Model:     strings.ToLower(w.Target.Name),
		CanAdd:    w.CanAddRelated,
		CanChange: w.CanChangeRelated,
		CanDelete: w.CanDeleteRelated,
		AddURL:    w.Site.url(w.Target, "add/") + "?_to_field=" + url.QueryEscape(w.Target.PK().Name()) + "&_popup=1",
		ChangeURL: w.Site.url(w.Target, "__fk__/change/") + "?_to_field=" + url.QueryEscape(w.Target.PK().Name()) + "&_popup=1",
		DeleteURL: w.Site.url(w.Target, "__fk__/delete/") + "?_to_field=" + url.QueryEscape(w.Target.PK().Name()) + "&_popup=1",
	})
}

func (w *RelatedFieldWidgetWrapper) ValueFromData(data url.Values, name string) any {
	return w.Widget.ValueFromData(data, name)
}

func (w *RelatedFieldWidgetWrapper) IDForLabel(id string) string { return w.Widget.IDForLabel(id) }

func (w *RelatedFieldWidgetWrapper) Unwrap() forms.Widget { return w.Widget }

func (w *RelatedFieldWidgetWrapper) NeedsMultipartForm() bool {
	return forms.NeedsMultipartForm(w.Widget)
}

// allowsMultiple reports select widgets that pick several rows.
func allowsMultiple(w forms.Widget) bool {
	switch w.(type) {
	case *forms.SelectMultiple, *FilteredSelectMultiple, *forms.CheckboxSelectMultiple:
		return true
	}
	return false
}

func listOf(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []*model.Instance:
		out := make([]any, len(v))
		for i, inst := range v {
			out[i] = inst
		}
		return out
	}
	return []any{value}
}
