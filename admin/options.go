// Package admin builds the form fields an administration site uses to edit
// relations, including array-backed many-to-many relations.
package admin

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/forms"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

// MultipleSelectHelp is appended to the help text of plain multi-selects.
const MultipleSelectHelp = `Hold down "Control", or "Command" on a Mac, to select more than one.`

// Permissions are the related-object actions offered next to a relation widget.
type Permissions struct {
	Add    bool
	Change bool
	Delete bool
}

// Site is a registry of model admins.
type Site struct {
	// URLPrefix roots the links rendered by relation widgets.
	URLPrefix string

	mu       sync.RWMutex
	registry map[*model.Model]*ModelAdmin
}

func NewSite() *Site {
	return &Site{URLPrefix: "/admin/", registry: make(map[*model.Model]*ModelAdmin)}
}

// Register binds a to the site. A model can be registered once.
func (s *Site) Register(a *ModelAdmin) error {
	if a == nil || a.Model == nil {
		return fmt.Errorf("registering admin: model is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registry[a.Model]; ok {
		return fmt.Errorf("model %s is already registered", a.Model.Name)
	}
	a.Site = s
	s.registry[a.Model] = a
	return nil
}

func (s *Site) AdminFor(m *model.Model) (*ModelAdmin, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.registry[m]
	return a, ok
}

func (s *Site) url(m *model.Model, suffix string) string {
	prefix := "/admin/"
	if s != nil && s.URLPrefix != "" {
		prefix = s.URLPrefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.ToLower(m.Name) + "/" + suffix
}

// FieldOverride replaces the widget or help text of every form field built
// for a field kind.
type FieldOverride struct {
	Widget   forms.Widget
	HelpText *string
}

// FieldOptions are per-call overrides. Zero values keep the defaults.
type FieldOptions struct {
	Widget   forms.Widget
	HelpText *string
	QuerySet *query.QuerySet
}

// ModelAdmin describes how one model is edited.
type ModelAdmin struct {
	Model *model.Model
	Conn  db.DBTX
	Site  *Site

	RawIDFields      []string
	FilterVertical   []string
	FilterHorizontal []string

	FormFieldOverrides map[model.Kind]FieldOverride
	Permissions        Permissions
}

// FormFieldForManyToMany builds the multiple-choice field for a relation. A
// classic relation with an explicit through model gets no field (nil, nil).
func (a *ModelAdmin) FormFieldForManyToMany(f model.Field, opts FieldOptions) (forms.Field, error) {
	var target *model.Model
	var limit string
	switch rf := f.(type) {
	case *model.ManyToManyField:
		if !rf.ThroughAutoCreated() {
			return nil, nil
		}
		target = a.resolve(rf.To())
	case *model.ArrayManyToManyField:
		if rel := rf.Rel(); rel != nil {
			target, limit = rel.Target, rel.LimitChoicesTo
		}
	default:
		return nil, &model.FieldError{Model: a.Model.Name, Field: f.Name(), Msg: "not a many-to-many relation"}
	}
	if target == nil {
		return nil, &model.FieldError{Model: a.Model.Name, Field: f.Name(), Msg: "related model is not registered"}
	}

	o := f.Options()
	helpText := o.HelpText
	widget := opts.Widget
	if widget == nil {
		switch {
		case slices.Contains(a.RawIDFields, f.Name()):
			widget = &ManyToManyRawIDWidget{Target: target, Site: a.Site}
			helpText = ""
		case slices.Contains(a.FilterVertical, f.Name()):
			widget = NewFilteredSelectMultiple(o.VerboseName, true)
		case slices.Contains(a.FilterHorizontal, f.Name()):
			widget = NewFilteredSelectMultiple(o.VerboseName, false)
		}
	}
	if opts.HelpText != nil {
		helpText = *opts.HelpText
	}

	qs := opts.QuerySet
	if qs == nil {
		qs = query.Objects(a.Conn, target).Restrict(limit)
	}
	field := forms.NewModelMultipleChoiceField(qs, !o.Blank)
	if widget != nil {
		field.Widget = widget
	}
	field.Label = o.VerboseName
	field.HelpText = helpText

	switch field.Widget.(type) {
	case *forms.SelectMultiple, *FilteredSelectMultiple:
		if field.HelpText == "" {
			field.HelpText = MultipleSelectHelp
		} else {
			field.HelpText += " " + MultipleSelectHelp
		}
	}
	return field, nil
}

// FormFieldForDBField builds the form field for any model field. Array
// relations get the kind overrides and, unless edited by raw id, the
// related-object links of the related model's admin.
func (a *ModelAdmin) FormFieldForDBField(f model.Field, opts FieldOptions) (forms.Field, error) {
	if ov, ok := a.FormFieldOverrides[f.Kind()]; ok {
		if opts.Widget == nil {
			opts.Widget = ov.Widget
		}
		if opts.HelpText == nil {
			opts.HelpText = ov.HelpText
		}
	}

	if f.Kind() == model.KindM2M {
		return a.FormFieldForManyToMany(f, opts)
	}
	af, ok := f.(*model.ArrayManyToManyField)
	if !ok {
		field, err := forms.ForModelField(f)
		if err != nil {
			return nil, err
		}
		base := field.Base()
		if opts.Widget != nil {
			base.Widget = opts.Widget
		}
		if opts.HelpText != nil {
			base.HelpText = *opts.HelpText
		}
		return field, nil
	}

	field, err := a.FormFieldForManyToMany(af, opts)
	if err != nil || field == nil {
		return field, err
	}
	if slices.Contains(a.RawIDFields, f.Name()) {
		return field, nil
	}
	target := af.Rel().Target
	var perms Permissions
	if related, ok := a.Site.AdminFor(target); ok {
		perms = related.Permissions
	}
	base := field.Base()
	base.Widget = NewRelatedFieldWidgetWrapper(base.Widget, target, a.Site, perms)
	return field, nil
}

func (a *ModelAdmin) resolve(name string) *model.Model {
	if name == model.Self {
		return a.Model
	}
	reg := a.Model.Registry()
	if reg == nil {
		return nil
	}
	m, _ := reg.Get(name)
	return m
}
