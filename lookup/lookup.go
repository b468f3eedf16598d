// Package lookup maps "field__lookup" filter names onto SQL conditions. Lookups
// are registered per field kind; transforms (array indexes and slices, hstore
// and json keys) are applied to the path before the final lookup.
package lookup

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

// Target is the left hand side of a lookup.
type Target struct {
	// Field is the model field the path started from.
	Field model.Field
	// Kind is the kind of LHS after transforms.
	Kind model.Kind
	LHS  expr.Expression
	// Elem prepares values compared with LHS, when known.
	Elem model.Field
}

// Lookup compiles one condition.
type Lookup func(t Target, value any) (expr.Expression, error)

// Registry holds lookups by field kind.
type Registry struct {
	mu      sync.RWMutex
	lookups map[model.Kind]map[string]Lookup
}

// New returns a registry with every builtin lookup installed.
func New() *Registry {
	r := &Registry{lookups: map[model.Kind]map[string]Lookup{}}
	registerScalar(r)
	registerArray(r)
	registerHStore(r)
	registerJSON(r)
	registerRelated(r)
	return r
}

// Default is the registry used by the query package.
var Default = New()

func (r *Registry) Register(kind model.Kind, name string, l Lookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookups[kind] == nil {
		r.lookups[kind] = map[string]Lookup{}
	}
	r.lookups[kind][name] = l
}

func (r *Registry) Get(kind model.Kind, name string) (Lookup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lookups[kind][name]
	return l, ok
}

// Names lists the lookups registered for kind, sorted.
func (r *Registry) Names(kind model.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.lookups[kind]))
	for n := range r.lookups[kind] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build compiles the lookup path that follows a field name, for example
// ["0", "contains"] for "tags__0__contains". An empty path means exact.
func (r *Registry) Build(f model.Field, lhs expr.Expression, path []string, value any) (expr.Expression, error) {
	t := Target{Field: f, Kind: f.Kind(), LHS: lhs, Elem: f}
	for i, part := range path {
		if i == len(path)-1 {
			if l, ok := r.Get(t.Kind, part); ok {
				return l(t, value)
			}
		}
		next, err := transform(t, part)
		if err != nil {
			return nil, err
		}
		t = next
	}
	l, ok := r.Get(t.Kind, "exact")
	if !ok {
		return nil, &model.FieldError{Field: f.Name(), Lookup: "exact", Msg: "unsupported lookup"}
	}
	return l(t, value)
}

func transform(t Target, part string) (Target, error) {
	switch t.Kind {
	case model.KindArray:
		arr, _ := t.Elem.(*model.ArrayField)
		if n, err := strconv.Atoi(part); err == nil && n >= 0 {
			next := Target{Field: t.Field, LHS: expr.Index(t.LHS, n), Kind: model.KindScalar}
			if arr != nil {
				next.Elem = arr.Base
				next.Kind = arr.Base.Kind()
			}
			return next, nil
		}
		if from, to, ok := parseSlice(part); ok {
			return Target{Field: t.Field, LHS: expr.SliceArray(t.LHS, from, to), Kind: model.KindArray, Elem: t.Elem}, nil
		}
	case model.KindHStore:
		return Target{Field: t.Field, LHS: expr.Wrap(t.LHS).Key(expr.TypedV(part, "text")), Kind: model.KindScalar}, nil
	case model.KindJSON:
		var key expr.Expression = expr.TypedV(part, "text")
		if n, err := strconv.Atoi(part); err == nil {
			key = expr.TypedV(n, "integer")
		}
		return Target{Field: t.Field, LHS: expr.Wrap(t.LHS).Key(key), Kind: model.KindJSON}, nil
	}
	return Target{}, &model.FieldError{Field: t.Field.Name(), Lookup: part, Msg: fmt.Sprintf("unsupported lookup for %s field", t.Kind)}
}

func parseSlice(part string) (int, int, bool) {
	a, b, ok := strings.Cut(part, "_")
	if !ok {
		return 0, 0, false
	}
	from, err1 := strconv.Atoi(a)
	to, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || from < 0 || to < from {
		return 0, 0, false
	}
	return from, to, true
}

// binary renders "lhs op rhs".
func binary(lhs expr.Expression, op string, rhs expr.Expression) (expr.Expression, error) {
	l, largs, err := expr.Nest(lhs)
	if err != nil {
		return nil, err
	}
	r, rargs, err := expr.Nest(rhs)
	if err != nil {
		return nil, err
	}
	return expr.Raw{SQL: l + " " + op + " " + r, Args: append(largs, rargs...)}, nil
}

// format substitutes rendered expressions for %s verbs.
func format(layout string, parts ...expr.Expression) (expr.Expression, error) {
	sqls := make([]any, len(parts))
	var args []any
	for i, p := range parts {
		s, a, err := expr.Nest(p)
		if err != nil {
			return nil, err
		}
		sqls[i] = s
		args = append(args, a...)
	}
	return expr.Raw{SQL: fmt.Sprintf(layout, sqls...), Args: args}, nil
}

func param(t Target, value any) (expr.Expression, error) {
	if e, ok := value.(expr.Expression); ok {
		return e, nil
	}
	if t.Elem != nil && t.Kind == model.KindScalar {
		v, err := t.Elem.PrepValue(value)
		if err != nil {
			return nil, err
		}
		if e, ok := v.(expr.Expression); ok {
			return e, nil
		}
		return expr.Value{V: v}, nil
	}
	return expr.Value{V: value}, nil
}
