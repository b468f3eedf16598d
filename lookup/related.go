package lookup

import (
	"fmt"
	"slices"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

// RelatedNames are the lookups accepted by array-backed relation fields.
var RelatedNames = []string{"in", "exact", "exactly", "contains", "contained_by", "overlap", "gt", "gte", "lt", "lte"}

// ReverseNames are the lookups accepted across a reverse relation.
var ReverseNames = []string{"exact", "in", "gt", "gte", "lt", "lte", "isnull"}

// relatedKeys normalizes instances and raw keys (single or slice) into target keys.
func relatedKeys(f model.Field, value any) ([]any, error) {
	m2m, ok := f.(*model.ArrayManyToManyField)
	if !ok {
		return nil, &model.FieldError{Field: f.Name(), Msg: "not an array relation"}
	}
	items, err := model.ToSlice(value)
	if err != nil {
		items = []any{value}
	}
	keys := make([]any, 0, len(items))
	for _, item := range items {
		k, err := m2m.ValidateItem(item)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func relatedArray(l Lookup) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		if _, ok := value.(expr.Expression); ok {
			return l(t, value)
		}
		keys, err := relatedKeys(t.Field, value)
		if err != nil {
			return nil, err
		}
		return l(t, keys)
	}
}

func relatedScalar(l Lookup) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		if _, ok := value.(expr.Expression); ok {
			return l(t, value)
		}
		m2m, ok := t.Field.(*model.ArrayManyToManyField)
		if !ok {
			return nil, &model.FieldError{Field: t.Field.Name(), Msg: "not an array relation"}
		}
		key, err := m2m.ValidateItem(value)
		if err != nil {
			return nil, err
		}
		return l(t, key)
	}
}

func registerRelated(r *Registry) {
	k := model.KindArrayM2M
	r.Register(k, "in", relatedArray(arrayOp("&&")))
	r.Register(k, "overlap", relatedArray(arrayOp("&&")))
	r.Register(k, "exact", relatedArray(arrayOp("@>")))
	r.Register(k, "contains", relatedArray(arrayOp("@>")))
	r.Register(k, "exactly", relatedArray(arrayExactly))
	r.Register(k, "contained_by", relatedArray(arrayOp("<@")))
	for _, name := range []string{"gt", "gte", "lt", "lte"} {
		r.Register(k, name, relatedScalar(quantified("any", anyAllOperators[name])))
	}
}

// Related compiles a lookup on an array relation column. Unknown names are a
// TypeError rather than a FieldError, matching the relation's contract.
func (r *Registry) Related(f *model.ArrayManyToManyField, lhs expr.Expression, name string, value any) (expr.Expression, error) {
	if name == "" {
		name = "exact"
	}
	l, ok := r.Get(model.KindArrayM2M, name)
	if !ok {
		return nil, &model.TypeError{Msg: fmt.Sprintf("Related Array got invalid lookup: %s", name)}
	}
	return l(Target{Field: f, Kind: model.KindArrayM2M, LHS: lhs, Elem: f}, value)
}

// Reverse compiles a lookup across a reverse array relation. lhs is the
// joined source model's key column; values are source instances or keys.
func (r *Registry) Reverse(rel *model.Rel, lhs expr.Expression, name string, value any) (expr.Expression, error) {
	if name == "" {
		name = "exact"
	}
	if !slices.Contains(ReverseNames, name) {
		return nil, &model.TypeError{Msg: fmt.Sprintf("Related Field got invalid lookup: %s", name)}
	}
	pk := rel.Model.PK()
	t := Target{Field: pk, Kind: model.KindScalar, LHS: lhs}
	l, _ := r.Get(model.KindScalar, name)
	switch name {
	case "isnull":
		return l(t, value)
	case "in":
		items, err := model.ToSlice(value)
		if err != nil {
			return nil, &model.FieldError{Field: rel.QueryName(), Lookup: name, Msg: err.Error()}
		}
		keys := make([]any, len(items))
		for i, item := range items {
			if keys[i], err = rel.ValidateOwner(item); err != nil {
				return nil, err
			}
		}
		return l(t, keys)
	}
	if _, ok := value.(expr.Expression); ok {
		return l(t, value)
	}
	key, err := rel.ValidateOwner(value)
	if err != nil {
		return nil, err
	}
	return l(t, key)
}
