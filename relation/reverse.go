package relation

import (
	"context"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

// ReverseManager manages the rows of the declaring model whose array column
// holds the instance's key.
type ReverseManager struct {
	*manager
}

// Reverse returns the manager behind the reverse accessor name on inst,
// looking through the instance's parent models.
func Reverse(conn db.DBTX, inst *model.Instance, name string) (*ReverseManager, error) {
	var rel *model.Rel
	for m := inst.Model; m != nil && rel == nil; m = m.Parent {
		rel, _ = m.ReverseRelation(name)
	}
	if rel == nil {
		return nil, &model.FieldError{Model: inst.Model.Name, Field: name, Msg: "no array relation or reverse accessor with this name"}
	}
	return reverseFor(conn, inst, rel, name)
}

func reverseFor(conn db.DBTX, inst *model.Instance, rel *model.Rel, name string) (*ReverseManager, error) {
	key := inst.Get(rel.ToField.Column())
	if key == nil {
		return nil, &model.IdentityError{Model: inst.Model.Name, Field: name}
	}
	rm := &ReverseManager{}
	rm.manager = &manager{
		conn:      conn,
		inst:      inst,
		rel:       rel,
		reverse:   true,
		owner:     model.NormalizeKey(key),
		related:   rel.Model,
		cacheName: name,
		signals:   M2MChanged,
		side:      rm,
	}
	return rm, nil
}

func (rm *ReverseManager) validate(items []any) ([]any, error) {
	keys := make([]any, 0, len(items))
	for _, item := range items {
		k, err := rm.rel.ValidateOwner(item)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return difference(keys, nil), nil
}

func (rm *ReverseManager) currentKeys(ctx context.Context) ([]any, error) {
	values, err := query.Objects(rm.conn, rm.rel.Model).Filter(rm.rel.Field.Name(), rm.owner).FlatList(ctx, "pk")
	if err != nil {
		return nil, err
	}
	return normalizeAll(values), nil
}

func (rm *ReverseManager) addKeys(ctx context.Context, keys []any) error {
	if len(keys) == 0 {
		return nil
	}
	owner := []any{rm.owner}
	stmt := rm.update(expr.ArrayCat(rm.array(), owner, expr.CatAs(rm.elemType()))).
		Where(rm.pkIn(keys)).
		Where(rm.notContains(owner))
	return rm.exec(ctx, stmt)
}

func (rm *ReverseManager) removeKeys(ctx context.Context, keys []any) error {
	if len(keys) == 0 {
		return nil
	}
	stmt := rm.update(expr.ArrayRemove(rm.column(), rm.owner)).
		Where(rm.pkIn(keys)).
		Where(rm.contains([]any{rm.owner}))
	return rm.exec(ctx, stmt)
}

func (rm *ReverseManager) clear(ctx context.Context) error {
	stmt := rm.update(expr.ArrayRemove(rm.column(), rm.owner)).Where(rm.contains([]any{rm.owner}))
	return rm.exec(ctx, stmt)
}
