package relation

import (
	"context"
	"fmt"
	"slices"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

// ForwardManager manages the keys stored in an instance's own array column.
type ForwardManager struct {
	*manager
	field *model.ArrayManyToManyField
}

// Forward returns the manager of the array relation field name on inst. The
// instance must be saved.
func Forward(conn db.DBTX, inst *model.Instance, name string) (*ForwardManager, error) {
	f, _ := inst.Model.Field(name)
	field, ok := f.(*model.ArrayManyToManyField)
	if !ok {
		return nil, &model.FieldError{Model: inst.Model.Name, Field: name, Msg: "not an array relation"}
	}
	rel := field.Rel()
	if rel == nil {
		return nil, &model.FieldError{Model: inst.Model.Name, Field: name, Msg: fmt.Sprintf("related model %q is not registered", field.To())}
	}
	if !inst.Saved() {
		return nil, &model.IdentityError{Model: inst.Model.Name, Field: name}
	}
	fm := &ForwardManager{field: field}
	fm.manager = &manager{
		conn:      conn,
		inst:      inst,
		rel:       rel,
		owner:     model.NormalizeKey(inst.PK()),
		related:   rel.Target,
		cacheName: name,
		signals:   M2MChanged,
		side:      fm,
	}
	return fm, nil
}

// symmetric reports whether changes are mirrored onto the related rows.
func (fm *ForwardManager) symmetric() bool {
	return fm.rel.Symmetrical && fm.rel.SelfReferential()
}

func (fm *ForwardManager) validate(items []any) ([]any, error) {
	keys := make([]any, 0, len(items))
	for _, item := range items {
		k, err := fm.field.ValidateItem(item)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return difference(keys, nil), nil
}

func (fm *ForwardManager) currentKeys(ctx context.Context) ([]any, error) {
	values, err := query.Objects(fm.conn, fm.rel.Model).Filter("pk", fm.owner).FlatList(ctx, fm.field.Name())
	if err != nil {
		return nil, err
	}
	return flatKeys(values)
}

func (fm *ForwardManager) addKeys(ctx context.Context, keys []any) error {
	if len(keys) == 0 {
		return nil
	}
	added := keys
	stmt := fm.update(expr.ArrayCat(fm.array(), keys, expr.CatAs(fm.elemType()))).Where(fm.pkIs(fm.owner))
	if len(keys) == 1 {
		stmt = stmt.Where(fm.notContains(keys))
	} else {
		current, err := fm.currentKeys(ctx)
		if err != nil {
			return err
		}
		if added = difference(keys, current); len(added) == 0 {
			return nil
		}
		stmt = fm.update(expr.ArrayCat(fm.array(), added, expr.CatAs(fm.elemType()))).Where(fm.pkIs(fm.owner))
	}
	if err := fm.exec(ctx, stmt); err != nil {
		return err
	}
	db.OnCommit(ctx, func() {
		local := fm.inst.Keys(fm.column())
		fm.inst.Set(fm.column(), append(local, difference(added, local)...))
	})

	if !fm.symmetric() {
		return nil
	}
	owner := []any{fm.owner}
	mirror := fm.update(expr.ArrayCat(fm.array(), owner, expr.CatAs(fm.elemType()))).
		Where(fm.pkIn(added)).
		Where(fm.notContains(owner))
	return fm.exec(ctx, mirror)
}

func (fm *ForwardManager) removeKeys(ctx context.Context, keys []any) error {
	if len(keys) == 0 {
		return nil
	}
	for chunk := range slices.Chunk(keys, expr.MaxMultiArgs) {
		e, err := expr.MultiArrayRemove(fm.column(), chunk...)
		if err != nil {
			return err
		}
		if err := fm.exec(ctx, fm.update(e).Where(fm.pkIs(fm.owner))); err != nil {
			return err
		}
	}
	db.OnCommit(ctx, func() {
		fm.inst.Set(fm.column(), orEmpty(difference(fm.inst.Keys(fm.column()), keys)))
	})

	if !fm.symmetric() {
		return nil
	}
	return fm.exec(ctx, fm.update(expr.ArrayRemove(fm.column(), fm.owner)).Where(fm.pkIn(keys)))
}

func (fm *ForwardManager) clear(ctx context.Context) error {
	empty := expr.Value{V: []any{}, Cast: fm.arrayType()}
	if err := fm.exec(ctx, fm.update(empty).Where(fm.pkIs(fm.owner))); err != nil {
		return err
	}
	db.OnCommit(ctx, func() { fm.inst.Set(fm.column(), []any{}) })

	if !fm.symmetric() {
		return nil
	}
	stmt := fm.update(expr.ArrayRemove(fm.column(), fm.owner)).Where(fm.contains([]any{fm.owner}))
	return fm.exec(ctx, stmt)
}

func orEmpty(keys []any) []any {
	if keys == nil {
		return []any{}
	}
	return keys
}
