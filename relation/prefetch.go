package relation

import (
	"context"
	"fmt"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

// Prefetch loads the relation name for every owner with one query and stores
// the result in each owner's prefetch cache. It has the shape of
// query.Prefetcher.
func Prefetch(ctx context.Context, conn db.DBTX, owners []*model.Instance, name string) error {
	if len(owners) == 0 {
		return nil
	}
	m := owners[0].Model
	if f, ok := m.Field(name); ok {
		field, isArray := f.(*model.ArrayManyToManyField)
		if !isArray || field.Rel() == nil {
			return &model.FieldError{Model: m.Name, Field: name, Msg: "cannot prefetch a field that is not a resolved array relation"}
		}
		return prefetchForward(ctx, conn, owners, name, field.Rel())
	}
	for cur := m; cur != nil; cur = cur.Parent {
		if rel, ok := cur.ReverseRelation(name); ok {
			return prefetchReverse(ctx, conn, owners, name, rel)
		}
	}
	return &model.FieldError{Model: m.Name, Field: name, Msg: "cannot find relation to prefetch"}
}

func prefetchForward(ctx context.Context, conn db.DBTX, owners []*model.Instance, name string, rel *model.Rel) error {
	col := rel.Field.Column()
	var all []any
	for _, o := range owners {
		all = append(all, o.Keys(col)...)
	}
	all = difference(all, nil)

	var objs []*model.Instance
	if len(all) > 0 {
		var err error
		objs, err = query.Objects(conn, rel.Target).Filter(rel.ToField.Name()+"__in", all).All(ctx)
		if err != nil {
			return fmt.Errorf("prefetching %s: %w", name, err)
		}
	}
	for _, o := range owners {
		want := keySet(o.Keys(col))
		matched := []*model.Instance{}
		for _, obj := range objs {
			if _, ok := want[model.NormalizeKey(obj.Get(rel.ToField.Column()))]; ok {
				matched = append(matched, obj)
			}
		}
		o.SetPrefetched(name, matched)
	}
	return nil
}

func prefetchReverse(ctx context.Context, conn db.DBTX, owners []*model.Instance, name string, rel *model.Rel) error {
	var keys []any
	for _, o := range owners {
		if k := o.Get(rel.ToField.Column()); k != nil {
			keys = append(keys, model.NormalizeKey(k))
		}
	}
	keys = difference(keys, nil)

	var objs []*model.Instance
	if len(keys) > 0 {
		var err error
		objs, err = query.Objects(conn, rel.Model).Filter(rel.Field.Name()+"__overlap", keys).All(ctx)
		if err != nil {
			return fmt.Errorf("prefetching %s: %w", name, err)
		}
	}
	col := rel.Field.Column()
	for _, o := range owners {
		key := model.NormalizeKey(o.Get(rel.ToField.Column()))
		matched := []*model.Instance{}
		for _, obj := range objs {
			if _, ok := keySet(obj.Keys(col))[key]; ok && key != nil {
				matched = append(matched, obj)
			}
		}
		o.SetPrefetched(name, matched)
	}
	return nil
}

func keySet(keys []any) map[any]struct{} {
	set := make(map[any]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
