package relation

import (
	"context"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/model"
)

// DeleteReverseRelated removes inst's key from every array column that
// refers to it. It is meant to run as a pre-delete hook so no array keeps a
// key of a deleted row. Relations without an accessor are left alone.
func DeleteReverseRelated(ctx context.Context, conn db.DBTX, inst *model.Instance) error {
	if !inst.Saved() {
		return nil
	}
	for m := inst.Model; m != nil; m = m.Parent {
		for _, rel := range m.ReverseRelations() {
			if rel.Hidden() {
				continue
			}
			rm, err := reverseFor(conn, inst, rel, rel.AccessorName())
			if err != nil {
				return err
			}
			if err := rm.Clear(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveFormData stores the keys chosen in a form for the array relation
// field name. Saved instances are updated through the manager; unsaved ones
// only get the validated keys assigned, to be written by their first save.
func SaveFormData(ctx context.Context, conn db.DBTX, inst *model.Instance, name string, data []any) error {
	if inst.Saved() {
		fm, err := Forward(conn, inst, name)
		if err != nil {
			return err
		}
		return fm.Set(ctx, data)
	}
	f, _ := inst.Model.Field(name)
	field, ok := f.(*model.ArrayManyToManyField)
	if !ok {
		return &model.FieldError{Model: inst.Model.Name, Field: name, Msg: "not an array relation"}
	}
	keys := make([]any, 0, len(data))
	for _, item := range data {
		k, err := field.ValidateItem(item)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	inst.Set(field.Column(), orEmpty(difference(keys, nil)))
	return nil
}
