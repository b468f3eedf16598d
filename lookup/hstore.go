package lookup

import (
	"encoding/json"
	"fmt"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

func keyFunc(name string, array bool) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		cast := "text"
		if array {
			cast = "text[]"
			items, err := model.ToSlice(value)
			if err != nil {
				return nil, &model.FieldError{Field: t.Field.Name(), Msg: err.Error()}
			}
			keys := make([]string, len(items))
			for i, item := range items {
				keys[i] = fmt.Sprint(item)
			}
			value = keys
		}
		return expr.Func{Name: name, Args: []expr.Expression{t.LHS, expr.Value{V: value, Cast: cast}}}, nil
	}
}

func hstoreOp(op string) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		rhs, err := model.HStore("").PrepValue(value)
		if err != nil {
			return nil, err
		}
		return binary(t.LHS, op, rhs.(expr.Expression))
	}
}

func registerHStore(r *Registry) {
	r.Register(model.KindHStore, "exact", func(t Target, value any) (expr.Expression, error) {
		if value == nil {
			return format("%s IS NULL", t.LHS)
		}
		return hstoreOp("=")(t, value)
	})
	r.Register(model.KindHStore, "has_key", keyFunc("EXIST", false))
	r.Register(model.KindHStore, "has_keys", keyFunc("EXISTS_ALL", true))
	r.Register(model.KindHStore, "has_any_keys", keyFunc("EXISTS_ANY", true))
	r.Register(model.KindHStore, "contains", hstoreOp("@>"))
	r.Register(model.KindHStore, "contained_by", hstoreOp("<@"))
	r.Register(model.KindHStore, "isnull", isNull)
}

func jsonParam(value any) (expr.Expression, error) {
	if e, ok := value.(expr.Expression); ok {
		return e, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding json lookup value: %w", err)
	}
	return expr.Value{V: string(b), Cast: "jsonb"}, nil
}

func jsonOp(op string) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		rhs, err := jsonParam(value)
		if err != nil {
			return nil, err
		}
		return binary(t.LHS, op, rhs)
	}
}

func registerJSON(r *Registry) {
	r.Register(model.KindJSON, "exact", func(t Target, value any) (expr.Expression, error) {
		if value == nil {
			return format("%s IS NULL", t.LHS)
		}
		return jsonOp("=")(t, value)
	})
	r.Register(model.KindJSON, "has_key", keyFunc("JSONB_EXISTS", false))
	r.Register(model.KindJSON, "has_keys", keyFunc("JSONB_EXISTS_ALL", true))
	r.Register(model.KindJSON, "has_any_keys", keyFunc("JSONB_EXISTS_ANY", true))
	r.Register(model.KindJSON, "contains", jsonOp("@>"))
	r.Register(model.KindJSON, "contained_by", jsonOp("<@"))
	r.Register(model.KindJSON, "isnull", isNull)
}
