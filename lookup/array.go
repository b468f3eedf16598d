package lookup

import (
	"fmt"
	"strings"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

// Operators for "value <op> ANY(col)". The value is on the left, so the
// ordering operators are mirrored: any_gt finds an element greater than value.
var anyAllOperators = map[string]string{
	"exact":    "=",
	"gt":       "<",
	"gte":      "<=",
	"lt":       ">",
	"lte":      ">=",
	"contains": "<@",
}

func arrayParam(t Target, value any) expr.Expression {
	if e, ok := value.(expr.Expression); ok {
		return e
	}
	return expr.Value{V: value}
}

func arrayOp(op string) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		return binary(t.LHS, op, arrayParam(t, value))
	}
}

func arrayExactly(t Target, value any) (expr.Expression, error) {
	rhs := arrayParam(t, value)
	return format("(%s @> %s AND %s <@ %s)", t.LHS, rhs, t.LHS, rhs)
}

func arrayLen(t Target, value any) (expr.Expression, error) {
	return format("COALESCE(CARDINALITY(%s), 0) = %s", t.LHS, expr.Value{V: value})
}

func quantified(fn, op string) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		var rhs expr.Expression = expr.Value{V: value}
		if e, ok := value.(expr.Expression); ok {
			rhs = e
		}
		return format("%s "+op+" "+strings.ToUpper(fn)+"(%s)", rhs, t.LHS)
	}
}

// elementwise matches array elements against a LIKE or regex pattern. ALL
// variants require every element to match.
func elementwise(all bool, op, prefix, suffix string) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		p := fmt.Sprint(value)
		if op == "LIKE" {
			p = likePattern(prefix, value, suffix)
		}
		if all {
			return format("NOT EXISTS (SELECT 1 FROM unnest(%s) AS e(v) WHERE NOT (e.v::text "+op+" %s))", t.LHS, expr.Value{V: p})
		}
		return format("EXISTS (SELECT 1 FROM unnest(%s) AS e(v) WHERE e.v::text "+op+" %s)", t.LHS, expr.Value{V: p})
	}
}

func registerArray(r *Registry) {
	r.Register(model.KindArray, "exact", func(t Target, value any) (expr.Expression, error) {
		if value == nil {
			return format("%s IS NULL", t.LHS)
		}
		return binary(t.LHS, "=", arrayParam(t, value))
	})
	r.Register(model.KindArray, "contains", arrayOp("@>"))
	r.Register(model.KindArray, "contained_by", arrayOp("<@"))
	r.Register(model.KindArray, "overlap", arrayOp("&&"))
	r.Register(model.KindArray, "exactly", arrayExactly)
	r.Register(model.KindArray, "len", arrayLen)
	r.Register(model.KindArray, "isnull", isNull)

	for _, fn := range []string{"any", "all"} {
		for name, op := range anyAllOperators {
			r.Register(model.KindArray, fn+"_"+name, quantified(fn, op))
		}
		r.Register(model.KindArray, fn, quantified(fn, "="))
		all := fn == "all"
		r.Register(model.KindArray, fn+"_in", elementwise(all, "LIKE", "%", "%"))
		r.Register(model.KindArray, fn+"_isstartof", elementwise(all, "LIKE", "", "%"))
		r.Register(model.KindArray, fn+"_isendof", elementwise(all, "LIKE", "%", ""))
		r.Register(model.KindArray, fn+"_regex", elementwise(all, "~", "", ""))
	}
}
