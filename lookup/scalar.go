package lookup

import (
	"fmt"
	"strings"

	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(prefix string, value any, suffix string) string {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	return prefix + likeEscaper.Replace(s) + suffix
}

func comparison(op string) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		rhs, err := param(t, value)
		if err != nil {
			return nil, err
		}
		return binary(t.LHS, op, rhs)
	}
}

func exact(t Target, value any) (expr.Expression, error) {
	if value == nil {
		return format("%s IS NULL", t.LHS)
	}
	return comparison("=")(t, value)
}

func iexact(t Target, value any) (expr.Expression, error) {
	return format("UPPER(%s::text) = UPPER(%s)", t.LHS, expr.Value{V: fmt.Sprint(value)})
}

func like(prefix, suffix string, insensitive bool) Lookup {
	op := "LIKE"
	if insensitive {
		op = "ILIKE"
	}
	return func(t Target, value any) (expr.Expression, error) {
		return format("%s::text "+op+" %s", t.LHS, expr.Value{V: likePattern(prefix, value, suffix)})
	}
}

func regex(op string) Lookup {
	return func(t Target, value any) (expr.Expression, error) {
		return format("%s::text "+op+" %s", t.LHS, expr.Value{V: fmt.Sprint(value)})
	}
}

func isNull(t Target, value any) (expr.Expression, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, &model.FieldError{Field: t.Field.Name(), Lookup: "isnull", Msg: fmt.Sprintf("expected a bool, got %T", value)}
	}
	if b {
		return format("%s IS NULL", t.LHS)
	}
	return format("%s IS NOT NULL", t.LHS)
}

func in(t Target, value any) (expr.Expression, error) {
	if e, ok := value.(expr.Expression); ok {
		return format("%s IN (%s)", t.LHS, e)
	}
	items, err := model.ToSlice(value)
	if err != nil {
		return nil, &model.FieldError{Field: t.Field.Name(), Lookup: "in", Msg: err.Error()}
	}
	if len(items) == 0 {
		return expr.Raw{SQL: "FALSE"}, nil
	}
	if t.Elem != nil && t.Kind == model.KindScalar {
		for i, item := range items {
			v, err := t.Elem.PrepValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
	}
	return format("%s = ANY(%s)", t.LHS, expr.Value{V: items})
}

func between(t Target, value any) (expr.Expression, error) {
	items, err := model.ToSlice(value)
	if err != nil || len(items) != 2 {
		return nil, &model.FieldError{Field: t.Field.Name(), Lookup: "range", Msg: "expected a pair of bounds"}
	}
	lo, err := param(t, items[0])
	if err != nil {
		return nil, err
	}
	hi, err := param(t, items[1])
	if err != nil {
		return nil, err
	}
	return format("%s BETWEEN %s AND %s", t.LHS, lo, hi)
}

func registerScalar(r *Registry) {
	for name, l := range map[string]Lookup{
		"exact":       exact,
		"iexact":      iexact,
		"gt":          comparison(">"),
		"gte":         comparison(">="),
		"lt":          comparison("<"),
		"lte":         comparison("<="),
		"in":          in,
		"range":       between,
		"isnull":      isNull,
		"contains":    like("%", "%", false),
		"icontains":   like("%", "%", true),
		"startswith":  like("", "%", false),
		"istartswith": like("", "%", true),
		"endswith":    like("%", "", false),
		"iendswith":   like("%", "", true),
		"regex":       regex("~"),
		"iregex":      regex("~*"),
	} {
		r.Register(model.KindScalar, name, l)
	}
}
