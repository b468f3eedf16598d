package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
)

type assignment struct {
	field     model.Field
	column    string
	expr      expr.Expression
	composite bool
}

// UpdateQuery collects the SET clauses of one update. Fields stored in a
// parent table go to a related batch for that table.
type UpdateQuery struct {
	model   *model.Model
	values  []assignment
	related map[*model.Model][]assignment
	parents []*model.Model
	kinds   map[string]bool
}

func NewUpdateQuery(m *model.Model) *UpdateQuery {
	return &UpdateQuery{model: m, related: map[*model.Model][]assignment{}, kinds: map[string]bool{}}
}

// Empty reports whether nothing would be updated.
func (u *UpdateQuery) Empty() bool { return len(u.values) == 0 && len(u.parents) == 0 }

// HasRelated reports whether parent tables need their own statements.
func (u *UpdateQuery) HasRelated() bool { return len(u.parents) > 0 }

// AddUpdateValues adds one assignment per name, in name order. "base__suffix"
// names are handed to the base field's UpdateExpression; relation fields
// cannot be assigned.
func (u *UpdateQuery) AddUpdateValues(values Values) error {
	for _, name := range values.names() {
		value := values[name]
		base, suffix, composite := strings.Cut(name, "__")
		if base == "pk" && u.model.PK() != nil {
			base = u.model.PK().Name()
		}
		f, ok := u.model.Field(base)
		if !ok {
			return &model.FieldError{Model: u.model.Name, Field: base, Msg: "cannot resolve keyword into field"}
		}
		var a assignment
		if composite {
			cu, ok := f.(model.CompositeUpdater)
			if !ok {
				return &model.FieldError{Model: u.model.Name, Field: base, Lookup: suffix, Msg: "update lookup type not found"}
			}
			res, err := cu.UpdateExpression(strings.Split(suffix, "__"), value)
			if err != nil {
				return err
			}
			a = assignment{field: f, column: res.Column, expr: res.Expr, composite: true}
		} else {
			switch f.Kind() {
			case model.KindArrayM2M, model.KindM2M:
				return &model.FieldError{
					Model: u.model.Name,
					Field: base,
					Msg:   fmt.Sprintf("cannot update model field %s (only non-relations and foreign keys permitted)", f),
				}
			}
			e, err := assignmentExpr(f, value)
			if err != nil {
				return err
			}
			a = assignment{field: f, column: expr.QuoteName(f.Column()), expr: e}
		}
		if err := u.add(a); err != nil {
			return err
		}
	}
	return nil
}

// AddUpdateFields assigns the instance's current values of fields.
func (u *UpdateQuery) AddUpdateFields(inst *model.Instance, fields []model.Field) error {
	for _, f := range fields {
		e, err := assignmentExpr(f, inst.Get(f.Column()))
		if err != nil {
			return err
		}
		if err := u.add(assignment{field: f, column: expr.QuoteName(f.Column()), expr: e}); err != nil {
			return err
		}
	}
	return nil
}

func assignmentExpr(f model.Field, value any) (expr.Expression, error) {
	if e, ok := value.(expr.Expression); ok {
		return e, nil
	}
	v, err := f.PrepValue(value)
	if err != nil {
		return nil, err
	}
	if e, ok := v.(expr.Expression); ok {
		return e, nil
	}
	return expr.Value{V: v}, nil
}

func (u *UpdateQuery) add(a assignment) error {
	name := a.field.Name()
	if composite, seen := u.kinds[name]; seen && composite != a.composite {
		return &model.FieldError{Model: u.model.Name, Field: name, Msg: "cannot combine a whole-column update with index or key updates"}
	}
	u.kinds[name] = a.composite

	owner := a.field.Model()
	if owner != nil && owner != u.model && u.model.IsSubclassOf(owner) {
		if _, ok := u.related[owner]; !ok {
			u.parents = append(u.parents, owner)
		}
		merged, err := u.merge(u.related[owner], a)
		if err != nil {
			return err
		}
		u.related[owner] = merged
		return nil
	}
	merged, err := u.merge(u.values, a)
	if err != nil {
		return err
	}
	u.values = merged
	return nil
}

// merge folds a second composite update of one column into the first, so
// "description__Industry" and "description__Release" become one SET.
func (u *UpdateQuery) merge(list []assignment, a assignment) ([]assignment, error) {
	i := slices.IndexFunc(list, func(x assignment) bool { return x.column == a.column })
	if i < 0 {
		return append(list, a), nil
	}
	chained, ok := chain(list[i].expr, a.expr, a.field.Column())
	if !a.composite || !ok {
		return nil, &model.FieldError{Model: u.model.Name, Field: a.field.Name(), Msg: "multiple assignments to the same column"}
	}
	list[i].expr = chained
	return list, nil
}

// chain substitutes prev for the column reference that next starts from.
func chain(prev, next expr.Expression, column string) (expr.Expression, bool) {
	for {
		o, ok := next.(expr.Operand)
		if !ok {
			break
		}
		next = o.Expression
	}
	switch n := next.(type) {
	case expr.Combined:
		if isColumn(n.LHS, column) {
			n.LHS = prev
			return n, true
		}
	case expr.Func:
		if len(n.Args) > 0 && isColumn(n.Args[0], column) {
			args := slices.Clone(n.Args)
			args[0] = prev
			n.Args = args
			return n, true
		}
	}
	return nil, false
}

func isColumn(e expr.Expression, column string) bool {
	c, ok := e.(expr.Col)
	return ok && c.Name == column
}

// Statement renders the UPDATE of the main table, or "" when only parent
// tables change.
func (u *UpdateQuery) Statement(where squirrel.Sqlizer) (string, []any, error) {
	if len(u.values) == 0 {
		return "", nil, nil
	}
	return updateStatement(u.model, u.values, where)
}

// RelatedStatements renders one UPDATE per parent table, restricted to the
// given primary keys.
func (u *UpdateQuery) RelatedStatements(ids []any) ([]string, [][]any, error) {
	sqls := make([]string, 0, len(u.parents))
	args := make([][]any, 0, len(u.parents))
	for _, parent := range u.parents {
		where := expr.Raw{SQL: qualified(parent.Table, parent.PK().Column()) + " = ANY(?)", Args: []any{ids}}
		sql, a, err := updateStatement(parent, u.related[parent], where)
		if err != nil {
			return nil, nil, err
		}
		sqls = append(sqls, sql)
		args = append(args, a)
	}
	return sqls, args, nil
}

func updateStatement(m *model.Model, values []assignment, where squirrel.Sqlizer) (string, []any, error) {
	b := squirrel.Update(expr.QuoteName(m.Table))
	for _, a := range values {
		b = b.Set(a.column, a.expr)
	}
	if where != nil {
		b = b.Where(where)
	}
	return finalize(b)
}

// Update applies values to every matching row and returns the number of
// rows changed in the model's own table. All statements share one
// transaction.
func (qs *QuerySet) Update(ctx context.Context, values Values) (int64, error) {
	if qs.err != nil {
		return 0, qs.err
	}
	u := NewUpdateQuery(qs.model)
	if err := u.AddUpdateValues(values); err != nil {
		return 0, err
	}
	return qs.runUpdate(ctx, u)
}

func (qs *QuerySet) runUpdate(ctx context.Context, u *UpdateQuery) (int64, error) {
	if u.Empty() {
		return 0, nil
	}
	var rows int64
	err := db.Atomic(ctx, qs.conn, func(ctx context.Context) error {
		var (
			where squirrel.Sqlizer
			ids   []any
		)
		pkCol := qualified(qs.model.Table, qs.model.PK().Column())
		switch {
		case u.HasRelated():
			var err error
			if ids, err = qs.pkValues(ctx); err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}
			where = expr.Raw{SQL: pkCol + " = ANY(?)", Args: []any{ids}}
		case qs.needsSubquery():
			inner, args, err := qs.pkSelect().ToSql()
			if err != nil {
				return err
			}
			where = expr.Raw{SQL: pkCol + " IN (" + inner + ")", Args: args}
		default:
			where = qs.whereClause()
		}

		sql, args, err := u.Statement(where)
		if err != nil {
			return err
		}
		empty := sql == ""
		if !empty {
			if rows, err = qs.exec(ctx, sql, args); err != nil {
				return err
			}
		}
		sqls, argss, err := u.RelatedStatements(ids)
		if err != nil {
			return err
		}
		for i, sql := range sqls {
			n, err := qs.exec(ctx, sql, argss[i])
			if err != nil {
				return err
			}
			if empty && n > 0 {
				rows, empty = n, false
			}
		}
		return nil
	}, db.WithoutSavepoint())
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (qs *QuerySet) needsSubquery() bool {
	return len(qs.joins) > 0 || qs.distinct || qs.limit > 0 || qs.offset > 0
}

// pkSelect selects the primary keys of the matching rows.
func (qs *QuerySet) pkSelect() squirrel.SelectBuilder {
	pk := qs.model.PK()
	return qs.selectBuilder([]string{qualified(qs.aliasFor(qs.model, qs.model.Table, pk), pk.Column())}, false, false)
}

func (qs *QuerySet) pkValues(ctx context.Context) ([]any, error) {
	sql, args, err := finalize(qs.pkSelect())
	if err != nil {
		return nil, err
	}
	rows, err := qs.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, rowValues)
	if err != nil {
		return nil, fmt.Errorf("reading %s keys: %w", qs.model.Name, err)
	}
	ids := make([]any, len(records))
	for i, r := range records {
		ids[i] = model.NormalizeKey(r[0])
	}
	return ids, nil
}

// whereClause joins the conditions for statements that cannot carry joins.
func (qs *QuerySet) whereClause() squirrel.Sqlizer {
	if len(qs.where) == 0 {
		return nil
	}
	and := make(squirrel.And, len(qs.where))
	for i, w := range qs.where {
		and[i] = w
	}
	return and
}

func (qs *QuerySet) exec(ctx context.Context, sql string, args []any) (int64, error) {
	logger.FromContext(ctx).Debug("Executing statement", "model", qs.model.Name, "sql", sql)
	tag, err := db.Conn(ctx, qs.conn).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("executing statement on %s: %w", qs.model.Name, err)
	}
	return tag.RowsAffected(), nil
}
