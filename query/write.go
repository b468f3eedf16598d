package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
)

const uniqueViolation = "23505"

// lineage lists m and its ancestors, root first.
func lineage(m *model.Model) []*model.Model {
	var chain []*model.Model
	for cur := m; cur != nil; cur = cur.Parent {
		chain = append([]*model.Model{cur}, chain...)
	}
	return chain
}

func (qs *QuerySet) checkInstance(inst *model.Instance) error {
	if inst == nil || inst.Model != qs.model {
		got := "nil"
		if inst != nil {
			got = fmt.Sprintf("%q instance", inst.Model.Name)
		}
		return &model.TypeError{Expected: qs.model.Name, Got: got}
	}
	return nil
}

// Save writes inst. An instance with a primary key is updated in every table
// of its model chain; when no row matches it is inserted. Array relation
// columns are only written on insert; the relation managers own them after
// that.
func (qs *QuerySet) Save(ctx context.Context, inst *model.Instance) error {
	if err := qs.checkInstance(inst); err != nil {
		return err
	}
	return db.Atomic(ctx, qs.conn, func(ctx context.Context) error {
		if inst.Saved() {
			updated, err := qs.saveUpdate(ctx, inst)
			if err != nil || updated {
				return err
			}
		}
		return qs.insert(ctx, inst)
	}, db.WithoutSavepoint())
}

func (qs *QuerySet) saveUpdate(ctx context.Context, inst *model.Instance) (bool, error) {
	var fields []model.Field
	for _, f := range qs.model.AllFields() {
		if f.Column() == "" || f.PrimaryKey() || f.Kind() == model.KindArrayM2M {
			continue
		}
		fields = append(fields, f)
	}
	byPK := Objects(qs.conn, qs.model).Filter("pk", inst.PK())
	if len(fields) == 0 {
		return byPK.Exists(ctx)
	}
	u := NewUpdateQuery(qs.model)
	if err := u.AddUpdateFields(inst, fields); err != nil {
		return false, err
	}
	n, err := byPK.runUpdate(ctx, u)
	return n > 0, err
}

// insert writes one row per table of the model chain, root first, and copies
// the generated key to the instance.
func (qs *QuerySet) insert(ctx context.Context, inst *model.Instance) error {
	for _, m := range lineage(qs.model) {
		cols, vals, err := insertValues(m, inst)
		if err != nil {
			return err
		}
		pk := m.PK()
		var b squirrel.Sqlizer
		if len(cols) == 0 {
			b = expr.Raw{SQL: "INSERT INTO " + expr.QuoteName(m.Table) + " DEFAULT VALUES RETURNING " + expr.QuoteName(pk.Column())}
		} else {
			b = squirrel.Insert(expr.QuoteName(m.Table)).
				Columns(cols...).
				Values(vals...).
				Suffix("RETURNING " + expr.QuoteName(pk.Column()))
		}
		sql, args, err := finalize(b)
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Debug("Executing statement", "model", m.Name, "sql", sql)
		rows, err := db.Conn(ctx, qs.conn).Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("inserting %s: %w", m.Name, err)
		}
		returned, err := pgx.CollectExactlyOneRow(rows, rowValues)
		if err != nil {
			return fmt.Errorf("inserting %s: %w", m.Name, err)
		}
		inst.Set(pk.Column(), model.NormalizeKey(returned[0]))
	}
	return nil
}

type autoField interface {
	Auto() bool
}

func insertValues(m *model.Model, inst *model.Instance) ([]string, []any, error) {
	var (
		cols []string
		vals []any
	)
	for _, f := range m.ConcreteFields() {
		v, set := inst.Values[f.Column()]
		if f.PrimaryKey() && v == nil {
			if a, ok := f.(autoField); ok && a.Auto() {
				continue
			}
		}
		if !set || v == nil {
			if d := defaultValue(f); d != nil {
				v = d
				inst.Set(f.Column(), v)
			}
		}
		e, err := assignmentExpr(f, v)
		if err != nil {
			return nil, nil, err
		}
		if val, ok := e.(expr.Value); ok && f.Kind() == model.KindArrayM2M {
			val.Cast = f.DBType()
			e = val
		}
		cols = append(cols, expr.QuoteName(f.Column()))
		vals = append(vals, e)
	}
	return cols, vals, nil
}

func defaultValue(f model.Field) any {
	switch d := f.Options().Default.(type) {
	case func() any:
		return d()
	default:
		return d
	}
}

// Create inserts a new row built from values.
func (qs *QuerySet) Create(ctx context.Context, values Values) (*model.Instance, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	for _, name := range values.names() {
		if _, ok := qs.model.Field(name); !ok && name != "pk" {
			return nil, &model.FieldError{Model: qs.model.Name, Field: name, Msg: "cannot resolve keyword into field"}
		}
	}
	inst := model.NewInstance(qs.model, nil)
	for _, name := range values.names() {
		if name == "pk" {
			inst.Set(qs.model.PK().Column(), values[name])
			continue
		}
		inst.Set(name, values[name])
	}
	err := db.Atomic(ctx, qs.conn, func(ctx context.Context) error {
		return qs.insert(ctx, inst)
	}, db.WithoutSavepoint())
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetOrCreate returns the row matching lookup, creating it from lookup and
// defaults when none exists. A concurrent insert that wins the race is
// read back instead of failing.
func (qs *QuerySet) GetOrCreate(ctx context.Context, lookup, defaults Values) (*model.Instance, bool, error) {
	obj, err := qs.FilterValues(lookup).Get(ctx)
	if err == nil {
		return obj, false, nil
	}
	if !errors.Is(err, model.ErrDoesNotExist) {
		return nil, false, err
	}
	params := createParams(lookup, defaults)
	var created *model.Instance
	err = db.Atomic(ctx, qs.conn, func(ctx context.Context) error {
		created, err = qs.Create(ctx, params)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if obj, gerr := qs.FilterValues(lookup).Get(ctx); gerr == nil {
				return obj, false, nil
			}
		}
		return nil, false, err
	}
	return created, true, nil
}

// createParams keeps the plain field names of lookup and overlays defaults.
func createParams(lookup, defaults Values) Values {
	params := Values{}
	for k, v := range lookup {
		if !strings.Contains(k, "__") {
			params[k] = v
		}
	}
	for k, v := range defaults {
		params[k] = v
	}
	return params
}

// UpdateOrCreate locks the row matching lookup and applies defaults to it,
// or creates it when none exists.
func (qs *QuerySet) UpdateOrCreate(ctx context.Context, lookup, defaults Values) (*model.Instance, bool, error) {
	var (
		obj     *model.Instance
		created bool
	)
	err := db.Atomic(ctx, qs.conn, func(ctx context.Context) error {
		found, err := qs.ForUpdate().FilterValues(lookup).Get(ctx)
		if errors.Is(err, model.ErrDoesNotExist) {
			obj, created, err = qs.GetOrCreate(ctx, lookup, defaults)
			return err
		}
		if err != nil {
			return err
		}
		for _, name := range defaults.names() {
			found.Set(name, defaults[name])
		}
		obj = found
		return qs.Save(ctx, found)
	})
	if err != nil {
		return nil, false, err
	}
	return obj, created, nil
}

// Delete removes every matching row and returns how many rows of the model's
// own table were deleted. Pre-delete hooks see each instance before its row
// goes.
func (qs *QuerySet) Delete(ctx context.Context) (int64, error) {
	if qs.err != nil {
		return 0, qs.err
	}
	var n int64
	err := db.Atomic(ctx, qs.conn, func(ctx context.Context) error {
		hooks := preDeleteHooks()
		if len(hooks) == 0 && qs.model.Parent == nil && !qs.needsSubquery() {
			sql, args, err := finalize(squirrel.Delete(expr.QuoteName(qs.model.Table)).Where(qs.whereClause()))
			if err != nil {
				return err
			}
			n, err = qs.exec(ctx, sql, args)
			return err
		}
		c := qs.clone()
		c.prefetch = nil
		objs, err := c.All(ctx)
		if err != nil {
			return err
		}
		n, err = deleteInstances(ctx, qs.conn, qs.model, objs, hooks)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteInstance deletes the row behind inst and clears its primary key.
func (qs *QuerySet) DeleteInstance(ctx context.Context, inst *model.Instance) error {
	if err := qs.checkInstance(inst); err != nil {
		return err
	}
	if !inst.Saved() {
		return &model.IdentityError{Model: qs.model.Name}
	}
	err := db.Atomic(ctx, qs.conn, func(ctx context.Context) error {
		_, err := deleteInstances(ctx, qs.conn, qs.model, []*model.Instance{inst}, preDeleteHooks())
		return err
	})
	if err != nil {
		return err
	}
	inst.Set(qs.model.PK().Column(), nil)
	return nil
}

func deleteInstances(ctx context.Context, conn db.DBTX, m *model.Model, objs []*model.Instance, hooks []PreDeleteHook) (int64, error) {
	if len(objs) == 0 {
		return 0, nil
	}
	for _, obj := range objs {
		for _, hook := range hooks {
			if err := hook(ctx, conn, obj); err != nil {
				return 0, err
			}
		}
	}
	ids := make([]any, len(objs))
	for i, obj := range objs {
		ids[i] = model.NormalizeKey(obj.PK())
	}
	var deleted int64
	for cur := m; cur != nil; cur = cur.Parent {
		where := expr.Raw{SQL: expr.QuoteName(cur.PK().Column()) + " = ANY(?)", Args: []any{ids}}
		sql, args, err := finalize(squirrel.Delete(expr.QuoteName(cur.Table)).Where(where))
		if err != nil {
			return 0, err
		}
		logger.FromContext(ctx).Debug("Executing statement", "model", cur.Name, "sql", sql)
		tag, err := db.Conn(ctx, conn).Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("deleting %s: %w", cur.Name, err)
		}
		if cur == m {
			deleted = tag.RowsAffected()
		}
	}
	return deleted, nil
}
