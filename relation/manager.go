// Package relation implements the managers of array-backed many-to-many
// relations. The owning side stores the related keys in an array column;
// every manager operation rewrites that column with a single UPDATE per
// affected side, inside one transaction.
package relation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/query"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Manager is the contract shared by both sides of an array relation.
type Manager interface {
	Add(ctx context.Context, items ...any) error
	Remove(ctx context.Context, items ...any) error
	Set(ctx context.Context, items []any) error
	Clear(ctx context.Context) error
	Create(ctx context.Context, values query.Values) (*model.Instance, error)
	GetOrCreate(ctx context.Context, lookup, defaults query.Values) (*model.Instance, bool, error)
	UpdateOrCreate(ctx context.Context, lookup, defaults query.Values) (*model.Instance, bool, error)
	QuerySet() *query.QuerySet
	All(ctx context.Context) ([]*model.Instance, error)
}

// side holds what differs between the forward and reverse managers.
type side interface {
	validate(items []any) ([]any, error)
	currentKeys(ctx context.Context) ([]any, error)
	addKeys(ctx context.Context, keys []any) error
	removeKeys(ctx context.Context, keys []any) error
	clear(ctx context.Context) error
}

type manager struct {
	conn    db.DBTX
	inst    *model.Instance
	rel     *model.Rel
	reverse bool
	// owner is the instance's key as stored in or matched against the
	// array column.
	owner any
	// related is the model of the keys the manager hands out.
	related   *model.Model
	cacheName string
	signals   *Signals
	side      side
}

// For returns the manager for name on inst: an array relation field, or the
// accessor of a reverse relation.
func For(conn db.DBTX, inst *model.Instance, name string) (Manager, error) {
	if f, ok := inst.Model.Field(name); ok {
		if _, isArray := f.(*model.ArrayManyToManyField); isArray {
			m, err := Forward(conn, inst, name)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	m, err := Reverse(conn, inst, name)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *manager) column() string    { return m.rel.Field.Column() }
func (m *manager) arrayType() string { return m.rel.Field.DBType() }
func (m *manager) elemType() string  { return strings.TrimSuffix(m.arrayType(), "[]") }

// array is the array column as read by UPDATE expressions. A nullable
// column reads as an empty array so guards and concatenation see no NULL.
func (m *manager) array() expr.Expression {
	col := expr.QuoteName(m.column())
	if m.rel.Field.Null() {
		return expr.Raw{SQL: "COALESCE(" + col + ", '{}')"}
	}
	return expr.Raw{SQL: col}
}

// update starts an UPDATE that assigns e to the array column.
func (m *manager) update(e squirrel.Sqlizer) squirrel.UpdateBuilder {
	return psql.Update(expr.QuoteName(m.rel.Model.Table)).Set(expr.QuoteName(m.column()), e)
}

func (m *manager) contains(keys []any) expr.Raw {
	col, _, _ := m.array().ToSql()
	return expr.Raw{SQL: col + " @> ?::" + m.arrayType(), Args: []any{keys}}
}

func (m *manager) notContains(keys []any) expr.Raw {
	c := m.contains(keys)
	return expr.Raw{SQL: "NOT (" + c.SQL + ")", Args: c.Args}
}

func (m *manager) pkIs(key any) expr.Raw {
	return expr.Raw{SQL: expr.QuoteName(m.rel.Model.PK().Column()) + " = ?", Args: []any{key}}
}

func (m *manager) pkIn(keys []any) expr.Raw {
	return expr.Raw{SQL: expr.QuoteName(m.rel.Model.PK().Column()) + " = ANY(?)", Args: []any{keys}}
}

func (m *manager) exec(ctx context.Context, stmt squirrel.UpdateBuilder) error {
	sql, args, err := stmt.ToSql()
	if err != nil {
		return fmt.Errorf("building %s update: %w", m.rel.Field, err)
	}
	logger.FromContext(ctx).Debug("Updating array relation", "relation", m.rel.Field.String(), "sql", sql)
	if _, err := db.Conn(ctx, m.conn).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating %s: %w", m.rel.Field, err)
	}
	return nil
}

func (m *manager) send(ctx context.Context, action Action, keys []any) error {
	return m.signals.Send(ctx, Change{
		Action:   action,
		Rel:      m.rel,
		Instance: m.inst,
		Reverse:  m.reverse,
		Model:    m.related,
		Keys:     keys,
	})
}

// Add relates items to the owner. Items already related are skipped.
func (m *manager) Add(ctx context.Context, items ...any) error {
	keys, err := m.side.validate(items)
	if err != nil {
		return err
	}
	return m.mutate(ctx, PreAdd, PostAdd, keys, m.side.addKeys)
}

// Remove unrelates items. Items that are not related are ignored.
func (m *manager) Remove(ctx context.Context, items ...any) error {
	keys, err := m.side.validate(items)
	if err != nil {
		return err
	}
	return m.mutate(ctx, PreRemove, PostRemove, keys, m.side.removeKeys)
}

// mutate runs fn between the pre and post signals in one transaction. A
// receiver error on the pre signal leaves the relation untouched.
func (m *manager) mutate(ctx context.Context, pre, post Action, keys []any, fn func(context.Context, []any) error) error {
	err := db.Atomic(ctx, m.conn, func(ctx context.Context) error {
		if err := m.send(ctx, pre, keys); err != nil {
			return err
		}
		if err := fn(ctx, keys); err != nil {
			return err
		}
		return m.send(ctx, post, keys)
	}, db.WithoutSavepoint())
	m.inst.ClearPrefetched(m.cacheName)
	return err
}

// Clear unrelates everything.
func (m *manager) Clear(ctx context.Context) error {
	return m.mutate(ctx, PreClear, PostClear, nil, func(ctx context.Context, _ []any) error {
		return m.side.clear(ctx)
	})
}

// Set makes items the exact set of related objects, removing and adding
// only the difference.
func (m *manager) Set(ctx context.Context, items []any) error {
	return db.Atomic(ctx, m.conn, func(ctx context.Context) error {
		current, err := m.side.currentKeys(ctx)
		if err != nil {
			return err
		}
		wanted, err := m.side.validate(items)
		if err != nil {
			return err
		}
		stale, fresh := difference(current, wanted), difference(wanted, current)
		if len(stale) > 0 {
			if err := m.Remove(ctx, stale...); err != nil {
				return err
			}
		}
		if len(fresh) > 0 {
			return m.Add(ctx, fresh...)
		}
		return nil
	}, db.WithoutSavepoint())
}

func (m *manager) objects() *query.QuerySet {
	return query.Objects(m.conn, m.related)
}

// Create creates a related object and adds it.
func (m *manager) Create(ctx context.Context, values query.Values) (*model.Instance, error) {
	obj, err := m.objects().Create(ctx, values)
	if err != nil {
		return nil, err
	}
	return obj, m.Add(ctx, obj)
}

// GetOrCreate adds the object only when it was created.
func (m *manager) GetOrCreate(ctx context.Context, lookup, defaults query.Values) (*model.Instance, bool, error) {
	obj, created, err := m.objects().GetOrCreate(ctx, lookup, defaults)
	if err != nil || !created {
		return obj, created, err
	}
	return obj, true, m.Add(ctx, obj)
}

// UpdateOrCreate adds the object only when it was created.
func (m *manager) UpdateOrCreate(ctx context.Context, lookup, defaults query.Values) (*model.Instance, bool, error) {
	obj, created, err := m.objects().UpdateOrCreate(ctx, lookup, defaults)
	if err != nil || !created {
		return obj, created, err
	}
	return obj, true, m.Add(ctx, obj)
}

// All materializes QuerySet.
func (m *manager) All(ctx context.Context) ([]*model.Instance, error) {
	return m.QuerySet().All(ctx)
}

// QuerySet returns the related objects, served from the prefetch cache when
// the owner has one.
func (m *manager) QuerySet() *query.QuerySet {
	if objs, ok := m.inst.Prefetched(m.cacheName); ok {
		return m.objects().WithCache(objs)
	}
	if m.reverse {
		return m.objects().Filter(m.rel.Field.Name(), m.owner)
	}
	return m.objects().Filter(m.rel.ToField.Name()+"__in", m.ownedKeys())
}

// ownedKeys selects the committed keys of the owner's array column.
func (m *manager) ownedKeys() expr.Raw {
	const alias = "U0"
	sql := fmt.Sprintf("SELECT UNNEST(%s.%s) FROM %s %s WHERE %s.%s = ?",
		alias, expr.QuoteName(m.column()),
		expr.QuoteName(m.rel.Model.Table), alias,
		alias, expr.QuoteName(m.rel.Model.PK().Column()))
	return expr.Raw{SQL: sql, Args: []any{m.owner}}
}

// difference returns the keys of a missing from b, in order and without
// duplicates.
func difference(a, b []any) []any {
	skip := make(map[any]struct{}, len(b))
	for _, k := range b {
		skip[k] = struct{}{}
	}
	var out []any
	for _, k := range a {
		if _, ok := skip[k]; ok {
			continue
		}
		skip[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func normalizeAll(items []any) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = model.NormalizeKey(v)
	}
	return out
}

func flatKeys(values []any) ([]any, error) {
	if len(values) == 0 {
		return nil, model.ErrDoesNotExist
	}
	items, err := model.ToSlice(values[0])
	if err != nil {
		return nil, err
	}
	return normalizeAll(items), nil
}
