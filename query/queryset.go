// Package query is the queryset layer the array relations plug into:
// filtering through the lookup registry, joins across array relations,
// composite updates, saves, deletes with pre-delete hooks and prefetching.
package query

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/lookup"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/restrict"
)

// maxGetResults bounds the rows Get reads to report MultipleObjects.
const maxGetResults = 21

// Values maps field names, or "field__suffix" pseudo-lookups, to values.
type Values map[string]any

func (v Values) names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type annotation struct {
	name string
	expr expr.Expression
}

func (a annotation) ToSql() (string, []any, error) {
	sql, args, err := a.expr.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("annotation %s: %w", a.name, err)
	}
	return sql + " AS " + expr.QuoteName(a.name), args, nil
}

// QuerySet is an immutable description of a query over one model. Chained
// methods return copies; the first error is kept and returned by the method
// that executes the query.
type QuerySet struct {
	conn        db.DBTX
	model       *model.Model
	lookups     *lookup.Registry
	where       []expr.Expression
	joins       []*Join
	annotations []annotation
	only        []string
	deferred    []string
	order       []string
	distinct    bool
	limit       uint64
	offset      uint64
	forUpdate   bool
	prefetch    []string
	cache       []*model.Instance
	err         error
}

// Objects starts a queryset over m. Parent tables of inherited models are
// joined up front.
func Objects(conn db.DBTX, m *model.Model) *QuerySet {
	qs := &QuerySet{conn: conn, model: m, lookups: lookup.Default}
	qs.addParents(m, m.Table)
	return qs
}

func (qs *QuerySet) clone() *QuerySet {
	c := *qs
	c.where = slices.Clone(qs.where)
	c.joins = slices.Clone(qs.joins)
	c.annotations = slices.Clone(qs.annotations)
	c.only = slices.Clone(qs.only)
	c.deferred = slices.Clone(qs.deferred)
	c.order = slices.Clone(qs.order)
	c.prefetch = slices.Clone(qs.prefetch)
	c.cache = nil
	return &c
}

func (qs *QuerySet) fail(err error) *QuerySet {
	if qs.err == nil {
		qs.err = err
	}
	return qs
}

func (qs *QuerySet) Model() *model.Model { return qs.model }
func (qs *QuerySet) Conn() db.DBTX       { return qs.conn }

// Err returns the first error recorded while chaining.
func (qs *QuerySet) Err() error { return qs.err }

// Using runs the queryset on another connection.
func (qs *QuerySet) Using(conn db.DBTX) *QuerySet {
	c := qs.clone()
	c.conn = conn
	return c
}

// WithLookups resolves filters with r instead of lookup.Default.
func (qs *QuerySet) WithLookups(r *lookup.Registry) *QuerySet {
	c := qs.clone()
	c.lookups = r
	return c
}

// WithCache makes All return objs without querying. Any further chaining
// drops the cache.
func (qs *QuerySet) WithCache(objs []*model.Instance) *QuerySet {
	c := qs.clone()
	c.cache = slices.Clone(objs)
	if c.cache == nil {
		c.cache = []*model.Instance{}
	}
	return c
}

// Cached reports whether All will be served from a result cache.
func (qs *QuerySet) Cached() bool { return qs.cache != nil }

// Filter adds "name__lookup = value". Names may cross array relations in
// either direction ("numbers__name", "product__tags__contains").
func (qs *QuerySet) Filter(name string, value any) *QuerySet {
	c := qs.clone()
	if c.err != nil {
		return c
	}
	cond, err := c.condition(name, value)
	if err != nil {
		return c.fail(err)
	}
	c.where = append(c.where, cond)
	return c
}

// FilterValues applies Filter for every entry, in name order.
func (qs *QuerySet) FilterValues(values Values) *QuerySet {
	c := qs
	for _, name := range values.names() {
		c = c.Filter(name, values[name])
	}
	if c == qs {
		c = qs.clone()
	}
	return c
}

// Exclude negates one lookup.
func (qs *QuerySet) Exclude(name string, value any) *QuerySet {
	c := qs.clone()
	if c.err != nil {
		return c
	}
	cond, err := c.condition(name, value)
	if err != nil {
		return c.fail(err)
	}
	sql, args, err := cond.ToSql()
	if err != nil {
		return c.fail(err)
	}
	c.where = append(c.where, expr.Raw{SQL: "NOT (" + sql + ")", Args: args})
	return c
}

// Where adds a raw condition.
func (qs *QuerySet) Where(e expr.Expression) *QuerySet {
	c := qs.clone()
	if c.err != nil {
		return c
	}
	sql, args, err := e.ToSql()
	if err != nil {
		return c.fail(err)
	}
	c.where = append(c.where, expr.Raw{SQL: "(" + sql + ")", Args: args})
	return c
}

// Restrict adds a CEL condition over the model's columns.
func (qs *QuerySet) Restrict(src string) *QuerySet {
	if src == "" {
		return qs.clone()
	}
	cond, err := restrict.Compile(qs.model, src, qs.model.Table)
	if err != nil {
		return qs.clone().fail(err)
	}
	return qs.Where(cond)
}

// Annotate selects extra expressions. Each needs a name, from expr.As or
// the expression's default alias.
func (qs *QuerySet) Annotate(exprs ...expr.Expression) *QuerySet {
	c := qs.clone()
	for _, e := range exprs {
		name := expr.AliasOf(e)
		if name == "" {
			return c.fail(fmt.Errorf("annotate: %T needs an alias", e))
		}
		if _, clash := c.model.Field(name); clash {
			return c.fail(fmt.Errorf("annotate: the annotation %q conflicts with a field on the model", name))
		}
		c.annotations = append(c.annotations, annotation{name: name, expr: e})
	}
	return c
}

// Format annotates fn(field) as output (default "<field>__alt") and defers
// the raw field.
func (qs *QuerySet) Format(field string, fn func(field any) expr.Expression, output string) *QuerySet {
	if output == "" {
		output = field + "__alt"
	}
	f, ok := qs.model.Field(field)
	if !ok {
		return qs.clone().fail(&model.FieldError{Model: qs.model.Name, Field: field, Msg: "cannot resolve keyword into field"})
	}
	col := qs.aliasFor(qs.model, qs.model.Table, f) + "." + f.Column()
	return qs.Annotate(expr.As(fn(expr.F(col)), output)).Defer(field)
}

// Only loads the primary key and the named fields.
func (qs *QuerySet) Only(fields ...string) *QuerySet {
	c := qs.clone()
	c.only = append(c.only, fields...)
	return c
}

// Defer skips loading the named fields.
func (qs *QuerySet) Defer(fields ...string) *QuerySet {
	c := qs.clone()
	c.deferred = append(c.deferred, fields...)
	return c
}

// OrderBy sorts by fields or annotations; a leading "-" sorts descending
// and "?" sorts randomly.
func (qs *QuerySet) OrderBy(fields ...string) *QuerySet {
	c := qs.clone()
	for _, name := range fields {
		clause, err := c.orderClause(name)
		if err != nil {
			return c.fail(err)
		}
		c.order = append(c.order, clause)
	}
	return c
}

func (qs *QuerySet) Distinct() *QuerySet {
	c := qs.clone()
	c.distinct = true
	return c
}

func (qs *QuerySet) Limit(n uint64) *QuerySet {
	c := qs.clone()
	c.limit = n
	return c
}

func (qs *QuerySet) Offset(n uint64) *QuerySet {
	c := qs.clone()
	c.offset = n
	return c
}

// ForUpdate locks the selected rows until the transaction ends.
func (qs *QuerySet) ForUpdate() *QuerySet {
	c := qs.clone()
	c.forUpdate = true
	return c
}

// PrefetchRelated loads the named relations for every result of All with one
// query per relation. It needs a Prefetcher, installed by pgext.Install.
func (qs *QuerySet) PrefetchRelated(names ...string) *QuerySet {
	c := qs.clone()
	c.prefetch = append(c.prefetch, names...)
	return c
}

func (qs *QuerySet) orderClause(name string) (string, error) {
	if name == "?" {
		return "RANDOM()", nil
	}
	dir := "ASC"
	if strings.HasPrefix(name, "-") {
		dir, name = "DESC", name[1:]
	}
	if slices.ContainsFunc(qs.annotations, func(a annotation) bool { return a.name == name }) {
		return expr.QuoteName(name) + " " + dir, nil
	}
	if name == "pk" {
		name = qs.model.PK().Name()
	}
	f, ok := qs.model.Field(name)
	if !ok || f.Column() == "" {
		return "", &model.FieldError{Model: qs.model.Name, Field: name, Msg: "cannot resolve keyword into field"}
	}
	return qualified(qs.aliasFor(qs.model, qs.model.Table, f), f.Column()) + " " + dir, nil
}

func qualified(alias, col string) string {
	return expr.QuoteName(alias) + "." + expr.QuoteName(col)
}

// selectColumns lists the loaded fields. hstore values are read as jsonb so
// no hstore codec is needed on the connection.
func (qs *QuerySet) selectColumns() []string {
	var cols []string
	for _, f := range qs.model.AllFields() {
		if f.Column() == "" || !qs.loads(f) {
			continue
		}
		cols = append(cols, qs.selectColumn(f))
	}
	return cols
}

func (qs *QuerySet) loads(f model.Field) bool {
	switch {
	case f.PrimaryKey():
		return true
	case len(qs.only) > 0:
		return slices.Contains(qs.only, f.Name())
	}
	return !slices.Contains(qs.deferred, f.Name())
}

func (qs *QuerySet) selectColumn(f model.Field) string {
	col := qualified(qs.aliasFor(qs.model, qs.model.Table, f), f.Column())
	if f.Kind() == model.KindHStore {
		return fmt.Sprintf("HSTORE_TO_JSONB(%s) AS %s", col, expr.QuoteName(f.Column()))
	}
	return col
}

func (qs *QuerySet) selectBuilder(columns []string, annotate, order bool) squirrel.SelectBuilder {
	b := squirrel.Select(columns...).From(expr.QuoteName(qs.model.Table))
	if annotate {
		for _, a := range qs.annotations {
			b = b.Column(a)
		}
	}
	for _, j := range qs.joins {
		b = b.JoinClause(j)
	}
	for _, w := range qs.where {
		b = b.Where(w)
	}
	if qs.distinct {
		b = b.Distinct()
	}
	if order && len(qs.order) > 0 {
		b = b.OrderBy(qs.order...)
	}
	if qs.limit > 0 {
		b = b.Limit(qs.limit)
	}
	if qs.offset > 0 {
		b = b.Offset(qs.offset)
	}
	if qs.forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	return b
}

// ToSql renders the select All would run.
func (qs *QuerySet) ToSql() (string, []any, error) {
	if qs.err != nil {
		return "", nil, qs.err
	}
	return finalize(qs.selectBuilder(qs.selectColumns(), true, true))
}

// finalize renders b and numbers its placeholders.
func finalize(b squirrel.Sqlizer) (string, []any, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return "", nil, err
	}
	sql, err = squirrel.Dollar.ReplacePlaceholders(sql)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

func (qs *QuerySet) query(ctx context.Context, sql string, args []any) (pgx.Rows, error) {
	logger.FromContext(ctx).Debug("Executing query", "model", qs.model.Name, "sql", sql)
	rows, err := db.Conn(ctx, qs.conn).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", qs.model.Name, err)
	}
	return rows, nil
}

func rowValues(row pgx.CollectableRow) ([]any, error) {
	return row.Values()
}

// All runs the query and returns one instance per row.
func (qs *QuerySet) All(ctx context.Context) ([]*model.Instance, error) {
	if qs.cache != nil {
		return slices.Clone(qs.cache), nil
	}
	sql, args, err := qs.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := qs.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("reading %s rows: %w", qs.model.Name, err)
	}
	objs := make([]*model.Instance, len(records))
	for i, r := range records {
		objs[i] = model.NewInstance(qs.model, r)
	}
	if len(qs.prefetch) > 0 && len(objs) > 0 {
		p := currentPrefetcher()
		if p == nil {
			return nil, fmt.Errorf("prefetching %s: no prefetcher installed", strings.Join(qs.prefetch, ", "))
		}
		for _, name := range qs.prefetch {
			if err := p(ctx, qs.conn, objs, name); err != nil {
				return nil, err
			}
		}
	}
	return objs, nil
}

// Get returns the single matching instance.
func (qs *QuerySet) Get(ctx context.Context) (*model.Instance, error) {
	c := qs
	if qs.cache == nil {
		c = qs.Limit(maxGetResults)
	}
	objs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(objs) {
	case 0:
		return nil, fmt.Errorf("%s matching query: %w", qs.model.Name, model.ErrDoesNotExist)
	case 1:
		return objs[0], nil
	}
	return nil, fmt.Errorf("%s: %w (got %d)", qs.model.Name, model.ErrMultipleObjects, len(objs))
}

// First returns the first row by the current ordering, or by primary key.
func (qs *QuerySet) First(ctx context.Context) (*model.Instance, error) {
	c := qs
	if len(c.order) == 0 {
		c = c.OrderBy("pk")
	}
	objs, err := c.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%s: %w", qs.model.Name, model.ErrDoesNotExist)
	}
	return objs[0], nil
}

// Count returns the number of matching rows.
func (qs *QuerySet) Count(ctx context.Context) (int64, error) {
	if qs.cache != nil {
		return int64(len(qs.cache)), nil
	}
	if qs.err != nil {
		return 0, qs.err
	}
	var b squirrel.Sqlizer
	if qs.distinct || qs.limit > 0 || qs.offset > 0 {
		inner, args, err := qs.selectBuilder(qs.selectColumns(), true, false).ToSql()
		if err != nil {
			return 0, err
		}
		b = expr.Raw{SQL: "SELECT COUNT(*) FROM (" + inner + ") AS subquery", Args: args}
	} else {
		b = qs.selectBuilder([]string{"COUNT(*)"}, false, false)
	}
	sql, args, err := finalize(b)
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Debug("Executing query", "model", qs.model.Name, "sql", sql)
	var n int64
	if err := db.Conn(ctx, qs.conn).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", qs.model.Name, err)
	}
	return n, nil
}

// Exists reports whether any row matches.
func (qs *QuerySet) Exists(ctx context.Context) (bool, error) {
	if qs.cache != nil {
		return len(qs.cache) > 0, nil
	}
	if qs.err != nil {
		return false, qs.err
	}
	c := qs.clone()
	c.limit = 1
	inner, args, err := c.selectBuilder([]string{"1"}, false, false).ToSql()
	if err != nil {
		return false, err
	}
	sql, args, err := finalize(expr.Raw{SQL: "SELECT EXISTS (" + inner + ")", Args: args})
	if err != nil {
		return false, err
	}
	logger.FromContext(ctx).Debug("Executing query", "model", qs.model.Name, "sql", sql)
	var ok bool
	if err := db.Conn(ctx, qs.conn).QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking %s: %w", qs.model.Name, err)
	}
	return ok, nil
}

// valueColumn renders one Values column: a field, an annotation, an array
// element ("tags__0") or a key ("description__Industry").
func (qs *QuerySet) valueColumn(name string) (squirrel.Sqlizer, error) {
	for _, a := range qs.annotations {
		if a.name == name {
			return a, nil
		}
	}
	base, suffix, _ := strings.Cut(name, "__")
	if base == "pk" {
		base = qs.model.PK().Name()
	}
	f, ok := qs.model.Field(base)
	if !ok || f.Column() == "" {
		return nil, &model.FieldError{Model: qs.model.Name, Field: base, Msg: "cannot resolve keyword into field"}
	}
	col := qs.aliasFor(qs.model, qs.model.Table, f) + "." + f.Column()
	if suffix == "" {
		if f.Kind() == model.KindHStore {
			return annotation{name: name, expr: expr.HStoreToJSONB(col)}, nil
		}
		return annotation{name: name, expr: expr.Col{Name: col}}, nil
	}
	switch f.Kind() {
	case model.KindArray, model.KindArrayM2M:
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 {
			return nil, &model.FieldError{Model: qs.model.Name, Field: base, Lookup: suffix, Msg: "expected an array index"}
		}
		return annotation{name: name, expr: expr.Index(expr.Col{Name: col}, n)}, nil
	case model.KindHStore, model.KindJSON:
		return annotation{name: name, expr: expr.Key(col, suffix)}, nil
	}
	return nil, &model.FieldError{Model: qs.model.Name, Field: base, Lookup: suffix, Msg: "unsupported transform"}
}

func (qs *QuerySet) valuesBuilder(fields []string) (squirrel.Sqlizer, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	if len(fields) == 0 {
		return qs.selectBuilder(qs.selectColumns(), true, true), nil
	}
	b := qs.selectBuilder(nil, false, true)
	for _, name := range fields {
		col, err := qs.valueColumn(name)
		if err != nil {
			return nil, err
		}
		b = b.Column(col)
	}
	return b, nil
}

// Values returns one map per row keyed by the requested names, or by column
// when no names are given.
func (qs *QuerySet) Values(ctx context.Context, fields ...string) ([]map[string]any, error) {
	b, err := qs.valuesBuilder(fields)
	if err != nil {
		return nil, err
	}
	sql, args, err := finalize(b)
	if err != nil {
		return nil, err
	}
	rows, err := qs.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("reading %s rows: %w", qs.model.Name, err)
	}
	return out, nil
}

// ValuesList returns one slice per row in the order of fields.
func (qs *QuerySet) ValuesList(ctx context.Context, fields ...string) ([][]any, error) {
	b, err := qs.valuesBuilder(fields)
	if err != nil {
		return nil, err
	}
	sql, args, err := finalize(b)
	if err != nil {
		return nil, err
	}
	rows, err := qs.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, rowValues)
	if err != nil {
		return nil, fmt.Errorf("reading %s rows: %w", qs.model.Name, err)
	}
	return out, nil
}

// FlatList returns a single field of every row.
func (qs *QuerySet) FlatList(ctx context.Context, field string) ([]any, error) {
	rows, err := qs.ValuesList(ctx, field)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out, nil
}

// Scan runs the query and scans the rows into dest, a pointer to a slice of
// structs tagged with `db` column names.
func (qs *QuerySet) Scan(ctx context.Context, dest any, fields ...string) error {
	b, err := qs.valuesBuilder(fields)
	if err != nil {
		return err
	}
	sql, args, err := finalize(b)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("Executing query", "model", qs.model.Name, "sql", sql)
	if err := pgxscan.Select(ctx, db.Conn(ctx, qs.conn), dest, sql, args...); err != nil {
		return fmt.Errorf("scanning %s rows: %w", qs.model.Name, err)
	}
	return nil
}
